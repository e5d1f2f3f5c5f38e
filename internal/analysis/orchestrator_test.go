package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

// ---------------------------------------------------------------------------
// fakeAI scripts the remote service.
// ---------------------------------------------------------------------------

type fakeAI struct {
	mu sync.Mutex

	uploadErr error
	states    []FileState // returned by successive GetFile calls; last repeats
	getErr    error
	genText   string
	genUsage  models.TokenUsage
	genErr    error
	blockGen  bool
	uploaded  []byte
	getCalls  int
	genCalls  int
	deleted   []string
}

func (f *fakeAI) UploadFile(_ context.Context, r io.Reader, meta FileMeta) (*RemoteFile, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	b, _ := io.ReadAll(r)
	f.mu.Lock()
	f.uploaded = b
	f.mu.Unlock()
	return &RemoteFile{Name: "files/abc123", URI: "https://ai.example/files/abc123", MIMEType: meta.MIMEType, State: FileStateProcessing}, nil
}

func (f *fakeAI) GetFile(_ context.Context, name string) (*RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	st := FileStateActive
	if len(f.states) > 0 {
		i := min(f.getCalls, len(f.states)-1)
		st = f.states[i]
	}
	f.getCalls++
	return &RemoteFile{Name: name, URI: "https://ai.example/" + name, MIMEType: "video/mp4", State: st}, nil
}

func (f *fakeAI) DeleteFile(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeAI) Generate(ctx context.Context, _ *RemoteFile) (*Generation, error) {
	f.mu.Lock()
	f.genCalls++
	block := f.blockGen
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &Generation{Text: f.genText, Usage: f.genUsage}, nil
}

const validResult = `{
	"stream_meta": {"duration": "01:02:03", "streamer_vibe": "hype"},
	"clips": [
		{"start_timestamp": "00:10:00", "end_timestamp": "00:10:45", "virality_score": 9, "title": "NO WAY", "reason": "screaming"},
		{"start_timestamp": "42:00", "end_timestamp": "42:30", "virality_score": 5, "title": "Neat", "reason": "funny"}
	],
	"summary": "Chaotic ranked session."
}`

func fastPoll() PollConfig {
	return PollConfig{InitialDelay: time.Millisecond, Interval: time.Millisecond, MaxWait: 2 * time.Second}
}

func newTestOrchestrator(t *testing.T, ai AIService, poll PollConfig) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(ai, poll, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func request() Request {
	return Request{Body: strings.NewReader("fake-video-bytes"), FileName: "vod.mp4", MIMEType: "video/mp4", SizeBytes: 16}
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []models.Phase
}

func (p *phaseRecorder) record(ph models.Phase) {
	p.mu.Lock()
	p.phases = append(p.phases, ph)
	p.mu.Unlock()
}

func wantKind(t *testing.T, err error, k Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", k)
	}
	if got := KindOf(err); got != k {
		t.Fatalf("error kind = %q, want %q (err: %v)", got, k, err)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAnalyze_Success(t *testing.T) {
	ai := &fakeAI{
		states:   []FileState{FileStateProcessing, FileStateProcessing, FileStateActive},
		genText:  validResult,
		genUsage: models.TokenUsage{PromptTokens: 8000, CompletionTokens: 1000},
	}
	o := newTestOrchestrator(t, ai, fastPoll())
	rec := &phaseRecorder{}

	out, err := o.Analyze(context.Background(), request(), rec.record)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(out.Result.Clips) != 2 || out.Result.Clips[0].ViralityScore != 9 {
		t.Errorf("unexpected result: %+v", out.Result)
	}
	if out.Usage.PromptTokens != 8000 || out.Usage.CompletionTokens != 1000 {
		t.Errorf("usage = %+v", out.Usage)
	}

	want := []models.Phase{models.PhaseUploading, models.PhaseProcessingFile, models.PhaseAnalyzing}
	if fmt.Sprint(rec.phases) != fmt.Sprint(want) {
		t.Errorf("phases = %v, want %v", rec.phases, want)
	}
	if ai.getCalls != 3 {
		t.Errorf("GetFile calls = %d, want 3", ai.getCalls)
	}
	if string(ai.uploaded) != "fake-video-bytes" {
		t.Errorf("uploaded body = %q", ai.uploaded)
	}
	if len(ai.deleted) != 1 || ai.deleted[0] != "files/abc123" {
		t.Errorf("remote file not cleaned up: %v", ai.deleted)
	}
}

func TestAnalyze_NoServiceIsConfigurationError(t *testing.T) {
	o := newTestOrchestrator(t, nil, fastPoll())
	rec := &phaseRecorder{}
	_, err := o.Analyze(context.Background(), request(), rec.record)
	wantKind(t, err, KindConfiguration)
	if len(rec.phases) != 0 {
		t.Errorf("phases emitted without a service: %v", rec.phases)
	}
	if o.Configured() {
		t.Error("Configured() = true with nil service")
	}
}

func TestAnalyze_UploadUnauthorized(t *testing.T) {
	ai := &fakeAI{uploadErr: fmt.Errorf("upload: %w", ErrUnauthorized)}
	o := newTestOrchestrator(t, ai, fastPoll())
	_, err := o.Analyze(context.Background(), request(), nil)
	wantKind(t, err, KindAuthorization)
	if ai.genCalls != 0 {
		t.Error("Generate called after failed upload")
	}
}

func TestAnalyze_UploadOtherFailureIsProcessing(t *testing.T) {
	ai := &fakeAI{uploadErr: errors.New("503 backend busy")}
	o := newTestOrchestrator(t, ai, fastPoll())
	_, err := o.Analyze(context.Background(), request(), nil)
	wantKind(t, err, KindProcessing)
	if !KindProcessing.Retryable() {
		t.Error("processing errors should be retryable")
	}
}

func TestAnalyze_FailedStateIsProcessingError(t *testing.T) {
	ai := &fakeAI{states: []FileState{FileStateProcessing, FileStateFailed}, genText: validResult}
	o := newTestOrchestrator(t, ai, fastPoll())
	rec := &phaseRecorder{}
	_, err := o.Analyze(context.Background(), request(), rec.record)
	wantKind(t, err, KindProcessing)
	if ai.genCalls != 0 {
		t.Error("Generate must not run when processing failed")
	}
	for _, p := range rec.phases {
		if p == models.PhaseAnalyzing {
			t.Error("Analyzing emitted after processing failure")
		}
	}
	if len(ai.deleted) != 1 {
		t.Error("remote file not cleaned up after failure")
	}
}

func TestAnalyze_UnknownStateIsProcessingError(t *testing.T) {
	ai := &fakeAI{states: []FileState{FileStateUnknown}}
	o := newTestOrchestrator(t, ai, fastPoll())
	_, err := o.Analyze(context.Background(), request(), nil)
	wantKind(t, err, KindProcessing)
}

func TestAnalyze_PollingTimesOut(t *testing.T) {
	ai := &fakeAI{states: []FileState{FileStateProcessing}}
	o := newTestOrchestrator(t, ai, PollConfig{InitialDelay: time.Millisecond, Interval: 5 * time.Millisecond, MaxWait: 40 * time.Millisecond})
	_, err := o.Analyze(context.Background(), request(), nil)
	wantKind(t, err, KindTimeout)
	if ai.getCalls == 0 {
		t.Error("expected at least one poll before timing out")
	}
}

func TestAnalyze_CanceledDuringPoll(t *testing.T) {
	ai := &fakeAI{states: []FileState{FileStateProcessing}}
	o := newTestOrchestrator(t, ai, PollConfig{InitialDelay: time.Millisecond, Interval: 10 * time.Millisecond, MaxWait: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := o.Analyze(ctx, request(), nil)
	wantKind(t, err, KindCanceled)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want to wrap context.Canceled", err)
	}
}

func TestAnalyze_CanceledDuringGenerate(t *testing.T) {
	ai := &fakeAI{blockGen: true}
	o := newTestOrchestrator(t, ai, fastPoll())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := o.Analyze(ctx, request(), nil)
	wantKind(t, err, KindCanceled)
}

func TestAnalyze_GenerateUnauthorized(t *testing.T) {
	ai := &fakeAI{genErr: fmt.Errorf("generate: %w", ErrUnauthorized)}
	o := newTestOrchestrator(t, ai, fastPoll())
	_, err := o.Analyze(context.Background(), request(), nil)
	wantKind(t, err, KindAuthorization)
}

func TestAnalyze_ParseErrors(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"not json":       "Here are your clips!",
		"missing clips":  `{"stream_meta": {"duration": "1:00", "streamer_vibe": "chill"}, "summary": "x"}`,
		"score too high": strings.Replace(validResult, `"virality_score": 9`, `"virality_score": 11`, 1),
		"bad timestamp":  strings.Replace(validResult, `"00:10:00"`, `"ten minutes"`, 1),
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			ai := &fakeAI{genText: text}
			o := newTestOrchestrator(t, ai, fastPoll())
			_, err := o.Analyze(context.Background(), request(), nil)
			wantKind(t, err, KindParse)
		})
	}
}

func TestAnalyze_MissingUsageDefaultsToZero(t *testing.T) {
	ai := &fakeAI{genText: validResult}
	o := newTestOrchestrator(t, ai, fastPoll())
	out, err := o.Analyze(context.Background(), request(), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.Usage != (models.TokenUsage{}) {
		t.Errorf("usage = %+v, want zero", out.Usage)
	}
}

func TestNewOrchestrator_RejectsBadPollConfig(t *testing.T) {
	if _, err := NewOrchestrator(nil, PollConfig{Interval: 0, MaxWait: time.Second}, nil); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestResultValidator_StripsFence(t *testing.T) {
	v, err := NewResultValidator()
	if err != nil {
		t.Fatal(err)
	}
	res, err := v.Parse("```json\n" + validResult + "\n```")
	if err != nil {
		t.Fatalf("Parse fenced: %v", err)
	}
	if res.StreamMeta.StreamerVibe != "hype" {
		t.Errorf("StreamerVibe = %q", res.StreamMeta.StreamerVibe)
	}
	res, err = v.Parse(`{"stream_meta": {"duration": "1:00", "streamer_vibe": "calm"}, "clips": [], "summary": "nothing happened"}`)
	if err != nil {
		t.Fatalf("Parse no clips: %v", err)
	}
	if res.Clips == nil || len(res.Clips) != 0 {
		t.Errorf("Clips = %v, want empty slice", res.Clips)
	}
}

func TestResultValidator_TimestampFormat(t *testing.T) {
	if !strings.Contains(clipsSchema, strings.ReplaceAll(TimestampPattern, `\`, `\\`)) {
		t.Fatalf("embedded schema does not use TimestampPattern %s", TimestampPattern)
	}
	v, err := NewResultValidator()
	if err != nil {
		t.Fatal(err)
	}
	doc := func(start string) string {
		return `{"stream_meta": {"duration": "1:00:00", "streamer_vibe": "hype"},
			"clips": [{"start_timestamp": "` + start + `", "end_timestamp": "00:10:45", "virality_score": 7, "title": "t", "reason": "r"}],
			"summary": "s"}`
	}
	for _, ts := range []string{"00:10:30", "10:30", "1:02:03"} {
		if _, err := v.Parse(doc(ts)); err != nil {
			t.Errorf("Parse(%q): %v", ts, err)
		}
	}
	for _, ts := range []string{"00:10:30.5", "10m30s", "00:61:00"} {
		if _, err := v.Parse(doc(ts)); !errors.Is(err, ErrValidation) {
			t.Errorf("Parse(%q) err = %v, want ErrValidation", ts, err)
		}
	}
}
