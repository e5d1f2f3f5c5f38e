// Package analysis drives one video through the remote AI service:
// upload, wait for processing, generate, parse.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

type FileState int

const (
	FileStateUnknown FileState = iota
	FileStateProcessing
	FileStateActive
	FileStateFailed
)

func (s FileState) String() string {
	switch s {
	case FileStateProcessing:
		return "PROCESSING"
	case FileStateActive:
		return "ACTIVE"
	case FileStateFailed:
		return "FAILED"
	}
	return "STATE_UNSPECIFIED"
}

// FileMeta describes an upload.
type FileMeta struct {
	DisplayName string
	MIMEType    string
	SizeBytes   int64
}

// RemoteFile is the AI service's handle to an uploaded file.
type RemoteFile struct {
	Name     string
	URI      string
	MIMEType string
	State    FileState
}

// Generation is the raw model reply.
type Generation struct {
	Text  string
	Usage models.TokenUsage
}

// AIService is the remote multimodal model. Implementations return errors
// wrapping ErrUnauthorized when the credential or connection is refused.
type AIService interface {
	UploadFile(ctx context.Context, r io.Reader, meta FileMeta) (*RemoteFile, error)
	GetFile(ctx context.Context, name string) (*RemoteFile, error)
	DeleteFile(ctx context.Context, name string) error
	Generate(ctx context.Context, file *RemoteFile) (*Generation, error)
}

// PollConfig bounds the wait for server-side file processing.
type PollConfig struct {
	InitialDelay time.Duration `toml:"poll_initial_delay"`
	Interval     time.Duration `toml:"poll_interval"`
	MaxWait      time.Duration `toml:"max_wait"`
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: 5 * time.Second,
		Interval:     5 * time.Second,
		MaxWait:      10 * time.Minute,
	}
}

// Request is one video to analyze. Body is read once, during upload.
type Request struct {
	Body      io.Reader
	FileName  string
	MIMEType  string
	SizeBytes int64
}

type Outcome struct {
	Result *models.AnalysisResult
	Usage  models.TokenUsage
}

type Orchestrator struct {
	ai        AIService
	validator *ResultValidator
	poll      PollConfig
	log       *slog.Logger
}

// NewOrchestrator builds an orchestrator. A nil ai makes every Analyze call
// fail with KindConfiguration.
func NewOrchestrator(ai AIService, poll PollConfig, log *slog.Logger) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}
	if poll.Interval <= 0 || poll.MaxWait <= 0 || poll.InitialDelay < 0 {
		return nil, fmt.Errorf("analysis: invalid poll config %+v", poll)
	}
	v, err := NewResultValidator()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{ai: ai, validator: v, poll: poll, log: log}, nil
}

// Configured reports whether an AI service is available.
func (o *Orchestrator) Configured() bool { return o.ai != nil }

// Analyze runs the stages strictly in order and reports each phase through
// onPhase. It never emits PhaseComplete; that is the caller's decision after
// billing.
func (o *Orchestrator) Analyze(ctx context.Context, req Request, onPhase func(models.Phase)) (*Outcome, error) {
	if onPhase == nil {
		onPhase = func(models.Phase) {}
	}
	if o.ai == nil {
		return nil, &Error{Kind: KindConfiguration, Op: "analyze", Err: ErrNoService}
	}

	onPhase(models.PhaseUploading)
	file, err := o.ai.UploadFile(ctx, req.Body, FileMeta{
		DisplayName: req.FileName,
		MIMEType:    req.MIMEType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		return nil, o.classify(ctx, "upload", err)
	}
	o.log.Info("file uploaded", "file", file.Name, "display_name", req.FileName, "size_bytes", req.SizeBytes)
	defer o.deleteRemote(file.Name)

	onPhase(models.PhaseProcessingFile)
	file, err = o.waitActive(ctx, file)
	if err != nil {
		return nil, err
	}

	onPhase(models.PhaseAnalyzing)
	gen, err := o.ai.Generate(ctx, file)
	if err != nil {
		return nil, o.classify(ctx, "generate", err)
	}
	if strings.TrimSpace(gen.Text) == "" {
		return nil, Errorf(KindParse, "parse", "empty response from model")
	}
	res, err := o.validator.Parse(gen.Text)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: "parse", Err: err}
	}
	o.log.Info("analysis finished", "file", file.Name, "clips", len(res.Clips),
		"prompt_tokens", gen.Usage.PromptTokens, "completion_tokens", gen.Usage.CompletionTokens)
	return &Outcome{Result: res, Usage: gen.Usage}, nil
}

func (o *Orchestrator) waitActive(ctx context.Context, f *RemoteFile) (*RemoteFile, error) {
	if f.State == FileStateActive {
		return f, nil
	}
	deadline := time.NewTimer(o.poll.MaxWait)
	defer deadline.Stop()

	wait := o.poll.InitialDelay
	for polls := 0; ; polls++ {
		tick := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			tick.Stop()
			return nil, o.classify(ctx, "poll", ctx.Err())
		case <-deadline.C:
			tick.Stop()
			return nil, Errorf(KindTimeout, "poll", "file %s not active after %s (%d polls)", f.Name, o.poll.MaxWait, polls)
		case <-tick.C:
		}

		cur, err := o.ai.GetFile(ctx, f.Name)
		if err != nil {
			return nil, o.classify(ctx, "poll", err)
		}
		switch cur.State {
		case FileStateActive:
			return cur, nil
		case FileStateProcessing:
			wait = o.poll.Interval
		default:
			return nil, Errorf(KindProcessing, "poll", "file %s ended in state %s", f.Name, cur.State)
		}
	}
}

func (o *Orchestrator) classify(ctx context.Context, op string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCanceled, Op: op, Err: err}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	case errors.Is(err, ErrUnauthorized):
		return &Error{Kind: KindAuthorization, Op: op, Err: err}
	case errors.Is(err, ErrNoService):
		return &Error{Kind: KindConfiguration, Op: op, Err: err}
	}
	return &Error{Kind: KindProcessing, Op: op, Err: err}
}

func (o *Orchestrator) deleteRemote(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.ai.DeleteFile(ctx, name); err != nil {
		o.log.Warn("remote file cleanup failed", "file", name, "error", err)
	}
}
