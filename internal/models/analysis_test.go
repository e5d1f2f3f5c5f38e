package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"01:30", 90, false},
		{"12:05", 725, false},
		{"01:02:03", 3723, false},
		{"10:00:00", 36000, false},
		{" 02:00 ", 120, false},
		{"1:2", 62, false},
		{"", 0, true},
		{"90", 0, true},
		{"01:60", 0, true},
		{"aa:10", 0, true},
		{"01:02:03:04", 0, true},
		{"-1:10", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimestamp(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseTimestamp(%q) = %d, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimestamp(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseTimestamp(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestClipSeconds(t *testing.T) {
	c := Clip{StartTimestamp: "00:01:10", EndTimestamp: "01:40"}
	start, err := c.StartSeconds()
	if err != nil || start != 70 {
		t.Errorf("StartSeconds = %d, %v; want 70", start, err)
	}
	end, err := c.EndSeconds()
	if err != nil || end != 100 {
		t.Errorf("EndSeconds = %d, %v; want 100", end, err)
	}
}

func TestAnalysisResultJSONFieldNames(t *testing.T) {
	doc := `{
		"stream_meta": {"duration": "02:13:44", "streamer_vibe": "chaotic"},
		"clips": [{
			"start_timestamp": "00:12:01",
			"end_timestamp": "00:12:40",
			"virality_score": 9,
			"title": "HE DID WHAT?!",
			"reason": "crowd screams after the clutch"
		}],
		"summary": "A late-night ranked grind."
	}`
	var r AnalysisResult
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.StreamMeta.StreamerVibe != "chaotic" || len(r.Clips) != 1 || r.Clips[0].ViralityScore != 9 {
		t.Fatalf("unexpected decode: %+v", r)
	}

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back AnalysisResult
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal again: %v", err)
	}
	if !reflect.DeepEqual(r, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, r)
	}
}

func TestPhaseText(t *testing.T) {
	for p, name := range phaseNames {
		b, err := p.MarshalText()
		if err != nil || string(b) != name {
			t.Errorf("MarshalText(%d) = %q, %v", p, b, err)
		}
		var back Phase
		if err := back.UnmarshalText(b); err != nil || back != p {
			t.Errorf("UnmarshalText(%q) = %v, %v", b, back, err)
		}
	}
	var p Phase
	if err := p.UnmarshalText([]byte("paused")); err == nil {
		t.Error("expected error for unknown phase")
	}
	if !PhaseAnalyzing.Busy() || PhaseIdle.Busy() || PhaseComplete.Busy() {
		t.Error("Busy() mismatch")
	}
	if !PhaseError.Terminal() || PhaseAnalyzing.Terminal() {
		t.Error("Terminal() mismatch")
	}
}
