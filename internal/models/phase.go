package models

import "fmt"

// Phase is the lifecycle state of an analysis session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseUploading
	PhaseProcessingFile
	PhaseAnalyzing
	PhaseComplete
	PhaseError
)

var phaseNames = map[Phase]string{
	PhaseIdle:           "idle",
	PhaseUploading:      "uploading",
	PhaseProcessingFile: "processing_file",
	PhaseAnalyzing:      "analyzing",
	PhaseComplete:       "complete",
	PhaseError:          "error",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseError }

// Busy reports whether an analysis is in flight.
func (p Phase) Busy() bool {
	return p == PhaseUploading || p == PhaseProcessingFile || p == PhaseAnalyzing
}

func (p Phase) MarshalText() ([]byte, error) {
	s, ok := phaseNames[p]
	if !ok {
		return nil, fmt.Errorf("models: unknown phase %d", int(p))
	}
	return []byte(s), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for k, v := range phaseNames {
		if v == string(b) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("models: unknown phase %q", string(b))
}

// VideoFile is a selected upload held on local disk until the session
// releases it.
type VideoFile struct {
	Name      string `json:"name"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Path      string `json:"-"`
}
