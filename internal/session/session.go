// Package session owns the per-user analysis lifecycle: file selection,
// precondition checks, the background run and billing settlement.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/analysis"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

var (
	ErrInvalidTransition = errors.New("session: invalid phase transition")
	ErrAnalysisInFlight  = errors.New("session: analysis already in flight")
	ErrNoFile            = errors.New("session: no file selected")
	ErrNotRunning        = errors.New("session: no analysis running")
	ErrNotFound          = errors.New("session: not found")
	ErrTrialTooLarge     = errors.New("session: file exceeds the free trial size limit")
)

// next lists the phases reachable from each phase.
var next = map[models.Phase][]models.Phase{
	models.PhaseIdle:           {models.PhaseUploading},
	models.PhaseUploading:      {models.PhaseProcessingFile, models.PhaseError},
	models.PhaseProcessingFile: {models.PhaseAnalyzing, models.PhaseError},
	models.PhaseAnalyzing:      {models.PhaseComplete, models.PhaseError},
	models.PhaseComplete:       {models.PhaseIdle},
	models.PhaseError:          {models.PhaseIdle},
}

// CanTransition reports whether from -> to is allowed. Re-entering the same
// phase is allowed and changes nothing.
func CanTransition(from, to models.Phase) bool {
	if from == to {
		return true
	}
	for _, p := range next[from] {
		if p == to {
			return true
		}
	}
	return false
}

const (
	BillingCharged  = "charged"
	BillingTrial    = "trial"
	BillingUnbilled = "unbilled"
)

// Billing is how a completed run was settled against the ledger.
type Billing struct {
	Status      string        `json:"status"`
	CostCredits int64         `json:"cost_credits"`
	Warning     string        `json:"warning,omitempty"`
	ErrorKind   analysis.Kind `json:"error_kind,omitempty"`
}

type ErrorView struct {
	Kind      analysis.Kind `json:"kind"`
	Op        string        `json:"op,omitempty"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable"`
}

// View is a point-in-time copy of a session, safe to serialize.
type View struct {
	ID         string                 `json:"id"`
	Phase      models.Phase           `json:"phase"`
	File       *models.VideoFile      `json:"file,omitempty"`
	FileStaged bool                   `json:"file_staged"`
	Trial      bool                   `json:"trial"`
	Result     *models.AnalysisResult `json:"result,omitempty"`
	TokenUsage *models.TokenUsage     `json:"token_usage,omitempty"`
	Billing    *Billing               `json:"billing,omitempty"`
	Error      *ErrorView             `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

type Session struct {
	ID      string
	OwnerID string

	mu        sync.Mutex
	phase     models.Phase
	file      *models.VideoFile
	staged    bool
	starting  bool
	trial     bool
	result    *models.AnalysisResult
	usage     *models.TokenUsage
	billing   *Billing
	err       *analysis.Error
	cancel    context.CancelFunc
	done      chan struct{} // open from begin until the run's finish
	createdAt time.Time
	updatedAt time.Time
}

func newSession(id, owner string, now time.Time) *Session {
	return &Session{ID: id, OwnerID: owner, phase: models.PhaseIdle, createdAt: now, updatedAt: now}
}

func (s *Session) Phase() models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:         s.ID,
		Phase:      s.phase,
		FileStaged: s.staged,
		Trial:      s.trial,
		Result:     s.result,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if s.file != nil {
		f := *s.file
		f.Path = ""
		v.File = &f
	}
	if s.usage != nil {
		u := *s.usage
		v.TokenUsage = &u
	}
	if s.billing != nil {
		b := *s.billing
		v.Billing = &b
	}
	if s.err != nil {
		v.Error = &ErrorView{
			Kind:      s.err.Kind,
			Op:        s.err.Op,
			Message:   s.err.Error(),
			Retryable: s.err.Kind.Retryable(),
		}
	}
	return v
}

// Wait blocks until the current run, if any, has finished.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// activeLocked reports whether a run holds the session. A run that has
// reached a terminal phase still holds it until finish. Caller holds s.mu.
func (s *Session) activeLocked() bool {
	return s.phase.Busy() || s.starting || s.done != nil
}

func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// setPhaseLocked moves the session to p. Caller holds s.mu.
func (s *Session) setPhaseLocked(p models.Phase, now time.Time) error {
	if !CanTransition(s.phase, p) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, p)
	}
	s.phase = p
	s.updatedAt = now
	return nil
}

// selectFile stages v as the session's file and returns the file it
// replaced, if that one still needs releasing.
func (s *Session) selectFile(v *models.VideoFile, now time.Time) (*models.VideoFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked() {
		return nil, ErrAnalysisInFlight
	}
	if s.phase.Terminal() {
		if err := s.setPhaseLocked(models.PhaseIdle, now); err != nil {
			return nil, err
		}
	}
	var old *models.VideoFile
	if s.staged {
		old = s.file
	}
	s.file = v
	s.staged = true
	s.trial = false
	s.result = nil
	s.usage = nil
	s.billing = nil
	s.err = nil
	s.updatedAt = now
	return old, nil
}

// reserve claims the session for a start attempt.
func (s *Session) reserve() (*models.VideoFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked() {
		return nil, ErrAnalysisInFlight
	}
	if s.file == nil || !s.staged {
		return nil, ErrNoFile
	}
	if s.phase != models.PhaseIdle {
		return nil, fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.phase)
	}
	s.starting = true
	return s.file, nil
}

func (s *Session) unreserve() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

// begin moves a reserved session into Uploading and records the run. The
// returned channel identifies the run and is closed by its finish.
func (s *Session) begin(trial bool, cancel context.CancelFunc, now time.Time) (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err := s.setPhaseLocked(models.PhaseUploading, now); err != nil {
		return nil, err
	}
	s.trial = trial
	s.cancel = cancel
	s.done = make(chan struct{})
	return s.done, nil
}

func (s *Session) advance(p models.Phase, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPhaseLocked(p, now)
}

func (s *Session) fail(err *analysis.Error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	if !s.phase.Terminal() {
		s.phase = models.PhaseError
	}
	s.updatedAt = now
}

func (s *Session) complete(out *analysis.Outcome, b *Billing, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setPhaseLocked(models.PhaseComplete, now); err != nil {
		return err
	}
	u := out.Usage
	s.result = out.Result
	s.usage = &u
	s.billing = b
	return nil
}

// finish ends the bookkeeping of the run identified by done. The staged
// file is consumed by the run.
func (s *Session) finish(file *models.VideoFile, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == file {
		s.staged = false
	}
	if s.done == done {
		s.cancel = nil
		s.done = nil
	}
	close(done)
}

func (s *Session) stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return ErrNotRunning
	}
	s.cancel()
	return nil
}

// discard cancels any run and returns the staged file when no run owns it.
func (s *Session) discard() *models.VideoFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		return nil
	}
	if s.staged {
		s.staged = false
		return s.file
	}
	return nil
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.updatedAt)
}
