package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.jetify.com/typeid/v2"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

const idPrefix = "sess"

// Intake stages an uploaded file; upload.Store satisfies it.
type Intake interface {
	Files
	Save(r io.Reader, name string, declaredSize int64) (*models.VideoFile, error)
}

// Manager keeps the live sessions of every user.
type Manager struct {
	runner *Runner
	intake Intake
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(runner *Runner, intake Intake, ttl time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultConfig().SessionTTL
	}
	return &Manager{
		runner:   runner,
		intake:   intake,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Create(ownerID string) (*Session, error) {
	tid, err := typeid.Generate(idPrefix)
	if err != nil {
		return nil, err
	}
	s := newSession(tid.String(), ownerID, m.now())
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.log.Info("session created", "session_id", s.ID, "user_id", ownerID)
	return s, nil
}

// Get returns the session when it exists and belongs to ownerID.
func (m *Manager) Get(ownerID, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || s.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return s, nil
}

// SelectFile stages r as the session's video, replacing any earlier one.
func (m *Manager) SelectFile(ownerID, id string, r io.Reader, name string, declaredSize int64) (View, error) {
	s, err := m.Get(ownerID, id)
	if err != nil {
		return View{}, err
	}
	if s.active() {
		return View{}, ErrAnalysisInFlight
	}
	v, err := m.intake.Save(r, name, declaredSize)
	if err != nil {
		return View{}, err
	}
	old, err := s.selectFile(v, m.now())
	if err != nil {
		m.release(v)
		return View{}, err
	}
	m.release(old)
	return s.View(), nil
}

func (m *Manager) Start(ctx context.Context, ownerID, id string) (View, error) {
	s, err := m.Get(ownerID, id)
	if err != nil {
		return View{}, err
	}
	if err := m.runner.Start(ctx, s); err != nil {
		return View{}, err
	}
	return s.View(), nil
}

func (m *Manager) Cancel(ownerID, id string) (View, error) {
	s, err := m.Get(ownerID, id)
	if err != nil {
		return View{}, err
	}
	if err := s.stop(); err != nil {
		return View{}, err
	}
	return s.View(), nil
}

func (m *Manager) Delete(ownerID, id string) error {
	s, err := m.Get(ownerID, id)
	if err != nil {
		return err
	}
	m.remove(s)
	return nil
}

// Sweep drops sessions untouched for longer than the TTL and returns how
// many it removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.idleSince(now) > m.ttl {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()
	for _, s := range stale {
		m.remove(s)
	}
	if len(stale) > 0 {
		m.log.Info("expired sessions", "count", len(stale))
	}
	return len(stale)
}

// RunJanitor sweeps on every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(m.now())
		}
	}
}

// Close cancels every run and waits for them to release their files.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.remove(s)
	}
	for _, s := range all {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	m.release(s.discard())
}

func (m *Manager) release(v *models.VideoFile) {
	if v == nil {
		return
	}
	if err := m.intake.Release(v); err != nil {
		m.log.Warn("staged file release failed", "file", v.Name, "error", err)
	}
}
