// Package memory is an in-process ledger backend for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

var _ ledger.Backend = (*Store)(nil)

// Store keeps everything in maps behind one mutex, which makes every
// operation trivially atomic.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	usage    map[string][]*models.UsageRecord
	payments map[string]*models.Payment
	users    map[string]*models.User // keyed by lower-cased email
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*models.Account),
		usage:    make(map[string][]*models.UsageRecord),
		payments: make(map[string]*models.Payment),
		users:    make(map[string]*models.User),
	}
}

func (s *Store) account(userID string) *models.Account {
	a, ok := s.accounts[userID]
	if !ok {
		now := time.Now().UTC()
		a = &models.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.accounts[userID] = a
	}
	return a
}

func (s *Store) GetAccount(_ context.Context, userID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) AddCredits(_ context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.account(userID)
	a.Credits += amount
	a.UpdatedAt = time.Now().UTC()
	return a.Credits, nil
}

func (s *Store) DeductCredits(_ context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok || a.Credits < amount {
		return 0, ledger.ErrInsufficientCredits
	}
	a.Credits -= amount
	a.UpdatedAt = time.Now().UTC()
	return a.Credits, nil
}

func (s *Store) ClaimTrial(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.account(userID)
	if a.HasUsedFreeTrial {
		return false, nil
	}
	a.HasUsedFreeTrial = true
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) AppendUsage(_ context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.usage[rec.UserID] = append(s.usage[rec.UserID], &cp)
	return nil
}

func (s *Store) ListUsage(_ context.Context, userID string, limit int) ([]*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.usage[userID]
	out := make([]*models.UsageRecord, 0, len(recs))
	for _, r := range recs {
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ApplyPayment(_ context.Context, p *models.Payment) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.payments[p.ID]; seen {
		return false, s.account(p.UserID).Credits, nil
	}
	cp := *p
	s.payments[p.ID] = &cp
	a := s.account(p.UserID)
	a.Credits += p.Credits
	a.UpdatedAt = time.Now().UTC()
	return true, a.Credits, nil
}

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.users[key]; ok {
		return ledger.ErrDuplicateEmail
	}
	cp := *u
	s.users[key] = &cp
	return nil
}

func (s *Store) LookupUser(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }
