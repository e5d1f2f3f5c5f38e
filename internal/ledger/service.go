package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.jetify.com/typeid/v2"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

const defaultUsageWriteTimeout = 10 * time.Second

// Service applies the ledger's failure policy on top of a Backend: reads and
// deductions degrade to safe values, credit grants surface their errors.
type Service struct {
	backend      Backend
	log          *slog.Logger
	usageTimeout time.Duration
	pending      sync.WaitGroup
}

func NewService(b Backend, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{backend: b, log: log, usageTimeout: defaultUsageWriteTimeout}
}

// Backend exposes the underlying adapter (health checks, CLI tooling).
func (s *Service) Backend() Backend { return s.backend }

// GetBalance returns the user's credits. Unknown users and backend failures
// both read as 0.
func (s *Service) GetBalance(ctx context.Context, userID string) int64 {
	acc, err := s.backend.GetAccount(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.log.Warn("balance read failed, reporting 0", "user_id", userID, "error", err)
		}
		return 0
	}
	return acc.Credits
}

// AddCredits grants amount credits, creating the account if needed.
func (s *Service) AddCredits(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	bal, err := s.backend.AddCredits(ctx, userID, amount)
	if err != nil {
		return fmt.Errorf("%w: add credits for %s: %w", ErrLedgerWrite, userID, err)
	}
	s.log.Info("credits added", "user_id", userID, "amount", amount, "balance", bal)
	return nil
}

// DeductCredits reports whether amount was taken. It never overdraws and
// reports false on any failure.
func (s *Service) DeductCredits(ctx context.Context, userID string, amount int64) bool {
	return s.Charge(ctx, userID, amount) == nil
}

// Charge is DeductCredits with the failure reason kept: ErrInsufficientCredits
// when the balance is short, ErrLedgerWrite when the backend failed.
func (s *Service) Charge(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	bal, err := s.backend.DeductCredits(ctx, userID, amount)
	switch {
	case err == nil:
		s.log.Info("credits deducted", "user_id", userID, "amount", amount, "balance", bal)
		return nil
	case errors.Is(err, ErrInsufficientCredits):
		return ErrInsufficientCredits
	default:
		s.log.Error("deduct failed", "user_id", userID, "amount", amount, "error", err)
		return fmt.Errorf("%w: deduct for %s: %w", ErrLedgerWrite, userID, err)
	}
}

// CheckTrialEligibility is true while the trial flag is absent or false.
// Backend failures read as not eligible.
func (s *Service) CheckTrialEligibility(ctx context.Context, userID string) bool {
	acc, err := s.backend.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return true
		}
		s.log.Warn("trial read failed, reporting ineligible", "user_id", userID, "error", err)
		return false
	}
	return !acc.HasUsedFreeTrial
}

// MarkTrialUsed sets the trial flag. Calling it again is a no-op.
func (s *Service) MarkTrialUsed(ctx context.Context, userID string) error {
	_, err := s.ClaimTrial(ctx, userID)
	return err
}

// ClaimTrial sets the trial flag and reports whether this caller was the one
// that consumed it.
func (s *Service) ClaimTrial(ctx context.Context, userID string) (bool, error) {
	claimed, err := s.backend.ClaimTrial(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: claim trial for %s: %w", ErrLedgerWrite, userID, err)
	}
	return claimed, nil
}

// RecordUsage appends rec to the usage log in the background. Failures are
// logged and never reach the caller. ID and Timestamp are filled when empty.
func (s *Service) RecordUsage(rec models.UsageRecord) {
	if rec.ID == "" {
		tid, err := typeid.Generate(models.UsagePrefix)
		if err != nil {
			s.log.Error("usage id generation failed", "error", err)
			return
		}
		rec.ID = tid.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.pending.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.usageTimeout)
		defer cancel()
		if err := s.backend.AppendUsage(ctx, &rec); err != nil {
			s.log.Error("usage log append failed", "usage_id", rec.ID, "user_id", rec.UserID, "error", err)
		}
	})
}

// Wait blocks until background usage writes have finished.
func (s *Service) Wait() { s.pending.Wait() }

// ListUsage returns the user's most recent usage records.
func (s *Service) ListUsage(ctx context.Context, userID string, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	recs, err := s.backend.ListUsage(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list usage: %w", err)
	}
	return recs, nil
}

// ApplyPayment credits a verified payment exactly once.
func (s *Service) ApplyPayment(ctx context.Context, p *models.Payment) (bool, error) {
	if p.ID == "" || p.UserID == "" {
		return false, errors.New("ledger: payment id and user id are required")
	}
	if p.Credits <= 0 {
		return false, ErrInvalidAmount
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	applied, bal, err := s.backend.ApplyPayment(ctx, p)
	if err != nil {
		return false, fmt.Errorf("%w: apply payment %s: %w", ErrLedgerWrite, p.ID, err)
	}
	if applied {
		s.log.Info("payment applied", "payment_id", p.ID, "user_id", p.UserID, "credits", p.Credits, "balance", bal)
	} else {
		s.log.Info("payment already applied", "payment_id", p.ID, "user_id", p.UserID)
	}
	return applied, nil
}
