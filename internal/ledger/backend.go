// Package ledger holds per-user credit balances, the free-trial flag and the
// usage log. Storage is pluggable through Backend.
package ledger

import (
	"context"
	"errors"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

var (
	// ErrAccountNotFound is returned by Backend.GetAccount for unknown users.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientCredits is returned when a deduction would overdraw.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInvalidAmount is returned for non-positive credit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrLedgerWrite wraps backend failures on writes the caller must see.
	ErrLedgerWrite = errors.New("ledger write failed")
	// ErrUserNotFound is returned by Backend.LookupUser.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when registering an email twice.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Backend is the storage capability set a ledger adapter must provide.
// AddCredits, DeductCredits, ClaimTrial and ApplyPayment must each be atomic
// per user.
type Backend interface {
	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	// AddCredits creates the account if needed and returns the new balance.
	AddCredits(ctx context.Context, userID string, amount int64) (int64, error)
	// DeductCredits decrements only when balance >= amount, otherwise it
	// returns ErrInsufficientCredits and leaves the balance untouched.
	DeductCredits(ctx context.Context, userID string, amount int64) (int64, error)
	// ClaimTrial sets the trial flag and reports whether this call flipped it.
	ClaimTrial(ctx context.Context, userID string) (bool, error)

	AppendUsage(ctx context.Context, rec *models.UsageRecord) error
	// ListUsage returns up to limit records, newest first.
	ListUsage(ctx context.Context, userID string, limit int) ([]*models.UsageRecord, error)

	// ApplyPayment credits p.Credits once per p.ID. A redelivered payment
	// returns applied=false and the current balance.
	ApplyPayment(ctx context.Context, p *models.Payment) (applied bool, balance int64, err error)

	CreateUser(ctx context.Context, u *models.User) error
	LookupUser(ctx context.Context, email string) (*models.User, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
