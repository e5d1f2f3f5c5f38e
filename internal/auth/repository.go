package auth

import (
	"context"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

// Repository stores registered users. Every ledger.Backend satisfies it, so
// users live next to their balances.
type Repository interface {
	// CreateUser returns ledger.ErrDuplicateEmail for a taken email.
	CreateUser(ctx context.Context, u *models.User) error
	// LookupUser returns ledger.ErrUserNotFound for an unknown email.
	LookupUser(ctx context.Context, email string) (*models.User, error)
}
