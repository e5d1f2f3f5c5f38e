package models

import "time"

// Account is the per-user credit balance. Rows are created implicitly on the
// first credit or trial write and are never deleted.
type Account struct {
	UserID           string    `json:"user_id"`
	Credits          int64     `json:"credits"`
	HasUsedFreeTrial bool      `json:"has_used_free_trial"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// User is a registered (email/password) identity. Anonymous users have an
// Account but no User.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Payment is a verified credit purchase. ID is the payment provider's event
// id and doubles as the idempotency key.
type Payment struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Credits     int64     `json:"credits"`
	CreatedAt   time.Time `json:"created_at"`
}
