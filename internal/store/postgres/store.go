// Package postgres is the pgx-backed ledger backend.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

var _ ledger.Backend = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool is shared with the job queue, so
// Close does not close it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error { return nil }

func (s *Store) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, credits, has_used_free_trial, created_at, updated_at
		FROM accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.Credits, &a.HasUsedFreeTrial, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("postgres: get account: %w", err)
	}
	return &a, nil
}

func (s *Store) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	return addCredits(ctx, s.pool, userID, amount)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func addCredits(ctx context.Context, q querier, userID string, amount int64) (int64, error) {
	var bal int64
	err := q.QueryRow(ctx, `
		INSERT INTO accounts (user_id, credits) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET credits = accounts.credits + EXCLUDED.credits, updated_at = now()
		RETURNING credits
	`, userID, amount).Scan(&bal)
	if err != nil {
		return 0, fmt.Errorf("postgres: add credits: %w", err)
	}
	return bal, nil
}

// DeductCredits is a single conditional UPDATE, so concurrent callers can
// never drive the balance below zero.
func (s *Store) DeductCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	var bal int64
	err := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET credits = credits - $1, updated_at = now()
		WHERE user_id = $2 AND credits >= $1
		RETURNING credits
	`, amount, userID).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ledger.ErrInsufficientCredits
		}
		return 0, fmt.Errorf("postgres: deduct credits: %w", err)
	}
	return bal, nil
}

func (s *Store) ClaimTrial(ctx context.Context, userID string) (bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, has_used_free_trial) VALUES ($1, TRUE)
		ON CONFLICT (user_id) DO UPDATE
		SET has_used_free_trial = TRUE, updated_at = now()
		WHERE accounts.has_used_free_trial = FALSE
		RETURNING user_id
	`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: claim trial: %w", err)
	}
	return true, nil
}

func (s *Store) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_logs (id, user_id, cost_credits, file_name, prompt_tokens, completion_tokens, trial, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.UserID, rec.CostCredits, rec.FileName,
		rec.TokenUsage.PromptTokens, rec.TokenUsage.CompletionTokens, rec.Trial, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append usage: %w", err)
	}
	return nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, limit int) ([]*models.UsageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, cost_credits, file_name, prompt_tokens, completion_tokens, trial, created_at
		FROM usage_logs WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list usage: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.CostCredits, &r.FileName,
			&r.TokenUsage.PromptTokens, &r.TokenUsage.CompletionTokens, &r.Trial, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan usage: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ApplyPayment records the payment and grants its credits in one
// transaction; the payments primary key makes redelivery a no-op.
func (s *Store) ApplyPayment(ctx context.Context, p *models.Payment) (bool, int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO payments (id, user_id, amount_cents, credits, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.UserID, p.AmountCents, p.Credits, p.CreatedAt)
	if err != nil {
		return false, 0, fmt.Errorf("postgres: insert payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var bal int64
		err := tx.QueryRow(ctx, `SELECT credits FROM accounts WHERE user_id = $1`, p.UserID).Scan(&bal)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return false, 0, fmt.Errorf("postgres: read balance: %w", err)
		}
		return false, bal, nil
	}

	bal, err := addCredits(ctx, tx, p.UserID, p.Credits)
	if err != nil {
		return false, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, fmt.Errorf("postgres: commit payment: %w", err)
	}
	return true, bal, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ledger.ErrDuplicateEmail
		}
		return fmt.Errorf("postgres: create user: %w", err)
	}
	return nil
}

func (s *Store) LookupUser(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres: lookup user: %w", err)
	}
	return &u, nil
}
