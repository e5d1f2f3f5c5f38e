// Package sqlite is a single-file ledger backend for self-hosted installs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

var _ ledger.Backend = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; conditional updates then serialize cleanly.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func now() int64 { return time.Now().UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *Store) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var a models.Account
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, credits, has_used_free_trial, created_at, updated_at
		FROM accounts WHERE user_id = ?
	`, userID).Scan(&a.UserID, &a.Credits, &a.HasUsedFreeTrial, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("sqlite: get account: %w", err)
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &a, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func addCredits(ctx context.Context, q queryer, userID string, amount int64) (int64, error) {
	ts := now()
	var bal int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, credits, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET credits = accounts.credits + excluded.credits, updated_at = excluded.updated_at
		RETURNING credits
	`, userID, amount, ts, ts).Scan(&bal)
	if err != nil {
		return 0, fmt.Errorf("sqlite: add credits: %w", err)
	}
	return bal, nil
}

func (s *Store) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	return addCredits(ctx, s.db, userID, amount)
}

func (s *Store) DeductCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	var bal int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts SET credits = credits - ?, updated_at = ?
		WHERE user_id = ? AND credits >= ?
		RETURNING credits
	`, amount, now(), userID, amount).Scan(&bal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ledger.ErrInsufficientCredits
		}
		return 0, fmt.Errorf("sqlite: deduct credits: %w", err)
	}
	return bal, nil
}

func (s *Store) ClaimTrial(ctx context.Context, userID string) (bool, error) {
	ts := now()
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, has_used_free_trial, created_at, updated_at) VALUES (?, 1, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET has_used_free_trial = 1, updated_at = excluded.updated_at
		WHERE accounts.has_used_free_trial = 0
		RETURNING user_id
	`, userID, ts, ts).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("sqlite: claim trial: %w", err)
	}
	return true, nil
}

func (s *Store) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_logs (id, user_id, cost_credits, file_name, prompt_tokens, completion_tokens, trial, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.CostCredits, rec.FileName,
		rec.TokenUsage.PromptTokens, rec.TokenUsage.CompletionTokens, rec.Trial, rec.Timestamp.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: append usage: %w", err)
	}
	return nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, limit int) ([]*models.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, cost_credits, file_name, prompt_tokens, completion_tokens, trial, created_at
		FROM usage_logs WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.CostCredits, &r.FileName,
			&r.TokenUsage.PromptTokens, &r.TokenUsage.CompletionTokens, &r.Trial, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan usage: %w", err)
		}
		r.Timestamp = fromNanos(ts)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) ApplyPayment(ctx context.Context, p *models.Payment) (bool, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, amount_cents, credits, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.UserID, p.AmountCents, p.Credits, p.CreatedAt.UTC().UnixNano())
	if err != nil {
		return false, 0, fmt.Errorf("sqlite: insert payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var bal int64
		err := tx.QueryRowContext(ctx, `SELECT credits FROM accounts WHERE user_id = ?`, p.UserID).Scan(&bal)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, 0, fmt.Errorf("sqlite: read balance: %w", err)
		}
		return false, bal, nil
	}

	bal, err := addCredits(ctx, tx, p.UserID, p.Credits)
	if err != nil {
		return false, 0, err
	}
	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("sqlite: commit payment: %w", err)
	}
	return true, bal, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt.UTC().UnixNano())
	if err != nil {
		var se *sqlite.Error
		// primary code, so both plain and extended result codes match
		if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return ledger.ErrDuplicateEmail
		}
		return fmt.Errorf("sqlite: create user: %w", err)
	}
	return nil
}

func (s *Store) LookupUser(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("sqlite: lookup user: %w", err)
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}
