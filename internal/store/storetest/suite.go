// Package storetest is a conformance suite every ledger.Backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

// Run exercises b. Each subtest uses fresh user ids so a shared database is
// fine.
func Run(t *testing.T, b ledger.Backend) {
	t.Helper()
	ctx := context.Background()
	if err := b.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	t.Run("MissingAccount", func(t *testing.T) { testMissingAccount(t, b) })
	t.Run("AddAndDeduct", func(t *testing.T) { testAddAndDeduct(t, b) })
	t.Run("DeductInsufficient", func(t *testing.T) { testDeductInsufficient(t, b) })
	t.Run("ConcurrentDeduct", func(t *testing.T) { testConcurrentDeduct(t, b) })
	t.Run("TrialOnce", func(t *testing.T) { testTrialOnce(t, b) })
	t.Run("UsageLog", func(t *testing.T) { testUsageLog(t, b) })
	t.Run("PaymentIdempotent", func(t *testing.T) { testPaymentIdempotent(t, b) })
	t.Run("Users", func(t *testing.T) { testUsers(t, b) })
}

func newUser() string { return uuid.NewString() }

func testMissingAccount(t *testing.T, b ledger.Backend) {
	_, err := b.GetAccount(context.Background(), newUser())
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("GetAccount(unknown) err = %v, want ErrAccountNotFound", err)
	}
}

func testAddAndDeduct(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	u := newUser()

	bal, err := b.AddCredits(ctx, u, 100)
	if err != nil || bal != 100 {
		t.Fatalf("AddCredits = %d, %v; want 100", bal, err)
	}
	bal, err = b.AddCredits(ctx, u, 50)
	if err != nil || bal != 150 {
		t.Fatalf("AddCredits = %d, %v; want 150", bal, err)
	}
	bal, err = b.DeductCredits(ctx, u, 40)
	if err != nil || bal != 110 {
		t.Fatalf("DeductCredits = %d, %v; want 110", bal, err)
	}
	bal, err = b.DeductCredits(ctx, u, 110)
	if err != nil || bal != 0 {
		t.Fatalf("DeductCredits to zero = %d, %v", bal, err)
	}
	acc, err := b.GetAccount(ctx, u)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Credits != 0 || acc.HasUsedFreeTrial {
		t.Errorf("account = %+v, want 0 credits and unused trial", acc)
	}
}

func testDeductInsufficient(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	u := newUser()

	if _, err := b.DeductCredits(ctx, u, 1); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("deduct on missing account err = %v, want ErrInsufficientCredits", err)
	}
	if _, err := b.AddCredits(ctx, u, 10); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}
	if _, err := b.DeductCredits(ctx, u, 11); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("overdraw err = %v, want ErrInsufficientCredits", err)
	}
	acc, _ := b.GetAccount(ctx, u)
	if acc == nil || acc.Credits != 10 {
		t.Fatalf("balance after refused deduct = %+v, want 10", acc)
	}
}

func testConcurrentDeduct(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	u := newUser()
	const (
		start   = 100
		workers = 20
		amount  = 7
	)
	if _, err := b.AddCredits(ctx, u, start); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}

	var ok atomic.Int64
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Go(func() {
			_, err := b.DeductCredits(ctx, u, amount)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrInsufficientCredits):
			default:
				errs <- err
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("DeductCredits: %v", err)
	}

	if got, want := ok.Load(), int64(start/amount); got != want {
		t.Errorf("successful deductions = %d, want %d", got, want)
	}
	acc, err := b.GetAccount(ctx, u)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if want := int64(start - (start/amount)*amount); acc.Credits != want {
		t.Errorf("final balance = %d, want %d", acc.Credits, want)
	}
}

func testTrialOnce(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	u := newUser()

	claimed, err := b.ClaimTrial(ctx, u)
	if err != nil || !claimed {
		t.Fatalf("first ClaimTrial = %v, %v; want true", claimed, err)
	}
	claimed, err = b.ClaimTrial(ctx, u)
	if err != nil || claimed {
		t.Fatalf("second ClaimTrial = %v, %v; want false", claimed, err)
	}
	acc, err := b.GetAccount(ctx, u)
	if err != nil || !acc.HasUsedFreeTrial {
		t.Fatalf("account after claim = %+v, %v", acc, err)
	}

	// Credit grants must not reset the flag.
	if _, err := b.AddCredits(ctx, u, 5); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}
	acc, _ = b.GetAccount(ctx, u)
	if !acc.HasUsedFreeTrial || acc.Credits != 5 {
		t.Errorf("account after grant = %+v", acc)
	}
}

func testUsageLog(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	u := newUser()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 3 {
		rec := &models.UsageRecord{
			ID:          fmt.Sprintf("usage_%s_%d", u[:8], i),
			UserID:      u,
			CostCredits: int64(10 + i),
			FileName:    fmt.Sprintf("vod-%d.mp4", i),
			TokenUsage:  models.TokenUsage{PromptTokens: 1000, CompletionTokens: int64(100 * i)},
			Trial:       i == 0,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := b.AppendUsage(ctx, rec); err != nil {
			t.Fatalf("AppendUsage: %v", err)
		}
	}

	recs, err := b.ListUsage(ctx, u, 10)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("ListUsage len = %d, want 3", len(recs))
	}
	if recs[0].CostCredits != 12 || recs[2].CostCredits != 10 {
		t.Errorf("ListUsage not newest first: %d .. %d", recs[0].CostCredits, recs[2].CostCredits)
	}
	if !recs[2].Trial || recs[0].Trial {
		t.Errorf("trial flag not preserved")
	}
	if recs[0].TokenUsage.CompletionTokens != 200 || recs[0].FileName != "vod-2.mp4" {
		t.Errorf("record fields not preserved: %+v", recs[0])
	}
	if !recs[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("timestamp = %v, want %v", recs[0].Timestamp, base.Add(2*time.Minute))
	}

	limited, err := b.ListUsage(ctx, u, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("ListUsage(limit 2) = %d records, %v", len(limited), err)
	}
	other, err := b.ListUsage(ctx, newUser(), 10)
	if err != nil || len(other) != 0 {
		t.Errorf("ListUsage(other user) = %d records, %v", len(other), err)
	}
}

func testPaymentIdempotent(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	u := newUser()
	p := &models.Payment{
		ID:          "evt_" + uuid.NewString(),
		UserID:      u,
		AmountCents: 500,
		Credits:     5000,
		CreatedAt:   time.Now().UTC(),
	}

	applied, bal, err := b.ApplyPayment(ctx, p)
	if err != nil || !applied || bal != 5000 {
		t.Fatalf("first ApplyPayment = %v, %d, %v", applied, bal, err)
	}
	applied, bal, err = b.ApplyPayment(ctx, p)
	if err != nil || applied || bal != 5000 {
		t.Fatalf("redelivered ApplyPayment = %v, %d, %v; want false, 5000", applied, bal, err)
	}
}

func testUsers(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	email := "streamer-" + uuid.NewString()[:8] + "@example.com"
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "$2a$10$hash",
		CreatedAt:    time.Now().UTC(),
	}
	if err := b.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	dup := *u
	dup.ID = uuid.NewString()
	if err := b.CreateUser(ctx, &dup); !errors.Is(err, ledger.ErrDuplicateEmail) {
		t.Fatalf("duplicate CreateUser err = %v, want ErrDuplicateEmail", err)
	}

	got, err := b.LookupUser(ctx, email)
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if got.ID != u.ID || got.PasswordHash != u.PasswordHash {
		t.Errorf("LookupUser = %+v, want %+v", got, u)
	}
	if _, err := b.LookupUser(ctx, "nobody@example.com"); !errors.Is(err, ledger.ErrUserNotFound) {
		t.Errorf("LookupUser(unknown) err = %v, want ErrUserNotFound", err)
	}
}
