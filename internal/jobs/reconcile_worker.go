package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

// ReconcileBillingArgs is a completed analysis that could not be charged.
type ReconcileBillingArgs struct {
	SessionID        string `json:"session_id"`
	UserID           string `json:"user_id"`
	CostCredits      int64  `json:"cost_credits"`
	FileName         string `json:"file_name"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	Reason           string `json:"reason"`
}

func (ReconcileBillingArgs) Kind() string { return "reconcile_billing" }

func (ReconcileBillingArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 10}
}

func argsFromReconciliation(rec models.Reconciliation) ReconcileBillingArgs {
	return ReconcileBillingArgs{
		SessionID:        rec.SessionID,
		UserID:           rec.UserID,
		CostCredits:      rec.CostCredits,
		FileName:         rec.FileName,
		PromptTokens:     rec.TokenUsage.PromptTokens,
		CompletionTokens: rec.TokenUsage.CompletionTokens,
		Reason:           rec.Reason,
	}
}

// Biller is the contract the worker needs to settle a charge.
type Biller interface {
	Charge(ctx context.Context, userID string, amount int64) error
	RecordUsage(rec models.UsageRecord)
}

// ReconcileBillingWorker retries the charge for an unbilled result. A ledger
// outage is retried by River; a balance that cannot cover the cost cancels
// the job and leaves it for an operator.
type ReconcileBillingWorker struct {
	river.WorkerDefaults[ReconcileBillingArgs]
	biller Biller
	log    *slog.Logger
}

func NewReconcileBillingWorker(b Biller, log *slog.Logger) *ReconcileBillingWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReconcileBillingWorker{biller: b, log: log}
}

func (w *ReconcileBillingWorker) Work(ctx context.Context, job *river.Job[ReconcileBillingArgs]) error {
	args := job.Args
	log := w.log.With("job_id", job.ID, "session_id", args.SessionID, "user_id", args.UserID, "attempt", job.Attempt)

	if args.CostCredits <= 0 {
		return river.JobCancel(fmt.Errorf("reconcile %s: nothing to charge", args.SessionID))
	}

	err := w.biller.Charge(ctx, args.UserID, args.CostCredits)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInsufficientCredits):
		log.Error("reconciliation needs manual review: balance does not cover cost",
			"cost_credits", args.CostCredits, "original_reason", args.Reason)
		return river.JobCancel(fmt.Errorf("reconcile %s: %w", args.SessionID, err))
	default:
		return fmt.Errorf("reconcile %s: %w", args.SessionID, err)
	}

	w.biller.RecordUsage(models.UsageRecord{
		UserID:      args.UserID,
		CostCredits: args.CostCredits,
		FileName:    args.FileName,
		TokenUsage: models.TokenUsage{
			PromptTokens:     args.PromptTokens,
			CompletionTokens: args.CompletionTokens,
		},
	})
	log.Info("billing reconciled", "cost_credits", args.CostCredits)
	return nil
}
