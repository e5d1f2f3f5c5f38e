package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/analysis"
	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
	"github.com/thereal-baitjet/Stream-Slicer/internal/pricing"
)

const settleTimeout = 15 * time.Second

// Ledger is the subset of ledger.Service a run needs.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) int64
	CheckTrialEligibility(ctx context.Context, userID string) bool
	ClaimTrial(ctx context.Context, userID string) (bool, error)
	Charge(ctx context.Context, userID string, amount int64) error
	RecordUsage(rec models.UsageRecord)
}

type Analyzer interface {
	Configured() bool
	Analyze(ctx context.Context, req analysis.Request, onPhase func(models.Phase)) (*analysis.Outcome, error)
}

// Files opens and releases staged uploads.
type Files interface {
	Open(v *models.VideoFile) (io.ReadCloser, error)
	Release(v *models.VideoFile) error
}

// Reconciler records results that were produced but could not be billed.
type Reconciler interface {
	Reconcile(ctx context.Context, rec models.Reconciliation) error
}

// LogReconciler writes reconciliation records to the log for an operator.
type LogReconciler struct {
	Log *slog.Logger
}

func (l LogReconciler) Reconcile(_ context.Context, rec models.Reconciliation) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Error("billing reconciliation required",
		"session_id", rec.SessionID,
		"user_id", rec.UserID,
		"cost_credits", rec.CostCredits,
		"file_name", rec.FileName,
		"prompt_tokens", rec.TokenUsage.PromptTokens,
		"completion_tokens", rec.TokenUsage.CompletionTokens,
		"reason", rec.Reason,
	)
	return nil
}

type Config struct {
	TrialMaxBytes int64         `toml:"trial_max_bytes"`
	RunTimeout    time.Duration `toml:"run_timeout"`
	SessionTTL    time.Duration `toml:"session_ttl"`
}

func DefaultConfig() Config {
	return Config{
		TrialMaxBytes: 30 << 20,
		RunTimeout:    30 * time.Minute,
		SessionTTL:    2 * time.Hour,
	}
}

type Runner struct {
	ledger     Ledger
	analyzer   Analyzer
	calc       *pricing.Calculator
	files      Files
	reconciler Reconciler
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
}

func NewRunner(l Ledger, a Analyzer, calc *pricing.Calculator, files Files, rc Reconciler, cfg Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if rc == nil {
		rc = LogReconciler{Log: log}
	}
	if cfg.TrialMaxBytes <= 0 {
		cfg.TrialMaxBytes = DefaultConfig().TrialMaxBytes
	}
	return &Runner{
		ledger:     l,
		analyzer:   a,
		calc:       calc,
		files:      files,
		reconciler: rc,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Start checks preconditions and launches the analysis in the background.
// A failed precondition leaves the session's phase and the ledger untouched
// and makes no call to the AI service.
func (r *Runner) Start(ctx context.Context, s *Session) error {
	file, err := s.reserve()
	if err != nil {
		return err
	}
	trial, err := r.admit(ctx, s.OwnerID, file)
	if err != nil {
		s.unreserve()
		return err
	}

	base := context.WithoutCancel(ctx)
	var runCtx context.Context
	var cancel context.CancelFunc
	if r.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(base, r.cfg.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}
	done, err := s.begin(trial, cancel, r.now())
	if err != nil {
		cancel()
		s.unreserve()
		return err
	}

	log := r.log.With("session_id", s.ID, "user_id", s.OwnerID)
	log.Info("analysis started", "file_name", file.Name, "size_bytes", file.SizeBytes, "trial", trial)
	go r.run(runCtx, cancel, s, file, done, trial, log)
	return nil
}

// admit returns whether the run is a free trial, or why it may not start.
func (r *Runner) admit(ctx context.Context, userID string, file *models.VideoFile) (bool, error) {
	if !r.analyzer.Configured() {
		return false, &analysis.Error{Kind: analysis.KindConfiguration, Op: "start", Err: analysis.ErrNoService}
	}
	floor := r.calc.MinimumCharge()
	bal := r.ledger.GetBalance(ctx, userID)
	if bal >= floor {
		return false, nil
	}
	if !r.ledger.CheckTrialEligibility(ctx, userID) {
		return false, analysis.Errorf(analysis.KindInsufficientBalance, "start",
			"balance %d is below the minimum charge of %d credits", bal, floor)
	}
	if file.SizeBytes > r.cfg.TrialMaxBytes {
		return false, &analysis.Error{Kind: analysis.KindInvalidInput, Op: "start",
			Err: fmt.Errorf("%w: %d > %d bytes", ErrTrialTooLarge, file.SizeBytes, r.cfg.TrialMaxBytes)}
	}
	return true, nil
}

func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, s *Session, file *models.VideoFile, done chan struct{}, trial bool, log *slog.Logger) {
	defer cancel()
	defer s.finish(file, done)
	defer func() {
		if err := r.files.Release(file); err != nil {
			log.Warn("staged file release failed", "error", err)
		}
	}()

	body, err := r.files.Open(file)
	if err != nil {
		r.fail(s, &analysis.Error{Kind: analysis.KindInvalidInput, Op: "open", Err: err}, log)
		return
	}
	defer body.Close()

	out, err := r.analyzer.Analyze(ctx, analysis.Request{
		Body:      body,
		FileName:  file.Name,
		MIMEType:  file.MIMEType,
		SizeBytes: file.SizeBytes,
	}, func(p models.Phase) {
		if err := s.advance(p, r.now()); err != nil {
			log.Warn("phase update rejected", "phase", p, "error", err)
		}
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		r.fail(s, asAnalysisError(err), log)
		return
	}

	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer scancel()
	b := r.settle(sctx, s, file, out, trial, log)
	if err := s.complete(out, b, r.now()); err != nil {
		log.Error("completing session failed", "error", err)
		return
	}
	log.Info("analysis complete", "clips", len(out.Result.Clips), "billing", b.Status, "cost_credits", b.CostCredits)
}

func (r *Runner) fail(s *Session, err *analysis.Error, log *slog.Logger) {
	log.Warn("analysis failed", "kind", err.Kind, "op", err.Op, "error", err.Err)
	s.fail(err, r.now())
}

// settle bills a successful run. The result is kept whatever happens here.
func (r *Runner) settle(ctx context.Context, s *Session, file *models.VideoFile, out *analysis.Outcome, trial bool, log *slog.Logger) *Billing {
	cost, err := r.calc.Cost(out.Usage.PromptTokens, out.Usage.CompletionTokens)
	if err != nil {
		log.Warn("token usage rejected by pricing, charging the minimum", "error", err)
		cost = r.calc.MinimumCharge()
	}
	rec := models.UsageRecord{
		UserID:      s.OwnerID,
		CostCredits: cost,
		FileName:    file.Name,
		TokenUsage:  out.Usage,
	}

	if trial {
		claimed, err := r.ledger.ClaimTrial(ctx, s.OwnerID)
		switch {
		case err != nil:
			log.Warn("trial claim failed, charging instead", "error", err)
		case claimed:
			rec.CostCredits = 0
			rec.Trial = true
			r.ledger.RecordUsage(rec)
			return &Billing{Status: BillingTrial}
		default:
			log.Info("trial already consumed by another session, charging")
		}
	}

	err = r.ledger.Charge(ctx, s.OwnerID, cost)
	if err == nil {
		r.ledger.RecordUsage(rec)
		return &Billing{Status: BillingCharged, CostCredits: cost}
	}

	b := &Billing{Status: BillingUnbilled, CostCredits: cost, ErrorKind: analysis.KindLedgerWrite}
	if errors.Is(err, ledger.ErrInsufficientCredits) {
		b.ErrorKind = analysis.KindInsufficientBalance
		b.Warning = fmt.Sprintf("balance no longer covers %d credits; this result has not been billed", cost)
	} else {
		b.Warning = "billing failed; this result has not been billed and was flagged for review"
	}
	rc := models.Reconciliation{
		SessionID:   s.ID,
		UserID:      s.OwnerID,
		CostCredits: cost,
		FileName:    file.Name,
		TokenUsage:  out.Usage,
		Reason:      err.Error(),
	}
	if rerr := r.reconciler.Reconcile(ctx, rc); rerr != nil {
		log.Error("reconciliation submit failed", "cost_credits", cost, "reason", rc.Reason, "error", rerr)
	}
	return b
}

func asAnalysisError(err error) *analysis.Error {
	var ae *analysis.Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &analysis.Error{Kind: analysis.KindCanceled, Op: "run", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &analysis.Error{Kind: analysis.KindTimeout, Op: "run", Err: err}
	}
	return &analysis.Error{Kind: analysis.KindProcessing, Op: "run", Err: err}
}
