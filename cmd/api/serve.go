package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thereal-baitjet/Stream-Slicer/internal/analysis"
	"github.com/thereal-baitjet/Stream-Slicer/internal/auth"
	"github.com/thereal-baitjet/Stream-Slicer/internal/config"
	"github.com/thereal-baitjet/Stream-Slicer/internal/gemini"
	"github.com/thereal-baitjet/Stream-Slicer/internal/handlers"
	"github.com/thereal-baitjet/Stream-Slicer/internal/jobs"
	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/payments"
	"github.com/thereal-baitjet/Stream-Slicer/internal/pricing"
	"github.com/thereal-baitjet/Stream-Slicer/internal/router"
	"github.com/thereal-baitjet/Stream-Slicer/internal/session"
	"github.com/thereal-baitjet/Stream-Slicer/internal/store"
	"github.com/thereal-baitjet/Stream-Slicer/internal/upload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default command)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, slog.Default())
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	h, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.Backend.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
	}
	logger.Info("ledger backend ready", "driver", cfg.Store.Driver)

	ledgerSvc := ledger.NewService(h.Backend, logger)
	defer ledgerSvc.Wait()

	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return err
	}

	// A missing key is not fatal: the service runs and every Start reports a
	// configuration error.
	var ai analysis.AIService
	client, err := gemini.New(ctx, cfg.Gemini)
	switch {
	case errors.Is(err, gemini.ErrNoAPIKey):
		logger.Warn("no Gemini API key configured; analysis is disabled")
	case err != nil:
		return err
	default:
		ai = client
	}
	orch, err := analysis.NewOrchestrator(ai, cfg.Analysis.PollConfig, logger)
	if err != nil {
		return err
	}

	files, err := upload.NewStore(cfg.Server.UploadDir, cfg.Server.MaxUploadBytes)
	if err != nil {
		return err
	}

	var reconciler session.Reconciler = session.LogReconciler{Log: logger}
	var riverClient *river.Client[pgx.Tx]
	if h.Pool != nil {
		riverClient, err = newRiverClient(ctx, h.Pool, ledgerSvc, logger)
		if err != nil {
			return err
		}
		reconciler = jobs.NewRiverReconciler(func(ctx context.Context, args jobs.ReconcileBillingArgs) error {
			_, err := riverClient.Insert(ctx, args, nil)
			return err
		})
	} else {
		logger.Warn("no job queue for this store driver; unbilled results are only logged", "driver", cfg.Store.Driver)
	}

	runner := session.NewRunner(ledgerSvc, orch, calc, files, reconciler, cfg.Analysis.Config, logger)
	sessions := session.NewManager(runner, files, cfg.Analysis.SessionTTL, logger)

	authSvc, err := auth.NewService(h.Backend, cfg.Auth)
	if err != nil {
		return err
	}

	var payHandler *payments.Handler
	if cfg.Payments.WebhookSecret != "" {
		payHandler = &payments.Handler{
			Verifier: payments.NewVerifier(cfg.Payments.WebhookSecret, cfg.Payments.Tolerance),
			Ledger:   ledgerSvc,
			Calc:     calc,
			Logger:   logger,
		}
	} else {
		logger.Warn("no payment webhook secret configured; webhook route disabled")
	}

	api := router.New(router.Deps{
		Auth:     auth.NewHandler(authSvc, logger),
		Tokens:   authSvc,
		Sessions: &handlers.SessionHandler{Sessions: sessions, Logger: logger},
		Account: &handlers.AccountHandler{
			Ledger:        ledgerSvc,
			Calc:          calc,
			TrialMaxBytes: cfg.Analysis.TrialMaxBytes,
			Logger:        logger,
		},
		Payments:       payHandler,
		Health:         handlers.Health(h.Backend.Ping, logger),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", payments.SignatureHeader},
		AllowCredentials: true,
	}).Handler(api)

	srv := &http.Server{
		Addr:    net.JoinHostPort("0.0.0.0", cfg.Server.Port),
		Handler: corsHandler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if riverClient != nil {
		g.Go(func() error {
			// Stop drains in-flight jobs on shutdown; the start context must
			// outlive the signal for that.
			if err := riverClient.Start(context.WithoutCancel(gctx)); err != nil {
				return fmt.Errorf("river: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		sessions.RunJanitor(gctx, cfg.Server.JanitorInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		var wg sync.WaitGroup
		var httpErr, sessErr, riverErr error
		wg.Go(func() { httpErr = srv.Shutdown(sctx) })
		wg.Go(func() { sessErr = sessions.Close(sctx) })
		if riverClient != nil {
			wg.Go(func() { riverErr = riverClient.Stop(sctx) })
		}
		wg.Wait()
		return errors.Join(httpErr, sessErr, riverErr)
	})
	return g.Wait()
}

// newRiverClient applies River's migrations and registers the billing
// reconciliation worker.
func newRiverClient(ctx context.Context, pool *pgxpool.Pool, biller jobs.Biller, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	if err := migrateRiver(ctx, pool, logger); err != nil {
		return nil, err
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewReconcileBillingWorker(biller, logger))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 4},
		},
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}

func migrateRiver(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	logger.Info("river migrations applied", "versions", len(res.Versions))
	return nil
}
