package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/middleware"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
	"github.com/thereal-baitjet/Stream-Slicer/internal/pricing"
)

// AccountLedger is what the account endpoints read; ledger.Service
// implements it.
type AccountLedger interface {
	GetBalance(ctx context.Context, userID string) int64
	CheckTrialEligibility(ctx context.Context, userID string) bool
	ListUsage(ctx context.Context, userID string, limit int) ([]*models.UsageRecord, error)
}

type AccountHandler struct {
	Ledger        AccountLedger
	Calc          *pricing.Calculator
	TrialMaxBytes int64
	Logger        *slog.Logger
}

type accountResponse struct {
	UserID        string `json:"user_id"`
	Anonymous     bool   `json:"anonymous"`
	Credits       int64  `json:"credits"`
	TrialEligible bool   `json:"trial_eligible"`
	TrialMaxBytes int64  `json:"trial_max_bytes"`
	MinimumCharge int64  `json:"minimum_charge"`
}

func (h *AccountHandler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// --- GET /api/v1/account ---

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	writeJSON(w, http.StatusOK, accountResponse{
		UserID:        id.UserID,
		Anonymous:     id.Anonymous,
		Credits:       h.Ledger.GetBalance(r.Context(), id.UserID),
		TrialEligible: h.Ledger.CheckTrialEligibility(r.Context(), id.UserID),
		TrialMaxBytes: h.TrialMaxBytes,
		MinimumCharge: h.Calc.MinimumCharge(),
	})
}

// --- GET /api/v1/usage?limit=N ---

func (h *AccountHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	userID := middleware.UserIDFromCtx(r.Context())
	recs, err := h.Ledger.ListUsage(r.Context(), userID, limit)
	if err != nil {
		h.log().Error("list usage", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []*models.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": recs})
}

// --- GET /api/v1/pricing/estimate?duration_seconds=N ---

func (h *AccountHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	secs, err := strconv.ParseInt(r.URL.Query().Get("duration_seconds"), 10, 64)
	if err != nil || secs < 0 {
		http.Error(w, `{"error":"duration_seconds must be a non-negative integer"}`, http.StatusBadRequest)
		return
	}
	credits, err := h.Calc.Estimate(secs)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"duration_seconds":  secs,
		"estimated_credits": credits,
		"minimum_charge":    h.Calc.MinimumCharge(),
	})
}

// Health reports whether the ledger backend answers within two seconds.
func Health(ping func(context.Context) error, log *slog.Logger) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			log.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
