// Package payments credits accounts from signed payment-provider callbacks.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
	"github.com/thereal-baitjet/Stream-Slicer/internal/pricing"
)

const (
	SignatureHeader = "X-Signature"
	EventSucceeded  = "payment.succeeded"

	maxBodyBytes = 64 << 10
)

var (
	ErrMissingSignature = errors.New("payments: missing signature")
	ErrBadSignature     = errors.New("payments: signature mismatch")
	ErrStaleSignature   = errors.New("payments: signature timestamp outside tolerance")
)

type Config struct {
	WebhookSecret string        `toml:"webhook_secret"`
	Tolerance     time.Duration `toml:"tolerance"`
}

// Verifier checks "t=<unix>,v1=<hex hmac-sha256(secret, t.body)>" headers.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Sign produces the header value for body at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(mac([]byte(secret), t, body))
}

func mac(secret []byte, t string, body []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(t))
	m.Write([]byte("."))
	m.Write(body)
	return m.Sum(nil)
}

func (v *Verifier) Verify(header string, body []byte) error {
	if header == "" {
		return ErrMissingSignature
	}
	var t string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			t = val
		case "v1":
			if b, err := hex.DecodeString(val); err == nil {
				sigs = append(sigs, b)
			}
		}
	}
	if t == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}
	unix, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if d := v.now().Sub(time.Unix(unix, 0)); d > v.tolerance || d < -v.tolerance {
		return ErrStaleSignature
	}
	want := mac(v.secret, t, body)
	for _, s := range sigs {
		if hmac.Equal(s, want) {
			return nil
		}
	}
	return ErrBadSignature
}

// Event is the provider's callback payload.
type Event struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
}

// Applier credits a payment exactly once; ledger.Service satisfies it.
type Applier interface {
	ApplyPayment(ctx context.Context, p *models.Payment) (bool, error)
}

type Handler struct {
	Verifier *Verifier
	Ledger   Applier
	Calc     *pricing.Calculator
	Logger   *slog.Logger
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Webhook handles POST /api/v1/payments/webhook.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"body too large"}`, http.StatusRequestEntityTooLarge)
		return
	}
	if err := h.Verifier.Verify(r.Header.Get(SignatureHeader), body); err != nil {
		h.log().Warn("payment webhook rejected", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if ev.Type != EventSucceeded {
		writeJSON(w, http.StatusOK, map[string]any{"id": ev.ID, "ignored": true})
		return
	}
	if ev.ID == "" || ev.UserID == "" || ev.AmountCents <= 0 {
		http.Error(w, `{"error":"id, user_id and a positive amount_cents are required"}`, http.StatusBadRequest)
		return
	}
	credits := h.Calc.CreditsForPayment(ev.AmountCents)
	if credits <= 0 {
		http.Error(w, `{"error":"amount too small"}`, http.StatusBadRequest)
		return
	}

	applied, err := h.Ledger.ApplyPayment(r.Context(), &models.Payment{
		ID:          ev.ID,
		UserID:      ev.UserID,
		AmountCents: ev.AmountCents,
		Credits:     credits,
	})
	if err != nil {
		// A 5xx makes the provider redeliver; the payment id keeps that safe.
		h.log().Error("apply payment failed", "payment_id", ev.ID, "user_id", ev.UserID, "error", err)
		http.Error(w, `{"error":"could not apply payment"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": ev.ID, "applied": applied, "credits": credits})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
