package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
	"github.com/thereal-baitjet/Stream-Slicer/internal/pricing"
	"github.com/thereal-baitjet/Stream-Slicer/internal/store/memory"
)

const secret = "whsec_test"

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

func TestVerify(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := NewVerifier(secret, 5*time.Minute)
	v.now = func() time.Time { return now }
	body := []byte(`{"id":"pay_1"}`)

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", Sign(secret, now, body), nil},
		{"slightly old", Sign(secret, now.Add(-4*time.Minute), body), nil},
		{"stale", Sign(secret, now.Add(-6*time.Minute), body), ErrStaleSignature},
		{"future", Sign(secret, now.Add(6*time.Minute), body), ErrStaleSignature},
		{"wrong secret", Sign("other", now, body), ErrBadSignature},
		{"missing", "", ErrMissingSignature},
		{"garbage", "nonsense", ErrBadSignature},
		{"second signature matches", Sign("old", now, body) + ",v1=" + strings.SplitN(Sign(secret, now, body), "v1=", 2)[1], nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Verify(tc.header, body)
			if tc.want == nil && err != nil {
				t.Fatalf("Verify = %v, want nil", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("Verify = %v, want %v", err, tc.want)
			}
		})
	}

	if err := v.Verify(Sign(secret, now, body), []byte(`{"id":"pay_2"}`)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered body: err = %v, want ErrBadSignature", err)
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

type failingApplier struct{}

func (failingApplier) ApplyPayment(context.Context, *models.Payment) (bool, error) {
	return false, ledger.ErrLedgerWrite
}

func newHandler(t *testing.T) (*Handler, *ledger.Service) {
	t.Helper()
	calc, err := pricing.NewCalculator(pricing.DefaultRates())
	if err != nil {
		t.Fatal(err)
	}
	svc := ledger.NewService(memory.New(), nil)
	return &Handler{Verifier: NewVerifier(secret, 0), Ledger: svc, Calc: calc}, svc
}

func post(h *Handler, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(body))
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	rr := httptest.NewRecorder()
	h.Webhook(rr, req)
	return rr
}

func TestWebhook_CreditsOnce(t *testing.T) {
	h, svc := newHandler(t)
	body := `{"id":"pay_1","type":"payment.succeeded","user_id":"user-1","amount_cents":500}`
	sig := Sign(secret, time.Now(), []byte(body))

	rr := post(h, body, sig)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	var resp struct {
		Applied bool  `json:"applied"`
		Credits int64 `json:"credits"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Applied || resp.Credits != 5000 {
		t.Errorf("response = %+v, want applied 5000", resp)
	}

	rr = post(h, body, sig)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"applied":false`) {
		t.Errorf("redelivery: status %d body %s", rr.Code, rr.Body)
	}
	if got := svc.GetBalance(context.Background(), "user-1"); got != 5000 {
		t.Errorf("balance = %d, want 5000", got)
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	h, svc := newHandler(t)
	body := `{"id":"pay_1","type":"payment.succeeded","user_id":"user-1","amount_cents":500}`
	rr := post(h, body, Sign("forged", time.Now(), []byte(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if rr = post(h, body, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d, want 401", rr.Code)
	}
	if got := svc.GetBalance(context.Background(), "user-1"); got != 0 {
		t.Errorf("balance = %d after rejected webhooks", got)
	}
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	h, _ := newHandler(t)
	body := `{"id":"evt_9","type":"payment.refunded","user_id":"user-1","amount_cents":500}`
	rr := post(h, body, Sign(secret, time.Now(), []byte(body)))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ignored":true`) {
		t.Errorf("status %d body %s", rr.Code, rr.Body)
	}
}

func TestWebhook_ValidatesPayload(t *testing.T) {
	h, _ := newHandler(t)
	for name, body := range map[string]string{
		"not json":          `{"id":`,
		"missing user":      `{"id":"pay_1","type":"payment.succeeded","amount_cents":500}`,
		"zero amount":       `{"id":"pay_1","type":"payment.succeeded","user_id":"u","amount_cents":0}`,
		"fractional amount": `{"id":"pay_1","type":"payment.succeeded","user_id":"u","amount_cents":0.5}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := post(h, body, Sign(secret, time.Now(), []byte(body)))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestWebhook_LedgerFailureAsksForRedelivery(t *testing.T) {
	h, _ := newHandler(t)
	h.Ledger = failingApplier{}
	body := `{"id":"pay_1","type":"payment.succeeded","user_id":"user-1","amount_cents":500}`
	rr := post(h, body, Sign(secret, time.Now(), []byte(body)))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}
