package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thereal-baitjet/Stream-Slicer/internal/analysis"
	"github.com/thereal-baitjet/Stream-Slicer/internal/auth"
	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/middleware"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
	"github.com/thereal-baitjet/Stream-Slicer/internal/pricing"
	"github.com/thereal-baitjet/Stream-Slicer/internal/session"
	"github.com/thereal-baitjet/Stream-Slicer/internal/store/memory"
	"github.com/thereal-baitjet/Stream-Slicer/internal/upload"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// stubSessions returns canned errors and records uploads.
type stubSessions struct {
	err          error
	gotOwner     string
	gotName      string
	gotDeclared  int64
	gotBody      string
	startCalled  bool
	deleteCalled bool
}

func (s *stubSessions) Create(owner string) (*session.Session, error) {
	s.gotOwner = owner
	if s.err != nil {
		return nil, s.err
	}
	return &session.Session{ID: "sess_1", OwnerID: owner}, nil
}

func (s *stubSessions) Get(owner, id string) (*session.Session, error) {
	s.gotOwner = owner
	if s.err != nil {
		return nil, s.err
	}
	return &session.Session{ID: id, OwnerID: owner}, nil
}

func (s *stubSessions) SelectFile(owner, id string, r io.Reader, name string, declared int64) (session.View, error) {
	b, _ := io.ReadAll(r)
	s.gotOwner, s.gotName, s.gotDeclared, s.gotBody = owner, name, declared, string(b)
	if s.err != nil {
		return session.View{}, s.err
	}
	return session.View{ID: id, File: &models.VideoFile{Name: name}, FileStaged: true}, nil
}

func (s *stubSessions) Start(_ context.Context, owner, id string) (session.View, error) {
	s.startCalled = true
	if s.err != nil {
		return session.View{}, s.err
	}
	return session.View{ID: id, Phase: models.PhaseUploading}, nil
}

func (s *stubSessions) Cancel(owner, id string) (session.View, error) {
	if s.err != nil {
		return session.View{}, s.err
	}
	return session.View{ID: id}, nil
}

func (s *stubSessions) Delete(owner, id string) error {
	s.deleteCalled = true
	return s.err
}

func withUser(r *http.Request, id string) *http.Request {
	return r.WithContext(middleware.WithIdentity(r.Context(), auth.Identity{UserID: id}))
}

// serve routes through a mux so PathValue is populated.
func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func multipartBody(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{session.ErrAnalysisInFlight, http.StatusConflict},
		{fmt.Errorf("%w: idle -> complete", session.ErrInvalidTransition), http.StatusConflict},
		{session.ErrNoFile, http.StatusConflict},
		{fmt.Errorf("%w: 2 GB", upload.ErrTooLarge), http.StatusRequestEntityTooLarge},
		{&analysis.Error{Kind: analysis.KindInvalidInput, Op: "start", Err: session.ErrTrialTooLarge}, http.StatusRequestEntityTooLarge},
		{upload.ErrNotVideo, http.StatusUnsupportedMediaType},
		{analysis.Errorf(analysis.KindInsufficientBalance, "start", "balance 8 < 10"), http.StatusPaymentRequired},
		{&analysis.Error{Kind: analysis.KindConfiguration, Op: "start", Err: analysis.ErrNoService}, http.StatusServiceUnavailable},
		{ledger.ErrLedgerWrite, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// SessionHandler
// ---------------------------------------------------------------------------

func TestUploadFile_StreamsFilePart(t *testing.T) {
	stub := &stubSessions{}
	h := &SessionHandler{Sessions: stub}
	body, ct := multipartBody(t, map[string]string{"size": "11"}, "vod.mp4", "video-bytes")
	req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/sess_1/file", body)
	req.Header.Set("Content-Type", ct)

	rr := serve("PUT /api/v1/sessions/{id}/file", h.UploadFile, withUser(req, "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if stub.gotOwner != "user-1" || stub.gotName != "vod.mp4" || stub.gotDeclared != 11 || stub.gotBody != "video-bytes" {
		t.Errorf("SelectFile got owner=%q name=%q declared=%d body=%q", stub.gotOwner, stub.gotName, stub.gotDeclared, stub.gotBody)
	}
}

func TestUploadFile_Rejections(t *testing.T) {
	t.Run("not multipart", func(t *testing.T) {
		h := &SessionHandler{Sessions: &stubSessions{}}
		req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/s/file", strings.NewReader("raw"))
		rr := serve("PUT /api/v1/sessions/{id}/file", h.UploadFile, withUser(req, "u"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
	t.Run("missing file part", func(t *testing.T) {
		h := &SessionHandler{Sessions: &stubSessions{}}
		body, ct := multipartBody(t, map[string]string{"size": "1"}, "", "")
		req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/s/file", body)
		req.Header.Set("Content-Type", ct)
		rr := serve("PUT /api/v1/sessions/{id}/file", h.UploadFile, withUser(req, "u"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
	t.Run("not a video", func(t *testing.T) {
		h := &SessionHandler{Sessions: &stubSessions{err: fmt.Errorf("%w: detected text/plain", upload.ErrNotVideo)}}
		body, ct := multipartBody(t, nil, "notes.txt", "hello")
		req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/s/file", body)
		req.Header.Set("Content-Type", ct)
		rr := serve("PUT /api/v1/sessions/{id}/file", h.UploadFile, withUser(req, "u"))
		if rr.Code != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want 415", rr.Code)
		}
	})
}

func TestStart_MapsPreconditionFailure(t *testing.T) {
	stub := &stubSessions{err: analysis.Errorf(analysis.KindInsufficientBalance, "start", "balance 8 is below the minimum charge of 10 credits")}
	h := &SessionHandler{Sessions: stub}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess_1/start", nil)
	rr := serve("POST /api/v1/sessions/{id}/start", h.Start, withUser(req, "u"))

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rr.Code)
	}
	var resp errorResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Kind != analysis.KindInsufficientBalance || !strings.Contains(resp.Error, "minimum charge") {
		t.Errorf("response = %+v", resp)
	}
}

func TestStart_Accepted(t *testing.T) {
	stub := &stubSessions{}
	h := &SessionHandler{Sessions: stub}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess_1/start", nil)
	rr := serve("POST /api/v1/sessions/{id}/start", h.Start, withUser(req, "u"))
	if rr.Code != http.StatusAccepted || !stub.startCalled {
		t.Errorf("status = %d started = %v", rr.Code, stub.startCalled)
	}
	if !strings.Contains(rr.Body.String(), `"phase":"uploading"`) {
		t.Errorf("body = %s", rr.Body)
	}
}

func TestGet_NotFound(t *testing.T) {
	h := &SessionHandler{Sessions: &stubSessions{err: session.ErrNotFound}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/other", nil)
	rr := serve("GET /api/v1/sessions/{id}", h.Get, withUser(req, "u"))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	h := &SessionHandler{Sessions: &stubSessions{err: fmt.Errorf("pgx: password authentication failed for user admin")}}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/s", nil)
	rr := serve("DELETE /api/v1/sessions/{id}", h.Delete, withUser(req, "u"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Errorf("internal error leaked: %s", rr.Body)
	}
}

// ---------------------------------------------------------------------------
// AccountHandler
// ---------------------------------------------------------------------------

func newAccountHandler(t *testing.T) (*AccountHandler, *ledger.Service) {
	t.Helper()
	calc, err := pricing.NewCalculator(pricing.DefaultRates())
	if err != nil {
		t.Fatal(err)
	}
	svc := ledger.NewService(memory.New(), nil)
	return &AccountHandler{Ledger: svc, Calc: calc, TrialMaxBytes: 30 << 20}, svc
}

func TestGetAccount(t *testing.T) {
	h, svc := newAccountHandler(t)
	svc.AddCredits(context.Background(), "user-1", 250)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/account", nil), "user-1")
	rr := httptest.NewRecorder()
	h.GetAccount(rr, req)

	var resp accountResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Credits != 250 || !resp.TrialEligible || resp.MinimumCharge != 5 || resp.UserID != "user-1" {
		t.Errorf("account = %+v", resp)
	}
}

func TestListUsage(t *testing.T) {
	h, svc := newAccountHandler(t)
	svc.RecordUsage(models.UsageRecord{UserID: "user-1", CostCredits: 12, FileName: "vod.mp4"})
	svc.Wait()

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/usage?limit=10", nil), "user-1")
	rr := httptest.NewRecorder()
	h.ListUsage(rr, req)
	var resp struct {
		Usage []models.UsageRecord `json:"usage"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Usage) != 1 || resp.Usage[0].CostCredits != 12 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	req = withUser(httptest.NewRequest(http.MethodGet, "/api/v1/usage?limit=-1", nil), "user-1")
	rr = httptest.NewRecorder()
	h.ListUsage(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rr.Code)
	}
}

func TestEstimate(t *testing.T) {
	h, _ := newAccountHandler(t)
	rr := httptest.NewRecorder()
	h.Estimate(rr, httptest.NewRequest(http.MethodGet, "/api/v1/pricing/estimate?duration_seconds=60", nil))
	var resp struct {
		Estimated int64 `json:"estimated_credits"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if rr.Code != http.StatusOK || resp.Estimated != 22 {
		t.Errorf("status %d estimate %d, want 22", rr.Code, resp.Estimated)
	}

	rr = httptest.NewRecorder()
	h.Estimate(rr, httptest.NewRequest(http.MethodGet, "/api/v1/pricing/estimate?duration_seconds=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad duration status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Estimate(rr, httptest.NewRequest(http.MethodGet, "/api/v1/pricing/estimate?duration_seconds=9223372036854775807", nil))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "duration out of range") {
		t.Errorf("huge duration status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ok := Health(func(context.Context) error { return nil }, nil)
	rr := httptest.NewRecorder()
	ok(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rr.Code)
	}
}
