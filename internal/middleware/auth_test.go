package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thereal-baitjet/Stream-Slicer/internal/auth"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	tokens map[string]auth.Identity
}

func (s *stubValidator) ValidateToken(_ context.Context, tok string) (auth.Identity, error) {
	id, ok := s.tokens[tok]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

// okHandler writes 200 and the caller's user id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(UserIDFromCtx(r.Context())))
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRequireUser(t *testing.T) {
	v := &stubValidator{tokens: map[string]auth.Identity{
		"good": {UserID: "user-1"},
		"anon": {UserID: "anon-7", Anonymous: true},
	}}
	h := RequireUser(v)(okHandler)

	cases := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"valid", "Bearer good", http.StatusOK, "user-1"},
		{"lowercase scheme", "bearer good", http.StatusOK, "user-1"},
		{"anonymous", "Bearer anon", http.StatusOK, "anon-7"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/account", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.code {
				t.Fatalf("status = %d, want %d", rr.Code, tc.code)
			}
			if tc.code == http.StatusOK && rr.Body.String() != tc.body {
				t.Errorf("body = %q, want %q", rr.Body.String(), tc.body)
			}
		})
	}
}

func TestIdentityFromCtx(t *testing.T) {
	if _, ok := IdentityFromCtx(context.Background()); ok {
		t.Error("empty context reported an identity")
	}
	ctx := WithIdentity(context.Background(), auth.Identity{UserID: "u", Anonymous: true})
	id, ok := IdentityFromCtx(ctx)
	if !ok || id.UserID != "u" || !id.Anonymous {
		t.Errorf("identity = %+v ok = %v", id, ok)
	}
}

func TestUploadLimit(t *testing.T) {
	var readErr error
	h := UploadLimit(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("small"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || readErr != nil {
		t.Errorf("small body: status %d err %v", rr.Code, readErr)
	}

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader("x"))
	req.ContentLength = 10 + multipartSlack + 1
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("declared oversize: status %d, want 413", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(strings.Repeat("x", 10+multipartSlack+1)))
	req.ContentLength = -1
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) {
		t.Errorf("undeclared oversize: read err = %v, want MaxBytesError", readErr)
	}
}
