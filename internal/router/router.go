package router

import (
	"net/http"

	"github.com/thereal-baitjet/Stream-Slicer/internal/auth"
	"github.com/thereal-baitjet/Stream-Slicer/internal/handlers"
	"github.com/thereal-baitjet/Stream-Slicer/internal/middleware"
	"github.com/thereal-baitjet/Stream-Slicer/internal/payments"
)

// Deps is everything the API surface needs.
type Deps struct {
	Auth           *auth.Handler
	Tokens         middleware.TokenValidator
	Sessions       *handlers.SessionHandler
	Account        *handlers.AccountHandler
	Payments       *payments.Handler
	Health         http.HandlerFunc
	MaxUploadBytes int64
}

// New returns an http.Handler that serves the API under /api/v1.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	const base = "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", d.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", d.Auth.Login)
	mux.HandleFunc("POST "+base+"/auth/anonymous", d.Auth.Anonymous)
	mux.HandleFunc("GET "+base+"/pricing/estimate", d.Account.Estimate)

	user := middleware.RequireUser(d.Tokens)
	mux.Handle("GET "+base+"/account", user(http.HandlerFunc(d.Account.GetAccount)))
	mux.Handle("GET "+base+"/usage", user(http.HandlerFunc(d.Account.ListUsage)))

	mux.Handle("POST "+base+"/sessions", user(http.HandlerFunc(d.Sessions.Create)))
	mux.Handle("GET "+base+"/sessions/{id}", user(http.HandlerFunc(d.Sessions.Get)))
	mux.Handle("DELETE "+base+"/sessions/{id}", user(http.HandlerFunc(d.Sessions.Delete)))
	mux.Handle("POST "+base+"/sessions/{id}/start", user(http.HandlerFunc(d.Sessions.Start)))
	mux.Handle("POST "+base+"/sessions/{id}/cancel", user(http.HandlerFunc(d.Sessions.Cancel)))
	// Auth runs before the size gate so anonymous callers never stream a body.
	mux.Handle("PUT "+base+"/sessions/{id}/file",
		user(middleware.UploadLimit(d.MaxUploadBytes)(http.HandlerFunc(d.Sessions.UploadFile))))

	if d.Payments != nil {
		mux.HandleFunc("POST "+base+"/payments/webhook", d.Payments.Webhook)
	}
	if d.Health != nil {
		mux.HandleFunc("GET /healthz", d.Health)
	}
	return mux
}
