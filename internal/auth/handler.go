package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	u, err := h.svc.Register(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateEmail):
		http.Error(w, `{"error":"email already registered"}`, http.StatusConflict)
		return
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	default:
		h.log.Error("register failed", "error", err)
		http.Error(w, `{"error":"registration failed"}`, http.StatusInternalServerError)
		return
	}
	tok, err := h.svc.IssueToken(u.ID, false)
	if err != nil {
		h.log.Error("token issue failed", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"registration failed"}`, http.StatusInternalServerError)
		return
	}
	h.log.Info("user registered", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, TokenResponse{Token: tok, UserID: u.ID, Email: u.Email})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, `{"error":"missing email or password"}`, http.StatusBadRequest)
		return
	}
	tok, u, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		h.log.Error("login failed", "error", err)
		http.Error(w, `{"error":"login failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: tok, UserID: u.ID, Email: u.Email})
}

// Anonymous issues an identity for clients that skip registration.
func (h *Handler) Anonymous(w http.ResponseWriter, r *http.Request) {
	tok, id, err := h.svc.Anonymous()
	if err != nil {
		h.log.Error("anonymous token failed", "error", err)
		http.Error(w, `{"error":"could not create identity"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{Token: tok, UserID: id, Anonymous: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
