package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/thereal-baitjet/Stream-Slicer/internal/middleware"
	"github.com/thereal-baitjet/Stream-Slicer/internal/session"
)

const fileField = "file"

// Sessions is the session lifecycle the handler drives; session.Manager
// implements it.
type Sessions interface {
	Create(ownerID string) (*session.Session, error)
	Get(ownerID, id string) (*session.Session, error)
	SelectFile(ownerID, id string, r io.Reader, name string, declaredSize int64) (session.View, error)
	Start(ctx context.Context, ownerID, id string) (session.View, error)
	Cancel(ownerID, id string) (session.View, error)
	Delete(ownerID, id string) error
}

type SessionHandler struct {
	Sessions Sessions
	Logger   *slog.Logger
}

func (h *SessionHandler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// fail writes err and logs server-side failures.
func (h *SessionHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status := writeError(w, err); status >= http.StatusInternalServerError {
		h.log().Error(op+" failed", "session_id", r.PathValue("id"), "user_id", middleware.UserIDFromCtx(r.Context()), "error", err)
	}
}

// --- POST /api/v1/sessions ---

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Create(middleware.UserIDFromCtx(r.Context()))
	if err != nil {
		h.fail(w, r, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

// --- GET /api/v1/sessions/{id} ---

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Get(middleware.UserIDFromCtx(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// --- PUT /api/v1/sessions/{id}/file ---

// UploadFile streams the multipart "file" part into staging. An optional
// "size" field sent before the file lets oversize uploads fail early.
func (h *SessionHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, `{"error":"expected multipart/form-data"}`, http.StatusBadRequest)
		return
	}
	var declared int64
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			http.Error(w, `{"error":"missing file part"}`, http.StatusBadRequest)
			return
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeError(w, err)
				return
			}
			http.Error(w, `{"error":"malformed multipart body"}`, http.StatusBadRequest)
			return
		}
		switch part.FormName() {
		case "size":
			declared = readSize(part)
		case fileField:
			v, err := h.Sessions.SelectFile(middleware.UserIDFromCtx(r.Context()), r.PathValue("id"), part, part.FileName(), declared)
			part.Close()
			if err != nil {
				h.fail(w, r, "select file", err)
				return
			}
			writeJSON(w, http.StatusOK, v)
			return
		}
		part.Close()
	}
}

func readSize(p *multipart.Part) int64 {
	b, err := io.ReadAll(io.LimitReader(p, 32))
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// --- POST /api/v1/sessions/{id}/start ---

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	v, err := h.Sessions.Start(r.Context(), middleware.UserIDFromCtx(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "start analysis", err)
		return
	}
	writeJSON(w, http.StatusAccepted, v)
}

// --- POST /api/v1/sessions/{id}/cancel ---

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	v, err := h.Sessions.Cancel(middleware.UserIDFromCtx(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "cancel analysis", err)
		return
	}
	writeJSON(w, http.StatusAccepted, v)
}

// --- DELETE /api/v1/sessions/{id} ---

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Delete(middleware.UserIDFromCtx(r.Context()), r.PathValue("id")); err != nil {
		h.fail(w, r, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
