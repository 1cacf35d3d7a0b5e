package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/devicelock/internal/auth"
	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/models"
	pkghttp "github.com/BradenHooton/devicelock/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SessionService signs users in and out of this device
type SessionService interface {
	Login(ctx context.Context, user identity.User) (models.DeviceLockState, error)
	Logout(ctx context.Context) error
	Enroll(ctx context.Context) (string, error)
}

// SessionHandler binds the bearer's user to this device
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// EnrollResponse carries the new recovery key for one-time display
type EnrollResponse struct {
	Key string `json:"key"`
}

// RegisterRoutes registers session routes. requireSession guards routes
// that act on the signed-in user.
func (h *SessionHandler) RegisterRoutes(router chi.Router, requireSession func(http.Handler) http.Handler) {
	router.Post("/session", h.Login)
	router.With(requireSession).Delete("/session", h.Logout)
	router.With(requireSession).Post("/session/enroll", h.Enroll)
}

// Login signs in the token's user and returns the reconciled lock state
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	state, err := h.sessions.Login(r.Context(), identity.User{ID: claims.UserID, Email: claims.Email})
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "login sync failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to sign in")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, statusResponse(state))
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "logout failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enroll issues a recovery key. The backend must be reachable.
func (h *SessionHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	key, err := h.sessions.Enroll(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNoSession):
			pkghttp.WriteError(w, http.StatusConflict, "no_session", "no user is signed in on this device")
		case errors.Is(err, models.ErrRemoteUnavailable):
			pkghttp.WriteServiceUnavailable(w, "the backend is unreachable, try again when online")
		default:
			h.logger.ErrorContext(r.Context(), "enrolment failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "failed to issue recovery key")
		}
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, EnrollResponse{Key: key})
}
