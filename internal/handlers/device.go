package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/devicelock/internal/models"
	pkghttp "github.com/BradenHooton/devicelock/pkg/http"
	"github.com/BradenHooton/devicelock/pkg/recoverykey"
	"github.com/go-chi/chi/v5"
)

// LockService is the state machine surface exposed to the UI
type LockService interface {
	State(ctx context.Context) (models.DeviceLockState, error)
	AttemptUnlock(ctx context.Context, key string) (models.UnlockResult, error)
	ManualBlock(ctx context.Context, reason string) error
	ManualUnblock(ctx context.Context) error
	GetFailedAttempts(ctx context.Context) (int, error)
	GetRecoveryKeyDisplay(ctx context.Context) (string, error)
	Reconcile(ctx context.Context) (models.DeviceLockState, error)
}

// DeviceHandler serves lock state and unlock requests
type DeviceHandler struct {
	lock   LockService
	logger *slog.Logger
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(lock LockService, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{lock: lock, logger: logger}
}

// UnlockRequest is the body of POST /device/unlock
type UnlockRequest struct {
	Key string `json:"key" validate:"required,max=64"`
}

// BlockRequest is the body of POST /device/block
type BlockRequest struct {
	Reason string `json:"reason" validate:"max=64"`
}

// StatusResponse is the lock screen model
type StatusResponse struct {
	State          models.LockState `json:"state"`
	IsBlocked      bool             `json:"isBlocked"`
	BlockReason    string           `json:"blockReason"`
	BlockedAt      *time.Time       `json:"blockedAt,omitempty"`
	FailedAttempts int              `json:"failedAttempts"`
	MaxAttempts    int              `json:"maxAttempts"`
	Message        string           `json:"message,omitempty"`
}

func statusResponse(state models.DeviceLockState) StatusResponse {
	resp := StatusResponse{
		State:          state.State(),
		IsBlocked:      state.IsBlocked,
		BlockReason:    state.BlockReason.String(),
		BlockedAt:      state.BlockedAt,
		FailedAttempts: state.FailedAttempts,
		MaxAttempts:    models.MaxFailedAttempts,
	}
	if state.IsBlocked {
		resp.Message = state.BlockReason.Message()
	}
	return resp
}

// RegisterRoutes registers the device routes. unlockLimit throttles the
// unlock endpoint.
func (h *DeviceHandler) RegisterRoutes(router chi.Router, unlockLimit func(http.Handler) http.Handler) {
	router.Route("/device", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.With(unlockLimit).Post("/unlock", h.Unlock)
		r.Post("/block", h.Block)
		r.Post("/unblock", h.Unblock)
		r.Get("/failed-attempts", h.FailedAttempts)
		r.Get("/recovery-key", h.RecoveryKey)
		r.Get("/recovery-key/qr", h.RecoveryKeyQR)
		r.Post("/reconcile", h.Reconcile)
	})
}

// Status returns the current lock state
func (h *DeviceHandler) Status(w http.ResponseWriter, r *http.Request) {
	state, err := h.lock.State(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to read lock state", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, statusResponse(state))
}

// Unlock checks a recovery key. Wrong keys are a 200 with success=false so
// the lock screen can show the attempt count; only malformed input is a 400.
func (h *DeviceHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := pkghttp.DecodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.lock.AttemptUnlock(r.Context(), req.Key)
	if err != nil {
		if errors.Is(err, models.ErrInvalidRecoveryKey) {
			pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "invalid_key",
				"Recovery key must contain exactly 20 digits", "spaces are ignored")
			return
		}
		h.internalError(w, r, "failed to process unlock attempt", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Block locks the device with an optional reason code
func (h *DeviceHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if r.ContentLength != 0 {
		if err := pkghttp.DecodeJSON(r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		if err := ValidateRequest(req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	if err := h.lock.ManualBlock(r.Context(), req.Reason); err != nil {
		h.internalError(w, r, "failed to block device", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unblock clears the block without a key
func (h *DeviceHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if err := h.lock.ManualUnblock(r.Context()); err != nil {
		h.internalError(w, r, "failed to unblock device", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FailedAttempts returns the consecutive failed unlock count
func (h *DeviceHandler) FailedAttempts(w http.ResponseWriter, r *http.Request) {
	n, err := h.lock.GetFailedAttempts(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to read failed attempts", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]int{
		"failedAttempts": n,
		"maxAttempts":    models.MaxFailedAttempts,
	})
}

// RecoveryKey returns the cached key grouped for display
func (h *DeviceHandler) RecoveryKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.lock.GetRecoveryKeyDisplay(r.Context())
	if err != nil {
		h.keyError(w, r, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"key": key})
}

// RecoveryKeyQR renders the cached key as a PNG
func (h *DeviceHandler) RecoveryKeyQR(w http.ResponseWriter, r *http.Request) {
	size, err := pkghttp.QueryInt(r, "size", 256, 64, 1024)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	key, err := h.lock.GetRecoveryKeyDisplay(r.Context())
	if err != nil {
		h.keyError(w, r, err)
		return
	}

	png, err := recoverykey.QRCode(key, size)
	if err != nil {
		h.internalError(w, r, "failed to render QR code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Reconcile syncs lock state with the backend
func (h *DeviceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	state, err := h.lock.Reconcile(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to reconcile lock state", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, statusResponse(state))
}

func (h *DeviceHandler) keyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, models.ErrNoRecoveryKey) {
		pkghttp.WriteNotFound(w, "no recovery key is cached on this device")
		return
	}
	h.internalError(w, r, "failed to read recovery key", err)
}

func (h *DeviceHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	pkghttp.WriteInternalError(w, msg)
}
