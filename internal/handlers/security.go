package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/devicelock/internal/models"
	pkghttp "github.com/BradenHooton/devicelock/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SettingsService manages security settings and the suspicious counter
type SettingsService interface {
	Settings(ctx context.Context) (models.SecuritySettings, error)
	UpdateSettings(ctx context.Context, settings models.SecuritySettings) (models.SecuritySettings, error)
	SuspiciousCount(ctx context.Context) (int, error)
	ResetSuspicious(ctx context.Context) error
}

// MonitorControl starts and stops the background monitor
type MonitorControl interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	IsActive(ctx context.Context) (bool, error)
	LastCheck(ctx context.Context) (*time.Time, error)
}

// EventLog lists recent security events for the signed-in user
type EventLog interface {
	Recent(ctx context.Context, limit int) ([]*models.SecurityEvent, error)
}

// SecurityHandler serves settings, monitoring and the event log
type SecurityHandler struct {
	settings SettingsService
	monitor  MonitorControl
	events   EventLog
	logger   *slog.Logger
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(settings SettingsService, monitor MonitorControl, events EventLog, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{settings: settings, monitor: monitor, events: events, logger: logger}
}

// SettingsRequest is the body of PUT /security/settings
type SettingsRequest struct {
	Enabled                     bool `json:"enabled"`
	SuspiciousAttemptsThreshold int  `json:"suspiciousAttemptsThreshold" validate:"gte=1,lte=10"`
	AutoBlockEnabled            bool `json:"autoBlockEnabled"`
	RemoteWipeEnabled           bool `json:"remoteWipeEnabled"`
	NotificationsEnabled        bool `json:"notificationsEnabled"`
	SyncFrequencyMinutes        int  `json:"syncFrequencyMinutes" validate:"gte=0"`
}

// MonitoringResponse describes the monitor state
type MonitoringResponse struct {
	Active          bool       `json:"active"`
	LastCheck       *time.Time `json:"lastCheck,omitempty"`
	SuspiciousCount int        `json:"suspiciousCount"`
}

// EventsResponse wraps a page of security events
type EventsResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Count  int                     `json:"count"`
}

// RegisterRoutes registers the security routes
func (h *SecurityHandler) RegisterRoutes(router chi.Router) {
	router.Route("/security", func(r chi.Router) {
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Get("/monitoring", h.Monitoring)
		r.Post("/monitoring/start", h.StartMonitoring)
		r.Post("/monitoring/stop", h.StopMonitoring)
		r.Post("/suspicious/reset", h.ResetSuspicious)
		r.Get("/events", h.ListEvents)
	})
}

func (h *SecurityHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Settings(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to read security settings", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, settings)
}

func (h *SecurityHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := pkghttp.DecodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	saved, err := h.settings.UpdateSettings(r.Context(), models.SecuritySettings{
		Enabled:                     req.Enabled,
		SuspiciousAttemptsThreshold: req.SuspiciousAttemptsThreshold,
		AutoBlockEnabled:            req.AutoBlockEnabled,
		RemoteWipeEnabled:           req.RemoteWipeEnabled,
		NotificationsEnabled:        req.NotificationsEnabled,
		SyncFrequencyMinutes:        req.SyncFrequencyMinutes,
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidSettings) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.internalError(w, r, "failed to update security settings", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, saved)
}

func (h *SecurityHandler) Monitoring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := h.monitor.IsActive(ctx)
	if err != nil {
		h.internalError(w, r, "failed to read monitoring state", err)
		return
	}
	last, err := h.monitor.LastCheck(ctx)
	if err != nil {
		h.internalError(w, r, "failed to read monitoring state", err)
		return
	}
	count, err := h.settings.SuspiciousCount(ctx)
	if err != nil {
		h.internalError(w, r, "failed to read suspicious activity count", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MonitoringResponse{Active: active, LastCheck: last, SuspiciousCount: count})
}

func (h *SecurityHandler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Activate(r.Context()); err != nil {
		h.internalError(w, r, "failed to start monitoring", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SecurityHandler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Deactivate(r.Context()); err != nil {
		h.internalError(w, r, "failed to stop monitoring", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SecurityHandler) ResetSuspicious(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.ResetSuspicious(r.Context()); err != nil {
		h.internalError(w, r, "failed to reset suspicious activity count", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEvents returns the most recent events, newest first
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := pkghttp.QueryInt(r, "limit", 50, 1, 500)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		if errors.Is(err, models.ErrNoSession) {
			pkghttp.WriteError(w, http.StatusConflict, "no_session", "no user is signed in on this device")
			return
		}
		h.internalError(w, r, "failed to list security events", err)
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

func (h *SecurityHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	pkghttp.WriteInternalError(w, msg)
}
