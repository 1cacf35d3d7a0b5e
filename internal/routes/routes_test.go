package routes_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/devicelock/internal/auth"
	"github.com/BradenHooton/devicelock/internal/handlers"
	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/BradenHooton/devicelock/internal/routes"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSessions struct {
	user *identity.User
}

func (s *stubSessions) CurrentUser(ctx context.Context) (*identity.User, error) {
	if s.user == nil {
		return nil, models.ErrNoSession
	}
	return s.user, nil
}

func newRouter(t *testing.T, sessions *stubSessions) (http.Handler, *auth.TokenManager) {
	t.Helper()
	tm := auth.NewTokenManager("routes-test-secret-0123456789", 15*time.Minute)
	logger := slog.Default()

	router := chi.NewRouter()
	routes.RegisterRoutes(router,
		handlers.NewDeviceHandler(&handlers.MockLockService{}, logger),
		handlers.NewSecurityHandler(&handlers.MockSettingsService{}, &handlers.MockMonitor{}, &handlers.MockEventLog{}, logger),
		handlers.NewSessionHandler(&handlers.MockSessionService{}, logger),
		tm,
		sessions,
	)
	return router, tm
}

func bearer(t *testing.T, tm *auth.TokenManager, method, path, userID string) *http.Request {
	t.Helper()
	token, err := tm.GenerateAccessToken(userID, userID+"@example.com")
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRoutes_RequireToken(t *testing.T) {
	router, _ := newRouter(t, &stubSessions{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/device/status", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_LoginWithoutSession(t *testing.T) {
	router, tm := newRouter(t, &stubSessions{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, bearer(t, tm, "POST", "/session", "user-1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, bearer(t, tm, "GET", "/device/status", "user-1"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRoutes_SessionUserMustMatch(t *testing.T) {
	router, tm := newRouter(t, &stubSessions{user: &identity.User{ID: "user-1"}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, bearer(t, tm, "GET", "/device/status", "user-1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, bearer(t, tm, "GET", "/security/settings", "user-2"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
