package handlers_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/devicelock/internal/handlers"
	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestLogin_UsesTokenUser(t *testing.T) {
	var got identity.User
	sessions := &handlers.MockSessionService{
		LoginFunc: func(ctx context.Context, user identity.User) (models.DeviceLockState, error) {
			got = user
			return models.DeviceLockState{IsBlocked: true, BlockReason: models.BlockReasonRemoteLock}, nil
		},
	}
	h := handlers.NewSessionHandler(sessions, slog.Default())

	req := handlers.WithAuthContext(httptest.NewRequest("POST", "/session", nil), "user-1", "user@example.com")
	w := httptest.NewRecorder()
	h.Login(w, req)

	var resp handlers.StatusResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, identity.User{ID: "user-1", Email: "user@example.com"}, got)
	assert.True(t, resp.IsBlocked)
}

func TestLogin_NoClaims(t *testing.T) {
	h := handlers.NewSessionHandler(&handlers.MockSessionService{}, slog.Default())
	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest("POST", "/session", nil))
	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLogout(t *testing.T) {
	called := false
	sessions := &handlers.MockSessionService{
		LogoutFunc: func(ctx context.Context) error {
			called = true
			return nil
		},
	}
	w := httptest.NewRecorder()
	handlers.NewSessionHandler(sessions, slog.Default()).Logout(w, httptest.NewRequest("DELETE", "/session", nil))

	assert.Equal(t, 204, w.Code)
	assert.True(t, called)
}

func TestEnroll(t *testing.T) {
	tests := []struct {
		name      string
		enroll    func(ctx context.Context) (string, error)
		status    int
		errorCode string
	}{
		{
			name:   "issued",
			enroll: func(ctx context.Context) (string, error) { return "1111 2222 3333 4444 5555", nil },
			status: 201,
		},
		{
			name:      "no session",
			enroll:    func(ctx context.Context) (string, error) { return "", models.ErrNoSession },
			status:    409,
			errorCode: "no_session",
		},
		{
			name: "offline",
			enroll: func(ctx context.Context) (string, error) {
				return "", fmt.Errorf("failed to store recovery key: %w", models.ErrRemoteUnavailable)
			},
			status:    503,
			errorCode: "service_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewSessionHandler(&handlers.MockSessionService{EnrollFunc: tt.enroll}, slog.Default())
			w := httptest.NewRecorder()
			h.Enroll(w, httptest.NewRequest("POST", "/session/enroll", nil))

			if tt.errorCode != "" {
				handlers.AssertErrorResponse(t, w, tt.status, tt.errorCode)
				return
			}
			var resp handlers.EnrollResponse
			handlers.AssertJSONResponse(t, w, tt.status, &resp)
			assert.Equal(t, "1111 2222 3333 4444 5555", resp.Key)
		})
	}
}
