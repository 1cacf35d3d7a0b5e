package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/devicelock/internal/auth"
	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/models"
	pkghttp "github.com/BradenHooton/devicelock/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLockService implements LockService for testing
type MockLockService struct {
	StateFunc                 func(ctx context.Context) (models.DeviceLockState, error)
	AttemptUnlockFunc         func(ctx context.Context, key string) (models.UnlockResult, error)
	ManualBlockFunc           func(ctx context.Context, reason string) error
	ManualUnblockFunc         func(ctx context.Context) error
	GetFailedAttemptsFunc     func(ctx context.Context) (int, error)
	GetRecoveryKeyDisplayFunc func(ctx context.Context) (string, error)
	ReconcileFunc             func(ctx context.Context) (models.DeviceLockState, error)
}

func (m *MockLockService) State(ctx context.Context) (models.DeviceLockState, error) {
	if m.StateFunc == nil {
		return models.DeviceLockState{BlockReason: models.BlockReasonNone}, nil
	}
	return m.StateFunc(ctx)
}

func (m *MockLockService) AttemptUnlock(ctx context.Context, key string) (models.UnlockResult, error) {
	if m.AttemptUnlockFunc == nil {
		return models.UnlockResult{}, models.ErrInvalidRecoveryKey
	}
	return m.AttemptUnlockFunc(ctx, key)
}

func (m *MockLockService) ManualBlock(ctx context.Context, reason string) error {
	if m.ManualBlockFunc == nil {
		return nil
	}
	return m.ManualBlockFunc(ctx, reason)
}

func (m *MockLockService) ManualUnblock(ctx context.Context) error {
	if m.ManualUnblockFunc == nil {
		return nil
	}
	return m.ManualUnblockFunc(ctx)
}

func (m *MockLockService) GetFailedAttempts(ctx context.Context) (int, error) {
	if m.GetFailedAttemptsFunc == nil {
		return 0, nil
	}
	return m.GetFailedAttemptsFunc(ctx)
}

func (m *MockLockService) GetRecoveryKeyDisplay(ctx context.Context) (string, error) {
	if m.GetRecoveryKeyDisplayFunc == nil {
		return "", models.ErrNoRecoveryKey
	}
	return m.GetRecoveryKeyDisplayFunc(ctx)
}

func (m *MockLockService) Reconcile(ctx context.Context) (models.DeviceLockState, error) {
	if m.ReconcileFunc == nil {
		return m.State(ctx)
	}
	return m.ReconcileFunc(ctx)
}

// MockSettingsService implements SettingsService for testing
type MockSettingsService struct {
	SettingsFunc        func(ctx context.Context) (models.SecuritySettings, error)
	UpdateSettingsFunc  func(ctx context.Context, settings models.SecuritySettings) (models.SecuritySettings, error)
	SuspiciousCountFunc func(ctx context.Context) (int, error)
	ResetSuspiciousFunc func(ctx context.Context) error
}

func (m *MockSettingsService) Settings(ctx context.Context) (models.SecuritySettings, error) {
	if m.SettingsFunc == nil {
		return models.DefaultSecuritySettings(), nil
	}
	return m.SettingsFunc(ctx)
}

func (m *MockSettingsService) UpdateSettings(ctx context.Context, settings models.SecuritySettings) (models.SecuritySettings, error) {
	if m.UpdateSettingsFunc == nil {
		return settings, nil
	}
	return m.UpdateSettingsFunc(ctx, settings)
}

func (m *MockSettingsService) SuspiciousCount(ctx context.Context) (int, error) {
	if m.SuspiciousCountFunc == nil {
		return 0, nil
	}
	return m.SuspiciousCountFunc(ctx)
}

func (m *MockSettingsService) ResetSuspicious(ctx context.Context) error {
	if m.ResetSuspiciousFunc == nil {
		return nil
	}
	return m.ResetSuspiciousFunc(ctx)
}

// MockMonitor implements MonitorControl for testing
type MockMonitor struct {
	Active    bool
	Last      *time.Time
	SetErr    error
	Activated int
}

func (m *MockMonitor) Activate(ctx context.Context) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	m.Active = true
	m.Activated++
	return nil
}

func (m *MockMonitor) Deactivate(ctx context.Context) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	m.Active = false
	return nil
}

func (m *MockMonitor) IsActive(ctx context.Context) (bool, error) {
	return m.Active, nil
}

func (m *MockMonitor) LastCheck(ctx context.Context) (*time.Time, error) {
	return m.Last, nil
}

// MockEventLog implements EventLog for testing
type MockEventLog struct {
	RecentFunc func(ctx context.Context, limit int) ([]*models.SecurityEvent, error)
}

func (m *MockEventLog) Recent(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	if m.RecentFunc == nil {
		return nil, nil
	}
	return m.RecentFunc(ctx, limit)
}

// MockSessionService implements SessionService for testing
type MockSessionService struct {
	LoginFunc  func(ctx context.Context, user identity.User) (models.DeviceLockState, error)
	LogoutFunc func(ctx context.Context) error
	EnrollFunc func(ctx context.Context) (string, error)
}

func (m *MockSessionService) Login(ctx context.Context, user identity.User) (models.DeviceLockState, error) {
	if m.LoginFunc == nil {
		return models.DeviceLockState{BlockReason: models.BlockReasonNone}, nil
	}
	return m.LoginFunc(ctx, user)
}

func (m *MockSessionService) Logout(ctx context.Context) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx)
}

func (m *MockSessionService) Enroll(ctx context.Context) (string, error) {
	if m.EnrollFunc == nil {
		return "", models.ErrNoSession
	}
	return m.EnrollFunc(ctx)
}
