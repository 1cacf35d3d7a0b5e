package lock

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/BradenHooton/devicelock/internal/notify"
	"github.com/stretchr/testify/require"
)

const storedKey = "12345678901234567890"

// MockMirror records pushes and serves FetchUserRecordFunc
type MockMirror struct {
	mu                  sync.Mutex
	pushes              []models.DeviceLockState
	settings            []models.SecuritySettings
	FetchUserRecordFunc func(ctx context.Context, userID string) (*models.UserRecord, error)
}

func (m *MockMirror) PushLockState(ctx context.Context, userID, deviceID string, state models.DeviceLockState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, state)
}

func (m *MockMirror) PushSettings(ctx context.Context, userID string, settings models.SecuritySettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = append(m.settings, settings)
}

func (m *MockMirror) FetchUserRecord(ctx context.Context, userID string) (*models.UserRecord, error) {
	if m.FetchUserRecordFunc != nil {
		return m.FetchUserRecordFunc(ctx, userID)
	}
	return nil, models.ErrRemoteUnavailable
}

// MockEvents captures recorded events
type MockEvents struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (m *MockEvents) Record(ctx context.Context, typ models.SecurityEventType, severity models.Severity, description string, details models.EventDetails) *models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &models.SecurityEvent{Type: typ, Severity: severity, Description: description, Details: details}
	m.events = append(m.events, e)
	return e
}

func (m *MockEvents) ofType(typ models.SecurityEventType) []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SecurityEvent
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// MockNotifier captures blocked notifications
type MockNotifier struct {
	mu      sync.Mutex
	blocked []notify.DeviceInfo
}

func (m *MockNotifier) Blocked(ctx context.Context, email string, info notify.DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, info)
}

type fixture struct {
	svc      *Service
	kv       *localstore.SQLiteStore
	mirror   *MockMirror
	events   *MockEvents
	notifier *MockNotifier
	identity *identity.Provider
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithMirror(t, &MockMirror{})
}

func newFixtureWithMirror(t *testing.T, mirror Mirror) *fixture {
	t.Helper()

	kv, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	id := identity.NewProvider(kv)
	ctx := context.Background()
	require.NoError(t, id.SetUser(ctx, identity.User{ID: "user-1", Email: "user@example.com"}))
	require.NoError(t, kv.Set(ctx, localstore.KeySecurityKey, storedKey))

	events := &MockEvents{}
	notifier := &MockNotifier{}
	svc := NewService(kv, mirror, events, id, notifier, "test-device", slog.Default())

	f := &fixture{svc: svc, kv: kv, events: events, notifier: notifier, identity: id}
	if m, ok := mirror.(*MockMirror); ok {
		f.mirror = m
	}
	return f
}

func (f *fixture) block(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.ManualBlock(context.Background(), "test"))
}
