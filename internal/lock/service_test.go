package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/BradenHooton/devicelock/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_PanicsOnNilDependency(t *testing.T) {
	assert.Panics(t, func() {
		NewService(nil, &MockMirror{}, &MockEvents{}, nil, &MockNotifier{}, "", slog.Default())
	})
}

func TestAttemptUnlock_CorrectKeyWithSpaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)

	result, err := f.svc.AttemptUnlock(ctx, "1234 5678 9012 3456 7890")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.FailedAttempts)
	assert.Equal(t, MsgUnlocked, result.Message)

	state, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.LockStateUnlocked, state.State())
	assert.Equal(t, 0, state.FailedAttempts)
	assert.Equal(t, models.BlockReasonNone, state.BlockReason)
	assert.Nil(t, state.BlockedAt)

	require.Len(t, f.events.ofType(models.EventDeviceUnblocked), 1)
	last := f.mirror.pushes[len(f.mirror.pushes)-1]
	assert.False(t, last.IsBlocked)
}

func TestAttemptUnlock_ResetsFailedAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.AttemptUnlock(ctx, "00000000000000000000")
		require.NoError(t, err)
	}
	n, err := f.svc.GetFailedAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	result, err := f.svc.AttemptUnlock(ctx, storedKey)
	require.NoError(t, err)
	assert.True(t, result.Success)

	n, err = f.svc.GetFailedAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAttemptUnlock_WrongKeyIncrementsByOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)

	for i := 1; i < models.MaxFailedAttempts; i++ {
		result, err := f.svc.AttemptUnlock(ctx, "99999999999999999999")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, i, result.FailedAttempts)

		state, err := f.svc.State(ctx)
		require.NoError(t, err)
		assert.True(t, state.IsBlocked)
		assert.Equal(t, models.BlockReasonTest, state.BlockReason)
		assert.Equal(t, i, state.FailedAttempts)
	}
}

func TestAttemptUnlock_SeverityEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)

	for i := 0; i < 4; i++ {
		_, err := f.svc.AttemptUnlock(ctx, "99999999999999999999")
		require.NoError(t, err)
	}

	failed := f.events.ofType(models.EventFailedUnlock)
	require.Len(t, failed, 4)
	assert.Equal(t, models.SeverityMedium, failed[0].Severity)
	assert.Equal(t, models.SeverityMedium, failed[1].Severity)
	assert.Equal(t, models.SeverityHigh, failed[2].Severity)
	assert.Equal(t, models.SeverityHigh, failed[3].Severity)
}

func TestAttemptUnlock_FiveWrongKeysEscalate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)

	var result models.UnlockResult
	var err error
	for i := 0; i < 5; i++ {
		result, err = f.svc.AttemptUnlock(ctx, "11111111111111111111")
		require.NoError(t, err)
	}

	assert.False(t, result.Success)
	assert.Equal(t, 5, result.FailedAttempts)
	assert.Equal(t, MsgTooManyFailed, result.Message)

	state, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsBlocked)
	assert.Equal(t, models.BlockReasonTooManyFailedAttempts, state.BlockReason)
	assert.Equal(t, 5, state.FailedAttempts)

	// further wrong keys stay at the cap
	result, err = f.svc.AttemptUnlock(ctx, "11111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, 5, result.FailedAttempts)
	n, _ := f.svc.GetFailedAttempts(ctx)
	assert.Equal(t, 5, n)

	// the correct key still unlocks
	result, err = f.svc.AttemptUnlock(ctx, storedKey)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestAttemptUnlock_EscalatesFromUnblockedCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)
	require.NoError(t, f.kv.Set(ctx, localstore.KeyFailedUnlockAttempts, "4"))

	result, err := f.svc.AttemptUnlock(ctx, "22222222222222222222")
	require.NoError(t, err)
	assert.Equal(t, 5, result.FailedAttempts)

	state, _ := f.svc.State(ctx)
	assert.Equal(t, models.BlockReasonTooManyFailedAttempts, state.BlockReason)
	require.Len(t, f.notifier.blocked, 2)
	assert.Equal(t, "too_many_failed_attempts", f.notifier.blocked[1].Reason)
}

func TestAttemptUnlock_MalformedKeyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)

	for _, key := range []string{"", "1234", "1234 5678 9012 3456 789", "123456789012345678901"} {
		_, err := f.svc.AttemptUnlock(ctx, key)
		assert.ErrorIs(t, err, models.ErrInvalidRecoveryKey, key)
	}

	n, err := f.svc.GetFailedAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.events.ofType(models.EventFailedUnlock))
	assert.Len(t, f.events.ofType(models.EventInvalidKeyInput), 4)
}

func TestAttemptUnlock_LeadingZerosAreSignificant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, localstore.KeySecurityKey, "00012345678901234567"))
	f.block(t)

	result, err := f.svc.AttemptUnlock(ctx, "12345678901234567000")
	require.NoError(t, err)
	assert.False(t, result.Success)

	result, err = f.svc.AttemptUnlock(ctx, "0001 2345 6789 0123 4567")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestAttemptUnlock_NotBlockedIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.AttemptUnlock(ctx, "99999999999999999999")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, MsgNotLocked, result.Message)
	assert.Empty(t, f.events.events)
}

func TestAttemptUnlock_FetchesKeyFromRemoteWhenMissing(t *testing.T) {
	mirror := &MockMirror{FetchUserRecordFunc: func(ctx context.Context, userID string) (*models.UserRecord, error) {
		return &models.UserRecord{ID: userID, SecurityKey: "55555555555555555555"}, nil
	}}
	f := newFixtureWithMirror(t, mirror)
	ctx := context.Background()
	require.NoError(t, f.kv.Remove(ctx, localstore.KeySecurityKey))
	f.block(t)

	result, err := f.svc.AttemptUnlock(ctx, "55555555555555555555")
	require.NoError(t, err)
	assert.True(t, result.Success)

	cached, _, _ := f.kv.Get(ctx, localstore.KeySecurityKey)
	assert.Equal(t, "55555555555555555555", cached)
}

func TestAttemptUnlock_NoKeyAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kv.Remove(ctx, localstore.KeySecurityKey))
	f.block(t)

	result, err := f.svc.AttemptUnlock(ctx, storedKey)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, MsgNoRecoveryKey, result.Message)

	n, _ := f.svc.GetFailedAttempts(ctx)
	assert.Equal(t, 0, n)
}

func TestAttemptUnlock_ConcurrentAttemptsDoNotLoseIncrements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AttemptUnlock(ctx, "33333333333333333333")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := f.svc.GetFailedAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestManualBlock_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.ManualBlock(ctx, "test"))
	first, _ := f.svc.State(ctx)

	require.NoError(t, f.svc.ManualBlock(ctx, "suspicious_activity"))
	second, err := f.svc.State(ctx)
	require.NoError(t, err)

	assert.True(t, first.IsBlocked)
	assert.True(t, second.IsBlocked)
	assert.Equal(t, models.BlockReasonSuspiciousActivity, second.BlockReason)
	require.NotNil(t, second.BlockedAt)
	assert.False(t, second.BlockedAt.Before(*first.BlockedAt))
}

func TestBlock_KeepsLockoutReasonAtCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t)

	for i := 0; i < models.MaxFailedAttempts; i++ {
		_, err := f.svc.AttemptUnlock(ctx, "11111111111111111111")
		require.NoError(t, err)
	}
	before, err := f.svc.State(ctx)
	require.NoError(t, err)
	require.Equal(t, models.BlockReasonTooManyFailedAttempts, before.BlockReason)

	require.NoError(t, f.svc.ManualBlock(ctx, "test"))

	state, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsBlocked)
	assert.Equal(t, models.BlockReasonTooManyFailedAttempts, state.BlockReason)
	assert.Equal(t, models.MaxFailedAttempts, state.FailedAttempts)
	require.NotNil(t, state.BlockedAt)
	assert.False(t, state.BlockedAt.Before(*before.BlockedAt))

	blocked := f.events.ofType(models.EventDeviceBlocked)
	last := blocked[len(blocked)-1]
	assert.Equal(t, "too_many_failed_attempts", last.Details["reason"])
	assert.Equal(t, "test", last.Details["requested_reason"])

	require.NoError(t, f.svc.Block(ctx, models.BlockReasonSuspiciousActivity, nil))
	state, _ = f.svc.State(ctx)
	assert.Equal(t, models.BlockReasonTooManyFailedAttempts, state.BlockReason)

	// an unblock clears the counter, so the next block takes its own reason
	require.NoError(t, f.svc.ManualUnblock(ctx))
	require.NoError(t, f.svc.ManualBlock(ctx, "test"))
	state, _ = f.svc.State(ctx)
	assert.Equal(t, models.BlockReasonTest, state.BlockReason)
}

func TestManualBlock_EmptyReasonIsManualLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.ManualBlock(ctx, ""))
	state, _ := f.svc.State(ctx)
	assert.Equal(t, models.BlockReasonManualLock, state.BlockReason)
}

func TestManualBlock_UnknownReasonPreserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.ManualBlock(ctx, "stolen"))
	state, _ := f.svc.State(ctx)
	assert.Equal(t, models.BlockReason("stolen"), state.BlockReason)
	assert.Equal(t, models.DefaultReasonMessage, state.BlockReason.Message())
}

func TestManualBlock_SideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.ManualBlock(ctx, "test"))

	blocked := f.events.ofType(models.EventDeviceBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, models.SeverityHigh, blocked[0].Severity)
	assert.Equal(t, "test", blocked[0].Details["reason"])

	require.Len(t, f.mirror.pushes, 1)
	assert.True(t, f.mirror.pushes[0].IsBlocked)
	assert.Equal(t, models.BlockReasonTest, f.mirror.pushes[0].BlockReason)

	require.Len(t, f.notifier.blocked, 1)
	assert.Equal(t, "test-device", f.notifier.blocked[0].Name)
}

func TestManualBlock_NoNotificationWhenDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	settings := models.DefaultSecuritySettings()
	settings.NotificationsEnabled = false
	_, err := f.svc.UpdateSettings(ctx, settings)
	require.NoError(t, err)

	require.NoError(t, f.svc.ManualBlock(ctx, "test"))
	assert.Empty(t, f.notifier.blocked)
}

func TestManualBlock_RemoteFailureStillLocks(t *testing.T) {
	users := &failingUserDocs{}
	mirror := remote.NewMirror(users, nil, nil, 50*time.Millisecond, slog.Default())
	defer mirror.Close()

	f := newFixtureWithMirror(t, mirror)
	ctx := context.Background()

	err := f.svc.ManualBlock(ctx, "test")
	require.NoError(t, err)

	blocked, err := f.svc.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)

	mirror.Wait()
	assert.Equal(t, 1, users.calls())
}

func TestManualUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// already unlocked: no-op success
	require.NoError(t, f.svc.ManualUnblock(ctx))
	assert.Empty(t, f.events.events)
	assert.Empty(t, f.mirror.pushes)

	f.block(t)
	_, _ = f.svc.AttemptUnlock(ctx, "99999999999999999999")
	_, _ = f.svc.IncrementSuspicious(ctx)

	require.NoError(t, f.svc.ManualUnblock(ctx))
	state, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsBlocked)
	assert.Equal(t, 0, state.FailedAttempts)

	count, _ := f.svc.SuspiciousCount(ctx)
	assert.Equal(t, 0, count)

	require.NoError(t, f.svc.ManualUnblock(ctx))
	assert.Len(t, f.events.ofType(models.EventDeviceUnblocked), 1)
}

func TestGetRecoveryKeyDisplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	display, err := f.svc.GetRecoveryKeyDisplay(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1234 5678 9012 3456 7890", display)

	require.NoError(t, f.kv.Remove(ctx, localstore.KeySecurityKey))
	_, err = f.svc.GetRecoveryKeyDisplay(ctx)
	assert.ErrorIs(t, err, models.ErrNoRecoveryKey)
}

func TestCacheRecoveryKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.CacheRecoveryKey(ctx, "123"), models.ErrInvalidRecoveryKey)
	require.NoError(t, f.svc.CacheRecoveryKey(ctx, "9999 8888 7777 6666 5555"))

	cached, _, _ := f.kv.Get(ctx, localstore.KeySecurityKey)
	assert.Equal(t, "99998888777766665555", cached)
}

func TestReconcile_RemoteBlockWins(t *testing.T) {
	blockedAt := time.Now().Add(-time.Hour).UTC()
	mirror := &MockMirror{FetchUserRecordFunc: func(ctx context.Context, userID string) (*models.UserRecord, error) {
		return &models.UserRecord{
			ID: userID, DeviceBlocked: true, BlockReason: "remote_lock", BlockedAt: &blockedAt,
			SecurityKey: storedKey,
		}, nil
	}}
	f := newFixtureWithMirror(t, mirror)
	ctx := context.Background()

	state, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.LockStateLocked, state.State())
	assert.Equal(t, models.BlockReasonRemoteLock, state.BlockReason)
	require.NotNil(t, state.BlockedAt)
	assert.True(t, blockedAt.Equal(*state.BlockedAt))

	lastSync, _ := localstore.GetTime(ctx, f.kv, localstore.KeyLastSync)
	assert.NotNil(t, lastSync)
	assert.Len(t, f.events.ofType(models.EventStateReconciled), 1)
}

func TestReconcile_RemoteBlockWithoutReason(t *testing.T) {
	mirror := &MockMirror{FetchUserRecordFunc: func(ctx context.Context, userID string) (*models.UserRecord, error) {
		return &models.UserRecord{ID: userID, DeviceBlocked: true}, nil
	}}
	f := newFixtureWithMirror(t, mirror)

	state, err := f.svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.BlockReasonRemoteCommand, state.BlockReason)
}

func TestReconcile_LocalBlockIsKeptAndPushed(t *testing.T) {
	mirror := &MockMirror{FetchUserRecordFunc: func(ctx context.Context, userID string) (*models.UserRecord, error) {
		return &models.UserRecord{ID: userID, DeviceBlocked: false}, nil
	}}
	f := newFixtureWithMirror(t, mirror)
	ctx := context.Background()
	f.block(t)
	pushesBefore := len(mirror.pushes)

	state, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsBlocked)
	assert.Equal(t, models.BlockReasonTest, state.BlockReason)
	require.Len(t, mirror.pushes, pushesBefore+1)
	assert.True(t, mirror.pushes[pushesBefore].IsBlocked)
}

func TestReconcile_RemoteUnavailableKeepsLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsBlocked)
}

func TestReconcile_SyncsSettings(t *testing.T) {
	remoteSettings := models.DefaultSecuritySettings()
	remoteSettings.Enabled = true
	remoteSettings.SuspiciousAttemptsThreshold = 7
	mirror := &MockMirror{FetchUserRecordFunc: func(ctx context.Context, userID string) (*models.UserRecord, error) {
		return &models.UserRecord{ID: userID, SecuritySettings: &remoteSettings}, nil
	}}
	f := newFixtureWithMirror(t, mirror)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)

	settings, err := f.svc.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.Enabled)
	assert.Equal(t, 7, settings.SuspiciousAttemptsThreshold)
}

// failingUserDocs always fails writes
type failingUserDocs struct {
	mu sync.Mutex
	n  int
}

func (f *failingUserDocs) ReadUserDoc(ctx context.Context, id string) (*models.UserRecord, error) {
	return nil, errors.New("network unreachable")
}

func (f *failingUserDocs) UpdateUserDoc(ctx context.Context, id string, patch models.UserPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return errors.New("network unreachable")
}

func (f *failingUserDocs) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}
