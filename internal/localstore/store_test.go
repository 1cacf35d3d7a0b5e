package localstore

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "local.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_GetSetRemove(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, KeyDeviceBlocked)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, KeyDeviceBlocked, "true"))
	v, ok, err := store.Get(ctx, KeyDeviceBlocked)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	require.NoError(t, store.Set(ctx, KeyDeviceBlocked, "false"))
	v, _, _ = store.Get(ctx, KeyDeviceBlocked)
	assert.Equal(t, "false", v)

	require.NoError(t, store.Remove(ctx, KeyDeviceBlocked))
	_, ok, err = store.Get(ctx, KeyDeviceBlocked)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	store, err := Open(path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, KeySecurityKey, "12345678901234567890"))
	require.NoError(t, store.Close())

	store, err = Open(path, slog.Default())
	require.NoError(t, err)
	defer store.Close()

	v, ok, err := store.Get(ctx, KeySecurityKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12345678901234567890", v)
}

func TestSQLiteStore_SetMany(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, KeyBlockedAt, FormatTime(time.Now())))
	require.NoError(t, store.SetMany(ctx, map[string]string{
		KeyDeviceBlocked:        "false",
		KeyFailedUnlockAttempts: "0",
	}, KeyBlockedAt))

	blocked, err := GetBool(ctx, store, KeyDeviceBlocked)
	require.NoError(t, err)
	assert.False(t, blocked)

	_, ok, err := store.Get(ctx, KeyBlockedAt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_Increment(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n, err := store.Increment(ctx, KeyFailedUnlockAttempts, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Increment(ctx, KeyFailedUnlockAttempts, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := GetInt(ctx, store, KeyFailedUnlockAttempts)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestSQLiteStore_IncrementConcurrent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.Increment(ctx, KeySuspiciousCount, 1)
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for n := range results {
		assert.False(t, seen[n], "duplicate counter value %d", n)
		seen[n] = true
	}

	total, err := GetInt(ctx, store, KeySuspiciousCount)
	require.NoError(t, err)
	assert.Equal(t, workers, total)
}

func TestTypedAccessors_Defaults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	b, err := GetBool(ctx, store, KeyMonitoringActive)
	require.NoError(t, err)
	assert.False(t, b)

	n, err := GetInt(ctx, store, KeySuspiciousCount)
	require.NoError(t, err)
	assert.Zero(t, n)

	ts, err := GetTime(ctx, store, KeyLastMonitoringCheck)
	require.NoError(t, err)
	assert.Nil(t, ts)

	require.NoError(t, store.Set(ctx, KeyLastMonitoringCheck, "yesterday"))
	ts, err = GetTime(ctx, store, KeyLastMonitoringCheck)
	require.NoError(t, err)
	assert.Nil(t, ts)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Set(ctx, KeyLastMonitoringCheck, FormatTime(now)))
	ts, err = GetTime(ctx, store, KeyLastMonitoringCheck)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, now.Equal(*ts))
}

func TestSQLiteStore_Events(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-48 * time.Hour)
	for i, typ := range []models.SecurityEventType{models.EventFailedUnlock, models.EventDeviceBlocked, models.EventDeviceUnblocked} {
		require.NoError(t, store.AppendEvent(ctx, &models.SecurityEvent{
			ID:          string(typ),
			Type:        typ,
			Description: "event",
			Timestamp:   base.Add(time.Duration(i) * 24 * time.Hour),
			DeviceID:    "device-1",
			UserID:      "user-1",
			Severity:    models.SeverityHigh,
			Details:     models.EventDetails{"attempt": float64(i)},
		}))
	}

	events, err := store.RecentEvents(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventDeviceUnblocked, events[0].Type)
	assert.Equal(t, float64(2), events[0].Details["attempt"])

	other, err := store.RecentEvents(ctx, "user-2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	pruned, err := store.PruneEvents(ctx, base.Add(36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	events, err = store.RecentEvents(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
