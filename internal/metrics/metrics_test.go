package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubState struct {
	state models.DeviceLockState
	err   error
}

func (s stubState) State(ctx context.Context) (models.DeviceLockState, error) {
	return s.state, s.err
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.BlockRecorded("test")
	m.BlockRecorded("test")
	m.UnlockAttempt("failure")
	m.MonitorTick("no_data")
	m.RemoteWriteFailed("update_user_lock_state")
	m.CommandProcessed("lock", "completed")

	body := scrape(t, m)
	assert.Contains(t, body, `devicelock_blocks_total{reason="test"} 2`)
	assert.Contains(t, body, `devicelock_unlock_attempts_total{outcome="failure"} 1`)
	assert.Contains(t, body, `devicelock_monitor_ticks_total{outcome="no_data"} 1`)
	assert.Contains(t, body, `devicelock_remote_write_failures_total{op="update_user_lock_state"} 1`)
	assert.Contains(t, body, `devicelock_remote_commands_total{status="completed",type="lock"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_LockStateCollector(t *testing.T) {
	m := New()
	m.WatchState(stubState{state: models.DeviceLockState{
		IsBlocked: true, BlockReason: models.BlockReasonTooManyFailedAttempts, FailedAttempts: 5,
	}})

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `devicelock_blocked{reason="too_many_failed_attempts"} 1`))
	assert.True(t, strings.Contains(body, "devicelock_failed_unlock_attempts 5"))
}

func TestMetrics_LockStateCollectorSkipsOnError(t *testing.T) {
	m := New()
	m.WatchState(stubState{err: errors.New("store closed")})

	assert.False(t, strings.Contains(scrape(t, m), "devicelock_blocked{"))
}
