package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockReason_Message(t *testing.T) {
	tests := []struct {
		reason   BlockReason
		expected string
	}{
		{BlockReasonSuspiciousActivity, "Suspicious activity was detected on your device."},
		{BlockReasonRemoteLock, "Your device was locked remotely."},
		{BlockReasonTooManyFailedAttempts, "Too many failed unlock attempts."},
		{BlockReasonTest, "This is a test of the lock system."},
		{BlockReasonManualLock, "Your device was locked manually."},
		{BlockReason("something_new"), DefaultReasonMessage},
		{BlockReason(""), DefaultReasonMessage},
		{BlockReasonNone, DefaultReasonMessage},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.reason.Message())
		})
	}
}

func TestParseBlockReason(t *testing.T) {
	assert.Equal(t, BlockReasonNone, ParseBlockReason(""))
	assert.Equal(t, BlockReasonTest, ParseBlockReason("test"))
	assert.Equal(t, BlockReason("custom"), ParseBlockReason("custom"))
}

func TestDeviceLockState_State(t *testing.T) {
	assert.Equal(t, LockStateLocked, DeviceLockState{IsBlocked: true}.State())
	assert.Equal(t, LockStateUnlocked, DeviceLockState{}.State())
}

func TestSecuritySettings_Validate(t *testing.T) {
	s := DefaultSecuritySettings()
	assert.NoError(t, s.Validate())

	s.SuspiciousAttemptsThreshold = 0
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)

	s.SuspiciousAttemptsThreshold = 11
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)

	err := s.Validate()
	assert.ErrorIs(t, err, ErrInvalidSettings)
	assert.Contains(t, err.Error(), "SuspiciousAttemptsThreshold")

	s.SuspiciousAttemptsThreshold = 10
	assert.NoError(t, s.Validate())

	s.SuspiciousAttemptsThreshold = 1
	s.SyncFrequencyMinutes = 0
	assert.NoError(t, s.Validate())

	s.SyncFrequencyMinutes = -1
	err = s.Validate()
	assert.ErrorIs(t, err, ErrInvalidSettings)
	assert.Contains(t, err.Error(), "SyncFrequencyMinutes")
}

func TestEventDetails_ScanValue(t *testing.T) {
	d := EventDetails{"reason": "test", "attempt": float64(2)}
	v, err := d.Value()
	require.NoError(t, err)

	var out EventDetails
	require.NoError(t, out.Scan(v))
	assert.Equal(t, d, out)

	require.NoError(t, out.Scan(`{"k":"v"}`))
	assert.Equal(t, "v", out["k"])

	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out)

	assert.ErrorIs(t, out.Scan(42), ErrBadRequest)
}

func TestEventDetails_NilValue(t *testing.T) {
	var d EventDetails
	v, err := d.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)
}

func TestUserRecord_Validate(t *testing.T) {
	rec := &UserRecord{ID: "user-1", Email: "user@example.com", SecurityKey: "12345678901234567890"}
	assert.NoError(t, rec.Validate())

	rec.SecurityKey = "1234"
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)

	rec.SecurityKey = "1234567890123456789a"
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)

	rec.SecurityKey = ""
	rec.ID = ""
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)
}

func TestDeviceRecord_Validate(t *testing.T) {
	rec := &DeviceRecord{ID: "device-1", UserID: "user-1", LastOnline: time.Now()}
	assert.NoError(t, rec.Validate())

	rec.UserID = ""
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)
}

func TestSecurityEventRecord_Validate(t *testing.T) {
	rec := &SecurityEventRecord{
		SecurityEvent: SecurityEvent{ID: "e1", Type: EventDeviceBlocked, UserID: "u1", Severity: SeverityHigh},
		Collection:    EventCollectionGlobal,
	}
	assert.NoError(t, rec.Validate())

	rec.Collection = "elsewhere"
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)

	rec.Collection = EventCollectionUser
	rec.UserID = ""
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)
}

func TestValidateCommand(t *testing.T) {
	cmd := &RemoteCommand{ID: "c1", Type: CommandLock, DeviceID: "d1", UserID: "u1"}
	assert.NoError(t, ValidateCommand(cmd))

	cmd.Type = "reboot"
	assert.ErrorIs(t, ValidateCommand(cmd), ErrInvalidRecord)
}

func TestRemoteCommand_JSON(t *testing.T) {
	raw := `{"id":"c1","type":"unlock","deviceId":"d1","userId":"u1","status":"pending","params":{"securityKey":"12345678901234567890"}}`

	var cmd RemoteCommand
	require.NoError(t, json.Unmarshal([]byte(raw), &cmd))
	assert.Equal(t, CommandUnlock, cmd.Type)
	assert.Equal(t, "12345678901234567890", cmd.Params.SecurityKey)
	assert.False(t, cmd.IsTerminal())

	cmd.Status = CommandStatusFailed
	assert.True(t, cmd.IsTerminal())
}
