package models

import "time"

// MaxFailedAttempts is the number of consecutive wrong recovery keys that
// forces a too_many_failed_attempts block.
const MaxFailedAttempts = 5

// BlockReason records why the last block occurred
type BlockReason string

const (
	BlockReasonNone                  BlockReason = "none"
	BlockReasonSuspiciousActivity    BlockReason = "suspicious_activity"
	BlockReasonRemoteCommand         BlockReason = "remote_command"
	BlockReasonRemoteLock            BlockReason = "remote_lock"
	BlockReasonManualLock            BlockReason = "manual_lock"
	BlockReasonTooManyFailedAttempts BlockReason = "too_many_failed_attempts"
	BlockReasonTest                  BlockReason = "test"
)

// reasonMessages maps reason codes to the text shown on the lock screen
var reasonMessages = map[BlockReason]string{
	BlockReasonSuspiciousActivity:    "Suspicious activity was detected on your device.",
	BlockReasonRemoteLock:            "Your device was locked remotely.",
	BlockReasonRemoteCommand:         "Your device was locked remotely.",
	BlockReasonTooManyFailedAttempts: "Too many failed unlock attempts.",
	BlockReasonTest:                  "This is a test of the lock system.",
	BlockReasonManualLock:            "Your device was locked manually.",
}

// DefaultReasonMessage is shown for unknown or empty reason codes
const DefaultReasonMessage = "The security protocol has been activated."

// Message returns the user-facing text for the reason. Unknown codes fall
// back to DefaultReasonMessage.
func (r BlockReason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return DefaultReasonMessage
}

// String implements fmt.Stringer
func (r BlockReason) String() string {
	return string(r)
}

// ParseBlockReason converts a stored reason code. Empty input maps to none;
// anything else is preserved so unknown remote codes survive a round trip.
func ParseBlockReason(s string) BlockReason {
	if s == "" {
		return BlockReasonNone
	}
	return BlockReason(s)
}

// LockState is UNLOCKED or LOCKED
type LockState string

const (
	LockStateUnlocked LockState = "UNLOCKED"
	LockStateLocked   LockState = "LOCKED"
)

// DeviceLockState is the authoritative lock status for one device
type DeviceLockState struct {
	IsBlocked      bool        `json:"isBlocked"`
	BlockReason    BlockReason `json:"blockReason"`
	BlockedAt      *time.Time  `json:"blockedAt,omitempty"`
	FailedAttempts int         `json:"failedAttempts"`
}

// State returns the state machine state for the flag
func (s DeviceLockState) State() LockState {
	if s.IsBlocked {
		return LockStateLocked
	}
	return LockStateUnlocked
}

// UnlockResult is returned to the UI for every unlock attempt
type UnlockResult struct {
	Success        bool   `json:"success"`
	FailedAttempts int    `json:"failedAttempts"`
	Message        string `json:"message"`
}
