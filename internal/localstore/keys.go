package localstore

// Persisted field names. Values are stored as strings: bools as
// "true"/"false", counters as decimal integers, timestamps as RFC 3339.
const (
	KeyDeviceBlocked        = "device_blocked"
	KeyBlockReason          = "block_reason"
	KeyBlockedAt            = "blocked_at"
	KeyFailedUnlockAttempts = "failed_unlock_attempts"
	KeyMonitoringActive     = "monitoring_active"
	KeyLastMonitoringCheck  = "last_monitoring_check"
	KeySecuritySettings     = "security_settings"
	KeySecurityKey          = "security_key"
	KeySuspiciousCount      = "suspicious_activity_count"
	KeyDeviceID             = "device_id"
	KeyLastSync             = "last_sync"
	KeyUserID               = "session_user_id"
	KeyUserEmail            = "session_user_email"

	// failed attempt count last seen by the monitor
	KeyMonitorSeenFailures = "monitor_seen_failed_attempts"
)
