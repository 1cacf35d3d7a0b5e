package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// SecurityEventType classifies an entry in the security event log
type SecurityEventType string

const (
	EventSuspiciousActivity    SecurityEventType = "suspicious_activity"
	EventDeviceBlocked         SecurityEventType = "device_blocked"
	EventDeviceUnblocked       SecurityEventType = "device_unblocked"
	EventRemoteCommand         SecurityEventType = "remote_command"
	EventFailedUnlock          SecurityEventType = "failed_unlock"
	EventInvalidKeyInput       SecurityEventType = "invalid_key_input"
	EventSystemAlert           SecurityEventType = "system_alert"
	EventMonitoringActivated   SecurityEventType = "monitoring_activated"
	EventMonitoringDeactivated SecurityEventType = "monitoring_deactivated"
	EventStateReconciled       SecurityEventType = "state_reconciled"
)

// Severity of a security event
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SecurityEvent is an immutable audit record of a state transition
type SecurityEvent struct {
	ID          string            `json:"id"`
	Type        SecurityEventType `json:"type"`
	Description string            `json:"description"`
	Timestamp   time.Time         `json:"timestamp"`
	DeviceID    string            `json:"deviceId"`
	UserID      string            `json:"userId"`
	Severity    Severity          `json:"severity"`
	Details     EventDetails      `json:"details"`
}

// EventDetails holds additional context for security events
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSON columns
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSON columns
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(d))
}
