package models

import (
	"fmt"
	"time"
)

// SecuritySettings controls the background monitor for one user
type SecuritySettings struct {
	Enabled                     bool      `json:"enabled"`
	SuspiciousAttemptsThreshold int       `json:"suspiciousAttemptsThreshold" validate:"gte=1,lte=10"`
	AutoBlockEnabled            bool      `json:"autoBlockEnabled"`
	RemoteWipeEnabled           bool      `json:"remoteWipeEnabled"`
	NotificationsEnabled        bool      `json:"notificationsEnabled"`
	SyncFrequencyMinutes        int       `json:"syncFrequencyMinutes" validate:"gte=0"`
	LastChecked                 time.Time `json:"lastChecked"`
}

// DefaultSecuritySettings returns the settings used before the user saves any
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		Enabled:                     false,
		SuspiciousAttemptsThreshold: 3,
		AutoBlockEnabled:            true,
		RemoteWipeEnabled:           false,
		NotificationsEnabled:        true,
		SyncFrequencyMinutes:        15,
		LastChecked:                 time.Now().UTC(),
	}
}

// Validate checks the field ranges declared in the validate tags
func (s SecuritySettings) Validate() error {
	if err := recordValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}
