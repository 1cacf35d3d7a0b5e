package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var recordValidator = validator.New()

// UserRecord is the remote per-user document
type UserRecord struct {
	ID               string            `json:"id" validate:"required"`
	Email            string            `json:"email" validate:"omitempty,email"`
	DeviceBlocked    bool              `json:"deviceBlocked"`
	BlockedAt        *time.Time        `json:"blockedAt,omitempty"`
	BlockReason      string            `json:"blockReason"`
	SecurityKey      string            `json:"securityKey" validate:"omitempty,numeric,len=20"`
	SecuritySettings *SecuritySettings `json:"securitySettings,omitempty"`
	DeviceIDs        []string          `json:"deviceIds"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Validate checks a record read from the remote store
func (u *UserRecord) Validate() error {
	if err := recordValidator.Struct(u); err != nil {
		return fmt.Errorf("%w: user %q: %v", ErrInvalidRecord, u.ID, err)
	}
	return nil
}

// UserPatch is a partial update of a UserRecord; nil fields are left untouched
type UserPatch struct {
	Email            *string
	DeviceBlocked    *bool
	BlockedAt        *time.Time
	ClearBlockedAt   bool
	BlockReason      *string
	SecurityKey      *string
	SecuritySettings *SecuritySettings
	AddDeviceID      *string
}

// DeviceStatus is the lock portion of a DeviceRecord
type DeviceStatus struct {
	IsBlocked   bool       `json:"isBlocked"`
	BlockedAt   *time.Time `json:"blockedAt,omitempty"`
	BlockReason string     `json:"blockReason"`
	IsOnline    bool       `json:"isOnline"`
}

// DeviceRecord is the remote per-device document
type DeviceRecord struct {
	ID           string       `json:"id" validate:"required"`
	UserID       string       `json:"userId" validate:"required"`
	Name         string       `json:"name"`
	Platform     string       `json:"platform"`
	Status       DeviceStatus `json:"status"`
	RegisteredAt time.Time    `json:"registeredAt"`
	LastOnline   time.Time    `json:"lastOnline"`
}

// Validate checks a record read from the remote store
func (d *DeviceRecord) Validate() error {
	if err := recordValidator.Struct(d); err != nil {
		return fmt.Errorf("%w: device %q: %v", ErrInvalidRecord, d.ID, err)
	}
	return nil
}

// Event collections in the remote store
const (
	EventCollectionUser   = "user"
	EventCollectionGlobal = "global"
)

// SecurityEventRecord is a SecurityEvent as stored remotely
type SecurityEventRecord struct {
	SecurityEvent
	Collection string    `json:"collection" validate:"required,oneof=user global"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate checks a record before it crosses the remote boundary
func (r *SecurityEventRecord) Validate() error {
	if r.ID == "" || r.Type == "" || r.UserID == "" {
		return fmt.Errorf("%w: security event missing id, type or user", ErrInvalidRecord)
	}
	if err := recordValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: security event %q: %v", ErrInvalidRecord, r.ID, err)
	}
	return nil
}

// ValidateCommand checks a remote command read from the store or the wire
func ValidateCommand(c *RemoteCommand) error {
	if err := recordValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: command %q: %v", ErrInvalidRecord, c.ID, err)
	}
	return nil
}
