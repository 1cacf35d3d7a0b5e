package models

import "time"

// RemoteCommandType is the action requested from another device or console
type RemoteCommandType string

const (
	CommandLock       RemoteCommandType = "lock"
	CommandUnlock     RemoteCommandType = "unlock"
	CommandWipe       RemoteCommandType = "wipe"
	CommandLocate     RemoteCommandType = "locate"
	CommandSoundAlarm RemoteCommandType = "sound_alarm"
	CommandTakePhoto  RemoteCommandType = "take_photo"
)

// RemoteCommandStatus tracks command execution
type RemoteCommandStatus string

const (
	CommandStatusPending   RemoteCommandStatus = "pending"
	CommandStatusExecuting RemoteCommandStatus = "executing"
	CommandStatusCompleted RemoteCommandStatus = "completed"
	CommandStatusFailed    RemoteCommandStatus = "failed"
)

// RemoteCommand is a queued instruction for one device
type RemoteCommand struct {
	ID         string              `json:"id" validate:"required"`
	Type       RemoteCommandType   `json:"type" validate:"required,oneof=lock unlock wipe locate sound_alarm take_photo"`
	DeviceID   string              `json:"deviceId" validate:"required"`
	UserID     string              `json:"userId" validate:"required"`
	Status     RemoteCommandStatus `json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
	ExecutedAt *time.Time          `json:"executedAt,omitempty"`
	Params     CommandParams       `json:"params,omitempty"`
	Result     *CommandResult      `json:"result,omitempty"`
}

// CommandParams carries optional command arguments
type CommandParams struct {
	SecurityKey string `json:"securityKey,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// CommandResult is persisted after execution
type CommandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsTerminal reports whether the command has finished executing
func (c *RemoteCommand) IsTerminal() bool {
	return c.Status == CommandStatusCompleted || c.Status == CommandStatusFailed
}
