package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Device lock errors
	ErrInvalidRecoveryKey = errors.New("recovery key must contain exactly 20 digits")
	ErrNoRecoveryKey      = errors.New("no recovery key cached on this device")
	ErrInvalidSettings    = errors.New("invalid security settings")
	ErrInvalidRecord      = errors.New("invalid remote record")

	// Session and remote command errors
	ErrNoSession          = errors.New("no user is signed in on this device")
	ErrUnsupportedCommand = errors.New("remote command is not supported")
	ErrRemoteUnavailable  = errors.New("remote store unavailable")
)
