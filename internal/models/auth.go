package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in TokenClaims.Type
const (
	TokenTypeAccess = "access"
	TokenTypeDevice = "device"
)

// TokenClaims identifies the signed-in user presenting a bearer token
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
