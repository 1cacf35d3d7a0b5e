package identity

import (
	"context"
	"fmt"

	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/google/uuid"
)

// User is the account signed in on this device
type User struct {
	ID    string
	Email string
}

// Provider resolves the signed-in user and this device's id from the
// local store
type Provider struct {
	kv localstore.KV
}

func NewProvider(kv localstore.KV) *Provider {
	return &Provider{kv: kv}
}

// CurrentUser returns the signed-in user or ErrNoSession
func (p *Provider) CurrentUser(ctx context.Context) (*User, error) {
	id, ok, err := p.kv.Get(ctx, localstore.KeyUserID)
	if err != nil {
		return nil, err
	}
	if !ok || id == "" {
		return nil, models.ErrNoSession
	}

	email, _, err := p.kv.Get(ctx, localstore.KeyUserEmail)
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Email: email}, nil
}

// CurrentUserID returns the signed-in user's id, or "" when nobody is
// signed in or the store cannot be read
func (p *Provider) CurrentUserID(ctx context.Context) string {
	u, err := p.CurrentUser(ctx)
	if err != nil {
		return ""
	}
	return u.ID
}

// SetUser records the signed-in user
func (p *Provider) SetUser(ctx context.Context, u User) error {
	return p.kv.SetMany(ctx, map[string]string{
		localstore.KeyUserID:    u.ID,
		localstore.KeyUserEmail: u.Email,
	})
}

// Clear signs the user out locally
func (p *Provider) Clear(ctx context.Context) error {
	return p.kv.SetMany(ctx, nil, localstore.KeyUserID, localstore.KeyUserEmail)
}

// DeviceID returns this device's opaque id, creating and persisting one
// on first use
func (p *Provider) DeviceID(ctx context.Context) (string, error) {
	id, ok, err := p.kv.Get(ctx, localstore.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = "device-" + uuid.NewString()
	if err := p.kv.Set(ctx, localstore.KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
