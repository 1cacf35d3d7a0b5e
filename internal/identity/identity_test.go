package identity

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewProvider(store)
}

func TestProvider_Session(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	_, err := p.CurrentUser(ctx)
	assert.ErrorIs(t, err, models.ErrNoSession)
	assert.Empty(t, p.CurrentUserID(ctx))

	require.NoError(t, p.SetUser(ctx, User{ID: "user-1", Email: "user@example.com"}))
	u, err := p.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.ID)
	assert.Equal(t, "user@example.com", u.Email)

	require.NoError(t, p.Clear(ctx))
	assert.Empty(t, p.CurrentUserID(ctx))
}

func TestProvider_DeviceIDIsStable(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	first, err := p.DeviceID(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "device-"))

	second, err := p.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
