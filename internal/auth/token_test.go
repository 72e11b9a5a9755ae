package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/xelth-com/stocksyncgo/internal/errors"
	"github.com/xelth-com/stocksyncgo/internal/models"
)

type fakeStores struct {
	stores []models.Store
	err    error
}

func (f fakeStores) ListActive(ctx context.Context) ([]models.Store, error) {
	return f.stores, f.err
}

var peers = fakeStores{stores: []models.Store{
	{ID: 1, Name: "A", SharedSecret: "secret-a"},
	{ID: 2, Name: "B", SharedSecret: "secret-b"},
	{ID: 3, Name: "Empty", SharedSecret: ""},
}}

func TestValidateSharedSecret(t *testing.T) {
	v := NewValidator(peers, Options{})
	ctx := context.Background()

	store, err := v.Validate(ctx, "secret-b")
	require.NoError(t, err)
	assert.Equal(t, uint(2), store.ID)

	store, err = v.Validate(ctx, "  secret-a\n")
	require.NoError(t, err)
	assert.Equal(t, uint(1), store.ID)

	for _, bad := range []string{"", "secret", "secret-c", "secret-a " + "x"} {
		_, err := v.Validate(ctx, bad)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken), bad)
	}
}

func TestValidateLegacyToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewValidator(peers, Options{Salt: "pepper", LegacyLifetime: 7 * 24 * time.Hour})
	v.now = func() time.Time { return now }
	ctx := context.Background()

	fresh := LegacyToken("secret-a", "pepper", now.Add(-time.Hour).Unix())
	store, err := v.Validate(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, uint(1), store.ID)

	tests := map[string]string{
		"expired":      LegacyToken("secret-a", "pepper", now.Add(-8*24*time.Hour).Unix()),
		"future":       LegacyToken("secret-a", "pepper", now.Add(time.Hour).Unix()),
		"wrong salt":   LegacyToken("secret-a", "salt", now.Unix()),
		"wrong store":  LegacyToken("secret-z", "pepper", now.Unix()),
		"empty secret": LegacyToken("", "pepper", now.Unix()),
		"garbage ts":   "abc.def",
		"three parts":  fresh + ".1",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(ctx, token)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
		})
	}

	// without a salt the legacy form is disabled
	plain := NewValidator(peers, Options{LegacyLifetime: 7 * 24 * time.Hour})
	plain.now = v.now
	_, err = plain.Validate(ctx, fresh)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
}

func TestValidateInsecureMode(t *testing.T) {
	v := NewValidator(peers, Options{Insecure: true})
	ctx := context.Background()

	store, err := v.Validate(ctx, "anything")
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = v.Validate(ctx, "secret-a")
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, uint(1), store.ID)

	_, err = v.Validate(ctx, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken), "empty token is rejected even in insecure mode")
}

func TestValidateStoreError(t *testing.T) {
	boom := errors.New("db down")
	v := NewValidator(fakeStores{err: boom}, Options{Insecure: true})

	_, err := v.Validate(context.Background(), "secret-a")
	assert.ErrorIs(t, err, boom)
}
