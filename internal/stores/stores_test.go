package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/stocksyncgo/internal/database/dbtest"
	"github.com/xelth-com/stocksyncgo/internal/models"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://shop.example.com/", "https://shop.example.com"},
		{"  shop.example.com  ", "https://shop.example.com"},
		{"https:/shop.example.com", "https://shop.example.com"},
		{"HTTP://Shop.Example.com:8080/store/", "http://shop.example.com:8080/store"},
		{"http://127.0.0.1:9000", "http://127.0.0.1:9000"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "   ", "ftp://files.example.com", "https://"} {
		_, err := NormalizeURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestSyncAllowedMatrix(t *testing.T) {
	p1 := &models.Store{ID: 1, SyncRole: models.RolePrimary}
	p2 := &models.Store{ID: 2, SyncRole: models.RolePrimary}
	s1 := &models.Store{ID: 3, SyncRole: models.RoleSecondary}
	s2 := &models.Store{ID: 4, SyncRole: models.RoleSecondary}
	b1 := &models.Store{ID: 5, SyncRole: models.RoleBidirectional}

	tests := []struct {
		name           string
		source, target *models.Store
		want           bool
	}{
		{"primary-primary", p1, p2, false},
		{"secondary-secondary", s1, s2, false},
		{"secondary-primary", s1, p1, true},
		{"primary-secondary", p1, s1, true},
		{"bidirectional-primary", b1, p1, true},
		{"primary-bidirectional", p1, b1, true},
		{"secondary-bidirectional", s2, b1, true},
		{"self", p1, p1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SyncAllowed(tt.source, tt.target, false))
			// symmetry
			assert.Equal(t, tt.want, SyncAllowed(tt.target, tt.source, false))
		})
	}

	assert.True(t, SyncAllowed(p1, p2, true), "override allows everything")
	assert.False(t, SyncAllowed(nil, p1, false))
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)

	tok, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.Len(t, tok, 64)
}

func TestRegistryCRUD(t *testing.T) {
	db := dbtest.Open(t)
	r := NewRegistry(db.DB, "https://a.example.com/", false)
	ctx := context.Background()

	a, err := r.Create(ctx, StoreInput{Name: "A", BaseURL: "a.example.com/", SyncRole: "principal"})
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com", a.BaseURL)
	assert.Equal(t, models.RolePrimary, a.SyncRole)
	assert.True(t, a.Active)
	assert.Len(t, a.SharedSecret, 32)

	inactive := false
	prio := 5
	b, err := r.Create(ctx, StoreInput{Name: "B", BaseURL: "https://b.example.com", SharedSecret: "k-b", SyncRole: "secondary", Active: &inactive, Priority: &prio})
	require.NoError(t, err)
	assert.False(t, b.Active)
	assert.Equal(t, 5, b.Priority)

	_, err = r.Create(ctx, StoreInput{Name: "dup", BaseURL: "https://a.example.com/"})
	assert.Error(t, err)
	_, err = r.Create(ctx, StoreInput{Name: "bad", BaseURL: "c.example.com", SyncRole: "leader"})
	assert.Error(t, err)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	self, err := r.CurrentStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, self.ID)

	byURL, err := r.GetByURL(ctx, "HTTPS://B.example.com/")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byURL.ID)

	on := true
	updated, err := r.Update(ctx, b.ID, StoreInput{Active: &on, SyncRole: "bidirectional"})
	require.NoError(t, err)
	assert.True(t, updated.Active)
	assert.Equal(t, models.RoleBidirectional, updated.SyncRole)
	assert.Equal(t, "k-b", updated.SharedSecret)

	batch, err := r.GetByIDs(ctx, []uint{a.ID, b.ID, 999})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	require.NoError(t, r.TouchLastSync(ctx, a.ID))
	a2, err := r.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, a2.LastSyncAt)

	secret, err := r.RotateSecret(ctx, a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.SharedSecret, secret)

	require.NoError(t, r.Deactivate(ctx, a.ID))
	assert.ErrorIs(t, r.Deactivate(ctx, 999), ErrNotFound)
	_, err = r.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "deactivation keeps the row")
}

func TestCurrentStoreWithoutSelfURL(t *testing.T) {
	db := dbtest.Open(t)
	r := NewRegistry(db.DB, "", false)
	_, err := r.CurrentStore(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
