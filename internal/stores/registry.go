// Package stores is the registry of peer storefronts.
package stores

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no store matches a lookup
var ErrNotFound = errors.New("store not found")

// Registry reads and maintains the store table
type Registry struct {
	db       *gorm.DB
	selfURL  string
	allowAll bool
}

// NewRegistry creates a registry. selfURL identifies this installation's own row.
func NewRegistry(db *gorm.DB, selfURL string, allowAll bool) *Registry {
	if selfURL != "" {
		if n, err := NormalizeURL(selfURL); err == nil {
			selfURL = n
		} else {
			log.Printf("⚠️ Stores: ignoring invalid self URL %q: %v", selfURL, err)
			selfURL = ""
		}
	}
	return &Registry{db: db, selfURL: selfURL, allowAll: allowAll}
}

// StoreInput carries the editable fields of a store
type StoreInput struct {
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	SharedSecret string `json:"shared_secret"`
	SyncRole     string `json:"sync_role"`
	Active       *bool  `json:"active"`
	Priority     *int   `json:"priority"`
}

// Create registers a store, generating a shared secret when none is given
func (r *Registry) Create(ctx context.Context, in StoreInput) (*models.Store, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("store name is required")
	}
	baseURL, err := NormalizeURL(in.BaseURL)
	if err != nil {
		return nil, err
	}
	role, ok := models.ParseSyncRole(in.SyncRole)
	if !ok {
		return nil, fmt.Errorf("invalid sync role %q", in.SyncRole)
	}

	secret := in.SharedSecret
	if secret == "" {
		if secret, err = GenerateAPIKey(); err != nil {
			return nil, fmt.Errorf("failed to generate api key: %w", err)
		}
	}

	store := &models.Store{
		Name:         in.Name,
		BaseURL:      baseURL,
		SharedSecret: secret,
		SyncRole:     role,
		Active:       true,
	}
	if in.Active != nil {
		store.Active = *in.Active
	}
	if in.Priority != nil {
		if *in.Priority < 0 {
			return nil, fmt.Errorf("priority must be >= 0")
		}
		store.Priority = *in.Priority
	}

	if err := r.db.WithContext(ctx).Create(store).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("a store with URL %s already exists", baseURL)
		}
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return store, nil
}

// Update changes the fields present in the input
func (r *Registry) Update(ctx context.Context, id uint, in StoreInput) (*models.Store, error) {
	store, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		store.Name = in.Name
	}
	if in.BaseURL != "" {
		if store.BaseURL, err = NormalizeURL(in.BaseURL); err != nil {
			return nil, err
		}
	}
	if in.SharedSecret != "" {
		store.SharedSecret = in.SharedSecret
	}
	if in.SyncRole != "" {
		role, ok := models.ParseSyncRole(in.SyncRole)
		if !ok {
			return nil, fmt.Errorf("invalid sync role %q", in.SyncRole)
		}
		store.SyncRole = role
	}
	if in.Active != nil {
		store.Active = *in.Active
	}
	if in.Priority != nil {
		if *in.Priority < 0 {
			return nil, fmt.Errorf("priority must be >= 0")
		}
		store.Priority = *in.Priority
	}

	if err := r.db.WithContext(ctx).Save(store).Error; err != nil {
		return nil, fmt.Errorf("failed to update store %d: %w", id, err)
	}
	return store, nil
}

// Deactivate suspends sync to and from a store while keeping its history
func (r *Registry) Deactivate(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Store{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate store %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every store ordered by id
func (r *Registry) List(ctx context.Context) ([]models.Store, error) {
	var list []models.Store
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	return list, nil
}

// ListActive returns the active stores ordered by id
func (r *Registry) ListActive(ctx context.Context) ([]models.Store, error) {
	var list []models.Store
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list active stores: %w", err)
	}
	return list, nil
}

// GetByID looks up one store
func (r *Registry) GetByID(ctx context.Context, id uint) (*models.Store, error) {
	var store models.Store
	err := r.db.WithContext(ctx).First(&store, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load store %d: %w", id, err)
	}
	return &store, nil
}

// GetByIDs loads several stores in one query, keyed by id
func (r *Registry) GetByIDs(ctx context.Context, ids []uint) (map[uint]*models.Store, error) {
	out := make(map[uint]*models.Store, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var list []models.Store
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to load stores: %w", err)
	}
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

// GetByURL normalizes rawURL and looks the store up
func (r *Registry) GetByURL(ctx context.Context, rawURL string) (*models.Store, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	var store models.Store
	err = r.db.WithContext(ctx).Where("base_url = ?", normalized).First(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load store %s: %w", normalized, err)
	}
	return &store, nil
}

// CurrentStore returns this installation's own registry row
func (r *Registry) CurrentStore(ctx context.Context) (*models.Store, error) {
	if r.selfURL == "" {
		return nil, ErrNotFound
	}
	return r.GetByURL(ctx, r.selfURL)
}

// SelfURL is the normalized public URL of this installation
func (r *Registry) SelfURL() string {
	return r.selfURL
}

// ValidateSyncAllowed applies the role matrix and the global override
func (r *Registry) ValidateSyncAllowed(source, target *models.Store) bool {
	return SyncAllowed(source, target, r.allowAll)
}

// TouchLastSync records a successful exchange with a store
func (r *Registry) TouchLastSync(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.Store{}).Where("id = ?", id).Update("last_sync_at", now).Error
	if err != nil {
		return fmt.Errorf("failed to update last sync for store %d: %w", id, err)
	}
	return nil
}

// RotateSecret replaces a store's shared secret and returns the new one
func (r *Registry) RotateSecret(ctx context.Context, id uint) (string, error) {
	secret, err := GenerateAPIKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	res := r.db.WithContext(ctx).Model(&models.Store{}).Where("id = ?", id).Update("shared_secret", secret)
	if res.Error != nil {
		return "", fmt.Errorf("failed to rotate secret for store %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", ErrNotFound
	}
	return secret, nil
}
