// Package reference maps merchant references to local catalog identifiers
// and maintains the cross-store mapping table.
package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/catalog"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/utils"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a reference matches neither namespace
var ErrNotFound = errors.New("reference not found")

// Resolution is the local identity of a reference
type Resolution struct {
	Kind      catalog.Kind `json:"kind"`
	ProductID int64        `json:"product_id"`
	VariantID int64        `json:"variant_id"`
	// Reference is the catalog's own spelling of the matched reference
	Reference string `json:"reference"`
}

// Resolver resolves references and owns the mapping table.
// Hits are kept in a TTL cache shared across calls. Misses are only
// remembered inside a scope created by WithScope, so a reference added to
// the catalog resolves on the next request.
type Resolver struct {
	db    *gorm.DB
	index catalog.ReferenceIndex
	cache *utils.TTLCache[string, Resolution]
}

// NewResolver creates a resolver with its own result cache
func NewResolver(db *gorm.DB, index catalog.ReferenceIndex, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		db:    db,
		index: index,
		cache: utils.NewTTLCache[string, Resolution](cacheTTL, 10000),
	}
}

// Normalize trims whitespace and applies Unicode NFC so visually equal
// references compare equal across stores.
func Normalize(ref string) string {
	return norm.NFC.String(strings.TrimSpace(ref))
}

type scopeKey struct{}

type scope struct {
	mu     sync.Mutex
	misses map[string]bool
}

// WithScope returns a context whose resolution misses are remembered until
// the request or batch carrying it ends.
func WithScope(ctx context.Context) context.Context {
	if _, ok := ctx.Value(scopeKey{}).(*scope); ok {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, &scope{misses: make(map[string]bool)})
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

func (s *scope) missed(ref string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.misses[ref]
}

func (s *scope) miss(ref string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.misses[ref] = true
	s.mu.Unlock()
}

// candidates lists the spellings tried for ref: the exact string, then the
// trimmed form, then its NFC and NFD forms.
func candidates(ref string) []string {
	trimmed := strings.TrimSpace(ref)
	out := make([]string, 0, 4)
	for _, c := range []string{ref, trimmed, norm.NFC.String(trimmed), norm.NFD.String(trimmed)} {
		if c == "" {
			continue
		}
		dup := false
		for _, o := range out {
			if o == c {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// Resolve looks a reference up among variants first, then products. The
// exact string is tried before its trimmed and Unicode-normalized forms.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Resolution, error) {
	if Normalize(ref) == "" {
		return nil, ErrNotFound
	}
	sc := scopeFrom(ctx)

	if res, ok := r.cache.Get(ref); ok {
		return &res, nil
	}
	if sc.missed(ref) {
		return nil, ErrNotFound
	}

	for _, c := range candidates(ref) {
		item, err := r.index.FindVariant(ctx, c)
		if err != nil {
			return nil, err
		}
		if item == nil {
			if item, err = r.index.FindProduct(ctx, c); err != nil {
				return nil, err
			}
		}
		if item == nil {
			continue
		}

		stored := item.Reference
		if stored == "" {
			stored = c
		}
		res := Resolution{Kind: item.Kind, ProductID: item.ProductID, VariantID: item.VariantID, Reference: stored}
		r.cache.Set(ref, res)
		return &res, nil
	}

	sc.miss(ref)
	return nil, ErrNotFound
}

// Invalidate drops the cached result for one reference
func (r *Resolver) Invalidate(ref string) {
	for _, c := range candidates(ref) {
		r.cache.Delete(c)
	}
}

// Reset drops every cached result. Called at batch boundaries.
func (r *Resolver) Reset() {
	r.cache.Reset()
}

// AllReferences lists every referenced product and variant
func (r *Resolver) AllReferences(ctx context.Context) ([]catalog.Item, error) {
	var all []catalog.Item
	err := r.index.EachReferenced(ctx, scanBatchSize, func(items []catalog.Item) error {
		all = append(all, items...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	return all, nil
}

// Mappings lists the mappings of a store pair
func (r *Resolver) Mappings(ctx context.Context, sourceID, targetID uint, activeOnly bool) ([]models.ReferenceMapping, error) {
	q := r.db.WithContext(ctx).Where("source_store_id = ? AND target_store_id = ?", sourceID, targetID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var list []models.ReferenceMapping
	if err := q.Order("reference ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}
	return list, nil
}

// Deactivate marks a mapping invalid without deleting it
func (r *Resolver) Deactivate(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.ReferenceMapping{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate mapping %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mapping %d not found", id)
	}
	return nil
}

// RecordSync stamps the mapping for a delivered reference, creating it on
// first use.
func (r *Resolver) RecordSync(ctx context.Context, ref string, sourceID, targetID uint, productID, variantID int64) error {
	now := time.Now().UTC()
	m := models.ReferenceMapping{
		Reference:       Normalize(ref),
		SourceStoreID:   sourceID,
		TargetStoreID:   targetID,
		SourceProductID: productID,
		SourceVariantID: variantID,
		TargetProductID: productID,
		TargetVariantID: variantID,
		Active:          true,
		LastSyncAt:      &now,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reference"}, {Name: "source_store_id"}, {Name: "target_store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_sync_at", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to record sync for %s: %w", ref, err)
	}
	return nil
}

// MappingStats summarizes the mapping table
type MappingStats struct {
	Total  int64          `json:"total"`
	Active int64          `json:"active"`
	Pairs  []PairMappings `json:"pairs"`
}

// PairMappings counts active mappings of one store pair
type PairMappings struct {
	SourceStoreID uint  `json:"source_store_id"`
	TargetStoreID uint  `json:"target_store_id"`
	Count         int64 `json:"count"`
}

// Statistics counts mappings overall and per store pair
func (r *Resolver) Statistics(ctx context.Context) (*MappingStats, error) {
	stats := &MappingStats{}
	db := r.db.WithContext(ctx).Model(&models.ReferenceMapping{})

	if err := db.Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count mappings: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.ReferenceMapping{}).Where("active = ?", true).Count(&stats.Active).Error; err != nil {
		return nil, fmt.Errorf("failed to count active mappings: %w", err)
	}
	err := r.db.WithContext(ctx).Model(&models.ReferenceMapping{}).
		Select("source_store_id, target_store_id, COUNT(*) AS count").
		Where("active = ?", true).
		Group("source_store_id, target_store_id").
		Order("source_store_id, target_store_id").
		Scan(&stats.Pairs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group mappings: %w", err)
	}
	return stats, nil
}
