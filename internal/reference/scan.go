package reference

import (
	"context"
	"fmt"

	"github.com/xelth-com/stocksyncgo/internal/catalog"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"gorm.io/gorm"
)

const scanBatchSize = 100

// ScanResult reports one scan-and-map run
type ScanResult struct {
	TotalScanned    int      `json:"total_scanned"`
	NewMappings     int      `json:"new_mappings"`
	UpdatedMappings int      `json:"updated_mappings"`
	FailedMappings  int      `json:"failed_mappings"`
	Details         []string `json:"details,omitempty"`
}

// ScanAndMap upserts a mapping for every referenced catalog item for the
// (source, target) pair. Without force, existing active mappings are left
// untouched, so repeated runs are idempotent and resumable. Writes go out in
// batches of 100, each in its own transaction.
func (r *Resolver) ScanAndMap(ctx context.Context, sourceID, targetID uint, force bool) (*ScanResult, error) {
	existing, err := r.Mappings(ctx, sourceID, targetID, false)
	if err != nil {
		return nil, err
	}
	byRef := make(map[string]*models.ReferenceMapping, len(existing))
	for i := range existing {
		byRef[existing[i].Reference] = &existing[i]
	}

	result := &ScanResult{}
	seen := make(map[string]bool)

	err = r.index.EachReferenced(ctx, scanBatchSize, func(items []catalog.Item) error {
		var inserts, updates []*models.ReferenceMapping

		for _, item := range items {
			result.TotalScanned++
			ref := Normalize(item.Reference)
			if ref == "" {
				continue
			}
			if seen[ref] {
				result.FailedMappings++
				result.Details = append(result.Details, fmt.Sprintf("duplicate reference %s (%s %d/%d) skipped", ref, item.Kind, item.ProductID, item.VariantID))
				continue
			}
			seen[ref] = true

			if m, ok := byRef[ref]; ok {
				if m.Active && !force {
					continue
				}
				m.SourceProductID, m.SourceVariantID = item.ProductID, item.VariantID
				m.TargetProductID, m.TargetVariantID = item.ProductID, item.VariantID
				m.Active = true
				updates = append(updates, m)
				continue
			}

			inserts = append(inserts, &models.ReferenceMapping{
				Reference:       ref,
				SourceStoreID:   sourceID,
				TargetStoreID:   targetID,
				SourceProductID: item.ProductID,
				SourceVariantID: item.VariantID,
				TargetProductID: item.ProductID,
				TargetVariantID: item.VariantID,
				Active:          true,
			})
		}

		r.flush(ctx, inserts, updates, result)
		return ctx.Err()
	})
	if err != nil {
		return result, fmt.Errorf("scan aborted: %w", err)
	}
	return result, nil
}

// flush writes one batch. A failed batch is counted, not fatal.
func (r *Resolver) flush(ctx context.Context, inserts, updates []*models.ReferenceMapping, result *ScanResult) {
	if len(inserts) == 0 && len(updates) == 0 {
		return
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(inserts) > 0 {
			if err := tx.CreateInBatches(inserts, scanBatchSize).Error; err != nil {
				return fmt.Errorf("insert: %w", err)
			}
		}
		for _, m := range updates {
			if err := tx.Save(m).Error; err != nil {
				return fmt.Errorf("update %s: %w", m.Reference, err)
			}
		}
		return nil
	})
	if err != nil {
		result.FailedMappings += len(inserts) + len(updates)
		result.Details = append(result.Details, fmt.Sprintf("batch of %d failed: %v", len(inserts)+len(updates), err))
		return
	}

	result.NewMappings += len(inserts)
	result.UpdatedMappings += len(updates)
}
