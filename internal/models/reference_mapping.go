package models

import "time"

// ReferenceMapping links one reference to store-local identifiers for a
// (source, target) store pair. Rows are deactivated, never deleted.
type ReferenceMapping struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Reference       string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_refmap_pair,priority:1" json:"reference"`
	SourceStoreID   uint       `gorm:"not null;uniqueIndex:idx_refmap_pair,priority:2" json:"source_store_id"`
	TargetStoreID   uint       `gorm:"not null;uniqueIndex:idx_refmap_pair,priority:3" json:"target_store_id"`
	SourceProductID int64      `gorm:"not null" json:"source_product_id"`
	SourceVariantID int64      `gorm:"not null;default:0" json:"source_variant_id"`
	TargetProductID int64      `gorm:"not null" json:"target_product_id"`
	TargetVariantID int64      `gorm:"not null;default:0" json:"target_variant_id"`
	Active          bool       `gorm:"not null;index" json:"active"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName specifies the table name
func (ReferenceMapping) TableName() string {
	return "stocksync_reference_mappings"
}
