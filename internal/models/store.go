package models

import "time"

// SyncRole decides which peers a store may exchange quantities with
type SyncRole string

const (
	RolePrimary       SyncRole = "primary"
	RoleSecondary     SyncRole = "secondary"
	RoleBidirectional SyncRole = "bidirectional"
)

// ParseSyncRole accepts canonical role names and the legacy aliases
// still stored by older installations.
func ParseSyncRole(s string) (SyncRole, bool) {
	switch s {
	case "primary", "principal":
		return RolePrimary, true
	case "secondary", "secundaria":
		return RoleSecondary, true
	case "bidirectional", "":
		return RoleBidirectional, true
	}
	return "", false
}

// Store is one peer storefront taking part in synchronization
type Store struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"type:varchar(128);not null" json:"name"`
	BaseURL      string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_store_url" json:"base_url"`
	SharedSecret string     `gorm:"type:varchar(128);not null" json:"-"`
	SyncRole     SyncRole   `gorm:"type:varchar(16);not null" json:"sync_role"`
	Active       bool       `gorm:"not null;index:idx_store_active" json:"active"`
	Priority     int        `gorm:"not null;default:0" json:"priority"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name
func (Store) TableName() string {
	return "stocksync_stores"
}
