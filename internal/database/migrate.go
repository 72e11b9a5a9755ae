package database

import (
	"fmt"
	"log"

	"github.com/xelth-com/stocksyncgo/internal/models"
)

// activeTaskIndex enforces one pending/processing task per item and target.
// Both postgres and sqlite support partial unique indexes.
const activeTaskIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_active_item
	ON stocksync_queue (product_id, variant_id, target_store_id)
	WHERE status IN ('pending', 'processing')`

// Migrate brings the schema up to date. It runs once at startup; the rest of
// the service assumes the tables exist and fails fast when they do not.
func (db *DB) Migrate() error {
	log.Println("🚀 Synchronizing database schema...")

	if err := db.DB.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	if err := db.Exec(activeTaskIndex).Error; err != nil {
		return fmt.Errorf("failed to create active task index: %w", err)
	}

	for _, m := range models.All() {
		if !db.Migrator().HasTable(m) {
			return fmt.Errorf("schema check failed: table for %T is missing", m)
		}
	}

	log.Println("✅ Schema synchronized successfully")
	return nil
}
