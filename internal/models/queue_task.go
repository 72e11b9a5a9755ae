package models

import "time"

// TaskStatus is the lifecycle state of a queue task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// Valid reports whether s is a known status
func (s TaskStatus) Valid() bool {
	return s == TaskPending || s == TaskProcessing || s.Terminal()
}

// Terminal reports whether no further transition is expected
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// OperationType records what kind of local change produced a task
type OperationType string

const (
	OpUpdate            OperationType = "update"
	OpOrder             OperationType = "order"
	OpImport            OperationType = "import"
	OpProductUpdate     OperationType = "product_update"
	OpCombinationUpdate OperationType = "combination_update"
)

// Valid reports whether op is a known operation type
func (op OperationType) Valid() bool {
	switch op {
	case OpUpdate, OpOrder, OpImport, OpProductUpdate, OpCombinationUpdate:
		return true
	}
	return false
}

// QueueTask is one unit of work: push this quantity for this item to this store.
// At most one pending/processing row exists per (product, variant, target);
// the partial unique index is created by database.Migrate.
type QueueTask struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	ProductID     int64         `gorm:"not null;index:idx_queue_item,priority:1" json:"product_id"`
	VariantID     int64         `gorm:"not null;default:0;index:idx_queue_item,priority:2" json:"variant_id"`
	Reference     string        `gorm:"type:varchar(128);index" json:"reference"`
	OldQuantity   float64       `gorm:"not null" json:"old_quantity"`
	NewQuantity   float64       `gorm:"not null" json:"new_quantity"`
	OperationType OperationType `gorm:"type:varchar(32);not null" json:"operation_type"`
	Status        TaskStatus    `gorm:"type:varchar(16);not null;index" json:"status"`
	SourceStoreID uint          `gorm:"not null" json:"source_store_id"`
	TargetStoreID uint          `gorm:"not null;index:idx_queue_item,priority:3" json:"target_store_id"`
	Attempts      int           `gorm:"not null;default:0" json:"attempts"`
	ErrorMessage  string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time     `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"index" json:"updated_at"`
}

// TableName specifies the table name
func (QueueTask) TableName() string {
	return "stocksync_queue"
}
