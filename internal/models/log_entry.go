package models

import (
	"time"

	"gorm.io/datatypes"
)

// LogLevel tags a sync log entry
type LogLevel string

const (
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelError    LogLevel = "error"
	LevelConflict LogLevel = "conflict"
)

// Valid reports whether l is a known level
func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelConflict:
		return true
	}
	return false
}

// LogEntry is an append-only audit record. It is never updated.
type LogEntry struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	QueueTaskID *uint          `gorm:"index" json:"queue_task_id,omitempty"`
	Reference   string         `gorm:"type:varchar(128);index" json:"reference,omitempty"`
	Message     string         `gorm:"type:text;not null" json:"message"`
	Level       LogLevel       `gorm:"type:varchar(16);not null;index" json:"level"`
	Context     datatypes.JSON `json:"context,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

// TableName specifies the table name
func (LogEntry) TableName() string {
	return "stocksync_logs"
}
