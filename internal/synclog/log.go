// Package synclog is the append-only audit trail of synchronization events.
package synclog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Publisher receives a copy of every entry written
type Publisher interface {
	Publish(eventType string, data interface{})
}

// Logger writes and queries sync log entries
type Logger struct {
	db         *gorm.DB
	maxEntries int
	debug      bool
	publisher  Publisher
}

// New creates a Logger. maxEntries <= 0 disables the count ceiling.
func New(db *gorm.DB, maxEntries int, debug bool) *Logger {
	return &Logger{db: db, maxEntries: maxEntries, debug: debug}
}

// SetPublisher attaches a live event sink
func (l *Logger) SetPublisher(p Publisher) {
	l.publisher = p
}

// Option decorates an entry before it is written
type Option func(*models.LogEntry)

// WithTask links the entry to a queue task
func WithTask(id uint) Option {
	return func(e *models.LogEntry) {
		if id != 0 {
			e.QueueTaskID = &id
		}
	}
}

// WithReference tags the entry with a product reference
func WithReference(ref string) Option {
	return func(e *models.LogEntry) { e.Reference = ref }
}

// WithContext attaches structured detail stored as JSON
func WithContext(fields map[string]interface{}) Option {
	return func(e *models.LogEntry) {
		if len(fields) == 0 {
			return
		}
		if raw, err := json.Marshal(fields); err == nil {
			e.Context = datatypes.JSON(raw)
		}
	}
}

// Info, Warning, Error and Conflict write an entry and never fail the caller.
func (l *Logger) Info(ctx context.Context, msg string, opts ...Option) {
	l.Log(ctx, models.LevelInfo, msg, opts...)
}

func (l *Logger) Warning(ctx context.Context, msg string, opts ...Option) {
	l.Log(ctx, models.LevelWarning, msg, opts...)
}

func (l *Logger) Error(ctx context.Context, msg string, opts ...Option) {
	l.Log(ctx, models.LevelError, msg, opts...)
}

func (l *Logger) Conflict(ctx context.Context, msg string, opts ...Option) {
	l.Log(ctx, models.LevelConflict, msg, opts...)
}

// Log writes an entry, reporting storage failures to the process log only
func (l *Logger) Log(ctx context.Context, level models.LogLevel, msg string, opts ...Option) {
	entry := &models.LogEntry{Level: level, Message: msg}
	for _, opt := range opts {
		opt(entry)
	}
	if err := l.Add(ctx, entry); err != nil {
		log.Printf("🔴 SyncLog: failed to write %s entry %q: %v", level, msg, err)
	}
}

// Add appends an entry after enforcing the count ceiling
func (l *Logger) Add(ctx context.Context, entry *models.LogEntry) error {
	if !entry.Level.Valid() {
		return fmt.Errorf("invalid log level %q", entry.Level)
	}

	if l.maxEntries > 0 {
		// keep room for the entry about to be written
		if _, err := l.PruneByCount(ctx, l.maxEntries-1); err != nil {
			return err
		}
	}

	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	if l.debug {
		log.Printf("📝 [%s] %s", entry.Level, entry.Message)
	}
	if l.publisher != nil {
		l.publisher.Publish("log", entry)
	}
	return nil
}

// PruneByCount keeps only the newest keep entries. Deleting by id ceiling is
// safe under concurrent appends.
func (l *Logger) PruneByCount(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	var ids []uint
	err := l.db.WithContext(ctx).Model(&models.LogEntry{}).
		Order("id DESC").Offset(keep).Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find log prune ceiling: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := l.db.WithContext(ctx).Where("id <= ?", ids[0]).Delete(&models.LogEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune log entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PruneOlderThan deletes entries older than the given age
func (l *Logger) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res := l.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.LogEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune old log entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Recent returns the newest entries, optionally restricted to one level
func (l *Logger) Recent(ctx context.Context, limit int, level models.LogLevel) ([]models.LogEntry, error) {
	q := l.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if level != "" {
		q = q.Where("level = ?", level)
	}

	var entries []models.LogEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load log entries: %w", err)
	}
	return entries, nil
}

// ByQueueTask returns the entries linked to one task, oldest first
func (l *Logger) ByQueueTask(ctx context.Context, taskID uint) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	err := l.db.WithContext(ctx).Where("queue_task_id = ?", taskID).Order("id ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load log entries for task %d: %w", taskID, err)
	}
	return entries, nil
}

// ByReference returns the newest entries tagged with a reference
func (l *Logger) ByReference(ctx context.Context, ref string, limit int) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	err := l.db.WithContext(ctx).Where("reference = ?", ref).Order("id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load log entries for %s: %w", ref, err)
	}
	return entries, nil
}

// Conflicts returns the newest conflict-level entries
func (l *Logger) Conflicts(ctx context.Context, limit int) ([]models.LogEntry, error) {
	return l.Recent(ctx, limit, models.LevelConflict)
}

// Stats counts entries per level inside a time window
type Stats struct {
	Total   int64                     `json:"total"`
	ByLevel map[models.LogLevel]int64 `json:"by_level"`
}

// Statistics counts entries written in the last window
func (l *Logger) Statistics(ctx context.Context, window time.Duration) (*Stats, error) {
	var rows []struct {
		Level models.LogLevel
		Count int64
	}
	err := l.db.WithContext(ctx).Model(&models.LogEntry{}).
		Select("level, COUNT(*) AS count").
		Where("created_at >= ?", time.Now().UTC().Add(-window)).
		Group("level").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute log statistics: %w", err)
	}

	stats := &Stats{ByLevel: map[models.LogLevel]int64{
		models.LevelInfo: 0, models.LevelWarning: 0, models.LevelError: 0, models.LevelConflict: 0,
	}}
	for _, r := range rows {
		stats.ByLevel[r.Level] = r.Count
		stats.Total += r.Count
	}
	return stats, nil
}
