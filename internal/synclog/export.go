package synclog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/models"
)

// Filter narrows a CSV export
type Filter struct {
	Level models.LogLevel
	Since time.Time
	Limit int
}

var csvHeader = []string{"id", "created_at", "level", "queue_task_id", "reference", "message"}

// ExportCSV writes matching entries oldest first
func (l *Logger) ExportCSV(ctx context.Context, w io.Writer, f Filter) error {
	q := l.db.WithContext(ctx).Order("id ASC")
	if f.Level != "" {
		q = q.Where("level = ?", f.Level)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var entries []models.LogEntry
	if err := q.Find(&entries).Error; err != nil {
		return fmt.Errorf("failed to load log entries for export: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		taskID := ""
		if e.QueueTaskID != nil {
			taskID = strconv.FormatUint(uint64(*e.QueueTaskID), 10)
		}
		record := []string{
			strconv.FormatUint(uint64(e.ID), 10),
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			string(e.Level),
			taskID,
			e.Reference,
			e.Message,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
