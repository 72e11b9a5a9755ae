package queue

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/models"
	"gorm.io/gorm"
)

// latencySample bounds how many completed tasks feed the mean latency
const latencySample = 1000

// Stats summarizes the queue. Counts are per status; AvgCompletionSeconds is
// the mean created-to-completed time of recent completed tasks.
type Stats struct {
	Total                int64   `json:"total"`
	Pending              int64   `json:"pending"`
	Processing           int64   `json:"processing"`
	Completed            int64   `json:"completed"`
	Failed               int64   `json:"failed"`
	Skipped              int64   `json:"skipped"`
	AvgCompletionSeconds float64 `json:"avg_completion_time"`
}

// Statistics returns counts for tasks created within the last hours (0 means
// all time). Results are cached for 30 seconds; any queue write invalidates
// the cache.
func (q *Queue) Statistics(ctx context.Context, hours int) (Stats, error) {
	if s, ok := q.stats.Get(hours); ok {
		return s, nil
	}

	base := q.db.WithContext(ctx).Model(&models.QueueTask{})
	if hours > 0 {
		base = base.Where("created_at >= ?", time.Now().UTC().Add(-time.Duration(hours)*time.Hour))
	}

	var rows []struct {
		Status models.TaskStatus
		Count  int64
	}
	if err := base.Session(&gorm.Session{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	var s Stats
	for _, r := range rows {
		s.Total += r.Count
		switch r.Status {
		case models.TaskPending:
			s.Pending = r.Count
		case models.TaskProcessing:
			s.Processing = r.Count
		case models.TaskCompleted:
			s.Completed = r.Count
		case models.TaskFailed:
			s.Failed = r.Count
		case models.TaskSkipped:
			s.Skipped = r.Count
		}
	}

	if s.Completed > 0 {
		var done []struct {
			CreatedAt time.Time
			UpdatedAt time.Time
		}
		err := base.Session(&gorm.Session{}).Select("created_at, updated_at").
			Where("status = ?", models.TaskCompleted).
			Order("id DESC").Limit(latencySample).Scan(&done).Error
		if err != nil {
			return Stats{}, fmt.Errorf("failed to sample completion latency: %w", err)
		}
		var total time.Duration
		for _, d := range done {
			total += d.UpdatedAt.Sub(d.CreatedAt)
		}
		if len(done) > 0 {
			s.AvgCompletionSeconds = roundTo(total.Seconds()/float64(len(done)), 2)
		}
	}

	q.stats.Set(hours, s)
	return s, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
