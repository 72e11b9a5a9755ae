package sync

import (
	"context"
	"log"
	"time"
)

// MaintenanceResult counts rows removed by one maintenance pass
type MaintenanceResult struct {
	LogsPrunedByAge   int64 `json:"logs_pruned_by_age"`
	LogsPrunedByCount int64 `json:"logs_pruned_by_count"`
	TasksPurged       int64 `json:"tasks_purged"`
	TasksReclaimed    int64 `json:"tasks_reclaimed"`
}

// stuckAfter is how long a task may stay in processing before it is handed
// back to pending. It is well above the five minute run budget.
const stuckAfter = 15 * time.Minute

// Maintain applies the log and queue retention settings
func (e *Engine) Maintain(ctx context.Context) (*MaintenanceResult, error) {
	res := &MaintenanceResult{}
	var err error

	if res.TasksReclaimed, err = e.queue.ReclaimStuck(ctx, stuckAfter); err != nil {
		return res, err
	}
	if res.TasksReclaimed > 0 {
		log.Printf("⚠️ Maintenance: returned %d interrupted task(s) to pending", res.TasksReclaimed)
	}
	if e.cfg.LogRetentionDays > 0 {
		if res.LogsPrunedByAge, err = e.log.PruneOlderThan(ctx, days(e.cfg.LogRetentionDays)); err != nil {
			return res, err
		}
	}
	if e.cfg.LogMaxEntries > 0 {
		if res.LogsPrunedByCount, err = e.log.PruneByCount(ctx, e.cfg.LogMaxEntries); err != nil {
			return res, err
		}
	}
	if e.cfg.QueueRetentionDays > 0 {
		if res.TasksPurged, err = e.queue.PurgeTerminal(ctx, days(e.cfg.QueueRetentionDays)); err != nil {
			return res, err
		}
	}

	if res.LogsPrunedByAge+res.LogsPrunedByCount+res.TasksPurged > 0 {
		log.Printf("🧹 Maintenance: pruned %d log entries, purged %d tasks",
			res.LogsPrunedByAge+res.LogsPrunedByCount, res.TasksPurged)
	}
	return res, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
