package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/xelth-com/stocksyncgo/internal/errors"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/queue"
	"github.com/xelth-com/stocksyncgo/internal/synclog"
	"github.com/xelth-com/stocksyncgo/internal/transport"
)

// Outcome of handling one task
const (
	OutcomeCompleted = "completed"
	OutcomeRetry     = "pending"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	// OutcomeStale means another worker or a newer change got there first
	OutcomeStale = "stale"
)

// TaskDetail describes what happened to one task in a run
type TaskDetail struct {
	QueueID   uint   `json:"id_queue"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// RunResult aggregates one processQueue invocation
type RunResult struct {
	RunID    string        `json:"run_id"`
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Details  []TaskDetail  `json:"details"`
	Duration time.Duration `json:"duration"`
}

func (r *RunResult) add(d TaskDetail) {
	switch d.Status {
	case OutcomeCompleted:
		r.Success++
	case OutcomeFailed, OutcomeRetry:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
	r.Details = append(r.Details, d)
}

// ProcessQueue drains up to limit pending tasks, strictly sequentially in
// FIFO order. Failed deliveries go back to pending for a later pass.
func (e *Engine) ProcessQueue(ctx context.Context, limit int) (*RunResult, error) {
	if !e.cfg.Active {
		return nil, apperrors.New(apperrors.ErrModuleInactive, "Stock sync is not active")
	}
	if limit <= 0 {
		limit = e.cfg.BatchSize
	}

	start := time.Now()
	result := &RunResult{RunID: uuid.NewString(), Details: []TaskDetail{}}

	tasks, err := e.queue.DequeuePending(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return result, nil
	}

	// resolution results live for one batch
	e.resolver.Reset()

	ids := make([]uint, 0, len(tasks))
	seen := make(map[uint]bool)
	for _, t := range tasks {
		if !seen[t.TargetStoreID] {
			seen[t.TargetStoreID] = true
			ids = append(ids, t.TargetStoreID)
		}
	}
	targets, err := e.registry.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	log.Printf("🔄 Queue run %s: %d pending task(s)", result.RunID[:8], len(tasks))
	for i := range tasks {
		if ctx.Err() != nil {
			break
		}
		result.add(e.dispatch(ctx, &tasks[i], targets[tasks[i].TargetStoreID]))
	}
	result.Duration = time.Since(start)

	log.Printf("✅ Queue run %s: %d ok, %d failed, %d skipped in %v",
		result.RunID[:8], result.Success, result.Failed, result.Skipped, result.Duration)
	e.publish("queue_run", result)
	return result, nil
}

// dispatch moves one pending task through the state machine. It is shared
// by the batch worker and the inline local-change path.
func (e *Engine) dispatch(ctx context.Context, task *models.QueueTask, target *models.Store) TaskDetail {
	detail := TaskDetail{QueueID: task.ID, Reference: task.Reference}
	opts := []synclog.Option{synclog.WithTask(task.ID), synclog.WithReference(task.Reference)}

	if target == nil || !target.Active {
		detail.Message = "Target store is inactive or invalid"
		return e.settle(detail, OutcomeSkipped, e.queue.Skip(ctx, task.ID, detail.Message))
	}

	if task.Attempts >= e.cfg.RetryCount {
		detail.Message = "Exceeded maximum retry attempts"
		err := e.queue.Fail(ctx, task.ID, detail.Message)
		if err == nil {
			e.log.Error(ctx, fmt.Sprintf("Giving up on %s for store %s after %d attempts",
				task.Reference, target.Name, task.Attempts), opts...)
		}
		return e.settle(detail, OutcomeFailed, err)
	}

	if err := e.queue.Claim(ctx, task.ID); err != nil {
		detail.Message = "Task was claimed elsewhere"
		return e.settle(detail, OutcomeStale, err)
	}

	err := e.transport.Deliver(ctx, task, transport.PeerFromStore(target))

	// a claimed task must leave processing even when the run was cancelled
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		detail.Message = "Synchronization failed, will retry later"
		e.log.Error(ctx, fmt.Sprintf("Failed to sync stock for reference %s to store %s. Error: %v",
			task.Reference, target.Name, err), opts...)
		return e.settle(detail, OutcomeRetry, e.queue.Requeue(ctx, task.ID, truncate(err.Error(), 500)))
	}

	detail.Message = "Successfully synchronized"
	if err := e.queue.Complete(ctx, task.ID); err != nil {
		if !stderrors.Is(err, queue.ErrStale) {
			return e.settle(detail, OutcomeCompleted, err)
		}
		// a newer change was coalesced in while we delivered; it stays pending
		detail.Message = "Delivered; superseded by a newer change"
	}
	if err := e.resolver.RecordSync(ctx, task.Reference, task.SourceStoreID, task.TargetStoreID, task.ProductID, task.VariantID); err != nil {
		log.Printf("⚠️ Sync Engine: %v", err)
	}
	e.log.Info(ctx, fmt.Sprintf("Stock for %s synchronized to %s: %g", task.Reference, target.Name, task.NewQuantity), opts...)
	detail.Status = OutcomeCompleted
	return detail
}

// settle records the outcome unless the conditional transition lost a race
func (e *Engine) settle(detail TaskDetail, outcome string, err error) TaskDetail {
	switch {
	case err == nil:
		detail.Status = outcome
	case stderrors.Is(err, queue.ErrStale), stderrors.Is(err, queue.ErrNotFound):
		detail.Status = OutcomeStale
	default:
		log.Printf("🔴 Sync Engine: task %d: %v", detail.QueueID, err)
		detail.Status = OutcomeStale
		detail.Message = err.Error()
	}
	return detail
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
