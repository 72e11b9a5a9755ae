// Package queue is the durable work queue of stock propagation tasks.
//
// At most one pending or processing task exists per (product, variant,
// target) triple. New changes for the same triple overwrite the live task,
// so only the latest quantity is ever delivered. Every status change is a
// conditional update on the current status; a transition whose expected
// source status no longer holds affects zero rows and returns ErrStale.
package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/utils"
	"gorm.io/gorm"
)

const (
	// maxRowsPerCall bounds bulk retry and purge statements
	maxRowsPerCall = 1000
	// maxByReference bounds the conflict lookup
	maxByReference = 500
	statsTTL       = 30 * time.Second
)

var (
	// ErrNotFound is returned for an unknown task id
	ErrNotFound = stderrors.New("queue task not found")
	// ErrStale is returned when a task is no longer in the expected status
	ErrStale = stderrors.New("queue task is not in the expected status")
)

// Queue is the gorm-backed sync queue
type Queue struct {
	db    *gorm.DB
	stats *utils.TTLCache[int, Stats]

	// Notify, when set, receives every task after a successful write
	Notify func(task *models.QueueTask)
}

// New creates a queue over db
func New(db *gorm.DB) *Queue {
	return &Queue{
		db:    db,
		stats: utils.NewTTLCache[int, Stats](statsTTL, 64),
	}
}

// EnqueueRequest describes one local change destined for one peer
type EnqueueRequest struct {
	ProductID     int64
	VariantID     int64
	Reference     string
	OldQuantity   float64
	NewQuantity   float64
	OperationType models.OperationType
	SourceStoreID uint
	TargetStoreID uint
}

// Enqueue inserts a task or coalesces into the live task for the same triple.
// It returns the id of the row that now carries the change.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (uint, error) {
	if req.OperationType == "" {
		req.OperationType = models.OpUpdate
	}
	if !req.OperationType.Valid() {
		return 0, fmt.Errorf("invalid operation type %q", req.OperationType)
	}
	if req.TargetStoreID == 0 {
		return 0, fmt.Errorf("target store is required")
	}

	var task models.QueueTask
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := q.coalesce(tx, req)
		if err != nil {
			return err
		}
		if id != 0 {
			return tx.First(&task, id).Error
		}

		task = models.QueueTask{
			ProductID:     req.ProductID,
			VariantID:     req.VariantID,
			Reference:     req.Reference,
			OldQuantity:   req.OldQuantity,
			NewQuantity:   req.NewQuantity,
			OperationType: req.OperationType,
			Status:        models.TaskPending,
			SourceStoreID: req.SourceStoreID,
			TargetStoreID: req.TargetStoreID,
		}
		return tx.Create(&task).Error
	})

	if err != nil && isUniqueViolation(err) {
		// another writer inserted the live row between our lookup and insert
		err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			id, err := q.coalesce(tx, req)
			if err != nil {
				return err
			}
			if id == 0 {
				return fmt.Errorf("live task vanished while coalescing")
			}
			return tx.First(&task, id).Error
		})
	}
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s for store %d: %w", req.Reference, req.TargetStoreID, err)
	}

	q.changed(&task)
	return task.ID, nil
}

// coalesce overwrites the live task for the triple, returning its id or 0.
// The newer change gets a fresh attempt budget.
func (q *Queue) coalesce(tx *gorm.DB, req EnqueueRequest) (uint, error) {
	var ids []uint
	err := tx.Model(&models.QueueTask{}).
		Where("product_id = ? AND variant_id = ? AND target_store_id = ? AND status IN ?",
			req.ProductID, req.VariantID, req.TargetStoreID, liveStatuses()).
		Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = tx.Model(&models.QueueTask{}).Where("id = ?", ids[0]).Updates(map[string]interface{}{
		"reference":       req.Reference,
		"old_quantity":    req.OldQuantity,
		"new_quantity":    req.NewQuantity,
		"operation_type":  req.OperationType,
		"source_store_id": req.SourceStoreID,
		"status":          models.TaskPending,
		"attempts":        0,
		"error_message":   "",
		"updated_at":      time.Now().UTC(),
	}).Error
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// DequeuePending returns up to limit pending tasks in creation order
func (q *Queue) DequeuePending(ctx context.Context, limit int) ([]models.QueueTask, error) {
	if limit <= 0 {
		limit = 50
	}
	var tasks []models.QueueTask
	err := q.db.WithContext(ctx).Where("status = ?", models.TaskPending).
		Order("id ASC").Limit(limit).Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending tasks: %w", err)
	}
	return tasks, nil
}

// Claim moves a task from pending to processing. Only one caller can win.
func (q *Queue) Claim(ctx context.Context, id uint) error {
	return q.transition(ctx, id, []models.TaskStatus{models.TaskPending}, map[string]interface{}{
		"status": models.TaskProcessing,
	})
}

// Complete marks a claimed task delivered
func (q *Queue) Complete(ctx context.Context, id uint) error {
	return q.transition(ctx, id, []models.TaskStatus{models.TaskProcessing}, map[string]interface{}{
		"status":        models.TaskCompleted,
		"error_message": "",
	})
}

// Requeue returns a claimed task to pending after a failed delivery and
// consumes one attempt.
func (q *Queue) Requeue(ctx context.Context, id uint, reason string) error {
	return q.transition(ctx, id, []models.TaskStatus{models.TaskProcessing}, map[string]interface{}{
		"status":        models.TaskPending,
		"attempts":      gorm.Expr("attempts + 1"),
		"error_message": reason,
	})
}

// Fail marks a task terminally failed. Tasks whose attempts are exhausted
// are failed straight from pending without being claimed.
func (q *Queue) Fail(ctx context.Context, id uint, reason string) error {
	return q.transition(ctx, id, []models.TaskStatus{models.TaskPending, models.TaskProcessing}, map[string]interface{}{
		"status":        models.TaskFailed,
		"error_message": reason,
	})
}

// Skip marks a pending task skipped. No attempt is consumed.
func (q *Queue) Skip(ctx context.Context, id uint, reason string) error {
	return q.transition(ctx, id, []models.TaskStatus{models.TaskPending}, map[string]interface{}{
		"status":        models.TaskSkipped,
		"error_message": reason,
	})
}

func (q *Queue) transition(ctx context.Context, id uint, from []models.TaskStatus, values map[string]interface{}) error {
	values["updated_at"] = time.Now().UTC()

	res := q.db.WithContext(ctx).Model(&models.QueueTask{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to move task %d to %v: %w", id, values["status"], res.Error)
	}
	if res.RowsAffected != 1 {
		if _, err := q.Get(ctx, id); stderrors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStale
	}

	if q.Notify != nil {
		if task, err := q.Get(ctx, id); err == nil {
			q.changed(task)
			return nil
		}
	}
	q.stats.Reset()
	return nil
}

// Get loads one task
func (q *Queue) Get(ctx context.Context, id uint) (*models.QueueTask, error) {
	var task models.QueueTask
	err := q.db.WithContext(ctx).First(&task, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %d: %w", id, err)
	}
	return &task, nil
}

// ByReference returns tasks for a reference in the given statuses, newest
// first. With no statuses, pending and processing are used.
func (q *Queue) ByReference(ctx context.Context, ref string, statuses ...models.TaskStatus) ([]models.QueueTask, error) {
	if len(statuses) == 0 {
		statuses = liveStatuses()
	}
	var tasks []models.QueueTask
	err := q.db.WithContext(ctx).Where("reference = ? AND status IN ?", ref, statuses).
		Order("id DESC").Limit(maxByReference).Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks for %s: %w", ref, err)
	}
	return tasks, nil
}

// Recent returns the newest tasks, optionally of one status
func (q *Queue) Recent(ctx context.Context, limit int, status models.TaskStatus) ([]models.QueueTask, error) {
	if limit <= 0 {
		limit = 20
	}
	db := q.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	var tasks []models.QueueTask
	if err := db.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent tasks: %w", err)
	}
	return tasks, nil
}

// RetryFailed resets failed tasks updated within maxAge back to pending with
// a fresh attempt budget. A failed task whose triple already has a live task
// is left alone.
func (q *Queue) RetryFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	var ids []uint
	err := q.db.WithContext(ctx).Model(&models.QueueTask{}).
		Where("status = ? AND updated_at >= ?", models.TaskFailed, cutoff).
		Order("id DESC").Limit(maxRowsPerCall).Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select failed tasks: %w", err)
	}

	table := models.QueueTask{}.TableName()
	live := q.db.Table(table+" AS live").Select("1").
		Where("live.product_id = "+table+".product_id").
		Where("live.variant_id = "+table+".variant_id").
		Where("live.target_store_id = "+table+".target_store_id").
		Where("live.status IN ?", liveStatuses())

	var count int64
	for _, id := range ids {
		res := q.db.WithContext(ctx).Model(&models.QueueTask{}).
			Where("id = ? AND status = ? AND NOT EXISTS (?)", id, models.TaskFailed, live).
			Updates(map[string]interface{}{
				"status":        models.TaskPending,
				"attempts":      0,
				"error_message": "Retry after failure",
				"updated_at":    time.Now().UTC(),
			})
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				continue
			}
			return count, fmt.Errorf("failed to reset task %d: %w", id, res.Error)
		}
		count += res.RowsAffected
	}

	q.stats.Reset()
	return count, nil
}

// ReclaimStuck returns tasks left in processing for longer than olderThan to
// pending and consumes one attempt, since the delivery outcome is unknown.
func (q *Queue) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var ids []uint
	err := q.db.WithContext(ctx).Model(&models.QueueTask{}).
		Where("status = ? AND updated_at < ?", models.TaskProcessing, cutoff).
		Order("id ASC").Limit(maxRowsPerCall).Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select stuck tasks: %w", err)
	}

	var count int64
	for _, id := range ids {
		err := q.transition(ctx, id, []models.TaskStatus{models.TaskProcessing}, map[string]interface{}{
			"status":        models.TaskPending,
			"attempts":      gorm.Expr("attempts + 1"),
			"error_message": "Delivery was interrupted",
		})
		if stderrors.Is(err, ErrStale) || stderrors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// PurgeTerminal deletes completed, failed and skipped tasks last touched
// before olderThan ago.
func (q *Queue) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var ids []uint
	err := q.db.WithContext(ctx).Model(&models.QueueTask{}).
		Where("status IN ? AND updated_at < ?", terminalStatuses(), cutoff).
		Order("id ASC").Limit(maxRowsPerCall).Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select terminal tasks: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := q.db.WithContext(ctx).Where("id IN ? AND status IN ?", ids, terminalStatuses()).Delete(&models.QueueTask{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", res.Error)
	}
	q.stats.Reset()
	return res.RowsAffected, nil
}

func (q *Queue) changed(task *models.QueueTask) {
	q.stats.Reset()
	if q.Notify != nil {
		q.Notify(task)
	}
}

func liveStatuses() []models.TaskStatus {
	return []models.TaskStatus{models.TaskPending, models.TaskProcessing}
}

func terminalStatuses() []models.TaskStatus {
	return []models.TaskStatus{models.TaskCompleted, models.TaskFailed, models.TaskSkipped}
}

// isUniqueViolation recognizes duplicate-key errors from every supported driver
func isUniqueViolation(err error) bool {
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
