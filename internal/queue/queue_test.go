package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/stocksyncgo/internal/database/dbtest"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"gorm.io/gorm"
)

func newQueue(t *testing.T) (*Queue, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t).DB
	return New(db), db
}

func change(product, variant int64, target uint, qty float64) EnqueueRequest {
	return EnqueueRequest{
		ProductID:     product,
		VariantID:     variant,
		Reference:     "SKU-100",
		OldQuantity:   20,
		NewQuantity:   qty,
		OperationType: models.OpUpdate,
		SourceStoreID: 1,
		TargetStoreID: target,
	}
}

func liveCount(t *testing.T, db *gorm.DB, product, variant int64, target uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.QueueTask{}).
		Where("product_id = ? AND variant_id = ? AND target_store_id = ? AND status IN ?",
			product, variant, target, liveStatuses()).Count(&n).Error)
	return n
}

func TestEnqueueCoalesces(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)

	second := change(1, 0, 2, 12)
	second.OldQuantity = 15
	second.OperationType = models.OpOrder
	id, err := q.Enqueue(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first, id)

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 12.0, task.NewQuantity)
	assert.Equal(t, 15.0, task.OldQuantity)
	assert.Equal(t, models.OpOrder, task.OperationType)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, int64(1), liveCount(t, db, 1, 0, 2))

	// other target and other variant get their own rows
	other, err := q.Enqueue(ctx, change(1, 0, 3, 12))
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	variant, err := q.Enqueue(ctx, change(1, 5, 2, 12))
	require.NoError(t, err)
	assert.NotEqual(t, id, variant)
}

func TestEnqueueCoalescesIntoProcessingTask(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)
	require.NoError(t, q.Claim(ctx, id))

	again, err := q.Enqueue(ctx, change(1, 0, 2, 9))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// the in-flight delivery can no longer complete the superseded value
	assert.ErrorIs(t, q.Complete(ctx, id), ErrStale)

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, 9.0, task.NewQuantity)
	assert.Equal(t, int64(1), liveCount(t, db, 1, 0, 2))
}

func TestEnqueueValidates(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	bad := change(1, 0, 2, 1)
	bad.OperationType = "teleport"
	_, err := q.Enqueue(ctx, bad)
	assert.Error(t, err)

	_, err = q.Enqueue(ctx, change(1, 0, 0, 1))
	assert.Error(t, err)
}

func TestEnqueueAfterTerminalCreatesNewRow(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)
	require.NoError(t, q.Claim(ctx, id))
	require.NoError(t, q.Complete(ctx, id))

	next, err := q.Enqueue(ctx, change(1, 0, 2, 14))
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
}

func TestDequeuePendingIsFIFO(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	var ids []uint
	for i := int64(1); i <= 4; i++ {
		id, err := q.Enqueue(ctx, change(i, 0, 2, float64(i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, q.Claim(ctx, ids[1]))

	tasks, err := q.DequeuePending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, ids[0], tasks[0].ID)
	assert.Equal(t, ids[2], tasks[1].ID)
}

func TestTransitions(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)

	assert.ErrorIs(t, q.Complete(ctx, id), ErrStale, "complete requires a claim")
	assert.ErrorIs(t, q.Requeue(ctx, id, "x"), ErrStale)

	require.NoError(t, q.Claim(ctx, id))
	assert.ErrorIs(t, q.Claim(ctx, id), ErrStale)
	assert.ErrorIs(t, q.Skip(ctx, id, "x"), ErrStale, "skip only from pending")

	require.NoError(t, q.Requeue(ctx, id, "timeout"))
	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "timeout", task.ErrorMessage)

	require.NoError(t, q.Skip(ctx, id, "target store inactive"))
	task, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskSkipped, task.Status)
	assert.Equal(t, 1, task.Attempts, "skip consumes no attempt")

	assert.ErrorIs(t, q.Claim(ctx, 9999), ErrNotFound)
}

func TestClaimIsExclusive(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Claim(ctx, id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrStale)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRetryFailed(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()

	old, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, old, "attempts exhausted"))
	require.NoError(t, db.Model(&models.QueueTask{}).Where("id = ?", old).
		Update("updated_at", time.Now().UTC().Add(-48*time.Hour)).Error)

	recent, err := q.Enqueue(ctx, change(2, 0, 2, 15))
	require.NoError(t, err)
	require.NoError(t, q.Claim(ctx, recent))
	require.NoError(t, q.Requeue(ctx, recent, "timeout"))
	require.NoError(t, q.Fail(ctx, recent, "attempts exhausted"))

	// a failed task whose triple already has a live task stays failed
	blocked, err := q.Enqueue(ctx, change(3, 0, 2, 15))
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, blocked, "attempts exhausted"))
	_, err = q.Enqueue(ctx, change(3, 0, 2, 16))
	require.NoError(t, err)

	n, err := q.RetryFailed(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	task, err := q.Get(ctx, recent)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Zero(t, task.Attempts)
	assert.Equal(t, "Retry after failure", task.ErrorMessage)

	task, err = q.Get(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)

	task, err = q.Get(ctx, blocked)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, int64(1), liveCount(t, db, 3, 0, 2))
}

func TestPurgeTerminal(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()

	done, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)
	require.NoError(t, q.Skip(ctx, done, "inactive"))

	live, err := q.Enqueue(ctx, change(2, 0, 2, 15))
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.QueueTask{}).Where("1 = 1").
		Update("updated_at", time.Now().UTC().Add(-72*time.Hour)).Error)

	n, err := q.PurgeTerminal(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, done)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = q.Get(ctx, live)
	assert.NoError(t, err)
}

func TestByReferenceAndRecent(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, change(1, 0, 3, 15))
	require.NoError(t, err)
	require.NoError(t, q.Skip(ctx, b, "inactive"))

	other := change(9, 0, 2, 1)
	other.Reference = "OTHER"
	_, err = q.Enqueue(ctx, other)
	require.NoError(t, err)

	live, err := q.ByReference(ctx, "SKU-100")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, a, live[0].ID)

	all, err := q.ByReference(ctx, "SKU-100", models.TaskPending, models.TaskSkipped)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	recent, err := q.Recent(ctx, 10, models.TaskSkipped)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, b, recent[0].ID)
}

func TestStatisticsCacheInvalidatedByWrites(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	var notified []models.TaskStatus
	q.Notify = func(task *models.QueueTask) { notified = append(notified, task.Status) }

	id, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)

	s, err := q.Statistics(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Pending: 1}, s)

	require.NoError(t, q.Claim(ctx, id))
	require.NoError(t, q.Complete(ctx, id))

	s, err = q.Statistics(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Total)
	assert.Equal(t, int64(1), s.Completed)
	assert.Zero(t, s.Pending)

	assert.Equal(t, []models.TaskStatus{models.TaskPending, models.TaskProcessing, models.TaskCompleted}, notified)
}

func TestCoalesceGivesNewChangeFreshAttempts(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Claim(ctx, id))
		require.NoError(t, q.Requeue(ctx, id, "timeout"))
	}
	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 3, task.Attempts)

	again, err := q.Enqueue(ctx, change(1, 0, 2, 11))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	task, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, task.Attempts)
	assert.Empty(t, task.ErrorMessage)
	assert.Equal(t, 11.0, task.NewQuantity)
}

func TestReclaimStuck(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()

	stuck, err := q.Enqueue(ctx, change(1, 0, 2, 15))
	require.NoError(t, err)
	require.NoError(t, q.Claim(ctx, stuck))
	require.NoError(t, db.Model(&models.QueueTask{}).Where("id = ?", stuck).
		Update("updated_at", time.Now().UTC().Add(-time.Hour)).Error)

	fresh, err := q.Enqueue(ctx, change(2, 0, 2, 15))
	require.NoError(t, err)
	require.NoError(t, q.Claim(ctx, fresh))

	n, err := q.ReclaimStuck(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	task, err := q.Get(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "Delivery was interrupted", task.ErrorMessage)

	task, err = q.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, models.TaskProcessing, task.Status)

	pending, err := q.DequeuePending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stuck, pending[0].ID)
}
