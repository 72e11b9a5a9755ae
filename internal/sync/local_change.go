package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/xelth-com/stocksyncgo/internal/catalog"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/queue"
)

// LocalChangeResult lists the tasks a local change produced
type LocalChangeResult struct {
	Reference string       `json:"reference"`
	TaskIDs   []uint       `json:"task_ids"`
	Inline    []TaskDetail `json:"inline,omitempty"`
}

// HandleLocalChange implements catalog.ChangeSink. Errors are logged, never
// returned to the writer that changed the stock.
func (e *Engine) HandleLocalChange(ctx context.Context, ch catalog.Change) {
	if _, err := e.OnLocalChange(ctx, ch); err != nil {
		log.Printf("⚠️ Sync Engine: local change %d/%d not propagated: %v", ch.ProductID, ch.VariantID, err)
	}
}

// OnLocalChange enqueues one task per eligible active peer and, with inline
// delivery on, pushes each immediately through the same transitions the
// batch worker uses.
func (e *Engine) OnLocalChange(ctx context.Context, ch catalog.Change) (*LocalChangeResult, error) {
	if !e.cfg.Active || catalog.IsInbound(ctx) || ch.OldQty == ch.NewQty {
		return nil, nil
	}

	ref, err := e.index.ReferenceOf(ctx, ch.ProductID, ch.VariantID)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference: %w", err)
	}
	if ref == "" {
		if e.cfg.DebugMode {
			log.Printf("🪝 Product %d/%d has no reference, not synchronized", ch.ProductID, ch.VariantID)
		}
		return nil, nil
	}

	op := ch.OpType
	if !op.Valid() {
		op = models.OpUpdate
	}

	self := e.self(ctx)
	peers, err := e.registry.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	result := &LocalChangeResult{Reference: ref, TaskIDs: []uint{}}
	targets := make(map[uint]*models.Store)
	for i := range peers {
		peer := &peers[i]
		if e.isSelf(self, peer) || !e.registry.ValidateSyncAllowed(self, peer) {
			continue
		}
		id, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			ProductID:     ch.ProductID,
			VariantID:     ch.VariantID,
			Reference:     ref,
			OldQuantity:   ch.OldQty,
			NewQuantity:   ch.NewQty,
			OperationType: op,
			SourceStoreID: self.ID,
			TargetStoreID: peer.ID,
		})
		if err != nil {
			log.Printf("🔴 Sync Engine: %v", err)
			continue
		}
		result.TaskIDs = append(result.TaskIDs, id)
		targets[id] = peer
	}

	if !e.cfg.InlineDelivery {
		return result, nil
	}
	for _, id := range result.TaskIDs {
		task, err := e.queue.Get(ctx, id)
		if err != nil || task.Status != models.TaskPending {
			continue
		}
		result.Inline = append(result.Inline, e.dispatch(ctx, task, targets[id]))
	}
	return result, nil
}
