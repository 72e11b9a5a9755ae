package sync

import (
	"context"
	"fmt"

	"github.com/xelth-com/stocksyncgo/internal/config"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/synclog"
)

// StoreLookup loads a store by id
type StoreLookup interface {
	GetByID(ctx context.Context, id uint) (*models.Store, error)
}

// Conflict is an inbound update racing local outbound tasks for one reference
type Conflict struct {
	Reference   string             `json:"reference"`
	CurrentQty  float64            `json:"current_quantity"`
	IncomingQty float64            `json:"incoming_quantity"`
	Pending     []models.QueueTask `json:"-"`
	Origin      *models.Store      `json:"-"`
}

// ConflictResolution is the outcome of a conflict
type ConflictResolution struct {
	Strategy string `json:"strategy"`
	Accept   bool   `json:"accept"`
	Reason   string `json:"reason"`
}

// ConflictResolver applies the configured strategy. Detection only sees
// local live tasks; two stores editing at once can both win locally and
// diverge until the next discrepancy audit.
type ConflictResolver struct {
	strategy string
	stores   StoreLookup
	log      *synclog.Logger
}

// NewConflictResolver creates a resolver. Unknown strategies fall back to
// last_update_wins.
func NewConflictResolver(strategy string, stores StoreLookup, logger *synclog.Logger) *ConflictResolver {
	switch strategy {
	case config.StrategyLastUpdateWins, config.StrategySourcePriority, config.StrategyManualResolution:
	default:
		strategy = config.StrategyLastUpdateWins
	}
	return &ConflictResolver{strategy: strategy, stores: stores, log: logger}
}

// Strategy returns the active strategy name
func (cr *ConflictResolver) Strategy() string {
	return cr.strategy
}

// ResolveConflict decides whether the incoming value may overwrite local stock
func (cr *ConflictResolver) ResolveConflict(ctx context.Context, c *Conflict) *ConflictResolution {
	switch cr.strategy {
	case config.StrategySourcePriority:
		return cr.resolveBySourcePriority(ctx, c)

	case config.StrategyManualResolution:
		// observational only: flag it and let the update through
		cr.log.Conflict(ctx,
			fmt.Sprintf("Manual conflict resolution required for reference %s. Current: %g, Incoming: %g",
				c.Reference, c.CurrentQty, c.IncomingQty),
			synclog.WithReference(c.Reference),
			synclog.WithTask(c.Pending[0].ID),
			synclog.WithContext(cr.contextOf(c)))
		return &ConflictResolution{
			Strategy: cr.strategy,
			Accept:   true,
			Reason:   "Conflict recorded for manual review; incoming update applied",
		}

	default:
		return &ConflictResolution{
			Strategy: config.StrategyLastUpdateWins,
			Accept:   true,
			Reason:   "Incoming update is the latest write",
		}
	}
}

// resolveBySourcePriority keeps the local pending change when the store it
// originates from has a positive priority.
func (cr *ConflictResolver) resolveBySourcePriority(ctx context.Context, c *Conflict) *ConflictResolution {
	sourceID := c.Pending[0].SourceStoreID
	source, err := cr.stores.GetByID(ctx, sourceID)
	if err != nil {
		return &ConflictResolution{
			Strategy: cr.strategy,
			Accept:   true,
			Reason:   fmt.Sprintf("Source store %d of the pending change is unknown", sourceID),
		}
	}

	if source.Priority > 0 {
		return &ConflictResolution{
			Strategy: cr.strategy,
			Accept:   false,
			Reason:   fmt.Sprintf("Pending change from %s (priority %d) takes precedence", source.Name, source.Priority),
		}
	}
	return &ConflictResolution{
		Strategy: cr.strategy,
		Accept:   true,
		Reason:   fmt.Sprintf("Pending change from %s has no priority", source.Name),
	}
}

func (cr *ConflictResolver) contextOf(c *Conflict) map[string]interface{} {
	ids := make([]uint, 0, len(c.Pending))
	for _, t := range c.Pending {
		ids = append(ids, t.ID)
	}
	fields := map[string]interface{}{
		"strategy":          cr.strategy,
		"current_quantity":  c.CurrentQty,
		"incoming_quantity": c.IncomingQty,
		"pending_tasks":     ids,
	}
	if c.Origin != nil {
		fields["origin_store_id"] = c.Origin.ID
	}
	return fields
}
