package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/buildinfo"
	"github.com/xelth-com/stocksyncgo/internal/catalog"
	apperrors "github.com/xelth-com/stocksyncgo/internal/errors"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/reference"
	"github.com/xelth-com/stocksyncgo/internal/synclog"
)

// InboundUpdate is an update_stock request from a peer
type InboundUpdate struct {
	Reference string
	Quantity  float64
	Token     string
	// QueueID is the task id on the sending store, echoed back
	QueueID int64
}

// InboundResult is returned to the sending store
type InboundResult struct {
	Reference        string  `json:"reference"`
	Quantity         float64 `json:"quantity"`
	QueueID          int64   `json:"queue_id"`
	PreviousQuantity float64 `json:"previous_quantity"`
}

// HandleIncomingUpdate applies a peer's quantity to the local catalog.
// Every rejection leaves local state untouched. Failures come back as
// *errors.AppError carrying the wire code.
func (e *Engine) HandleIncomingUpdate(ctx context.Context, in InboundUpdate) (*InboundResult, error) {
	if !e.cfg.Active {
		return nil, apperrors.New(apperrors.ErrModuleInactive, "Stock sync is not active")
	}

	origin, err := e.authenticate(ctx, in.Token, "stock update")
	if err != nil {
		return nil, err
	}

	if reference.Normalize(in.Reference) == "" {
		return nil, apperrors.New(apperrors.ErrMissingReference, "Reference is required")
	}
	if math.IsNaN(in.Quantity) || math.IsInf(in.Quantity, 0) {
		return nil, apperrors.New(apperrors.ErrInvalidQuantity, "Quantity must be a finite number")
	}

	ctx = reference.WithScope(ctx)
	res, err := e.resolver.Resolve(ctx, in.Reference)
	if err != nil {
		if stderrors.Is(err, reference.ErrNotFound) {
			shown := strings.TrimSpace(in.Reference)
			e.log.Warning(ctx, fmt.Sprintf("No product found with reference %s", shown), synclog.WithReference(shown))
			return nil, apperrors.New(apperrors.ErrReferenceNotFound, fmt.Sprintf("Reference %s not found", shown))
		}
		return nil, apperrors.Wrap(apperrors.ErrException, "Reference lookup failed", err)
	}
	// queue rows carry the catalog's spelling
	ref := res.Reference

	current, err := e.catalog.GetQuantity(ctx, res.ProductID, res.VariantID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUpdateFailed, "Failed to read current stock", err)
	}

	pending, err := e.queue.ByReference(ctx, ref)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrException, "Conflict check failed", err)
	}
	if len(pending) > 0 {
		resolution := e.conflicts.ResolveConflict(ctx, &Conflict{
			Reference:   ref,
			CurrentQty:  current,
			IncomingQty: in.Quantity,
			Pending:     pending,
			Origin:      origin,
		})
		if !resolution.Accept {
			e.log.Conflict(ctx,
				fmt.Sprintf("Conflict detected for reference %s. Current: %g, Incoming: %g. %s",
					ref, current, in.Quantity, resolution.Reason),
				synclog.WithReference(ref),
				synclog.WithTask(pending[0].ID),
				synclog.WithContext(map[string]interface{}{
					"strategy":        resolution.Strategy,
					"remote_queue_id": in.QueueID,
				}))
			e.publish("conflict", map[string]interface{}{"reference": ref, "resolution": resolution})
			return nil, apperrors.New(apperrors.ErrConflictRejected, "Update rejected by conflict policy")
		}
	}

	// inbound writes are not echoed back to peers
	if err := e.catalog.SetQuantity(catalog.WithInbound(ctx), res.ProductID, res.VariantID, in.Quantity); err != nil {
		e.log.Error(ctx, fmt.Sprintf("Failed to update stock for reference %s: %v", ref, err), synclog.WithReference(ref))
		return nil, apperrors.Wrap(apperrors.ErrUpdateFailed, "Failed to update stock", err)
	}

	fields := map[string]interface{}{"remote_queue_id": in.QueueID}
	if origin != nil {
		fields["origin_store_id"] = origin.ID
	}
	e.log.Info(ctx, fmt.Sprintf("Stock updated for reference %s: %g -> %g", ref, current, in.Quantity),
		synclog.WithReference(ref), synclog.WithContext(fields))

	result := &InboundResult{Reference: ref, Quantity: in.Quantity, QueueID: in.QueueID, PreviousQuantity: current}
	e.publish("inbound_update", result)
	return result, nil
}

// StockInfo answers get_stock
type StockInfo struct {
	Reference string  `json:"reference"`
	Quantity  float64 `json:"quantity"`
	ProductID int64   `json:"id_product"`
	VariantID int64   `json:"id_product_attribute"`
}

// LookupStock returns the local quantity of a reference for a peer
func (e *Engine) LookupStock(ctx context.Context, token, ref string) (*StockInfo, error) {
	if !e.cfg.Active {
		return nil, apperrors.New(apperrors.ErrModuleInactive, "Stock sync is not active")
	}
	if _, err := e.authenticate(ctx, token, "stock lookup"); err != nil {
		return nil, err
	}

	if reference.Normalize(ref) == "" {
		return nil, apperrors.New(apperrors.ErrMissingReference, "Reference is required")
	}

	res, err := e.resolver.Resolve(reference.WithScope(ctx), ref)
	if err != nil {
		if stderrors.Is(err, reference.ErrNotFound) {
			return nil, apperrors.New(apperrors.ErrReferenceNotFound, fmt.Sprintf("Reference %s not found", strings.TrimSpace(ref)))
		}
		return nil, apperrors.Wrap(apperrors.ErrException, "Reference lookup failed", err)
	}

	qty, err := e.catalog.GetQuantity(ctx, res.ProductID, res.VariantID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrException, "Failed to read stock", err)
	}
	return &StockInfo{Reference: res.Reference, Quantity: qty, ProductID: res.ProductID, VariantID: res.VariantID}, nil
}

// PingInfo answers the test action
type PingInfo struct {
	Version       string `json:"version"`
	ModuleVersion string `json:"module_version"`
	Timestamp     int64  `json:"timestamp"`
	StoreURL      string `json:"store_url"`
}

// Ping authenticates a peer's test call
func (e *Engine) Ping(ctx context.Context, token string) (*PingInfo, error) {
	if !e.cfg.Active {
		return nil, apperrors.New(apperrors.ErrModuleInactive, "Stock sync is not active")
	}
	if _, err := e.authenticate(ctx, token, "connection test"); err != nil {
		return nil, err
	}
	return &PingInfo{
		Version:       buildinfo.Version,
		ModuleVersion: buildinfo.ProtocolVersion,
		Timestamp:     time.Now().Unix(),
		StoreURL:      e.registry.SelfURL(),
	}, nil
}

// authenticate validates a peer token, logging rejections at error level.
// The token itself is never logged.
func (e *Engine) authenticate(ctx context.Context, token, purpose string) (*models.Store, error) {
	store, err := e.tokens.Validate(ctx, token)
	if err == nil {
		return store, nil
	}
	if apperrors.Is(err, apperrors.ErrInvalidToken) {
		e.log.Error(ctx, fmt.Sprintf("Invalid token received for %s", purpose))
		return nil, err
	}
	return nil, apperrors.Wrap(apperrors.ErrException, "Token validation failed", err)
}
