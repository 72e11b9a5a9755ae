// Package catalog is the boundary to the store's product catalog: where
// quantities live and where references are looked up.
package catalog

import (
	"context"
	"errors"

	"github.com/xelth-com/stocksyncgo/internal/models"
)

// ErrItemNotFound is returned when a product or variant id does not exist
var ErrItemNotFound = errors.New("catalog item not found")

// Kind tells which namespace a reference was found in
type Kind string

const (
	KindProduct Kind = "product"
	KindVariant Kind = "variant"
)

// Item is a product or variant that carries a reference
type Item struct {
	Kind      Kind   `json:"kind"`
	ProductID int64  `json:"product_id"`
	VariantID int64  `json:"variant_id"`
	Reference string `json:"reference"`
}

// Catalog reads and writes stock quantities. variantID 0 means no variant.
type Catalog interface {
	GetQuantity(ctx context.Context, productID, variantID int64) (float64, error)
	SetQuantity(ctx context.Context, productID, variantID int64, qty float64) error
}

// ReferenceIndex answers reference lookups against the catalog
type ReferenceIndex interface {
	// FindVariant and FindProduct return nil, nil when nothing matches
	FindVariant(ctx context.Context, ref string) (*Item, error)
	FindProduct(ctx context.Context, ref string) (*Item, error)
	ReferenceOf(ctx context.Context, productID, variantID int64) (string, error)
	// EachReferenced walks every item with a non-empty reference in pages
	EachReferenced(ctx context.Context, pageSize int, fn func([]Item) error) error
}

// Change is a local quantity change reported to the engine
type Change struct {
	ProductID int64                `json:"product_id"`
	VariantID int64                `json:"variant_id"`
	OldQty    float64              `json:"old_quantity"`
	NewQty    float64              `json:"new_quantity"`
	OpType    models.OperationType `json:"operation_type"`
}

// ChangeSink receives local changes as they are committed
type ChangeSink interface {
	HandleLocalChange(ctx context.Context, ch Change)
}

type ctxKey int

const (
	inboundKey ctxKey = iota
	operationKey
)

// WithInbound marks writes that apply a peer's update. Such writes are not
// reported as local changes, so they are never echoed back out.
func WithInbound(ctx context.Context) context.Context {
	return context.WithValue(ctx, inboundKey, true)
}

// IsInbound reports whether ctx carries the inbound marker
func IsInbound(ctx context.Context) bool {
	v, _ := ctx.Value(inboundKey).(bool)
	return v
}

// WithOperation tags writes with the operation that caused them (order, import...)
func WithOperation(ctx context.Context, op models.OperationType) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// OperationFrom returns the operation tag, or fallback when none is set
func OperationFrom(ctx context.Context, fallback models.OperationType) models.OperationType {
	if op, ok := ctx.Value(operationKey).(models.OperationType); ok && op.Valid() {
		return op
	}
	return fallback
}
