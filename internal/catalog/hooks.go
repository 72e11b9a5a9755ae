package catalog

import (
	"log"

	"github.com/xelth-com/stocksyncgo/internal/models"
	"gorm.io/gorm"
)

const snapshotKey = "stocksync:quantity_snapshot"

type quantitySnapshot struct {
	productID int64
	variantID int64
	oldQty    float64
	fullSave  bool
}

// RegisterChangeHooks installs gorm callbacks on the local catalog tables.
// Every committed quantity change that is not an inbound peer update is
// reported to sink.
func RegisterChangeHooks(db *gorm.DB, sink ChangeSink) error {
	if err := db.Callback().Update().Before("gorm:update").
		Register("stocksync:capture_quantity", captureQuantity); err != nil {
		return err
	}
	return db.Callback().Update().After("gorm:update").
		Register("stocksync:emit_change", func(tx *gorm.DB) { emitChange(tx, sink) })
}

// captureQuantity remembers the quantity before the update runs
func captureQuantity(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}
	if !touchesQuantity(db) {
		return
	}

	var snap quantitySnapshot
	var table string
	switch m := db.Statement.Model.(type) {
	case *models.CatalogVariant:
		snap.variantID, table = m.ID, models.CatalogVariant{}.TableName()
	case *models.CatalogProduct:
		snap.productID, table = m.ID, models.CatalogProduct{}.TableName()
	default:
		return
	}
	if snap.productID == 0 && snap.variantID == 0 {
		// batch updates without a primary key are not tracked
		return
	}
	_, snap.fullSave = db.Statement.Dest.(map[string]interface{})
	snap.fullSave = !snap.fullSave

	var row struct {
		ProductID int64
		Quantity  float64
	}
	q := db.Session(&gorm.Session{NewDB: true, SkipHooks: true}).Table(table)
	if snap.variantID > 0 {
		q = q.Select("product_id, quantity").Where("id = ?", snap.variantID)
	} else {
		q = q.Select("id AS product_id, quantity").Where("id = ?", snap.productID)
	}
	if err := q.Take(&row).Error; err != nil {
		return
	}
	snap.productID = row.ProductID
	snap.oldQty = row.Quantity

	db.InstanceSet(snapshotKey, snap)
}

// emitChange compares against the snapshot and notifies the sink
func emitChange(db *gorm.DB, sink ChangeSink) {
	if db.Error != nil || db.RowsAffected == 0 {
		return
	}
	raw, ok := db.InstanceGet(snapshotKey)
	if !ok {
		return
	}
	snap := raw.(quantitySnapshot)

	newQty, ok := newQuantity(db)
	if !ok || newQty == snap.oldQty {
		return
	}

	ctx := db.Statement.Context
	if IsInbound(ctx) {
		return
	}

	op := models.OpUpdate
	if snap.fullSave {
		op = models.OpProductUpdate
		if snap.variantID > 0 {
			op = models.OpCombinationUpdate
		}
	}

	ch := Change{
		ProductID: snap.productID,
		VariantID: snap.variantID,
		OldQty:    snap.oldQty,
		NewQty:    newQty,
		OpType:    OperationFrom(ctx, op),
	}
	log.Printf("🪝 CatalogHook: quantity %d/%d %.2f -> %.2f (%s)", ch.ProductID, ch.VariantID, ch.OldQty, ch.NewQty, ch.OpType)
	sink.HandleLocalChange(ctx, ch)
}

func touchesQuantity(db *gorm.DB) bool {
	switch dest := db.Statement.Dest.(type) {
	case map[string]interface{}:
		_, ok := dest["quantity"]
		return ok
	case *models.CatalogProduct, *models.CatalogVariant:
		return true
	}
	return false
}

func newQuantity(db *gorm.DB) (float64, bool) {
	switch dest := db.Statement.Dest.(type) {
	case map[string]interface{}:
		return toFloat(dest["quantity"])
	case *models.CatalogProduct:
		return dest.Quantity, true
	case *models.CatalogVariant:
		return dest.Quantity, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
