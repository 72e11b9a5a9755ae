package reference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/stocksyncgo/internal/catalog"
	"github.com/xelth-com/stocksyncgo/internal/database/dbtest"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *catalog.LocalCatalog, *Resolver) {
	t.Helper()
	db := dbtest.Open(t).DB
	c := catalog.NewLocalCatalog(db)
	ctx := context.Background()

	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 1, Name: "Mug", Reference: "SKU-100", Quantity: 20}))
	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 2, Name: "Shirt", Reference: "SHIRT", Quantity: 0}))
	require.NoError(t, c.SaveVariant(ctx, &models.CatalogVariant{ID: 10, ProductID: 2, Reference: "SHIRT-M", Quantity: 4}))
	require.NoError(t, c.SaveVariant(ctx, &models.CatalogVariant{ID: 11, ProductID: 2, Reference: "SHIRT-L", Quantity: 6}))

	return db, c, NewResolver(db, c, time.Minute)
}

func TestResolvePrefersVariants(t *testing.T) {
	_, c, r := setup(t)
	ctx := context.Background()

	// product sharing a variant's reference
	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 3, Name: "Clash", Reference: "SHIRT-M"}))

	res, err := r.Resolve(ctx, "SHIRT-M")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Kind: catalog.KindVariant, ProductID: 2, VariantID: 10, Reference: "SHIRT-M"}, *res)

	res, err = r.Resolve(ctx, "  SKU-100 ")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Kind: catalog.KindProduct, ProductID: 1, VariantID: 0, Reference: "SKU-100"}, *res)

	_, err = r.Resolve(ctx, "NOPE-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(ctx, "   ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveCachesMissesWithinScope(t *testing.T) {
	_, c, r := setup(t)
	ctx := context.Background()
	batch := WithScope(ctx)

	_, err := r.Resolve(batch, "LATE-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 5, Name: "Late", Reference: "LATE-1"}))

	_, err = r.Resolve(batch, "LATE-1")
	assert.ErrorIs(t, err, ErrNotFound, "miss is remembered for the rest of the batch")

	res, err := r.Resolve(WithScope(ctx), "LATE-1")
	require.NoError(t, err, "a new request sees the added reference")
	assert.Equal(t, int64(5), res.ProductID)

	_, err = r.Resolve(ctx, "GONE-1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 6, Name: "Gone", Reference: "GONE-1"}))
	_, err = r.Resolve(ctx, "GONE-1")
	assert.NoError(t, err, "without a scope misses are not cached")
}

func TestResolveCachesHitsUntilInvalidated(t *testing.T) {
	db, _, r := setup(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "SKU-100")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.CatalogProduct{}).Where("id = ?", 1).Update("reference", "SKU-101").Error)

	res, err := r.Resolve(ctx, "SKU-100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ProductID)

	r.Invalidate("SKU-100")
	_, err = r.Resolve(ctx, "SKU-100")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveMatchesStoredSpellingExactly(t *testing.T) {
	_, c, r := setup(t)
	ctx := context.Background()

	// stored decomposed and padded, as some imports leave it
	stored := " CAFE\u0301-1"
	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 8, Name: "Cafe", Reference: stored}))

	res, err := r.Resolve(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.ProductID)
	assert.Equal(t, stored, res.Reference)

	decomposed := "CAFE\u0301-2"
	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 9, Name: "Cafe 2", Reference: decomposed}))
	res, err = r.Resolve(ctx, "CAF\u00c9-2")
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.ProductID)
	assert.Equal(t, decomposed, res.Reference)
}

func TestResolveNormalizesUnicode(t *testing.T) {
	_, c, r := setup(t)
	ctx := context.Background()

	// stored precomposed, queried decomposed
	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 7, Name: "Cafe", Reference: "CAF\u00c9"}))

	res, err := r.Resolve(ctx, "CAFE\u0301")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.ProductID)
}

func TestScanAndMapIsIdempotent(t *testing.T) {
	db, _, r := setup(t)
	ctx := context.Background()

	first, err := r.ScanAndMap(ctx, 1, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 4, first.TotalScanned)
	assert.Equal(t, 4, first.NewMappings)
	assert.Zero(t, first.FailedMappings)

	second, err := r.ScanAndMap(ctx, 1, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 4, second.TotalScanned)
	assert.Zero(t, second.NewMappings)
	assert.Zero(t, second.UpdatedMappings)

	var count int64
	require.NoError(t, db.Model(&models.ReferenceMapping{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)

	forced, err := r.ScanAndMap(ctx, 1, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 4, forced.UpdatedMappings)
	assert.Zero(t, forced.NewMappings)
}

func TestScanAndMapReactivatesAndSkipsDuplicates(t *testing.T) {
	_, c, r := setup(t)
	ctx := context.Background()

	_, err := r.ScanAndMap(ctx, 1, 2, false)
	require.NoError(t, err)

	list, err := r.Mappings(ctx, 1, 2, false)
	require.NoError(t, err)
	require.Len(t, list, 4)
	require.NoError(t, r.Deactivate(ctx, list[0].ID))

	active, err := r.Mappings(ctx, 1, 2, true)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 3, Name: "Clash", Reference: "SHIRT-L"}))

	res, err := r.ScanAndMap(ctx, 1, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedMappings)
	assert.Equal(t, 1, res.FailedMappings)
	require.Len(t, res.Details, 1)
	assert.Contains(t, res.Details[0], "SHIRT-L")

	active, err = r.Mappings(ctx, 1, 2, true)
	require.NoError(t, err)
	assert.Len(t, active, 4)

	assert.Error(t, r.Deactivate(ctx, 9999))
}

func TestRecordSyncUpserts(t *testing.T) {
	db, _, r := setup(t)
	ctx := context.Background()

	require.NoError(t, r.RecordSync(ctx, "SKU-100", 1, 2, 1, 0))
	var first models.ReferenceMapping
	require.NoError(t, db.Where("reference = ?", "SKU-100").First(&first).Error)
	require.NotNil(t, first.LastSyncAt)

	require.NoError(t, r.RecordSync(ctx, "SKU-100", 1, 2, 1, 0))
	require.NoError(t, r.RecordSync(ctx, "SKU-100", 1, 3, 1, 0))

	var count int64
	require.NoError(t, db.Model(&models.ReferenceMapping{}).Where("reference = ?", "SKU-100").Count(&count).Error)
	assert.Equal(t, int64(2), count)

	stats, err := r.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.Active)
	require.Len(t, stats.Pairs, 2)
	assert.Equal(t, PairMappings{SourceStoreID: 1, TargetStoreID: 2, Count: 1}, stats.Pairs[0])
}

func TestCheckDuplicates(t *testing.T) {
	_, c, r := setup(t)
	ctx := context.Background()

	report, err := r.CheckDuplicates(ctx)
	require.NoError(t, err)
	assert.False(t, report.HasDuplicates())

	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 3, Name: "Mug 2", Reference: "SKU-100"}))
	require.NoError(t, c.SaveVariant(ctx, &models.CatalogVariant{ID: 13, ProductID: 3, Reference: "SHIRT-M"}))
	require.NoError(t, c.SaveVariant(ctx, &models.CatalogVariant{ID: 14, ProductID: 3, Reference: "DUP-V"}))
	require.NoError(t, c.SaveVariant(ctx, &models.CatalogVariant{ID: 15, ProductID: 2, Reference: "DUP-V"}))
	require.NoError(t, c.SaveProduct(ctx, &models.CatalogProduct{ID: 4, Name: "Cross", Reference: "SHIRT-L"}))

	report, err = r.CheckDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalCount)

	require.Len(t, report.Products, 1)
	assert.Equal(t, "SKU-100", report.Products[0].Reference)
	assert.Len(t, report.Products[0].Items, 2)

	require.Len(t, report.Variants, 2)
	assert.Equal(t, "DUP-V", report.Variants[0].Reference)
	assert.Equal(t, "SHIRT-M", report.Variants[1].Reference)

	require.Len(t, report.Cross, 1)
	assert.Equal(t, "SHIRT-L", report.Cross[0].Reference)
	assert.Equal(t, NamespaceCross, report.Cross[0].Namespace)

	all, err := r.AllReferences(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 9)
}
