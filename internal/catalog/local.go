package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/xelth-com/stocksyncgo/internal/models"
	"gorm.io/gorm"
)

// LocalCatalog keeps products and variants in the service's own database
type LocalCatalog struct {
	db *gorm.DB
}

// NewLocalCatalog creates a gorm-backed catalog
func NewLocalCatalog(db *gorm.DB) *LocalCatalog {
	return &LocalCatalog{db: db}
}

// GetQuantity returns the stock of a product or one of its variants
func (c *LocalCatalog) GetQuantity(ctx context.Context, productID, variantID int64) (float64, error) {
	var qty []float64
	q := c.db.WithContext(ctx)
	if variantID > 0 {
		q = q.Model(&models.CatalogVariant{}).Where("id = ? AND product_id = ?", variantID, productID)
	} else {
		q = q.Model(&models.CatalogProduct{}).Where("id = ?", productID)
	}
	if err := q.Limit(1).Pluck("quantity", &qty).Error; err != nil {
		return 0, fmt.Errorf("failed to read quantity for %d/%d: %w", productID, variantID, err)
	}
	if len(qty) == 0 {
		return 0, ErrItemNotFound
	}
	return qty[0], nil
}

// SetQuantity writes an absolute quantity. Change hooks see the write.
func (c *LocalCatalog) SetQuantity(ctx context.Context, productID, variantID int64, qty float64) error {
	var res *gorm.DB
	if variantID > 0 {
		res = c.db.WithContext(ctx).Model(&models.CatalogVariant{ID: variantID, ProductID: productID}).
			Where("product_id = ?", productID).Update("quantity", qty)
	} else {
		res = c.db.WithContext(ctx).Model(&models.CatalogProduct{ID: productID}).Update("quantity", qty)
	}
	if res.Error != nil {
		return fmt.Errorf("failed to write quantity for %d/%d: %w", productID, variantID, res.Error)
	}
	if res.RowsAffected == 0 {
		// some drivers report 0 rows for an unchanged value; tell that apart from a missing row
		if _, err := c.GetQuantity(ctx, productID, variantID); err != nil {
			return err
		}
	}
	return nil
}

// SaveProduct inserts or replaces a product row
func (c *LocalCatalog) SaveProduct(ctx context.Context, p *models.CatalogProduct) error {
	if err := c.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// SaveVariant inserts or replaces a variant row
func (c *LocalCatalog) SaveVariant(ctx context.Context, v *models.CatalogVariant) error {
	if err := c.db.WithContext(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("failed to save variant: %w", err)
	}
	return nil
}

// FindVariant looks a reference up among variants
func (c *LocalCatalog) FindVariant(ctx context.Context, ref string) (*Item, error) {
	var v models.CatalogVariant
	err := c.db.WithContext(ctx).Where("reference = ?", ref).Order("id ASC").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up variant %s: %w", ref, err)
	}
	return &Item{Kind: KindVariant, ProductID: v.ProductID, VariantID: v.ID, Reference: v.Reference}, nil
}

// FindProduct looks a reference up among products
func (c *LocalCatalog) FindProduct(ctx context.Context, ref string) (*Item, error) {
	var p models.CatalogProduct
	err := c.db.WithContext(ctx).Where("reference = ?", ref).Order("id ASC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up product %s: %w", ref, err)
	}
	return &Item{Kind: KindProduct, ProductID: p.ID, Reference: p.Reference}, nil
}

// ReferenceOf returns the reference carried by a product or variant
func (c *LocalCatalog) ReferenceOf(ctx context.Context, productID, variantID int64) (string, error) {
	var refs []string
	q := c.db.WithContext(ctx)
	if variantID > 0 {
		q = q.Model(&models.CatalogVariant{}).Where("id = ?", variantID)
	} else {
		q = q.Model(&models.CatalogProduct{}).Where("id = ?", productID)
	}
	if err := q.Limit(1).Pluck("reference", &refs).Error; err != nil {
		return "", fmt.Errorf("failed to read reference for %d/%d: %w", productID, variantID, err)
	}
	if len(refs) == 0 {
		return "", ErrItemNotFound
	}
	return refs[0], nil
}

// EachReferenced walks variants first, then products, in id order
func (c *LocalCatalog) EachReferenced(ctx context.Context, pageSize int, fn func([]Item) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}

	var lastID int64
	for {
		var page []models.CatalogVariant
		err := c.db.WithContext(ctx).Where("reference <> '' AND id > ?", lastID).
			Order("id ASC").Limit(pageSize).Find(&page).Error
		if err != nil {
			return fmt.Errorf("failed to scan variants: %w", err)
		}
		if len(page) == 0 {
			break
		}
		items := make([]Item, 0, len(page))
		for _, v := range page {
			items = append(items, Item{Kind: KindVariant, ProductID: v.ProductID, VariantID: v.ID, Reference: v.Reference})
		}
		if err := fn(items); err != nil {
			return err
		}
		lastID = page[len(page)-1].ID
	}

	lastID = 0
	for {
		var page []models.CatalogProduct
		err := c.db.WithContext(ctx).Where("reference <> '' AND id > ?", lastID).
			Order("id ASC").Limit(pageSize).Find(&page).Error
		if err != nil {
			return fmt.Errorf("failed to scan products: %w", err)
		}
		if len(page) == 0 {
			break
		}
		items := make([]Item, 0, len(page))
		for _, p := range page {
			items = append(items, Item{Kind: KindProduct, ProductID: p.ID, Reference: p.Reference})
		}
		if err := fn(items); err != nil {
			return err
		}
		lastID = page[len(page)-1].ID
	}
	return nil
}
