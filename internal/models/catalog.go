package models

import "time"

// CatalogProduct is the local catalog's product row. Simple products carry
// their own quantity; products with variants keep quantities on the variants.
type CatalogProduct struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Reference string    `gorm:"type:varchar(128);index" json:"reference"`
	Quantity  float64   `gorm:"not null;default:0" json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (CatalogProduct) TableName() string {
	return "catalog_products"
}

// CatalogVariant is one option combination of a product
type CatalogVariant struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	ProductID int64     `gorm:"not null;index" json:"product_id"`
	Reference string    `gorm:"type:varchar(128);index" json:"reference"`
	Quantity  float64   `gorm:"not null;default:0" json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (CatalogVariant) TableName() string {
	return "catalog_variants"
}

// All returns every model owned by the service, in migration order
func All() []interface{} {
	return []interface{}{
		&Store{},
		&ReferenceMapping{},
		&QueueTask{},
		&LogEntry{},
		&CatalogProduct{},
		&CatalogVariant{},
	}
}
