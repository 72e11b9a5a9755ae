package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
)

// OdooConfig points the catalog at an Odoo instance
type OdooConfig struct {
	URL        string
	Database   string
	Username   string
	Password   string
	LocationID int // internal stock location quantities are applied to
}

// OdooCatalog reads and writes quantities in Odoo over XML-RPC. Odoo keeps
// references (default_code) on product.product, so every item lives in the
// product namespace with variant id 0.
type OdooCatalog struct {
	cfg       OdooConfig
	commonURL string
	objectURL string
	transport http.RoundTripper

	mu  sync.Mutex
	uid int
}

// NewOdooCatalog creates an Odoo-backed catalog
func NewOdooCatalog(cfg OdooConfig) *OdooCatalog {
	return &OdooCatalog{
		cfg:       cfg,
		commonURL: fmt.Sprintf("%s/xmlrpc/2/common", cfg.URL),
		objectURL: fmt.Sprintf("%s/xmlrpc/2/object", cfg.URL),
		transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second},
	}
}

// authenticate logs in once and caches the user id
func (c *OdooCatalog) authenticate() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}

	client, err := xmlrpc.NewClient(c.commonURL, c.transport)
	if err != nil {
		return 0, fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	var uid int
	args := []interface{}{c.cfg.Database, c.cfg.Username, c.cfg.Password, map[string]interface{}{}}
	if err := client.Call("authenticate", args, &uid); err != nil {
		return 0, fmt.Errorf("odoo authentication failed: %w", err)
	}
	if uid == 0 {
		return 0, fmt.Errorf("odoo authentication rejected for %s", c.cfg.Username)
	}
	c.uid = uid
	return uid, nil
}

// execute runs model.method through execute_kw
func (c *OdooCatalog) execute(model, method string, args []interface{}, kwargs map[string]interface{}, reply interface{}) error {
	uid, err := c.authenticate()
	if err != nil {
		return err
	}

	client, err := xmlrpc.NewClient(c.objectURL, c.transport)
	if err != nil {
		return fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	call := []interface{}{c.cfg.Database, uid, c.cfg.Password, model, method, args, kwargs}
	if err := client.Call("execute_kw", call, reply); err != nil {
		return fmt.Errorf("odoo %s.%s failed: %w", model, method, err)
	}
	return nil
}

// searchRead decodes search_read rows into result through JSON
func (c *OdooCatalog) searchRead(model string, domain []interface{}, fields []string, limit, offset int, result interface{}) error {
	var raw []map[string]interface{}
	kwargs := map[string]interface{}{"fields": fields, "limit": limit, "offset": offset, "order": "id asc"}
	if err := c.execute(model, "search_read", []interface{}{domain}, kwargs, &raw); err != nil {
		return err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal odoo rows: %w", err)
	}
	return json.Unmarshal(data, result)
}

type odooProduct struct {
	ID           int64       `json:"id"`
	DefaultCode  interface{} `json:"default_code"` // false when unset
	QtyAvailable float64     `json:"qty_available"`
}

func (p odooProduct) reference() string {
	if s, ok := p.DefaultCode.(string); ok {
		return s
	}
	return ""
}

func odooID(productID, variantID int64) int64 {
	if variantID > 0 {
		return variantID
	}
	return productID
}

// GetQuantity reads qty_available of a product.product
func (c *OdooCatalog) GetQuantity(ctx context.Context, productID, variantID int64) (float64, error) {
	var rows []odooProduct
	domain := []interface{}{[]interface{}{"id", "=", odooID(productID, variantID)}}
	if err := c.searchRead("product.product", domain, []string{"id", "qty_available"}, 1, 0, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ErrItemNotFound
	}
	return rows[0].QtyAvailable, nil
}

// SetQuantity applies an inventory adjustment on the configured location
func (c *OdooCatalog) SetQuantity(ctx context.Context, productID, variantID int64, qty float64) error {
	id := odooID(productID, variantID)
	domain := []interface{}{
		[]interface{}{"product_id", "=", id},
		[]interface{}{"location_id", "=", c.cfg.LocationID},
	}

	var quantIDs []int64
	if err := c.execute("stock.quant", "search", []interface{}{domain}, map[string]interface{}{"limit": 1}, &quantIDs); err != nil {
		return err
	}

	if len(quantIDs) == 0 {
		var newID int64
		vals := map[string]interface{}{"product_id": id, "location_id": c.cfg.LocationID, "inventory_quantity": qty}
		if err := c.execute("stock.quant", "create", []interface{}{vals}, nil, &newID); err != nil {
			return err
		}
		quantIDs = []int64{newID}
	} else {
		var ok bool
		vals := map[string]interface{}{"inventory_quantity": qty}
		if err := c.execute("stock.quant", "write", []interface{}{quantIDs, vals}, nil, &ok); err != nil {
			return err
		}
	}

	var applied interface{}
	return c.execute("stock.quant", "action_apply_inventory", []interface{}{quantIDs}, nil, &applied)
}

// FindVariant always misses: Odoo has a single reference namespace
func (c *OdooCatalog) FindVariant(ctx context.Context, ref string) (*Item, error) {
	return nil, nil
}

// FindProduct searches product.product by default_code
func (c *OdooCatalog) FindProduct(ctx context.Context, ref string) (*Item, error) {
	var rows []odooProduct
	domain := []interface{}{[]interface{}{"default_code", "=", ref}}
	if err := c.searchRead("product.product", domain, []string{"id", "default_code"}, 1, 0, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &Item{Kind: KindProduct, ProductID: rows[0].ID, Reference: rows[0].reference()}, nil
}

// ReferenceOf reads default_code of a product.product
func (c *OdooCatalog) ReferenceOf(ctx context.Context, productID, variantID int64) (string, error) {
	var rows []odooProduct
	domain := []interface{}{[]interface{}{"id", "=", odooID(productID, variantID)}}
	if err := c.searchRead("product.product", domain, []string{"id", "default_code"}, 1, 0, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", ErrItemNotFound
	}
	return rows[0].reference(), nil
}

// EachReferenced pages through product.product rows with a default_code
func (c *OdooCatalog) EachReferenced(ctx context.Context, pageSize int, fn func([]Item) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	domain := []interface{}{[]interface{}{"default_code", "!=", false}}

	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rows []odooProduct
		if err := c.searchRead("product.product", domain, []string{"id", "default_code"}, pageSize, offset, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		items := make([]Item, 0, len(rows))
		for _, r := range rows {
			if ref := r.reference(); ref != "" {
				items = append(items, Item{Kind: KindProduct, ProductID: r.ID, Reference: ref})
			}
		}
		if err := fn(items); err != nil {
			return err
		}
		if len(rows) < pageSize {
			return nil
		}
	}
}
