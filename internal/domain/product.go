package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	StatusDeleted = 0
	StatusActive  = 1
)

var (
	ErrEmptyName         = errors.New("product name must not be empty")
	ErrNegativePrice     = errors.New("price must not be negative")
	ErrNegativeStock     = errors.New("stock quantity must not be negative")
	ErrMissingCategory   = errors.New("category is required")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product mirrors a row of the productos table.
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"nombre" json:"nombre"`
	Description *string         `db:"descripcion" json:"descripcion"`
	Price       decimal.Decimal `db:"precio" json:"precio"`
	InStock     bool            `db:"stock" json:"stock"`
	StockQty    int             `db:"cantidad_stock" json:"cantidad_stock"`
	Category    *string         `db:"categoria" json:"categoria"` // display label, denormalized
	CategoryID  int64           `db:"categoria_id" json:"categoria_id"`
	Image       *string         `db:"imagen" json:"imagen"`
	TenantID    int64           `db:"empresa_id" json:"empresa_id"`
	Status      int             `db:"estado" json:"estado"`
}

// NewProduct checks the construction invariants and returns a copy of p.
func NewProduct(p Product) (*Product, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, ErrEmptyName
	}
	if p.Price.IsNegative() {
		return nil, ErrNegativePrice
	}
	if p.StockQty < 0 {
		return nil, ErrNegativeStock
	}
	return &p, nil
}

func (p *Product) Active() bool { return p.Status == StatusActive }

// ChangeName replaces the name; blank names are rejected.
func (p *Product) ChangeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	p.Name = name
	return nil
}

// IncreaseStock adds q units. Zero is a no-op, negatives are rejected.
func (p *Product) IncreaseStock(q int) error {
	if q < 0 {
		return ErrInvalidQuantity
	}
	p.StockQty += q
	return nil
}

// DecreaseStock removes q units and never drives the quantity below zero.
func (p *Product) DecreaseStock(q int) error {
	if q <= 0 {
		return ErrInvalidQuantity
	}
	if q > p.StockQty {
		return ErrInsufficientStock
	}
	p.StockQty -= q
	return nil
}

// ProductDraft is the insert payload for a new product.
type ProductDraft struct {
	Name        string          `json:"nombre"`
	Description *string         `json:"descripcion,omitempty"`
	Price       decimal.Decimal `json:"precio"`
	InStock     bool            `json:"stock"`
	StockQty    int             `json:"cantidad_stock"`
	Category    *string         `json:"categoria,omitempty"`
	CategoryID  int64           `json:"categoria_id"`
	Image       *string         `json:"imagen,omitempty"`
	TenantID    int64           `json:"empresa_id,omitempty"`
}

// Validate returns the first violated insert rule.
func (d ProductDraft) Validate() error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return ErrEmptyName
	case d.Price.IsNegative():
		return ErrNegativePrice
	case d.StockQty < 0:
		return ErrNegativeStock
	case d.CategoryID == 0:
		return ErrMissingCategory
	}
	return nil
}

// ProductPatch carries a partial update. ID, Category and TenantID are
// accepted so an edited row can be passed back as-is, but they are never
// written: the id and tenant are immutable and the label is derived.
type ProductPatch struct {
	ID          *int64           `json:"id,omitempty"`
	Name        *string          `json:"nombre,omitempty"`
	Description *string          `json:"descripcion,omitempty"`
	Price       *decimal.Decimal `json:"precio,omitempty"`
	InStock     *bool            `json:"stock,omitempty"`
	StockQty    *int             `json:"cantidad_stock,omitempty"`
	Category    *string          `json:"categoria,omitempty"`
	CategoryID  *int64           `json:"categoria_id,omitempty"`
	Image       *string          `json:"imagen,omitempty"`
	TenantID    *int64           `json:"empresa_id,omitempty"`
	Status      *int             `json:"estado,omitempty"`
}

// Validate applies the product invariants to the fields that are present.
func (p ProductPatch) Validate() error {
	switch {
	case p.Name != nil && strings.TrimSpace(*p.Name) == "":
		return ErrEmptyName
	case p.Price != nil && p.Price.IsNegative():
		return ErrNegativePrice
	case p.StockQty != nil && *p.StockQty < 0:
		return ErrNegativeStock
	case p.CategoryID != nil && *p.CategoryID == 0:
		return ErrMissingCategory
	}
	return nil
}

// ProductPage is one result of a filtered product listing.
type ProductPage struct {
	Rows  []Product `json:"data"`
	Total int       `json:"count"`
}

// Without returns a copy of the page minus the product with the given id.
// The second result reports whether anything was removed.
func (pg ProductPage) Without(id int64) (ProductPage, bool) {
	out := ProductPage{Rows: make([]Product, 0, len(pg.Rows)), Total: pg.Total}
	for _, p := range pg.Rows {
		if p.ID == id {
			continue
		}
		out.Rows = append(out.Rows, p)
	}
	if len(out.Rows) == len(pg.Rows) {
		return pg, false
	}
	if out.Total > 0 {
		out.Total--
	}
	return out, true
}
