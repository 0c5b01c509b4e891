package repos

import (
	"context"
	"errors"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"sonar/internal/domain"
	"sonar/internal/remote"
)

const (
	ProductsTable = "productos"
	ImageBucket   = "productos"
)

// Image is a stored product picture.
type Image struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type ProductRepo struct {
	rows    remote.Rows
	storage remote.Storage
	// PageSize enables ranged listing when > 0.
	PageSize int
}

func NewProductRepo(rows remote.Rows, storage remote.Storage) *ProductRepo {
	return &ProductRepo{rows: rows, storage: storage}
}

// List returns the active products matching f, ordered by id.
func (r *ProductRepo) List(ctx context.Context, f domain.ProductFilter) (domain.ProductPage, error) {
	n := f.Normalized()
	where := []remote.Predicate{remote.Eq("estado", domain.StatusActive)}
	if n.Name != "" {
		where = append(where, remote.ILike("nombre", "%"+n.Term()+"%"))
	}
	if n.CategoryID != 0 {
		where = append(where, remote.Eq("categoria_id", n.CategoryID))
	}
	q := remote.Query{
		Table: ProductsTable,
		Where: where,
		Order: []remote.Order{{Column: "id", Ascending: true}},
		Count: true,
	}
	if r.PageSize > 0 && n.Page >= 1 {
		q.Offset = (n.Page - 1) * r.PageSize
		q.Limit = r.PageSize
	}

	var rows []domain.Product
	total, err := r.rows.Select(ctx, q, &rows)
	if err != nil {
		return domain.ProductPage{}, domain.E(domain.KindQuery, "list products", err)
	}
	if rows == nil {
		rows = []domain.Product{}
	}
	return domain.ProductPage{Rows: rows, Total: total}, nil
}

// Get returns one active product.
func (r *ProductRepo) Get(ctx context.Context, id int64) (*domain.Product, error) {
	var rows []domain.Product
	_, err := r.rows.Select(ctx, remote.Query{
		Table: ProductsTable,
		Where: []remote.Predicate{remote.Eq("id", id), remote.Eq("estado", domain.StatusActive)},
		Limit: 1,
	}, &rows)
	if err != nil {
		return nil, domain.E(domain.KindQuery, "get product", err)
	}
	if len(rows) == 0 {
		return nil, domain.Msg(domain.KindNotFound, "get product", "no active product with that id")
	}
	return &rows[0], nil
}

func (r *ProductRepo) Create(ctx context.Context, d domain.ProductDraft) (*domain.Product, error) {
	if err := d.Validate(); err != nil {
		return nil, domain.E(domain.KindValidation, "create product", err)
	}
	values := map[string]any{
		"nombre":         d.Name,
		"descripcion":    d.Description,
		"precio":         d.Price,
		"stock":          d.InStock,
		"cantidad_stock": d.StockQty,
		"categoria":      d.Category,
		"categoria_id":   d.CategoryID,
		"imagen":         d.Image,
		"estado":         domain.StatusActive,
	}
	if d.TenantID != 0 {
		values["empresa_id"] = d.TenantID
	}

	var p domain.Product
	if err := r.rows.Insert(ctx, ProductsTable, values, &p); err != nil {
		return nil, domain.E(domain.KindPersistence, "create product", err)
	}
	if p.ID <= 0 {
		return nil, domain.Msg(domain.KindPersistence, "create product", "backend returned no row")
	}
	return &p, nil
}

// patchValues lists the writable columns present in p. The id, tenant and
// category label are never sent.
func patchValues(p domain.ProductPatch) map[string]any {
	v := map[string]any{}
	if p.Name != nil {
		v["nombre"] = *p.Name
	}
	if p.Description != nil {
		v["descripcion"] = *p.Description
	}
	if p.Price != nil {
		v["precio"] = *p.Price
	}
	if p.InStock != nil {
		v["stock"] = *p.InStock
	}
	if p.StockQty != nil {
		v["cantidad_stock"] = *p.StockQty
	}
	if p.CategoryID != nil {
		v["categoria_id"] = *p.CategoryID
	}
	if p.Image != nil {
		v["imagen"] = *p.Image
	}
	if p.Status != nil {
		v["estado"] = *p.Status
	}
	return v
}

func (r *ProductRepo) Update(ctx context.Context, id int64, p domain.ProductPatch) (*domain.Product, error) {
	if err := p.Validate(); err != nil {
		return nil, domain.E(domain.KindValidation, "update product", err)
	}
	values := patchValues(p)
	if len(values) == 0 {
		return nil, domain.Msg(domain.KindValidation, "update product", "nothing to update")
	}

	var rows []domain.Product
	n, err := r.rows.Update(ctx, ProductsTable, values, []remote.Predicate{remote.Eq("id", id)}, &rows)
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "update product", err)
	}
	if n == 0 || len(rows) == 0 {
		return nil, domain.Msg(domain.KindPersistence, "update product", "no row updated")
	}
	return &rows[0], nil
}

// SoftDelete flips estado to 0. The row and its image stay in place.
func (r *ProductRepo) SoftDelete(ctx context.Context, id int64) error {
	var found []struct {
		ID int64 `db:"id" json:"id"`
	}
	_, err := r.rows.Select(ctx, remote.Query{
		Table:   ProductsTable,
		Columns: []string{"id"},
		Where:   []remote.Predicate{remote.Eq("id", id)},
		Limit:   1,
	}, &found)
	if err != nil {
		return domain.E(domain.KindPersistence, "delete product", err)
	}
	if len(found) == 0 {
		return domain.Msg(domain.KindNotFound, "delete product", "product does not exist")
	}

	n, err := r.rows.Update(ctx, ProductsTable,
		map[string]any{"estado": domain.StatusDeleted},
		[]remote.Predicate{remote.Eq("id", id)}, nil)
	if err != nil {
		return domain.E(domain.KindPersistence, "delete product", err)
	}
	if n == 0 {
		return domain.Msg(domain.KindPersistence, "delete product", "no row updated")
	}
	return nil
}

// UploadImage stores body under a random key that keeps the extension of
// fileName.
func (r *ProductRepo) UploadImage(ctx context.Context, body []byte, fileName string) (Image, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	key := uuid.NewString() + ext
	ctype := mime.TypeByExtension(ext)
	if err := r.storage.Upload(ctx, ImageBucket, key, body, ctype); err != nil {
		return Image{}, domain.E(domain.KindStorage, "upload image", err)
	}
	return Image{Key: key, URL: r.storage.PublicURL(ImageBucket, key)}, nil
}

// DeleteImage removes a stored image. Missing keys are not an error.
func (r *ProductRepo) DeleteImage(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := r.storage.Remove(ctx, ImageBucket, key); err != nil {
		return domain.E(domain.KindStorage, "delete image", err)
	}
	return nil
}

// ImageKey recovers the storage key from a public image URL.
func ImageKey(imageURL string) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", err
	}
	key := path.Base(u.Path)
	if key == "." || key == "/" || key == "" {
		return "", errors.New("image url has no key")
	}
	return key, nil
}
