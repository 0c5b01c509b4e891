package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sonar/internal/cache"
	"sonar/internal/domain"
	applog "sonar/internal/log"
	"sonar/internal/repos"
)

// Cache keys. Every product key shares the productos/ prefix.
const (
	KeyProducts       = "productos/"
	KeyProductLists   = "productos/list/"
	KeyProductDetails = "productos/detail/"
	KeyCategories     = "categorias/list"
)

const DefaultStaleTime = 5 * time.Minute

func ProductListKey(f domain.ProductFilter) string { return KeyProductLists + f.Key() }

func ProductDetailKey(id int64) string { return KeyProductDetails + strconv.FormatInt(id, 10) }

// ProductStore is the product repository as the catalog uses it.
type ProductStore interface {
	List(ctx context.Context, f domain.ProductFilter) (domain.ProductPage, error)
	Get(ctx context.Context, id int64) (*domain.Product, error)
	Create(ctx context.Context, d domain.ProductDraft) (*domain.Product, error)
	Update(ctx context.Context, id int64, p domain.ProductPatch) (*domain.Product, error)
	SoftDelete(ctx context.Context, id int64) error
	UploadImage(ctx context.Context, body []byte, fileName string) (repos.Image, error)
	DeleteImage(ctx context.Context, key string) error
}

type CategoryStore interface {
	List(ctx context.Context) ([]domain.Category, error)
	Create(ctx context.Context, description string, tenantID int64) (*domain.Category, error)
}

// UserSource yields the signed-in user, if any.
type UserSource interface {
	StoredUser() (*domain.User, bool)
}

// ImageFile is an image picked by the user.
type ImageFile struct {
	Name string
	Body []byte
}

type CatalogOptions struct {
	StaleTime     time.Duration
	DefaultTenant int64
}

type CatalogService struct {
	Prods ProductStore
	Cats  CategoryStore
	Cache *cache.Cache
	Users UserSource

	staleTime     time.Duration
	defaultTenant int64
}

func NewCatalogService(prods ProductStore, cats CategoryStore, c *cache.Cache, users UserSource, opts CatalogOptions) *CatalogService {
	s := &CatalogService{
		Prods:         prods,
		Cats:          cats,
		Cache:         c,
		Users:         users,
		staleTime:     opts.StaleTime,
		defaultTenant: opts.DefaultTenant,
	}
	if s.staleTime <= 0 {
		s.staleTime = DefaultStaleTime
	}
	return s
}

// RegisterDecoders teaches a shared store how to read back catalog entries.
func RegisterDecoders(s *cache.RedisStore) {
	s.Register(KeyProductLists, cache.DecodeJSON[domain.ProductPage]())
	s.Register(KeyProductDetails, cache.DecodeJSON[domain.Product]())
	s.Register(KeyCategories, cache.DecodeJSON[[]domain.Category]())
}

func as[T any](op string, v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, domain.Msg(domain.KindQuery, op, fmt.Sprintf("unexpected cached value %T", v))
	}
	return t, nil
}

func (s *CatalogService) tenant() int64 {
	if s.Users != nil {
		if u, ok := s.Users.StoredUser(); ok && u.TenantID != 0 {
			return u.TenantID
		}
	}
	return s.defaultTenant
}

// Products returns a cached page of active products.
func (s *CatalogService) Products(ctx context.Context, f domain.ProductFilter) (domain.ProductPage, error) {
	f = f.Normalized()
	v, err := s.Cache.Fetch(ctx, ProductListKey(f), s.staleTime, func(ctx context.Context) (any, error) {
		return s.Prods.List(ctx, f)
	})
	return as[domain.ProductPage]("list products", v, err)
}

// Product returns a cached product detail.
func (s *CatalogService) Product(ctx context.Context, id int64) (*domain.Product, error) {
	v, err := s.Cache.Fetch(ctx, ProductDetailKey(id), s.staleTime, s.fetchProduct(id))
	p, err := as[domain.Product]("get product", v, err)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *CatalogService) fetchProduct(id int64) cache.FetchFunc {
	return func(ctx context.Context) (any, error) {
		p, err := s.Prods.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return *p, nil
	}
}

// WatchProducts calls fn with every new page for f until the subscription
// is cancelled.
func (s *CatalogService) WatchProducts(f domain.ProductFilter, fn func(domain.ProductPage, error)) *cache.Subscription {
	f = f.Normalized()
	return s.Cache.Subscribe(ProductListKey(f), s.staleTime,
		func(ctx context.Context) (any, error) { return s.Prods.List(ctx, f) },
		func(v any, err error) {
			pg, err := as[domain.ProductPage]("watch products", v, err)
			fn(pg, err)
		})
}

func (s *CatalogService) written(ctx context.Context, p *domain.Product) {
	s.Cache.Set(ctx, ProductDetailKey(p.ID), *p, s.staleTime)
	s.Cache.Invalidate(ctx, KeyProductLists)
}

// CreateProduct is never retried.
func (s *CatalogService) CreateProduct(ctx context.Context, d domain.ProductDraft) (*domain.Product, error) {
	if d.TenantID == 0 {
		d.TenantID = s.tenant()
	}
	p, err := s.Prods.Create(ctx, d)
	if err != nil {
		return nil, err
	}
	s.written(ctx, p)
	applog.Audit(nil, "product.create", map[string]any{"id": p.ID, "nombre": p.Name})
	return p, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (*domain.Product, error) {
	p, err := s.Prods.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.written(ctx, p)
	applog.Audit(nil, "product.update", map[string]any{"id": p.ID})
	return p, nil
}

// DeleteProduct drops the product from every cached page before asking the
// backend. The pages are put back when the backend refuses.
func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	snap := s.Cache.Patch(ctx, KeyProductLists, func(_ string, v any) (any, bool) {
		pg, ok := v.(domain.ProductPage)
		if !ok {
			return v, false
		}
		return pg.Without(id)
	})

	if err := s.Prods.SoftDelete(ctx, id); err != nil {
		s.Cache.Restore(ctx, snap)
		applog.Warn(nil, "product.delete.rollback", err, map[string]any{"id": id, "pages": snap.Len()})
		return err
	}
	s.Cache.Remove(ctx, ProductDetailKey(id))
	s.Cache.Invalidate(ctx, KeyProductLists)
	applog.Audit(nil, "product.delete", map[string]any{"id": id})
	return nil
}

// CreateProductWithImage uploads img, then creates the product pointing at
// it. When the create fails the upload is removed and the create error is
// returned.
func (s *CatalogService) CreateProductWithImage(ctx context.Context, d domain.ProductDraft, img *ImageFile) (*domain.Product, error) {
	if img == nil {
		return s.CreateProduct(ctx, d)
	}
	if err := d.Validate(); err != nil {
		return nil, domain.E(domain.KindValidation, "create product", err)
	}
	up, err := s.Prods.UploadImage(ctx, img.Body, img.Name)
	if err != nil {
		return nil, err
	}
	d.Image = &up.URL
	p, err := s.CreateProduct(ctx, d)
	if err != nil {
		s.discardImage(ctx, up.Key)
		return nil, err
	}
	return p, nil
}

// UpdateProductWithImage replaces the product image. oldImage (a key or a
// public URL) is removed only after the update succeeds; the new upload is
// removed when it fails.
func (s *CatalogService) UpdateProductWithImage(ctx context.Context, id int64, patch domain.ProductPatch, img *ImageFile, oldImage string) (*domain.Product, error) {
	if img == nil {
		return s.UpdateProduct(ctx, id, patch)
	}
	if err := patch.Validate(); err != nil {
		return nil, domain.E(domain.KindValidation, "update product", err)
	}
	up, err := s.Prods.UploadImage(ctx, img.Body, img.Name)
	if err != nil {
		return nil, err
	}
	patch.Image = &up.URL
	p, err := s.UpdateProduct(ctx, id, patch)
	if err != nil {
		s.discardImage(ctx, up.Key)
		return nil, err
	}
	if oldImage != "" {
		if key, err := repos.ImageKey(oldImage); err == nil && key != up.Key {
			s.discardImage(ctx, key)
		}
	}
	return p, nil
}

// discardImage is best effort: failures are logged and never returned.
func (s *CatalogService) discardImage(ctx context.Context, key string) {
	if err := s.Prods.DeleteImage(context.WithoutCancel(ctx), key); err != nil {
		applog.Warn(nil, "product.image.cleanup", err, map[string]any{"key": key})
	}
}

// AdjustStock adds delta units (or removes them when negative) using the
// entity's stock rules, then persists the quantity and availability flag.
func (s *CatalogService) AdjustStock(ctx context.Context, id int64, delta int) (*domain.Product, error) {
	p, err := s.Prods.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case delta > 0:
		err = p.IncreaseStock(delta)
	default:
		err = p.DecreaseStock(-delta)
	}
	if err != nil {
		return nil, domain.E(domain.KindValidation, "adjust stock", err)
	}
	qty, inStock := p.StockQty, p.StockQty > 0
	return s.UpdateProduct(ctx, id, domain.ProductPatch{StockQty: &qty, InStock: &inStock})
}

func (s *CatalogService) Categories(ctx context.Context) ([]domain.Category, error) {
	v, err := s.Cache.Fetch(ctx, KeyCategories, s.staleTime, func(ctx context.Context) (any, error) {
		return s.Cats.List(ctx)
	})
	return as[[]domain.Category]("list categories", v, err)
}

func (s *CatalogService) CreateCategory(ctx context.Context, description string) (*domain.Category, error) {
	c, err := s.Cats.Create(ctx, description, s.tenant())
	if err != nil {
		return nil, err
	}
	s.Cache.Invalidate(ctx, KeyCategories)
	applog.Audit(nil, "category.create", map[string]any{"id": c.ID, "descripcion": c.Description})
	return c, nil
}

// InvalidateAll marks every cached read stale.
func (s *CatalogService) InvalidateAll(ctx context.Context) { s.Cache.Invalidate(ctx, "") }
