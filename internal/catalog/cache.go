// Package catalog holds the storefront's product snapshot.
package catalog

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xdignya776/shoptrae/internal/domain"
)

// Source reports where the snapshot came from.
type Source string

const (
	SourceNone     Source = ""
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

var (
	// ErrProductNotFound is returned when an id is not in the snapshot.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrAdminUnsupported is returned by admin operations the storefront cannot perform.
	ErrAdminUnsupported = errors.New("catalog: admin operation not supported")
)

// Gateway is the subset of the commerce backend the catalog reads.
type Gateway interface {
	ListProducts(ctx context.Context, first int) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetProduct(ctx context.Context, databaseID string) (domain.Product, error)
}

// CacheDeps wires a Cache.
type CacheDeps struct {
	Gateway  Gateway
	PageSize int
	Logger   *zap.Logger
}

// Cache is an in-memory product snapshot fetched once.
type Cache struct {
	gateway  Gateway
	pageSize int
	logger   *zap.Logger

	loadMu sync.Mutex

	mu         sync.RWMutex
	loaded     bool
	source     Source
	products   []domain.Product
	categories []domain.Category
}

// NewCache constructs an empty Cache. A nil gateway serves the built-in catalog.
func NewCache(deps CacheDeps) *Cache {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Cache{gateway: deps.Gateway, pageSize: pageSize, logger: logger.Named("catalog")}
}

// Load fetches the catalog on first use and returns the snapshot. Later calls never refetch.
func (c *Cache) Load(ctx context.Context) []domain.Product {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.Loaded() {
		return c.Products()
	}

	var (
		products        []domain.Product
		categories      []domain.Category
		prodErr, catErr error
	)
	if c.gateway != nil {
		// Products and categories fall back independently, so neither cancels the other.
		var g errgroup.Group
		g.Go(func() error {
			products, prodErr = c.gateway.ListProducts(ctx, c.pageSize)
			return nil
		})
		g.Go(func() error {
			categories, catErr = c.gateway.ListCategories(ctx)
			return nil
		})
		_ = g.Wait()
	}

	source := SourceRemote
	fallbackProducts, fallbackCategories, err := Fallback()
	if err != nil {
		c.logger.Error("built-in catalog unreadable", zap.Error(err))
	}
	if c.gateway == nil || prodErr != nil || len(products) == 0 {
		if prodErr != nil {
			c.logger.Warn("product fetch failed, using built-in catalog", zap.Error(prodErr))
		} else {
			c.logger.Info("no products from backend, using built-in catalog")
		}
		products = fallbackProducts
		source = SourceFallback
	}
	if c.gateway == nil || catErr != nil || len(categories) == 0 {
		if catErr != nil {
			c.logger.Warn("category fetch failed, using built-in categories", zap.Error(catErr))
		}
		categories = fallbackCategories
	}

	c.mu.Lock()
	c.products = products
	c.categories = categories
	c.source = source
	c.loaded = true
	c.mu.Unlock()

	c.logger.Info("catalog loaded", zap.String("source", string(source)), zap.Int("products", len(products)))
	return c.Products()
}

// Loaded reports whether Load has completed.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Source reports where the snapshot came from.
func (c *Cache) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Products returns a copy of the snapshot.
func (c *Cache) Products() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Categories returns a copy of the category list.
func (c *Cache) Categories() []domain.Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Product looks up a snapshot product by id.
func (c *Cache) Product(id string) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Product{}, false
}

// ProductDetail refreshes a single product from the backend when it has a remote id and
// otherwise serves the snapshot copy.
func (c *Cache) ProductDetail(ctx context.Context, id string) (domain.Product, error) {
	cached, ok := c.Product(id)
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	if c.gateway == nil || !cached.HasRemoteID() {
		return cached, nil
	}
	fresh, err := c.gateway.GetProduct(ctx, strconv.FormatInt(cached.DatabaseID, 10))
	if err != nil {
		c.logger.Debug("product detail fetch failed, serving snapshot", zap.String("product_id", id), zap.Error(err))
		return cached, nil
	}
	return fresh, nil
}

// ProductUpdate lists the fields an admin may change. Nil fields are left alone.
type ProductUpdate struct {
	Title       *string
	Price       *decimal.Decimal
	Image       *string
	Category    *string
	Description *string
}

// AddProduct is not supported by the commerce backend integration.
func (c *Cache) AddProduct(_ context.Context, p domain.Product) error {
	c.logger.Warn("add product is not supported", zap.String("title", p.Title))
	return ErrAdminUnsupported
}

// UpdateProduct changes the in-memory snapshot only; the backend is never told.
func (c *Cache) UpdateProduct(_ context.Context, id string, update ProductUpdate) error {
	c.logger.Warn("update product applies to the local snapshot only", zap.String("product_id", id))
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.products {
		if c.products[i].ID != id {
			continue
		}
		p := &c.products[i]
		if update.Title != nil {
			p.Title = *update.Title
		}
		if update.Price != nil {
			p.Price = *update.Price
		}
		if update.Image != nil {
			p.Image = *update.Image
		}
		if update.Category != nil {
			p.Category = *update.Category
		}
		if update.Description != nil {
			p.Description = *update.Description
		}
		return nil
	}
	return ErrProductNotFound
}

// DeleteProduct drops a product from the in-memory snapshot only.
func (c *Cache) DeleteProduct(_ context.Context, id string) error {
	c.logger.Warn("delete product applies to the local snapshot only", zap.String("product_id", id))
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.products {
		if c.products[i].ID == id {
			c.products = append(c.products[:i:i], c.products[i+1:]...)
			return nil
		}
	}
	return ErrProductNotFound
}
