package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xdignya776/shoptrae/internal/catalog"
	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/platform/httpx"
	"github.com/xdignya776/shoptrae/internal/platform/pagination"
)

// Catalog is the read side of the catalog cache.
type Catalog interface {
	Products() []domain.Product
	Categories() []domain.Category
	Product(id string) (domain.Product, bool)
	ProductDetail(ctx context.Context, id string) (domain.Product, error)
}

// CopyWriter produces marketing copy for a product.
type CopyWriter interface {
	Generate(ctx context.Context, title, baseDescription string) string
}

// CatalogHandlers serves products, categories and product copy.
type CatalogHandlers struct {
	catalog Catalog
	copy    CopyWriter
	display Display
}

// NewCatalogHandlers constructs catalog handlers. writer may be nil.
func NewCatalogHandlers(c Catalog, writer CopyWriter, display Display) *CatalogHandlers {
	return &CatalogHandlers{catalog: c, copy: writer, display: display}
}

// Routes wires the catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/products/{productID}/copy", h.getCopy)
	r.Get("/categories", h.listCategories)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	q, err := parseProductQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
		return
	}
	items := catalog.Filter(h.catalog.Products(), q)
	window, next := pagination.Slice(items, page)
	payload := map[string]any{
		"products": h.display.products(window),
		"count":    len(items),
	}
	if next != "" {
		payload["nextPageToken"] = next
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	product, err := h.catalog.ProductDetail(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"product": h.display.product(product)})
}

func (h *CatalogHandlers) getCopy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil || h.copy == nil {
		httpx.WriteError(ctx, w, httpx.NewError("copy_unavailable", "product copy is unavailable", http.StatusServiceUnavailable))
		return
	}
	id := chi.URLParam(r, "productID")
	product, ok := h.catalog.Product(id)
	if !ok {
		writeCatalogError(ctx, w, catalog.ErrProductNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"productId": product.ID,
		"copy":      h.copy.Generate(ctx, product.Title, product.Description),
	})
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	categories := h.catalog.Categories()
	out := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		out = append(out, map[string]any{
			"id":          c.ID,
			"name":        c.Name,
			"slug":        c.Slug,
			"description": c.Description,
			"image":       c.Image,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func parseProductQuery(r *http.Request) (catalog.Query, error) {
	values := r.URL.Query()
	q := catalog.Query{
		Search:     strings.TrimSpace(values.Get("q")),
		Categories: values["category"],
		Band:       strings.TrimSpace(values.Get("price")),
		Sort:       strings.TrimSpace(values.Get("sort")),
	}
	switch q.Band {
	case "", catalog.BandAll, catalog.BandUnder35, catalog.Band35To50, catalog.BandOver50:
	default:
		return catalog.Query{}, errors.New("price must be one of all, under-35, 35-50, over-50")
	}
	switch q.Sort {
	case "", catalog.SortFeatured, catalog.SortPriceAsc, catalog.SortPriceDesc, catalog.SortName:
	default:
		return catalog.Query{}, errors.New("sort must be one of featured, price-asc, price-desc, name")
	}
	var err error
	if q.Min, err = parseAmount(values.Get("min")); err != nil {
		return catalog.Query{}, errors.New("min must be a non-negative number")
	}
	if q.Max, err = parseAmount(values.Get("max")); err != nil {
		return catalog.Query{}, errors.New("max must be a non-negative number")
	}
	if q.Min != nil && q.Max != nil && q.Min.GreaterThan(*q.Max) {
		return catalog.Query{}, errors.New("min must not exceed max")
	}
	return q, nil
}

func parseAmount(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, errors.New("negative amount")
	}
	return &d, nil
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load product", http.StatusInternalServerError))
	}
}
