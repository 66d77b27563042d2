package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/platform/httpx"
	"github.com/xdignya776/shoptrae/internal/session"
)

// ProductLookup finds catalog products by id.
type ProductLookup interface {
	Product(id string) (domain.Product, bool)
}

// CartHandlers exposes the visitor's cart. Mutations answer with the optimistic state; remote
// reconciliation continues in the background.
type CartHandlers struct {
	visitors Visitors
	products ProductLookup
	display  Display
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(visitors Visitors, products ProductLookup, display Display) *CartHandlers {
	return &CartHandlers{visitors: visitors, products: products, display: display}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items", h.updateItem)
	r.Delete("/items", h.removeItem)
	r.Post("/sync", h.sync)
	r.Post("/toggle", h.toggle)
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant"`
	Quantity  *int   `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	h.writeCart(w, http.StatusOK, v)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cartItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	product, ok := h.products.Product(req.ProductID)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}
	if product.StockStatus == domain.StockOutOfStock {
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "product is out of stock", http.StatusConflict))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	v.Cart.Add(ctx, product, req.Variant, quantity)
	h.writeCart(w, http.StatusOK, v)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cartItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId and quantity are required", http.StatusBadRequest))
		return
	}

	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	v.Cart.UpdateQuantity(ctx, req.ProductID, req.Variant, *req.Quantity)
	h.writeCart(w, http.StatusOK, v)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(r.URL.Query().Get("productId"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}

	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	v.Cart.Remove(ctx, productID, r.URL.Query().Get("variant"))
	h.writeCart(w, http.StatusOK, v)
}

func (h *CartHandlers) sync(w http.ResponseWriter, r *http.Request) {
	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	v.Cart.Resync(r.Context())
	h.writeCart(w, http.StatusOK, v)
}

func (h *CartHandlers) toggle(w http.ResponseWriter, r *http.Request) {
	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	v.Cart.ToggleOpen()
	h.writeCart(w, http.StatusOK, v)
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, status int, v *session.Visitor) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	httpx.WriteJSON(w, status, map[string]any{"cart": h.display.cart(v.Cart.Snapshot())})
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
