package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xdignya776/shoptrae/internal/platform/httpx"
	"github.com/xdignya776/shoptrae/internal/session"
)

// WishlistHandlers exposes the visitor's wishlist.
type WishlistHandlers struct {
	visitors Visitors
	products ProductLookup
	display  Display
}

// NewWishlistHandlers constructs wishlist handlers. products may be nil, in which case only
// ids are returned.
func NewWishlistHandlers(visitors Visitors, products ProductLookup, display Display) *WishlistHandlers {
	return &WishlistHandlers{visitors: visitors, products: products, display: display}
}

// Routes wires the /wishlist endpoints onto the provided router.
func (h *WishlistHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getWishlist)
	r.Post("/{productID}/toggle", h.toggle)
}

func (h *WishlistHandlers) getWishlist(w http.ResponseWriter, r *http.Request) {
	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.payload(v))
}

func (h *WishlistHandlers) toggle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}
	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	wishlisted := v.Wishlist.Toggle(ctx, productID)
	payload := h.payload(v)
	payload["productId"] = productID
	payload["wishlisted"] = wishlisted
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *WishlistHandlers) payload(v *session.Visitor) map[string]any {
	items := v.Wishlist.Items()
	products := make([]productPayload, 0, len(items))
	if h.products != nil {
		for _, id := range items {
			if p, ok := h.products.Product(id); ok {
				products = append(products, h.display.product(p))
			}
		}
	}
	return map[string]any{
		"items":    items,
		"products": products,
	}
}
