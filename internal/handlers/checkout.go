package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xdignya776/shoptrae/internal/checkout"
	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/platform/httpx"
	"github.com/xdignya776/shoptrae/internal/platform/requestctx"
)

// CheckoutHandlers places orders for the visitor's cart.
type CheckoutHandlers struct {
	visitors Visitors
	display  Display
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(visitors Visitors, display Display) *CheckoutHandlers {
	return &CheckoutHandlers{visitors: visitors, display: display}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getState)
	r.Post("/", h.submit)
	r.Post("/reset", h.reset)
}

type checkoutRequest struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	Address1      string `json:"address1"`
	City          string `json:"city"`
	State         string `json:"state"`
	Postcode      string `json:"postcode"`
	Country       string `json:"country"`
	PaymentMethod string `json:"paymentMethod"`
}

func (h *CheckoutHandlers) getState(w http.ResponseWriter, r *http.Request) {
	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	step, lastErr := v.Checkout.Step()
	total := v.Cart.Total()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"step":         string(step),
		"error":        lastErr,
		"total":        total.StringFixed(2),
		"totalDisplay": h.display.price(total),
		"itemCount":    v.Cart.Count(),
	})
}

func (h *CheckoutHandlers) reset(w http.ResponseWriter, r *http.Request) {
	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}
	v.Checkout.Reset()
	step, _ := v.Checkout.Step()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"step": string(step)})
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req checkoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	v := visitorFromRequest(w, r, h.visitors)
	if v == nil {
		return
	}

	result, err := v.Checkout.Submit(ctx, domain.CheckoutInput{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Address1:      req.Address1,
		City:          req.City,
		State:         req.State,
		Postcode:      req.Postcode,
		Country:       req.Country,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"step":         string(checkout.StepSuccess),
		"orderId":      result.OrderID,
		"orderNumber":  result.OrderNumber,
		"status":       result.Status,
		"redirect":     result.Redirect,
		"total":        result.Total.StringFixed(2),
		"totalDisplay": h.display.price(result.Total),
		"itemCount":    result.ItemCount,
	})
}

func (h *CheckoutHandlers) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var validation *checkout.ValidationError
	var failure *checkout.Error
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_checkout", "some checkout fields are missing or invalid", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": validation.Fields}))
	case errors.Is(err, checkout.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusConflict))
	case errors.Is(err, checkout.ErrInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "checkout is already processing", http.StatusConflict))
	case errors.As(err, &failure):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_failed", failure.UserMessage, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"step": string(checkout.StepDetails)}))
	default:
		requestctx.Logger(ctx).Error("checkout failed unexpectedly", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", checkout.FailedMessage, http.StatusInternalServerError))
	}
}
