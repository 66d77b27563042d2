package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xdignya776/shoptrae/internal/cart"
	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/platform/format"
)

const maxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// Display controls how money is rendered in responses.
type Display struct {
	Currency string
	Locale   string
}

func (d Display) price(amount decimal.Decimal) string {
	return format.Price(amount, d.Currency, d.Locale)
}

type productPayload struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Price        string `json:"price"`
	PriceDisplay string `json:"priceDisplay"`
	Image        string `json:"image,omitempty"`
	Category     string `json:"category"`
	Description  string `json:"description,omitempty"`
	Slug         string `json:"slug,omitempty"`
	StockStatus  string `json:"stockStatus"`
	DatabaseID   int64  `json:"databaseId,omitempty"`
}

func (d Display) product(p domain.Product) productPayload {
	return productPayload{
		ID:           p.ID,
		Title:        p.Title,
		Price:        p.Price.StringFixed(2),
		PriceDisplay: d.price(p.Price),
		Image:        p.Image,
		Category:     p.Category,
		Description:  p.Description,
		Slug:         p.Slug,
		StockStatus:  string(p.StockStatus),
		DatabaseID:   p.DatabaseID,
	}
}

func (d Display) products(items []domain.Product) []productPayload {
	out := make([]productPayload, 0, len(items))
	for _, p := range items {
		out = append(out, d.product(p))
	}
	return out
}

type cartLinePayload struct {
	Product         productPayload `json:"product"`
	Variant         string         `json:"variant"`
	Quantity        int            `json:"quantity"`
	Subtotal        string         `json:"subtotal"`
	SubtotalDisplay string         `json:"subtotalDisplay"`
	State           string         `json:"state"`
}

type cartPayload struct {
	Lines        []cartLinePayload `json:"lines"`
	Total        string            `json:"total"`
	TotalDisplay string            `json:"totalDisplay"`
	Count        int               `json:"count"`
	Open         bool              `json:"open"`
}

func (d Display) cart(s cart.Snapshot) cartPayload {
	lines := make([]cartLinePayload, 0, len(s.Lines))
	for _, l := range s.Lines {
		subtotal := l.Subtotal()
		lines = append(lines, cartLinePayload{
			Product:         d.product(l.Product),
			Variant:         l.Variant,
			Quantity:        l.Quantity,
			Subtotal:        subtotal.StringFixed(2),
			SubtotalDisplay: d.price(subtotal),
			State:           string(l.State),
		})
	}
	return cartPayload{
		Lines:        lines,
		Total:        s.Total.StringFixed(2),
		TotalDisplay: d.price(s.Total),
		Count:        s.Count,
		Open:         s.Open,
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeBody(r *http.Request, out any) error {
	data, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}
