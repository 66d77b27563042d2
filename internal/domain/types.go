package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// StockStatus mirrors the commerce backend stock flag.
type StockStatus string

const (
	// StockInStock marks a purchasable product.
	StockInStock StockStatus = "IN_STOCK"
	// StockOutOfStock marks a product the backend refuses to add.
	StockOutOfStock StockStatus = "OUT_OF_STOCK"
)

// DefaultVariant is the variant label used when a line carries no variation attributes.
const DefaultVariant = "default"

// Product is a catalog entry as exposed to the storefront. It is immutable from the client's
// perspective apart from the unsupported admin placeholders on the catalog cache.
type Product struct {
	ID          string
	Title       string
	Price       decimal.Decimal
	Image       string
	Category    string
	Description string
	Slug        string
	StockStatus StockStatus
	// DatabaseID is the optional remote numeric identifier required for cart operations.
	DatabaseID int64
}

// HasRemoteID reports whether the product can be synchronised with the remote cart.
func (p Product) HasRemoteID() bool {
	return p.DatabaseID > 0
}

// Category groups products for browsing.
type Category struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Image       string
}

// LineKey is the identity of a cart line: two additions with the same key merge.
type LineKey struct {
	ProductID string
	Variant   string
}

// NewLineKey normalises the variant label so "" and "default" address the same line.
func NewLineKey(productID, variant string) LineKey {
	return LineKey{ProductID: strings.TrimSpace(productID), Variant: NormalizeVariant(variant)}
}

// String renders the key the way the remote key table is indexed.
func (k LineKey) String() string {
	return k.ProductID + "-" + k.Variant
}

// NormalizeVariant trims the variant label and substitutes DefaultVariant when empty.
func NormalizeVariant(variant string) string {
	variant = strings.TrimSpace(variant)
	if variant == "" {
		return DefaultVariant
	}
	return variant
}

// CartLine is a product plus variant label and a positive quantity.
type CartLine struct {
	Product  Product
	Variant  string
	Quantity int
}

// Key returns the line identity.
func (l CartLine) Key() LineKey {
	return NewLineKey(l.Product.ID, l.Variant)
}

// Subtotal returns unit price times quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	if l.Quantity <= 0 {
		return decimal.Zero
	}
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CheckoutInput carries the buyer's shipping and payment details.
type CheckoutInput struct {
	FirstName     string
	LastName      string
	Email         string
	Address1      string
	City          string
	State         string
	Postcode      string
	Country       string
	PaymentMethod string
}
