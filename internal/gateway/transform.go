package gateway

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xdignya776/shoptrae/internal/domain"
)

const uncategorized = "Uncategorized"

// RemoteCart is the backend's view of the session cart.
type RemoteCart struct {
	Lines         []RemoteLine
	Subtotal      string
	Total         string
	TotalTax      string
	ShippingTotal string
}

// RemoteLine is one cart line as issued by the backend, including its opaque key.
type RemoteLine struct {
	Key        string
	ProductID  string
	DatabaseID int64
	Name       string
	Slug       string
	Image      string
	Price      decimal.Decimal
	Quantity   int
	Attributes []Attribute
}

// Attribute is a variation attribute pair.
type Attribute struct {
	Name  string
	Value string
}

// VariantLabel joins variation attributes as "name:value, name:value", or "default".
func (l RemoteLine) VariantLabel() string {
	if len(l.Attributes) == 0 {
		return domain.DefaultVariant
	}
	parts := make([]string, 0, len(l.Attributes))
	for _, attr := range l.Attributes {
		parts = append(parts, attr.Name+":"+attr.Value)
	}
	return strings.Join(parts, ", ")
}

// CartLine converts the remote line into a local mirror line.
func (l RemoteLine) CartLine() domain.CartLine {
	return domain.CartLine{
		Product: domain.Product{
			ID:          l.ProductID,
			Title:       l.Name,
			Price:       l.Price,
			Image:       l.Image,
			Category:    uncategorized,
			Slug:        l.Slug,
			StockStatus: domain.StockInStock,
			DatabaseID:  l.DatabaseID,
		},
		Variant:  l.VariantLabel(),
		Quantity: l.Quantity,
	}
}

// CheckoutResult describes a placed order.
type CheckoutResult struct {
	OrderID     int64
	OrderNumber string
	Status      string
	Total       string
	Result      string
	Redirect    string
}

type imageNode struct {
	SourceURL string `json:"sourceUrl"`
}

func (i *imageNode) sourceURL() string {
	if i == nil {
		return ""
	}
	return i.SourceURL
}

type productNode struct {
	ID                string      `json:"id"`
	DatabaseID        int64       `json:"databaseId"`
	Name              string      `json:"name"`
	Slug              string      `json:"slug"`
	ShortDescription  string      `json:"shortDescription"`
	Description       string      `json:"description"`
	Image             *imageNode  `json:"image"`
	Price             looseString `json:"price"`
	RegularPrice      looseString `json:"regularPrice"`
	SalePrice         looseString `json:"salePrice"`
	StockStatus       string      `json:"stockStatus"`
	ProductCategories *struct {
		Nodes []categoryNode `json:"nodes"`
	} `json:"productCategories"`
}

type categoryNode struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	Image       *imageNode `json:"image"`
}

type cartNode struct {
	Contents struct {
		Nodes []cartLineNode `json:"nodes"`
	} `json:"contents"`
	Subtotal      looseString `json:"subtotal"`
	Total         looseString `json:"total"`
	TotalTax      looseString `json:"totalTax"`
	ShippingTotal looseString `json:"shippingTotal"`
}

type cartLineNode struct {
	Key     string `json:"key"`
	Product *struct {
		Node *struct {
			ID         string      `json:"id"`
			DatabaseID int64       `json:"databaseId"`
			Name       string      `json:"name"`
			Slug       string      `json:"slug"`
			Image      *imageNode  `json:"image"`
			Price      looseString `json:"price"`
		} `json:"node"`
	} `json:"product"`
	Quantity  int `json:"quantity"`
	Variation *struct {
		Attributes []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"attributes"`
	} `json:"variation"`
}

func (c *Client) toProduct(node productNode) domain.Product {
	id := node.ID
	if id == "" && node.DatabaseID > 0 {
		id = strconv.FormatInt(node.DatabaseID, 10)
	}
	category := uncategorized
	if node.ProductCategories != nil && len(node.ProductCategories.Nodes) > 0 && node.ProductCategories.Nodes[0].Name != "" {
		category = node.ProductCategories.Nodes[0].Name
	}
	stock := domain.StockStatus(node.StockStatus)
	if stock == "" {
		stock = domain.StockInStock
	}
	return domain.Product{
		ID:          id,
		Title:       node.Name,
		Price:       firstPrice(node.Price, node.SalePrice, node.RegularPrice),
		Image:       node.Image.sourceURL(),
		Category:    category,
		Description: c.plainText(defaultString(node.ShortDescription, node.Description)),
		Slug:        node.Slug,
		StockStatus: stock,
		DatabaseID:  node.DatabaseID,
	}
}

func (c *Client) plainText(markup string) string {
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(markup)))
}

func toRemoteLine(node cartLineNode) (RemoteLine, bool) {
	if node.Product == nil || node.Product.Node == nil {
		return RemoteLine{}, false
	}
	p := node.Product.Node
	id := p.ID
	if id == "" && p.DatabaseID > 0 {
		id = strconv.FormatInt(p.DatabaseID, 10)
	}
	quantity := node.Quantity
	if quantity < 1 {
		quantity = 1
	}
	line := RemoteLine{
		Key:        node.Key,
		ProductID:  id,
		DatabaseID: p.DatabaseID,
		Name:       p.Name,
		Slug:       p.Slug,
		Image:      p.Image.sourceURL(),
		Price:      parsePrice(p.Price.String()),
		Quantity:   quantity,
	}
	if node.Variation != nil {
		for _, attr := range node.Variation.Attributes {
			line.Attributes = append(line.Attributes, Attribute{Name: attr.Name, Value: attr.Value})
		}
	}
	return line, true
}

var priceToken = regexp.MustCompile(`[0-9][0-9,]*(\.[0-9]+)?`)

// firstPrice returns the first non-empty candidate parsed as a price.
func firstPrice(candidates ...looseString) decimal.Decimal {
	for _, c := range candidates {
		if strings.TrimSpace(c.String()) != "" {
			return parsePrice(c.String())
		}
	}
	return decimal.Zero
}

// parsePrice reads the first amount in a formatted price string. Currency symbols may arrive
// as HTML entities; "$1,299.00" is 1299.00 and a range "$10.00 - $20.00" reads as 10.00.
func parsePrice(raw string) decimal.Decimal {
	token := priceToken.FindString(html.UnescapeString(raw))
	if token == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(strings.ReplaceAll(token, ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return value
}
