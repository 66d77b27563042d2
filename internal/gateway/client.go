// Package gateway talks to the commerce backend's GraphQL endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/platform/observability"
)

const (
	defaultTimeout        = 8 * time.Second
	defaultPaymentMethod  = "bacs"
	defaultCountry        = "US"
	maxErrorBodyBytes     = 2048
	checkoutFailedMessage = "Checkout failed"
)

// Options configure a Client.
type Options struct {
	Endpoint  string
	Timeout   time.Duration
	Logger    *zap.Logger
	Transport http.RoundTripper
}

// Client issues GraphQL requests against the commerce backend. Each client owns a cookie jar,
// so the backend's cart session follows the client rather than the process.
type Client struct {
	endpoint  string
	timeout   time.Duration
	transport http.RoundTripper
	http      *http.Client
	logger    *zap.Logger
	policy    *bluemonday.Policy
}

// New constructs a Client with its own cookie jar.
func New(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("gateway: endpoint is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		endpoint:  endpoint,
		timeout:   timeout,
		transport: opts.Transport,
		logger:    logger.Named("gateway"),
		policy:    bluemonday.StrictPolicy(),
	}
	httpClient, err := c.newHTTPClient()
	if err != nil {
		return nil, err
	}
	c.http = httpClient
	return c, nil
}

// NewSession returns a client with the same endpoint and a fresh cookie jar, for one visitor.
func (c *Client) NewSession() (*Client, error) {
	clone := *c
	httpClient, err := clone.newHTTPClient()
	if err != nil {
		return nil, err
	}
	clone.http = httpClient
	return &clone, nil
}

func (c *Client) newHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("gateway: cookie jar: %w", err)
	}
	return &http.Client{Timeout: c.timeout, Jar: jar, Transport: c.transport}, nil
}

// ListProducts returns up to first products.
func (c *Client) ListProducts(ctx context.Context, first int) ([]domain.Product, error) {
	var data struct {
		Products *struct {
			Nodes []productNode `json:"nodes"`
		} `json:"products"`
	}
	if err := c.do(ctx, "GetProducts", listProductsQuery, map[string]any{"first": first}, &data); err != nil {
		return nil, err
	}
	if data.Products == nil {
		return nil, nil
	}
	out := make([]domain.Product, 0, len(data.Products.Nodes))
	for _, node := range data.Products.Nodes {
		out = append(out, c.toProduct(node))
	}
	return out, nil
}

// GetProduct looks up a single product by its numeric database id.
func (c *Client) GetProduct(ctx context.Context, databaseID string) (domain.Product, error) {
	var data struct {
		Product *productNode `json:"product"`
	}
	if err := c.do(ctx, "GetProduct", getProductQuery, map[string]any{"id": databaseID}, &data); err != nil {
		return domain.Product{}, err
	}
	if data.Product == nil {
		return domain.Product{}, ErrNotFound
	}
	return c.toProduct(*data.Product), nil
}

// ListCategories returns the first hundred product categories.
func (c *Client) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var data struct {
		ProductCategories *struct {
			Nodes []categoryNode `json:"nodes"`
		} `json:"productCategories"`
	}
	if err := c.do(ctx, "GetCategories", listCategoriesQuery, nil, &data); err != nil {
		return nil, err
	}
	if data.ProductCategories == nil {
		return nil, nil
	}
	out := make([]domain.Category, 0, len(data.ProductCategories.Nodes))
	for _, node := range data.ProductCategories.Nodes {
		out = append(out, domain.Category{
			ID:          node.ID,
			Name:        node.Name,
			Slug:        node.Slug,
			Description: node.Description,
			Image:       node.Image.sourceURL(),
		})
	}
	return out, nil
}

// GetCart fetches the authoritative cart of this client's session.
func (c *Client) GetCart(ctx context.Context) (RemoteCart, error) {
	var data struct {
		Cart *cartNode `json:"cart"`
	}
	if err := c.do(ctx, "GetCart", getCartQuery, nil, &data); err != nil {
		return RemoteCart{}, err
	}
	if data.Cart == nil {
		return RemoteCart{}, nil
	}
	cart := RemoteCart{
		Subtotal:      data.Cart.Subtotal.String(),
		Total:         data.Cart.Total.String(),
		TotalTax:      data.Cart.TotalTax.String(),
		ShippingTotal: data.Cart.ShippingTotal.String(),
	}
	for _, node := range data.Cart.Contents.Nodes {
		if line, ok := toRemoteLine(node); ok {
			cart.Lines = append(cart.Lines, line)
		}
	}
	return cart, nil
}

// AddToCart adds quantity units of the product. variationID is sent only when positive.
func (c *Client) AddToCart(ctx context.Context, databaseID int64, quantity int, variationID int64) error {
	input := map[string]any{
		"productId": databaseID,
		"quantity":  quantity,
	}
	if variationID > 0 {
		input["variationId"] = variationID
	}
	var data struct {
		AddToCart *struct {
			CartItem *cartLineNode `json:"cartItem"`
		} `json:"addToCart"`
	}
	return c.do(ctx, "AddToCart", addToCartMutation, map[string]any{"input": input}, &data)
}

// UpdateItemQuantities sets the quantity of the line identified by key.
func (c *Client) UpdateItemQuantities(ctx context.Context, key string, quantity int) error {
	input := map[string]any{
		"items": []map[string]any{{"key": key, "quantity": quantity}},
	}
	var data json.RawMessage
	return c.do(ctx, "UpdateItemQuantities", updateItemQuantitiesMutation, map[string]any{"input": input}, &data)
}

// RemoveItems drops the lines identified by keys.
func (c *Client) RemoveItems(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	var data json.RawMessage
	return c.do(ctx, "RemoveItemsFromCart", removeItemsMutation, map[string]any{"input": map[string]any{"keys": keys}}, &data)
}

// Checkout places an order for the session cart. The shipping address mirrors billing.
func (c *Client) Checkout(ctx context.Context, in domain.CheckoutInput) (CheckoutResult, error) {
	country := defaultString(in.Country, defaultCountry)
	billing := map[string]any{
		"firstName": in.FirstName,
		"lastName":  in.LastName,
		"email":     in.Email,
		"address1":  in.Address1,
		"city":      in.City,
		"state":     in.State,
		"postcode":  in.Postcode,
		"country":   country,
	}
	shipping := map[string]any{
		"firstName": in.FirstName,
		"lastName":  in.LastName,
		"address1":  in.Address1,
		"city":      in.City,
		"state":     in.State,
		"postcode":  in.Postcode,
		"country":   country,
	}
	input := map[string]any{
		"billing":       billing,
		"shipping":      shipping,
		"paymentMethod": defaultString(in.PaymentMethod, defaultPaymentMethod),
		"customerNote":  "",
		"isPaid":        false,
	}

	var data struct {
		Checkout *struct {
			Order *struct {
				DatabaseID  int64       `json:"databaseId"`
				OrderNumber looseString `json:"orderNumber"`
				Status      string      `json:"status"`
				Total       looseString `json:"total"`
			} `json:"order"`
			Result   string `json:"result"`
			Redirect string `json:"redirect"`
		} `json:"checkout"`
	}
	if err := c.do(ctx, "Checkout", checkoutMutation, map[string]any{"input": input}, &data); err != nil {
		return CheckoutResult{}, err
	}
	if data.Checkout == nil || data.Checkout.Order == nil {
		msg := checkoutFailedMessage
		if data.Checkout != nil {
			msg = defaultString(data.Checkout.Result, checkoutFailedMessage)
		}
		return CheckoutResult{}, &GraphQLError{Operation: "Checkout", Messages: []string{msg}}
	}
	order := data.Checkout.Order
	return CheckoutResult{
		OrderID:     order.DatabaseID,
		OrderNumber: order.OrderNumber.String(),
		Status:      order.Status,
		Total:       order.Total.String(),
		Result:      data.Checkout.Result,
		Redirect:    data.Checkout.Redirect,
	}, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, operation, query string, variables map[string]any, out any) (err error) {
	ctx, end := observability.StartClientSpan(ctx, "gateway."+operation,
		attribute.String("graphql.operation.name", operation),
	)
	defer func() {
		end(err)
		if err != nil {
			c.logger.Warn("gateway request failed", zap.String("operation", operation), zap.Error(err))
		}
	}()

	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("gateway: encode %s: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway: build %s: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransport, operation, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s status %d: %s", ErrTransport, operation, resp.StatusCode, drainError(resp.Body))
	}

	var envelope graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrTransport, operation, err)
	}
	if len(envelope.Errors) > 0 {
		gqlErr := &GraphQLError{Operation: operation}
		for _, e := range envelope.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return gqlErr
	}
	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %s: decode data: %v", ErrTransport, operation, err)
	}
	return nil
}

func drainError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return err.Error()
	}
	return strings.TrimSpace(string(data))
}

func defaultString(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// looseString accepts JSON strings, numbers and null.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*s = ""
	case strings.HasPrefix(raw, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
	default:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return fmt.Errorf("gateway: unexpected scalar %s", raw)
		}
		*s = looseString(raw)
	}
	return nil
}

func (s looseString) String() string { return string(s) }
