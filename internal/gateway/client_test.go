package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xdignya776/shoptrae/internal/domain"
)

type recordedRequest struct {
	Query     string
	Variables map[string]any
	Cookie    string
}

type fakeBackend struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(req recordedRequest) (int, string)
}

func newFakeBackend(t *testing.T, respond func(req recordedRequest) (int, string)) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{t: t, respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (f *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		f.t.Errorf("expected POST, got %s", r.Method)
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		f.t.Errorf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(r.Body)
	var req recordedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		f.t.Errorf("decode request: %v", err)
	}
	if c, err := r.Cookie("woocommerce_session"); err == nil {
		req.Cookie = c.Value
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "woocommerce_session", Value: "sess-1", Path: "/"})
	status, payload := f.respond(req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func (f *fakeBackend) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Options{Endpoint: url, Timeout: time.Second})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return c
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
}

func TestListProductsTransformsNodes(t *testing.T) {
	_, srv := newFakeBackend(t, func(req recordedRequest) (int, string) {
		if !strings.Contains(req.Query, "GetProducts") {
			t.Errorf("unexpected query %s", req.Query)
		}
		if req.Variables["first"] != float64(12) {
			t.Errorf("expected first=12, got %v", req.Variables["first"])
		}
		return http.StatusOK, `{"data":{"products":{"nodes":[
			{"id":"cHJvZHVjdDox","databaseId":41,"name":"Midnight Leather","slug":"midnight-leather",
			 "shortDescription":"<p>Full-grain <strong>leather</strong> &amp; MagSafe</p>","description":"ignored",
			 "image":{"sourceUrl":"https://img/1.jpg"},"price":"&#36;1,045.00","stockStatus":"IN_STOCK",
			 "productCategories":{"nodes":[{"id":"c1","name":"Leather Series","slug":"leather-series"}]}},
			{"databaseId":42,"name":"Bare","description":"<em>plain</em>","price":null,"salePrice":"","regularPrice":"$30.00"}
		]}}}`
	})

	products, err := newTestClient(t, srv.URL).ListProducts(context.Background(), 12)
	if err != nil {
		t.Fatalf("ListProducts returned error: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}

	first := products[0]
	if first.ID != "cHJvZHVjdDox" || first.DatabaseID != 41 {
		t.Errorf("unexpected ids %q/%d", first.ID, first.DatabaseID)
	}
	if !first.Price.Equal(decimal.RequireFromString("1045")) {
		t.Errorf("expected price 1045, got %s", first.Price)
	}
	if first.Description != "Full-grain leather & MagSafe" {
		t.Errorf("unexpected description %q", first.Description)
	}
	if first.Category != "Leather Series" || first.Image != "https://img/1.jpg" {
		t.Errorf("unexpected category/image %q %q", first.Category, first.Image)
	}

	second := products[1]
	if second.ID != "42" {
		t.Errorf("expected id from database id, got %q", second.ID)
	}
	if !second.Price.Equal(decimal.RequireFromString("30")) {
		t.Errorf("expected regular price fallback, got %s", second.Price)
	}
	if second.Category != "Uncategorized" || second.StockStatus != domain.StockInStock {
		t.Errorf("unexpected defaults %q %q", second.Category, second.StockStatus)
	}
	if second.Description != "plain" {
		t.Errorf("expected description fallback, got %q", second.Description)
	}
}

func TestGetProductNotFound(t *testing.T) {
	_, srv := newFakeBackend(t, func(recordedRequest) (int, string) {
		return http.StatusOK, `{"data":{"product":null}}`
	})
	_, err := newTestClient(t, srv.URL).GetProduct(context.Background(), "99")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetCartBuildsRemoteLines(t *testing.T) {
	_, srv := newFakeBackend(t, func(recordedRequest) (int, string) {
		return http.StatusOK, `{"data":{"cart":{"contents":{"nodes":[
			{"key":"k1","quantity":2,"product":{"node":{"id":"p1","databaseId":10,"name":"A","price":"$12.50"}},"variation":null},
			{"key":"k2","quantity":1,"product":{"node":{"id":"p2","databaseId":11,"name":"B","price":"$5"}},
			 "variation":{"attributes":[{"name":"model","value":"iPhone 15"},{"name":"color","value":"red"}]}},
			{"key":"k3","quantity":1,"product":null}
		]},"subtotal":"$30.00","total":"$30.00","totalTax":"0","shippingTotal":0}}}`
	})

	cart, err := newTestClient(t, srv.URL).GetCart(context.Background())
	if err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if len(cart.Lines) != 2 {
		t.Fatalf("expected lines without product to be skipped, got %d", len(cart.Lines))
	}
	if got := cart.Lines[0].VariantLabel(); got != domain.DefaultVariant {
		t.Errorf("expected default variant, got %q", got)
	}
	if got := cart.Lines[1].VariantLabel(); got != "model:iPhone 15, color:red" {
		t.Errorf("unexpected variant label %q", got)
	}
	line := cart.Lines[0].CartLine()
	if line.Product.ID != "p1" || line.Quantity != 2 || !line.Product.Price.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("unexpected cart line %+v", line)
	}
	if cart.Total != "$30.00" || cart.ShippingTotal != "0" {
		t.Errorf("unexpected totals %+v", cart)
	}
}

func TestMutationsSendInputs(t *testing.T) {
	fb, srv := newFakeBackend(t, func(recordedRequest) (int, string) {
		return http.StatusOK, `{"data":{}}`
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if err := c.AddToCart(ctx, 10, 2, 0); err != nil {
		t.Fatalf("AddToCart returned error: %v", err)
	}
	input := fb.last().Variables["input"].(map[string]any)
	if input["productId"] != float64(10) || input["quantity"] != float64(2) {
		t.Errorf("unexpected add input %v", input)
	}
	if _, ok := input["variationId"]; ok {
		t.Errorf("variationId must be omitted when zero")
	}

	if err := c.UpdateItemQuantities(ctx, "k1", 3); err != nil {
		t.Fatalf("UpdateItemQuantities returned error: %v", err)
	}
	items := fb.last().Variables["input"].(map[string]any)["items"].([]any)
	if item := items[0].(map[string]any); item["key"] != "k1" || item["quantity"] != float64(3) {
		t.Errorf("unexpected update item %v", item)
	}

	if err := c.RemoveItems(ctx, "k1", "k2"); err != nil {
		t.Fatalf("RemoveItems returned error: %v", err)
	}
	keys := fb.last().Variables["input"].(map[string]any)["keys"].([]any)
	if len(keys) != 2 {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestSessionCookieCarriedPerClient(t *testing.T) {
	fb, srv := newFakeBackend(t, func(recordedRequest) (int, string) {
		return http.StatusOK, `{"data":{"cart":null}}`
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.GetCart(ctx); err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if _, err := c.GetCart(ctx); err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if fb.last().Cookie != "sess-1" {
		t.Fatalf("expected session cookie on second request")
	}

	other, err := c.NewSession()
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	if _, err := other.GetCart(ctx); err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if fb.last().Cookie != "" {
		t.Fatalf("expected a fresh session to start without cookies")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
		message string
	}{
		{name: "http status", status: http.StatusBadGateway, body: "upstream down", wantErr: ErrTransport},
		{name: "bad json", status: http.StatusOK, body: "<html>", wantErr: ErrTransport},
		{name: "graphql errors", status: http.StatusOK, body: `{"errors":[{"message":"Sorry, this product cannot be purchased."}]}`, wantErr: ErrApplication, message: "Sorry, this product cannot be purchased."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, srv := newFakeBackend(t, func(recordedRequest) (int, string) { return tc.status, tc.body })
			err := newTestClient(t, srv.URL).AddToCart(context.Background(), 1, 1, 0)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.message != "" {
				var gqlErr *GraphQLError
				if !errors.As(err, &gqlErr) || gqlErr.Message() != tc.message {
					t.Fatalf("expected message %q, got %v", tc.message, err)
				}
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	_, srv := newFakeBackend(t, func(recordedRequest) (int, string) { return http.StatusOK, `{}` })
	url := srv.URL
	srv.Close()
	if _, err := newTestClient(t, url).GetCart(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestCheckout(t *testing.T) {
	fb, srv := newFakeBackend(t, func(recordedRequest) (int, string) {
		return http.StatusOK, `{"data":{"checkout":{"order":{"databaseId":501,"orderNumber":"501","status":"PENDING","total":"$45.00"},"result":"success","redirect":"https://shop/thanks"}}}`
	})
	res, err := newTestClient(t, srv.URL).Checkout(context.Background(), domain.CheckoutInput{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
		Address1: "1 Loop", City: "London", Postcode: "N1",
	})
	if err != nil {
		t.Fatalf("Checkout returned error: %v", err)
	}
	if res.OrderID != 501 || res.Redirect != "https://shop/thanks" {
		t.Errorf("unexpected result %+v", res)
	}
	input := fb.last().Variables["input"].(map[string]any)
	if input["paymentMethod"] != "bacs" || input["isPaid"] != false {
		t.Errorf("unexpected defaults %v", input)
	}
	shipping := input["shipping"].(map[string]any)
	if shipping["country"] != "US" || shipping["city"] != "London" {
		t.Errorf("unexpected shipping %v", shipping)
	}
	if _, ok := shipping["email"]; ok {
		t.Errorf("shipping must not carry email")
	}
}

func TestCheckoutWithoutOrderIsApplicationError(t *testing.T) {
	_, srv := newFakeBackend(t, func(recordedRequest) (int, string) {
		return http.StatusOK, `{"data":{"checkout":{"order":null,"result":"Payment declined"}}}`
	})
	_, err := newTestClient(t, srv.URL).Checkout(context.Background(), domain.CheckoutInput{})
	var gqlErr *GraphQLError
	if !errors.As(err, &gqlErr) || gqlErr.Message() != "Payment declined" {
		t.Fatalf("expected application error with result message, got %v", err)
	}
}

func TestParsePrice(t *testing.T) {
	cases := map[string]string{
		"$45.00":          "45",
		"&#36;1,299.99":   "1299.99",
		"$10.00 - $20.00": "10",
		"":                "0",
		"free":            "0",
		"29":              "29",
	}
	for raw, want := range cases {
		if got := parsePrice(raw); !got.Equal(decimal.RequireFromString(want)) {
			t.Errorf("parsePrice(%q) = %s, want %s", raw, got, want)
		}
	}
}
