package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/gateway"
)

type stubCart struct {
	mu      sync.Mutex
	total   decimal.Decimal
	count   int
	waits   int
	resyncs int
}

func (c *stubCart) Total() decimal.Decimal { return c.total }
func (c *stubCart) Count() int             { return c.count }

func (c *stubCart) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits++
}

func (c *stubCart) Resync(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resyncs++
}

type stubGateway struct {
	calls  int
	got    domain.CheckoutInput
	result gateway.CheckoutResult
	err    error
	hook   func()
}

func (g *stubGateway) Checkout(_ context.Context, in domain.CheckoutInput) (gateway.CheckoutResult, error) {
	g.calls++
	g.got = in
	if g.hook != nil {
		g.hook()
	}
	return g.result, g.err
}

func validInput() domain.CheckoutInput {
	return domain.CheckoutInput{
		FirstName: " Ada ",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Address1:  "12 Analytical Row",
		City:      "London",
		Postcode:  "N1 9GU",
	}
}

func newFlow(t *testing.T, gw *stubGateway, c *stubCart) *Flow {
	t.Helper()
	flow, err := NewFlow(FlowDeps{Gateway: gw, Cart: c})
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	return flow
}

func TestSubmitSuccessResyncsOnce(t *testing.T) {
	t.Parallel()

	c := &stubCart{total: decimal.RequireFromString("59.98"), count: 2}
	gw := &stubGateway{result: gateway.CheckoutResult{OrderID: 812, OrderNumber: "812", Status: "PENDING", Redirect: "https://shop.example/order-received/812"}}
	flow := newFlow(t, gw, c)

	res, err := flow.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.OrderID != 812 || res.Redirect == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Total.Equal(decimal.RequireFromString("59.98")) || res.ItemCount != 2 {
		t.Fatalf("summary not captured: %+v", res)
	}
	if c.resyncs != 1 {
		t.Fatalf("expected one resync, got %d", c.resyncs)
	}
	if c.waits != 1 {
		t.Fatalf("expected pending cart work to be awaited")
	}
	if gw.got.Country != "US" || gw.got.PaymentMethod != "bacs" || gw.got.FirstName != "Ada" {
		t.Fatalf("input not normalised: %+v", gw.got)
	}
	if step, _ := flow.Step(); step != StepSuccess {
		t.Fatalf("expected success step, got %s", step)
	}

	flow.Reset()
	if step, _ := flow.Step(); step != StepDetails {
		t.Fatalf("expected details after reset, got %s", step)
	}
}

func TestSubmitFailureLeavesCartUntouched(t *testing.T) {
	t.Parallel()

	c := &stubCart{total: decimal.NewFromInt(30), count: 1}
	gw := &stubGateway{err: &gateway.GraphQLError{Operation: "Checkout", Messages: []string{"Invalid billing email"}}}
	flow := newFlow(t, gw, c)

	_, err := flow.Submit(context.Background(), validInput())
	var checkoutErr *Error
	if !errors.As(err, &checkoutErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if checkoutErr.UserMessage != "Invalid billing email" {
		t.Fatalf("unexpected user message %q", checkoutErr.UserMessage)
	}
	if !errors.Is(err, gateway.ErrApplication) {
		t.Fatalf("expected application error in chain")
	}
	if c.resyncs != 0 {
		t.Fatalf("cart must not be resynced after failure")
	}
	step, msg := flow.Step()
	if step != StepDetails || msg != "Invalid billing email" {
		t.Fatalf("expected details step with message, got %s %q", step, msg)
	}
}

func TestSubmitTransportFailureUsesGenericMessage(t *testing.T) {
	t.Parallel()

	c := &stubCart{total: decimal.NewFromInt(30), count: 1}
	gw := &stubGateway{err: errors.Join(gateway.ErrTransport, errors.New("502 Bad Gateway"))}
	flow := newFlow(t, gw, c)

	_, err := flow.Submit(context.Background(), validInput())
	var checkoutErr *Error
	if !errors.As(err, &checkoutErr) || checkoutErr.UserMessage != FailedMessage {
		t.Fatalf("expected generic failure, got %v", err)
	}
}

func TestSubmitRejectsEmptyCartWithoutNetwork(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{}
	flow := newFlow(t, gw, &stubCart{})

	if _, err := flow.Submit(context.Background(), validInput()); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if gw.calls != 0 {
		t.Fatalf("gateway must not be called for an empty cart")
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{}
	flow := newFlow(t, gw, &stubCart{count: 1, total: decimal.NewFromInt(10)})

	in := validInput()
	in.Email = "not-an-email"
	in.City = "  "
	in.Country = "USA"

	_, err := flow.Submit(context.Background(), in)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]bool{"email": true, "city": true, "country": true}
	if len(verr.Fields) != len(want) {
		t.Fatalf("unexpected fields %v", verr.Fields)
	}
	for _, f := range verr.Fields {
		if !want[f] {
			t.Fatalf("unexpected field %q", f)
		}
	}
	if gw.calls != 0 {
		t.Fatalf("gateway must not be called for invalid input")
	}
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	t.Parallel()

	c := &stubCart{total: decimal.NewFromInt(10), count: 1}
	gw := &stubGateway{result: gateway.CheckoutResult{OrderID: 1}}
	flow := newFlow(t, gw, c)

	var inner error
	gw.hook = func() {
		gw.hook = nil
		_, inner = flow.Submit(context.Background(), validInput())
	}
	if _, err := flow.Submit(context.Background(), validInput()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !errors.Is(inner, ErrInProgress) {
		t.Fatalf("expected ErrInProgress for overlapping submit, got %v", inner)
	}
	if gw.calls != 1 {
		t.Fatalf("expected one backend call, got %d", gw.calls)
	}
}

func TestNewFlowRequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := NewFlow(FlowDeps{Cart: &stubCart{}}); err == nil {
		t.Fatalf("expected error without gateway")
	}
	if _, err := NewFlow(FlowDeps{Gateway: &stubGateway{}}); err == nil {
		t.Fatalf("expected error without cart")
	}
}
