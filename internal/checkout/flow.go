// Package checkout submits a visitor's cart as an order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/gateway"
)

// Step is the position of the checkout form.
type Step string

const (
	StepDetails    Step = "details"
	StepProcessing Step = "processing"
	StepSuccess    Step = "success"
)

const (
	defaultCountry       = "US"
	defaultPaymentMethod = "bacs"
	// FailedMessage is shown when the backend gives no usable reason.
	FailedMessage = "Checkout failed. Please try again."
)

var (
	// ErrEmptyCart is returned when there is nothing to order.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrInProgress is returned when a submission is already processing.
	ErrInProgress = errors.New("checkout: submission already in progress")
)

// ValidationError lists missing or malformed buyer fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout: invalid fields [%s]", strings.Join(e.Fields, ", "))
}

// Error is a failed submission with a message fit for the buyer.
type Error struct {
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	return "checkout: " + e.UserMessage + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Cart is what the flow reads from the cart synchronizer.
type Cart interface {
	Total() decimal.Decimal
	Count() int
	Wait()
	Resync(ctx context.Context)
}

// Gateway places orders.
type Gateway interface {
	Checkout(ctx context.Context, in domain.CheckoutInput) (gateway.CheckoutResult, error)
}

// FlowDeps wires a Flow.
type FlowDeps struct {
	Gateway Gateway
	Cart    Cart
	Logger  *zap.Logger
}

// Result describes a placed order together with the summary shown on the form.
type Result struct {
	OrderID     int64
	OrderNumber string
	Status      string
	Redirect    string
	Total       decimal.Decimal
	ItemCount   int
}

// Flow is one visitor's checkout form.
type Flow struct {
	gateway Gateway
	cart    Cart
	logger  *zap.Logger

	mu      sync.Mutex
	step    Step
	lastErr string
}

// NewFlow validates deps and returns a flow at the details step.
func NewFlow(deps FlowDeps) (*Flow, error) {
	if deps.Gateway == nil {
		return nil, errors.New("checkout: gateway is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("checkout: cart is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{gateway: deps.Gateway, cart: deps.Cart, logger: logger.Named("checkout"), step: StepDetails}, nil
}

// Step returns the current step and the message of the last failure, if any.
func (f *Flow) Step() (Step, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step, f.lastErr
}

// Reset returns the form to the details step.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = StepDetails
	f.lastErr = ""
}

// Submit validates the buyer details and places the order. The cart mirror is only touched
// after success, by a single resync.
func (f *Flow) Submit(ctx context.Context, in domain.CheckoutInput) (Result, error) {
	in = Normalize(in)
	if err := Validate(in); err != nil {
		return Result{}, err
	}

	// Queued cart updates must reach the backend before it prices the order.
	f.cart.Wait()
	summary := Result{Total: f.cart.Total(), ItemCount: f.cart.Count()}
	if summary.ItemCount == 0 {
		return Result{}, ErrEmptyCart
	}

	f.mu.Lock()
	if f.step == StepProcessing {
		f.mu.Unlock()
		return Result{}, ErrInProgress
	}
	f.step = StepProcessing
	f.lastErr = ""
	f.mu.Unlock()

	order, err := f.gateway.Checkout(ctx, in)
	if err != nil {
		msg := userMessage(err)
		f.logger.Warn("checkout failed", zap.String("user_message", msg), zap.Error(err))
		f.mu.Lock()
		f.step = StepDetails
		f.lastErr = msg
		f.mu.Unlock()
		return Result{}, &Error{UserMessage: msg, Err: err}
	}

	f.mu.Lock()
	f.step = StepSuccess
	f.mu.Unlock()
	f.logger.Info("order placed", zap.Int64("order_id", order.OrderID), zap.String("status", order.Status))

	f.cart.Resync(ctx)

	summary.OrderID = order.OrderID
	summary.OrderNumber = order.OrderNumber
	summary.Status = order.Status
	summary.Redirect = order.Redirect
	return summary, nil
}

// Normalize trims every field and fills the country and payment method defaults.
func Normalize(in domain.CheckoutInput) domain.CheckoutInput {
	out := domain.CheckoutInput{
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Email:         strings.TrimSpace(in.Email),
		Address1:      strings.TrimSpace(in.Address1),
		City:          strings.TrimSpace(in.City),
		State:         strings.TrimSpace(in.State),
		Postcode:      strings.TrimSpace(in.Postcode),
		Country:       strings.ToUpper(strings.TrimSpace(in.Country)),
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
	}
	if out.Country == "" {
		out.Country = defaultCountry
	}
	if out.PaymentMethod == "" {
		out.PaymentMethod = defaultPaymentMethod
	}
	return out
}

// Validate reports the required fields that are empty or malformed.
func Validate(in domain.CheckoutInput) error {
	var fields []string
	required := []struct {
		name  string
		value string
	}{
		{"firstName", in.FirstName},
		{"lastName", in.LastName},
		{"email", in.Email},
		{"address1", in.Address1},
		{"city", in.City},
		{"postcode", in.Postcode},
	}
	for _, r := range required {
		if r.value == "" {
			fields = append(fields, r.name)
		}
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			fields = append(fields, "email")
		}
	}
	if len(in.Country) != 2 {
		fields = append(fields, "country")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func userMessage(err error) string {
	var gqlErr *gateway.GraphQLError
	if errors.As(err, &gqlErr) {
		return gqlErr.Message()
	}
	return FailedMessage
}
