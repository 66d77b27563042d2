package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xdignya776/shoptrae/internal/cart"
	"github.com/xdignya776/shoptrae/internal/checkout"
	"github.com/xdignya776/shoptrae/internal/wishlist"
)

const defaultIdleTTL = 2 * time.Hour

var (
	// ErrClosed is returned once the registry has been shut down.
	ErrClosed = errors.New("session: registry closed")
	// ErrVisitorRequired is returned for an empty visitor id.
	ErrVisitorRequired = errors.New("session: visitor id is required")
)

// Gateway is one visitor's connection to the commerce backend. Each visitor gets its own so
// the backend session cookie is never shared.
type Gateway interface {
	cart.Gateway
	checkout.Gateway
}

// RegistryDeps wires a Registry.
type RegistryDeps struct {
	NewGateway func() (Gateway, error)
	Storage    wishlist.Storage
	Logger     *zap.Logger
	Meter      metric.Meter
	IdleTTL    time.Duration
	Now        func() time.Time
}

// Visitor is the state owned by one browser session.
type Visitor struct {
	ID       string
	Cart     *cart.Synchronizer
	Wishlist *wishlist.Store
	Checkout *checkout.Flow

	lastSeen time.Time
}

// Registry maps visitor ids to their state, creating visitors on first use.
type Registry struct {
	newGateway func() (Gateway, error)
	storage    wishlist.Storage
	logger     *zap.Logger
	meter      metric.Meter
	idleTTL    time.Duration
	now        func() time.Time

	mu       sync.Mutex
	visitors map[string]*Visitor
	closed   bool
}

// NewRegistry validates deps and returns an empty registry.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.NewGateway == nil {
		return nil, errors.New("session: gateway factory is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("session: wishlist storage is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		newGateway: deps.NewGateway,
		storage:    deps.Storage,
		logger:     logger.Named("session"),
		meter:      deps.Meter,
		idleTTL:    ttl,
		now:        now,
		visitors:   make(map[string]*Visitor),
	}, nil
}

// Visitor returns the state for id, building it and loading the remote cart on first use.
func (r *Registry) Visitor(ctx context.Context, id string) (*Visitor, error) {
	if id == "" {
		return nil, ErrVisitorRequired
	}
	if v, err := r.lookup(id); v != nil || err != nil {
		return v, err
	}

	built, err := r.build(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		built.Cart.Close()
		return nil, ErrClosed
	}
	if existing, ok := r.visitors[id]; ok {
		existing.lastSeen = r.now()
		r.mu.Unlock()
		built.Cart.Close()
		return existing, nil
	}
	built.lastSeen = r.now()
	r.visitors[id] = built
	r.mu.Unlock()

	r.logger.Debug("visitor created", zap.String("visitor_id", id))
	built.Cart.Resync(ctx)
	return built, nil
}

// Len reports how many visitors are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// Sweep evicts visitors idle for longer than the TTL and returns how many were evicted.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)
	var evicted []*Visitor

	r.mu.Lock()
	for id, v := range r.visitors {
		if v.lastSeen.Before(cutoff) {
			evicted = append(evicted, v)
			delete(r.visitors, id)
		}
	}
	r.mu.Unlock()

	for _, v := range evicted {
		v.Cart.Close()
	}
	if len(evicted) > 0 {
		r.logger.Info("evicted idle visitors", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// RunJanitor sweeps on every tick until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close drains every visitor's pending cart work and rejects further lookups.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	visitors := r.visitors
	r.visitors = make(map[string]*Visitor)
	r.mu.Unlock()

	for _, v := range visitors {
		v.Cart.Close()
	}
}

func (r *Registry) lookup(id string) (*Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	v, ok := r.visitors[id]
	if !ok {
		return nil, nil
	}
	v.lastSeen = r.now()
	return v, nil
}

func (r *Registry) build(ctx context.Context, id string) (*Visitor, error) {
	gw, err := r.newGateway()
	if err != nil {
		return nil, fmt.Errorf("session: open gateway session: %w", err)
	}
	logger := r.logger.With(zap.String("visitor_id", id))

	synchronizer, err := cart.NewSynchronizer(cart.SynchronizerDeps{Gateway: gw, Logger: logger, Meter: r.meter})
	if err != nil {
		return nil, fmt.Errorf("session: build cart: %w", err)
	}
	store, err := wishlist.NewStore(ctx, wishlist.StoreDeps{Storage: r.storage, Owner: id, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("session: build wishlist: %w", err)
	}
	flow, err := checkout.NewFlow(checkout.FlowDeps{Gateway: gw, Cart: synchronizer, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("session: build checkout: %w", err)
	}
	return &Visitor{ID: id, Cart: synchronizer, Wishlist: store, Checkout: flow}, nil
}
