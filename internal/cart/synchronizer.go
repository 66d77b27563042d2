// Package cart keeps a visitor's local cart mirror converged with the commerce backend.
//
// Every mutation is applied to the mirror immediately and stamped with a monotonically
// increasing sequence number. Remote calls run in order on a per-cart queue, and each
// corrective resync remembers the sequence it was issued at. When a resync lands, lines
// stamped after that point keep their optimistic value, so a resync only ever overwrites
// changes it could have observed. Changes made before a line's remote key was known are
// marked unsent and pushed to the backend by the resync that first maps the key.
package cart

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/gateway"
)

const meterName = "github.com/xdignya776/shoptrae/internal/cart"

var errGatewayRequired = errors.New("cart: gateway is required")

// Gateway is the subset of the commerce backend the synchronizer drives.
type Gateway interface {
	GetCart(ctx context.Context) (gateway.RemoteCart, error)
	AddToCart(ctx context.Context, databaseID int64, quantity int, variationID int64) error
	UpdateItemQuantities(ctx context.Context, key string, quantity int) error
	RemoveItems(ctx context.Context, keys ...string) error
}

// LineState tracks how far a line has come towards the backend.
type LineState string

const (
	// StateLocalOnly lines have no remote identifier and are never resynced away.
	StateLocalOnly LineState = "local-only"
	// StatePendingRemote lines carry an optimistic change the backend has not confirmed.
	StatePendingRemote LineState = "pending-remote"
	// StateSynced lines match the last applied resync.
	StateSynced LineState = "synced"
)

// Line is a cart line as seen by callers.
type Line struct {
	domain.CartLine
	State     LineState
	RemoteKey string
}

// Snapshot is a consistent view of the cart.
type Snapshot struct {
	Lines []Line
	Total decimal.Decimal
	Count int
	Open  bool
}

// SynchronizerDeps wires a Synchronizer.
type SynchronizerDeps struct {
	Gateway Gateway
	Logger  *zap.Logger
	Meter   metric.Meter
}

type entry struct {
	line   domain.CartLine
	state  LineState
	stamp  uint64
	unsent bool
}

// tombstone hides a removed line from resyncs that started before the removal.
type tombstone struct {
	stamp uint64
	sent  bool
}

// Synchronizer owns one cart mirror, its remote key table and the open flag.
type Synchronizer struct {
	gateway Gateway
	logger  *zap.Logger

	resyncs     metric.Int64Counter
	remoteCalls metric.Int64Counter
	flight      singleflight.Group

	mu         sync.Mutex
	seq        uint64
	applied    uint64
	lines      []*entry
	remoteKeys map[domain.LineKey]string
	removed    map[domain.LineKey]tombstone
	open       bool

	qmu      sync.Mutex
	queue    []func()
	draining bool
	closed   bool
	idle     chan struct{}
}

// NewSynchronizer constructs an empty cart. Call Resync to load the remote cart.
func NewSynchronizer(deps SynchronizerDeps) (*Synchronizer, error) {
	if deps.Gateway == nil {
		return nil, errGatewayRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	resyncs, err := meter.Int64Counter("cart.resync", metric.WithDescription("Cart resyncs by outcome"))
	if err != nil {
		return nil, err
	}
	remoteCalls, err := meter.Int64Counter("cart.remote_calls", metric.WithDescription("Cart calls to the commerce backend"))
	if err != nil {
		return nil, err
	}

	idle := make(chan struct{})
	close(idle)
	return &Synchronizer{
		gateway:     deps.Gateway,
		logger:      logger.Named("cart"),
		resyncs:     resyncs,
		remoteCalls: remoteCalls,
		remoteKeys:  make(map[domain.LineKey]string),
		removed:     make(map[domain.LineKey]tombstone),
		idle:        idle,
	}, nil
}

// Resync replaces the remote-backed part of the mirror with the backend cart. Failures are
// logged and leave the mirror untouched. Concurrent callers share one fetch.
func (s *Synchronizer) Resync(ctx context.Context) {
	s.mu.Lock()
	key := strconv.FormatUint(s.seq, 10)
	s.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	result := s.flight.DoChan(key, func() (any, error) {
		done := make(chan struct{})
		s.mu.Lock()
		since := s.seq
		queued := s.enqueue(func() {
			defer close(done)
			s.resync(bg, since)
		})
		s.mu.Unlock()
		if !queued {
			return nil, nil
		}
		<-done
		return nil, nil
	})

	select {
	case <-result:
	case <-ctx.Done():
	}
}

// Add merges quantity units of product into the line (product, variant) and opens the cart.
// Products without a remote identifier stay local; others are added remotely in the background.
func (s *Synchronizer) Add(ctx context.Context, product domain.Product, variant string, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	key := domain.NewLineKey(product.ID, variant)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	seq := s.seq
	s.open = true
	// Re-adding over a removal the backend never saw leaves the old remote quantity behind,
	// so the line needs an absolute update once its key is known.
	stale := false
	if t, ok := s.removed[key]; ok {
		stale = !t.sent
		delete(s.removed, key)
	}

	if e := s.find(key); e != nil {
		e.line.Quantity += quantity
		e.stamp = seq
		if e.state != StateLocalOnly {
			e.state = StatePendingRemote
		}
	} else {
		state := StatePendingRemote
		if !product.HasRemoteID() {
			state = StateLocalOnly
		}
		s.lines = append(s.lines, &entry{
			line:   domain.CartLine{Product: product, Variant: key.Variant, Quantity: quantity},
			state:  state,
			stamp:  seq,
			unsent: stale && state != StateLocalOnly,
		})
	}

	if !product.HasRemoteID() {
		s.logger.Debug("product has no remote id, keeping line local", zap.String("product_id", product.ID))
		return
	}

	bg := context.WithoutCancel(ctx)
	databaseID := product.DatabaseID
	s.enqueue(func() {
		_ = s.call(bg, "AddToCart", func(ctx context.Context) error {
			return s.gateway.AddToCart(ctx, databaseID, quantity, 0)
		})
		s.resync(bg, seq)
	})
}

// Remove drops the line immediately. The backend is told only when a remote key is known,
// and a failed remote remove triggers a resync.
func (s *Synchronizer) Remove(ctx context.Context, productID, variant string) {
	key := domain.NewLineKey(productID, variant)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	seq := s.seq
	s.drop(key)

	remoteKey, ok := s.remoteKeys[key]
	s.removed[key] = tombstone{stamp: seq, sent: ok}
	if !ok {
		return
	}
	delete(s.remoteKeys, key)

	bg := context.WithoutCancel(ctx)
	s.enqueue(func() {
		err := s.call(bg, "RemoveItemsFromCart", func(ctx context.Context) error {
			return s.gateway.RemoveItems(ctx, remoteKey)
		})
		if err != nil {
			s.resync(bg, seq)
		}
	})
}

// UpdateQuantity sets the line quantity; below one it removes the line. With a remote key the
// backend is updated and the cart resynced whatever the outcome.
func (s *Synchronizer) UpdateQuantity(ctx context.Context, productID, variant string, quantity int) {
	if quantity < 1 {
		s.Remove(ctx, productID, variant)
		return
	}
	key := domain.NewLineKey(productID, variant)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	seq := s.seq

	remoteKey, hasKey := s.remoteKeys[key]
	if e := s.find(key); e != nil {
		e.line.Quantity = quantity
		e.stamp = seq
		if e.state != StateLocalOnly {
			e.state = StatePendingRemote
			e.unsent = !hasKey
		}
	}
	if !hasKey {
		return
	}

	bg := context.WithoutCancel(ctx)
	s.enqueue(func() {
		_ = s.call(bg, "UpdateItemQuantities", func(ctx context.Context) error {
			return s.gateway.UpdateItemQuantities(ctx, remoteKey, quantity)
		})
		s.resync(bg, seq)
	})
}

// Total is the sum of price times quantity over the current lines.
func (s *Synchronizer) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total()
}

// Count is the number of units in the cart.
func (s *Synchronizer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count()
}

// Lines returns a copy of the current lines in display order.
func (s *Synchronizer) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linesCopy()
}

// Snapshot returns lines, totals and the open flag read under one lock.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Lines: s.linesCopy(), Total: s.total(), Count: s.count(), Open: s.open}
}

// RemoteKeys returns a copy of the line to remote key table.
func (s *Synchronizer) RemoteKeys() map[domain.LineKey]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.LineKey]string, len(s.remoteKeys))
	for k, v := range s.remoteKeys {
		out[k] = v
	}
	return out
}

// IsOpen reports the cart drawer flag.
func (s *Synchronizer) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// ToggleOpen flips the cart drawer flag and returns the new value.
func (s *Synchronizer) ToggleOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = !s.open
	return s.open
}

// Wait blocks until every queued remote call and resync has finished.
func (s *Synchronizer) Wait() {
	s.qmu.Lock()
	idle := s.idle
	s.qmu.Unlock()
	<-idle
}

// Close stops accepting remote work and drains the queue. Local mutations keep working.
func (s *Synchronizer) Close() {
	s.qmu.Lock()
	s.closed = true
	s.qmu.Unlock()
	s.Wait()
}

func (s *Synchronizer) resync(ctx context.Context, since uint64) {
	var remote gateway.RemoteCart
	err := s.call(ctx, "GetCart", func(ctx context.Context) error {
		var err error
		remote, err = s.gateway.GetCart(ctx)
		return err
	})
	if err != nil {
		s.resyncs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		s.logger.Warn("cart resync failed, keeping local mirror", zap.Error(err))
		return
	}

	outcome := "applied"
	if !s.apply(remote, since) {
		outcome = "superseded"
	}
	s.resyncs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// apply installs a remote cart fetched for the state at sequence since. It reports false
// when a resync issued later has already been applied. Local changes that were never sent
// because the remote key was unknown are queued now that the key is mapped.
func (s *Synchronizer) apply(remote gateway.RemoteCart, since uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if since < s.applied {
		return false
	}
	s.applied = since

	next := make([]*entry, 0, len(remote.Lines)+len(s.lines))
	keys := make(map[domain.LineKey]string, len(remote.Lines))
	seen := make(map[domain.LineKey]*entry, len(remote.Lines))
	removals := make(map[domain.LineKey][]string)
	var updates []*entry

	for _, rl := range remote.Lines {
		line := rl.CartLine()
		key := line.Key()
		if t, ok := s.removed[key]; ok && (t.stamp > since || !t.sent) {
			if !t.sent {
				removals[key] = append(removals[key], rl.Key)
			}
			continue
		}
		if dup, ok := seen[key]; ok {
			if dup.state == StateSynced {
				dup.line.Quantity += line.Quantity
			}
			continue
		}
		e := &entry{line: line, state: StateSynced, stamp: since}
		if local := s.find(key); local != nil && (local.stamp > since || local.unsent) {
			e = local
			if local.unsent {
				updates = append(updates, local)
			}
		}
		next = append(next, e)
		seen[key] = e
		keys[key] = rl.Key
	}
	for _, e := range s.lines {
		key := e.line.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		if e.state == StateLocalOnly || e.stamp > since {
			next = append(next, e)
		}
	}
	for key, t := range s.removed {
		if _, pending := removals[key]; t.stamp <= since && !pending {
			delete(s.removed, key)
		}
	}

	s.lines = next
	s.remoteKeys = keys

	for key, remoteKeys := range removals {
		s.pushRemoval(key, remoteKeys)
	}
	for _, e := range updates {
		s.pushQuantity(e, keys[e.line.Key()])
	}
	return true
}

// pushRemoval sends a removal that happened before the line's remote key was known.
// Callers hold s.mu.
func (s *Synchronizer) pushRemoval(key domain.LineKey, remoteKeys []string) {
	s.seq++
	seq := s.seq
	s.removed[key] = tombstone{stamp: seq, sent: true}

	bg := context.Background()
	s.enqueue(func() {
		err := s.call(bg, "RemoveItemsFromCart", func(ctx context.Context) error {
			return s.gateway.RemoveItems(ctx, remoteKeys...)
		})
		if err != nil {
			s.resync(bg, seq)
		}
	})
}

// pushQuantity sends the quantity of a line changed before its remote key was known.
// Callers hold s.mu.
func (s *Synchronizer) pushQuantity(e *entry, remoteKey string) {
	s.seq++
	seq := s.seq
	e.stamp = seq
	e.unsent = false
	quantity := e.line.Quantity

	bg := context.Background()
	s.enqueue(func() {
		_ = s.call(bg, "UpdateItemQuantities", func(ctx context.Context) error {
			return s.gateway.UpdateItemQuantities(ctx, remoteKey, quantity)
		})
		s.resync(bg, seq)
	})
}

func (s *Synchronizer) call(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Warn("cart remote call failed", zap.String("operation", op), zap.Error(err))
	}
	s.remoteCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
	return err
}

// enqueue schedules fn behind all earlier remote work. Callers hold s.mu so queue order
// follows mutation order.
func (s *Synchronizer) enqueue(fn func()) bool {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closed {
		s.logger.Debug("cart closed, skipping remote work")
		return false
	}
	s.queue = append(s.queue, fn)
	if !s.draining {
		s.draining = true
		s.idle = make(chan struct{})
		go s.drain(s.idle)
	}
	return true
}

func (s *Synchronizer) drain(idle chan struct{}) {
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			close(idle)
			s.qmu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.qmu.Unlock()
		next()
	}
}

func (s *Synchronizer) find(key domain.LineKey) *entry {
	for _, e := range s.lines {
		if e.line.Key() == key {
			return e
		}
	}
	return nil
}

func (s *Synchronizer) drop(key domain.LineKey) {
	kept := s.lines[:0]
	for _, e := range s.lines {
		if e.line.Key() != key {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(s.lines); i++ {
		s.lines[i] = nil
	}
	s.lines = kept
}

func (s *Synchronizer) total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.lines {
		total = total.Add(e.line.Subtotal())
	}
	return total
}

func (s *Synchronizer) count() int {
	n := 0
	for _, e := range s.lines {
		n += e.line.Quantity
	}
	return n
}

func (s *Synchronizer) linesCopy() []Line {
	out := make([]Line, 0, len(s.lines))
	for _, e := range s.lines {
		out = append(out, Line{CartLine: e.line, State: e.state, RemoteKey: s.remoteKeys[e.line.Key()]})
	}
	return out
}
