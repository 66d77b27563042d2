package cart

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xdignya776/shoptrae/internal/domain"
	"github.com/xdignya776/shoptrae/internal/gateway"
)

var errBackend = errors.New("backend unavailable")

// fakeGateway is an in-memory commerce backend. Its cart is the authoritative state.
type fakeGateway struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	attrs    map[int64][]gateway.Attribute
	lines    []gateway.RemoteLine
	nextKey  int
	calls    []string

	failGet    error
	failAdd    error
	failUpdate error
	failRemove error

	// getGate, when set, is received from before GetCart reads the cart.
	getGate    chan struct{}
	getStarted chan struct{}
}

func newFakeGateway(products ...domain.Product) *fakeGateway {
	f := &fakeGateway{
		products: make(map[int64]domain.Product),
		attrs:    make(map[int64][]gateway.Attribute),
	}
	for _, p := range products {
		f.products[p.DatabaseID] = p
	}
	return f
}

func (f *fakeGateway) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeGateway) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeGateway) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGateway) GetCart(context.Context) (gateway.RemoteCart, error) {
	f.record("GetCart")
	f.mu.Lock()
	gate, started := f.getGate, f.getStarted
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return gateway.RemoteCart{}, f.failGet
	}
	out := make([]gateway.RemoteLine, len(f.lines))
	copy(out, f.lines)
	return gateway.RemoteCart{Lines: out}, nil
}

func (f *fakeGateway) AddToCart(_ context.Context, databaseID int64, quantity int, _ int64) error {
	f.record("AddToCart")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd != nil {
		return f.failAdd
	}
	p, ok := f.products[databaseID]
	if !ok {
		return errors.New("unknown product")
	}
	for i := range f.lines {
		if f.lines[i].DatabaseID == databaseID {
			f.lines[i].Quantity += quantity
			return nil
		}
	}
	f.nextKey++
	f.lines = append(f.lines, gateway.RemoteLine{
		Key:        "key-" + strconv.Itoa(f.nextKey),
		ProductID:  p.ID,
		DatabaseID: databaseID,
		Name:       p.Title,
		Price:      p.Price,
		Quantity:   quantity,
		Attributes: f.attrs[databaseID],
	})
	return nil
}

func (f *fakeGateway) UpdateItemQuantities(_ context.Context, key string, quantity int) error {
	f.record("UpdateItemQuantities")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		return f.failUpdate
	}
	for i := range f.lines {
		if f.lines[i].Key == key {
			f.lines[i].Quantity = quantity
			return nil
		}
	}
	return errors.New("unknown key")
}

func (f *fakeGateway) RemoveItems(_ context.Context, keys ...string) error {
	f.record("RemoveItems")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemove != nil {
		return f.failRemove
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	kept := f.lines[:0]
	for _, l := range f.lines {
		if !drop[l.Key] {
			kept = append(kept, l)
		}
	}
	f.lines = kept
	return nil
}

// setRemoteQuantity simulates a change made from another device.
func (f *fakeGateway) setRemoteQuantity(databaseID int64, quantity int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.lines {
		if f.lines[i].DatabaseID == databaseID {
			f.lines[i].Quantity = quantity
		}
	}
}

func (f *fakeGateway) remoteTotal() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, l := range f.lines {
		total = total.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

func (f *fakeGateway) set(fn func(*fakeGateway)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
