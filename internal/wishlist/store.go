// Package wishlist keeps a visitor's favourited product ids in local durable storage.
package wishlist

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// StorageKey is the single storage key holding the serialized id list.
const StorageKey = "wishlist"

// StoreDeps wires a Store.
type StoreDeps struct {
	Storage Storage
	Owner   string
	Logger  *zap.Logger
}

// Store is a set of product ids with stable insertion order. The in-memory list is
// authoritative; storage failures are logged and never surface to callers.
type Store struct {
	storage Storage
	owner   string
	logger  *zap.Logger

	mu    sync.RWMutex
	items []string
}

// NewStore reads the persisted list once.
func NewStore(ctx context.Context, deps StoreDeps) (*Store, error) {
	if deps.Storage == nil {
		return nil, errors.New("wishlist: storage is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{storage: deps.Storage, owner: deps.Owner, logger: logger.Named("wishlist")}

	raw, ok, err := deps.Storage.Get(ctx, deps.Owner, StorageKey)
	switch {
	case err != nil:
		s.logger.Error("failed to load wishlist", zap.Error(err))
	case ok:
		if err := json.Unmarshal([]byte(raw), &s.items); err != nil {
			s.logger.Error("failed to decode wishlist", zap.Error(err))
			s.items = nil
		}
	}
	s.items = dedupe(s.items)
	return s, nil
}

// Toggle flips membership of productID and reports whether it is now in the wishlist.
func (s *Store) Toggle(ctx context.Context, productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	member := false
	if i := indexOf(s.items, productID); i >= 0 {
		s.items = append(s.items[:i:i], s.items[i+1:]...)
	} else {
		s.items = append(s.items, productID)
		member = true
	}
	// Writes happen under the lock so storage always ends with the latest list. The write
	// outlives the request so a disconnecting client cannot leave storage behind memory.
	s.persist(context.WithoutCancel(ctx), s.items)
	return member
}

// Contains reports membership.
func (s *Store) Contains(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.items, productID) >= 0
}

// Items returns the ids in insertion order.
func (s *Store) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.items...)
}

func (s *Store) persist(ctx context.Context, items []string) {
	if len(items) == 0 {
		items = []string{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		s.logger.Error("failed to encode wishlist", zap.Error(err))
		return
	}
	if err := s.storage.Set(ctx, s.owner, StorageKey, string(payload)); err != nil {
		s.logger.Error("failed to save wishlist", zap.Error(err))
	}
}

func indexOf(items []string, id string) int {
	for i, item := range items {
		if item == id {
			return i
		}
	}
	return -1
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
