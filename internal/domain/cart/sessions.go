package cart

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/farmcart/farmcart/internal/domain/discount"
)

// Sessions owns one Store per active buyer. Stores are created lazily on
// first use, loaded from the remote record, and live until the session ends.
// There is no process-wide cart state: each store is bound to its buyer.
type Sessions struct {
	repo     Repository
	registry *discount.Registry
	lg       *zap.Logger

	mu     sync.Mutex
	stores map[string]*Store

	sf singleflight.Group
}

// NewSessions creates an empty session registry.
func NewSessions(repo Repository, registry *discount.Registry, lg *zap.Logger) *Sessions {
	return &Sessions{
		repo:     repo,
		registry: registry,
		lg:       lg,
		stores:   make(map[string]*Store),
	}
}

// Get returns the buyer's store, creating and loading it on first use.
// Concurrent first requests for the same buyer collapse into one load.
func (s *Sessions) Get(ctx context.Context, buyerID string) (*Store, error) {
	s.mu.Lock()
	store, ok := s.stores[buyerID]
	s.mu.Unlock()
	if ok {
		return store, nil
	}

	v, err, _ := s.sf.Do(buyerID, func() (interface{}, error) {
		s.mu.Lock()
		existing, ok := s.stores[buyerID]
		s.mu.Unlock()
		if ok {
			return existing, nil
		}

		store := NewStore(buyerID, s.repo, s.registry, s.lg)
		if err := store.Load(ctx); err != nil {
			store.Close()
			return nil, err
		}

		s.mu.Lock()
		s.stores[buyerID] = store
		s.mu.Unlock()
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// End closes and removes the buyer's store, if any.
func (s *Sessions) End(buyerID string) {
	s.mu.Lock()
	store, ok := s.stores[buyerID]
	delete(s.stores, buyerID)
	s.mu.Unlock()
	if ok {
		store.Close()
	}
}

// Close ends every active session.
func (s *Sessions) Close() {
	s.mu.Lock()
	stores := s.stores
	s.stores = make(map[string]*Store)
	s.mu.Unlock()

	for _, store := range stores {
		store.Close()
	}
}
