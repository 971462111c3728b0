package cart

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/domain/discount"
	"github.com/farmcart/farmcart/internal/domain/product"
)

const (
	remoteTimeout = 5 * time.Second
	queueDepth    = 64
)

// Store is one buyer's cart: an in-memory cache of entries plus an optional
// applied discount code, synchronized with the remote cart record.
//
// Mutations are optimistic: the local cache changes first and the remote
// write is enqueued on a per-buyer serial queue, so remote writes are applied
// in the order they were issued. When a remote write fails the store refetches
// the authoritative remote state instead of guessing a compensating local
// edit. The refetch waits until the queue has drained, so it cannot observe
// remote state that predates a still-queued write and clobber that write's
// local entry.
type Store struct {
	buyerID  string
	repo     Repository
	registry *discount.Registry
	lg       *zap.Logger

	mu           sync.Mutex
	entries      map[string]Entry
	discountCode string
	version      uint64 // bumped on every local entry mutation

	jobs    chan storeJob
	stop    context.CancelFunc
	drained chan struct{}

	// needSync is only touched from the worker goroutine.
	needSync bool
}

// storeJob is one unit of work for the mutation worker: a remote write, a
// Sync barrier, or both fields nil for a plain wakeup.
type storeJob struct {
	remote  func(ctx context.Context) error
	barrier chan struct{}
}

// NewStore creates a Store for the given buyer and starts its mutation
// worker. The caller must Close the store when the buyer's session ends.
func NewStore(buyerID string, repo Repository, registry *discount.Registry, lg *zap.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		buyerID:  buyerID,
		repo:     repo,
		registry: registry,
		lg:       lg.With(zap.String("buyer_id", buyerID)),
		entries:  make(map[string]Entry),
		jobs:     make(chan storeJob, queueDepth),
		stop:     cancel,
		drained:  make(chan struct{}),
	}
	go s.runWorker(ctx)
	return s
}

// Load replaces the local cache with the remote cart state. Called once when
// the session starts.
func (s *Store) Load(ctx context.Context) error {
	entries, err := s.repo.GetItems(ctx, s.buyerID)
	if err != nil {
		return err
	}
	s.replace(entries)
	return nil
}

// Close stops the mutation worker. Pending remote writes already enqueued
// are still applied before the worker exits.
func (s *Store) Close() {
	close(s.jobs)
	<-s.drained
	s.stop()
}

func (s *Store) runWorker(ctx context.Context) {
	defer close(s.drained)
	for job := range s.jobs {
		if job.remote != nil {
			opCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
			err := job.remote(opCtx)
			cancel()
			if err != nil {
				s.lg.Warn("Remote cart write failed, scheduling refetch", zap.Error(err))
				s.needSync = true
			}
		}
		// Resynchronize only once the queue is empty: every queued write has
		// then reached the remote record, so the fetched state cannot be
		// older than a write we applied locally.
		if s.needSync && len(s.jobs) == 0 && s.refetch(ctx) {
			s.needSync = false
		}
		if job.barrier != nil {
			close(job.barrier)
		}
	}
}

// enqueue appends a remote write to the serial mutation queue.
func (s *Store) enqueue(remote func(ctx context.Context) error) {
	s.jobs <- storeJob{remote: remote}
}

// refetch resynchronizes the local cache from the remote record. It reports
// whether the fetched state was applied: a local mutation issued while the
// fetch was in flight leaves the fetch stale, so it is discarded and the
// mutation's own queued write re-triggers the refetch.
func (s *Store) refetch(ctx context.Context) bool {
	before := s.currentVersion()

	opCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	entries, err := s.repo.GetItems(opCtx, s.buyerID)
	if err != nil {
		s.lg.Error("Cart refetch failed, cache may be stale", zap.Error(err))
		return false
	}
	return s.replaceIfVersion(before, entries)
}

func (s *Store) currentVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Store) replace(entries []Entry) {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.ProductID] = e
	}
	s.mu.Lock()
	s.entries = m
	s.version++
	s.mu.Unlock()
}

// replaceIfVersion swaps in the fetched entries unless the cache was mutated
// after version was read.
func (s *Store) replaceIfVersion(version uint64, entries []Entry) bool {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.ProductID] = e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return false
	}
	s.entries = m
	return true
}

// AddItem adds quantity units of the product to the cart. If an entry for the
// product already exists its quantity is incremented; otherwise a new entry
// is created with the catalog price snapshotted now.
func (s *Store) AddItem(p product.Product, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	entry, ok := s.entries[p.ID]
	if ok {
		entry.Quantity += quantity
	} else {
		entry = Entry{
			ProductID:   p.ID,
			Quantity:    quantity,
			UnitPrice:   p.Price,
			ProductName: p.Name,
			FarmerID:    p.FarmerID,
		}
	}
	s.entries[p.ID] = entry
	s.version++
	s.mu.Unlock()

	s.enqueue(func(ctx context.Context) error {
		return s.repo.UpsertItem(ctx, s.buyerID, entry)
	})
	return nil
}

// RemoveItem removes the entry for the product from the cart. Removing an
// absent product is a no-op, which makes retries safe.
func (s *Store) RemoveItem(productID string) {
	s.mu.Lock()
	_, ok := s.entries[productID]
	if ok {
		delete(s.entries, productID)
		s.version++
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.enqueue(func(ctx context.Context) error {
		return s.repo.RemoveItem(ctx, s.buyerID, productID)
	})
}

// UpdateQuantity sets the entry's quantity. A quantity of zero or less is
// equivalent to RemoveItem.
func (s *Store) UpdateQuantity(productID string, quantity int) error {
	if quantity <= 0 {
		s.RemoveItem(productID)
		return nil
	}

	s.mu.Lock()
	entry, ok := s.entries[productID]
	if !ok {
		s.mu.Unlock()
		return ErrEntryNotFound
	}
	entry.Quantity = quantity
	s.entries[productID] = entry
	s.version++
	s.mu.Unlock()

	s.enqueue(func(ctx context.Context) error {
		return s.repo.UpdateQuantity(ctx, s.buyerID, productID, quantity)
	})
	return nil
}

// ClearCart empties the cart.
func (s *Store) ClearCart() {
	s.mu.Lock()
	s.entries = make(map[string]Entry)
	s.discountCode = ""
	s.version++
	s.mu.Unlock()

	s.enqueue(func(ctx context.Context) error {
		return s.repo.Clear(ctx, s.buyerID)
	})
}

// Retire removes exactly the given entries, as a side effect of a committed
// checkout. When the set covers the whole cart the remote record is cleared
// in a single call.
func (s *Store) Retire(productIDs []string) {
	if len(productIDs) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range productIDs {
		delete(s.entries, id)
	}
	full := len(s.entries) == 0
	if full {
		s.discountCode = ""
	}
	s.version++
	s.mu.Unlock()

	s.enqueue(func(ctx context.Context) error {
		if full {
			return s.repo.Clear(ctx, s.buyerID)
		}
		return s.repo.ClearItems(ctx, s.buyerID, productIDs)
	})
}

// ApplyDiscount validates the code against the registry and applies it to the
// cart. Pure local state, no remote call. At most one discount is active at a
// time; applying a new code replaces the previous one.
func (s *Store) ApplyDiscount(code string) error {
	if _, err := s.registry.Lookup(code); err != nil {
		return err
	}
	s.mu.Lock()
	s.discountCode = code
	s.mu.Unlock()
	return nil
}

// RemoveDiscount clears the applied discount code.
func (s *Store) RemoveDiscount() {
	s.mu.Lock()
	s.discountCode = ""
	s.mu.Unlock()
}

// DiscountCode returns the currently applied code, or the empty string.
func (s *Store) DiscountCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discountCode
}

// Entries returns a copy of the current cart entries, ordered by product ID.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// TotalItems returns the sum of quantities across all entries.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, e := range s.entries {
		total += e.Quantity
	}
	return total
}

// Subtotal returns the sum of quantity * unit price across all entries.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := decimal.Zero
	for _, e := range s.entries {
		sum = sum.Add(e.LineTotal())
	}
	return sum
}

// DiscountAmount computes the discount for the applied code against the
// current subtotal. It is never cached: totals always reflect the cart as it
// is now.
func (s *Store) DiscountAmount() decimal.Decimal {
	code := s.DiscountCode()
	if code == "" {
		return decimal.Zero
	}
	amount, err := s.registry.Compute(code, s.Subtotal())
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// Sync blocks until every mutation enqueued before the call has completed its
// remote leg, including the reconciliation refetch after a failed write. Used
// before taking a checkout snapshot and in tests.
func (s *Store) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.jobs <- storeJob{barrier: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
