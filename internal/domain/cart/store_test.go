package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/farmcart/farmcart/internal/domain/discount"
	"github.com/farmcart/farmcart/internal/domain/product"
)

// recordingRepo is an in-memory Repository that records the order of remote
// writes and can fail the next n of them.
type recordingRepo struct {
	mu      sync.Mutex
	entries map[string]Entry
	calls   []string
	failN   int
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{entries: make(map[string]Entry)}
}

func (r *recordingRepo) record(call string) error {
	r.calls = append(r.calls, call)
	if r.failN > 0 {
		r.failN--
		return errors.New("injected remote failure")
	}
	return nil
}

func (r *recordingRepo) GetItems(_ context.Context, _ string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, nil
}

func (r *recordingRepo) UpsertItem(_ context.Context, _ string, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("upsert:" + entry.ProductID); err != nil {
		return err
	}
	r.entries[entry.ProductID] = entry
	return nil
}

func (r *recordingRepo) RemoveItem(_ context.Context, _, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("remove:" + productID); err != nil {
		return err
	}
	delete(r.entries, productID)
	return nil
}

func (r *recordingRepo) UpdateQuantity(_ context.Context, _, productID string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("update:" + productID); err != nil {
		return err
	}
	e := r.entries[productID]
	e.Quantity = quantity
	r.entries[productID] = e
	return nil
}

func (r *recordingRepo) Clear(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("clear"); err != nil {
		return err
	}
	r.entries = make(map[string]Entry)
	return nil
}

func (r *recordingRepo) ClearItems(_ context.Context, _ string, productIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("clearItems"); err != nil {
		return err
	}
	for _, id := range productIDs {
		delete(r.entries, id)
	}
	return nil
}

func (r *recordingRepo) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingRepo) setEntries(entries ...Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		r.entries[e.ProductID] = e
	}
}

func tomatoes() product.Product {
	return product.Product{
		ID:       "p1",
		Name:     "Heirloom Tomatoes",
		Price:    decimal.RequireFromString("4.50"),
		FarmerID: "farm-1",
	}
}

func honey() product.Product {
	return product.Product{
		ID:       "p2",
		Name:     "Wildflower Honey",
		Price:    decimal.RequireFromString("12.00"),
		FarmerID: "farm-2",
	}
}

func newTestStore(t *testing.T, repo Repository) *Store {
	t.Helper()
	s := NewStore("buyer-1", repo, discount.DefaultRegistry(), zaptest.NewLogger(t))
	t.Cleanup(s.Close)
	return s
}

func TestStore_AddItemMergesQuantities(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestStore(t, repo)

	require.NoError(t, s.AddItem(tomatoes(), 2))
	require.NoError(t, s.AddItem(tomatoes(), 3))
	require.NoError(t, s.Sync(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Quantity)
	assert.Equal(t, 5, s.TotalItems())

	// The remote record converged to the same quantity.
	remote, err := repo.GetItems(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, 5, remote[0].Quantity)
}

func TestStore_AddItemRejectsNonPositiveQuantity(t *testing.T) {
	s := newTestStore(t, newRecordingRepo())

	assert.ErrorIs(t, s.AddItem(tomatoes(), 0), ErrInvalidQuantity)
	assert.ErrorIs(t, s.AddItem(tomatoes(), -1), ErrInvalidQuantity)
	assert.Empty(t, s.Entries())
}

func TestStore_Totals(t *testing.T) {
	s := newTestStore(t, newRecordingRepo())

	require.NoError(t, s.AddItem(tomatoes(), 2)) // 9.00
	require.NoError(t, s.AddItem(honey(), 1))    // 12.00

	assert.Equal(t, 3, s.TotalItems())
	assert.True(t, decimal.RequireFromString("21.00").Equal(s.Subtotal()), "subtotal %s", s.Subtotal())
}

func TestStore_DiscountRecomputedFromLiveCart(t *testing.T) {
	s := newTestStore(t, newRecordingRepo())

	require.NoError(t, s.AddItem(tomatoes(), 2)) // 9.00
	require.NoError(t, s.ApplyDiscount("FRESH10"))
	assert.True(t, decimal.RequireFromString("0.90").Equal(s.DiscountAmount()))

	// The discount follows the cart, it is never a stored amount.
	require.NoError(t, s.AddItem(honey(), 1)) // 21.00
	assert.True(t, decimal.RequireFromString("2.10").Equal(s.DiscountAmount()))

	s.RemoveDiscount()
	assert.True(t, s.DiscountAmount().IsZero())
}

func TestStore_ApplyUnknownDiscount(t *testing.T) {
	s := newTestStore(t, newRecordingRepo())

	err := s.ApplyDiscount("BOGUS")
	assert.ErrorIs(t, err, discount.ErrUnknownCode)
	assert.Empty(t, s.DiscountCode())
}

func TestStore_UpdateQuantity(t *testing.T) {
	s := newTestStore(t, newRecordingRepo())

	require.NoError(t, s.AddItem(tomatoes(), 2))
	require.NoError(t, s.UpdateQuantity("p1", 7))
	assert.Equal(t, 7, s.TotalItems())

	// Zero means remove.
	require.NoError(t, s.UpdateQuantity("p1", 0))
	assert.Empty(t, s.Entries())

	assert.ErrorIs(t, s.UpdateQuantity("missing", 3), ErrEntryNotFound)
}

func TestStore_RemoteWritesApplyInIssueOrder(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestStore(t, repo)

	require.NoError(t, s.AddItem(tomatoes(), 1))
	require.NoError(t, s.AddItem(honey(), 1))
	require.NoError(t, s.UpdateQuantity("p1", 4))
	s.RemoveItem("p2")
	require.NoError(t, s.Sync(context.Background()))

	assert.Equal(t, []string{"upsert:p1", "upsert:p2", "update:p1", "remove:p2"}, repo.callLog())
}

func TestStore_FailedWriteRefetchesRemoteState(t *testing.T) {
	repo := newRecordingRepo()
	// The remote record already holds a different cart; the failed write must
	// cause the local cache to converge to it.
	repo.setEntries(Entry{ProductID: "p9", Quantity: 3, UnitPrice: decimal.NewFromInt(2), FarmerID: "farm-1"})
	repo.failN = 1

	s := newTestStore(t, repo)
	require.NoError(t, s.AddItem(tomatoes(), 1))
	require.NoError(t, s.Sync(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "p9", entries[0].ProductID, "cache must converge to the remote state after a failed write")
}

func TestStore_RefetchWaitsForQueuedWrites(t *testing.T) {
	repo := newRecordingRepo()
	repo.failN = 1

	s := newTestStore(t, repo)
	require.NoError(t, s.AddItem(tomatoes(), 1)) // remote leg fails
	require.NoError(t, s.AddItem(honey(), 2))    // still queued when it does
	require.NoError(t, s.Sync(context.Background()))

	// The reconciling refetch runs only after the queued write landed
	// remotely, so the second entry must survive in the local cache.
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "p2", entries[0].ProductID)
	assert.Equal(t, 2, entries[0].Quantity)

	remote, err := repo.GetItems(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, "p2", remote[0].ProductID, "local and remote must agree after reconciliation")
}

func TestStore_StaleRefetchDiscarded(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestStore(t, repo)

	require.NoError(t, s.AddItem(tomatoes(), 1))
	require.NoError(t, s.Sync(context.Background()))
	version := s.currentVersion()

	// A fetch that started before this mutation must not overwrite it.
	require.NoError(t, s.AddItem(honey(), 2))
	applied := s.replaceIfVersion(version, []Entry{{ProductID: "p1", Quantity: 1}})
	assert.False(t, applied)
	assert.Len(t, s.Entries(), 2)
}

func TestStore_RetireSubsetAndFull(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestStore(t, repo)

	require.NoError(t, s.AddItem(tomatoes(), 1))
	require.NoError(t, s.AddItem(honey(), 2))
	require.NoError(t, s.ApplyDiscount("FRESH10"))
	require.NoError(t, s.Sync(context.Background()))

	// Subset retirement keeps the other entry and the discount.
	s.Retire([]string{"p1"})
	require.NoError(t, s.Sync(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "p2", entries[0].ProductID)
	assert.Equal(t, "FRESH10", s.DiscountCode())
	assert.Contains(t, repo.callLog(), "clearItems")

	// Retiring the rest empties the cart remotely in one call and drops the
	// discount.
	s.Retire([]string{"p2"})
	require.NoError(t, s.Sync(context.Background()))

	assert.Empty(t, s.Entries())
	assert.Empty(t, s.DiscountCode())
	assert.Contains(t, repo.callLog(), "clear")
}

func TestStore_LoadReplacesCache(t *testing.T) {
	repo := newRecordingRepo()
	repo.setEntries(
		Entry{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(4), FarmerID: "farm-1"},
		Entry{ProductID: "p2", Quantity: 1, UnitPrice: decimal.NewFromInt(6), FarmerID: "farm-1"},
	)

	s := newTestStore(t, repo)
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 3, s.TotalItems())
	assert.True(t, decimal.NewFromInt(14).Equal(s.Subtotal()))
}

func TestStore_EntriesSortedAndCopied(t *testing.T) {
	s := newTestStore(t, newRecordingRepo())

	require.NoError(t, s.AddItem(honey(), 1))
	require.NoError(t, s.AddItem(tomatoes(), 1))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "p1", entries[0].ProductID)
	assert.Equal(t, "p2", entries[1].ProductID)

	// Mutating the returned slice must not touch the store.
	entries[0].Quantity = 99
	assert.Equal(t, 1, s.Entries()[0].Quantity)
}

func TestSessions_ReusePerBuyer(t *testing.T) {
	repo := newRecordingRepo()
	sessions := NewSessions(repo, discount.DefaultRegistry(), zaptest.NewLogger(t))
	t.Cleanup(sessions.Close)

	a, err := sessions.Get(context.Background(), "buyer-a")
	require.NoError(t, err)
	again, err := sessions.Get(context.Background(), "buyer-a")
	require.NoError(t, err)
	b, err := sessions.Get(context.Background(), "buyer-b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
}
