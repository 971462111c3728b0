package cache

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/domain/cart"
)

var _ cart.Repository = (*CachedCartRepository)(nil)

// CachedCartRepository decorates a cart.Repository with the Redis cache:
// reads go through the cache, every write invalidates it. Cache failures are
// logged and fall through to the inner repository, never surfaced.
type CachedCartRepository struct {
	inner cart.Repository
	cache *CartCache
	lg    *zap.Logger
}

// NewCachedCartRepository wraps inner with the given cache.
func NewCachedCartRepository(inner cart.Repository, cache *CartCache, lg *zap.Logger) *CachedCartRepository {
	return &CachedCartRepository{inner: inner, cache: cache, lg: lg}
}

// GetItems returns the cached entries when present, otherwise reads through
// to the inner repository and populates the cache.
func (r *CachedCartRepository) GetItems(ctx context.Context, buyerID string) ([]cart.Entry, error) {
	entries, err := r.cache.Get(ctx, buyerID)
	if err == nil {
		return entries, nil
	}
	if !errors.Is(err, ErrMiss) {
		r.lg.Warn("Cart cache read failed", zap.String("buyer_id", buyerID), zap.Error(err))
	}

	entries, err = r.inner.GetItems(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, buyerID, entries); err != nil {
		r.lg.Warn("Cart cache write failed", zap.String("buyer_id", buyerID), zap.Error(err))
	}
	return entries, nil
}

// UpsertItem writes through and invalidates.
func (r *CachedCartRepository) UpsertItem(ctx context.Context, buyerID string, entry cart.Entry) error {
	if err := r.inner.UpsertItem(ctx, buyerID, entry); err != nil {
		return err
	}
	r.invalidate(ctx, buyerID)
	return nil
}

// RemoveItem writes through and invalidates.
func (r *CachedCartRepository) RemoveItem(ctx context.Context, buyerID, productID string) error {
	if err := r.inner.RemoveItem(ctx, buyerID, productID); err != nil {
		return err
	}
	r.invalidate(ctx, buyerID)
	return nil
}

// UpdateQuantity writes through and invalidates.
func (r *CachedCartRepository) UpdateQuantity(ctx context.Context, buyerID, productID string, quantity int) error {
	if err := r.inner.UpdateQuantity(ctx, buyerID, productID, quantity); err != nil {
		return err
	}
	r.invalidate(ctx, buyerID)
	return nil
}

// Clear writes through and invalidates.
func (r *CachedCartRepository) Clear(ctx context.Context, buyerID string) error {
	if err := r.inner.Clear(ctx, buyerID); err != nil {
		return err
	}
	r.invalidate(ctx, buyerID)
	return nil
}

// ClearItems writes through and invalidates.
func (r *CachedCartRepository) ClearItems(ctx context.Context, buyerID string, productIDs []string) error {
	if err := r.inner.ClearItems(ctx, buyerID, productIDs); err != nil {
		return err
	}
	r.invalidate(ctx, buyerID)
	return nil
}

func (r *CachedCartRepository) invalidate(ctx context.Context, buyerID string) {
	if err := r.cache.Invalidate(ctx, buyerID); err != nil {
		r.lg.Warn("Cart cache invalidation failed", zap.String("buyer_id", buyerID), zap.Error(err))
	}
}
