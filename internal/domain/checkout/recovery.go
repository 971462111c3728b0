package checkout

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/domain/order"
)

const (
	recoveryBatch       = 50
	recoveryMaxAttempts = 10
)

// Recovery periodically resumes orders whose saga stalled between writes:
// headers without items, or items without cart retirement. Money has already
// been captured for these orders, so they are retried until they complete or
// the attempt budget is exhausted.
type Recovery struct {
	orders      order.Repository
	coordinator *Coordinator
	interval    time.Duration
	lg          *zap.Logger

	attempts map[string]int
}

// NewRecovery creates a Recovery loop over the given repository and
// coordinator.
func NewRecovery(orders order.Repository, coordinator *Coordinator, interval time.Duration, lg *zap.Logger) *Recovery {
	return &Recovery{
		orders:      orders,
		coordinator: coordinator,
		interval:    interval,
		lg:          lg,
		attempts:    make(map[string]int),
	}
}

// Run blocks until the context is cancelled, sweeping unfinished orders at
// every tick.
func (r *Recovery) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recovery) sweep(ctx context.Context) {
	stalled, err := r.orders.ListUnfinished(ctx, recoveryBatch)
	if err != nil {
		r.lg.Error("Recovery sweep failed to list unfinished orders", zap.Error(err))
		return
	}

	for _, o := range stalled {
		r.recover(ctx, o)
	}
}

func (r *Recovery) recover(ctx context.Context, o order.Order) {
	ref := o.PaymentReference

	r.attempts[ref]++
	if r.attempts[ref] > recoveryMaxAttempts {
		// Escalation point: captured money without a complete order and
		// retries exhausted.
		r.lg.Error("Recovery attempts exhausted, manual intervention required",
			zap.String("order_id", o.ID),
			zap.String("payment_reference", ref),
			zap.String("status", string(o.Status)),
		)
		return
	}

	var snap Snapshot
	if err := json.Unmarshal(o.Snapshot, &snap); err != nil {
		r.lg.Error("Recovery cannot decode order snapshot",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return
	}

	if _, err := r.coordinator.Commit(ctx, &snap, ref); err != nil {
		r.lg.Warn("Recovery attempt failed",
			zap.String("order_id", o.ID),
			zap.String("payment_reference", ref),
			zap.Int("attempt", r.attempts[ref]),
			zap.Error(err),
		)
		return
	}

	delete(r.attempts, ref)
	r.lg.Info("Recovered stalled order",
		zap.String("order_id", o.ID),
		zap.String("payment_reference", ref),
	)
}
