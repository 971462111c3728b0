package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/domain/cart"
	"github.com/farmcart/farmcart/internal/domain/order"
	"github.com/farmcart/farmcart/internal/domain/payment"
)

// Stage identifies how far a checkout attempt has progressed.
type Stage string

const (
	StageInitiated        Stage = "INITIATED"
	StagePaymentPending   Stage = "PAYMENT_PENDING"
	StagePaymentConfirmed Stage = "PAYMENT_CONFIRMED"
	StageOrderWritten     Stage = "ORDER_WRITTEN"
	StageItemsWritten     Stage = "ITEMS_WRITTEN"
	StageCartRetired      Stage = "CART_RETIRED"
	StageComplete         Stage = "COMPLETE"
)

// StageError reports which stage of a checkout attempt failed, so the caller
// can distinguish user-retryable payment failures from write failures that
// must be retried automatically.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Retryable reports whether the failure occurred after money was captured.
// Such failures are safe to retry with the same payment reference and must
// not be dropped.
func (e *StageError) Retryable() bool {
	switch e.Stage {
	case StageOrderWritten, StageItemsWritten, StageCartRetired:
		return true
	default:
		return false
	}
}

const (
	seenCapacity = 1_000_000
	seenFPR      = 0.001
)

// Coordinator turns a snapshot plus an authoritative payment reference into a
// persisted order, its line items, and a retired set of cart entries. Each
// attempt is keyed by the payment reference, so a retried run resumes at the
// first missing stage instead of double-inserting.
type Coordinator struct {
	gateway  payment.Gateway
	orders   order.Repository
	carts    cart.Repository
	lg       *zap.Logger
	currency string

	// seen prefilters the idempotency lookup: a negative test means this
	// process has never committed the reference, so the initial lookup can
	// be skipped. Cross-process duplicates are caught by the unique
	// payment_reference constraint.
	seenMu sync.Mutex
	seen   *bloom.BloomFilter
}

// NewCoordinator creates a Coordinator with the given collaborators.
func NewCoordinator(gateway payment.Gateway, orders order.Repository, carts cart.Repository, currency string, lg *zap.Logger) *Coordinator {
	return &Coordinator{
		gateway:  gateway,
		orders:   orders,
		carts:    carts,
		lg:       lg,
		currency: currency,
		seen:     bloom.NewWithEstimates(seenCapacity, seenFPR),
	}
}

func (c *Coordinator) maybeSeen(ref string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	return c.seen.TestString(ref)
}

func (c *Coordinator) markSeen(ref string) {
	c.seenMu.Lock()
	c.seen.AddString(ref)
	c.seenMu.Unlock()
}

// Run executes one full checkout attempt: capture, authoritative
// confirmation, then the committed writes. Once the payment is confirmed the
// writes continue on a detached context, because captured money must become
// an order even if the caller goes away.
func (c *Coordinator) Run(ctx context.Context, snap *Snapshot) (*order.Order, error) {
	capture, err := c.gateway.InitiateCapture(ctx, snap.Total, c.currency, map[string]string{
		"buyer_id":  snap.BuyerID,
		"farmer_id": snap.FarmerID,
	})
	if err != nil {
		return nil, &StageError{Stage: StagePaymentPending, Err: err}
	}

	outcome, err := capture.Wait(ctx)
	if err != nil {
		return nil, &StageError{Stage: StagePaymentPending, Err: err}
	}
	if !outcome.Captured {
		return nil, &StageError{Stage: StagePaymentPending, Err: errors.Wrap(payment.ErrCaptureFailed, outcome.Reason)}
	}

	// The capture resolved, so money may already be held. From here on the
	// caller's context no longer applies: the reference must reach either a
	// committed order or an authoritative non-captured answer, even if the
	// buyer navigates away mid-confirmation.
	detached := context.WithoutCancel(ctx)

	// The client-observed success is provisional. Only the provider's own
	// status answer confirms the capture.
	status, err := c.confirmStatus(detached, outcome.Reference)
	if err != nil {
		return nil, &StageError{Stage: StagePaymentConfirmed, Err: err}
	}
	if status != payment.StatusCaptured {
		return nil, &StageError{Stage: StagePaymentConfirmed, Err: errors.Errorf("payment %s not captured: %s", outcome.Reference, status)}
	}

	return c.Commit(detached, snap, outcome.Reference)
}

const (
	confirmAttempts = 5
	confirmBackoff  = 200 * time.Millisecond
)

// confirmStatus fetches the authoritative capture status, retrying transient
// errors so a momentary provider hiccup cannot orphan a resolved capture.
func (c *Coordinator) confirmStatus(ctx context.Context, ref string) (payment.Status, error) {
	var lastErr error
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(confirmBackoff * time.Duration(attempt))
		}
		status, err := c.gateway.FetchStatus(ctx, ref)
		if err == nil {
			return status, nil
		}
		lastErr = err
		c.lg.Warn("Capture status fetch failed, retrying",
			zap.String("payment_reference", ref),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return "", errors.Wrap(lastErr, "confirm capture status")
}

// Commit performs the three writes for a confirmed payment reference. It is
// idempotent per reference: an existing order is resumed at its first missing
// stage, never re-inserted. Commit is also the entry point for
// signature-verified webhook confirmations and recovery retries.
func (c *Coordinator) Commit(ctx context.Context, snap *Snapshot, ref string) (*order.Order, error) {
	var existing *order.Order
	if c.maybeSeen(ref) {
		found, err := c.orders.FindByPaymentReference(ctx, ref)
		switch {
		case err == nil:
			existing = found
		case errors.Is(err, order.ErrNotFound):
		default:
			return nil, &StageError{Stage: StageOrderWritten, Err: err}
		}
	}

	if existing == nil {
		created, err := c.createOrder(ctx, snap, ref)
		if err != nil {
			return nil, err
		}
		existing = created
	}
	c.markSeen(ref)

	if err := c.resume(ctx, existing, snap); err != nil {
		return existing, err
	}
	return existing, nil
}

func (c *Coordinator) createOrder(ctx context.Context, snap *Snapshot, ref string) (*order.Order, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, &StageError{Stage: StageOrderWritten, Err: errors.Wrap(err, "marshal snapshot")}
	}

	o := &order.Order{
		ID:               uuid.New().String(),
		BuyerID:          snap.BuyerID,
		FarmerID:         snap.FarmerID,
		TotalPrice:       snap.Total,
		DeliveryAddress:  snap.DeliveryAddress,
		PaymentReference: ref,
		Notes:            snap.Notes,
		Status:           order.StatusIncomplete,
		Snapshot:         raw,
		CreatedAt:        time.Now(),
	}

	err = c.orders.Create(ctx, o)
	if err == nil {
		return o, nil
	}
	if errors.Is(err, order.ErrAlreadyExists) {
		// Another run won the insert race. Adopt its order and resume.
		found, ferr := c.orders.FindByPaymentReference(ctx, ref)
		if ferr != nil {
			return nil, &StageError{Stage: StageOrderWritten, Err: ferr}
		}
		return found, nil
	}
	return nil, &StageError{Stage: StageOrderWritten, Err: err}
}

// resume walks the remaining stages for an order. Stages are strictly
// serialized: a stage begins only after its predecessor's write is
// acknowledged.
func (c *Coordinator) resume(ctx context.Context, o *order.Order, snap *Snapshot) error {
	if o.Status == order.StatusIncomplete {
		if err := c.orders.CreateItems(ctx, snap.OrderItems(o.ID)); err != nil {
			return &StageError{Stage: StageItemsWritten, Err: err}
		}
		if err := c.orders.UpdateStatus(ctx, o.ID, order.StatusProcessing); err != nil {
			return &StageError{Stage: StageItemsWritten, Err: err}
		}
		o.Status = order.StatusProcessing
	}

	if o.Status == order.StatusProcessing {
		if err := c.retireCart(ctx, snap); err != nil {
			return &StageError{Stage: StageCartRetired, Err: err}
		}
		if err := c.orders.UpdateStatus(ctx, o.ID, order.StatusComplete); err != nil {
			return &StageError{Stage: StageCartRetired, Err: err}
		}
		o.Status = order.StatusComplete
		c.lg.Info("Checkout complete",
			zap.String("order_id", o.ID),
			zap.String("payment_reference", o.PaymentReference),
			zap.String("total", o.TotalPrice.String()),
		)
	}

	return nil
}

// retireCart deletes exactly the snapshot's entries from the remote cart.
// When the snapshot covers the whole cart the record is cleared in one call.
func (c *Coordinator) retireCart(ctx context.Context, snap *Snapshot) error {
	current, err := c.carts.GetItems(ctx, snap.BuyerID)
	if err != nil {
		return errors.Wrap(err, "get cart items")
	}
	if len(current) == 0 {
		// Already retired by a previous attempt.
		return nil
	}

	purchased := make(map[string]struct{}, len(snap.Items))
	for _, e := range snap.Items {
		purchased[e.ProductID] = struct{}{}
	}
	full := true
	for _, e := range current {
		if _, ok := purchased[e.ProductID]; !ok {
			full = false
			break
		}
	}

	if full {
		return c.carts.Clear(ctx, snap.BuyerID)
	}
	return c.carts.ClearItems(ctx, snap.BuyerID, snap.ProductIDs())
}
