// Package payment abstracts the external payment provider. The client-side
// capture result is provisional: financial finality comes only from a
// signature-verified webhook or an authoritative status fetch.
package payment

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrCaptureFailed is returned when the provider rejects a capture outright.
var ErrCaptureFailed = errors.New("payment capture failed")

// TimeoutReason is the failure reason set when a capture never resolves
// within its deadline.
const TimeoutReason = "timeout"

// Status is the provider-side state of a payment.
type Status string

const (
	StatusCaptured Status = "captured"
	StatusPending  Status = "pending"
	StatusFailed   Status = "failed"
)

// Outcome is the terminal result of one capture attempt.
type Outcome struct {
	Captured  bool
	Reference string
	Reason    string
}

// Gateway is the contract a payment provider must satisfy.
type Gateway interface {
	// InitiateCapture starts an asynchronous capture of the given amount.
	// The returned Capture resolves to exactly one Outcome.
	InitiateCapture(ctx context.Context, amount decimal.Decimal, currency string, meta map[string]string) (*Capture, error)
	// FetchStatus queries the provider for the authoritative state of a
	// payment reference.
	FetchStatus(ctx context.Context, reference string) (Status, error)
}

// Capture is a single-resolution promise for one capture attempt. It resolves
// exactly once: either to the provider's outcome or, after the deadline, to a
// timeout failure. It never resolves twice and never stays pending forever.
type Capture struct {
	done    chan struct{}
	once    sync.Once
	timer   *time.Timer
	mu      sync.Mutex
	outcome Outcome
}

// NewCapture creates a Capture that auto-resolves to Failed{timeout} if the
// provider has not resolved it within the deadline.
func NewCapture(deadline time.Duration) *Capture {
	c := &Capture{done: make(chan struct{})}
	c.timer = time.AfterFunc(deadline, func() {
		c.Resolve(Outcome{Captured: false, Reason: TimeoutReason})
	})
	return c
}

// Resolve sets the capture's terminal outcome. Only the first call has any
// effect.
func (c *Capture) Resolve(o Outcome) {
	c.once.Do(func() {
		c.timer.Stop()
		c.mu.Lock()
		c.outcome = o
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed when the capture has resolved.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the terminal outcome. Valid only after Done is closed.
func (c *Capture) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Wait blocks until the capture resolves or the context is cancelled. An
// already resolved capture always wins over a simultaneous cancellation: its
// outcome may represent captured money and must not be dropped.
func (c *Capture) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.Outcome(), nil
	default:
	}
	select {
	case <-c.done:
		return c.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
