package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DevGateway is an in-process payment provider used in development and tests.
// Captures resolve after a configurable delay; FailNext and StallNext script
// the next capture's behaviour.
type DevGateway struct {
	delay    time.Duration
	deadline time.Duration

	mu        sync.Mutex
	statuses  map[string]Status
	failNext  string
	stallNext bool
}

var _ Gateway = (*DevGateway)(nil)

// NewDevGateway creates a DevGateway whose captures succeed after delay.
// Captures that have not resolved within deadline resolve to a timeout
// failure.
func NewDevGateway(delay, deadline time.Duration) *DevGateway {
	return &DevGateway{
		delay:    delay,
		deadline: deadline,
		statuses: make(map[string]Status),
	}
}

// FailNext makes the next capture fail with the given reason.
func (g *DevGateway) FailNext(reason string) {
	g.mu.Lock()
	g.failNext = reason
	g.mu.Unlock()
}

// StallNext makes the next capture never resolve from the provider side, so
// the promise deadline fires instead.
func (g *DevGateway) StallNext() {
	g.mu.Lock()
	g.stallNext = true
	g.mu.Unlock()
}

// InitiateCapture implements Gateway.
func (g *DevGateway) InitiateCapture(_ context.Context, _ decimal.Decimal, _ string, _ map[string]string) (*Capture, error) {
	ref := "pay_" + uuid.New().String()
	capture := NewCapture(g.deadline)

	g.mu.Lock()
	failReason := g.failNext
	stall := g.stallNext
	g.failNext = ""
	g.stallNext = false
	g.statuses[ref] = StatusPending
	g.mu.Unlock()

	if stall {
		return capture, nil
	}

	time.AfterFunc(g.delay, func() {
		g.mu.Lock()
		if failReason != "" {
			g.statuses[ref] = StatusFailed
		} else {
			g.statuses[ref] = StatusCaptured
		}
		g.mu.Unlock()

		if failReason != "" {
			capture.Resolve(Outcome{Captured: false, Reference: ref, Reason: failReason})
			return
		}
		capture.Resolve(Outcome{Captured: true, Reference: ref})
	})

	return capture, nil
}

// FetchStatus implements Gateway.
func (g *DevGateway) FetchStatus(_ context.Context, reference string) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[reference]
	if !ok {
		return StatusFailed, nil
	}
	return status, nil
}
