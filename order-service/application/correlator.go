package application

import (
	"context"
	"sync"

	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/rs/zerolog"
)

// Correlator routes each inbound event to the wrapped handler while
// guaranteeing that events for the same order id are applied one at a time,
// in arrival order. Events for different orders run fully in parallel; no
// global lock is held during normal operation.
//
// The per-order locks are advisory concurrency control only. They are built
// lazily as events arrive and dropped when the last in-flight event for an
// order completes, so the map stays bounded by concurrency, not by the saga
// population.
type Correlator struct {
	inner  messaging.EventHandler
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// NewCorrelator wraps an event handler with per-order serialization.
func NewCorrelator(inner messaging.EventHandler, logger zerolog.Logger) *Correlator {
	return &Correlator{
		inner:  inner,
		logger: logger,
		locks:  make(map[string]*orderLock),
	}
}

// HandlerID implements messaging.EventHandler.
func (c *Correlator) HandlerID() string {
	return "order-saga-correlator"
}

// Handle implements messaging.EventHandler.
func (c *Correlator) Handle(ctx context.Context, event *messaging.SagaEvent) error {
	if event.OrderID == "" {
		c.logger.Warn().Str("kind", string(event.Kind)).Msg("discarding event without order id")
		return nil
	}

	lock := c.acquire(event.OrderID)
	defer c.release(event.OrderID)

	lock.mu.Lock()
	defer lock.mu.Unlock()

	return c.inner.Handle(ctx, event)
}

func (c *Correlator) acquire(orderID string) *orderLock {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[orderID]
	if !ok {
		lock = &orderLock{}
		c.locks[orderID] = lock
	}
	lock.refs++
	return lock
}

func (c *Correlator) release(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[orderID]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(c.locks, orderID)
	}
}
