// Package dispatch is the subscription surface between the transports
// (stream client, fallback poller) and the consumers holding a reconciled
// view. Delivery is synchronous and in registration order; there is no
// internal buffering beyond what the transports already provide.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/ordersync/internal/orders"
	"github.com/angelmondragon/ordersync/pkg/logger"
	"github.com/angelmondragon/ordersync/pkg/metrics"
)

// Callback receives every published event exactly once, in arrival order.
type Callback func(orders.Event)

// Dispatcher fans events out to subscribers. A subscriber panicking must not
// prevent delivery to the subscribers registered after it.
type Dispatcher struct {
	mu      sync.Mutex
	nextID  int
	order   []int
	subs    map[int]Callback
	logg    *logger.Logger
	metrics *metrics.SyncMetrics
}

// New builds a dispatcher. Logger and metrics may be nil in tests.
func New(logg *logger.Logger, m *metrics.SyncMetrics) *Dispatcher {
	return &Dispatcher{
		subs:    make(map[int]Callback),
		logg:    logg,
		metrics: m,
	}
}

// Subscribe registers the callback and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (d *Dispatcher) Subscribe(fn Callback) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.order = append(d.order, id)
	d.subs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.subs[id]; !ok {
			return
		}
		delete(d.subs, id)
		for at, existing := range d.order {
			if existing == id {
				d.order = append(d.order[:at], d.order[at+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to all current subscribers synchronously.
func (d *Dispatcher) Publish(ev orders.Event) {
	d.mu.Lock()
	callbacks := make([]Callback, 0, len(d.order))
	for _, id := range d.order {
		callbacks = append(callbacks, d.subs[id])
	}
	d.mu.Unlock()

	d.metrics.IncEvent(ev.EventType().String())

	for _, fn := range callbacks {
		d.deliver(fn, ev)
	}
}

func (d *Dispatcher) deliver(fn Callback, ev orders.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.metrics.IncSubscriberPanic()
			if d.logg != nil {
				ctx := d.logg.WithField(context.Background(), "event_type", ev.EventType().String())
				d.logg.Error(ctx, "subscriber panicked", fmt.Errorf("panic: %v", rec))
			}
		}
	}()
	fn(ev)
}
