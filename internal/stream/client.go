// Package stream owns the push connection lifecycle: connect, detect success
// or failure, back off between attempts, cap the attempt count, flip to
// fallback mode, and periodically try to recover back to push mode. The
// lifecycle is an explicit state machine owned independently of any view
// layer, so it is testable without a rendering environment.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/ordersync/internal/orders"
	"github.com/angelmondragon/ordersync/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
	"github.com/angelmondragon/ordersync/pkg/logger"
	"github.com/angelmondragon/ordersync/pkg/metrics"
)

// Publisher receives every non-heartbeat event read off the wire, verbatim,
// in arrival order.
type Publisher interface {
	Publish(orders.Event)
}

// timerHandle abstracts *time.Timer so tests can drive timers by hand.
type timerHandle interface {
	Stop() bool
}

type timerFactory func(d time.Duration, fn func()) timerHandle

func stdTimerFactory(d time.Duration, fn func()) timerHandle {
	return time.AfterFunc(d, fn)
}

// Options configure the client. Zero durations fall back to the defaults
// used by the daemon config.
type Options struct {
	Transport             Transport
	Publisher             Publisher
	Logger                *logger.Logger
	Metrics               *metrics.SyncMetrics
	ConnectTimeout        time.Duration
	BackoffBase           time.Duration
	BackoffCap            time.Duration
	AttemptCeiling        int
	FallbackRetryInterval time.Duration
}

const (
	defaultConnectTimeout        = 5 * time.Second
	defaultBackoffBase           = 5 * time.Second
	defaultBackoffCap            = 30 * time.Second
	defaultAttemptCeiling        = 5
	defaultFallbackRetryInterval = 60 * time.Second
)

// Client is the reconnecting stream client. At most one connection attempt
// and at most one pending timer exist at any time; starting a new attempt
// always first clears prior timers and connections.
type Client struct {
	transport Transport
	publisher Publisher
	logg      *logger.Logger
	metrics   *metrics.SyncMetrics

	connectTimeout        time.Duration
	backoffBase           time.Duration
	backoffCap            time.Duration
	attemptCeiling        int
	fallbackRetryInterval time.Duration

	afterFunc timerFactory

	mu        sync.Mutex
	state     enums.StreamState
	attempts  int
	gen       int
	conn      Conn
	timer     timerHandle
	cancel    context.CancelFunc
	stateSubs []func(enums.StreamState)

	// notifyMu serializes state-change callbacks so subscribers observe
	// transitions in the order they happened.
	notifyMu sync.Mutex
	pending  []enums.StreamState
}

// NewClient builds a stream client.
func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stream transport required")
	}
	if opts.Publisher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event publisher required")
	}
	c := &Client{
		transport:             opts.Transport,
		publisher:             opts.Publisher,
		logg:                  opts.Logger,
		metrics:               opts.Metrics,
		connectTimeout:        opts.ConnectTimeout,
		backoffBase:           opts.BackoffBase,
		backoffCap:            opts.BackoffCap,
		attemptCeiling:        opts.AttemptCeiling,
		fallbackRetryInterval: opts.FallbackRetryInterval,
		afterFunc:             stdTimerFactory,
		state:                 enums.StreamStateIdle,
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = defaultConnectTimeout
	}
	if c.backoffBase <= 0 {
		c.backoffBase = defaultBackoffBase
	}
	if c.backoffCap <= 0 {
		c.backoffCap = defaultBackoffCap
	}
	if c.attemptCeiling <= 0 {
		c.attemptCeiling = defaultAttemptCeiling
	}
	if c.fallbackRetryInterval <= 0 {
		c.fallbackRetryInterval = defaultFallbackRetryInterval
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Client) State() enums.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers a callback invoked after every state transition.
// Callbacks run outside the client's lock, in registration order.
func (c *Client) OnStateChange(fn func(enums.StreamState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateSubs = append(c.stateSubs, fn)
}

// Start begins the connection lifecycle. Calling Start on a client that is
// not idle or stopped is a no-op.
func (c *Client) Start() {
	c.mu.Lock()
	if c.state != enums.StreamStateIdle && c.state != enums.StreamStateStopped {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	notify := c.beginAttemptLocked()
	c.mu.Unlock()
	notify()
}

// Stop tears down any open connection and cancels all pending timers. It is
// callable from any state and idempotent; no state callback or event
// delivery fires after it returns.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.state == enums.StreamStateStopped {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.clearPendingLocked()
	notify := c.transitionLocked(enums.StreamStateStopped)
	c.mu.Unlock()
	notify()
}

// Backoff returns the wait applied after the given consecutive failure
// count: min(base*attempt, cap).
func (c *Client) Backoff(attempt int) time.Duration {
	delay := time.Duration(attempt) * c.backoffBase
	if delay > c.backoffCap {
		return c.backoffCap
	}
	return delay
}

// beginAttemptLocked clears any prior timer/connection and launches one
// connection attempt guarded by the connect timeout.
func (c *Client) beginAttemptLocked() func() {
	c.clearPendingLocked()
	c.gen++
	gen := c.gen
	notify := c.transitionLocked(enums.StreamStateConnecting)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.timer = c.afterFunc(c.connectTimeout, func() {
		c.onConnectTimeout(gen)
	})

	go c.connect(ctx, gen)
	return notify
}

func (c *Client) connect(ctx context.Context, gen int) {
	conn, err := c.transport.Connect(ctx)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		notify := c.failLocked(err)
		c.mu.Unlock()
		notify()
		return
	}

	c.stopTimerLocked()
	c.conn = conn
	c.attempts = 0
	notify := c.transitionLocked(enums.StreamStateOpen)
	c.mu.Unlock()
	notify()

	c.metrics.IncStreamConnect()
	if c.logg != nil {
		c.logg.Info(c.logg.WithStreamState(context.Background(), enums.StreamStateOpen.String()), "stream connected")
	}

	c.readLoop(conn, gen)
}

func (c *Client) readLoop(conn Conn, gen int) {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			notify := c.failLocked(err)
			c.mu.Unlock()
			notify()
			return
		}
		if len(line) == 0 {
			continue
		}

		event, parseErr := orders.ParseEnvelope(line)
		if parseErr != nil {
			c.metrics.IncPayloadDropped()
			if c.logg != nil {
				c.logg.Error(context.Background(), "dropping malformed payload", parseErr)
			}
			continue
		}
		if event.EventType() == enums.EventHeartbeat {
			continue
		}

		if !c.deliver(gen, event) {
			return
		}
	}
}

// deliver publishes one event unless the generation has moved on. It holds
// notifyMu for the duration of the publish, so Stop cannot return while a
// delivery is in flight: Stop bumps the generation and then drains
// notifications under the same mutex.
func (c *Client) deliver(gen int, event orders.Event) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return false
	}
	c.publisher.Publish(event)
	return true
}

func (c *Client) onConnectTimeout(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	err := pkgerrors.New(pkgerrors.CodeTransport, "connect timeout")
	notify := c.failLocked(err)
	c.mu.Unlock()
	notify()
}

// failLocked runs the shared failure path: teardown, count the attempt, and
// either schedule the next attempt after a capped backoff or flip to
// fallback mode with a slow recovery retry.
func (c *Client) failLocked(cause error) func() {
	c.clearPendingLocked()
	c.gen++
	gen := c.gen
	c.attempts++
	c.metrics.IncStreamFailure()

	if c.logg != nil {
		ctx := c.logg.WithField(context.Background(), "attempt", c.attempts)
		c.logg.Warn(c.logg.WithField(ctx, "cause", cause.Error()), "stream attempt failed")
	}

	if c.attempts > c.attemptCeiling {
		c.attempts = 0
		notify := c.transitionLocked(enums.StreamStateFallback)
		c.timer = c.afterFunc(c.fallbackRetryInterval, func() {
			c.retry(gen)
		})
		return notify
	}

	delay := c.Backoff(c.attempts)
	notify := c.transitionLocked(enums.StreamStateBackoff)
	c.timer = c.afterFunc(delay, func() {
		c.retry(gen)
	})
	return notify
}

func (c *Client) retry(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	notify := c.beginAttemptLocked()
	c.mu.Unlock()
	notify()
}

// clearPendingLocked enforces the single-attempt/single-timer guarantee.
func (c *Client) clearPendingLocked() {
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) transitionLocked(next enums.StreamState) func() {
	if c.state == next {
		return func() {}
	}
	c.state = next
	c.metrics.IncStateTransition(next.String())
	c.pending = append(c.pending, next)
	return c.drainNotifications
}

func (c *Client) drainNotifications() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		next := c.pending[0]
		c.pending = c.pending[1:]
		subs := make([]func(enums.StreamState), len(c.stateSubs))
		copy(subs, c.stateSubs)
		c.mu.Unlock()

		for _, fn := range subs {
			fn(next)
		}
	}
}
