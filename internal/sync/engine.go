// Package sync owns the reconciled order view. It folds dispatcher events
// into the view under one lock, persists the result, drives the stream and
// poller handoff, and mirrors local actions to the backend.
package sync

import (
	"context"
	"strings"
	stdsync "sync"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/ordersync/internal/cache"
	"github.com/angelmondragon/ordersync/internal/dispatch"
	"github.com/angelmondragon/ordersync/internal/orders"
	"github.com/angelmondragon/ordersync/internal/reconcile"
	"github.com/angelmondragon/ordersync/internal/remote"
	"github.com/angelmondragon/ordersync/internal/tombstone"
	"github.com/angelmondragon/ordersync/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
	"github.com/angelmondragon/ordersync/pkg/logger"
)

const defaultMutationTimeout = 10 * time.Second

// Remote is the backend surface the engine needs: list fetches plus the
// mutations mirrored from local actions.
type Remote interface {
	FetchOrders(ctx context.Context) ([]orders.OrderRecord, error)
	PatchStatus(ctx context.Context, key string, patch remote.StatusPatch) error
	DeleteOrder(ctx context.Context, key string) error
}

// StreamClient is the push-connection lifecycle the engine supervises.
type StreamClient interface {
	Start()
	Stop()
	State() enums.StreamState
	OnStateChange(func(enums.StreamState))
}

// FallbackPoller runs full-fetch cycles until its context is canceled.
type FallbackPoller interface {
	Run(ctx context.Context) error
}

// Params configure the engine.
type Params struct {
	Logger          *logger.Logger
	Stream          StreamClient
	Poller          FallbackPoller
	Dispatcher      *dispatch.Dispatcher
	Tombstones      *tombstone.Store
	Cache           *cache.Cache
	Remote          Remote
	Identity        remote.Identity
	MutationTimeout time.Duration
}

// Engine holds the single reconciled view of the session's orders.
type Engine struct {
	logg       *logger.Logger
	stream     StreamClient
	poller     FallbackPoller
	dispatcher *dispatch.Dispatcher
	tombstones *tombstone.Store
	cache      *cache.Cache
	remote     Remote
	identity   remote.Identity

	mutationTimeout time.Duration
	now             func() time.Time

	mu        stdsync.Mutex
	view      []orders.OrderRecord
	lastTombs tombstone.Tombstones
	viewSubs  []func([]orders.OrderRecord)

	pollCancel  context.CancelFunc
	unsubscribe func()
	wg          stdsync.WaitGroup
	started     bool
}

// NewEngine builds the engine. All collaborators are required except the
// logger.
func NewEngine(params Params) (*Engine, error) {
	if params.Stream == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stream client required")
	}
	if params.Poller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "poller required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dispatcher required")
	}
	if params.Tombstones == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tombstone store required")
	}
	if params.Cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cache required")
	}
	if params.Remote == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "remote client required")
	}
	timeout := params.MutationTimeout
	if timeout <= 0 {
		timeout = defaultMutationTimeout
	}
	return &Engine{
		logg:            params.Logger,
		stream:          params.Stream,
		poller:          params.Poller,
		dispatcher:      params.Dispatcher,
		tombstones:      params.Tombstones,
		cache:           params.Cache,
		remote:          params.Remote,
		identity:        params.Identity,
		mutationTimeout: timeout,
		now:             time.Now,
	}, nil
}

// Run seeds the view from the cache, wires the dispatcher and stream state
// handoff, starts the stream, and kicks an initial full fetch. It returns
// once the machinery is running; Close tears it down.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeInternal, "engine already running")
	}
	e.started = true
	e.mu.Unlock()

	tombs, err := e.tombstones.Snapshot(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, "loading tombstones")
	}
	cached, err := e.cache.List(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, "loading cached view")
	}

	e.mu.Lock()
	e.lastTombs = tombs
	// scrub the cached list through the tombstones before showing it
	e.view = reconcile.MergeAll(nil, e.keepOwn(cached), tombs)
	e.mu.Unlock()

	e.unsubscribe = e.dispatcher.Subscribe(e.handleEvent)
	e.stream.OnStateChange(e.onStreamState)
	e.stream.Start()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.initialFetch(ctx)
	}()
	return nil
}

// Close stops the stream and poller, waits for in-flight work, and flushes
// the final view to the cache.
func (e *Engine) Close() error {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.stream.Stop()
	e.stopPoller()
	e.wg.Wait()

	var errs error
	if err := e.cache.Put(context.Background(), e.View()); err != nil {
		errs = multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeStore, err, "flushing view"))
	}
	return errs
}

// View returns a copy of the current reconciled order list.
func (e *Engine) View() []orders.OrderRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneView(e.view)
}

// StreamState reports the push connection lifecycle state.
func (e *Engine) StreamState() enums.StreamState {
	return e.stream.State()
}

// OnViewChange registers a callback invoked with a fresh copy of the view
// after every change. Callbacks run on the goroutine that applied the change.
func (e *Engine) OnViewChange(fn func([]orders.OrderRecord)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewSubs = append(e.viewSubs, fn)
}

// CancelOrder flips the order to cancelled locally and mirrors the change.
// The reason is optional and travels on the mirrored patch only.
func (e *Engine) CancelOrder(ctx context.Context, key, reason string) error {
	if strings.TrimSpace(key) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order key required")
	}
	rec, ok := e.findByKey(key)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no such order")
	}
	canonical := rec.Key()

	e.fold(ctx, orders.StatusChanged{Key: canonical, NewStatus: enums.OrderStatusCancelled})

	cancelledAt := e.now().UTC()
	e.mirror("cancel order", canonical, func(mctx context.Context) error {
		return e.remote.PatchStatus(mctx, canonical, remote.StatusPatch{
			Status:      enums.OrderStatusCancelled,
			CancelledAt: &cancelledAt,
			Reason:      reason,
		})
	})
	return nil
}

// DeleteOrder tombstones the order, drops it from the view immediately, and
// mirrors the deletion. The tombstone is written before anything else so the
// order cannot reappear even if the process dies mid-action.
func (e *Engine) DeleteOrder(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order key required")
	}
	rec, ok := e.findByKey(key)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no such order")
	}
	canonical := rec.Key()

	if err := e.tombstones.MarkOrderRemoved(ctx, canonical); err != nil {
		return err
	}
	e.fold(ctx, orders.Removed{Key: canonical})

	e.mirror("delete order", canonical, func(mctx context.Context) error {
		return e.remote.DeleteOrder(mctx, canonical)
	})
	return nil
}

// RemoveItem drops one product from the order. Removing the last item
// removes the order from the view and cancels it remotely.
func (e *Engine) RemoveItem(ctx context.Context, key, productID string) error {
	if strings.TrimSpace(key) == "" || strings.TrimSpace(productID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order key and product id required")
	}
	rec, ok := e.findByKey(key)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no such order")
	}

	remaining := make([]orders.OrderItem, 0, len(rec.Items))
	found := false
	for _, item := range rec.Items {
		if item.ProductID == productID {
			found = true
			continue
		}
		remaining = append(remaining, item)
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no such item on order")
	}
	canonical := rec.Key()

	if len(remaining) == 0 {
		if err := e.tombstones.MarkOrderRemoved(ctx, canonical); err != nil {
			return err
		}
		e.fold(ctx, orders.Removed{Key: canonical})

		cancelledAt := e.now().UTC()
		e.mirror("cancel emptied order", canonical, func(mctx context.Context) error {
			return e.remote.PatchStatus(mctx, canonical, remote.StatusPatch{
				Status:      enums.OrderStatusCancelled,
				Items:       []orders.OrderItem{},
				CancelledAt: &cancelledAt,
				Reason:      "all items removed",
			})
		})
		return nil
	}

	trimmed := rec.Clone()
	trimmed.Items = remaining
	total := trimmed.RecomputeTotal()
	trimmed.Total = total

	if err := e.tombstones.MarkItemsRemoved(ctx, canonical, remaining, total); err != nil {
		return err
	}
	e.fold(ctx, orders.Updated{Record: trimmed})

	e.mirror("trim order items", canonical, func(mctx context.Context) error {
		return e.remote.PatchStatus(mctx, canonical, remote.StatusPatch{
			Status: trimmed.Status,
			Items:  remaining,
			Total:  &total,
		})
	})
	return nil
}

// handleEvent is the dispatcher subscription: every stream or poller event
// funnels through here.
func (e *Engine) handleEvent(ev orders.Event) {
	switch event := ev.(type) {
	case orders.Updated:
		if !e.identity.Matches(event.Record.CustomerEmail) {
			return
		}
	case orders.FullResync:
		event.Records = e.keepOwn(event.Records)
		e.pruneTombstones(event.Records)
		ev = event
	case orders.Heartbeat:
		return
	}
	e.fold(context.Background(), ev)
}

// fold applies one event to the view under the lock, persists the result,
// and notifies view subscribers.
func (e *Engine) fold(ctx context.Context, ev orders.Event) {
	tombs, err := e.tombstones.Snapshot(ctx)

	e.mu.Lock()
	if err != nil {
		// fall back to the last good snapshot rather than resurrecting
		// deleted data with an empty one
		tombs = e.lastTombs
		if e.logg != nil {
			e.logg.Error(ctx, "tombstone snapshot failed", err)
		}
	} else {
		e.lastTombs = tombs
	}
	e.view = reconcile.ApplyEvent(e.view, ev, tombs)
	snapshot := cloneView(e.view)
	subs := make([]func([]orders.OrderRecord), len(e.viewSubs))
	copy(subs, e.viewSubs)
	e.mu.Unlock()

	if err := e.cache.Put(ctx, snapshot); err != nil && e.logg != nil {
		e.logg.Error(ctx, "persisting view failed", err)
	}
	for _, fn := range subs {
		fn(cloneView(snapshot))
	}
}

// pruneTombstones clears full-removal tombstones for orders the backend has
// confirmed gone, so the tombstone set stays bounded.
func (e *Engine) pruneTombstones(remoteRecords []orders.OrderRecord) {
	ctx := context.Background()
	tombs, err := e.tombstones.Snapshot(ctx)
	if err != nil {
		return
	}
	for key := range tombs.RemovedOrderKeys {
		present := false
		for _, rec := range remoteRecords {
			if rec.MatchesKey(key) {
				present = true
				break
			}
		}
		if !present {
			if err := e.tombstones.Clear(ctx, key); err != nil && e.logg != nil {
				e.logg.Error(ctx, "pruning tombstone failed", err)
			}
		}
	}
}

// onStreamState drives the push/poll handoff.
func (e *Engine) onStreamState(state enums.StreamState) {
	switch state {
	case enums.StreamStateFallback:
		e.startPoller()
	case enums.StreamStateOpen, enums.StreamStateStopped:
		e.stopPoller()
	}
}

func (e *Engine) startPoller() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.pollCancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.poller.Run(ctx)
	}()
}

func (e *Engine) stopPoller() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pollCancel != nil {
		e.pollCancel()
		e.pollCancel = nil
	}
}

// initialFetch publishes one full resync so the view converges without
// waiting for the first push event.
func (e *Engine) initialFetch(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.mutationTimeout)
	defer cancel()

	records, err := e.remote.FetchOrders(fetchCtx)
	if err != nil {
		if e.logg != nil {
			e.logg.Error(ctx, "initial order fetch failed", err)
		}
		return
	}
	e.dispatcher.Publish(orders.FullResync{Records: records})
}

// mirror runs a remote mutation in the background. Failures are logged and
// otherwise ignored; the tombstone or local state already reflects the
// user's intent, and the next resync reconverges.
func (e *Engine) mirror(op, key string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.mutationTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && e.logg != nil {
			logCtx := e.logg.WithOrderKey(context.Background(), key)
			logCtx = e.logg.WithField(logCtx, "op", op)
			e.logg.Error(logCtx, "remote mutation failed", err)
		}
	}()
}

func (e *Engine) findByKey(key string) (orders.OrderRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.view {
		if rec.MatchesKey(key) {
			return rec.Clone(), true
		}
	}
	return orders.OrderRecord{}, false
}

func (e *Engine) keepOwn(records []orders.OrderRecord) []orders.OrderRecord {
	kept := make([]orders.OrderRecord, 0, len(records))
	for _, rec := range records {
		if e.identity.Matches(rec.CustomerEmail) {
			kept = append(kept, rec)
		}
	}
	return kept
}

func cloneView(view []orders.OrderRecord) []orders.OrderRecord {
	out := make([]orders.OrderRecord, len(view))
	for i, rec := range view {
		out[i] = rec.Clone()
	}
	return out
}
