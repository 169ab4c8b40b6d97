package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ordersync/internal/cache"
	"github.com/angelmondragon/ordersync/internal/dispatch"
	"github.com/angelmondragon/ordersync/internal/localstore"
	"github.com/angelmondragon/ordersync/internal/orders"
	"github.com/angelmondragon/ordersync/internal/remote"
	"github.com/angelmondragon/ordersync/internal/tombstone"
	"github.com/angelmondragon/ordersync/pkg/enums"
)

type stubStream struct {
	state   enums.StreamState
	subs    []func(enums.StreamState)
	started int
	stopped int
}

func (s *stubStream) Start() { s.started++ }

func (s *stubStream) Stop() { s.stopped++ }

func (s *stubStream) State() enums.StreamState { return s.state }
func (s *stubStream) OnStateChange(fn func(enums.StreamState)) {
	s.subs = append(s.subs, fn)
}

func (s *stubStream) emit(state enums.StreamState) {
	s.state = state
	for _, fn := range s.subs {
		fn(state)
	}
}

type stubPoller struct {
	running chan struct{}
	stopped chan struct{}
}

func newStubPoller() *stubPoller {
	return &stubPoller{
		running: make(chan struct{}, 4),
		stopped: make(chan struct{}, 4),
	}
}

func (p *stubPoller) Run(ctx context.Context) error {
	p.running <- struct{}{}
	<-ctx.Done()
	p.stopped <- struct{}{}
	return ctx.Err()
}

type mutation struct {
	op    string
	key   string
	patch remote.StatusPatch
}

type stubRemote struct {
	fetched   []orders.OrderRecord
	fetchErr  error
	mutations chan mutation
}

func newStubRemote() *stubRemote {
	return &stubRemote{mutations: make(chan mutation, 8)}
}

func (r *stubRemote) FetchOrders(ctx context.Context) ([]orders.OrderRecord, error) {
	return r.fetched, r.fetchErr
}

func (r *stubRemote) PatchStatus(ctx context.Context, key string, patch remote.StatusPatch) error {
	r.mutations <- mutation{op: "patch", key: key, patch: patch}
	return nil
}

func (r *stubRemote) DeleteOrder(ctx context.Context, key string) error {
	r.mutations <- mutation{op: "delete", key: key}
	return nil
}

func (r *stubRemote) waitMutation(t *testing.T) mutation {
	t.Helper()
	select {
	case m := <-r.mutations:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no remote mutation observed")
		return mutation{}
	}
}

type fixture struct {
	engine     *Engine
	stream     *stubStream
	poller     *stubPoller
	remote     *stubRemote
	dispatcher *dispatch.Dispatcher
	tombstones *tombstone.Store
	cache      *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backing := localstore.NewMemoryStore()
	tombStore, err := tombstone.NewStore(backing)
	if err != nil {
		t.Fatalf("tombstone store: %v", err)
	}
	orderCache, err := cache.New(backing)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	f := &fixture{
		stream:     &stubStream{state: enums.StreamStateIdle},
		poller:     newStubPoller(),
		remote:     newStubRemote(),
		dispatcher: dispatch.New(nil, nil),
		tombstones: tombStore,
		cache:      orderCache,
	}
	// keep the startup fetch inert so tests control every published event;
	// TestInitialFetchPublishesResync re-enables it
	f.remote.fetchErr = errors.New("fetch disabled")
	f.engine, err = NewEngine(Params{
		Stream:     f.stream,
		Poller:     f.poller,
		Dispatcher: f.dispatcher,
		Tombstones: tombStore,
		Cache:      orderCache,
		Remote:     f.remote,
		Identity:   remote.Identity{Email: "shopper@example.com"},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return f
}

func record(number string, status enums.OrderStatus, createdAt time.Time, items ...orders.OrderItem) orders.OrderRecord {
	rec := orders.OrderRecord{
		OrderNumber:   number,
		CustomerEmail: "shopper@example.com",
		Status:        status,
		Items:         items,
		CreatedAt:     createdAt,
	}
	rec.Total = rec.RecomputeTotal()
	return rec
}

func item(productID string, qty int64, price string) orders.OrderItem {
	return orders.OrderItem{
		ProductID: productID,
		Name:      productID,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
	}
}

func TestRunSeedsViewFromCacheScrubbedByTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seeded := []orders.OrderRecord{
		record("ORD-1", enums.OrderStatusPending, base, item("p1", 1, "10.00")),
		record("ORD-2", enums.OrderStatusShipped, base.Add(time.Hour), item("p2", 2, "5.00")),
	}
	if err := f.cache.Put(ctx, seeded); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := f.tombstones.MarkOrderRemoved(ctx, "ORD-1"); err != nil {
		t.Fatalf("mark removed: %v", err)
	}

	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	view := f.engine.View()
	if len(view) != 1 || view[0].OrderNumber != "ORD-2" {
		t.Fatalf("expected only ORD-2 to survive the tombstone scrub, got %+v", view)
	}
	if f.stream.started != 1 {
		t.Fatalf("stream started %d times, want 1", f.stream.started)
	}
}

func TestFullResyncUpdatesViewAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	notified := make(chan []orders.OrderRecord, 4)
	f.engine.OnViewChange(func(view []orders.OrderRecord) { notified <- view })

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{
		record("ORD-1", enums.OrderStatusPending, base, item("p1", 1, "10.00")),
	}})

	select {
	case view := <-notified:
		if len(view) != 1 || view[0].OrderNumber != "ORD-1" {
			t.Fatalf("notified view %+v", view)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("view change not observed")
	}

	// the fold also persisted the view
	cached, err := f.cache.List(ctx)
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	if len(cached) != 1 || cached[0].OrderNumber != "ORD-1" {
		t.Fatalf("cached view %+v", cached)
	}
}

func TestForeignIdentityRecordsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mine := record("ORD-1", enums.OrderStatusPending, base, item("p1", 1, "10.00"))
	foreign := record("ORD-2", enums.OrderStatusPending, base, item("p2", 1, "10.00"))
	foreign.CustomerEmail = "other@example.com"

	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{mine, foreign}})

	view := f.engine.View()
	if len(view) != 1 || view[0].OrderNumber != "ORD-1" {
		t.Fatalf("foreign order leaked into view: %+v", view)
	}

	// a direct update for a foreign order is also dropped
	f.dispatcher.Publish(orders.Updated{Record: foreign})
	if view := f.engine.View(); len(view) != 1 {
		t.Fatalf("foreign update leaked into view: %+v", view)
	}
}

func TestDeleteOrderTombstonesAndMirrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := record("ORD-1", enums.OrderStatusPending, base, item("p1", 1, "10.00"))
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{rec}})

	if err := f.engine.DeleteOrder(ctx, "ORD-1"); err != nil {
		t.Fatalf("delete order: %v", err)
	}

	if view := f.engine.View(); len(view) != 0 {
		t.Fatalf("order still visible after delete: %+v", view)
	}

	m := f.remote.waitMutation(t)
	if m.op != "delete" || m.key != "ORD-1" {
		t.Fatalf("mutation %+v, want delete ORD-1", m)
	}

	// a stale resync still containing the order must not resurrect it
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{rec}})
	if view := f.engine.View(); len(view) != 0 {
		t.Fatalf("deleted order resurrected by stale resync: %+v", view)
	}
}

func TestDeleteUnknownOrderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	if err := f.engine.DeleteOrder(ctx, "ORD-404"); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestCancelOrderMirrorsStatusPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{
		record("ORD-1", enums.OrderStatusPending, base, item("p1", 1, "10.00")),
	}})

	if err := f.engine.CancelOrder(ctx, "ORD-1", "duplicate order"); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	view := f.engine.View()
	if len(view) != 1 || view[0].Status != enums.OrderStatusCancelled {
		t.Fatalf("view after cancel %+v", view)
	}

	m := f.remote.waitMutation(t)
	if m.op != "patch" || m.patch.Status != enums.OrderStatusCancelled || m.patch.CancelledAt == nil {
		t.Fatalf("mutation %+v, want cancelled patch with timestamp", m)
	}
	if m.patch.Reason != "duplicate order" {
		t.Fatalf("patch reason %q, want the caller's reason", m.patch.Reason)
	}
}

func TestRemoveItemTrimsOrderAndMirrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{
		record("ORD-1", enums.OrderStatusPending, base,
			item("p1", 1, "10.00"), item("p2", 2, "5.00")),
	}})

	if err := f.engine.RemoveItem(ctx, "ORD-1", "p1"); err != nil {
		t.Fatalf("remove item: %v", err)
	}

	view := f.engine.View()
	if len(view) != 1 || len(view[0].Items) != 1 || view[0].Items[0].ProductID != "p2" {
		t.Fatalf("view after item removal %+v", view)
	}
	if !view[0].Total.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("total after item removal %s, want 10.00", view[0].Total)
	}

	m := f.remote.waitMutation(t)
	if m.op != "patch" || len(m.patch.Items) != 1 || m.patch.Total == nil {
		t.Fatalf("mutation %+v, want item-trim patch", m)
	}

	// a stale resync with the original two items must not bring p1 back
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{
		record("ORD-1", enums.OrderStatusPending, base,
			item("p1", 1, "10.00"), item("p2", 2, "5.00")),
	}})
	view = f.engine.View()
	if len(view) != 1 || len(view[0].Items) != 1 || view[0].Items[0].ProductID != "p2" {
		t.Fatalf("removed item resurrected by stale resync: %+v", view)
	}
}

func TestRemovingLastItemCancelsRemotely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{
		record("ORD-1", enums.OrderStatusPending, base, item("p1", 1, "10.00")),
	}})

	if err := f.engine.RemoveItem(ctx, "ORD-1", "p1"); err != nil {
		t.Fatalf("remove last item: %v", err)
	}

	if view := f.engine.View(); len(view) != 0 {
		t.Fatalf("emptied order still visible: %+v", view)
	}

	m := f.remote.waitMutation(t)
	if m.op != "patch" || m.patch.Status != enums.OrderStatusCancelled {
		t.Fatalf("mutation %+v, want cancel patch", m)
	}
	if m.patch.Reason == "" || m.patch.CancelledAt == nil {
		t.Fatalf("cancel patch missing reason or timestamp: %+v", m.patch)
	}
}

func TestStreamHandoffStartsAndStopsPoller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	f.stream.emit(enums.StreamStateFallback)
	select {
	case <-f.poller.running:
	case <-time.After(2 * time.Second):
		t.Fatalf("poller not started on fallback")
	}

	f.stream.emit(enums.StreamStateOpen)
	select {
	case <-f.poller.stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("poller not stopped on recovery")
	}

	// repeated fallback restarts it
	f.stream.emit(enums.StreamStateFallback)
	select {
	case <-f.poller.running:
	case <-time.After(2 * time.Second):
		t.Fatalf("poller not restarted on second fallback")
	}
}

func TestFullResyncPrunesConfirmedTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	if err := f.tombstones.MarkOrderRemoved(ctx, "ORD-GONE"); err != nil {
		t.Fatalf("mark removed: %v", err)
	}
	if err := f.tombstones.MarkOrderRemoved(ctx, "ORD-KEPT"); err != nil {
		t.Fatalf("mark removed: %v", err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// the backend still lists ORD-KEPT, so only ORD-GONE is prunable
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{
		record("ORD-KEPT", enums.OrderStatusPending, base, item("p1", 1, "10.00")),
	}})

	tombs, err := f.tombstones.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, ok := tombs.RemovedOrderKeys["ORD-GONE"]; ok {
		t.Fatalf("confirmed-gone tombstone not pruned")
	}
	if _, ok := tombs.RemovedOrderKeys["ORD-KEPT"]; !ok {
		t.Fatalf("still-listed tombstone must be kept")
	}

	// the kept tombstone still suppresses the order
	if view := f.engine.View(); len(view) != 0 {
		t.Fatalf("tombstoned order visible: %+v", view)
	}
}

func TestInitialFetchPublishesResync(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.remote.fetchErr = nil
	f.remote.fetched = []orders.OrderRecord{
		record("ORD-1", enums.OrderStatusPending, base, item("p1", 1, "10.00")),
	}

	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() { _ = f.engine.Close() }()

	deadline := time.After(2 * time.Second)
	for len(f.engine.View()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("initial fetch never reached the view")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCloseStopsStreamAndFlushesView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.dispatcher.Publish(orders.FullResync{Records: []orders.OrderRecord{
		record("ORD-1", enums.OrderStatusPending, base, item("p1", 1, "10.00")),
	}})

	if err := f.engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.stream.stopped == 0 {
		t.Fatalf("stream not stopped on close")
	}

	cached, err := f.cache.List(ctx)
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("final view not flushed: %+v", cached)
	}
}
