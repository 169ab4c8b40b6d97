// Command mockbackend is a development stand-in for the order backend. It
// serves a fixed order list and a newline-delimited JSON stream that walks
// the fixture orders through their statuses, with periodic pings, so the
// daemon can be exercised end to end without a real backend.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ordersync/internal/orders"
	"github.com/angelmondragon/ordersync/pkg/enums"
	"github.com/angelmondragon/ordersync/pkg/env"
	"github.com/angelmondragon/ordersync/pkg/logger"
)

var statusScript = []enums.OrderStatus{
	enums.OrderStatusProcessing,
	enums.OrderStatusShipped,
	enums.OrderStatusDelivered,
}

type fixtureStore struct {
	mu     sync.Mutex
	orders []orders.OrderRecord
	step   int
}

func newFixtureStore() *fixtureStore {
	now := time.Now().UTC()
	return &fixtureStore{
		orders: []orders.OrderRecord{
			{
				InternalID:    "ord_1001",
				OrderNumber:   "ORD-1001",
				CustomerEmail: "shopper@example.com",
				Status:        enums.OrderStatusPending,
				Items: []orders.OrderItem{
					{ProductID: "sku-chair", Name: "Desk Chair", Quantity: 1, UnitPrice: decimal.RequireFromString("149.00")},
					{ProductID: "sku-lamp", Name: "Desk Lamp", Quantity: 2, UnitPrice: decimal.RequireFromString("39.50")},
				},
				CreatedAt: now.Add(-2 * time.Hour),
				UpdatedAt: now.Add(-2 * time.Hour),
			},
			{
				InternalID:    "ord_1002",
				OrderNumber:   "ORD-1002",
				CustomerEmail: "shopper@example.com",
				Status:        enums.OrderStatusProcessing,
				Items: []orders.OrderItem{
					{ProductID: "sku-desk", Name: "Standing Desk", Quantity: 1, UnitPrice: decimal.RequireFromString("480.00")},
				},
				CreatedAt: now.Add(-26 * time.Hour),
				UpdatedAt: now.Add(-3 * time.Hour),
			},
		},
	}
}

func (f *fixtureStore) list() []orders.OrderRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]orders.OrderRecord, len(f.orders))
	for i, rec := range f.orders {
		rec.Total = rec.RecomputeTotal()
		out[i] = rec
	}
	return out
}

// advance moves one fixture order a step forward through the status script
// and returns the envelope announcing it.
func (f *fixtureStore) advance() (orders.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.step % len(f.orders)
	next := statusScript[(f.step/len(f.orders))%len(statusScript)]
	f.step++

	if f.orders[target].Status == next || f.orders[target].Status == enums.OrderStatusDelivered {
		return orders.Envelope{}, false
	}
	f.orders[target].Status = next
	f.orders[target].UpdatedAt = time.Now().UTC()

	return orders.Envelope{
		Type:      enums.EventOrderStatusChanged.String(),
		OrderID:   f.orders[target].InternalID,
		NewStatus: next.String(),
	}, true
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "mockbackend"})
	fixtures := newFixtureStore()

	pingInterval := 5 * time.Second
	statusInterval := 15 * time.Second

	r := chi.NewRouter()
	r.Get("/v1/orders", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"orders": fixtures.list()})
	})

	r.Get("/v1/orders/stream", func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		logg.Info(req.Context(), "stream client connected")

		encoder := json.NewEncoder(w)
		pings := time.NewTicker(pingInterval)
		defer pings.Stop()
		changes := time.NewTicker(statusInterval)
		defer changes.Stop()

		for {
			select {
			case <-req.Context().Done():
				logg.Info(context.Background(), "stream client disconnected")
				return
			case <-pings.C:
				if err := encoder.Encode(orders.Envelope{Type: "ping"}); err != nil {
					return
				}
				flusher.Flush()
			case <-changes.C:
				envelope, ok := fixtures.advance()
				if !ok {
					continue
				}
				if err := encoder.Encode(envelope); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	addr := ":" + env.Get("MOCKBACKEND_PORT", "9800")
	ctx := logg.WithField(context.Background(), "addr", addr)
	logg.Info(ctx, "starting mock backend")

	if err := http.ListenAndServe(addr, r); err != nil {
		logg.Error(ctx, "mock backend stopped", err)
		os.Exit(1)
	}
}
