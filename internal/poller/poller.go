// Package poller implements the fallback path: when the push stream is
// unavailable, a periodic full list-fetch keeps the order view converging.
package poller

import (
	"context"
	"time"

	"github.com/angelmondragon/ordersync/internal/orders"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
	"github.com/angelmondragon/ordersync/pkg/logger"
	"github.com/angelmondragon/ordersync/pkg/metrics"
)

const defaultInterval = 20 * time.Second

// Fetcher retrieves the full authoritative order list.
type Fetcher interface {
	FetchOrders(ctx context.Context) ([]orders.OrderRecord, error)
}

// Publisher receives the FullResync event produced by each successful poll.
type Publisher interface {
	Publish(orders.Event)
}

// Params configure the poller.
type Params struct {
	Logger    *logger.Logger
	Fetcher   Fetcher
	Publisher Publisher
	Metrics   *metrics.SyncMetrics
	Interval  time.Duration
}

// Poller runs full list-fetch cycles on a fixed cadence.
type Poller struct {
	logg      *logger.Logger
	fetcher   Fetcher
	publisher Publisher
	metrics   *metrics.SyncMetrics
	interval  time.Duration
}

// New builds a poller.
func New(params Params) (*Poller, error) {
	if params.Fetcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fetcher required")
	}
	if params.Publisher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "publisher required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		logg:      params.Logger,
		fetcher:   params.Fetcher,
		publisher: params.Publisher,
		metrics:   params.Metrics,
		interval:  interval,
	}, nil
}

// Interval reports the polling cadence.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Run polls immediately, then on every tick, until the context is canceled.
// Fetch failures are logged and the loop keeps going; the next tick retries.
func (p *Poller) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.runCycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if p.logg != nil {
				p.logg.Info(ctx, "poller context canceled")
			}
			return ctx.Err()
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	start := time.Now()
	records, err := p.fetcher.FetchOrders(ctx)
	duration := time.Since(start)
	p.metrics.ObservePollDuration(duration)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if p.logg != nil {
			p.logg.Error(ctx, "fallback poll failed", err)
		}
		return
	}

	if p.logg != nil {
		cycleCtx := p.logg.WithField(ctx, "orders", len(records))
		cycleCtx = p.logg.WithField(cycleCtx, "duration_ms", duration.Milliseconds())
		p.logg.Info(cycleCtx, "fallback poll complete")
	}
	p.publisher.Publish(orders.FullResync{Records: records})
}
