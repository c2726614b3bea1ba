package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// WatcherConfig selects the baskets to poll.
type WatcherConfig struct {
	Baskets  []common.Address
	Interval time.Duration
}

// AuctionWatcher polls baskets and publishes an auction tick per basket per
// poll. State changes are logged.
type AuctionWatcher struct {
	auctions *AuctionService
	events   domain.EventPublisher
	cfg      WatcherConfig
	logger   *slog.Logger

	// last holds the previous state per basket, used only for change logs.
	last map[common.Address]domain.RebalanceState
}

// NewAuctionWatcher creates an AuctionWatcher. A zero interval polls every
// 15 seconds.
func NewAuctionWatcher(auctions *AuctionService, events domain.EventPublisher, cfg WatcherConfig, logger *slog.Logger) *AuctionWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &AuctionWatcher{
		auctions: auctions,
		events:   events,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "auction_watcher")),
		last:     make(map[common.Address]domain.RebalanceState),
	}
}

// Run polls until ctx is cancelled.
func (w *AuctionWatcher) Run(ctx context.Context) error {
	if len(w.cfg.Baskets) == 0 {
		w.logger.WarnContext(ctx, "no baskets to watch")
		<-ctx.Done()
		return ctx.Err()
	}
	w.logger.InfoContext(ctx, "watching baskets",
		slog.Int("count", len(w.cfg.Baskets)),
		slog.Duration("interval", w.cfg.Interval),
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		w.Poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll reads every basket once. A failing basket is logged and skipped.
func (w *AuctionWatcher) Poll(ctx context.Context) {
	views := make([]*AuctionView, len(w.cfg.Baskets))
	var g errgroup.Group
	for i, b := range w.cfg.Baskets {
		g.Go(func() error {
			v, err := w.auctions.View(ctx, b)
			if err != nil {
				w.logger.WarnContext(ctx, "poll basket failed",
					slog.String("basket", b.Hex()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			views[i] = &v
			return nil
		})
	}
	_ = g.Wait()

	for _, v := range views {
		if v == nil {
			continue
		}
		w.observe(ctx, *v)
	}
}

func (w *AuctionWatcher) observe(ctx context.Context, v AuctionView) {
	if prev, ok := w.last[v.Basket]; ok && prev != v.State {
		w.logger.InfoContext(ctx, "basket state changed",
			slog.String("basket", v.Basket.Hex()),
			slog.String("from", string(prev)),
			slog.String("to", string(v.State)),
		)
	}
	w.last[v.Basket] = v.State

	if w.events == nil {
		return
	}
	ev, err := newEvent(domain.EventAuctionTick, v.Basket, v, v.At)
	if err == nil {
		err = w.events.PublishEvent(ctx, ev)
	}
	if err != nil {
		w.logger.WarnContext(ctx, "publish tick failed",
			slog.String("basket", v.Basket.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
