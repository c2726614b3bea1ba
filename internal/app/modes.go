package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/setrebalancer/internal/auction"
	"github.com/alanyoungcy/setrebalancer/internal/chain"
	"github.com/alanyoungcy/setrebalancer/internal/config"
	"github.com/alanyoungcy/setrebalancer/internal/crypto"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/pipeline"
	"github.com/alanyoungcy/setrebalancer/internal/server"
	"github.com/alanyoungcy/setrebalancer/internal/server/handler"
	"github.com/alanyoungcy/setrebalancer/internal/server/ws"
	"github.com/alanyoungcy/setrebalancer/internal/service"
	"github.com/alanyoungcy/setrebalancer/internal/validator"
)

// ServerMode serves the JSON and WebSocket API. Watched baskets are polled
// so subscribers receive auction ticks.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startAPI(ctx, g, deps); err != nil {
		return err
	}
	if len(a.cfg.Watch.Baskets) > 0 {
		a.startWatcher(ctx, g, deps)
	}
	return g.Wait()
}

// WatchMode only polls the configured baskets and publishes auction ticks.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWatcher(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs the archive schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the API (when enabled), the basket watcher and, with object
// storage configured, the archive schedule.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		if err := a.startAPI(ctx, g, deps); err != nil {
			return err
		}
	}
	a.startWatcher(ctx, g, deps)
	if a.cfg.NeedsArchive() {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return err
		}
	}
	return g.Wait()
}

// ledgerStack holds the read side of the ledger shared by the watcher and
// the validators.
type ledgerStack struct {
	ledger   *chain.Ledger
	metadata *chain.Metadata
	clock    *chain.BlockClock
	curves   map[common.Address]auction.PriceCurve
	auctions *service.AuctionService
}

func (a *App) buildLedgerStack(deps *Dependencies) (*ledgerStack, error) {
	if deps.Chain == nil {
		return nil, errors.New("app: ethereum client is not wired")
	}
	backend := deps.Chain.Underlying()

	managers := make(map[common.Address]domain.ManagerKind, len(a.cfg.Contracts.Managers))
	for addr, kind := range a.cfg.Contracts.Managers {
		managers[config.Address(addr)] = domain.ManagerKind(kind)
	}
	curves := make(map[common.Address]auction.PriceCurve, len(a.cfg.Contracts.LinearCurves))
	for _, addr := range config.Addresses(a.cfg.Contracts.LinearCurves) {
		curves[addr] = auction.NewLinearCurve()
	}

	s := &ledgerStack{
		ledger: chain.NewLedger(backend, chain.LedgerConfig{
			Core:     config.Address(a.cfg.Contracts.Core),
			Managers: managers,
		}, a.logger),
		metadata: chain.NewMetadata(backend, deps.Metadata, a.logger),
		clock:    chain.NewBlockClock(backend),
		curves:   curves,
	}
	s.auctions = service.NewAuctionService(s.ledger, s.clock, curves, a.logger)
	return s, nil
}

// buildRebalancer loads the signing key and assembles the validators and
// the submission pipeline.
func (a *App) buildRebalancer(deps *Dependencies, ls *ledgerStack) (*service.RebalanceService, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
		Address:          config.Address(a.cfg.Wallet.Address),
	})
	if err != nil {
		return nil, fmt.Errorf("app: load key: %w", err)
	}
	signer, err := crypto.NewSignerFromKey(key, a.cfg.Ethereum.ChainID)
	if err != nil {
		return nil, fmt.Errorf("app: signer: %w", err)
	}
	if deps.Submissions == nil || deps.Audit == nil {
		return nil, errors.New("app: submission stores are not wired")
	}

	backend := deps.Chain.Underlying()
	vdeps := validator.Deps{
		Ledger:   ls.ledger,
		Registry: ls.ledger,
		Metadata: ls.metadata,
		Clock:    ls.clock,
		Curves:   ls.curves,
		Logger:   a.logger,
	}
	proposals := validator.NewProposalValidator(vdeps)
	validators := service.Validators{
		Bids: validator.NewBidValidator(vdeps, validator.BidConfig{
			TransferProxy: config.Address(a.cfg.Contracts.TransferProxy),
			EtherBidder:   config.Address(a.cfg.Contracts.EtherBidder),
			CTokenBidder:  config.Address(a.cfg.Contracts.CTokenBidder),
			WETH:          config.Address(a.cfg.Contracts.WETH),
			CTokens:       config.Addresses(a.cfg.Contracts.CTokens),
		}),
		Proposals: proposals,
		Allocations: validator.NewAllocationValidator(vdeps, validator.AllocationConfig{
			PriceCurve:         config.Address(a.cfg.Allocation.PriceCurve),
			StartPrice:         config.Amount(a.cfg.Allocation.StartPrice),
			PivotPrice:         config.Amount(a.cfg.Allocation.PivotPrice),
			DefaultTimeToPivot: a.cfg.Allocation.TimeToPivot.Duration,
		}, chain.NewAllocatorPlanner(backend), proposals),
		Fees: validator.NewFeeValidator(vdeps),
	}

	submitter := chain.NewSubmitter(backend, signer, chain.SubmitterConfig{
		GasBufferPercent: a.cfg.Ethereum.GasBufferPercent,
		MaxGasLimit:      a.cfg.Ethereum.MaxGasLimit,
	}, a.logger)
	waiter := chain.NewWaiter(backend, chain.WaiterConfig{
		PollInterval: a.cfg.Mining.PollInterval.Duration,
		Timeout:      a.cfg.Mining.Timeout.Duration,
	}, a.logger)

	return service.NewRebalanceService(
		validators,
		submitter,
		waiter,
		deps.Submissions,
		deps.Audit,
		deps.SignalBus,
		deps.Notifier,
		service.RebalanceConfig{
			AuctionModule: config.Address(a.cfg.Contracts.AuctionModule),
			EtherBidder:   config.Address(a.cfg.Contracts.EtherBidder),
			CTokenBidder:  config.Address(a.cfg.Contracts.CTokenBidder),
			TrackTimeout:  a.cfg.Mining.TrackTimeout.Duration,
		},
		a.logger,
	), nil
}

// startWatcher adds the basket poller to g.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ls, err := a.buildLedgerStack(deps)
		if err != nil {
			return err
		}
		w := service.NewAuctionWatcher(ls.auctions, deps.SignalBus, service.WatcherConfig{
			Baskets:  config.Addresses(a.cfg.Watch.Baskets),
			Interval: a.cfg.Watch.Interval.Duration,
		}, a.logger)
		return w.Run(ctx)
	})
}

// startArchiver adds the archive schedule to g.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive requires s3 and postgres")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, deps.LockManager, pipeline.ArchiverConfig{
		RetentionDays: a.cfg.Archive.RetentionDays,
		LockTTL:       a.cfg.Archive.LockTTL.Duration,
	}, deps.Notifier, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return nil
}

// startAPI adds the HTTP server, its shutdown and the WebSocket hub to g.
// The server is shut down gracefully when ctx is cancelled and in-flight
// background receipt tracking is drained afterwards.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	ls, err := a.buildLedgerStack(deps)
	if err != nil {
		return err
	}
	rebalancer, err := a.buildRebalancer(deps, ls)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, rebalancer.Close)

	pingers := map[string]handler.Pinger{
		"ethereum": deps.Chain,
		"redis":    deps.Redis,
		"postgres": deps.Postgres,
	}
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(pingers, rebalancer.Sender().Hex(), a.logger),
		Baskets:     handler.NewBasketHandler(ls.auctions, rebalancer, a.logger),
		Bids:        handler.NewBidHandler(rebalancer, a.logger),
		Pools:       handler.NewPoolHandler(rebalancer, a.logger),
		Submissions: handler.NewSubmissionHandler(rebalancer, a.logger),
	}
	if deps.S3 != nil {
		pingers["s3"] = handler.PingFunc(deps.S3.Health)
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Sender:    rebalancer.Sender(),
		Baskets:   config.Addresses(a.cfg.Watch.Baskets),
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("sender", rebalancer.Sender().Hex()),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}
