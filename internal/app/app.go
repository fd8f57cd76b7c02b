package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/pvzzle/mempoolwatch/internal/bus"
	"github.com/pvzzle/mempoolwatch/internal/connmgr"
	"github.com/pvzzle/mempoolwatch/internal/ethwatch"
	"github.com/pvzzle/mempoolwatch/internal/httpapi"
	"github.com/pvzzle/mempoolwatch/internal/mempool"
	"github.com/pvzzle/mempoolwatch/internal/metrics"
	"github.com/pvzzle/mempoolwatch/internal/storage"
	"github.com/pvzzle/mempoolwatch/internal/storage/pg"
	"github.com/pvzzle/mempoolwatch/internal/subs"
	"github.com/pvzzle/mempoolwatch/internal/tg"

	tgbot "github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	log, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	return run(ctx, cfg, log)
}

func run(ctx context.Context, cfg Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	m.Register(reg)

	conns := connmgr.NewManager(connmgr.Config{
		Pool:         cfg.RPCEndpoints,
		ProbeTimeout: cfg.ProbeTimeout,
	}, connmgr.DialRPC, log, m)

	mon := mempool.NewMonitor(mempool.Config{
		Interval:         cfg.PollInterval,
		WindowCapacity:   cfg.DedupCapacity,
		FetchConcurrency: cfg.FetchConcurrency,
		FetchRate:        cfg.FetchRPS,
	}, conns, log, m)
	defer mon.Stop()

	var repo storage.Repository
	if cfg.PostgresURL != "" {
		pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("pgxpool new: %w", err)
		}
		defer pgPool.Close()

		pgRepo := pg.New(pgPool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		repo = pgRepo
	} else {
		log.Info("POSTGRES_URL is empty, storage disabled")
	}

	subStore := subs.NewStore(cfg.watchAddresses()...)
	notifyCh := make(chan bus.Notification, cfg.NotifyBuffer)

	dispatcher := ethwatch.NewDispatcher(subStore, notifyCh, repo, ethwatch.DispatcherConfig{
		Workers:     cfg.DispatchWorkers,
		TasksBuffer: cfg.TasksBuffer,
	}, log.Named("dispatch"), m)
	unsubscribe := mon.OnTransaction(dispatcher.Handle)
	defer unsubscribe()

	api := httpapi.New(httpapi.Config{
		Addr:        cfg.HTTPAddr,
		CORSOrigins: cfg.CORSOrigins,
		RecentLimit: cfg.RecentLimit,
	}, mon, reg, log, m)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := dispatcher.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("dispatcher: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := api.ListenAndServe(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if cfg.TelegramToken != "" {
		opts := []tgbot.Option{
			tgbot.WithWorkers(4),
			tgbot.WithNotAsyncHandlers(),
		}
		if cfg.TelegramDebug {
			opts = append(opts, tgbot.WithDebug())
		}
		b, err := tgbot.New(cfg.TelegramToken, opts...)
		if err != nil {
			return fmt.Errorf("telegram bot init: %w", err)
		}

		tgSvc := tg.NewService(b, mon, conns, subStore, notifyCh, repo, log)
		g.Go(func() error {
			tgSvc.StartNotifyLoop(gctx)
			return nil
		})
		g.Go(func() error {
			b.Start(gctx)
			return nil
		})
	} else {
		log.Info("TELEGRAM_TOKEN is empty, bot disabled")
		g.Go(func() error {
			drainNotifications(gctx, notifyCh)
			return nil
		})
	}

	if cfg.Autostart {
		if err := mon.Start(ctx); err != nil {
			// the dashboard can retry via POST /api/monitor/start
			log.Warn("monitor autostart failed", zap.Error(err))
		}
	}

	log.Info("started",
		zap.Strings("rpc_endpoints", cfg.RPCEndpoints),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Bool("storage", repo != nil),
		zap.Bool("telegram", cfg.TelegramToken != ""),
	)

	return g.Wait()
}

// drainNotifications discards notifications when no bot consumes them.
func drainNotifications(ctx context.Context, ch <-chan bus.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}
