package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"celeri/internal/cache"
	appLog "celeri/internal/log"
	"celeri/internal/scheduler"
	"celeri/internal/sensor"
	"celeri/internal/stats"
	"celeri/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled calendar sync",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	appLog.Info("celeri starting", "version", version)

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	backend, closeBackend, err := newCacheBackend(ctx, a)
	if err != nil {
		return err
	}
	defer closeBackend()

	svc := stats.NewService(a.store, cache.New(backend, a.cfg.CacheTTL()), nil)

	sched := scheduler.New(ctx, a.cfg.Location())
	if a.cfg.Calendar.URL != "" {
		syncJob := func(ctx context.Context) error {
			_, err := a.reconciler.Sync(ctx)
			return err
		}
		if err := sched.Add("calendar-sync", a.cfg.Calendar.Refresh, syncJob); err != nil {
			return err
		}
		if a.cfg.Calendar.SyncOnStart {
			sched.RunNow("calendar-sync", syncJob)
		}
	} else {
		appLog.Warn("calendar URL not configured, scheduled sync disabled")
	}
	if len(a.cfg.Sensors) > 0 {
		poller := sensor.NewPoller(a.cfg.Sensors, nil, a.store, nil)
		if err := sched.Add("sensor-poll", a.cfg.SensorRefresh, poller.Poll); err != nil {
			return err
		}
	}
	sched.Start()

	srv := web.NewServer(a.cfg, a.store, svc, a.reconciler)
	runErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(stopCtx)

	appLog.Info("celeri exiting")
	return runErr
}

// newCacheBackend picks the statistics cache backend. A Redis backend that
// cannot be reached falls back to memory.
func newCacheBackend(ctx context.Context, a *app) (cache.Backend, func(), error) {
	noop := func() {}
	if a.cfg.Cache.Backend != "redis" {
		return cache.NewMemoryBackend(), noop, nil
	}

	rb, err := cache.NewRedisBackend(ctx, a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
	if err != nil {
		appLog.Error("redis unavailable, using in-memory cache", err, "addr", a.cfg.Cache.RedisAddr)
		return cache.NewMemoryBackend(), noop, nil
	}
	return rb, func() {
		if err := rb.Close(); err != nil {
			appLog.Warn("failed to close redis", "err", err)
		}
	}, nil
}
