package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"celeri/internal/calendar"
	"celeri/internal/config"
	"celeri/internal/database"
	"celeri/internal/ics"
	appLog "celeri/internal/log"
	"celeri/internal/store"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "celeri",
	Short:         "Home facts recorder with a reservation calendar reconciler",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/data/options.json", "Path to config file (yaml or json)")
	rootCmd.AddCommand(serveCmd, syncCmd, initRangeCmd, checkCmd)
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	appLog.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles what every subcommand needs once config is loaded.
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	store      *store.Store
	reconciler *calendar.Reconciler
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	appLog.Setup(cfg.Debug, cfg.LogLevel)

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"db_driver", cfg.Database.Driver,
		"calendar_url", ics.RedactURL(cfg.Calendar.URL),
		"refresh", cfg.Calendar.Refresh,
		"cache_backend", cfg.Cache.Backend,
		"cache_ttl", cfg.CacheTTL(),
	)

	db, err := database.Open(cfg.Database, cfg.Debug)
	if err != nil {
		return nil, err
	}

	st := store.New(db)
	rec := calendar.NewReconciler(
		ics.NewFetcher(cfg.CalendarTimeout()),
		st,
		cfg.Calendar.URL,
		calendar.WithMarker(cfg.Calendar.Marker),
		calendar.WithLocation(cfg.Location()),
	)
	return &app{cfg: cfg, db: db, store: st, reconciler: rec}, nil
}

func (a *app) close() {
	if err := database.Close(a.db); err != nil {
		appLog.Warn("failed to close database", "err", err)
	}
}
