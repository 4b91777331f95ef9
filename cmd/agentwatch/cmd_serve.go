package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/config"
	"example.com/agentwatch/internal/hitl"
	"example.com/agentwatch/internal/ingest"
	"example.com/agentwatch/internal/logging"
	"example.com/agentwatch/internal/storage/postgres"
	"example.com/agentwatch/internal/storage/sqlite"
	"example.com/agentwatch/internal/stream"
	"example.com/agentwatch/internal/themes"
	transport "example.com/agentwatch/internal/transport/http"
)

func init() {
	serveCmd.Flags().String("config", "", "YAML config file (overrides $"+config.ConfigPathEnvVar+")")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event collector",
	RunE:  runServe,
}

// backend is what the server needs from either store.
type backend interface {
	ingest.Store
	themes.Store
	Ready(ctx context.Context) error
	Close() error
}

func openBackend(ctx context.Context, cfg config.Config, clk clock.Clock) (backend, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.Storage.PostgresDSN, clk)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	default:
		st, err := sqlite.Open(ctx, sqlite.Config{
			Path:     cfg.Storage.SQLitePath,
			PoolSize: cfg.Storage.SQLitePoolSize,
			Clock:    clk,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})
	log := logging.For("serve")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	store, err := openBackend(ctx, cfg, clk)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()
	log.Info().Str("driver", cfg.Storage.Driver).Msg("store ready")

	hub := stream.NewHub(cfg.Events.StreamBacklog)
	backlog, err := store.RecentEvents(ctx, cfg.Events.StreamBacklog)
	if err != nil {
		return fmt.Errorf("load stream backlog: %w", err)
	}
	hub.Seed(backlog)

	responder := hitl.NewResponder(cfg.HITL.CallbackTimeout)
	defer responder.Wait()

	ingestor := ingest.NewIngestor(store, hub, responder, ingest.Config{
		QueueMaxSize:  cfg.Events.QueueMaxSize,
		BatchMaxSize:  cfg.Events.BatchMaxSize,
		RecentDefault: cfg.Events.RecentDefault,
		RecentMax:     cfg.Events.RecentMax,
	})

	deps := &transport.ServerDeps{
		Cfg:    cfg,
		Events: ingestor,
		Themes: themes.NewService(store, clk),
		Hub:    hub,
		Ready:  store.Ready,
		Clock:  clk,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// The writer and hub outlive the HTTP server so requests already
	// accepted can finish; they stop once it has shut down.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(workCtx) })
	g.Go(func() error { return ingestor.Run(workCtx) })
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopWork()
		return err
	})
	return g.Wait()
}
