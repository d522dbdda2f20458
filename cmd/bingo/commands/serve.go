package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/bingo/internal/blotter"
	"github.com/dyluth/bingo/internal/config"
	"github.com/dyluth/bingo/internal/engine"
	"github.com/dyluth/bingo/internal/identity"
	"github.com/dyluth/bingo/internal/metrics"
	"github.com/dyluth/bingo/internal/printer"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the blotter HTTP service",
	Long: `Run the blotter HTTP service until SIGINT or SIGTERM.

Endpoints:
  POST|GET /blotter/ab_test   fetch (or create) an experiment and the caller's alternative
  POST     /blotter/bingo     score a conversion for the caller
  GET      /healthz           store health
  GET      /metrics           Prometheus metrics

Experiments listed under "experiments:" in bingo.yml are created at startup
when they do not exist yet.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	printer.Step("Connecting to %s store...\n", cfg.Store.Driver)
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng := engine.New(store,
		engine.WithLogger(logger.With("namespace", cfg.Namespace)),
		engine.WithMetrics(metrics.NewPrometheus(reg, "bingo")),
		engine.WithHashSeed(cfg.Assignment.HashSeed),
		engine.WithCacheSize(*cfg.Assignment.CacheSize),
	)

	if err := eng.Start(ctx); err != nil {
		return printer.Error("failed to load experiments", err.Error(), nil)
	}
	created, err := seedExperiments(ctx, eng, cfg.Experiments, logger)
	if err != nil {
		return printer.Error("failed to create configured experiments", err.Error(), nil)
	}
	if created > 0 {
		printer.Success("Created %d configured experiment(s)\n", created)
	}

	go eng.Run(ctx, *cfg.Registry.RefreshInterval)

	if len(cfg.Control.Tokens) == 0 {
		printer.Warning("No control tokens configured: the blotter cannot create experiments\n")
	}

	router := blotter.NewRouter(eng, blotter.RouterConfig{
		Resolver:   identity.NewCookieResolver(cfg.Identity.CookieName, *cfg.Identity.CookieMaxAge, cfg.Identity.Secure),
		Authorizer: identity.NewTokenAuthorizer(cfg.Control.Header, cfg.Control.Tokens),
		Gatherer:   reg,
		Logger:     logger,
		Timeout:    cfg.Store.OperationTimeout,
	})

	srv := blotter.NewServer(cfg.Listen, router, logger)
	if err := srv.Start(); err != nil {
		return printer.Error("failed to start server", err.Error(), []string{"Choose another address with --listen or BINGO_LISTEN"})
	}
	printer.Success("Listening on http://%s\n", srv.Addr())

	<-ctx.Done()

	printer.Step("Shutting down...\n")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	printer.Success("Stopped\n")
	return nil
}

// seedExperiments creates the configured experiments that do not exist yet
// and returns how many it created.
func seedExperiments(ctx context.Context, eng *engine.Engine, seeds []config.ExperimentSeed, logger *slog.Logger) (int, error) {
	created := 0
	for _, seed := range seeds {
		def, err := engine.ParseDefinition(seed.Alternatives, seed.Conversions)
		if err != nil {
			return created, fmt.Errorf("experiment '%s': %w", seed.Name, err)
		}

		if _, err := eng.Create(ctx, seed.Name, def); err != nil {
			if errors.Is(err, engine.ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("experiment '%s': %w", seed.Name, err)
		}

		logger.Info("seeded experiment", "event_type", "experiment_seeded", "experiment", seed.Name)
		created++
	}
	return created, nil
}
