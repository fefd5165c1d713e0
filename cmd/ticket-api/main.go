// Package main provides the ticket-api server.
//
// ticket-api parses airline e-ticket documents over HTTP and, when NATS_URL
// is set, from a NATS subject as well. Every outcome is written to the
// configured stores: the SQLite review store, PostgreSQL itineraries and
// ClickHouse analytics. All configuration comes from the environment or a
// .env file; flags override the most common settings.
//
// Usage:
//
//	ticket-api [options]
//
// Options:
//
//	-port N             HTTP port (default: 8080, env: API_PORT)
//	-auth               Enable API key authentication (env: API_AUTH_ENABLED)
//	-api-keys KEYS      Comma-separated list of valid API keys (env: API_KEYS)
//	-sqlite PATH        SQLite review database (env: SQLITE_PATH)
//	-nats URL           NATS server; empty disables the worker (env: NATS_URL)
//
// API Endpoints:
//
//	GET  /api/v1/health
//	POST /api/v1/parse
//	POST /api/v1/parse/batch
//	GET  /api/v1/tickets
//	GET  /api/v1/tickets/{id}
//	GET  /api/v1/stats
//	GET  /metrics
//
// Authentication:
//
//	When -auth is enabled, requests must include an API key via:
//	  - X-API-Key header
//	  - Authorization: Bearer <key> header
//	  - ?api_key=<key> query parameter
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ticket_parser/internal/api"
	"ticket_parser/internal/bus"
	"ticket_parser/internal/config"
	"ticket_parser/internal/llm"
	"ticket_parser/internal/logging"
	"ticket_parser/internal/metrics"
	_ "ticket_parser/internal/parsers" // register all parsers via init()
	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/quality"
	"ticket_parser/internal/storage"
	"ticket_parser/internal/usage"
)

func main() {
	cfg := config.Load()

	port := flag.Int("port", cfg.APIPort, "HTTP port for API server")
	authEnabled := flag.Bool("auth", cfg.APIAuthEnabled, "Enable API key authentication")
	apiKeys := flag.String("api-keys", strings.Join(cfg.APIKeys, ","), "Comma-separated list of valid API keys (when auth enabled)")
	sqlitePath := flag.String("sqlite", cfg.SQLitePath, "SQLite review database")
	natsURL := flag.String("nats", cfg.NATSURL, "NATS server URL")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, runFlags{
		port:        *port,
		authEnabled: *authEnabled,
		apiKeys:     *apiKeys,
		sqlitePath:  *sqlitePath,
		natsURL:     *natsURL,
	}); err != nil {
		logger.Error("ticket-api stopped", zap.Error(err))
		os.Exit(1)
	}
}

type runFlags struct {
	port        int
	authEnabled bool
	apiKeys     string
	sqlitePath  string
	natsURL     string
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, f runFlags) error {
	m := metrics.New("tickets", prometheus.DefaultRegisterer)

	stores, err := storage.Open(ctx, storage.Config{
		SQLitePath: f.sqlitePath,
		Postgres: storage.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
		},
		ClickHouse: storage.ClickHouseConfig{
			Host:     cfg.ClickHouse.Host,
			Port:     cfg.ClickHouse.Port,
			Database: cfg.ClickHouse.Database,
			User:     cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		},
	})
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("close stores", zap.Error(err))
		}
	}()

	opts := pipeline.Options{
		Gate:    quality.Gate{AcceptThreshold: cfg.AcceptThreshold, EnhanceThreshold: cfg.EnhanceThreshold},
		Metrics: m,
		Logger:  logger,
	}
	if cfg.LLM.Enabled() {
		opts.LLM = llm.NewClient(llm.Config{
			BaseURL:       cfg.LLM.BaseURL,
			APIKey:        cfg.LLM.APIKey,
			CheapModel:    cfg.LLM.CheapModel,
			EscalateModel: cfg.LLM.EscalateModel,
			Timeout:       cfg.LLM.Timeout,
			MaxRetries:    cfg.LLM.MaxRetries,
		}, logger)
		logger.Info("generative extractor enabled",
			zap.String("cheap_model", cfg.LLM.CheapModel),
			zap.String("escalate_model", cfg.LLM.EscalateModel),
		)
	}
	if stores.CH != nil {
		rec := usage.NewAsync(stores.CH, usage.DefaultQueueSize, logger)
		rec.OnDrop = m.IncUsageDropped
		opts.Usage = rec
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := rec.Close(closeCtx); err != nil {
				logger.Warn("flush usage records", zap.Error(err))
			}
		}()
	}
	p := pipeline.New(opts)

	apiOpts := api.Options{
		Processor: p,
		Saver:     stores,
		Gatherer:  prometheus.DefaultGatherer,
		Logger:    logger,
	}
	if stores.Review != nil {
		apiOpts.Runs = stores.Review
	}
	if stores.PG != nil {
		apiOpts.Itineraries = stores.PG
	}

	var keys []string
	for _, k := range strings.Split(f.apiKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	server := api.New(apiOpts, api.Config{
		Port:             f.port,
		AuthEnabled:      f.authEnabled,
		APIKeys:          keys,
		BatchConcurrency: cfg.BatchConcurrency,
	})

	g, gctx := errgroup.WithContext(ctx)
	if f.natsURL != "" {
		nc, err := nats.Connect(f.natsURL,
			nats.Name("ticket-api"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", zap.Error(err))
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
			}),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()

		worker := bus.NewWorker(nc, p, stores, bus.Config{
			Subject:       cfg.NATSSubject,
			ResultSubject: cfg.NATSResultSubject,
			Queue:         cfg.NATSQueue,
			Workers:       cfg.BatchConcurrency,
		}, logger)
		g.Go(func() error { return worker.Start(gctx) })
	}

	g.Go(func() error { return server.Run(gctx) })
	return g.Wait()
}
