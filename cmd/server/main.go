package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/franckalain/nutritrack/internal/backend"
	"github.com/franckalain/nutritrack/internal/capture"
	"github.com/franckalain/nutritrack/internal/config"
	"github.com/franckalain/nutritrack/internal/database"
	"github.com/franckalain/nutritrack/internal/journal"
	"github.com/franckalain/nutritrack/internal/metrics"
	"github.com/franckalain/nutritrack/internal/ml"
	"github.com/franckalain/nutritrack/internal/queue"
	"github.com/franckalain/nutritrack/internal/server"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Server.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Debug("debug logging enabled")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client, err := backend.New(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout.Std()),
		backend.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize recognition model
	model, err := ml.NewModel(cfg.Recognition.Type, cfg.Recognition.ConfigPath, client)
	if err != nil {
		return fmt.Errorf("failed to create ML model: %w", err)
	}
	if err := model.Load(ctx); err != nil {
		return fmt.Errorf("failed to load ML model: %w", err)
	}
	if c, ok := model.(io.Closer); ok {
		defer c.Close()
	}

	j, history, closeJournal, err := buildJournal(cfg, client, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	// Initialize and start server
	srv, err := server.New(server.Config{
		Recognizer:     model,
		Journal:        j,
		History:        history,
		Backend:        client,
		IdentitySecret: cfg.Identity.Secret,
		IdentityIssuer: cfg.Identity.Issuer,
		Metrics:        m,
		Gatherer:       reg,
		Logger:         logger,
		Timeout:        cfg.Recognition.Timeout.Std(),
		ImageDir:       cfg.Server.ImageDir,
		StaticDir:      cfg.Server.StaticDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, ":"+cfg.Server.Port)
	})
	return g.Wait()
}

// buildJournal selects where committed meals go. Only the sqlite journal
// can serve history.
func buildJournal(cfg *config.Config, client *backend.Client, logger *slog.Logger) (capture.Journal, journal.History, func(), error) {
	noop := func() {}
	switch cfg.Journal.Type {
	case "sqlite":
		db, err := database.NewSQLiteDB(cfg.Journal.Path)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("using sqlite meal journal", "path", cfg.Journal.Path)
		return db, db, func() { db.Close() }, nil
	case "amqp":
		pub := queue.NewPublisher(cfg.Journal.AMQPURL, cfg.Journal.Queue, logger)
		logger.Info("publishing meals to queue", "queue", pub.Queue())
		return pub, nil, noop, nil
	default:
		logger.Info("using backend meal journal", "base_url", cfg.Backend.BaseURL)
		return journal.NewRemote(client), nil, noop, nil
	}
}
