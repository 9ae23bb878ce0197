package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reminder-engine/internal/clock"
	"reminder-engine/internal/config"
	"reminder-engine/internal/handlers"
	"reminder-engine/internal/lifecycle"
	"reminder-engine/internal/logger"
	"reminder-engine/internal/mcptools"
	"reminder-engine/internal/notify"
	"reminder-engine/internal/scheduler"
	"reminder-engine/internal/storage"
	"reminder-engine/internal/store"
)

func main() {
	settings := flag.String("settings", config.DefaultSettingsFile, "path to the JSON settings file")
	mcpMode := flag.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	storageType := flag.String("storage", "", "override storage.type: file, memory, sqlite, mongo or bolt")
	flag.Parse()

	cfg, err := config.Load(*settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	if *storageType != "" {
		cfg.Storage.Type = *storageType
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -storage flag: %v\n", err)
			os.Exit(1)
		}
	}

	mode := "http"
	if *mcpMode {
		mode = "mcp"
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.Log.Development,
	}, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log, *mcpMode); err != nil {
		log.Error("reminder engine stopped with error", zap.Error(err))
		_ = logger.Flush(log)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger, mcpMode bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc := lifecycle.New(cfg.ShutdownTimeout, log)
	lc.Listen(cancel)
	lc.Register(lifecycle.PhaseFlush, "logger", func(context.Context) error { return logger.Flush(log) })

	backend, err := openBackend(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	lc.Register(lifecycle.PhaseStorage, "storage", func(context.Context) error { return backend.Close() })

	clk := clock.System{}
	st := store.New(backend,
		store.WithClock(clk),
		store.WithLogger(log.Named("store")),
		store.WithCommentLength(cfg.CommentMaxLength),
	)
	report, err := st.Load(ctx)
	if err != nil {
		_ = lc.Shutdown(context.Background())
		return fmt.Errorf("load reminders: %w", err)
	}
	if report.Recovered() {
		log.Warn("reminders were recovered from a fallback", zap.String("source", string(report.Source)))
	}

	hub := notify.NewHub(0, log.Named("hub"))
	hub.Add(notify.NewLogSink(log))
	if cfg.Telegram.Enabled() {
		hub.Add(notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.RatePerMinute, log))
		log.Info("telegram notifications enabled")
	}
	go hub.Run()
	lc.Register(lifecycle.PhaseNotify, "notifications", hub.Close)

	sched := scheduler.New(st, hub, scheduler.Config{
		Interval:    cfg.PollInterval,
		LeadMinutes: cfg.NotificationMinutesBefore,
		Clock:       clk,
		Logger:      log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	lc.Register(lifecycle.PhaseScheduler, "scheduler", sched.Wait)

	if cfg.HTTP.Addr != "" {
		h := handlers.New(st, handlers.Config{Clock: clk, DueSoonWindow: cfg.DueSoonWindow, Logger: log})
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           h.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("starting HTTP server", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		lc.Register(lifecycle.PhaseIntake, "http", srv.Shutdown)
	}

	if mcpMode {
		tools := mcptools.NewServer(st, clk)
		g.Go(func() error {
			log.Info("serving MCP tools on stdio")
			err := tools.Serve(gctx, os.Stdin, os.Stdout)
			// the client closing stdin ends the process
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	shutdownErr := lc.Shutdown(context.Background())
	return errors.Join(g.Wait(), shutdownErr)
}

func openBackend(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case config.StorageMemory:
		log.Info("using memory storage")
		return storage.NewMemoryBackend(), nil
	case config.StorageFile:
		log.Info("using file storage", zap.String("dir", cfg.Dir))
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return storage.NewFileBackendDir(cfg.Dir), nil
	case config.StorageSQLite:
		log.Info("using SQLite storage", zap.String("path", cfg.SQLitePath))
		return storage.NewSQLiteBackend(cfg.SQLitePath)
	case config.StorageMongo:
		log.Info("using MongoDB storage", zap.String("database", cfg.MongoDatabase))
		return storage.NewMongoBackend(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.StorageBolt:
		log.Info("using bolt storage", zap.String("path", cfg.BoltPath))
		return storage.OpenBoltBackend(cfg.BoltPath)
	}
	return nil, fmt.Errorf("invalid storage type %q", cfg.Type)
}
