package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "time/tzdata"

	"eventbot/internal/config"
	"eventbot/internal/resources"
	"eventbot/internal/scheduler"
	"eventbot/internal/state"
	"eventbot/internal/storage"
	"eventbot/internal/telegram"
	"eventbot/internal/users"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	// users and the message log always live in SQLite
	db, err := storage.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	backend, err := openStateBackend(cfg, db)
	if err != nil {
		return err
	}

	store := state.NewStore(backend, log.Named("state"))
	states, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}

	userSvc, err := users.NewWithRepo(ctx, db, cfg.AdminUsers, log.Named("users"))
	if err != nil {
		return err
	}

	res, err := resources.New(cfg, nil, log.Named("resources"))
	if err != nil {
		return err
	}

	bot, err := telegram.New(cfg, telegram.Deps{
		States:   states,
		Feeds:    res,
		Users:    userSvc,
		Messages: db,
	}, log.Named("telegram"))
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sched := scheduler.New(loc, log.Named("scheduler"))
	sched.AddJob("state-flush", cfg.StateFlushSpec, func(ctx context.Context) error {
		return states.Flush(ctx)
	})
	sched.AddJob("events-warmup", cfg.EventsWarmupSpec, func(ctx context.Context) error {
		_, err := res.RefreshEvents(ctx, cfg.EventsListSize)
		return err
	})
	sched.AddJob("daily-report", cfg.ReportSpec, bot.SendDailyReport)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	log.Infof("🚀 Bot started with %d chat states (%s storage)", states.Len(), cfg.StorageDriver)
	bot.Start(ctx)

	log.Info("🛑 Shutting down, flushing chat states")
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := states.Flush(flushCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("❌ Final state flush failed: %v", err)
	}
	return nil
}

func openStateBackend(cfg *config.Config, db *storage.SQLite) (storage.Backend, error) {
	if cfg.StorageDriver == config.DriverFile {
		return storage.NewFile(cfg.StateFilePath)
	}
	return db, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
