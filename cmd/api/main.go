package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/analytics"
	"github.com/safar/go-marketplace/internal/api"
	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/config"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/jobs"
	"github.com/safar/go-marketplace/internal/logger"
	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/orders"
	"github.com/safar/go-marketplace/internal/realtime"
	"github.com/safar/go-marketplace/internal/storage"
	"github.com/safar/go-marketplace/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewForEnvironment(os.Getenv("APP_ENV")).Fatal("load config", zap.Error(err))
	}

	log := logger.New(cfg.Log)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retry := database.RetryPolicy{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseDelay,
		Logger:    log.Named("database"),
	}

	db, err := database.NewConnection(ctx, &cfg.Database, retry)
	if err != nil {
		log.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()
	log.Info("connected to database")

	m := metrics.New()
	st := store.New(db)

	feed, err := database.NewChangeFeed(cfg.Database.URL, cfg.Realtime, log.Named("changefeed"), database.FeedHooks{
		OnEvent: func(e database.ChangeEvent) { m.ChangeEvent(e.Table, string(e.Type)) },
		OnDrop:  func(e database.ChangeEvent) { m.ChangeEventDropped(e.Table) },
	})
	if err != nil {
		log.Fatal("start change feed", zap.Error(err))
	}
	defer feed.Close()
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("change feed stopped", zap.Error(err))
		}
	}()

	var blacklist auth.Blacklist = auth.NewMemoryBlacklist()
	if cfg.Redis.Enabled {
		redisBlacklist, err := auth.NewRedisBlacklist(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("connect to redis", zap.Error(err))
		}
		defer redisBlacklist.Close()
		blacklist = redisBlacklist
	}

	var objects storage.Store
	if cfg.Storage.Bucket == "" {
		log.Warn("no storage bucket configured, keeping uploads in memory")
		objects = storage.NewMemory(cfg.Storage.PublicBaseURL)
	} else {
		objects, err = storage.NewS3(ctx, cfg.Storage, log.Named("storage"))
		if err != nil {
			log.Fatal("configure object storage", zap.Error(err))
		}
	}

	authSvc := auth.NewService(st, auth.NewJWTService(cfg.Auth), blacklist, log.Named("auth"))
	orderSvc := orders.NewService(st, log.Named("orders"), m)
	analyticsSvc := analytics.NewService(st, retry, log.Named("analytics"), m)

	rt := realtime.NewServer(authSvc, feed, st, log.Named("realtime"), m, cfg.Realtime.PingInterval)

	srv := api.New(api.Deps{
		DB:        db,
		Auth:      authSvc,
		Orders:    orderSvc,
		Analytics: analyticsSvc,
		Storage:   objects,
		Realtime:  rt,
		Metrics:   m,
		Log:       log.Named("api"),
		Server:    cfg.Server,
		RateLimit: cfg.RateLimit,
	})

	scheduler := jobs.NewScheduler(st, log.Named("jobs"), m)
	if err := scheduler.ScheduleSellerStats(cfg.Jobs.SellerStatsSchedule); err != nil {
		log.Fatal("schedule seller stats", zap.Error(err))
	}
	err = scheduler.Schedule("rate_limit_cleanup", "@every 10m", func(context.Context) error {
		srv.CleanupRateLimits()
		return nil
	})
	if err != nil {
		log.Fatal("schedule rate limit cleanup", zap.Error(err))
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Env))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rt.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
}
