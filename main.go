package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"trelow-offline/api"
	"trelow-offline/cachesync"
	"trelow-offline/intercept"
	"trelow-offline/internal/config"
	"trelow-offline/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	level, _ := cfg.Log.ParseLevel()
	logger := log.New()
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := storage.NewRedisClient(cfg.Redis.ConnectionString)
	defer rc.Close()
	caches := storage.NewCaches(rc, cfg.Cache.TTL)
	cache, err := caches.Open(ctx, cfg.Cache.Name)
	if err != nil {
		logger.Fatalf("cache: %v", err)
	}

	upstream := http.DefaultTransport.(*http.Transport).Clone()
	upstream.ResponseHeaderTimeout = cfg.Upstream.Timeout
	in, err := intercept.New(cfg.Upstream.BaseURL, cache, upstream, logger,
		intercept.WithOfflinePage(cfg.Cache.OfflinePage),
		intercept.WithToken(cfg.Upstream.Token),
	)
	if err != nil {
		logger.Fatalf("interceptor: %v", err)
	}
	if err := in.Install(ctx, cfg.Cache.Precache); err != nil {
		logger.WithError(err).Warn("precache failed, continuing without essential assets")
	}
	if err := intercept.Activate(ctx, caches, cfg.Cache.Name, logger); err != nil {
		logger.WithError(err).Warn("unable to remove old caches")
	}

	mailbox := cachesync.NewMailbox(cfg.Sync.MailboxBuffer, cfg.Sync.HandoffTimeout)
	worker := cachesync.NewWorker(
		cachesync.NewSynchronizer(cache, logger),
		intercept.NewPreloader(in, cfg.Sync.PreloadBatch, logger),
		logger,
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx, mailbox.Messages())
	}()
	bus := cachesync.NewRedisBus(rc, cfg.Sync.Channel, logger)
	go bus.Subscribe(ctx, mailbox.Post)

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	api.Register(e, in, mailbox, func(ctx context.Context) error {
		return rc.Ping(ctx).Err()
	}, logger)

	go func() {
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	mailbox.Close()
	<-workerDone
	in.Wait()
}
