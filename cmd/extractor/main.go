// Package main wires together the email extraction service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/clock/system"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/controller"
	"github.com/mailsift/mailsift/internal/dispatcher"
	"github.com/mailsift/mailsift/internal/extract"
	collyfetcher "github.com/mailsift/mailsift/internal/fetcher/colly"
	"github.com/mailsift/mailsift/internal/htmlcontent"
	"github.com/mailsift/mailsift/internal/id/uuid"
	"github.com/mailsift/mailsift/internal/lease"
	"github.com/mailsift/mailsift/internal/logging"
	"github.com/mailsift/mailsift/internal/metrics"
	"github.com/mailsift/mailsift/internal/normalize"
	memorypublisher "github.com/mailsift/mailsift/internal/publisher/memory"
	pubsubpublisher "github.com/mailsift/mailsift/internal/publisher/pubsub"
	memorystore "github.com/mailsift/mailsift/internal/storage/memory"
	"github.com/mailsift/mailsift/internal/storage/postgres"
	"github.com/mailsift/mailsift/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store extract.Store
		ready func() error
	)
	if cfg.DB.DSN != "" {
		pgStore, storeErr := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifeMins) * time.Minute,
		})
		if storeErr != nil {
			logger.Fatal("connect postgres failed", zap.Error(storeErr))
		}
		defer pgStore.Close()
		store = pgStore
		ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pgStore.Ping(pingCtx)
		}
		logger.Info("using postgres store")
	} else {
		store = memorystore.New()
		logger.Info("using in-memory store")
	}

	var publisher extract.Publisher
	if cfg.PubSub.ProjectID != "" {
		psPublisher, pubErr := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID)
		if pubErr != nil {
			logger.Fatal("connect pubsub failed", zap.Error(pubErr))
		}
		defer func() {
			if closeErr := psPublisher.Close(); closeErr != nil {
				logger.Warn("close pubsub failed", zap.Error(closeErr))
			}
		}()
		publisher = psPublisher
		logger.Info("using pubsub publisher", zap.String("project", cfg.PubSub.ProjectID))
	} else {
		publisher = memorypublisher.New()
		logger.Info("using in-memory publisher")
	}

	clock := system.New()
	idGen := uuid.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.RequestTimeout(),
	})
	extractor := htmlcontent.New()
	normalizer := normalize.New()

	leases := lease.New(store, clock, lease.Config{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		TTLMultiplier:     cfg.Lease.TTLMultiplier,
	}, logger)

	ctrl := controller.New(store, idGen, clock, publisher, cfg.PubSub.TopicName, logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "extractor"
	}
	budget := extract.Budget{
		MaxPages:        cfg.Crawler.MaxPagesPerDomain,
		MaxDepth:        cfg.Crawler.MaxDepth,
		RequestTimeout:  cfg.RequestTimeout(),
		OverallDeadline: cfg.DomainBudget(),
	}
	workers := make([]dispatcher.Runner, 0, cfg.Crawler.MaxConcurrent)
	for i := 0; i < cfg.Crawler.MaxConcurrent; i++ {
		workers = append(workers, worker.New(
			fmt.Sprintf("%s-%d", hostname, i),
			leases,
			store,
			fetcher,
			extractor,
			normalizer,
			idGen,
			clock,
			budget,
			logger,
		))
	}
	dispatch := dispatcher.New(leases, workers, ctrl.OnDomainReleased, dispatcher.Config{
		PollInterval: cfg.PollInterval(),
	}, logger)

	apiServer := api.NewServer(ctrl, cfg, ready, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
