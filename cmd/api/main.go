package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicecampaign-platform/internal/auth"
	"voicecampaign-platform/internal/billing"
	"voicecampaign-platform/internal/campaign"
	"voicecampaign-platform/internal/config"
	"voicecampaign-platform/internal/dispatch"
	"voicecampaign-platform/internal/httpapi"
	"voicecampaign-platform/internal/provider"
	"voicecampaign-platform/internal/reconcile"
	"voicecampaign-platform/internal/reporting"
	"voicecampaign-platform/internal/wallet"
	"voicecampaign-platform/pkg/logger"
	"voicecampaign-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local convenience; env vars always win over .env contents.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Money and metering.
	walletSvc := wallet.NewService(db)
	rates := billing.NewResolver(billing.NewPostgresRateRepo(db), cfg.Billing.DefaultRatePerMinuteMinor, cfg.Billing.Currency)
	callRepo := reconcile.NewRepository(db)
	meter := billing.NewMeter(rates, walletSvc, callRepo)

	// Outbound dispatch.
	dialer := provider.NewVapiDialer(cfg.Provider)
	guard := dispatch.NewRedisSlotGuard(rdb, cfg.Dispatcher.DialSlotCap, cfg.Dispatcher.DialSlotTTL)
	dispatcher := dispatch.NewDispatcher(dialer, guard, dispatch.DispatcherConfig{
		MaxRetries:         cfg.Dispatcher.MaxRetries,
		RetryDelay:         cfg.Dispatcher.RetryDelay,
		ConcurrencyBackoff: cfg.Dispatcher.ConcurrencyBackoff,
	})
	runner := dispatch.NewBatchRunner(dispatcher, dispatch.BatchConfig{
		ChunkSize:          cfg.Dispatcher.ChunkSize,
		ChunkDelay:         cfg.Dispatcher.ChunkDelay,
		ConcurrencyBackoff: cfg.Dispatcher.ConcurrencyBackoff,
	})

	// Campaign orchestration and the webhook-driven refill loop.
	campRepo := campaign.NewRepository(db)
	refillQueue := campaign.NewRefillQueue(rdb)
	campSvc := campaign.NewService(campRepo, runner, refillQueue, campaign.ServiceConfig{
		ConcurrencyTarget: cfg.Dispatcher.ConcurrencyTarget,
	})
	reconciler := reconcile.NewReconciler(callRepo, campRepo, meter, campSvc, guard)

	worker := campaign.NewWorker(refillQueue, campSvc)
	go worker.Run(logger.With(rootCtx, log))

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := httpapi.Handlers{
		Auth:         authManager,
		Wallet:       walletSvc,
		Campaigns:    campSvc,
		CampaignRepo: campRepo,
		Reports:      reporting.NewService(reporting.NewPostgresRepo(db)),
	}
	webhook := provider.WebhookHandler{
		ProviderName: cfg.Provider.Name,
		Secret:       cfg.Provider.WebhookSecret,
		Tolerance:    cfg.Provider.WebhookTolerance,
		Processor:    reconciler,
	}
	registerRoutes(r, auth.RequireAccessToken(authManager), handlers, webhook)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
