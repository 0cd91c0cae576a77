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

	"parallel-dialer/internal/audit"
	"parallel-dialer/internal/auth"
	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/config"
	"parallel-dialer/internal/dialer"
	"parallel-dialer/internal/events"
	"parallel-dialer/internal/markers"
	"parallel-dialer/internal/reporting"
	"parallel-dialer/internal/tasks"
	"parallel-dialer/internal/telephony"
	"parallel-dialer/internal/webhook"
	"parallel-dialer/pkg/logger"
	"parallel-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "dialer-api")
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
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

	callStore := calls.NewPostgresStore(db)
	markerStore := markers.NewRedisStore(rdb, cfg.Dialer.SessionTTL)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	runner := tasks.NewRunner(log, cfg.Dialer.Workers, cfg.Dialer.QueueSize)

	dialerSvc, err := dialer.NewService(dialer.Deps{
		Markers:  markerStore,
		Calls:    callStore,
		Provider: telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken),
		Events:   events.NewRedisPublisher(rdb),
		Audit:    auditSvc,
		Tasks:    runner,
		Tokens:   authManager,
		Limiter:  dialer.NewRedisLimiter(rdb, cfg.Dialer.MaxLines, cfg.Dialer.SessionTTL),
		Config: dialer.Config{
			PublicBaseURL:      cfg.Twilio.PublicBaseURL,
			CallerID:           cfg.Twilio.CallerID,
			MaxLines:           cfg.Dialer.MaxLines,
			SessionTTL:         cfg.Dialer.SessionTTL,
			AMDEnabled:         cfg.Dialer.AMDEnabled,
			AMDTimeoutSeconds:  cfg.Dialer.AMDTimeoutSeconds,
			RingTimeoutSeconds: cfg.Dialer.RingTimeoutSeconds,
			HoldMessage:        cfg.Dialer.HoldMessage,
			HoldMusicURL:       cfg.Dialer.HoldMusicURL,
		},
		Logger: log,
	})
	if err != nil {
		log.Error("dialer init failed", "err", err)
		os.Exit(1)
	}

	webhooks := webhook.NewHandler(dialerSvc, authManager, callStore, auditSvc, webhook.Config{
		PublicBaseURL: cfg.Twilio.PublicBaseURL,
		HoldMessage:   cfg.Dialer.HoldMessage,
		HoldMusicURL:  cfg.Dialer.HoldMusicURL,
	}, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Auth:      authManager,
		Dialer:    dialerSvc,
		Reporting: reporting.NewService(callStore),
		Webhooks:  webhooks,
		DB:        db,
		Redis:     rdb,
	})

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
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Error("task runner shutdown failed", "err", err)
	}
}
