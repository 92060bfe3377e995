package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/app"
	"github.com/mind-edu/mind-insights/internal/auth"
	dashboardhttp "github.com/mind-edu/mind-insights/internal/dashboard/http"
	"github.com/mind-edu/mind-insights/internal/observability"
	"github.com/mind-edu/mind-insights/internal/platform/cache"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/view"
	"github.com/mind-edu/mind-insights/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "mind_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	metrics := observability.NewMetrics()
	insights, err := app.BuildInsights(cfg, logger, redisClient, metrics)
	if err != nil {
		logger.Error("wire dashboard", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := insights.Close(); err != nil {
			logger.Warn("warehouse close", slog.Any("error", err))
		}
	}()

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	gate, err := auth.NewGate(insights.Identities, insights.Access, sessionManager, csrfManager)
	if err != nil {
		logger.Error("auth gate", slog.Any("error", err))
		os.Exit(1)
	}
	authHandler := auth.NewHandler(logger, gate, templates, sessionManager, csrfManager)
	dashboardHandler := dashboardhttp.NewHandler(dashboardhttp.Params{
		Logger:     logger,
		Pages:      insights.Pages,
		Templates:  templates,
		CSRF:       csrfManager,
		Access:     insights.Access,
		Tracker:    analytics.NewRenderTracker(),
		Flusher:    insights.Warehouse,
		Identities: insights.Identities,
	})

	queueRedis, err := cfg.QueueRedis()
	if err != nil {
		logger.Error("queue redis", slog.Any("error", err))
		os.Exit(1)
	}
	inspector := asynq.NewInspector(queueRedis)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Gate:             gate,
		AuthHandler:      authHandler,
		DashboardHandler: dashboardHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
		Readiness:        insights.Warehouse.Lazy,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("warehouse", cfg.WarehouseDriver),
			slog.Bool("preview", cfg.PreviewMode),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
