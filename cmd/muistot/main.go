package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/app"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/auth"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/mailer"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/observability"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/cache"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/httpx"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/projects"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/rbac"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
	"github.com/MuistotKartalla/muistot-backend-sub001/jobs"
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
	metrics := observability.NewMetrics()

	pool, err := db.New(cfg.Database.Pool(),
		db.WithLogger(logger),
		db.WithMetrics(db.NewPoolMetrics(metrics.Registerer())),
	)
	if err != nil {
		logger.Error("configure database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := pool.Connect(ctx); err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close(context.Background())

	sessionRedis, err := cache.New(ctx, cfg.Security.SessionRedis)
	if err != nil {
		logger.Error("connect session redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := sessionRedis.Close(); err != nil {
			logger.Warn("session redis close", slog.Any("error", err))
		}
	}()

	cacheRedis, err := cache.New(ctx, cfg.CacheRedis)
	if err != nil {
		logger.Error("connect cache redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := cacheRedis.Close(); err != nil {
			logger.Warn("cache redis close", slog.Any("error", err))
		}
	}()

	mailers := mailer.NewRegistry()
	jobs.RegisterQueueMailer(mailers)
	mail, err := mailers.Open(cfg.Mailer.Name, cfg.Mailer.Config)
	if err != nil {
		logger.Error("open mailer", slog.String("name", cfg.Mailer.Name), slog.Any("error", err))
		os.Exit(1)
	}
	if closer, ok := mail.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("mailer close", slog.Any("error", err))
			}
		}()
	}

	negotiator, err := httpx.NewNegotiator(cfg.Localization.Default, cfg.Localization.Supported)
	if err != nil {
		logger.Error("configure languages", slog.Any("error", err))
		os.Exit(1)
	}

	sessions := shared.NewSessionManager(sessionRedis, cfg.Security.SessionLifetime, cfg.Security.SessionTokenBytes)

	authService := auth.NewService(auth.NewRepository(pool), sessions, auth.Config{
		BcryptCost: cfg.Security.BcryptCost,
		Names:      auth.NewNameGenerator(cfg.Security.NamegenURL),
		Mailer:     mail,
		Logger:     logger,
	})
	authHandler := auth.NewHandler(logger, authService)

	caches := cache.NewRegistry(cfg.CacheTTL,
		cache.WithLogger(logger),
		cache.WithMetrics(cache.NewMetrics(metrics.Registerer())),
	)
	projectsService := projects.NewService(projects.NewRepository(pool), rbac.NewStatusResolver(pool), sessions, logger)
	projectsHandler := projects.NewHandler(logger, projectsService, projects.NewCaches(caches))

	var jobsHandler *jobs.Handler
	if cfg.Mailer.Name == "queue" {
		opt, err := jobs.RedisOpt(cfg.Mailer.Config["redis"])
		if err != nil {
			logger.Error("configure job inspector", slog.Any("error", err))
			os.Exit(1)
		}
		inspector := asynq.NewInspector(opt)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("job inspector close", slog.Any("error", err))
			}
		}()
		jobsHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Cache:           cacheRedis,
		Authenticator:   auth.NewAuthenticator(sessions, logger),
		Negotiator:      negotiator,
		AuthHandler:     authHandler,
		ProjectsHandler: projectsHandler,
		JobsHandler:     jobsHandler,
		Metrics:         metrics,
		Health: map[string]app.HealthCheck{
			"database": pool.Ping,
			"sessions": func(ctx context.Context) error { return sessionRedis.Ping(ctx).Err() },
			"cache":    func(ctx context.Context) error { return cacheRedis.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
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
