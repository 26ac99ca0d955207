package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MuistotKartalla/muistot-backend-sub001/cmd/worker/cli"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/app"
	jobmetrics "github.com/MuistotKartalla/muistot-backend-sub001/internal/jobs"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/mailer"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	queue := func() (asynq.RedisConnOpt, error) {
		addr := cfg.Mailer.Config["redis"]
		if addr == "" {
			return nil, errors.New("worker needs a redis entry in MAILER_CONFIG")
		}
		return jobs.RedisOpt(addr)
	}
	open := func() (*cli.JobsCLI, error) {
		opt, err := queue()
		if err != nil {
			return nil, err
		}
		return cli.NewJobsCLI(opt), nil
	}
	run := func(ctx context.Context) error {
		opt, err := queue()
		if err != nil {
			return err
		}
		return runWorker(ctx, cfg, logger, opt)
	}

	if err := cli.NewCommand(run, open).ExecuteContext(ctx); err != nil {
		logger.Error("worker", slog.Any("error", err))
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, cfg *app.Config, logger *slog.Logger, opt asynq.RedisConnOpt) error {
	pool, err := db.New(cfg.Database.Pool(), db.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("configure database: %w", err)
	}
	if err := pool.Connect(ctx); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close(context.Background())

	// The queue backend only enqueues; delivery goes through the inner one.
	inner := cfg.Mailer.Config["inner"]
	if inner == "" {
		inner = "log"
	}
	delivery, err := mailer.NewRegistry().Open(inner, cfg.Mailer.Config)
	if err != nil {
		return fmt.Errorf("open mailer %s: %w", inner, err)
	}

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	mailJob := jobs.NewMailJob(delivery, logger, metrics)
	purgeJob := jobs.NewPurgeVerifiersJob(pool, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   opt,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: mailJob.Handle},
			{Type: jobs.TaskTypePurgeVerifiers, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: jobs.NewPurgeVerifiersTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}

	logger.Info("starting worker", slog.String("mailer", inner), slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker run: %w", err)
	}
	return nil
}
