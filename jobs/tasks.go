package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/MuistotKartalla/muistot-backend-sub001/internal/jobs"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/mailer"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypePurgeVerifiers removes expired email verifiers.
	TaskTypePurgeVerifiers = "verifiers:purge"
)

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(msg mailer.Message) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// MailJob delivers queued mail through the configured backend.
type MailJob struct {
	mailer  mailer.Mailer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewMailJob constructs a MailJob.
func NewMailJob(m mailer.Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *MailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailJob{mailer: m, logger: logger, metrics: metrics}
}

// Handle processes TaskTypeSendEmail tasks.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) error {
	return j.metrics.Observe(TaskTypeSendEmail, func() error {
		var msg mailer.Message
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			return fmt.Errorf("decode mail payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := j.mailer.Send(ctx, msg); err != nil {
			j.logger.Warn("mail delivery failed", slog.String("to", msg.To), slog.Any("error", err))
			return err
		}
		return nil
	})
}

// VerifierRetention is how long an unused email verifier is kept.
const VerifierRetention = "1 day"

// PurgeVerifiersJob deletes email verifiers older than VerifierRetention.
type PurgeVerifiersJob struct {
	db      db.Querier
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewPurgeVerifiersJob constructs a PurgeVerifiersJob.
func NewPurgeVerifiersJob(q db.Querier, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeVerifiersJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeVerifiersJob{db: q, logger: logger, metrics: metrics}
}

// NewPurgeVerifiersTask constructs the cron task.
func NewPurgeVerifiersTask() *asynq.Task {
	return asynq.NewTask(TaskTypePurgeVerifiers, nil)
}

const purgeVerifiersSQL = `DELETE FROM user_email_verifiers WHERE created_at < NOW() - CAST(:retention AS INTERVAL)`

// Handle processes TaskTypePurgeVerifiers tasks.
func (j *PurgeVerifiersJob) Handle(ctx context.Context, _ *asynq.Task) error {
	return j.metrics.Observe(TaskTypePurgeVerifiers, func() error {
		n, err := j.db.Execute(ctx, purgeVerifiersSQL, db.Args{"retention": VerifierRetention})
		if err != nil {
			return fmt.Errorf("purge verifiers: %w", err)
		}
		j.logger.Info("purged email verifiers", slog.Int64("count", n))
		return nil
	})
}
