package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/mailer"
)

// Enqueuer is the part of *asynq.Client the queue mailer needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueMailer hands messages to the worker instead of sending them inline.
type QueueMailer struct {
	client   Enqueuer
	maxRetry int
}

// NewQueueMailer constructs a QueueMailer.
func NewQueueMailer(client Enqueuer, maxRetry int) *QueueMailer {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &QueueMailer{client: client, maxRetry: maxRetry}
}

// Send enqueues msg on the default queue.
func (q *QueueMailer) Send(ctx context.Context, msg mailer.Message) error {
	task, err := NewSendEmailTask(msg)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(q.maxRetry)); err != nil {
		return fmt.Errorf("jobs: enqueue mail: %w", err)
	}
	return nil
}

// Close releases the underlying client when it holds a connection.
func (q *QueueMailer) Close() error {
	if c, ok := q.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// RedisOpt converts a host:port address or a redis:// URL to asynq options.
func RedisOpt(addr string) (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := asynq.ParseRedisURI(addr)
		if err != nil {
			return nil, fmt.Errorf("jobs: redis uri: %w", err)
		}
		return opt, nil
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}

// RegisterQueueMailer adds the "queue" backend. Its config takes "redis"
// (address or URL) and an optional "max_retry"; the worker selects the
// delivering backend separately.
func RegisterQueueMailer(reg *mailer.Registry) {
	reg.Register("queue", func(config map[string]string) (mailer.Mailer, error) {
		addr := config["redis"]
		if addr == "" {
			return nil, errors.New("redis is required")
		}
		retry := 0
		if raw := config["max_retry"]; raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("max_retry: %w", err)
			}
			retry = n
		}
		opt, err := RedisOpt(addr)
		if err != nil {
			return nil, err
		}
		return NewQueueMailer(asynq.NewClient(opt), retry), nil
	})
}
