package mailer

import (
	"context"
	"log/slog"
)

// LogMailer writes messages to a logger instead of delivering them.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer constructs a LogMailer. A nil logger uses slog.Default.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func newLogMailer(map[string]string) (Mailer, error) {
	return NewLogMailer(nil), nil
}

// Send logs msg.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "mail",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("lang", msg.Lang),
		slog.String("body", msg.Body))
	return nil
}
