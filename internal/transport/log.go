package transport

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// LogTransport pretends to send. It is the development default.
type LogTransport struct {
	log *logger.Logger
}

func NewLogTransport() *LogTransport {
	return &LogTransport{log: logger.With("component", "transport.Log")}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log-" + uuid.New().String()
	t.log.Info("message accepted",
		"recipient", msg.To,
		"subject", msg.Subject,
		"html_bytes", len(msg.HTML),
		"message_id", id,
	)
	return id, nil
}
