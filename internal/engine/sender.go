package engine

import (
	"context"
	"log/slog"
)

// LogSender writes outbound messages to the log. It stands in until a real
// channel adapter (WhatsApp, SMS) is plugged in via Start.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, phone string, text string) error {
	slog.InfoContext(ctx, "Outbound message", "phone", phone, "text", text)
	return nil
}
