package notification

import (
	"context"
	"errors"
	"log/slog"
)

var (
	_ Notifier = (*ConsoleNotifier)(nil)
	_ Notifier = Multi(nil)
)

// ConsoleNotifier 把事件写入日志
type ConsoleNotifier struct {
	logger *slog.Logger
}

func NewConsoleNotifier(logger *slog.Logger) *ConsoleNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleNotifier{logger: logger}
}

func (n *ConsoleNotifier) Notify(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	switch event.Type {
	case TradeFailed, SessionError:
		level = slog.LevelWarn
	case TradeSuccess:
		level = slog.LevelDebug
	}
	n.logger.Log(ctx, level, "engine event",
		"type", event.Type,
		"session", event.SessionID,
		"status", event.Status,
		"reason", event.Reason,
	)
	return nil
}

// Multi 依次通知所有 Notifier, 单个失败不影响其他
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
