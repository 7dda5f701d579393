package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// ErrUndeliverable marks a message the recipient cannot receive: blocked
// direct messages, an unknown user, or a deleted channel or message.
var ErrUndeliverable = errors.New("recipient cannot receive messages")

// Notifier delivers outbound game messages. Every method may fail; callers
// treat failures as non-fatal.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, content string) error
	PostAnnouncement(ctx context.Context, channelID, content string) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
}

type Result struct {
	Kind      string
	Delivered bool
	Err       error
}

// BestEffort runs send and logs a failure instead of returning it. The
// Result is informational; callers discard it explicitly.
func BestEffort(ctx context.Context, logger *slog.Logger, kind string, send func(context.Context) error, attrs ...any) Result {
	if logger == nil {
		logger = slog.Default()
	}
	err := send(ctx)
	if err == nil {
		return Result{Kind: kind, Delivered: true}
	}
	args := append([]any{"kind", kind, "err", err}, attrs...)
	if errors.Is(err, ErrUndeliverable) {
		logger.Info("notification skipped", args...)
	} else {
		logger.Warn("notification failed", args...)
	}
	return Result{Kind: kind, Err: err}
}

func Mention(userID int64) string {
	return fmt.Sprintf("<@%s>", strconv.FormatInt(userID, 10))
}

// Log is a Notifier that only writes messages to the logger. It is used when
// no bot token is configured.
type Log struct {
	log *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger}
}

func (l *Log) NotifyUser(_ context.Context, userID int64, content string) error {
	l.log.Info("notify user", "user_id", userID, "content", content)
	return nil
}

func (l *Log) PostAnnouncement(_ context.Context, channelID, content string) (string, error) {
	l.log.Info("announcement", "channel_id", channelID, "content", content)
	return "", nil
}

func (l *Log) EditMessage(_ context.Context, channelID, messageID, content string) error {
	l.log.Info("edit message", "channel_id", channelID, "message_id", messageID, "content", content)
	return nil
}
