package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestBestEffortSwallowsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	res := BestEffort(context.Background(), logger, "dm", func(context.Context) error {
		return errors.New("gateway down")
	}, "user_id", int64(9))
	if res.Delivered || res.Err == nil {
		t.Fatalf("expected failed result, got %+v", res)
	}
	if !strings.Contains(buf.String(), "notification failed") || !strings.Contains(buf.String(), "user_id=9") {
		t.Fatalf("expected warn log with attrs, got %q", buf.String())
	}

	buf.Reset()
	res = BestEffort(context.Background(), logger, "dm", func(context.Context) error {
		return ErrUndeliverable
	})
	if res.Delivered {
		t.Fatalf("undeliverable must not count as delivered")
	}
	if !strings.Contains(buf.String(), "notification skipped") {
		t.Fatalf("expected info log for undeliverable, got %q", buf.String())
	}

	res = BestEffort(context.Background(), logger, "dm", func(context.Context) error { return nil })
	if !res.Delivered || res.Err != nil {
		t.Fatalf("expected delivered result, got %+v", res)
	}
}

func TestClassifyBlockedRecipient(t *testing.T) {
	err := classify(&discordgo.RESTError{Message: &discordgo.APIErrorMessage{
		Code:    discordgo.ErrCodeCannotSendMessagesToThisUser,
		Message: "Cannot send messages to this user",
	}})
	if !errors.Is(err, ErrUndeliverable) {
		t.Fatalf("expected ErrUndeliverable, got %v", err)
	}
	if classify(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	plain := errors.New("timeout")
	if got := classify(plain); got != plain {
		t.Fatalf("unrelated errors must pass through, got %v", got)
	}
}

func TestMention(t *testing.T) {
	if got := Mention(1234); got != "<@1234>" {
		t.Fatalf("got %q", got)
	}
}
