package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

type Discord struct {
	session *discordgo.Session
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewDiscord builds a REST-only client; the engine never opens a gateway
// connection.
func NewDiscord(token string, ratePerSec int, logger *slog.Logger) (*Discord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     logger,
	}, nil
}

func (d *Discord) NotifyUser(ctx context.Context, userID int64, content string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	ch, err := d.session.UserChannelCreate(strconv.FormatInt(userID, 10), discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	_, err = d.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return classify(err)
}

func (d *Discord) PostAnnouncement(ctx context.Context, channelID, content string) (string, error) {
	if strings.TrimSpace(channelID) == "" {
		return "", fmt.Errorf("%w: no announcement channel configured", ErrUndeliverable)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msg, err := d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	if channelID == "" || messageID == "" {
		return fmt.Errorf("%w: message reference missing", ErrUndeliverable)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.session.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeCannotSendMessagesToThisUser,
			discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeUnknownMessage,
			discordgo.ErrCodeMissingAccess,
			discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %s", ErrUndeliverable, restErr.Message.Message)
		}
	}
	return err
}
