package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"notification-relay/internal/logging"
	"notification-relay/internal/models"
	"notification-relay/internal/utils"
)

// messageSender is the part of *bot.Bot used here.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Telegram mirrors inbound alerts to a chat. Telegram messages cannot be
// withdrawn reliably, so Clear posts nothing.
type Telegram struct {
	sender  messageSender
	chatID  int64
	limiter *rate.Limiter
	logger  *logging.Logger
	retries int
	delay   time.Duration
}

// NewTelegram creates a bot client for token. ratePerSecond bounds sends.
func NewTelegram(token string, chatID int64, ratePerSecond int, logger *logging.Logger) (*Telegram, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return newTelegram(b, chatID, ratePerSecond, logger), nil
}

func newTelegram(sender messageSender, chatID int64, ratePerSecond int, logger *logging.Logger) *Telegram {
	if ratePerSecond < 1 {
		ratePerSecond = 1
	}
	return &Telegram{
		sender:  sender,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:  logger,
		retries: 3,
		delay:   time.Second,
	}
}

// Show implements relay.Presenter.
func (t *Telegram) Show(ctx context.Context, msg models.NotificationMessage) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit wait: %w", err)
	}

	text := fmt.Sprintf("%s\n%s", msg.Title, msg.Message)
	if msg.Sender != "" {
		text += "\n\nFrom: " + msg.Sender
	}

	return utils.Retry(ctx, t.logger, t.retries, t.delay, func() error {
		params := &bot.SendMessageParams{
			ChatID: t.chatID,
			Text:   text,
		}
		if _, err := t.sender.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", t.chatID, err)
		}
		return nil
	})
}

// Clear implements relay.Presenter.
func (t *Telegram) Clear(context.Context) error {
	t.logger.Debugf("Telegram presenter ignores clear for chat %d", t.chatID)
	return nil
}
