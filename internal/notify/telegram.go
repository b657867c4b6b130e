package notify

import (
	"context"
	"fmt"

	"growlog/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramChannel delivers care notifications as messages to a chat.
// Cancel is a no-op at the transport level: sent messages stay, and
// pending requests are removed by the batcher before they reach us.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramChannel(token string, chatID int64, debug bool, logger *zerolog.Logger) (*TelegramChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = debug

	return &TelegramChannel{bot: bot, chatID: chatID, logger: logger}, nil
}

func (c *TelegramChannel) Schedule(ctx context.Context, req models.NotificationRequest) (string, error) {
	text := fmt.Sprintf("🌱 %s due %s for plant #%d",
		req.Type, req.DueAt.Format("Mon Jan 2 15:04"), req.PlantID)

	msg := tgbotapi.NewMessage(c.chatID, text)
	sent, err := c.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send telegram notification: %w", err)
	}

	handle := fmt.Sprintf("tg-%d", sent.MessageID)
	c.logger.Debug().
		Int64("task_id", req.TaskID).
		Str("handle", handle).
		Msg("Telegram notification sent")
	return handle, nil
}

func (c *TelegramChannel) Cancel(ctx context.Context, taskID int64) error {
	c.logger.Debug().Int64("task_id", taskID).Msg("Telegram cancel ignored (messages are immutable)")
	return nil
}
