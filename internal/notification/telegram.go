package notification

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"altregime/internal/model"
)

// TelegramBackend sends alerts through the Telegram Bot API.
type TelegramBackend struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramBackend authenticates the bot token and targets the given
// chat, group or channel ID.
func NewTelegramBackend(token string, chatID int64) (*TelegramBackend, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	log.Printf("[notify] telegram bot authorized as %s", bot.Self.UserName)
	return &TelegramBackend{bot: bot, chatID: chatID}, nil
}

func (t *TelegramBackend) Name() string { return "telegram" }

func (t *TelegramBackend) Send(_ context.Context, d model.Divergence) error {
	emoji := "🟢"
	if d.Side == model.SideBearish {
		emoji = "🔴"
	}
	msg := tgbotapi.NewMessage(t.chatID, emoji+" "+alertText(d))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
