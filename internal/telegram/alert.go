package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/dermassist/internal/config"
)

// AlertLogger posts operator alerts into a Telegram chat, optionally into a forum topic.
type AlertLogger struct {
	bot     *bot.Bot
	chatID  int64
	topicID int
}

// NewAlertLogger returns nil when no alert chat is configured.
func NewAlertLogger(b *bot.Bot, chatID int64, topicID int) *AlertLogger {
	if b == nil || chatID == 0 {
		return nil
	}
	return &AlertLogger{bot: b, chatID: chatID, topicID: topicID}
}

func (l *AlertLogger) LogError(err error, where string) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf("❌ *Error*\n\n*Context:* %s\n*Error:* `%s`\n*Time:* %s",
		where, err.Error(), time.Now().UTC().Format(time.DateTime))
	l.send(msg)
}

func (l *AlertLogger) send(message string) {
	if runes := []rune(message); len(runes) > config.MaxTelegramMessageLen {
		message = string(runes[:config.MaxTelegramMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.TelegramAlertTimeout)
	defer cancel()

	_, err := l.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.chatID,
		Text:            FixMarkdown(message),
		ParseMode:       models.ParseModeMarkdownV1,
		MessageThreadID: l.topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram alert", "error", err)
	}
}
