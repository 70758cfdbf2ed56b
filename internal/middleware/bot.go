package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/dermassist/internal/telemetry"
)

// BotRecover keeps a panicking update handler from taking the poller down.
func BotRecover() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					telemetry.Logger(ctx).Error("panic recovered in bot handler",
						"update_id", update.ID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
			}()
			next(ctx, b, update)
		}
	}
}

// BotLogging scopes a logger to the chat and logs how long each update took.
func BotLogging() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()

			updateType := "unknown"
			var chatID int64
			switch {
			case update.Message != nil:
				updateType = "message"
				if len(update.Message.Photo) > 0 || update.Message.Document != nil {
					updateType = "image"
				}
				chatID = update.Message.Chat.ID
			case update.CallbackQuery != nil:
				updateType = "callback_query"
				if update.CallbackQuery.Message.Message != nil {
					chatID = update.CallbackQuery.Message.Message.Chat.ID
				}
			}

			logger := slog.Default().With("chat_id", chatID, "update_id", update.ID)
			ctx = telemetry.WithLogger(ctx, logger)

			next(ctx, b, update)

			logger.Debug("update processed",
				"type", updateType,
				"duration", time.Since(start),
			)
		}
	}
}
