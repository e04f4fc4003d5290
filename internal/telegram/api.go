// Package telegram is the chat transport: it turns Telegram updates into
// membership and cycle operations and delivers core.Message values as
// Telegram messages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// API is the part of the Bot API client the transport uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Connect authenticates with the Bot API and drops any configured webhook so
// long polling can start.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return nil, fmt.Errorf("delete webhook: %w", err)
	}
	slog.Info("Authorized on Telegram", "bot", bot.Self.UserName)
	return bot, nil
}

// UpdateHandler processes a single update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tgbotapi.Update)
}

// Poll receives updates until ctx is done and hands each one to h in its own
// goroutine. It returns once every in-flight update has been handled.
func Poll(ctx context.Context, bot *tgbotapi.BotAPI, timeout int, h UpdateHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := bot.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	slog.InfoContext(ctx, "Polling for updates", "timeout_seconds", timeout)
	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			slog.InfoContext(ctx, "Stopped polling for updates")
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.HandleUpdate(context.WithoutCancel(ctx), upd)
			}()
		}
	}
}
