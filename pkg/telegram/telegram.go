// Package telegram adapts the bot to the Telegram Bot API: a long-poll
// update loop on the way in, and a reply sink on the way out.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/codeGROOVE-dev/tzChat/pkg/bot"
)

// Handler consumes one incoming text message.
type Handler interface {
	HandleMessage(ctx context.Context, conversationID, userID int64, text string)
}

// Adapter owns the Telegram API connection.
type Adapter struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// New authenticates against the Bot API. A nil logger falls back to
// slog.Default.
func New(token string, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to Telegram: %w", err)
	}
	logger.Info("connected to Telegram", "username", api.Self.UserName)
	return &Adapter{api: api, logger: logger}, nil
}

// Send implements bot.Sink. Markdown is only requested when the reply was
// built for it; previews are suppressed for reports carrying calendar
// links.
func (a *Adapter) Send(_ context.Context, conversationID int64, text string, opts bot.SendOptions) error {
	msg := tgbotapi.NewMessage(conversationID, text)
	if opts.AllowMarkup {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	msg.DisableWebPagePreview = opts.SuppressPreview
	if _, err := a.api.Send(msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Run long-polls for updates and feeds text messages to the handler until
// ctx is cancelled. Non-text updates are ignored. Each message is handled
// synchronously; there is no shared in-memory state for messages to race
// on, the stores serialize what matters.
func (a *Adapter) Run(ctx context.Context, h Handler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := a.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := update.Message
			if msg == nil || msg.Text == "" || msg.From == nil {
				continue
			}
			a.logger.Debug("incoming message", "chat", msg.Chat.ID, "user", msg.From.ID)
			h.HandleMessage(ctx, msg.Chat.ID, msg.From.ID, msg.Text)
		}
	}
}
