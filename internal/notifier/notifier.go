// Package notifier delivers out-of-band operator alerts. Notifications are
// fire-and-forget: delivery failures are logged and ignored.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// Noop discards all notifications. Used when no alert channel is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string, string) {}

// Telegram sends alerts as messages to an admin chat.
type Telegram struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram alert channel not configured")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Notify(_ context.Context, title, body string) {
	_, err := t.bot.Raw("sendMessage", map[string]interface{}{
		"chat_id": t.chatID,
		"text":    title + "\n\n" + body,
	})
	if err != nil {
		slog.Debug("alert notification failed", "title", title, "error", err)
	}
}
