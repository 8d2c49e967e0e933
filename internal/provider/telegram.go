package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram implements Client against the Telegram Bot API. It uses a
// telebot instance in offline mode purely as an API transport; no poller
// or handler machinery is started.
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(token string) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) SubscriptionInfo(_ context.Context) (SubscriptionInfo, error) {
	data, err := t.bot.Raw("getWebhookInfo", nil)
	if err != nil {
		return SubscriptionInfo{}, fmt.Errorf("getWebhookInfo: %w", err)
	}
	var resp struct {
		Result struct {
			URL                string `json:"url"`
			PendingUpdateCount int    `json:"pending_update_count"`
			LastErrorDate      int64  `json:"last_error_date"`
			LastErrorMessage   string `json:"last_error_message"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return SubscriptionInfo{}, fmt.Errorf("getWebhookInfo: decode: %w", err)
	}
	info := SubscriptionInfo{
		URL:              resp.Result.URL,
		PendingCount:     resp.Result.PendingUpdateCount,
		LastErrorMessage: resp.Result.LastErrorMessage,
	}
	if resp.Result.LastErrorDate > 0 {
		at := time.Unix(resp.Result.LastErrorDate, 0).UTC()
		info.LastErrorAt = &at
	}
	return info, nil
}

func (t *Telegram) SetSubscription(_ context.Context, url string) error {
	_, err := t.bot.Raw("setWebhook", map[string]string{"url": url})
	if err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	return nil
}

func (t *Telegram) DeleteSubscription(_ context.Context) error {
	_, err := t.bot.Raw("deleteWebhook", map[string]bool{"drop_pending_updates": false})
	if err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	return nil
}
