// Package provider talks to the messaging provider's webhook-subscription
// API. Provider specifics stay behind the Client interface so the rest of
// the supervisor is provider-agnostic.
package provider

import (
	"context"
	"time"
)

// SubscriptionInfo is the provider-side view of the push subscription.
type SubscriptionInfo struct {
	URL              string     `json:"url"`
	PendingCount     int        `json:"pending_count"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
}

// Client manages the provider-side webhook subscription.
type Client interface {
	SubscriptionInfo(ctx context.Context) (SubscriptionInfo, error)
	SetSubscription(ctx context.Context, url string) error
	DeleteSubscription(ctx context.Context) error
}
