package coordinator

import (
	"context"
	"log/slog"

	"github.com/loykin/gatekeep/internal/reconciler"
	"github.com/loykin/gatekeep/internal/settings"
	"github.com/loykin/gatekeep/internal/supervisor"
)

// GatewayController is the slice of the supervisor the coordinator needs.
type GatewayController interface {
	Start(ctx context.Context) supervisor.StartResult
	Stop(ctx context.Context) supervisor.StopResult
}

// WebhookManager is the slice of the reconciler the coordinator needs.
type WebhookManager interface {
	ApplyWebhook(ctx context.Context) reconciler.Result
	DeleteWebhook(ctx context.Context) reconciler.Result
}

// Step is the outcome of one leg of a mode transition.
type Step struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ModeResult reports a mode transition. The mode setting is persisted even
// when individual legs fail: a half-applied transition is always recoverable
// by re-invoking SetMode, and the operator sees which legs failed.
type ModeResult struct {
	Success bool   `json:"success"`
	Mode    string `json:"mode"`
	Changed bool   `json:"changed"`
	Steps   []Step `json:"steps,omitempty"`
	Message string `json:"message"`
}

// Coordinator guarantees that local polling and webhook push are never
// simultaneously active and migrates safely between them.
type Coordinator struct {
	gw       GatewayController
	webhooks WebhookManager
	settings *settings.Store
}

func New(gw GatewayController, wh WebhookManager, st *settings.Store) *Coordinator {
	return &Coordinator{gw: gw, webhooks: wh, settings: st}
}

// Mode returns the persisted connectivity mode.
func (c *Coordinator) Mode(ctx context.Context) (string, error) {
	return c.settings.Get(ctx, settings.KeyConnectivityMode, settings.ModeLocalPolling)
}

// SetMode transitions to the target connectivity mode.
//
// To webhook_push: stop the gateway first (so it cannot also be polling),
// then apply the webhook. To local_polling: delete the webhook first (so the
// provider stops pushing before polling begins), then start the gateway.
// Each leg is best effort; the mode setting is persisted as the final step.
func (c *Coordinator) SetMode(ctx context.Context, target string) ModeResult {
	if target != settings.ModeLocalPolling && target != settings.ModeWebhookPush {
		return ModeResult{Success: false, Message: "unknown mode: " + target}
	}
	current, err := c.Mode(ctx)
	if err != nil {
		slog.Warn("failed to read current mode", "error", err)
	}
	if current == target {
		return ModeResult{Success: true, Mode: current, Changed: false, Message: "mode unchanged"}
	}

	var steps []Step
	switch target {
	case settings.ModeWebhookPush:
		st := c.gw.Stop(ctx)
		steps = append(steps, Step{Name: "stop_gateway", Success: st.Success, Message: st.Message})
		if !st.Success {
			slog.Error("mode transition: stop gateway failed", "message", st.Message)
		}
		ar := c.webhooks.ApplyWebhook(ctx)
		steps = append(steps, Step{Name: "apply_webhook", Success: ar.Success, Message: ar.Message})
		if !ar.Success {
			slog.Error("mode transition: apply webhook failed", "message", ar.Message)
		}
	case settings.ModeLocalPolling:
		dr := c.webhooks.DeleteWebhook(ctx)
		steps = append(steps, Step{Name: "delete_webhook", Success: dr.Success, Message: dr.Message})
		if !dr.Success {
			slog.Error("mode transition: delete webhook failed", "message", dr.Message)
		}
		sr := c.gw.Start(ctx)
		steps = append(steps, Step{Name: "start_gateway", Success: sr.Success, Message: sr.Message})
		if !sr.Success {
			slog.Error("mode transition: start gateway failed", "message", sr.Message)
		}
	}

	// Persist last, after best-effort execution of both legs.
	if err := c.settings.Set(ctx, settings.KeyConnectivityMode, target, "connectivity mode"); err != nil {
		return ModeResult{Success: false, Mode: current, Changed: false, Steps: steps,
			Message: "failed to persist mode: " + err.Error()}
	}

	ok := true
	for _, s := range steps {
		if !s.Success {
			ok = false
			break
		}
	}
	msg := "switched to " + target
	if !ok {
		msg += " (some steps failed, re-invoke to retry)"
	}
	slog.Info("connectivity mode changed", "from", current, "to", target, "clean", ok)
	return ModeResult{Success: ok, Mode: target, Changed: true, Steps: steps, Message: msg}
}
