package coordinator

import (
	"context"
	"testing"

	"github.com/loykin/gatekeep/internal/reconciler"
	"github.com/loykin/gatekeep/internal/settings"
	"github.com/loykin/gatekeep/internal/supervisor"
)

type fakeGateway struct {
	calls     []string
	failStart bool
	failStop  bool
}

func (f *fakeGateway) Start(context.Context) supervisor.StartResult {
	f.calls = append(f.calls, "start")
	return supervisor.StartResult{Success: !f.failStart, PID: 77, Message: "start"}
}

func (f *fakeGateway) Stop(context.Context) supervisor.StopResult {
	f.calls = append(f.calls, "stop")
	return supervisor.StopResult{Success: !f.failStop, Message: "stop"}
}

type fakeWebhooks struct {
	calls     []string
	failApply bool
}

func (f *fakeWebhooks) ApplyWebhook(context.Context) reconciler.Result {
	f.calls = append(f.calls, "apply")
	return reconciler.Result{Success: !f.failApply, Message: "apply"}
}

func (f *fakeWebhooks) DeleteWebhook(context.Context) reconciler.Result {
	f.calls = append(f.calls, "delete")
	return reconciler.Result{Success: true, Message: "delete"}
}

func newFixture(t *testing.T) (*Coordinator, *fakeGateway, *fakeWebhooks, *settings.Store) {
	t.Helper()
	st, err := settings.Open(":memory:")
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	gw := &fakeGateway{}
	wh := &fakeWebhooks{}
	return New(gw, wh, st), gw, wh, st
}

func TestDefaultModeIsLocalPolling(t *testing.T) {
	c, _, _, _ := newFixture(t)
	mode, err := c.Mode(context.Background())
	if err != nil || mode != settings.ModeLocalPolling {
		t.Fatalf("Mode: %q err=%v", mode, err)
	}
}

func TestSwitchToWebhookPushStopsGatewayFirst(t *testing.T) {
	c, gw, wh, st := newFixture(t)
	ctx := context.Background()

	res := c.SetMode(ctx, settings.ModeWebhookPush)
	if !res.Success || !res.Changed || res.Mode != settings.ModeWebhookPush {
		t.Fatalf("SetMode: %+v", res)
	}
	if len(gw.calls) != 1 || gw.calls[0] != "stop" {
		t.Fatalf("gateway calls: %v", gw.calls)
	}
	if len(wh.calls) != 1 || wh.calls[0] != "apply" {
		t.Fatalf("webhook calls: %v", wh.calls)
	}
	if len(res.Steps) != 2 || res.Steps[0].Name != "stop_gateway" || res.Steps[1].Name != "apply_webhook" {
		t.Fatalf("steps out of order: %+v", res.Steps)
	}
	mode, _ := st.Get(ctx, settings.KeyConnectivityMode, "")
	if mode != settings.ModeWebhookPush {
		t.Fatalf("mode not persisted: %q", mode)
	}
}

func TestSwitchToLocalPollingDeletesWebhookFirst(t *testing.T) {
	c, gw, wh, st := newFixture(t)
	ctx := context.Background()
	if err := st.Set(ctx, settings.KeyConnectivityMode, settings.ModeWebhookPush, ""); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res := c.SetMode(ctx, settings.ModeLocalPolling)
	if !res.Success || !res.Changed {
		t.Fatalf("SetMode: %+v", res)
	}
	if len(wh.calls) != 1 || wh.calls[0] != "delete" {
		t.Fatalf("webhook calls: %v", wh.calls)
	}
	if len(gw.calls) != 1 || gw.calls[0] != "start" {
		t.Fatalf("gateway calls: %v", gw.calls)
	}
	if res.Steps[0].Name != "delete_webhook" || res.Steps[1].Name != "start_gateway" {
		t.Fatalf("steps out of order: %+v", res.Steps)
	}
}

func TestSameModeIsNoOp(t *testing.T) {
	c, gw, wh, _ := newFixture(t)
	res := c.SetMode(context.Background(), settings.ModeLocalPolling)
	if !res.Success || res.Changed {
		t.Fatalf("no-op expected: %+v", res)
	}
	if len(gw.calls) != 0 || len(wh.calls) != 0 {
		t.Fatalf("no-op must not touch gateway or webhooks: %v %v", gw.calls, wh.calls)
	}
}

func TestUnknownModeRejected(t *testing.T) {
	c, _, _, _ := newFixture(t)
	res := c.SetMode(context.Background(), "half_duplex")
	if res.Success || res.Changed {
		t.Fatalf("unknown mode must fail: %+v", res)
	}
}

func TestFailedLegStillPersistsMode(t *testing.T) {
	c, gw, wh, st := newFixture(t)
	ctx := context.Background()
	wh.failApply = true

	res := c.SetMode(ctx, settings.ModeWebhookPush)
	if res.Success {
		t.Fatalf("failed leg must surface: %+v", res)
	}
	if !res.Changed {
		t.Fatalf("mode should still change: %+v", res)
	}
	// Both legs were attempted despite the failure.
	if len(gw.calls) != 1 || len(wh.calls) != 1 {
		t.Fatalf("legs skipped: %v %v", gw.calls, wh.calls)
	}
	mode, _ := st.Get(ctx, settings.KeyConnectivityMode, "")
	if mode != settings.ModeWebhookPush {
		t.Fatalf("mode not persisted after failed leg: %q", mode)
	}
}
