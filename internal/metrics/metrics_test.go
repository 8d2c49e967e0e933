package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := prometheus.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// A second call must not attempt duplicate registration.
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("second Register: %v", err)
	}

	// Helpers must not panic once registered.
	SetGatewayStatus(true, 12.5, 128, 3600)
	SetGatewayStatus(false, 0, 0, 0)
	IncRestart("manual", true)
	IncRestart("webhook_check", false)
	ObserveRestartDuration(1.25)
	IncWebhookCheck("restart")

	mfs, err := r.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("no metric families gathered")
	}
}
