package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/gatekeep/internal/history"
	"github.com/loykin/gatekeep/internal/metrics"
	"github.com/loykin/gatekeep/internal/notifier"
	"github.com/loykin/gatekeep/internal/provider"
	"github.com/loykin/gatekeep/internal/settings"
	"github.com/loykin/gatekeep/internal/supervisor"
)

// Restart attempts are counted over this fixed window when rate limiting.
const rateLimitWindow = 5 * time.Minute

// DefaultInterval between reconciliation cycles when the setting is unset.
const DefaultInterval = 60 * time.Second

// Controller is the slice of the supervisor the reconciler needs.
type Controller interface {
	Restart(ctx context.Context, trig supervisor.Trigger) supervisor.RestartResult
}

// Result is the outcome of a standalone webhook operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Reconciler keeps the provider's push subscription pointed at the
// configured endpoint and uses subscription health as a restart signal for
// the gateway. Corrective action is taken only while the connectivity mode
// is webhook_push; under local polling an inactive subscription is expected
// and merely recorded. External API errors degrade to recorded failures; the
// timer loop never terminates because of them.
type Reconciler struct {
	provider provider.Client // nil when no bot credential is configured
	ctrl     Controller
	settings *settings.Store
	hist     *history.Store
	notify   notifier.Notifier
	settle   time.Duration

	// cycleMu guarantees non-overlapping cycles: a timer tick is skipped
	// while the previous cycle is still restarting the gateway.
	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func New(p provider.Client, ctrl Controller, st *settings.Store, hist *history.Store, n notifier.Notifier, settle time.Duration) *Reconciler {
	if n == nil {
		n = notifier.Noop{}
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Reconciler{provider: p, ctrl: ctrl, settings: st, hist: hist, notify: n, settle: settle}
}

// active applies the subscription activity test: a non-empty URL counts as
// active unless errors are recorded while items pile up undelivered. A URL
// with a stale error but an empty queue is deliberately judged active.
func active(info provider.SubscriptionInfo) bool {
	return info.URL != "" && (info.LastErrorAt == nil || info.PendingCount == 0)
}

// CheckNow runs one reconciliation cycle synchronously and returns the
// appended check record. It serializes with the timer loop.
func (r *Reconciler) CheckNow(ctx context.Context) history.WebhookCheck {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	return r.cycle(ctx)
}

func (r *Reconciler) cycle(ctx context.Context) history.WebhookCheck {
	began := time.Now()
	rec := history.WebhookCheck{CheckedAt: began.UTC(), ActionTaken: history.ActionNone}

	if r.provider == nil {
		rec.LastErrorMessage = "bot credential is not configured"
		r.append(ctx, rec)
		return rec
	}

	info, err := r.provider.SubscriptionInfo(ctx)
	rec.ResponseTimeMs = time.Since(began).Milliseconds()
	if err != nil {
		// Transient provider failure: record it, take no corrective action.
		rec.LastErrorMessage = err.Error()
		slog.Warn("webhook status query failed", "error", err)
		r.append(ctx, rec)
		return rec
	}

	rec.SubscribedURL = info.URL
	rec.PendingCount = info.PendingCount
	rec.LastErrorAt = info.LastErrorAt
	rec.LastErrorMessage = info.LastErrorMessage
	rec.IsActive = active(info)

	if rec.IsActive {
		r.append(ctx, rec)
		return rec
	}

	mode, err := r.settings.Get(ctx, settings.KeyConnectivityMode, settings.ModeLocalPolling)
	if err != nil {
		slog.Warn("failed to read connectivity mode", "error", err)
	}
	if mode != settings.ModeWebhookPush {
		// Under local polling an absent webhook is the desired state.
		// "Repairing" it here would re-enable push next to active polling.
		slog.Debug("webhook inactive outside push mode, leaving it alone", "mode", mode)
		r.append(ctx, rec)
		return rec
	}

	auto, err := r.settings.GetBool(ctx, settings.KeyAutoRestartEnabled, true)
	if err != nil {
		slog.Warn("failed to read auto restart setting", "error", err)
	}
	if !auto {
		// Operator override, not a failure.
		slog.Info("webhook inactive but auto restart is disabled", "url", info.URL, "pending", info.PendingCount)
		r.append(ctx, rec)
		return rec
	}

	maxAttempts, _ := r.settings.GetInt(ctx, settings.KeyMaxRestartAttempts, 3)
	attempts, err := r.hist.CountRestartsSince(ctx, time.Now().Add(-rateLimitWindow))
	if err != nil {
		slog.Warn("failed to count recent restarts", "error", err)
	}
	if err == nil && attempts >= maxAttempts {
		// Circuit breaker: repeated restarts did not help, stop hammering
		// the gateway and page the operator instead.
		r.notify.Notify(ctx, "gateway restart limit reached",
			fmt.Sprintf("webhook inactive but %d restarts were already attempted in the last %s (limit %d)",
				attempts, rateLimitWindow, maxAttempts))
		rec.ActionTaken = history.ActionAlert
		r.append(ctx, rec)
		return rec
	}

	res := r.ctrl.Restart(ctx, supervisor.Trigger{
		Type:   history.TriggerWebhookCheck,
		Reason: "webhook subscription inactive",
	})
	rec.ActionTaken = history.ActionRestart
	if !res.Success {
		// Do not retry within this cycle; the next one re-evaluates.
		slog.Error("webhook-triggered restart failed", "message", res.Message)
		r.append(ctx, rec)
		return rec
	}

	time.Sleep(r.settle)
	if ar := r.ApplyWebhook(ctx); !ar.Success {
		slog.Warn("failed to re-apply webhook after restart", "message", ar.Message)
	}
	r.append(ctx, rec)
	return rec
}

func (r *Reconciler) append(ctx context.Context, rec history.WebhookCheck) {
	if err := r.hist.AppendWebhookCheck(ctx, rec); err != nil {
		slog.Error("failed to append webhook check record", "error", err)
	}
	metrics.IncWebhookCheck(string(rec.ActionTaken))
}

// ApplyWebhook pushes the configured production URL to the provider.
// Missing configuration yields a deterministic, user-actionable failure.
func (r *Reconciler) ApplyWebhook(ctx context.Context) Result {
	url, err := r.settings.Get(ctx, settings.KeyProductionWebhookURL, "")
	if err != nil {
		return Result{Success: false, Message: "failed to read production webhook URL: " + err.Error()}
	}
	if strings.TrimSpace(url) == "" {
		return Result{Success: false, Message: "production webhook URL is not configured"}
	}
	if r.provider == nil {
		return Result{Success: false, Message: "bot credential is not configured"}
	}
	if err := r.provider.SetSubscription(ctx, url); err != nil {
		return Result{Success: false, Message: "failed to set webhook: " + err.Error()}
	}
	slog.Info("webhook applied", "url", url)
	return Result{Success: true, Message: "webhook set to " + url}
}

// DeleteWebhook removes the provider-side subscription so local polling can
// safely take over.
func (r *Reconciler) DeleteWebhook(ctx context.Context) Result {
	if r.provider == nil {
		return Result{Success: false, Message: "bot credential is not configured"}
	}
	if err := r.provider.DeleteSubscription(ctx); err != nil {
		return Result{Success: false, Message: "failed to delete webhook: " + err.Error()}
	}
	slog.Info("webhook deleted")
	return Result{Success: true, Message: "webhook deleted"}
}

// Start launches the periodic check loop with the interval persisted in
// settings. Calling Start while running is a no-op.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	interval, _ := r.settings.GetSeconds(ctx, settings.KeyWebhookCheckInterval, DefaultInterval)
	cancel()

	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(interval, r.stop, r.done)
	slog.Info("webhook reconciler started", "interval", interval)
}

// Stop suppresses future cycles. An in-flight cycle completes and writes
// its record. Safe to call when not running.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done
	slog.Info("webhook reconciler stopped")
}

// Running reports whether the periodic loop is active.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconciler) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !r.cycleMu.TryLock() {
				slog.Debug("skipping webhook check, previous cycle still running")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			r.cycle(ctx)
			cancel()
			r.cycleMu.Unlock()
		}
	}
}

// Configure persists the auto-check settings and applies them to the loop:
// the loop restarts to pick up a changed interval.
func (r *Reconciler) Configure(ctx context.Context, enabled bool, intervalSeconds int) Result {
	if intervalSeconds <= 0 {
		return Result{Success: false, Message: "interval must be positive"}
	}
	if err := r.settings.Set(ctx, settings.KeyWebhookCheckEnabled, fmt.Sprintf("%t", enabled), "periodic webhook check toggle"); err != nil {
		return Result{Success: false, Message: "failed to persist check toggle: " + err.Error()}
	}
	if err := r.settings.Set(ctx, settings.KeyWebhookCheckInterval, fmt.Sprintf("%d", intervalSeconds), "webhook check interval in seconds"); err != nil {
		return Result{Success: false, Message: "failed to persist check interval: " + err.Error()}
	}
	r.Stop()
	if enabled {
		r.Start()
	}
	return Result{Success: true, Message: fmt.Sprintf("auto check enabled=%t interval=%ds", enabled, intervalSeconds)}
}
