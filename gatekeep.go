// Package gatekeep supervises a single message-gateway process: lifecycle
// control, periodic resource monitoring, webhook-driven self-healing and
// connectivity-mode coordination, fronted by an HTTP operational API.
package gatekeep

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/gatekeep/internal/collector"
	"github.com/loykin/gatekeep/internal/config"
	"github.com/loykin/gatekeep/internal/coordinator"
	"github.com/loykin/gatekeep/internal/history"
	"github.com/loykin/gatekeep/internal/metrics"
	"github.com/loykin/gatekeep/internal/notifier"
	"github.com/loykin/gatekeep/internal/provider"
	"github.com/loykin/gatekeep/internal/reconciler"
	"github.com/loykin/gatekeep/internal/server"
	"github.com/loykin/gatekeep/internal/settings"
	"github.com/loykin/gatekeep/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Spec = supervisor.Spec

type Status = supervisor.Status

type Snapshot = history.Snapshot

type RestartRecord = history.RestartRecord

type WebhookCheck = history.WebhookCheck

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// App wires the stores, the supervisor, the background loops and the HTTP
// API into one embeddable unit.
type App struct {
	cfg      *config.Config
	settings *settings.Store
	hist     *history.Store
	sup      *supervisor.Supervisor
	col      *collector.Collector
	rec      *reconciler.Reconciler
	coord    *coordinator.Coordinator
	srv      *http.Server
}

// New builds the full object graph from configuration. Missing Telegram
// credentials degrade the provider and notifier to unconfigured variants
// rather than failing construction.
func New(cfg *config.Config) (*App, error) {
	st, err := settings.Open(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(cfg.Store.DSN)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if cfg.Store.ClickHouseAddr != "" {
		mirror, err := history.NewClickHouseMirror(cfg.Store.ClickHouseAddr, cfg.Store.ClickHouseDatabase,
			cfg.Store.ClickHouseUsername, cfg.Store.ClickHousePassword)
		if err != nil {
			slog.Warn("clickhouse mirror disabled", "error", err)
		} else {
			hist.SetMirror(mirror)
		}
	}

	var prov provider.Client
	if cfg.Telegram.BotToken != "" {
		tg, err := provider.NewTelegram(cfg.Telegram.BotToken)
		if err != nil {
			slog.Warn("telegram provider disabled", "error", err)
		} else {
			prov = tg
		}
	}
	var notify notifier.Notifier = notifier.Noop{}
	if tn, err := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID); err == nil {
		notify = tn
	}

	spec := cfg.SupervisorSpec()
	if spec.HealthTimeout <= 0 {
		if d, err := st.GetSeconds(context.Background(), settings.KeyHealthCheckTimeout, 10*time.Second); err == nil {
			spec.HealthTimeout = d
		}
	}
	sup := supervisor.New(spec, hist)
	col := collector.New(sup, hist, cfg.Monitor.Interval)
	rec := reconciler.New(prov, sup, st, hist, notify, cfg.Gateway.SettleDelay)
	coord := coordinator.New(sup, rec, st)

	return &App{cfg: cfg, settings: st, hist: hist, sup: sup, col: col, rec: rec, coord: coord}, nil
}

// Supervisor exposes the process controller for embedding.
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Reconciler exposes the webhook reconciler for embedding.
func (a *App) Reconciler() *reconciler.Reconciler { return a.rec }

// Coordinator exposes the mode coordinator for embedding.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Start registers metrics, starts the HTTP API and the background loops and
// resumes the persisted connectivity mode.
func (a *App) Start(ctx context.Context) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("metrics registration failed", "error", err)
	}

	router := server.NewRouter(a.sup, a.rec, a.coord, a.hist, a.settings, a.cfg.Server.BasePath)
	a.srv = server.NewServer(a.cfg.Server.Listen, router)
	slog.Info("operational API listening", "addr", a.cfg.Server.Listen, "base", a.cfg.Server.BasePath)

	a.col.Start()

	if enabled, _ := a.settings.GetBool(ctx, settings.KeyWebhookCheckEnabled, true); enabled {
		a.rec.Start()
	}

	// Resume the persisted mode: the gateway only runs under local polling.
	mode, err := a.coord.Mode(ctx)
	if err != nil {
		slog.Warn("failed to read connectivity mode", "error", err)
		mode = settings.ModeLocalPolling
	}
	if mode == settings.ModeLocalPolling && a.cfg.Gateway.AutoStart {
		if res := a.sup.Start(ctx); !res.Success {
			slog.Warn("gateway autostart failed", "message", res.Message)
		}
	}
	return nil
}

// Stop shuts the HTTP API and background loops down and closes the stores.
// The gateway process itself is left running: it is detached on purpose and
// survives supervisor restarts.
func (a *App) Stop(ctx context.Context) {
	if a.srv != nil {
		shCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.srv.Shutdown(shCtx); err != nil {
			slog.Warn("http server shutdown failed", "error", err)
		}
		cancel()
	}
	a.rec.Stop()
	a.col.Stop()
	if err := a.hist.Close(); err != nil {
		slog.Warn("history store close failed", "error", err)
	}
	if err := a.settings.Close(); err != nil {
		slog.Warn("settings store close failed", "error", err)
	}
}
