package history

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseMirror exports history rows to ClickHouse using the official Go
// client. It is attached via Store.SetMirror and is strictly best effort:
// the primary sqlite/postgres history remains the source of truth.
type ClickHouseMirror struct {
	conn driver.Conn
}

func NewClickHouseMirror(addr, database, username, password string) (*ClickHouseMirror, error) {
	if database == "" {
		database = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	m := &ClickHouseMirror{conn: conn}
	if err := m.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *ClickHouseMirror) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gateway_monitor_snapshots (
			taken_at DateTime64(3),
			status String,
			pid Int64,
			cpu_percent Float64,
			memory_mb Float64,
			uptime_seconds Int64
		) ENGINE = MergeTree ORDER BY taken_at`,
		`CREATE TABLE IF NOT EXISTS gateway_restart_records (
			created_at DateTime64(3),
			trigger_type String,
			trigger_actor String,
			reason String,
			old_pid Int64,
			new_pid Int64,
			success UInt8,
			error_message String,
			duration_ms Int64
		) ENGINE = MergeTree ORDER BY created_at`,
		`CREATE TABLE IF NOT EXISTS gateway_webhook_checks (
			checked_at DateTime64(3),
			subscribed_url String,
			is_active UInt8,
			pending_count Int64,
			last_error_message String,
			response_time_ms Int64,
			action_taken String
		) ENGINE = MergeTree ORDER BY checked_at`,
	}
	for _, q := range stmts {
		if err := m.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to create ClickHouse table: %w", err)
		}
	}
	return nil
}

func (m *ClickHouseMirror) SnapshotAppended(ctx context.Context, s Snapshot) error {
	return m.conn.Exec(ctx,
		`INSERT INTO gateway_monitor_snapshots (taken_at, status, pid, cpu_percent, memory_mb, uptime_seconds) VALUES (?, ?, ?, ?, ?, ?)`,
		s.Timestamp, string(s.Status), int64(s.PID), s.CPUPercent, s.MemoryMB, s.UptimeSeconds)
}

func (m *ClickHouseMirror) RestartAppended(ctx context.Context, r RestartRecord) error {
	return m.conn.Exec(ctx,
		`INSERT INTO gateway_restart_records (created_at, trigger_type, trigger_actor, reason, old_pid, new_pid, success, error_message, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt, string(r.TriggerType), r.TriggerActor, r.Reason, int64(r.OldPID), int64(r.NewPID), r.Success, r.ErrorMessage, r.DurationMs)
}

func (m *ClickHouseMirror) WebhookCheckAppended(ctx context.Context, c WebhookCheck) error {
	return m.conn.Exec(ctx,
		`INSERT INTO gateway_webhook_checks (checked_at, subscribed_url, is_active, pending_count, last_error_message, response_time_ms, action_taken) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.CheckedAt, c.SubscribedURL, c.IsActive, int64(c.PendingCount), c.LastErrorMessage, c.ResponseTimeMs, string(c.ActionTaken))
}

func (m *ClickHouseMirror) Close() error {
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
