package history

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Mirror receives a best-effort copy of every appended row, for export to
// analytics systems. Implementations must be safe for concurrent use.
type Mirror interface {
	SnapshotAppended(ctx context.Context, s Snapshot) error
	RestartAppended(ctx context.Context, r RestartRecord) error
	WebhookCheckAppended(ctx context.Context, c WebhookCheck) error
	Close() error
}

// Store is the append-only history sink for monitor snapshots, restart
// records and webhook check results. It supports SQLite (modernc.org/sqlite)
// and Postgres (pgx stdlib) selected by DSN; the schema is created if
// missing. Rows are retained indefinitely, pruning is left to operators.
type Store struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
	mirror  Mirror
}

// parseDSN selects the database/sql driver and SQL dialect from the DSN
// shape. Anything that is not a postgres URL is treated as a sqlite path.
func parseDSN(dsn string) (driver, dialect, path string) {
	ld := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return "pgx", "postgres", dsn
	case strings.HasPrefix(ld, "sqlite://"):
		return "sqlite", "sqlite", dsn[len("sqlite://"):]
	default:
		return "sqlite", "sqlite", dsn
	}
}

func Open(dsn string) (*Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN for history store")
	}
	drv, dialect, path := parseDSN(d)
	db, err := sql.Open(drv, path)
	if err != nil {
		return nil, err
	}
	if dialect == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SetMirror attaches an optional mirror sink. Mirror failures are logged
// and never affect the primary append.
func (s *Store) SetMirror(m Mirror) { s.mirror = m }

func (s *Store) ensureSchema(ctx context.Context) error {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	if s.dialect == "postgres" {
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS monitor_snapshots(
			id ` + id + `,
			taken_at ` + ts + ` NOT NULL,
			status TEXT NOT NULL,
			pid INTEGER NOT NULL,
			cpu_percent REAL NOT NULL,
			memory_mb REAL NOT NULL,
			uptime_seconds INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_snapshots_taken_at ON monitor_snapshots(taken_at);`,
		`CREATE TABLE IF NOT EXISTS restart_records(
			id ` + id + `,
			trigger_type TEXT NOT NULL,
			trigger_actor TEXT NULL,
			reason TEXT NOT NULL,
			old_pid INTEGER NOT NULL,
			new_pid INTEGER NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT NULL,
			duration_ms INTEGER NOT NULL,
			created_at ` + ts + ` NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_restart_records_created_at ON restart_records(created_at);`,
		`CREATE TABLE IF NOT EXISTS webhook_checks(
			id ` + id + `,
			checked_at ` + ts + ` NOT NULL,
			subscribed_url TEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			pending_count INTEGER NOT NULL,
			last_error_at ` + ts + ` NULL,
			last_error_message TEXT NULL,
			response_time_ms INTEGER NOT NULL,
			action_taken TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_checks_checked_at ON webhook_checks(checked_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// ph rewrites ? placeholders to $n for postgres.
func (s *Store) ph(q string) string {
	if s.dialect != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, s.ph(`
		INSERT INTO monitor_snapshots(taken_at, status, pid, cpu_percent, memory_mb, uptime_seconds)
		VALUES(?, ?, ?, ?, ?, ?);`),
		snap.Timestamp.UTC(), string(snap.Status), snap.PID, snap.CPUPercent, snap.MemoryMB, snap.UptimeSeconds)
	if err != nil {
		return err
	}
	if s.mirror != nil {
		if merr := s.mirror.SnapshotAppended(ctx, snap); merr != nil {
			slog.Warn("history mirror snapshot append failed", "error", merr)
		}
	}
	return nil
}

func (s *Store) AppendRestart(ctx context.Context, rec RestartRecord) error {
	actor := sql.NullString{String: rec.TriggerActor, Valid: rec.TriggerActor != ""}
	errMsg := sql.NullString{String: rec.ErrorMessage, Valid: rec.ErrorMessage != ""}
	_, err := s.db.ExecContext(ctx, s.ph(`
		INSERT INTO restart_records(trigger_type, trigger_actor, reason, old_pid, new_pid, success, error_message, duration_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`),
		string(rec.TriggerType), actor, rec.Reason, rec.OldPID, rec.NewPID, rec.Success, errMsg, rec.DurationMs, rec.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if s.mirror != nil {
		if merr := s.mirror.RestartAppended(ctx, rec); merr != nil {
			slog.Warn("history mirror restart append failed", "error", merr)
		}
	}
	return nil
}

func (s *Store) AppendWebhookCheck(ctx context.Context, chk WebhookCheck) error {
	lastErrAt := sql.NullTime{}
	if chk.LastErrorAt != nil {
		lastErrAt = sql.NullTime{Time: chk.LastErrorAt.UTC(), Valid: true}
	}
	errMsg := sql.NullString{String: chk.LastErrorMessage, Valid: chk.LastErrorMessage != ""}
	_, err := s.db.ExecContext(ctx, s.ph(`
		INSERT INTO webhook_checks(checked_at, subscribed_url, is_active, pending_count, last_error_at, last_error_message, response_time_ms, action_taken)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`),
		chk.CheckedAt.UTC(), chk.SubscribedURL, chk.IsActive, chk.PendingCount, lastErrAt, errMsg, chk.ResponseTimeMs, string(chk.ActionTaken))
	if err != nil {
		return err
	}
	if s.mirror != nil {
		if merr := s.mirror.WebhookCheckAppended(ctx, chk); merr != nil {
			slog.Warn("history mirror webhook check append failed", "error", merr)
		}
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.ph(`
		SELECT taken_at, status, pid, cpu_percent, memory_mb, uptime_seconds
		FROM monitor_snapshots ORDER BY id DESC LIMIT ?;`), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		var status string
		if err := rows.Scan(&sn.Timestamp, &status, &sn.PID, &sn.CPUPercent, &sn.MemoryMB, &sn.UptimeSeconds); err != nil {
			return nil, err
		}
		sn.Status = GatewayState(status)
		out = append(out, sn)
	}
	return out, rows.Err()
}

// RecentRestarts returns up to limit restart records, newest first.
func (s *Store) RecentRestarts(ctx context.Context, limit int) ([]RestartRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.ph(`
		SELECT trigger_type, trigger_actor, reason, old_pid, new_pid, success, error_message, duration_ms, created_at
		FROM restart_records ORDER BY id DESC LIMIT ?;`), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []RestartRecord
	for rows.Next() {
		var rec RestartRecord
		var trig string
		var actor, errMsg sql.NullString
		if err := rows.Scan(&trig, &actor, &rec.Reason, &rec.OldPID, &rec.NewPID, &rec.Success, &errMsg, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.TriggerType = TriggerType(trig)
		rec.TriggerActor = actor.String
		rec.ErrorMessage = errMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentWebhookChecks returns up to limit check records, newest first.
func (s *Store) RecentWebhookChecks(ctx context.Context, limit int) ([]WebhookCheck, error) {
	rows, err := s.db.QueryContext(ctx, s.ph(`
		SELECT checked_at, subscribed_url, is_active, pending_count, last_error_at, last_error_message, response_time_ms, action_taken
		FROM webhook_checks ORDER BY id DESC LIMIT ?;`), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []WebhookCheck
	for rows.Next() {
		var chk WebhookCheck
		var action string
		var lastErrAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&chk.CheckedAt, &chk.SubscribedURL, &chk.IsActive, &chk.PendingCount, &lastErrAt, &errMsg, &chk.ResponseTimeMs, &action); err != nil {
			return nil, err
		}
		if lastErrAt.Valid {
			t := lastErrAt.Time
			chk.LastErrorAt = &t
		}
		chk.LastErrorMessage = errMsg.String
		chk.ActionTaken = Action(action)
		out = append(out, chk)
	}
	return out, rows.Err()
}

// CountRestartsSince counts restart attempts recorded at or after since.
// Both successful and failed attempts count toward the rate limit.
func (s *Store) CountRestartsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.ph(`
		SELECT COUNT(*) FROM restart_records WHERE created_at >= ?;`), since.UTC()).Scan(&n)
	return n, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func (s *Store) Close() error {
	if s.mirror != nil {
		_ = s.mirror.Close()
	}
	return s.db.Close()
}
