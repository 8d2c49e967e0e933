package history

import "time"

// GatewayState is the observed process state recorded in snapshots.
type GatewayState string

const (
	StateRunning GatewayState = "running"
	StateStopped GatewayState = "stopped"
	StateError   GatewayState = "error"
)

// TriggerType identifies what initiated a restart attempt.
type TriggerType string

const (
	TriggerManual       TriggerType = "manual"
	TriggerWebhookCheck TriggerType = "webhook_check"
	TriggerHealthCheck  TriggerType = "health_check"
	TriggerScheduled    TriggerType = "scheduled"
)

// Action is the corrective action taken by a reconciliation cycle.
type Action string

const (
	ActionNone    Action = "none"
	ActionRestart Action = "restart"
	ActionAlert   Action = "alert"
)

// Snapshot is one point-in-time sample of the gateway process.
// Snapshots are append-only and never mutated.
type Snapshot struct {
	Timestamp     time.Time    `json:"timestamp"`
	Status        GatewayState `json:"status"`
	PID           int          `json:"pid"`
	CPUPercent    float64      `json:"cpu_percent"`
	MemoryMB      float64      `json:"memory_mb"`
	UptimeSeconds int64        `json:"uptime_seconds"`
}

// RestartRecord is the audit entry for one restart attempt. The supervisor
// records the mechanics; the caller supplies the trigger metadata.
type RestartRecord struct {
	TriggerType  TriggerType `json:"trigger_type"`
	TriggerActor string      `json:"trigger_actor,omitempty"`
	Reason       string      `json:"reason"`
	OldPID       int         `json:"old_pid"`
	NewPID       int         `json:"new_pid"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"error_message,omitempty"`
	DurationMs   int64       `json:"duration_ms"`
	CreatedAt    time.Time   `json:"created_at"`
}

// WebhookCheck is the result of one webhook reconciliation cycle.
type WebhookCheck struct {
	CheckedAt        time.Time  `json:"checked_at"`
	SubscribedURL    string     `json:"subscribed_url"`
	IsActive         bool       `json:"is_active"`
	PendingCount     int        `json:"pending_count"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	ResponseTimeMs   int64      `json:"response_time_ms"`
	ActionTaken      Action     `json:"action_taken"`
}
