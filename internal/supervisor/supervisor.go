package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	gops "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/gatekeep/internal/detector"
	"github.com/loykin/gatekeep/internal/history"
	"github.com/loykin/gatekeep/internal/metrics"
)

// Supervisor exclusively owns spawning, signaling and status-probing of the
// single gateway process. Every operation returns a structured result and
// never propagates expected failures: callers include unattended timers.
type Supervisor struct {
	spec Spec
	hist *history.Store

	// mu serializes lifecycle operations (start/stop/restart). Status and
	// HealthCheck are point-in-time probes and do not take it.
	mu sync.Mutex
}

func New(spec Spec, hist *history.Store) *Supervisor {
	spec.applyDefaults()
	return &Supervisor{spec: spec, hist: hist}
}

// Spec returns a copy of the effective spec.
func (s *Supervisor) Spec() Spec { return s.spec }

// StartResult reports the outcome of a start attempt.
type StartResult struct {
	Success bool   `json:"success"`
	PID     int    `json:"pid,omitempty"`
	Message string `json:"message"`
}

// StopResult reports the outcome of a stop attempt.
type StopResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Trigger carries the metadata of whoever initiated a restart.
type Trigger struct {
	Type   history.TriggerType `json:"type"`
	Actor  string              `json:"actor,omitempty"`
	Reason string              `json:"reason"`
}

// RestartResult reports the outcome of a stop/settle/start/health sequence.
type RestartResult struct {
	Success    bool   `json:"success"`
	OldPID     int    `json:"old_pid"`
	NewPID     int    `json:"new_pid"`
	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message"`
}

// Status is a point-in-time snapshot of the gateway process.
type Status struct {
	State         history.GatewayState `json:"state"`
	PID           int                  `json:"pid,omitempty"`
	CPUPercent    float64              `json:"cpu_percent"`
	MemoryMB      float64              `json:"memory_mb"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	ListenPort    int                  `json:"listen_port,omitempty"`
	LogPath       string               `json:"log_path,omitempty"`
	DetectedBy    string               `json:"detected_by,omitempty"`
}

// Start spawns the gateway detached from the supervisor's own lifetime and
// waits up to StartTimeout for the listen port to come up.
func (s *Supervisor) Start(ctx context.Context) StartResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) StartResult {
	if pid, _ := s.resolvePID(); pid > 0 && detector.Alive(pid) {
		return StartResult{Success: false, PID: pid, Message: "gateway already running (pid " + strconv.Itoa(pid) + ")"}
	}

	cmd := s.spec.buildCommand()
	if s.spec.WorkDir != "" {
		cmd.Dir = s.spec.WorkDir
	}
	if len(s.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), s.spec.Env...)
	}
	// New session: the gateway survives supervisor exit and owns its group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	out := s.spec.Log.Writer()
	if out != nil {
		cmd.Stdout = out
		cmd.Stderr = out
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		if out != nil {
			_ = out.Close()
		}
		return StartResult{Success: false, Message: "failed to spawn gateway: " + err.Error()}
	}
	pid := cmd.Process.Pid
	if err := detector.WritePIDFile(s.spec.PIDFile, pid); err != nil {
		slog.Warn("failed to write pid file", "path", s.spec.PIDFile, "error", err)
	}
	// Reap on exit so a dead gateway never lingers as a zombie.
	go func() {
		_ = cmd.Wait()
		if out != nil {
			_ = out.Close()
		}
	}()

	slog.Info("gateway spawned", "pid", pid, "port", s.spec.ListenPort)

	deadline := time.Now().Add(s.spec.StartTimeout)
	for {
		if !detector.Alive(pid) {
			detector.RemovePIDFile(s.spec.PIDFile)
			return StartResult{Success: false, Message: "gateway exited during startup"}
		}
		if s.spec.ListenPort == 0 || portOpen(s.spec.ListenPort, 500*time.Millisecond) {
			return StartResult{Success: true, PID: pid, Message: "gateway started"}
		}
		if ctx.Err() != nil {
			_ = s.stopLocked(context.Background())
			return StartResult{Success: false, Message: "start canceled: " + ctx.Err().Error()}
		}
		if time.Now().After(deadline) {
			// Avoid orphaning a half-started gateway.
			_ = s.stopLocked(context.Background())
			return StartResult{Success: false, Message: fmt.Sprintf("port %d did not open within %s", s.spec.ListenPort, s.spec.StartTimeout)}
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Stop terminates the gateway gracefully, escalating to SIGKILL after
// StopTimeout. A gateway that is already absent counts as success.
func (s *Supervisor) Stop(ctx context.Context) StopResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Supervisor) stopLocked(ctx context.Context) StopResult {
	pid, _ := s.resolvePID()
	if pid == 0 || !detector.Alive(pid) {
		detector.RemovePIDFile(s.spec.PIDFile)
		return StopResult{Success: true, Message: "gateway not running"}
	}

	signalGroup(pid, syscall.SIGTERM)
	deadline := time.Now().Add(s.spec.StopTimeout)
	for detector.Alive(pid) && time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if detector.Alive(pid) {
		slog.Warn("gateway did not exit on SIGTERM, escalating", "pid", pid)
		signalGroup(pid, syscall.SIGKILL)
		killDeadline := time.Now().Add(time.Second)
		for detector.Alive(pid) && time.Now().Before(killDeadline) {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if detector.Alive(pid) {
		return StopResult{Success: false, Message: "gateway (pid " + strconv.Itoa(pid) + ") survived SIGKILL"}
	}
	detector.RemovePIDFile(s.spec.PIDFile)
	slog.Info("gateway stopped", "pid", pid)
	return StopResult{Success: true, Message: "gateway stopped"}
}

// Restart is stop, settle delay, start, then a post-start health check.
// It aborts after a failed stop rather than starting on top of an unknown
// state, and appends exactly one RestartRecord per invocation.
func (s *Supervisor) Restart(ctx context.Context, trig Trigger) RestartResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	began := time.Now()
	oldPID, _ := s.resolvePID()
	res := RestartResult{OldPID: oldPID}

	st := s.stopLocked(ctx)
	if !st.Success {
		res.Message = "stop phase failed: " + st.Message
		s.record(ctx, trig, res, began)
		return res
	}

	time.Sleep(s.spec.SettleDelay)

	sr := s.startLocked(ctx)
	res.NewPID = sr.PID
	if !sr.Success {
		res.Message = "start phase failed: " + sr.Message
		s.record(ctx, trig, res, began)
		return res
	}
	if !s.healthCheck() {
		res.Message = "health check failed after start"
		s.record(ctx, trig, res, began)
		return res
	}

	res.Success = true
	res.Message = "gateway restarted"
	s.record(ctx, trig, res, began)
	return res
}

func (s *Supervisor) record(ctx context.Context, trig Trigger, res RestartResult, began time.Time) {
	res.DurationMs = time.Since(began).Milliseconds()
	rec := history.RestartRecord{
		TriggerType:  trig.Type,
		TriggerActor: trig.Actor,
		Reason:       trig.Reason,
		OldPID:       res.OldPID,
		NewPID:       res.NewPID,
		Success:      res.Success,
		DurationMs:   res.DurationMs,
		CreatedAt:    time.Now().UTC(),
	}
	if !res.Success {
		rec.ErrorMessage = res.Message
	}
	if s.hist != nil {
		if err := s.hist.AppendRestart(ctx, rec); err != nil {
			slog.Error("failed to append restart record", "error", err)
		}
	}
	metrics.IncRestart(string(trig.Type), res.Success)
	metrics.ObserveRestartDuration(time.Since(began).Seconds())
	slog.Info("restart attempt finished",
		"trigger", trig.Type, "reason", trig.Reason,
		"old_pid", res.OldPID, "new_pid", res.NewPID,
		"success", res.Success, "duration_ms", res.DurationMs)
}

// Status resolves the gateway pid (pid file first, process-table scan as a
// self-healing fallback), confirms liveness and queries OS-level resource
// usage. A dead recorded pid clears the pid file and reports stopped; a live
// pid whose process table entry cannot be opened reports the error state.
func (s *Supervisor) Status(ctx context.Context) Status {
	st := Status{State: history.StateStopped, ListenPort: s.spec.ListenPort, LogPath: s.spec.Log.Path}

	pid, detectedBy := s.resolvePID()
	if pid == 0 {
		return st
	}
	if !detector.Alive(pid) {
		detector.RemovePIDFile(s.spec.PIDFile)
		return st
	}

	st.State = history.StateRunning
	st.PID = pid
	st.DetectedBy = detectedBy

	if !probeResources(pid, &st) {
		// Signalable but not inspectable: the pid vanished mid-probe or its
		// /proc entry is off limits. Neither running nor cleanly stopped.
		st.State = history.StateError
	}
	return st
}

// probeResources fills CPU, memory and uptime for pid. It reports false when
// the process cannot be opened at all; individual metric failures leave the
// corresponding fields at zero.
func probeResources(pid int, st *Status) bool {
	p, err := gops.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		st.MemoryMB = float64(mi.RSS) / 1024.0 / 1024.0
	}
	if ct, err := p.CreateTime(); err == nil && ct > 0 {
		st.UptimeSeconds = (time.Now().UnixMilli() - ct) / 1000
	}
	return true
}

// HealthCheck is true only when the gateway is alive and its port accepts
// connections. It never attempts recovery itself.
func (s *Supervisor) HealthCheck(ctx context.Context) bool {
	return s.healthCheck()
}

func (s *Supervisor) healthCheck() bool {
	pid, _ := s.resolvePID()
	if pid == 0 || !detector.Alive(pid) {
		return false
	}
	if s.spec.ListenPort == 0 {
		return true
	}
	return portOpen(s.spec.ListenPort, s.spec.HealthTimeout)
}

// resolvePID reads the pid file, falling back to a process-table scan by
// command pattern. A pid recovered by scan repopulates the pid file.
func (s *Supervisor) resolvePID() (int, string) {
	if pid, err := detector.ReadPIDFile(s.spec.PIDFile); err == nil {
		return pid, "pidfile"
	}
	pid, err := (detector.CommandPattern{Pattern: s.spec.MatchPattern}).FindPID()
	if err != nil || pid <= 0 {
		return 0, ""
	}
	if err := detector.WritePIDFile(s.spec.PIDFile, pid); err != nil {
		slog.Warn("failed to repopulate pid file", "path", s.spec.PIDFile, "error", err)
	}
	return pid, "scan"
}

// signalGroup signals the gateway's process group, falling back to the
// single pid when the group is gone.
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}

func portOpen(port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
