package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/gatekeep/internal/history"
	"github.com/loykin/gatekeep/internal/metrics"
	"github.com/loykin/gatekeep/internal/supervisor"
)

// DefaultInterval between monitoring samples.
const DefaultInterval = 30 * time.Second

// Prober is the slice of the supervisor the collector needs.
type Prober interface {
	Status(ctx context.Context) supervisor.Status
}

// Collector samples gateway status on a fixed interval (and once immediately
// on start) and appends a snapshot to the history sink. A failed sample is
// logged and swallowed: the timer keeps running regardless.
type Collector struct {
	probe    Prober
	hist     *history.Store
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func New(probe Prober, hist *history.Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{probe: probe, hist: hist, interval: interval}
}

// Start begins sampling. Calling Start while running is a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)
}

// Stop clears the timer. Safe to call when not running; an in-flight sample
// is allowed to complete and write its snapshot.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
}

func (c *Collector) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	c.sample()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := c.probe.Status(ctx)
	snap := history.Snapshot{
		Timestamp:     time.Now().UTC(),
		Status:        st.State,
		PID:           st.PID,
		CPUPercent:    st.CPUPercent,
		MemoryMB:      st.MemoryMB,
		UptimeSeconds: st.UptimeSeconds,
	}
	if err := c.hist.AppendSnapshot(ctx, snap); err != nil {
		slog.Warn("monitor snapshot append failed", "error", err)
	}
	metrics.SetGatewayStatus(st.State == history.StateRunning, st.CPUPercent, st.MemoryMB, st.UptimeSeconds)
}
