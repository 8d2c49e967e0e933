package detector

import (
	"errors"
	"os"
	"strings"

	gops "github.com/shirou/gopsutil/v4/process"
)

// ErrNotFound is returned when no process matches the pattern.
var ErrNotFound = errors.New("no process matches pattern")

// CommandPattern finds a process by scanning the process table for a command
// line containing Pattern. It recovers the gateway pid when the pid file is
// missing or stale (e.g. after a supervisor restart).
type CommandPattern struct {
	Pattern string
}

// FindPID returns the pid of the first matching process, skipping the
// supervisor's own pid.
func (d CommandPattern) FindPID() (int, error) {
	if strings.TrimSpace(d.Pattern) == "" {
		return 0, ErrNotFound
	}
	procs, err := gops.Processes()
	if err != nil {
		return 0, err
	}
	self := os.Getpid()
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if strings.Contains(cmdline, d.Pattern) {
			return int(p.Pid), nil
		}
	}
	return 0, ErrNotFound
}

func (d CommandPattern) Alive() (bool, error) {
	pid, err := d.FindPID()
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return Alive(pid), nil
}

func (d CommandPattern) Describe() string { return "pattern:" + d.Pattern }
