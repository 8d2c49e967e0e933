package supervisor

import (
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/gatekeep/internal/logger"
)

// Default bounds for lifecycle operations.
const (
	DefaultStartTimeout  = 10 * time.Second
	DefaultStopTimeout   = 5 * time.Second
	DefaultSettleDelay   = 2 * time.Second
	DefaultHealthTimeout = 3 * time.Second
)

// Spec describes the single gateway process to be supervised.
type Spec struct {
	Command string   `json:"command" mapstructure:"command"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"`

	// ListenPort is the TCP port the gateway must open to be considered
	// started and healthy. Zero disables port probing.
	ListenPort int `json:"listen_port" mapstructure:"listen_port"`

	PIDFile string `json:"pid_file" mapstructure:"pid_file"`

	// MatchPattern identifies the gateway in a process-table scan when the
	// pid file is missing. Defaults to Command.
	MatchPattern string `json:"match_pattern" mapstructure:"match_pattern"`

	Log logger.FileConfig `json:"log" mapstructure:"log"`

	StartTimeout  time.Duration `json:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout   time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
	SettleDelay   time.Duration `json:"settle_delay" mapstructure:"settle_delay"`
	HealthTimeout time.Duration `json:"health_timeout" mapstructure:"health_timeout"`
}

func (s *Spec) applyDefaults() {
	if s.MatchPattern == "" {
		s.MatchPattern = strings.TrimSpace(s.Command)
	}
	if s.StartTimeout <= 0 {
		s.StartTimeout = DefaultStartTimeout
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.SettleDelay <= 0 {
		s.SettleDelay = DefaultSettleDelay
	}
	if s.HealthTimeout <= 0 {
		s.HealthTimeout = DefaultHealthTimeout
	}
}

// buildCommand constructs an *exec.Cmd for the configured command string.
// It avoids invoking a shell when not necessary and honors an explicit
// "sh -c" prefix without double-wrapping.
func (s *Spec) buildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" prefixes and returns the script
// after "-c" with one pair of surrounding quotes stripped.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
