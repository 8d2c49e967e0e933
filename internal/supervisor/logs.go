package supervisor

import (
	"os"
	"strings"
)

const maxLogLines = 1000

// Logs returns the last lines of the gateway log file, optionally filtered
// by a level marker (case-insensitive substring match, e.g. "error").
// Read errors degrade to an empty slice: log inspection must never fail the
// caller.
func (s *Supervisor) Logs(lines int, level string) []string {
	if lines <= 0 {
		lines = 100
	}
	if lines > maxLogLines {
		lines = maxLogLines
	}
	data, err := os.ReadFile(s.spec.Log.Path)
	if err != nil {
		return []string{}
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) == 1 && all[0] == "" {
		return []string{}
	}

	level = strings.ToLower(strings.TrimSpace(level))
	if level != "" {
		filtered := all[:0]
		for _, ln := range all {
			if strings.Contains(strings.ToLower(ln), level) {
				filtered = append(filtered, ln)
			}
		}
		all = filtered
	}
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	out := make([]string, len(all))
	copy(out, all)
	return out
}
