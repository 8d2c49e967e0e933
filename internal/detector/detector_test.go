package detector

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sleep on Unix-like systems")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "gw.pid")

	if err := WritePIDFile(path, 4242); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPIDFile: pid=%d err=%v", pid, err)
	}

	RemovePIDFile(path)
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatalf("expected error after RemovePIDFile")
	}
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatalf("expected error for garbage pid file")
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Fatalf("own pid should be alive")
	}
	if Alive(0) || Alive(-1) {
		t.Fatalf("non-positive pids are never alive")
	}
}

func TestCommandPatternFindPID(t *testing.T) {
	requireUnix(t)
	// Unique sleep duration so the scan cannot match an unrelated process.
	cmd := exec.Command("sleep", "300.73914")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	// Give the process table a moment to show the child.
	time.Sleep(100 * time.Millisecond)

	d := CommandPattern{Pattern: "sleep 300.73914"}
	pid, err := d.FindPID()
	if err != nil {
		t.Fatalf("FindPID: %v", err)
	}
	if pid != cmd.Process.Pid {
		t.Fatalf("FindPID = %d, want %d", pid, cmd.Process.Pid)
	}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("Alive: %v err=%v", alive, err)
	}
}

func TestCommandPatternNotFound(t *testing.T) {
	d := CommandPattern{Pattern: "no-such-process-zxq-81724"}
	if _, err := d.FindPID(); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := (CommandPattern{}).FindPID(); err != ErrNotFound {
		t.Fatalf("empty pattern should be ErrNotFound, got %v", err)
	}
}
