package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeep.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[gateway]
command = "python gateway.py"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Listen != "127.0.0.1:8710" || c.Server.BasePath != "/api" {
		t.Fatalf("server defaults: %+v", c.Server)
	}
	if c.Store.DSN != "gatekeep.db" {
		t.Fatalf("store default: %+v", c.Store)
	}
	if c.Monitor.Interval != 30*time.Second {
		t.Fatalf("monitor default: %v", c.Monitor.Interval)
	}
	if c.Gateway.PIDFile != "gatekeep-gateway.pid" || c.Gateway.Log.Path != "gateway.log" {
		t.Fatalf("gateway defaults: %+v", c.Gateway)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = "0.0.0.0:9000"
base_path = "/ops"

[gateway]
command = "python gateway.py --prod"
workdir = "/srv/gateway"
listen_port = 8081
autostart = true
start_timeout = "20s"
settle_delay = "3s"

[gateway.log]
path = "/var/log/gateway.log"
max_size_mb = 10

[store]
dsn = "postgres://gk:pw@db:5432/gatekeep?sslmode=disable"

[telegram]
bot_token = "123:abc"
admin_chat_id = 42

[monitor]
interval = "15s"

[log]
level = "debug"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Listen != "0.0.0.0:9000" || c.Server.BasePath != "/ops" {
		t.Fatalf("server: %+v", c.Server)
	}
	if c.Gateway.ListenPort != 8081 || !c.Gateway.AutoStart {
		t.Fatalf("gateway: %+v", c.Gateway)
	}
	if c.Gateway.StartTimeout != 20*time.Second || c.Gateway.SettleDelay != 3*time.Second {
		t.Fatalf("gateway timeouts: %+v", c.Gateway)
	}
	if c.Gateway.Log.Path != "/var/log/gateway.log" || c.Gateway.Log.MaxSizeMB != 10 {
		t.Fatalf("gateway log: %+v", c.Gateway.Log)
	}
	if c.Telegram.BotToken != "123:abc" || c.Telegram.AdminChatID != 42 {
		t.Fatalf("telegram: %+v", c.Telegram)
	}
	if c.Monitor.Interval != 15*time.Second {
		t.Fatalf("monitor: %v", c.Monitor.Interval)
	}

	spec := c.SupervisorSpec()
	if spec.Command != "python gateway.py --prod" || spec.ListenPort != 8081 {
		t.Fatalf("spec mapping: %+v", spec)
	}
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = "127.0.0.1:8710"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing gateway.command")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, `
[gateway]
command = "python gateway.py"
listen_port = 70000
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
