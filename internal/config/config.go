package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/gatekeep/internal/collector"
	"github.com/loykin/gatekeep/internal/logger"
	"github.com/loykin/gatekeep/internal/supervisor"
)

// Config is the static deployment configuration loaded from a TOML file.
// Mutable operational parameters (check interval, production URL, mode)
// live in the settings store instead.
type Config struct {
	Server   ServerConfig    `toml:"server" mapstructure:"server"`
	Gateway  GatewayConfig   `toml:"gateway" mapstructure:"gateway"`
	Store    StoreConfig     `toml:"store" mapstructure:"store"`
	Telegram TelegramConfig  `toml:"telegram" mapstructure:"telegram"`
	Monitor  MonitorConfig   `toml:"monitor" mapstructure:"monitor"`
	Log      DaemonLogConfig `toml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type GatewayConfig struct {
	Command      string            `toml:"command" mapstructure:"command"`
	WorkDir      string            `toml:"workdir" mapstructure:"workdir"`
	Env          []string          `toml:"env" mapstructure:"env"`
	ListenPort   int               `toml:"listen_port" mapstructure:"listen_port"`
	PIDFile      string            `toml:"pidfile" mapstructure:"pidfile"`
	MatchPattern string            `toml:"match_pattern" mapstructure:"match_pattern"`
	AutoStart    bool              `toml:"autostart" mapstructure:"autostart"`
	StartTimeout time.Duration     `toml:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout  time.Duration     `toml:"stop_timeout" mapstructure:"stop_timeout"`
	SettleDelay  time.Duration     `toml:"settle_delay" mapstructure:"settle_delay"`
	Log          logger.FileConfig `toml:"log" mapstructure:"log"`
}

type StoreConfig struct {
	// DSN backs both settings and history; sqlite path or postgres URL.
	DSN string `toml:"dsn" mapstructure:"dsn"`
	// ClickHouse mirror is optional; empty disables it.
	ClickHouseAddr     string `toml:"clickhouse_addr" mapstructure:"clickhouse_addr"`
	ClickHouseDatabase string `toml:"clickhouse_database" mapstructure:"clickhouse_database"`
	ClickHouseUsername string `toml:"clickhouse_username" mapstructure:"clickhouse_username"`
	ClickHousePassword string `toml:"clickhouse_password" mapstructure:"clickhouse_password"`
}

type TelegramConfig struct {
	BotToken    string `toml:"bot_token" mapstructure:"bot_token"`
	AdminChatID int64  `toml:"admin_chat_id" mapstructure:"admin_chat_id"`
}

type MonitorConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type DaemonLogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
	File  string `toml:"file" mapstructure:"file"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8710"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
	if c.Store.DSN == "" {
		c.Store.DSN = "gatekeep.db"
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = collector.DefaultInterval
	}
	if c.Gateway.PIDFile == "" {
		c.Gateway.PIDFile = "gatekeep-gateway.pid"
	}
	if c.Gateway.Log.Path == "" {
		c.Gateway.Log.Path = "gateway.log"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Gateway.Command) == "" {
		return fmt.Errorf("gateway.command is required")
	}
	if c.Gateway.ListenPort < 0 || c.Gateway.ListenPort > 65535 {
		return fmt.Errorf("gateway.listen_port out of range: %d", c.Gateway.ListenPort)
	}
	return nil
}

// SupervisorSpec maps the gateway section onto a supervisor spec.
func (c *Config) SupervisorSpec() supervisor.Spec {
	return supervisor.Spec{
		Command:      c.Gateway.Command,
		WorkDir:      c.Gateway.WorkDir,
		Env:          c.Gateway.Env,
		ListenPort:   c.Gateway.ListenPort,
		PIDFile:      c.Gateway.PIDFile,
		MatchPattern: c.Gateway.MatchPattern,
		Log:          c.Gateway.Log,
		StartTimeout: c.Gateway.StartTimeout,
		StopTimeout:  c.Gateway.StopTimeout,
		SettleDelay:  c.Gateway.SettleDelay,
	}
}
