package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/gatewarden/internal/firewall"
	"github.com/loykin/gatewarden/internal/lifecycle"
	"github.com/loykin/gatewarden/internal/logger"
	"github.com/loykin/gatewarden/internal/notify"
	apitls "github.com/loykin/gatewarden/internal/tls"
)

// EnvPrefix is the prefix of environment variables that override config keys,
// e.g. GATEWARDEN_SERVER_LOGS_DIRECTORY.
const EnvPrefix = "GATEWARDEN"

// Config represents the top-level TOML structure.
type Config struct {
	EnvFiles []string      `toml:"env_files" mapstructure:"env_files"`
	Server   ServerConfig  `toml:"server" mapstructure:"server"`
	Discord  DiscordConfig `toml:"discord" mapstructure:"discord"`
	Log      LogConfig     `toml:"log" mapstructure:"log"`
	Metrics  MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	API      APIConfig     `toml:"api" mapstructure:"api"`
	History  HistoryConfig `toml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Name            string            `toml:"name" mapstructure:"name"`
	LogsDirectory   string            `toml:"logs_directory" mapstructure:"logs_directory"`
	LogFile         string            `toml:"log_file" mapstructure:"log_file"`
	ProcessName     string            `toml:"process_name" mapstructure:"process_name"`
	StartupDelay    time.Duration     `toml:"startup_delay" mapstructure:"startup_delay"`
	Ports           []PortConfig      `toml:"ports" mapstructure:"ports"`
	Firewall        FirewallConfig    `toml:"firewall" mapstructure:"firewall"`
	ZombieDetection ZombieConfig      `toml:"zombie_detection" mapstructure:"zombie_detection"`
	Markers         lifecycle.Markers `toml:"markers" mapstructure:"markers"`
	Messages        map[string]string `toml:"messages" mapstructure:"messages"`
	MessageControl  map[string]bool   `toml:"message_control" mapstructure:"message_control"`
}

type PortConfig struct {
	Port     int    `toml:"port" mapstructure:"port"`
	Protocol string `toml:"protocol" mapstructure:"protocol"`
}

type FirewallConfig struct {
	Enabled    bool   `toml:"enabled" mapstructure:"enabled"`
	Backend    string `toml:"backend" mapstructure:"backend"`
	RulePrefix string `toml:"rule_prefix" mapstructure:"rule_prefix"`
}

type ZombieConfig struct {
	Enabled       bool          `toml:"enabled" mapstructure:"enabled"`
	Timeout       time.Duration `toml:"timeout" mapstructure:"timeout"`
	AutoKill      bool          `toml:"auto_kill" mapstructure:"auto_kill"`
	CheckInterval time.Duration `toml:"check_interval" mapstructure:"check_interval"`
}

type DiscordConfig struct {
	Enabled    bool          `toml:"enabled" mapstructure:"enabled"`
	WebhookURL string        `toml:"webhook_url" mapstructure:"webhook_url"`
	Username   string        `toml:"username" mapstructure:"username"`
	Timeout    time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type APIConfig struct {
	Enabled  bool         `toml:"enabled" mapstructure:"enabled"`
	Listen   string       `toml:"listen" mapstructure:"listen"`
	BasePath string       `toml:"base_path" mapstructure:"base_path"`
	Token    string       `toml:"token" mapstructure:"token"`
	TLS      APITLSConfig `toml:"tls" mapstructure:"tls"`
}

// APITLSConfig serves the status API over HTTPS. cert_file/key_file take
// precedence over dir.
type APITLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version"`
}

func (t APITLSConfig) Options() apitls.Options {
	return apitls.Options{
		Enabled:      t.Enabled,
		CertFile:     t.CertFile,
		KeyFile:      t.KeyFile,
		Dir:          t.Dir,
		AutoGenerate: t.AutoGenerate,
		MinVersion:   t.MinVersion,
	}
}

// HistoryConfig lists the sinks lifecycle events are exported to. DSN and
// DSNs are merged; see SinkDSNs.
type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSN     string   `toml:"dsn" mapstructure:"dsn"`
	DSNs    []string `toml:"dsns" mapstructure:"dsns"`
}

// SinkDSNs returns the configured sink DSNs, de-duplicated, in order.
func (h HistoryConfig) SinkDSNs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range append([]string{h.DSN}, h.DSNs...) {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// DefaultPorts are the Conan Exiles game, query and RCON ports.
var DefaultPorts = []PortConfig{
	{Port: 7777, Protocol: "UDP"},
	{Port: 7777, Protocol: "TCP"},
	{Port: 7778, Protocol: "UDP"},
	{Port: 27015, Protocol: "UDP"},
	{Port: 25575, Protocol: "TCP"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "Conan Exiles Server")
	v.SetDefault("server.logs_directory", "")
	v.SetDefault("server.log_file", "ConanSandbox.log")
	v.SetDefault("server.process_name", "ConanSandboxServer-Win64-Shipping.exe")
	v.SetDefault("server.startup_delay", "30s")
	ports := make([]map[string]any, 0, len(DefaultPorts))
	for _, p := range DefaultPorts {
		ports = append(ports, map[string]any{"port": p.Port, "protocol": p.Protocol})
	}
	v.SetDefault("server.ports", ports)

	v.SetDefault("server.firewall.enabled", false)
	v.SetDefault("server.firewall.backend", firewall.BackendAuto)
	v.SetDefault("server.firewall.rule_prefix", firewall.DefaultRulePrefix)

	v.SetDefault("server.zombie_detection.enabled", true)
	v.SetDefault("server.zombie_detection.timeout", "5m")
	v.SetDefault("server.zombie_detection.auto_kill", true)
	v.SetDefault("server.zombie_detection.check_interval", "30s")

	// per-leaf defaults so a partial table in the file merges with them
	m := lifecycle.DefaultMarkers()
	v.SetDefault("server.markers.server_starting", m.ServerStarting)
	v.SetDefault("server.markers.load_complete", m.LoadComplete)
	v.SetDefault("server.markers.exit_warning", m.ExitWarning)
	v.SetDefault("server.markers.network_shutdown", m.NetworkShutdown)
	v.SetDefault("server.markers.server_stopped", m.ServerStopped)
	for k, text := range notify.DefaultMessages {
		v.SetDefault("server.messages."+k, text)
		v.SetDefault("server.message_control."+notify.ControlKey(k), true)
	}

	v.SetDefault("discord.enabled", false)
	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.username", "")
	v.SetDefault("discord.timeout", "10s")

	v.SetDefault("log.level", logger.LevelInfo)
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.file", logger.DefaultFileName)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9108")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:8089")
	v.SetDefault("api.base_path", "/api")
	v.SetDefault("api.token", "")
	v.SetDefault("api.tls.enabled", false)
	v.SetDefault("api.tls.cert_file", "")
	v.SetDefault("api.tls.key_file", "")
	v.SetDefault("api.tls.dir", "")
	v.SetDefault("api.tls.auto_generate", false)
	v.SetDefault("api.tls.min_version", "1.3")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.dsns", []string{})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Default returns the built-in configuration, with environment overrides applied.
func Default() (*Config, error) {
	return decode(newViper())
}

// Load reads a TOML config file. Files listed in env_files are loaded into the
// process environment first (existing variables win), so GATEWARDEN_* values
// from them override file keys. An empty path yields Default().
func Load(path string) (*Config, error) {
	v := newViper()
	if path == "" {
		return decode(v)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if files := v.GetStringSlice("env_files"); len(files) > 0 {
		base := filepath.Dir(path)
		resolved := make([]string, 0, len(files))
		for _, f := range files {
			if !filepath.IsAbs(f) {
				f = filepath.Join(base, f)
			}
			resolved = append(resolved, filepath.Clean(f))
		}
		if err := godotenv.Load(resolved...); err != nil {
			return nil, fmt.Errorf("load env_files: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Server.LogsDirectory = os.ExpandEnv(c.Server.LogsDirectory)
	c.Log.Dir = os.ExpandEnv(c.Log.Dir)
	c.API.TLS.Dir = os.ExpandEnv(c.API.TLS.Dir)
	return &c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	s := c.Server
	if strings.TrimSpace(s.LogsDirectory) == "" {
		errs = append(errs, errors.New("server.logs_directory is required"))
	}
	if strings.TrimSpace(s.LogFile) == "" {
		errs = append(errs, errors.New("server.log_file is required"))
	}
	if s.StartupDelay < 0 {
		errs = append(errs, fmt.Errorf("server.startup_delay must be >= 0, got %s", s.StartupDelay))
	}
	if s.ZombieDetection.Enabled {
		if strings.TrimSpace(s.ProcessName) == "" {
			errs = append(errs, errors.New("server.process_name is required when zombie detection is enabled"))
		}
		if s.ZombieDetection.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("server.zombie_detection.timeout must be > 0, got %s", s.ZombieDetection.Timeout))
		}
		if s.ZombieDetection.CheckInterval <= 0 {
			errs = append(errs, fmt.Errorf("server.zombie_detection.check_interval must be > 0, got %s", s.ZombieDetection.CheckInterval))
		}
	}
	if _, err := c.Ports(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(s.Firewall.Backend)) {
	case "", firewall.BackendAuto, firewall.BackendNetsh, firewall.BackendIPTables, firewall.BackendNone:
	default:
		errs = append(errs, fmt.Errorf("server.firewall.backend %q is not one of auto, netsh, iptables, none", s.Firewall.Backend))
	}
	if c.Discord.Enabled && strings.TrimSpace(c.Discord.WebhookURL) == "" {
		errs = append(errs, errors.New("discord.webhook_url is required when discord is enabled"))
	}
	if t := c.API.TLS; t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, errors.New("api.tls.cert_file and api.tls.key_file must be set together"))
		}
		if t.CertFile == "" && t.Dir == "" {
			errs = append(errs, errors.New("api.tls requires cert_file/key_file or dir"))
		}
		switch strings.ToLower(strings.TrimSpace(t.MinVersion)) {
		case "", "default", "1.2", "1.3", "tls1.2", "tls1.3":
		default:
			errs = append(errs, fmt.Errorf("api.tls.min_version %q is not 1.2 or 1.3", t.MinVersion))
		}
	}
	if c.History.Enabled && len(c.History.SinkDSNs()) == 0 {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}

// Ports converts the configured port list.
func (c *Config) Ports() ([]firewall.Port, error) {
	out := make([]firewall.Port, 0, len(c.Server.Ports))
	for i, p := range c.Server.Ports {
		if p.Port < 1 || p.Port > 65535 {
			return nil, fmt.Errorf("server.ports[%d]: port %d out of range 1..65535", i, p.Port)
		}
		proto, err := firewall.ParseProtocol(p.Protocol)
		if err != nil {
			return nil, fmt.Errorf("server.ports[%d]: %w", i, err)
		}
		out = append(out, firewall.Port{Number: p.Port, Protocol: proto})
	}
	return out, nil
}

// LogPath is the full path of the tailed server log.
func (c *Config) LogPath() string {
	return filepath.Join(c.Server.LogsDirectory, c.Server.LogFile)
}

// LoggerConfig maps the [log] table onto logger.Config.
func (c *Config) LoggerConfig() logger.Config {
	l := c.Log
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      l.Level,
			Format:     l.Format,
			Color:      l.Color,
			TimeStamps: l.TimeStamps,
			Source:     l.Source,
		},
		File: logger.FileConfig{
			Dir:        l.Dir,
			Name:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}
