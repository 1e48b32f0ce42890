package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration. It is loaded once at startup and
// treated as immutable; hot reload produces a fresh value (see Manager).
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1m").
type Config struct {
	Signal  SignalConfig  `yaml:"signal"`
	Relay   RelayConfig   `yaml:"relay"`
	Health  HealthConfig  `yaml:"health"`
	Backup  BackupConfig  `yaml:"backup"`
	Report  ReportConfig  `yaml:"report"`
	Actions ActionsConfig `yaml:"actions"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// SignalConfig describes the signal-cli boundary. User, Group and
// AllowedSenders can be overridden from the environment (SIGNAL_CLI_USER,
// SIGNAL_GROUP_ID, AUTHORIZED_SENDERS) so the secrets can stay out of
// the config file.
type SignalConfig struct {
	CLIPath string `yaml:"cli_path"`
	User    string `yaml:"user"`
	Group   string `yaml:"group"`
	// AllowedSenders is the static allow-list of sender identities
	// permitted to issue commands. Exact string match.
	AllowedSenders []string `yaml:"allowed_senders"`
	// ReceiveTimeout is passed to signal-cli receive (-t, seconds).
	ReceiveTimeout string `yaml:"receive_timeout"`
}

type RelayConfig struct {
	// PollInterval is the fixed sleep between receive cycles.
	PollInterval string `yaml:"poll_interval"`
	// RatePerMin caps accepted commands per sender per minute.
	// 0 disables throttling.
	RatePerMin int `yaml:"rate_per_min"`
	// RebootConfirmWindow is how long an armed reboot waits for its
	// confirming second command.
	RebootConfirmWindow string `yaml:"reboot_confirm_window"`
}

type HealthConfig struct {
	ContainerName string `yaml:"container_name"`
	Port          int    `yaml:"port"`
	Retries       int    `yaml:"retries"`
	RetryInterval string `yaml:"retry_interval"`
	WebTimeout    string `yaml:"web_timeout"`
	// Schedule is a cron expression for periodic checks run by the
	// daemon. Empty disables scheduled checks (on-demand via the
	// "foundry health" command still works).
	Schedule string `yaml:"schedule"`
}

type BackupConfig struct {
	// Dir is where backup archives live (BACKUP_FOLDER overrides).
	Dir string `yaml:"dir"`
	// DataDir is the FoundryVTT data directory that gets archived.
	DataDir string `yaml:"data_dir"`
	// Keep bounds how many archives to retain; 0 keeps all.
	Keep int `yaml:"keep"`
	// UploadCommand, when set, is run after a successful archive with
	// the archive path appended (e.g. "rclone copy"). The uploader is
	// an opaque external program; a non-zero exit is logged, not fatal.
	UploadCommand string `yaml:"upload_command"`
}

type ReportConfig struct {
	// Schedule is a cron expression for the weekly report. Empty
	// disables the scheduled report.
	Schedule string `yaml:"schedule"`
}

type ActionsConfig struct {
	// FoundryScript is the management script bound to the status,
	// restart and backup commands.
	FoundryScript string `yaml:"foundry_script"`
	// Timeout bounds every dispatched action.
	Timeout string `yaml:"timeout"`
}

type HistoryConfig struct {
	// Path of the SQLite probe-history database. Empty disables
	// history (the weekly report then omits the reliability line).
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Console bool        `yaml:"console"`
	File    LoggingFile `yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration matching the original
// deployment (ports, paths and retry policy).
func Default() *Config {
	return &Config{
		Signal: SignalConfig{
			CLIPath:        "/usr/bin/signal-cli",
			ReceiveTimeout: "5s",
		},
		Relay: RelayConfig{
			PollInterval:        "2s",
			RatePerMin:          10,
			RebootConfirmWindow: "60s",
		},
		Health: HealthConfig{
			ContainerName: "foundryvtt",
			Port:          29000,
			Retries:       3,
			RetryInterval: "5s",
			WebTimeout:    "5s",
		},
		Backup: BackupConfig{
			Dir:     "/backups",
			DataDir: "/home/foundryuser/foundrydata",
		},
		Actions: ActionsConfig{
			FoundryScript: "./foundry.sh",
			Timeout:       "2m",
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
		},
	}
}

// Validate rejects configurations the daemon cannot run with. It is
// also the gate for hot reload: a config that fails here is never
// published.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Signal.User) == "" {
		return fmt.Errorf("signal.user is required (or set SIGNAL_CLI_USER)")
	}
	if strings.TrimSpace(c.Signal.Group) == "" {
		return fmt.Errorf("signal.group is required (or set SIGNAL_GROUP_ID)")
	}
	if len(c.Signal.AllowedSenders) == 0 {
		return fmt.Errorf("signal.allowed_senders is required (or set AUTHORIZED_SENDERS)")
	}
	if c.Health.Port <= 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port: invalid port %d", c.Health.Port)
	}
	if c.Health.Retries <= 0 {
		return fmt.Errorf("health.retries must be >= 1")
	}
	if c.Relay.RatePerMin < 0 {
		return fmt.Errorf("relay.rate_per_min must be >= 0")
	}
	for _, field := range []struct {
		path, raw string
	}{
		{"signal.receive_timeout", c.Signal.ReceiveTimeout},
		{"relay.poll_interval", c.Relay.PollInterval},
		{"relay.reboot_confirm_window", c.Relay.RebootConfirmWindow},
		{"health.retry_interval", c.Health.RetryInterval},
		{"health.web_timeout", c.Health.WebTimeout},
		{"actions.timeout", c.Actions.Timeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses an optional duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// empty/zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
