// Package config loads the scheduler's static configuration: data
// directory, tick interval, niceness binaries, monitoring sink URLs, the
// task-queue store DSN, and the optional remote-control and HTTP-server
// toggles.
//
// Grounded on the teacher's internal/config/config.go: same
// viper-backed LoadConfig/parseConfigFile shape and the same
// computeGlobalEnv/loadEnvFile helpers, generalized away from the
// teacher's process/group/cronjob decoding (this domain's "jobs" are a
// compiled-in registry, not config-file process specs).
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the root configuration document for a cronman deployment.
type Config struct {
	DataDir      string        `mapstructure:"data_dir"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	HostName     string        `mapstructure:"host_name"`

	UseOSEnv bool     `mapstructure:"use_os_env"`
	EnvFiles []string `mapstructure:"env_files"`
	Env      []string `mapstructure:"env"`

	Priority *PriorityConfig `mapstructure:"priority"`
	Monitor  *MonitorConfig  `mapstructure:"monitor"`
	Task     *TaskConfig     `mapstructure:"task"`
	Remote   *RemoteConfig   `mapstructure:"remote"`
	Log      *LogConfig      `mapstructure:"log"`
	Metrics  *MetricsConfig  `mapstructure:"metrics"`
	Server   *ServerConfig   `mapstructure:"server"`
	History  *HistoryConfig  `mapstructure:"history"`

	// GlobalEnv is computed from UseOSEnv/EnvFiles/Env after Load.
	GlobalEnv []string

	configPath string
}

// PriorityConfig names the nice/ionice binaries and exception-sink wrapper
// used when spawning workers (spawner.Env's NiceCmd/IOniceCmd/ExceptionSinkCmd).
type PriorityConfig struct {
	NiceCmd          string `mapstructure:"nice_cmd"`
	IOniceCmd        string `mapstructure:"ionice_cmd"`
	ExceptionSinkCmd string `mapstructure:"exception_sink_cmd"`
}

// MonitorConfig configures the Cronitor heartbeat and Slack notification
// sinks (internal/monitor).
type MonitorConfig struct {
	CronitorEnabled bool   `mapstructure:"cronitor_enabled"`
	CronitorURLTmpl string `mapstructure:"cronitor_url_template"`

	SlackEnabled        bool   `mapstructure:"slack_enabled"`
	SlackURL            string `mapstructure:"slack_url"`
	SlackToken          string `mapstructure:"slack_token"`
	SlackDefaultChannel string `mapstructure:"slack_default_channel"`
}

// TaskConfig selects and configures the CronTask persistence backend
// (internal/task.Config).
type TaskConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path   string `mapstructure:"path"`   // sqlite file path
	DSN    string `mapstructure:"dsn"`    // postgres DSN
}

// RemoteConfig configures the Redis-backed remote control plane
// (internal/remotectl).
type RemoteConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig configures rotated stdout/stderr capture for worker
// subprocesses (internal/logger).
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig toggles the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ServerConfig toggles the read-mostly status/control HTTP surface
// (internal/server). Off by default — it is not the admin UI.
type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// HistoryConfig configures the optional ClickHouse history fan-out sink
// (internal/history/clickhouse) every worker run is reported to.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Table   string `mapstructure:"table"`
}

// defaultTickInterval mirrors scheduler.Interval; kept independent so a
// deployment can override it without importing internal/scheduler.
const defaultTickInterval = 2 * time.Minute

// Load reads and decodes configPath (toml/yaml/json, whatever viper's
// extension sniffing recognizes), applies defaults, and computes GlobalEnv.
func Load(configPath string) (*Config, error) {
	cfg := &Config{configPath: configPath}
	if err := parseConfigFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config: data_dir is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}

	globalEnv, err := computeGlobalEnv(cfg.UseOSEnv, cfg.EnvFiles, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to compute global env: %w", err)
	}
	cfg.GlobalEnv = globalEnv

	return cfg, nil
}

func parseConfigFile(configPath string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func computeGlobalEnv(useOSEnv bool, envFiles []string, env []string) ([]string, error) {
	envMap := make(map[string]string)

	if useOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				envMap[kv[:i]] = kv[i+1:]
			}
		}
	}

	for _, envFile := range envFiles {
		fileEnv, err := loadEnvFile(envFile)
		if err != nil {
			return nil, err
		}
		for key, value := range fileEnv {
			envMap[key] = value
		}
	}

	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			envMap[kv[:i]] = kv[i+1:]
		}
	}

	result := make([]string, 0, len(envMap))
	for key, value := range envMap {
		result = append(result, key+"="+value)
	}
	sort.Strings(result)
	return result, nil
}

func loadEnvFile(filePath string) (map[string]string, error) {
	content, err := os.ReadFile(filePath) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	env := make(map[string]string)
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid env line at %s:%d: %s", filePath, i+1, line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}
		env[key] = value
	}
	return env, nil
}
