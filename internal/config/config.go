package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server          ServerConfig   `yaml:"server"`
	Bridges         []BridgeConfig `yaml:"bridges"`
	TransitionTime  int            `yaml:"transition_time"`  // 100ms units, capped at 3 when applied
	TransitionAlias int            `yaml:"transitiontime"`   // original key, used when transition_time is unset
	AutoOffSeconds  Seconds        `yaml:"auto_off_seconds"` // 0 or false disables
	RequestTimeout  Duration       `yaml:"request_timeout"`  // per bridge request
	RateLimitRPS    float64        `yaml:"rate_limit_rps"`   // per bridge, 0 disables
	Log             LogConfig      `yaml:"log"`
	Status          StatusConfig   `yaml:"status"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// ServerConfig is the boblight listener address
type ServerConfig struct {
	Host    string `yaml:"host"`    // empty listens on all interfaces
	Address string `yaml:"address"` // original key, used when host is unset
	Port    int    `yaml:"port"`
}

// Addr returns host:port for net.Listen
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BridgeConfig contains one Hue bridge and the lights driven through it
type BridgeConfig struct {
	Address  string        `yaml:"address"`
	Username string        `yaml:"username"`
	Lights   []LightConfig `yaml:"lights"`
}

// LightConfig describes one light
type LightConfig struct {
	ID             string       `yaml:"id"`
	Name           string       `yaml:"name"`
	Gamut          string       `yaml:"gamut"`
	Brightness     int          `yaml:"brightness"`
	TransitionTime int          `yaml:"transition_time"` // overrides the global value when set
	VScan          *VScanConfig `yaml:"vscan"`
	HScan          *HScanConfig `yaml:"hscan"`
}

// VScanConfig is the vertical screen region in percent
type VScanConfig struct {
	Top    float64 `yaml:"top"`
	Bottom float64 `yaml:"bottom"`
}

// HScanConfig is the horizontal screen region in percent
type HScanConfig struct {
	Left  float64 `yaml:"left"`
	Right float64 `yaml:"right"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	Colors     bool   `yaml:"colors"`
	File       string `yaml:"file"` // rotating log file, empty = console only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// StatusConfig contains status server settings
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port for the status server
func (s StatusConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Path            string   `yaml:"path"` // empty disables the ledger
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 256)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Seconds is a whole number of seconds where false means zero
type Seconds int

// UnmarshalYAML implements yaml.Unmarshaler for Seconds
func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	var b bool
	if value.Tag == "!!bool" {
		if err := value.Decode(&b); err != nil {
			return err
		}
		if b {
			return fmt.Errorf("line %d: true is not a number of seconds", value.Line)
		}
		*s = 0
		return nil
	}

	var n int
	if err := value.Decode(&n); err != nil {
		return err
	}
	*s = Seconds(n)
	return nil
}

// Duration returns the value as a time.Duration
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// Load reads and parses the configuration file. It applies defaults but
// does not validate; call Validate before using the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// JSON is valid YAML, so original style config files load as well.
	// Colors defaults to on; a bool cannot tell unset from false after decoding.
	cfg := Config{Log: LogConfig{Colors: true}}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their default values
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Host == "" {
		cfg.Server.Host = cfg.Server.Address
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.TransitionTime == 0 {
		cfg.TransitionTime = cfg.TransitionAlias
	}
	if cfg.TransitionTime == 0 {
		cfg.TransitionTime = DefaultTransitionTime
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = Duration(1 * time.Second)
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10.0 // 10 requests per second
	}

	for i := range cfg.Bridges {
		for j := range cfg.Bridges[i].Lights {
			l := &cfg.Bridges[i].Lights[j]
			if l.Brightness == 0 {
				l.Brightness = DefaultBrightness
			}
		}
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 4
	}

	// Status defaults
	if cfg.Status.Port == 0 {
		cfg.Status.Port = 9090
	}
	if cfg.Status.Host == "" {
		cfg.Status.Host = "0.0.0.0"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Event bus defaults
	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 2
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 256
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
