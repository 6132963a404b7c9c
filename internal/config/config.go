package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/metrics-sidecar/internal/configstore"
	"github.com/eugenenazirov/metrics-sidecar/internal/scheduler"
)

const (
	defaultConfigDir      = "conf"
	defaultAdminPort      = "9273"
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	ConfigDir            string        `yaml:"config_dir"`
	FileName             string        `yaml:"file_name"`
	EnvPrefix            string        `yaml:"env_prefix"`
	ReloadInitialDelay   time.Duration `yaml:"reload_initial_delay"`
	ReloadPeriod         time.Duration `yaml:"reload_period"`
	WatchFiles           bool          `yaml:"watch_files"`
	AdminPort            string        `yaml:"admin_port"`
	LogLevel             string        `yaml:"log_level"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    time.Duration `yaml:"read_header_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	EnableRequestLogging bool          `yaml:"enable_request_logging"`
	RateLimitRPS         float64       `yaml:"-"`
	RateLimitBurst       int           `yaml:"-"`

	// DotEnv holds variables read from the --env-file dotenv file.
	DotEnv map[string]string `yaml:"-"`
}

// LookupEnv resolves an environment variable. A variable the process sets to
// a non-empty value wins; otherwise the dotenv file is consulted.
func (c Config) LookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if ok && v != "" {
		return v, true
	}
	if fv, found := c.DotEnv[key]; found {
		return fv, true
	}
	return v, ok
}

// AdminEnabled reports whether the admin HTTP server should run.
func (c Config) AdminEnabled() bool {
	return strings.TrimSpace(c.AdminPort) != ""
}

// yamlConfig represents the YAML configuration file structure. Pointers
// distinguish "absent" from an explicit zero value.
type yamlConfig struct {
	ConfigDir            string        `yaml:"config_dir"`
	FileName             string        `yaml:"file_name"`
	EnvPrefix            string        `yaml:"env_prefix"`
	ReloadInitialDelay   string        `yaml:"reload_initial_delay"`
	ReloadPeriod         string        `yaml:"reload_period"`
	WatchFiles           *bool         `yaml:"watch_files"`
	AdminPort            *string       `yaml:"admin_port"`
	LogLevel             string        `yaml:"log_level"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile   string
	EnvFile      string
	ConfigDir    *string
	AdminPort    *string
	LogLevel     *string
	ReloadPeriod *time.Duration
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if overrides != nil && overrides.EnvFile != "" {
		dotEnv, err := godotenv.Read(overrides.EnvFile)
		if err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
		cfg.DotEnv = dotEnv
	}

	// Environment first so that the YAML file and flags can override it.
	applyEnvConfig(&cfg, cfg.LookupEnv)

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		ConfigDir:            defaultConfigDir,
		FileName:             configstore.DefaultFileName,
		EnvPrefix:            configstore.DefaultEnvPrefix,
		ReloadInitialDelay:   scheduler.DefaultInitialDelay,
		ReloadPeriod:         scheduler.DefaultPeriod,
		WatchFiles:           true,
		AdminPort:            defaultAdminPort,
		LogLevel:             defaultLogLevel,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct. Unlike the
// environment, a malformed duration in the file is reported.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.ConfigDir != "" {
		cfg.ConfigDir = yamlCfg.ConfigDir
	}
	if yamlCfg.FileName != "" {
		cfg.FileName = yamlCfg.FileName
	}
	if yamlCfg.EnvPrefix != "" {
		cfg.EnvPrefix = yamlCfg.EnvPrefix
	}
	if yamlCfg.WatchFiles != nil {
		cfg.WatchFiles = *yamlCfg.WatchFiles
	}
	if yamlCfg.AdminPort != nil {
		cfg.AdminPort = *yamlCfg.AdminPort
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"reload_initial_delay", yamlCfg.ReloadInitialDelay, &cfg.ReloadInitialDelay},
		{"reload_period", yamlCfg.ReloadPeriod, &cfg.ReloadPeriod},
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		value, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = value
	}

	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
	return nil
}

// applyEnvConfig applies environment variable configuration. Malformed
// values are ignored.
func applyEnvConfig(cfg *Config, lookup func(string) (string, bool)) {
	getenv := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if dir := getenv("SIDECAR_CONFIG_DIR"); dir != "" {
		cfg.ConfigDir = dir
	}

	if name := getenv("SIDECAR_FILE_NAME"); name != "" {
		cfg.FileName = name
	}

	// Set but empty disables the admin server.
	if port, ok := lookup("SIDECAR_ADMIN_PORT"); ok {
		cfg.AdminPort = strings.TrimSpace(port)
	}

	if level := getenv("SIDECAR_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if period := getenv("SIDECAR_RELOAD_PERIOD"); period != "" {
		if value, err := time.ParseDuration(period); err == nil && value > 0 {
			cfg.ReloadPeriod = value
		}
	}

	if watch := getenv("SIDECAR_WATCH_FILES"); watch != "" {
		if value, err := strconv.ParseBool(watch); err == nil {
			cfg.WatchFiles = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.ConfigDir != nil && *overrides.ConfigDir != "" {
		cfg.ConfigDir = *overrides.ConfigDir
	}

	if overrides.AdminPort != nil && *overrides.AdminPort != "" {
		cfg.AdminPort = *overrides.AdminPort
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.ReloadPeriod != nil && *overrides.ReloadPeriod > 0 {
		cfg.ReloadPeriod = *overrides.ReloadPeriod
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.FileName) == "" {
		return fmt.Errorf("file name must not be empty")
	}
	if cfg.ReloadPeriod <= 0 {
		return fmt.Errorf("reload period must be > 0, got %s", cfg.ReloadPeriod)
	}
	if cfg.ReloadInitialDelay < 0 {
		return fmt.Errorf("reload initial delay must be >= 0, got %s", cfg.ReloadInitialDelay)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit rps must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst must be >= 0")
	}
	return nil
}
