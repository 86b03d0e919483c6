package deploykit

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golobby/config/v3"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/deploykit/feeders"
)

// Feeder aliases
type Feeder = config.Feeder

// ManagementConfig configures a LocalManagementContext.
type ManagementConfig struct {
	// ShutdownTimeout bounds how long Terminate waits for a running resync.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdown_timeout" json:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`

	// ResyncSchedule is a cron expression (standard five fields or a
	// descriptor such as "@every 5m") for re-deriving every entity's
	// enrichers. Empty disables resync.
	ResyncSchedule string `yaml:"resyncSchedule" toml:"resync_schedule" json:"resyncSchedule" env:"RESYNC_SCHEDULE"`

	// UsageHistoryLimit bounds the events kept per application by the
	// local usage manager. Zero keeps everything.
	UsageHistoryLimit int `yaml:"usageHistoryLimit" toml:"usage_history_limit" json:"usageHistoryLimit" env:"USAGE_HISTORY_LIMIT"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"logLevel" toml:"log_level" json:"logLevel" env:"LOG_LEVEL"`
}

// Default configuration values
const (
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultUsageHistoryLimit = 1000
	DefaultLogLevel          = "info"
)

// ManagementConfigSection is the key of the management settings in a
// configuration file shared with other components.
const ManagementConfigSection = "management"

// DefaultManagementConfig returns the configuration used when nothing is fed.
func DefaultManagementConfig() *ManagementConfig {
	return &ManagementConfig{
		ShutdownTimeout:   DefaultShutdownTimeout,
		UsageHistoryLimit: DefaultUsageHistoryLimit,
		LogLevel:          DefaultLogLevel,
	}
}

// Validate checks the configuration values.
func (c *ManagementConfig) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive, got %s", ErrConfigInvalid, c.ShutdownTimeout)
	}
	if c.UsageHistoryLimit < 0 {
		return fmt.Errorf("%w: usage history limit cannot be negative, got %d", ErrConfigInvalid, c.UsageHistoryLimit)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrConfigInvalid, c.LogLevel)
	}
	if c.ResyncSchedule != "" {
		if _, err := cron.ParseStandard(c.ResyncSchedule); err != nil {
			return fmt.Errorf("%w: resync schedule %q: %w", ErrConfigInvalid, c.ResyncSchedule, err)
		}
	}
	return nil
}

// LoadManagementConfig applies the defaults, then every source in order, and
// validates the result. Later sources override earlier ones.
func LoadManagementConfig(sources ...Feeder) (*ManagementConfig, error) {
	cfg := DefaultManagementConfig()
	if len(sources) > 0 {
		c := config.New()
		for _, f := range sources {
			c.AddFeeder(f)
		}
		c.AddStruct(cfg)
		if err := c.Feed(); err != nil {
			return nil, fmt.Errorf("feed management config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadManagementConfigFile reads the ManagementConfigSection section of a
// YAML or TOML file. When envPrefix is not empty, prefixed environment
// variables override the file.
func LoadManagementConfigFile(path, envPrefix string) (*ManagementConfig, error) {
	var source feeders.KeyFeeder
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		source = feeders.NewYamlFeeder(path)
	case ".toml":
		source = feeders.NewTomlFeeder(path)
	default:
		return nil, fmt.Errorf("%w: unsupported config file %q", ErrConfigInvalid, path)
	}

	chain := []Feeder{feeders.NewSectionFeeder(ManagementConfigSection, source)}
	if envPrefix != "" {
		chain = append(chain, feeders.NewEnvFeeder(envPrefix))
	}
	return LoadManagementConfig(chain...)
}
