package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"npos_election/pkg/data"
	"npos_election/pkg/utils"
)

// Config holds all configuration settings for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Log         LogConfig        `mapstructure:"log"`
	Election    ElectionDefaults `mapstructure:"election"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Scheduler   SchedConfig      `mapstructure:"scheduler"`
}

// LogConfig holds log output settings
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// ElectionDefaults are the election parameters used when a command or job
// does not set its own.
type ElectionDefaults struct {
	Algorithm     string            `mapstructure:"algorithm"`
	ActiveSetSize uint32            `mapstructure:"active_set_size"`
	Balancing     BalancingDefaults `mapstructure:"balancing"`
}

// BalancingDefaults holds stake equalization settings
type BalancingDefaults struct {
	Enabled    bool   `mapstructure:"enabled"`
	Iterations int    `mapstructure:"iterations"`
	Tolerance  string `mapstructure:"tolerance"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	Embedded        bool          `mapstructure:"embedded"`
	Port            int           `mapstructure:"port"`
	DataPath        string        `mapstructure:"data_path"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// SchedConfig holds scheduler related configuration
type SchedConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Jobs          []JobConfig   `mapstructure:"jobs"`
}

// JobConfig describes a recurring election over a snapshot file
type JobConfig struct {
	Name          string `mapstructure:"name"`
	Schedule      string `mapstructure:"schedule"`
	Snapshot      string `mapstructure:"snapshot"`
	Overrides     string `mapstructure:"overrides"`
	ActiveSetSize uint32 `mapstructure:"active_set_size"`
	Diagnostics   bool   `mapstructure:"diagnostics"`
}

// Load reads the configuration file and environment variables. A missing
// file is not an error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	v.SetEnvPrefix("NPOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("log.output_path", "logs/npos-election.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.console", true)

	v.SetDefault("election.algorithm", string(data.AlgorithmSequentialPhragmen))
	v.SetDefault("election.active_set_size", 297)
	v.SetDefault("election.balancing.enabled", false)
	v.SetDefault("election.balancing.iterations", data.DefaultBalancingIterations)
	v.SetDefault("election.balancing.tolerance", "0")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.embedded", false)
	v.SetDefault("database.port", 5433)
	v.SetDefault("database.data_path", "data/postgres")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.timeout", "30s")

	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_delay", "10s")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateElection(); err != nil {
		return fmt.Errorf("election config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	return nil
}

func (c *Config) validateElection() error {
	if _, err := data.ParseAlgorithmType(c.Election.Algorithm); err != nil {
		return fmt.Errorf("invalid algorithm %q", c.Election.Algorithm)
	}
	if c.Election.ActiveSetSize == 0 {
		return fmt.Errorf("active_set_size must be positive")
	}
	if c.Election.Balancing.Enabled && c.Election.Balancing.Iterations <= 0 {
		return fmt.Errorf("balancing iterations must be positive")
	}
	if _, err := data.ParseBalance(c.Election.Balancing.Tolerance); err != nil {
		return fmt.Errorf("invalid balancing tolerance %q", c.Election.Balancing.Tolerance)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}
	if !c.Database.Embedded && c.Database.URL == "" {
		return fmt.Errorf("database URL cannot be empty")
	}
	if c.Database.Embedded && (c.Database.Port <= 0 || c.Database.Port > 65535) {
		return fmt.Errorf("invalid port number: %d", c.Database.Port)
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}

	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}

	names := make(map[string]struct{}, len(c.Scheduler.Jobs))
	for _, job := range c.Scheduler.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job name cannot be empty")
		}
		if _, dup := names[job.Name]; dup {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
		names[job.Name] = struct{}{}
		if job.Snapshot == "" {
			return fmt.Errorf("job %q: snapshot cannot be empty", job.Name)
		}
		if _, err := CronParser.Parse(job.Schedule); err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
	}

	return nil
}

// CronParser parses the seconds-resolution schedules used by jobs.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ElectionConfiguration converts the defaults into a run configuration.
func (e ElectionDefaults) ElectionConfiguration() (*data.ElectionConfiguration, error) {
	alg, err := data.ParseAlgorithmType(e.Algorithm)
	if err != nil {
		return nil, err
	}
	cfg := &data.ElectionConfiguration{
		Algorithm:     alg,
		ActiveSetSize: e.ActiveSetSize,
	}
	if e.Balancing.Enabled {
		tolerance, err := data.ParseBalance(e.Balancing.Tolerance)
		if err != nil {
			return nil, err
		}
		cfg.Balancing = &data.BalancingConfig{
			Iterations: e.Balancing.Iterations,
			Tolerance:  tolerance,
		}
	}
	return cfg, nil
}

// LoggerConfig maps the log settings onto utils.LogConfig.
func (c *Config) LoggerConfig() *utils.LogConfig {
	return &utils.LogConfig{
		Level:      c.GetLogLevel().String(),
		OutputPath: c.Log.OutputPath,
		MaxSize:    c.Log.MaxSize,
		MaxAge:     c.Log.MaxAge,
		MaxBackups: c.Log.MaxBackups,
		Compress:   c.Log.Compress,
		Console:    c.Log.Console,
		Debug:      c.IsDevelopment(),
	}
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
