// Package conf loads the bridge's process settings.
//
// Settings come from, in order of precedence: flags, CONSOLE_BRIDGE_*
// environment variables (a .env file is loaded first), an optional settings
// file and defaults. The bot document (token, channels, permissions) is a
// separate file read by the data layer.
package conf

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/usecase"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
	"github.com/devricklin/feishu-console-bridge/internal/infra/process"
	"github.com/devricklin/feishu-console-bridge/internal/service"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CONSOLE_BRIDGE"

// Config represents application configuration
type Config struct {
	DocumentPath string        `mapstructure:"document_path"`
	StateDir     string        `mapstructure:"state_dir"`
	MergeMode    string        `mapstructure:"merge_mode"`
	Log          LogConfig     `mapstructure:"log"`
	Process      ProcessConfig `mapstructure:"process"`
	Relay        RelayConfig   `mapstructure:"relay"`
	MCP          MCPConfig     `mapstructure:"mcp"`
	Lark         LarkConfig    `mapstructure:"lark"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// ProcessConfig describes the managed process
type ProcessConfig struct {
	Command     string        `mapstructure:"command"`
	Args        []string      `mapstructure:"args"`
	Dir         string        `mapstructure:"dir"`
	Env         []string      `mapstructure:"env"`
	Commands    []string      `mapstructure:"commands"`
	StopCommand string        `mapstructure:"stop_command"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
}

// RelayConfig contains console relay configuration
type RelayConfig struct {
	MaxMessageSize int           `mapstructure:"max_message_size"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// MCPConfig contains operator tool server configuration. An empty Listen
// disables the server.
type MCPConfig struct {
	Listen string `mapstructure:"listen"`
}

// LarkConfig selects the open platform endpoint
type LarkConfig struct {
	Domain string `mapstructure:"domain"` // feishu, lark or a base URL
}

// SetDefaults registers the default value of every setting on v
func SetDefaults(v *viper.Viper) {
	dir := defaultStateDir()
	v.SetDefault("document_path", filepath.Join(dir, "config.json"))
	v.SetDefault("state_dir", dir)
	v.SetDefault("merge_mode", "shallow")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("process.command", "")
	v.SetDefault("process.args", []string{})
	v.SetDefault("process.dir", "")
	v.SetDefault("process.env", []string{})
	v.SetDefault("process.commands", []string{})
	v.SetDefault("process.stop_command", "stop")
	v.SetDefault("process.stop_timeout", 10*time.Second)
	v.SetDefault("process.cache_size", 500)
	v.SetDefault("relay.max_message_size", 2000)
	v.SetDefault("relay.queue_capacity", 10000)
	v.SetDefault("relay.shutdown_grace", 5*time.Second)
	v.SetDefault("mcp.listen", "")
	v.SetDefault("lark.domain", "feishu")
}

// SetupEnv binds CONSOLE_BRIDGE_* environment variables, with dots in keys
// replaced by underscores
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads .env from the working directory if present
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.Wrap(err, errs.CodeConfigSettingsInvalid, "load .env")
	}
	return nil
}

// Load reads the settings file at path (optional) on top of defaults and the
// environment, and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(err, errs.CodeConfigSettingsInvalid, "read settings file", errs.Field("path", path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(err, errs.CodeConfigSettingsInvalid, "decode settings")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings, reporting every problem at once
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.DocumentPath == "" {
		add("document_path must not be empty")
	}
	if c.StateDir == "" {
		add("state_dir must not be empty")
	}
	if _, err := c.Merge(); err != nil {
		add("merge_mode: %w", err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		add("log.format must be text or json, got %q", f)
	}
	if c.Relay.MaxMessageSize < 1 {
		add("relay.max_message_size must be positive, got %d", c.Relay.MaxMessageSize)
	}
	if c.Relay.QueueCapacity < 1 {
		add("relay.queue_capacity must be positive, got %d", c.Relay.QueueCapacity)
	}
	if c.MCP.Listen != "" {
		if _, _, err := net.SplitHostPort(c.MCP.Listen); err != nil {
			add("mcp.listen must be host:port, got %q", c.MCP.Listen)
		}
	}

	if len(problems) > 0 {
		return errs.Wrap(errors.Join(problems...), errs.CodeConfigSettingsInvalid, "invalid settings")
	}
	return nil
}

// Merge returns the configured default-merge mode
func (c *Config) Merge() (domain.MergeMode, error) {
	switch strings.ToLower(c.MergeMode) {
	case "", "shallow":
		return domain.MergeShallow, nil
	case "deep":
		return domain.MergeDeep, nil
	}
	return domain.MergeShallow, fmt.Errorf("must be shallow or deep, got %q", c.MergeMode)
}

// ToProcessConfig converts to supervisor configuration
func (c *ProcessConfig) ToProcessConfig() process.Config {
	return process.Config{
		Command:     c.Command,
		Args:        c.Args,
		Dir:         c.Dir,
		Env:         c.Env,
		StopCommand: c.StopCommand,
		StopTimeout: c.StopTimeout,
		CacheSize:   c.CacheSize,
	}
}

// ToBufferConfig converts to outbound queue configuration
func (c *RelayConfig) ToBufferConfig() usecase.BufferConfig {
	return usecase.BufferConfig{Capacity: c.QueueCapacity}
}

// ToSchedulerConfig converts to relay scheduler configuration
func (c *RelayConfig) ToSchedulerConfig() service.SchedulerConfig {
	return service.SchedulerConfig{
		MaxMessageSize: c.MaxMessageSize,
		ShutdownGrace:  c.ShutdownGrace,
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "console-bridge")
	}
	return ".console-bridge"
}
