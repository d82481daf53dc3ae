// Package config loads adapter settings and decodes launch/attach arguments.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stefan/lua-dap/internal/scope"
)

// Resolver modes.
const (
	ResolverClient    = "client"
	ResolverWorkspace = "workspace"
)

// Config is the adapter-wide configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	Attach   AttachConfig   `mapstructure:"attach"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Scopes   ScopesConfig   `mapstructure:"scopes"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	// Host is the listen address for the debuggee sockets. Empty binds all interfaces.
	Host          string `mapstructure:"host"`
	SettleDelayMS int    `mapstructure:"settle_delay_ms"`
}

type SessionConfig struct {
	InitDebounceMS    int `mapstructure:"init_debounce_ms"`
	DisconnectGraceMS int `mapstructure:"disconnect_grace_ms"`
	// Handshake holds the initialize response until the IDE sends initDebugEnv.
	Handshake bool `mapstructure:"handshake"`
}

type AttachConfig struct {
	DialTimeoutMS int `mapstructure:"dial_timeout_ms"`
	PortRange     int `mapstructure:"port_range"`
}

type ResolverConfig struct {
	Mode       string   `mapstructure:"mode"`
	Root       string   `mapstructure:"root"`
	Extensions []string `mapstructure:"extensions"`
}

type ScopesConfig struct {
	Roots []scope.Root `mapstructure:"roots"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	TrafficFile string `mapstructure:"traffic_file"`
}

// SettleDelay is the wait before the listener is bound.
func (c ServerConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

// InitDebounce is the quiet period before the initialize handshake is sent.
func (c SessionConfig) InitDebounce() time.Duration {
	return time.Duration(c.InitDebounceMS) * time.Millisecond
}

// DisconnectGrace is how long peers stay open after stop is sent.
func (c SessionConfig) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceMS) * time.Millisecond
}

// DialTimeout bounds each attach dial.
func (c AttachConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// Load reads configuration from configPath, or from lua-dap.{yaml,json,toml}
// in the working directory and $HOME/.lua-dap when configPath is empty.
// LUADAP_* environment variables override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("lua-dap")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lua-dap")
	}

	v.SetEnvPrefix("LUADAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.settle_delay_ms", 1000)

	v.SetDefault("session.init_debounce_ms", 200)
	v.SetDefault("session.disconnect_grace_ms", 200)
	v.SetDefault("session.handshake", true)

	v.SetDefault("attach.dial_timeout_ms", 200)
	v.SetDefault("attach.port_range", 100)

	v.SetDefault("resolver.mode", ResolverClient)
	v.SetDefault("resolver.root", "")
	v.SetDefault("resolver.extensions", []string{".lua"})

	roots := make([]map[string]any, 0, len(scope.DefaultRoots))
	for _, root := range scope.DefaultRoots {
		roots = append(roots, map[string]any{
			"key":     root.Key,
			"display": root.Display,
			"visible": root.Visible,
		})
	}
	v.SetDefault("scopes.roots", roots)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.traffic_file", "")
}

// Validate checks value ranges and enumerations.
func Validate(cfg *Config) error {
	if cfg.Server.SettleDelayMS < 0 {
		return fmt.Errorf("server.settle_delay_ms must not be negative, got %d", cfg.Server.SettleDelayMS)
	}
	if cfg.Session.InitDebounceMS < 0 {
		return fmt.Errorf("session.init_debounce_ms must not be negative, got %d", cfg.Session.InitDebounceMS)
	}
	if cfg.Session.DisconnectGraceMS < 0 {
		return fmt.Errorf("session.disconnect_grace_ms must not be negative, got %d", cfg.Session.DisconnectGraceMS)
	}
	if cfg.Attach.DialTimeoutMS <= 0 {
		return fmt.Errorf("attach.dial_timeout_ms must be positive, got %d", cfg.Attach.DialTimeoutMS)
	}
	if cfg.Attach.PortRange <= 0 {
		return fmt.Errorf("attach.port_range must be positive, got %d", cfg.Attach.PortRange)
	}

	switch cfg.Resolver.Mode {
	case ResolverClient, ResolverWorkspace:
	default:
		return fmt.Errorf("resolver.mode must be %q or %q, got %q", ResolverClient, ResolverWorkspace, cfg.Resolver.Mode)
	}

	if len(cfg.Scopes.Roots) == 0 {
		return errors.New("scopes.roots must list at least one root category")
	}
	seen := map[string]struct{}{}
	for _, root := range cfg.Scopes.Roots {
		if strings.TrimSpace(root.Key) == "" {
			return errors.New("scopes.roots entries require a key")
		}
		if _, dup := seen[root.Key]; dup {
			return fmt.Errorf("scopes.roots lists %q twice", root.Key)
		}
		seen[root.Key] = struct{}{}
	}
	return nil
}
