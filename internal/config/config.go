// Package config loads the relay configuration from a YAML file, environment
// variables with the JEAN prefix, and built-in defaults, and watches the file
// for changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the full relay configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Log     LogConfig     `mapstructure:"log"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set JEAN_LLM_API_KEY)")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when archive.enabled")
	}
	return nil
}

// Manager owns the viper instance behind one loaded configuration.
type Manager struct {
	v      *viper.Viper
	logger *zap.Logger

	mu  sync.RWMutex
	cfg *Config
}

// Load reads the configuration. An empty path searches for config.yaml in the
// working directory and /etc/jean/; a missing file is fine, defaults and
// environment variables apply either way.
func Load(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/jean/")
	}

	v.SetEnvPrefix("JEAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	m := &Manager{v: v, logger: logger}
	cfg, err := m.unmarshal()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	return m, nil
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Watch re-reads the file on change events and reports the reloaded
// configuration. A reload that fails validation is logged and skipped; the
// previous configuration stays in effect.
func (m *Manager) Watch(onChange func(*Config)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.unmarshal()
		if err != nil {
			m.logger.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		m.mu.Lock()
		m.cfg = cfg
		m.mu.Unlock()
		m.logger.Info("config reloaded", zap.String("file", e.Name))
		if onChange != nil {
			onChange(cfg)
		}
	})
	m.v.WatchConfig()
}

func (m *Manager) unmarshal() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.request_timeout", "120s")
	// Registered empty so JEAN_LLM_API_KEY / JEAN_LLM_MODEL bind through
	// AutomaticEnv during Unmarshal.
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/jean-server.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "jean-archive.db")

	v.SetDefault("metrics.enabled", true)
}
