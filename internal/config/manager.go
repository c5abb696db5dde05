package config

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultPaths are searched when no config file is given.
var DefaultPaths = []string{"./padcheck.yaml", "./configs/padcheck.yaml", "/etc/padcheck/padcheck.yaml"}

// Manager owns the live configuration and reloads it when the file
// changes. A reload that fails validation keeps the previous config.
type Manager struct {
	viper     *viper.Viper
	validate  *validator.Validate
	logger    *zap.Logger
	current   atomic.Pointer[Config]
	file      string
	mu        sync.Mutex
	listeners []func(*Config)
}

// Load reads the first existing file of paths (or DefaultPaths), applies
// environment overrides and validates the result.
func Load(logger *zap.Logger, paths ...string) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		viper:    newViper(),
		validate: validator.New(),
		logger:   logger.Named("config"),
	}
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			m.logger.Debug("Config file not found, skipping", zap.String("path", p))
			continue
		}
		m.viper.SetConfigFile(p)
		if err := m.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
		m.file = p
		break
	}
	if m.file == "" {
		m.logger.Warn("No configuration file found, using defaults and environment")
	}

	cfg, err := decode(m.viper, m.validate)
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	m.logger.Info("Configuration loaded",
		zap.String("file", m.file),
		zap.String("environment", cfg.Environment))
	return m, nil
}

// Get returns the current configuration. Callers must not modify it.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// File is the config file in use, empty when running on defaults.
func (m *Manager) File() string {
	return m.file
}

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Watch starts hot reload of the config file. It is a no-op without one.
func (m *Manager) Watch() {
	if m.file == "" {
		m.logger.Info("No config file to watch, hot reload disabled")
		return
	}
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		m.logger.Info("Config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		if err := m.Reload(); err != nil {
			m.logger.Error("Failed to reload configuration, keeping previous", zap.Error(err))
		}
	})
	m.viper.WatchConfig()
	m.logger.Info("Watching config file", zap.String("file", m.file))
}

// Reload re-reads the config file and notifies listeners.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", m.file, err)
		}
	}
	cfg, err := decode(m.viper, m.validate)
	if err != nil {
		return err
	}
	m.current.Store(cfg)
	for _, fn := range m.listeners {
		fn(cfg)
	}
	return nil
}
