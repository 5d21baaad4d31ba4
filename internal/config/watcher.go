package config

import (
	"context"
	"os"
	"sync"
	"time"

	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 5 * time.Second
	writeSettleDelay    = 100 * time.Millisecond
)

// ConfigWatcher polls the configuration file and reloads it when it changes.
// Only settings that are safe to change at runtime are acted on by callers;
// the watcher itself just republishes the parsed config.
type ConfigWatcher struct {
	configPath   string
	logger       *logrus.Logger
	pollInterval time.Duration
	mu           sync.RWMutex
	config       *models.Config
	callbacks    []func(*models.Config)
	ready        chan struct{}
	readyOnce    sync.Once
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath:   configPath,
		logger:       logger,
		pollInterval: defaultPollInterval,
		callbacks:    make([]func(*models.Config), 0),
		ready:        make(chan struct{}),
	}
}

// SetPollInterval overrides how often the file is checked. Call before Start.
func (cw *ConfigWatcher) SetPollInterval(d time.Duration) {
	if d > 0 {
		cw.pollInterval = d
	}
}

// Start loads the configuration and then blocks, polling for changes until
// ctx is done.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()
	cw.readyOnce.Do(func() { close(cw.ready) })

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if stat.ModTime().After(lastModTime) {
				cw.logger.Debug("Configuration file changed")
				lastModTime = stat.ModTime()

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(writeSettleDelay):
				}
				cw.reloadConfig()
			}
		}
	}
}

// Ready is closed once the initial configuration has been loaded
func (cw *ConfigWatcher) Ready() <-chan struct{} {
	return cw.ready
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(newConfig)
		}(callback)
	}

	cw.logConfigChanges(oldConfig, newConfig)
}

func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if old.Sync.IntervalSec != new.Sync.IntervalSec {
		cw.logger.WithFields(logrus.Fields{
			"old": old.Sync.IntervalSec,
			"new": new.Sync.IntervalSec,
		}).Info("Sync interval changed; takes effect on restart")
	}

	if old.Badge.RefreshIntervalSec != new.Badge.RefreshIntervalSec {
		cw.logger.WithFields(logrus.Fields{
			"old": old.Badge.RefreshIntervalSec,
			"new": new.Badge.RefreshIntervalSec,
		}).Info("Badge refresh interval changed; takes effect on restart")
	}

	if old.Database.Path != new.Database.Path || old.API.BaseURL != new.API.BaseURL {
		cw.logger.Warn("Database path or API URL changed; restart required")
	}
}

// LogLevelUpdater returns a callback that applies a reloaded log level to logger
func LogLevelUpdater(logger *logrus.Logger) func(*models.Config) {
	return func(cfg *models.Config) {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return
		}
		logger.SetLevel(level)
	}
}
