package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// OnChangeFunc is called after the config file was reloaded successfully.
type OnChangeFunc func(cfg *Config)

// Store holds the current configuration and reloads it when the backing
// file changes. Invalid edits are rejected and the previous config is kept.
type Store struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	v        *viper.Viper
	key      *SecretKey
	config   *Config
	onChange []OnChangeFunc
}

// NewStore loads and validates the configuration held by v.
func NewStore(logger *slog.Logger, v *viper.Viper, key *SecretKey) (*Store, error) {
	cfg, err := Load(v, key)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Store{
		logger: logger,
		v:      v,
		key:    key,
		config: cfg,
	}, nil
}

// OnChange registers a callback for successful reloads.
func (s *Store) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Get returns a copy of the current config with decrypted secrets.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.config
	return &cp
}

// Masked returns the current config with secrets masked.
func (s *Store) Masked() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Masked()
}

// Reload decodes the viper state again and, if valid, swaps it in and runs
// the OnChange callbacks.
func (s *Store) Reload() error {
	cfg, err := Load(s.v, s.key)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	s.config = cfg
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// Watch reloads the config whenever viper reports a file change.
func (s *Store) Watch() {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if err := s.Reload(); err != nil {
			s.logger.Warn("config reload rejected, keeping previous settings", "file", e.Name, "error", err)
			return
		}
		s.logger.Info("config reloaded", "file", e.Name)
	})
	s.v.WatchConfig()
}
