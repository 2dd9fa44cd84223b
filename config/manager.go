package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jonwraymond/provmux/observe"
)

// DebounceDelay is the quiet period after a file event before reloading.
const DebounceDelay = 500 * time.Millisecond

// Status describes the configuration currently in effect.
type Status struct {
	Path        string    `json:"path"`
	Checksum    string    `json:"checksum"`
	LoadedAt    time.Time `json:"loaded_at"`
	ReloadCount int64     `json:"reload_count"`
	LastError   string    `json:"last_error,omitempty"`
}

// Manager holds the current configuration and reloads it on change.
// Readers never block: the configuration is swapped atomically.
type Manager struct {
	path   string
	logger observe.Logger

	config  atomic.Pointer[Config]
	status  atomic.Pointer[Status]
	reloads atomic.Int64

	mu       sync.Mutex
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
}

// NewManager loads path. A nil logger discards reload events.
func NewManager(path string, logger observe.Logger) (*Manager, error) {
	if logger == nil {
		logger = observe.NopLogger()
	}
	m := &Manager{path: filepath.Clean(path), logger: logger}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", m.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.store(cfg, data)
	return m, nil
}

// Get returns the current configuration. Callers must not modify it.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status returns a description of the current configuration.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) store(cfg *Config, data []byte) {
	sum := sha256.Sum256(data)
	m.config.Store(cfg)
	m.status.Store(&Status{
		Path:        m.path,
		Checksum:    hex.EncodeToString(sum[:]),
		LoadedAt:    time.Now(),
		ReloadCount: m.reloads.Add(1),
	})
}

// Reload reads the file again. An invalid file keeps the current
// configuration and is reported in Status. It reports whether the
// configuration changed.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(m.path)
	if err == nil {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) == m.Status().Checksum {
			return false, nil
		}
	}

	var cfg *Config
	if err == nil {
		cfg, err = Parse(data)
	}
	if err != nil {
		prev := m.Status()
		prev.LastError = err.Error()
		m.status.Store(&prev)
		m.logger.Error(ctx, "config reload failed, keeping current", observe.Err(err))
		return false, err
	}

	m.store(cfg, data)
	m.logger.Info(ctx, "configuration reloaded",
		observe.F("path", m.path),
		observe.F("providers", len(cfg.Providers)),
	)

	m.mu.Lock()
	callbacks := slices.Clone(m.onChange)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return true, nil
}

// Watch reloads the configuration whenever the file changes, until ctx is
// done or Close is called. The parent directory is watched so editors that
// replace the file are followed.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", m.path, err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(DebounceDelay, func() {
				_, _ = m.Reload(ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error(ctx, "config watcher error", observe.Err(err))
		}
	}
}

// Close stops watching.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.Close()
	m.watcher = nil
	return err
}
