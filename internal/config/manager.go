package config

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

// Manager owns the on-disk config and its hot reload. Subscribers get
// the new *Config after it parses and validates; a broken edit keeps
// the last good config in place.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards the subscriber list and ensures we never send on a
	// channel that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger

	// lastHash tracks the last committed config content so editor
	// write-event bursts without content changes don't republish.
	lastHash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Load parses, validates and commits the config. Called once at startup.
func (m *Manager) Load() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

// Get returns the last committed config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashFile(m.path)
	m.mu.Unlock()
}

// Subscribe registers a buffered channel receiving committed reloads.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			// swap-remove (order doesn't matter)
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// If a subscriber is slow and its buffer is full, drop one
		// stale item so the newest config always lands.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

// Watch blocks until ctx is done, reloading on file changes. Editors
// replace files in various ways (rename, truncate+write), so the watch
// is on the parent directory and events are debounced.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	target, _ := filepath.Abs(m.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			evPath, _ := filepath.Abs(ev.Name)
			if evPath != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(250 * time.Millisecond)
			} else {
				debounce.Reset(250 * time.Millisecond)
			}
			fire = debounce.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-fire:
			fire = nil
			m.reload(ctx)
		}
	}
}

func (m *Manager) reload(ctx context.Context) {
	if h := hashFile(m.path); h != 0 {
		m.mu.RLock()
		same := h == m.lastHash
		m.mu.RUnlock()
		if same {
			m.log.Debug("config file event without content change")
			return
		}
	}

	cfg, err := Parse(m.path)
	if err != nil {
		m.log.Warn("config reload rejected: parse failed", logx.Err(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		m.log.Warn("config reload rejected: validation failed", logx.Err(err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	m.commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}

func hashFile(path string) uint64 {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
