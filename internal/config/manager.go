package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "clubqueue/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce = 250 * time.Millisecond
	checkTimeout    = 5 * time.Second
)

// ConfigManager owns the committed config of one file. While Watch runs,
// edits to the file are decoded, checked and republished to subscribers.
type ConfigManager struct {
	path     string
	debounce time.Duration

	mu  sync.RWMutex
	cfg *Config
	sum uint64 // fingerprint of cfg

	subsMu sync.Mutex
	subs   []chan *Config

	log   logx.Logger
	check func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, debounce: defaultDebounce, log: logx.Nop()}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a check that runs after Decode's own validation and
// before a reloaded config is committed. Use it for rules that need the
// running services, such as known calculation names.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.check = fn
}

// Parse reads and decodes the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Load parses the file and commits the result.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg, fingerprint(cfg))
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) commit(cfg *Config, sum uint64) {
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

// fingerprint hashes the decoded config, so formatting-only edits and
// touch events do not republish.
func fingerprint(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel receiving every committed reload. A slow
// subscriber loses older configs, never the newest one.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// full: drop the oldest pending config to make room
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload decodes the file and, when the result differs from the committed
// config and passes the validator, commits and publishes it.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	sum := fingerprint(cfg)
	m.mu.RLock()
	prev, same := m.cfg, sum == m.sum
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	if m.check != nil {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := m.check(cctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	change := Diff(prev, cfg)
	if restart := change.RestartRequired(); len(restart) > 0 {
		m.log.Warn("config sections changed that apply on restart only", logx.String("sections", strings.Join(restart, ",")))
	}
	m.commit(cfg, sum)
	m.publish(cfg)
	m.log.Debug("config published",
		logx.String("path", m.path),
		logx.String("changed", strings.Join(change.Sections, ",")),
		logx.String("sum", fmt.Sprintf("%016x", sum)),
	)
}

var errWatchClosed = errors.New("config watch: watcher closed")

// Watch reloads the config whenever its file changes, debouncing editor
// bursts. It returns nil when ctx ends and an error when the underlying
// watcher breaks; run it under supervisor.GoRestart to recover.
func (m *ConfigManager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors that save by rename replace the file inode.
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	// Edits made while the watcher was down are picked up here.
	m.reload(ctx)

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()
	var due <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatchClosed
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) ||
				!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(m.debounce)
			due = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return errWatchClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.String("dir", dir))
				timer.Reset(m.debounce)
				due = timer.C
				continue
			}
			return fmt.Errorf("config watch: %w", err)
		case <-due:
			due = nil
			m.reload(ctx)
		}
	}
}
