package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// DefaultFilePath is used when file logging is enabled without a path.
const DefaultFilePath = "./clubqueue.log"

// ParseLevel maps a config level name to a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Service owns the console and file sinks behind its loggers.
type Service struct {
	mu       sync.Mutex
	file     *os.File
	filePath string

	cur atomic.Pointer[zerolog.Logger]
}

// New builds the sinks for cfg and returns the Service with its root logger.
// A sink that cannot be opened is reported through the returned logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	err := s.Apply(cfg)
	log := Logger{src: s.load}
	if err != nil {
		log.Warn("logging config partially applied", Err(err))
	}
	return s, log
}

func (s *Service) load() zerolog.Logger {
	if zl := s.cur.Load(); zl != nil {
		return *zl
	}
	return discard
}

// Apply swaps level and sinks for every logger of s. The log file is kept
// open across calls while its path is unchanged. Console output is used
// when no other sink is available.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lvl, lvlErr := ParseLevel(cfg.Level)
	fileErr := s.syncFile(cfg.File)

	var sinks []io.Writer
	if cfg.Console || s.file == nil {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if s.file != nil {
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(lvl).With().Timestamp().Logger()
	s.cur.Store(&zl)
	return errors.Join(lvlErr, fileErr)
}

func (s *Service) syncFile(fc FileConfig) error {
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = DefaultFilePath
	}
	if s.file != nil && (!fc.Enabled || path != s.filePath) {
		_ = s.file.Close()
		s.file, s.filePath = nil, ""
	}
	if !fc.Enabled || s.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("log file %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("log file %s: %w", path, err)
	}
	s.file, s.filePath = f, path
	return nil
}

// Close releases the log file. Loggers keep writing to the console.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.filePath = nil, ""
	next := zerolog.New(consoleWriter(os.Stdout)).Level(s.load().GetLevel()).With().Timestamp().Logger()
	s.cur.Store(&next)
	return err
}
