package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timeFormat     = "2006-01-02T15:04:05.000Z07:00"
	defaultLogPath = "./jobtrack.log"
)

// Config selects the sinks and level. With neither sink enabled, output
// goes to the console.
type Config struct {
	Level   string
	Console bool
	// Format is "text" (default) or "json" for the console sink.
	Format string
	File   FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
	// MaxSizeMB rotates the file once it grows past this size; zero means
	// 100 MB. MaxBackups bounds the rotated files kept; zero keeps all.
	MaxSizeMB  int
	MaxBackups int
}

// Service owns the active sinks. Loggers handed out by it read the
// current zerolog.Logger on every event.
type Service struct {
	mu   sync.Mutex
	file io.Closer

	active atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg and returns it with a live root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) load() zerolog.Logger {
	if zl := s.active.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply replaces sinks and level. Events already in flight finish on the
// previous sinks.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	var file io.Closer
	if cfg.File.Enabled {
		lj, err := openFileSink(cfg.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v; continuing on console\n", err)
		} else {
			file = lj
			sinks = append(sinks, lj)
		}
	}
	if cfg.Console || len(sinks) == 0 {
		if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
			sinks = append(sinks, zerolog.SyncWriter(os.Stdout))
		} else {
			sinks = append(sinks, consoleSink(os.Stdout))
		}
	}

	var out io.Writer = sinks[0]
	if len(sinks) > 1 {
		out = zerolog.MultiLevelWriter(sinks...)
	}
	zl := zerolog.New(out).Level(ParseLevel(cfg.Level, LevelInfo)).With().Timestamp().Logger()
	s.active.Store(&zl)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
}

// Close releases the log file, if any. Later events go nowhere useful
// until the next Apply.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// openFileSink returns a size-rotated JSON sink. lumberjack opens lazily, so
// the path is opened once here to fall back to the console up front.
func openFileSink(cfg FileConfig) (*lumberjack.Logger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultLogPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	_ = f.Close()
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    max(cfg.MaxSizeMB, 0),
		MaxBackups: max(cfg.MaxBackups, 0),
		LocalTime:  true,
	}, nil
}

func consoleSink(f *os.File) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        f,
		TimeFormat: timeFormat,
		NoColor:    !isTerminal(f),
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
