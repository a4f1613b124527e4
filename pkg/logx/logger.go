package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

// Logger is a structured logger value. Loggers handed out by a Service read
// the Service's current sinks on every call, so they follow Apply.
// The zero value discards everything.
type Logger struct {
	src    func() zerolog.Logger
	fields []Field
}

var discard = zerolog.Nop()

// Nop returns a logger that discards everything. Unlike the zero value it
// reports IsZero false, so constructors keep it instead of replacing it.
func Nop() Logger {
	return Logger{src: func() zerolog.Logger { return discard }}
}

// NewConsole returns a standalone human-readable logger on stderr, for use
// before any config is loaded.
func NewConsole(level string) Logger {
	lvl, _ := ParseLevel(level)
	zl := zerolog.New(consoleWriter(os.Stderr)).Level(lvl).With().Timestamp().Logger()
	return fixed(zl)
}

// NewWriter returns a JSON-lines logger writing to w.
func NewWriter(w io.Writer, level string) Logger {
	lvl, _ := ParseLevel(level)
	return fixed(zerolog.New(w).Level(lvl).With().Timestamp().Logger())
}

func fixed(zl zerolog.Logger) Logger {
	return Logger{src: func() zerolog.Logger { return zl }}
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	if l.src == nil {
		return discard
	}
	return l.src()
}

// Enabled reports whether an event at level would be written.
func (l Logger) Enabled(level Level) bool {
	return level >= l.zl().GetLevel()
}

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return out
}

func (l Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

func (l Logger) write(level Level, msg string, fields []Field) {
	zl := l.zl()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// file:line of the Debug/Info/... call site
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, set := range l.fields {
		if set != nil {
			set(e)
		}
	}
	for _, set := range fields {
		if set != nil {
			set(e)
		}
	}
	e.Msg(msg)
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
