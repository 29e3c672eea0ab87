package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger - структурированный логгер с парами ключ/значение
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)
	With(kv ...any) Logger
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New создает логгер с JSON-выводом в stdout
func New(level string) Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewConsole создает логгер с человекочитаемым выводом (для development)
func NewConsole(level string) Logger {
	return NewWithWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, level)
}

func NewWithWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
	return &zeroLogger{zl: zl}
}

// Nop возвращает логгер, который ничего не пишет
func Nop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zeroLogger) Debug(msg string, kv ...any) {
	l.zl.Debug().Fields(fields(kv)).Msg(msg)
}

func (l *zeroLogger) Info(msg string, kv ...any) {
	l.zl.Info().Fields(fields(kv)).Msg(msg)
}

func (l *zeroLogger) Warn(msg string, kv ...any) {
	l.zl.Warn().Fields(fields(kv)).Msg(msg)
}

func (l *zeroLogger) Error(msg string, kv ...any) {
	l.zl.Error().Fields(fields(kv)).Msg(msg)
}

func (l *zeroLogger) Fatal(msg string, kv ...any) {
	l.zl.Fatal().Fields(fields(kv)).Msg(msg)
}

func (l *zeroLogger) With(kv ...any) Logger {
	return &zeroLogger{zl: l.zl.With().Fields(fields(kv)).Logger()}
}

// fields превращает список ключ/значение в map для zerolog.
// Нечетный хвост пишется под ключом "extra".
func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			out["extra"] = kv[i]
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if err, isErr := kv[i+1].(error); isErr && err != nil {
			out[key] = err.Error()
			continue
		}
		out[key] = kv[i+1]
	}
	return out
}
