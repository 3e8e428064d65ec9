package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
}

var _ Logger = (*ZerologLogger)(nil)

// NewZerolog creates a zerolog backed logger. When console is true, output is
// rendered with zerolog.ConsoleWriter; otherwise each record is a JSON line.
func NewZerolog(w io.Writer, level Level, console bool) Logger {
	if w == nil {
		w = os.Stderr
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).With().Timestamp().Logger().Level(toZerologLevel(level))

	return &ZerologLogger{logger: zl}
}

func (z *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	z.emit(z.logger.Debug(), msg, keysAndValues)
}

func (z *ZerologLogger) Info(msg string, keysAndValues ...any) {
	z.emit(z.logger.Info(), msg, keysAndValues)
}

func (z *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	z.emit(z.logger.Warn(), msg, keysAndValues)
}

func (z *ZerologLogger) Error(msg string, keysAndValues ...any) {
	z.emit(z.logger.Error(), msg, keysAndValues)
}

// Fatal uses WithLevel so the exit happens here and not inside zerolog.
func (z *ZerologLogger) Fatal(msg string, keysAndValues ...any) {
	z.emit(z.logger.WithLevel(zerolog.FatalLevel), msg, keysAndValues)
	os.Exit(1)
}

func (z *ZerologLogger) With(keyValues ...any) Logger {
	return &ZerologLogger{logger: z.logger.With().Fields(pairs(keyValues)).Logger()}
}

func (z *ZerologLogger) Level() Level {
	switch z.logger.GetLevel() {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return DebugLevel
	case zerolog.InfoLevel:
		return InfoLevel
	case zerolog.WarnLevel:
		return WarnLevel
	case zerolog.ErrorLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

func (z *ZerologLogger) SetLevel(level Level) {
	z.logger = z.logger.Level(toZerologLevel(level))
}

func (z *ZerologLogger) emit(ev *zerolog.Event, msg string, keysAndValues []any) {
	if ev == nil {
		return
	}
	ev.Fields(pairs(keysAndValues)).Msg(msg)
}

// pairs converts slog style alternating key/values into a zerolog field map.
// A dangling value is reported under "!BADKEY", matching slog.
func pairs(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 >= len(keysAndValues) {
			fields["!BADKEY"] = keysAndValues[i]
			break
		}
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields[key] = err.Error()
			continue
		}
		fields[key] = keysAndValues[i+1]
	}

	return fields
}

func toZerologLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}
