package observe

import (
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Log formats accepted by [NewLogHandler].
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
	LogFormatZap  = "zap"
)

// NewLogHandler builds the slog handler for format. The level is read through
// level on every record, so a [slog.LevelVar] makes it adjustable at runtime.
//
// text and json write to w with the standard slog handlers. zap routes
// records through a zap production core writing JSON to w.
//
// The returned close function flushes buffered output and must be called at
// shutdown.
func NewLogHandler(format string, w io.Writer, level slog.Leveler) (slog.Handler, func() error, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", LogFormatText:
		return slog.NewTextHandler(w, opts), func() error { return nil }, nil
	case LogFormatJSON:
		return slog.NewJSONHandler(w, opts), func() error { return nil }, nil
	case LogFormatZap:
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "time"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(w),
			zap.LevelEnablerFunc(func(l zapcore.Level) bool {
				return level.Level() <= zapToSlog(l)
			}),
		)
		logger := zap.New(core)
		return zapslog.NewHandler(logger.Core()), logger.Sync, nil
	default:
		return nil, nil, fmt.Errorf("observe: unknown log format %q", format)
	}
}

func zapToSlog(l zapcore.Level) slog.Level {
	switch {
	case l <= zapcore.DebugLevel:
		return slog.LevelDebug
	case l == zapcore.InfoLevel:
		return slog.LevelInfo
	case l == zapcore.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ParseLevel maps a config level name to a slog level. Unknown names map to
// info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
