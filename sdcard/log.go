package sdcard

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

func init() {
	logLevel.Set(slog.LevelWarn)
}

// SetLogLevel sets the minimum level of the default driver logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// DefaultLogger returns a logger that writes text to stderr at the level set
// by SetLogLevel.
func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
