// Package logging builds the process logger from config.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/chaz8081/beaconbridge/internal/config"
)

// New returns a colored text logger for log_format "text" and a JSON logger
// otherwise.
func New(cfg *config.Config, w io.Writer, version string) *slog.Logger {
	level := config.ParseLogLevel(cfg.LogLevel)

	if cfg.LogFormat == "text" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", "beaconbridge")
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With(
		"app", "beaconbridge",
		"version", version,
	)
}
