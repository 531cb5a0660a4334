package core

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// LogLevel maps the -v count to a slog level.
func LogLevel(verbose int) slog.Level {
	switch {
	case verbose >= 2:
		return slog.LevelDebug
	case verbose == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// SetupLogging installs a tint handler writing to w as the default logger.
// Colors are only used when w is a terminal.
func SetupLogging(w io.Writer, verbose int) {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      LogLevel(verbose),
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})

	slog.SetDefault(slog.New(handler))
}
