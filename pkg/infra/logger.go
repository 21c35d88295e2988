package infra

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Guizzs26/go-crm-sync/internal/config"
)

// SetupLogger builds the process logger. When LOG_FILE is set, output is
// teed to that file as well as stdout.
func SetupLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", cfg.LogFile, err)
		} else {
			out = io.MultiWriter(os.Stdout, logFile)
		}
	}
	return NewLogger(out, cfg.LogLevel, cfg.LogFormat)
}

// NewLogger returns a text or JSON logger writing to w
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.ToUpper(format) == "JSON" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
