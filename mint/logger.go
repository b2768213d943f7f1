package mint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// NewLogger returns the slog logger the mint and its background tasks log with.
func NewLogger(level LogLevel) *slog.Logger {
	switch level {
	case Disable:
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	case Debug:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}))
	}
}

func (m *Mint) Logger() *slog.Logger {
	return m.logger
}

func (m *Mint) logInfof(format string, args ...any) {
	m.log(slog.LevelInfo, format, args...)
}

func (m *Mint) logErrorf(format string, args ...any) {
	m.log(slog.LevelError, format, args...)
}

func (m *Mint) logDebugf(format string, args ...any) {
	m.log(slog.LevelDebug, format, args...)
}

func (m *Mint) log(level slog.Level, format string, args ...any) {
	if !m.logger.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	// skip [Callers, log, level helper]
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}
