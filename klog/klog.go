// Package klog is the kernel's structured logger: one slog.Logger per
// process, grounded on smoynes-elsie/internal/log's slog wrapper, text
// handler by default so boot output reads like a real console log.
package klog

import (
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetVerbose switches the minimum level to Debug, for the kernel
// command's --log-level debug.
func SetVerbose(v bool) {
	level := slog.LevelInfo
	if v {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func Debug(msg string, args ...any) { logger.Debug(msg, args...) }
func Info(msg string, args ...any)  { logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { logger.Warn(msg, args...) }
func Error(msg string, args ...any) { logger.Error(msg, args...) }

// With returns a logger scoped to extra key/value pairs (e.g. pid, hart).
func With(args ...any) *slog.Logger { return logger.With(args...) }
