// Package clog is the engine's structured logging layer: a thin wrapper
// around log/slog whose levels line up with the wire protocol's own
// debug/info/warning/error/critical frame tags (spec.md 4.F), backed by a
// rotating file sink (lumberjack) for long-running central/worker daemons.
package clog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelCritical sits above slog's built-in levels, mirroring the wire
// protocol's 'c' (critical) frame tag which has no stdlib equivalent.
const LevelCritical = slog.Level(12)

var (
	mu      sync.Mutex
	logger  = slog.New(slog.NewTextHandler(os.Stderr, nil))
	sink    io.Closer
	warned  sync.Map // map[string]struct{}: one-shot-per-name warning dedupe
)

// Config selects where the rotating log file lives and its rotation policy.
type Config struct {
	Path       string // empty disables file rotation, logs go to stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init installs the rotating file sink as the default logger. Safe to call
// once at process startup for the central and each worker.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Path == "" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
		return nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 64),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		Compress:   true,
	}
	sink = lj
	logger = slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stderr, lj), nil))
	return nil
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// Close flushes and closes the rotating sink, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		return sink.Close()
	}
	return nil
}

func L() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func Debug(msg string, args ...any) { L().Debug(msg, args...) }
func Info(msg string, args ...any)  { L().Info(msg, args...) }
func Warn(msg string, args ...any)  { L().Warn(msg, args...) }
func Error(msg string, args ...any) { L().Error(msg, args...) }

// Critical logs at LevelCritical, the wire protocol's 'c' frame tag.
func Critical(msg string, args ...any) {
	L().Log(context.Background(), LevelCritical, msg, args...)
}

// WarnOnce logs a warning the first time it is called for a given key and is
// silent on every subsequent call with the same key, matching the punch
// reader's "one-shot warning per unknown table name" requirement (4.A).
func WarnOnce(key, msg string, args ...any) {
	if _, loaded := warned.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	Warn(msg, args...)
}

// Release logs the cluster's one-line-per-request-release record (spec.md
// §7): bytes in/out, user, database, request type, and whether it errored.
func Release(database, user, requestType string, bytesIn, bytesOut int64, isErr bool) {
	L().Info("release",
		"database", database,
		"user", user,
		"request_type", requestType,
		"bytes_in", bytesIn,
		"bytes_out", bytesOut,
		"is_error", isErr,
	)
}
