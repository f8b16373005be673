// Package logger is the process-wide structured logger of the metadata
// engine. It wraps log/slog with a colored text handler, a JSON handler and
// a level that can be changed at runtime without rebuilding the handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	level   = new(slog.LevelVar)
	current atomic.Pointer[slog.Logger]

	// mu serializes output and format changes.
	mu       sync.Mutex
	output   io.Writer = os.Stdout
	format             = "text"
	useColor bool
	logFile  *os.File
)

func init() {
	level.Set(slog.LevelInfo)
	useColor = isTerminal(os.Stdout.Fd())
	rebuild()
}

// rebuild installs a new handler for the current output and format. The
// caller holds mu, except during init.
func rebuild() {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	current.Store(slog.New(h))
}

// Init applies cfg. Empty fields keep their current value.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Output != "" {
		if err := setOutput(cfg.Output); err != nil {
			return err
		}
	}
	if f, ok := parseFormat(cfg.Format); ok {
		format = f
	}
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}

	rebuild()
	return nil
}

func setOutput(dest string) error {
	var (
		w     io.Writer
		color bool
		file  *os.File
	)

	switch strings.ToLower(dest) {
	case "stdout":
		w, color = os.Stdout, isTerminal(os.Stdout.Fd())
	case "stderr":
		w, color = os.Stderr, isTerminal(os.Stderr.Fd())
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", dest, err)
		}
		w, file = f, f
	}

	if logFile != nil {
		_ = logFile.Close()
	}
	output, useColor, logFile = w, color, file
	return nil
}

// SetOutput redirects log output to w. Used by tests and by callers
// embedding the engine.
func SetOutput(w io.Writer, color bool) {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	output, useColor = w, color
	rebuild()
}

// SetLevel changes the minimum level. Unknown levels are ignored. It is safe
// to call while other goroutines log.
func SetLevel(name string) {
	if l, ok := parseLevel(name); ok {
		level.Set(l)
	}
}

// GetLevel returns the current minimum level name.
func GetLevel() string {
	return level.Level().String()
}

// SetFormat switches between "text" and "json". Unknown formats are ignored.
func SetFormat(name string) {
	f, ok := parseFormat(name)
	if !ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	format = f
	rebuild()
}

func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

func parseFormat(name string) (string, bool) {
	switch f := strings.ToLower(name); f {
	case "text", "json":
		return f, true
	}
	return "", false
}

func log(ctx context.Context, l slog.Level, msg string, args []any) {
	if l < level.Level() {
		return
	}
	current.Load().Log(ctx, l, msg, withContextArgs(ctx, args)...)
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Debug logs at debug level. Usage: Debug("message", "key", value, ...)
func Debug(msg string, args ...any) { log(context.Background(), slog.LevelDebug, msg, args) }

func Info(msg string, args ...any) { log(context.Background(), slog.LevelInfo, msg, args) }

func Warn(msg string, args ...any) { log(context.Background(), slog.LevelWarn, msg, args) }

func Error(msg string, args ...any) { log(context.Background(), slog.LevelError, msg, args) }

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level, adding the trace and fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelDebug, msg, args)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelInfo, msg, args)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelWarn, msg, args)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelError, msg, args)
}

// Bug logs a broken internal invariant. The message is prefixed with "BUG:"
// and the caller's stack is attached. Bugs are always logged.
func Bug(msg string, args ...any) {
	BugCtx(context.Background(), msg, args...)
}

// BugCtx is Bug with the fields carried by ctx.
func BugCtx(ctx context.Context, msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	log(ctx, slog.LevelError, "BUG: "+msg, args)
}
