// Package log is strata's structured logger. It wraps log/slog with a
// stderr handler for the user and an always-on JSONL debug file.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu         sync.Mutex
	base       *slog.Logger
	logger     *slog.Logger
	fileWriter *FileWriter
)

// Options configures the logger.
type Options struct {
	// Verbose lowers the stderr threshold to Debug.
	Verbose bool
	// JSONFormat writes stderr records as JSON instead of logfmt text.
	JSONFormat bool
	// Interactive keeps stderr at Warn even when Verbose is set, so progress
	// output on the terminal is not interleaved with debug noise.
	Interactive bool
	// DebugDir receives daily YYYY-MM-DD.jsonl files. Empty disables file logging.
	DebugDir string
	// RetentionDays removes debug files older than this many days (0 keeps all).
	RetentionDays int
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// Init installs the global logger.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	level := slog.LevelWarn
	if opts.Verbose && !opts.Interactive {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if opts.JSONFormat {
		handlers = append(handlers, slog.NewJSONHandler(stderr, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(stderr, handlerOpts))
	}

	mu.Lock()
	defer mu.Unlock()

	if opts.DebugDir != "" {
		if opts.RetentionDays > 0 {
			Cleanup(opts.DebugDir, opts.RetentionDays)
		}
		fw, err := NewFileWriter(opts.DebugDir)
		if err != nil {
			return err
		}
		if fileWriter != nil {
			fileWriter.Close()
		}
		fileWriter = fw
		handlers = append(handlers, slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	install(slog.New(&fanout{handlers: handlers}))
	return nil
}

// install must be called with mu held.
func install(l *slog.Logger) {
	base = l
	logger = l
	slog.SetDefault(l)
}

// Close flushes and closes the debug file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
}

// fanout delivers each record to every handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: next}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanout{handlers: next}
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { current().Error(msg, args...) }

// With returns a child logger carrying args.
func With(args ...any) *slog.Logger { return current().With(args...) }

// SetOutput routes all levels to w as text. Intended for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	install(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// SetOperationID tags every subsequent record with op_id until
// ClearOperationID is called. One snapshot, restore or forget is one operation.
func SetOperationID(id string) {
	mu.Lock()
	defer mu.Unlock()
	logger = base.With(slog.String("op_id", id))
	slog.SetDefault(logger)
}

// ClearOperationID drops the op_id attribute.
func ClearOperationID() {
	mu.Lock()
	defer mu.Unlock()
	logger = base
	slog.SetDefault(logger)
}

func init() {
	base = slog.Default()
	logger = base
}
