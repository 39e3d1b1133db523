package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rollbar/rollbar-go"

	"simjur/internal/config"
	"simjur/internal/simjur"
)

// lineHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<instance>\t<message>\t<key=value ...>
type lineHandler struct {
	w        io.Writer
	instance string
	attrs    []slog.Attr
}

func (h *lineHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.instance, r.Message)
	if err != nil {
		return err
	}
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{
		w:        h.w,
		instance: h.instance,
		attrs:    append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *lineHandler) WithGroup(string) slog.Handler { return h }

// reportFunc sends one warning or error to an error tracker.
type reportFunc func(level slog.Level, msg string, extras map[string]any)

// reportingHandler passes every record to next and reports Warn and above.
type reportingHandler struct {
	next   slog.Handler
	report reportFunc
	attrs  []slog.Attr
}

func (h *reportingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *reportingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		extras := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			extras[a.Key] = a.Value.Any()
		}
		r.Attrs(func(a slog.Attr) bool {
			extras[a.Key] = a.Value.Any()
			return true
		})
		h.report(r.Level, r.Message, extras)
	}
	return h.next.Handle(ctx, r)
}

func (h *reportingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &reportingHandler{
		next:   h.next.WithAttrs(attrs),
		report: h.report,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *reportingHandler) WithGroup(name string) slog.Handler {
	return &reportingHandler{next: h.next.WithGroup(name), report: h.report, attrs: h.attrs}
}

var rollbarEnabled bool

// rollbarReport forwards to the global rollbar client. An error value in
// extras is sent as the item itself so rollbar groups by it.
func rollbarReport(level slog.Level, msg string, extras map[string]any) {
	args := []any{msg, extras}
	if err, ok := extras["error"].(error); ok {
		delete(extras, "error")
		args = []any{fmt.Errorf("%s: %w", msg, err), extras}
	}
	if level >= slog.LevelError {
		rollbar.Error(args...)
		return
	}
	rollbar.Warning(args...)
}

func flushRollbar() {
	if rollbarEnabled {
		rollbar.Wait()
	}
}

// newLogger creates a structured logger that writes to both logDir/simjur.log
// and stderr. Warnings and errors also go to Rollbar when a token is set.
func newLogger(logDir, instance string, rc config.RollbarConfig) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "simjur.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var handler slog.Handler = &lineHandler{w: io.MultiWriter(f, os.Stderr), instance: instance}
	if rc.Token != "" {
		rollbar.SetToken(rc.Token)
		rollbar.SetEnvironment(rc.Environment)
		rollbar.SetServerHost(instance)
		rollbar.SetCodeVersion(Version)
		rollbarEnabled = true
		handler = &reportingHandler{next: handler, report: rollbarReport}
	}
	return slog.New(handler), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the simjur.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// NewConsoleLogger logs to stderr only, for long-running CLI commands that
// do not open the app.
func NewConsoleLogger(instance string) simjur.Logger {
	return &slogAdapter{l: slog.New(&lineHandler{w: os.Stderr, instance: instance})}
}
