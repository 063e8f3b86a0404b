package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"detectedits-go/internal/detect"
)

// LogFileName is the log file appended to under the configured log dir.
const LogFileName = "detectedits.log"

// runHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
//
// Attributes added under a group are written as group.key=value.
type runHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	runID  string
	level  slog.Leveler
	prefix string
	attrs  []slog.Attr
}

func newRunHandler(w io.Writer, runID string, level slog.Leveler) *runHandler {
	return &runHandler{mu: &sync.Mutex{}, w: w, runID: runID, level: level}
}

func (h *runHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *runHandler) Handle(_ context.Context, r slog.Record) error {
	line := fmt.Sprintf("%s\t%s\t%s\t%s",
		r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.runID, r.Message)

	for _, a := range h.attrs {
		line += formatAttr("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += formatAttr(h.prefix, a)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func formatAttr(prefix string, a slog.Attr) string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return ""
	}
	if a.Value.Kind() == slog.KindGroup {
		var s string
		for _, ga := range a.Value.Group() {
			s += formatAttr(prefix+a.Key+".", ga)
		}
		return s
	}
	return fmt.Sprintf("\t%s%s=%v", prefix, a.Key, a.Value)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *runHandler) withRunID(runID string) *runHandler {
	h2 := *h
	h2.runID = runID
	return &h2
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// newLogger creates a structured logger that writes to both logDir/detectedits.log and stdout.
// It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir, runID string, stdout io.Writer) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	return slog.New(newRunHandler(io.MultiWriter(f, stdout), runID, slog.LevelInfo)), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the detect.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

var _ detect.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
