// Package pylog implements an append-only, size-capped session log as a
// log/slog.Handler. When stderr is a terminal, each written line is also
// copied to stderr as plain text, without color.
package pylog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level is one of five verbosity levels, from silent to per-file detail.
type Level int

const (
	LevelSilent  Level = 0
	LevelErrors  Level = 1
	LevelSummary Level = 2
	LevelDeletes Level = 3
	LevelPerFile Level = 4
)

// Role distinguishes the stamp's host field.
type Role string

const (
	RoleServer Role = "SERVER"
	RoleClient Role = "CLIENT"
)

// Handler writes "[ISO_TIME ROLE REMOTE (THREAD)] - message\n" lines to a
// single append-only file, truncating from the front once the file exceeds
// limitBytes (-1 disables the cap).
type Handler struct {
	mu         sync.Mutex
	path       string
	level      Level
	role       Role
	remote     string
	thread     string
	limitBytes int64

	mirror     bool
	mirrorTTY  bool
}

// New opens (creating as needed) the log file at path and returns a Handler
// filtering to level, stamping every line with role/remote/thread.
func New(path string, level Level, role Role, remote, thread string, limitBytes int64) (*Handler, error) {
	if err := ensureParent(path); err != nil {
		return nil, err
	}

	return &Handler{
		path:       path,
		level:      level,
		role:       role,
		remote:     remote,
		thread:     thread,
		limitBytes: limitBytes,
		mirror:     isatty.IsTerminal(os.Stderr.Fd()),
	}, nil
}

func ensureParent(path string) error {
	dir := path[:len(path)-len(baseName(path))]
	if dir == "" {
		return nil
	}

	return os.MkdirAll(dir, 0o755)
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}

	return path
}

// Log writes message if level is at or below the configured verbosity.
func (h *Handler) Log(message string, level Level) {
	if level > h.level {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	line := h.stamp() + " - " + message + "\n"

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}

	_, _ = f.WriteString(line)
	_ = f.Close()

	if h.limitBytes != -1 {
		h.truncateFront()
	}

	if h.mirror {
		fmt.Fprint(os.Stderr, line)
	}
}

func (h *Handler) stamp() string {
	stamp := fmt.Sprintf("%s %s %s", time.Now().Format(time.RFC3339), h.role, h.remote)
	if h.thread != "" {
		stamp += " (" + h.thread + ")"
	}

	return "[" + stamp + "]"
}

// truncateFront drops bytes from the start of the log up to the next
// newline past the overflow point, preserving the tail.
func (h *Handler) truncateFront() {
	info, err := os.Stat(h.path)
	if err != nil || info.Size() <= h.limitBytes {
		return
	}

	data, err := os.ReadFile(h.path)
	if err != nil {
		return
	}

	overflow := int64(len(data)) - h.limitBytes

	cut := overflow
	for i := overflow; i < int64(len(data)); i++ {
		if data[i] == '\n' {
			cut = i + 1

			break
		}
	}

	if cut >= int64(len(data)) {
		cut = int64(len(data))
	}

	_ = os.WriteFile(h.path, data[cut:], 0o644)
}

// SlogHandler adapts Handler to log/slog.Handler, mapping slog levels onto
// the package's 0-4 verbosity scale so the rest of the codebase can log
// through the standard library idiom while this package supplies the
// on-disk format.
type SlogHandler struct {
	h *Handler
}

// NewSlog wraps h as an slog.Handler.
func NewSlog(h *Handler) *SlogHandler {
	return &SlogHandler{h: h}
}

func (s *SlogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (s *SlogHandler) Handle(_ context.Context, r slog.Record) error {
	level := slogLevelToVerbosity(r.Level)

	msg := r.Message
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())

		return true
	})

	s.h.Log(msg, level)

	return nil
}

func (s *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return s }
func (s *SlogHandler) WithGroup(name string) slog.Handler       { return s }

func slogLevelToVerbosity(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelErrors
	case l >= slog.LevelWarn:
		return LevelSummary
	case l >= slog.LevelInfo:
		return LevelDeletes
	default:
		return LevelPerFile
	}
}
