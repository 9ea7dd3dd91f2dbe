package logging

import (
	"context"
	"log/slog"
	"os"
)

// MaxValueLen caps how many characters of a log message or string
// attribute are emitted. Tool results and SQL rows can be huge; logs
// only need the head.
const MaxValueLen = 1000

// Setup installs the default slog logger: text output on stdout,
// debug level when verbose, long values truncated.
func Setup(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	inner := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(NewTruncatingHandler(inner, MaxValueLen)))
}

// TruncatingHandler wraps a slog.Handler and truncates the record
// message and all string attribute values to maxLen characters.
type TruncatingHandler struct {
	inner  slog.Handler
	maxLen int
}

func NewTruncatingHandler(inner slog.Handler, maxLen int) *TruncatingHandler {
	if maxLen <= 0 {
		maxLen = MaxValueLen
	}
	return &TruncatingHandler{inner: inner, maxLen: maxLen}
}

func (h *TruncatingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TruncatingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, Truncate(r.Message, h.maxLen), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.truncateAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *TruncatingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	trimmed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		trimmed[i] = h.truncateAttr(a)
	}
	return &TruncatingHandler{inner: h.inner.WithAttrs(trimmed), maxLen: h.maxLen}
}

func (h *TruncatingHandler) WithGroup(name string) slog.Handler {
	return &TruncatingHandler{inner: h.inner.WithGroup(name), maxLen: h.maxLen}
}

func (h *TruncatingHandler) truncateAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Truncate(a.Value.String(), h.maxLen))
	case slog.KindGroup:
		members := a.Value.Group()
		out := make([]any, 0, len(members))
		for _, m := range members {
			out = append(out, h.truncateAttr(m))
		}
		return slog.Group(a.Key, out...)
	default:
		return a
	}
}

// Truncate shortens s to max characters, appending a marker when cut.
// Counts runes, not bytes, so multi-byte text never splits mid-sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "... [truncated]"
}
