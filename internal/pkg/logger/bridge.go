package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opscope/opscope/internal/model"
)

// emitFn receives every slog record as a core LogEntry, so the service's own
// output flows through the observability pipeline. Installed after the
// pipeline is constructed; nil until then.
var emitFn atomic.Pointer[func(model.LogEntry)]

// AttachEmitter routes all subsequent slog records into fn. fn must not block;
// the pipeline's Emit is fire-and-continue. A nil fn detaches, used during
// shutdown so late log lines don't hit torn-down components.
func AttachEmitter(fn func(model.LogEntry)) {
	if fn == nil {
		emitFn.Store(nil)
		return
	}
	emitFn.Store(&fn)
}

// teeHandler forwards records to the JSON handler and, when attached, to the
// observability pipeline.
type teeHandler struct {
	next  slog.Handler
	attrs []slog.Attr
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	if fnPtr := emitFn.Load(); fnPtr != nil {
		(*fnPtr)(recordToEntry(record, h.attrs))
	}
	return h.next.Handle(ctx, record)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &teeHandler{next: h.next.WithAttrs(attrs), attrs: merged}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{next: h.next.WithGroup(name), attrs: h.attrs}
}

func recordToEntry(record slog.Record, bound []slog.Attr) model.LogEntry {
	entry := model.LogEntry{
		Timestamp: record.Time,
		Level:     slogLevelTo(record.Level),
		Source:    "Opscope.Server",
		Message:   record.Message,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	apply := func(a slog.Attr) {
		switch a.Key {
		case "source":
			entry.Source = a.Value.String()
		case "correlation_id":
			entry.CorrelationID = a.Value.String()
		case "error":
			entry.Exception = a.Value.String()
		}
	}
	for _, a := range bound {
		apply(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		apply(a)
		return true
	})
	return entry
}

func slogLevelTo(level slog.Level) model.Level {
	switch {
	case level < slog.LevelInfo:
		return model.LevelDebug
	case level < slog.LevelWarn:
		return model.LevelInformation
	case level < slog.LevelError:
		return model.LevelWarning
	default:
		return model.LevelError
	}
}
