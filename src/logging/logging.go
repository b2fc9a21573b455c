// Package logging sets up the process-wide structured logger, following the
// teacher's log/slog + tint setup from its own (now superseded) src/main.go,
// extended with a target filter for the --verbose FILTER CLI flag.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// targetKey is the attribute key child loggers use to tag which subsystem a
// record belongs to, mirroring the teacher's ".With(\"context\", ...)" idiom
// throughout src/connectors/mqtt.
const targetKey = "target"

// Recognized log targets, per SPEC_FULL §6.
const (
	TargetInfo     = "info"
	TargetError    = "error"
	TargetMQTT     = "mqtt"
	TargetNetwork  = "network"
	TargetSecurity = "security"
)

// DefaultFilter is the filter applied when --verbose is not given.
const DefaultFilter = "error,info"

// targetHandler wraps an slog.Handler, dropping any record whose "target"
// attribute is not in the active set. Records without a target attribute
// (the root logger's own output) always pass through.
type targetHandler struct {
	next    slog.Handler
	allowed map[string]struct{}
}

// NewTargetFilter parses a comma-separated FILTER string (SPEC_FULL §6) and
// wraps next so that only matching targets are emitted.
func NewTargetFilter(next slog.Handler, filter string) slog.Handler {
	allowed := make(map[string]struct{})
	for _, t := range strings.Split(filter, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			allowed[t] = struct{}{}
		}
	}
	return &targetHandler{next: next, allowed: allowed}
}

func (h *targetHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *targetHandler) Handle(ctx context.Context, r slog.Record) error {
	target := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == targetKey {
			target = a.Value.String()
			return false
		}
		return true
	})

	if target != "" {
		if _, ok := h.allowed[target]; !ok {
			return nil
		}
	}

	return h.next.Handle(ctx, r)
}

func (h *targetHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &targetHandler{next: h.next.WithAttrs(attrs), allowed: h.allowed}
}

func (h *targetHandler) WithGroup(name string) slog.Handler {
	return &targetHandler{next: h.next.WithGroup(name), allowed: h.allowed}
}

// New builds the process-wide logger: tint's colorized handler for a human
// operator's terminal, wrapped in the target filter built from filter.
func New(w io.Writer, filter string) *slog.Logger {
	base := tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	})
	return slog.New(NewTargetFilter(base, filter))
}

// Setup installs the process-wide default logger per filter and returns it,
// the same slog.SetDefault(slog.New(tint.NewHandler(...))) pattern the
// teacher's src/main.go used.
func Setup(filter string) *slog.Logger {
	logger := New(os.Stderr, filter)
	slog.SetDefault(logger)
	return logger
}

// For returns a child logger tagged with target, so every record it emits
// carries the attribute the target filter inspects.
func For(logger *slog.Logger, target string) *slog.Logger {
	return logger.With(targetKey, target)
}

// ValidateFilter reports an error if filter names a target outside the
// recognized set.
func ValidateFilter(filter string) error {
	known := map[string]struct{}{
		TargetInfo: {}, TargetError: {}, TargetMQTT: {}, TargetNetwork: {}, TargetSecurity: {},
	}
	for _, t := range strings.Split(filter, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := known[t]; !ok {
			return fmt.Errorf("unrecognized log target %q", t)
		}
	}
	return nil
}
