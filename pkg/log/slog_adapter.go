package log

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogAdapter prints protocol events through an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event with its type-specific attributes.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.NodeAddress != 0 {
		attrs = append(attrs, slog.String("node", fmt.Sprintf("0x%04X", event.NodeAddress)))
	}

	switch {
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.String("opcode", event.Message.Opcode.String()),
			slog.Int("params_len", len(event.Message.Params)),
		)
		if event.Message.Step != "" {
			attrs = append(attrs, slog.String("step", event.Message.Step))
		}
		if event.Message.Status != nil {
			attrs = append(attrs, slog.String("status", event.Message.Status.String()))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Retry != nil:
		attrs = append(attrs,
			slog.String("retry_kind", event.Retry.Kind.String()),
			slog.Int("remaining", event.Retry.Remaining),
		)
		if event.Retry.Delay > 0 {
			attrs = append(attrs, slog.Duration("delay", event.Retry.Delay))
		}
		if event.Retry.Step != "" {
			attrs = append(attrs, slog.String("step", event.Retry.Step))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
