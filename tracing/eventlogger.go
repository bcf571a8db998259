package tracing

import (
	"context"
	"log/slog"

	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/sim"
)

// EventLogger is a hook that prints driver events to a logger at debug
// level.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger returns a new EventLogger which writes into logger.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// Func writes the event information into the logger.
func (h *EventLogger) Func(ctx sim.HookCtx) {
	evt, ok := ctx.Item.(sdcard.Event)
	if !ok {
		return
	}

	attrs := []slog.Attr{
		slog.Duration("now", evt.Now),
		slog.Uint64("progress", uint64(evt.Progress)),
	}

	if named, ok := ctx.Domain.(sim.Named); ok {
		attrs = append(attrs, slog.String("driver", named.Name()))
	}

	if evt.Stalled > 0 {
		attrs = append(attrs, slog.Duration("stalled", evt.Stalled))
	}

	if r := evt.Request; r != nil {
		attrs = append(attrs,
			slog.Uint64("dst", uint64(r.DstAddr)),
			slog.Uint64("start_sector", uint64(r.StartSector)),
			slog.Uint64("sector_num", uint64(r.SectorNum)))
	}

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, ctx.Pos.Name, attrs...)
}
