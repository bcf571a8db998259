package tracing

import (
	"github.com/rs/xid"

	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/sim"
)

// EventTableName is the table the EventTracer writes to.
const EventTableName = "sdcard_event"

// EventRow is one recorded driver event.
type EventRow struct {
	ID          string
	Driver      string
	Kind        string
	TimeNS      int64
	Progress    uint32
	StalledNS   int64
	DstAddr     uint32
	StartSector uint32
	SectorNum   uint32
}

// EventTracer is a driver hook that stores every driver event as a row.
type EventTracer struct {
	recorder DataRecorder
}

// NewEventTracer creates the event table in recorder and returns a tracer
// that fills it.
func NewEventTracer(recorder DataRecorder) *EventTracer {
	recorder.CreateTable(EventTableName, EventRow{})

	return &EventTracer{recorder: recorder}
}

// Func records the event carried by ctx.
func (t *EventTracer) Func(ctx sim.HookCtx) {
	evt, ok := ctx.Item.(sdcard.Event)
	if !ok {
		return
	}

	row := EventRow{
		ID:        xid.New().String(),
		Kind:      ctx.Pos.Name,
		TimeNS:    evt.Now.Nanoseconds(),
		Progress:  evt.Progress,
		StalledNS: evt.Stalled.Nanoseconds(),
	}

	if named, ok := ctx.Domain.(sim.Named); ok {
		row.Driver = named.Name()
	}

	if evt.Request != nil {
		row.DstAddr = evt.Request.DstAddr
		row.StartSector = evt.Request.StartSector
		row.SectorNum = evt.Request.SectorNum
	}

	t.recorder.InsertData(EventTableName, row)
}
