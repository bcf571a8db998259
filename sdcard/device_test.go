package sdcard

import (
	"time"

	"github.com/sarchlab/sdc/regs"
	"github.com/sarchlab/sdc/sim"
)

// transfer describes how a scripted transfer behaves. A zero length never
// finishes by itself. A zero progressEvery keeps the progress counter still.
type transfer struct {
	length        int
	progressEvery int
}

// scriptedDevice plays the controller side of a register block. It moves one
// step forward every time the driver yields, and advances a fake clock by
// step on each move.
type scriptedDevice struct {
	regs *regs.Memory

	now  time.Duration
	step time.Duration

	resetLatency int
	plans        []transfer

	current transfer
	elapsed int
	resetIn int
	yields  int
	stores  []regs.Access
}

func newScriptedDevice(step time.Duration) *scriptedDevice {
	d := &scriptedDevice{
		regs:         regs.NewMemory(),
		step:         step,
		resetLatency: 2,
	}

	d.regs.AcceptHook(sim.HookFunc(d.onStore))

	return d
}

func (d *scriptedDevice) Now() time.Duration {
	return d.now
}

func (d *scriptedDevice) begin(t transfer) {
	d.current = t
	d.elapsed = 0
	d.regs.Set(regs.Stat, regs.StatBusy)
}

func (d *scriptedDevice) busy() bool {
	return d.regs.Load(regs.Stat)&regs.StatBusy != 0
}

func (d *scriptedDevice) onStore(ctx sim.HookCtx) {
	access := ctx.Item.(regs.Access)
	d.stores = append(d.stores, access)

	switch access.Offset {
	case regs.Reset:
		d.resetIn = d.resetLatency
	case regs.Ctrl:
		next := transfer{length: 1, progressEvery: 1}
		if len(d.plans) > 0 {
			next = d.plans[0]
			d.plans = d.plans[1:]
		}

		d.begin(next)
	}
}

func (d *scriptedDevice) yield() {
	d.now += d.step
	d.yields++

	if d.resetIn > 0 {
		d.resetIn--
		if d.resetIn == 0 {
			d.regs.Set(regs.Stat, 0)
		}

		return
	}

	if !d.busy() {
		return
	}

	d.elapsed++

	if d.current.progressEvery > 0 && d.elapsed%d.current.progressEvery == 0 {
		d.regs.Update(regs.Progress, func(v uint32) uint32 { return v + 1 })
	}

	if d.current.length > 0 && d.elapsed >= d.current.length {
		d.regs.Set(regs.Stat, 0)
	}
}

func (d *scriptedDevice) storesTo(off regs.Offset) []uint32 {
	var values []uint32

	for _, a := range d.stores {
		if a.Offset == off {
			values = append(values, a.Value)
		}
	}

	return values
}
