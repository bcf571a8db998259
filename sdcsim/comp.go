// Package sdcsim models the SD controller at cycle level. The model sits
// behind a regs.Memory block, so the real driver can run against it.
package sdcsim

import (
	"sync/atomic"

	"github.com/sarchlab/sdc/memory"
	"github.com/sarchlab/sdc/regs"
	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/sim"
)

// A Fault freezes the progress counter once AfterSectors sectors of the
// current command have been moved. A zero Cycles freezes it until the next
// reset. Every fault fires once.
type Fault struct {
	AfterSectors uint32
	Cycles       uint64
}

// Stats counts what the controller has done.
type Stats struct {
	Commands           uint64 `json:"commands"`
	Resets             uint64 `json:"resets"`
	SectorsTransferred uint64 `json:"sectors_transferred"`
	FaultsFired        uint64 `json:"faults_fired"`
}

// Comp is the controller model. It implements sim.Hook to observe stores to
// its register block.
type Comp struct {
	*sim.TickingComponent

	regs           *regs.Memory
	medium         *memory.Storage
	host           *memory.Storage
	sectorsPerTick int

	active       bool
	resetPending bool
	dst          uint64
	sector       uint64
	remaining    uint32
	moved        uint32

	faults    []Fault
	wedged    bool
	stallLeft uint64
	faulted   bool

	commands    atomic.Uint64
	resets      atomic.Uint64
	transferred atomic.Uint64
	faultsFired atomic.Uint64
}

// Registers returns the register block of the controller.
func (c *Comp) Registers() *regs.Memory {
	return c.regs
}

// Stats returns the current counters.
func (c *Comp) Stats() Stats {
	return Stats{
		Commands:           c.commands.Load(),
		Resets:             c.resets.Load(),
		SectorsTransferred: c.transferred.Load(),
		FaultsFired:        c.faultsFired.Load(),
	}
}

// Faulted tells if the controller hit a medium or host memory access error.
// A faulted controller stays busy and stops progressing until reset.
func (c *Comp) Faulted() bool {
	c.Lock()
	defer c.Unlock()

	return c.faulted
}

// InjectFault appends a fault to the fault plan.
func (c *Comp) InjectFault(f Fault) {
	c.Lock()
	defer c.Unlock()

	c.faults = append(c.faults, f)
}

// Func reacts to bus-side stores to the register block.
func (c *Comp) Func(ctx sim.HookCtx) {
	if ctx.Pos != regs.HookPosStore {
		return
	}

	access := ctx.Item.(regs.Access)
	if access.Value != regs.Trigger {
		return
	}

	switch access.Offset {
	case regs.Ctrl:
		c.startCommand()
	case regs.Reset:
		c.Lock()
		c.resetPending = true
		c.Unlock()
	default:
		return
	}

	c.TickLater()
}

func (c *Comp) startCommand() {
	c.Lock()
	defer c.Unlock()

	c.dst = uint64(c.regs.Load(regs.DstAddr))
	c.sector = uint64(c.regs.Load(regs.StartSector))
	c.remaining = c.regs.Load(regs.SectorNum)
	c.moved = 0
	c.active = true

	c.regs.Update(regs.Stat, func(v uint32) uint32 { return v | regs.StatBusy })
	c.commands.Add(1)
}

// Tick moves the controller forward by one cycle.
func (c *Comp) Tick() bool {
	c.Lock()
	defer c.Unlock()

	if c.resetPending {
		c.reset()
		return false
	}

	if !c.active {
		return false
	}

	if c.wedged {
		return true
	}

	if c.stallLeft > 0 {
		c.stallLeft--
		return true
	}

	for i := 0; i < c.sectorsPerTick && c.remaining > 0; i++ {
		if c.fireFault() {
			return true
		}

		if !c.moveSector() {
			return true
		}
	}

	if c.remaining == 0 {
		c.active = false
		c.regs.Update(regs.Stat, func(v uint32) uint32 { return v &^ regs.StatBusy })

		return false
	}

	return true
}

func (c *Comp) fireFault() bool {
	if len(c.faults) == 0 || c.faults[0].AfterSectors != c.moved {
		return false
	}

	f := c.faults[0]
	c.faults = c.faults[1:]
	c.faultsFired.Add(1)

	if f.Cycles == 0 {
		c.wedged = true
	} else {
		c.stallLeft = f.Cycles - 1
	}

	return true
}

func (c *Comp) moveSector() bool {
	data, err := c.medium.Read(
		(c.sector+uint64(c.moved))*sdcard.SectorSize, sdcard.SectorSize)
	if err == nil {
		err = c.host.Write(c.dst+uint64(c.moved)*sdcard.SectorSize, data)
	}

	if err != nil {
		c.faulted = true
		c.wedged = true

		return false
	}

	c.moved++
	c.remaining--
	c.transferred.Add(1)
	c.regs.Update(regs.Progress, func(v uint32) uint32 { return v + 1 })

	return true
}

func (c *Comp) reset() {
	c.resetPending = false
	c.active = false
	c.wedged = false
	c.faulted = false
	c.stallLeft = 0
	c.remaining = 0

	c.regs.Update(regs.Stat, func(v uint32) uint32 { return v &^ regs.StatBusy })
	c.resets.Add(1)
}
