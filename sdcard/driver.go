// Package sdcard implements a polling driver for the block-read SD controller.
//
// A Driver programs the controller registers to start a read and polls the
// busy bit until the controller goes idle. While polling it watches the
// progress counter. If progress does not move for longer than the stall
// timeout, the driver resets the controller, waits for it to go idle, and
// starts the same transfer again. There is no limit on the number of retries.
//
// The driver is not safe for concurrent use, and it does not lock the
// register block. Callers must serialize all access to one controller.
package sdcard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sarchlab/sdc/regs"
	"github.com/sarchlab/sdc/sim"
)

// SectorSize is the size of a sector on the card, in bytes.
const SectorSize = 512

// DefaultStallTimeout is how long progress may stay still while the
// controller is busy before the driver resets it.
const DefaultStallTimeout = 500 * time.Millisecond

// ErrMisaligned is returned by CheckAligned for offsets or sizes that are not
// whole sectors.
var ErrMisaligned = errors.New("not sector aligned")

// Hook positions of the driver.
var (
	HookPosReadIssued    = &sim.HookPos{Name: "ReadIssued"}
	HookPosStallDetected = &sim.HookPos{Name: "StallDetected"}
	HookPosReset         = &sim.HookPos{Name: "Reset"}
	HookPosRearm         = &sim.HookPos{Name: "Rearm"}
	HookPosReady         = &sim.HookPos{Name: "Ready"}
)

// A ReadRequest is the register image of one read command.
type ReadRequest struct {
	DstAddr     uint32
	StartSector uint32
	SectorNum   uint32
}

// An Event is the hook item passed by the driver.
type Event struct {
	Now      time.Duration
	Progress uint32

	// Stalled is how long progress had not moved, for stall events.
	Stalled time.Duration

	// Request is set for read events.
	Request *ReadRequest
}

// Stats counts what the driver has done so far.
type Stats struct {
	Reads  uint64 `json:"reads"`
	Stalls uint64 `json:"stalls"`
	Resets uint64 `json:"resets"`
	Rearms uint64 `json:"rearms"`
}

// Driver drives one SD controller.
type Driver struct {
	sim.HookableBase

	name         string
	regs         regs.Block
	clock        Clock
	yield        func()
	stallTimeout time.Duration
	logger       *slog.Logger

	reads  atomic.Uint64
	stalls atomic.Uint64
	resets atomic.Uint64
	rearms atomic.Uint64
}

// Name returns the name of the driver.
func (d *Driver) Name() string {
	return d.name
}

// Registers returns the register block the driver works on.
func (d *Driver) Registers() regs.Block {
	return d.regs
}

// StallTimeout returns the configured stall timeout.
func (d *Driver) StallTimeout() time.Duration {
	return d.stallTimeout
}

// Stats returns the current counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Reads:  d.reads.Load(),
		Stalls: d.stalls.Load(),
		Resets: d.resets.Load(),
		Rearms: d.rearms.Load(),
	}
}

// IsBusy tells if the controller reports a transfer in flight.
func (d *Driver) IsBusy() bool {
	return d.regs.Load(regs.Stat)&regs.StatBusy != 0
}

// Progress returns the progress counter of the controller.
func (d *Driver) Progress() uint32 {
	return d.regs.Load(regs.Progress)
}

// Reset fires the controller reset. The controller goes idle some time
// later; Reset does not wait for it.
func (d *Driver) Reset() {
	d.regs.Store(regs.Reset, regs.Trigger)
	d.resets.Add(1)

	d.invokeHook(HookPosReset, Event{})
}

// WaitReady blocks until the controller is idle.
//
// A transfer whose progress counter stays still for longer than the stall
// timeout is reset and started again. A controller that never makes
// progress keeps WaitReady looping forever.
func (d *Driver) WaitReady() {
	start := d.clock.Now()
	last := d.Progress()

	for d.IsBusy() {
		progress := d.Progress()

		if progress != last {
			last = progress
			start = d.clock.Now()
		} else if stalled := d.clock.Now() - start; stalled > d.stallTimeout {
			d.recoverFromStall(last, stalled)

			start = d.clock.Now()
			last = d.Progress()
			d.rearm()
		}

		d.yield()
	}

	d.invokeHook(HookPosReady, Event{})
}

func (d *Driver) recoverFromStall(progress uint32, stalled time.Duration) {
	d.stalls.Add(1)
	d.logger.Warn("sdcard timeout, retrying",
		"progress", progress,
		"stalled", stalled,
	)
	d.invokeHook(HookPosStallDetected, Event{Stalled: stalled})

	d.Reset()
	d.spinWhileBusy()
}

func (d *Driver) rearm() {
	d.regs.Store(regs.Ctrl, regs.Trigger)
	d.rearms.Add(1)

	d.invokeHook(HookPosRearm, Event{})
}

func (d *Driver) spinWhileBusy() {
	for d.IsBusy() {
		d.yield()
	}
}

// Read starts reading byteSize bytes from byteOffset of the card into memory
// at dst. Both byteOffset and byteSize must be multiples of SectorSize; they
// are not checked. Read waits for any transfer in flight to finish, but it
// does not wait for the new one. Use WaitReady, IsBusy, or Progress to
// follow it.
func (d *Driver) Read(dst, byteOffset, byteSize uint32) {
	d.WaitReady()
	d.spinWhileBusy()

	req := ReadRequest{
		DstAddr:     dst,
		StartSector: byteOffset / SectorSize,
		SectorNum:   byteSize / SectorSize,
	}

	d.regs.Store(regs.DstAddr, req.DstAddr)
	d.regs.Store(regs.StartSector, req.StartSector)
	d.regs.Store(regs.SectorNum, req.SectorNum)
	d.regs.Store(regs.Ctrl, regs.Trigger)
	d.reads.Add(1)

	d.invokeHook(HookPosReadIssued, Event{Request: &req})
}

func (d *Driver) invokeHook(pos *sim.HookPos, evt Event) {
	if d.NumHooks() == 0 {
		return
	}

	evt.Now = d.clock.Now()
	evt.Progress = d.Progress()

	d.InvokeHook(sim.HookCtx{
		Domain: d,
		Pos:    pos,
		Item:   evt,
	})
}

// CheckAligned returns ErrMisaligned unless both byteOffset and byteSize are
// whole sectors.
func CheckAligned(byteOffset, byteSize uint32) error {
	if byteOffset%SectorSize != 0 {
		return fmt.Errorf("offset %d: %w", byteOffset, ErrMisaligned)
	}

	if byteSize%SectorSize != 0 {
		return fmt.Errorf("size %d: %w", byteSize, ErrMisaligned)
	}

	return nil
}
