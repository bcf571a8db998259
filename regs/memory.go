package regs

import (
	"sync/atomic"

	"github.com/sarchlab/sdc/sim"
)

// HookPosStore marks a store from the bus side of a Memory block. The hook
// item is an Access.
var HookPosStore = &sim.HookPos{Name: "RegStore"}

// An Access describes one register store.
type Access struct {
	Offset Offset
	Value  uint32
}

// Memory is a register block that lives in process memory. Bus-side stores go
// through Store and are reported to hooks, which is how a device model learns
// that a trigger register was written. The device side updates registers with
// Set, which is silent.
type Memory struct {
	sim.HookableBase

	cells [NumRegisters]atomic.Uint32
}

// NewMemory creates a register block with all registers cleared.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns the current value of a register.
func (m *Memory) Load(off Offset) uint32 {
	return m.cell(off).Load()
}

// Store writes a register from the bus side and notifies hooks.
func (m *Memory) Store(off Offset, value uint32) {
	m.cell(off).Store(value)

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosStore,
		Item:   Access{Offset: off, Value: value},
	})
}

// Set writes a register from the device side without notifying hooks.
func (m *Memory) Set(off Offset, value uint32) {
	m.cell(off).Store(value)
}

// Update applies f to a register from the device side.
func (m *Memory) Update(off Offset, f func(uint32) uint32) {
	c := m.cell(off)
	for {
		old := c.Load()
		if c.CompareAndSwap(old, f(old)) {
			return
		}
	}
}

func (m *Memory) cell(off Offset) *atomic.Uint32 {
	if !off.Valid() {
		panic("invalid register offset " + off.String())
	}

	return &m.cells[off.Index()]
}
