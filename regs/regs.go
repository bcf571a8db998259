// Package regs describes the register block of the SD controller and provides
// ways to reach it: an in-process block for simulation and tests, and a
// memory-mapped block for real hardware.
//
// The block is seven 32-bit registers laid out back to back:
//
//	0x00 ctrl         write 1 to start a transfer
//	0x04 stat         bit 0 is the busy flag
//	0x08 dstaddr      destination address of the transfer
//	0x0C startsector  first sector to read
//	0x10 sectornum    number of sectors to read
//	0x14 progress     advances while a transfer makes headway
//	0x18 reset        write 1 to reset the controller
//
// Accesses are not serialized. Whoever owns the block must make sure only one
// driver uses it at a time.
package regs

import "fmt"

// An Offset is the byte offset of a register from the base of the block.
type Offset uint32

// Register offsets.
const (
	Ctrl        Offset = 0x00
	Stat        Offset = 0x04
	DstAddr     Offset = 0x08
	StartSector Offset = 0x0C
	SectorNum   Offset = 0x10
	Progress    Offset = 0x14
	Reset       Offset = 0x18
)

// NumRegisters is the number of registers in the block.
const NumRegisters = 7

// Size is the size of the register block in bytes.
const Size = NumRegisters * 4

// DefaultBase is the physical address the controller is wired to on the
// reference platform.
const DefaultBase uintptr = 0x42000000

// StatBusy is the busy bit of the stat register.
const StatBusy uint32 = 1 << 0

// Trigger is the value written to ctrl and reset to fire them.
const Trigger uint32 = 1

// All lists the register offsets in address order.
var All = [NumRegisters]Offset{
	Ctrl, Stat, DstAddr, StartSector, SectorNum, Progress, Reset,
}

var names = [NumRegisters]string{
	"ctrl", "stat", "dstaddr", "startsector", "sectornum", "progress", "reset",
}

// Index returns the position of the register in the block.
func (o Offset) Index() int {
	return int(o / 4)
}

// Valid tells if the offset addresses a register of the block.
func (o Offset) Valid() bool {
	return o%4 == 0 && o.Index() < NumRegisters
}

func (o Offset) String() string {
	if !o.Valid() {
		return fmt.Sprintf("reg(0x%02x)", uint32(o))
	}

	return names[o.Index()]
}

// A Block gives 32-bit access to the controller registers.
type Block interface {
	Load(off Offset) uint32
	Store(off Offset, value uint32)
}

// Snapshot holds the value of every register at one point in time.
type Snapshot struct {
	Ctrl        uint32 `json:"ctrl"`
	Stat        uint32 `json:"stat"`
	DstAddr     uint32 `json:"dstaddr"`
	StartSector uint32 `json:"startsector"`
	SectorNum   uint32 `json:"sectornum"`
	Progress    uint32 `json:"progress"`
	Reset       uint32 `json:"reset"`
}

// Busy tells if the snapshot shows a transfer in flight.
func (s Snapshot) Busy() bool {
	return s.Stat&StatBusy != 0
}

// TakeSnapshot loads every register of b. It never stores to the block.
func TakeSnapshot(b Block) Snapshot {
	return Snapshot{
		Ctrl:        b.Load(Ctrl),
		Stat:        b.Load(Stat),
		DstAddr:     b.Load(DstAddr),
		StartSector: b.Load(StartSector),
		SectorNum:   b.Load(SectorNum),
		Progress:    b.Load(Progress),
		Reset:       b.Load(Reset),
	}
}
