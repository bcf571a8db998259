package regs

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrNotMapped is returned when a Mapped block is used after Close.
var ErrNotMapped = errors.New("register block is not mapped")

// Mapped is a register block reached through a memory mapping of a physical
// address range, typically /dev/mem or a UIO device node.
type Mapped struct {
	file  *os.File
	page  []byte
	block unsafe.Pointer
}

// OpenMapped maps the register block at physical address base through the
// device file at path. The mapping is page aligned; base does not have to
// be.
func OpenMapped(path string, base uintptr) (*Mapped, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	pageSize := uintptr(unix.Getpagesize())
	pageBase := base &^ (pageSize - 1)
	inPage := base - pageBase

	length := int(inPage + Size)
	length = (length + int(pageSize) - 1) &^ (int(pageSize) - 1)

	page, err := unix.Mmap(
		int(f.Fd()),
		int64(pageBase),
		length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping 0x%x from %s: %w", base, path, err)
	}

	return &Mapped{
		file:  f,
		page:  page,
		block: unsafe.Pointer(&page[inPage]),
	}, nil
}

func (m *Mapped) reg(off Offset) *uint32 {
	if m.block == nil {
		panic(ErrNotMapped)
	}

	if !off.Valid() {
		panic("invalid register offset " + off.String())
	}

	return (*uint32)(unsafe.Add(m.block, uintptr(off)))
}

// Load reads a register with a single 32-bit access.
func (m *Mapped) Load(off Offset) uint32 {
	return atomic.LoadUint32(m.reg(off))
}

// Store writes a register with a single 32-bit access.
func (m *Mapped) Store(off Offset, value uint32) {
	atomic.StoreUint32(m.reg(off), value)
}

// Close unmaps the block and closes the device file.
func (m *Mapped) Close() error {
	if m.page == nil {
		return ErrNotMapped
	}

	err := unix.Munmap(m.page)
	m.page = nil
	m.block = nil

	return errors.Join(err, m.file.Close())
}
