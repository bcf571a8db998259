// Package memory provides sparse byte storage for the simulated card medium
// and the host memory that the controller writes into.
package memory

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrOutOfRange is returned when an access goes beyond the storage capacity.
var ErrOutOfRange = errors.New("access beyond the storage capacity")

// DefaultUnitSize is the allocation granularity of a Storage.
const DefaultUnitSize = 4096

// A Storage keeps the bytes of a simulated memory or medium.
//
// The storage manages its bytes in units, similar to pages. Units that are
// never touched by Write are not allocated and read back as zeros.
type Storage struct {
	lock     sync.RWMutex
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity
func NewStorage(capacity uint64) *Storage {
	storage := new(Storage)

	storage.unitSize = DefaultUnitSize
	storage.capacity = capacity
	storage.data = make(map[uint64][]byte)

	return storage
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) rangeMustFit(address, length uint64) error {
	if address+length < address || address+length > s.capacity {
		return fmt.Errorf("%w: [0x%x, 0x%x) capacity 0x%x",
			ErrOutOfRange, address, address+length, s.capacity)
	}

	return nil
}

func (s *Storage) unit(address uint64, create bool) []byte {
	baseAddr, _ := s.parseAddress(address)

	unit, ok := s.data[baseAddr]
	if !ok && create {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read returns a copy of length bytes starting at address.
func (s *Storage) Read(address, length uint64) ([]byte, error) {
	if err := s.rangeMustFit(address, length); err != nil {
		return nil, err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	res := make([]byte, length)
	dataOffset := uint64(0)
	currAddr := address

	for dataOffset < length {
		_, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(length-dataOffset, s.unitSize-inUnitAddr)

		if unit := s.unit(currAddr, false); unit != nil {
			copy(res[dataOffset:dataOffset+lenToRead],
				unit[inUnitAddr:inUnitAddr+lenToRead])
		}

		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.rangeMustFit(address, length); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	dataOffset := uint64(0)
	currAddr := address

	for dataOffset < length {
		_, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(length-dataOffset, s.unitSize-inUnitAddr)

		unit := s.unit(currAddr, true)
		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])

		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// LoadImage copies the content of r into the storage from address 0. It
// returns the number of bytes loaded.
func (s *Storage) LoadImage(r io.Reader) (uint64, error) {
	buf := make([]byte, s.unitSize)
	loaded := uint64(0)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := s.Write(loaded, buf[:n]); werr != nil {
				return loaded, werr
			}

			loaded += uint64(n)
		}

		if errors.Is(err, io.EOF) {
			return loaded, nil
		}

		if err != nil {
			return loaded, fmt.Errorf("loading image: %w", err)
		}
	}
}
