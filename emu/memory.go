package emu

import (
	"encoding/binary"
	"fmt"
)

// DataPort is the memory interface the executor reads and writes through.
// Out-of-range reads return 0 and out-of-range writes are discarded.
type DataPort interface {
	Read8(addr uint64) uint8
	Write8(addr uint64, value uint8)
	Read16(addr uint64) uint16
	Write16(addr uint64, value uint16)
	Read32(addr uint64) uint32
	Write32(addr uint64, value uint32)
	Read64(addr uint64) uint64
	Write64(addr uint64, value uint64)
}

// Memory is a flat, byte-addressable, fixed-capacity memory. Every access
// checks that the whole accessed range lies inside the capacity before
// touching storage. Multi-byte values are little-endian.
type Memory struct {
	data []byte
}

// NewMemory creates a zero-filled memory of the given capacity in bytes.
func NewMemory(capacity uint64) *Memory {
	return &Memory{data: make([]byte, capacity)}
}

// Capacity returns the size of the memory in bytes.
func (m *Memory) Capacity() uint64 {
	return uint64(len(m.data))
}

// InBounds reports whether [addr, addr+size) lies inside the memory.
func (m *Memory) InBounds(addr, size uint64) bool {
	capacity := m.Capacity()
	return addr <= capacity && capacity-addr >= size
}

// slice returns the backing bytes for [addr, addr+size), or nil if any part
// of the range is out of bounds.
func (m *Memory) slice(addr, size uint64) []byte {
	if !m.InBounds(addr, size) {
		return nil
	}
	return m.data[addr : addr+size]
}

// Read8 reads a byte. Out-of-range reads return 0.
func (m *Memory) Read8(addr uint64) uint8 {
	if b := m.slice(addr, 1); b != nil {
		return b[0]
	}
	return 0
}

// Write8 writes a byte. Out-of-range writes are discarded.
func (m *Memory) Write8(addr uint64, value uint8) {
	if b := m.slice(addr, 1); b != nil {
		b[0] = value
	}
}

// Read16 reads a little-endian halfword.
func (m *Memory) Read16(addr uint64) uint16 {
	if b := m.slice(addr, 2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

// Write16 writes a little-endian halfword.
func (m *Memory) Write16(addr uint64, value uint16) {
	if b := m.slice(addr, 2); b != nil {
		binary.LittleEndian.PutUint16(b, value)
	}
}

// Read32 reads a little-endian word.
func (m *Memory) Read32(addr uint64) uint32 {
	if b := m.slice(addr, 4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// Write32 writes a little-endian word.
func (m *Memory) Write32(addr uint64, value uint32) {
	if b := m.slice(addr, 4); b != nil {
		binary.LittleEndian.PutUint32(b, value)
	}
}

// Read64 reads a little-endian doubleword. It returns 0 unless all eight
// bytes are in range.
func (m *Memory) Read64(addr uint64) uint64 {
	if b := m.slice(addr, 8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Write64 writes a little-endian doubleword. The write is discarded unless
// all eight bytes are in range.
func (m *Memory) Write64(addr uint64, value uint64) {
	if b := m.slice(addr, 8); b != nil {
		binary.LittleEndian.PutUint64(b, value)
	}
}

// LoadBytes copies data into memory starting at addr. Unlike the accessors
// it is strict: nothing is written if the range does not fit.
func (m *Memory) LoadBytes(addr uint64, data []byte) error {
	b := m.slice(addr, uint64(len(data)))
	if b == nil {
		return fmt.Errorf("%w: %d bytes at 0x%X (capacity 0x%X)",
			ErrOutOfBounds, len(data), addr, m.Capacity())
	}
	copy(b, data)
	return nil
}

// Reset zeroes the whole memory.
func (m *Memory) Reset() {
	clear(m.data)
}
