package cache

import (
	"github.com/sarchlab/a64core/emu"
)

// BackingStore is the next level below the cache.
type BackingStore interface {
	// InBounds reports whether [addr, addr+size) is addressable.
	InBounds(addr, size uint64) bool
	// Read fetches size bytes starting at addr.
	Read(addr uint64, size int) []byte
	// Write stores data starting at addr.
	Write(addr uint64, data []byte)
}

// MemoryBacking wraps emu.Memory as a BackingStore.
type MemoryBacking struct {
	memory *emu.Memory
}

// NewMemoryBacking creates a new MemoryBacking adapter.
func NewMemoryBacking(memory *emu.Memory) *MemoryBacking {
	return &MemoryBacking{memory: memory}
}

// InBounds reports whether the range lies inside the backing memory.
func (m *MemoryBacking) InBounds(addr, size uint64) bool {
	return m.memory.InBounds(addr, size)
}

// Read fetches data from the backing memory. Bytes past the end of memory
// read as zero, so a block that overhangs the last address still fills.
func (m *MemoryBacking) Read(addr uint64, size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = m.memory.Read8(addr + uint64(i))
	}
	return data
}

// Write stores data to the backing memory. Bytes past the end are dropped.
func (m *MemoryBacking) Write(addr uint64, data []byte) {
	for i, b := range data {
		m.memory.Write8(addr+uint64(i), b)
	}
}
