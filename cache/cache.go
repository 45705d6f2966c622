// Package cache provides a write-back data cache built on Akita cache
// components. A Cache sits between the executor and an emu.Memory and is
// architecturally invisible: every access returns what plain memory would.
package cache

import (
	"errors"
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/a64core/emu"
)

// ErrInvalidConfig is returned when a cache geometry cannot be built.
var ErrInvalidConfig = errors.New("invalid cache config")

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int `json:"size"`
	// Associativity (number of ways)
	Associativity int `json:"associativity"`
	// BlockSize in bytes (cache line size)
	BlockSize int `json:"block_size"`
}

// DefaultConfig returns a 32KB, 4-way cache with 64B lines.
func DefaultConfig() Config {
	return Config{
		Size:          32 * 1024,
		Associativity: 4,
		BlockSize:     64,
	}
}

// NumSets returns the number of sets implied by the geometry.
func (c Config) NumSets() int {
	return c.Size / (c.Associativity * c.BlockSize)
}

// Validate checks that the geometry describes at least one whole set.
func (c Config) Validate() error {
	if c.Size <= 0 || c.Associativity <= 0 || c.BlockSize <= 0 {
		return fmt.Errorf("%w: size, associativity and block size must be positive", ErrInvalidConfig)
	}
	if c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("%w: block size %d is not a power of two", ErrInvalidConfig, c.BlockSize)
	}
	if c.Size%(c.Associativity*c.BlockSize) != 0 {
		return fmt.Errorf("%w: size %d is not a multiple of %d ways x %dB",
			ErrInvalidConfig, c.Size, c.Associativity, c.BlockSize)
	}
	return nil
}

// AccessResult contains the result of a cache access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// Data is the data read (for load operations).
	Data uint64
	// Evicted is true if a valid block was replaced.
	Evicted bool
	// EvictedAddr is the address of the evicted block (if Evicted is true).
	EvictedAddr uint64
}

// Statistics holds cache statistics. An access that crosses a block
// boundary is counted once per byte.
type Statistics struct {
	Reads      uint64 `json:"reads"`
	Writes     uint64 `json:"writes"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Writebacks uint64 `json:"writebacks"`
}

// Cache is a set-associative, write-back, write-allocate cache.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Data storage - indexed by (setID * associativity + wayID)
	dataStore [][]byte

	stats   Statistics
	backing BackingStore
}

var _ emu.DataPort = (*Cache)(nil)

// New creates a new cache with the given configuration.
func New(config Config, backing BackingStore) (*Cache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if backing == nil {
		return nil, fmt.Errorf("%w: nil backing store", ErrInvalidConfig)
	}

	numSets := config.NumSets()
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		backing:   backing,
	}, nil
}

// NewForMemory creates a cache in front of memory.
func NewForMemory(config Config, memory *emu.Memory) (*Cache, error) {
	return New(config, NewMemoryBacking(memory))
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// blockIndex computes the index into dataStore for a block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	return (addr / uint64(c.config.BlockSize)) * uint64(c.config.BlockSize)
}

func (c *Cache) crossesBlock(addr uint64, size int) bool {
	return addr%uint64(c.config.BlockSize)+uint64(size) > uint64(c.config.BlockSize)
}

// Read reads size bytes at addr, little-endian. Out-of-bounds ranges read
// as zero and leave the cache untouched.
func (c *Cache) Read(addr uint64, size int) AccessResult {
	if !c.backing.InBounds(addr, uint64(size)) {
		return AccessResult{}
	}

	if !c.crossesBlock(addr, size) {
		return c.read(addr, size)
	}

	result := AccessResult{Hit: true}
	for i := 0; i < size; i++ {
		r := c.read(addr+uint64(i), 1)
		result.merge(r)
		result.Data |= r.Data << (8 * i)
	}
	return result
}

// Write writes the low size bytes of data at addr. Out-of-bounds ranges
// are discarded and leave the cache untouched.
func (c *Cache) Write(addr uint64, size int, data uint64) AccessResult {
	if !c.backing.InBounds(addr, uint64(size)) {
		return AccessResult{}
	}

	if !c.crossesBlock(addr, size) {
		return c.write(addr, size, data)
	}

	result := AccessResult{Hit: true}
	for i := 0; i < size; i++ {
		result.merge(c.write(addr+uint64(i), 1, data>>(8*i)))
	}
	return result
}

func (r *AccessResult) merge(part AccessResult) {
	r.Hit = r.Hit && part.Hit
	if part.Evicted {
		r.Evicted = true
		r.EvictedAddr = part.EvictedAddr
	}
}

// read performs a read that lies within one block.
func (c *Cache) read(addr uint64, size int) AccessResult {
	c.stats.Reads++

	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		offset := addr % uint64(c.config.BlockSize)
		blockData := c.dataStore[c.blockIndex(block)]

		return AccessResult{
			Hit:  true,
			Data: extractData(blockData, offset, size),
		}
	}

	c.stats.Misses++
	return c.handleMiss(addr, size, false, 0)
}

// write performs a write that lies within one block.
// On a miss the block is fetched first (write-allocate).
func (c *Cache) write(addr uint64, size int, data uint64) AccessResult {
	c.stats.Writes++

	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		offset := addr % uint64(c.config.BlockSize)
		blockData := c.dataStore[c.blockIndex(block)]
		storeData(blockData, offset, size, data)
		block.IsDirty = true

		return AccessResult{Hit: true}
	}

	c.stats.Misses++
	return c.handleMiss(addr, size, true, data)
}

// handleMiss fills a block from the backing store, evicting as needed.
func (c *Cache) handleMiss(addr uint64, size int, isWrite bool, writeData uint64) AccessResult {
	result := AccessResult{}
	blockAddr := c.blockAddr(addr)

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return result
	}

	victimData := c.dataStore[c.blockIndex(victim)]

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag // Tag stores block-aligned address

		if victim.IsDirty {
			c.stats.Writebacks++
			c.backing.Write(victim.Tag, victimData)
		}
	}

	copy(victimData, c.backing.Read(blockAddr, c.config.BlockSize))

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false

	offset := addr % uint64(c.config.BlockSize)
	if isWrite {
		storeData(victimData, offset, size, writeData)
		victim.IsDirty = true
	} else {
		result.Data = extractData(victimData, offset, size)
	}

	c.directory.Visit(victim)

	return result
}

// Peek returns the size bytes at addr as the program would see them,
// without counting an access or touching replacement state.
func (c *Cache) Peek(addr uint64, size int) uint64 {
	if !c.backing.InBounds(addr, uint64(size)) {
		return 0
	}

	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(c.peekByte(addr+uint64(i))) << (8 * i)
	}
	return v
}

func (c *Cache) peekByte(addr uint64) byte {
	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block != nil && block.IsValid {
		return c.dataStore[c.blockIndex(block)][addr%uint64(c.config.BlockSize)]
	}
	return c.backing.Read(addr, 1)[0]
}

// Invalidate drops the line holding addr without writing it back.
func (c *Cache) Invalidate(addr uint64) {
	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back all dirty blocks and invalidates them.
func (c *Cache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				c.backing.Write(block.Tag, c.dataStore[c.blockIndex(block)])
				c.stats.Writebacks++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset invalidates all cache lines without writeback.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}

// Read8 implements emu.DataPort.
func (c *Cache) Read8(addr uint64) uint8 { return uint8(c.Read(addr, 1).Data) }

// Read16 implements emu.DataPort.
func (c *Cache) Read16(addr uint64) uint16 { return uint16(c.Read(addr, 2).Data) }

// Read32 implements emu.DataPort.
func (c *Cache) Read32(addr uint64) uint32 { return uint32(c.Read(addr, 4).Data) }

// Read64 implements emu.DataPort.
func (c *Cache) Read64(addr uint64) uint64 { return c.Read(addr, 8).Data }

// Write8 implements emu.DataPort.
func (c *Cache) Write8(addr uint64, value uint8) { c.Write(addr, 1, uint64(value)) }

// Write16 implements emu.DataPort.
func (c *Cache) Write16(addr uint64, value uint16) { c.Write(addr, 2, uint64(value)) }

// Write32 implements emu.DataPort.
func (c *Cache) Write32(addr uint64, value uint32) { c.Write(addr, 4, uint64(value)) }

// Write64 implements emu.DataPort.
func (c *Cache) Write64(addr uint64, value uint64) { c.Write(addr, 8, value) }

// extractData extracts a little-endian value of the given size.
func extractData(data []byte, offset uint64, size int) uint64 {
	if int(offset)+size > len(data) {
		return 0
	}

	var result uint64
	for i := 0; i < size; i++ {
		result |= uint64(data[int(offset)+i]) << (i * 8)
	}
	return result
}

// storeData stores a little-endian value of the given size.
func storeData(data []byte, offset uint64, size int, value uint64) {
	if int(offset)+size > len(data) {
		return
	}

	for i := 0; i < size; i++ {
		data[int(offset)+i] = byte(value >> (i * 8))
	}
}
