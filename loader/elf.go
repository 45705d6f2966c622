// Package loader reads AArch64 programs from disk, either as ELF64
// executables or as flat raw images, and places them into emulator memory.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/a64core/emu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the initial stack pointer for loaded programs: the top
// of the default emulator memory, 16-byte aligned.
const DefaultStackTop = emu.DefaultMemorySize

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint64
}

// Size returns the highest address any segment occupies, which is the
// smallest memory capacity that holds the whole program.
func (p *Program) Size() uint64 {
	var top uint64
	for _, seg := range p.Segments {
		end := seg.VirtAddr + max(seg.MemSize, uint64(len(seg.Data)))
		top = max(top, end)
	}
	return top
}

// CopyInto writes every segment into memory and zero-fills the BSS tail.
// It fails without partial writes of the offending segment when a segment
// does not fit.
func (p *Program) CopyInto(memory *emu.Memory) error {
	for _, seg := range p.Segments {
		size := max(seg.MemSize, uint64(len(seg.Data)))
		if !memory.InBounds(seg.VirtAddr, size) {
			return fmt.Errorf("segment at 0x%x (%d bytes): %w", seg.VirtAddr, size, emu.ErrOutOfBounds)
		}

		if err := memory.LoadBytes(seg.VirtAddr, seg.Data); err != nil {
			return fmt.Errorf("segment at 0x%x: %w", seg.VirtAddr, err)
		}
		for addr := seg.VirtAddr + uint64(len(seg.Data)); addr < seg.VirtAddr+size; addr++ {
			memory.Write8(addr, 0)
		}
	}
	return nil
}

// LoadRaw reads a flat image of little-endian instruction words. The whole
// file becomes one read/execute segment at base, and execution starts at
// base.
func LoadRaw(path string, base uint64) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("raw image %s is empty", path)
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("raw image %s is %d bytes, not a multiple of 4", path, len(data))
	}

	return &Program{
		EntryPoint: base,
		InitialSP:  DefaultStackTop,
		Segments: []Segment{{
			VirtAddr: base,
			Data:     data,
			MemSize:  uint64(len(data)),
			Flags:    SegmentFlagRead | SegmentFlagExecute,
		}},
	}, nil
}

// Load parses an ARM64 ELF binary and returns a Program struct ready for
// loading into the emulator's memory.
func Load(path string) (*Program, error) {
	// Open the ELF file
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Validate ELF class (must be 64-bit)
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file")
	}

	// Validate machine type (must be ARM64/AArch64)
	if f.Machine != elf.EM_AARCH64 {
		return nil, fmt.Errorf("not an ARM64 ELF file (machine type: %v)", f.Machine)
	}

	// Create the program structure
	prog := &Program{
		EntryPoint: f.Entry,
		InitialSP:  DefaultStackTop,
	}

	// Load all PT_LOAD segments
	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		// Read segment data
		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		// Convert ELF flags to our segment flags
		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		seg := Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		}

		prog.Segments = append(prog.Segments, seg)
	}

	return prog, nil
}
