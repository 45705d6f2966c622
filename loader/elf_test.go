package loader_test

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/a64core/emu"
	"github.com/sarchlab/a64core/loader"
)

// progHeader describes one program header of a synthesized ELF image.
type progHeader struct {
	typ   elf.ProgType
	flags elf.ProgFlag
	vaddr uint64
	data  []byte
	memsz uint64 // 0 means len(data)
}

// writeELF writes a little-endian ELF64 image whose segment contents follow
// the program headers in file order.
func writeELF(path string, machine elf.Machine, entry uint64, phdrs ...progHeader) {
	const (
		ehsize    = 64
		phentsize = 56
	)

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	buf := &bytes.Buffer{}
	Expect(binary.Write(buf, binary.LittleEndian, elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(phdrs)),
	})).To(Succeed())

	off := uint64(ehsize + phentsize*len(phdrs))
	for _, ph := range phdrs {
		memsz := ph.memsz
		if memsz == 0 {
			memsz = uint64(len(ph.data))
		}
		Expect(binary.Write(buf, binary.LittleEndian, elf.Prog64{
			Type:   uint32(ph.typ),
			Flags:  uint32(ph.flags),
			Off:    off,
			Vaddr:  ph.vaddr,
			Paddr:  ph.vaddr,
			Filesz: uint64(len(ph.data)),
			Memsz:  memsz,
			Align:  0x1000,
		})).To(Succeed())
		off += uint64(len(ph.data))
	}
	for _, ph := range phdrs {
		buf.Write(ph.data)
	}

	Expect(os.WriteFile(path, buf.Bytes(), 0644)).To(Succeed())
}

func words(ws ...uint32) []byte {
	out := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func doubleword(v uint64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, v)
	return out
}

const (
	codeFlags = elf.PF_R | elf.PF_X
	dataFlags = elf.PF_R | elf.PF_W
)

var _ = Describe("ELF Loader", func() {
	var (
		tempDir string
		memory  *emu.Memory
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "elf-loader-test")
		Expect(err).NotTo(HaveOccurred())
		memory = emu.NewMemory(64 * 1024)
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	// loadAndRun loads path, copies it into memory and runs it to the halt
	// word.
	loadAndRun := func(path string) (*loader.Program, *emu.Emulator) {
		prog, err := loader.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.CopyInto(memory)).To(Succeed())

		e := emu.NewEmulator(emu.WithMemory(memory))
		e.RegFile().PC = prog.EntryPoint
		_, err = e.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		return prog, e
	}

	Describe("Load", func() {
		It("should run code placed at the entry point", func() {
			path := filepath.Join(tempDir, "add.elf")
			writeELF(path, elf.EM_AARCH64, 0x2004, progHeader{
				typ: elf.PT_LOAD, flags: codeFlags, vaddr: 0x2000,
				data: words(
					0x91000FE0, // ADD X0, XZR, #3 (skipped)
					0x910017E1, // ADD X1, XZR, #5
					0x91001420, // ADD X0, X1, #5
					0x00000000,
				),
			})

			prog, e := loadAndRun(path)

			Expect(prog.EntryPoint).To(Equal(uint64(0x2004)))
			Expect(prog.InitialSP).To(Equal(uint64(loader.DefaultStackTop)))
			Expect(prog.InitialSP % 16).To(BeZero())
			Expect(prog.Segments).To(HaveLen(1))
			Expect(prog.Segments[0].Flags).To(Equal(loader.SegmentFlagRead | loader.SegmentFlagExecute))
			Expect(e.RegFile().ReadGeneral(0)).To(Equal(uint64(10)))
			Expect(e.InstructionCount()).To(Equal(uint64(2)))
		})

		It("should load a data segment the code can read", func() {
			path := filepath.Join(tempDir, "multi.elf")
			writeELF(path, elf.EM_AARCH64, 0x1000,
				progHeader{
					typ: elf.PT_LOAD, flags: codeFlags, vaddr: 0x1000,
					data: words(
						0x91400FE1, // ADD X1, XZR, #3, LSL #12
						0xF9400020, // LDR X0, [X1]
						0x00000000,
					),
				},
				progHeader{
					typ: elf.PT_LOAD, flags: dataFlags, vaddr: 0x3000,
					data: doubleword(0x1122334455667788),
				},
			)

			prog, e := loadAndRun(path)

			Expect(prog.Segments).To(HaveLen(2))
			Expect(prog.Segments[1].Flags & loader.SegmentFlagWrite).NotTo(BeZero())
			Expect(prog.Segments[1].Flags & loader.SegmentFlagExecute).To(BeZero())
			Expect(prog.Size()).To(Equal(uint64(0x3008)))
			Expect(e.RegFile().ReadGeneral(1)).To(Equal(uint64(0x3000)))
			Expect(e.RegFile().ReadGeneral(0)).To(Equal(uint64(0x1122334455667788)))
		})

		It("should zero the BSS tail over stale memory", func() {
			for addr := uint64(0x3000); addr < 0x3100; addr++ {
				memory.Write8(addr, 0xFF)
			}

			path := filepath.Join(tempDir, "bss.elf")
			writeELF(path, elf.EM_AARCH64, 0x1000,
				progHeader{
					typ: elf.PT_LOAD, flags: codeFlags, vaddr: 0x1000,
					data: words(
						0x91400FE1, // ADD X1, XZR, #3, LSL #12
						0xF9400022, // LDR X2, [X1]
						0xF9400420, // LDR X0, [X1, #8]
						0x00000000,
					),
				},
				progHeader{
					typ: elf.PT_LOAD, flags: dataFlags, vaddr: 0x3000,
					data: doubleword(42), memsz: 0x100,
				},
			)

			prog, e := loadAndRun(path)

			Expect(prog.Segments[1].Data).To(HaveLen(8))
			Expect(prog.Segments[1].MemSize).To(Equal(uint64(0x100)))
			Expect(prog.Size()).To(Equal(uint64(0x3100)))
			Expect(e.RegFile().ReadGeneral(2)).To(Equal(uint64(42)))
			Expect(e.RegFile().ReadGeneral(0)).To(BeZero())
			Expect(memory.Read8(0x30FF)).To(BeZero())
		})

		It("should zero a segment with no file contents", func() {
			memory.Write64(0x4000, 0xFFFFFFFFFFFFFFFF)

			path := filepath.Join(tempDir, "zero-filesz.elf")
			writeELF(path, elf.EM_AARCH64, 0x1000,
				progHeader{
					typ: elf.PT_LOAD, flags: codeFlags, vaddr: 0x1000,
					data: words(0x00000000),
				},
				progHeader{
					typ: elf.PT_LOAD, flags: dataFlags, vaddr: 0x4000, memsz: 64,
				},
			)

			prog, _ := loadAndRun(path)

			Expect(prog.Segments[1].Data).To(BeEmpty())
			Expect(memory.Read64(0x4000)).To(BeZero())
		})

		It("should skip program headers that are not PT_LOAD", func() {
			path := filepath.Join(tempDir, "note.elf")
			writeELF(path, elf.EM_AARCH64, 0x1000, progHeader{
				typ: elf.PT_NOTE, flags: elf.PF_R, vaddr: 0x1000, data: words(0x91001420),
			})

			prog, err := loader.Load(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(BeEmpty())
			Expect(prog.Size()).To(BeZero())
			Expect(prog.CopyInto(memory)).To(Succeed())
			Expect(memory.Read32(0x1000)).To(BeZero())
		})

		It("should reject a foreign machine", func() {
			path := filepath.Join(tempDir, "x86.elf")
			writeELF(path, elf.EM_X86_64, 0)

			_, err := loader.Load(path)
			Expect(err).To(MatchError(ContainSubstring("not an ARM64")))
		})

		It("should reject a 32-bit ELF", func() {
			var ident [elf.EI_NIDENT]byte
			copy(ident[:], elf.ELFMAG)
			ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
			ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
			ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
			buf := &bytes.Buffer{}
			Expect(binary.Write(buf, binary.LittleEndian, elf.Header32{
				Ident:   ident,
				Type:    uint16(elf.ET_EXEC),
				Machine: uint16(elf.EM_AARCH64),
				Version: uint32(elf.EV_CURRENT),
				Ehsize:  52,
			})).To(Succeed())
			path := filepath.Join(tempDir, "elf32.elf")
			Expect(os.WriteFile(path, buf.Bytes(), 0644)).To(Succeed())

			_, err := loader.Load(path)
			Expect(err).To(MatchError(ContainSubstring("not a 64-bit")))
		})

		DescribeTable("should reject files that are not ELF",
			func(contents []byte) {
				path := filepath.Join(tempDir, "bad.elf")
				Expect(os.WriteFile(path, contents, 0644)).To(Succeed())

				_, err := loader.Load(path)
				Expect(err).To(MatchError(ContainSubstring("failed to open")))
			},
			Entry("text", []byte("not an elf file")),
			Entry("empty", []byte{}),
		)

		It("should reject a missing file", func() {
			_, err := loader.Load(filepath.Join(tempDir, "missing.elf"))
			Expect(err).To(MatchError(ContainSubstring("failed to open")))
		})
	})

	Describe("LoadRaw", func() {
		It("should run the image from the base address", func() {
			rawPath := filepath.Join(tempDir, "prog.bin")
			image := words(0x910017E1, 0x91001420, 0x00000000)
			Expect(os.WriteFile(rawPath, image, 0644)).To(Succeed())

			prog, err := loader.LoadRaw(rawPath, 0x1000)
			Expect(err).NotTo(HaveOccurred())

			Expect(prog.EntryPoint).To(Equal(uint64(0x1000)))
			Expect(prog.Segments).To(HaveLen(1))
			Expect(prog.Segments[0].Flags & loader.SegmentFlagExecute).NotTo(BeZero())
			Expect(prog.Size()).To(Equal(uint64(0x100C)))

			Expect(prog.CopyInto(memory)).To(Succeed())
			e := emu.NewEmulator(emu.WithMemory(memory))
			e.RegFile().PC = prog.EntryPoint
			count, err := e.Run(context.Background())

			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(uint64(2)))
			Expect(e.RegFile().ReadGeneral(0)).To(Equal(uint64(10)))
		})

		It("should reject a missing file", func() {
			_, err := loader.LoadRaw(filepath.Join(tempDir, "missing.bin"), 0)
			Expect(err).To(MatchError(ContainSubstring("failed to open")))
		})

		It("should reject an empty image", func() {
			rawPath := filepath.Join(tempDir, "empty.bin")
			Expect(os.WriteFile(rawPath, nil, 0644)).To(Succeed())

			_, err := loader.LoadRaw(rawPath, 0)
			Expect(err).To(MatchError(ContainSubstring("empty")))
		})

		It("should reject a partial word", func() {
			rawPath := filepath.Join(tempDir, "odd.bin")
			Expect(os.WriteFile(rawPath, []byte{1, 2, 3}, 0644)).To(Succeed())

			_, err := loader.LoadRaw(rawPath, 0)
			Expect(err).To(MatchError(ContainSubstring("not a multiple of 4")))
		})
	})

	Describe("Program.CopyInto", func() {
		It("should fail when a segment does not fit", func() {
			path := filepath.Join(tempDir, "high.elf")
			writeELF(path, elf.EM_AARCH64, 0x400000, progHeader{
				typ: elf.PT_LOAD, flags: codeFlags, vaddr: 0x400000, data: words(0),
			})
			prog, err := loader.Load(path)
			Expect(err).NotTo(HaveOccurred())

			err = prog.CopyInto(emu.NewMemory(4096))
			Expect(err).To(MatchError(emu.ErrOutOfBounds))
		})

		It("should fail when only the BSS tail overhangs", func() {
			path := filepath.Join(tempDir, "overhang.elf")
			writeELF(path, elf.EM_AARCH64, 0xF00, progHeader{
				typ: elf.PT_LOAD, flags: dataFlags, vaddr: 0xF00, data: words(0x91001420), memsz: 0x200,
			})
			prog, err := loader.Load(path)
			Expect(err).NotTo(HaveOccurred())

			small := emu.NewMemory(4096)
			Expect(prog.CopyInto(small)).To(MatchError(emu.ErrOutOfBounds))
			Expect(small.Read32(0xF00)).To(BeZero())
		})
	})
})
