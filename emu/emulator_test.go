package emu_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/a64core/emu"
	"github.com/sarchlab/a64core/insts"
)

const programBase = 0x1000

func assemble(words ...uint32) []byte {
	program := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(program[4*i:], w)
	}
	return program
}

var _ = Describe("Emulator", func() {
	var (
		e      *emu.Emulator
		logBuf *bytes.Buffer
	)

	newEmulator := func(opts ...emu.EmulatorOption) *emu.Emulator {
		logger := slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append([]emu.EmulatorOption{
			emu.WithMemorySize(64 * 1024),
			emu.WithEmulatorLogger(logger),
		}, opts...)
		return emu.NewEmulator(opts...)
	}

	BeforeEach(func() {
		logBuf = &bytes.Buffer{}
		e = newEmulator()
	})

	It("should default to a fresh memory", func() {
		Expect(emu.NewEmulator().Memory().Capacity()).To(Equal(uint64(emu.DefaultMemorySize)))
	})

	It("should run a countdown loop to the halt word", func() {
		Expect(e.LoadProgram(programBase, assemble(
			0x91000FE0, // ADD X0, XZR, #3
			0xD1000400, // SUB X0, X0, #1
			0x91000821, // ADD X1, X1, #2
			0xF100001F, // CMP X0, #0
			0x54FFFFA1, // B.NE -12
			0x00000000, // halt
		))).To(Succeed())

		count, err := e.Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(uint64(13)))
		Expect(e.InstructionCount()).To(Equal(uint64(13)))
		Expect(e.RegFile().ReadGeneral(0)).To(Equal(uint64(0)))
		Expect(e.RegFile().ReadGeneral(1)).To(Equal(uint64(6)))
		Expect(e.RegFile().PC).To(Equal(uint64(0x1014)))
	})

	It("should push and pop through SP", func() {
		e = newEmulator(emu.WithStackPointer(0x8000))
		Expect(e.LoadProgram(programBase, assemble(
			0x91001FE1, // ADD X1, XZR, #7
			0xF81F0FE1, // STR X1, [SP, #-16]!
			0xF84107E2, // LDR X2, [SP], #16
			0x00000000,
		))).To(Succeed())

		count, err := e.Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(uint64(3)))
		Expect(e.RegFile().ReadGeneral(2)).To(Equal(uint64(7)))
		Expect(e.RegFile().SP).To(Equal(uint64(0x8000)))
		Expect(e.Memory().Read64(0x7FF0)).To(Equal(uint64(7)))
	})

	Describe("Step", func() {
		It("should advance the PC by 4 after a non-branch", func() {
			Expect(e.LoadProgram(programBase, assemble(0x91001420))).To(Succeed())

			result := e.Step()

			Expect(result.Halted).To(BeFalse())
			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Inst).To(BeAssignableToTypeOf(insts.ArithImmediate{}))
			Expect(e.RegFile().PC).To(Equal(uint64(programBase + 4)))
		})

		It("should not add 4 after a taken branch", func() {
			Expect(e.LoadProgram(programBase, assemble(0x14000004))).To(Succeed()) // B #16

			e.Step()

			Expect(e.RegFile().PC).To(Equal(uint64(programBase + 16)))
		})

		It("should trace decoded instructions at debug level", func() {
			Expect(e.LoadProgram(programBase, assemble(0x91001420))).To(Succeed())

			e.Step()

			Expect(logBuf.String()).To(ContainSubstring("msg=step"))
			Expect(logBuf.String()).To(ContainSubstring("0x91001420"))
		})
	})

	Describe("unknown instructions", func() {
		program := assemble(
			0x8A020020, // AND X0, X1, X2
			0x91000FE0, // ADD X0, XZR, #3
			0x00000000,
		)

		It("should halt with an error by default", func() {
			Expect(e.LoadProgram(programBase, program)).To(Succeed())

			count, err := e.Run(context.Background())

			Expect(err).To(MatchError(emu.ErrUnknownInstruction))
			Expect(count).To(Equal(uint64(0)))
			Expect(e.RegFile().PC).To(Equal(uint64(programBase)))
		})

		It("should step over them when skipping", func() {
			e = newEmulator(emu.WithSkipUnknown(true))
			Expect(e.LoadProgram(programBase, program)).To(Succeed())

			count, err := e.Run(context.Background())

			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(uint64(2)))
			Expect(e.RegFile().ReadGeneral(0)).To(Equal(uint64(3)))
			Expect(logBuf.String()).To(ContainSubstring("skipping instruction"))
		})
	})

	It("should stop at the instruction budget", func() {
		e = newEmulator(emu.WithMaxInstructions(5))
		Expect(e.LoadProgram(programBase, assemble(0x14000000))).To(Succeed()) // B .

		count, err := e.Run(context.Background())

		Expect(err).To(MatchError(emu.ErrMaxInstructions))
		Expect(count).To(Equal(uint64(5)))
		Expect(e.RegFile().PC).To(Equal(uint64(programBase)))
	})

	It("should stop when the context is cancelled", func() {
		Expect(e.LoadProgram(programBase, assemble(0x14000000))).To(Succeed())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		count, err := e.Run(ctx)

		Expect(err).To(MatchError(context.Canceled))
		Expect(count).To(Equal(uint64(0)))
	})

	It("should reject a program that does not fit", func() {
		e = newEmulator(emu.WithMemorySize(16))

		err := e.LoadProgram(8, assemble(1, 2, 3, 4))

		Expect(err).To(MatchError(emu.ErrOutOfBounds))
		Expect(e.RegFile().PC).To(Equal(uint64(0)))
	})

	It("should route data accesses through a custom port", func() {
		port := emu.NewMemory(64 * 1024)
		e = newEmulator(emu.WithDataPort(port), emu.WithStackPointer(0x100))
		Expect(e.LoadProgram(programBase, assemble(
			0x91001FE1, // ADD X1, XZR, #7
			0xF81F0FE1, // STR X1, [SP, #-16]!
			0x00000000,
		))).To(Succeed())

		_, err := e.Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(port.Read64(0xF0)).To(Equal(uint64(7)))
		Expect(e.Memory().Read64(0xF0)).To(Equal(uint64(0)))
	})

	It("should reset all state", func() {
		Expect(e.LoadProgram(programBase, assemble(0x91001420, 0))).To(Succeed())
		_, _ = e.Run(context.Background())

		e.Reset()

		Expect(e.InstructionCount()).To(Equal(uint64(0)))
		Expect(e.RegFile().PC).To(Equal(uint64(0)))
		Expect(e.Memory().Read32(programBase)).To(Equal(uint32(0)))
	})
})

var _ = Describe("Disassemble", func() {
	It("should render GNU syntax", func() {
		Expect(emu.Disassemble(0x91001420)).To(ContainSubstring("add"))
		Expect(emu.Disassemble(0xF84107E1)).To(ContainSubstring("ldr"))
	})
})
