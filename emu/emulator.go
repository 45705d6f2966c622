package emu

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sarchlab/a64core/insts"
)

// DefaultMemorySize is the memory capacity used when none is configured.
const DefaultMemorySize = 1 << 20

// haltWord is UDF #0, the all-zero word. Fetching it ends a run cleanly.
const haltWord = 0x00000000

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Halted is true if the program reached a halt (UDF #0) or a fault.
	Halted bool

	// Inst is the decoded instruction.
	Inst insts.Instruction

	// Err is set if the step faulted.
	Err error
}

// Emulator is a fetch/decode/execute driver around the Executor. It owns a
// RegFile and a Memory and advances the PC by 4 after every instruction
// that does not redirect it.
type Emulator struct {
	regFile  *RegFile
	memory   *Memory
	dataPort DataPort
	decoder  *insts.Decoder
	executor *Executor
	logger   *slog.Logger

	// Execution state
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
	skipUnknown      bool
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithMemory sets the memory the emulator fetches from and executes on.
func WithMemory(memory *Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = memory
	}
}

// WithMemorySize creates a fresh memory of the given capacity.
func WithMemorySize(capacity uint64) EmulatorOption {
	return func(e *Emulator) {
		e.memory = NewMemory(capacity)
	}
}

// WithDataPort routes loads and stores through port instead of directly to
// memory, for example a cache. Instruction fetch always reads memory.
func WithDataPort(port DataPort) EmulatorOption {
	return func(e *Emulator) {
		e.dataPort = port
	}
}

// WithStackPointer sets the initial stack pointer value.
func WithStackPointer(sp uint64) EmulatorOption {
	return func(e *Emulator) {
		e.regFile.SP = sp
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithSkipUnknown makes the emulator step over unknown instructions
// instead of halting on them.
func WithSkipUnknown(skip bool) EmulatorOption {
	return func(e *Emulator) {
		e.skipUnknown = skip
	}
}

// WithEmulatorLogger sets the logger for traces and diagnostics.
func WithEmulatorLogger(logger *slog.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// NewEmulator creates a new AArch64 emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile: &RegFile{},
		decoder: insts.NewDecoder(),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.memory == nil {
		e.memory = NewMemory(DefaultMemorySize)
	}
	if e.dataPort == nil {
		e.dataPort = e.memory
	}
	e.executor = NewExecutor(WithLogger(e.logger))

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// LoadProgram copies program into memory at entry and sets the PC.
func (e *Emulator) LoadProgram(entry uint64, program []byte) error {
	if err := e.memory.LoadBytes(entry, program); err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}
	e.regFile.PC = entry
	return nil
}

// Reset clears registers, memory and the instruction count. A data port
// with its own Reset method, such as a cache, is reset too.
func (e *Emulator) Reset() {
	e.regFile.Reset()
	e.memory.Reset()
	if r, ok := e.dataPort.(interface{ Reset() }); ok {
		r.Reset()
	}
	e.instructionCount = 0
}

// Step executes a single instruction.
func (e *Emulator) Step() StepResult {
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{
			Halted: true,
			Err:    fmt.Errorf("%w: %d", ErrMaxInstructions, e.maxInstructions),
		}
	}

	pc := e.regFile.PC
	word := e.memory.Read32(pc)
	inst := e.decoder.Decode(word)
	e.trace(pc, word, inst)

	if _, ok := inst.(insts.Unknown); ok {
		return e.handleUnknown(pc, word, inst)
	}

	if !e.executor.Execute(inst, e.regFile, e.dataPort) {
		e.regFile.PC += 4
	}
	e.instructionCount++

	return StepResult{Inst: inst}
}

// handleUnknown halts or skips an unclassifiable word.
func (e *Emulator) handleUnknown(pc uint64, word uint32, inst insts.Instruction) StepResult {
	if word == haltWord {
		return StepResult{Halted: true, Inst: inst}
	}

	err := fmt.Errorf("%w: 0x%08X at PC=0x%X", ErrUnknownInstruction, word, pc)
	if !e.skipUnknown {
		return StepResult{Halted: true, Inst: inst, Err: err}
	}

	e.logger.Warn("skipping instruction", "err", err)
	e.regFile.PC += 4
	e.instructionCount++
	return StepResult{Inst: inst}
}

// Run executes instructions until the program halts, faults, or ctx is
// done. It returns the number of instructions executed by this call.
func (e *Emulator) Run(ctx context.Context) (uint64, error) {
	start := e.instructionCount
	for {
		if err := ctx.Err(); err != nil {
			return e.instructionCount - start, err
		}

		result := e.Step()
		if result.Halted {
			return e.instructionCount - start, result.Err
		}
	}
}
