package emu

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/a64core/insts"
)

// Executor applies decoded instructions to a register file and memory.
// It holds no machine state, so one Executor can serve any number of
// independent sessions.
type Executor struct {
	logger *slog.Logger
	hook   func(error)
}

// ExecutorOption is a functional option for configuring the Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithDiagnosticHook sets a function that receives every non-fatal
// diagnostic, such as an unsupported condition code.
func WithDiagnosticHook(hook func(error)) ExecutorOption {
	return func(e *Executor) {
		e.hook = hook
	}
}

// NewExecutor creates a new Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Execute applies inst to the machine state using a default Executor.
func Execute(inst insts.Instruction, regs *RegFile, mem DataPort) bool {
	return NewExecutor().Execute(inst, regs, mem)
}

// Execute applies inst to regs and mem. It returns true when the
// instruction redirected the PC (a taken branch); otherwise the PC is left
// untouched and advancing it is the caller's job. Unknown instructions are
// no-ops.
func (e *Executor) Execute(inst insts.Instruction, regs *RegFile, mem DataPort) bool {
	switch inst := inst.(type) {
	case insts.ArithImmediate:
		e.executeArithImm(inst, regs)
	case insts.ArithRegister:
		e.executeArithReg(inst, regs)
	case insts.LoadStore:
		NewLoadStoreUnit(regs, mem).Execute(inst)
	case insts.BranchUnconditional:
		NewBranchUnit(regs).B(inst.Offset)
		return true
	case insts.BranchConditional:
		return e.executeBranchCond(inst, regs)
	case insts.Unknown, nil:
	}
	return false
}

// executeArithImm executes ADD/SUB/CMP immediate.
func (e *Executor) executeArithImm(inst insts.ArithImmediate, regs *RegFile) {
	alu := NewALU(regs)
	imm := uint64(int64(inst.Imm))

	if inst.Is64Bit {
		alu.AddSub64(inst.Op, inst.Rd, regs.ReadGeneral(inst.Rn), imm, inst.SetFlags)
	} else {
		alu.AddSub32(inst.Op, inst.Rd, regs.ReadGeneral32(inst.Rn), uint32(imm), inst.SetFlags)
	}
}

// executeArithReg executes ADD/SUB/CMP shifted register.
func (e *Executor) executeArithReg(inst insts.ArithRegister, regs *RegFile) {
	alu := NewALU(regs)

	if inst.Is64Bit {
		op2 := applyShift64(regs.ReadGeneral(inst.Rm), inst.Shift, inst.ShiftAmount)
		alu.AddSub64(inst.Op, inst.Rd, regs.ReadGeneral(inst.Rn), op2, inst.SetFlags)
	} else {
		op2 := applyShift32(regs.ReadGeneral32(inst.Rm), inst.Shift, inst.ShiftAmount)
		alu.AddSub32(inst.Op, inst.Rd, regs.ReadGeneral32(inst.Rn), op2, inst.SetFlags)
	}
}

// executeBranchCond executes B.cond, reporting unsupported codes.
func (e *Executor) executeBranchCond(inst insts.BranchConditional, regs *RegFile) bool {
	taken, ok := NewBranchUnit(regs).BCond(inst.Offset, inst.Cond)
	if !ok {
		e.report(fmt.Errorf("%w: %s at PC=0x%X", ErrUnsupportedCondition, inst.Cond, regs.PC))
	}
	return taken
}

// report surfaces a non-fatal diagnostic.
func (e *Executor) report(err error) {
	e.logger.Warn("branch not taken", "err", err)
	if e.hook != nil {
		e.hook(err)
	}
}
