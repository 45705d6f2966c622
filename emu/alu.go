package emu

import "github.com/sarchlab/a64core/insts"

// ALU implements AArch64 add/sub arithmetic and NZC flag generation.
//
// The overflow flag is never written: signed overflow is outside the
// modelled subset, so V keeps whatever value it had.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// AddSub64 computes Xd = op1 +/- op2 and optionally sets flags.
func (a *ALU) AddSub64(op insts.Op, rd uint8, op1, op2 uint64, setFlags bool) {
	var result uint64
	if op == insts.OpSUB {
		result = op1 - op2
	} else {
		result = op1 + op2
	}

	a.regFile.WriteGeneral(rd, result)

	if !setFlags {
		return
	}
	if op == insts.OpSUB {
		a.setSubFlags64(op1, op2, result)
	} else {
		a.setAddFlags64(op1, result)
	}
}

// AddSub32 computes Wd = op1 +/- op2 (zero-extended) and optionally sets
// flags from the 32-bit result.
func (a *ALU) AddSub32(op insts.Op, rd uint8, op1, op2 uint32, setFlags bool) {
	var result uint32
	if op == insts.OpSUB {
		result = op1 - op2
	} else {
		result = op1 + op2
	}

	a.regFile.WriteGeneral32(rd, result)

	if !setFlags {
		return
	}
	if op == insts.OpSUB {
		a.setSubFlags32(op1, op2, result)
	} else {
		a.setAddFlags32(op1, result)
	}
}

// setAddFlags64 sets NZC for 64-bit addition.
func (a *ALU) setAddFlags64(op1, result uint64) {
	a.regFile.PSTATE.N = (result >> 63) == 1
	a.regFile.PSTATE.Z = result == 0
	// Unsigned carry out.
	a.regFile.PSTATE.C = result < op1
}

// setAddFlags32 sets NZC for 32-bit addition.
func (a *ALU) setAddFlags32(op1, result uint32) {
	a.regFile.PSTATE.N = (result >> 31) == 1
	a.regFile.PSTATE.Z = result == 0
	a.regFile.PSTATE.C = result < op1
}

// setSubFlags64 sets NZC for 64-bit subtraction.
func (a *ALU) setSubFlags64(op1, op2, result uint64) {
	a.regFile.PSTATE.N = (result >> 63) == 1
	a.regFile.PSTATE.Z = result == 0
	// C is set when no borrow occurred.
	a.regFile.PSTATE.C = op1 >= op2
}

// setSubFlags32 sets NZC for 32-bit subtraction.
func (a *ALU) setSubFlags32(op1, op2, result uint32) {
	a.regFile.PSTATE.N = (result >> 31) == 1
	a.regFile.PSTATE.Z = result == 0
	a.regFile.PSTATE.C = op1 >= op2
}

// applyShift64 applies a shift operation to a 64-bit value.
func applyShift64(value uint64, shiftType insts.ShiftType, amount uint8) uint64 {
	if amount == 0 {
		return value
	}
	switch shiftType {
	case insts.ShiftLSL:
		return value << amount
	case insts.ShiftLSR:
		return value >> amount
	case insts.ShiftASR:
		return uint64(int64(value) >> amount)
	default:
		return value
	}
}

// applyShift32 applies a shift operation to a 32-bit value.
func applyShift32(value uint32, shiftType insts.ShiftType, amount uint8) uint32 {
	if amount == 0 {
		return value
	}
	switch shiftType {
	case insts.ShiftLSL:
		return value << amount
	case insts.ShiftLSR:
		return value >> amount
	case insts.ShiftASR:
		return uint32(int32(value) >> amount)
	default:
		return value
	}
}
