// Package insts provides AArch64 instruction definitions and decoding.
package insts

import "fmt"

// Op selects the arithmetic operation of an add/sub instruction.
type Op uint8

// Arithmetic operations.
const (
	OpADD Op = iota
	OpSUB
)

func (o Op) String() string {
	if o == OpSUB {
		return "SUB"
	}
	return "ADD"
}

// AddrMode is the addressing mode of a load/store.
type AddrMode uint8

// Addressing modes.
const (
	AddrOffset    AddrMode = iota // [Xn, #imm], no writeback
	AddrPreIndex                  // [Xn, #imm]!, writeback before access
	AddrPostIndex                 // [Xn], #imm, writeback after access
)

func (m AddrMode) String() string {
	switch m {
	case AddrPreIndex:
		return "PreIndex"
	case AddrPostIndex:
		return "PostIndex"
	default:
		return "Offset"
	}
}

// Cond represents an AArch64 condition code.
type Cond uint8

// AArch64 condition codes.
const (
	CondEQ Cond = 0b0000 // Equal (Z == 1)
	CondNE Cond = 0b0001 // Not Equal (Z == 0)
	CondCS Cond = 0b0010 // Carry Set / Unsigned higher or same (C == 1)
	CondCC Cond = 0b0011 // Carry Clear / Unsigned lower (C == 0)
	CondMI Cond = 0b0100 // Minus / Negative (N == 1)
	CondPL Cond = 0b0101 // Plus / Positive or zero (N == 0)
	CondVS Cond = 0b0110 // Overflow (V == 1)
	CondVC Cond = 0b0111 // No overflow (V == 0)
	CondHI Cond = 0b1000 // Unsigned higher (C == 1 && Z == 0)
	CondLS Cond = 0b1001 // Unsigned lower or same (C == 0 || Z == 1)
	CondGE Cond = 0b1010 // Signed greater than or equal (N == V)
	CondLT Cond = 0b1011 // Signed less than (N != V)
	CondGT Cond = 0b1100 // Signed greater than (Z == 0 && N == V)
	CondLE Cond = 0b1101 // Signed less than or equal (Z == 1 || N != V)
	CondAL Cond = 0b1110 // Always
	CondNV Cond = 0b1111 // Reserved, not supported
)

// Aliases used by assemblers.
const (
	CondHS = CondCS
	CondLO = CondCC
)

var condNames = [...]string{
	"EQ", "NE", "CS", "CC", "MI", "PL", "VS", "VC",
	"HI", "LS", "GE", "LT", "GT", "LE", "AL", "NV",
}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("Cond(%d)", uint8(c))
}

// ShiftType represents a shift applied to a register operand.
type ShiftType uint8

// Shift types. ROR is not valid for add/sub.
const (
	ShiftLSL ShiftType = 0b00
	ShiftLSR ShiftType = 0b01
	ShiftASR ShiftType = 0b10
)

func (s ShiftType) String() string {
	switch s {
	case ShiftLSR:
		return "LSR"
	case ShiftASR:
		return "ASR"
	default:
		return "LSL"
	}
}

// RegZR is the encoding index shared by XZR and SP.
const RegZR = 31

// SignExtend sign-extends the low bits of value to 64 bits.
func SignExtend(value uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(value<<shift) >> shift
}
