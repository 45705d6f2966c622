// Package emu provides functional AArch64 emulation.
package emu

// NumGeneralRegs is the number of general-purpose registers (X0-X30).
const NumGeneralRegs = 31

// RegFile represents the AArch64 register file.
// It contains 31 general-purpose registers (X0-X30),
// the stack pointer (SP), and the program counter (PC).
//
// Encoding index 31 names XZR when used as a data register and SP when used
// as a base register. Callers pick the accessor family that matches the
// operand's role: ReadGeneral/WriteGeneral or ReadAsBase/WriteAsBase.
type RegFile struct {
	// X holds general-purpose registers X0-X30.
	X [NumGeneralRegs]uint64

	// SP is the stack pointer.
	SP uint64

	// PC is the program counter.
	PC uint64

	// PSTATE holds the condition flags.
	PSTATE PSTATE
}

// PSTATE represents the processor condition flags.
type PSTATE struct {
	// N is the negative flag.
	N bool
	// Z is the zero flag.
	Z bool
	// C is the carry flag.
	C bool
	// V is the overflow flag.
	V bool
}

// ReadGeneral reads a register in a data role. Register 31 reads as 0 (XZR).
// Out-of-range indices also read as 0.
func (r *RegFile) ReadGeneral(reg uint8) uint64 {
	if reg >= NumGeneralRegs {
		return 0
	}
	return r.X[reg]
}

// WriteGeneral writes a register in a data role. Writes to register 31 are
// discarded.
func (r *RegFile) WriteGeneral(reg uint8, value uint64) {
	if reg >= NumGeneralRegs {
		return
	}
	r.X[reg] = value
}

// ReadAsBase reads a register in an addressing role, treating register 31
// as SP.
func (r *RegFile) ReadAsBase(reg uint8) uint64 {
	switch {
	case reg == NumGeneralRegs:
		return r.SP
	case reg > NumGeneralRegs:
		return 0
	}
	return r.X[reg]
}

// WriteAsBase writes a register in an addressing role, treating register 31
// as SP.
func (r *RegFile) WriteAsBase(reg uint8, value uint64) {
	switch {
	case reg == NumGeneralRegs:
		r.SP = value
	case reg < NumGeneralRegs:
		r.X[reg] = value
	}
}

// ReadGeneral32 reads the lower 32 bits of a register.
func (r *RegFile) ReadGeneral32(reg uint8) uint32 {
	return uint32(r.ReadGeneral(reg))
}

// WriteGeneral32 writes to the lower 32 bits and zero-extends.
func (r *RegFile) WriteGeneral32(reg uint8, value uint32) {
	r.WriteGeneral(reg, uint64(value))
}

// Reset zeroes every register and flag.
func (r *RegFile) Reset() {
	*r = RegFile{}
}
