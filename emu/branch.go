package emu

import "github.com/sarchlab/a64core/insts"

// BranchUnit implements AArch64 PC-relative branches.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// B performs an unconditional branch (PC-relative).
// The offset is in bytes and is added to the current PC.
func (b *BranchUnit) B(offset int64) {
	b.regFile.PC = uint64(int64(b.regFile.PC) + offset)
}

// BCond performs a conditional branch based on the PSTATE flags.
// If the condition holds, branches to PC + offset; otherwise, PC is unchanged.
// It returns whether the branch was taken and whether the condition code
// was supported.
func (b *BranchUnit) BCond(offset int64, cond insts.Cond) (taken, ok bool) {
	taken, ok = ConditionHolds(cond, b.regFile.PSTATE)
	if taken {
		b.B(offset)
	}
	return taken, ok
}

// ConditionHolds evaluates a condition code against a set of flags.
// Codes outside EQ..AL are unsupported: they report ok == false and never
// hold.
func ConditionHolds(cond insts.Cond, pstate PSTATE) (holds, ok bool) {
	switch cond {
	case insts.CondEQ:
		return pstate.Z, true
	case insts.CondNE:
		return !pstate.Z, true
	case insts.CondCS:
		return pstate.C, true
	case insts.CondCC:
		return !pstate.C, true
	case insts.CondMI:
		return pstate.N, true
	case insts.CondPL:
		return !pstate.N, true
	case insts.CondVS:
		return pstate.V, true
	case insts.CondVC:
		return !pstate.V, true
	case insts.CondHI:
		return pstate.C && !pstate.Z, true
	case insts.CondLS:
		return !pstate.C || pstate.Z, true
	case insts.CondGE:
		return pstate.N == pstate.V, true
	case insts.CondLT:
		return pstate.N != pstate.V, true
	case insts.CondGT:
		return !pstate.Z && (pstate.N == pstate.V), true
	case insts.CondLE:
		return pstate.Z || (pstate.N != pstate.V), true
	case insts.CondAL:
		return true, true
	default:
		return false, false
	}
}
