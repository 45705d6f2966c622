package insts

import "fmt"

// Instruction is a decoded AArch64 instruction. The concrete type names the
// instruction family and carries only the fields that family needs:
// ArithImmediate, ArithRegister, LoadStore, BranchUnconditional,
// BranchConditional or Unknown.
type Instruction interface {
	fmt.Stringer
	isInstruction()
}

// ArithImmediate is ADD/SUB (immediate). CMP is SUB with Rd == 31.
type ArithImmediate struct {
	Op       Op
	Rd       uint8
	Rn       uint8
	Imm      int32 // zero-extended imm12, shifted by 12 when sh is set
	Is64Bit  bool
	SetFlags bool // derived: Rd == 31
}

// ArithRegister is ADD/SUB (shifted register). CMP is SUB with Rd == 31.
type ArithRegister struct {
	Op          Op
	Rd          uint8
	Rn          uint8
	Rm          uint8
	Shift       ShiftType
	ShiftAmount uint8
	Is64Bit     bool
	SetFlags    bool // derived: Rd == 31
}

// LoadStore is LDR/STR (immediate).
type LoadStore struct {
	Rt     uint8 // transfer register
	Rn     uint8 // base register, 31 means SP
	Imm    int16 // byte offset
	Mode   AddrMode
	IsLoad bool

	// Size is the access width in bytes. Zero means a full doubleword.
	Size    uint8
	Is64Bit bool
}

// AccessSize returns the number of bytes transferred.
func (ls LoadStore) AccessSize() uint8 {
	if ls.Size != 0 {
		return ls.Size
	}
	return 8
}

// BranchUnconditional is B (immediate).
type BranchUnconditional struct {
	Offset int64 // bytes, relative to the branch
}

// BranchConditional is B.cond.
type BranchConditional struct {
	Offset int64 // bytes, relative to the branch
	Cond   Cond
}

// Unknown is a word the decoder could not classify.
type Unknown struct {
	Word uint32
}

func (ArithImmediate) isInstruction()      {}
func (ArithRegister) isInstruction()       {}
func (LoadStore) isInstruction()           {}
func (BranchUnconditional) isInstruction() {}
func (BranchConditional) isInstruction()   {}
func (Unknown) isInstruction()             {}

func regName(r uint8, is64Bit bool, sp bool) string {
	switch {
	case r == RegZR && sp:
		return "SP"
	case r == RegZR && is64Bit:
		return "XZR"
	case r == RegZR:
		return "WZR"
	case is64Bit:
		return fmt.Sprintf("X%d", r)
	default:
		return fmt.Sprintf("W%d", r)
	}
}

func (i ArithImmediate) String() string {
	return fmt.Sprintf("%s %s, %s, #%d (flags=%t)", i.Op,
		regName(i.Rd, i.Is64Bit, false), regName(i.Rn, i.Is64Bit, false),
		i.Imm, i.SetFlags)
}

func (i ArithRegister) String() string {
	s := fmt.Sprintf("%s %s, %s, %s", i.Op,
		regName(i.Rd, i.Is64Bit, false), regName(i.Rn, i.Is64Bit, false),
		regName(i.Rm, i.Is64Bit, false))
	if i.ShiftAmount != 0 {
		s += fmt.Sprintf(", %s #%d", i.Shift, i.ShiftAmount)
	}
	return s + fmt.Sprintf(" (flags=%t)", i.SetFlags)
}

func (i LoadStore) String() string {
	name := "STR"
	if i.IsLoad {
		name = "LDR"
	}
	return fmt.Sprintf("%s %s, [%s] #%d %s size=%d", name,
		regName(i.Rt, i.AccessSize() == 8, false), regName(i.Rn, true, true),
		i.Imm, i.Mode, i.AccessSize())
}

func (i BranchUnconditional) String() string {
	return fmt.Sprintf("B %+d", i.Offset)
}

func (i BranchConditional) String() string {
	return fmt.Sprintf("B.%s %+d", i.Cond, i.Offset)
}

func (i Unknown) String() string {
	return fmt.Sprintf("UNKNOWN 0x%08X", i.Word)
}
