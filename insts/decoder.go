package insts

// Decoder decodes AArch64 machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new AArch64 instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit instruction word. Words outside the supported
// subset decode to Unknown.
func Decode(word uint32) Instruction {
	return defaultDecoder.Decode(word)
}

var defaultDecoder = NewDecoder()

// Decode decodes a 32-bit instruction word. It never fails; unclassifiable
// encodings are returned as Unknown.
func (d *Decoder) Decode(word uint32) Instruction {
	switch {
	case d.isAddSubImm(word):
		return d.decodeAddSubImm(word)
	case d.isLoadStoreImm(word):
		return d.decodeLoadStoreImm(word)
	case d.isBranchGroup(word):
		return d.decodeBranch(word)
	case d.isAddSubReg(word):
		return d.decodeAddSubReg(word)
	default:
		return Unknown{Word: word}
	}
}

// isAddSubImm checks for Add/Sub (immediate): bits [28:23] == 0b100010.
func (d *Decoder) isAddSubImm(word uint32) bool {
	return (word>>23)&0x3F == 0b100010
}

// decodeAddSubImm decodes ADD/SUB/CMP immediate.
// Format: sf | op | S | 100010 | sh | imm12 | Rn | Rd
func (d *Decoder) decodeAddSubImm(word uint32) Instruction {
	sf := (word >> 31) & 0x1
	op := (word >> 30) & 0x1
	sh := (word >> 22) & 0x1
	imm12 := (word >> 10) & 0xFFF
	rn := (word >> 5) & 0x1F
	rd := word & 0x1F

	imm := int32(imm12)
	if sh == 1 {
		imm <<= 12
	}

	return ArithImmediate{
		Op:       Op(op),
		Rd:       uint8(rd),
		Rn:       uint8(rn),
		Imm:      imm,
		Is64Bit:  sf == 1,
		SetFlags: rd == RegZR,
	}
}

// isLoadStoreImm checks for general-purpose LDR/STR (immediate):
// bits [29:27] == 0b111, V (bit 26) == 0, bit 25 == 0.
func (d *Decoder) isLoadStoreImm(word uint32) bool {
	return (word>>27)&0x7 == 0b111 && (word>>25)&0x3 == 0
}

// decodeLoadStoreImm decodes LDR/STR with an unsigned 12-bit offset or a
// signed 9-bit offset with pre/post-index writeback.
// Unsigned: size | 111 | 0 | 01 | opc | imm12 | Rn | Rt
// Signed:   size | 111 | 0 | 00 | opc | 0 | imm9 | mode | Rn | Rt
func (d *Decoder) decodeLoadStoreImm(word uint32) Instruction {
	size := (word >> 30) & 0x3
	opc := (word >> 22) & 0x3
	rn := (word >> 5) & 0x1F
	rt := word & 0x1F

	// opc[1] selects the sign-extending loads, which are not modelled.
	if opc&0b10 != 0 {
		return Unknown{Word: word}
	}

	inst := LoadStore{
		Rt:      uint8(rt),
		Rn:      uint8(rn),
		IsLoad:  opc&0b01 == 1,
		Size:    1 << size,
		Is64Bit: size == 0b11,
	}

	if (word>>24)&0x1 == 1 {
		imm12 := (word >> 10) & 0xFFF
		inst.Imm = int16(imm12 << size)
		inst.Mode = AddrOffset
		return inst
	}

	// Bit 21 set is the register-offset form.
	if (word>>21)&0x1 == 1 {
		return Unknown{Word: word}
	}

	imm9 := (word >> 12) & 0x1FF
	inst.Imm = int16(SignExtend(uint64(imm9), 9))

	switch (word >> 10) & 0x3 {
	case 0b01:
		inst.Mode = AddrPostIndex
	case 0b11:
		inst.Mode = AddrPreIndex
	default:
		inst.Mode = AddrOffset
	}

	return inst
}

// isBranchGroup checks for the branch/exception/system group:
// bits [28:26] == 0b101.
func (d *Decoder) isBranchGroup(word uint32) bool {
	return (word>>26)&0x7 == 0b101
}

// decodeBranch splits the branch group into B and B.cond. BL, register
// branches, compare/test branches and system instructions are Unknown.
func (d *Decoder) decodeBranch(word uint32) Instruction {
	// B: 000101 | imm26
	if word>>26 == 0b000101 {
		imm26 := word & 0x3FFFFFF
		return BranchUnconditional{
			Offset: SignExtend(uint64(imm26), 26) * 4,
		}
	}

	// B.cond: 01010100 | imm19 | 0 | cond
	if word>>24 == 0b01010100 && (word>>4)&0x1 == 0 {
		imm19 := (word >> 5) & 0x7FFFF
		return BranchConditional{
			Offset: SignExtend(uint64(imm19), 19) * 4,
			Cond:   Cond(word & 0xF),
		}
	}

	return Unknown{Word: word}
}

// isAddSubReg checks for Add/Sub (shifted register):
// bits [28:24] == 0b01011 and bit 21 == 0.
func (d *Decoder) isAddSubReg(word uint32) bool {
	return (word>>24)&0x1F == 0b01011 && (word>>21)&0x1 == 0
}

// decodeAddSubReg decodes ADD/SUB/CMP shifted register.
// Format: sf | op | S | 01011 | shift | 0 | Rm | imm6 | Rn | Rd
func (d *Decoder) decodeAddSubReg(word uint32) Instruction {
	sf := (word >> 31) & 0x1
	op := (word >> 30) & 0x1
	shift := (word >> 22) & 0x3
	rm := (word >> 16) & 0x1F
	imm6 := (word >> 10) & 0x3F
	rn := (word >> 5) & 0x1F
	rd := word & 0x1F

	// ROR is reserved, and 32-bit forms only allow shifts below 32.
	if shift == 0b11 || (sf == 0 && imm6 >= 32) {
		return Unknown{Word: word}
	}

	return ArithRegister{
		Op:          Op(op),
		Rd:          uint8(rd),
		Rn:          uint8(rn),
		Rm:          uint8(rm),
		Shift:       ShiftType(shift),
		ShiftAmount: uint8(imm6),
		Is64Bit:     sf == 1,
		SetFlags:    rd == RegZR,
	}
}
