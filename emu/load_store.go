package emu

import "github.com/sarchlab/a64core/insts"

// LoadStoreUnit implements AArch64 LDR/STR with immediate offsets.
type LoadStoreUnit struct {
	regFile *RegFile
	memory  DataPort
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and memory.
func NewLoadStoreUnit(regFile *RegFile, memory DataPort) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		memory:  memory,
	}
}

// Execute performs one load or store, including base-register writeback.
//
// The base is read with SP semantics for register 31. Pre-index writes the
// new address back before the access; post-index accesses the unmodified
// base and writes base+imm back afterwards.
func (lsu *LoadStoreUnit) Execute(inst insts.LoadStore) {
	base := lsu.regFile.ReadAsBase(inst.Rn)
	offset := uint64(int64(inst.Imm))

	// Store data is sampled before writeback so STR Xn, [Xn, #imm]! stores
	// the old value.
	var data uint64
	if !inst.IsLoad {
		data = lsu.storeValue(inst.Rt)
	}

	addr := base
	switch inst.Mode {
	case insts.AddrOffset:
		addr = base + offset
	case insts.AddrPreIndex:
		addr = base + offset
		lsu.regFile.WriteAsBase(inst.Rn, addr)
	}

	size := inst.AccessSize()
	if inst.IsLoad {
		lsu.regFile.WriteGeneral(inst.Rt, lsu.load(addr, size))
	} else {
		lsu.store(addr, size, data)
	}

	if inst.Mode == insts.AddrPostIndex {
		lsu.regFile.WriteAsBase(inst.Rn, base+offset)
	}
}

// storeValue reads the register being stored. Register 31 as the transfer
// register stores SP.
func (lsu *LoadStoreUnit) storeValue(rt uint8) uint64 {
	if rt == insts.RegZR {
		return lsu.regFile.ReadAsBase(rt)
	}
	return lsu.regFile.ReadGeneral(rt)
}

// load reads size bytes at addr, zero-extended to 64 bits.
func (lsu *LoadStoreUnit) load(addr uint64, size uint8) uint64 {
	switch size {
	case 1:
		return uint64(lsu.memory.Read8(addr))
	case 2:
		return uint64(lsu.memory.Read16(addr))
	case 4:
		return uint64(lsu.memory.Read32(addr))
	default:
		return lsu.memory.Read64(addr)
	}
}

// store writes the low size bytes of value at addr.
func (lsu *LoadStoreUnit) store(addr uint64, size uint8, value uint64) {
	switch size {
	case 1:
		lsu.memory.Write8(addr, uint8(value))
	case 2:
		lsu.memory.Write16(addr, uint16(value))
	case 4:
		lsu.memory.Write32(addr, uint32(value))
	default:
		lsu.memory.Write64(addr, value)
	}
}
