package emu

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/sarchlab/a64core/insts"
)

// Disassemble renders word in GNU syntax, or "?" if the word is not a valid
// AArch64 encoding.
func Disassemble(word uint32) string {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], word)

	inst, err := arm64asm.Decode(buf[:])
	if err != nil {
		return "?"
	}
	return arm64asm.GNUSyntax(inst)
}

// trace logs one fetched instruction at debug level.
func (e *Emulator) trace(pc uint64, word uint32, inst insts.Instruction) {
	if !e.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	e.logger.Debug("step",
		slog.Uint64("pc", pc),
		slog.String("word", fmt.Sprintf("0x%08X", word)),
		slog.String("asm", Disassemble(word)),
		slog.String("decoded", inst.String()),
	)
}
