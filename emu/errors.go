package emu

import "errors"

var (
	// ErrUnsupportedCondition is reported when a conditional branch carries
	// a condition code outside the supported table. The branch is not taken.
	ErrUnsupportedCondition = errors.New("unsupported condition code")

	// ErrUnknownInstruction is returned by the emulator when it fetches a
	// word the decoder cannot classify.
	ErrUnknownInstruction = errors.New("unknown instruction")

	// ErrMaxInstructions is returned when the instruction budget runs out.
	ErrMaxInstructions = errors.New("max instructions reached")

	// ErrOutOfBounds is returned by strict memory loads that do not fit.
	ErrOutOfBounds = errors.New("address range out of bounds")
)
