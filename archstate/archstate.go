// Package archstate captures the architectural state of a RegFile as JSON
// and compares it against an expected state file.
package archstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/sarchlab/a64core/emu"
)

// ErrMismatch is returned by Check when the actual state differs from the
// expected one.
var ErrMismatch = errors.New("architectural state mismatch")

// State is a JSON-friendly view of the registers and flags. Register values
// are hex strings so 64-bit values survive any JSON tooling.
//
// An expected State may list only some registers and flags; keys it omits
// are not compared.
type State struct {
	Registers map[string]string `json:"registers"`
	Flags     map[string]bool   `json:"flags"`
}

// Capture records every register and flag of regs.
func Capture(regs *emu.RegFile) State {
	s := State{
		Registers: make(map[string]string, emu.NumGeneralRegs+2),
		Flags: map[string]bool{
			"n": regs.PSTATE.N,
			"z": regs.PSTATE.Z,
			"c": regs.PSTATE.C,
			"v": regs.PSTATE.V,
		},
	}
	for i := uint8(0); i < emu.NumGeneralRegs; i++ {
		s.Registers["x"+strconv.Itoa(int(i))] = hex(regs.ReadGeneral(i))
	}
	s.Registers["sp"] = hex(regs.SP)
	s.Registers["pc"] = hex(regs.PC)
	return s
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%016x", v)
}

// Load reads a State from a JSON file and normalizes register values.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to parse state file: %w", err)
	}

	for name, text := range s.Registers {
		v, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return State{}, fmt.Errorf("register %s: invalid value %q: %w", name, text, err)
		}
		s.Registers[name] = hex(v)
	}
	return s, nil
}

// Save writes s to a JSON file.
func (s State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// restrict keeps only the keys that expected names.
func (s State) restrict(expected State) State {
	out := State{
		Registers: map[string]string{},
		Flags:     map[string]bool{},
	}
	for name := range expected.Registers {
		if v, ok := s.Registers[name]; ok {
			out.Registers[name] = v
		}
	}
	for name := range expected.Flags {
		if v, ok := s.Flags[name]; ok {
			out.Flags[name] = v
		}
	}
	return out
}

// Check compares actual against expected. On a mismatch it returns an ASCII
// diff (expected on the left) and an error wrapping ErrMismatch.
func Check(expected, actual State) (string, error) {
	actual = actual.restrict(expected)
	if expected.Registers == nil {
		expected.Registers = map[string]string{}
	}
	if expected.Flags == nil {
		expected.Flags = map[string]bool{}
	}

	expJSON, err := json.Marshal(expected)
	if err != nil {
		return "", fmt.Errorf("failed to serialize expected state: %w", err)
	}
	actJSON, err := json.Marshal(actual)
	if err != nil {
		return "", fmt.Errorf("failed to serialize actual state: %w", err)
	}

	delta, err := gojsondiff.New().Compare(expJSON, actJSON)
	if err != nil {
		return "", fmt.Errorf("failed to diff states: %w", err)
	}
	if !delta.Modified() {
		return "", nil
	}

	var left interface{}
	if err := json.Unmarshal(expJSON, &left); err != nil {
		return "", fmt.Errorf("failed to decode expected state: %w", err)
	}

	text, err := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{}).Format(delta)
	if err != nil {
		return "", fmt.Errorf("failed to format state diff: %w", err)
	}
	return text, ErrMismatch
}
