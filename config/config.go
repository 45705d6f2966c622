// Package config holds the settings of one simulation session and reads and
// writes them as JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sarchlab/a64core/cache"
	"github.com/sarchlab/a64core/emu"
)

// ErrInvalidSession is wrapped by every Validate failure.
var ErrInvalidSession = errors.New("invalid session config")

// Session holds the settings for one run of the simulator.
type Session struct {
	// MemorySize is the capacity of the flat memory in bytes.
	// Default: 1MB.
	MemorySize uint64 `json:"memory_size"`

	// EntryPoint is where raw images are placed and where execution starts
	// for them. ELF programs carry their own entry point. Default: 0x1000.
	EntryPoint uint64 `json:"entry_point"`

	// StackPointer is the initial SP. Zero means the top of memory.
	StackPointer uint64 `json:"stack_pointer"`

	// MaxInstructions bounds a run. Zero means no limit.
	MaxInstructions uint64 `json:"max_instructions"`

	// SkipUnknown steps over unclassifiable words instead of halting.
	SkipUnknown bool `json:"skip_unknown"`

	// LogLevel is one of debug, info, warn or error. Default: info.
	LogLevel string `json:"log_level"`

	// Cache, when set, puts a data cache between the core and memory.
	Cache *cache.Config `json:"cache,omitempty"`
}

// DefaultSession returns a Session with default values.
func DefaultSession() *Session {
	return &Session{
		MemorySize: emu.DefaultMemorySize,
		EntryPoint: 0x1000,
		LogLevel:   "info",
	}
}

// Load loads a Session from a JSON file. Fields missing from the file keep
// their default values.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session config file: %w", err)
	}

	session := DefaultSession()
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to parse session config: %w", err)
	}

	return session, nil
}

// Save writes a Session to a JSON file.
func (s *Session) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session config file: %w", err)
	}

	return nil
}

// Validate checks that the session describes a runnable machine.
func (s *Session) Validate() error {
	if s.MemorySize == 0 {
		return fmt.Errorf("%w: memory_size must be > 0", ErrInvalidSession)
	}
	if s.EntryPoint%4 != 0 {
		return fmt.Errorf("%w: entry_point 0x%x is not 4-byte aligned", ErrInvalidSession, s.EntryPoint)
	}
	if s.EntryPoint >= s.MemorySize {
		return fmt.Errorf("%w: entry_point 0x%x is outside memory", ErrInvalidSession, s.EntryPoint)
	}
	if s.StackPointer > s.MemorySize {
		return fmt.Errorf("%w: stack_pointer 0x%x is outside memory", ErrInvalidSession, s.StackPointer)
	}
	if s.StackPointer%16 != 0 {
		return fmt.Errorf("%w: stack_pointer 0x%x is not 16-byte aligned", ErrInvalidSession, s.StackPointer)
	}
	if _, err := s.SlogLevel(); err != nil {
		return err
	}
	if s.Cache != nil {
		if err := s.Cache.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSession, err)
		}
	}
	return nil
}

// InitialSP returns the configured stack pointer, or the 16-byte aligned top
// of memory when none is set.
func (s *Session) InitialSP() uint64 {
	if s.StackPointer != 0 {
		return s.StackPointer
	}
	return s.MemorySize &^ 0xF
}

// SlogLevel parses LogLevel. An empty level means info.
func (s *Session) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidSession, s.LogLevel)
	}
	return level, nil
}

// Clone returns a deep copy of the Session.
func (s *Session) Clone() *Session {
	clone := *s
	if s.Cache != nil {
		c := *s.Cache
		clone.Cache = &c
	}
	return &clone
}
