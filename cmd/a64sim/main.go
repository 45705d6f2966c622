// Package main provides the a64sim command, which loads an AArch64 program
// and runs it on the functional core.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/a64core/archstate"
	"github.com/sarchlab/a64core/cache"
	"github.com/sarchlab/a64core/config"
	"github.com/sarchlab/a64core/emu"
	"github.com/sarchlab/a64core/insts"
	"github.com/sarchlab/a64core/loader"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "a64sim",
		Short:        "Functional AArch64 core simulator",
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(newRunCmd(stdout, stderr))
	rootCmd.AddCommand(newDecodeCmd(stdout))
	rootCmd.AddCommand(newDebugCmd(stdout, stderr))

	return rootCmd
}

type runFlags struct {
	configPath  string
	raw         bool
	base        uint64
	memSize     uint64
	sp          uint64
	maxInsts    uint64
	skipUnknown bool
	useCache    bool
	logLevel    string
	expectPath  string
	dumpPath    string
}

func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags runFlags

	runCmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Load a program and run it until it halts",
		Long: `Load an AArch64 ELF executable (or a flat image with --raw) and run it.
Execution stops at the all-zero word (UDF #0), at an unknown instruction,
or when the instruction budget is spent. Final registers are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := buildSession(cmd, &flags)
			if err != nil {
				return err
			}
			return runProgram(cmd, session, args[0], &flags, stdout, stderr)
		},
	}

	addSessionFlags(runCmd, &flags)
	f := runCmd.Flags()
	f.Uint64Var(&flags.maxInsts, "max-insts", 0, "Maximum instructions to execute (0 = no limit)")
	f.BoolVar(&flags.skipUnknown, "skip-unknown", false, "Skip unknown instructions instead of halting")
	f.StringVar(&flags.expectPath, "expect", "", "Compare the final state against this JSON state file")
	f.StringVar(&flags.dumpPath, "dump-state", "", "Write the final state to this JSON file")

	return runCmd
}

// addSessionFlags registers the machine flags shared by run and debug.
func addSessionFlags(cmd *cobra.Command, flags *runFlags) {
	defaults := config.DefaultSession()
	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "Path to session configuration JSON file")
	f.BoolVar(&flags.raw, "raw", false, "Treat the program as a flat image of instruction words")
	f.Uint64Var(&flags.base, "base", defaults.EntryPoint, "Load address and entry point of a raw image")
	f.Uint64Var(&flags.memSize, "mem-size", defaults.MemorySize, "Memory size in bytes")
	f.Uint64Var(&flags.sp, "sp", 0, "Initial stack pointer (0 = top of memory)")
	f.BoolVar(&flags.useCache, "cache", false, "Route loads and stores through a data cache")
	f.StringVar(&flags.logLevel, "log-level", defaults.LogLevel, "Log level: debug, info, warn or error")
}

// buildSession starts from the config file (or defaults) and applies every
// flag the user set explicitly.
func buildSession(cmd *cobra.Command, flags *runFlags) (*config.Session, error) {
	session := config.DefaultSession()
	if flags.configPath != "" {
		var err error
		session, err = config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("base") {
		session.EntryPoint = flags.base
	}
	if f.Changed("mem-size") {
		session.MemorySize = flags.memSize
	}
	if f.Changed("sp") {
		session.StackPointer = flags.sp
	}
	if f.Changed("max-insts") {
		session.MaxInstructions = flags.maxInsts
	}
	if f.Changed("skip-unknown") {
		session.SkipUnknown = flags.skipUnknown
	}
	if f.Changed("log-level") {
		session.LogLevel = flags.logLevel
	}
	if flags.useCache && session.Cache == nil {
		def := cache.DefaultConfig()
		session.Cache = &def
	}

	if err := session.Validate(); err != nil {
		return nil, err
	}
	return session, nil
}

// machine is a loaded program ready to run.
type machine struct {
	emulator *emu.Emulator
	dcache   *cache.Cache
}

// newMachine loads the program at path into a fresh emulator built from
// session.
func newMachine(session *config.Session, path string, raw bool, stderr io.Writer) (*machine, error) {
	level, _ := session.SlogLevel()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var (
		prog *loader.Program
		err  error
	)
	if raw {
		prog, err = loader.LoadRaw(path, session.EntryPoint)
	} else {
		prog, err = loader.Load(path)
	}
	if err != nil {
		return nil, err
	}

	memory := emu.NewMemory(session.MemorySize)
	if err := prog.CopyInto(memory); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	sp := session.InitialSP()
	if session.StackPointer == 0 && prog.InitialSP < sp {
		sp = prog.InitialSP
	}

	opts := []emu.EmulatorOption{
		emu.WithMemory(memory),
		emu.WithStackPointer(sp),
		emu.WithMaxInstructions(session.MaxInstructions),
		emu.WithSkipUnknown(session.SkipUnknown),
		emu.WithEmulatorLogger(logger),
	}

	m := &machine{}
	if session.Cache != nil {
		m.dcache, err = cache.NewForMemory(*session.Cache, memory)
		if err != nil {
			return nil, err
		}
		opts = append(opts, emu.WithDataPort(m.dcache))
	}

	m.emulator = emu.NewEmulator(opts...)
	m.emulator.RegFile().PC = prog.EntryPoint

	logger.Info("program loaded",
		"path", path,
		"entry", fmt.Sprintf("0x%X", prog.EntryPoint),
		"segments", len(prog.Segments),
		"sp", fmt.Sprintf("0x%X", sp),
	)

	return m, nil
}

func runProgram(
	cmd *cobra.Command,
	session *config.Session,
	path string,
	flags *runFlags,
	stdout, stderr io.Writer,
) error {
	m, err := newMachine(session, path, flags.raw, stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	count, runErr := m.emulator.Run(ctx)
	if m.dcache != nil {
		m.dcache.Flush()
	}

	printRegisters(stdout, m.emulator.RegFile())
	fmt.Fprintf(stdout, "Instructions executed: %d\n", count)
	if m.dcache != nil {
		printCacheStats(stdout, m.dcache.Stats())
	}

	if runErr != nil {
		return fmt.Errorf("run stopped: %w", runErr)
	}

	final := archstate.Capture(m.emulator.RegFile())
	if flags.dumpPath != "" {
		if err := final.Save(flags.dumpPath); err != nil {
			return err
		}
	}
	if flags.expectPath != "" {
		expected, err := archstate.Load(flags.expectPath)
		if err != nil {
			return err
		}
		diff, err := archstate.Check(expected, final)
		if err != nil {
			fmt.Fprint(stdout, diff)
			return err
		}
		fmt.Fprintln(stdout, "State matches", flags.expectPath)
	}
	return nil
}

func printRegisters(w io.Writer, regs *emu.RegFile) {
	for i := uint8(0); i < emu.NumGeneralRegs; i++ {
		sep := "  "
		if i%4 == 3 || i == emu.NumGeneralRegs-1 {
			sep = "\n"
		}
		fmt.Fprintf(w, "X%-2d=0x%016X%s", i, regs.ReadGeneral(i), sep)
	}
	fmt.Fprintf(w, "SP =0x%016X  PC =0x%016X\n", regs.SP, regs.PC)
	fmt.Fprintf(w, "N=%d Z=%d C=%d V=%d\n",
		b2i(regs.PSTATE.N), b2i(regs.PSTATE.Z), b2i(regs.PSTATE.C), b2i(regs.PSTATE.V))
}

func printCacheStats(w io.Writer, stats cache.Statistics) {
	fmt.Fprintf(w, "Cache: reads=%d writes=%d hits=%d misses=%d evictions=%d writebacks=%d\n",
		stats.Reads, stats.Writes, stats.Hits, stats.Misses, stats.Evictions, stats.Writebacks)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newDecodeCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <word>...",
		Short: "Decode hex instruction words",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				word, err := parseWord(arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "0x%08X  %-40s  %s\n",
					word, insts.Decode(word), emu.Disassemble(word))
			}
			return nil
		},
	}
}

func parseWord(s string) (uint32, error) {
	digits := strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid instruction word %q: %w", s, err)
	}
	return uint32(v), nil
}
