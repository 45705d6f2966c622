package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/sarchlab/a64core/emu"
)

const debugHelp = `Commands:
  step [n]          execute n instructions (default 1)         (s)
  continue          run until the program halts                (c)
  regs              print registers and flags                  (r)
  mem <addr> [n]    print n doublewords starting at addr       (x)
  disas [addr] [n]  disassemble n words (default: 8 from PC)   (d)
  stats             print cache statistics
  help              show this text
  quit              leave the debugger                         (q)
`

func newDebugCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags runFlags

	debugCmd := &cobra.Command{
		Use:   "debug <program>",
		Short: "Step through a program interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := buildSession(cmd, &flags)
			if err != nil {
				return err
			}
			m, err := newMachine(session, args[0], flags.raw, stderr)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt: "(a64) ",
				Stdout: stdout,
				Stderr: stderr,
			})
			if err != nil {
				return fmt.Errorf("failed to start readline: %w", err)
			}
			defer func() { _ = rl.Close() }()

			c := newConsole(m, stdout)
			fmt.Fprintln(stdout, "Type 'help' for a list of commands.")
			for {
				line, err := rl.Readline()
				if err != nil {
					return nil
				}
				if c.exec(cmd.Context(), line) {
					return nil
				}
			}
		},
	}

	addSessionFlags(debugCmd, &flags)
	return debugCmd
}

// console executes debugger commands against one machine.
type console struct {
	m   *machine
	out io.Writer
}

func newConsole(m *machine, out io.Writer) *console {
	return &console{m: m, out: out}
}

// maxDumpWords caps the count accepted by mem and disas.
const maxDumpWords = 1024

// peek64 reads the doubleword the program would see at addr. Dirty cache
// lines win over memory, and the cache statistics are left alone.
func (c *console) peek64(addr uint64) uint64 {
	if c.m.dcache != nil {
		return c.m.dcache.Peek(addr, 8)
	}
	return c.m.emulator.Memory().Read64(addr)
}

// exec runs one command line. It returns true when the user asked to quit.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	args := fields[1:]
	switch fields[0] {
	case "step", "s":
		c.step(args)
	case "continue", "c":
		c.cont(ctx)
	case "regs", "r":
		printRegisters(c.out, c.m.emulator.RegFile())
	case "mem", "x":
		c.mem(args)
	case "disas", "d":
		c.disas(args)
	case "stats":
		if c.m.dcache == nil {
			fmt.Fprintln(c.out, "no cache configured")
		} else {
			printCacheStats(c.out, c.m.dcache.Stats())
		}
	case "help", "h", "?":
		fmt.Fprint(c.out, debugHelp)
	case "quit", "q", "exit":
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q (try help)\n", fields[0])
	}
	return false
}

func (c *console) step(args []string) {
	n := uint64(1)
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil || v == 0 {
			fmt.Fprintf(c.out, "invalid count %q\n", args[0])
			return
		}
		n = v
	}

	e := c.m.emulator
	for i := uint64(0); i < n; i++ {
		pc := e.RegFile().PC
		result := e.Step()
		if result.Halted {
			c.reportHalt(result.Err)
			return
		}
		fmt.Fprintf(c.out, "0x%X: %s\n", pc, result.Inst)
	}
}

func (c *console) cont(ctx context.Context) {
	count, err := c.m.emulator.Run(ctx)
	fmt.Fprintf(c.out, "executed %d instructions\n", count)
	c.reportHalt(err)
}

func (c *console) reportHalt(err error) {
	pc := c.m.emulator.RegFile().PC
	if err != nil {
		fmt.Fprintf(c.out, "stopped at 0x%X: %v\n", pc, err)
		return
	}
	fmt.Fprintf(c.out, "halted at 0x%X\n", pc)
}

func (c *console) mem(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "usage: mem <addr> [n]")
		return
	}
	addr, n, ok := c.parseRange(args, 4)
	if !ok {
		return
	}

	for i := uint64(0); i < n; i++ {
		a := addr + 8*i
		fmt.Fprintf(c.out, "0x%X: 0x%016X\n", a, c.peek64(a))
	}
}

func (c *console) disas(args []string) {
	addr := c.m.emulator.RegFile().PC
	n := uint64(8)
	if len(args) > 0 {
		var ok bool
		addr, n, ok = c.parseRange(args, n)
		if !ok {
			return
		}
	}

	memory := c.m.emulator.Memory()
	for i := uint64(0); i < n; i++ {
		a := addr + 4*i
		word := memory.Read32(a)
		marker := "  "
		if a == c.m.emulator.RegFile().PC {
			marker = "=>"
		}
		fmt.Fprintf(c.out, "%s 0x%X: %08X  %s\n", marker, a, word, emu.Disassemble(word))
	}
}

func (c *console) parseRange(args []string, defaultN uint64) (addr, n uint64, ok bool) {
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		fmt.Fprintf(c.out, "invalid address %q\n", args[0])
		return 0, 0, false
	}
	n = defaultN
	if len(args) > 1 {
		n, err = strconv.ParseUint(args[1], 0, 64)
		if err != nil || n > maxDumpWords {
			fmt.Fprintf(c.out, "invalid count %q (at most %d)\n", args[1], maxDumpWords)
			return 0, 0, false
		}
	}
	return addr, n, true
}
