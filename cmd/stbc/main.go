// stbc CLI - run, inspect and version stbc containers
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/plcforge/stbc/manifest"
	"github.com/plcforge/stbc/pkg/container"
	"github.com/plcforge/stbc/pkg/vm"
)

const version = "0.1.0"

const (
	exitOK       = 0
	exitFault    = 1
	exitBadInput = 2
)

var log = commonlog.GetLogger("cli")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: stbc <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run <container>     Load and execute a container\n")
	fmt.Fprintf(os.Stderr, "  disasm <container>  Print the container disassembly\n")
	fmt.Fprintf(os.Stderr, "  version             Print the stbc version\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  stbc run blink.stbc --scans 5 --dump-vars out.txt\n")
	fmt.Fprintf(os.Stderr, "  stbc run plant.stbc -v       # verbose scheduler logging\n")
	fmt.Fprintf(os.Stderr, "  stbc disasm blink.stbc\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitBadInput)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "disasm":
		os.Exit(disasmCmd(os.Args[2:]))
	case "version":
		fmt.Printf("stbc %s (container format v%d)\n", version, container.FormatVersion)
		os.Exit(exitOK)
	case "-h", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(exitBadInput)
	}
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scans := fs.Int("scans", 0, "Stop after this many scans (0 = manifest max-scans)")
	dumpVars := fs.String("dump-vars", "", "Write the final variable table to this file")
	verbose := fs.Bool("v", false, "Verbose output")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stbc run <container> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	// The container path comes first so flags may follow it, which the
	// flag package would otherwise swallow as positional arguments.
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fs.Usage()
		return exitBadInput
	}
	path := args[0]
	fs.Parse(args[1:])
	if fs.NArg() != 0 {
		fs.Usage()
		return exitBadInput
	}

	c, err := container.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", path, err)
		return exitBadInput
	}

	man, err := manifest.ForContainer(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading manifest: %v\n", err)
		return exitBadInput
	}
	if err := man.Apply(&c.Tasks); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying manifest: %v\n", err)
		return exitBadInput
	}

	verbosity := man.Runtime.LogLevel
	if *verbose {
		verbosity++
	}
	commonlog.Configure(verbosity, nil)

	maxScans := *scans
	if maxScans == 0 {
		maxScans = man.Runtime.MaxScans
	}

	start := time.Now()
	m := vm.New(func() uint64 {
		return uint64(time.Since(start).Microseconds())
	})
	if err := m.Load(c, 0); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading container: %v\n", err)
		return exitBadInput
	}
	if err := m.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting: %v\n", err)
		return exitBadInput
	}
	log.Infof("running %s: %d tasks, %d programs", path, len(c.Tasks.Tasks), len(c.Tasks.Programs))

	code := drive(m, maxScans)
	if *dumpVars != "" {
		if err := writeVarDump(*dumpVars, m, c); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *dumpVars, err)
			if code == exitOK {
				code = exitBadInput
			}
		}
	}
	return code
}

// drive advances a virtual clock from deadline to deadline so cyclic
// tasks fire at exact multiples of their interval, independent of how
// fast the host executes scans.
func drive(m *vm.VM, maxScans int) int {
	now := uint64(0)
	total := 0
	for maxScans == 0 || total < maxScans {
		n, err := m.RunRound(now)
		total += n
		if err != nil {
			var trap *vm.Trap
			if errors.As(err, &trap) {
				fmt.Fprintf(os.Stderr, "Fault: %v\n", trap)
				return exitFault
			}
			if errors.Is(err, vm.ErrStopped) {
				return exitOK
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFault
		}
		next, ok := m.NextDeadline()
		if !ok {
			if n == 0 {
				// Nothing cyclic and nothing ran: the table has no
				// runnable work, so spinning would never terminate.
				log.Warningf("no runnable tasks after %d scans", total)
				return exitOK
			}
			continue
		}
		if next > now {
			now = next
		}
	}
	m.RequestStop()
	if _, err := m.RunRound(now); err != nil && !errors.Is(err, vm.ErrStopped) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFault
	}
	return exitOK
}

func writeVarDump(path string, m *vm.VM, c *container.Container) error {
	var b strings.Builder
	n := c.NumVarSlots()
	for i := 0; i < n; i++ {
		v, err := m.ReadVariable(uint16(i))
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "var[%d]: %d\n", i, v.I32())
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func disasmCmd(args []string) int {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stbc disasm <container>\n")
	}
	fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		return exitBadInput
	}
	path := fs.Arg(0)

	c, err := container.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", path, err)
		return exitBadInput
	}
	d, err := c.Disassemble()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error disassembling %s: %v\n", path, err)
		return exitBadInput
	}
	fmt.Print(d.Render())
	return exitOK
}
