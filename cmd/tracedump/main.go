// Command tracedump is a consumer for the cctrace wire protocol: it
// listens on the socket path a cctrace-driven process connects to,
// accepts one connection, and renders a live summary of the events it
// receives until the sender ships its terminator frame.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/tinyrange/cctrace/internal/trace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tracedump: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	socketPath := flag.String("socket", "", "Unix socket path to listen on for one cctrace sender")
	expectInsns := flag.Int("expect-insns", 0, "Expected Pc/Instr event count, drives a progress bar when known")
	dbg := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *dbg {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *socketPath == "" {
		flag.Usage()
		return errors.New("-socket is required")
	}

	os.Remove(*socketPath)
	listener, err := net.Listen("unix", *socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", *socketPath, err)
	}
	defer listener.Close()

	slog.Info("tracedump: waiting for sender", "socket", *socketPath)
	conn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	d := newDumper(os.Stdout, *expectInsns)
	defer d.finish()
	return d.run(conn)
}

// dumper tallies events by kind and drives an optional progress bar
// while the sender streams frames. Redraws are throttled independently
// of event arrival, so a fast in-process sender (thousands of events per
// batch) does not thrash the terminal.
type dumper struct {
	out      io.Writer
	isTTY    bool
	bar      *progressbar.ProgressBar
	limiter  *rate.Limiter
	counts   map[trace.EventKind]int
	loadSeen bool
}

func newDumper(out *os.File, expectInsns int) *dumper {
	isTTY := term.IsTerminal(int(out.Fd()))

	d := &dumper{
		out:     out,
		isTTY:   isTTY,
		limiter: rate.NewLimiter(rate.Limit(20), 1),
		counts:  make(map[trace.EventKind]int),
	}
	if isTTY && expectInsns > 0 {
		d.bar = progressbar.Default(int64(expectInsns), "instructions")
	}
	return d
}

func (d *dumper) run(r io.Reader) error {
	for {
		ev, ok, err := trace.ReadEvent(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if !ok {
			return nil
		}
		d.record(ev)
	}
}

func (d *dumper) record(ev *trace.Event) {
	d.counts[ev.Kind]++

	switch ev.Kind {
	case trace.KindLoad:
		d.loadSeen = true
		fmt.Fprintf(d.out, "load: min=%#x max=%#x entry=%#x prot=%#02x\n",
			ev.Load.Min, ev.Load.Max, ev.Load.Entry, ev.Load.Prot)
	case trace.KindPc, trace.KindInstr:
		if d.bar != nil {
			d.bar.Add(1)
		}
	}

	if d.bar == nil && d.isTTY && d.limiter.Allow() {
		d.redrawSummaryLine()
	}
}

// redrawSummaryLine prints one ANSI-aware status line in place, used when
// no progress-bar target is known. ansi.StringWidth sizes the carriage
// return overwrite by display width rather than byte count, so any
// escape sequences in label would not count toward the padding.
func (d *dumper) redrawSummaryLine() {
	label := fmt.Sprintf("pc=%d instr=%d mem=%d syscall=%d",
		d.counts[trace.KindPc], d.counts[trace.KindInstr],
		d.counts[trace.KindMemAccess], d.counts[trace.KindSyscall])
	pad := 0
	if w := ansi.StringWidth(label); w < 72 {
		pad = 72 - w
	}
	fmt.Fprintf(d.out, "\r%s%*s", label, pad, "")
}

func (d *dumper) finish() {
	if d.bar != nil {
		d.bar.Finish()
	}
	if d.isTTY && d.bar == nil {
		fmt.Fprintln(d.out)
	}
	fmt.Fprintf(d.out, "tracedump: summary, pc=%d instr=%d mem=%d syscall=%d load=%d (%s)\n",
		d.counts[trace.KindPc], d.counts[trace.KindInstr],
		d.counts[trace.KindMemAccess], d.counts[trace.KindSyscall],
		d.counts[trace.KindLoad], time.Now().Format(time.RFC3339))
}
