// Command cctrace drives the tracing core against a scripted instruction
// stream and streams the result to a consumer over a local socket. It
// stands in for the real attachment point (the cgo adapter in
// bindings/c, loaded into a host emulator process) so the pipeline can be
// exercised and demoed without a real CPU emulator.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/cctrace/internal/config"
	"github.com/tinyrange/cctrace/internal/hostsim"
	"github.com/tinyrange/cctrace/internal/initx"
	"github.com/tinyrange/cctrace/internal/trace"
)

func main() {
	if err := run(); err != nil {
		var exitErr *initx.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "cctrace: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to a cctrace YAML configuration file")
	socketPath := flag.String("socket", "", "Consumer socket path (overrides the config file)")
	batchSize := flag.Int("batch-size", 0, "Events per flush, 0 selects the default")
	tracePC := flag.Bool("trace-pc", false, "Trace program counters")
	traceReads := flag.Bool("trace-reads", false, "Trace memory reads")
	traceWrites := flag.Bool("trace-writes", false, "Trace memory writes")
	traceInstrs := flag.Bool("trace-instrs", false, "Trace raw instruction bytes")
	traceSyscalls := flag.Bool("trace-syscalls", false, "Trace syscall enter/return")
	traceBranches := flag.Bool("trace-branches", false, "Trace only block-terminating branches")
	dbg := flag.Bool("debug", false, "Enable debug logging")
	insnCount := flag.Int("insn-count", 16, "Number of synthetic instructions to execute in the demo run")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: cctrace -socket <path> [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *dbg {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *batchSize != 0 {
		cfg.BatchSize = *batchSize
	}
	cfg.TracePC = cfg.TracePC || *tracePC
	cfg.TraceReads = cfg.TraceReads || *traceReads
	cfg.TraceWrites = cfg.TraceWrites || *traceWrites
	cfg.TraceInstrs = cfg.TraceInstrs || *traceInstrs
	cfg.TraceSyscalls = cfg.TraceSyscalls || *traceSyscalls
	cfg.TraceBranches = cfg.TraceBranches || *traceBranches

	if cfg.SocketPath == "" {
		flag.Usage()
		return &initx.ExitError{Code: 2}
	}

	host := hostsim.NewHost(0x400000, 0x400000+uint64(*insnCount), 0x400000)
	ctx, err := trace.Init(cfg.TraceConfig(), host, slog.Default())
	if err != nil {
		return fmt.Errorf("init trace core: %w", err)
	}
	defer ctx.OnExit()

	runDemoProgram(ctx, host, *insnCount)
	slog.Info("cctrace: demo run complete", "instructions", *insnCount)
	return nil
}

// runDemoProgram builds one translated block of insnCount single-byte
// NOP-like instructions, translates it, then executes each instruction
// and reports one synthetic memory read for it in vCPU 0, followed by one syscall
// round-trip, enough to exercise every wired feature in one pass.
func runDemoProgram(ctx *trace.Context, host *hostsim.Host, insnCount int) {
	insns := make([]*hostsim.Insn, insnCount)
	start, _, _ := host.CodeRange()
	for i := range insns {
		insns[i] = hostsim.NewInsn(start+uint64(i), []byte{0x90})
	}
	block := hostsim.NewBlock(insns...)

	if ctx.WantsTranslation() {
		ctx.OnTranslate(block)
	}
	for _, insn := range insns {
		insn.Exec(0)
		insn.Access(0, 0xdead0000, false)
	}

	if ctx.WantsSyscalls() {
		ctx.OnSyscallEnter(0, 60, [8]uint64{})
		ctx.OnSyscallReturn(0, 60, 0)
	}
}
