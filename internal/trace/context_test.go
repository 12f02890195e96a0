package trace

import (
	"bytes"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/cctrace/internal/hostsim"
)

// memConn is a thread-safe in-memory wireConn used to capture the wire
// stream a Sender produces without needing a real socket.
type memConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (m *memConn) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Write(p)
}

func (m *memConn) Close() error { return nil }

func (m *memConn) readAll(t *testing.T) []*Event {
	t.Helper()
	m.mu.Lock()
	data := append([]byte(nil), m.buf.Bytes()...)
	m.mu.Unlock()

	r := bytes.NewReader(data)
	var events []*Event
	for {
		ev, ok, err := ReadEvent(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadEvent: %v", err)
		}
		if !ok {
			// terminator frame
			continue
		}
		events = append(events, ev)
	}
	return events
}

func newTestContext(t *testing.T, flags FeatureFlags, host Host) (*Context, *memConn) {
	t.Helper()
	mc := &memConn{}
	ctx := &Context{
		flags:    flags,
		registry: newRegistry(),
		sender:   newSender(mc, 1, slog.Default()),
		host:     host,
		log:      slog.Default(),
	}
	return ctx, mc
}

// PC only, single instruction.
func TestPCOnly(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagPC, host)

	insn := hostsim.NewInsn(0x400080, []byte{0x90})
	block := hostsim.NewBlock(insn)

	ctx.OnTranslate(block)
	insn.Exec(0)

	events := mc.readAll(t)
	if len(events) != 2 { // Load + Pc
		t.Fatalf("got %d events, want 2 (Load, Pc)", len(events))
	}
	var pc *Event
	for _, e := range events {
		if e.Kind == KindPc {
			pc = e
		}
	}
	if pc == nil {
		t.Fatalf("no Pc event emitted")
	}
	if pc.Pc.PC != 0x400080 || !pc.Pc.IsBranch {
		t.Fatalf("Pc event = %+v, want pc=0x400080 is_branch=true", pc.Pc)
	}
}

// Memory read, execution callback fires first.
func TestMemReadExecFirst(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagMem, host)

	insn := hostsim.NewInsn(0x400100, []byte{0x0f})
	block := hostsim.NewBlock(insn)
	ctx.OnTranslate(block)

	insn.Exec(0)
	insn.Access(0, 0xdead0000, false)

	events := mc.readAll(t)
	mem := onlyMemAccess(t, events)
	if mem.MemAccess.PC != 0x400100 || mem.MemAccess.Addr != 0xdead0000 || mem.MemAccess.IsWrite {
		t.Fatalf("MemAccess = %+v, want pc=0x400100 addr=0xdead0000 is_write=false", mem.MemAccess)
	}
}

// Memory write, memory callback fires first.
func TestMemWriteMemFirst(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagMem, host)

	insn := hostsim.NewInsn(0x400100, []byte{0x0f})
	block := hostsim.NewBlock(insn)
	ctx.OnTranslate(block)

	insn.Access(0, 0xbeef, true)
	insn.Exec(0)

	events := mc.readAll(t)
	mem := onlyMemAccess(t, events)
	if mem.MemAccess.PC != 0x400100 || mem.MemAccess.Addr != 0xbeef || !mem.MemAccess.IsWrite {
		t.Fatalf("MemAccess = %+v, want pc=0x400100 addr=0xbeef is_write=true", mem.MemAccess)
	}
}

func onlyMemAccess(t *testing.T, events []*Event) *Event {
	t.Helper()
	var found *Event
	for _, e := range events {
		if e.Kind == KindMemAccess {
			if found != nil {
				t.Fatalf("more than one MemAccess event emitted")
			}
			found = e
		}
	}
	if found == nil {
		t.Fatalf("no MemAccess event emitted")
	}
	return found
}

// Syscall round-trip, plus an unmatched return with no prior enter
// producing no event.
func TestSyscallRoundTrip(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagSyscalls, host)

	ctx.OnSyscallEnter(0, 60, [8]uint64{1, 2, 3, 4, 5, 6, 7, 8})
	ctx.OnSyscallReturn(0, 60, 0)

	events := mc.readAll(t)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	sc := events[0].Syscall
	if events[0].Kind != KindSyscall || sc.Num != 60 || sc.Rv != 0 || sc.Args != [8]uint64{1, 2, 3, 4, 5, 6, 7, 8} {
		t.Fatalf("Syscall = %+v, want num=60 rv=0 args=[1..8]", sc)
	}

	// Unmatched return with no prior enter on this vCPU: no event.
	ctx2, mc2 := newTestContext(t, FlagSyscalls, host)
	ctx2.OnSyscallReturn(0, 39, 0)
	if got := mc2.readAll(t); len(got) != 0 {
		t.Fatalf("got %d events for unmatched return, want 0", len(got))
	}
}

// Stale enter eviction.
func TestStaleEnterEviction(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagSyscalls, host)

	ctx.OnSyscallEnter(0, 1, [8]uint64{})
	ctx.OnSyscallEnter(0, 2, [8]uint64{})
	ctx.OnSyscallReturn(0, 2, 7)

	events := mc.readAll(t)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Syscall.Num != 2 || events[0].Syscall.Rv != 7 {
		t.Fatalf("Syscall = %+v, want num=2 rv=7", events[0].Syscall)
	}
}

// PC + INSTRS composition: two events, either exec order.
func TestPCInstrsComposition(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagPC|FlagInstrs, host)

	insn := hostsim.NewInsn(0x500, []byte{0x90})
	block := hostsim.NewBlock(insn)
	ctx.OnTranslate(block)
	insn.Exec(0)

	events := mc.readAll(t)
	var sawPc, sawInstr bool
	for _, e := range events {
		switch e.Kind {
		case KindPc:
			sawPc = true
			if e.Pc.PC != 0x500 || !e.Pc.IsBranch {
				t.Fatalf("Pc = %+v, want pc=0x500 is_branch=true", e.Pc)
			}
		case KindInstr:
			sawInstr = true
			if e.Instr.PC != 0x500 || e.Instr.OpcodeSize != 1 || e.Instr.Opcode[0] != 0x90 {
				t.Fatalf("Instr = %+v, want pc=0x500 size=1 opcode=[0x90]", e.Instr)
			}
		}
	}
	if !sawPc || !sawInstr {
		t.Fatalf("expected both Pc and Instr events, got %d events", len(events))
	}
}

// Branch-only mode: for a block of n instructions, exactly one record is
// created, for the last instruction, and it is a branch.
func TestBranchOnlyMode(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagBranches, host)

	insns := []*hostsim.Insn{
		hostsim.NewInsn(0x1000, []byte{0x1}),
		hostsim.NewInsn(0x1001, []byte{0x2}),
		hostsim.NewInsn(0x1002, []byte{0x3}),
	}
	block := hostsim.NewBlock(insns[0], insns[1], insns[2])
	ctx.OnTranslate(block)

	// Only the last instruction should have had a hook wired.
	for i, insn := range insns {
		insn.Exec(0)
		_ = i
	}

	events := mc.readAll(t)
	var pcEvents []*Event
	for _, e := range events {
		if e.Kind == KindPc {
			pcEvents = append(pcEvents, e)
		}
	}
	if len(pcEvents) != 1 {
		t.Fatalf("got %d Pc events, want exactly 1", len(pcEvents))
	}
	if pcEvents[0].Pc.PC != 0x1002 || !pcEvents[0].Pc.IsBranch {
		t.Fatalf("Pc = %+v, want pc=0x1002 is_branch=true", pcEvents[0].Pc)
	}
}

// No per-instruction features configured: translation registers nothing.
func TestNoInsnMode(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagSyscalls, host) // syscalls only, no per-insn bits

	insn := hostsim.NewInsn(0x2000, []byte{0x1})
	block := hostsim.NewBlock(insn)
	ctx.OnTranslate(block)
	insn.Exec(0)

	events := mc.readAll(t)
	for _, e := range events {
		if e.Kind != KindLoad {
			t.Fatalf("unexpected event %v emitted with no per-instruction features configured", e.Kind)
		}
	}
	if ctx.instrRegistryLen() != 0 || ctx.memRegistryLen() != 0 {
		t.Fatalf("registries not empty after no-insn translate")
	}
}

// Single load event: exactly one Load event is emitted across repeated
// translations, and it precedes any per-instruction event.
func TestSingleLoadEvent(t *testing.T) {
	host := hostsim.NewHost(0x1000, 0x2000, 0x1000)
	ctx, mc := newTestContext(t, FlagPC, host)

	for i := 0; i < 3; i++ {
		insn := hostsim.NewInsn(uint64(0x1000+i), []byte{0x90})
		block := hostsim.NewBlock(insn)
		ctx.OnTranslate(block)
		insn.Exec(0)
	}

	events := mc.readAll(t)
	loadCount := 0
	firstLoadIdx, firstInsnIdx := -1, -1
	for i, e := range events {
		if e.Kind == KindLoad {
			loadCount++
			if firstLoadIdx == -1 {
				firstLoadIdx = i
			}
		}
		if e.Kind == KindPc && firstInsnIdx == -1 {
			firstInsnIdx = i
		}
	}
	if loadCount != 1 {
		t.Fatalf("got %d Load events, want exactly 1", loadCount)
	}
	if firstLoadIdx > firstInsnIdx {
		t.Fatalf("Load event (idx %d) did not precede first per-instruction event (idx %d)", firstLoadIdx, firstInsnIdx)
	}
}

// Registry leak bound: at steady state the per-instruction mappings are
// empty, with nothing left lingering once every hook has fired.
func TestRegistryLeakBound(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, _ := newTestContext(t, FlagPC|FlagInstrs|FlagMem, host)

	insn := hostsim.NewInsn(0x3000, []byte{0x90})
	block := hostsim.NewBlock(insn)
	ctx.OnTranslate(block)

	if ctx.instrRegistryLen() == 0 && ctx.memRegistryLen() == 0 {
		t.Fatalf("registries empty immediately after translate, expected pending entries")
	}

	insn.Exec(0)
	insn.Access(0, 0x4000, false)

	if got := ctx.instrRegistryLen(); got != 0 {
		t.Fatalf("instr registry len = %d, want 0 after all hooks fired", got)
	}
	if got := ctx.memRegistryLen(); got != 0 {
		t.Fatalf("mem registry len = %d, want 0 after all hooks fired", got)
	}
}

// At-most-once submission and completeness, fuzzed across many concurrent
// simulated vCPU goroutines racing exec/mem callbacks in randomized order.
func TestConcurrentAtMostOnceSubmission(t *testing.T) {
	host := hostsim.NewHost(0, 0, 0)
	ctx, mc := newTestContext(t, FlagPC|FlagInstrs|FlagMem, host)

	const nBlocks = 200
	blocks := make([]*hostsim.Block, nBlocks)
	for i := range blocks {
		insn := hostsim.NewInsn(uint64(0x10000+i), []byte{byte(i)})
		blocks[i] = hostsim.NewBlock(insn)
		ctx.OnTranslate(blocks[i])
	}

	var g errgroup.Group
	for i := range blocks {
		i := i
		g.Go(func() error {
			insn := blocks[i].Insns()[0]
			r := rand.New(rand.NewSource(int64(i)))
			if r.Intn(2) == 0 {
				insn.Exec(uint32(i))
				insn.Access(uint32(i), uint64(i), r.Intn(2) == 0)
			} else {
				insn.Access(uint32(i), uint64(i), r.Intn(2) == 0)
				insn.Exec(uint32(i))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("errgroup: %v", err)
	}

	events := mc.readAll(t)
	seenMem := map[uint64]int{}
	for _, e := range events {
		if e.Kind == KindMemAccess {
			seenMem[e.MemAccess.PC]++
			if e.MemAccess.Addr != e.MemAccess.PC-0x10000 {
				t.Fatalf("MemAccess addr/pc mismatch: %+v", e.MemAccess)
			}
		}
	}
	for pc, n := range seenMem {
		if n != 1 {
			t.Fatalf("pc 0x%x submitted %d times, want exactly 1 (at-most-once)", pc, n)
		}
	}
	if ctx.instrRegistryLen() != 0 || ctx.memRegistryLen() != 0 {
		t.Fatalf("registries not drained after all hooks fired")
	}
}
