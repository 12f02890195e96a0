// Package hostsim implements the host-emulator contract (internal/trace's
// Host/TranslatedBlock/Insn) with a scriptable, in-process fixture host.
// It stands in for a real CPU emulator in tests and in the cctrace demo
// CLI, driving the same translate/exec/mem-access callback surface a real
// host would.
package hostsim

import (
	"sync"

	"github.com/tinyrange/cctrace/internal/trace"
)

// Insn is one fixture instruction. Hooks registered against it by the
// translation handler are recorded here so a test or demo driver can fire
// them later, in whatever order it wants to exercise.
type Insn struct {
	vaddr uint64
	data  []byte

	mu      sync.Mutex
	execCbs []execHook
	memCb   *memHook
}

type execHook struct {
	cb  trace.ExecCallback
	tok trace.Token
}

type memHook struct {
	cb  trace.MemCallback
	tok trace.Token
}

// NewInsn creates a fixture instruction at vaddr with the given opcode
// bytes.
func NewInsn(vaddr uint64, data []byte) *Insn {
	return &Insn{vaddr: vaddr, data: append([]byte(nil), data...)}
}

func (i *Insn) Vaddr() uint64  { return i.vaddr }
func (i *Insn) Size() int     { return len(i.data) }
func (i *Insn) Data() []byte  { return i.data }

// Exec fires every execution hook registered against this instruction,
// in registration order, as vcpu. Real hosts make no promise about the
// order in which distinct hooks on the same instruction fire relative to
// each other; tests that care pass their own ordering by calling Exec and
// Access directly instead of relying on this helper.
func (i *Insn) Exec(vcpu uint32) {
	i.mu.Lock()
	hooks := append([]execHook(nil), i.execCbs...)
	i.mu.Unlock()

	for _, h := range hooks {
		h.cb(vcpu, h.tok)
	}
}

// Access fires the memory-access hook registered against this
// instruction, if any, reporting addr and isStore.
func (i *Insn) Access(vcpu uint32, addr uint64, isStore bool) {
	i.mu.Lock()
	hook := i.memCb
	i.mu.Unlock()

	if hook == nil {
		return
	}
	hook.cb(vcpu, addr, memInfo{isStore}, hook.tok)
}

type memInfo struct{ isStore bool }

func (m memInfo) IsStore() bool { return m.isStore }

// Block is a fixture translated block: an ordered, fixed list of
// instructions.
type Block struct {
	insns []*Insn
}

// NewBlock builds a translated block out of the given instructions, in
// order.
func NewBlock(insns ...*Insn) *Block {
	return &Block{insns: insns}
}

func (b *Block) NumInsns() int        { return len(b.insns) }
func (b *Block) Insn(i int) trace.Insn { return b.insns[i] }

// Insns exposes the concrete fixture instructions for a driver that wants
// to Exec/Access them directly rather than go through trace.Insn.
func (b *Block) Insns() []*Insn { return b.insns }

// Host implements trace.Host by recording hooks onto the fixture
// instructions they were registered against.
type Host struct {
	start, end, entry uint64
}

// NewHost builds a fixture host reporting the given code range.
func NewHost(start, end, entry uint64) *Host {
	return &Host{start: start, end: end, entry: entry}
}

func (h *Host) CodeRange() (start, end, entry uint64) { return h.start, h.end, h.entry }

func (h *Host) RegisterExecCallback(insn trace.Insn, cb trace.ExecCallback, tok trace.Token) {
	fi := insn.(*Insn)
	fi.mu.Lock()
	fi.execCbs = append(fi.execCbs, execHook{cb, tok})
	fi.mu.Unlock()
}

func (h *Host) RegisterMemCallback(insn trace.Insn, cb trace.MemCallback, tok trace.Token) {
	fi := insn.(*Insn)
	fi.mu.Lock()
	fi.memCb = &memHook{cb, tok}
	fi.mu.Unlock()
}
