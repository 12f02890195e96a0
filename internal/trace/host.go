package trace

// The interfaces below are the Go-native expression of the host-emulator
// contract, in the idiom of a struct of registered closures rather than a
// single monolithic callback-registration object.

// Insn is one instruction within a translated block.
type Insn interface {
	Vaddr() uint64
	Size() int
	Data() []byte
}

// TranslatedBlock is the opaque translated-block handle the host passes
// to the translation callback.
type TranslatedBlock interface {
	NumInsns() int
	Insn(i int) Insn
}

// ExecCallback fires each time the instruction it was registered against
// executes. tok is the userdata the translation handler attached when it
// called RegisterExecCallback.
type ExecCallback func(vcpu uint32, tok Token)

// MemInfo describes a single memory access, wrapping the host's
// mem_is_store predicate.
type MemInfo interface {
	IsStore() bool
}

// MemCallback fires on a memory access performed by the instruction it
// was registered against.
type MemCallback func(vcpu uint32, addr uint64, info MemInfo, tok Token)

// Host is the subset of host-emulator capabilities the translation and
// syscall handlers depend on. A production build wires this to the real
// host via the cgo adapter in bindings/c; tests and the demo CLI wire it
// to internal/hostsim.Host.
type Host interface {
	// RegisterExecCallback arranges for cb to be invoked, carrying tok,
	// every time insn executes.
	RegisterExecCallback(insn Insn, cb ExecCallback, tok Token)

	// RegisterMemCallback arranges for cb to be invoked, carrying tok, on
	// every memory access performed by insn.
	RegisterMemCallback(insn Insn, cb MemCallback, tok Token)

	// CodeRange returns the loaded image's code range, valid from the
	// first translation callback onward.
	CodeRange() (start, end, entry uint64)
}
