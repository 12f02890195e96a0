package trace

// EventKind tags which variant of Event is populated. Exactly one variant
// is meaningful per event.
type EventKind uint8

const (
	KindInvalid EventKind = iota
	KindPc
	KindInstr
	KindMemAccess
	KindSyscall
	KindLoad
)

func (k EventKind) String() string {
	switch k {
	case KindPc:
		return "Pc"
	case KindInstr:
		return "Instr"
	case KindMemAccess:
		return "MemAccess"
	case KindSyscall:
		return "Syscall"
	case KindLoad:
		return "Load"
	default:
		return "Invalid"
	}
}

// Pc describes a single instruction's program counter and whether it is
// the last instruction of its translated block.
type Pc struct {
	PC       uint64
	IsBranch bool
}

// maxOpcodeBytes bounds the raw opcode bytes carried per instruction; the
// host never reports an instruction longer than this on any architecture
// the core trace format targets.
const maxOpcodeBytes = 16

// Instr carries an instruction's raw opcode bytes as reported by the host,
// with no attempt to decode their semantics.
type Instr struct {
	PC         uint64
	Opcode     [maxOpcodeBytes]byte
	OpcodeSize uint8
}

// MemAccess describes a single memory read or write performed by one
// instruction.
type MemAccess struct {
	PC      uint64
	Addr    uint64
	IsWrite bool
}

// Syscall pairs a syscall's entry arguments with its return value. Rv is
// -1 until the return callback lands.
type Syscall struct {
	Num  int64
	Rv   int64
	Args [8]uint64
}

// Load is the one-shot description of the loaded image's code range,
// emitted synchronously on the first translation and never registered in
// any mapping.
type Load struct {
	Min   uint64
	Max   uint64
	Entry uint64
	Prot  uint8
}

// Event is the tagged record shipped to the sender. Only the field named
// by Kind is meaningful.
type Event struct {
	Kind      EventKind
	Pc        Pc
	Instr     Instr
	MemAccess MemAccess
	Syscall   Syscall
	Load      Load
}

func newPcEvent(pc uint64, isBranch bool) *Event {
	return &Event{Kind: KindPc, Pc: Pc{PC: pc, IsBranch: isBranch}}
}

func newInstrEvent(pc uint64, data []byte) *Event {
	e := &Event{Kind: KindInstr, Instr: Instr{PC: pc}}
	n := len(data)
	if n > maxOpcodeBytes {
		n = maxOpcodeBytes
	}
	copy(e.Instr.Opcode[:], data[:n])
	e.Instr.OpcodeSize = uint8(n)
	return e
}

func newMemAccessEvent(pc uint64) *Event {
	return &Event{Kind: KindMemAccess, MemAccess: MemAccess{PC: pc}}
}

func newSyscallEvent(num int64, args [8]uint64) *Event {
	return &Event{Kind: KindSyscall, Syscall: Syscall{Num: num, Rv: -1, Args: args}}
}

func newLoadEvent(min, max, entry uint64, prot uint8) *Event {
	return &Event{Kind: KindLoad, Load: Load{Min: min, Max: max, Entry: entry, Prot: prot}}
}
