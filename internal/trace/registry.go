package trace

import "sync"

// memRecord wraps a MemAccess event with two-phase completion flags: the
// memory-access callback and the instruction-execution callback may land
// in either order, and both must be observed before the event is ready.
type memRecord struct {
	event    *Event
	memSeen  bool
	execSeen bool
}

// registry is the three disjoint mappings backing event assembly: one
// arena for non-memory per-instruction events, one for memory-wrapped
// events, and one fixed-by-vCPU-index slot for in-flight syscalls. Each
// has exactly one lock and no operation ever holds two locks at once.
type registry struct {
	instr *arena[*Event]
	mem   *arena[*memRecord]

	syscallMu    sync.Mutex
	syscallByCPU []syscallSlot
}

type syscallSlot struct {
	occupied bool
	event    *Event
}

func newRegistry() *registry {
	return &registry{
		instr: newArena[*Event](),
		mem:   newArena[*memRecord](),
	}
}

// insertInstr registers a non-memory per-instruction event and returns the
// token a host execution-hook will carry as userdata.
func (r *registry) insertInstr(e *Event) Token {
	return r.instr.insert(e)
}

// insertMem registers a memory-wrapped event and returns the token shared
// by both the memory-access and execution hooks wired to it.
func (r *registry) insertMem(e *Event) Token {
	return r.mem.insert(&memRecord{event: e})
}

// removeInstrIfPresent removes and returns the event for tok, or (nil,
// false) if it was already submitted or never existed; the latter is not
// an error.
func (r *registry) removeInstrIfPresent(tok Token) (*Event, bool) {
	return r.instr.remove(tok)
}

// instrRegistryLen and memRegistryLen back the registry-leak-bound
// property test.
func (r *registry) instrRegistryLen() int { return r.instr.len() }
func (r *registry) memRegistryLen() int   { return r.mem.len() }

// onMemSeen marks the memory-access half of a two-phase record observed,
// filling in addr/is_write, and returns the event ready to submit once
// both halves have landed. The check-and-remove happens atomically under
// the mem arena's single lock so a racing execution callback cannot also
// decide it is the one to submit.
func (r *registry) onMemSeen(tok Token, addr uint64, isWrite bool) (*Event, bool) {
	v, found, removed := r.mem.withLocked(tok, func(rec **memRecord) bool {
		(*rec).memSeen = true
		(*rec).event.MemAccess.Addr = addr
		(*rec).event.MemAccess.IsWrite = isWrite
		return (*rec).memSeen && (*rec).execSeen
	})
	if !found || !removed {
		return nil, false
	}
	return v.event, true
}

// onExecSeen marks the execution half of a two-phase record observed.
func (r *registry) onExecSeen(tok Token) (*Event, bool) {
	v, found, removed := r.mem.withLocked(tok, func(rec **memRecord) bool {
		(*rec).execSeen = true
		return (*rec).memSeen && (*rec).execSeen
	})
	if !found || !removed {
		return nil, false
	}
	return v.event, true
}

// syscallEnter installs a new in-flight syscall record for vcpu, evicting
// (and logging, via the caller) any stale entry: at most one live entry
// per vCPU.
func (r *registry) syscallEnter(vcpu uint32, e *Event) (stale *Event, hadStale bool) {
	r.syscallMu.Lock()
	defer r.syscallMu.Unlock()

	r.growSyscallLocked(vcpu)
	slot := &r.syscallByCPU[vcpu]
	if slot.occupied {
		stale, hadStale = slot.event, true
	}
	slot.occupied = true
	slot.event = e
	return stale, hadStale
}

// syscallReturn looks up the in-flight record for vcpu. If present it is
// always removed (on mismatch it is discarded rather than submitted), and
// the caller is told whether num matched so it knows whether to submit.
func (r *registry) syscallReturn(vcpu uint32, num int64, rv int64) (event *Event, matched bool, hadAny bool) {
	r.syscallMu.Lock()
	defer r.syscallMu.Unlock()

	r.growSyscallLocked(vcpu)
	slot := &r.syscallByCPU[vcpu]
	if !slot.occupied {
		return nil, false, false
	}
	event = slot.event
	hadAny = true
	matched = event.Syscall.Num == num
	if matched {
		event.Syscall.Rv = rv
	}
	slot.occupied = false
	slot.event = nil
	return event, matched, hadAny
}

func (r *registry) growSyscallLocked(vcpu uint32) {
	if int(vcpu) < len(r.syscallByCPU) {
		return
	}
	grown := make([]syscallSlot, vcpu+1)
	copy(grown, r.syscallByCPU)
	r.syscallByCPU = grown
}
