package trace

// OnSyscallEnter is the syscall-enter handler: it installs a new
// in-flight record for vcpu, evicting any stale entry left behind by a
// syscall that never returned.
func (c *Context) OnSyscallEnter(vcpu uint32, num int64, args [8]uint64) {
	ev := newSyscallEvent(num, args)
	stale, hadStale := c.registry.syscallEnter(vcpu, ev)
	if hadStale {
		c.log.Warn("trace: syscall enter evicted a stale in-flight syscall",
			"vcpu", vcpu, "stale_num", stale.Syscall.Num, "new_num", num)
	}
}

// OnSyscallReturn is the syscall-return handler: ready means "return
// observed with a matching num". A mismatch, or a return with no
// recorded enter, is logged and discarded without synthesizing an event.
func (c *Context) OnSyscallReturn(vcpu uint32, num int64, rv int64) {
	ev, matched, hadAny := c.registry.syscallReturn(vcpu, num, rv)
	if !hadAny {
		c.log.Warn("trace: syscall return with no matching enter", "vcpu", vcpu, "num", num)
		return
	}
	if !matched {
		c.log.Warn("trace: syscall return num mismatch, discarding stale entry",
			"vcpu", vcpu, "entered_num", ev.Syscall.Num, "returned_num", num)
		return
	}
	c.sender.Submit(ev)
}

// OnExit is the atexit handler: it flushes and tears down the sender.
// Any remaining partial events in the registry are leaked, since they
// are incomplete by definition and the process is exiting.
func (c *Context) OnExit() {
	c.sender.Teardown()
}
