package trace

// OnTranslate is the translation handler: called once per translated
// block, before execution, it allocates zero or more partial event
// records, inserts them into the registry, and wires host
// execution/memory hooks pointing at them.
func (c *Context) OnTranslate(tb TranslatedBlock) {
	n := tb.NumInsns()
	if n == 0 {
		return
	}

	if c.loadEmitted.CompareAndSwap(false, true) {
		start, end, entry := c.host.CodeRange()
		c.sender.Submit(newLoadEvent(start, end, entry, 0x7))
	}

	if !c.flags.AnyPerInstruction() {
		return
	}

	// Branch-only mode iterates exactly the block's terminator
	// instruction: start the loop at n-1 directly rather than computing
	// it from an unsigned subtraction that wraps when n is 0 (n==0 is
	// already handled above, but the explicit bound keeps this robust to
	// reordering).
	start := 0
	if c.flags.BranchOnly() {
		start = n - 1
	}

	for i := start; i < n; i++ {
		insn := tb.Insn(i)
		pc := insn.Vaddr()
		isLast := i == n-1

		// PC and INSTRS each register their own execution hook on the
		// same instruction when both are configured, so that instruction
		// fires the execution callback twice with two distinct tokens,
		// once per requested feature, each carrying its own record.
		//
		// Branch-only mode also produces a Pc record for that one
		// instruction even when PC itself isn't configured; otherwise a
		// BRANCHES-only configuration would iterate the terminator and
		// register nothing, leaving branch tracing a no-op.
		if c.flags.Has(FlagPC) || c.flags.BranchOnly() {
			ev := newPcEvent(pc, isLast)
			tok := c.registry.insertInstr(ev)
			c.host.RegisterExecCallback(insn, c.onInstrExec, tok)
		}

		if c.flags.Has(FlagInstrs) {
			ev := newInstrEvent(pc, insn.Data())
			tok := c.registry.insertInstr(ev)
			c.host.RegisterExecCallback(insn, c.onInstrExec, tok)
		}

		if c.flags.Has(FlagMem) {
			ev := newMemAccessEvent(pc)
			tok := c.registry.insertMem(ev)
			c.host.RegisterMemCallback(insn, c.onMemAccess, tok)
			c.host.RegisterExecCallback(insn, c.onMemExec, tok)
		}
	}
}

// onInstrExec is wired to every non-memory per-instruction hook (Pc and
// Instr). Readiness for these events reduces to "execution callback
// observed" because translation wires exactly one execution hook per
// such record.
func (c *Context) onInstrExec(_ uint32, tok Token) {
	ev, ok := c.registry.removeInstrIfPresent(tok)
	if !ok {
		// Already submitted, or a stale token; not an error.
		return
	}
	c.sender.Submit(ev)
}

// onMemExec is the execution half of a two-phase memory event.
func (c *Context) onMemExec(_ uint32, tok Token) {
	ev, ready := c.registry.onExecSeen(tok)
	if !ready {
		return
	}
	c.sender.Submit(ev)
}

// onMemAccess is the memory-access half of a two-phase memory event.
func (c *Context) onMemAccess(_ uint32, addr uint64, info MemInfo, tok Token) {
	ev, ready := c.registry.onMemSeen(tok, addr, info.IsStore())
	if !ready {
		return
	}
	c.sender.Submit(ev)
}
