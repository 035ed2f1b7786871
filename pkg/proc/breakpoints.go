package proc

const lowByteMask = uint64(0xFF)

// armWord returns word with its lowest-addressed byte replaced by the
// trap opcode. On little endian targets the lowest-addressed byte is the
// least significant one; the other bytes are preserved.
func armWord(word uint64, trap byte) uint64 {
	return (word &^ lowByteMask) | uint64(trap)
}

// disarmWord returns word with its lowest-addressed byte replaced by the
// lowest byte of saved.
func disarmWord(word, saved uint64) uint64 {
	return (word &^ lowByteMask) | (saved & lowByteMask)
}

// InstallBreakpoint writes the trap opcode over the first byte of fn.
//
// The word at the entry point is remembered in fn.SavedWord unless the
// site already holds a trap planted by us, so installing twice does not
// lose the original byte.
func InstallBreakpoint(mem Memory, arch *Arch, fn *Function) error {
	word, err := mem.PeekWord(fn.Entry)
	if err != nil {
		return &MemoryAccessError{Op: "read breakpoint site", Addr: fn.Entry, Err: err}
	}
	if !fn.saved || byte(word&lowByteMask) != arch.BreakpointInstruction {
		fn.SavedWord = word
		fn.saved = true
	}
	if err := mem.PokeWord(fn.Entry, armWord(word, arch.BreakpointInstruction)); err != nil {
		return &MemoryAccessError{Op: "write breakpoint", Addr: fn.Entry, Err: err}
	}
	return nil
}

// RemoveBreakpoint restores the original first byte of fn. Only the trap
// byte is reverted; the rest of the word is taken from memory as it is
// now.
func RemoveBreakpoint(mem Memory, fn *Function) error {
	word, err := mem.PeekWord(fn.Entry)
	if err != nil {
		return &MemoryAccessError{Op: "read breakpoint site", Addr: fn.Entry, Err: err}
	}
	if err := mem.PokeWord(fn.Entry, disarmWord(word, fn.SavedWord)); err != nil {
		return &MemoryAccessError{Op: "clear breakpoint", Addr: fn.Entry, Err: err}
	}
	return nil
}

// InstallAll plants a breakpoint on every function of the table, in table
// order, then resumes the process. If any installation fails the process
// is killed before the error is returned: a partially instrumented child
// is never left behind.
func InstallAll(t Target, arch *Arch, table *FunctionTable) error {
	for _, fn := range table.Functions() {
		if err := InstallBreakpoint(t, arch, fn); err != nil {
			_ = t.Kill()
			return err
		}
	}
	return t.Continue()
}
