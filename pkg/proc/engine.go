package proc

import (
	"errors"

	"github.com/go-delve/icount/pkg/logflags"
)

// Engine counts the instructions executed by one invocation of a traced
// function. It is driven by the event loop every time the child stops on
// one of the breakpoints of the table.
//
// Nested invocations, including recursive ones, are not tracked as
// separate frames: their instructions are part of the count of the
// outermost invocation, which ends when the program counter reaches the
// return address captured at its entry.
type Engine struct {
	t     Target
	arch  *Arch
	table *FunctionTable
	sink  Sink
	log   logflags.Logger

	steps    *stepDecoder
	stepsLog logflags.Logger

	counted int
	exit    *ProcessExitedError
}

// NewEngine returns an engine operating on t. If sink is nil counts are
// discarded.
func NewEngine(t Target, arch *Arch, table *FunctionTable, sink Sink) *Engine {
	if sink == nil {
		sink = SinkFunc(func(*Function, uint64) {})
	}
	return &Engine{
		t:     t,
		arch:  arch,
		table: table,
		sink:  sink,
		log:   logflags.TracerLogger(),
	}
}

// EnableStepLog disassembles and logs every instruction stepped while
// counting.
func (e *Engine) EnableStepLog(cacheSize int) error {
	d, err := newStepDecoder(e.arch, cacheSize)
	if err != nil {
		return err
	}
	e.steps = d
	e.stepsLog = logflags.StepsLogger()
	return nil
}

// Counted returns the number of invocations delivered to the sink.
func (e *Engine) Counted() int { return e.counted }

// Exit returns the exit of the process observed while stepping off a
// return address, after the invocation was already complete.
func (e *Engine) Exit() (ProcessExitedError, bool) {
	if e.exit == nil {
		return ProcessExitedError{}, false
	}
	return *e.exit, true
}

// Count runs one invocation of fn to completion. The child must be
// stopped on the breakpoint of fn, with the program counter one byte past
// the entry point. On return the breakpoint is armed again, the child has
// been resumed and the count was delivered to the sink.
//
// If the process exits while stepping off the return address the count is
// still delivered and the exit is returned as an error and through Exit.
func (e *Engine) Count(fn *Function) (uint64, error) {
	// The trap fired on the first instruction, before the function
	// touched the stack: the word at SP is the return address pushed by
	// the call.
	retaddr, err := e.returnAddress()
	if err != nil {
		return 0, err
	}
	if logflags.Tracer() {
		e.log.WithField("function", fn.Name).Debugf("entered %s, returns to %#x", fn, retaddr)
	}

	if err := e.replayEntry(fn); err != nil {
		return 0, err
	}
	count := uint64(1)

	for {
		pc, err := e.t.PC()
		if err != nil {
			return 0, e.registerError("read program counter", err)
		}
		if pc == retaddr {
			break
		}
		if err := e.step(pc); err != nil {
			return 0, err
		}
		count++
	}

	// Step off the return address with the entry disarmed, the caller
	// may call fn again right away. Then arm it for future calls.
	if err := RemoveBreakpoint(e.t, fn); err != nil {
		return 0, err
	}
	if err := e.t.SingleStep(); err != nil {
		var pe ProcessExitedError
		if errors.As(err, &pe) {
			// The caller ended the process right after the call site.
			e.exit = &pe
			e.deliver(fn, count)
			return count, err
		}
		return 0, err
	}
	if err := InstallBreakpoint(e.t, e.arch, fn); err != nil {
		return 0, err
	}
	if err := e.t.Continue(); err != nil {
		return 0, err
	}

	if logflags.Tracer() {
		e.log.WithField("function", fn.Name).Debugf("%s returned after %d instructions", fn.Name, count)
	}
	e.deliver(fn, count)
	return count, nil
}

func (e *Engine) deliver(fn *Function, count uint64) {
	e.counted++
	e.sink.Record(fn, count)
}

// Passthrough steps the child over the breakpoint of fn without counting
// and resumes it.
func (e *Engine) Passthrough(fn *Function) error {
	if logflags.Tracer() {
		e.log.WithField("function", fn.Name).Debugf("passing through %s", fn)
	}
	if err := e.replayEntry(fn); err != nil {
		return err
	}
	return e.t.Continue()
}

// replayEntry undoes the trap of fn and executes the original first
// instruction, leaving the breakpoint armed again so that a re-entry
// during the invocation traps.
func (e *Engine) replayEntry(fn *Function) error {
	if err := e.t.SetPC(fn.Entry); err != nil {
		return e.registerError("rewind program counter", err)
	}
	if err := RemoveBreakpoint(e.t, fn); err != nil {
		return err
	}
	e.logStep(fn.Entry)
	if err := e.t.SingleStep(); err != nil {
		return err
	}
	return InstallBreakpoint(e.t, e.arch, fn)
}

// step executes the instruction at pc. When pc is the armed entry point
// of a traced function, which happens for nested and recursive calls, the
// original instruction is executed in place of the trap.
func (e *Engine) step(pc uint64) error {
	if nested, ok := e.table.Find(pc); ok {
		if logflags.Tracer() {
			e.log.Debugf("nested call of %s", nested)
		}
		if err := RemoveBreakpoint(e.t, nested); err != nil {
			return err
		}
		e.logStep(pc)
		if err := e.t.SingleStep(); err != nil {
			return err
		}
		return InstallBreakpoint(e.t, e.arch, nested)
	}
	e.logStep(pc)
	return e.t.SingleStep()
}

func (e *Engine) returnAddress() (uint64, error) {
	sp, err := e.t.SP()
	if err != nil {
		return 0, e.registerError("read stack pointer", err)
	}
	retaddr, err := e.t.PeekWord(sp)
	if err != nil {
		return 0, &MemoryAccessError{Op: "read return address", Addr: sp, Err: err}
	}
	return retaddr, nil
}

func (e *Engine) logStep(pc uint64) {
	if e.steps == nil {
		return
	}
	inst, err := e.steps.decode(e.t, pc)
	if err != nil {
		e.stepsLog.Debugf("%#x: <%v>", pc, err)
		return
	}
	e.stepsLog.Debugf("%#x: %s", pc, inst.Text)
}

// registerError wraps a failed register access. Errors reporting that the
// process is gone are returned unchanged.
func (e *Engine) registerError(op string, err error) error {
	if e.t.Exited() {
		return err
	}
	return &MemoryAccessError{Op: op, Err: err}
}
