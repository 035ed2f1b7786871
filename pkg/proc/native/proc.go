package native

import (
	"runtime"
	"sync"

	"github.com/go-delve/icount/pkg/logflags"
	"github.com/go-delve/icount/pkg/proc"
)

// Process represents a child process traced through ptrace(2).
//
// A Process is driven by a single goroutine; its methods must not be
// called concurrently.
type Process struct {
	pid int // Process Pid

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	stopOnce       sync.Once

	// delayedSignal is a signal received while single stepping, it is
	// delivered with the next Continue.
	delayedSignal int

	exited bool
	exit   proc.ProcessExitedError

	log logflags.Logger
}

// newProcess returns an initialized Process struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess(pid int) *Process {
	dbp := &Process{
		pid:            pid,
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		log:            logflags.PtraceLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Pid returns the process pid.
func (dbp *Process) Pid() int {
	return dbp.pid
}

// Exited reports whether the process has exited or was killed.
func (dbp *Process) Exited() bool {
	return dbp.exited
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_TRACEME to come from the same thread.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

// stopPtraceFuncs terminates the ptrace goroutine.
func (dbp *Process) stopPtraceFuncs() {
	dbp.stopOnce.Do(func() {
		close(dbp.ptraceChan)
	})
}

func (dbp *Process) postExit(exit proc.ProcessExitedError) {
	dbp.exited = true
	dbp.exit = exit
	dbp.stopPtraceFuncs()
	dbp.log.Debugf("%v", exit)
}

// exitedErr returns the error returned by every operation on a process
// that is gone.
func (dbp *Process) exitedErr() error {
	if !dbp.exited {
		return nil
	}
	return dbp.exit
}
