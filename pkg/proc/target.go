package proc

import (
	"fmt"
	"syscall"
)

// Memory is the word-granular view of the traced process' address space
// used to plant and remove breakpoints.
type Memory interface {
	// PeekWord reads the machine word stored at addr.
	PeekWord(addr uint64) (uint64, error)
	// PokeWord writes word at addr.
	PokeWord(addr, word uint64) error
}

// Target is a traced child process. Every method except Continue blocks
// until the request completed; Continue returns as soon as the resume
// request was issued and progress is observed through Wait.
//
// Once Wait, SingleStep or Kill observed the end of the process every
// method fails with an error matching ErrProcessExited.
type Target interface {
	Memory

	Pid() int
	// Exited reports whether the process is known to be gone.
	Exited() bool

	PC() (uint64, error)
	SP() (uint64, error)
	SetPC(pc uint64) error
	// ReadMemory fills buf with the memory at addr.
	ReadMemory(buf []byte, addr uint64) (int, error)

	// SingleStep executes exactly one instruction and waits for the
	// following stop.
	SingleStep() error
	// Continue resumes the process without delivering a signal.
	Continue() error
	// ContinueWithSignal resumes the process delivering sig to it.
	ContinueWithSignal(sig syscall.Signal) error
	// Wait blocks until the process changes state.
	Wait() (StopEvent, error)
	// Kill terminates the process and reaps it. Killing a process that
	// already exited is not an error.
	Kill() error
}

// Launcher starts cmd under trace control with wd as working directory
// and returns it stopped at its first instruction.
type Launcher func(cmd []string, wd string) (Target, error)

// StopReason is the kind of state change reported by Target.Wait.
type StopReason uint8

const (
	// StopStopped means the process is stopped and can be manipulated.
	StopStopped StopReason = iota
	// StopExited means the process exited normally.
	StopExited
	// StopSignaled means the process was terminated by a signal.
	StopSignaled
)

// StopEvent describes a state change of the traced process.
type StopEvent struct {
	Reason   StopReason
	ExitCode int
	// Signal is the stop signal for StopStopped and the terminating
	// signal for StopSignaled.
	Signal syscall.Signal
}

func (ev StopEvent) String() string {
	switch ev.Reason {
	case StopExited:
		return fmt.Sprintf("exited with status %d", ev.ExitCode)
	case StopSignaled:
		return fmt.Sprintf("terminated by signal %d (%v)", int(ev.Signal), ev.Signal)
	default:
		return fmt.Sprintf("stopped by signal %d (%v)", int(ev.Signal), ev.Signal)
	}
}

// Trap reports whether the event is a SIGTRAP stop.
func (ev StopEvent) Trap() bool {
	return ev.Reason == StopStopped && ev.Signal == syscall.SIGTRAP
}
