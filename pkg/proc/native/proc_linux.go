//go:build linux && amd64

package native

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/go-delve/icount/pkg/logflags"
	"github.com/go-delve/icount/pkg/proc"
	sys "golang.org/x/sys/unix"
)

// Launch creates and begins tracing a new process. The process is
// returned stopped after execve, before any of its instructions ran.
func Launch(cmd []string, wd string) (*Process, error) {
	if len(cmd) == 0 {
		return nil, &proc.LaunchError{Cmd: cmd, Err: errors.New("empty command line")}
	}

	var (
		process *exec.Cmd
		err     error
	)
	dbp := newProcess(0)
	dbp.execPtraceFunc(func() {
		process = exec.Command(cmd[0])
		process.Args = cmd
		process.Stdin = os.Stdin
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
		process.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:  true,
			Setpgid: true,
		}
		if wd != "" {
			process.Dir = wd
		}
		err = process.Start()
	})
	if err != nil {
		dbp.stopPtraceFuncs()
		return nil, &proc.LaunchError{Cmd: cmd, Err: err}
	}
	dbp.pid = process.Process.Pid
	dbp.log.Debugf("started %s as %d", cmd[0], dbp.pid)

	_, status, err := dbp.wait(dbp.pid, 0)
	if err != nil {
		_ = dbp.Kill()
		return nil, &proc.LaunchError{Cmd: cmd, Err: fmt.Errorf("waiting for target execve failed: %w", err)}
	}
	if !status.Stopped() {
		dbp.postExit(exitedError(dbp.pid, status))
		return nil, &proc.LaunchError{Cmd: cmd, Err: dbp.exit}
	}

	dbp.execPtraceFunc(func() { err = sys.PtraceSetOptions(dbp.pid, sys.PTRACE_O_EXITKILL) })
	if err != nil {
		_ = dbp.Kill()
		return nil, &proc.LaunchError{Cmd: cmd, Err: fmt.Errorf("could not set ptrace options: %w", err)}
	}
	return dbp, nil
}

// Launcher is Launch as a proc.Launcher.
func Launcher(cmd []string, wd string) (proc.Target, error) {
	p, err := Launch(cmd, wd)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (dbp *Process) wait(pid, options int) (int, *sys.WaitStatus, error) {
	var s sys.WaitStatus
	for {
		wpid, err := sys.Wait4(pid, &s, sys.WALL|options, nil)
		if err == sys.EINTR {
			continue
		}
		return wpid, &s, err
	}
}

func exitedError(pid int, status *sys.WaitStatus) proc.ProcessExitedError {
	if status.Signaled() {
		return proc.ProcessExitedError{Pid: pid, Signal: status.Signal()}
	}
	return proc.ProcessExitedError{Pid: pid, Status: status.ExitStatus()}
}

// Wait blocks until the process stops or terminates.
func (dbp *Process) Wait() (proc.StopEvent, error) {
	if err := dbp.exitedErr(); err != nil {
		return proc.StopEvent{}, err
	}
	_, status, err := dbp.wait(dbp.pid, 0)
	if err != nil {
		return proc.StopEvent{}, err
	}
	switch {
	case status.Exited():
		dbp.postExit(exitedError(dbp.pid, status))
		return proc.StopEvent{Reason: proc.StopExited, ExitCode: status.ExitStatus()}, nil
	case status.Signaled():
		dbp.postExit(exitedError(dbp.pid, status))
		return proc.StopEvent{Reason: proc.StopSignaled, Signal: status.Signal()}, nil
	case status.Stopped():
		if logflags.Ptrace() {
			dbp.log.Debugf("process %d stopped by %v", dbp.pid, status.StopSignal())
		}
		return proc.StopEvent{Reason: proc.StopStopped, Signal: status.StopSignal()}, nil
	}
	return proc.StopEvent{}, fmt.Errorf("unexpected wait status %#x for process %d", uint32(*status), dbp.pid)
}

// Continue resumes the process, delivering the signal received during
// the last single step, if any.
func (dbp *Process) Continue() error {
	sig := dbp.delayedSignal
	dbp.delayedSignal = 0
	return dbp.resumeWithSig(sig)
}

// ContinueWithSignal resumes the process delivering sig.
func (dbp *Process) ContinueWithSignal(sig syscall.Signal) error {
	return dbp.resumeWithSig(int(sig))
}

func (dbp *Process) resumeWithSig(sig int) (err error) {
	if err := dbp.exitedErr(); err != nil {
		return err
	}
	dbp.execPtraceFunc(func() { err = ptraceCont(dbp.pid, sig) })
	return err
}

// SingleStep executes exactly one instruction of the process.
func (dbp *Process) SingleStep() (err error) {
	if err := dbp.exitedErr(); err != nil {
		return err
	}
	sig := 0
	for {
		dbp.execPtraceFunc(func() { err = ptraceSingleStep(dbp.pid, sig) })
		sig = 0
		if err != nil {
			return err
		}
		_, status, err := dbp.wait(dbp.pid, 0)
		if err != nil {
			return err
		}
		if status.Exited() || status.Signaled() {
			dbp.postExit(exitedError(dbp.pid, status))
			return dbp.exit
		}
		switch s := status.StopSignal(); s {
		case sys.SIGTRAP:
			return nil
		case sys.SIGSTOP:
			// delayed SIGSTOP, ignore it
		case sys.SIGILL, sys.SIGBUS, sys.SIGFPE, sys.SIGSEGV, sys.SIGSTKFLT:
			// propagate signals that can have been caused by the current instruction
			sig = int(s)
		default:
			// delay propagation of all other signals
			dbp.delayedSignal = int(s)
		}
	}
}

// Kill kills the process group of the target and reaps it.
func (dbp *Process) Kill() error {
	if dbp.exited {
		return nil
	}
	if err := sys.Kill(-dbp.pid, sys.SIGKILL); err != nil && err != sys.ESRCH {
		return errors.New("could not deliver signal " + err.Error())
	}
	for {
		wpid, status, err := dbp.wait(dbp.pid, 0)
		if err == sys.ECHILD {
			dbp.postExit(proc.ProcessExitedError{Pid: dbp.pid, Signal: sys.SIGKILL})
			return nil
		}
		if err != nil {
			return err
		}
		if wpid == dbp.pid && (status.Signaled() || status.Exited()) {
			dbp.postExit(exitedError(dbp.pid, status))
			return nil
		}
	}
}
