package proc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"syscall"
)

var (
	// ErrResolutionIncomplete is returned when debug information does not
	// contain every requested function.
	ErrResolutionIncomplete = errors.New("could not resolve all functions")
	// ErrMemoryAccess is returned when reading or writing registers or
	// memory of the traced process fails.
	ErrMemoryAccess = errors.New("memory access failed")
	// ErrProcessExited is returned by any operation on a process that has
	// already exited or was killed by a signal.
	ErrProcessExited = errors.New("process has exited")
	// ErrLaunchFailed is returned when the target could not be started
	// under ptrace.
	ErrLaunchFailed = errors.New("launch failed")
)

// ResolutionError describes which functions could not be resolved.
type ResolutionError struct {
	Path    string
	Missing []string
	// Suggestions maps a missing name to similarly named subprograms
	// found in the binary.
	Suggestions map[string][]string
}

func (e *ResolutionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "could not find function(s) %s in %s", strings.Join(e.Missing, ", "), e.Path)
	missing := make([]string, 0, len(e.Suggestions))
	for name := range e.Suggestions {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	for _, name := range missing {
		if s := e.Suggestions[name]; len(s) > 0 {
			fmt.Fprintf(&buf, "; did you mean %s instead of %s?", strings.Join(s, " or "), name)
		}
	}
	return buf.String()
}

func (e *ResolutionError) Unwrap() error { return ErrResolutionIncomplete }

// MemoryAccessError is returned when a peek or poke on the traced
// process fails.
type MemoryAccessError struct {
	Op   string
	Addr uint64
	Err  error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("could not %s at %#x: %v", e.Op, e.Addr, e.Err)
}

// Is reports ErrMemoryAccess as well as the underlying error, so that a
// failure caused by the child exiting still matches ErrProcessExited.
func (e *MemoryAccessError) Is(target error) bool { return target == ErrMemoryAccess }

func (e *MemoryAccessError) Unwrap() error { return e.Err }

// LaunchError is returned when the target could not be started.
type LaunchError struct {
	Cmd []string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("could not launch %q: %v", strings.Join(e.Cmd, " "), e.Err)
}

func (e *LaunchError) Is(target error) bool { return target == ErrLaunchFailed }

func (e *LaunchError) Unwrap() error { return e.Err }

// ProcessExitedError indicates that the process has exited and contains both
// process id and exit status. Signal is set instead of Status when the
// process was terminated by a signal.
type ProcessExitedError struct {
	Pid    int
	Status int
	Signal syscall.Signal
}

func (pe ProcessExitedError) Error() string {
	if pe.Signal != 0 {
		return fmt.Sprintf("process %d was terminated by signal %v", pe.Pid, pe.Signal)
	}
	return fmt.Sprintf("process %d has exited with status %d", pe.Pid, pe.Status)
}

func (pe ProcessExitedError) Is(target error) bool { return target == ErrProcessExited }
