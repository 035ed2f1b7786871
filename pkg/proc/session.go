package proc

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/go-delve/icount/pkg/logflags"
)

// Resolver maps function names to entry addresses using the debug
// information of the executable at path. Names that cannot be found are
// left out of the returned map; a shorter map is not an error by itself.
type Resolver interface {
	Resolve(path string, names []string) (map[string]uint64, error)
}

// Config describes one tracing run.
type Config struct {
	// Cmd is the target program followed by its arguments.
	Cmd        []string
	WorkingDir string

	// Functions are counted on every invocation.
	Functions []string
	// Passthrough functions are resolved and armed but never counted.
	Passthrough []string

	// StepLog disassembles every stepped instruction into the steps log.
	StepLog         bool
	DisasmCacheSize int
}

// Result is the outcome of a completed tracing run.
type Result struct {
	Pid      int
	Exited   bool
	ExitCode int
	Signaled bool
	Signal   syscall.Signal
	// Invocations is the number of counts delivered to the sink.
	Invocations int
}

func (r *Result) String() string {
	if r.Signaled {
		return fmt.Sprintf("process %d terminated by signal %v", r.Pid, r.Signal)
	}
	return fmt.Sprintf("process %d has exited with status %d", r.Pid, r.ExitCode)
}

// Session ties the function table, the traced process and the results
// sink together. Sessions are not safe for concurrent use.
type Session struct {
	conf  *Config
	arch  *Arch
	table *FunctionTable
	sink  Sink

	t      Target
	engine *Engine
	log    logflags.Logger
}

// NewSession resolves every function named in conf and builds the frozen
// function table. Nothing is launched: a resolution failure leaves no
// process behind.
func NewSession(resolver Resolver, conf *Config, sink Sink) (*Session, error) {
	if len(conf.Cmd) == 0 {
		return nil, errors.New("no program to trace")
	}
	names := uniqueNames(conf.Functions, conf.Passthrough)
	if len(names) == 0 {
		return nil, errors.New("no functions to trace")
	}

	log := logflags.TracerLogger()
	addrs, err := resolver.Resolve(conf.Cmd[0], names)
	if err != nil {
		return nil, err
	}
	if missing := missingNames(names, addrs); len(missing) > 0 {
		return nil, &ResolutionError{Path: conf.Cmd[0], Missing: missing}
	}
	table, err := BuildFunctionTable(names, addrs)
	if err != nil {
		return nil, err
	}
	passthrough := make(map[string]bool, len(conf.Passthrough))
	for _, name := range conf.Passthrough {
		passthrough[name] = true
	}
	for _, name := range conf.Functions {
		delete(passthrough, name)
	}
	for _, fn := range table.Functions() {
		fn.Passthrough = passthrough[fn.Name]
		log.Debugf("resolved %s (passthrough=%v)", fn, fn.Passthrough)
	}

	return &Session{
		conf:  conf,
		arch:  AMD64,
		table: table,
		sink:  sink,
		log:   log,
	}, nil
}

// uniqueNames returns the names of both lists in order, without
// duplicates.
func uniqueNames(lists ...[]string) []string {
	seen := make(map[string]bool)
	var r []string
	for _, list := range lists {
		for _, name := range list {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			r = append(r, name)
		}
	}
	return r
}

// Table returns the function table of the session.
func (s *Session) Table() *FunctionTable { return s.table }

// Target returns the traced process, nil before Launch.
func (s *Session) Target() Target { return s.t }

// Launch starts the target through launch, arms every breakpoint and
// resumes it.
func (s *Session) Launch(launch Launcher) error {
	if s.t != nil {
		return errors.New("session already launched")
	}
	t, err := launch(s.conf.Cmd, s.conf.WorkingDir)
	if err != nil {
		return err
	}
	s.t = t
	s.log.Infof("launched %q as process %d", s.conf.Cmd[0], t.Pid())
	s.engine = NewEngine(t, s.arch, s.table, s.sink)
	if s.conf.StepLog {
		if err := s.engine.EnableStepLog(s.conf.DisasmCacheSize); err != nil {
			return s.fatal(err)
		}
	}
	// InstallAll kills the process itself when it fails.
	return InstallAll(t, s.arch, s.table)
}

// Run dispatches the stops of the target until it exits or is terminated
// by a signal. Any other error is fatal: the target is killed before Run
// returns.
func (s *Session) Run() (*Result, error) {
	if s.t == nil {
		return nil, errors.New("session not launched")
	}
	for {
		ev, err := s.t.Wait()
		if err != nil {
			return nil, s.fatal(err)
		}
		switch ev.Reason {
		case StopExited:
			r := s.result(ev)
			s.log.Infof("%v", r)
			return r, nil
		case StopSignaled:
			r := s.result(ev)
			s.log.Warnf("%v", r)
			return r, nil
		}
		if err := s.dispatch(ev); err != nil {
			if pe, ok := s.engine.Exit(); ok {
				r := s.result(pe.stopEvent())
				s.log.Infof("%v", r)
				return r, nil
			}
			return nil, s.fatal(err)
		}
	}
}

func (s *Session) dispatch(ev StopEvent) error {
	if !ev.Trap() {
		switch ev.Signal {
		case syscall.SIGSTOP, syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU:
			// Reinjecting a stop signal would only stop the child again.
			s.log.Debugf("ignoring %v", ev.Signal)
			return s.t.Continue()
		}
		s.log.Debugf("forwarding %v", ev.Signal)
		return s.t.ContinueWithSignal(ev.Signal)
	}

	pc, err := s.t.PC()
	if err != nil {
		return err
	}
	fn, ok := s.table.Find(pc - uint64(s.arch.BreakpointSize()))
	if !ok {
		s.log.Debugf("trap at %#x does not belong to a traced function", pc)
		return s.t.Continue()
	}
	if fn.Passthrough {
		return s.engine.Passthrough(fn)
	}
	_, err = s.engine.Count(fn)
	return err
}

func (pe ProcessExitedError) stopEvent() StopEvent {
	if pe.Signal != 0 {
		return StopEvent{Reason: StopSignaled, Signal: pe.Signal}
	}
	return StopEvent{Reason: StopExited, ExitCode: pe.Status}
}

func (s *Session) result(ev StopEvent) *Result {
	r := &Result{Pid: s.t.Pid(), Invocations: s.engine.Counted()}
	if ev.Reason == StopSignaled {
		r.Signaled = true
		r.Signal = ev.Signal
	} else {
		r.Exited = true
		r.ExitCode = ev.ExitCode
	}
	return r
}

// fatal kills the target and returns err.
func (s *Session) fatal(err error) error {
	s.log.WithError(err).Error("tracing aborted")
	if kerr := s.t.Kill(); kerr != nil {
		s.log.WithError(kerr).Warn("could not kill target")
	}
	return err
}

// Close kills the target if it is still running.
func (s *Session) Close() error {
	if s.t == nil || s.t.Exited() {
		return nil
	}
	return s.t.Kill()
}
