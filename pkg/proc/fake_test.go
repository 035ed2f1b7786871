package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"syscall"
)

// fakeTarget is an in-memory Target executing a program of abstract
// instructions. Code lives in byte addressed memory so that breakpoints
// are real trap bytes: executing one stops the machine with SIGTRAP and
// leaves the program counter past it, like the hardware does.

type opKind uint8

const (
	opNop opKind = iota
	opCall
	opRet
	opExit
	opRaise
	opAbort
	opTrap
)

var opcodes = map[opKind]byte{
	opNop:   0x90,
	opCall:  0xe8,
	opRet:   0xc3,
	opExit:  0x0f,
	opRaise: 0x0e,
	opAbort: 0x0d,
	opTrap:  0xcc,
}

type fakeInst struct {
	kind   opKind
	len    int
	callee string
	// times limits how many times a call is taken; after that it
	// behaves as a nop. Zero means always.
	times int
	code  int
	sig   syscall.Signal

	taken int
}

func nop(n int) *fakeInst { return &fakeInst{kind: opNop, len: n} }

func call(fn string) *fakeInst { return &fakeInst{kind: opCall, len: 5, callee: fn} }

func callN(fn string, times int) *fakeInst {
	return &fakeInst{kind: opCall, len: 5, callee: fn, times: times}
}

func ret() *fakeInst { return &fakeInst{kind: opRet, len: 1} }

func exit(code int) *fakeInst { return &fakeInst{kind: opExit, len: 2, code: code} }

func raise(sig syscall.Signal) *fakeInst { return &fakeInst{kind: opRaise, len: 2, sig: sig} }

// trap is a breakpoint compiled into the program.
func trap() *fakeInst { return &fakeInst{kind: opTrap, len: 1} }

func abort(sig syscall.Signal) *fakeInst { return &fakeInst{kind: opAbort, len: 2, sig: sig} }

const (
	fakeStackTop = 0x7ff000
	fakePid      = 4242
)

type fakeProgram struct {
	funcs map[string]uint64
	insts map[uint64]*fakeInst
	mem   map[uint64]byte
	next  uint64
	start uint64
}

func newFakeProgram() *fakeProgram {
	return &fakeProgram{
		funcs: make(map[string]uint64),
		insts: make(map[uint64]*fakeInst),
		mem:   make(map[uint64]byte),
		next:  0x401000,
	}
}

// fn lays out a function after the previous one.
func (p *fakeProgram) fn(name string, insts ...*fakeInst) uint64 {
	entry := p.next
	p.funcs[name] = entry
	addr := entry
	for _, inst := range insts {
		p.insts[addr] = inst
		p.mem[addr] = opcodes[inst.kind]
		for i := 1; i < inst.len; i++ {
			p.mem[addr+uint64(i)] = byte(addr) + byte(i)
		}
		addr += uint64(inst.len)
	}
	p.next = (addr + 0xf) &^ 0xf
	if name == "main" {
		p.start = entry
	}
	return entry
}

// Resolve implements Resolver.
func (p *fakeProgram) Resolve(path string, names []string) (map[string]uint64, error) {
	r := make(map[string]uint64)
	for _, name := range names {
		if entry, ok := p.funcs[name]; ok {
			r[name] = entry
		}
	}
	return r, nil
}

type fakeTarget struct {
	prog *fakeProgram
	mem  map[uint64]byte
	pc   uint64
	sp   uint64

	running  bool
	exited   bool
	killed   bool
	status   int
	executed int

	delivered []syscall.Signal
	continues int

	failPeek map[uint64]bool
	failPoke map[uint64]bool
	failStep int
}

var errFakeFault = errors.New("input/output error")

func newFakeTarget(prog *fakeProgram) *fakeTarget {
	mem := make(map[uint64]byte, len(prog.mem))
	for k, v := range prog.mem {
		mem[k] = v
	}
	return &fakeTarget{
		prog:     prog,
		mem:      mem,
		pc:       prog.start,
		sp:       fakeStackTop,
		failPeek: make(map[uint64]bool),
		failPoke: make(map[uint64]bool),
		failStep: -1,
	}
}

func (t *fakeTarget) launcher() Launcher {
	return func(cmd []string, wd string) (Target, error) { return t, nil }
}

func (t *fakeTarget) gone() error {
	if t.exited {
		return ProcessExitedError{Pid: fakePid, Status: t.status}
	}
	return nil
}

func (t *fakeTarget) Pid() int     { return fakePid }
func (t *fakeTarget) Exited() bool { return t.exited }

func (t *fakeTarget) PC() (uint64, error) { return t.pc, t.gone() }
func (t *fakeTarget) SP() (uint64, error) { return t.sp, t.gone() }

func (t *fakeTarget) SetPC(pc uint64) error {
	if err := t.gone(); err != nil {
		return err
	}
	t.pc = pc
	return nil
}

func (t *fakeTarget) PeekWord(addr uint64) (uint64, error) {
	if err := t.gone(); err != nil {
		return 0, err
	}
	if t.failPeek[addr] {
		return 0, errFakeFault
	}
	var buf [8]byte
	for i := range buf {
		buf[i] = t.mem[addr+uint64(i)]
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (t *fakeTarget) PokeWord(addr, word uint64) error {
	if err := t.gone(); err != nil {
		return err
	}
	if t.failPoke[addr] {
		return errFakeFault
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	for i := range buf {
		t.mem[addr+uint64(i)] = buf[i]
	}
	return nil
}

func (t *fakeTarget) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := t.gone(); err != nil {
		return 0, err
	}
	for i := range buf {
		buf[i] = t.mem[addr+uint64(i)]
	}
	return len(buf), nil
}

func (t *fakeTarget) SingleStep() error {
	if err := t.gone(); err != nil {
		return err
	}
	if t.failStep == 0 {
		return errFakeFault
	}
	if t.failStep > 0 {
		t.failStep--
	}
	_, err := t.exec()
	if err != nil {
		return err
	}
	return t.gone()
}

func (t *fakeTarget) Continue() error {
	return t.ContinueWithSignal(0)
}

func (t *fakeTarget) ContinueWithSignal(sig syscall.Signal) error {
	if err := t.gone(); err != nil {
		return err
	}
	if t.running {
		return errors.New("process already running")
	}
	if sig != 0 {
		t.delivered = append(t.delivered, sig)
	}
	t.continues++
	t.running = true
	return nil
}

func (t *fakeTarget) Wait() (StopEvent, error) {
	if err := t.gone(); err != nil {
		return StopEvent{}, err
	}
	if !t.running {
		return StopEvent{}, errors.New("wait on a stopped process")
	}
	t.running = false
	for {
		ev, err := t.exec()
		if err != nil {
			return StopEvent{}, err
		}
		if ev != nil {
			return *ev, nil
		}
	}
}

func (t *fakeTarget) Kill() error {
	if t.exited {
		return nil
	}
	t.exited = true
	t.killed = true
	t.running = false
	t.status = -1
	return nil
}

func (t *fakeTarget) push(v uint64) {
	t.sp -= 8
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for i := range buf {
		t.mem[t.sp+uint64(i)] = buf[i]
	}
}

func (t *fakeTarget) pop() uint64 {
	var buf [8]byte
	for i := range buf {
		buf[i] = t.mem[t.sp+uint64(i)]
	}
	t.sp += 8
	return binary.LittleEndian.Uint64(buf[:])
}

// exec executes the instruction at pc and returns the stop it causes, if
// any.
func (t *fakeTarget) exec() (*StopEvent, error) {
	if t.mem[t.pc] == AMD64.BreakpointInstruction {
		t.pc++
		return &StopEvent{Reason: StopStopped, Signal: syscall.SIGTRAP}, nil
	}
	inst, ok := t.prog.insts[t.pc]
	if !ok {
		return nil, fmt.Errorf("no instruction at %#x", t.pc)
	}
	if t.mem[t.pc] != opcodes[inst.kind] {
		return nil, fmt.Errorf("corrupted instruction at %#x: %#x", t.pc, t.mem[t.pc])
	}
	for i := 1; i < inst.len; i++ {
		if t.mem[t.pc+uint64(i)] != t.prog.mem[t.pc+uint64(i)] {
			return nil, fmt.Errorf("corrupted instruction at %#x", t.pc)
		}
	}
	t.executed++
	next := t.pc + uint64(inst.len)
	switch inst.kind {
	case opNop:
		t.pc = next
	case opCall:
		if inst.times > 0 && inst.taken >= inst.times {
			t.pc = next
			break
		}
		inst.taken++
		t.push(next)
		t.pc = t.prog.funcs[inst.callee]
	case opRet:
		t.pc = t.pop()
	case opExit:
		t.exited = true
		t.status = inst.code
		return &StopEvent{Reason: StopExited, ExitCode: inst.code}, nil
	case opRaise:
		t.pc = next
		return &StopEvent{Reason: StopStopped, Signal: inst.sig}, nil
	case opAbort:
		t.exited = true
		t.status = -1
		return &StopEvent{Reason: StopSignaled, Signal: inst.sig}, nil
	}
	return nil, nil
}
