package native

import (
	sys "golang.org/x/sys/unix"
)

// Registers reads the general purpose registers of the process.
func (dbp *Process) Registers() (*sys.PtraceRegs, error) {
	if err := dbp.exitedErr(); err != nil {
		return nil, err
	}
	var (
		regs sys.PtraceRegs
		err  error
	)
	dbp.execPtraceFunc(func() { err = sys.PtraceGetRegs(dbp.pid, &regs) })
	if err != nil {
		return nil, err
	}
	return &regs, nil
}

// SetRegisters writes the general purpose registers of the process.
func (dbp *Process) SetRegisters(regs *sys.PtraceRegs) (err error) {
	if err := dbp.exitedErr(); err != nil {
		return err
	}
	dbp.execPtraceFunc(func() { err = sys.PtraceSetRegs(dbp.pid, regs) })
	return err
}

// PC returns the instruction pointer.
func (dbp *Process) PC() (uint64, error) {
	regs, err := dbp.Registers()
	if err != nil {
		return 0, err
	}
	return regs.Rip, nil
}

// SP returns the stack pointer.
func (dbp *Process) SP() (uint64, error) {
	regs, err := dbp.Registers()
	if err != nil {
		return 0, err
	}
	return regs.Rsp, nil
}

// SetPC moves the instruction pointer to pc.
func (dbp *Process) SetPC(pc uint64) error {
	regs, err := dbp.Registers()
	if err != nil {
		return err
	}
	regs.Rip = pc
	return dbp.SetRegisters(regs)
}
