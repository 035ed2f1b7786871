//go:build linux && amd64

package native

import (
	"encoding/binary"
	"fmt"

	sys "golang.org/x/sys/unix"
)

const wordSize = 8

// PeekWord reads the word at addr.
func (dbp *Process) PeekWord(addr uint64) (uint64, error) {
	if err := dbp.exitedErr(); err != nil {
		return 0, err
	}
	var (
		buf [wordSize]byte
		n   int
		err error
	)
	dbp.execPtraceFunc(func() { n, err = sys.PtracePeekText(dbp.pid, uintptr(addr), buf[:]) })
	if err != nil {
		return 0, err
	}
	if n != wordSize {
		return 0, fmt.Errorf("short read at %#x: %d bytes", addr, n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// PokeWord writes word at addr.
func (dbp *Process) PokeWord(addr, word uint64) error {
	if err := dbp.exitedErr(); err != nil {
		return err
	}
	var (
		buf [wordSize]byte
		n   int
		err error
	)
	binary.LittleEndian.PutUint64(buf[:], word)
	dbp.execPtraceFunc(func() { n, err = sys.PtracePokeText(dbp.pid, uintptr(addr), buf[:]) })
	if err != nil {
		return err
	}
	if n != wordSize {
		return fmt.Errorf("short write at %#x: %d bytes", addr, n)
	}
	return nil
}

// ReadMemory reads len(buf) bytes at addr.
func (dbp *Process) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	if err := dbp.exitedErr(); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if n, err = processVmRead(dbp.pid, uintptr(addr), buf); err == nil {
		return n, nil
	}
	// process_vm_readv can be disabled, fall back to ptrace.
	dbp.execPtraceFunc(func() { n, err = sys.PtracePeekData(dbp.pid, uintptr(addr), buf) })
	return n, err
}
