package proc

import (
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/arch/x86/x86asm"
)

// DefaultDisasmCacheSize is the number of decoded instructions kept by the
// step log.
const DefaultDisasmCacheSize = 4096

// AsmInstruction is a decoded instruction of the traced process.
type AsmInstruction struct {
	Loc  uint64
	Len  int
	Text string
	Ret  bool
}

// stepDecoder disassembles the instruction about to be stepped. Decoded
// instructions are cached by address: code of the target is not expected
// to change, with the exception of breakpoint sites, which are never
// cached.
type stepDecoder struct {
	arch  *Arch
	cache *lru.Cache
	buf   []byte
}

func newStepDecoder(arch *Arch, size int) (*stepDecoder, error) {
	if size <= 0 {
		size = DefaultDisasmCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &stepDecoder{arch: arch, cache: cache, buf: make([]byte, arch.MaxInstructionLen)}, nil
}

func (d *stepDecoder) decode(t Target, pc uint64) (AsmInstruction, error) {
	if v, ok := d.cache.Get(pc); ok {
		return v.(AsmInstruction), nil
	}
	n, err := t.ReadMemory(d.buf, pc)
	if err != nil {
		return AsmInstruction{}, &MemoryAccessError{Op: "read instruction", Addr: pc, Err: err}
	}
	inst, err := DecodeInstruction(d.buf[:n], pc)
	if err != nil {
		return AsmInstruction{}, err
	}
	if n > 0 && d.buf[0] != d.arch.BreakpointInstruction {
		d.cache.Add(pc, inst)
	}
	return inst, nil
}

// DecodeInstruction decodes the amd64 instruction at the start of mem,
// which was read from address pc.
func DecodeInstruction(mem []byte, pc uint64) (AsmInstruction, error) {
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		return AsmInstruction{}, err
	}
	return AsmInstruction{
		Loc:  pc,
		Len:  inst.Len,
		Text: x86asm.GNUSyntax(inst, pc, nil),
		Ret:  inst.Op == x86asm.RET,
	}, nil
}
