package proc

// Arch describes the register layout and trap instruction of the traced
// architecture.
type Arch struct {
	Name string
	// PtrSize is the size of a machine word and of a return address on
	// the stack.
	PtrSize int
	// BreakpointInstruction is the one byte trap opcode.
	BreakpointInstruction byte
	// MaxInstructionLen is the longest encoding the decoder may need.
	MaxInstructionLen int
}

// AMD64 is the only supported architecture. 0xCC is INT 3, the software
// breakpoint trap interrupt.
var AMD64 = &Arch{
	Name:                  "amd64",
	PtrSize:               8,
	BreakpointInstruction: 0xCC,
	MaxInstructionLen:     15,
}

// BreakpointSize is the amount the program counter advances when the trap
// instruction executes.
func (a *Arch) BreakpointSize() uint64 {
	return 1
}
