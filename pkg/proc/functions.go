package proc

import (
	"errors"
	"fmt"
	"sort"
)

// Function is a traced function: its name, the address of its first
// instruction and the machine word originally stored there.
type Function struct {
	Name  string
	Entry uint64
	// SavedWord is the word found at Entry the first time a breakpoint
	// was installed. Only its lowest byte is ever written back.
	SavedWord uint64
	// Passthrough functions are stepped over without being counted.
	Passthrough bool

	saved bool
}

func (fn *Function) String() string {
	return fmt.Sprintf("%s at %#x", fn.Name, fn.Entry)
}

// FunctionTable is the set of traced functions. It grows while debug
// information is resolved and is frozen before the child is launched;
// after that it is only read.
type FunctionTable struct {
	fns     []*Function
	byEntry map[uint64]*Function
	frozen  bool
}

// NewFunctionTable returns an empty table.
func NewFunctionTable() *FunctionTable {
	return &FunctionTable{byEntry: make(map[uint64]*Function)}
}

var errTableFrozen = errors.New("function table is frozen")

// Add appends a function resolved to entry.
func (t *FunctionTable) Add(name string, entry uint64) (*Function, error) {
	if t.frozen {
		return nil, errTableFrozen
	}
	if other, ok := t.byEntry[entry]; ok {
		return nil, fmt.Errorf("functions %s and %s share entry address %#x", other.Name, name, entry)
	}
	fn := &Function{Name: name, Entry: entry}
	t.fns = append(t.fns, fn)
	t.byEntry[entry] = fn
	return fn, nil
}

// Freeze checks that exactly requested functions were added and makes the
// table read-only.
func (t *FunctionTable) Freeze(requested int) error {
	if len(t.fns) != requested {
		return fmt.Errorf("%w: found %d of %d", ErrResolutionIncomplete, len(t.fns), requested)
	}
	t.frozen = true
	return nil
}

// Frozen reports whether Freeze succeeded.
func (t *FunctionTable) Frozen() bool { return t.frozen }

// Len returns the number of functions in the table.
func (t *FunctionTable) Len() int { return len(t.fns) }

// Functions returns the functions in table order.
func (t *FunctionTable) Functions() []*Function { return t.fns }

// Find returns the function whose entry point is entry.
func (t *FunctionTable) Find(entry uint64) (*Function, bool) {
	fn, ok := t.byEntry[entry]
	return fn, ok
}

// Lookup returns the function called name.
func (t *FunctionTable) Lookup(name string) (*Function, bool) {
	for _, fn := range t.fns {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

// BuildFunctionTable adds the resolved addresses in the order of names.
// Names missing from addrs are skipped so that Freeze reports the
// shortfall.
func BuildFunctionTable(names []string, addrs map[string]uint64) (*FunctionTable, error) {
	t := NewFunctionTable()
	for _, name := range names {
		entry, ok := addrs[name]
		if !ok {
			continue
		}
		if _, err := t.Add(name, entry); err != nil {
			return nil, err
		}
	}
	if err := t.Freeze(len(names)); err != nil {
		return nil, err
	}
	return t, nil
}

// missingNames returns the names not present in addrs, sorted.
func missingNames(names []string, addrs map[string]uint64) []string {
	var r []string
	for _, name := range names {
		if _, ok := addrs[name]; !ok {
			r = append(r, name)
		}
	}
	sort.Strings(r)
	return r
}
