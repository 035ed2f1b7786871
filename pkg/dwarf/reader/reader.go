package reader

import (
	"debug/dwarf"
)

// Reader walks the debugging information entries of a binary one
// compile unit at a time.
type Reader struct {
	*dwarf.Reader
	// inUnit is true while the entries returned by Next are children of
	// the last compile unit.
	inUnit bool
}

// New returns a reader for the specified dwarf data.
func New(data *dwarf.Data) *Reader {
	return &Reader{data.Reader(), false}
}

// NextCompileUnit moves the reader to the next compile unit and returns
// its entry, nil after the last one.
func (reader *Reader) NextCompileUnit() (*dwarf.Entry, error) {
	reader.inUnit = false
	for entry, err := reader.Next(); entry != nil; entry, err = reader.Next() {
		if err != nil {
			return nil, err
		}

		if entry.Tag == dwarf.TagCompileUnit {
			reader.inUnit = entry.Children
			return entry, nil
		}
	}

	return nil, nil
}

// NextSubprogram returns the next subprogram among the direct children of
// the current compile unit, nil once the unit has no more children.
// Children of the returned entry are skipped.
func (reader *Reader) NextSubprogram() (*dwarf.Entry, error) {
	for reader.inUnit {
		entry, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.Tag == 0 {
			// End of the current depth
			reader.inUnit = false
			break
		}
		if entry.Children {
			reader.SkipChildren()
		}
		if entry.Tag == dwarf.TagSubprogram {
			return entry, nil
		}
	}

	// No more items
	return nil, nil
}

// EntryName returns the DW_AT_name of entry.
func EntryName(entry *dwarf.Entry) (string, bool) {
	name, ok := entry.Val(dwarf.AttrName).(string)
	return name, ok
}

// LowPC returns the DW_AT_low_pc of entry. Declarations and abstract
// instances of inlined functions have none.
func LowPC(entry *dwarf.Entry) (uint64, bool) {
	lowpc, ok := entry.Val(dwarf.AttrLowpc).(uint64)
	return lowpc, ok
}
