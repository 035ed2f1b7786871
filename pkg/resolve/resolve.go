// Package resolve maps function names to entry addresses using the DWARF
// debugging information of an ELF executable.
package resolve

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"

	"github.com/derekparker/trie"

	"github.com/go-delve/icount/pkg/dwarf/reader"
	"github.com/go-delve/icount/pkg/logflags"
	"github.com/go-delve/icount/pkg/proc"
)

// MaxSuggestions is the maximum number of similar names suggested for a
// function that could not be found.
const MaxSuggestions = 5

// ErrPositionIndependent is returned for executables whose code is
// relocated at load time: debug information only holds link time
// addresses.
var ErrPositionIndependent = errors.New("position independent executables are not supported, rebuild with -no-pie")

// Dwarf is the proc.Resolver reading ELF executables.
type Dwarf struct{}

// Resolve implements proc.Resolver.
func (Dwarf) Resolve(path string, names []string) (map[string]uint64, error) {
	return Resolve(path, names)
}

var _ proc.Resolver = Dwarf{}

func openDwarf(path string) (*elf.File, *reader.Reader, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	if f.Machine != elf.EM_X86_64 {
		f.Close()
		return nil, nil, fmt.Errorf("%s: unsupported machine %v", path, f.Machine)
	}
	data, err := f.DWARF()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("could not read debug information of %s: %w", path, err)
	}
	return f, reader.New(data), nil
}

// Resolve returns the entry address of every function in names, taken
// from the DW_AT_low_pc of the first subprogram with that DW_AT_name.
// Later subprograms with the same name are ignored. The walk ends as
// soon as every name was found.
//
// If some names are missing the addresses found are returned together
// with a *proc.ResolutionError suggesting similarly named functions.
func Resolve(path string, names []string) (map[string]uint64, error) {
	log := logflags.DwarfLogger()

	f, rdr, err := openDwarf(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if f.Type == elf.ET_DYN {
		return nil, fmt.Errorf("%s: %w", path, ErrPositionIndependent)
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}
	seen := trie.New()
	addrs, err := lookup(rdr, want, seen, log)
	if err != nil {
		return nil, fmt.Errorf("could not read debug information of %s: %w", path, err)
	}

	if len(addrs) == len(want) {
		return addrs, nil
	}
	rerr := &proc.ResolutionError{Path: path, Suggestions: make(map[string][]string)}
	for name := range want {
		if _, ok := addrs[name]; ok {
			continue
		}
		rerr.Missing = append(rerr.Missing, name)
		if s := suggest(seen, name); len(s) > 0 {
			rerr.Suggestions[name] = s
		}
	}
	sort.Strings(rerr.Missing)
	return addrs, rerr
}

// lookup walks the subprograms of rdr, adding the name of each one with
// an entry address to seen, until every name in want has been found. The
// reader is left right after the subprogram completing the set.
func lookup(rdr *reader.Reader, want map[string]bool, seen *trie.Trie, log logflags.Logger) (map[string]uint64, error) {
	addrs := make(map[string]uint64, len(want))
	for len(addrs) < len(want) {
		cu, err := rdr.NextCompileUnit()
		if err != nil {
			return nil, err
		}
		if cu == nil {
			break
		}
		for len(addrs) < len(want) {
			entry, err := rdr.NextSubprogram()
			if err != nil {
				return nil, err
			}
			if entry == nil {
				break
			}
			name, ok := reader.EntryName(entry)
			if !ok {
				continue
			}
			lowpc, ok := reader.LowPC(entry)
			if !ok {
				continue
			}
			seen.Add(name, lowpc)
			if !want[name] {
				continue
			}
			if prev, dup := addrs[name]; dup {
				if logflags.Dwarf() {
					log.Debugf("ignoring %s at %#x, already resolved to %#x", name, lowpc, prev)
				}
				continue
			}
			if logflags.Dwarf() {
				log.Debugf("resolved %s to %#x", name, lowpc)
			}
			addrs[name] = lowpc
		}
	}
	return addrs, nil
}

// suggest returns the names in seen that look like name.
func suggest(seen *trie.Trie, name string) []string {
	r := seen.FuzzySearch(name)
	if len(r) == 0 && len(name) > 3 {
		r = seen.PrefixSearch(name[:3])
		sort.Strings(r)
	}
	if len(r) > MaxSuggestions {
		r = r[:MaxSuggestions]
	}
	return r
}

// Functions returns the names of the subprograms of the executable at
// path that have an entry address, sorted.
func Functions(path string) ([]string, error) {
	f, rdr, err := openDwarf(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set := make(map[string]bool)
	for {
		cu, err := rdr.NextCompileUnit()
		if err != nil {
			return nil, err
		}
		if cu == nil {
			break
		}
		for {
			entry, err := rdr.NextSubprogram()
			if err != nil {
				return nil, err
			}
			if entry == nil {
				break
			}
			name, ok := reader.EntryName(entry)
			if !ok {
				continue
			}
			if _, ok := reader.LowPC(entry); ok {
				set[name] = true
			}
		}
	}
	r := make([]string, 0, len(set))
	for name := range set {
		r = append(r, name)
	}
	sort.Strings(r)
	return r, nil
}
