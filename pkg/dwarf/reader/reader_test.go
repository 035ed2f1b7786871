package reader

import (
	"debug/elf"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSelf(t *testing.T) *elf.File {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	f, err := elf.Open(exe)
	if err != nil {
		t.Skipf("test binary is not an ELF file: %v", err)
	}
	return f
}

func TestNextSubprogram(t *testing.T) {
	f := openSelf(t)
	defer f.Close()
	data, err := f.DWARF()
	require.NoError(t, err)

	syms, err := f.Symbols()
	require.NoError(t, err)
	symaddr := make(map[string]uint64)
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) == elf.STT_FUNC {
			symaddr[sym.Name] = sym.Value
		}
	}

	const want = "github.com/go-delve/icount/pkg/dwarf/reader.TestNextSubprogram"
	rdr := New(data)
	units, found := 0, false
	for {
		cu, err := rdr.NextCompileUnit()
		require.NoError(t, err)
		if cu == nil {
			break
		}
		units++
		for {
			entry, err := rdr.NextSubprogram()
			require.NoError(t, err)
			if entry == nil {
				break
			}
			name, ok := EntryName(entry)
			if !ok || name != want {
				continue
			}
			lowpc, ok := LowPC(entry)
			require.True(t, ok)
			assert.Equal(t, symaddr[want], lowpc)
			found = true
		}
	}
	assert.True(t, units > 1, "expected several compile units, got %d", units)
	assert.True(t, found, "subprogram %s not found", want)
}

func TestNextSubprogramWithoutUnit(t *testing.T) {
	f := openSelf(t)
	defer f.Close()
	data, err := f.DWARF()
	require.NoError(t, err)

	// Before the first compile unit there is nothing to return.
	entry, err := New(data).NextSubprogram()
	require.NoError(t, err)
	assert.Nil(t, entry)
}
