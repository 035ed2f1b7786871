package test

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
)

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
}

var (
	// Fixtures is a map of Fixture.Name to Fixture.
	Fixtures   = make(map[string]Fixture)
	fixturesMu sync.Mutex
)

// FindFixturesDir walks up from the current directory looking for the
// _fixtures directory.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// MustSupportPtrace skips the test on platforms without the native
// backend.
func MustSupportPtrace(t testing.TB) {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skipf("ptrace tracing not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

// BuildFixture compiles the fixture called name. C sources (name ending in
// .c) are built with cc as non position independent executables without
// optimizations, Go sources with the go command and optimizations
// disabled. The test is skipped if the compiler is not installed.
func BuildFixture(t testing.TB, name string) Fixture {
	t.Helper()
	fixturesMu.Lock()
	defer fixturesMu.Unlock()

	if f, ok := Fixtures[name]; ok {
		return f
	}

	fixturesDir := FindFixturesDir()
	path := filepath.Join(fixturesDir, name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	// Make a (good enough) random temporary file name
	r := make([]byte, 4)
	rand.Read(r)
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", base, hex.EncodeToString(r)))

	var cmd *exec.Cmd
	switch ext {
	case ".c":
		cc := os.Getenv("CC")
		if cc == "" {
			cc = "cc"
		}
		if _, err := exec.LookPath(cc); err != nil {
			t.Skipf("C compiler not available: %v", err)
		}
		cmd = exec.Command(cc, "-O0", "-g", "-fno-pie", "-no-pie", "-fcf-protection=none", "-o", tmpfile, name)
	case ".go":
		if _, err := exec.LookPath("go"); err != nil {
			t.Skipf("go command not available: %v", err)
		}
		cmd = exec.Command("go", "build", "-gcflags=all=-N -l", "-o", tmpfile, name)
	default:
		t.Fatalf("unknown fixture type %q", name)
	}
	cmd.Dir = fixturesDir

	// Build the test binary
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Error compiling %s: %s\n%s", path, err, out)
	}

	source, _ := filepath.Abs(path)
	source = filepath.ToSlash(source)

	Fixtures[name] = Fixture{Name: base, Path: tmpfile, Source: source}
	return Fixtures[name]
}

// RunTestsWithFixtures will run the tests and delete the fixtures built
// while running them.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	// Remove the fixtures.
	for _, f := range Fixtures {
		os.Remove(f.Path)
	}
	return status
}
