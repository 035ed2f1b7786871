package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protest "github.com/go-delve/icount/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func assertNoError(err error, t testing.TB, s string) {
	t.Helper()
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		fname := filepath.Base(file)
		t.Fatalf("failed assertion at %s:%d: %s - %s\n", fname, line, s, err)
	}
}

func buildICount(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skipf("go command not available: %v", err)
	}
	bin := filepath.Join(t.TempDir(), "icount")
	cmd := exec.Command("go", "build", "-o", bin, "github.com/go-delve/icount/cmd/icount")
	out, err := cmd.CombinedOutput()
	assertNoError(err, t, "go build: "+string(out))
	return bin
}

// runICount runs icount with an empty configuration directory and returns
// its standard output, standard error and exit code.
func runICount(t *testing.T, bin string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(bin, args...)
	cmd.Env = append(os.Environ(), "XDG_CONFIG_HOME="+t.TempDir(), "TERM=dumb")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else {
		assertNoError(err, t, "run icount")
	}
	if strings.Contains(stderr.String(), "operation not permitted") {
		t.Skipf("ptrace not permitted: %s", stderr.String())
	}
	return stdout.String(), stderr.String(), code
}

var countLine = regexp.MustCompile(`^add: \d+ instructions$`)

func TestTrace(t *testing.T) {
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, "add.c")
	bin := buildICount(t)

	stdout, stderr, code := runICount(t, bin, "trace", "add", "--", fixture.Path, "2")
	require.Equal(t, 0, code, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3, stdout)
	assert.Regexp(t, countLine, lines[0])
	assert.Equal(t, lines[0], lines[1])
	assert.Contains(t, lines[2], "has exited with status 0")
}

func TestTraceArgsAndSummary(t *testing.T) {
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, "add.c")
	bin := buildICount(t)

	stdout, stderr, code := runICount(t, bin, "trace", "--summary", "--args", "'3'", "add", fixture.Path)
	require.Equal(t, 0, code, stderr)
	var counts int
	for _, line := range strings.Split(stdout, "\n") {
		if countLine.MatchString(line) {
			counts++
		}
	}
	assert.Equal(t, 3, counts)
	assert.Regexp(t, regexp.MustCompile(`(?m)^\s*function\s+calls\s+min\s+max\s+total\s+avg\s*$`), stdout)
	assert.Regexp(t, regexp.MustCompile(`(?m)^\s*add\s+3\s`), stdout)
}

func TestTraceMissingFunction(t *testing.T) {
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, "add.c")
	bin := buildICount(t)

	stdout, stderr, code := runICount(t, bin, "trace", "add,addd", fixture.Path)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "could not find function(s) addd")
	assert.Contains(t, stderr, "did you mean add")
}

func TestFuncs(t *testing.T) {
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, "add.c")
	bin := buildICount(t)

	stdout, stderr, code := runICount(t, bin, "funcs", fixture.Path)
	require.Equal(t, 0, code, stderr)
	names := strings.Fields(stdout)
	assert.Contains(t, names, "add")
	assert.Contains(t, names, "main")

	stdout, _, code = runICount(t, bin, "funcs", fixture.Path, "^ad")
	require.Equal(t, 0, code)
	assert.Equal(t, "add\n", stdout)
}

func TestVersion(t *testing.T) {
	bin := buildICount(t)
	stdout, _, code := runICount(t, bin, "version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "icount\nVersion: "), stdout)
}
