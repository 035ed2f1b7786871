package cmds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/icount/pkg/config"
)

func TestParseTraceArgs(t *testing.T) {
	testCases := []struct {
		icountArgs, programArgs []string
		extra                   string
		funcs, cmdline          []string
		tgterr                  string
	}{
		{[]string{"add"}, []string{"./prog", "1"}, "", []string{"add"}, []string{"./prog", "1"}, ""},
		{[]string{"add,main.f, sub"}, []string{"./prog"}, "", []string{"add", "main.f", "sub"}, []string{"./prog"}, ""},
		{[]string{"add", "./prog", "-x"}, nil, "", []string{"add"}, []string{"./prog", "-x"}, ""},
		{[]string{"add"}, []string{"./prog"}, `a 'b c' "d"`, []string{"add"}, []string{"./prog", "a", "b c", "d"}, ""},
		{[]string{"add", "extra"}, []string{"./prog"}, "", nil, nil, `expected a single function list before --, got ["add" "extra"]`},
		{[]string{"add"}, nil, "", nil, nil, "you must provide the functions to trace and a program"},
		{[]string{","}, []string{"./prog"}, "", nil, nil, "empty function list"},
		{[]string{"add"}, []string{"./prog"}, "`ls`", nil, nil, "Backtick not supported in 'ls'"},
		{[]string{"add"}, []string{"./prog"}, "a | b", nil, nil, "illegal argument string 'a | b'"},
	}

	for _, tc := range testCases {
		t.Logf("input: %q %q %q", tc.icountArgs, tc.programArgs, tc.extra)
		funcs, cmdline, err := parseTraceArgs(tc.icountArgs, tc.programArgs, tc.extra)
		if tc.tgterr != "" {
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tc.tgterr)
			}
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.funcs, funcs)
		assert.Equal(t, tc.cmdline, cmdline)
	}
}

func TestParseTraceArgsDoesNotAlias(t *testing.T) {
	programArgs := []string{"./prog", "1"}
	_, cmdline, err := parseTraceArgs([]string{"add"}, programArgs, "2")
	require.NoError(t, err)
	cmdline[0] = "/abs/prog"
	assert.Equal(t, "./prog", programArgs[0])
}

func TestMergeConfig(t *testing.T) {
	defer func() {
		passthrough, summary, noColor, log, logOutput, logDest = nil, false, false, false, "", ""
	}()
	conf := &config.Config{
		Passthrough: []string{"malloc"},
		Summary:     true,
		LogOutput:   "ptrace",
		LogDest:     "3",
	}

	root := New()
	trace, _, err := root.Find([]string{"trace"})
	require.NoError(t, err)
	require.NoError(t, trace.ParseFlags([]string{"--log"}))
	mergeConfig(trace.Flags(), conf)
	assert.Equal(t, []string{"malloc"}, passthrough)
	assert.True(t, summary)
	assert.Equal(t, "ptrace", logOutput)
	assert.Equal(t, "3", logDest)

	root = New()
	passthrough, summary, log, logOutput, logDest = nil, false, false, "", ""
	trace, _, err = root.Find([]string{"trace"})
	require.NoError(t, err)
	require.NoError(t, trace.ParseFlags([]string{"--passthrough", "free,puts", "--log", "--log-output", "tracer"}))
	mergeConfig(trace.Flags(), conf)
	assert.Equal(t, []string{"free", "puts"}, passthrough, "flags override the configuration file")
	assert.Equal(t, "tracer", logOutput)
}

func TestMergeConfigBoolFlags(t *testing.T) {
	defer func() {
		passthrough, summary, noColor = nil, false, false
	}()
	conf := &config.Config{Summary: true, NoColor: true}

	trace, _, err := New().Find([]string{"trace"})
	require.NoError(t, err)
	require.NoError(t, trace.ParseFlags(nil))
	mergeConfig(trace.Flags(), conf)
	assert.True(t, summary)
	assert.True(t, noColor)

	trace, _, err = New().Find([]string{"trace"})
	require.NoError(t, err)
	require.NoError(t, trace.ParseFlags([]string{"--summary=false", "--no-color=false"}))
	mergeConfig(trace.Flags(), conf)
	assert.False(t, summary, "--summary=false overrides the configuration file")
	assert.False(t, noColor, "--no-color=false overrides the configuration file")
}

func TestProgramPath(t *testing.T) {
	dir := t.TempDir()
	prog := filepath.Join(dir, "prog")
	require.NoError(t, os.WriteFile(prog, []byte("#!/bin/sh\n"), 0755))

	path, err := programPath(prog)
	require.NoError(t, err)
	assert.Equal(t, prog, path)

	_, err = programPath(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(err))

	t.Setenv("PATH", dir)
	path, err = programPath("prog")
	require.NoError(t, err)
	assert.Equal(t, prog, path)
}

func TestCommandTree(t *testing.T) {
	root := New()
	for _, name := range []string{"trace", "funcs", "version", "log"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
	trace, _, _ := root.Find([]string{"trace"})
	for _, flag := range []string{"wd", "passthrough", "args", "summary", "log", "log-output", "log-dest", "config", "no-color"} {
		assert.NotNil(t, trace.Flag(flag), flag)
	}
}
