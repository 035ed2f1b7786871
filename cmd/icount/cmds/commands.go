package cmds

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/cosiner/argv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/icount/pkg/config"
	"github.com/go-delve/icount/pkg/logflags"
	"github.com/go-delve/icount/pkg/proc"
	"github.com/go-delve/icount/pkg/proc/native"
	"github.com/go-delve/icount/pkg/resolve"
	"github.com/go-delve/icount/pkg/terminal"
	"github.com/go-delve/icount/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// workingDir is the working directory for running the program.
	workingDir string
	// configFile overrides the default configuration file.
	configFile string

	// passthrough lists functions stepped over without being counted.
	passthrough []string
	// targetArgs is a quoted string of extra arguments for the program.
	targetArgs string
	// summary prints a per function table after the program exits.
	summary bool
	// noColor disables colored output.
	noColor bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const icountCommandLongDesc = `icount counts the machine instructions executed by each invocation of
selected functions of a program.

The program is started under ptrace, a breakpoint is placed on the entry of
every selected function and each invocation is single stepped until it
returns. Functions are looked up by name in the DWARF debug information of
the program, which must be a non position independent linux/amd64
executable.

Pass flags to the program you are tracing using ` + "`--`" + `, for example:

` + "`icount trace main.add -- ./hello -v`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Main icount root command.
	rootCommand = &cobra.Command{
		Use:   "icount",
		Short: "icount counts the instructions executed by the functions of a program.",
		Long:  icountCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable tracer logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'icount help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'icount help log').")
	rootCommand.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (default is $XDG_CONFIG_HOME/icount/config.yml).")
	rootCommand.PersistentFlags().BoolVarP(&noColor, "no-color", "", false, "Disable colored output.")

	// 'trace' subcommand.
	traceCommand := &cobra.Command{
		Use:   "trace <func>[,<func>...] [--] <program> [args...]",
		Short: "Count the instructions executed by functions of a program.",
		Long: `Count the instructions executed by functions of a program.

Every invocation of the listed functions prints the number of instructions
it executed, from its first instruction to its return instruction included.
Instructions of functions called by a traced function are part of its
count. Recursive invocations are counted as part of the outermost one.

Functions listed with --passthrough are stepped over when their entry
breakpoint is hit but never counted.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errors.New("you must provide the functions to trace and a program")
			}
			return nil
		},
		Run: traceCmd,
	}
	traceCommand.Flags().StringVar(&workingDir, "wd", "", "Working directory for running the program.")
	traceCommand.Flags().StringSliceVar(&passthrough, "passthrough", nil, "Functions that are stepped over without being counted.")
	traceCommand.Flags().StringVar(&targetArgs, "args", "", "Additional arguments for the program, as a single quoted string.")
	traceCommand.Flags().BoolVarP(&summary, "summary", "s", false, "Print a per function summary when the program exits.")
	rootCommand.AddCommand(traceCommand)

	// 'funcs' subcommand.
	funcsCommand := &cobra.Command{
		Use:   "funcs <program> [regexp]",
		Short: "List the functions that can be traced.",
		Long: `List the functions that can be traced.

Prints the name of every function with an entry address in the debug
information of program, optionally only those matching regexp.`,
		Args: cobra.RangeArgs(1, 2),
		Run:  funcsCmd,
	}
	rootCommand.AddCommand(funcsCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("icount\n%s\n", version.ICountVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	tracer		Log the trace session and its event loop (default)
	ptrace		Log requests sent to the traced process
	steps		Disassemble and log every single stepped instruction
	dwarf		Log function lookup in the debug information

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

When --log is given alone the log-output and log-dest keys of the
configuration file are used.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadConfigFile(configFile)
	}
	return config.LoadConfig(), nil
}

// mergeConfig applies the configuration file to the flags the user did
// not set explicitly.
func mergeConfig(flags *pflag.FlagSet, conf *config.Config) {
	if !flags.Changed("passthrough") {
		passthrough = conf.Passthrough
	}
	if !flags.Changed("summary") {
		summary = conf.Summary
	}
	if !flags.Changed("no-color") {
		noColor = conf.NoColor
	}
	if log && logOutput == "" {
		logOutput = conf.LogOutput
	}
	if log && logDest == "" {
		logDest = conf.LogDest
	}
}

func splitArgs(cmd *cobra.Command, args []string) ([]string, []string) {
	if cmd.ArgsLenAtDash() >= 0 {
		return args[:cmd.ArgsLenAtDash()], args[cmd.ArgsLenAtDash():]
	}
	return args, []string{}
}

// parseTraceArgs splits the positional arguments of trace into the
// functions to count and the command line of the program. extra is
// appended to the command line.
func parseTraceArgs(icountArgs, programArgs []string, extra string) (funcs, cmdline []string, err error) {
	switch {
	case len(programArgs) > 0:
		if len(icountArgs) != 1 {
			return nil, nil, fmt.Errorf("expected a single function list before --, got %q", icountArgs)
		}
		cmdline = programArgs
	case len(icountArgs) >= 2:
		cmdline = icountArgs[1:]
	default:
		return nil, nil, errors.New("you must provide the functions to trace and a program")
	}
	funcs = splitFunctions(icountArgs[0])
	if len(funcs) == 0 {
		return nil, nil, errors.New("empty function list")
	}
	cmdline = append([]string{}, cmdline...)
	if extra != "" {
		v, err := argv.Argv(extra,
			func(s string) (string, error) {
				return "", fmt.Errorf("Backtick not supported in '%s'", s)
			},
			nil)
		if err != nil {
			return nil, nil, err
		}
		if len(v) != 1 {
			return nil, nil, fmt.Errorf("illegal argument string '%s'", extra)
		}
		cmdline = append(cmdline, v[0]...)
	}
	return funcs, cmdline, nil
}

func splitFunctions(list string) []string {
	var r []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			r = append(r, name)
		}
	}
	return r
}

// programPath resolves the program like a shell would. Resolution happens
// in the tracer so that debug information is read from the same file that
// is executed.
func programPath(name string) (string, error) {
	if !strings.Contains(name, string(filepath.Separator)) {
		return exec.LookPath(name)
	}
	path, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

func traceCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(cmd, args, os.Stdout))
}

func execute(cmd *cobra.Command, args []string, out *os.File) int {
	c, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	conf = c
	mergeConfig(cmd.Flags(), conf)

	err = logflags.Setup(log, logOutput, logDest)
	defer logflags.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	icountArgs, programArgs := splitArgs(cmd, args)
	funcs, cmdline, err := parseTraceArgs(icountArgs, programArgs, targetArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	cmdline[0], err = programPath(cmdline[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	printer := terminal.NewPrinter(out, noColor)
	s, err := proc.NewSession(resolve.Dwarf{}, &proc.Config{
		Cmd:             cmdline,
		WorkingDir:      workingDir,
		Functions:       funcs,
		Passthrough:     passthrough,
		StepLog:         logflags.Steps(),
		DisasmCacheSize: conf.DisasmCacheSize,
	}, printer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer s.Close()

	if err := s.Launch(native.Launcher); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	stop := killOnInterrupt(s.Target().Pid())
	defer stop()

	res, err := s.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	printer.Exit(res)
	if summary {
		printer.Summary()
	}
	return 0
}

// killOnInterrupt kills the traced process when icount receives SIGINT
// or SIGTERM. The event loop then observes the termination and returns.
func killOnInterrupt(pid int) (stop func()) {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			if p, err := os.FindProcess(pid); err == nil {
				p.Kill()
			}
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func funcsCmd(cmd *cobra.Command, args []string) {
	os.Exit(listFunctions(cmd.Flags(), args, os.Stdout))
}

func listFunctions(flags *pflag.FlagSet, args []string, out *os.File) int {
	c, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if !flags.Changed("no-color") {
		noColor = c.NoColor
	}
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	var filter *regexp.Regexp
	if len(args) > 1 {
		filter, err = regexp.Compile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid filter: %v\n", err)
			return 1
		}
	}
	path, err := programPath(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	names, err := resolve.Functions(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if filter != nil {
		matched := names[:0]
		for _, name := range names {
			if filter.MatchString(name) {
				matched = append(matched, name)
			}
		}
		names = matched
	}
	terminal.NewPrinter(out, noColor).PrintFunctions(names, filter)
	return 0
}
