package terminal

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/icount/pkg/proc"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
	ansiCyan   = 36
)

// Printer is a proc.Sink writing one line per counted invocation.
type Printer struct {
	out   io.Writer
	color bool
	rec   proc.Recorder
}

// NewPrinter returns a Printer writing to f. Colors are used only when f
// is a terminal, TERM is not dumb and noColor is false.
func NewPrinter(f *os.File, noColor bool) *Printer {
	color := !noColor && isatty.IsTerminal(f.Fd()) && strings.ToLower(os.Getenv("TERM")) != "dumb"
	if color {
		return newPrinter(colorable.NewColorable(f), true)
	}
	return newPrinter(colorable.NewNonColorable(f), false)
}

func newPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

func (p *Printer) colorize(code int, s string) string {
	if !p.color {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, code) + s + terminalResetEscapeCode
}

// Record implements proc.Sink.
func (p *Printer) Record(fn *proc.Function, count uint64) {
	p.rec.Record(fn, count)
	fmt.Fprintf(p.out, "%s: %s instructions\n", p.colorize(ansiCyan, fn.Name), p.colorize(ansiYellow, fmt.Sprint(count)))
}

// Calls returns the number of invocations printed so far.
func (p *Printer) Calls() int { return len(p.rec.Calls) }

// Exit prints how the target terminated.
func (p *Printer) Exit(res *proc.Result) {
	code := ansiGreen
	if res.Signaled || res.ExitCode != 0 {
		code = ansiRed
	}
	fmt.Fprintf(p.out, "%s\n", p.colorize(code, res.String()))
}

// Summary prints per function statistics for every invocation recorded.
func (p *Printer) Summary() {
	stats := p.rec.Stats()
	if len(stats) == 0 {
		fmt.Fprintln(p.out, "no traced function was called")
		return
	}
	w := tabwriter.NewWriter(p.out, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "function\tcalls\tmin\tmax\ttotal\tavg\t")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f\t\n", s.Name, s.Calls, s.Min, s.Max, s.Total, float64(s.Total)/float64(s.Calls))
	}
	w.Flush()
}

// PrintFunctions writes names one per line. The part of each name that
// matched a filter, if any, is highlighted.
func (p *Printer) PrintFunctions(names []string, filter *regexp.Regexp) {
	for _, name := range names {
		if filter != nil && p.color {
			name = filter.ReplaceAllStringFunc(name, func(m string) string { return p.colorize(ansiBlue, m) })
		}
		fmt.Fprintln(p.out, name)
	}
}
