package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var tracer = false
var ptrace = false
var steps = false
var dwarf = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Tracer returns true if the session and event loop should log.
func Tracer() bool {
	return tracer
}

// TracerLogger returns a logger for the trace session.
func TracerLogger() Logger {
	return makeFlaggableLogger(tracer, Fields{"layer": "tracer"})
}

// Ptrace returns true if every request sent to the traced process should
// be logged.
func Ptrace() bool {
	return ptrace
}

// PtraceLogger returns a logger for the process controller.
func PtraceLogger() Logger {
	return makeFlaggableLogger(ptrace, Fields{"layer": "ptrace"})
}

// Steps returns true if every single-stepped instruction should be
// disassembled and logged.
func Steps() bool {
	return steps
}

// StepsLogger returns a logger for single-stepped instructions.
func StepsLogger() Logger {
	return makeFlaggableLogger(steps, Fields{"layer": "tracer", "kind": "steps"})
}

// Dwarf returns true if function resolution should log.
func Dwarf() bool {
	return dwarf
}

// DwarfLogger returns a logger for the debug information resolver.
func DwarfLogger() Logger {
	return makeFlaggableLogger(dwarf, Fields{"layer": "dwarf"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets tracer flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "icount-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "tracer"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "help log" command documentation.
		switch logcmd {
		case "tracer":
			tracer = true
		case "ptrace":
			ptrace = true
		case "steps":
			steps = true
		case "dwarf":
			dwarf = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'icount help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// Reset turns every log layer off. Used between tests.
func Reset() {
	tracer, ptrace, steps, dwarf = false, false, false, false
}

var textFormatterInstance = &textFormatter{}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05Z07:00"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	for _, key := range []string{"layer", "kind"} {
		if v, ok := entry.Data[key]; ok {
			fmt.Fprintf(&b, "%s=%v ", key, v)
		}
	}
	for key, v := range entry.Data {
		if key == "layer" || key == "kind" {
			continue
		}
		fmt.Fprintf(&b, "%s=%v ", key, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
