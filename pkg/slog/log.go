// Package slog is a leveled logger that prints the code location of every
// entry, with an error check shortcut so errors can be logged and branched on
// in one expression:
//
//	if err = do(); chk.E(err) {
//		return
//	}
package slog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gookit/color"
)

const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

type (
	// Ln prints lists of interfaces with spaces in between
	Ln func(a ...interface{})
	// F prints like fmt.Printf surrounded by log details
	F func(format string, a ...interface{})
	// S prints a spew.Sdump for an interface slice
	S func(a ...interface{})
	// C accepts a function so that the extra computation can be avoided if it is
	// not being viewed
	C func(closure func() string)
	// Chk is a shortcut for printing if there is an error, or returning true
	Chk func(e error) bool
	// Err is a pass-through function that uses fmt.Errorf to construct an error
	// and returns the error after printing it to the log
	Err func(format string, a ...interface{}) error

	// LevelPrinter defines a set of terminal printing primitives that output
	// with extra data, time, level, and code location
	LevelPrinter struct {
		Ln
		F
		S
		C
		Chk
		Err
	}

	LevelSpec struct {
		ID        int
		Name      string
		Colorizer func(a ...interface{}) string
	}
)

var (
	currentLevel atomic.Int32
	writerMx     sync.Mutex
	// writer can be swapped out for any io.Writer, tests use this to capture
	// output.
	writer io.Writer = os.Stderr
	// LevelSpecs specifies the id, string name and color-printing function
	LevelSpecs = []LevelSpec{
		{Off, "   ", color.Bit24(0, 0, 0, false).Sprint},
		{Fatal, "FTL", color.Bit24(128, 0, 0, false).Sprint},
		{Error, "ERR", color.Bit24(255, 0, 0, false).Sprint},
		{Warn, "WRN", color.Bit24(0, 255, 0, false).Sprint},
		{Info, "INF", color.Bit24(255, 255, 0, false).Sprint},
		{Debug, "DBG", color.Bit24(0, 125, 255, false).Sprint},
		{Trace, "TRC", color.Bit24(125, 0, 255, false).Sprint},
	}
	levelNames = []string{"off", "fatal", "error", "warn", "info", "debug",
		"trace"}
)

func init() {
	currentLevel.Store(Info)
	switch strings.ToUpper(os.Getenv("GODEBUG")) {
	case "1", "TRUE", "ON", "DEBUG":
		SetLogLevel(Debug)
	case "TRACE":
		SetLogLevel(Trace)
	case "INFO":
		SetLogLevel(Info)
	case "WARN":
		SetLogLevel(Warn)
	case "ERROR":
		SetLogLevel(Error)
	case "FATAL":
		SetLogLevel(Fatal)
	case "0", "OFF", "FALSE":
		SetLogLevel(Off)
	}
}

// Log is a set of log printers for the various Level items.
type Log struct {
	F, E, W, I, D, T LevelPrinter
}

// Check is the set of error check shortcuts for each level.
type Check struct {
	F, E, W, I, D, T Chk
}

func JoinStrings(a ...any) (s string) {
	for i := range a {
		s += fmt.Sprint(a[i])
		if i < len(a)-1 {
			s += " "
		}
	}
	return
}

func output(l int32, out io.Writer, text func() string) {
	if l > currentLevel.Load() {
		return
	}
	writerMx.Lock()
	defer writerMx.Unlock()
	w := out
	if w == nil {
		w = writer
	}
	_, _ = fmt.Fprintf(w,
		"%s %s %s %s\n",
		UnixNanoAsFloat(),
		LevelSpecs[l].Colorizer(LevelSpecs[l].Name),
		text(),
		GetLoc(3),
	)
}

// GetPrinter returns the printers for a level. A nil out writes to the
// package writer set by SetWriter.
func GetPrinter(l int32, out io.Writer) LevelPrinter {
	return LevelPrinter{
		Ln: func(a ...interface{}) {
			output(l, out, func() string { return JoinStrings(a...) })
		},
		F: func(format string, a ...interface{}) {
			output(l, out, func() string { return fmt.Sprintf(format, a...) })
		},
		S: func(a ...interface{}) {
			output(l, out, func() string { return spew.Sdump(a...) })
		},
		C: func(closure func() string) {
			output(l, out, closure)
		},
		Chk: func(e error) bool {
			if e != nil {
				output(l, out, e.Error)
				return true
			}
			return false
		},
		Err: func(format string, a ...interface{}) error {
			err := fmt.Errorf(format, a...)
			output(l, out, err.Error)
			return err
		},
	}
}

// New creates a logger and the matching error checks. Passing os.Stderr
// routes output through the package writer so SetWriter redirects it.
func New(w io.Writer) (l *Log, c *Check) {
	if w == os.Stderr {
		w = nil
	}
	l = &Log{
		F: GetPrinter(Fatal, w),
		E: GetPrinter(Error, w),
		W: GetPrinter(Warn, w),
		I: GetPrinter(Info, w),
		D: GetPrinter(Debug, w),
		T: GetPrinter(Trace, w),
	}
	c = &Check{
		F: l.F.Chk,
		E: l.E.Chk,
		W: l.W.Chk,
		I: l.I.Chk,
		D: l.D.Chk,
		T: l.T.Chk,
	}
	return
}

func GetStd() (ll *Log) {
	ll, _ = New(os.Stderr)
	return
}

func SetLogLevel(l int) { currentLevel.Store(int32(l)) }

func GetLogLevel() (l int) { return int(currentLevel.Load()) }

// ParseLevel converts a level name (off, fatal, error, warn, info, debug,
// trace) to its level. Names can be truncated down to one character as the
// first letters are unique.
func ParseLevel(s string) (l int, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return
	}
	for lvl, name := range levelNames {
		if strings.HasPrefix(name, s) {
			return lvl, true
		}
	}
	return
}

// SetWriter replaces the destination for loggers created with os.Stderr.
func SetWriter(w io.Writer) {
	writerMx.Lock()
	defer writerMx.Unlock()
	writer = w
}

// UnixNanoAsFloat renders the current time as seconds with a nanosecond
// fraction.
func UnixNanoAsFloat() (s string) {
	timeText := fmt.Sprint(time.Now().UnixNano())
	lt := len(timeText)
	lb := lt + 1
	var timeBytes = make([]byte, lb)
	copy(timeBytes[lb-9:lb], timeText[lt-9:lt])
	timeBytes[lb-10] = '.'
	lb -= 10
	lt -= 9
	copy(timeBytes[:lb], timeText[:lt])
	return string(timeBytes)
}

func GetLoc(skip int) (output string) {
	_, file, line, _ := runtime.Caller(skip)
	output = color.Bit24(0, 128, 255, false).Sprint(
		file, ":", line,
	)
	return
}
