package terminal

import (
	"bufio"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/dbgcheck/pkg/verify"
)

const (
	terminalResetEscapeCode  = "\033[0m"
	terminalGreenEscapeCode  = "\033[32m"
	terminalRedEscapeCode    = "\033[31m"
	terminalYellowEscapeCode = "\033[33m"
)

// Output is the buffered writer the report is printed to. It must be
// flushed before the process exits.
type Output struct {
	*bufio.Writer
	color bool
}

// NewOutput returns an Output writing to stdout. Colors are used only if
// allowed by color and stdout is a terminal.
func NewOutput(color bool) *Output {
	var w io.Writer = os.Stdout
	color = color && isatty.IsTerminal(os.Stdout.Fd())
	if color {
		// colorable translates escape codes on Windows consoles.
		w = colorable.NewColorableStdout()
	}
	return NewOutputTo(w, color)
}

// NewOutputTo returns an Output writing to w. Colors are used if color is
// true.
func NewOutputTo(w io.Writer, color bool) *Output {
	return &Output{Writer: bufio.NewWriter(w), color: color}
}

// Paint colors s according to o.
func (out *Output) Paint(o verify.Outcome, s string) string {
	if !out.color {
		return s
	}
	var code string
	switch o {
	case verify.Passed:
		code = terminalGreenEscapeCode
	case verify.Failed:
		code = terminalRedEscapeCode
	case verify.Skipped:
		code = terminalYellowEscapeCode
	default:
		return s
	}
	return code + s + terminalResetEscapeCode
}

// Reporter returns a verify.Reporter printing to out.
func (out *Output) Reporter() verify.Reporter {
	return &verify.TextReporter{W: out, Paint: out.Paint}
}
