package verify

import (
	"fmt"
	"io"

	"github.com/go-delve/dbgcheck/service"
)

// Reporter receives the progress of a run.
type Reporter interface {
	Start(suite string)
	CaseStarted(name string)
	Inspecting(frame service.Frame)
	CaseEnded(r CaseResult)
	End(r *Result)
}

// TextReporter prints the human readable progress of a run:
//
//	==== Commencing WASM debugging testing ====
//	== [test_enum_display] started
//	Inspecting: frame #1: ...
//	== [test_enum_display] passed
//	==== All WASM debugging tests passed ====
type TextReporter struct {
	W io.Writer
	// Paint, if set, decorates the status lines.
	Paint func(o Outcome, s string) string
}

func (t *TextReporter) paint(o Outcome, s string) string {
	if t.Paint == nil {
		return s
	}
	return t.Paint(o, s)
}

func (t *TextReporter) Start(suite string) {
	fmt.Fprintf(t.W, "==== Commencing %s debugging testing ====\n", suite)
}

func (t *TextReporter) CaseStarted(name string) {
	fmt.Fprintf(t.W, "== [%s] started\n", name)
}

func (t *TextReporter) Inspecting(frame service.Frame) {
	fmt.Fprintf(t.W, "Inspecting: %s\n", frame)
}

func (t *TextReporter) CaseEnded(r CaseResult) {
	line := fmt.Sprintf("== [%s] %s", r.Name, r.Outcome)
	if r.Outcome != Passed {
		line += fmt.Sprintf(" (%s)", r.Reason)
	}
	fmt.Fprintln(t.W, t.paint(r.Outcome, line))
}

func (t *TextReporter) End(r *Result) {
	switch {
	case r.SetupErr != nil:
		fmt.Fprintln(t.W, r.SetupErr)
		fmt.Fprintln(t.W, t.paint(Failed, fmt.Sprintf("==== %s debugging tests setup failed ====", r.Suite)))
	case r.ExitCode == ExitPassed:
		fmt.Fprintln(t.W, t.paint(Passed, fmt.Sprintf("==== All %s debugging tests passed ====", r.Suite)))
	default:
		fmt.Fprintln(t.W, t.paint(Failed, fmt.Sprintf("==== Some %s debugging tests failed ====", r.Suite)))
	}
}
