// Package verify runs a suite against a debugger session: it prepares the
// session, then for every case resumes the target, inspects the frame it
// stopped in and compares the rendering of each accessor with the expected
// string.
package verify

import (
	"fmt"

	"github.com/go-delve/dbgcheck/pkg/logflags"
	"github.com/go-delve/dbgcheck/pkg/suite"
	"github.com/go-delve/dbgcheck/service"
	"github.com/go-delve/dbgcheck/service/api"
)

// Process exit codes of a run.
const (
	ExitPassed      = 100
	ExitFailed      = 1
	ExitSetupFailed = 2
)

// Outcome is the result of a single case.
type Outcome uint8

const (
	Passed Outcome = iota
	Failed
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// CaseResult is the outcome of one case. Reason is empty for passed cases.
type CaseResult struct {
	Name    string
	Outcome Outcome
	Reason  string
}

// Result is the outcome of a run.
type Result struct {
	Suite string
	// SetupErr is not nil if the session could not be prepared, in which
	// case no case was run.
	SetupErr error
	Cases    []CaseResult
	ExitCode int
}

// Failed returns the names of the failed cases.
func (r *Result) Failed() []string {
	var names []string
	for _, c := range r.Cases {
		if c.Outcome == Failed {
			names = append(names, c.Name)
		}
	}
	return names
}

// Driver runs a suite.
type Driver struct {
	suite    *suite.Suite
	reporter Reporter
	log      logflags.Logger
}

// New returns a driver for s reporting progress to r.
func New(s *suite.Suite, r Reporter) *Driver {
	return &Driver{suite: s, reporter: r, log: logflags.DriverLogger()}
}

// runState tracks the case in progress and whether every case so far
// passed. Once allPassed is false it stays false.
type runState struct {
	current   string
	allPassed bool
	results   []CaseResult
}

func (st *runState) start(name string) {
	if st.current != "" {
		panic(fmt.Sprintf("case %q started while %q is in progress", name, st.current))
	}
	st.current = name
}

func (st *runState) end(o Outcome, reason string) CaseResult {
	if st.current == "" {
		panic("no case in progress")
	}
	r := CaseResult{Name: st.current, Outcome: o, Reason: reason}
	if o == Failed {
		st.allPassed = false
	}
	st.results = append(st.results, r)
	st.current = ""
	return r
}

// Run prepares sess and runs every case of the suite. It never resumes
// the target after a setup failure. The session is left open.
func (d *Driver) Run(sess service.Session) *Result {
	r := &Result{Suite: d.suite.Name}
	d.reporter.Start(d.suite.Name)

	if err := d.Setup(sess); err != nil {
		d.log.Errorf("setup failed: %v", err)
		r.SetupErr = err
		r.ExitCode = ExitSetupFailed
		d.reporter.End(r)
		return r
	}

	st := &runState{allPassed: true}
	for i := range d.suite.Cases {
		d.runCase(sess, &d.suite.Cases[i], st)
	}
	r.Cases = st.results
	if st.allPassed {
		r.ExitCode = ExitPassed
	} else {
		r.ExitCode = ExitFailed
	}
	d.reporter.End(r)
	return r
}

// Setup runs the target to the entry function, sets the break helper
// breakpoint and evaluates the initialization expressions in the entry
// frame. An empty entry function means the session is already stopped
// where setup should happen.
func (d *Driver) Setup(sess service.Session) error {
	setup := &d.suite.Setup

	if setup.Entry != "" {
		bp, err := sess.CreateBreakpoint(&api.Breakpoint{FunctionName: setup.Entry})
		if err != nil {
			return fmt.Errorf("could not set entry breakpoint: %w", err)
		}
		if bp.Locations == 0 {
			return fmt.Errorf("failed to set up %v: %w", bp, api.ErrNoLocations)
		}
		stop, err := sess.Continue()
		if err != nil {
			return fmt.Errorf("could not run to %s: %w", setup.Entry, err)
		}
		if stop.Exited {
			return fmt.Errorf("target exited with status %d before reaching %s", stop.ExitStatus, setup.Entry)
		}
	}

	bp, err := sess.CreateBreakpoint(&api.Breakpoint{FunctionName: setup.Break, FrameOffset: setup.FrameOffset})
	if err != nil {
		return fmt.Errorf("could not set break helper breakpoint: %w", err)
	}
	if bp.Locations == 0 {
		return fmt.Errorf("failed to set up %v: %w", bp, api.ErrNoLocations)
	}
	d.log.Debugf("break helper: %v, frame offset %d", bp, setup.FrameOffset)

	frame, err := sess.SelectedFrame()
	if err != nil {
		return err
	}
	if setup.EntryFunction != "" && frame.FunctionName() != setup.EntryFunction {
		return fmt.Errorf("stopped in %s, expected %s", frame.FunctionName(), setup.EntryFunction)
	}
	for _, expr := range setup.InitExprs {
		if _, err := frame.EvaluateExpression(expr); err != nil {
			return fmt.Errorf("%s failed: %w", expr, err)
		}
		d.log.Debugf("evaluated %q in %s", expr, frame)
	}
	return nil
}

func (d *Driver) runCase(sess service.Session, c *suite.Case, st *runState) {
	if c.Passthrough {
		d.passThrough(sess, c)
		return
	}
	st.start(c.Name)
	d.reporter.CaseStarted(c.Name)
	end := func(o Outcome, reason string) {
		d.reporter.CaseEnded(st.end(o, reason))
	}

	if c.Skip != "" {
		end(Skipped, c.Skip)
		return
	}

	if c.Break != "" {
		bp, err := sess.CreateBreakpoint(&api.Breakpoint{FunctionName: c.Break})
		if err != nil {
			end(Failed, fmt.Sprintf("could not bind the breakpoint for %s: %v", c.Break, err))
			return
		}
		if bp.Locations == 0 {
			end(Failed, fmt.Sprintf("could not bind the breakpoint for (%v)", bp))
			return
		}
	}

	stop, err := sess.Continue()
	if err != nil {
		end(Failed, fmt.Sprintf("could not resume target: %v", err))
		return
	}
	if stop.Exited {
		end(Failed, fmt.Sprintf("target exited with status %d", stop.ExitStatus))
		return
	}
	frame, err := sess.SelectedFrame()
	if err != nil {
		end(Failed, fmt.Sprintf("could not read selected frame: %v", err))
		return
	}
	d.reporter.Inspecting(frame)

	for _, a := range c.Asserts {
		v, err := lookup(frame, c.Lookup, a.Accessor)
		if err != nil {
			d.log.Debugf("%s: %v", a.Accessor, err)
			v = nil
		}
		if v == nil || v.Value != a.Want {
			end(Failed, fmt.Sprintf(`unexpected "%s": "%s" (expected "%s")`, a.Accessor, v, a.Want))
			return
		}
	}
	end(Passed, "")
}

// passThrough resumes the target past the stop of a case that was not
// selected. Errors are only logged, the next case fails on its own resume.
func (d *Driver) passThrough(sess service.Session, c *suite.Case) {
	if c.Break != "" {
		if _, err := sess.CreateBreakpoint(&api.Breakpoint{FunctionName: c.Break}); err != nil {
			d.log.Warnf("%s: could not set breakpoint on %s: %v", c.Name, c.Break, err)
		}
	}
	stop, err := sess.Continue()
	switch {
	case err != nil:
		d.log.Warnf("%s: could not resume target: %v", c.Name, err)
	case stop.Exited:
		d.log.Warnf("%s: target exited with status %d", c.Name, stop.ExitStatus)
	default:
		d.log.Debugf("resumed past %s", c.Name)
	}
}

func lookup(frame service.Frame, how suite.Lookup, accessor string) (*api.Value, error) {
	if how == suite.LookupExpr {
		return frame.EvaluateExpression(accessor)
	}
	return frame.ValueForVariablePath(accessor)
}
