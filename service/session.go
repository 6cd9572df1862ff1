// Package service defines the backend-neutral view of a debugger session
// that the verification driver works against. Implementations live in
// service/rpc2 (delve JSON-RPC) and service/dap (Debug Adapter Protocol).
package service

import (
	"github.com/go-delve/dbgcheck/service/api"
)

// Session is a debugger session attached to a stopped target process.
// All methods block until the backend answers.
type Session interface {
	// CreateBreakpoint sets a breakpoint on bp.FunctionName. The returned
	// breakpoint reports how many locations the name resolved to; a
	// backend that cannot resolve the name returns a breakpoint with zero
	// locations rather than an error whenever it can tell the two apart.
	CreateBreakpoint(bp *api.Breakpoint) (*api.Breakpoint, error)

	// Continue resumes the target and waits until it stops or exits.
	Continue() (*api.StopState, error)

	// SelectedFrame returns the active frame: frame 0 of the stopped
	// thread, or the FrameOffset of the breakpoint that caused the stop.
	SelectedFrame() (Frame, error)

	// Detach ends the session, killing the target if kill is true.
	Detach(kill bool) error
}

// Frame is one function activation of the stopped target.
type Frame interface {
	// FunctionName is the name of the function executing in this frame.
	FunctionName() string

	// ValueForVariablePath resolves a structured accessor such as
	// "p.Field[2]" starting from the locals and arguments of the frame.
	ValueForVariablePath(path string) (*api.Value, error)

	// EvaluateExpression evaluates expr in the scope of the frame. The
	// expression may have side effects.
	EvaluateExpression(expr string) (*api.Value, error)

	String() string
}
