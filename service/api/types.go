package api

import (
	"errors"
	"fmt"
)

// ErrNoLocations is returned when a breakpoint could not be resolved to any
// address in the target.
var ErrNoLocations = errors.New("breakpoint resolved to zero locations")

// Breakpoint addresses a function at which process execution may be
// suspended.
type Breakpoint struct {
	// ID is a unique identifier for the breakpoint, assigned by the backend.
	ID int `json:"id"`
	// FunctionName is the symbol the breakpoint was requested on.
	FunctionName string `json:"functionName"`
	// Locations is the number of addresses the symbol resolved to.
	Locations int `json:"locations"`
	// FrameOffset is the frame selected when this breakpoint is hit,
	// 0 is the frame that hit the breakpoint, 1 is its caller.
	FrameOffset int `json:"frameOffset"`
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d: name = '%s', locations = %d", bp.ID, bp.FunctionName, bp.Locations)
}

// StopState describes why the target stopped after a resume.
type StopState struct {
	// Exited is true if the target terminated instead of stopping.
	Exited     bool `json:"exited"`
	ExitStatus int  `json:"exitStatus"`
	// BreakpointID is the ID of the breakpoint that was hit, 0 if the stop
	// was not caused by a known breakpoint.
	BreakpointID int `json:"breakpointID,omitempty"`
	// Reason is the backend's description of the stop.
	Reason string `json:"reason,omitempty"`
}

// Value is a variable or expression result read from a stack frame.
type Value struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	// Value is the textual rendering of the value produced by the backend.
	Value    string  `json:"value"`
	Children []Value `json:"children,omitempty"`
}

func (v *Value) String() string {
	if v == nil {
		return "No value"
	}
	if v.Type != "" {
		return fmt.Sprintf("(%s) %s = %s", v.Type, v.Name, v.Value)
	}
	return fmt.Sprintf("%s = %s", v.Name, v.Value)
}

// Child returns the direct child named name.
func (v *Value) Child(name string) *Value {
	for i := range v.Children {
		if v.Children[i].Name == name {
			return &v.Children[i]
		}
	}
	return nil
}
