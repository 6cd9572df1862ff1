package rpc2

import "reflect"

// The types in this file mirror the JSON encoding of delve's service/api
// package, version 2. Only the fields dbgcheck reads are declared.

type Breakpoint struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Addr         uint64   `json:"addr"`
	Addrs        []uint64 `json:"addrs"`
	File         string   `json:"file"`
	Line         int      `json:"line"`
	FunctionName string   `json:"functionName,omitempty"`
}

type Function struct {
	Name      string `json:"name"`
	Value     uint64 `json:"value"`
	Optimized bool   `json:"optimized"`
}

type Thread struct {
	ID          int         `json:"id"`
	PC          uint64      `json:"pc"`
	File        string      `json:"file"`
	Line        int         `json:"line"`
	Function    *Function   `json:"function,omitempty"`
	GoroutineID int64       `json:"goroutineID"`
	Breakpoint  *Breakpoint `json:"breakPoint,omitempty"`
}

type DebuggerState struct {
	Pid           int       `json:"Pid"`
	Running       bool      `json:"Running"`
	CurrentThread *Thread   `json:"currentThread,omitempty"`
	Threads       []*Thread `json:"Threads"`
	Exited        bool      `json:"exited"`
	ExitStatus    int       `json:"exitStatus"`
}

type Location struct {
	PC       uint64    `json:"pc"`
	File     string    `json:"file"`
	Line     int       `json:"line"`
	Function *Function `json:"function,omitempty"`
}

type Stackframe struct {
	Location
	Locals    []Variable
	Arguments []Variable
	Err       string
}

type Variable struct {
	Name       string       `json:"name"`
	Addr       uint64       `json:"addr"`
	OnlyAddr   bool         `json:"onlyAddr"`
	Type       string       `json:"type"`
	RealType   string       `json:"realType"`
	Kind       reflect.Kind `json:"kind"`
	Value      string       `json:"value"`
	Len        int64        `json:"len"`
	Cap        int64        `json:"cap"`
	Children   []Variable   `json:"children"`
	Unreadable string       `json:"unreadable"`
}

type LoadConfig struct {
	FollowPointers     bool
	MaxVariableRecurse int
	MaxStringLen       int
	MaxArrayValues     int
	MaxStructFields    int
}

type EvalScope struct {
	GoroutineID  int64
	Frame        int
	DeferredCall int
}

type DebuggerCommand struct {
	Name        string `json:"name"`
	GoroutineID int64  `json:"goroutineID,omitempty"`
}

const continueCommand = "continue"

type (
	SetAPIVersionIn struct {
		APIVersion int
	}

	SetAPIVersionOut struct {
	}

	CreateBreakpointIn struct {
		Breakpoint Breakpoint
	}

	CreateBreakpointOut struct {
		Breakpoint Breakpoint
	}

	CommandOut struct {
		State DebuggerState
	}

	StateIn struct {
		NonBlocking bool
	}

	StateOut struct {
		State *DebuggerState
	}

	StacktraceIn struct {
		Id    int64
		Depth int
		Full  bool
		Cfg   *LoadConfig
	}

	StacktraceOut struct {
		Locations []Stackframe
	}

	EvalIn struct {
		Scope EvalScope
		Expr  string
		Cfg   *LoadConfig
	}

	EvalOut struct {
		Variable *Variable
	}

	ListLocalVarsIn struct {
		Scope EvalScope
		Cfg   LoadConfig
	}

	ListLocalVarsOut struct {
		Variables []Variable
	}

	ListFunctionArgsIn struct {
		Scope EvalScope
		Cfg   LoadConfig
	}

	ListFunctionArgsOut struct {
		Args []Variable
	}

	DetachIn struct {
		Kill bool
	}

	DetachOut struct {
	}
)
