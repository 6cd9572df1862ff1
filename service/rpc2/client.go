// Package rpc2 implements service.Session on top of the JSON-RPC API
// (version 2) served by a headless delve instance.
package rpc2

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"

	"github.com/go-delve/dbgcheck/pkg/logflags"
	"github.com/go-delve/dbgcheck/service"
	"github.com/go-delve/dbgcheck/service/api"
)

// currentGoroutine selects the goroutine of the current thread.
const currentGoroutine = -1

// DefaultLoadConfig is the load configuration used for every value read
// through the client.
var DefaultLoadConfig = LoadConfig{
	FollowPointers:     true,
	MaxVariableRecurse: 1,
	MaxStringLen:       64,
	MaxArrayValues:     64,
	MaxStructFields:    -1,
}

// RPCClient is a service.Session talking to delve over JSON-RPC.
type RPCClient struct {
	client *rpc.Client
	log    logflags.Logger

	bps      map[int]*api.Breakpoint
	selected int
}

// Ensure the implementation satisfies the interface.
var _ service.Session = &RPCClient{}

// NewClient connects to the delve server listening at addr.
func NewClient(addr string) (*RPCClient, error) {
	client, err := jsonrpc.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return newFromRPCClient(client)
}

// NewClientFromConn creates a new RPCClient from the given connection.
func NewClientFromConn(conn net.Conn) (*RPCClient, error) {
	return newFromRPCClient(jsonrpc.NewClient(conn))
}

func newFromRPCClient(client *rpc.Client) (*RPCClient, error) {
	c := &RPCClient{client: client, log: logflags.RPCLogger(), bps: make(map[int]*api.Breakpoint)}
	if err := c.call("SetApiVersion", SetAPIVersionIn{APIVersion: 2}, &SetAPIVersionOut{}); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// CreateBreakpoint sets a breakpoint at the entry of bp.FunctionName.
func (c *RPCClient) CreateBreakpoint(bp *api.Breakpoint) (*api.Breakpoint, error) {
	var out CreateBreakpointOut
	err := c.call("CreateBreakpoint", CreateBreakpointIn{Breakpoint{FunctionName: bp.FunctionName}}, &out)
	if err != nil {
		if isLocationNotFound(err) {
			c.log.Debugf("breakpoint on %s did not resolve: %v", bp.FunctionName, err)
			return &api.Breakpoint{FunctionName: bp.FunctionName, FrameOffset: bp.FrameOffset}, nil
		}
		return nil, err
	}
	created := &api.Breakpoint{
		ID:           out.Breakpoint.ID,
		FunctionName: bp.FunctionName,
		Locations:    len(out.Breakpoint.Addrs),
		FrameOffset:  bp.FrameOffset,
	}
	if created.Locations == 0 && out.Breakpoint.Addr != 0 {
		created.Locations = 1
	}
	c.bps[created.ID] = created
	return created, nil
}

func isLocationNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "could not find") || strings.Contains(msg, "not found")
}

// Continue resumes the target and waits for it to stop.
func (c *RPCClient) Continue() (*api.StopState, error) {
	var out CommandOut
	if err := c.call("Command", DebuggerCommand{Name: continueCommand}, &out); err != nil {
		return nil, err
	}
	return c.stopState(&out.State), nil
}

func (c *RPCClient) stopState(state *DebuggerState) *api.StopState {
	c.selected = 0
	if state.Exited {
		return &api.StopState{Exited: true, ExitStatus: state.ExitStatus, Reason: "exited"}
	}
	st := &api.StopState{Reason: "manual"}
	th := state.CurrentThread
	if th == nil || th.Breakpoint == nil {
		for _, t := range state.Threads {
			if t.Breakpoint != nil {
				th = t
				break
			}
		}
	}
	if th != nil && th.Breakpoint != nil {
		st.BreakpointID = th.Breakpoint.ID
		st.Reason = "breakpoint"
		if bp := c.bps[th.Breakpoint.ID]; bp != nil {
			c.selected = bp.FrameOffset
		}
	}
	return st
}

// GetState returns the current state of the target, used to synchronize
// with a session that was started by somebody else.
func (c *RPCClient) GetState() (*api.StopState, error) {
	var out StateOut
	if err := c.call("State", StateIn{NonBlocking: false}, &out); err != nil {
		return nil, err
	}
	if out.State == nil {
		return nil, errors.New("empty state")
	}
	return c.stopState(out.State), nil
}

// SelectedFrame returns the frame selected by the last stop.
func (c *RPCClient) SelectedFrame() (service.Frame, error) {
	var out StacktraceOut
	err := c.call("Stacktrace", StacktraceIn{Id: currentGoroutine, Depth: c.selected + 1}, &out)
	if err != nil {
		return nil, err
	}
	if c.selected >= len(out.Locations) {
		return nil, fmt.Errorf("frame %d not available, stack has %d frames", c.selected, len(out.Locations))
	}
	return &frame{c: c, index: c.selected, sf: out.Locations[c.selected]}, nil
}

// Detach detaches from the target, killing it if kill is true, and closes
// the connection.
func (c *RPCClient) Detach(kill bool) error {
	defer c.client.Close()
	return c.call("Detach", DetachIn{kill}, &DetachOut{})
}

func (c *RPCClient) call(method string, args, reply interface{}) error {
	if logflags.RPC() {
		c.log.Debugf("-> %s %#v", method, args)
	}
	err := c.client.Call("RPCServer."+method, args, reply)
	if logflags.RPC() {
		if err != nil {
			c.log.Debugf("<- %s error: %v", method, err)
		} else {
			c.log.Debugf("<- %s %#v", method, reply)
		}
	}
	return err
}

type frame struct {
	c     *RPCClient
	index int
	sf    Stackframe
}

func (f *frame) scope() EvalScope {
	return EvalScope{GoroutineID: currentGoroutine, Frame: f.index}
}

func (f *frame) FunctionName() string {
	if f.sf.Function == nil {
		return ""
	}
	return f.sf.Function.Name
}

func (f *frame) String() string {
	return fmt.Sprintf("frame #%d: %#x %s at %s:%d", f.index, f.sf.PC, f.FunctionName(), f.sf.File, f.sf.Line)
}

func (f *frame) EvaluateExpression(expr string) (*api.Value, error) {
	cfg := DefaultLoadConfig
	var out EvalOut
	if err := f.c.call("Eval", EvalIn{Scope: f.scope(), Expr: expr, Cfg: &cfg}, &out); err != nil {
		return nil, err
	}
	if out.Variable == nil {
		return nil, fmt.Errorf("no value for %q", expr)
	}
	v := convertVariable(out.Variable)
	if v.Name == "" {
		v.Name = expr
	}
	return &v, nil
}

func (f *frame) ValueForVariablePath(path string) (*api.Value, error) {
	p, err := api.ParseVariablePath(path)
	if err != nil {
		return nil, err
	}
	cfg := loadConfigFor(p)
	var locals ListLocalVarsOut
	if err := f.c.call("ListLocalVars", ListLocalVarsIn{Scope: f.scope(), Cfg: cfg}, &locals); err != nil {
		return nil, err
	}
	var args ListFunctionArgsOut
	if err := f.c.call("ListFunctionArgs", ListFunctionArgsIn{Scope: f.scope(), Cfg: cfg}, &args); err != nil {
		return nil, err
	}
	roots := make([]api.Value, 0, len(locals.Variables)+len(args.Args))
	for i := range locals.Variables {
		roots = append(roots, convertVariable(&locals.Variables[i]))
	}
	for i := range args.Args {
		roots = append(roots, convertVariable(&args.Args[i]))
	}
	return p.Resolve(roots)
}

// loadConfigFor returns a load configuration deep enough for delve to
// load the last step of p: one level of recursion per step.
func loadConfigFor(p api.VariablePath) LoadConfig {
	cfg := DefaultLoadConfig
	if len(p) > cfg.MaxVariableRecurse {
		cfg.MaxVariableRecurse = len(p)
	}
	return cfg
}

func convertVariable(v *Variable) api.Value {
	r := api.Value{Name: v.Name, Type: v.Type, Value: v.Value}
	if v.Unreadable != "" {
		r.Value = fmt.Sprintf("(unreadable %s)", v.Unreadable)
	}
	if len(v.Children) > 0 {
		r.Children = make([]api.Value, len(v.Children))
		for i := range v.Children {
			r.Children[i] = convertVariable(&v.Children[i])
		}
	}
	return r
}
