// Package dap implements service.Session as a client of the Debug Adapter
// Protocol. Any adapter that can launch a native target works, lldb-dap and
// 'dlv dap' are the ones dbgcheck is tested against.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
//
// The client is synchronous: every method sends one or more requests and
// reads messages from the adapter until the matching response arrives.
// Events received in the meantime are queued and consumed by the methods
// that wait for them (Launch waits for 'initialized', Continue for
// 'stopped', 'exited' or 'terminated').
package dap

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/google/go-dap"
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/dbgcheck/pkg/logflags"
	"github.com/go-delve/dbgcheck/service"
	"github.com/go-delve/dbgcheck/service/api"
)

// variablesCacheSize bounds the number of 'variables' responses kept
// between two resumes of the target.
const variablesCacheSize = 256

// LaunchConfig is the 'launch' request arguments. The fields are the union
// of what lldb-dap and delve's DAP server understand; adapters ignore
// the attributes they do not know.
type LaunchConfig struct {
	// Mode is required by delve ("exec"), ignored by lldb-dap.
	Mode         string   `json:"mode,omitempty"`
	Program      string   `json:"program"`
	Args         []string `json:"args,omitempty"`
	Cwd          string   `json:"cwd,omitempty"`
	StopOnEntry  bool     `json:"stopOnEntry"`
	DisableASLR  bool     `json:"disableASLR"`
	InitCommands []string `json:"initCommands,omitempty"`
	// Stdio redirects the standard streams of the target, in lldb-dap's
	// format: one path per stream.
	Stdio        []string `json:"stdio,omitempty"`
}

// ResponseError is returned when the adapter answers a request with
// success=false.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed", e.Command)
	}
	return fmt.Sprintf("%s request failed: %s", e.Command, e.Message)
}

// ErrNotLaunched is returned by Continue before Launch succeeded.
var ErrNotLaunched = errors.New("target not launched")

// Client is a service.Session that uses the Debug Adapter Protocol.
type Client struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	// seq is the sequence number of the last request sent.
	seq int
	log logflags.Logger

	capabilities dap.Capabilities
	launched     bool
	// configured is set once configurationDone was sent; the first
	// Continue sends configurationDone instead of continue.
	configured bool

	events []dap.EventMessage

	// fnBps are all function breakpoints, in request order. DAP replaces
	// the whole set on every setFunctionBreakpoints request.
	fnBps []*api.Breakpoint

	threadID int
	selected int
	exitCode int

	// vars caches 'variables' responses keyed by variablesReference.
	// References are only valid while the target is stopped, the cache is
	// purged on every resume.
	vars *lru.Cache
}

// Ensure the implementation satisfies the interface.
var _ service.Session = &Client{}

// NewClient creates a new Client over rwc, which is usually the stdio of an
// adapter process or a TCP connection. Call Detach to close it.
func NewClient(rwc io.ReadWriteCloser) *Client {
	vars, _ := lru.New(variablesCacheSize)
	return &Client{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
		log:    logflags.DAPLogger(),
		vars:   vars,
	}
}

// Dial connects to an adapter listening on addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

func (c *Client) newRequest(command string) dap.Request {
	return dap.Request{ProtocolMessage: dap.ProtocolMessage{Type: "request"}, Command: command}
}

func (c *Client) send(m dap.Message) error {
	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(m)
		c.log.Debug("[-> to adapter]", string(jsonmsg))
	}
	return dap.WriteProtocolMessage(c.rwc, m)
}

func (c *Client) read() (dap.Message, error) {
	m, err := dap.ReadProtocolMessage(c.reader)
	if err != nil {
		if _, ok := err.(*dap.DecodeProtocolMessageFieldError); ok {
			// Unknown commands and events are not fatal.
			c.log.Debugf("skipping undecodable message: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("reading from adapter: %w", err)
	}
	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(m)
		c.log.Debug("[<- from adapter]", string(jsonmsg))
	}
	return m, nil
}

// roundTrip sends req and reads messages until the response to it arrives.
func (c *Client) roundTrip(req dap.RequestMessage) (dap.ResponseMessage, error) {
	r := req.GetRequest()
	c.seq++
	r.Seq = c.seq
	if err := c.send(req); err != nil {
		return nil, err
	}
	for {
		m, err := c.read()
		if err != nil {
			return nil, err
		}
		switch m := m.(type) {
		case dap.ResponseMessage:
			resp := m.GetResponse()
			if resp.RequestSeq != r.Seq {
				c.log.Warnf("dropping response to request %d (%s)", resp.RequestSeq, resp.Command)
				continue
			}
			if !resp.Success {
				return nil, &ResponseError{Command: resp.Command, Message: resp.Message}
			}
			return m, nil
		case dap.EventMessage:
			c.queueEvent(m)
		case dap.RequestMessage:
			c.log.Warnf("reverse request %q not supported", m.GetRequest().Command)
		}
	}
}

func (c *Client) queueEvent(e dap.EventMessage) {
	switch e := e.(type) {
	case *dap.OutputEvent:
		c.log.Debugf("target output (%s): %s", e.Body.Category, strings.TrimRight(e.Body.Output, "\n"))
	case *dap.StoppedEvent, *dap.ExitedEvent, *dap.TerminatedEvent, *dap.InitializedEvent:
		c.events = append(c.events, e)
	default:
		c.log.Debugf("ignoring %q event", e.GetEvent().Event)
	}
}

// nextEvent returns the first queued or incoming event among names.
func (c *Client) nextEvent(names ...string) (dap.EventMessage, error) {
	match := func(e dap.EventMessage) bool {
		for _, name := range names {
			if e.GetEvent().Event == name {
				return true
			}
		}
		return false
	}
	for {
		for i, e := range c.events {
			if match(e) {
				c.events = append(c.events[:i], c.events[i+1:]...)
				return e, nil
			}
		}
		m, err := c.read()
		if err != nil {
			return nil, err
		}
		switch m := m.(type) {
		case dap.EventMessage:
			c.queueEvent(m)
		case dap.ResponseMessage:
			c.log.Warnf("unexpected response to %s while waiting for %v", m.GetResponse().Command, names)
		}
	}
}

// Launch initializes the adapter and launches the target described by cfg.
// The target does not run until the first call to Continue, so that
// breakpoints can be set first.
func (c *Client) Launch(cfg LaunchConfig) error {
	init := &dap.InitializeRequest{Request: c.newRequest("initialize")}
	init.Arguments = dap.InitializeRequestArguments{
		ClientID:             "dbgcheck",
		ClientName:           "dbgcheck",
		AdapterID:            "dbgcheck",
		PathFormat:           "path",
		LinesStartAt1:        true,
		ColumnsStartAt1:      true,
		SupportsVariableType: true,
		Locale:               "en-us",
	}
	resp, err := c.roundTrip(init)
	if err != nil {
		return err
	}
	if ir, ok := resp.(*dap.InitializeResponse); ok {
		c.capabilities = ir.Body
	}

	args, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	launch := &dap.LaunchRequest{Request: c.newRequest("launch"), Arguments: args}
	if _, err := c.roundTrip(launch); err != nil {
		return err
	}
	if _, err := c.nextEvent("initialized"); err != nil {
		return err
	}
	c.launched = true
	return nil
}

// CreateBreakpoint adds a function breakpoint. The adapter reports whether
// the function resolved through the 'verified' attribute; DAP does not
// expose the number of addresses, a verified breakpoint counts as one
// location.
func (c *Client) CreateBreakpoint(bp *api.Breakpoint) (*api.Breakpoint, error) {
	created := &api.Breakpoint{FunctionName: bp.FunctionName, FrameOffset: bp.FrameOffset}
	all := append(c.fnBps, created)

	req := &dap.SetFunctionBreakpointsRequest{Request: c.newRequest("setFunctionBreakpoints")}
	req.Arguments.Breakpoints = make([]dap.FunctionBreakpoint, len(all))
	for i := range all {
		req.Arguments.Breakpoints[i].Name = all[i].FunctionName
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.SetFunctionBreakpointsResponse).Body
	if len(body.Breakpoints) != len(all) {
		return nil, fmt.Errorf("adapter returned %d breakpoints for %d requested", len(body.Breakpoints), len(all))
	}
	for i := range all {
		all[i].ID = body.Breakpoints[i].Id
		if body.Breakpoints[i].Verified {
			all[i].Locations = 1
		} else {
			all[i].Locations = 0
		}
	}
	if created.Locations == 0 {
		c.log.Debugf("function breakpoint %s not verified: %s", bp.FunctionName, body.Breakpoints[len(all)-1].Message)
	}
	c.fnBps = all
	return created, nil
}

// Continue resumes the target and waits for it to stop or terminate.
func (c *Client) Continue() (*api.StopState, error) {
	if !c.launched {
		return nil, ErrNotLaunched
	}
	c.vars.Purge()
	c.selected = 0
	switch {
	case !c.configured:
		c.configured = true
		if c.capabilities.SupportsConfigurationDoneRequest {
			req := &dap.ConfigurationDoneRequest{Request: c.newRequest("configurationDone")}
			if _, err := c.roundTrip(req); err != nil {
				return nil, err
			}
		}
	default:
		req := &dap.ContinueRequest{Request: c.newRequest("continue")}
		req.Arguments.ThreadId = c.threadID
		if _, err := c.roundTrip(req); err != nil {
			return nil, err
		}
	}
	return c.waitStop()
}

func (c *Client) waitStop() (*api.StopState, error) {
	e, err := c.nextEvent("stopped", "exited", "terminated")
	if err != nil {
		return nil, err
	}
	switch e := e.(type) {
	case *dap.ExitedEvent:
		c.exitCode = e.Body.ExitCode
		return &api.StopState{Exited: true, ExitStatus: e.Body.ExitCode, Reason: "exited"}, nil
	case *dap.TerminatedEvent:
		return &api.StopState{Exited: true, ExitStatus: c.exitCode, Reason: "terminated"}, nil
	case *dap.StoppedEvent:
		return c.stopped(e)
	}
	return nil, fmt.Errorf("unexpected event %q", e.GetEvent().Event)
}

func (c *Client) stopped(e *dap.StoppedEvent) (*api.StopState, error) {
	st := &api.StopState{Reason: e.Body.Reason}
	c.threadID = e.Body.ThreadId
	if c.threadID == 0 {
		resp, err := c.roundTrip(&dap.ThreadsRequest{Request: c.newRequest("threads")})
		if err != nil {
			return nil, err
		}
		threads := resp.(*dap.ThreadsResponse).Body.Threads
		if len(threads) == 0 {
			return nil, errors.New("stopped without threads")
		}
		c.threadID = threads[0].Id
	}

	var hit *api.Breakpoint
	for _, id := range e.Body.HitBreakpointIds {
		if hit = c.breakpointByID(id); hit != nil {
			break
		}
	}
	if hit == nil && strings.Contains(e.Body.Reason, "breakpoint") {
		// Older adapters do not report hitBreakpointIds, match on the
		// function of the top frame instead.
		frames, err := c.stackTrace(1)
		if err != nil {
			return nil, err
		}
		if len(frames) > 0 {
			hit = c.breakpointByFunction(frames[0].Name)
		}
	}
	if hit != nil {
		st.BreakpointID = hit.ID
		c.selected = hit.FrameOffset
		c.log.Debugf("stopped at breakpoint %s, selecting frame %d", hit.FunctionName, hit.FrameOffset)
	}
	return st, nil
}

func (c *Client) breakpointByID(id int) *api.Breakpoint {
	for _, bp := range c.fnBps {
		if bp.ID == id && bp.Locations > 0 {
			return bp
		}
	}
	return nil
}

func (c *Client) breakpointByFunction(name string) *api.Breakpoint {
	for _, bp := range c.fnBps {
		if bp.Locations > 0 && functionMatches(name, bp.FunctionName) {
			return bp
		}
	}
	return nil
}

// functionMatches reports whether a frame name produced by the adapter
// designates fn. Adapters decorate frame names with modules, packages or
// argument lists.
func functionMatches(frameName, fn string) bool {
	if i := strings.IndexByte(frameName, '('); i > 0 {
		frameName = frameName[:i]
	}
	if i := strings.LastIndexByte(frameName, '`'); i >= 0 {
		frameName = frameName[i+1:]
	}
	return frameName == fn || strings.HasSuffix(frameName, "."+fn) || strings.HasSuffix(frameName, "::"+fn)
}

func (c *Client) stackTrace(levels int) ([]dap.StackFrame, error) {
	req := &dap.StackTraceRequest{Request: c.newRequest("stackTrace")}
	req.Arguments.ThreadId = c.threadID
	req.Arguments.Levels = levels
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.StackTraceResponse).Body.StackFrames, nil
}

// SelectedFrame returns the frame selected by the last stop.
func (c *Client) SelectedFrame() (service.Frame, error) {
	frames, err := c.stackTrace(c.selected + 1)
	if err != nil {
		return nil, err
	}
	if c.selected >= len(frames) {
		return nil, fmt.Errorf("frame %d not available, stack has %d frames", c.selected, len(frames))
	}
	return &frame{c: c, index: c.selected, sf: frames[c.selected]}, nil
}

// Detach disconnects from the adapter and closes the connection.
func (c *Client) Detach(kill bool) error {
	defer c.rwc.Close()
	req := &dap.DisconnectRequest{Request: c.newRequest("disconnect")}
	req.Arguments = &dap.DisconnectArguments{TerminateDebuggee: kill}
	_, err := c.roundTrip(req)
	if err != nil && errors.Is(err, io.EOF) {
		// Some adapters exit before answering.
		return nil
	}
	return err
}

func (c *Client) variables(ref int) ([]dap.Variable, error) {
	if v, ok := c.vars.Get(ref); ok {
		return v.([]dap.Variable), nil
	}
	req := &dap.VariablesRequest{Request: c.newRequest("variables")}
	req.Arguments.VariablesReference = ref
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	vars := resp.(*dap.VariablesResponse).Body.Variables
	c.vars.Add(ref, vars)
	return vars, nil
}

type frame struct {
	c     *Client
	index int
	sf    dap.StackFrame
}

func (f *frame) FunctionName() string {
	return f.sf.Name
}

func (f *frame) String() string {
	return fmt.Sprintf("frame #%d: %s %s line %d", f.index, f.sf.InstructionPointerReference, f.sf.Name, f.sf.Line)
}

func (f *frame) EvaluateExpression(expr string) (*api.Value, error) {
	req := &dap.EvaluateRequest{Request: f.c.newRequest("evaluate")}
	req.Arguments.Expression = expr
	req.Arguments.FrameId = f.sf.Id
	req.Arguments.Context = "watch"
	resp, err := f.c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.EvaluateResponse).Body
	return &api.Value{Name: expr, Type: body.Type, Value: body.Result}, nil
}

func (f *frame) ValueForVariablePath(path string) (*api.Value, error) {
	p, err := api.ParseVariablePath(path)
	if err != nil {
		return nil, err
	}
	roots, err := f.roots()
	if err != nil {
		return nil, err
	}

	cur := roots
	for i, step := range p {
		vals := make([]api.Value, len(cur))
		for j := range cur {
			vals[j] = api.Value{Name: cur[j].Name, Type: cur[j].Type, Value: cur[j].Value}
		}
		idx, ok := step.Find(vals)
		if !ok {
			if i == 0 {
				return nil, fmt.Errorf("no variable named %q in frame", step.Name)
			}
			return nil, fmt.Errorf("%s has no member %s", p[:i], step)
		}
		if i == len(p)-1 {
			return &vals[idx], nil
		}
		if cur[idx].VariablesReference == 0 {
			return nil, fmt.Errorf("%s has no members", p[:i+1])
		}
		if cur, err = f.c.variables(cur[idx].VariablesReference); err != nil {
			return nil, err
		}
	}
	panic("unreachable")
}

// roots returns the variables of every non-register scope of the frame.
func (f *frame) roots() ([]dap.Variable, error) {
	req := &dap.ScopesRequest{Request: f.c.newRequest("scopes")}
	req.Arguments.FrameId = f.sf.Id
	resp, err := f.c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	var roots []dap.Variable
	for _, scope := range resp.(*dap.ScopesResponse).Body.Scopes {
		if scope.PresentationHint == "registers" || strings.EqualFold(scope.Name, "registers") {
			continue
		}
		vars, err := f.c.variables(scope.VariablesReference)
		if err != nil {
			return nil, err
		}
		roots = append(roots, vars...)
	}
	return roots, nil
}
