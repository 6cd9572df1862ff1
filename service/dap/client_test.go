package dap

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-dap"

	"github.com/go-delve/dbgcheck/service/api"
)

func assertNoError(err error, t *testing.T, s string) {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		fname := filepath.Base(file)
		t.Fatalf("failed assertion at %s:%d: %s - %s\n", fname, line, s, err)
	}
}

// fakeAdapter answers DAP requests for a target with two functions, Main
// and Break. Main is hit once, Break is hit breakHits times, then the
// target exits with exitCode.
type fakeAdapter struct {
	conn net.Conn
	seq  int

	launchArgs LaunchConfig
	bpIDs      map[string]int
	requests   map[string]int
	// varRequests counts variables requests per reference.
	varRequests map[int]int

	omitHitIDs bool
	breakHits  int
	exitCode   int
	stoppedIn  string
}

func newFakeAdapter(conn net.Conn) *fakeAdapter {
	return &fakeAdapter{
		conn:        conn,
		bpIDs:       map[string]int{},
		requests:    map[string]int{},
		varRequests: map[int]int{},
	}
}

func (s *fakeAdapter) send(m dap.Message) {
	dap.WriteProtocolMessage(s.conn, m)
}

func (s *fakeAdapter) response(req *dap.Request, success bool) dap.Response {
	s.seq++
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.seq, Type: "response"},
		RequestSeq:      req.Seq,
		Command:         req.Command,
		Success:         success,
	}
}

func (s *fakeAdapter) event(name string) dap.Event {
	s.seq++
	return dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: s.seq, Type: "event"}, Event: name}
}

func (s *fakeAdapter) stop(fn string) {
	s.stoppedIn = fn
	ev := &dap.StoppedEvent{Event: s.event("stopped")}
	ev.Body.Reason = "function breakpoint"
	ev.Body.ThreadId = 7
	if !s.omitHitIDs {
		ev.Body.HitBreakpointIds = []int{s.bpIDs[fn]}
	}
	s.send(ev)
}

func (s *fakeAdapter) exit() {
	ev := &dap.ExitedEvent{Event: s.event("exited")}
	ev.Body.ExitCode = s.exitCode
	s.send(ev)
}

func (s *fakeAdapter) frames() []dap.StackFrame {
	main := dap.StackFrame{Id: 1001, Name: "WasmDebugging_Program__Main", Line: 20, InstructionPointerReference: "0x4010"}
	if s.stoppedIn == "Break" {
		return []dap.StackFrame{{Id: 1000, Name: "Break", Line: 3, InstructionPointerReference: "0x1000"}, main}
	}
	main.Name = "Main"
	return []dap.StackFrame{main}
}

func (s *fakeAdapter) serve() {
	defer s.conn.Close()
	reader := bufio.NewReader(s.conn)
	for {
		m, err := dap.ReadProtocolMessage(reader)
		if err != nil {
			return
		}
		req, ok := m.(dap.RequestMessage)
		if !ok {
			continue
		}
		r := req.GetRequest()
		s.requests[r.Command]++
		switch req := m.(type) {
		case *dap.InitializeRequest:
			resp := &dap.InitializeResponse{Response: s.response(r, true)}
			resp.Body.SupportsConfigurationDoneRequest = true
			s.send(resp)
		case *dap.LaunchRequest:
			json.Unmarshal(req.Arguments, &s.launchArgs)
			s.send(&dap.LaunchResponse{Response: s.response(r, true)})
			s.send(&dap.InitializedEvent{Event: s.event("initialized")})
		case *dap.SetFunctionBreakpointsRequest:
			resp := &dap.SetFunctionBreakpointsResponse{Response: s.response(r, true)}
			for _, fbp := range req.Arguments.Breakpoints {
				bp := dap.Breakpoint{Message: "no locations"}
				if fbp.Name == "Main" || fbp.Name == "Break" {
					if s.bpIDs[fbp.Name] == 0 {
						s.bpIDs[fbp.Name] = len(s.bpIDs) + 1
					}
					bp = dap.Breakpoint{Id: s.bpIDs[fbp.Name], Verified: true}
				}
				resp.Body.Breakpoints = append(resp.Body.Breakpoints, bp)
			}
			s.send(resp)
		case *dap.ConfigurationDoneRequest:
			out := &dap.OutputEvent{Event: s.event("output")}
			out.Body.Category = "console"
			out.Body.Output = "Launching target\n"
			s.send(out)
			s.send(&dap.ConfigurationDoneResponse{Response: s.response(r, true)})
			s.stop("Main")
		case *dap.ContinueRequest:
			s.send(&dap.ContinueResponse{Response: s.response(r, true)})
			if s.breakHits > 0 {
				s.breakHits--
				s.stop("Break")
			} else {
				s.exit()
			}
		case *dap.StackTraceRequest:
			resp := &dap.StackTraceResponse{Response: s.response(r, true)}
			frames := s.frames()
			if req.Arguments.Levels > 0 && req.Arguments.Levels < len(frames) {
				frames = frames[:req.Arguments.Levels]
			}
			resp.Body.StackFrames = frames
			resp.Body.TotalFrames = len(frames)
			s.send(resp)
		case *dap.ScopesRequest:
			resp := &dap.ScopesResponse{Response: s.response(r, true)}
			if req.Arguments.FrameId == 1001 {
				resp.Body.Scopes = []dap.Scope{
					{Name: "Locals", VariablesReference: 1},
					{Name: "Registers", VariablesReference: 99, PresentationHint: "registers"},
				}
			}
			s.send(resp)
		case *dap.VariablesRequest:
			ref := req.Arguments.VariablesReference
			s.varRequests[ref]++
			resp := &dap.VariablesResponse{Response: s.response(r, true)}
			switch ref {
			case 1:
				resp.Body.Variables = []dap.Variable{
					{Name: "boolTrue", Type: "bool", Value: "true"},
					{Name: "iM1", Type: "sbyte", Value: "'\\xff'"},
					{Name: "p1", Type: "S *", Value: "0x000010a0", VariablesReference: 2},
					{Name: "arr", Type: "int[2]", Value: "{...}", VariablesReference: 3},
				}
			case 2:
				resp.Body.Variables = []dap.Variable{
					{Name: "IntField", Type: "int", Value: "1"},
					{Name: "FloatField", Type: "double", Value: "2"},
				}
			case 3:
				resp.Body.Variables = []dap.Variable{
					{Name: "[0]", Type: "int", Value: "10"},
					{Name: "[1]", Type: "int", Value: "11"},
				}
			case 99:
				resp.Body.Variables = []dap.Variable{{Name: "pc", Value: "0x4010"}}
			}
			s.send(resp)
		case *dap.EvaluateRequest:
			switch req.Arguments.Expression {
			case "(*p1).IntField":
				resp := &dap.EvaluateResponse{Response: s.response(r, true)}
				resp.Body.Result = "1"
				resp.Body.Type = "int"
				s.send(resp)
			default:
				er := &dap.ErrorResponse{Response: s.response(r, false)}
				er.Message = "error: use of undeclared identifier"
				s.send(er)
			}
		case *dap.DisconnectRequest:
			s.send(&dap.DisconnectResponse{Response: s.response(r, true)})
			return
		default:
			er := &dap.ErrorResponse{Response: s.response(r, false)}
			er.Message = "unsupported"
			s.send(er)
		}
	}
}

// withTestClient runs fn against a Client connected to a fakeAdapter. The
// adapter state may only be inspected after fn returns and the adapter
// goroutine has exited.
func withTestClient(t *testing.T, s func(net.Conn) *fakeAdapter, fn func(c *Client)) *fakeAdapter {
	serverConn, clientConn := net.Pipe()
	srv := s(serverConn)
	done := make(chan struct{})
	go func() {
		srv.serve()
		close(done)
	}()
	c := NewClient(clientConn)
	fn(c)
	clientConn.Close()
	<-done
	return srv
}

func launch(t *testing.T, c *Client) {
	assertNoError(c.Launch(LaunchConfig{
		Program:      "/tmp/HelloWasm",
		DisableASLR:  true,
		InitCommands: []string{"settings set show-progress false"},
	}), t, "Launch")
	main, err := c.CreateBreakpoint(&api.Breakpoint{FunctionName: "Main"})
	assertNoError(err, t, "CreateBreakpoint(Main)")
	if main.Locations != 1 {
		t.Fatalf("expected Main to resolve, got %v", main)
	}
	st, err := c.Continue()
	assertNoError(err, t, "Continue to Main")
	if st.Exited || st.BreakpointID != main.ID {
		t.Fatalf("unexpected stop %#v", st)
	}
}

func TestLaunchAndBreakpoints(t *testing.T) {
	srv := withTestClient(t, newFakeAdapter, func(c *Client) {
		launch(t, c)

		missing, err := c.CreateBreakpoint(&api.Breakpoint{FunctionName: "Missing"})
		assertNoError(err, t, "CreateBreakpoint(Missing)")
		if missing.Locations != 0 {
			t.Fatalf("expected zero locations, got %v", missing)
		}
		brk, err := c.CreateBreakpoint(&api.Breakpoint{FunctionName: "Break", FrameOffset: 1})
		assertNoError(err, t, "CreateBreakpoint(Break)")
		if brk.Locations != 1 || brk.FrameOffset != 1 {
			t.Fatalf("unexpected breakpoint %v", brk)
		}
		assertNoError(c.Detach(true), t, "Detach")
	})
	if !srv.launchArgs.DisableASLR || srv.launchArgs.Program != "/tmp/HelloWasm" || len(srv.launchArgs.InitCommands) != 1 {
		t.Errorf("unexpected launch arguments %#v", srv.launchArgs)
	}
	if srv.requests["configurationDone"] != 1 || srv.requests["continue"] != 0 {
		t.Errorf("first resume should only send configurationDone: %v", srv.requests)
	}
	if srv.requests["disconnect"] != 1 {
		t.Errorf("expected disconnect, got %v", srv.requests)
	}
}

func testFrameSelection(t *testing.T, omitHitIDs bool) {
	mk := func(conn net.Conn) *fakeAdapter {
		s := newFakeAdapter(conn)
		s.breakHits = 2
		s.exitCode = 100
		s.omitHitIDs = omitHitIDs
		return s
	}
	srv := withTestClient(t, mk, func(c *Client) {
		launch(t, c)
		_, err := c.CreateBreakpoint(&api.Breakpoint{FunctionName: "Break", FrameOffset: 1})
		assertNoError(err, t, "CreateBreakpoint(Break)")

		for i := 0; i < 2; i++ {
			st, err := c.Continue()
			assertNoError(err, t, "Continue")
			if st.Exited {
				t.Fatalf("unexpected exit")
			}
			f, err := c.SelectedFrame()
			assertNoError(err, t, "SelectedFrame")
			if f.FunctionName() != "WasmDebugging_Program__Main" {
				t.Fatalf("expected caller frame, got %s", f)
			}
			for path, want := range map[string]string{
				"boolTrue":       "true",
				"iM1":            "'\\xff'",
				"p1.IntField":    "1",
				"p1->FloatField": "2",
				"arr[1]":         "11",
			} {
				v, err := f.ValueForVariablePath(path)
				assertNoError(err, t, path)
				if v.Value != want {
					t.Errorf("%s: got %q want %q", path, v.Value, want)
				}
			}
			if _, err := f.ValueForVariablePath("pc"); err == nil {
				t.Errorf("registers should not be visible as variables")
			}
			if _, err := f.ValueForVariablePath("p1.Missing"); err == nil {
				t.Errorf("expected error for missing member")
			}
		}

		st, err := c.Continue()
		assertNoError(err, t, "Continue")
		if !st.Exited || st.ExitStatus != 100 {
			t.Fatalf("expected exit 100, got %#v", st)
		}
		assertNoError(c.Detach(true), t, "Detach")
	})
	// variables are cached while stopped and refetched after each resume
	if srv.varRequests[1] != 2 || srv.varRequests[2] != 2 {
		t.Errorf("unexpected variables requests %v", srv.varRequests)
	}
	if srv.varRequests[99] != 0 {
		t.Errorf("registers scope should not be fetched")
	}
}

func TestFrameSelection(t *testing.T) {
	testFrameSelection(t, false)
}

func TestFrameSelectionWithoutHitBreakpointIDs(t *testing.T) {
	testFrameSelection(t, true)
}

func TestEvaluateExpression(t *testing.T) {
	mk := func(conn net.Conn) *fakeAdapter {
		s := newFakeAdapter(conn)
		s.breakHits = 1
		return s
	}
	withTestClient(t, mk, func(c *Client) {
		launch(t, c)
		_, err := c.CreateBreakpoint(&api.Breakpoint{FunctionName: "Break", FrameOffset: 1})
		assertNoError(err, t, "CreateBreakpoint(Break)")
		_, err = c.Continue()
		assertNoError(err, t, "Continue")
		f, err := c.SelectedFrame()
		assertNoError(err, t, "SelectedFrame")

		v, err := f.EvaluateExpression("(*p1).IntField")
		assertNoError(err, t, "EvaluateExpression")
		if v.Value != "1" || v.Type != "int" {
			t.Fatalf("unexpected value %v", v)
		}

		_, err = f.EvaluateExpression("__vmctx->set(); 0")
		rerr, ok := err.(*ResponseError)
		if !ok {
			t.Fatalf("expected *ResponseError, got %T %v", err, err)
		}
		if rerr.Command != "evaluate" || rerr.Message != "error: use of undeclared identifier" {
			t.Fatalf("unexpected error %v", rerr)
		}
		assertNoError(c.Detach(true), t, "Detach")
	})
}

func TestContinueBeforeLaunch(t *testing.T) {
	withTestClient(t, newFakeAdapter, func(c *Client) {
		if _, err := c.Continue(); err != ErrNotLaunched {
			t.Fatalf("expected ErrNotLaunched, got %v", err)
		}
	})
}

func TestFunctionMatches(t *testing.T) {
	for _, tc := range []struct {
		frame, fn string
		want      bool
	}{
		{"Break", "Break", true},
		{"HelloWasm`Break", "Break", true},
		{"Break()", "Break", true},
		{"main.Break", "Break", true},
		{"Program::Break(int)", "Break", true},
		{"DoBreak", "Break", false},
	} {
		if got := functionMatches(tc.frame, tc.fn); got != tc.want {
			t.Errorf("functionMatches(%q, %q) = %v", tc.frame, tc.fn, got)
		}
	}
}
