package terminal

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-delve/dbgcheck/service"
	"github.com/go-delve/dbgcheck/service/api"
)

type fakeFrame struct {
	name   string
	values map[string]*api.Value
}

func (f *fakeFrame) FunctionName() string { return f.name }
func (f *fakeFrame) String() string       { return "frame #1: " + f.name }

func (f *fakeFrame) ValueForVariablePath(path string) (*api.Value, error) {
	if v, ok := f.values[path]; ok {
		return v, nil
	}
	return nil, errors.New("no variable named " + path)
}

func (f *fakeFrame) EvaluateExpression(expr string) (*api.Value, error) {
	return &api.Value{Name: "$0", Type: "int", Value: "3"}, nil
}

type fakeSession struct {
	frames    []*fakeFrame
	continues int
}

func (s *fakeSession) CreateBreakpoint(bp *api.Breakpoint) (*api.Breakpoint, error) {
	return bp, nil
}

func (s *fakeSession) Continue() (*api.StopState, error) {
	s.continues++
	if s.continues >= len(s.frames) {
		return &api.StopState{Exited: true, ExitStatus: 0}, nil
	}
	return &api.StopState{BreakpointID: 1}, nil
}

func (s *fakeSession) SelectedFrame() (service.Frame, error) {
	if s.continues >= len(s.frames) {
		return nil, errors.New("process exited")
	}
	return s.frames[s.continues], nil
}

func (s *fakeSession) Detach(bool) error { return nil }

func newTestExplorer() (*Explorer, *fakeSession, *bytes.Buffer) {
	sess := &fakeSession{frames: []*fakeFrame{
		{name: "WasmDebugging.Program.TestBasicTypes", values: map[string]*api.Value{
			"b": {Name: "b", Type: "bool", Value: "true"},
		}},
		{name: "WasmDebugging.Program.TestEnumDisplay", values: map[string]*api.Value{}},
	}}
	var buf bytes.Buffer
	return NewExplorer(sess, &buf), sess, &buf
}

func TestExplorerPath(t *testing.T) {
	e, _, buf := newTestExplorer()
	if err := e.Call("p b"); err != nil {
		t.Fatal(err)
	}
	want := "(bool) b = true\n  assert: [\"b\", \"true\"]\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if err := e.Call("path c"); err == nil {
		t.Error("expected error for unknown variable")
	}
}

func TestExplorerExpr(t *testing.T) {
	e, _, buf := newTestExplorer()
	if err := e.Call("expr   1 + 2 "); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `assert: ["1 + 2", "3"] (lookup: expr)`) {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestExplorerContinue(t *testing.T) {
	e, sess, buf := newTestExplorer()
	if err := e.Call("frame"); err != nil {
		t.Fatal(err)
	}
	if err := e.Call("continue"); err != nil {
		t.Fatal(err)
	}
	if err := e.Call("c"); err != nil {
		t.Fatal(err)
	}
	if sess.continues != 2 {
		t.Errorf("expected 2 continues, got %d", sess.continues)
	}
	want := "Inspecting: frame #1: WasmDebugging.Program.TestBasicTypes\n" +
		"Inspecting: frame #1: WasmDebugging.Program.TestEnumDisplay\n" +
		"Process exited with status 0\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestExplorerCommands(t *testing.T) {
	e, _, _ := newTestExplorer()
	for _, tc := range []struct {
		in  string
		err string
	}{
		{"", ""},
		{"fr", ""},
		{"he", ""},
		{"zzz", "command not available: zzz"},
		{"path", "path: missing argument <variable path>"},
		{"e", "expr: missing argument <expression>"},
	} {
		err := e.Call(tc.in)
		switch {
		case tc.err == "" && err != nil:
			t.Errorf("%q: unexpected error %v", tc.in, err)
		case tc.err != "" && (err == nil || err.Error() != tc.err):
			t.Errorf("%q: expected error %q, got %v", tc.in, tc.err, err)
		}
	}
	for _, in := range []string{"q", "quit", "exit"} {
		if err := e.Call(in); err != ErrExit {
			t.Errorf("%q: expected ErrExit, got %v", in, err)
		}
	}
}

func TestExplorerComplete(t *testing.T) {
	e, _, _ := newTestExplorer()
	if diff := cmp.Diff([]string{"e", "exit", "expr"}, e.Complete("e")); diff != "" {
		t.Errorf("completion mismatch (-want +got):\n%s", diff)
	}
	if got := e.Complete("path b"); got != nil {
		t.Errorf("expected no completion after the command, got %v", got)
	}
}
