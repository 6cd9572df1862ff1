package suite

import (
	"errors"
	"fmt"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/go-delve/dbgcheck/pkg/logflags"
)

const (
	suiteBuiltinName  = "suite"
	targetBuiltinName = "target"
	setupBuiltinName  = "setup"
	caseBuiltinName   = "case"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// builder accumulates the suite described by the builtins called from a
// Starlark script.
type builder struct {
	s        *Suite
	setupSet bool
}

// LoadStarlark executes the script at path and returns the suite it
// describes. If source is not nil it is used instead of reading path, see
// starlark.ExecFile for the accepted types.
//
// The script describes the suite by calling:
//
//	suite(name)
//	target(program, args=[], cwd="")
//	setup(break_fn, frame_offset=1, entry="main", entry_function="",
//	      init_exprs=[], init_commands=[], show_progress=False,
//	      disable_aslr=False)
//	case(name, asserts, lookup="path", break_fn="", skip="")
//
// where asserts is a list of (accessor, expected) tuples. Cases are added
// in call order; loops and helper functions can be used to generate them.
func LoadStarlark(path string, source interface{}) (*Suite, error) {
	b := &builder{s: &Suite{Setup: DefaultSetup()}}
	thread := &starlark.Thread{
		Name: path,
		Print: func(_ *starlark.Thread, msg string) {
			logflags.SuiteLogger().Info(msg)
		},
	}
	if _, err := starlark.ExecFile(thread, path, source, b.predeclared()); err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("%s", evalErr.Backtrace())
		}
		return nil, err
	}
	return b.s, nil
}

func (b *builder) predeclared() starlark.StringDict {
	return starlark.StringDict{
		suiteBuiltinName:  starlark.NewBuiltin(suiteBuiltinName, b.suite),
		targetBuiltinName: starlark.NewBuiltin(targetBuiltinName, b.target),
		setupBuiltinName:  starlark.NewBuiltin(setupBuiltinName, b.setup),
		caseBuiltinName:   starlark.NewBuiltin(caseBuiltinName, b.addCase),
	}
}

func (b *builder) suite(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	b.s.Name = name
	return starlark.None, nil
}

func (b *builder) target(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		program string
		argv    *starlark.List
		cwd     string
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "program", &program, "args?", &argv, "cwd?", &cwd); err != nil {
		return nil, err
	}
	strs, err := stringList(fn.Name(), "args", argv)
	if err != nil {
		return nil, err
	}
	b.s.Target = Target{Program: program, Args: strs, Cwd: cwd}
	return starlark.None, nil
}

func (b *builder) setup(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if b.setupSet {
		return nil, fmt.Errorf("%s: called more than once", fn.Name())
	}
	st := DefaultSetup()
	var initExprs, initCommands *starlark.List
	err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"break_fn", &st.Break,
		"frame_offset?", &st.FrameOffset,
		"entry?", &st.Entry,
		"entry_function?", &st.EntryFunction,
		"init_exprs?", &initExprs,
		"init_commands?", &initCommands,
		"show_progress?", &st.ShowProgress,
		"disable_aslr?", &st.DisableASLR)
	if err != nil {
		return nil, err
	}
	if st.InitExprs, err = stringList(fn.Name(), "init_exprs", initExprs); err != nil {
		return nil, err
	}
	if st.InitCommands, err = stringList(fn.Name(), "init_commands", initCommands); err != nil {
		return nil, err
	}
	b.s.Setup = st
	b.setupSet = true
	return starlark.None, nil
}

func (b *builder) addCase(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		c       Case
		asserts *starlark.List
		lookup  = string(LookupPath)
	)
	err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"name", &c.Name,
		"asserts", &asserts,
		"lookup?", &lookup,
		"break_fn?", &c.Break,
		"skip?", &c.Skip)
	if err != nil {
		return nil, err
	}
	c.Lookup = Lookup(lookup)
	for i := 0; i < asserts.Len(); i++ {
		a, err := assertion(asserts.Index(i))
		if err != nil {
			return nil, fmt.Errorf("%s %q: assertion %d: %v", fn.Name(), c.Name, i, err)
		}
		c.Asserts = append(c.Asserts, a)
	}
	b.s.Cases = append(b.s.Cases, c)
	return starlark.None, nil
}

func assertion(v starlark.Value) (Assertion, error) {
	seq, ok := v.(starlark.Indexable)
	if !ok || seq.Len() != 2 {
		return Assertion{}, fmt.Errorf("expected an (accessor, expected) pair, got %s", v)
	}
	accessor, ok1 := starlark.AsString(seq.Index(0))
	want, ok2 := starlark.AsString(seq.Index(1))
	if !ok1 || !ok2 {
		return Assertion{}, fmt.Errorf("accessor and expected value must be strings, got %s", v)
	}
	return Assertion{Accessor: accessor, Want: want}, nil
}

func stringList(fnname, argname string, l *starlark.List) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	r := make([]string, 0, l.Len())
	for i := 0; i < l.Len(); i++ {
		s, ok := starlark.AsString(l.Index(i))
		if !ok {
			return nil, fmt.Errorf("%s: %s[%d] is %s, not a string", fnname, argname, i, l.Index(i).Type())
		}
		r = append(r, s)
	}
	return r, nil
}
