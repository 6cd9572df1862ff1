// Package suite describes what dbgcheck verifies: the target to debug, how
// to prepare the debugging session and the ordered list of test cases, each
// one a list of (accessor, expected rendering) pairs checked at a stop.
//
// Suites are read from YAML files or from Starlark scripts (files ending
// in .star), see Load.
package suite

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/derekparker/trie"

	"github.com/go-delve/dbgcheck/pkg/logflags"
)

// Lookup selects how the accessors of a case are resolved.
type Lookup string

const (
	// LookupPath resolves accessors as structured variable paths.
	LookupPath Lookup = "path"
	// LookupExpr evaluates accessors as expressions.
	LookupExpr Lookup = "expr"
)

// Assertion is an (accessor, expected rendering) pair.
type Assertion struct {
	Accessor string
	Want     string
}

// UnmarshalYAML reads an assertion written as a two element sequence.
func (a *Assertion) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var pair []string
	if err := unmarshal(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("assertion must be an [accessor, expected] pair, got %d elements", len(pair))
	}
	a.Accessor, a.Want = pair[0], pair[1]
	return nil
}

// Case is a group of assertions checked at the same stop.
type Case struct {
	Name   string `yaml:"name"`
	Lookup Lookup `yaml:"lookup"`
	// Break is the name of a function on which a breakpoint is created
	// before resuming the target for this case.
	Break string `yaml:"break"`
	// Skip, if not empty, is the reason why the case is not run.
	Skip    string      `yaml:"skip"`
	Asserts []Assertion `yaml:"assert"`

	// Passthrough is set by Filter on the cases that were not selected
	// but precede a selected one: the target is resumed past their stop
	// without checking or reporting anything.
	Passthrough bool `yaml:"-"`
}

// Target is the program being debugged.
type Target struct {
	Program string   `yaml:"program"`
	Args    []string `yaml:"args"`
	Cwd     string   `yaml:"cwd"`
}

// Setup describes how the session is prepared before the first case.
type Setup struct {
	// ShowProgress and DisableASLR are forwarded to the backend.
	ShowProgress bool `yaml:"show-progress"`
	DisableASLR  bool `yaml:"disable-aslr"`
	// InitCommands are backend specific commands run before the target
	// is launched (lldb-dap initCommands).
	InitCommands []string `yaml:"init-commands"`
	// Entry is the function the target runs to before setup continues.
	Entry string `yaml:"entry"`
	// EntryFunction, if set, is the expected function name of the frame
	// selected after stopping at Entry.
	EntryFunction string `yaml:"entry-function"`
	// Break is the helper function the target calls at every inspection
	// point.
	Break string `yaml:"break"`
	// FrameOffset is the frame selected when Break is hit.
	FrameOffset int `yaml:"frame-offset"`
	// InitExprs are evaluated in the entry frame, in order, and must all
	// succeed.
	InitExprs []string `yaml:"init-exprs"`
}

// DefaultSetup returns the setup used for the keys a suite file omits.
func DefaultSetup() Setup {
	return Setup{
		Entry:       "main",
		Break:       "Break",
		FrameOffset: 1,
	}
}

// Suite is a complete verification run.
type Suite struct {
	Name   string `yaml:"name"`
	Target Target `yaml:"target"`
	Setup  Setup  `yaml:"setup"`
	Cases  []Case `yaml:"cases"`

	// Path is the file the suite was loaded from.
	Path string `yaml:"-"`
}

// Load reads the suite at path. Files with the .star extension are
// executed as Starlark scripts, anything else is parsed as YAML. A relative
// target program is resolved against the directory of the suite file.
func Load(path string) (*Suite, error) {
	var (
		s   *Suite
		err error
	)
	if strings.HasSuffix(path, ".star") {
		s, err = LoadStarlark(path, nil)
	} else {
		s, err = LoadYAML(path)
	}
	if err != nil {
		return nil, err
	}
	s.Path = path
	if s.Target.Program != "" && !filepath.IsAbs(s.Target.Program) {
		s.Target.Program = filepath.Join(filepath.Dir(path), s.Target.Program)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logflags.SuiteLogger().Debugf("loaded suite %q from %s: %d cases", s.Name, path, len(s.Cases))
	return s, nil
}

// Validate checks that the suite can be run.
func (s *Suite) Validate() error {
	if s.Name == "" {
		return errors.New("suite has no name")
	}
	if s.Setup.Break == "" {
		return errors.New("setup: break helper function not set")
	}
	if s.Setup.FrameOffset < 0 {
		return fmt.Errorf("setup: negative frame offset %d", s.Setup.FrameOffset)
	}
	seen := make(map[string]bool, len(s.Cases))
	for i := range s.Cases {
		c := &s.Cases[i]
		if c.Name == "" {
			return fmt.Errorf("case %d has no name", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate case %q", c.Name)
		}
		seen[c.Name] = true
		switch c.Lookup {
		case "":
			c.Lookup = LookupPath
		case LookupPath, LookupExpr:
		default:
			return fmt.Errorf("case %q: unknown lookup %q (must be %q or %q)", c.Name, c.Lookup, LookupPath, LookupExpr)
		}
		if len(c.Asserts) == 0 && c.Skip == "" {
			return fmt.Errorf("case %q has no assertions", c.Name)
		}
		for j, a := range c.Asserts {
			if a.Accessor == "" {
				return fmt.Errorf("case %q: assertion %d has an empty accessor", c.Name, j)
			}
		}
	}
	return nil
}

// Filter returns a copy of s that only checks the cases whose name starts
// with one of prefixes. Every non-skipped case resumes the target to the
// next stop, so unselected cases before the last selected one are kept as
// passthrough cases; the others are dropped. With no prefixes s is
// returned unchanged.
func (s *Suite) Filter(prefixes []string) (*Suite, error) {
	if len(prefixes) == 0 {
		return s, nil
	}
	names := trie.New()
	for i := range s.Cases {
		names.Add(s.Cases[i].Name, i)
	}
	keep := make(map[string]bool)
	for _, prefix := range prefixes {
		matches := names.PrefixSearch(prefix)
		if len(matches) == 0 {
			return nil, fmt.Errorf("no case matches %q", prefix)
		}
		for _, name := range matches {
			keep[name] = true
		}
	}
	last := -1
	for i, c := range s.Cases {
		if keep[c.Name] {
			last = i
		}
	}
	r := *s
	r.Cases = nil
	for _, c := range s.Cases[:last+1] {
		switch {
		case keep[c.Name]:
		case c.Skip != "":
			continue
		default:
			c.Passthrough = true
		}
		r.Cases = append(r.Cases, c)
	}
	return &r, nil
}
