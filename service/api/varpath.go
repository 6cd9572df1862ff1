package api

import (
	"fmt"
	"strconv"
	"strings"
)

// PathStepKind distinguishes field access from index access.
type PathStepKind uint8

const (
	FieldStep PathStepKind = iota
	IndexStep
)

// PathStep is one component of a variable path.
type PathStep struct {
	Kind  PathStepKind
	Name  string
	Index int
}

func (s PathStep) String() string {
	if s.Kind == IndexStep {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Name
}

// VariablePath is a parsed variable path such as "p.Fields[2]->Next".
// The first step is always the name of a local variable or argument.
type VariablePath []PathStep

// ParseVariablePath parses a dotted/bracketed accessor. Fields are separated
// by '.' or '->', indexes are written as '[N]'.
func ParseVariablePath(in string) (VariablePath, error) {
	var path VariablePath
	rest := in
	readIdent := func() (string, error) {
		i := 0
		for i < len(rest) && isIdentByte(rest[i]) {
			i++
		}
		if i == 0 {
			return "", fmt.Errorf("malformed variable path %q: expected identifier at %q", in, rest)
		}
		id := rest[:i]
		rest = rest[i:]
		return id, nil
	}

	root, err := readIdent()
	if err != nil {
		return nil, err
	}
	path = append(path, PathStep{Kind: FieldStep, Name: root})

	for rest != "" {
		switch {
		case rest[0] == '.', strings.HasPrefix(rest, "->"):
			if rest[0] == '.' {
				rest = rest[1:]
			} else {
				rest = rest[2:]
			}
			id, err := readIdent()
			if err != nil {
				return nil, err
			}
			path = append(path, PathStep{Kind: FieldStep, Name: id})
		case rest[0] == '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("malformed variable path %q: unterminated '['", in)
			}
			n, err := strconv.Atoi(strings.TrimSpace(rest[1:end]))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("malformed variable path %q: bad index %q", in, rest[1:end])
			}
			path = append(path, PathStep{Kind: IndexStep, Index: n})
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("malformed variable path %q: unexpected %q", in, rest[:1])
		}
	}
	return path, nil
}

func isIdentByte(ch byte) bool {
	return ch == '_' || ch == '$' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func (p VariablePath) String() string {
	var b strings.Builder
	for i, s := range p {
		if i > 0 && s.Kind == FieldStep {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// Find returns the index of the element of children selected by s.
// Index steps match a child named "[N]" first, then fall back to position,
// since some backends leave array elements unnamed.
func (s PathStep) Find(children []Value) (int, bool) {
	switch s.Kind {
	case IndexStep:
		name := s.String()
		for i := range children {
			if children[i].Name == name {
				return i, true
			}
		}
		if s.Index < len(children) {
			return s.Index, true
		}
	default:
		for i := range children {
			if children[i].Name == s.Name {
				return i, true
			}
		}
	}
	return -1, false
}

// Resolve walks p starting from a set of root values (locals and
// arguments of a frame) and returns the value it designates.
func (p VariablePath) Resolve(roots []Value) (*Value, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty variable path")
	}
	cur := roots
	var v *Value
	for i, step := range p {
		idx, ok := step.Find(cur)
		if !ok {
			if i == 0 {
				return nil, fmt.Errorf("no variable named %q in frame", step.Name)
			}
			return nil, fmt.Errorf("%s has no member %s", p[:i], step)
		}
		v = &cur[idx]
		cur = v.Children
		// pointers render as a single unnamed child holding the pointee
		if i+1 < len(p) && p[i+1].Kind == FieldStep && len(cur) == 1 && cur[0].Name == "" {
			cur = cur[0].Children
		}
	}
	return v, nil
}
