package api

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseVariablePath(t *testing.T) {
	tests := []struct {
		in   string
		want VariablePath
	}{
		{"boolTrue", VariablePath{{Kind: FieldStep, Name: "boolTrue"}}},
		{"p1.IntField", VariablePath{{Kind: FieldStep, Name: "p1"}, {Kind: FieldStep, Name: "IntField"}}},
		{"p2->FloatField", VariablePath{{Kind: FieldStep, Name: "p2"}, {Kind: FieldStep, Name: "FloatField"}}},
		{"arr[3].x", VariablePath{{Kind: FieldStep, Name: "arr"}, {Kind: IndexStep, Index: 3}, {Kind: FieldStep, Name: "x"}}},
		{"m[ 0 ][1]", VariablePath{{Kind: FieldStep, Name: "m"}, {Kind: IndexStep, Index: 0}, {Kind: IndexStep, Index: 1}}},
	}
	for _, tc := range tests {
		got, err := ParseVariablePath(tc.in)
		if err != nil {
			t.Errorf("ParseVariablePath(%q): %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseVariablePath(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestParseVariablePathErrors(t *testing.T) {
	for _, in := range []string{"", ".x", "a.", "a->", "a[", "a[x]", "a[-1]", "(*p1).IntField", "a b"} {
		if _, err := ParseVariablePath(in); err == nil {
			t.Errorf("ParseVariablePath(%q): expected error", in)
		}
	}
}

func TestVariablePathString(t *testing.T) {
	p, err := ParseVariablePath("a->b[2].c")
	if err != nil {
		t.Fatal(err)
	}
	if s := p.String(); s != "a.b[2].c" {
		t.Fatalf("got %q", s)
	}
}

func TestVariablePathResolve(t *testing.T) {
	roots := []Value{
		{Name: "i1", Type: "sbyte", Value: `'\x01'`},
		{Name: "p1", Type: "*Struct", Children: []Value{
			{Name: "", Type: "Struct", Children: []Value{
				{Name: "IntField", Type: "int", Value: "1"},
				{Name: "FloatField", Type: "float", Value: "2"},
			}},
		}},
		{Name: "arr", Type: "[]int", Children: []Value{
			{Value: "10"},
			{Value: "20"},
		}},
		{Name: "named", Type: "int[2]", Children: []Value{
			{Name: "[1]", Value: "b"},
			{Name: "[0]", Value: "a"},
		}},
	}

	for _, tc := range []struct {
		path, want string
	}{
		{"i1", `'\x01'`},
		{"p1.IntField", "1"},
		{"p1->FloatField", "2"},
		{"arr[1]", "20"},
		{"named[0]", "a"},
	} {
		p, err := ParseVariablePath(tc.path)
		if err != nil {
			t.Fatal(err)
		}
		v, err := p.Resolve(roots)
		if err != nil {
			t.Errorf("%s: %v", tc.path, err)
			continue
		}
		if v.Value != tc.want {
			t.Errorf("%s: got %q want %q", tc.path, v.Value, tc.want)
		}
	}

	for _, bad := range []string{"missing", "p1.Nope", "arr[5]"} {
		p, _ := ParseVariablePath(bad)
		if _, err := p.Resolve(roots); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}
