// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package types_test

import (
	"errors"
	"testing"

	"github.com/creachadair/labrad/types"
)

func TestParseCanonical(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", "_"},
		{"_", "_"},
		{"?", "?"},
		{"b", "b"},
		{"i", "i"},
		{"w", "w"},
		{"s", "s"},
		{"t", "t"},
		{"v", "v"},
		{"v[]", "v[]"},
		{"v[m/s]", "v[m/s]"},
		{"c[V]", "c[V]"},
		{"*i", "*i"},
		{"*1i", "*i"},
		{"*2v[m/s]", "*2v[m/s]"},
		{"*3(is)", "*3(is)"},
		{"()", "_"},
		{"(i)", "i"},
		{"(biw)", "(biw)"},
		{"is", "(is)"},
		{"i, s", "(is)"},
		{"( i , s , *v )", "(is*v)"},
		{"E", "E"},
		{"Es", "Es"},
		{"E(is)", "E(is)"},
		{"(E_i)", "(E_i)"},
		{"(*E_i)", "(*E_i)"},
		{"i: an integer", "i"},
		{"v[s]{duration} w", "(v[s]w)"},
		{"{leading}(ss)", "(ss)"},
		{"*(s{name}v[Hz]{freq})", "*(sv[Hz])"},
	}
	for _, tc := range tests {
		got, err := types.Parse(tc.input)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", tc.input, err)
			continue
		}
		if s := got.String(); s != tc.want {
			t.Errorf("Parse(%q): got %q, want %q", tc.input, s, tc.want)
		}

		// The canonical form must parse back to itself.
		again, err := types.Parse(got.String())
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", got, err)
		} else if !types.Equal(got, again) {
			t.Errorf("Reparse %q: got %q", got, again)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"x",
		"(is",
		"is)",
		"*",
		"*0i",
		"v[m",
		"{comment",
		"(i*)",
	}
	for _, tag := range tests {
		got, err := types.Parse(tag)
		var perr *types.ParseError
		if err == nil {
			t.Errorf("Parse(%q): got %v, want error", tag, got)
		} else if !errors.As(err, &perr) {
			t.Errorf("Parse(%q): got %T, want *ParseError", tag, err)
		} else {
			t.Logf("Parse(%q): %v [OK]", tag, err)
		}
	}
}

func TestListDepthUnits(t *testing.T) {
	lt := types.MustParse("*2v[m/s]")
	if lt.Kind() != types.KindList {
		t.Fatalf("Kind: got %v, want list", lt.Kind())
	}
	if got := lt.Depth(); got != 2 {
		t.Errorf("Depth: got %d, want 2", got)
	}
	elem := lt.Elem()
	if elem.Kind() != types.KindValue || elem.Units() != "m/s" || !elem.HasUnits() {
		t.Errorf("Elem: got %v (%q), want v[m/s]", elem.Kind(), elem.Units())
	}
	if got := lt.String(); got != "*2v[m/s]" {
		t.Errorf("String: got %q, want %q", got, "*2v[m/s]")
	}
}

func TestWidth(t *testing.T) {
	tests := []struct {
		tag     string
		width   int
		fixed   bool
		offsets []int
	}{
		{"_", 0, true, nil},
		{"b", 1, true, nil},
		{"i", 4, true, nil},
		{"v", 8, true, nil},
		{"c", 16, true, nil},
		{"t", 16, true, nil},
		{"s", 4, false, nil},
		{"*i", 8, false, nil},
		{"*3s", 16, false, nil},
		{"Es", 12, false, nil},
		{"(biw)", 9, true, []int{0, 1, 5}},
		{"(bsv)", 13, false, []int{0, 1, 5}},
		{"(t*2ib)", 29, false, []int{0, 16, 28}},
	}
	for _, tc := range tests {
		typ := types.MustParse(tc.tag)
		if got := typ.Width(); got != tc.width {
			t.Errorf("Width(%q): got %d, want %d", tc.tag, got, tc.width)
		}
		if got := typ.Fixed(); got != tc.fixed {
			t.Errorf("Fixed(%q): got %v, want %v", tc.tag, got, tc.fixed)
		}
		for i, want := range tc.offsets {
			if got := typ.Offset(i); got != want {
				t.Errorf("Offset(%q, %d): got %d, want %d", tc.tag, i, got, want)
			}
		}
	}
}

var matchTags = []string{
	"_", "?", "b", "i", "w", "s", "t", "v", "v[m]", "v[s]", "c", "c[V]",
	"*i", "*2i", "*v[m]", "(is)", "(i?)", "(iss)", "E", "Es", "*(b*s)", "E?",
}

func TestMatchesReflexive(t *testing.T) {
	for _, tag := range matchTags {
		typ := types.MustParse(tag)
		if !types.Matches(typ, typ) {
			t.Errorf("Matches(%q, %q) is false", tag, tag)
		}
		if !types.Matches(types.Any, typ) || !types.Matches(typ, types.Any) {
			t.Errorf("Matches(?, %q) is false", tag)
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"v[m]", "v", true},
		{"v", "v[m]", true},
		{"v[m]", "v[s]", false},
		{"v[m]", "v[m]", true},
		{"c", "c[V]", true},
		{"c[A]", "c[V]", false},
		{"v", "c", false},
		{"i", "w", false},
		{"*i", "*2i", false},
		{"*2i", "*2i", true},
		{"*v[m]", "*v", true},
		{"*?", "*s", true},
		{"(is)", "(i?)", true},
		{"(is)", "(iss)", false},
		{"(is)", "(si)", false},
		{"Es", "E?", true},
		{"Es", "Ei", false},
		{"_", "i", false},
	}
	for _, tc := range tests {
		a, b := types.MustParse(tc.a), types.MustParse(tc.b)
		if got := types.Matches(a, b); got != tc.want {
			t.Errorf("Matches(%q, %q): got %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestConcrete(t *testing.T) {
	for tag, want := range map[string]bool{
		"i": true, "?": false, "*?": false, "(i?)": false, "E?": false, "(is*v)": true,
	} {
		if got := types.MustParse(tag).Concrete(); got != want {
			t.Errorf("Concrete(%q): got %v, want %v", tag, got, want)
		}
	}
}
