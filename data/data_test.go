// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package data_test

import (
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/types"
	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

func TestDecodeCluster(t *testing.T) {
	const input = "\x01\x00\x00\x00\x07\x00\x00\x00\x05"
	d, err := data.UnflattenTag([]byte(input), "(biw)")
	if err != nil {
		t.Fatalf("Unflatten: unexpected error: %v", err)
	}
	if got := d.Get(0).Bool(); !got {
		t.Errorf("Field 0: got %v, want true", got)
	}
	if got := d.Get(1).Int(); got != 7 {
		t.Errorf("Field 1: got %d, want 7", got)
	}
	if got := d.Get(2).Word(); got != 5 {
		t.Errorf("Field 2: got %d, want 5", got)
	}
	if got := string(d.Flatten()); got != input {
		t.Errorf("Flatten: got %q, want %q", got, input)
	}
}

func TestFlattenScalars(t *testing.T) {
	tests := []struct {
		input *data.Data
		want  string
	}{
		{data.Empty(), ""},
		{data.Bool(false), "\x00"},
		{data.Int(-1), "\xff\xff\xff\xff"},
		{data.Word(258), "\x00\x00\x01\x02"},
		{data.Str("hi"), "\x00\x00\x00\x02hi"},
		{data.Value(1.5), "\x3f\xf8\x00\x00\x00\x00\x00\x00"},
		{data.List(types.Int, data.Int(1), data.Int(2)),
			"\x00\x00\x00\x02\x00\x00\x00\x01\x00\x00\x00\x02"},
		{data.Error(3, "no", nil), "\x00\x00\x00\x03\x00\x00\x00\x02no"},
	}
	for _, tc := range tests {
		if got := string(tc.input.Flatten()); got != tc.want {
			t.Errorf("Flatten %v: got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func mustNew(t *testing.T, tag string) *data.Data {
	t.Helper()
	d, err := data.NewTag(tag)
	if err != nil {
		t.Fatalf("NewTag(%q): %v", tag, err)
	}
	return d
}

func roundTrip(t *testing.T, d *data.Data) {
	t.Helper()
	buf := d.Flatten()
	got, err := data.Unflatten(buf, d.Type())
	if err != nil {
		t.Fatalf("Unflatten %q: unexpected error: %v", d.Type(), err)
	}
	if !data.Equal(got, d) {
		t.Errorf("Round trip %q: got %v, want %v", d.Type(), got, d)
	}
	if again := got.Flatten(); string(again) != string(buf) {
		t.Errorf("Reflatten %q: got %q, want %q", d.Type(), again, buf)
	}
}

func TestRoundTripNested(t *testing.T) {
	// A cluster of a list of clusters, each holding a string and a list.
	d := mustNew(t, "(s*(s*v[m])b)")
	d.Get(0).SetStr("outer")
	items := d.Get(1)
	items.SetShape(3)
	for i, name := range []string{"a", "bb", ""} {
		e := items.Elem(i)
		e.Get(0).SetStr(name)
		vs := e.Get(1)
		vs.SetShape(i)
		for j := range i {
			vs.Elem(j).SetValue(float64(10*i + j))
		}
	}
	d.Get(2).SetBool(true)

	roundTrip(t, d)
	if got, want := d.String(), `("outer", [("a", []), ("bb", [10 m]), ("", [20 m, 21 m])], true)`; got != want {
		t.Errorf("String: got %s, want %s", got, want)
	}
}

func TestRoundTripMultiDim(t *testing.T) {
	for _, shape := range [][]int{{2, 3}, {0, 3}, {2, 0}, {0, 0}} {
		d := mustNew(t, "*2i")
		d.SetShape(shape...)
		for i := range shape[0] {
			for j := range shape[1] {
				d.Elem(i, j).SetInt(int32(10*i + j))
			}
		}
		if diff := cmp.Diff(d.Shape(), shape); diff != "" {
			t.Errorf("Shape (-got, +want):\n%s", diff)
		}
		roundTrip(t, d)
	}

	// Variable-width elements in a 2D list.
	d := mustNew(t, "*2s")
	d.SetShape(2, 2)
	d.Elem(0, 0).SetStr("a")
	d.Elem(1, 1).SetStr("d")
	roundTrip(t, d)
	if got, want := d.String(), `[["a", ""], ["", "d"]]`; got != want {
		t.Errorf("String: got %s, want %s", got, want)
	}
}

func TestRoundTripError(t *testing.T) {
	payload := data.Cluster(data.Int(5), data.Str("detail"))
	e := data.Error(-7, "it broke", payload)
	if got := e.Type().String(); got != "E(is)" {
		t.Errorf("Type: got %q, want E(is)", got)
	}
	roundTrip(t, e)
	if got := e.ErrorCode(); got != -7 {
		t.Errorf("ErrorCode: got %d, want -7", got)
	}
	if got := e.ErrorMessage(); got != "it broke" {
		t.Errorf("ErrorMessage: got %q, want %q", got, "it broke")
	}
	if !data.Equal(e.ErrorPayload(), payload) {
		t.Errorf("ErrorPayload: got %v, want %v", e.ErrorPayload(), payload)
	}
}

func TestRoundTripScalars(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)
	for _, d := range []*data.Data{
		data.Empty(),
		data.Bool(true),
		data.Int(-12345),
		data.Word(1 << 31),
		data.Str(""),
		data.Bytes([]byte{0, 1, 2, 255}),
		data.ValueUnits(2.5, "GHz"),
		data.ComplexUnits(1+2i, "V"),
		data.Time(when),
		data.List(types.Str),
		data.Cluster(data.Time(when), data.List(types.Bool, data.Bool(true))),
	} {
		roundTrip(t, d)
	}

	if got := data.Time(when).Time(); !got.Equal(when) {
		t.Errorf("Time: got %v, want %v", got, when)
	}
}

func TestViewsShareStorage(t *testing.T) {
	d := mustNew(t, "(i*s)")
	d.Get(0).SetInt(99)
	list := d.Get(1)
	list.Append(data.Str("x"))
	list.Append(data.Str("y"))
	list.Elem(0).SetStr("changed")

	if got := d.Get(0).Int(); got != 99 {
		t.Errorf("Field 0: got %d, want 99", got)
	}
	if got := d.Get(1).Len(); got != 2 {
		t.Errorf("Len: got %d, want 2", got)
	}
	if got := d.Get(1).Elem(0).Str(); got != "changed" {
		t.Errorf("Elem 0: got %q, want %q", got, "changed")
	}
}

func TestCloneIndependent(t *testing.T) {
	d := data.Cluster(data.Str("a"), data.List(types.Int, data.Int(1)))
	c := d.Clone()
	c.Get(0).SetStr("b")
	c.Get(1).Elem(0).SetInt(2)
	c.Get(1).Append(data.Int(3))

	if got := d.Get(0).Str(); got != "a" {
		t.Errorf("Original field 0: got %q, want a", got)
	}
	if got := d.Get(1).Len(); got != 1 {
		t.Errorf("Original list length: got %d, want 1", got)
	}
	if got := d.Get(1).Elem(0).Int(); got != 1 {
		t.Errorf("Original elem 0: got %d, want 1", got)
	}
	if data.Equal(c, d) {
		t.Error("Clone still equal after modification")
	}
}

func TestUnflattenErrors(t *testing.T) {
	tests := []struct {
		tag, input string
		want       error
	}{
		{"i", "\x00\x00", io.ErrUnexpectedEOF},
		{"s", "\x00\x00\x00\x05ab", io.ErrUnexpectedEOF},
		{"(is)", "\x00\x00\x00\x01", io.ErrUnexpectedEOF},
		{"E", "\x00\x00\x00\x01", io.ErrUnexpectedEOF},
		{"*i", "\x00\x00\x00\x02\x00\x00\x00\x01", nil},
		{"*s", "\x7f\xff\xff\xff", nil},
		{"i", "\x00\x00\x00\x01\x02", nil},
		{"?", "", nil},
	}
	for _, tc := range tests {
		got, err := data.UnflattenTag([]byte(tc.input), tc.tag)
		var derr *data.DecodeError
		if err == nil {
			t.Errorf("Unflatten(%q, %q): got %v, want error", tc.input, tc.tag, got)
		} else if !errors.As(err, &derr) {
			t.Errorf("Unflatten(%q, %q): got %T, want *DecodeError", tc.input, tc.tag, err)
		} else if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("Unflatten(%q, %q): got %v, want %v", tc.input, tc.tag, err, tc.want)
		}
	}
}

func TestKindPanics(t *testing.T) {
	mtest.MustPanic(t, func() { data.Int(1).Set(data.Str("x")) })
	mtest.MustPanic(t, func() { data.Int(1).Str() })
	mtest.MustPanic(t, func() { data.List(types.Int).Elem(0) })
	mtest.MustPanic(t, func() { data.New(types.Any) })
}

func TestConvert(t *testing.T) {
	type point struct {
		Name  string
		X, Y  float64
		Flags []bool
		skip  int
	}
	in := point{Name: "p", X: 1, Y: 2, Flags: []bool{true, false}, skip: 5}

	d, err := data.From(in)
	if err != nil {
		t.Fatalf("From: unexpected error: %v", err)
	}
	if got := d.Type().String(); got != "(svv*b)" {
		t.Errorf("Type: got %q, want (svv*b)", got)
	}
	if rt, err := data.TypeOf(reflect.TypeFor[point]()); err != nil {
		t.Errorf("TypeOf: unexpected error: %v", err)
	} else if !types.Equal(rt, d.Type()) {
		t.Errorf("TypeOf: got %q, want %q", rt, d.Type())
	}

	var out point
	if err := data.Into(d, &out); err != nil {
		t.Fatalf("Into: unexpected error: %v", err)
	}
	in.skip = 0
	if diff := cmp.Diff(out, in, cmp.AllowUnexported(point{})); diff != "" {
		t.Errorf("Into (-got, +want):\n%s", diff)
	}

	var n int32
	if err := data.Into(data.Str("x"), &n); err == nil {
		t.Errorf("Into mismatched: got %d, want error", n)
	}
}

func TestConvertLists(t *testing.T) {
	t.Run("Matrix", func(t *testing.T) {
		in := [][]float64{{1, 2, 3}, {4, 5, 6}}
		d, err := data.From(in)
		if err != nil {
			t.Fatalf("From: unexpected error: %v", err)
		}
		if got := d.Type().String(); got != "*2v" {
			t.Errorf("Type: got %q, want *2v", got)
		}
		if diff := cmp.Diff([]int{2, 3}, d.Shape()); diff != "" {
			t.Errorf("Shape (-want, +got):\n%s", diff)
		}
		if got := d.Elem(1, 0).Value(); got != 4 {
			t.Errorf("Elem(1, 0): got %v, want 4", got)
		}
		if rt, err := data.TypeOf(reflect.TypeFor[[][]float64]()); err != nil || rt.String() != "*2v" {
			t.Errorf("TypeOf: got (%v, %v), want *2v", rt, err)
		}

		var out [][]float64
		if err := data.Into(d, &out); err != nil {
			t.Fatalf("Into: unexpected error: %v", err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("Into (-want, +got):\n%s", diff)
		}

		var arr [2][3]float64
		if err := data.Into(d, &arr); err != nil {
			t.Fatalf("Into array: unexpected error: %v", err)
		}
		if diff := cmp.Diff([2][3]float64{{1, 2, 3}, {4, 5, 6}}, arr); diff != "" {
			t.Errorf("Into array (-want, +got):\n%s", diff)
		}
	})

	t.Run("Cube", func(t *testing.T) {
		in := [2][2][2]int32{{{0, 1}, {2, 3}}, {{4, 5}, {6, 7}}}
		d, err := data.From(in)
		if err != nil {
			t.Fatalf("From: unexpected error: %v", err)
		}
		if got := d.Type().String(); got != "*3i" {
			t.Errorf("Type: got %q, want *3i", got)
		}
		if got := d.Elem(1, 0, 1).Int(); got != 5 {
			t.Errorf("Elem(1, 0, 1): got %d, want 5", got)
		}
		var out [][][]int32
		if err := data.Into(d, &out); err != nil {
			t.Fatalf("Into: unexpected error: %v", err)
		}
		want := [][][]int32{{{0, 1}, {2, 3}}, {{4, 5}, {6, 7}}}
		if diff := cmp.Diff(want, out); diff != "" {
			t.Errorf("Into (-want, +got):\n%s", diff)
		}
	})

	t.Run("Array", func(t *testing.T) {
		d := data.List(types.Int, data.Int(7), data.Int(8), data.Int(9))
		var out [3]int32
		if err := data.Into(d, &out); err != nil {
			t.Fatalf("Into: unexpected error: %v", err)
		}
		if diff := cmp.Diff([3]int32{7, 8, 9}, out); diff != "" {
			t.Errorf("Into (-want, +got):\n%s", diff)
		}
		var short [2]int32
		if err := data.Into(d, &short); err == nil {
			t.Errorf("Into [2]int32: got %v, want error", short)
		}
	})

	t.Run("ListOfLists", func(t *testing.T) {
		// A list whose elements are lists fills the inner level from each
		// element.
		d := data.List(types.List(types.Float, 1),
			data.List(types.Float, data.Value(1)),
			data.List(types.Float, data.Value(2), data.Value(3)),
		)
		var out [][]float64
		if err := data.Into(d, &out); err != nil {
			t.Fatalf("Into: unexpected error: %v", err)
		}
		if diff := cmp.Diff([][]float64{{1}, {2, 3}}, out); diff != "" {
			t.Errorf("Into (-want, +got):\n%s", diff)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		d, err := data.From([][]float64{})
		if err != nil {
			t.Fatalf("From: unexpected error: %v", err)
		}
		if diff := cmp.Diff([]int{0, 0}, d.Shape()); diff != "" {
			t.Errorf("Shape (-want, +got):\n%s", diff)
		}
	})

	t.Run("Ragged", func(t *testing.T) {
		if d, err := data.From([][]float64{{1, 2}, {3}}); err == nil {
			t.Errorf("From ragged: got %v, want error", d)
		}
	})

	t.Run("DepthMismatch", func(t *testing.T) {
		d := data.MustFrom([][]float64{{1}})
		var out []float64
		if err := data.Into(d, &out); err == nil {
			t.Errorf("Into []float64: got %v, want error", out)
		}
	})
}
