// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/dispatch"
	"github.com/creachadair/labrad/types"
	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

func constant(tag string) dispatch.Handler {
	return func(context.Context, *dispatch.Request) (*data.Data, error) {
		return data.Str(tag), nil
	}
}

func TestAddErrors(t *testing.T) {
	h := constant("x")
	tests := []struct {
		name     string
		settings []dispatch.Setting
		want     string
	}{
		{"ZeroID", []dispatch.Setting{{Name: "a", Handler: h}}, "ID must be positive"},
		{"NoName", []dispatch.Setting{{ID: 1, Handler: h}}, "empty name"},
		{"NoHandler", []dispatch.Setting{{ID: 1, Name: "a"}}, "nil handler"},
		{"BadTag", []dispatch.Setting{{ID: 1, Name: "a", Accepts: []string{"(i"}, Handler: h}}, "accepts"},
		{"BadReturn", []dispatch.Setting{{ID: 1, Name: "a", Returns: []string{"x"}, Handler: h}}, "returns"},
		{"NameConflict", []dispatch.Setting{
			{ID: 1, Name: "a", Handler: h},
			{ID: 2, Name: "a", Handler: h},
		}, "name already used"},
		{"IDConflict", []dispatch.Setting{
			{ID: 1, Name: "a", Handler: h},
			{ID: 1, Name: "b", Handler: h},
		}, "ID already used"},
		{"Overlap", []dispatch.Setting{
			{ID: 1, Name: "a", Accepts: []string{"i", "v[m]"}, Handler: h},
			{ID: 1, Name: "a", Accepts: []string{"v"}, Handler: h},
		}, "overlaps"},
		{"OverlapAny", []dispatch.Setting{
			{ID: 1, Name: "a", Accepts: []string{"s"}, Handler: h},
			{ID: 1, Name: "a", Handler: h},
		}, "overlaps"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := dispatch.New(tc.settings...)
			if err == nil {
				t.Fatalf("New: got %v, want error", r)
			} else if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("New: got error %v, want %q", err, tc.want)
			}
		})
	}

	mtest.MustPanic(t, func() { dispatch.MustNew(tests[0].settings...) })
}

func TestResolve(t *testing.T) {
	r := dispatch.MustNew(
		dispatch.Setting{ID: 10, Name: "scale", Accepts: []string{"v[m]"}, Returns: []string{"s"}, Handler: constant("meters")},
		dispatch.Setting{ID: 10, Name: "scale", Accepts: []string{"v[s]"}, Returns: []string{"s"}, Handler: constant("seconds")},
		dispatch.Setting{ID: 10, Name: "scale", Accepts: []string{"*i", "i"}, Returns: []string{"s"}, Handler: constant("ints")},
		dispatch.Setting{ID: 20, Name: "anything", Handler: constant("any")},
	)

	check := func(id uint32, tag, want string) {
		t.Helper()
		m, err := r.Resolve(id, types.MustParse(tag))
		if err != nil {
			t.Errorf("Resolve(%d, %q): unexpected error: %v", id, tag, err)
			return
		}
		got, err := m.Handler(context.Background(), nil)
		if err != nil {
			t.Fatalf("Handler: unexpected error: %v", err)
		}
		if got.Str() != want {
			t.Errorf("Resolve(%d, %q): got %q, want %q", id, tag, got.Str(), want)
		}
	}
	check(10, "v[m]", "meters")
	check(10, "v[s]", "seconds")
	check(10, "i", "ints")
	check(10, "*i", "ints")
	check(20, "(s*v)", "any")
	check(20, "_", "any")

	// A value of type ? from the caller matches in the other direction.
	check(10, "?", "meters")

	if m, err := r.Resolve(10, types.MustParse("v[kg]")); !errors.Is(err, dispatch.ErrNoMatch) {
		t.Errorf("Resolve(v[kg]): got (%v, %v), want %v", m, err, dispatch.ErrNoMatch)
	}
	if m, err := r.Resolve(99, types.Int); !errors.Is(err, dispatch.ErrUnknownSetting) {
		t.Errorf("Resolve(99): got (%v, %v), want %v", m, err, dispatch.ErrUnknownSetting)
	}
	if id, ok := r.Lookup("anything"); !ok || id != 20 {
		t.Errorf("Lookup(anything): got (%d, %v), want (20, true)", id, ok)
	}
	if id, ok := r.Lookup("nothing"); ok {
		t.Errorf("Lookup(nothing): got %d, want not found", id)
	}
}

func TestSettings(t *testing.T) {
	h := constant("x")
	r := dispatch.MustNew(
		dispatch.Setting{ID: 5, Name: "b", Accepts: []string{"w"}, Returns: []string{"s"}, Handler: h},
		dispatch.Setting{ID: 2, Name: "a", Doc: "Do the thing.", Accepts: []string{"i"}, Returns: []string{"s"}, Handler: h},
		dispatch.Setting{ID: 2, Name: "a", Accepts: []string{"s {comment}"}, Returns: []string{"s", "_"}, Handler: h},
	)
	want := []dispatch.Info{
		{ID: 2, Name: "a", Doc: "Do the thing.", Accepts: []string{"i", "s"}, Returns: []string{"s", "_"}},
		{ID: 5, Name: "b", Accepts: []string{"w"}, Returns: []string{"s"}},
	}
	got := r.Settings()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Settings (-want, +got):\n%s", diff)
	}

	rec := got[0].Data()
	if !types.Matches(dispatch.InfoType, rec.Type()) {
		t.Errorf("Info type: got %q, want %q", rec.Type(), dispatch.InfoType)
	}
	if s := rec.String(); s != `(2w, "a", ["i", "s"], ["s", "_"], "Do the thing.")` {
		t.Errorf("Info data: got %s", s)
	}
}

func TestCall(t *testing.T) {
	r := dispatch.MustNew(
		dispatch.Setting{ID: 1, Name: "echo", Accepts: []string{"?"}, Returns: []string{"?"},
			Handler: func(_ context.Context, req *dispatch.Request) (*data.Data, error) {
				return req.Data, nil
			}},
		dispatch.Setting{ID: 2, Name: "liar", Accepts: []string{"_"}, Returns: []string{"i"}, Handler: constant("s")},
		dispatch.Setting{ID: 3, Name: "fail", Accepts: []string{"_"},
			Handler: func(context.Context, *dispatch.Request) (*data.Data, error) {
				return nil, errors.New("bad robot")
			}},
		dispatch.Setting{ID: 4, Name: "nothing", Accepts: []string{"_"}, Returns: []string{"_"},
			Handler: func(context.Context, *dispatch.Request) (*data.Data, error) { return nil, nil }},
	)
	ctx := context.Background()

	got, err := r.Call(ctx, &dispatch.Request{Setting: 1, Data: data.Int(17)})
	if err != nil || got.Int() != 17 {
		t.Errorf("Call echo: got (%v, %v), want 17", got, err)
	}
	if got, err := r.Call(ctx, &dispatch.Request{Setting: 2, Data: data.Empty()}); err == nil {
		t.Errorf("Call liar: got %v, want error", got)
	}
	if got, err := r.Call(ctx, &dispatch.Request{Setting: 3, Data: data.Empty()}); err == nil || err.Error() != "bad robot" {
		t.Errorf("Call fail: got (%v, %v), want bad robot", got, err)
	}
	if got, err := r.Call(ctx, &dispatch.Request{Setting: 4, Data: data.Empty()}); err != nil || got.Kind() != types.KindEmpty {
		t.Errorf("Call nothing: got (%v, %v), want empty", got, err)
	}
	if got, err := r.Call(ctx, &dispatch.Request{Setting: 4, Data: data.Int(1)}); !errors.Is(err, dispatch.ErrNoMatch) {
		t.Errorf("Call nothing(1): got (%v, %v), want %v", got, err, dispatch.ErrNoMatch)
	}
}
