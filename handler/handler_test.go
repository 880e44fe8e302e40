// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/dispatch"
	"github.com/creachadair/labrad/handler"
	"github.com/google/go-cmp/cmp"
)

type point struct {
	X, Y  float64
	Label string
}

func TestBindingTags(t *testing.T) {
	tests := []struct {
		name      string
		b         handler.Binding
		acc, rets string
	}{
		{"IntString", handler.Func(func(context.Context, int32) string { return "" }), "i", "s"},
		{"WordBytes", handler.Func(func(context.Context, uint32) []byte { return nil }), "w", "s"},
		{"ListValue", handler.Func(func(context.Context, []float64) float64 { return 0 }), "*v", "v"},
		{"Struct", handler.Func(func(context.Context, point) []point { return nil }), "(vvs)", "*(vvs)"},
		{"Empty", handler.Func(func(context.Context, struct{}) time.Time { return time.Time{} }), "_", "t"},
		{"Proc", handler.Proc(func(context.Context, bool) error { return nil }), "b", "_"},
		{"Any", handler.Any(func(_ context.Context, d *data.Data) (*data.Data, error) { return d, nil }), "?", "?"},
		{"Complex", handler.FuncErr(func(context.Context, complex128) ([][]int32, error) { return nil, nil }), "c", "**i"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.b.Accepts != tc.acc || tc.b.Returns != tc.rets {
				t.Errorf("Tags: got (%q, %q), want (%q, %q)", tc.b.Accepts, tc.b.Returns, tc.acc, tc.rets)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	ctx := context.Background()
	checkReq := func(t *testing.T, ctx context.Context) {
		t.Helper()
		if req := handler.ContextRequest(ctx); req == nil {
			t.Error("Context does not contain request")
		}
	}
	reg := dispatch.MustNew(
		handler.Func(func(ctx context.Context, s string) string {
			checkReq(t, ctx)
			return s + "-ok"
		}).Setting(1, "suffix", "Add a suffix."),

		handler.FuncErr(func(ctx context.Context, ps []point) (point, error) {
			checkReq(t, ctx)
			if len(ps) == 0 {
				return point{}, errors.New("no points")
			}
			var sum point
			for _, p := range ps {
				sum.X += p.X
				sum.Y += p.Y
				sum.Label += p.Label
			}
			return sum, nil
		}).Setting(2, "sum", ""),

		handler.Proc(func(ctx context.Context, code int32) error {
			checkReq(t, ctx)
			if code != 0 {
				return &labrad.RemoteError{Code: code, Message: "requested failure"}
			}
			return nil
		}).Setting(3, "fail", ""),

		handler.Any(func(ctx context.Context, d *data.Data) (*data.Data, error) {
			checkReq(t, ctx)
			return d, nil
		}).Setting(4, "echo", ""),
	)
	call := func(id uint32, arg *data.Data) (*data.Data, error) {
		return reg.Call(ctx, &dispatch.Request{Setting: id, Data: arg})
	}

	t.Run("Func", func(t *testing.T) {
		got, err := call(1, data.Str("input"))
		if err != nil {
			t.Fatalf("Call: unexpected error: %v", err)
		}
		if got.Str() != "input-ok" {
			t.Errorf("Call: got %q, want input-ok", got.Str())
		}
	})

	t.Run("FuncErr", func(t *testing.T) {
		arg := data.MustFrom([]point{{1, 2, "a"}, {3, 4, "b"}})
		got, err := call(2, arg)
		if err != nil {
			t.Fatalf("Call: unexpected error: %v", err)
		}
		var p point
		if err := data.Into(got, &p); err != nil {
			t.Fatalf("Into: unexpected error: %v", err)
		}
		if diff := cmp.Diff(point{4, 6, "ab"}, p); diff != "" {
			t.Errorf("Result (-want, +got):\n%s", diff)
		}

		empty := data.MustFrom([]point{})
		if got, err := call(2, empty); err == nil || err.Error() != "no points" {
			t.Errorf("Call(empty): got (%v, %v), want no points", got, err)
		}
	})

	t.Run("Proc", func(t *testing.T) {
		if got, err := call(3, data.Int(0)); err != nil || got.String() != "_" {
			t.Errorf("Call(0): got (%v, %v), want empty", got, err)
		}
		_, err := call(3, data.Int(7))
		var rerr *labrad.RemoteError
		if !errors.As(err, &rerr) || rerr.Code != 7 {
			t.Errorf("Call(7): got %v, want remote error code 7", err)
		}
	})

	t.Run("Any", func(t *testing.T) {
		arg := data.Cluster(data.ValueUnits(2.5, "GHz"), data.Str("x"))
		got, err := call(4, arg)
		if err != nil {
			t.Fatalf("Call: unexpected error: %v", err)
		}
		if !data.Equal(got, arg) {
			t.Errorf("Call: got %v, want %v", got, arg)
		}
	})

	t.Run("Mismatch", func(t *testing.T) {
		if got, err := call(1, data.Int(5)); !errors.Is(err, dispatch.ErrNoMatch) {
			t.Errorf("Call: got (%v, %v), want %v", got, err, dispatch.ErrNoMatch)
		}
	})
}
