// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters to the dispatch.Handler type for
// functions with other signatures.
//
// Parameters and results may be any Go type supported by data.TypeOf: bool,
// int32, uint32, float64, complex128, string, []byte, time.Time, slices of
// these, and structs of exported fields, which map to clusters. A parameter
// or result of type *data.Data is passed through unchanged, and accepts or
// returns any type.
//
// Each adapter returns a Binding that records the accepted and returned type
// tags inferred from the function signature. Use its Setting method to
// assign an ID and name for registration.
package handler

import (
	"context"
	"fmt"
	"reflect"

	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/dispatch"
)

// reqContextKey is a context key for the request value to a handler.
type reqContextKey struct{}

// ContextRequest returns the original request passed to the handler, or nil
// if ctx has no associated request. The context passed to a function adapted
// by this package will have this value.
func ContextRequest(ctx context.Context) *dispatch.Request {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*dispatch.Request)
	}
	return nil
}

// A Binding is a handler together with the type tags it accepts and returns.
type Binding struct {
	Accepts string
	Returns string
	Handler dispatch.Handler
}

// Setting returns a dispatch setting for b with the given ID, name, and
// documentation.
func (b Binding) Setting(id uint32, name, doc string) dispatch.Setting {
	return dispatch.Setting{
		ID:      id,
		Name:    name,
		Doc:     doc,
		Accepts: []string{b.Accepts},
		Returns: []string{b.Returns},
		Handler: b.Handler,
	}
}

// tagOf returns the type tag for values of type T. It panics if T has no
// equivalent, since that is a programming error in the caller.
func tagOf[T any]() string {
	t, err := data.TypeOf(reflect.TypeFor[T]())
	if err != nil {
		panic(fmt.Sprintf("handler: %v", err))
	}
	return t.String()
}

// FuncErr adapts a function f that accepts parameters of type P and returns
// a result of type R and an error.
func FuncErr[P, R any](f func(context.Context, P) (R, error)) Binding {
	return Binding{
		Accepts: tagOf[P](),
		Returns: tagOf[R](),
		Handler: func(ctx context.Context, req *dispatch.Request) (*data.Data, error) {
			var p P
			if err := data.Into(req.Data, &p); err != nil {
				return nil, fmt.Errorf("invalid argument: %w", err)
			}
			hctx := context.WithValue(ctx, reqContextKey{}, req)
			r, err := f(hctx, p)
			if err != nil {
				return nil, err
			}
			return data.From(r)
		},
	}
}

// Func adapts a function f that accepts parameters of type P and returns a
// result of type R without error.
func Func[P, R any](f func(context.Context, P) R) Binding {
	return FuncErr(func(ctx context.Context, p P) (R, error) { return f(ctx, p), nil })
}

// Proc adapts a function f that accepts parameters of type P and returns an
// error with no result. On success the result is empty.
func Proc[P any](f func(context.Context, P) error) Binding {
	b := FuncErr(func(ctx context.Context, p P) (*data.Data, error) { return nil, f(ctx, p) })
	b.Returns = "_"
	return b
}

// Any adapts a function f that accepts and returns values of any type.
func Any(f func(context.Context, *data.Data) (*data.Data, error)) Binding {
	return FuncErr(f)
}
