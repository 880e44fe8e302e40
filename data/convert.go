// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package data

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/creachadair/labrad/types"
)

var (
	dataType = reflect.TypeFor[*Data]()
	timeType = reflect.TypeFor[time.Time]()
	byteType = reflect.TypeFor[[]byte]()
)

// TypeOf returns the LabRAD type corresponding to the Go type rt.
//
// The mapping is: bool to b; int and int32 to i; uint and uint32 to w;
// float32 and float64 to v; complex64 and complex128 to c; string and []byte
// to s; time.Time to t; a slice or array to a list of its element type; a
// struct to a cluster of its exported fields, in order. Nested slices and
// arrays map to a single list with one dimension per level, so [][]float64
// is *2v. A *Data maps to ?, since its type is known only from its value.
func TypeOf(rt reflect.Type) (*types.Type, error) {
	switch rt {
	case dataType:
		return types.Any, nil
	case timeType:
		return types.Time, nil
	case byteType:
		return types.Str, nil
	}
	switch rt.Kind() {
	case reflect.Bool:
		return types.Bool, nil
	case reflect.Int, reflect.Int32:
		return types.Int, nil
	case reflect.Uint, reflect.Uint32:
		return types.Word, nil
	case reflect.Float32, reflect.Float64:
		return types.Float, nil
	case reflect.Complex64, reflect.Complex128:
		return types.Cplx, nil
	case reflect.String:
		return types.Str, nil
	case reflect.Slice, reflect.Array:
		depth, et := listDepth(rt)
		elem, err := TypeOf(et)
		if err != nil {
			return nil, err
		}
		return types.List(elem, depth), nil
	case reflect.Pointer:
		return TypeOf(rt.Elem())
	case reflect.Struct:
		var fields []*types.Type
		for i := range rt.NumField() {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			ft, err := TypeOf(f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			fields = append(fields, ft)
		}
		return types.Cluster(fields...), nil
	}
	return nil, fmt.Errorf("type %v has no LabRAD equivalent", rt)
}

// From converts a Go value into a *Data, following the mapping of TypeOf.
// If v is already a *Data it is returned unchanged.
func From(v any) (*Data, error) {
	if d, ok := v.(*Data); ok {
		return d, nil
	} else if v == nil {
		return Empty(), nil
	}
	return fromValue(reflect.ValueOf(v))
}

// MustFrom is as From, but panics if v cannot be converted.
func MustFrom(v any) *Data {
	d, err := From(v)
	if err != nil {
		panic(err)
	}
	return d
}

func fromValue(rv reflect.Value) (*Data, error) {
	rt := rv.Type()
	switch rt {
	case dataType:
		if rv.IsNil() {
			return Empty(), nil
		}
		return rv.Interface().(*Data), nil
	case timeType:
		return Time(rv.Interface().(time.Time)), nil
	case byteType:
		return Bytes(rv.Bytes()), nil
	}
	switch rt.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int32:
		n := rv.Int()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d out of range for int32", n)
		}
		return Int(int32(n)), nil
	case reflect.Uint, reflect.Uint32:
		n := rv.Uint()
		if n > math.MaxUint32 {
			return nil, fmt.Errorf("value %d out of range for uint32", n)
		}
		return Word(uint32(n)), nil
	case reflect.Float32, reflect.Float64:
		return Value(rv.Float()), nil
	case reflect.Complex64, reflect.Complex128:
		return Complex(rv.Complex()), nil
	case reflect.String:
		return Str(rv.String()), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, errors.New("cannot convert a nil pointer")
		}
		return fromValue(rv.Elem())
	case reflect.Slice, reflect.Array:
		depth, et := listDepth(rt)
		shape := make([]int, depth)
		for i := range shape {
			shape[i] = -1
		}
		var items []*Data
		if err := flattenList(rv, shape, 0, &items); err != nil {
			return nil, err
		}
		for i, v := range shape {
			if v < 0 {
				shape[i] = 0 // below an empty level
			}
		}
		elem, err := TypeOf(et)
		if err != nil {
			return nil, err
		}
		if !elem.Concrete() {
			// Infer the element type from the contents, if possible.
			elem = types.Empty
			if len(items) != 0 {
				elem = items[0].Type()
			}
		}
		for i, v := range items {
			if !types.Matches(elem, v.Type()) {
				return nil, fmt.Errorf("element %d: type %q does not match list element %q", i, v.Type(), elem)
			}
		}
		d := New(types.List(elem, depth))
		d.SetShape(shape...)
		for i, v := range items {
			d.at(i).Set(v)
		}
		return d, nil
	case reflect.Struct:
		var fields []*Data
		for i := range rt.NumField() {
			if !rt.Field(i).IsExported() {
				continue
			}
			v, err := fromValue(rv.Field(i))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", rt.Field(i).Name, err)
			}
			fields = append(fields, v)
		}
		return Cluster(fields...), nil
	}
	return nil, fmt.Errorf("type %v has no LabRAD equivalent", rt)
}

// Into stores the contents of d into the Go value pointed to by ptr,
// following the mapping of TypeOf. It reports an error if the type of d does
// not fit the target.
func Into(d *Data, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer, got %T", ptr)
	}
	if d == nil {
		d = Empty()
	}
	return intoValue(d, rv.Elem())
}

func mismatch(d *Data, rt reflect.Type) error {
	return fmt.Errorf("cannot store %q into %v", d.Type(), rt)
}

func intoValue(d *Data, rv reflect.Value) error {
	rt := rv.Type()
	switch rt {
	case dataType:
		rv.Set(reflect.ValueOf(d))
		return nil
	case timeType:
		if d.Kind() != types.KindTime {
			return mismatch(d, rt)
		}
		rv.Set(reflect.ValueOf(d.Time()))
		return nil
	case byteType:
		if d.Kind() != types.KindString {
			return mismatch(d, rt)
		}
		rv.SetBytes(append([]byte(nil), d.Bytes()...))
		return nil
	}

	k := d.Kind()
	switch rt.Kind() {
	case reflect.Bool:
		if k == types.KindBool {
			rv.SetBool(d.Bool())
			return nil
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		if k == types.KindInt {
			rv.SetInt(int64(d.Int()))
			return nil
		}
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		if k == types.KindWord {
			rv.SetUint(uint64(d.Word()))
			return nil
		}
	case reflect.Float32, reflect.Float64:
		if k == types.KindValue {
			rv.SetFloat(d.Value())
			return nil
		}
	case reflect.Complex64, reflect.Complex128:
		if k == types.KindComplex {
			rv.SetComplex(d.Complex())
			return nil
		}
	case reflect.String:
		if k == types.KindString {
			rv.SetString(d.Str())
			return nil
		}
	case reflect.Pointer:
		if rv.IsNil() {
			rv.Set(reflect.New(rt.Elem()))
		}
		return intoValue(d, rv.Elem())
	case reflect.Slice, reflect.Array:
		// Each dimension of the list fills one level of nesting. Levels
		// beyond the depth of the list are filled from its elements.
		if depth, _ := listDepth(rt); k == types.KindList && d.t.Depth() <= depth {
			return fillList(d, rv, d.Shape(), 0, 0)
		}
	case reflect.Struct:
		var idx []int
		for i := range rt.NumField() {
			if rt.Field(i).IsExported() {
				idx = append(idx, i)
			}
		}
		switch {
		case len(idx) == 0 && k == types.KindEmpty:
			return nil
		case len(idx) == 1:
			return intoValue(d, rv.Field(idx[0]))
		case k == types.KindCluster && d.Len() == len(idx):
			for i, fi := range idx {
				if err := intoValue(d.Get(i), rv.Field(fi)); err != nil {
					return fmt.Errorf("field %s: %w", rt.Field(fi).Name, err)
				}
			}
			return nil
		}
	}
	return mismatch(d, rt)
}

// listDepth reports the number of nested levels of slices or arrays in rt,
// and the type of the innermost elements. A []byte is a string, not a level.
func listDepth(rt reflect.Type) (int, reflect.Type) {
	var depth int
	for rt != byteType && (rt.Kind() == reflect.Slice || rt.Kind() == reflect.Array) {
		depth++
		rt = rt.Elem()
	}
	return depth, rt
}

// flattenList appends the leaves of the nested slice or array rv to items in
// row-major order, starting at the given level. It records the length of
// each level in shape, and reports an error if two values at the same level
// differ in length. Unvisited levels of shape are left negative.
func flattenList(rv reflect.Value, shape []int, level int, items *[]*Data) error {
	n := rv.Len()
	if shape[level] < 0 {
		shape[level] = n
	} else if shape[level] != n {
		return fmt.Errorf("ragged list: length %d at level %d, want %d", n, level, shape[level])
	}
	for i := range n {
		if level == len(shape)-1 {
			v, err := fromValue(rv.Index(i))
			if err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
			*items = append(*items, v)
		} else if err := flattenList(rv.Index(i), shape, level+1, items); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	return nil
}

// fillList stores the elements of list d with the given shape into the
// nested slice or array rv, starting at dimension dim. The value base is the
// row-major index of rv among the values at dimension dim.
func fillList(d *Data, rv reflect.Value, shape []int, dim, base int) error {
	n := shape[dim]
	if rv.Kind() == reflect.Array {
		if rv.Len() != n {
			return fmt.Errorf("cannot store %d elements into %v", n, rv.Type())
		}
	} else {
		rv.Set(reflect.MakeSlice(rv.Type(), n, n))
	}
	for i := range n {
		var err error
		if dim == len(shape)-1 {
			err = intoValue(d.at(base*n+i), rv.Index(i))
		} else {
			err = fillList(d, rv.Index(i), shape, dim+1, base*n+i)
		}
		if err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	return nil
}
