// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package data implements typed LabRAD values and their binary encoding.
//
// A *Data pairs a type with a fixed-width byte region holding its scalars.
// Variable-length content, namely string bytes and list bodies, is kept in a
// heap shared by every value derived from the same root, and is referenced
// from the fixed region by a 4-byte heap index. Index 0 denotes empty
// content, so a zeroed region is a valid zero value of any type.
//
// Structural accessors (Get for cluster fields, Elem for list elements,
// ErrorPayload for error payloads) return views that share storage with their
// parent: setting a value through a view updates the parent. Use Clone to
// obtain an independent deep copy.
//
// Accessors for a specific kind panic if called on a value of another kind,
// in the manner of the reflect package. A Data value is not safe for
// concurrent mutation.
package data

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/creachadair/labrad/types"
	"github.com/creachadair/mds/value"
)

// heap is the arena holding variable-length content for a tree of values.
type heap struct {
	bufs [][]byte // bufs[0] is reserved for "empty"
}

func newHeap() *heap { return &heap{bufs: [][]byte{nil}} }

func (h *heap) get(idx uint32) []byte {
	if idx == 0 || int(idx) >= len(h.bufs) {
		return nil
	}
	return h.bufs[idx]
}

// put stores b and returns its index. Empty content is not stored.
func (h *heap) put(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	h.bufs = append(h.bufs, b)
	return uint32(len(h.bufs) - 1)
}

// Data is a typed value. See the package documentation for its structure.
type Data struct {
	t    *types.Type
	buf  []byte
	off  int
	heap *heap
}

// New constructs a zero value of type t. It panics if t contains Any, since
// such a type cannot describe a concrete value.
func New(t *types.Type) *Data {
	if !t.Concrete() {
		panic(fmt.Sprintf("data: cannot construct a value of non-concrete type %q", t))
	}
	return &Data{t: t, buf: make([]byte, t.Width()), heap: newHeap()}
}

// NewTag constructs a zero value of the type described by tag.
func NewTag(tag string) (*Data, error) {
	t, err := types.Parse(tag)
	if err != nil {
		return nil, err
	} else if !t.Concrete() {
		return nil, fmt.Errorf("data: type %q is not concrete", tag)
	}
	return New(t), nil
}

// Type returns the type of d. A nil *Data has type Empty.
func (d *Data) Type() *types.Type {
	if d == nil {
		return types.Empty
	}
	return d.t
}

// Kind is shorthand for d.Type().Kind().
func (d *Data) Kind() types.Kind { return d.Type().Kind() }

func (d *Data) check(k types.Kind, op string) {
	if d.t.Kind() != k {
		panic(fmt.Sprintf("data: %s on %s value of type %q", op, d.t.Kind(), d.t))
	}
}

func (d *Data) u32(at int) uint32     { return binary.BigEndian.Uint32(d.buf[d.off+at:]) }
func (d *Data) setU32(at int, v uint32) { binary.BigEndian.PutUint32(d.buf[d.off+at:], v) }
func (d *Data) u64(at int) uint64     { return binary.BigEndian.Uint64(d.buf[d.off+at:]) }
func (d *Data) setU64(at int, v uint64) { binary.BigEndian.PutUint64(d.buf[d.off+at:], v) }

// Empty returns a value of the empty type.
func Empty() *Data { return New(types.Empty) }

// Bool returns a new bool value.
func Bool(v bool) *Data { d := New(types.Bool); d.SetBool(v); return d }

// Int returns a new int32 value.
func Int(v int32) *Data { d := New(types.Int); d.SetInt(v); return d }

// Word returns a new uint32 value.
func Word(v uint32) *Data { d := New(types.Word); d.SetWord(v); return d }

// Str returns a new string value.
func Str(s string) *Data { d := New(types.Str); d.SetStr(s); return d }

// Bytes returns a new string value with the given contents.
func Bytes(b []byte) *Data { d := New(types.Str); d.SetBytes(b); return d }

// Value returns a new floating-point value without units.
func Value(v float64) *Data { d := New(types.Float); d.SetValue(v); return d }

// ValueUnits returns a new floating-point value with the given units.
func ValueUnits(v float64, units string) *Data {
	d := New(types.ValueUnits(units))
	d.SetValue(v)
	return d
}

// Complex returns a new complex value without units.
func Complex(v complex128) *Data { d := New(types.Cplx); d.SetComplex(v); return d }

// ComplexUnits returns a new complex value with the given units.
func ComplexUnits(v complex128, units string) *Data {
	d := New(types.Complex(units))
	d.SetComplex(v)
	return d
}

// Time returns a new time value.
func Time(v time.Time) *Data { d := New(types.Time); d.SetTime(v); return d }

// Cluster returns a new cluster holding copies of the given values. As with
// types.Cluster, zero values yield Empty and a single value yields a copy of
// that value.
func Cluster(vs ...*Data) *Data {
	ts := make([]*types.Type, len(vs))
	for i, v := range vs {
		ts[i] = v.Type()
	}
	d := New(types.Cluster(ts...))
	switch len(vs) {
	case 0:
		return d
	case 1:
		d.Set(vs[0])
		return d
	}
	for i, v := range vs {
		d.Get(i).Set(v)
	}
	return d
}

// List returns a new one-dimensional list of elem holding copies of items.
// It panics if an item does not match elem.
func List(elem *types.Type, items ...*Data) *Data {
	d := New(types.List(elem, 1))
	d.SetShape(len(items))
	for i, v := range items {
		d.Elem(i).Set(v)
	}
	return d
}

// Error returns a new error value with the given code, message and payload.
// A nil payload is treated as Empty.
func Error(code int32, msg string, payload *Data) *Data {
	d := New(types.Error(payload.Type()))
	d.setU32(0, uint32(code))
	d.setStrAt(4, []byte(msg))
	if payload != nil {
		d.ErrorPayload().Set(payload)
	}
	return d
}

// Bool returns the value of a bool.
func (d *Data) Bool() bool { d.check(types.KindBool, "Bool"); return d.buf[d.off] != 0 }

// SetBool sets the value of a bool.
func (d *Data) SetBool(v bool) {
	d.check(types.KindBool, "SetBool")
	d.buf[d.off] = value.Cond[byte](v, 1, 0)
}

// Int returns the value of an int32.
func (d *Data) Int() int32 { d.check(types.KindInt, "Int"); return int32(d.u32(0)) }

// SetInt sets the value of an int32.
func (d *Data) SetInt(v int32) { d.check(types.KindInt, "SetInt"); d.setU32(0, uint32(v)) }

// Word returns the value of a uint32.
func (d *Data) Word() uint32 { d.check(types.KindWord, "Word"); return d.u32(0) }

// SetWord sets the value of a uint32.
func (d *Data) SetWord(v uint32) { d.check(types.KindWord, "SetWord"); d.setU32(0, v) }

// Bytes returns the contents of a string. The result aliases the storage of
// d and must not be modified.
func (d *Data) Bytes() []byte { d.check(types.KindString, "Bytes"); return d.heap.get(d.u32(0)) }

// Str returns the contents of a string as a Go string.
func (d *Data) Str() string { return string(d.Bytes()) }

// SetBytes sets the contents of a string to a copy of b.
func (d *Data) SetBytes(b []byte) { d.check(types.KindString, "SetBytes"); d.setStrAt(0, b) }

// SetStr sets the contents of a string.
func (d *Data) SetStr(s string) { d.SetBytes([]byte(s)) }

// setStrAt stores a copy of b in the heap and records its index at offset at.
func (d *Data) setStrAt(at int, b []byte) {
	if idx := d.u32(at); idx != 0 && len(b) != 0 {
		d.heap.bufs[idx] = append([]byte(nil), b...)
		return
	}
	d.setU32(at, d.heap.put(append([]byte(nil), b...)))
}

// Value returns the magnitude of a floating-point value.
func (d *Data) Value() float64 {
	d.check(types.KindValue, "Value")
	return math.Float64frombits(d.u64(0))
}

// SetValue sets the magnitude of a floating-point value.
func (d *Data) SetValue(v float64) {
	d.check(types.KindValue, "SetValue")
	d.setU64(0, math.Float64bits(v))
}

// Units returns the units of a value or complex, or "".
func (d *Data) Units() string { return d.Type().Units() }

// Complex returns the value of a complex.
func (d *Data) Complex() complex128 {
	d.check(types.KindComplex, "Complex")
	return complex(math.Float64frombits(d.u64(0)), math.Float64frombits(d.u64(8)))
}

// SetComplex sets the value of a complex.
func (d *Data) SetComplex(v complex128) {
	d.check(types.KindComplex, "SetComplex")
	d.setU64(0, math.Float64bits(real(v)))
	d.setU64(8, math.Float64bits(imag(v)))
}

// epochOffset is the number of seconds from the LabRAD epoch (1904-01-01 UTC)
// to the Unix epoch.
const epochOffset = 2082844800

// Time returns the value of a time. Times are stored as whole seconds since
// 1904-01-01 UTC and a binary fraction of a second in units of 2^-64 s.
func (d *Data) Time() time.Time {
	d.check(types.KindTime, "Time")
	secs := int64(d.u64(0)) - epochOffset
	hi, lo := bits.Mul64(d.u64(8), 1e9)
	if lo >= 1<<63 {
		hi++ // round to nearest
	}
	return time.Unix(secs, int64(hi)).UTC()
}

// SetTime sets the value of a time.
func (d *Data) SetTime(v time.Time) {
	d.check(types.KindTime, "SetTime")
	d.setU64(0, uint64(v.Unix()+epochOffset))
	frac, _ := bits.Div64(uint64(v.Nanosecond()), 0, 1e9)
	d.setU64(8, frac)
}

// Len reports the number of fields of a cluster, or the length of a
// one-dimensional list. It panics for other kinds.
func (d *Data) Len() int {
	switch d.Kind() {
	case types.KindCluster:
		return d.t.NumFields()
	case types.KindList:
		if d.t.Depth() == 1 {
			return int(d.u32(0))
		}
	}
	panic(fmt.Sprintf("data: Len on value of type %q", d.Type()))
}

// Get returns a view of the ith field of a cluster.
func (d *Data) Get(i int) *Data {
	d.check(types.KindCluster, "Get")
	return &Data{t: d.t.Field(i), buf: d.buf, off: d.off + d.t.Offset(i), heap: d.heap}
}

// Shape returns the extent of each dimension of a list.
func (d *Data) Shape() []int {
	d.check(types.KindList, "Shape")
	out := make([]int, d.t.Depth())
	for i := range out {
		out[i] = int(d.u32(4 * i))
	}
	return out
}

func product(dims []int) int {
	n := 1
	for _, v := range dims {
		n *= v
	}
	return n
}

// SetShape resizes a list to the given extents, one per dimension. For a
// one-dimensional list, existing elements up to the new length are kept;
// otherwise the resized list is zeroed.
func (d *Data) SetShape(dims ...int) {
	d.check(types.KindList, "SetShape")
	depth := d.t.Depth()
	if len(dims) != depth {
		panic(fmt.Sprintf("data: SetShape with %d dimensions on list of depth %d", len(dims), depth))
	}
	for _, v := range dims {
		if v < 0 || v > math.MaxInt32 {
			panic(fmt.Sprintf("data: invalid list extent %d", v))
		}
	}
	w := d.t.Elem().Width()
	body := make([]byte, product(dims)*w)
	if depth == 1 {
		copy(body, d.heap.get(d.u32(4)))
	}
	for i, v := range dims {
		d.setU32(4*i, uint32(v))
	}
	idx := d.u32(4 * depth)
	if idx != 0 && len(body) != 0 {
		d.heap.bufs[idx] = body
	} else {
		d.setU32(4*depth, d.heap.put(body))
	}
}

// Elem returns a view of the list element at the given index, with one
// coordinate per dimension.
func (d *Data) Elem(index ...int) *Data {
	d.check(types.KindList, "Elem")
	depth := d.t.Depth()
	if len(index) != depth {
		panic(fmt.Sprintf("data: Elem with %d indices on list of depth %d", len(index), depth))
	}
	flat := 0
	for i, v := range index {
		ext := int(d.u32(4 * i))
		if v < 0 || v >= ext {
			panic(fmt.Sprintf("data: index %d out of range [0, %d) in dimension %d", v, ext, i))
		}
		flat = flat*ext + v
	}
	return d.at(flat)
}

// at returns a view of the list element at row-major index i.
func (d *Data) at(i int) *Data {
	elem := d.t.Elem()
	return &Data{t: elem, buf: d.heap.get(d.u32(4 * d.t.Depth())), off: i * elem.Width(), heap: d.heap}
}

// Append adds a copy of v to the end of a one-dimensional list.
func (d *Data) Append(v *Data) {
	n := d.Len()
	d.SetShape(n + 1)
	d.Elem(n).Set(v)
}

// ErrorCode returns the code of an error value.
func (d *Data) ErrorCode() int32 { d.check(types.KindError, "ErrorCode"); return int32(d.u32(0)) }

// ErrorMessage returns the message of an error value.
func (d *Data) ErrorMessage() string {
	d.check(types.KindError, "ErrorMessage")
	return string(d.heap.get(d.u32(4)))
}

// ErrorPayload returns a view of the payload of an error value.
func (d *Data) ErrorPayload() *Data {
	d.check(types.KindError, "ErrorPayload")
	return &Data{t: d.t.Elem(), buf: d.buf, off: d.off + 8, heap: d.heap}
}

// IsError reports whether d is an error value.
func (d *Data) IsError() bool { return d.Kind() == types.KindError }

// Set copies the contents of v into d. The type of v must match the type of d.
// Content is deep-copied, so v and d do not share storage afterward.
func (d *Data) Set(v *Data) {
	if v == nil {
		v = Empty()
	}
	if !types.Matches(d.t, v.t) {
		panic(fmt.Sprintf("data: cannot set %q from %q", d.t, v.t))
	}
	copyValue(d.t, d.buf, d.off, d.heap, v.buf, v.off, v.heap)
}

// Clone returns a deep copy of d with its own storage.
func (d *Data) Clone() *Data {
	c := New(d.Type())
	if d != nil {
		copyValue(d.t, c.buf, 0, c.heap, d.buf, d.off, d.heap)
	}
	return c
}

// copyValue copies a value of type t from src to dst, allocating fresh heap
// entries in dh for any variable-length content.
func copyValue(t *types.Type, dst []byte, doff int, dh *heap, src []byte, soff int, sh *heap) {
	if t.Fixed() {
		copy(dst[doff:doff+t.Width()], src[soff:soff+t.Width()])
		return
	}
	be := binary.BigEndian
	switch t.Kind() {
	case types.KindString:
		b := sh.get(be.Uint32(src[soff:]))
		be.PutUint32(dst[doff:], dh.put(append([]byte(nil), b...)))

	case types.KindList:
		depth := t.Depth()
		copy(dst[doff:doff+4*depth], src[soff:soff+4*depth])
		sbody := sh.get(be.Uint32(src[soff+4*depth:]))
		dbody := make([]byte, len(sbody))
		if elem := t.Elem(); elem.Fixed() {
			copy(dbody, sbody)
		} else {
			for at := 0; at < len(sbody); at += elem.Width() {
				copyValue(elem, dbody, at, dh, sbody, at, sh)
			}
		}
		be.PutUint32(dst[doff+4*depth:], dh.put(dbody))

	case types.KindCluster:
		for i := range t.NumFields() {
			copyValue(t.Field(i), dst, doff+t.Offset(i), dh, src, soff+t.Offset(i), sh)
		}

	case types.KindError:
		copy(dst[doff:doff+4], src[soff:soff+4])
		copyValue(types.Str, dst, doff+4, dh, src, soff+4, sh)
		copyValue(t.Elem(), dst, doff+8, dh, src, soff+8, sh)
	}
}

// Equal reports whether a and b have the same type and structurally equal
// contents. A nil *Data is equal to an Empty value.
func Equal(a, b *Data) bool {
	if !types.Equal(a.Type(), b.Type()) {
		return false
	}
	if a == nil || b == nil {
		return true // both are Empty, per the type check
	}
	return equalValue(a, b)
}

func equalValue(a, b *Data) bool {
	switch a.Kind() {
	case types.KindEmpty:
		return true
	case types.KindBool:
		return a.Bool() == b.Bool()
	case types.KindInt, types.KindWord:
		return a.u32(0) == b.u32(0)
	case types.KindValue, types.KindComplex, types.KindTime:
		w := a.t.Width()
		return string(a.buf[a.off:a.off+w]) == string(b.buf[b.off:b.off+w])
	case types.KindString:
		return string(a.Bytes()) == string(b.Bytes())
	case types.KindList:
		as, bs := a.Shape(), b.Shape()
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		n, elem := product(as), a.t.Elem()
		abody, bbody := a.heap.get(a.u32(4*len(as))), b.heap.get(b.u32(4*len(bs)))
		for i := range n {
			ae := &Data{t: elem, buf: abody, off: i * elem.Width(), heap: a.heap}
			be := &Data{t: elem, buf: bbody, off: i * elem.Width(), heap: b.heap}
			if !equalValue(ae, be) {
				return false
			}
		}
		return true
	case types.KindCluster:
		for i := range a.t.NumFields() {
			if !equalValue(a.Get(i), b.Get(i)) {
				return false
			}
		}
		return true
	case types.KindError:
		return a.ErrorCode() == b.ErrorCode() &&
			a.ErrorMessage() == b.ErrorMessage() &&
			equalValue(a.ErrorPayload(), b.ErrorPayload())
	}
	return false
}
