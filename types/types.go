// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package types implements the LabRAD type system.
//
// A type is described on the wire by a compact textual tag. Parse converts a
// tag into a tree of *Type values, and the String method of a *Type renders
// its canonical tag. Types are immutable once constructed, and may be shared
// freely among goroutines.
//
// # Tags
//
// The primitive codes are:
//
//	_  empty        ?  any
//	b  bool         i  int32
//	w  word (u32)   s  string (bytes)
//	t  time         v  float64, optionally with units, e.g. v[m/s]
//	c  complex128, optionally with units
//
// A list is written "*" followed by an optional decimal depth and the element
// type, for example "*i" or "*2v[Hz]". A cluster is written as a parenthesized
// sequence of types, "(isv)". An error is written "E" followed by its payload
// type, if it has one.
//
// Whitespace and commas between types are ignored. A colon begins a trailing
// comment that is discarded, and text enclosed in braces {...} is an inline
// comment removed before parsing.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the variant of a Type.
type Kind byte

const (
	KindEmpty Kind = iota
	KindAny
	KindBool
	KindInt
	KindWord
	KindString
	KindTime
	KindValue
	KindComplex
	KindList
	KindCluster
	KindError
)

var kindNames = [...]string{
	KindEmpty:   "empty",
	KindAny:     "any",
	KindBool:    "bool",
	KindInt:     "int",
	KindWord:    "word",
	KindString:  "string",
	KindTime:    "time",
	KindValue:   "value",
	KindComplex: "complex",
	KindList:    "list",
	KindCluster: "cluster",
	KindError:   "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind:%d", byte(k))
}

// Type is a node in a parsed type tree. The zero value is not valid; use the
// predeclared types, the constructors, or Parse.
type Type struct {
	kind     Kind
	units    string
	hasUnits bool
	elem     *Type   // list element or error payload
	depth    int     // list depth
	fields   []*Type // cluster fields
	offsets  []int   // cluster field offsets

	width    int
	fixed    bool
	concrete bool // no Any anywhere in the tree
	minWire  int
	tag      string
}

// Predeclared primitive types.
var (
	Empty = primitive(KindEmpty, 0, "_")
	Any   = primitive(KindAny, 0, "?")
	Bool  = primitive(KindBool, 1, "b")
	Int   = primitive(KindInt, 4, "i")
	Word  = primitive(KindWord, 4, "w")
	Str   = primitive(KindString, 4, "s")
	Time  = primitive(KindTime, 16, "t")
	Float = Value("")   // unitless value
	Cplx  = Complex("") // unitless complex
)

func primitive(k Kind, width int, tag string) *Type {
	t := &Type{kind: k, width: width, tag: tag, concrete: k != KindAny}
	switch k {
	case KindEmpty, KindBool, KindInt, KindWord, KindTime:
		t.fixed = true
		t.minWire = width
	case KindString:
		t.minWire = 4
	}
	return t
}

// Value returns a floating-point value type with the given units.  If units
// == "" the type has no units; use ValueUnits to express an explicitly
// dimensionless value.
func Value(units string) *Type { return scalar(KindValue, 8, "v", units, units != "") }

// Complex returns a complex value type with the given units.  If units == ""
// the type has no units.
func Complex(units string) *Type { return scalar(KindComplex, 16, "c", units, units != "") }

// ValueUnits returns a value type with exactly the given units, including the
// empty units "v[]".
func ValueUnits(units string) *Type { return scalar(KindValue, 8, "v", units, true) }

func scalar(k Kind, width int, code, units string, hasUnits bool) *Type {
	t := &Type{kind: k, width: width, fixed: true, concrete: true, minWire: width,
		units: units, hasUnits: hasUnits, tag: code}
	if hasUnits {
		t.tag = code + "[" + units + "]"
	}
	return t
}

// List returns a list type of the given depth with elements of type elem.
// It panics if depth < 1.
func List(elem *Type, depth int) *Type {
	if depth < 1 {
		panic(fmt.Sprintf("invalid list depth %d", depth))
	}
	t := &Type{
		kind:     KindList,
		elem:     elem,
		depth:    depth,
		width:    4*depth + 4,
		concrete: elem.concrete,
		minWire:  4 * depth,
	}
	if depth == 1 {
		t.tag = "*" + elem.tag
	} else {
		t.tag = "*" + strconv.Itoa(depth) + elem.tag
	}
	return t
}

// Cluster returns a cluster of the given field types. As a special case, a
// cluster of no fields is Empty and a cluster of one field is that field.
func Cluster(fields ...*Type) *Type {
	switch len(fields) {
	case 0:
		return Empty
	case 1:
		return fields[0]
	}
	t := &Type{
		kind:     KindCluster,
		fields:   fields,
		offsets:  make([]int, len(fields)),
		fixed:    true,
		concrete: true,
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for i, f := range fields {
		t.offsets[i] = t.width
		t.width += f.width
		t.minWire += f.minWire
		t.fixed = t.fixed && f.fixed
		t.concrete = t.concrete && f.concrete
		sb.WriteString(f.tag)
		if i+1 < len(fields) && strings.HasSuffix(f.tag, "E") {
			sb.WriteByte('_') // keep a bare error from swallowing its neighbour
		}
	}
	sb.WriteByte(')')
	t.tag = sb.String()
	return t
}

// Error returns an error type carrying a payload of type payload.
// The in-memory layout is (code int32, message string, payload).
func Error(payload *Type) *Type {
	if payload == nil {
		payload = Empty
	}
	t := &Type{
		kind:     KindError,
		elem:     payload,
		width:    8 + payload.width,
		concrete: payload.concrete,
		minWire:  8 + payload.minWire,
		tag:      "E",
	}
	if payload.kind != KindEmpty {
		t.tag += payload.tag
	}
	return t
}

// Kind reports the kind of t.
func (t *Type) Kind() Kind { return t.kind }

// Units reports the units of a value or complex type, or "".
func (t *Type) Units() string { return t.units }

// HasUnits reports whether t is a value or complex type with declared units.
func (t *Type) HasUnits() bool { return t.hasUnits }

// Elem returns the element type of a list, the payload type of an error, or
// nil for other kinds.
func (t *Type) Elem() *Type { return t.elem }

// Depth reports the depth of a list type, or 0.
func (t *Type) Depth() int { return t.depth }

// NumFields reports the number of fields of a cluster type, or 0.
func (t *Type) NumFields() int { return len(t.fields) }

// Field returns the type of the ith field of a cluster.
func (t *Type) Field(i int) *Type { return t.fields[i] }

// Offset returns the byte offset of the ith field of a cluster within the
// fixed-width region of the cluster.
func (t *Type) Offset(i int) int { return t.offsets[i] }

// Width reports the size in bytes of the in-memory fixed region of t.
// Variable-length content (strings and list bodies) lives in a heap and is
// referenced by a 4-byte index in the fixed region.
func (t *Type) Width() int { return t.width }

// Fixed reports whether t has a fixed-size wire encoding. For fixed types
// the wire encoding and the in-memory region are byte-identical.
func (t *Type) Fixed() bool { return t.fixed }

// Concrete reports whether t contains no Any types, and so can describe a
// value.
func (t *Type) Concrete() bool { return t.concrete }

// MinWireSize reports the smallest number of bytes a value of type t can
// occupy on the wire.
func (t *Type) MinWireSize() int { return t.minWire }

// String returns the canonical tag for t.
func (t *Type) String() string { return t.tag }

// Equal reports whether a and b describe exactly the same type.
func Equal(a, b *Type) bool { return a == b || a.tag == b.tag }

// Matches reports whether a and b are structurally compatible.
//
// Any matches every type. A value or complex type without units matches any
// units of the same kind. Lists match if they have the same depth and their
// elements match; clusters match if they have the same number of fields and
// each pair of fields matches. Otherwise types match if they have the same
// kind.
func Matches(a, b *Type) bool {
	if a == b || a.kind == KindAny || b.kind == KindAny {
		return true
	} else if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindValue, KindComplex:
		return !a.hasUnits || !b.hasUnits || a.units == b.units
	case KindList:
		return a.depth == b.depth && Matches(a.elem, b.elem)
	case KindError:
		return Matches(a.elem, b.elem)
	case KindCluster:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for i, f := range a.fields {
			if !Matches(f, b.fields[i]) {
				return false
			}
		}
	}
	return true
}
