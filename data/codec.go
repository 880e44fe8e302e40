// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package data

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/creachadair/labrad/packet"
	"github.com/creachadair/labrad/types"
	"github.com/creachadair/mds/value"
)

// DecodeError is the concrete type of errors reported by Unflatten.
type DecodeError struct {
	Type   string // the requested type tag
	Offset int    // input offset where decoding stopped
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q at offset %d: %v", e.Type, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errTrailing    = errors.New("trailing bytes after value")
	errNotConcrete = errors.New("type is not concrete")
	errTooLarge    = errors.New("list size exceeds remaining input")
)

// Flatten returns the wire encoding of d. A nil *Data flattens to nothing.
func (d *Data) Flatten() []byte {
	if d == nil {
		return nil
	}
	var b packet.Builder
	d.FlattenTo(&b)
	return b.Bytes()
}

// FlattenTo appends the wire encoding of d to b.
func (d *Data) FlattenTo(b *packet.Builder) {
	if d != nil {
		encode(b, d.t, d.buf, d.off, d.heap)
	}
}

// MarshalBinary implements encoding.BinaryMarshaler. It never fails.
func (d *Data) MarshalBinary() ([]byte, error) { return d.Flatten(), nil }

func encode(b *packet.Builder, t *types.Type, buf []byte, off int, h *heap) {
	// Scalars are held in wire order, so any fixed-width value is copied out
	// directly.
	if t.Fixed() {
		b.Put(buf[off : off+t.Width()]...)
		return
	}
	be := binary.BigEndian
	switch t.Kind() {
	case types.KindString:
		b.LPut(h.get(be.Uint32(buf[off:])))

	case types.KindList:
		depth := t.Depth()
		b.Put(buf[off : off+4*depth]...)
		body := h.get(be.Uint32(buf[off+4*depth:]))
		if elem := t.Elem(); elem.Fixed() {
			b.Put(body...)
		} else {
			for at := 0; at < len(body); at += elem.Width() {
				encode(b, elem, body, at, h)
			}
		}

	case types.KindCluster:
		for i := range t.NumFields() {
			encode(b, t.Field(i), buf, off+t.Offset(i), h)
		}

	case types.KindError:
		b.Put(buf[off : off+4]...)
		b.LPut(h.get(be.Uint32(buf[off+4:])))
		encode(b, t.Elem(), buf, off+8, h)
	}
}

// Unflatten decodes a value of type t from buf. The input must contain
// exactly one encoded value; insufficient or trailing bytes are reported as a
// *DecodeError, as is a type that is not concrete.
func Unflatten(buf []byte, t *types.Type) (*Data, error) {
	if !t.Concrete() {
		return nil, &DecodeError{Type: t.String(), Err: errNotConcrete}
	}
	d := New(t)
	s := packet.NewScanner(buf)
	if err := decode(s, t, d.buf, 0, d.heap); err != nil {
		return nil, &DecodeError{Type: t.String(), Offset: s.Offset(), Err: err}
	}
	if s.Len() != 0 {
		return nil, &DecodeError{Type: t.String(), Offset: s.Offset(), Err: errTrailing}
	}
	return d, nil
}

// UnflattenTag is as Unflatten, but parses the type from a tag.
func UnflattenTag(buf []byte, tag string) (*Data, error) {
	t, err := types.Parse(tag)
	if err != nil {
		return nil, err
	}
	return Unflatten(buf, t)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The receiver must
// already have a type, for example from New.
func (d *Data) UnmarshalBinary(buf []byte) error {
	v, err := Unflatten(buf, d.Type())
	if err != nil {
		return err
	}
	*d = *v
	return nil
}

func decode(s *packet.Scanner, t *types.Type, buf []byte, off int, h *heap) error {
	switch t.Kind() {
	case types.KindBool:
		v, err := s.Bool()
		if err != nil {
			return err
		}
		buf[off] = value.Cond[byte](v, 1, 0)
		return nil

	case types.KindString:
		v, err := packet.LGet[[]byte](s)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(buf[off:], h.put(append([]byte(nil), v...)))
		return nil

	case types.KindList:
		return decodeList(s, t, buf, off, h)

	case types.KindCluster:
		if t.Fixed() {
			break // copied in bulk below
		}
		for i := range t.NumFields() {
			if err := decode(s, t.Field(i), buf, off+t.Offset(i), h); err != nil {
				return err
			}
		}
		return nil

	case types.KindError:
		code, err := packet.Get[[]byte](s, 4)
		if err != nil {
			return err
		}
		copy(buf[off:], code)
		if err := decode(s, types.Str, buf, off+4, h); err != nil {
			return err
		}
		return decode(s, t.Elem(), buf, off+8, h)

	case types.KindAny:
		return errNotConcrete
	}

	// Remaining kinds are fixed-width and held in wire order.
	raw, err := packet.Get[[]byte](s, t.Width())
	if err != nil {
		return err
	}
	copy(buf[off:], raw)
	return nil
}

func decodeList(s *packet.Scanner, t *types.Type, buf []byte, off int, h *heap) error {
	depth, elem := t.Depth(), t.Elem()
	n := uint64(1)
	for i := range depth {
		ext, err := s.Uint32()
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(buf[off+4*i:], ext)
		n *= uint64(ext)
		if n > math.MaxInt32 && elem.Width() > 0 {
			return errTooLarge
		}
	}
	if elem.Width() == 0 {
		return nil // no content to allocate
	}

	// Every element occupies at least MinWireSize bytes of input, so reject
	// lists that cannot fit before allocating their body.
	if n*uint64(elem.MinWireSize()) > uint64(s.Len()) {
		return fmt.Errorf("%w (%d elements)", errTooLarge, n)
	}
	w := elem.Width()
	body := make([]byte, int(n)*w)
	if elem.Fixed() {
		raw, err := packet.Get[[]byte](s, len(body))
		if err != nil {
			return err
		}
		copy(body, raw)
	} else {
		for at := 0; at < len(body); at += w {
			if err := decode(s, elem, body, at, h); err != nil {
				return err
			}
		}
	}
	binary.BigEndian.PutUint32(buf[off+4*depth:], h.put(body))
	return nil
}
