// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package data

import (
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/labrad/types"
)

// String renders d in a human-readable form, for logs and diagnostics.
func (d *Data) String() string {
	if d == nil {
		return "_"
	}
	var sb strings.Builder
	d.format(&sb)
	return sb.String()
}

func (d *Data) format(sb *strings.Builder) {
	switch d.Kind() {
	case types.KindEmpty:
		sb.WriteString("_")
	case types.KindBool:
		sb.WriteString(strconv.FormatBool(d.Bool()))
	case types.KindInt:
		sb.WriteString(strconv.FormatInt(int64(d.Int()), 10))
	case types.KindWord:
		sb.WriteString(strconv.FormatUint(uint64(d.Word()), 10))
		sb.WriteByte('w')
	case types.KindString:
		sb.WriteString(strconv.Quote(d.Str()))
	case types.KindTime:
		sb.WriteString(d.Time().Format(time.RFC3339Nano))
	case types.KindValue:
		sb.WriteString(strconv.FormatFloat(d.Value(), 'g', -1, 64))
		writeUnits(sb, d.Units())
	case types.KindComplex:
		sb.WriteString(strconv.FormatComplex(d.Complex(), 'g', -1, 128))
		writeUnits(sb, d.Units())
	case types.KindList:
		d.formatList(sb, d.Shape(), 0, 0)
	case types.KindCluster:
		sb.WriteByte('(')
		for i := range d.Len() {
			if i > 0 {
				sb.WriteString(", ")
			}
			d.Get(i).format(sb)
		}
		sb.WriteByte(')')
	case types.KindError:
		sb.WriteString("Error(")
		sb.WriteString(strconv.Itoa(int(d.ErrorCode())))
		sb.WriteString(", ")
		sb.WriteString(strconv.Quote(d.ErrorMessage()))
		if p := d.ErrorPayload(); p.Kind() != types.KindEmpty {
			sb.WriteString(", ")
			p.format(sb)
		}
		sb.WriteByte(')')
	}
}

// formatList renders dimension dim of a list, whose elements begin at the
// flat index base.
func (d *Data) formatList(sb *strings.Builder, shape []int, dim, base int) {
	sb.WriteByte('[')
	stride := product(shape[dim+1:])
	for i := range shape[dim] {
		if i > 0 {
			sb.WriteString(", ")
		}
		flat := base + i*stride
		if dim+1 < len(shape) {
			d.formatList(sb, shape, dim+1, flat)
			continue
		}
		elem := d.t.Elem()
		v := &Data{t: elem, buf: d.heap.get(d.u32(4 * len(shape))), off: flat * elem.Width(), heap: d.heap}
		v.format(sb)
	}
	sb.WriteByte(']')
}

func writeUnits(sb *strings.Builder, units string) {
	if units != "" {
		sb.WriteByte(' ')
		sb.WriteString(units)
	}
}
