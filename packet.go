// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package labrad

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/packet"
	"github.com/creachadair/labrad/types"
)

// MaxPayload is the largest record payload, in bytes, accepted by ReadFrom.
const MaxPayload = 64 << 20

// headerLen is the size of a packet header: context (8), request number (4),
// target or source (4), and record payload length (4).
const headerLen = 20

// A Context names an independent serialization domain on a server. A Context
// with High == 0 is interpreted by the manager as belonging to the sending
// connection.
type Context struct {
	High, Low uint32
}

func (c Context) String() string { return fmt.Sprintf("(%d,%d)", c.High, c.Low) }


// A Record is one setting invocation, result, or message within a packet.
// Name is used only to address settings by name before sending, and is
// resolved to an ID; it is never transmitted.
type Record struct {
	ID   uint32
	Name string
	Data *data.Data
}

func (r Record) String() string {
	id := fmt.Sprint(r.ID)
	if r.Name != "" {
		id = fmt.Sprintf("%q", r.Name)
	}
	return fmt.Sprintf("%s:%s=%v", id, r.Data.Type(), r.Data)
}

// A Packet is the unit of exchange on a connection.
//
// Request is positive for a request, negative for the response to the
// request with the same magnitude, and zero for a message that expects no
// reply. Target is the destination server ID for outgoing packets, and the
// ID of the source connection for incoming packets.
type Packet struct {
	Context Context
	Target  uint32
	Request int32
	Records []Record
}

// IsRequest reports whether p is a request.
func (p *Packet) IsRequest() bool { return p.Request > 0 }

// IsResponse reports whether p is a response.
func (p *Packet) IsResponse() bool { return p.Request < 0 }

// IsMessage reports whether p is a message.
func (p *Packet) IsMessage() bool { return p.Request == 0 }

// Reply returns a response to p carrying the given records. The response is
// addressed to the source of p.
func (p *Packet) Reply(recs ...Record) *Packet {
	return &Packet{Context: p.Context, Target: p.Target, Request: -p.Request, Records: recs}
}

// Encode encodes p in binary format.
func (p Packet) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, headerLen))
	if _, err := p.WriteTo(buf); err != nil {
		panic(fmt.Errorf("encoding packet: %w", err))
	}
	return buf.Bytes()
}

// encodeRecords returns the binary encoding of the records of p.
func (p *Packet) encodeRecords() []byte {
	var b packet.Builder
	for _, r := range p.Records {
		b.Uint32(r.ID)
		b.LPutString(r.Data.Type().String())
		pos := b.Len()
		b.Uint32(0) // placeholder for the payload length
		r.Data.FlattenTo(&b)
		b.SetUint32(pos, uint32(b.Len()-pos-4))
	}
	return b.Bytes()
}

// WriteTo writes the packet to w in binary format. It satisfies io.WriterTo.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	body := p.encodeRecords()
	var hdr packet.Builder
	hdr.Grow(headerLen)
	hdr.Uint32(p.Context.High)
	hdr.Uint32(p.Context.Low)
	hdr.Int32(p.Request)
	hdr.Uint32(p.Target)
	hdr.Uint32(uint32(len(body)))
	nw, err := w.Write(hdr.Bytes())
	if err == nil && len(body) != 0 {
		var np int
		np, err = w.Write(body)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads a packet from r in binary format. It satisfies io.ReaderFrom.
//
// A short header or payload, or a payload larger than MaxPayload, is reported
// as an error and leaves the stream unusable. If the framing is intact but a
// record cannot be decoded, ReadFrom reports a *ProtocolError and leaves p
// with the header fields set and no records; the stream remains positioned at
// the next packet.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	var buf [headerLen]byte
	nr, err := io.ReadFull(r, buf[:])
	if err != nil {
		if nr == 0 && err == io.EOF {
			return 0, err
		}
		return int64(nr), fmt.Errorf("short packet header: %w", err)
	}
	// The header is complete, so these reads cannot fail.
	hdr := packet.NewScanner(buf[:])
	p.Context.High, _ = hdr.Uint32()
	p.Context.Low, _ = hdr.Uint32()
	p.Request, _ = hdr.Int32()
	p.Target, _ = hdr.Uint32()
	psize, _ := hdr.Uint32()
	p.Records = nil

	if psize > MaxPayload {
		return int64(nr), fmt.Errorf("payload too large (%d > %d bytes)", psize, MaxPayload)
	} else if psize == 0 {
		return int64(nr), nil
	}
	body := make([]byte, int(psize))
	np, err := io.ReadFull(r, body)
	nr += np
	if err != nil {
		return int64(nr), fmt.Errorf("short payload: %w", err)
	}
	recs, err := decodeRecords(body)
	if err != nil {
		return int64(nr), &ProtocolError{Packet: p, Err: err}
	}
	p.Records = recs
	return int64(nr), nil
}

// decodeRecords decodes the record section of a packet.
func decodeRecords(body []byte) ([]Record, error) {
	var recs []Record
	s := packet.NewScanner(body)
	for s.Len() != 0 {
		id, err := s.Uint32()
		if err != nil {
			return nil, fmt.Errorf("record %d: setting ID: %w", len(recs), err)
		}
		tag, err := packet.LGet[string](s)
		if err != nil {
			return nil, fmt.Errorf("record %d: type tag: %w", len(recs), err)
		}
		raw, err := packet.LGet[[]byte](s)
		if err != nil {
			return nil, fmt.Errorf("record %d: payload: %w", len(recs), err)
		}
		t, err := types.Parse(tag)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(recs), err)
		}
		d, err := data.Unflatten(raw, t)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(recs), err)
		}
		recs = append(recs, Record{ID: id, Data: d})
	}
	return recs, nil
}

// String returns a human-friendly rendering of the packet.
func (p *Packet) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Packet(ctx=%v, req=%d, target=%d", p.Context, p.Request, p.Target)
	for _, r := range p.Records {
		sb.WriteString(", ")
		sb.WriteString(r.String())
	}
	sb.WriteByte(')')
	return sb.String()
}
