// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the labrad.Channel interface.
package channel

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/creachadair/labrad"
)

// Direct constructs a connected pair of in-memory channels that pass packets
// directly without encoding into binary. Packets sent to A are received by B
// and vice versa. Closing either end closes both.
func Direct() (A, B labrad.Channel) {
	a2b := make(chan *labrad.Packet)
	b2a := make(chan *labrad.Packet)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }
	A = direct{send: a2b, recv: b2a, done: done, stop: stop}
	B = direct{send: b2a, recv: a2b, done: done, stop: stop}
	return
}

type direct struct {
	send chan<- *labrad.Packet
	recv <-chan *labrad.Packet
	done chan struct{}
	stop func()
}

// Send implements a method of the [labrad.Channel] interface.
func (d direct) Send(pkt *labrad.Packet) error {
	select {
	case <-d.done:
		return net.ErrClosed
	default:
	}
	select {
	case d.send <- pkt:
		return nil
	case <-d.done:
		return net.ErrClosed
	}
}

// Recv implements a method of the [labrad.Channel] interface.
func (d direct) Recv() (*labrad.Packet, error) {
	select {
	case pkt := <-d.recv:
		return pkt, nil
	case <-d.done:
		return nil, net.ErrClosed
	}
}

// Close implements a method of the [labrad.Channel] interface.
func (d direct) Close() error { d.stop(); return nil }

// IO constructs a channel that receives from r and sends to wc.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives packets on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [labrad.Channel] interface.
func (c IOChannel) Send(pkt *labrad.Packet) error {
	if _, err := pkt.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [labrad.Channel] interface. A packet whose
// records cannot be decoded is returned along with a *labrad.ProtocolError.
func (c IOChannel) Recv() (*labrad.Packet, error) {
	var pkt labrad.Packet
	if _, err := pkt.ReadFrom(c.r); err != nil {
		var perr *labrad.ProtocolError
		if errors.As(err, &perr) {
			return &pkt, err
		}
		return nil, err
	}
	return &pkt, nil
}

// Close implements a method of the [labrad.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }

// Dial returns a dial function for labrad.Conn.Connect that opens a TCP
// connection to addr.
func Dial(addr string) func(context.Context) (labrad.Channel, error) {
	return func(ctx context.Context) (labrad.Channel, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return IO(conn, conn), nil
	}
}
