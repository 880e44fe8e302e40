// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package peers_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"testing/synctest"
	"time"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/channel"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/peers"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
)

func mustListen(t *testing.T) (_ net.Listener, addr string) {
	t.Helper()
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr = lst.Addr().String()
	t.Cleanup(func() { lst.Close() })
	t.Logf("Listening at %q", addr)
	return lst, addr
}

type fakeListener struct {
	net.Listener // stub for unused methods
	conns        chan net.Conn
	closed       chan struct{}
}

func (f fakeListener) push(c net.Conn) { f.conns <- c }

func (f fakeListener) Accept() (net.Conn, error) {
	select {
	case <-f.closed:
		return nil, net.ErrClosed
	case c := <-f.conns:
		return c, nil
	}
}

func (f fakeListener) Close() error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
		close(f.closed)
		return nil
	}
}

func newFakeListener() fakeListener {
	return fakeListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

// fakeConn is a fake implementation of [net.Conn] that does not work but which
// satisfies the interface, for use in testing. Only the Close method can be
// called without panicking.
type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

func TestAccepter(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			lst := newFakeListener()
			acc := peers.NetAccepter(lst)

			time.AfterFunc(1*time.Second, func() { lst.push(fakeConn{}) })
			c, err := acc.Accept(t.Context())
			if err != nil {
				t.Fatalf("Accept: unexpected error: %v", err)
			}
			if _, ok := c.(channel.IOChannel); !ok {
				t.Errorf("Accept: got %[1]T %[1]v, want %T", c, channel.IOChannel{})
			}

			// The listener should not be closed.
			if err := lst.Close(); err != nil {
				t.Errorf("Close listener: unexpected error: %v", err)
			}
		})
	})

	t.Run("Cancel", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			lst := newFakeListener()
			acc := peers.NetAccepter(lst)
			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			ch, err := acc.Accept(ctx)
			if err == nil {
				t.Errorf("Accept: got %v, want error", ch)
			}

			// The listener should already be closed, so this should report that error.
			if err := lst.Close(); !errors.Is(err, net.ErrClosed) {
				t.Errorf("Close listener: got %v, want %v", err, net.ErrClosed)
			}
		})
	})
}

// echo answers each request received on ch by echoing its records, after a
// short delay.
func echo(ctx context.Context, ch labrad.Channel) error {
	for {
		pkt, err := ch.Recv()
		if err != nil {
			return nil
		}
		time.Sleep(7 * time.Millisecond)
		if err := ch.Send(pkt.Reply(pkt.Records...)); err != nil {
			return err
		}
	}
}

func checkEcho(t *testing.T, ch labrad.Channel, numCalls int) {
	t.Helper()
	for j := range numCalls {
		req := &labrad.Packet{
			Target:  5,
			Request: int32(j + 1),
			Records: []labrad.Record{{ID: 1, Data: data.Int(int32(j))}},
		}
		if err := ch.Send(req); err != nil {
			t.Errorf("Send %d: %v", j+1, err)
			return
		}
		rsp, err := ch.Recv()
		if err != nil {
			t.Errorf("Recv %d: %v", j+1, err)
			return
		}
		if rsp.Request != -req.Request || len(rsp.Records) != 1 || rsp.Records[0].Data.Int() != int32(j) {
			t.Errorf("Call %d: got %v, want reply to %v", j+1, rsp, req)
		}
	}
}

func TestLoop(t *testing.T) {
	defer leaktest.Check(t)()

	lst, addr := mustListen(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	loop := taskgroup.Go(func() error {
		return peers.Loop(ctx, peers.NetAccepter(lst), echo)
	})
	t.Log("Started accept loop...")

	const numClients = 5
	const numCalls = 5
	t.Logf("Clients: %d, calls per client: %d", numClients, numCalls)

	g := taskgroup.New(func(err error) {
		cancel()
		t.Errorf("Task error: %v", err)
	})
	for range numClients {
		g.Go(func() error {
			ch, err := channel.Dial(addr)(t.Context())
			if err != nil {
				return err
			}
			defer ch.Close()
			checkEcho(t, ch, numCalls)
			return nil
		})
	}
	t.Logf("Clients finished, err=%v", g.Wait())
	t.Logf("Closed listener, err=%v", lst.Close())
	if err := loop.Wait(); err != nil {
		t.Errorf("Loop: unexpected error: %v", err)
	}
}

func TestLocal(t *testing.T) {
	defer leaktest.Check(t)()

	loc := peers.NewLocal()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	loop := taskgroup.Go(func() error { return peers.Loop(ctx, loc, echo) })

	g := taskgroup.New(nil)
	for range 3 {
		g.Go(func() error {
			ch, err := loc.Dial(t.Context())
			if err != nil {
				return err
			}
			defer ch.Close()
			checkEcho(t, ch, 3)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Dial: unexpected error: %v", err)
	}

	loc.Close()
	if err := loop.Wait(); err != nil {
		t.Errorf("Loop: unexpected error: %v", err)
	}
	if ch, err := loc.Dial(t.Context()); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Dial after close: got (%v, %v), want %v", ch, err, net.ErrClosed)
	}
	if ch, err := loc.Accept(t.Context()); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Accept after close: got (%v, %v), want %v", ch, err, net.ErrClosed)
	}
}
