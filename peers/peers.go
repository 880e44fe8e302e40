// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for accepting and testing connections.
package peers

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/channel"
	"github.com/creachadair/taskgroup"
)

// An Accepter accepts channels from remote endpoints.
type Accepter interface {
	Accept(context.Context) (labrad.Channel, error)
}

// Loop accepts channels from acc and calls serve for each one in a
// goroutine. Loop continues until acc closes or ctx ends.
//
// The context passed to serve ends when ctx ends, and serve should return
// promptly when that happens. When acc closes, the loop waits for running
// calls to serve to return before returning.
func Loop(ctx context.Context, acc Accepter, serve func(context.Context, labrad.Channel) error) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				err = nil
			}
			g.Wait()
			return err
		}
		g.Go(func() error {
			defer ch.Close()
			return serve(ctx, ch)
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (labrad.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}

// Local is an in-memory accepter whose channels are created by its Dial
// method, suitable for testing. Channels pass packets directly without
// encoding.
type Local struct {
	conns chan labrad.Channel
	done  chan struct{}
	once  sync.Once
}

// NewLocal constructs a new open Local accepter.
func NewLocal() *Local {
	return &Local{conns: make(chan labrad.Channel), done: make(chan struct{})}
}

// Dial returns a new channel connected to the next caller of Accept. It has
// the signature expected by labrad.Conn.Connect.
func (l *Local) Dial(ctx context.Context) (labrad.Channel, error) {
	a, b := channel.Direct()
	select {
	case l.conns <- b:
		return a, nil
	case <-l.done:
		a.Close()
		return nil, net.ErrClosed
	case <-ctx.Done():
		a.Close()
		return nil, ctx.Err()
	}
}

// Accept implements the Accepter interface. It reports net.ErrClosed after l
// is closed.
func (l *Local) Accept(ctx context.Context) (labrad.Channel, error) {
	select {
	case ch := <-l.conns:
		return ch, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes l, so that subsequent calls to Accept and Dial fail. Channels
// already accepted are not affected.
func (l *Local) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
