// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/dispatch"
	"github.com/creachadair/mds/queue"
	"github.com/rs/zerolog"
)

// A Session is the context-scoped state of a server. A session is created
// on the first request in a context, and its Expire method is called when the
// context expires. Subsequent requests in the same context get a new session.
type Session interface {
	Expire()
}

// A SessionFunc constructs a new session for the given request context on a
// connection. If it returns nil, requests in that context have no session.
type SessionFunc func(c *labrad.Conn, ctx labrad.Context) Session

// An Executor runs inbound requests with per-context ordering. Requests that
// share a context are served one at a time in arrival order. Requests in
// different contexts run concurrently on the worker pool of the connection.
type Executor struct {
	ctx        context.Context
	conn       *labrad.Conn
	reg        *dispatch.Registry
	newSession SessionFunc
	log        zerolog.Logger

	μ        sync.Mutex
	contexts map[labrad.Context]*ctxState
}

// ctxState is the executor state for one request context.
type ctxState struct {
	key labrad.Context

	// Guarded by the executor lock.
	buf     *queue.Queue[*labrad.Packet] // nil packet: expire the session
	running bool                         // a drain task is active

	// Owned by the active drain task.
	initialized bool
	session     Session
}

// NewExecutor constructs an executor that serves requests received on c by
// calling reg. Handlers are passed a context derived from ctx. If newSession
// != nil, it is used to construct the session for each request context.
func NewExecutor(ctx context.Context, c *labrad.Conn, reg *dispatch.Registry, newSession SessionFunc) *Executor {
	return &Executor{
		ctx:        ctx,
		conn:       c,
		reg:        reg,
		newSession: newSession,
		log:        zerolog.Nop(),
		contexts:   make(map[labrad.Context]*ctxState),
	}
}

// SetLogger sets the logger used by e, and returns e to permit chaining.
func (e *Executor) SetLogger(log zerolog.Logger) *Executor { e.log = log; return e }

// Handle implements the labrad.RequestHandler signature, for use with the
// Handle method of a labrad.Conn.
func (e *Executor) Handle(_ *labrad.Conn, pkt *labrad.Packet) { e.Submit(pkt) }

// Submit adds an inbound request packet to the queue for its context. A
// packet with no records is answered immediately with an empty response.
// Submit does not block.
func (e *Executor) Submit(pkt *labrad.Packet) {
	if len(pkt.Records) == 0 {
		e.reply(pkt.Reply())
		return
	}
	serverMetrics.packetsIn.Inc()
	e.μ.Lock()
	defer e.μ.Unlock()
	st, ok := e.contexts[pkt.Context]
	if !ok {
		st = &ctxState{key: pkt.Context, buf: queue.New[*labrad.Packet]()}
		e.contexts[pkt.Context] = st
		serverMetrics.contexts.Inc()
	}
	e.pushLocked(st, pkt)
}

// pushLocked adds pkt to the buffer of st, and starts a drain task for st if
// one is not already active.
func (e *Executor) pushLocked(st *ctxState, pkt *labrad.Packet) {
	st.buf.Add(pkt)
	if st.running {
		return
	}
	st.running = true
	if !e.conn.Pool().Go(func() { e.drain(st) }) {
		// The connection has closed, and no reply can be sent.
		st.running = false
	}
}

// Expire expires the session for ctx, after any requests already submitted
// in that context have been served. It reports whether ctx had state.
func (e *Executor) Expire(ctx labrad.Context) bool {
	e.μ.Lock()
	defer e.μ.Unlock()
	st, ok := e.contexts[ctx]
	if ok {
		e.pushLocked(st, nil)
	}
	return ok
}

// ExpireAll expires the sessions of all contexts whose high word is high,
// that is, all contexts belonging to a single client. It returns the number
// of contexts affected.
func (e *Executor) ExpireAll(high uint32) int {
	e.μ.Lock()
	defer e.μ.Unlock()
	var n int
	for key, st := range e.contexts {
		if key.High == high {
			e.pushLocked(st, nil)
			n++
		}
	}
	return n
}

// Len reports the number of contexts with state in e.
func (e *Executor) Len() int {
	e.μ.Lock()
	defer e.μ.Unlock()
	return len(e.contexts)
}

// drain serves the buffered packets of st in order until the buffer is
// empty. It runs on the worker pool.
func (e *Executor) drain(st *ctxState) {
	for {
		e.μ.Lock()
		pkt, ok := st.buf.Pop()
		if !ok {
			// Clearing the flag under the lock ensures a packet arriving now
			// starts a new drain task.
			st.running = false
			if !st.initialized && e.contexts[st.key] == st {
				delete(e.contexts, st.key)
				serverMetrics.contexts.Dec()
			}
			e.μ.Unlock()
			return
		}
		e.μ.Unlock()

		if pkt == nil {
			e.expire(st)
		} else {
			e.serve(st, pkt)
		}
	}
}

func (e *Executor) expire(st *ctxState) {
	if !st.initialized {
		return
	}
	sess := st.session
	st.session, st.initialized = nil, false
	if sess == nil {
		return
	}
	defer func() {
		if x := recover(); x != nil {
			e.log.Error().Stringer("context", st.key).Interface("panic", x).Msg("session expire panicked (recovered)")
		}
	}()
	sess.Expire()
	e.log.Debug().Stringer("context", st.key).Msg("context expired")
}

// serve executes the records of pkt in order and sends the response. The
// first record that fails is answered with an error, and the remaining
// records are not executed.
func (e *Executor) serve(st *ctxState, pkt *labrad.Packet) {
	if !st.initialized {
		if e.newSession != nil {
			st.session = e.newSession(e.conn, st.key)
		}
		st.initialized = true
	}
	recs := make([]labrad.Record, 0, len(pkt.Records))
	for _, r := range pkt.Records {
		out, err := e.call(st, pkt, r)
		if err != nil {
			serverMetrics.errors.Inc()
			e.log.Debug().Err(err).Stringer("context", st.key).Uint32("setting", r.ID).Msg("request failed")
			recs = append(recs, labrad.Record{ID: r.ID, Data: errorData(err)})
			break
		}
		recs = append(recs, labrad.Record{ID: r.ID, Data: out})
	}
	e.reply(pkt.Reply(recs...))
}

func (e *Executor) call(st *ctxState, pkt *labrad.Packet, r labrad.Record) (_ *data.Data, err error) {
	serverMetrics.calls.Inc()
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("handler panicked (recovered): %v", x)
		}
	}()
	return e.reg.Call(e.ctx, &dispatch.Request{
		Context: pkt.Context,
		Source:  pkt.Target,
		Setting: r.ID,
		Data:    r.Data,
		Session: st.session,
	})
}

func (e *Executor) reply(pkt *labrad.Packet) {
	if err := e.conn.SendPacket(pkt); err != nil {
		e.log.Debug().Err(err).Stringer("context", pkt.Context).Msg("dropped response")
	}
}

// errorData converts err into an error record. A *labrad.RemoteError keeps
// its code, message, and payload.
func errorData(err error) *data.Data {
	var rerr *labrad.RemoteError
	if errors.As(err, &rerr) {
		return rerr.Data()
	}
	return data.Error(0, err.Error(), nil)
}
