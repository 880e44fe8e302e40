// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package labrad

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"

	"github.com/creachadair/labrad/catalog"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/types"
	"github.com/creachadair/labrad/workpool"
	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// A Channel is a reliable ordered stream of packets shared by two endpoints.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the packet in binary format to the receiver.
	Send(*Packet) error

	// Receive the next available packet from the channel. If a packet is
	// framed correctly but its records cannot be decoded, Recv reports a
	// *ProtocolError and the channel remains usable.
	Recv() (*Packet, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// State is the lifecycle state of a Conn.
type State int32

const (
	Disconnected State = iota // not yet connected
	Connecting                // dialing the manager
	LoggingIn                 // connected, login not complete
	Serving                   // logged in, requests may be sent
	Closed                    // terminated; no further use is possible
)

var stateNames = [...]string{"Disconnected", "Connecting", "LoggingIn", "Serving", "Closed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// A RequestHandler processes an inbound request packet. It is called
// synchronously by the reader, in arrival order, and must not block. It
// replies by sending pkt.Reply(...) with SendPacket.
type RequestHandler func(c *Conn, pkt *Packet)

// A Message is one record of an inbound message packet.
type Message struct {
	Context Context
	Source  uint32 // ID of the sending connection
	ID      uint32 // message ID
	Data    *data.Data
}

// A MessageHandler receives messages delivered to a listener.
type MessageHandler func(Message)

// A ListenerID identifies a registered message listener.
type ListenerID uint64

type listener struct {
	msgID uint32
	f     MessageHandler
}

// A PacketLogger logs a packet exchanged with the remote endpoint.
type PacketLogger func(pkt PacketInfo)

// A PacketInfo combines a packet and a flag indicating whether the packet was
// sent or received.
type PacketInfo struct {
	*Packet      // the packet being logged
	Sent    bool // whether the packet was sent (true) or received (false)
}

func (p PacketInfo) String() string {
	if p.Sent {
		return "send " + p.Packet.String()
	}
	return "recv " + p.Packet.String()
}

// Identity describes the endpoint presented to the manager during login.
type Identity struct {
	Name        string
	Description string // servers only
	Notes       string // servers only
	Server      bool   // identify as a server rather than a client
}

// A Request describes an outbound request. The target server is given by ID,
// or by name if Server == 0. Each record may name its setting by ID or by
// Name; names are resolved with the manager and cached.
type Request struct {
	Server     uint32
	ServerName string
	Context    Context
	Records    []Record
}

// A Conn is one endpoint of a connection to the manager. It multiplexes
// concurrent outbound requests, inbound requests, and messages over a single
// Channel.
//
// Use NewConn to construct a Conn, then Connect or Start it on a channel and
// call Login. Once logged in, use Send or Call to issue requests. A Conn runs
// until Close is called, the channel closes, or a fatal error occurs; use Wait
// to wait for it to exit.
type Conn struct {
	tasks *taskgroup.Group
	pool  *workpool.Pool
	lane  *workpool.Lane // ordered message delivery
	log   zerolog.Logger

	ch  Channel
	out struct {
		sync.Mutex
		queue *queue.Queue[*Packet]
	}
	wake chan struct{} // signals the writer that out.queue is non-empty
	stop chan struct{} // closed when the Conn closes

	μ sync.Mutex

	state     State
	err       error              // cause of closure
	pending   map[int32]*Pending // nil value: pinned by cancellation
	nextReq   int32              // highest request number allocated
	free      []int32            // released request numbers
	cat       *catalog.Catalog   // lookup cache
	handler   RequestHandler
	listeners map[ListenerID]listener
	nextLID   ListenerID
	plog      PacketLogger
	onExit    func(error)
	nextCtx   uint32
	id        uint32
	welcome   string
}

// NewConn constructs a new unconnected Conn.
func NewConn() *Conn {
	c := &Conn{
		tasks:     taskgroup.New(nil),
		pool:      workpool.New(workpool.DefaultSize),
		log:       zerolog.Nop(),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		pending:   make(map[int32]*Pending),
		cat:       catalog.New(),
		listeners: make(map[ListenerID]listener),
	}
	c.lane = workpool.NewLane(c.pool)
	c.out.queue = queue.New[*Packet]()
	return c
}

// SetLogger sets the logger used by c, and returns c to permit chaining.
func (c *Conn) SetLogger(log zerolog.Logger) *Conn {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.log = log
	return c
}

// SetWorkers sets the maximum number of concurrent workers used by c for
// lookups, callbacks, message delivery, and request handling, and returns c
// to permit chaining.
func (c *Conn) SetWorkers(n int) *Conn { c.pool.SetSize(n); return c }

// Pool returns the worker pool of c. Tasks added to the pool must not block
// indefinitely.
func (c *Conn) Pool() *workpool.Pool { return c.pool }

// State reports the current lifecycle state of c.
func (c *Conn) State() State {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.state
}

// ID reports the connection ID assigned by the manager at login, or 0.
func (c *Conn) ID() uint32 {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.id
}

// Welcome reports the welcome message sent by the manager at login.
func (c *Conn) Welcome() string {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.welcome
}

// Connect calls dial to open a channel, and starts c on it. The state of c is
// Connecting while dial runs. If dial fails, c is closed and the error is
// reported as a *TransportError.
func (c *Conn) Connect(ctx context.Context, dial func(context.Context) (Channel, error)) error {
	c.μ.Lock()
	if c.state != Disconnected {
		defer c.μ.Unlock()
		return fmt.Errorf("connect: connection is %v", c.state)
	}
	c.state = Connecting
	c.μ.Unlock()

	ch, err := dial(ctx)
	if err != nil {
		terr := &TransportError{Err: err}
		c.fail(terr)
		return terr
	}
	c.Start(ch)
	return nil
}

// Start starts c running on the given channel, in the LoggingIn state.
// Start does not block. It panics if c has already been started or closed.
func (c *Conn) Start(ch Channel) *Conn {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.state != Disconnected && c.state != Connecting {
		panic(fmt.Sprintf("labrad: start on a connection that is %v", c.state))
	}
	c.ch = ch
	c.state = LoggingIn

	c.tasks.Go(func() error {
		for {
			pkt, err := ch.Recv()
			if err != nil {
				var perr *ProtocolError
				if errors.As(err, &perr) {
					c.dropInvalid(perr)
					continue
				}
				c.fail(&TransportError{Err: err})
				return nil
			}
			connMetrics.packetRecv.Inc()
			c.dispatch(pkt)
		}
	})
	c.tasks.Go(func() error {
		for {
			select {
			case <-c.wake:
			case <-c.stop:
				return nil
			}
			for {
				pkt, ok := c.popOut()
				if !ok {
					break
				}
				c.logPacket(pkt, true)
				if err := ch.Send(pkt); err != nil {
					c.fail(&TransportError{Err: err})
					return nil
				}
				connMetrics.packetSent.Inc()
			}
		}
	})
	return c
}

// Done returns a channel that is closed when c terminates.
func (c *Conn) Done() <-chan struct{} { return c.stop }

// Close closes the channel and terminates c. All pending requests fail with
// ErrClosed. Close does not block; use Wait to wait for c to exit. Close is
// safe to call more than once.
func (c *Conn) Close() error { c.fail(ErrClosed); return nil }

// Wait blocks until c terminates and reports the error that caused it to
// stop, or nil if it was closed normally. Wait must not be called from a
// callback or handler run by c.
func (c *Conn) Wait() error {
	c.tasks.Wait()
	c.pool.Close()

	c.μ.Lock()
	defer c.μ.Unlock()
	if errors.Is(c.err, ErrClosed) {
		return nil
	}
	return c.err
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed)
}

// fail terminates c with the given cause, unless it is already closed.
func (c *Conn) fail(cause error) {
	c.μ.Lock()
	if c.state == Closed {
		c.μ.Unlock()
		return
	}
	if treatErrorAsSuccess(cause) {
		cause = ErrClosed
	}
	c.state = Closed
	c.err = cause
	pend := c.pending
	c.pending = nil
	ch, onExit, log := c.ch, c.onExit, c.log
	c.μ.Unlock()

	close(c.stop)
	if ch != nil {
		ch.Close()
	}

	// Every pending request fails with the same cause.
	for _, p := range pend {
		if p != nil {
			connMetrics.requestPending.Dec()
			p.complete(nil, cause)
		}
	}

	if cause != ErrClosed {
		log.Error().Err(cause).Msg("connection failed")
	} else {
		log.Debug().Msg("connection closed")
	}
	if onExit != nil {
		if cause == ErrClosed {
			onExit(nil)
		} else {
			onExit(cause)
		}
	}
}

// OnExit registers a callback to be invoked when c terminates. The callback
// is executed synchronously during shutdown, with the same error value that
// would be reported by Wait. Passing nil removes the callback.
func (c *Conn) OnExit(f func(error)) *Conn {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.onExit = f
	return c
}

// LogPackets registers a callback invoked for each packet exchanged with the
// remote endpoint. Passing nil disables packet logging.
func (c *Conn) LogPackets(log PacketLogger) *Conn {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.plog = log
	return c
}

func (c *Conn) logPacket(pkt *Packet, sent bool) {
	c.μ.Lock()
	plog := c.plog
	c.μ.Unlock()
	if plog != nil {
		plog(PacketInfo{Packet: pkt, Sent: sent})
	}
}

// Handle installs the handler for inbound requests, and returns c to permit
// chaining. Passing nil removes the handler; requests arriving without a
// handler are answered with an error.
func (c *Conn) Handle(h RequestHandler) *Conn {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.handler = h
	return c
}

// AddListener registers f to receive message records with the given message
// ID. If msgID == 0, f receives all messages. Messages are delivered in
// arrival order, one at a time, and not after c has closed.
func (c *Conn) AddListener(msgID uint32, f MessageHandler) ListenerID {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.nextLID++
	c.listeners[c.nextLID] = listener{msgID: msgID, f: f}
	return c.nextLID
}

// RemoveListener removes the listener with the given ID, if it exists.
func (c *Conn) RemoveListener(id ListenerID) {
	c.μ.Lock()
	defer c.μ.Unlock()
	delete(c.listeners, id)
}

// NewContext returns a fresh context for use in requests from c. The High
// word is 0, which the manager interprets as the ID of c.
func (c *Conn) NewContext() Context {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.nextCtx++
	return Context{High: 0, Low: c.nextCtx}
}

// SendPacket enqueues a packet to send to the remote endpoint, without
// tracking a response. It is used to send responses and messages. It reports
// an error if c is closed.
func (c *Conn) SendPacket(pkt *Packet) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.state == Closed {
		return c.err
	} else if c.state < LoggingIn {
		return ErrNotConnected
	}
	c.enqueue(pkt)
	return nil
}

func (c *Conn) enqueue(pkt *Packet) {
	c.out.Lock()
	c.out.queue.Add(pkt)
	c.out.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) popOut() (*Packet, bool) {
	c.out.Lock()
	defer c.out.Unlock()
	return c.out.queue.Pop()
}

// readyLocked reports an error if c is not at least in state min.
func (c *Conn) readyLocked(min State) error {
	if c.state == Closed {
		return c.err
	} else if c.state < min {
		return ErrNotConnected
	}
	return nil
}

// allocLocked returns an unused request number, preferring released ones.
func (c *Conn) allocLocked() int32 {
	if n := len(c.free); n > 0 {
		v := c.free[n-1]
		c.free = c.free[:n-1]
		return v
	}
	c.nextReq++
	return c.nextReq
}

// startLocked assigns a request number to p and enqueues pkt for sending.
func (c *Conn) startLocked(p *Pending, pkt *Packet) {
	n := c.allocLocked()
	p.number = n
	pkt.Request = n
	c.pending[n] = p
	connMetrics.requestOut.Inc()
	connMetrics.requestPending.Inc()
	c.enqueue(pkt)
}

// Send sends a request to the remote endpoint and returns a Pending for its
// result. Send does not block. If cb != nil, it is called with the result on
// the worker pool of c when the request completes.
//
// If the request refers to names not yet known to c, they are resolved with
// the manager before the request is sent. The lookup proceeds as responses
// arrive, and does not occupy a worker while it waits.
func (c *Conn) Send(req Request, cb func([]*data.Data, error)) *Pending {
	p := newPending(c, cb)
	if req.Server == 0 && req.ServerName == "" {
		p.complete(nil, errors.New("request has no target server"))
		return p
	}

	c.μ.Lock()
	if err := c.readyLocked(Serving); err != nil {
		c.μ.Unlock()
		p.complete(nil, err)
		return p
	}
	if pkt, ok := c.resolveLocked(req); ok {
		c.startLocked(p, pkt)
		c.μ.Unlock()
		return p
	}
	c.continueLookupLocked(req, func(err error) { c.finishLookup(p, req, err) })
	return p
}

// Call sends a request and blocks until it completes or ctx ends. If ctx ends
// first, the request is canceled and Call reports an error wrapping both
// ErrCanceled and the context error.
func (c *Conn) Call(ctx context.Context, req Request) ([]*data.Data, error) {
	return c.Send(req, nil).Wait(ctx)
}

// resolveLocked builds the packet for req from cached names, and reports
// whether all names were known.
func (c *Conn) resolveLocked(req Request) (*Packet, bool) {
	target := req.Server
	if target == 0 {
		id, ok := c.cat.Server(req.ServerName)
		if !ok {
			return nil, false
		}
		target = id
	}
	recs := make([]Record, len(req.Records))
	for i, r := range req.Records {
		if r.Name != "" {
			id, ok := c.cat.Setting(target, r.Name)
			if !ok {
				return nil, false
			}
			r.ID, r.Name = id, ""
		}
		recs[i] = r
	}
	return &Packet{Context: req.Context, Target: target, Records: recs}, true
}

// finishLookup sends the request for p once the names in req are resolved,
// or fails p with err. It is called without c.μ held.
func (c *Conn) finishLookup(p *Pending, req Request, err error) {
	if err != nil {
		p.complete(nil, err)
		return
	}
	c.μ.Lock()
	if p.canceled {
		c.μ.Unlock()
		return
	} else if err := c.readyLocked(Serving); err != nil {
		c.μ.Unlock()
		p.complete(nil, err)
		return
	}
	pkt, ok := c.resolveLocked(req)
	if !ok {
		c.μ.Unlock()
		p.complete(nil, fmt.Errorf("unable to resolve names for server %q", req.ServerName))
		return
	}
	c.startLocked(p, pkt)
	c.μ.Unlock()
}

var (
	lookupArgType   = types.MustParse("(w*s)")
	lookupReplyType = types.MustParse("(w*w)")
)

// nextLookupLocked sends the next manager lookup needed to resolve the names
// of req, and reports whether one was sent. The server name is resolved
// first, then the missing setting names in one request. The response to each
// step caches the names and takes the next step, so no goroutine waits for
// the manager. When no step remains, or a step fails, done is called exactly
// once without c.μ held.
func (c *Conn) nextLookupLocked(req Request, done func(error)) (bool, error) {
	if err := c.readyLocked(Serving); err != nil {
		return false, err
	}
	server := req.Server
	if server == 0 {
		id, ok := c.cat.Server(req.ServerName)
		if !ok {
			c.managerSendLocked(SettingLookup, data.Str(req.ServerName), func(rsp *data.Data, err error) {
				if err == nil && rsp.Kind() != types.KindWord {
					err = fmt.Errorf("unexpected reply type %q", rsp.Type())
				}
				if err != nil {
					done(fmt.Errorf("lookup server %q: %w", req.ServerName, err))
					return
				}
				c.μ.Lock()
				c.cat.SetServer(req.ServerName, rsp.Word())
				c.continueLookupLocked(req, done)
			})
			return true, nil
		}
		server = id
	}

	var names []string
	for _, r := range req.Records {
		if r.Name == "" || slices.Contains(names, r.Name) {
			continue
		} else if _, ok := c.cat.Setting(server, r.Name); !ok {
			names = append(names, r.Name)
		}
	}
	if len(names) == 0 {
		return false, nil
	}

	arg := data.New(lookupArgType)
	arg.Get(0).SetWord(server)
	for _, name := range names {
		arg.Get(1).Append(data.Str(name))
	}
	c.managerSendLocked(SettingLookup, arg, func(rsp *data.Data, err error) {
		if err == nil && (!types.Matches(lookupReplyType, rsp.Type()) || rsp.Get(1).Len() != len(names)) {
			err = fmt.Errorf("unexpected reply %v", rsp)
		}
		if err != nil {
			done(fmt.Errorf("lookup settings %q: %w", names, err))
			return
		}
		c.μ.Lock()
		for i, name := range names {
			c.cat.SetSetting(server, name, rsp.Get(1).Elem(i).Word())
		}
		c.continueLookupLocked(req, done)
	})
	return true, nil
}

// continueLookupLocked takes the next lookup step for req and releases c.μ.
// If no step is needed, it calls done.
func (c *Conn) continueLookupLocked(req Request, done func(error)) {
	next, err := c.nextLookupLocked(req, done)
	c.μ.Unlock()
	if err != nil || !next {
		done(err)
	}
}

// managerSendLocked sends a request for a single manager setting. When the
// response arrives, then is called with its single result, synchronously and
// without c.μ held. The caller must ensure c is not closed.
func (c *Conn) managerSendLocked(setting uint32, arg *data.Data, then func(*data.Data, error)) {
	connMetrics.lookups.Inc()
	p := newPending(c, nil)
	p.then = func(rsp []*data.Data, err error) {
		if err == nil && len(rsp) != 1 {
			err = fmt.Errorf("manager setting %d: got %d results, want 1", setting, len(rsp))
		}
		if err != nil {
			then(nil, err)
			return
		}
		then(rsp[0], nil)
	}
	c.startLocked(p, &Packet{
		Target:  ManagerID,
		Records: []Record{{ID: setting, Data: arg}},
	})
}

// roundTrip sends pkt as a request and waits for the result, requiring only
// that c be at least in state min.
func (c *Conn) roundTrip(ctx context.Context, min State, pkt *Packet) ([]*data.Data, error) {
	p := newPending(c, nil)
	c.μ.Lock()
	if err := c.readyLocked(min); err != nil {
		c.μ.Unlock()
		return nil, err
	}
	c.startLocked(p, pkt)
	c.μ.Unlock()
	return p.Wait(ctx)
}

// ExpireContext asks the manager to expire ctx on every server that has
// seen it.
func (c *Conn) ExpireContext(ctx context.Context, expire Context) error {
	_, err := c.Call(ctx, Request{
		Server: ManagerID,
		Records: []Record{{
			ID:   SettingExpireContext,
			Data: data.Cluster(data.Word(expire.High), data.Word(expire.Low)),
		}},
	})
	return err
}

// Login performs the login exchange with the manager. On success, c enters
// the Serving state. On failure, c is closed and Login reports a *LoginError;
// if the password was rejected the error wraps ErrIncorrectPassword.
func (c *Conn) Login(ctx context.Context, password string, id Identity) (err error) {
	c.μ.Lock()
	state := c.state
	c.μ.Unlock()
	if state != LoggingIn {
		return &LoginError{Stage: "ping", Err: fmt.Errorf("connection is %v", state)}
	}
	defer func() {
		if err != nil {
			c.fail(err)
		}
	}()

	send := func(stage string, recs ...Record) (*data.Data, error) {
		rsp, err := c.roundTrip(ctx, LoggingIn, &Packet{Target: ManagerID, Records: recs})
		if err != nil {
			return nil, &LoginError{Stage: stage, Err: err}
		} else if len(rsp) != 1 {
			return nil, &LoginError{Stage: stage, Err: fmt.Errorf("got %d results, want 1", len(rsp))}
		}
		return rsp[0], nil
	}

	// Ping: an empty request, answered with a challenge string.
	challenge, err := send("ping")
	if err != nil {
		return err
	} else if challenge.Kind() != types.KindString {
		return &LoginError{Stage: "ping", Err: fmt.Errorf("unexpected challenge type %q", challenge.Type())}
	}

	// Password: the MD5 digest of the challenge and the password.
	h := md5.New()
	h.Write(challenge.Bytes())
	h.Write([]byte(password))
	welcome, err := send("password", Record{Data: data.Bytes(h.Sum(nil))})
	if err != nil {
		var rerr *RemoteError
		if errors.As(err, &rerr) {
			return &LoginError{Stage: "password", Err: ErrIncorrectPassword}
		}
		return err
	} else if welcome.Kind() != types.KindString {
		return &LoginError{Stage: "password", Err: fmt.Errorf("unexpected welcome type %q", welcome.Type())}
	}

	// Identification: the protocol version and name, plus the description and
	// notes for a server.
	ident := []*data.Data{data.Word(ProtocolVersion), data.Str(id.Name)}
	if id.Server {
		ident = append(ident, data.Str(id.Description), data.Str(id.Notes))
	}
	sid, err := send("identify", Record{Data: data.Cluster(ident...)})
	if err != nil {
		return err
	} else if sid.Kind() != types.KindWord {
		return &LoginError{Stage: "identify", Err: fmt.Errorf("unexpected ID type %q", sid.Type())}
	}

	c.μ.Lock()
	defer c.μ.Unlock()
	if c.state != LoggingIn {
		return &LoginError{Stage: "identify", Err: c.err}
	}
	c.id = sid.Word()
	c.welcome = welcome.Str()
	c.state = Serving
	c.log.Debug().Uint32("id", c.id).Str("name", id.Name).Msg("logged in")
	return nil
}

// dispatch routes an inbound packet.
func (c *Conn) dispatch(pkt *Packet) {
	c.logPacket(pkt, false)
	switch {
	case pkt.Request < 0:
		c.resolve(-pkt.Request, pkt.Records, nil)

	case pkt.Request == 0:
		c.deliver(pkt)

	default:
		connMetrics.requestIn.Inc()
		c.μ.Lock()
		h, state := c.handler, c.state
		c.μ.Unlock()
		if state == Closed {
			return
		} else if h == nil {
			c.SendPacket(pkt.Reply(Record{
				ID:   firstID(pkt.Records),
				Data: data.Error(0, "no handler for requests on this connection", nil),
			}))
			return
		}
		h(c, pkt)
	}
}

func firstID(recs []Record) uint32 {
	if len(recs) == 0 {
		return 0
	}
	return recs[0].ID
}

// dropInvalid handles a packet whose records could not be decoded. A
// response fails its pending request; anything else is dropped.
func (c *Conn) dropInvalid(perr *ProtocolError) {
	connMetrics.packetDropped.Inc()
	c.μ.Lock()
	log := c.log
	c.μ.Unlock()
	log.Warn().Err(perr).Msg("dropped invalid packet")
	if pkt := perr.Packet; pkt != nil && pkt.Request < 0 {
		c.resolve(-pkt.Request, nil, perr)
	}
}

// resolve completes the pending request with number n.
func (c *Conn) resolve(n int32, recs []Record, err error) {
	c.μ.Lock()
	p, ok := c.pending[n]
	if ok {
		delete(c.pending, n)
		c.free = append(c.free, n)
	}
	log := c.log
	c.μ.Unlock()

	if !ok {
		connMetrics.packetDropped.Inc()
		log.Warn().Int32("request", n).Msg("dropped response to unknown request")
		return
	} else if p == nil {
		log.Debug().Int32("request", n).Msg("late response to canceled request")
		return
	}
	connMetrics.requestPending.Dec()
	if err != nil {
		p.complete(nil, err)
		return
	}
	out := make([]*data.Data, len(recs))
	for i, r := range recs {
		if r.Data.IsError() {
			p.complete(nil, remoteError(r.ID, r.Data))
			return
		}
		out[i] = r.Data
	}
	p.complete(out, nil)
}

// deliver hands the records of a message packet to matching listeners.
func (c *Conn) deliver(pkt *Packet) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.state == Closed {
		return
	}
	ids := make([]ListenerID, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids) // registration order
	for _, r := range pkt.Records {
		msg := Message{Context: pkt.Context, Source: pkt.Target, ID: r.ID, Data: r.Data}
		for _, id := range ids {
			if l := c.listeners[id]; l.msgID == 0 || l.msgID == r.ID {
				connMetrics.messageIn.Inc()
				c.lane.Go(func() {
					if c.State() != Closed {
						l.f(msg)
					}
				})
			}
		}
	}
}

// A Pending is an outbound request awaiting its result. A Pending completes
// exactly once: with the response, an error, cancellation, or the closure of
// its connection.
type Pending struct {
	c    *Conn
	done chan struct{}
	once sync.Once
	cb   func([]*data.Data, error)

	number   int32 // guarded by c.μ; 0 until sent
	canceled bool  // guarded by c.μ

	// If set, then is called synchronously when p completes. It is used for
	// internal requests whose completion drives further work.
	then func([]*data.Data, error)

	result []*data.Data
	err    error
}

func newPending(c *Conn, cb func([]*data.Data, error)) *Pending {
	return &Pending{c: c, done: make(chan struct{}), cb: cb}
}

// Done returns a channel that is closed when p completes.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until p completes or ctx ends, and returns its result. If ctx
// ends first, p is canceled.
func (p *Pending) Wait(ctx context.Context) ([]*data.Data, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.cancel(ctx.Err())
		<-p.done
	}
	return p.result, p.err
}

// Cancel cancels p if it has not already completed. A canceled request
// reports ErrCanceled. Its request number is not reused until the remote
// response arrives or the connection closes.
func (p *Pending) Cancel() { p.cancel(nil) }

func (p *Pending) cancel(cause error) {
	c := p.c
	c.μ.Lock()
	p.canceled = true
	if n := p.number; n != 0 && c.pending[n] == p {
		c.pending[n] = nil // pin the number
		connMetrics.requestPending.Dec()
	}
	c.μ.Unlock()
	p.complete(nil, canceled(cause))
}

func (p *Pending) complete(result []*data.Data, err error) {
	p.once.Do(func() {
		p.result, p.err = result, err
		close(p.done)
		if err != nil {
			connMetrics.requestOutErr.Inc()
		}
		if p.then != nil {
			p.then(result, err)
		}
		if p.cb != nil {
			cb := p.cb
			if !p.c.pool.Go(func() { cb(result, err) }) {
				go cb(result, err)
			}
		}
	})
}
