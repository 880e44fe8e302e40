// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package manager implements a minimal LabRAD manager.
//
// The manager authenticates connections with a password challenge, assigns
// each connection an ID, keeps a directory of servers and their settings,
// answers name lookups, and routes requests, responses, and messages
// between connections. When a client disconnects or expires a context, the
// manager notifies the servers that subscribed to context expiration.
//
// To run a manager on a TCP listener:
//
//	m := manager.New(manager.Config{Password: "secret"})
//	err := m.Serve(ctx, peers.NetAccepter(lst))
package manager

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/catalog"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/peers"
	"github.com/creachadair/labrad/types"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// Name is the directory name of the manager itself.
const Name = "Manager"

// Config carries the settings for a manager.
type Config struct {
	Password string // the login password; may be empty
	Welcome  string // the welcome message sent at login
}

// A Manager brokers connections between LabRAD clients and servers.
type Manager struct {
	password string
	welcome  string
	log      zerolog.Logger

	μ        sync.Mutex
	nextID   uint32
	sessions map[uint32]*session
	cat      *catalog.Catalog  // server directory
	subs     map[uint32]uint32 // server ID → expiration message ID
}

// New constructs a manager with the given configuration.
func New(cfg Config) *Manager {
	if cfg.Welcome == "" {
		cfg.Welcome = "Welcome to LabRAD."
	}
	m := &Manager{
		password: cfg.Password,
		welcome:  cfg.Welcome,
		log:      zerolog.Nop(),
		nextID:   labrad.ManagerID + 1,
		sessions: make(map[uint32]*session),
		cat:      catalog.New(),
		subs:     make(map[uint32]uint32),
	}
	m.cat.SetServer(Name, labrad.ManagerID)
	for _, s := range builtins {
		m.cat.SetSetting(labrad.ManagerID, s.name, s.id)
	}
	return m
}

// SetLogger sets the logger used by m, and returns m to permit chaining.
func (m *Manager) SetLogger(log zerolog.Logger) *Manager { m.log = log; return m }

// Serve accepts connections from acc and serves each of them until acc
// closes or ctx ends.
func (m *Manager) Serve(ctx context.Context, acc peers.Accepter) error {
	m.log.Info().Msg("manager started")
	defer m.log.Info().Msg("manager stopped")
	return peers.Loop(ctx, acc, m.ServeChannel)
}

// ServeChannel serves a single connection on ch until ch closes or ctx ends.
func (m *Manager) ServeChannel(ctx context.Context, ch labrad.Channel) error {
	s := newSession(ch)
	managerMetrics.sessions.Inc()
	defer managerMetrics.sessions.Dec()

	g := taskgroup.New(nil)
	g.Go(s.writer)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.close()
		case <-s.done:
		}
		return nil
	})
	for {
		pkt, err := ch.Recv()
		if err != nil {
			var perr *labrad.ProtocolError
			if errors.As(err, &perr) {
				m.log.Warn().Err(err).Uint32("session", s.id).Msg("dropped invalid packet")
				continue
			}
			break
		}
		managerMetrics.packetsIn.Inc()
		m.handle(s, pkt)
	}
	s.close()
	g.Wait()
	m.drop(s)
	return nil
}

func (m *Manager) handle(s *session, pkt *labrad.Packet) {
	switch {
	case s.stage != stageServing:
		m.login(s, pkt)
	case pkt.IsRequest() && pkt.Target == labrad.ManagerID:
		m.serveManager(s, pkt)
	case pkt.IsRequest():
		m.forward(s, pkt)
	case pkt.IsResponse():
		m.respond(s, pkt)
	case pkt.Target != labrad.ManagerID:
		m.message(s, pkt)
	}
}

func errorReply(pkt *labrad.Packet, code int32, msg string) *labrad.Packet {
	var id uint32
	if len(pkt.Records) != 0 {
		id = pkt.Records[0].ID
	}
	return pkt.Reply(labrad.Record{ID: id, Data: data.Error(code, msg, nil)})
}

// login advances the login exchange for s.
func (m *Manager) login(s *session, pkt *labrad.Packet) {
	if !pkt.IsRequest() || pkt.Target != labrad.ManagerID {
		m.log.Debug().Stringer("packet", pkt).Msg("dropped packet before login")
		return
	}
	switch s.stage {
	case stagePing:
		if len(pkt.Records) != 0 {
			s.send(errorReply(pkt, 1, "login: expected an empty request"))
			return
		}
		s.challenge = make([]byte, 16)
		rand.Read(s.challenge)
		s.stage = stagePassword
		s.send(pkt.Reply(labrad.Record{Data: data.Bytes(s.challenge)}))

	case stagePassword:
		if len(pkt.Records) != 1 || pkt.Records[0].Data.Kind() != types.KindString {
			s.send(errorReply(pkt, 1, "login: expected a password digest"))
			return
		}
		h := md5.New()
		h.Write(s.challenge)
		h.Write([]byte(m.password))
		if subtle.ConstantTimeCompare(h.Sum(nil), pkt.Records[0].Data.Bytes()) != 1 {
			managerMetrics.logins.WithLabelValues("incorrect_password").Inc()
			s.send(errorReply(pkt, 2, "incorrect password"))
			return
		}
		s.stage = stageIdentify
		s.send(pkt.Reply(labrad.Record{Data: data.Str(m.welcome)}))

	case stageIdentify:
		var d *data.Data
		if len(pkt.Records) == 1 {
			d = pkt.Records[0].Data
		}
		if d == nil || d.Kind() != types.KindCluster || d.Len() < 2 ||
			d.Get(0).Kind() != types.KindWord || d.Get(1).Kind() != types.KindString {
			s.send(errorReply(pkt, 1, "login: invalid identification"))
			return
		}
		if v := d.Get(0).Word(); v != labrad.ProtocolVersion {
			s.send(errorReply(pkt, 3, "login: unsupported protocol version"))
			return
		}
		name := d.Get(1).Str()
		server := d.Len() == 4

		m.μ.Lock()
		if server {
			if _, ok := m.cat.Server(name); ok {
				m.μ.Unlock()
				s.send(errorReply(pkt, 4, "login: server name "+name+" is already in use"))
				return
			}
		}
		s.id = m.nextID
		m.nextID++
		s.name, s.server = name, server
		s.stage = stageServing
		m.sessions[s.id] = s
		if server {
			m.cat.SetServer(name, s.id)
		}
		m.μ.Unlock()

		managerMetrics.logins.WithLabelValues("ok").Inc()
		m.log.Info().Uint32("id", s.id).Str("name", name).Bool("server", server).Msg("login")
		s.send(pkt.Reply(labrad.Record{Data: data.Word(s.id)}))
	}
}

// absolute returns ctx with a zero high word replaced by the ID of s.
func absolute(s *session, ctx labrad.Context) labrad.Context {
	if ctx.High == 0 {
		ctx.High = s.id
	}
	return ctx
}

// forward sends a request from s to its target server.
func (m *Manager) forward(s *session, pkt *labrad.Packet) {
	m.μ.Lock()
	dst, ok := m.sessions[pkt.Target]
	if !ok || !dst.server || !dst.serving {
		m.μ.Unlock()
		managerMetrics.undeliverable.Inc()
		s.send(errorReply(pkt, 5, "unknown server"))
		return
	}
	dst.nextFwd++
	n := dst.nextFwd
	dst.forwards[n] = route{client: s.id, request: pkt.Request, ctx: pkt.Context}
	m.μ.Unlock()

	managerMetrics.forwarded.Inc()
	dst.send(&labrad.Packet{
		Context: absolute(s, pkt.Context),
		Target:  s.id,
		Request: n,
		Records: pkt.Records,
	})
}

// respond routes a response from server s back to the requesting client.
func (m *Manager) respond(s *session, pkt *labrad.Packet) {
	m.μ.Lock()
	r, ok := s.forwards[-pkt.Request]
	delete(s.forwards, -pkt.Request)
	dst := m.sessions[r.client]
	m.μ.Unlock()
	if !ok || dst == nil {
		managerMetrics.undeliverable.Inc()
		m.log.Debug().Uint32("server", s.id).Int32("request", pkt.Request).Msg("dropped undeliverable response")
		return
	}
	dst.send(&labrad.Packet{
		Context: r.ctx,
		Target:  s.id,
		Request: -r.request,
		Records: pkt.Records,
	})
}

// message delivers a message from s to its target, with s as the source.
func (m *Manager) message(s *session, pkt *labrad.Packet) {
	m.μ.Lock()
	dst := m.sessions[pkt.Target]
	m.μ.Unlock()
	if dst == nil {
		managerMetrics.undeliverable.Inc()
		return
	}
	dst.send(&labrad.Packet{Context: absolute(s, pkt.Context), Target: s.id, Records: pkt.Records})
}

// notifyExpired sends an expiration message carrying d to each subscribed
// server.
func (m *Manager) notifyExpired(d *data.Data) {
	m.μ.Lock()
	defer m.μ.Unlock()
	for sid, msgID := range m.subs {
		if dst := m.sessions[sid]; dst != nil {
			dst.send(&labrad.Packet{
				Target:  labrad.ManagerID,
				Records: []labrad.Record{{ID: msgID, Data: d}},
			})
		}
	}
}

// drop discards the state of a closed session.
func (m *Manager) drop(s *session) {
	if s.stage != stageServing {
		return
	}
	m.μ.Lock()
	delete(m.sessions, s.id)
	var orphans []route
	if s.server {
		m.cat.Remove(s.id)
		delete(m.subs, s.id)
		for _, r := range s.forwards {
			orphans = append(orphans, r)
		}
		clear(s.forwards)
	}
	m.μ.Unlock()

	// Requests forwarded to a server that has gone away fail.
	for _, r := range orphans {
		m.μ.Lock()
		dst := m.sessions[r.client]
		m.μ.Unlock()
		if dst != nil {
			dst.send(&labrad.Packet{
				Context: r.ctx,
				Target:  s.id,
				Request: -r.request,
				Records: []labrad.Record{{Data: data.Error(6, "server "+s.name+" disconnected", nil)}},
			})
		}
	}
	m.log.Info().Uint32("id", s.id).Str("name", s.name).Msg("disconnected")
	m.notifyExpired(data.Word(s.id))
}
