// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package server implements the server role of a LabRAD connection.
//
// A server logs in to the manager, registers the settings of a
// [dispatch.Registry], and then serves requests routed to it by the manager.
// Requests are executed by an [Executor], which serves the requests of each
// context in order. When the manager reports that a context has expired, the
// session for that context is expired.
package server

import (
	"context"
	"fmt"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/dispatch"
	"github.com/creachadair/labrad/types"
	"github.com/rs/zerolog"
)

// DefaultExpireMessageID is the message ID used for context expiration
// notifications if Info.ExpireMessageID is zero.
const DefaultExpireMessageID = 0x1e5ce

// Info describes a server.
type Info struct {
	Name        string
	Description string
	Notes       string

	// The message ID the manager uses to report expired contexts.
	ExpireMessageID uint32
}

// Identity returns the login identity for the server.
func (i Info) Identity() labrad.Identity {
	return labrad.Identity{Name: i.Name, Description: i.Description, Notes: i.Notes, Server: true}
}

// A Server serves the settings of a registry on a connection.
type Server struct {
	info       Info
	reg        *dispatch.Registry
	newSession SessionFunc
	log        zerolog.Logger
}

// New constructs a server with the given info and settings. If newSession !=
// nil, it is used to construct the session for each request context.
func New(info Info, reg *dispatch.Registry, newSession SessionFunc) *Server {
	if info.ExpireMessageID == 0 {
		info.ExpireMessageID = DefaultExpireMessageID
	}
	return &Server{info: info, reg: reg, newSession: newSession, log: zerolog.Nop()}
}

// SetLogger sets the logger used by s, and returns s to permit chaining.
func (s *Server) SetLogger(log zerolog.Logger) *Server { s.log = log; return s }

// Info returns the info for s.
func (s *Server) Info() Info { return s.info }

var (
	expireOne = types.MustParse("(ww)")
	expireAll = types.Word
)

// Serve serves requests on c, which must be logged in with the identity of s.
// It registers the settings of s with the manager, subscribes to context
// expiration, and signals that the server is ready. It then serves requests
// until c closes or ctx ends, and closes c before returning.
//
// Serve reports nil if c was closed normally or ctx ended.
func (s *Server) Serve(ctx context.Context, c *labrad.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exec := NewExecutor(ctx, c, s.reg, s.newSession).SetLogger(s.log)
	c.Handle(exec.Handle)
	lid := c.AddListener(s.info.ExpireMessageID, func(m labrad.Message) {
		switch {
		case types.Matches(expireOne, m.Data.Type()):
			exec.Expire(labrad.Context{High: m.Data.Get(0).Word(), Low: m.Data.Get(1).Word()})
		case m.Data.Kind() == expireAll.Kind():
			exec.ExpireAll(m.Data.Word())
		default:
			s.log.Warn().Stringer("data", m.Data).Msg("invalid expiration message")
		}
	})
	defer c.RemoveListener(lid)

	if err := s.register(ctx, c); err != nil {
		c.Close()
		c.Wait()
		return err
	}
	s.log.Info().Str("server", s.info.Name).Uint32("id", c.ID()).Msg("serving")

	select {
	case <-ctx.Done():
		c.Close()
	case <-c.Done():
	}
	return c.Wait()
}

// register announces the settings of s to the manager.
func (s *Server) register(ctx context.Context, c *labrad.Conn) error {
	call := func(setting uint32, arg *data.Data) error {
		_, err := c.Call(ctx, labrad.Request{
			Server:  labrad.ManagerID,
			Records: []labrad.Record{{ID: setting, Data: arg}},
		})
		return err
	}
	for _, info := range s.reg.Settings() {
		if err := call(labrad.SettingRegisterSetting, info.Data()); err != nil {
			return fmt.Errorf("register setting %d %q: %w", info.ID, info.Name, err)
		}
	}
	sub := data.Cluster(data.Word(s.info.ExpireMessageID), data.Bool(true))
	if err := call(labrad.SettingNotifyOnContextExpiration, sub); err != nil {
		return fmt.Errorf("subscribe to context expiration: %w", err)
	}
	if err := call(labrad.SettingStartServing, data.Empty()); err != nil {
		return fmt.Errorf("start serving: %w", err)
	}
	return nil
}
