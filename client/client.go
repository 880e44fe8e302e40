// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package client connects to a LabRAD manager and makes calls to servers by
// name.
//
// Example:
//
//	cfg, err := config.Load("")
//	...
//	cli, err := client.Connect(ctx, cfg, nil)
//	...
//	defer cli.Close()
//	rsp, err := cli.Call(ctx, "Python Test Server", "echo", data.Str("hello"))
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/catalog"
	"github.com/creachadair/labrad/channel"
	"github.com/creachadair/labrad/config"
	"github.com/creachadair/labrad/data"
	"github.com/rs/zerolog"
)

// Options are optional settings for Connect. A nil *Options is ready for use
// and provides default values.
type Options struct {
	// Dial, if set, opens the channel to the manager. By default, Connect
	// dials the TCP address of the config.
	Dial func(context.Context) (labrad.Channel, error)

	// Logger, if set, is the logger for the connection.
	Logger *zerolog.Logger

	// Workers, if positive, limits the worker pool of the connection.
	Workers int
}

func (o *Options) dial(cfg config.Config) func(context.Context) (labrad.Channel, error) {
	if o == nil || o.Dial == nil {
		return channel.Dial(cfg.Addr())
	}
	return o.Dial
}

// A Client is a logged-in client connection to a manager.
type Client struct {
	*labrad.Conn
}

// Connect dials the manager described by cfg and logs in as a client with
// the configured name and password. If cfg.Timeout > 0 it bounds the dial and
// login.
func Connect(ctx context.Context, cfg config.Config, opts *Options) (*Client, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	conn := labrad.NewConn()
	if opts != nil {
		if opts.Logger != nil {
			conn.SetLogger(*opts.Logger)
		}
		if opts.Workers > 0 {
			conn.SetWorkers(opts.Workers)
		}
	}
	if err := conn.Connect(ctx, opts.dial(cfg)); err != nil {
		conn.Wait()
		return nil, fmt.Errorf("connect %s: %w", cfg.Addr(), err)
	}
	if err := conn.Login(ctx, cfg.Password, labrad.Identity{Name: cfg.Name}); err != nil {
		conn.Wait()
		return nil, err
	}
	return &Client{Conn: conn}, nil
}

// Close closes the connection and waits for it to exit.
func (c *Client) Close() error {
	c.Conn.Close()
	return c.Conn.Wait()
}

// Call invokes the named setting of the named server with arg in the default
// context, and returns its result.
func (c *Client) Call(ctx context.Context, server, setting string, arg *data.Data) (*data.Data, error) {
	return c.CallContext(ctx, labrad.Context{}, server, setting, arg)
}

// CallContext is as Call, but runs the request in the given context.
func (c *Client) CallContext(ctx context.Context, rctx labrad.Context, server, setting string, arg *data.Data) (*data.Data, error) {
	if arg == nil {
		arg = data.Empty()
	}
	rsp, err := c.Conn.Call(ctx, labrad.Request{
		ServerName: server,
		Context:    rctx,
		Records:    []labrad.Record{{Name: setting, Data: arg}},
	})
	if err != nil {
		return nil, err
	}
	return single(rsp, setting)
}

// single returns the only result of a one-record request.
func single(rsp []*data.Data, setting any) (*data.Data, error) {
	if len(rsp) != 1 {
		return nil, fmt.Errorf("setting %v: got %d results, want 1", setting, len(rsp))
	}
	return rsp[0], nil
}

// Ping sends an empty request to the manager and reports the round-trip
// time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.Conn.Call(ctx, labrad.Request{Server: labrad.ManagerID}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Servers lists the servers known to the manager, ordered by ID.
func (c *Client) Servers(ctx context.Context) ([]catalog.Entry, error) {
	return c.list(ctx, labrad.SettingServers, data.Empty())
}

// Settings lists the settings of the named server, ordered by ID.
func (c *Client) Settings(ctx context.Context, server string) ([]catalog.Entry, error) {
	return c.list(ctx, labrad.SettingSettings, data.Str(server))
}

func (c *Client) list(ctx context.Context, setting uint32, arg *data.Data) ([]catalog.Entry, error) {
	rsp, err := c.Conn.Call(ctx, labrad.Request{
		Server:  labrad.ManagerID,
		Records: []labrad.Record{{ID: setting, Data: arg}},
	})
	if err != nil {
		return nil, err
	}
	v, err := single(rsp, setting)
	if err != nil {
		return nil, err
	}
	return catalog.Decode(v)
}
