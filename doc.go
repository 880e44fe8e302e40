// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package labrad implements a client and server endpoint for the LabRAD
// distributed control protocol.
//
// LabRAD connects servers and clients through a central manager. Every
// endpoint holds one connection to the manager, over which it exchanges
// binary packets. Each packet carries a context, a target, a request number,
// and a list of records. Each record holds a setting ID and a typed value.
// The data and types packages define the value model and its wire encoding.
//
// # Connections
//
// The core type defined by this package is the [Conn]. A Conn multiplexes
// concurrent outbound requests, inbound requests, and messages over a single
// [Channel].
//
// To create and connect a new Conn:
//
//	c := labrad.NewConn()
//	if err := c.Connect(ctx, channel.Dial("localhost:7682")); err != nil {
//	   log.Fatalf("Connect: %v", err)
//	}
//
// Alternatively, call [Conn.Start] with a channel that is already connected.
// Before sending requests, the connection must log in to the manager:
//
//	if err := c.Login(ctx, password, labrad.Identity{Name: "my client"}); err != nil {
//	   log.Fatalf("Login: %v", err)
//	}
//
// A Conn runs until [Conn.Close] is called, the channel is closed by the
// remote endpoint, or a transport error occurs. Call [Conn.Wait] to wait for
// it to exit and report its status.
//
// # Channels
//
// The [Channel] interface defines the ability to send and receive packets. A
// Channel implementation must allow concurrent use by one sender and one
// receiver. The channel package provides some basic implementations.
//
// # Requests
//
// To issue a request, use [Conn.Call] or [Conn.Send]. Servers and settings
// may be named by ID or by name; names are looked up with the manager and
// cached for the life of the connection:
//
//	rsp, err := c.Call(ctx, labrad.Request{
//	   ServerName: "Python Server",
//	   Records:    []labrad.Record{{Name: "echo", Data: data.Str("hi")}},
//	})
//
// Call returns one result per record. If the remote server answers any
// record with an error, Call reports a [*RemoteError]. Send does not block,
// and returns a [*Pending] that can be waited for or canceled.
//
// Each request is assigned a request number unique among the outstanding
// requests of its connection. Numbers are reused after their response
// arrives. A canceled request keeps its number until the late response
// arrives, so that it cannot be matched to a newer request.
//
// # Messages
//
// A packet with request number 0 is a message. Messages are not answered.
// Use [Conn.AddListener] to receive them:
//
//	id := c.AddListener(1234, func(m labrad.Message) {
//	   log.Printf("message from %d: %v", m.Source, m.Data)
//	})
//
// # Inbound Requests
//
// A connection logged in as a server receives requests from the manager on
// behalf of clients. Install a [RequestHandler] with [Conn.Handle]. The
// server package provides a complete request handler that executes settings
// in per-context order.
//
// # Metrics
//
// Connections maintain a collection of Prometheus metrics while running,
// shared globally among all connections. Call [RegisterMetrics] to register
// them with a registry. The metrics exported include:
//
//   - labrad_conn_packets_received_total: packets received
//   - labrad_conn_packets_sent_total: packets sent
//   - labrad_conn_packets_dropped_total: packets received and discarded
//   - labrad_conn_requests_out_total: outbound requests sent
//   - labrad_conn_requests_out_failed_total: outbound requests resulting in errors
//   - labrad_conn_requests_pending: outbound requests awaiting a response
//   - labrad_conn_requests_in_total: inbound requests received
//   - labrad_conn_messages_in_total: message records delivered to listeners
//   - labrad_conn_lookups_total: calls to manager settings
package labrad
