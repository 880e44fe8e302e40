// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package manager

import (
	"sync"

	"github.com/creachadair/labrad"
	"github.com/creachadair/mds/queue"
)

type stage int

const (
	stagePing stage = iota
	stagePassword
	stageIdentify
	stageServing
)

// A route records the origin of a request forwarded to a server.
type route struct {
	client  uint32         // ID of the requesting session
	request int32          // request number used by the client
	ctx     labrad.Context // context as sent by the client
}

// A session is the manager state for one connection.
type session struct {
	ch   labrad.Channel
	out  *queue.Queue[*labrad.Packet] // guarded by outμ
	outμ sync.Mutex
	wake chan struct{}
	done chan struct{}
	once sync.Once

	// Owned by the reader of the session until login completes.
	stage     stage
	challenge []byte

	// Guarded by the manager lock once the session is registered.
	id       uint32
	name     string
	server   bool
	serving  bool
	nextFwd  int32
	forwards map[int32]route
}

func newSession(ch labrad.Channel) *session {
	return &session{
		ch:       ch,
		out:      queue.New[*labrad.Packet](),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		forwards: make(map[int32]route),
	}
}

// send enqueues pkt to be sent to the remote endpoint of s. It does not
// block, and discards pkt if s is closed.
func (s *session) send(pkt *labrad.Packet) {
	select {
	case <-s.done:
		return
	default:
	}
	s.outμ.Lock()
	s.out.Add(pkt)
	s.outμ.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// writer sends queued packets in order until s closes or a send fails.
func (s *session) writer() error {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return nil
		}
		for {
			s.outμ.Lock()
			pkt, ok := s.out.Pop()
			s.outμ.Unlock()
			if !ok {
				break
			}
			if err := s.ch.Send(pkt); err != nil {
				s.close()
				return nil
			}
			managerMetrics.packetsOut.Inc()
		}
	}
}

// close closes the channel of s and stops its writer.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.ch.Close()
	})
}
