package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/stefan/lua-dap/internal/luadebug/protocol"
	"github.com/stefan/lua-dap/internal/syncx"
)

var (
	// ErrNoPeer indicates no connection currently occupies the requested role.
	ErrNoPeer = errors.New("no peer connected for role")
	// ErrServerClosed indicates the server has been shut down.
	ErrServerClosed = errors.New("transport server closed")
)

// EventKind classifies transport events.
type EventKind int

const (
	// EventConnected is delivered when a peer takes a role.
	EventConnected EventKind = iota
	// EventPayload is delivered for every decoded inbound line.
	EventPayload
	// EventClosed is delivered exactly once per peer, including replaced peers.
	EventClosed
)

// Event is one transport notification.
type Event struct {
	Kind    EventKind
	Role    Role
	PeerID  string
	Payload protocol.DecodedPayload
	Err     error
}

// Handler receives transport events. It is called from transport goroutines
// and must not block for long.
type Handler func(Event)

// Server accepts debuggee connections and assigns them the support and debug
// roles in strict alternation, starting with support.
type Server struct {
	codec   *protocol.Codec
	handler Handler

	mu            syncx.Mutex
	ln            net.Listener
	peers         [2]*Peer
	nextRole      Role
	trafficLogger TrafficLogger
	closed        bool
	wg            syncx.WaitGroup
}

// NewServer creates a transport server delivering events to handler.
func NewServer(handler Handler, codec *protocol.Codec) *Server {
	if codec == nil {
		codec = protocol.NewCodec()
	}
	if handler == nil {
		handler = func(Event) {}
	}
	return &Server{
		codec:    codec,
		handler:  handler,
		nextRole: RoleSupport,
	}
}

// SetTrafficLogger enables structured inbound/outbound payload logging for new peers.
func (s *Server) SetTrafficLogger(logger TrafficLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trafficLogger = logger
}

// Listen binds addr and starts accepting connections in the background.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil, ErrServerClosed
	}
	s.ln = ln
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return ln.Addr(), nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("debuggee accept failed")
			}
			return
		}
		s.attach(conn)
	}
}

func (s *Server) attach(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	role := s.nextRole
	s.nextRole = role.other()
	peer := newPeer(conn, role, s.trafficLogger)
	prev := s.peers[role]
	s.peers[role] = peer
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		s.closePeer(prev, nil)
	}

	log.Debug().
		Str("role", role.String()).
		Str("peer", peer.ID()).
		Str("remote", conn.RemoteAddr().String()).
		Msg("debuggee connected")
	s.handler(Event{Kind: EventConnected, Role: role, PeerID: peer.ID()})

	go func() {
		defer s.wg.Done()
		s.readLoop(peer)
	}()
}

func (s *Server) readLoop(peer *Peer) {
	for {
		line, err := peer.ReadPayload()
		if err != nil {
			s.closePeer(peer, err)
			return
		}
		decoded, err := s.codec.DecodePayload(line)
		if err != nil || decoded.Kind != protocol.KindCommand {
			log.Debug().Str("role", peer.Role().String()).Str("line", line).Msg("ignoring non-command line")
			continue
		}
		s.handler(Event{Kind: EventPayload, Role: peer.Role(), PeerID: peer.ID(), Payload: decoded})
	}
}

// closePeer closes the connection, vacates its slot if still current and
// delivers the Closed event once.
func (s *Server) closePeer(peer *Peer, cause error) {
	peer.closeOnce.Do(func() {
		_ = peer.close()

		s.mu.Lock()
		if s.peers[peer.Role()] == peer {
			s.peers[peer.Role()] = nil
		}
		s.mu.Unlock()

		log.Debug().
			Str("role", peer.Role().String()).
			Str("peer", peer.ID()).
			AnErr("cause", cause).
			Msg("debuggee disconnected")
		s.handler(Event{Kind: EventClosed, Role: peer.Role(), PeerID: peer.ID(), Err: cause})
	})
}

// Connected reports whether a peer currently occupies role.
func (s *Server) Connected(role Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[role] != nil
}

// Send encodes and writes one command to the peer holding role.
func (s *Server) Send(role Role, command string, args any) error {
	s.mu.Lock()
	peer := s.peers[role]
	s.mu.Unlock()

	if peer == nil {
		return fmt.Errorf("send %s to %s: %w", command, role, ErrNoPeer)
	}
	payload, err := s.codec.EncodeCommand(command, args)
	if err != nil {
		return fmt.Errorf("encode %s: %w", command, err)
	}
	return peer.WritePayload(payload)
}

// Drop closes the peer holding role, if any.
func (s *Server) Drop(role Role) {
	s.mu.Lock()
	peer := s.peers[role]
	s.mu.Unlock()

	if peer != nil {
		s.closePeer(peer, nil)
	}
}

// Close stops accepting, closes both peers and waits for transport goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	peers := s.peers
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, peer := range peers {
		if peer != nil {
			s.closePeer(peer, nil)
		}
	}
	s.wg.Wait()
	return err
}
