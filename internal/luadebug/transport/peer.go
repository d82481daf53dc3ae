package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/stefan/lua-dap/internal/syncx"
)

// Role identifies which of the two debuggee connections a peer occupies.
type Role int

const (
	// RoleSupport carries print, reload, dialog and lifecycle traffic.
	RoleSupport Role = iota
	// RoleDebug carries breakpoints, stepping and variable inspection.
	RoleDebug
)

func (r Role) String() string {
	switch r {
	case RoleSupport:
		return "support"
	case RoleDebug:
		return "debug"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func (r Role) other() Role {
	if r == RoleSupport {
		return RoleDebug
	}
	return RoleSupport
}

// Peer is one accepted debuggee connection framed as newline-delimited JSON.
type Peer struct {
	id   string
	role Role

	mu            syncx.Mutex
	conn          net.Conn
	rd            *bufio.Reader
	trafficLogger TrafficLogger

	closeOnce syncx.Once
}

func newPeer(conn net.Conn, role Role, logger TrafficLogger) *Peer {
	return &Peer{
		id:            uuid.NewString(),
		role:          role,
		conn:          conn,
		rd:            bufio.NewReader(conn),
		trafficLogger: logger,
	}
}

// ID returns the peer's unique identifier.
func (p *Peer) ID() string {
	return p.id
}

// Role returns the role assigned at accept time.
func (p *Peer) Role() Role {
	return p.role
}

// WritePayload writes one payload followed by a single newline.
func (p *Peer) WritePayload(payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := io.WriteString(p.conn, payload+"\n"); err != nil {
		return fmt.Errorf("write %s payload: %w", p.role, err)
	}
	if p.trafficLogger != nil {
		p.trafficLogger.LogTraffic(DirectionOutbound, p.role, payload)
	}
	return nil
}

// ReadPayload reads one line with the trailing CR/LF removed. Blank lines are skipped.
func (p *Peer) ReadPayload() (string, error) {
	for {
		line, err := p.rd.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if err != nil {
			if err == io.EOF && trimmed != "" {
				return p.logInbound(trimmed), nil
			}
			return "", err
		}
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		return p.logInbound(trimmed), nil
	}
}

func (p *Peer) logInbound(payload string) string {
	if p.trafficLogger != nil {
		p.trafficLogger.LogTraffic(DirectionInbound, p.role, payload)
	}
	return payload
}

func (p *Peer) close() error {
	return p.conn.Close()
}
