package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stefan/lua-dap/internal/luadebug/protocol"
)

func TestServer_AssignsRolesInAcceptOrder(t *testing.T) {
	events := make(chan Event, 16)
	server := NewServer(func(ev Event) { events <- ev }, protocol.NewCodec())
	addr, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	support := dialPeer(t, addr)
	defer support.Close()
	first := waitForEvent(t, events, EventConnected)
	if first.Role != RoleSupport {
		t.Fatalf("expected first connection to be support, got %s", first.Role)
	}

	debug := dialPeer(t, addr)
	defer debug.Close()
	second := waitForEvent(t, events, EventConnected)
	if second.Role != RoleDebug {
		t.Fatalf("expected second connection to be debug, got %s", second.Role)
	}

	if !server.Connected(RoleSupport) || !server.Connected(RoleDebug) {
		t.Fatal("expected both roles to be connected")
	}
}

func TestServer_SendWritesNewlineDelimitedCommand(t *testing.T) {
	events := make(chan Event, 16)
	server := NewServer(func(ev Event) { events <- ev }, nil)
	addr, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	support := dialPeer(t, addr)
	defer support.Close()
	waitForEvent(t, events, EventConnected)

	if err := server.Send(RoleSupport, protocol.CommandInitialize, map[string]any{"port": 8818}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	_ = support.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(support).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var decoded struct {
		Command string         `json:"command"`
		Args    map[string]any `json:"args"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSuffix(line, "\n")), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded.Command != protocol.CommandInitialize || decoded.Args["port"] != float64(8818) {
		t.Fatalf("unexpected command: %#v", decoded)
	}
}

func TestServer_DeliversInboundPayloads(t *testing.T) {
	events := make(chan Event, 16)
	server := NewServer(func(ev Event) { events <- ev }, nil)
	addr, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	support := dialPeer(t, addr)
	defer support.Close()
	waitForEvent(t, events, EventConnected)

	if _, err := support.Write([]byte("not json\n\n{\"command\":\"printConsole\",\"args\":{\"msg\":\"hi\",\"type\":0}}\r\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ev := waitForEvent(t, events, EventPayload)
	if ev.Role != RoleSupport || ev.Payload.Command != protocol.CommandPrintConsole {
		t.Fatalf("unexpected payload event: %#v", ev)
	}
	args, ok := ev.Payload.Args.(protocol.MessageArgs)
	if !ok || args.Msg != "hi" {
		t.Fatalf("unexpected args: %#v", ev.Payload.Args)
	}
}

func TestServer_ReplacesOccupiedRoleAndClosesPriorPeer(t *testing.T) {
	events := make(chan Event, 32)
	server := NewServer(func(ev Event) { events <- ev }, nil)
	addr, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	oldSupport := dialPeer(t, addr)
	defer oldSupport.Close()
	oldEv := waitForEvent(t, events, EventConnected)
	debug := dialPeer(t, addr)
	defer debug.Close()
	waitForEvent(t, events, EventConnected)

	newSupport := dialPeer(t, addr)
	defer newSupport.Close()

	closed := waitForEvent(t, events, EventClosed)
	if closed.Role != RoleSupport || closed.PeerID != oldEv.PeerID {
		t.Fatalf("expected prior support peer to close first, got %#v", closed)
	}
	connected := waitForEvent(t, events, EventConnected)
	if connected.Role != RoleSupport || connected.PeerID == oldEv.PeerID {
		t.Fatalf("expected a new support peer, got %#v", connected)
	}

	_ = oldSupport.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := oldSupport.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected prior support connection to be closed")
	}
	if !server.Connected(RoleSupport) {
		t.Fatal("expected replacement support peer to remain connected")
	}
}

func TestServer_SendWithoutPeerFails(t *testing.T) {
	server := NewServer(nil, nil)
	err := server.Send(RoleDebug, protocol.CommandContinue, nil)
	if !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer, got %v", err)
	}
}

func TestServer_DropDeliversClosedOnce(t *testing.T) {
	events := make(chan Event, 16)
	server := NewServer(func(ev Event) { events <- ev }, nil)
	addr, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	conn := dialPeer(t, addr)
	defer conn.Close()
	waitForEvent(t, events, EventConnected)

	server.Drop(RoleSupport)
	server.Drop(RoleSupport)
	waitForEvent(t, events, EventClosed)

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	if server.Connected(RoleSupport) {
		t.Fatal("expected support slot to be empty after drop")
	}
}

func TestServer_LogsTrafficWhenEnabled(t *testing.T) {
	events := make(chan Event, 16)
	server := NewServer(func(ev Event) { events <- ev }, nil)
	logger := &capturingTrafficLogger{}
	server.SetTrafficLogger(logger)
	addr, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	conn := dialPeer(t, addr)
	defer conn.Close()
	waitForEvent(t, events, EventConnected)

	if err := server.Send(RoleSupport, protocol.CommandStop, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := conn.Write([]byte("{\"command\":\"resetStackInfo\"}\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitForEvent(t, events, EventPayload)

	entries := logger.snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected 2 traffic entries, got %#v", entries)
	}
	if entries[0].direction != DirectionOutbound || entries[1].direction != DirectionInbound {
		t.Fatalf("unexpected directions: %#v", entries)
	}
	if entries[1].role != RoleSupport || entries[1].payload != `{"command":"resetStackInfo"}` {
		t.Fatalf("unexpected inbound entry: %#v", entries[1])
	}
}

func TestJSONLTrafficLogger_WritesOneRecordPerLine(t *testing.T) {
	var sb strings.Builder
	logger := NewJSONLTrafficLogger(&sb)
	logger.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	logger.LogTraffic(DirectionInbound, RoleDebug, `{"command":"pause"}`)
	logger.LogTraffic(DirectionOutbound, RoleSupport, `{"command":"stop","args":""}`)

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", sb.String())
	}
	var entry TrafficLogEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSONL entry: %v", err)
	}
	if entry.Seq != 1 || entry.Role != "debug" || entry.Direction != DirectionInbound || entry.Payload != `{"command":"pause"}` {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if !entry.Timestamp.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", entry.Timestamp)
	}
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("invalid JSONL entry: %v", err)
	}
	if entry.Seq != 2 || entry.Role != "support" || entry.Direction != DirectionOutbound {
		t.Fatalf("unexpected entry: %#v", entry)
	}
}

func TestOpenTrafficLog_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "traffic.jsonl")
	out := OpenTrafficLog(path, 1, 1)
	logger := NewJSONLTrafficLogger(out)
	logger.LogTraffic(DirectionOutbound, RoleDebug, `{"command":"initialize","args":""}`)
	if err := out.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read traffic log: %v", err)
	}
	if !strings.Contains(string(data), `"direction":"outbound"`) {
		t.Fatalf("unexpected traffic log: %s", data)
	}
}

func TestAttachDialer_SendsStartDebugToFirstListeningPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	targetPort := ln.Addr().(*net.TCPAddr).Port

	lineCh := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		lineCh <- line
	}()

	dialer := NewAttachDialer("localhost", targetPort-1)
	dialer.local = func() string { return "10.0.0.7" }
	port, ok := dialer.Run(context.Background())
	if !ok || port != targetPort {
		t.Fatalf("expected startDebug on %d, got %d ok=%v", targetPort, port, ok)
	}

	select {
	case line := <-lineCh:
		var decoded struct {
			Command string                  `json:"command"`
			Args    protocol.StartDebugArgs `json:"args"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &decoded); err != nil {
			t.Fatalf("invalid startDebug line %q: %v", line, err)
		}
		if decoded.Command != protocol.CommandStartDebug || decoded.Args.Host != "10.0.0.7" || decoded.Args.Port != targetPort-1 {
			t.Fatalf("unexpected startDebug: %#v", decoded)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for startDebug")
	}
}

func TestAttachDialer_GivesUpAfterRange(t *testing.T) {
	var mu sync.Mutex
	var attempts []string
	dialer := NewAttachDialer("192.0.2.1", 8818)
	dialer.Range = 5
	dialer.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		mu.Lock()
		attempts = append(attempts, addr)
		mu.Unlock()
		return nil, errors.New("refused")
	}

	if _, ok := dialer.Run(context.Background()); ok {
		t.Fatal("expected dialing to fail")
	}
	if len(attempts) != 5 {
		t.Fatalf("expected 5 attempts, got %d", len(attempts))
	}
	if attempts[0] != net.JoinHostPort("192.0.2.1", strconv.Itoa(8819)) || attempts[4] != net.JoinHostPort("192.0.2.1", "8823") {
		t.Fatalf("unexpected attempt order: %#v", attempts)
	}
}

func TestAttachDialer_StopsWhenSupportConnected(t *testing.T) {
	calls := 0
	dialer := NewAttachDialer("127.0.0.1", 8818)
	dialer.Done = func() bool { return true }
	dialer.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		calls++
		return nil, errors.New("refused")
	}

	if _, ok := dialer.Run(context.Background()); ok {
		t.Fatal("expected no dial once support connected")
	}
	if calls != 0 {
		t.Fatalf("expected no dials, got %d", calls)
	}
}

func dialPeer(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func waitForEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
			return Event{}
		}
	}
}

type trafficEntry struct {
	direction TrafficDirection
	role      Role
	payload   string
}

type capturingTrafficLogger struct {
	mu      sync.Mutex
	entries []trafficEntry
}

func (l *capturingTrafficLogger) LogTraffic(direction TrafficDirection, role Role, payload string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, trafficEntry{direction: direction, role: role, payload: payload})
}

func (l *capturingTrafficLogger) snapshot() []trafficEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]trafficEntry{}, l.entries...)
}
