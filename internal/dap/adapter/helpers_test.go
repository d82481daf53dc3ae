package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/stefan/lua-dap/internal/luadebug/protocol"
	luatransport "github.com/stefan/lua-dap/internal/luadebug/transport"
	"github.com/stefan/lua-dap/internal/runtime/config"
)

const testTimeout = 2 * time.Second

type remoteCall struct {
	Role    luatransport.Role
	Command string
	Args    any
}

type fakeRemote struct {
	mu        sync.Mutex
	handler   luatransport.Handler
	codec     *protocol.Codec
	listenErr error
	listened  []string
	connected [2]bool
	calls     []remoteCall
	dropped   []luatransport.Role
	closed    bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{codec: protocol.NewCodec()}
}

func (r *fakeRemote) Listen(addr string) (net.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listened = append(r.listened, addr)
	if r.listenErr != nil {
		return nil, r.listenErr
	}
	_, portText, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portText)
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}, nil
}

func (r *fakeRemote) Connected(role luatransport.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[role]
}

func (r *fakeRemote) Send(role luatransport.Role, command string, args any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected[role] {
		return luatransport.ErrNoPeer
	}
	r.calls = append(r.calls, remoteCall{Role: role, Command: command, Args: args})
	return nil
}

func (r *fakeRemote) Drop(role luatransport.Role) {
	r.mu.Lock()
	r.dropped = append(r.dropped, role)
	r.connected[role] = false
	r.mu.Unlock()
}

func (r *fakeRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRemote) connect(role luatransport.Role, peerID string) {
	r.mu.Lock()
	r.connected[role] = true
	r.mu.Unlock()
	r.handler(luatransport.Event{Kind: luatransport.EventConnected, Role: role, PeerID: peerID})
}

func (r *fakeRemote) disconnect(role luatransport.Role, peerID string) {
	r.mu.Lock()
	r.connected[role] = false
	r.mu.Unlock()
	r.handler(luatransport.Event{Kind: luatransport.EventClosed, Role: role, PeerID: peerID})
}

func (r *fakeRemote) deliver(t *testing.T, role luatransport.Role, peerID, line string) {
	t.Helper()
	decoded, err := r.codec.DecodePayload(line)
	require.NoError(t, err)
	r.handler(luatransport.Event{Kind: luatransport.EventPayload, Role: role, PeerID: peerID, Payload: decoded})
}

func (r *fakeRemote) callsFor(command string) []remoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []remoteCall
	for _, call := range r.calls {
		if call.Command == command {
			out = append(out, call)
		}
	}
	return out
}

func (r *fakeRemote) lastCall(t *testing.T, command string) remoteCall {
	t.Helper()
	var calls []remoteCall
	waitForCondition(t, testTimeout, func() bool {
		calls = r.callsFor(command)
		return len(calls) > 0
	})
	return calls[len(calls)-1]
}

// testClient drives a Session over in-memory pipes the way an IDE would.
type testClient struct {
	t        *testing.T
	session  *Session
	remote   *fakeRemote
	requests *io.PipeWriter
	messages chan gjson.Result
	backlog  []gjson.Result
	done     chan struct{}
	serveErr error
	seq      int
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.SettleDelayMS = 0
	cfg.Session.InitDebounceMS = 0
	cfg.Session.DisconnectGraceMS = 0
	cfg.Attach.DialTimeoutMS = 50
	cfg.Attach.PortRange = 1
	return cfg
}

func newTestClient(t *testing.T, mutate func(*config.Config)) *testClient {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	remote := newFakeRemote()
	session := NewSession(Options{
		Config: cfg,
		NewRemote: func(handler luatransport.Handler) Remote {
			remote.handler = handler
			return remote
		},
		Now: func() time.Time { return time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC) },
	})

	requestsR, requestsW := io.Pipe()
	responsesR, responsesW := io.Pipe()
	c := &testClient{
		t:        t,
		session:  session,
		remote:   remote,
		requests: requestsW,
		messages: make(chan gjson.Result, 256),
		done:     make(chan struct{}),
	}

	go func() {
		c.serveErr = session.Serve(context.Background(), requestsR, responsesW)
		_ = responsesW.Close()
		close(c.done)
	}()
	go func() {
		defer close(c.messages)
		reader := bufio.NewReader(responsesR)
		for {
			payload, err := dap.ReadBaseMessage(reader)
			if err != nil {
				return
			}
			c.messages <- gjson.ParseBytes(payload)
		}
	}()

	t.Cleanup(func() {
		go func() {
			for range c.messages {
			}
		}()
		_ = requestsW.Close()
		c.waitServed()
	})
	return c
}

func (c *testClient) request(command string, arguments any) int {
	c.t.Helper()
	c.seq++
	message := map[string]any{
		"seq":     c.seq,
		"type":    "request",
		"command": command,
	}
	if arguments != nil {
		message["arguments"] = arguments
	}
	payload, err := json.Marshal(message)
	require.NoError(c.t, err)
	require.NoError(c.t, dap.WriteBaseMessage(c.requests, payload))
	return c.seq
}

// find returns the first message, already received or still to come, that
// matches. Messages skipped on the way are kept for later lookups.
func (c *testClient) find(description string, match func(gjson.Result) bool) gjson.Result {
	c.t.Helper()
	for i, message := range c.backlog {
		if match(message) {
			c.backlog = append(c.backlog[:i:i], c.backlog[i+1:]...)
			return message
		}
	}
	deadline := time.After(testTimeout)
	for {
		select {
		case message, ok := <-c.messages:
			if !ok {
				c.t.Fatalf("stream closed while waiting for %s", description)
			}
			if match(message) {
				return message
			}
			c.backlog = append(c.backlog, message)
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s; backlog: %v", description, c.backlog)
		}
	}
}

func (c *testClient) response(seq int) gjson.Result {
	c.t.Helper()
	return c.find("response to request "+strconv.Itoa(seq), func(m gjson.Result) bool {
		return m.Get("type").String() == "response" && int(m.Get("request_seq").Int()) == seq
	})
}

func (c *testClient) event(name string) gjson.Result {
	c.t.Helper()
	return c.find("event "+name, func(m gjson.Result) bool {
		return m.Get("type").String() == "event" && m.Get("event").String() == name
	})
}

func (c *testClient) output(contains string) gjson.Result {
	c.t.Helper()
	return c.find("output containing "+strconv.Quote(contains), func(m gjson.Result) bool {
		return m.Get("event").String() == "output" && strings.Contains(m.Get("body.output").String(), contains)
	})
}

func (c *testClient) call(command string, arguments any) gjson.Result {
	c.t.Helper()
	return c.response(c.request(command, arguments))
}

// onLoop runs fn on the session loop and waits for it.
func (c *testClient) onLoop(fn func(s *Session)) {
	c.t.Helper()
	done := make(chan struct{})
	c.session.post(func() {
		defer close(done)
		fn(c.session)
	})
	select {
	case <-done:
	case <-time.After(testTimeout):
		c.t.Fatalf("session loop did not run")
	}
}

// waitServed blocks until Serve has returned and reports its error.
func (c *testClient) waitServed() error {
	c.t.Helper()
	select {
	case <-c.done:
		return c.serveErr
	case <-time.After(testTimeout):
		c.t.Errorf("session did not stop")
		return nil
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
