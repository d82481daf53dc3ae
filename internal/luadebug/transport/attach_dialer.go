package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stefan/lua-dap/internal/luadebug/protocol"
)

const (
	defaultAttachDialTimeout = 200 * time.Millisecond
	defaultAttachPortRange   = 100
)

// AttachDialer actively asks an already-running debuggee to connect back to the
// adapter by walking the ports above the listen port.
type AttachDialer struct {
	Host       string
	ListenPort int
	Timeout    time.Duration
	Range      int
	// Done reports whether a support peer has already connected; dialing stops once it has.
	Done func() bool

	codec *protocol.Codec
	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	local func() string
}

// NewAttachDialer creates a dialer for clientHost, starting at listenPort+1.
func NewAttachDialer(clientHost string, listenPort int) *AttachDialer {
	if clientHost == "" || clientHost == "localhost" {
		clientHost = "127.0.0.1"
	}
	return &AttachDialer{
		Host:       clientHost,
		ListenPort: listenPort,
		Timeout:    defaultAttachDialTimeout,
		Range:      defaultAttachPortRange,
		codec:      protocol.NewCodec(),
		local:      LocalIPv4,
	}
}

// Run dials ports ListenPort+1..ListenPort+Range in order until one target
// accepts the startDebug command, and returns that port. It gives up silently
// once the range is exhausted or a support peer has connected.
func (p *AttachDialer) Run(ctx context.Context) (int, bool) {
	for port := p.ListenPort + 1; port <= p.ListenPort+p.Range; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		if p.Done != nil && p.Done() {
			return 0, false
		}
		if p.notify(ctx, port) {
			return port, true
		}
	}
	return 0, false
}

func (p *AttachDialer) notify(ctx context.Context, port int) bool {
	addr := net.JoinHostPort(p.Host, strconv.Itoa(port))
	dialCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	dial := p.dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	conn, err := dial(dialCtx, "tcp", addr)
	if err != nil {
		return false
	}
	defer conn.Close()

	payload, err := p.codec.EncodeCommand(protocol.CommandStartDebug, protocol.StartDebugArgs{
		Host: p.local(),
		Port: p.ListenPort,
	})
	if err != nil {
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(p.Timeout))
	if _, err := conn.Write([]byte(payload + "\n")); err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("attach startDebug write failed")
		return false
	}
	log.Debug().Str("addr", addr).Msg("asked attach target to connect back")
	return true
}

// LocalIPv4 returns the first non-loopback IPv4 address of this machine, or
// 127.0.0.1 when none is configured.
func LocalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
