// Package adapter implements the DAP side of the Lua debugger: one Session
// per IDE run, bridging DAP requests to the two debuggee sockets.
package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/stefan/lua-dap/internal/breakpoints"
	daptransport "github.com/stefan/lua-dap/internal/dap/transport"
	"github.com/stefan/lua-dap/internal/luadebug/protocol"
	"github.com/stefan/lua-dap/internal/luadebug/sessionstate"
	luatransport "github.com/stefan/lua-dap/internal/luadebug/transport"
	"github.com/stefan/lua-dap/internal/resolver"
	"github.com/stefan/lua-dap/internal/runtime/config"
	"github.com/stefan/lua-dap/internal/scope"
)

// Remote is the debuggee side of a session.
type Remote interface {
	Listen(addr string) (net.Addr, error)
	Connected(role luatransport.Role) bool
	Send(role luatransport.Role, command string, args any) error
	Drop(role luatransport.Role)
	Close() error
}

// Options configures a Session.
type Options struct {
	Config *config.Config
	// NewRemote builds the debuggee transport. Defaults to a transport.Server.
	NewRemote     func(handler luatransport.Handler) Remote
	TrafficLogger luatransport.TrafficLogger
	Now           func() time.Time
}

// Session is one debug session. All state is owned by the event loop started
// by Serve; other goroutines only post closures to it.
type Session struct {
	id     string
	cfg    *config.Config
	logger zerolog.Logger
	now    func() time.Time

	sender  *daptransport.Sender
	mailbox *mailbox
	remote  Remote
	ctx     context.Context

	phase       sessionstate.Phase
	breakpoints *breakpoints.Registry
	tracker     *sessionstate.Tracker[sessionstate.Key, any]
	stack       []protocol.StackFrameInfo
	snapshots   map[int]*scope.Snapshot
	frameID     int

	luaRoot     string
	launch      config.LaunchArgs
	pendingInit *dap.InitializeRequest

	inited    bool
	initTimer *time.Timer
	initToken int
	timers    []*time.Timer
	peerIDs   [2]string
	workspace *resolver.Workspace
	stopAttach context.CancelFunc
	exitErr   error
}

// NewSession creates a session. It does nothing until Serve is called.
func NewSession(opts Options) *Session {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	s := &Session{
		id:          id,
		cfg:         cfg,
		logger:      log.With().Str("session", id).Logger(),
		now:         now,
		mailbox:     newMailbox(),
		phase:       sessionstate.PhaseUninitialized,
		breakpoints: breakpoints.NewRegistry(),
		snapshots:   map[int]*scope.Snapshot{},
	}
	s.tracker = sessionstate.NewTracker[sessionstate.Key, any](func() bool { return s.stack != nil })

	newRemote := opts.NewRemote
	if newRemote == nil {
		newRemote = func(handler luatransport.Handler) Remote {
			server := luatransport.NewServer(handler, protocol.NewCodec())
			if opts.TrafficLogger != nil {
				server.SetTrafficLogger(opts.TrafficLogger)
			}
			return server
		}
	}
	s.remote = newRemote(s.onRemoteEvent)
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Serve reads DAP requests from in and writes responses and events to out
// until the session terminates, in is exhausted or ctx is cancelled.
func (s *Session) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx
	s.sender = daptransport.NewSender(out)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.sender.Run)
	g.Go(func() error {
		defer s.sender.Close()
		return s.loop(gctx)
	})
	go s.readRequests(bufio.NewReader(in))

	s.logger.Info().Msg("debug session started")
	err := g.Wait()
	s.logger.Info().Err(err).Msg("debug session ended")
	return err
}

func (s *Session) readRequests(reader *bufio.Reader) {
	for {
		payload, err := daptransport.ReadPayload(reader)
		if err != nil {
			s.post(func() { s.onInputClosed(err) })
			return
		}
		s.post(func() { s.dispatch(payload) })
	}
}

func (s *Session) post(fn func()) {
	s.mailbox.post(fn)
}

func (s *Session) loop(ctx context.Context) error {
	defer s.shutdown()
	for {
		for _, fn := range s.mailbox.drain() {
			s.run(fn)
			if s.phase == sessionstate.PhaseTerminated {
				return s.exitErr
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.mailbox.notify:
		}
	}
}

// run executes fn on the loop. A panic is reported to the IDE and the loop
// carries on.
func (s *Session) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("session handler panicked")
			s.output(fmt.Sprintf("uncaught exception: %v\n", r), protocol.PrintError.Category())
		}
	}()
	fn()
}

func (s *Session) onInputClosed(err error) {
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		s.logger.Error().Err(err).Msg("failed to read DAP message")
		s.exitErr = fmt.Errorf("read DAP message: %w", err)
	}
	s.setPhase(sessionstate.PhaseDisconnecting)
	s.setPhase(sessionstate.PhaseTerminated)
}

func (s *Session) shutdown() {
	for _, timer := range s.timers {
		timer.Stop()
	}
	if s.initTimer != nil {
		s.initTimer.Stop()
	}
	if s.stopAttach != nil {
		s.stopAttach()
	}
	if s.workspace != nil {
		s.workspace.Stop()
	}
	if err := s.remote.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("closing debuggee transport")
	}
}

func (s *Session) setPhase(next sessionstate.Phase) bool {
	if s.phase == next {
		return true
	}
	if !s.phase.CanTransition(next) {
		s.logger.Debug().Stringer("from", s.phase).Stringer("to", next).Msg("ignoring phase transition")
		return false
	}
	s.logger.Debug().Stringer("from", s.phase).Stringer("to", next).Msg("phase transition")
	s.phase = next
	return true
}

// after runs fn on the loop once d has elapsed.
func (s *Session) after(d time.Duration, fn func()) *time.Timer {
	timer := time.AfterFunc(d, func() { s.post(fn) })
	s.timers = append(s.timers, timer)
	return timer
}

func (s *Session) send(message dap.Message) {
	s.sender.Send(message)
}

func (s *Session) sendRemote(role luatransport.Role, command string, args any) {
	if err := s.remote.Send(role, command, args); err != nil {
		if errors.Is(err, luatransport.ErrNoPeer) {
			s.logger.Debug().Str("command", command).Stringer("role", role).Msg("no peer, command dropped")
			return
		}
		s.logger.Warn().Err(err).Str("command", command).Stringer("role", role).Msg("failed to send to debuggee")
	}
}

// output emits an OutputEvent in category.
func (s *Session) output(msg, category string) {
	event := &dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   msg,
		},
	}
	s.send(event)
}

func (s *Session) printConsole(msg string, printType protocol.PrintType) {
	s.output(fmt.Sprintf("[%s]: %s\n", s.now().Format(time.TimeOnly), msg), printType.Category())
}

func (s *Session) showDialog(msg string, printType protocol.PrintType) {
	s.send(newCustomEvent(customShowDialogMessage, protocol.MessageArgs{Msg: msg, Type: printType}))
}

// resetStack drops the stack and every snapshot and expires pending requests.
func (s *Session) resetStack() {
	s.stack = nil
	s.snapshots = map[int]*scope.Snapshot{}
	s.frameID = 0
	s.tracker.Advance()
	if s.phase == sessionstate.PhaseStopped {
		s.setPhase(sessionstate.PhaseRunning)
	}
}

// readySendInit (re)arms the initialize handshake unless it already ran for
// the current support peer.
func (s *Session) readySendInit() {
	if s.inited {
		return
	}
	if s.initTimer != nil {
		s.initTimer.Stop()
	}
	s.initToken++
	token := s.initToken
	s.initTimer = time.AfterFunc(s.cfg.Session.InitDebounce(), func() {
		s.post(func() {
			if token != s.initToken || s.inited {
				return
			}
			s.initTimer = nil
			s.inited = true
			var launchArgs any
			if s.launch.Raw != nil {
				launchArgs = s.launch.Raw
			}
			s.sendRemote(luatransport.RoleSupport, protocol.CommandInitialize, launchArgs)
			s.sendRemote(luatransport.RoleDebug, protocol.CommandInitialize, nil)
		})
	})
}
