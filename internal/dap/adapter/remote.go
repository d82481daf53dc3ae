package adapter

import (
	"context"
	"fmt"
	"net"

	"github.com/google/go-dap"

	"github.com/stefan/lua-dap/internal/luadebug/protocol"
	"github.com/stefan/lua-dap/internal/luadebug/sessionstate"
	luatransport "github.com/stefan/lua-dap/internal/luadebug/transport"
)

// onRemoteEvent is the transport handler. It runs on transport goroutines and
// only hands the event to the loop.
func (s *Session) onRemoteEvent(event luatransport.Event) {
	s.post(func() { s.handleRemoteEvent(event) })
}

func (s *Session) handleRemoteEvent(event luatransport.Event) {
	switch event.Kind {
	case luatransport.EventConnected:
		s.onPeerConnected(event)
	case luatransport.EventClosed:
		s.onPeerClosed(event)
	case luatransport.EventPayload:
		if event.PeerID != s.peerIDs[event.Role] {
			s.logger.Debug().Str("peer", event.PeerID).Msg("ignoring payload from replaced peer")
			return
		}
		s.handleRemotePayload(event.Role, event.Payload)
	}
}

func (s *Session) onPeerConnected(event luatransport.Event) {
	s.peerIDs[event.Role] = event.PeerID
	s.logger.Info().Stringer("role", event.Role).Str("peer", event.PeerID).Msg("debuggee connected")

	if event.Role == luatransport.RoleDebug {
		s.restoreBreakpoints()
		return
	}
	s.inited = false
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.readySendInit()
	s.setPhase(sessionstate.PhaseRunning)
	if s.stopAttach != nil {
		s.stopAttach()
		s.stopAttach = nil
	}
}

// restoreBreakpoints sends every known bucket to a debug peer that connected
// after the breakpoints were set.
func (s *Session) restoreBreakpoints() {
	buckets := s.breakpoints.All()
	if len(buckets) == 0 {
		return
	}
	s.logger.Debug().Strs("files", s.breakpoints.Files()).Msg("restoring breakpoints on debug peer")
	s.sendRemote(luatransport.RoleDebug, protocol.CommandSetBreakpoints, protocol.BreakpointsArgs{Buckets: buckets})
}

func (s *Session) onPeerClosed(event luatransport.Event) {
	if event.PeerID != s.peerIDs[event.Role] {
		return
	}
	s.peerIDs[event.Role] = ""

	switch event.Role {
	case luatransport.RoleDebug:
		s.resetStack()
		s.printConsole("Debug socket disconnected.", protocol.PrintNormal)
		if s.phase == sessionstate.PhaseRunning {
			s.setPhase(sessionstate.PhaseAwaitingConnections)
		}
	case luatransport.RoleSupport:
		s.logger.Warn().AnErr("cause", event.Err).Msg("support socket disconnected")
	}
}

func (s *Session) handleRemotePayload(role luatransport.Role, payload protocol.DecodedPayload) {
	switch args := payload.Args.(type) {
	case protocol.MessageArgs:
		if payload.Command == protocol.CommandShowDialogMessage {
			s.showDialog(args.Msg, args.Type)
			return
		}
		s.printConsole(args.Msg, args.Type)
	case protocol.PauseArgs:
		s.onPause(args)
	case protocol.ScopesReply:
		s.tracker.Resolve(sessionstate.Key{Kind: sessionstate.KindScopes, FrameID: args.FrameID}, args)
	case protocol.VariableReply:
		key := sessionstate.Key{Kind: sessionstate.KindVariable, FrameID: args.FrameID, Subject: args.Path}
		if payload.Command == protocol.CommandWatchVariable {
			key = sessionstate.Key{Kind: sessionstate.KindWatch, FrameID: args.FrameID, Subject: args.Exp}
		}
		if s.tracker.Resolve(key, args) == 0 {
			s.logger.Debug().Str("command", payload.Command).Int("frame", args.FrameID).Msg("reply with no waiter")
		}
	default:
		if payload.Command == protocol.CommandResetStackInfo {
			s.resetStack()
			return
		}
		s.logger.Debug().Stringer("role", role).Str("command", payload.Command).Msg("unhandled debuggee command")
	}
}

func (s *Session) onPause(args protocol.PauseArgs) {
	s.stack = args.Frames
	if s.stack == nil {
		s.stack = []protocol.StackFrameInfo{}
	}
	s.setPhase(sessionstate.PhaseStopped)
	s.send(&dap.StoppedEvent{
		Event: *newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:            "breakpoint",
			ThreadId:          threadID,
			AllThreadsStopped: true,
		},
	})
}

// bind starts the debuggee listener for the current launch arguments.
func (s *Session) bind(request *dap.Request) {
	addr, err := s.remote.Listen(s.launch.Addr(s.cfg.Server.Host))
	if err != nil {
		s.logger.Error().Err(err).Int("port", s.launch.Port).Msg("failed to bind debuggee listener")
		s.printConsole("server error, stop debugger", protocol.PrintError)
		s.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		s.setPhase(sessionstate.PhaseInitializing)
		return
	}

	port := s.launch.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	s.setPhase(sessionstate.PhaseAwaitingConnections)
	s.printConsole(fmt.Sprintf("The debugger(%s:%d) is ready, wait for client's connection...", luatransport.LocalIPv4(), port), protocol.PrintNormal)
	s.send(newResponse(request.Seq, request.Command))

	if s.launch.Request == "attach" {
		s.startAttachDial(port)
	}
}

func (s *Session) startAttachDial(port int) {
	dialer := luatransport.NewAttachDialer(s.launch.ClientHost, port)
	dialer.Timeout = s.cfg.Attach.DialTimeout()
	dialer.Range = s.cfg.Attach.PortRange
	remote := s.remote
	dialer.Done = func() bool { return remote.Connected(luatransport.RoleSupport) }

	ctx, cancel := context.WithCancel(s.ctx)
	s.stopAttach = cancel
	logger := s.logger
	go func() {
		if found, ok := dialer.Run(ctx); ok {
			logger.Info().Int("port", found).Msg("attach target notified")
		}
	}()
}
