package adapter

import (
	"context"
	"fmt"

	"github.com/google/go-dap"

	"github.com/stefan/lua-dap/internal/breakpoints"
	daptransport "github.com/stefan/lua-dap/internal/dap/transport"
	"github.com/stefan/lua-dap/internal/luadebug/protocol"
	"github.com/stefan/lua-dap/internal/luadebug/sessionstate"
	luatransport "github.com/stefan/lua-dap/internal/luadebug/transport"
	"github.com/stefan/lua-dap/internal/resolver"
	"github.com/stefan/lua-dap/internal/runtime/config"
)

// dispatch routes one inbound DAP message. Custom requests are handled from
// the raw envelope because go-dap rejects commands it does not know.
func (s *Session) dispatch(payload []byte) {
	env := daptransport.PeekEnvelope(payload)
	if env.Type != "request" {
		s.logger.Debug().Str("type", env.Type).Msg("ignoring non-request DAP message")
		return
	}
	s.logger.Debug().Str("command", env.Command).Int("seq", env.Seq).Msg("DAP request")

	switch env.Command {
	case customInitDebugEnv:
		s.onInitDebugEnv(env)
		return
	case customGetFullPath:
		s.tracker.Resolve(sessionstate.Key{Kind: sessionstate.KindFullPath}, fullPathReply{
			Idx:      int(env.Arguments.Get("idx").Int()),
			FullPath: env.Arguments.Get("fullPath").String(),
		})
		s.respondCustom(env)
		return
	case customPrintConsole:
		s.printConsole(env.Arguments.Get("msg").String(), protocol.PrintType(env.Arguments.Get("type").Int()))
		s.respondCustom(env)
		return
	case customReloadLua:
		s.onReloadLua(env)
		return
	case "evaluate":
		if !env.Arguments.Get("frameId").Exists() {
			s.printConsole("evaluateRequest not find frameId", protocol.PrintError)
			s.send(newErrorResponse(env.Seq, env.Command, "evaluate requires a frameId"))
			return
		}
	}

	message, err := dap.DecodeProtocolMessage(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("command", env.Command).Msg("failed to decode DAP request")
		s.send(newErrorResponse(env.Seq, env.Command, err.Error()))
		return
	}
	s.handleRequest(message, env)
}

func (s *Session) handleRequest(message dap.Message, env daptransport.Envelope) {
	switch req := message.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(req)
	case *dap.LaunchRequest:
		s.onLaunch(&req.Request, env)
	case *dap.AttachRequest:
		s.onLaunch(&req.Request, env)
	case *dap.ConfigurationDoneRequest:
		s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(req.Seq, req.Command)})
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(req)
	case *dap.SetFunctionBreakpointsRequest:
		response := &dap.SetFunctionBreakpointsResponse{Response: *newResponse(req.Seq, req.Command)}
		response.Body.Breakpoints = []dap.Breakpoint{}
		s.send(response)
	case *dap.SetExceptionBreakpointsRequest:
		s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(req.Seq, req.Command)})
	case *dap.ThreadsRequest:
		s.send(&dap.ThreadsResponse{
			Response: *newResponse(req.Seq, req.Command),
			Body: dap.ThreadsResponseBody{
				Threads: []dap.Thread{{Id: threadID, Name: threadName}},
			},
		})
	case *dap.StackTraceRequest:
		s.onStackTrace(req)
	case *dap.ScopesRequest:
		s.onScopes(req)
	case *dap.VariablesRequest:
		s.onVariables(req)
	case *dap.EvaluateRequest:
		s.onEvaluate(req)
	case *dap.PauseRequest:
		s.sendRemote(luatransport.RoleDebug, protocol.CommandPause, nil)
		s.send(&dap.PauseResponse{Response: *newResponse(req.Seq, req.Command)})
	case *dap.ContinueRequest:
		s.resume(protocol.CommandContinue)
		s.send(&dap.ContinueResponse{
			Response: *newResponse(req.Seq, req.Command),
			Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
		})
	case *dap.NextRequest:
		s.resume(protocol.CommandNext)
		s.send(&dap.NextResponse{Response: *newResponse(req.Seq, req.Command)})
	case *dap.StepInRequest:
		s.resume(protocol.CommandStepIn)
		s.send(&dap.StepInResponse{Response: *newResponse(req.Seq, req.Command)})
	case *dap.StepOutRequest:
		s.resume(protocol.CommandStepOut)
		s.send(&dap.StepOutResponse{Response: *newResponse(req.Seq, req.Command)})
	case *dap.TerminateRequest:
		s.onTerminate(req, env)
	case *dap.DisconnectRequest:
		s.onDisconnect(req, env)
	case dap.RequestMessage:
		request := req.GetRequest()
		s.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("unsupported request %q", request.Command)))
	default:
		s.logger.Debug().Str("command", env.Command).Msg("ignoring DAP message")
	}
}

func (s *Session) respondCustom(env daptransport.Envelope) {
	s.send(&customResponse{Response: *newResponse(env.Seq, env.Command)})
}

func (s *Session) onInitialize(req *dap.InitializeRequest) {
	if !s.setPhase(sessionstate.PhaseInitializing) {
		s.send(newErrorResponse(req.Seq, req.Command, "debugger already initialized"))
		return
	}
	if !s.cfg.Session.Handshake {
		s.respondInitialize(req)
		return
	}
	s.pendingInit = req
	s.send(newCustomEvent(customInitDebugEnv, nil))
}

func (s *Session) respondInitialize(req *dap.InitializeRequest) {
	s.send(&dap.InitializeResponse{
		Response: *newResponse(req.Seq, req.Command),
		Body:     capabilities(),
	})
}

func (s *Session) onInitDebugEnv(env daptransport.Envelope) {
	s.luaRoot = env.Arguments.Get("luaRoot").String()
	s.respondCustom(env)
	if s.pendingInit != nil {
		s.respondInitialize(s.pendingInit)
		s.pendingInit = nil
	}
	s.startWorkspace()
}

// startWorkspace indexes the Lua root when paths are resolved in-process.
func (s *Session) startWorkspace() {
	if s.cfg.Resolver.Mode != config.ResolverWorkspace || s.workspace != nil {
		return
	}
	root := s.cfg.Resolver.Root
	if root == "" {
		root = s.luaRoot
	}
	if root == "" {
		s.logger.Warn().Msg("workspace resolver has no root")
		return
	}

	workspace := resolver.NewWorkspace(root, s.cfg.Resolver.Extensions)
	s.workspace = workspace
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := s.logger
	go func() {
		if err := workspace.Start(ctx); err != nil {
			logger.Warn().Err(err).Str("root", root).Msg("failed to index workspace")
			return
		}
		logger.Info().Str("root", workspace.Root()).Int("files", workspace.Len()).Msg("workspace indexed")
	}()
}

func (s *Session) onLaunch(request *dap.Request, env daptransport.Envelope) {
	if s.phase != sessionstate.PhaseInitializing {
		s.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("cannot %s while %s", request.Command, s.phase)))
		return
	}
	args, err := config.FromRequest(request.Command, env.Arguments)
	if err != nil {
		s.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	s.launch = args
	s.setPhase(sessionstate.PhaseServerBinding)
	s.logger.Info().
		Str("request", args.Request).
		Str("name", args.Name).
		Str("type", args.Type).
		Int("port", args.Port).
		Int("printType", args.PrintType).
		Strs("externalVariables", args.ExternalVariables).
		Strs("filterFiles", args.FilterFiles).
		Msg("binding debuggee listener")

	s.after(s.cfg.Server.SettleDelay(), func() {
		if s.phase != sessionstate.PhaseServerBinding {
			return
		}
		s.bind(request)
	})
}

func (s *Session) onSetBreakpoints(req *dap.SetBreakpointsRequest) {
	response := &dap.SetBreakpointsResponse{Response: *newResponse(req.Seq, req.Command)}
	response.Body.Breakpoints = []dap.Breakpoint{}

	fullPath := breakpoints.NormalizePath(req.Arguments.Source.Path)
	if fullPath == "" {
		s.send(response)
		return
	}

	records := make([]breakpoints.Record, 0, len(req.Arguments.Breakpoints))
	for _, bp := range req.Arguments.Breakpoints {
		records = append(records, breakpoints.Record{
			FullPath:     fullPath,
			Line:         bp.Line,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
			LogMessage:   bp.LogMessage,
		})
		response.Body.Breakpoints = append(response.Body.Breakpoints, dap.Breakpoint{Verified: true, Line: bp.Line})
	}

	short, bucket := s.breakpoints.Set(fullPath, records)
	args := protocol.BreakpointsArgs{Buckets: map[string][]breakpoints.Record{short: bucket}}
	s.sendRemote(luatransport.RoleDebug, protocol.CommandSetBreakpoints, args)
	s.sendRemote(luatransport.RoleSupport, protocol.CommandSetBreakpoints, args)
	s.readySendInit()

	s.send(response)
}

func (s *Session) onReloadLua(env daptransport.Envelope) {
	if s.remote.Connected(luatransport.RoleSupport) {
		s.sendRemote(luatransport.RoleSupport, protocol.CommandReloadLua, protocol.ReloadLuaArgs{
			LuaPath:  env.Arguments.Get("luaPath").String(),
			FullPath: env.Arguments.Get("fullPath").String(),
		})
	} else {
		s.showDialog("reload failed, debugger is not connected to the client", protocol.PrintError)
	}
	s.respondCustom(env)
}

// resume drops the stack and lets the debuggee run.
func (s *Session) resume(command string) {
	s.resetStack()
	s.sendRemote(luatransport.RoleDebug, command, nil)
}

func (s *Session) stopDebuggee(env daptransport.Envelope) {
	s.resetStack()
	var args any
	if env.Arguments.Exists() {
		args = env.Arguments.Value()
	}
	s.sendRemote(luatransport.RoleSupport, protocol.CommandStop, args)
}

func (s *Session) onTerminate(req *dap.TerminateRequest, env daptransport.Envelope) {
	s.stopDebuggee(env)
	s.send(&dap.TerminateResponse{Response: *newResponse(req.Seq, req.Command)})
	s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

func (s *Session) onDisconnect(req *dap.DisconnectRequest, env daptransport.Envelope) {
	s.stopDebuggee(env)
	s.setPhase(sessionstate.PhaseDisconnecting)
	s.send(&dap.DisconnectResponse{Response: *newResponse(req.Seq, req.Command)})

	s.after(s.cfg.Session.DisconnectGrace(), func() {
		s.remote.Drop(luatransport.RoleDebug)
		s.remote.Drop(luatransport.RoleSupport)
		s.setPhase(sessionstate.PhaseTerminated)
	})
}
