package adapter

import (
	"fmt"

	"github.com/google/go-dap"

	"github.com/stefan/lua-dap/internal/expr"
	"github.com/stefan/lua-dap/internal/luadebug/protocol"
	"github.com/stefan/lua-dap/internal/luadebug/sessionstate"
	luatransport "github.com/stefan/lua-dap/internal/luadebug/transport"
	"github.com/stefan/lua-dap/internal/scope"
)

const errCodeTableHandle = 1000

// onEvaluate answers hovers, watches and REPL input. Literals are echoed,
// runtime expressions in watch or repl context are evaluated by the
// debuggee, and everything else is looked up as a variable path.
func (s *Session) onEvaluate(req *dap.EvaluateRequest) {
	args := req.Arguments
	frameID := args.FrameId
	response := &dap.EvaluateResponse{Response: *newResponse(req.Seq, req.Command)}
	expired := func() {
		s.respondLeaf(response, expiredValue, "object")
	}

	snapshot, ok := s.snapshots[frameID]
	if !ok {
		if s.stack == nil {
			expired()
			return
		}
		// Watches can be evaluated before the IDE has asked for this frame's scopes.
		s.tracker.Subscribe(sessionstate.Key{Kind: sessionstate.KindScopesReady, FrameID: frameID}, true, func(any) {
			s.onEvaluate(req)
		}, expired)
		return
	}
	s.frameID = frameID

	kind := expr.Classify(args.Expression)
	s.logger.Debug().Str("expression", args.Expression).Str("context", args.Context).Stringer("kind", kind).Msg("evaluate")

	if kind.IsLiteral() {
		value, typ := expr.Literal(args.Expression, kind)
		s.respondLeaf(response, value, typ)
		return
	}

	key := sessionstate.Key{Kind: sessionstate.KindVariable, FrameID: frameID}
	var command string
	var request any
	if kind == expr.Runtime && (args.Context == "watch" || args.Context == "repl") {
		key.Kind = sessionstate.KindWatch
		key.Subject = args.Expression
		command = protocol.CommandWatchVariable
		request = protocol.WatchRequestArgs{FrameID: frameID, Exp: args.Expression}
	} else {
		path, ok := expr.HoverPath(args.Expression)
		if !ok {
			s.respondLeaf(response, "Not find path, origin expression is:"+args.Expression, "object")
			return
		}
		key.Subject = path
		command = protocol.CommandGetVariable
		request = protocol.VariableRequestArgs{FrameID: frameID, Path: path}
	}

	if result, ok := snapshot.Lookup(key.Subject); ok && s.showEvaluate(response, snapshot, result) {
		return
	}

	s.tracker.Subscribe(key, true, func(value any) {
		if s.frameID != frameID {
			expired()
			return
		}
		result := snapshot.Load(value.(protocol.VariableReply))
		if !s.showEvaluate(response, snapshot, result) {
			expired()
		}
	}, expired)
	s.sendRemote(luatransport.RoleDebug, command, request)
}

func (s *Session) respondLeaf(response *dap.EvaluateResponse, value, typ string) {
	response.Body = dap.EvaluateResponseBody{
		Result:           value,
		Type:             typ,
		PresentationHint: propertyHint(),
	}
	s.send(response)
}

// showEvaluate answers with result when it can be presented: a leaf, or a
// table whose children are all cached. It reports whether it responded.
func (s *Session) showEvaluate(response *dap.EvaluateResponse, snapshot *scope.Snapshot, result scope.Result) bool {
	if result.IsSingle() {
		record := result.Record()
		s.respondLeaf(response, record.Value, record.Type)
		return true
	}
	if !snapshot.FullyLoaded(result.TableKey) {
		return false
	}
	handle, ok := snapshot.HandleOf(result.TableKey)
	if !ok {
		s.printConsole(fmt.Sprintf("Error %d", errCodeTableHandle), protocol.PrintError)
		return false
	}
	response.Body = dap.EvaluateResponseBody{
		Result:             result.TableKey,
		VariablesReference: handle,
	}
	s.send(response)
	return true
}
