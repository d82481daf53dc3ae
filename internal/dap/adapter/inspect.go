package adapter

import (
	"sort"

	"github.com/google/go-dap"

	"github.com/stefan/lua-dap/internal/luadebug/protocol"
	"github.com/stefan/lua-dap/internal/luadebug/sessionstate"
	luatransport "github.com/stefan/lua-dap/internal/luadebug/transport"
	"github.com/stefan/lua-dap/internal/runtime/config"
	"github.com/stefan/lua-dap/internal/scope"
)

func stackFrame(idx int, frame protocol.StackFrameInfo, fullPath string) dap.StackFrame {
	return dap.StackFrame{
		Id:   idx,
		Name: frame.FunctionName,
		Source: &dap.Source{
			Name: frame.FileName,
			Path: fullPath,
		},
		Line: frame.CurrentLine,
	}
}

// onStackTrace answers with one frame per stack entry once every entry has a
// resolved full path.
func (s *Session) onStackTrace(req *dap.StackTraceRequest) {
	response := &dap.StackTraceResponse{Response: *newResponse(req.Seq, req.Command)}
	response.Body.StackFrames = []dap.StackFrame{}
	if len(s.stack) == 0 {
		s.send(response)
		return
	}
	stack := s.stack

	if s.cfg.Resolver.Mode == config.ResolverWorkspace {
		for idx, frame := range stack {
			fullPath := frame.FilePath
			if s.workspace != nil {
				if found, ok := s.workspace.FullPath(frame.FilePath); ok {
					fullPath = found
				}
			}
			response.Body.StackFrames = append(response.Body.StackFrames, stackFrame(idx, frame, fullPath))
		}
		response.Body.TotalFrames = len(response.Body.StackFrames)
		s.send(response)
		return
	}

	frames := map[int]dap.StackFrame{}
	respond := func() {
		indices := make([]int, 0, len(frames))
		for idx := range frames {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			response.Body.StackFrames = append(response.Body.StackFrames, frames[idx])
		}
		response.Body.TotalFrames = len(response.Body.StackFrames)
		s.send(response)
	}

	var cancel func()
	cancel = s.tracker.Subscribe(sessionstate.Key{Kind: sessionstate.KindFullPath}, false, func(value any) {
		reply := value.(fullPathReply)
		if reply.Idx < 0 || reply.Idx >= len(stack) {
			return
		}
		if _, seen := frames[reply.Idx]; seen {
			return
		}
		frames[reply.Idx] = stackFrame(reply.Idx, stack[reply.Idx], reply.FullPath)
		if len(frames) == len(stack) {
			cancel()
			respond()
		}
	}, respond)

	for idx, frame := range stack {
		s.send(newCustomEvent(customGetFullPath, fullPathEventBody{FilePath: frame.FilePath, Idx: idx}))
	}
}

func (s *Session) onScopes(req *dap.ScopesRequest) {
	frameID := req.Arguments.FrameId
	response := &dap.ScopesResponse{Response: *newResponse(req.Seq, req.Command)}
	response.Body.Scopes = []dap.Scope{}
	if s.stack == nil {
		s.send(response)
		return
	}

	if snapshot, ok := s.snapshots[frameID]; ok {
		s.frameID = frameID
		s.respondScopes(response, snapshot)
		return
	}

	s.tracker.Subscribe(sessionstate.Key{Kind: sessionstate.KindScopes, FrameID: frameID}, true, func(value any) {
		snapshot, ok := s.snapshots[frameID]
		if !ok {
			reply := value.(protocol.ScopesReply)
			snapshot = scope.New(frameID, s.cfg.Scopes.Roots, reply.Roots)
			s.snapshots[frameID] = snapshot
		}
		s.frameID = frameID
		s.respondScopes(response, snapshot)
	}, func() {
		s.send(response)
	})
	s.sendRemote(luatransport.RoleDebug, protocol.CommandGetScopes, protocol.ScopesRequestArgs{FrameID: frameID})
}

// respondScopes answers with the snapshot's visible roots and wakes the
// evaluate requests that were waiting for this frame.
func (s *Session) respondScopes(response *dap.ScopesResponse, snapshot *scope.Snapshot) {
	for _, ref := range snapshot.Scopes() {
		response.Body.Scopes = append(response.Body.Scopes, dap.Scope{
			Name:               ref.Name,
			VariablesReference: ref.Handle,
		})
	}
	s.send(response)
	s.tracker.Resolve(sessionstate.Key{Kind: sessionstate.KindScopesReady, FrameID: snapshot.FrameID}, snapshot.FrameID)
}

func (s *Session) onVariables(req *dap.VariablesRequest) {
	response := &dap.VariablesResponse{Response: *newResponse(req.Seq, req.Command)}
	respond := func(variables []dap.Variable) {
		response.Body.Variables = variables
		s.send(response)
	}
	expired := func() {
		respond([]dap.Variable{{Name: "error", Type: "object", Value: expiredValue}})
	}

	if s.stack == nil {
		expired()
		return
	}
	frameID := s.frameID
	snapshot, ok := s.snapshots[frameID]
	if !ok {
		expired()
		return
	}

	handle := req.Arguments.VariablesReference
	tableKey, ok := snapshot.TableKey(handle)
	if !ok {
		respond([]dap.Variable{{Name: "error", Type: "object", Value: "error! not find tbkey"}})
		return
	}
	if snapshot.FullyLoaded(tableKey) {
		records, _ := snapshot.TableVars(handle)
		respond(tableVariables(records))
		return
	}

	path, ok := snapshot.PathByHandle(handle)
	if !ok {
		respond([]dap.Variable{{Name: "error", Type: "error", Value: "error! not find path"}})
		return
	}

	s.tracker.Subscribe(sessionstate.Key{Kind: sessionstate.KindVariable, FrameID: frameID, Subject: path}, true, func(value any) {
		if s.frameID != frameID {
			respond([]dap.Variable{})
			return
		}
		result := snapshot.Load(value.(protocol.VariableReply))
		if result.IsSingle() {
			respond([]dap.Variable{variable(result.Record())})
			return
		}
		respond(tableVariables(result.Records))
	}, expired)
	s.sendRemote(luatransport.RoleDebug, protocol.CommandGetVariable, protocol.VariableRequestArgs{FrameID: frameID, Path: path})
}

func variable(record scope.Record) dap.Variable {
	return dap.Variable{
		Name:               record.Name,
		Value:              record.Value,
		Type:               record.Type,
		VariablesReference: record.Handle,
	}
}

// tableVariables renders a table's records; an empty table shows a single
// "{}" row.
func tableVariables(records []scope.Record) []dap.Variable {
	if len(records) == 0 {
		return []dap.Variable{{Name: "{}", PresentationHint: propertyHint()}}
	}
	variables := make([]dap.Variable, 0, len(records))
	for _, record := range records {
		variables = append(variables, variable(record))
	}
	return variables
}
