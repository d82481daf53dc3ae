package adapter

import (
	"github.com/google/go-dap"
)

// Custom commands and events exchanged with the IDE extension.
const (
	customInitDebugEnv      = "initDebugEnv"
	customGetFullPath       = "getFullPath"
	customPrintConsole      = "printConsole"
	customReloadLua         = "reloadLua"
	customShowDialogMessage = "showDialogMessage"
)

const (
	threadID   = 1
	threadName = "thread 1"

	expiredValue = "Expired value"
)

// customEvent carries an event go-dap has no type for.
type customEvent struct {
	dap.Event
	Body any `json:"body,omitempty"`
}

// customResponse answers a request go-dap has no type for.
type customResponse struct {
	dap.Response
	Body any `json:"body,omitempty"`
}

type fullPathEventBody struct {
	FilePath string `json:"filePath"`
	Idx      int    `json:"idx"`
}

type fullPathReply struct {
	Idx      int
	FullPath string
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         command,
		RequestSeq:      requestSeq,
		Success:         true,
	}
}

func newErrorResponse(requestSeq int, command, message string) *dap.ErrorResponse {
	response := newResponse(requestSeq, command)
	response.Success = false
	response.Message = message
	return &dap.ErrorResponse{
		Response: *response,
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{Format: message},
		},
	}
}

func newCustomEvent(event string, body any) *customEvent {
	return &customEvent{Event: *newEvent(event), Body: body}
}

func capabilities() dap.Capabilities {
	return dap.Capabilities{
		SupportsConfigurationDoneRequest:  true,
		SupportsFunctionBreakpoints:       true,
		SupportsConditionalBreakpoints:    true,
		SupportsHitConditionalBreakpoints: true,
		SupportsLogPoints:                 true,
		SupportsEvaluateForHovers:         true,
	}
}

func propertyHint() *dap.VariablePresentationHint {
	return &dap.VariablePresentationHint{Kind: "property"}
}
