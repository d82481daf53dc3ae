package protocol

import (
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"
)

// Commands exchanged with the debuggee over the support and debug sockets.
const (
	CommandInitialize        = "initialize"
	CommandSetBreakpoints    = "setBreakpoints"
	CommandPause             = "pause"
	CommandContinue          = "continue"
	CommandNext              = "next"
	CommandStepIn            = "stepIn"
	CommandStepOut           = "stepOut"
	CommandStop              = "stop"
	CommandGetScopes         = "getScopes"
	CommandGetVariable       = "getVariable"
	CommandWatchVariable     = "watchVariable"
	CommandPrintConsole      = "printConsole"
	CommandReloadLua         = "reloadLua"
	CommandShowDialogMessage = "showDialogMessage"
	CommandResetStackInfo    = "resetStackInfo"
	CommandStartDebug        = "startDebug"
)

// TypeTable marks a composite remote value.
const TypeTable = "table"

// PayloadKind indicates how a payload was interpreted.
type PayloadKind int

const (
	// KindRaw indicates a line that is not a command object.
	KindRaw PayloadKind = iota
	// KindCommand indicates a JSON {command, args} object.
	KindCommand
)

// DecodedPayload is the normalized representation of one inbound line.
type DecodedPayload struct {
	Kind    PayloadKind
	Raw     string
	Command string
	// Args holds a typed struct for known commands, otherwise the raw gjson.Result.
	Args  any
	Known bool
}

// PrintType selects the IDE output category for printConsole messages.
type PrintType int

const (
	PrintNormal PrintType = iota
	PrintWarning
	PrintError
)

// Category maps a print type to a DAP output event category.
func (p PrintType) Category() string {
	switch p {
	case PrintWarning:
		return "console"
	case PrintError:
		return "stderr"
	default:
		return "stdout"
	}
}

// MessageArgs models printConsole and showDialogMessage.
type MessageArgs struct {
	Msg  string    `json:"msg"`
	Type PrintType `json:"type"`
}

// StackFrameInfo is one frame of the stack reported with a pause.
type StackFrameInfo struct {
	FileName     string `json:"fileName"`
	FilePath     string `json:"filePath"`
	CurrentLine  int    `json:"currentline"`
	FunctionName string `json:"functionName"`
}

// PauseArgs models the stop notification sent by the debuggee.
type PauseArgs struct {
	Frames []StackFrameInfo
}

// ScopesReply models the getScopes reply: root category name to table key.
type ScopesReply struct {
	FrameID int
	Roots   map[string]string
}

// Value is one remote value as produced by the in-process introspector.
// Fields is only populated for the composite at the top of a reply; nested
// composites carry their table key in Var.
type Value struct {
	Type   string
	Var    string
	Fields map[string]Value
}

// IsTable reports whether the value is composite.
func (v Value) IsTable() bool {
	return v.Type == TypeTable
}

// SortedKeys returns the composite's child keys in ascending order.
func (v Value) SortedKeys() []string {
	keys := make([]string, 0, len(v.Fields))
	for key := range v.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// VariableReply models getVariable and watchVariable replies.
type VariableReply struct {
	FrameID  int
	Path     string
	Exp      string
	RealPath string
	TableKey string
	Vars     Value
}

// ScopesRequestArgs is sent with getScopes.
type ScopesRequestArgs struct {
	FrameID int `json:"frameId"`
}

// VariableRequestArgs is sent with getVariable.
type VariableRequestArgs struct {
	FrameID int    `json:"frameId"`
	Path    string `json:"path"`
}

// WatchRequestArgs is sent with watchVariable.
type WatchRequestArgs struct {
	FrameID int    `json:"frameId"`
	Exp     string `json:"exp"`
}

// BreakpointsArgs is sent with setBreakpoints; Buckets maps short file name to records.
type BreakpointsArgs struct {
	Buckets any `json:"breakPoints"`
}

// ReloadLuaArgs is forwarded to the support socket.
type ReloadLuaArgs struct {
	LuaPath  string `json:"luaPath"`
	FullPath string `json:"fullPath"`
}

// StartDebugArgs asks an attach target to connect back to the adapter.
type StartDebugArgs struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Codec handles encoding and decoding of newline-delimited command objects.
type Codec struct {
	knownCommands map[string]struct{}
	decoders      map[string]func(args gjson.Result) any
}

// NewCodec creates a message codec.
func NewCodec() *Codec {
	return &Codec{
		knownCommands: map[string]struct{}{
			CommandInitialize:        {},
			CommandSetBreakpoints:    {},
			CommandPause:             {},
			CommandContinue:          {},
			CommandNext:              {},
			CommandStepIn:            {},
			CommandStepOut:           {},
			CommandStop:              {},
			CommandGetScopes:         {},
			CommandGetVariable:       {},
			CommandWatchVariable:     {},
			CommandPrintConsole:      {},
			CommandReloadLua:         {},
			CommandShowDialogMessage: {},
			CommandResetStackInfo:    {},
			CommandStartDebug:        {},
		},
		decoders: map[string]func(args gjson.Result) any{
			CommandPrintConsole:      decodeMessageArgs,
			CommandShowDialogMessage: decodeMessageArgs,
			CommandPause:             decodePauseArgs,
			CommandGetScopes:         decodeScopesReply,
			CommandGetVariable:       decodeVariableReply,
			CommandWatchVariable:     decodeVariableReply,
		},
	}
}

type envelope struct {
	Command string `json:"command"`
	Args    any    `json:"args"`
}

// EncodeCommand marshals a command payload as {"command":...,"args":...}.
// Missing args are sent as an empty string, which the debuggee expects.
func (c *Codec) EncodeCommand(command string, args any) (string, error) {
	if args == nil {
		args = ""
	}
	payload, err := json.Marshal(envelope{Command: command, Args: args})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// DecodePayload decodes one line into a command or raw representation.
// Arguments are read from "args", falling back to "arguments".
func (c *Codec) DecodePayload(payload string) (DecodedPayload, error) {
	if !gjson.Valid(payload) {
		return DecodedPayload{Kind: KindRaw, Raw: payload}, nil
	}
	parsed := gjson.Parse(payload)
	if !parsed.IsObject() {
		return DecodedPayload{Kind: KindRaw, Raw: payload}, nil
	}
	command := parsed.Get("command")
	if command.Type != gjson.String || command.Str == "" {
		return DecodedPayload{Kind: KindRaw, Raw: payload}, nil
	}

	args := parsed.Get("args")
	if !args.Exists() {
		args = parsed.Get("arguments")
	}

	_, known := c.knownCommands[command.Str]
	decodedArgs := any(args)
	if decoder, ok := c.decoders[command.Str]; ok {
		decodedArgs = decoder(args)
	}

	return DecodedPayload{
		Kind:    KindCommand,
		Raw:     payload,
		Command: command.Str,
		Args:    decodedArgs,
		Known:   known,
	}, nil
}

func decodeMessageArgs(args gjson.Result) any {
	return MessageArgs{
		Msg:  args.Get("msg").String(),
		Type: PrintType(args.Get("type").Int()),
	}
}

func decodePauseArgs(args gjson.Result) any {
	frames := args
	if args.IsObject() {
		frames = args.Get("stackFrames")
	}
	var out PauseArgs
	for _, frame := range frames.Array() {
		out.Frames = append(out.Frames, StackFrameInfo{
			FileName:     frame.Get("fileName").String(),
			FilePath:     frame.Get("filePath").String(),
			CurrentLine:  int(frame.Get("currentline").Int()),
			FunctionName: frame.Get("functionName").String(),
		})
	}
	return out
}

func decodeScopesReply(args gjson.Result) any {
	reply := ScopesReply{
		FrameID: int(args.Get("frameId").Int()),
		Roots:   map[string]string{},
	}
	args.Get("struct").ForEach(func(key, value gjson.Result) bool {
		reply.Roots[key.String()] = value.String()
		return true
	})
	return reply
}

func decodeVariableReply(args gjson.Result) any {
	return VariableReply{
		FrameID:  int(args.Get("frameId").Int()),
		Path:     args.Get("path").String(),
		Exp:      args.Get("exp").String(),
		RealPath: args.Get("realPath").String(),
		TableKey: args.Get("tbkey").String(),
		Vars:     DecodeValue(args.Get("vars")),
	}
}

// DecodeValue converts a {type, var} object into a Value.
func DecodeValue(raw gjson.Result) Value {
	value := Value{Type: raw.Get("type").String()}
	v := raw.Get("var")
	if !v.IsObject() {
		value.Var = v.String()
		return value
	}
	value.Fields = map[string]Value{}
	v.ForEach(func(key, child gjson.Result) bool {
		value.Fields[key.String()] = Value{
			Type: child.Get("type").String(),
			Var:  child.Get("var").String(),
		}
		return true
	})
	return value
}
