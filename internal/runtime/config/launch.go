package config

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/stefan/lua-dap/internal/support/decode"
)

// ErrInvalidPort is returned when launch or attach arguments carry no usable port.
var ErrInvalidPort = errors.New("invalid debugger port")

// LaunchArgs are the debugger settings from a launch or attach request.
type LaunchArgs struct {
	Name    string
	Type    string
	Request string
	Port    int
	// PrintType selects where the debuggee mirrors print: 1 console and stdout, 2 console, 3 stdout.
	PrintType         int
	ExternalVariables []string
	FilterFiles       []string
	// ClientHost is the attach target. Empty for launch.
	ClientHost string
	// Raw is forwarded verbatim to the support peer with initialize.
	Raw map[string]any
}

// Addr returns the listen address for host.
func (a LaunchArgs) Addr(host string) string {
	return fmt.Sprintf("%s:%d", host, a.Port)
}

// FromRequest decodes launch/attach arguments.
func FromRequest(requestCommand string, arguments gjson.Result) (LaunchArgs, error) {
	raw, ok := decode.Object(arguments)
	if !ok {
		return LaunchArgs{}, fmt.Errorf("%s requires arguments with a port: %w", requestCommand, ErrInvalidPort)
	}

	args := LaunchArgs{
		Request: requestCommand,
		Raw:     raw,
	}
	if name, ok := decode.Text(arguments, "name"); ok {
		args.Name = name
	}
	if typ, ok := decode.Text(arguments, "type"); ok {
		args.Type = typ
	}
	if request, ok := decode.TrimmedText(arguments, "request"); ok {
		args.Request = request
	}

	port, ok := decode.Int(arguments, "port")
	if !ok {
		return args, fmt.Errorf("%s requires a port: %w", requestCommand, ErrInvalidPort)
	}
	if port <= 0 || port > 65535 {
		return args, fmt.Errorf("port %d out of range: %w", port, ErrInvalidPort)
	}
	args.Port = port

	if printType, ok := decode.Int(arguments, "printType"); ok {
		args.PrintType = printType
	}
	args.ExternalVariables = decode.Texts(arguments, "externalVariables")
	args.FilterFiles = decode.Texts(arguments, "filterFiles")

	if requestCommand == "attach" {
		host, _ := decode.TrimmedText(arguments, "clientHost")
		if host == "" {
			host = "127.0.0.1"
		}
		args.ClientHost = host
	}
	return args, nil
}
