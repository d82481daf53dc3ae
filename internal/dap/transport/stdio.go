// Package transport frames DAP messages on the IDE side of the adapter.
package transport

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/google/go-dap"
	"github.com/tidwall/gjson"
)

// Envelope is the routing view of one inbound DAP message.
type Envelope struct {
	Seq     int
	Type    string
	Command string
	// Arguments is the raw "arguments" member; it may not exist.
	Arguments gjson.Result
	Raw       []byte
}

// ReadPayload reads one Content-Length framed message body.
func ReadPayload(reader *bufio.Reader) ([]byte, error) {
	return dap.ReadBaseMessage(reader)
}

// PeekEnvelope extracts the routing fields of a message without decoding it
// into a typed request, so that custom commands unknown to go-dap can be
// dispatched too.
func PeekEnvelope(payload []byte) Envelope {
	fields := gjson.GetManyBytes(payload, "seq", "type", "command", "arguments")
	return Envelope{
		Seq:       int(fields[0].Int()),
		Type:      fields[1].String(),
		Command:   fields[2].String(),
		Arguments: fields[3],
		Raw:       payload,
	}
}

// WritePayload marshals message and writes it with a Content-Length header.
func WritePayload(w io.Writer, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return dap.WriteBaseMessage(w, payload)
}
