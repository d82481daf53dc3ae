// Package diagbundle summarises JSONL traffic logs recorded between the
// adapter and the debuggee, for attaching to bug reports.
package diagbundle

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Problem classes.
const (
	ClassNoTraffic  = "no-traffic"
	ClassHandshake  = "connection/handshake"
	ClassDebuggee   = "debuggee-errors"
	ClassUnanswered = "unanswered-requests"
	ClassHealthy    = "healthy"
)

// replyCommands are outbound commands the debuggee answers with the same command.
var replyCommands = []string{"getScopes", "getVariable", "watchVariable"}

// Summary describes one traffic log.
type Summary struct {
	Entries        int            `json:"entries"`
	Malformed      int            `json:"malformed"`
	FirstAt        string         `json:"firstAt"`
	LastAt         string         `json:"lastAt"`
	Inbound        int            `json:"inbound"`
	Outbound       int            `json:"outbound"`
	Roles          map[string]int `json:"roles"`
	Commands       map[string]int `json:"commands"`
	Unanswered     map[string]int `json:"unanswered"`
	DebuggeeErrors []string       `json:"debuggeeErrors"`
	ProblemClass   string         `json:"problemClass"`
	NextActions    []string       `json:"nextActions"`
}

// SummarizeTraffic reads JSON lines of {timestamp, direction, role, payload}.
func SummarizeTraffic(data []byte) (Summary, error) {
	summary := Summary{
		Roles:      map[string]int{},
		Commands:   map[string]int{},
		Unanswered: map[string]int{},
	}
	sent := map[string]int{}
	received := map[string]int{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			summary.Malformed++
			continue
		}
		fields := gjson.GetManyBytes(line, "timestamp", "direction", "role", "payload")
		direction := fields[1].String()
		if direction != "inbound" && direction != "outbound" {
			summary.Malformed++
			continue
		}

		summary.Entries++
		if summary.FirstAt == "" {
			summary.FirstAt = fields[0].String()
		}
		summary.LastAt = fields[0].String()
		summary.Roles[fields[2].String()]++

		payload := gjson.Parse(fields[3].String())
		command := payload.Get("command").String()
		if command == "" {
			command = "(raw)"
		}
		summary.Commands[direction+" "+command]++

		if direction == "inbound" {
			summary.Inbound++
			received[command]++
			if command == "printConsole" && payloadArgs(payload).Get("type").Int() == 2 {
				summary.DebuggeeErrors = append(summary.DebuggeeErrors, payloadArgs(payload).Get("msg").String())
			}
			continue
		}
		summary.Outbound++
		sent[command]++
	}
	if err := scanner.Err(); err != nil {
		return Summary{}, fmt.Errorf("scan traffic log: %w", err)
	}
	if summary.Entries == 0 && summary.Malformed > 0 {
		return Summary{}, errors.New("invalid traffic log: no valid entries")
	}

	for _, command := range replyCommands {
		if missing := sent[command] - received[command]; missing > 0 {
			summary.Unanswered[command] = missing
		}
	}
	summary.ProblemClass = classify(summary, sent)
	summary.NextActions = recommendedActions(summary)
	return summary, nil
}

// payloadArgs returns "args", falling back to "arguments".
func payloadArgs(payload gjson.Result) gjson.Result {
	if args := payload.Get("args"); args.Exists() {
		return args
	}
	return payload.Get("arguments")
}

func classify(summary Summary, sent map[string]int) string {
	switch {
	case summary.Entries == 0:
		return ClassNoTraffic
	case summary.Roles["debug"] == 0 || sent["initialize"] == 0:
		return ClassHandshake
	case len(summary.DebuggeeErrors) > 0:
		return ClassDebuggee
	case len(summary.Unanswered) > 0:
		return ClassUnanswered
	default:
		return ClassHealthy
	}
}

func recommendedActions(summary Summary) []string {
	actions := []string{
		"Attach the traffic log to the issue.",
	}
	if summary.Malformed > 0 {
		actions = append(actions, "Check the log for truncated lines; it may have been written by two sessions.")
	}

	switch summary.ProblemClass {
	case ClassNoTraffic:
		actions = append(actions, "Confirm logging.traffic_file is set and the debuggee reached the adapter port.")
	case ClassHandshake:
		actions = append(actions, "Verify the debuggee opens both the support and the debug connection.")
	case ClassDebuggee:
		actions = append(actions, "Inspect the debuggee errors listed above; they come from the Lua side.")
	case ClassUnanswered:
		actions = append(actions, "Request a minimal Lua repro around the variables that never replied.")
	default:
		actions = append(actions, "Traffic looks complete; collect the adapter log at debug level.")
	}
	return actions
}

// WriteText renders summary for a terminal.
func WriteText(w io.Writer, summary Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Traffic Log Summary\n")
	fmt.Fprintf(&b, "entries: %d (inbound %d, outbound %d)\n", summary.Entries, summary.Inbound, summary.Outbound)
	if summary.Malformed > 0 {
		fmt.Fprintf(&b, "malformed lines: %d\n", summary.Malformed)
	}
	fmt.Fprintf(&b, "first: %s\n", summary.FirstAt)
	fmt.Fprintf(&b, "last: %s\n", summary.LastAt)
	fmt.Fprintf(&b, "roles: %s\n", formatCounts(summary.Roles))
	fmt.Fprintf(&b, "commands: %s\n", formatCounts(summary.Commands))
	if len(summary.Unanswered) > 0 {
		fmt.Fprintf(&b, "unanswered: %s\n", formatCounts(summary.Unanswered))
	}
	for _, msg := range summary.DebuggeeErrors {
		fmt.Fprintf(&b, "debuggee error: %s\n", msg)
	}
	fmt.Fprintf(&b, "problem class: %s\n", summary.ProblemClass)
	fmt.Fprintf(&b, "next actions:\n")
	for _, action := range summary.NextActions {
		fmt.Fprintf(&b, "- %s\n", action)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON renders summary as indented JSON.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, counts[key]))
	}
	return strings.Join(parts, ", ")
}
