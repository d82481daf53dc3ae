package transport

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TrafficDirection indicates whether protocol traffic was inbound or outbound.
type TrafficDirection string

const (
	// DirectionInbound represents payloads read from the debuggee.
	DirectionInbound TrafficDirection = "inbound"
	// DirectionOutbound represents payloads sent to the debuggee.
	DirectionOutbound TrafficDirection = "outbound"
)

// TrafficLogEntry is the decoded form of one traffic log line.
type TrafficLogEntry struct {
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Direction TrafficDirection `json:"direction"`
	Role      string           `json:"role"`
	Payload   string           `json:"payload"`
}

// TrafficLogger records protocol payload traffic.
type TrafficLogger interface {
	LogTraffic(direction TrafficDirection, role Role, payload string)
}

// JSONLTrafficLogger writes one JSON object per payload, numbered in the
// order the payloads crossed either socket.
type JSONLTrafficLogger struct {
	log zerolog.Logger
	seq atomic.Uint64
	now func() time.Time
}

// NewJSONLTrafficLogger creates a structured JSON-lines traffic logger.
func NewJSONLTrafficLogger(w io.Writer) *JSONLTrafficLogger {
	return &JSONLTrafficLogger{
		log: zerolog.New(zerolog.SyncWriter(w)),
		now: time.Now,
	}
}

// OpenTrafficLog opens path for appending, rotating it at maxSizeMB and
// keeping maxBackups old files. Parent directories are created on first write.
func OpenTrafficLog(path string, maxSizeMB, maxBackups int) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
}

// LogTraffic records one traffic entry.
func (l *JSONLTrafficLogger) LogTraffic(direction TrafficDirection, role Role, payload string) {
	if l == nil {
		return
	}
	l.log.Log().
		Uint64("seq", l.seq.Add(1)).
		Time("timestamp", l.now().UTC()).
		Str("direction", string(direction)).
		Str("role", role.String()).
		Str("payload", payload).
		Send()
}
