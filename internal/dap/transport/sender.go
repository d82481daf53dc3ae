package transport

import (
	"bufio"
	"io"

	"github.com/google/go-dap"
	"github.com/rs/zerolog/log"

	"github.com/stefan/lua-dap/internal/syncx"
)

const sendQueueSize = 256

// Sender serializes outbound messages through one goroutine and assigns
// sequence numbers in the order messages are written.
type Sender struct {
	out     *bufio.Writer
	queue   chan dap.Message
	done    chan struct{}
	stopped chan struct{}
	once    syncx.Once
	nextSeq int
}

// NewSender creates a sender writing to out. Run must be started to drain it.
func NewSender(out io.Writer) *Sender {
	return &Sender{
		out:     bufio.NewWriter(out),
		queue:   make(chan dap.Message, sendQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		nextSeq: 1,
	}
}

// Send queues message. It is dropped once the sender is closed.
func (s *Sender) Send(message dap.Message) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- message:
	case <-s.done:
	}
}

// Run writes queued messages until Close is called, then flushes what is
// still queued and returns. A write error ends the loop.
func (s *Sender) Run() error {
	defer close(s.stopped)
	for {
		select {
		case message := <-s.queue:
			if err := s.write(message); err != nil {
				return err
			}
		case <-s.done:
			for {
				select {
				case message := <-s.queue:
					if err := s.write(message); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

// Close stops the sender and waits for Run to flush. Run must have been started.
func (s *Sender) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Sender) write(message dap.Message) error {
	switch m := message.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = s.nextSeq
	case dap.EventMessage:
		m.GetEvent().Seq = s.nextSeq
	}
	s.nextSeq++

	if err := WritePayload(s.out, message); err != nil {
		log.Error().Err(err).Msg("failed to write DAP message")
		return err
	}
	return s.out.Flush()
}
