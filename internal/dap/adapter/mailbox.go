package adapter

import "github.com/stefan/lua-dap/internal/syncx"

// mailbox is the session inbox. Posting never blocks, so transport
// callbacks that fire while the loop itself is closing a peer cannot
// deadlock against it.
type mailbox struct {
	mu     syncx.Mutex
	items  []func()
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.items = append(m.items, fn)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
