package cachesync

import (
	"sync"
	"time"
)

// Mailbox is the one-way channel from the main context to the cache-owning
// context. Posting never blocks longer than the handoff timeout.
type Mailbox struct {
	ch      chan Message
	handoff time.Duration
	once    sync.Once
}

func NewMailbox(buffer int, handoff time.Duration) *Mailbox {
	if buffer <= 0 {
		buffer = 1
	}
	return &Mailbox{ch: make(chan Message, buffer), handoff: handoff}
}

// Messages is drained by a Worker.
func (m *Mailbox) Messages() <-chan Message { return m.ch }

// Close stops accepting messages. Posts after Close report false.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.ch) })
}

// Post hands msg to the cache-owning context. It reports false when the
// mailbox stayed full for the whole handoff timeout or is closed.
func (m *Mailbox) Post(msg Message) bool {
	if m == nil {
		return false
	}
	if send(m.ch, msg, nil) {
		return true
	}
	if m.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(m.handoff)
	defer timer.Stop()
	return send(m.ch, msg, timer.C)
}

// send delivers v on ch, giving up when wait fires. A nil wait makes it
// non-blocking. A closed ch reports false.
func send[T any](ch chan<- T, v T, wait <-chan time.Time) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	if wait == nil {
		select {
		case ch <- v:
			return true
		default:
			return false
		}
	}
	select {
	case ch <- v:
		return true
	case <-wait:
		return false
	}
}
