package logging

import (
	"sync"
	"sync/atomic"
)

// Message is one diagnostic string handed off to the logger callback. The
// engine allocates it; whoever receives it releases it with FreeMessage
// exactly once. Messages are pooled, so use-after-free means reading someone
// else's text: release discipline matters.
type Message struct {
	text  string
	freed atomic.Bool
}

var messagePool = sync.Pool{
	New: func() interface{} { return new(Message) },
}

func newMessage(text string) *Message {
	msg, _ := messagePool.Get().(*Message)
	msg.text = text
	msg.freed.Store(false)

	return msg
}

// String returns the message text.
func (m *Message) String() string {
	return m.text
}

// FreeMessage releases a message back to the engine. The ownership contract
// demands exactly one release per message; extra releases are ignored rather
// than corrupting the pool.
func FreeMessage(m *Message) {
	if m == nil {
		return
	}

	if !m.freed.CompareAndSwap(false, true) {
		return
	}

	m.text = ""
	messagePool.Put(m)
}
