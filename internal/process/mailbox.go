package process

import (
	"fmt"
	"time"
)

// Message is a single mailbox entry, per spec.md §4.4.5.
type Message struct {
	ID        string    `json:"id"`
	FromPID   int       `json:"from_pid"`
	ToPID     int       `json:"to_pid"`
	FromUID   string    `json:"from_uid"`
	ToUID     string    `json:"to_uid"`
	Channel   string    `json:"channel"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"ts"`
	Delivered bool      `json:"delivered"`
}

// mailbox holds one process's pending messages in enqueue order. IDs are
// "msg_<n>" with a per-mailbox monotonic counter, per spec.md §4.4.5.
type mailbox struct {
	seq      int
	messages []Message
	lastTS   time.Time
}

func newMailbox() *mailbox {
	return &mailbox{}
}

func (m *mailbox) append(fromPID, toPID int, fromUID, toUID, channel string, payload any) Message {
	m.seq++
	ts := time.Now()
	if !ts.After(m.lastTS) {
		ts = m.lastTS.Add(time.Nanosecond)
	}
	m.lastTS = ts

	msg := Message{
		ID:        fmt.Sprintf("msg_%d", m.seq),
		FromPID:   fromPID,
		ToPID:     toPID,
		FromUID:   fromUID,
		ToUID:     toUID,
		Channel:   channel,
		Payload:   payload,
		Timestamp: ts,
	}
	m.messages = append(m.messages, msg)
	return msg
}

// drain atomically swaps the mailbox's message list for an empty one,
// marking every returned message delivered, per spec.md §4.4.5.
func (m *mailbox) drain() []Message {
	out := m.messages
	m.messages = nil
	for i := range out {
		out[i].Delivered = true
	}
	return out
}
