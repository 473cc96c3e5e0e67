package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message represents an individual entry of the conversation history. It contains the participant who
// sent it, the raw content as typed or as received from the answering backend, and the time it was
// created. Messages are immutable once created: the history only ever grows by appending new values.
type Message struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender represents the participant that produced a message.
type Sender string

// Reply is the answer returned by the query endpoint for a single user query.
type Reply struct {
	// Text is the raw, pre-formatting reply text.
	Text string
	// Topic is the matched topic marker. It is empty when the backend did not resolve the query to a
	// known topic, in which case no follow-up suggestions are fetched.
	Topic string
}

const (
	// SenderUser represents a message typed (or selected) by the person using the widget.
	SenderUser Sender = "user"
	// SenderBot represents a message produced by the answering backend, including fallback replies.
	SenderBot Sender = "bot"
)

// clockLayout renders a 12-hour clock with zero-padded minutes and an AM/PM suffix, e.g. "3:04 PM".
const clockLayout = "3:04 PM"

// NewMessage creates a message with the given sequence number. The ID combines the sequence number with
// a random UUID, so IDs sort by creation order while staying unique across resets.
func NewMessage(seq uint64, sender Sender, content string, ts time.Time) Message {
	return Message{
		ID:        fmt.Sprintf("%d-%s", seq, uuid.New().String()),
		Seq:       seq,
		Sender:    sender,
		Content:   content,
		Timestamp: ts,
	}
}

// DisplayTime returns the message timestamp formatted for display.
func (m Message) DisplayTime() string {
	return FormatClock(m.Timestamp)
}

// FormatClock formats t as a 12-hour clock time with zero-padded minutes and AM/PM suffix.
func FormatClock(t time.Time) string {
	return t.Format(clockLayout)
}

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}
