package models

import (
	"fmt"
	"time"
)

// Sentinel marks a delivered/seen timestamp that has not happened yet.
// Stored values are compared against it exactly, so it must never change.
var Sentinel = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// IsPending reports whether t is the pending sentinel.
func IsPending(t time.Time) bool { return t.Equal(Sentinel) }

// State is the delivery state derived from a message's timestamps.
type State int

const (
	StatePending State = iota
	StateDelivered
	StateSeen
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDelivered:
		return "delivered"
	case StateSeen:
		return "seen"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Message is one direct message between two users.
type Message struct {
	ID        uint64    `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Text      string    `json:"text"`
	Sent      time.Time `json:"sent"`
	Delivered time.Time `json:"delivered"`
	Seen      time.Time `json:"seen"`
}

// NewMessage returns a message in the pending state sent at now.
func NewMessage(sender, receiver, text string, now time.Time) Message {
	return Message{
		Sender:    sender,
		Receiver:  receiver,
		Text:      text,
		Sent:      now,
		Delivered: Sentinel,
		Seen:      Sentinel,
	}
}

func (m Message) State() State {
	if !IsPending(m.Seen) {
		return StateSeen
	}
	if !IsPending(m.Delivered) {
		return StateDelivered
	}
	return StatePending
}

// Partner returns the other party of the message as seen from user.
func (m Message) Partner(user string) string {
	if m.Sender == user {
		return m.Receiver
	}
	return m.Sender
}

// Reply links a message to the earlier message it answers.
type Reply struct {
	MessageID uint64 `json:"message_id"`
	TargetID  uint64 `json:"target_id"`
}

// Reaction is the single reaction attached to a message.
type Reaction struct {
	MessageID uint64 `json:"message_id"`
	Reaction  string `json:"reaction"`
}

// ReplyPreview is the reply target joined into a history row.
type ReplyPreview struct {
	ID     uint64 `json:"id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// MessageView is a message joined with its reply target and reaction.
type MessageView struct {
	Message
	ReplyTo  *ReplyPreview `json:"reply_to,omitempty"`
	Reaction string        `json:"reaction,omitempty"`
}
