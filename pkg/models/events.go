package models

import (
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	EventRegisterUser = "registerUser"
	EventOpenChat     = "openChat"
	EventCloseChat    = "closeChat"
	EventSendMessage  = "sendMessage"
	EventSendTyping   = "sendTyping"
	EventRemoveTyping = "removeTyping"
	EventSendReaction = "sendReaction"
)

// Outbound event names.
const (
	EventReceiveMessage      = "receiveMessage"
	EventReceiveTyping       = "receiveTyping"
	EventReceiveRemoveTyping = "receiveRemoveTyping"
	EventSeenMessage         = "seenMessage"
	EventReceiveReaction     = "receiveReaction"
	EventAck                 = "ack"
	EventDeclined            = "declined"
)

// Frame is the websocket envelope in both directions.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of client to server events.
type Inbound interface {
	inbound()
	Name() string
}

type RegisterUser struct {
	UserID    string `json:"userId"`
	Signature string `json:"signature"`
}

type OpenChat struct {
	UserID    string `json:"userId"`
	PartnerID string `json:"partnerId"`
}

type CloseChat struct {
	UserID string `json:"userId"`
}

// OutgoingMessage is the message body of a sendMessage event.
type OutgoingMessage struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
	ReplyTo  *struct {
		ID uint64 `json:"id"`
	} `json:"replyTo,omitempty"`
}

type SendMessage struct {
	Message OutgoingMessage `json:"message"`
	Page    int             `json:"page,omitempty"`
}

type SendTyping struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

type RemoveTyping struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

type SendReaction struct {
	Message struct {
		ID       uint64 `json:"id"`
		Reaction string `json:"reaction"`
	} `json:"message"`
}

func (RegisterUser) inbound() {}
func (OpenChat) inbound()     {}
func (CloseChat) inbound()    {}
func (SendMessage) inbound()  {}
func (SendTyping) inbound()   {}
func (RemoveTyping) inbound() {}
func (SendReaction) inbound() {}

func (RegisterUser) Name() string { return EventRegisterUser }
func (OpenChat) Name() string     { return EventOpenChat }
func (CloseChat) Name() string    { return EventCloseChat }
func (SendMessage) Name() string  { return EventSendMessage }
func (SendTyping) Name() string   { return EventSendTyping }
func (RemoveTyping) Name() string { return EventRemoveTyping }
func (SendReaction) Name() string { return EventSendReaction }

// UnknownEventError is returned for a frame type outside the inbound set.
type UnknownEventError struct{ Type string }

func (e *UnknownEventError) Error() string { return fmt.Sprintf("unknown event type %q", e.Type) }

// DecodeInbound parses a frame into its inbound variant.
func DecodeInbound(f Frame) (Inbound, error) {
	var ev Inbound
	switch f.Type {
	case EventRegisterUser:
		ev = &RegisterUser{}
	case EventOpenChat:
		ev = &OpenChat{}
	case EventCloseChat:
		ev = &CloseChat{}
	case EventSendMessage:
		ev = &SendMessage{}
	case EventSendTyping:
		ev = &SendTyping{}
	case EventRemoveTyping:
		ev = &RemoveTyping{}
	case EventSendReaction:
		ev = &SendReaction{}
	default:
		return nil, &UnknownEventError{Type: f.Type}
	}
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, ev); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Type, err)
		}
	}
	return ev, nil
}

// Outbound is the closed set of server to client events.
type Outbound interface {
	outbound()
	Name() string
}

type ReceiveMessage struct {
	Message MessageView `json:"message"`
}

type ReceiveTyping struct {
	Sender string `json:"sender"`
	// SameChatPartner is the receiver's currently open partner, empty if none.
	SameChatPartner string `json:"sameChatPartner"`
}

type ReceiveRemoveTyping struct {
	Sender string `json:"sender"`
}

type SeenMessage struct {
	UserID string `json:"userId"`
}

type ReceiveReaction struct {
	Message Reaction `json:"message"`
}

// Ack confirms a request frame. Data carries the operation result.
type Ack struct {
	Ref  string `json:"ref"`
	Data any    `json:"data,omitempty"`
}

// Declined reports an operation refused without closing the connection.
type Declined struct {
	Ref    string `json:"ref"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (ReceiveMessage) outbound()      {}
func (ReceiveTyping) outbound()       {}
func (ReceiveRemoveTyping) outbound() {}
func (SeenMessage) outbound()         {}
func (ReceiveReaction) outbound()     {}
func (Ack) outbound()                 {}
func (Declined) outbound()            {}

func (ReceiveMessage) Name() string      { return EventReceiveMessage }
func (ReceiveTyping) Name() string       { return EventReceiveTyping }
func (ReceiveRemoveTyping) Name() string { return EventReceiveRemoveTyping }
func (SeenMessage) Name() string         { return EventSeenMessage }
func (ReceiveReaction) Name() string     { return EventReceiveReaction }
func (Ack) Name() string                 { return EventAck }
func (Declined) Name() string            { return EventDeclined }

// EncodeOutbound wraps ev in a frame. id echoes the request frame id.
func EncodeOutbound(id string, ev Outbound) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return json.Marshal(Frame{Type: ev.Name(), ID: id, Payload: payload})
}
