package entity

import "time"

// RecalledPlaceholder replaces the content of a recalled message wherever it is displayed.
const RecalledPlaceholder = "This message was recalled."

type DeliveryState string

const (
	StatePending   DeliveryState = "PENDING"
	StateSent      DeliveryState = "SENT"
	StateDelivered DeliveryState = "DELIVERED"
	StateRead      DeliveryState = "READ"
	StateFailed    DeliveryState = "FAILED"
)

// StatusDeleted is the wire status carried by recall events. It is not a
// delivery state: recall is tracked by Message.IsDeleted.
const StatusDeleted DeliveryState = "DELETED"

var stateRank = map[DeliveryState]int{
	StateFailed:    0,
	StatePending:   1,
	StateSent:      2,
	StateDelivered: 3,
	StateRead:      4,
}

// Advance returns the later of the two states. Delivery never moves backwards,
// and FAILED only gives way to a confirmed state.
func (s DeliveryState) Advance(next DeliveryState) DeliveryState {
	cur, okCur := stateRank[s]
	nxt, okNext := stateRank[next]
	switch {
	case !okNext:
		return s
	case !okCur:
		return next
	case s == StateFailed && next == StatePending:
		return s
	case nxt > cur:
		return next
	}
	return s
}

func (s DeliveryState) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

type Message struct {
	ServerID        string        `json:"message_id,omitempty"`
	ClientMessageID string        `json:"client_message_id,omitempty"`
	ConversationID  string        `json:"conversation_id"`
	SenderID        string        `json:"sender_id"`
	ReceiverID      string        `json:"receiver_id"`
	SenderName      string        `json:"sender_name,omitempty"`
	Content         string        `json:"content"`
	MessageType     string        `json:"message_type,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	State           DeliveryState `json:"state,omitempty"`
	IsRead          bool          `json:"is_read,omitempty"`
	IsDeleted       bool          `json:"is_deleted,omitempty"`
}

func (m Message) DisplayText() string {
	if m.IsDeleted {
		return RecalledPlaceholder
	}
	return m.Content
}

func (m Message) Confirmed() bool {
	return m.ServerID != ""
}
