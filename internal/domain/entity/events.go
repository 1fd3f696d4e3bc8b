package entity

import "time"

// Inbound payloads pushed by the server.

type ChatMessageEvent struct {
	Message         *Message      `json:"message"`
	Status          DeliveryState `json:"status,omitempty"`
	ClientMessageID string        `json:"client_message_id,omitempty"`
}

type StatusPayload struct {
	MessageID      string        `json:"message_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	ActorID        string        `json:"actor_id,omitempty"`
	PartnerID      string        `json:"partner_id,omitempty"`
	Status         DeliveryState `json:"status"`
}

type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

type PresenceEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type UnreadEvent struct {
	ConversationID string `json:"conversation_id"`
	Total          int    `json:"total"`
}

type MatchEvent struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantIDs []string  `json:"participant_ids"`
	PartnerID      string    `json:"partner_id,omitempty"`
	MatchedAt      time.Time `json:"matched_at,omitempty"`
}

// Outbound payloads published by the client.

type SendPayload struct {
	ConversationID  string `json:"conversation_id"`
	ReceiverID      string `json:"receiver_id"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id,omitempty"`
	SenderID        string `json:"sender_id,omitempty"`
}

type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	ReceiverID     string `json:"receiver_id"`
	Typing         bool   `json:"typing"`
}

type StatusUpdate struct {
	MessageID      string        `json:"message_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	PartnerID      string        `json:"partner_id"`
	Status         DeliveryState `json:"status"`
}

type RecallRequest struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	PartnerID      string `json:"partner_id"`
}
