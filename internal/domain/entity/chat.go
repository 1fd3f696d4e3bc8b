package entity

import "time"

// Conversation is a read-only snapshot of one two-party thread.
type Conversation struct {
	ID             string    `json:"id"`
	ParticipantIDs []string  `json:"participant_ids"`
	Messages       []Message `json:"messages"`
	UnreadCount    int       `json:"unread_count"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
}

// Partner returns the participant that is not viewerID.
func (c Conversation) Partner(viewerID string) string {
	for _, id := range c.ParticipantIDs {
		if id != viewerID {
			return id
		}
	}
	return ""
}

// Pending reports whether any message is still waiting for confirmation.
func (c Conversation) Pending() bool {
	for _, m := range c.Messages {
		if m.State == StatePending {
			return true
		}
	}
	return false
}

func (c Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
