package repository

import (
	"context"

	"chatsync/internal/domain/entity"
)

// TokenSource hands out an access token that is valid right now. It may refresh
// behind the scenes and must fail when neither access nor refresh token works.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

// TokenInvalidator is implemented by token sources that can drop an access
// token the server refused, so the next call refreshes it.
type TokenInvalidator interface {
	InvalidateAccessToken(token string)
}

// MessageRepository is the request/response side of the backend: history for
// initial hydration and the reliable send path used while the socket is down.
type MessageRepository interface {
	GetMessagesByConversation(ctx context.Context, conversationID string) ([]entity.Message, error)
	SendMessage(ctx context.Context, payload entity.SendPayload) (*entity.Message, error)
}

// TimelineStore caches conversation snapshots locally between runs.
type TimelineStore interface {
	SaveConversation(ctx context.Context, conv entity.Conversation) error
	LoadConversation(ctx context.Context, conversationID string) (*entity.Conversation, error)
	Close() error
}

// ChatRepository is the relay's conversation log.
type ChatRepository interface {
	AddParticipants(ctx context.Context, conversationID string, userIDs ...string) error
	GetParticipants(ctx context.Context, conversationID string) ([]string, error)
	CreateMessage(ctx context.Context, message *entity.Message) error
	GetMessageByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error)
	GetMessagesByConversation(ctx context.Context, conversationID string) ([]entity.Message, error)
	UpdateMessageState(ctx context.Context, conversationID, messageID string, state entity.DeliveryState) (*entity.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error)
	RecallMessage(ctx context.Context, conversationID, messageID, actorID string) (*entity.Message, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}
