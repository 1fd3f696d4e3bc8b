package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
)

// memoryChatRepository keeps the relay's conversations in process memory.
type memoryChatRepository struct {
	mu            sync.RWMutex
	conversations map[string][]*entity.Message
	participants  map[string][]string
	now           func() time.Time
}

func NewMemoryChatRepository() repository.ChatRepository {
	return &memoryChatRepository{
		conversations: make(map[string][]*entity.Message),
		participants:  make(map[string][]string),
		now:           time.Now,
	}
}

func (r *memoryChatRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	if message.ConversationID == "" {
		return errors.BadRequest("conversation_id is required", nil)
	}
	if message.ServerID == "" {
		message.ServerID = uuid.New().String()
	}
	message.CreatedAt = r.now().UTC()
	if !message.State.Valid() {
		message.State = entity.StateSent
	}

	stored := *message
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.addParticipantsLocked(message.ConversationID, message.SenderID, message.ReceiverID); err != nil {
		return err
	}
	r.conversations[message.ConversationID] = append(r.conversations[message.ConversationID], &stored)
	return nil
}

// AddParticipants records userIDs as members of the conversation. A
// conversation has at most two members.
func (r *memoryChatRepository) AddParticipants(ctx context.Context, conversationID string, userIDs ...string) error {
	if conversationID == "" {
		return errors.BadRequest("conversation_id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addParticipantsLocked(conversationID, userIDs...)
}

func (r *memoryChatRepository) addParticipantsLocked(conversationID string, userIDs ...string) error {
	members := slices.Clone(r.participants[conversationID])
	for _, id := range userIDs {
		if id == "" || slices.Contains(members, id) {
			continue
		}
		if len(members) == 2 {
			return errors.Forbidden("You are not part of this conversation", nil)
		}
		members = append(members, id)
	}
	r.participants[conversationID] = members
	return nil
}

// GetParticipants returns the known members, none for an unknown conversation.
func (r *memoryChatRepository) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.participants[conversationID]), nil
}

func (r *memoryChatRepository) find(conversationID, messageID string) *entity.Message {
	for _, m := range r.conversations[conversationID] {
		if m.ServerID == messageID {
			return m
		}
	}
	return nil
}

func (r *memoryChatRepository) GetMessageByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.find(conversationID, messageID)
	if m == nil {
		return nil, errors.NotFound("Message", nil)
	}
	copied := *m
	return &copied, nil
}

func (r *memoryChatRepository) GetMessagesByConversation(ctx context.Context, conversationID string) ([]entity.Message, error) {
	r.mu.RLock()
	stored := r.conversations[conversationID]
	messages := make([]entity.Message, len(stored))
	for i, m := range stored {
		messages[i] = *m
	}
	r.mu.RUnlock()

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// UpdateMessageState advances the delivery state; it never moves it back.
func (r *memoryChatRepository) UpdateMessageState(ctx context.Context, conversationID, messageID string, state entity.DeliveryState) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.find(conversationID, messageID)
	if m == nil {
		return nil, errors.NotFound("Message", nil)
	}
	m.State = m.State.Advance(state)
	if m.State == entity.StateRead {
		m.IsRead = true
	}
	copied := *m
	return &copied, nil
}

func (r *memoryChatRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, m := range r.conversations[conversationID] {
		if m.ReceiverID == readerID && m.State != entity.StateRead {
			m.State = entity.StateRead
			m.IsRead = true
			changed++
		}
	}
	return changed, nil
}

// RecallMessage deletes a message on behalf of its sender. Recalling twice is allowed.
func (r *memoryChatRepository) RecallMessage(ctx context.Context, conversationID, messageID, actorID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.find(conversationID, messageID)
	if m == nil {
		return nil, errors.NotFound("Message", nil)
	}
	if m.SenderID != actorID {
		return nil, errors.Forbidden("only the sender can recall a message", nil)
	}
	m.IsDeleted = true
	copied := *m
	return &copied, nil
}

func (r *memoryChatRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, m := range r.conversations[conversationID] {
		if m.ReceiverID == userID && m.State != entity.StateRead && !m.IsDeleted {
			count++
		}
	}
	return count, nil
}
