package websocket

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"chatsync/internal/domain/entity"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// HandleClientFrame processes one frame read from client.
func (m *Manager) HandleClientFrame(client *Client, data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		logger.Warn("Relay: malformed frame from %s: %v", client.UserID, err)
		m.sendError(client, "", apperrors.CodeMalformed, "invalid frame")
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		client.subscribe(frame.Destination)
		if frame.Destination == TopicPresence {
			m.sendPresenceSnapshot(client)
		}

	case FrameUnsubscribe:
		client.unsubscribe(frame.Destination)

	case FrameSend:
		if m.limiter != nil {
			if ok, wait := m.limiter.Allow(client.UserID, frame.Destination); !ok {
				m.metrics.RelayRateLimited()
				logger.Debug("Relay: %s rate limited on %s for %v", client.UserID, frame.Destination, wait)
				m.sendError(client, frame.Destination, apperrors.CodeTooManyRequests, "rate limit exceeded")
				return
			}
		}
		if err := m.handleSend(client.UserID, frame); err != nil {
			code, message := apperrors.CodeInternal, err.Error()
			if appErr, ok := err.(*apperrors.AppError); ok {
				code, message = appErr.Code, appErr.Message
			}
			m.sendError(client, frame.Destination, code, message)
		}

	default:
		m.sendError(client, frame.Destination, apperrors.CodeBadRequest, "unsupported frame type "+frame.Type)
	}
}

func (m *Manager) handleSend(userID string, frame Frame) error {
	ctx := context.Background()

	switch frame.Destination {
	case DestinationChatSend:
		var payload entity.SendPayload
		if err := json.Unmarshal(frame.Body, &payload); err != nil {
			return apperrors.Malformed("invalid chat payload", err)
		}
		_, err := m.SubmitMessage(ctx, userID, payload)
		return err

	case DestinationTyping:
		return m.forwardTyping(userID, frame.Body)

	case DestinationStatus:
		var update entity.StatusUpdate
		if err := json.Unmarshal(frame.Body, &update); err != nil {
			return apperrors.Malformed("invalid status payload", err)
		}
		return m.UpdateStatus(ctx, userID, update)

	case DestinationRecall:
		var req entity.RecallRequest
		if err := json.Unmarshal(frame.Body, &req); err != nil {
			return apperrors.Malformed("invalid recall payload", err)
		}
		return m.Recall(ctx, userID, req)
	}
	return apperrors.NotFound("destination "+frame.Destination, nil)
}

// SubmitMessage stores a message from senderID and fans it out: the sender gets
// the confirmation, the receiver the message and its unread counter, and the
// sender a DELIVERED status when the receiver is online.
func (m *Manager) SubmitMessage(ctx context.Context, senderID string, payload entity.SendPayload) (*entity.Message, error) {
	payload.Content = strings.TrimSpace(payload.Content)
	if payload.ConversationID == "" || payload.ReceiverID == "" || payload.Content == "" {
		return nil, apperrors.BadRequest("conversation_id, receiver_id and content are required", nil)
	}
	if payload.ReceiverID == senderID {
		return nil, apperrors.BadRequest("cannot message yourself", nil)
	}

	msg := &entity.Message{
		ClientMessageID: payload.ClientMessageID,
		ConversationID:  payload.ConversationID,
		SenderID:        senderID,
		ReceiverID:      payload.ReceiverID,
		Content:         payload.Content,
		MessageType:     "text",
		State:           entity.StateSent,
	}
	if err := m.chats.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	m.SendToUser(senderID, QueueChat, entity.ChatMessageEvent{
		Message:         msg,
		Status:          entity.StateSent,
		ClientMessageID: payload.ClientMessageID,
	})

	forwarded := *msg
	forwarded.ClientMessageID = ""
	m.SendToUser(payload.ReceiverID, QueueChat, entity.ChatMessageEvent{Message: &forwarded})

	if m.IsOnline(payload.ReceiverID) {
		if delivered, err := m.chats.UpdateMessageState(ctx, msg.ConversationID, msg.ServerID, entity.StateDelivered); err == nil {
			msg = delivered
			m.SendToUser(senderID, QueueStatus, entity.StatusPayload{
				MessageID:      msg.ServerID,
				ConversationID: msg.ConversationID,
				ActorID:        payload.ReceiverID,
				PartnerID:      payload.ReceiverID,
				Status:         entity.StateDelivered,
			})
		}
	}
	m.pushUnread(ctx, msg.ConversationID, payload.ReceiverID)

	logger.Debug("Relay: message %s from %s to %s", msg.ServerID, senderID, payload.ReceiverID)
	return msg, nil
}

func (m *Manager) forwardTyping(userID string, body json.RawMessage) error {
	if !gjson.ValidBytes(body) {
		return apperrors.Malformed("invalid typing payload", nil)
	}
	fields := gjson.GetManyBytes(body, "conversation_id", "receiver_id", "typing")
	conversationID, receiverID := fields[0].String(), fields[1].String()
	if conversationID == "" || receiverID == "" {
		return apperrors.BadRequest("conversation_id and receiver_id are required", nil)
	}

	m.SendToUser(receiverID, QueueTyping, entity.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Typing:         fields[2].Bool(),
	})
	return nil
}

// UpdateStatus applies a receipt from actorID. Without a message id a READ
// covers the whole conversation.
func (m *Manager) UpdateStatus(ctx context.Context, actorID string, update entity.StatusUpdate) error {
	if update.ConversationID == "" {
		return apperrors.BadRequest("conversation_id is required", nil)
	}
	if update.Status == entity.StatusDeleted {
		return m.Recall(ctx, actorID, entity.RecallRequest{
			MessageID:      update.MessageID,
			ConversationID: update.ConversationID,
			PartnerID:      update.PartnerID,
		})
	}
	if update.Status != entity.StateDelivered && update.Status != entity.StateRead {
		return apperrors.BadRequest("status must be DELIVERED or READ", nil)
	}

	if update.MessageID == "" {
		if update.Status != entity.StateRead || update.PartnerID == "" {
			return apperrors.BadRequest("conversation receipts need partner_id and READ", nil)
		}
		if _, err := m.chats.MarkConversationRead(ctx, update.ConversationID, actorID); err != nil {
			return err
		}
		m.SendToUser(update.PartnerID, QueueStatus, entity.StatusPayload{
			ConversationID: update.ConversationID,
			ActorID:        actorID,
			PartnerID:      actorID,
			Status:         entity.StateRead,
		})
		m.pushUnread(ctx, update.ConversationID, actorID)
		return nil
	}

	current, err := m.chats.GetMessageByID(ctx, update.ConversationID, update.MessageID)
	if err != nil {
		return err
	}
	if current.ReceiverID != actorID {
		return apperrors.Forbidden("only the receiver can acknowledge a message", nil)
	}
	msg, err := m.chats.UpdateMessageState(ctx, update.ConversationID, update.MessageID, update.Status)
	if err != nil {
		return err
	}

	m.SendToUser(msg.SenderID, QueueStatus, entity.StatusPayload{
		MessageID:      msg.ServerID,
		ConversationID: msg.ConversationID,
		ActorID:        actorID,
		PartnerID:      actorID,
		Status:         msg.State,
	})
	if msg.State == entity.StateRead {
		m.pushUnread(ctx, msg.ConversationID, actorID)
	}
	return nil
}

// Recall deletes a message for both parties.
func (m *Manager) Recall(ctx context.Context, actorID string, req entity.RecallRequest) error {
	if req.MessageID == "" || req.ConversationID == "" {
		return apperrors.BadRequest("message_id and conversation_id are required", nil)
	}
	msg, err := m.chats.RecallMessage(ctx, req.ConversationID, req.MessageID, actorID)
	if err != nil {
		return err
	}

	status := entity.StatusPayload{
		MessageID:      msg.ServerID,
		ConversationID: msg.ConversationID,
		ActorID:        actorID,
		Status:         entity.StatusDeleted,
	}
	for _, userID := range []string{msg.SenderID, msg.ReceiverID} {
		status.PartnerID = msg.SenderID
		if userID == msg.SenderID {
			status.PartnerID = msg.ReceiverID
		}
		m.SendToUser(userID, QueueStatus, status)
	}
	m.pushUnread(ctx, msg.ConversationID, msg.ReceiverID)
	return nil
}

func (m *Manager) pushUnread(ctx context.Context, conversationID, userID string) {
	total, err := m.chats.CountUnread(ctx, conversationID, userID)
	if err != nil {
		logger.Warn("Relay: unread count for %s: %v", userID, err)
		return
	}
	m.SendToUser(userID, QueueUnread, entity.UnreadEvent{ConversationID: conversationID, Total: total})
}
