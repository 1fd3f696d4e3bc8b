package handler

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	ws "chatsync/internal/infrastructure/websocket"
	"chatsync/pkg/errors"
	"chatsync/pkg/response"
	"chatsync/pkg/utils"
)

// ChatHandler serves the relay's REST side: history, the send fallback,
// matches and presence.
type ChatHandler struct {
	chats   repository.ChatRepository
	manager *ws.Manager
}

func NewChatHandler(chats repository.ChatRepository, manager *ws.Manager) *ChatHandler {
	return &ChatHandler{
		chats:   chats,
		manager: manager,
	}
}

type sendMessageRequest struct {
	ConversationID  string `json:"conversation_id" validate:"required"`
	ReceiverID      string `json:"receiver_id" validate:"required"`
	Content         string `json:"content" validate:"required,max=4000"`
	ClientMessageID string `json:"client_message_id" validate:"omitempty,max=128"`
}

type createMatchRequest struct {
	ConversationID string `json:"conversation_id"`
	PartnerID      string `json:"partner_id" validate:"required"`
}

// GetMessages returns the latest messages of a conversation the caller takes part in.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	ctx := c.Request().Context()
	participants, err := h.chats.GetParticipants(ctx, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	if len(participants) > 0 && !slices.Contains(participants, userID) {
		return response.Error(c, errors.Forbidden("You are not part of this conversation", nil))
	}

	messages, err := h.chats.GetMessagesByConversation(ctx, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, utils.Tail(messages, utils.HistoryLimit(c)))
}

// SendMessage is the reliable path used while the caller's socket is down.
// The result is fanned out over sockets exactly like a socket send.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req sendMessageRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	msg, err := h.manager.SubmitMessage(c.Request().Context(), userID, entity.SendPayload{
		ConversationID:  req.ConversationID,
		ReceiverID:      req.ReceiverID,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, msg)
}

// CreateMatch opens a conversation between the caller and a partner and
// notifies both of them.
func (h *ChatHandler) CreateMatch(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req createMatchRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}
	if req.PartnerID == userID {
		return response.Error(c, errors.BadRequest("Cannot match with yourself", nil))
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if err := h.chats.AddParticipants(c.Request().Context(), req.ConversationID, userID, req.PartnerID); err != nil {
		return response.Error(c, err)
	}

	event := entity.MatchEvent{
		ConversationID: req.ConversationID,
		ParticipantIDs: []string{userID, req.PartnerID},
		MatchedAt:      time.Now().UTC(),
	}
	for _, id := range event.ParticipantIDs {
		ev := event
		ev.PartnerID = req.PartnerID
		if id == req.PartnerID {
			ev.PartnerID = userID
		}
		h.manager.SendToUser(id, ws.QueueMatch, ev)
	}

	return response.Created(c, event)
}

func (h *ChatHandler) OnlineUsers(c echo.Context) error {
	return response.Success(c, h.manager.OnlineUsers())
}
