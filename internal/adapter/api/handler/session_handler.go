package handler

import (
	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"chatsync/internal/domain/entity"
	"chatsync/internal/usecase"
	"chatsync/pkg/errors"
	"chatsync/pkg/response"
)

// SessionHandler exposes a running ChatSession over local HTTP so the engine
// can be driven and inspected without a UI.
type SessionHandler struct {
	session *usecase.ChatSession
	userID  string
	state   func() string
}

func NewSessionHandler(session *usecase.ChatSession, userID string, state func() string) *SessionHandler {
	return &SessionHandler{
		session: session,
		userID:  userID,
		state:   state,
	}
}

type conversationSummary struct {
	ID           string   `json:"id"`
	Participants []string `json:"participant_ids"`
	UnreadCount  int      `json:"unread_count"`
	LastMessage  string   `json:"last_message,omitempty"`
	LastActivity string   `json:"last_activity,omitempty"`
	Pending      bool     `json:"pending"`
	Reconnecting bool     `json:"reconnecting"`
}

type conversationView struct {
	entity.Conversation
	Typing        []string `json:"typing"`
	PartnerOnline bool     `json:"partner_online"`
	Reconnecting  bool     `json:"reconnecting"`
}

type openConversationRequest struct {
	PartnerID string `json:"partner_id" validate:"required"`
}

type sessionSendRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required,max=4000"`
}

type sendResultResponse struct {
	ClientMessageID string         `json:"client_message_id"`
	Via             string         `json:"via"`
	Message         entity.Message `json:"message"`
}

type recallRequest struct {
	MessageID string `json:"message_id" validate:"required"`
	PartnerID string `json:"partner_id" validate:"required"`
}

type typingRequest struct {
	PartnerID string `json:"partner_id" validate:"required"`
}

func (h *SessionHandler) summarize(conv entity.Conversation) conversationSummary {
	summary := conversationSummary{
		ID:           conv.ID,
		Participants: conv.ParticipantIDs,
		UnreadCount:  conv.UnreadCount,
		Pending:      conv.Pending(),
		Reconnecting: h.session.Reconnecting(conv.ID),
	}
	if last, ok := conv.Last(); ok {
		summary.LastMessage = last.DisplayText()
	}
	if !conv.LastMessageAt.IsZero() {
		summary.LastActivity = humanize.Time(conv.LastMessageAt)
	}
	return summary
}

func (h *SessionHandler) GetSession(c echo.Context) error {
	conversations := h.session.Conversations()
	unread := 0
	for _, conv := range conversations {
		unread += conv.UnreadCount
	}
	return response.Success(c, map[string]interface{}{
		"user_id":       h.userID,
		"state":         h.state(),
		"connected":     h.session.Connected(),
		"conversations": len(conversations),
		"unread":        unread,
	})
}

func (h *SessionHandler) ListConversations(c echo.Context) error {
	conversations := h.session.Conversations()
	summaries := make([]conversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summaries = append(summaries, h.summarize(conv))
	}
	return response.Success(c, summaries)
}

func (h *SessionHandler) GetConversation(c echo.Context) error {
	conv, ok := h.session.Conversation(c.Param("id"))
	if !ok {
		return response.Error(c, errors.NotFound("Conversation", nil))
	}
	return response.Success(c, h.view(conv))
}

func (h *SessionHandler) view(conv entity.Conversation) conversationView {
	partner := conv.Partner(h.userID)
	typing := h.session.Aggregator().TypingUsers(conv.ID)
	if typing == nil {
		typing = []string{}
	}
	return conversationView{
		Conversation:  conv,
		Typing:        typing,
		PartnerOnline: partner != "" && h.session.IsOnline(partner),
		Reconnecting:  h.session.Reconnecting(conv.ID),
	}
}

func (h *SessionHandler) OpenConversation(c echo.Context) error {
	var req openConversationRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	conv, err := h.session.OpenConversation(c.Request().Context(), c.Param("id"), req.PartnerID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, h.view(conv))
}

func (h *SessionHandler) CloseConversation(c echo.Context) error {
	h.session.CloseConversation()
	return response.Success(c, map[string]bool{"closed": true})
}

func (h *SessionHandler) SendMessage(c echo.Context) error {
	var req sessionSendRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	result, err := h.session.Send(c.Request().Context(), usecase.SendRequest{
		ConversationID: c.Param("id"),
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Accepted(c, sendResultResponse{
		ClientMessageID: result.ClientMessageID,
		Via:             result.Via,
		Message:         result.Message,
	})
}

func (h *SessionHandler) RetryMessage(c echo.Context) error {
	result, err := h.session.Retry(c.Request().Context(), c.Param("id"), c.Param("clientId"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Accepted(c, sendResultResponse{
		ClientMessageID: result.ClientMessageID,
		Via:             result.Via,
		Message:         result.Message,
	})
}

func (h *SessionHandler) RecallMessage(c echo.Context) error {
	var req recallRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	if err := h.session.Recall(c.Request().Context(), c.Param("id"), req.MessageID, req.PartnerID); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message_id": req.MessageID, "status": string(entity.StatusDeleted)})
}

func (h *SessionHandler) Keystroke(c echo.Context) error {
	var req typingRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	h.session.Keystroke(c.Param("id"), req.PartnerID)
	return response.Accepted(c, nil)
}

func (h *SessionHandler) GetPresence(c echo.Context) error {
	userID := c.Param("userId")
	return response.Success(c, map[string]interface{}{
		"user_id": userID,
		"online":  h.session.IsOnline(userID),
	})
}
