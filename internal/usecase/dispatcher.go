package usecase

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"chatsync/internal/domain/entity"
	ws "chatsync/internal/infrastructure/websocket"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

type SendRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	ReceiverID     string `json:"receiver_id" validate:"required"`
	Content        string `json:"content" validate:"required"`
}

// Outgoing is a chat message handed to the transport and still waiting for
// its acknowledgment.
type Outgoing struct {
	ClientMessageID string
	Payload         entity.SendPayload
	Ack             <-chan Ack
}

// NewClientMessageID returns a time-ordered correlation id for an outgoing message.
func NewClientMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "local-" + uuid.NewString()
	}
	return "local-" + id.String()
}

type Dispatcher struct {
	transport Transport
	pending   *PendingAcks
	validate  *validator.Validate
	senderID  string
}

func NewDispatcher(transport Transport, pending *PendingAcks, senderID string) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		pending:   pending,
		validate:  validator.New(),
		senderID:  senderID,
	}
}

// Validate normalizes req and rejects it when content or ids are missing.
func (d *Dispatcher) Validate(req SendRequest) (SendRequest, error) {
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	req.Content = strings.TrimSpace(req.Content)

	if err := d.validate.Struct(req); err != nil {
		return req, apperrors.BadRequest("invalid chat message", err)
	}
	return req, nil
}

// SendChatMessage publishes a new chat message under a fresh correlation id.
func (d *Dispatcher) SendChatMessage(req SendRequest) (*Outgoing, error) {
	req, err := d.Validate(req)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(req, NewClientMessageID())
}

// Dispatch publishes an already validated request under clientMessageID. The
// resolver is registered before the frame leaves, so a fast confirmation can
// never be missed.
func (d *Dispatcher) Dispatch(req SendRequest, clientMessageID string) (*Outgoing, error) {
	payload := entity.SendPayload{
		ConversationID:  req.ConversationID,
		ReceiverID:      req.ReceiverID,
		Content:         req.Content,
		ClientMessageID: clientMessageID,
		SenderID:        d.senderID,
	}

	ack, err := d.pending.Register(clientMessageID)
	if err != nil {
		return nil, err
	}

	if !d.transport.Publish(ws.DestinationChatSend, payload) {
		d.pending.Cancel(clientMessageID)
		return nil, apperrors.NotConnected("chat transport is not connected")
	}

	logger.Debug("Dispatcher: sent %s to conversation %s", clientMessageID, req.ConversationID)
	return &Outgoing{ClientMessageID: clientMessageID, Payload: payload, Ack: ack}, nil
}

// SendTyping is best effort: false means the signal was dropped.
func (d *Dispatcher) SendTyping(conversationID, receiverID string, typing bool) bool {
	if conversationID == "" || receiverID == "" {
		return false
	}
	return d.transport.Publish(ws.DestinationTyping, entity.TypingSignal{
		ConversationID: conversationID,
		ReceiverID:     receiverID,
		Typing:         typing,
	})
}

// SendStatus is best effort. An empty MessageID acknowledges the whole conversation.
func (d *Dispatcher) SendStatus(update entity.StatusUpdate) bool {
	if update.ConversationID == "" || update.PartnerID == "" {
		return false
	}
	return d.transport.Publish(ws.DestinationStatus, update)
}

func (d *Dispatcher) Recall(req entity.RecallRequest) error {
	if req.MessageID == "" || req.ConversationID == "" || req.PartnerID == "" {
		return apperrors.BadRequest("message_id, conversation_id and partner_id are required", nil)
	}
	if !d.transport.Publish(ws.DestinationRecall, req) {
		return apperrors.NotConnected("cannot recall while disconnected")
	}
	return nil
}
