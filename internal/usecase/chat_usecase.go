package usecase

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/internal/infrastructure/metrics"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

type SessionConfig struct {
	UserID          string
	AckTimeout      time.Duration
	TypingExpiry    time.Duration
	TypingQuiet     time.Duration
	TypingHeartbeat time.Duration
}

const (
	ViaSocket = "websocket"
	ViaREST   = "rest"
)

// SendResult describes where an outgoing message went. Settled is closed once
// its outcome (confirmed or FAILED) is reflected in the conversation.
type SendResult struct {
	ClientMessageID string
	Message         entity.Message
	Via             string
	Settled         <-chan struct{}
}

// ChatSession wires transport, dispatcher, router, reconciler, aggregator and
// receipt tracker into one engine for a signed-in user.
type ChatSession struct {
	cfg       SessionConfig
	transport Transport
	messages  repository.MessageRepository
	store     repository.TimelineStore
	metrics   *metrics.Metrics

	pending    *PendingAcks
	dispatcher *Dispatcher
	router     *Router
	reconciler *Reconciler
	aggregator *Aggregator
	receipts   *ReceiptTracker

	mu            sync.Mutex
	started       bool
	activeID      string
	activePartner string
	emitters      map[string]*TypingEmitter
	unsubs        []func()
	wg            sync.WaitGroup
}

// NewChatSession builds a session. store may be nil.
func NewChatSession(
	cfg SessionConfig,
	transport Transport,
	messages repository.MessageRepository,
	store repository.TimelineStore,
	m *metrics.Metrics,
) *ChatSession {
	pending := NewPendingAcks(cfg.AckTimeout, m)
	return &ChatSession{
		cfg:        cfg,
		transport:  transport,
		messages:   messages,
		store:      store,
		metrics:    m,
		pending:    pending,
		dispatcher: NewDispatcher(transport, pending, cfg.UserID),
		router:     NewRouter(pending, m),
		reconciler: NewReconciler(cfg.UserID),
		aggregator: NewAggregator(cfg.TypingExpiry),
		receipts:   NewReceiptTracker(),
		emitters:   make(map[string]*TypingEmitter),
	}
}

func (s *ChatSession) Router() *Router         { return s.router }
func (s *ChatSession) Reconciler() *Reconciler { return s.reconciler }
func (s *ChatSession) Aggregator() *Aggregator { return s.aggregator }

// Start subscribes the engine and opens the connection. Transport failures are
// retried in the background; only authentication failures are returned.
func (s *ChatSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.router.Attach(s.transport)
	s.unsubs = append(s.unsubs,
		s.router.OnChatMessage(s.handleChatMessage),
		s.router.OnStatus(s.handleStatus),
		s.router.OnTyping(s.handleTyping),
		s.router.OnPresence(s.handlePresence),
		s.router.OnUnread(s.handleUnread),
		s.router.OnMatch(s.handleMatch),
		s.transport.OnStateChange(s.handleConnection),
	)

	if err := s.transport.Connect(ctx, false); err != nil {
		if apperrors.Is(err, apperrors.CodeTransport) {
			logger.Warn("ChatSession: initial connect failed, retrying in background: %v", err)
			return nil
		}
		return err
	}
	return nil
}

// Stop flushes typing state, persists open timelines and closes the transport.
// Unresolved acknowledgments settle as timeouts.
func (s *ChatSession) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	emitters := s.emitters
	s.emitters = make(map[string]*TypingEmitter)
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, e := range emitters {
		e.Stop()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	s.router.Detach()

	s.pending.Close()
	s.wg.Wait()
	s.transport.Stop()

	for _, conv := range s.reconciler.Conversations() {
		s.persist(context.Background(), conv)
	}
}

func (s *ChatSession) Connected() bool {
	return s.transport.Connected()
}

// Reconnecting reports whether conversationID has a send in flight while the
// transport is down.
func (s *ChatSession) Reconnecting(conversationID string) bool {
	if s.transport.Connected() {
		return false
	}
	conv, ok := s.reconciler.Snapshot(conversationID)
	return ok && conv.Pending()
}

// OpenConversation makes conversationID the viewed conversation: history is
// hydrated, unread is cleared and the partner is told the thread was read.
func (s *ChatSession) OpenConversation(ctx context.Context, conversationID, partnerID string) (entity.Conversation, error) {
	if conversationID == "" || partnerID == "" {
		return entity.Conversation{}, apperrors.BadRequest("conversation_id and partner_id are required", nil)
	}

	s.mu.Lock()
	previous := s.activeID
	s.activeID = conversationID
	s.activePartner = partnerID
	s.mu.Unlock()

	if previous != "" && previous != conversationID {
		s.stopTyping(previous)
		if conv, ok := s.reconciler.Snapshot(previous); ok {
			s.persist(ctx, conv)
		}
	}

	s.receipts.Enter(conversationID)
	s.reconciler.EnsureConversation(conversationID, s.cfg.UserID, partnerID)

	history, err := s.messages.GetMessagesByConversation(ctx, conversationID)
	if err != nil {
		logger.Warn("ChatSession: history for %s unavailable: %v", conversationID, err)
		s.restore(ctx, conversationID)
	} else {
		s.reconciler.Hydrate(conversationID, history)
	}

	for _, id := range s.reconciler.MarkConversationRead(conversationID) {
		s.receipts.MarkAcknowledged(id, entity.StateRead)
	}
	s.dispatcher.SendStatus(entity.StatusUpdate{
		ConversationID: conversationID,
		PartnerID:      partnerID,
		Status:         entity.StateRead,
	})

	conv, _ := s.reconciler.Snapshot(conversationID)
	return conv, nil
}

func (s *ChatSession) CloseConversation() {
	s.mu.Lock()
	id := s.activeID
	s.activeID = ""
	s.activePartner = ""
	s.mu.Unlock()

	if id == "" {
		return
	}
	s.stopTyping(id)
	s.receipts.Leave()
	if conv, ok := s.reconciler.Snapshot(id); ok {
		s.persist(context.Background(), conv)
	}
}

func (s *ChatSession) active() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.activePartner
}

// Send inserts an optimistic entry and hands the message to the socket, or to
// the REST fallback when the socket is down.
func (s *ChatSession) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	req, err := s.dispatcher.Validate(req)
	if err != nil {
		return nil, err
	}

	clientID := NewClientMessageID()
	s.reconciler.EnsureConversation(req.ConversationID, s.cfg.UserID, req.ReceiverID)
	s.reconciler.InsertOptimistic(entity.Message{
		ClientMessageID: clientID,
		ConversationID:  req.ConversationID,
		SenderID:        s.cfg.UserID,
		ReceiverID:      req.ReceiverID,
		Content:         req.Content,
		CreatedAt:       time.Now(),
	})
	s.stopTyping(req.ConversationID)

	return s.deliver(ctx, req, clientID)
}

// Retry re-sends a FAILED message under its original correlation id.
func (s *ChatSession) Retry(ctx context.Context, conversationID, clientMessageID string) (*SendResult, error) {
	msg, ok := s.reconciler.Requeue(conversationID, clientMessageID)
	if !ok {
		return nil, apperrors.NotFound("failed message "+clientMessageID, nil)
	}
	return s.deliver(ctx, SendRequest{
		ConversationID: msg.ConversationID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
	}, clientMessageID)
}

func (s *ChatSession) deliver(ctx context.Context, req SendRequest, clientID string) (*SendResult, error) {
	settled := make(chan struct{})
	result := &SendResult{ClientMessageID: clientID, Settled: settled}

	if s.transport.Connected() {
		out, err := s.dispatcher.Dispatch(req, clientID)
		if err == nil {
			result.Via = ViaSocket
			result.Message, _ = s.reconciler.Find(req.ConversationID, clientID)
			s.wg.Add(1)
			go s.awaitAck(req.ConversationID, out, settled)
			return result, nil
		}
		if !apperrors.Is(err, apperrors.CodeNotConnected) {
			s.reconciler.MarkFailed(req.ConversationID, clientID)
			close(settled)
			return nil, err
		}
	}

	defer close(settled)
	result.Via = ViaREST
	msg, err := s.sendViaREST(ctx, req, clientID)
	if err != nil {
		return nil, err
	}
	result.Message = msg
	return result, nil
}

func (s *ChatSession) awaitAck(conversationID string, out *Outgoing, settled chan struct{}) {
	defer s.wg.Done()
	defer close(settled)

	ack, ok := <-out.Ack
	if !ok || ack.Timeout {
		if s.reconciler.MarkFailed(conversationID, out.ClientMessageID) {
			logger.Warn("ChatSession: no acknowledgment for %s, marked failed", out.ClientMessageID)
		}
		return
	}
	if ack.Message != nil {
		s.reconciler.Upsert(*ack.Message, UpsertMeta{
			ClientMessageID: out.ClientMessageID,
			Status:          ack.Status,
		})
	}
}

func (s *ChatSession) sendViaREST(ctx context.Context, req SendRequest, clientID string) (entity.Message, error) {
	s.metrics.RESTFallback()
	logger.Info("ChatSession: socket down, sending %s over REST", clientID)

	msg, err := s.messages.SendMessage(ctx, entity.SendPayload{
		ConversationID:  req.ConversationID,
		ReceiverID:      req.ReceiverID,
		Content:         req.Content,
		ClientMessageID: clientID,
		SenderID:        s.cfg.UserID,
	})
	if err != nil {
		s.reconciler.MarkFailed(req.ConversationID, clientID)
		return entity.Message{}, err
	}

	msg.ClientMessageID = clientID
	if msg.ConversationID == "" {
		msg.ConversationID = req.ConversationID
	}
	s.reconciler.Upsert(*msg, UpsertMeta{ClientMessageID: clientID})
	confirmed, _ := s.reconciler.Find(req.ConversationID, clientID)
	return confirmed, nil
}

// Recall retracts a sent message for both parties.
func (s *ChatSession) Recall(ctx context.Context, conversationID, messageID, partnerID string) error {
	if err := s.dispatcher.Recall(entity.RecallRequest{
		MessageID:      messageID,
		ConversationID: conversationID,
		PartnerID:      partnerID,
	}); err != nil {
		return err
	}
	s.reconciler.ApplyStatus(entity.StatusPayload{
		MessageID:      messageID,
		ConversationID: conversationID,
		ActorID:        s.cfg.UserID,
		Status:         entity.StatusDeleted,
	})
	return nil
}

// Keystroke feeds the typing emitter of conversationID.
func (s *ChatSession) Keystroke(conversationID, partnerID string) {
	s.mu.Lock()
	e, ok := s.emitters[conversationID]
	if !ok {
		e = NewTypingEmitter(func(typing bool) bool {
			return s.dispatcher.SendTyping(conversationID, partnerID, typing)
		}, s.cfg.TypingQuiet, s.cfg.TypingHeartbeat)
		s.emitters[conversationID] = e
	}
	s.mu.Unlock()

	e.Keystroke()
}

func (s *ChatSession) stopTyping(conversationID string) {
	s.mu.Lock()
	e := s.emitters[conversationID]
	s.mu.Unlock()
	if e != nil {
		e.Stop()
	}
}

func (s *ChatSession) Conversation(conversationID string) (entity.Conversation, bool) {
	return s.reconciler.Snapshot(conversationID)
}

func (s *ChatSession) Conversations() []entity.Conversation {
	return s.reconciler.Conversations()
}

func (s *ChatSession) IsTyping(conversationID, userID string) bool {
	return s.aggregator.IsTyping(conversationID, userID)
}

func (s *ChatSession) IsOnline(userID string) bool {
	return s.aggregator.IsOnline(userID)
}

func (s *ChatSession) handleChatMessage(ev entity.ChatMessageEvent) {
	msg := *ev.Message
	activeID, _ := s.active()
	viewing := msg.ConversationID == activeID

	s.reconciler.EnsureConversation(msg.ConversationID, msg.SenderID, msg.ReceiverID)
	s.reconciler.Upsert(msg, UpsertMeta{
		ClientMessageID: ev.ClientMessageID,
		Status:          ev.Status,
		Viewing:         viewing,
	})

	if msg.SenderID == s.cfg.UserID {
		return
	}
	s.aggregator.UpdateTyping(msg.ConversationID, msg.SenderID, false)

	if viewing && msg.ServerID != "" && !msg.IsDeleted && ev.Status != entity.StatusDeleted &&
		s.receipts.TryAcknowledge(msg.ServerID, entity.StateRead) {
		s.reconciler.MarkConversationRead(msg.ConversationID)
		s.dispatcher.SendStatus(entity.StatusUpdate{
			MessageID:      msg.ServerID,
			ConversationID: msg.ConversationID,
			PartnerID:      msg.SenderID,
			Status:         entity.StateRead,
		})
	}
}

func (s *ChatSession) handleStatus(p entity.StatusPayload) {
	s.reconciler.ApplyStatus(p)
}

func (s *ChatSession) handleTyping(ev entity.TypingEvent) {
	if ev.UserID == s.cfg.UserID {
		return
	}
	s.aggregator.UpdateTyping(ev.ConversationID, ev.UserID, ev.Typing)
}

func (s *ChatSession) handlePresence(ev entity.PresenceEvent) {
	s.aggregator.UpdatePresence(ev.UserID, ev.Online)
}

func (s *ChatSession) handleUnread(ev entity.UnreadEvent) {
	if activeID, _ := s.active(); activeID == ev.ConversationID {
		return
	}
	s.reconciler.SetUnread(ev.ConversationID, ev.Total)
}

func (s *ChatSession) handleMatch(ev entity.MatchEvent) {
	participants := ev.ParticipantIDs
	if len(participants) == 0 {
		participants = []string{s.cfg.UserID, ev.PartnerID}
	}
	s.reconciler.EnsureConversation(ev.ConversationID, participants...)
}

func (s *ChatSession) handleConnection(connected bool) {
	if !connected {
		s.aggregator.ResetPresence()
		return
	}

	activeID, partnerID := s.active()
	if activeID != "" {
		s.dispatcher.SendStatus(entity.StatusUpdate{
			ConversationID: activeID,
			PartnerID:      partnerID,
			Status:         entity.StateRead,
		})
	}
}

func (s *ChatSession) restore(ctx context.Context, conversationID string) {
	if s.store == nil {
		return
	}
	conv, err := s.store.LoadConversation(ctx, conversationID)
	if err != nil {
		if !apperrors.Is(err, apperrors.CodeNotFound) {
			logger.Warn("ChatSession: cannot load cached %s: %v", conversationID, err)
		}
		return
	}
	s.reconciler.Restore(*conv)
}

func (s *ChatSession) persist(ctx context.Context, conv entity.Conversation) {
	if s.store == nil || conv.ID == "" {
		return
	}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		logger.Warn("ChatSession: cannot cache %s: %v", conv.ID, err)
	}
}
