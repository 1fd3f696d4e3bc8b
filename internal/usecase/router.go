package usecase

import (
	"encoding/json"
	"fmt"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/metrics"
	ws "chatsync/internal/infrastructure/websocket"
	"chatsync/pkg/logger"
)

var topicEvents = map[string]string{
	ws.QueueChat:     EventChatMessage,
	ws.QueueStatus:   EventChatStatus,
	ws.QueueTyping:   EventChatTyping,
	ws.QueueMatch:    EventMatchNew,
	ws.TopicPresence: EventPresenceUpdate,
	ws.QueueUnread:   EventChatUnread,
}

// Router turns inbound frames into typed events. Chat messages carrying a
// correlation id settle their pending acknowledgment before subscribers see them.
type Router struct {
	bus     *EventBus
	pending *PendingAcks
	metrics *metrics.Metrics
	unsubs  []func()
}

func NewRouter(pending *PendingAcks, m *metrics.Metrics) *Router {
	return &Router{
		bus:     NewEventBus(),
		pending: pending,
		metrics: m,
	}
}

// Attach subscribes the router to every inbound destination of t.
func (r *Router) Attach(t Transport) {
	for topic := range topicEvents {
		topic := topic
		r.unsubs = append(r.unsubs, t.Subscribe(topic, func(body json.RawMessage) {
			r.Route(topic, body)
		}))
	}
}

func (r *Router) Detach() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

// Route decodes body according to topic and emits the matching event.
func (r *Router) Route(topic string, body json.RawMessage) {
	event, ok := topicEvents[topic]
	if !ok {
		logger.Debug("Router: no event for topic %s", topic)
		return
	}

	payload, err := decodeEvent(event, body)
	if err != nil {
		logger.Warn("Router: dropping malformed %s payload: %v", event, err)
		r.metrics.MalformedPayload()
		return
	}

	if msgEvent, ok := payload.(entity.ChatMessageEvent); ok && msgEvent.ClientMessageID != "" && r.pending != nil {
		r.pending.Resolve(msgEvent.ClientMessageID, Ack{
			Message: msgEvent.Message,
			Status:  msgEvent.Status,
		})
	}

	r.metrics.InboundEvent(event)
	r.bus.Emit(event, payload)
}

func decodeEvent(event string, body json.RawMessage) (interface{}, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	switch event {
	case EventChatMessage:
		var p entity.ChatMessageEvent
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		if p.Message == nil || p.Message.ConversationID == "" {
			return nil, fmt.Errorf("message without conversation")
		}
		if p.ClientMessageID == "" {
			p.ClientMessageID = p.Message.ClientMessageID
		}
		p.Message.ClientMessageID = p.ClientMessageID
		return p, nil

	case EventChatStatus:
		var p entity.StatusPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" || p.Status == "" {
			return nil, fmt.Errorf("status without conversation or status")
		}
		return p, nil

	case EventChatTyping:
		var p entity.TypingEvent
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" || p.UserID == "" {
			return nil, fmt.Errorf("typing without conversation or user")
		}
		return p, nil

	case EventMatchNew:
		var p entity.MatchEvent
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" {
			return nil, fmt.Errorf("match without conversation")
		}
		return p, nil

	case EventPresenceUpdate:
		var p entity.PresenceEvent
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("presence without user")
		}
		return p, nil

	case EventChatUnread:
		var p entity.UnreadEvent
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" || p.Total < 0 {
			return nil, fmt.Errorf("invalid unread counter")
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown event %s", event)
}

func (r *Router) On(event string, handler EventHandler) func() {
	return r.bus.On(event, handler)
}

func (r *Router) OnChatMessage(fn func(entity.ChatMessageEvent)) func() {
	return r.bus.On(EventChatMessage, func(p interface{}) { fn(p.(entity.ChatMessageEvent)) })
}

func (r *Router) OnStatus(fn func(entity.StatusPayload)) func() {
	return r.bus.On(EventChatStatus, func(p interface{}) { fn(p.(entity.StatusPayload)) })
}

func (r *Router) OnTyping(fn func(entity.TypingEvent)) func() {
	return r.bus.On(EventChatTyping, func(p interface{}) { fn(p.(entity.TypingEvent)) })
}

func (r *Router) OnMatch(fn func(entity.MatchEvent)) func() {
	return r.bus.On(EventMatchNew, func(p interface{}) { fn(p.(entity.MatchEvent)) })
}

func (r *Router) OnPresence(fn func(entity.PresenceEvent)) func() {
	return r.bus.On(EventPresenceUpdate, func(p interface{}) { fn(p.(entity.PresenceEvent)) })
}

func (r *Router) OnUnread(fn func(entity.UnreadEvent)) func() {
	return r.bus.On(EventChatUnread, func(p interface{}) { fn(p.(entity.UnreadEvent)) })
}
