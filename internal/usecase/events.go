package usecase

import (
	"sync"

	"chatsync/pkg/logger"
)

const (
	EventChatMessage    = "chat.message"
	EventChatStatus     = "chat.status"
	EventChatTyping     = "chat.typing"
	EventMatchNew       = "match.new"
	EventPresenceUpdate = "presence.update"
	EventChatUnread     = "chat.unread"
)

type EventHandler func(payload interface{})

type busEntry struct {
	id      uint64
	handler EventHandler
}

// EventBus fans typed events out to subscribers in registration order.
type EventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]busEntry
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]busEntry)}
}

func (b *EventBus) On(event string, handler EventHandler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], busEntry{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(event, id) })
	}
}

func (b *EventBus) off(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[event]
	for i, e := range entries {
		if e.id == id {
			b.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// Emit calls every handler for event synchronously. A panicking handler is
// logged and skipped.
func (b *EventBus) Emit(event string, payload interface{}) {
	b.mu.RLock()
	entries := append([]busEntry(nil), b.handlers[event]...)
	b.mu.RUnlock()

	for _, e := range entries {
		b.call(event, e.handler, payload)
	}
}

func (b *EventBus) call(event string, handler EventHandler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("EventBus: handler for %s panicked: %v", event, r)
		}
	}()
	handler(payload)
}
