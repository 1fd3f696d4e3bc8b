package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/domain/entity"
	ws "chatsync/internal/infrastructure/websocket"
	apperrors "chatsync/pkg/errors"
)

type published struct {
	destination string
	payload     interface{}
}

type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	stopped    bool
	frames     []published
	subs       map[string]map[int]ws.FrameHandler
	listeners  map[int]func(bool)
	nextID     int
	onPublish  func(destination string, payload interface{})
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{
		connected: connected,
		subs:      make(map[string]map[int]ws.FrameHandler),
		listeners: make(map[int]func(bool)),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, force bool) error {
	f.mu.Lock()
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	f.setConnected(true)
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.setConnected(false)
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Publish(destination string, payload interface{}) bool {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return false
	}
	f.frames = append(f.frames, published{destination, payload})
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(destination, payload)
	}
	return true
}

func (f *fakeTransport) Subscribe(destination string, handler ws.FrameHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.subs[destination] == nil {
		f.subs[destination] = make(map[int]ws.FrameHandler)
	}
	f.subs[destination][id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[destination], id)
	}
}

func (f *fakeTransport) OnStateChange(fn func(connected bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	changed := f.connected != connected
	f.connected = connected
	listeners := make([]func(bool), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		l(connected)
	}
}

// push delivers body to the handlers of destination as the server would.
func (f *fakeTransport) push(destination string, body interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	f.pushRaw(destination, raw)
}

func (f *fakeTransport) pushRaw(destination string, raw json.RawMessage) {
	f.mu.Lock()
	handlers := make([]ws.FrameHandler, 0, len(f.subs[destination]))
	for _, h := range f.subs[destination] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}

func (f *fakeTransport) publishedTo(destination string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interface{}
	for _, p := range f.frames {
		if p.destination == destination {
			out = append(out, p.payload)
		}
	}
	return out
}

func (f *fakeTransport) subscriberCount(destination string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[destination])
}

type fakeMessageRepo struct {
	mu         sync.Mutex
	history    map[string][]entity.Message
	historyErr error
	sendErr    error
	sent       []entity.SendPayload
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{history: make(map[string][]entity.Message)}
}

func (r *fakeMessageRepo) GetMessagesByConversation(ctx context.Context, conversationID string) ([]entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	return append([]entity.Message(nil), r.history[conversationID]...), nil
}

func (r *fakeMessageRepo) SendMessage(ctx context.Context, payload entity.SendPayload) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	r.sent = append(r.sent, payload)
	return &entity.Message{
		ServerID:       fmt.Sprintf("rest-%d", len(r.sent)),
		ConversationID: payload.ConversationID,
		SenderID:       payload.SenderID,
		ReceiverID:     payload.ReceiverID,
		Content:        payload.Content,
		CreatedAt:      time.Now(),
		State:          entity.StateSent,
	}, nil
}

func (r *fakeMessageRepo) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type memoryStore struct {
	mu    sync.Mutex
	convs map[string]entity.Conversation
}

func newMemoryStore() *memoryStore {
	return &memoryStore{convs: make(map[string]entity.Conversation)}
}

func (s *memoryStore) SaveConversation(ctx context.Context, conv entity.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv
	return nil
}

func (s *memoryStore) LoadConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, apperrors.NotFound("conversation", nil)
	}
	return &conv, nil
}

func (s *memoryStore) Close() error { return nil }

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
