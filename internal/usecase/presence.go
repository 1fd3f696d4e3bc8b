package usecase

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultTypingExpiry    = 3 * time.Second
	DefaultTypingQuiet     = 1500 * time.Millisecond
	DefaultTypingHeartbeat = time.Second
)

type typingKey struct {
	conversationID string
	userID         string
}

// Aggregator holds ephemeral presence and typing state. Typing entries carry a
// deadline and count as false once it passes; false is never stored.
type Aggregator struct {
	expiry time.Duration
	now    func() time.Time

	mu       sync.Mutex
	presence map[string]bool
	typing   map[typingKey]time.Time
}

func NewAggregator(expiry time.Duration) *Aggregator {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &Aggregator{
		expiry:   expiry,
		now:      time.Now,
		presence: make(map[string]bool),
		typing:   make(map[typingKey]time.Time),
	}
}

func (a *Aggregator) UpdatePresence(userID string, online bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.presence[userID] = online
}

func (a *Aggregator) IsOnline(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.presence[userID]
}

// ResetPresence forgets every user until the server reports them again.
func (a *Aggregator) ResetPresence() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.presence = make(map[string]bool)
}

func (a *Aggregator) UpdateTyping(conversationID, userID string, typing bool) {
	key := typingKey{conversationID, userID}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !typing {
		delete(a.typing, key)
		return
	}
	a.typing[key] = a.now().Add(a.expiry)
}

func (a *Aggregator) IsTyping(conversationID, userID string) bool {
	key := typingKey{conversationID, userID}

	a.mu.Lock()
	defer a.mu.Unlock()
	deadline, ok := a.typing[key]
	if !ok {
		return false
	}
	if !a.now().Before(deadline) {
		delete(a.typing, key)
		return false
	}
	return true
}

// TypingUsers lists who is typing in conversationID, pruning expired entries.
func (a *Aggregator) TypingUsers(conversationID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var users []string
	for key, deadline := range a.typing {
		if !now.Before(deadline) {
			delete(a.typing, key)
			continue
		}
		if key.conversationID == conversationID {
			users = append(users, key.userID)
		}
	}
	sort.Strings(users)
	return users
}

// TypingEmitter debounces the local user's typing signal. The first keystroke
// sends true, continued typing re-sends true at most once per heartbeat, and
// a quiet window without keystrokes sends false.
type TypingEmitter struct {
	send      func(typing bool) bool
	quiet     time.Duration
	heartbeat time.Duration
	now       func() time.Time

	mu       sync.Mutex
	typing   bool
	lastSent time.Time
	timer    *time.Timer
	gen      uint64
}

func NewTypingEmitter(send func(typing bool) bool, quiet, heartbeat time.Duration) *TypingEmitter {
	if quiet <= 0 {
		quiet = DefaultTypingQuiet
	}
	if heartbeat <= 0 {
		heartbeat = DefaultTypingHeartbeat
	}
	return &TypingEmitter{
		send:      send,
		quiet:     quiet,
		heartbeat: heartbeat,
		now:       time.Now,
	}
}

func (e *TypingEmitter) Keystroke() {
	e.mu.Lock()
	now := e.now()
	signal := !e.typing || now.Sub(e.lastSent) >= e.heartbeat
	if signal {
		e.typing = true
		e.lastSent = now
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(e.quiet, func() { e.expire(gen) })
	e.mu.Unlock()

	if signal {
		e.send(true)
	}
}

func (e *TypingEmitter) expire(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || !e.typing {
		e.mu.Unlock()
		return
	}
	e.typing = false
	e.timer = nil
	e.mu.Unlock()

	e.send(false)
}

// Stop sends false right away if the user was typing.
func (e *TypingEmitter) Stop() {
	e.mu.Lock()
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	wasTyping := e.typing
	e.typing = false
	e.mu.Unlock()

	if wasTyping {
		e.send(false)
	}
}

func (e *TypingEmitter) Typing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing
}
