package usecase

import (
	"sync"

	"chatsync/internal/domain/entity"
)

type receiptKey struct {
	messageID string
	state     entity.DeliveryState
}

// ReceiptTracker lets each message trigger at most one acknowledgment per
// state while a conversation stays open. Entering a conversation starts a new
// session with an empty set.
type ReceiptTracker struct {
	mu             sync.Mutex
	conversationID string
	acked          map[receiptKey]struct{}
}

func NewReceiptTracker() *ReceiptTracker {
	return &ReceiptTracker{acked: make(map[receiptKey]struct{})}
}

func (t *ReceiptTracker) Enter(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversationID = conversationID
	t.acked = make(map[receiptKey]struct{})
}

func (t *ReceiptTracker) Leave() {
	t.Enter("")
}

func (t *ReceiptTracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

func (t *ReceiptTracker) ShouldAcknowledge(messageID string, state entity.DeliveryState) bool {
	if messageID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, done := t.acked[receiptKey{messageID, state}]
	return !done
}

func (t *ReceiptTracker) MarkAcknowledged(messageID string, state entity.DeliveryState) {
	if messageID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acked[receiptKey{messageID, state}] = struct{}{}
}

// TryAcknowledge checks and marks in one step.
func (t *ReceiptTracker) TryAcknowledge(messageID string, state entity.DeliveryState) bool {
	if messageID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := receiptKey{messageID, state}
	if _, done := t.acked[key]; done {
		return false
	}
	t.acked[key] = struct{}{}
	return true
}
