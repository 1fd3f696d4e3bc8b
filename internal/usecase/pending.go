package usecase

import (
	"sync"
	"time"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/metrics"
	apperrors "chatsync/pkg/errors"
)

const DefaultAckTimeout = 8 * time.Second

// Ack is the terminal outcome of one outgoing chat message. Exactly one Ack is
// delivered per registration: the server confirmation or a synthetic timeout.
type Ack struct {
	ClientMessageID string
	Message         *entity.Message
	Status          entity.DeliveryState
	Timeout         bool
}

type pendingEntry struct {
	ch    chan Ack
	timer *time.Timer
}

// PendingAcks maps client message ids to their waiting resolvers.
type PendingAcks struct {
	timeout time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func NewPendingAcks(timeout time.Duration, m *metrics.Metrics) *PendingAcks {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	return &PendingAcks{
		timeout: timeout,
		metrics: m,
		entries: make(map[string]*pendingEntry),
	}
}

// Register creates the resolver for id. The returned channel yields one Ack and
// is then closed.
func (p *PendingAcks) Register(id string) (<-chan Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[id]; exists {
		return nil, apperrors.Conflict("acknowledgment already pending for " + id)
	}

	entry := &pendingEntry{ch: make(chan Ack, 1)}
	entry.timer = time.AfterFunc(p.timeout, func() {
		p.settle(id, Ack{ClientMessageID: id, Timeout: true}, "timeout")
	})
	p.entries[id] = entry
	return entry.ch, nil
}

// Resolve delivers the server confirmation for id. It reports false when no
// resolver is waiting, for example after the timeout already fired.
func (p *PendingAcks) Resolve(id string, ack Ack) bool {
	ack.ClientMessageID = id
	ack.Timeout = false
	return p.settle(id, ack, "confirmed")
}

// Cancel drops the resolver for id without delivering anything.
func (p *PendingAcks) Cancel(id string) {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if ok {
		entry.timer.Stop()
		close(entry.ch)
	}
}

// Close resolves everything still waiting as timed out.
func (p *PendingAcks) Close() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.settle(id, Ack{ClientMessageID: id, Timeout: true}, "timeout")
	}
}

func (p *PendingAcks) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *PendingAcks) settle(id string, ack Ack, outcome string) bool {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	entry.timer.Stop()
	entry.ch <- ack
	close(entry.ch)
	p.metrics.Ack(outcome)
	return true
}
