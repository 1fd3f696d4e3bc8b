package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregatorPresenceLastWriteWins(t *testing.T) {
	a := NewAggregator(time.Second)
	a.UpdatePresence("bob", true)
	a.UpdatePresence("bob", false)
	a.UpdatePresence("bob", true)
	assert.True(t, a.IsOnline("bob"))
	assert.False(t, a.IsOnline("carol"))

	a.ResetPresence()
	assert.False(t, a.IsOnline("bob"))
}

func TestAggregatorTypingExpiresWithoutRefresh(t *testing.T) {
	c := newClock()
	a := NewAggregator(3 * time.Second)
	a.now = c.Now

	a.UpdateTyping("conv-1", "bob", true)
	assert.True(t, a.IsTyping("conv-1", "bob"))

	c.Advance(2 * time.Second)
	a.UpdateTyping("conv-1", "bob", true)
	c.Advance(2 * time.Second)
	assert.True(t, a.IsTyping("conv-1", "bob"), "heartbeat extends the window")

	c.Advance(time.Second)
	assert.False(t, a.IsTyping("conv-1", "bob"))
	assert.Empty(t, a.TypingUsers("conv-1"))
}

func TestAggregatorTypingFalseRemovesEntry(t *testing.T) {
	c := newClock()
	a := NewAggregator(3 * time.Second)
	a.now = c.Now

	a.UpdateTyping("conv-1", "bob", true)
	a.UpdateTyping("conv-1", "carol", true)
	a.UpdateTyping("conv-2", "dave", true)
	assert.Equal(t, []string{"bob", "carol"}, a.TypingUsers("conv-1"))

	c.Advance(500 * time.Millisecond)
	a.UpdateTyping("conv-1", "bob", false)
	assert.False(t, a.IsTyping("conv-1", "bob"))
	assert.Equal(t, []string{"carol"}, a.TypingUsers("conv-1"))

	a.mu.Lock()
	_, stored := a.typing[typingKey{"conv-1", "bob"}]
	a.mu.Unlock()
	assert.False(t, stored, "false is never stored")
}

type signalRecorder struct {
	mu      sync.Mutex
	signals []bool
}

func (r *signalRecorder) send(typing bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, typing)
	return true
}

func (r *signalRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.signals...)
}

func TestTypingEmitterDebounces(t *testing.T) {
	rec := &signalRecorder{}
	e := NewTypingEmitter(rec.send, 80*time.Millisecond, time.Hour)

	for i := 0; i < 5; i++ {
		e.Keystroke()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, rec.get(), "one true per idle period")
	assert.True(t, e.Typing())

	assert.Eventually(t, func() bool {
		got := rec.get()
		return len(got) == 2 && !got[1]
	}, time.Second, 10*time.Millisecond)
	assert.False(t, e.Typing())

	e.Keystroke()
	assert.Equal(t, []bool{true, false, true}, rec.get())
	e.Stop()
	assert.Equal(t, []bool{true, false, true, false}, rec.get())
	e.Stop()
	assert.Len(t, rec.get(), 4)
}

func TestTypingEmitterHeartbeat(t *testing.T) {
	c := newClock()
	rec := &signalRecorder{}
	e := NewTypingEmitter(rec.send, time.Hour, time.Second)
	e.now = c.Now
	defer e.Stop()

	e.Keystroke()
	c.Advance(500 * time.Millisecond)
	e.Keystroke()
	c.Advance(600 * time.Millisecond)
	e.Keystroke()

	assert.Equal(t, []bool{true, true}, rec.get())
}
