package usecase

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
	ws "chatsync/internal/infrastructure/websocket"
	apperrors "chatsync/pkg/errors"
)

func TestDispatcherRejectsInvalidRequests(t *testing.T) {
	transport := newFakeTransport(true)
	pending := NewPendingAcks(time.Second, nil)
	d := NewDispatcher(transport, pending, "alice")

	cases := []struct {
		name string
		req  SendRequest
	}{
		{"blank content", SendRequest{ConversationID: "conv-1", ReceiverID: "bob", Content: "   "}},
		{"missing conversation", SendRequest{ReceiverID: "bob", Content: "hi"}},
		{"missing receiver", SendRequest{ConversationID: "conv-1", Content: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := d.SendChatMessage(tc.req)
			assert.Nil(t, out)
			assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
		})
	}
	assert.Empty(t, transport.publishedTo(ws.DestinationChatSend))
	assert.Equal(t, 0, pending.Len())
}

func TestDispatcherSendsCorrelatedFrame(t *testing.T) {
	transport := newFakeTransport(true)
	pending := NewPendingAcks(time.Second, nil)
	d := NewDispatcher(transport, pending, "alice")

	// The confirmation arrives while Publish is still on the stack.
	transport.onPublish = func(dest string, payload interface{}) {
		p := payload.(entity.SendPayload)
		assert.True(t, pending.Resolve(p.ClientMessageID, Ack{
			Message: &entity.Message{ServerID: "42", ClientMessageID: p.ClientMessageID},
		}))
	}

	out, err := d.SendChatMessage(SendRequest{ConversationID: "conv-1", ReceiverID: "bob", Content: "  Hello "})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.ClientMessageID, "local-"))
	assert.Equal(t, "Hello", out.Payload.Content)
	assert.Equal(t, "alice", out.Payload.SenderID)

	ack := <-out.Ack
	assert.False(t, ack.Timeout)
	assert.Equal(t, "42", ack.Message.ServerID)
}

func TestDispatcherUniqueCorrelationIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewClientMessageID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestDispatcherNotConnected(t *testing.T) {
	transport := newFakeTransport(false)
	pending := NewPendingAcks(time.Second, nil)
	d := NewDispatcher(transport, pending, "alice")

	out, err := d.SendChatMessage(SendRequest{ConversationID: "conv-1", ReceiverID: "bob", Content: "hi"})
	assert.Nil(t, out)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotConnected))
	assert.Equal(t, 0, pending.Len(), "resolver removed when the frame never left")

	assert.NotPanics(t, func() {
		assert.False(t, d.SendTyping("conv-1", "bob", true))
		assert.False(t, d.SendStatus(entity.StatusUpdate{ConversationID: "conv-1", PartnerID: "bob", Status: entity.StateRead}))
	})
	assert.True(t, apperrors.Is(d.Recall(entity.RecallRequest{MessageID: "m1", ConversationID: "conv-1", PartnerID: "bob"}), apperrors.CodeNotConnected))
}

func TestDispatcherBestEffortFrames(t *testing.T) {
	transport := newFakeTransport(true)
	d := NewDispatcher(transport, NewPendingAcks(time.Second, nil), "alice")

	assert.True(t, d.SendTyping("conv-1", "bob", true))
	assert.True(t, d.SendStatus(entity.StatusUpdate{ConversationID: "conv-1", PartnerID: "bob", Status: entity.StateRead}))
	assert.False(t, d.SendTyping("", "bob", true))
	assert.True(t, apperrors.Is(d.Recall(entity.RecallRequest{ConversationID: "conv-1"}), apperrors.CodeBadRequest))

	typing := transport.publishedTo(ws.DestinationTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, entity.TypingSignal{ConversationID: "conv-1", ReceiverID: "bob", Typing: true}, typing[0])

	status := transport.publishedTo(ws.DestinationStatus)
	require.Len(t, status, 1)
	assert.Empty(t, status[0].(entity.StatusUpdate).MessageID)
}
