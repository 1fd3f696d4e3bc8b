package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func serverMessage(id string, sender string, at time.Duration) entity.Message {
	receiver := "bob"
	if sender == "bob" {
		receiver = "alice"
	}
	return entity.Message{
		ServerID:       id,
		ConversationID: "conv-1",
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        "message " + id,
		CreatedAt:      t0.Add(at),
	}
}

func TestReconcilerConfirmsOptimisticEntry(t *testing.T) {
	r := NewReconciler("alice")

	conv := r.InsertOptimistic(entity.Message{
		ClientMessageID: "c1",
		ConversationID:  "conv-1",
		SenderID:        "alice",
		ReceiverID:      "bob",
		Content:         "Hello",
		CreatedAt:       t0,
	})
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, entity.StatePending, conv.Messages[0].State)

	confirmed := serverMessage("42", "alice", time.Second)
	confirmed.Content = "Hello"
	conv = r.Upsert(confirmed, UpsertMeta{ClientMessageID: "c1", Status: entity.StateSent})

	require.Len(t, conv.Messages, 1)
	m := conv.Messages[0]
	assert.Equal(t, "42", m.ServerID)
	assert.Equal(t, "c1", m.ClientMessageID)
	assert.Equal(t, entity.StateSent, m.State)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestReconcilerNoDuplicates(t *testing.T) {
	r := NewReconciler("alice")

	r.InsertOptimistic(entity.Message{ClientMessageID: "c1", ConversationID: "conv-1", SenderID: "alice", Content: "x", CreatedAt: t0})
	r.InsertOptimistic(entity.Message{ClientMessageID: "c1", ConversationID: "conv-1", SenderID: "alice", Content: "x", CreatedAt: t0})

	confirmed := serverMessage("42", "alice", 0)
	for i := 0; i < 3; i++ {
		r.Upsert(confirmed, UpsertMeta{ClientMessageID: "c1"})
	}
	other := serverMessage("43", "bob", time.Second)
	r.Upsert(other, UpsertMeta{})
	conv := r.Upsert(other, UpsertMeta{})

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "42", conv.Messages[0].ServerID)
	assert.Equal(t, "43", conv.Messages[1].ServerID)
	assert.Equal(t, 1, conv.UnreadCount, "duplicate partner message counted once")
}

func TestReconcilerConfirmationAfterHydrateLeavesOneEntry(t *testing.T) {
	r := NewReconciler("alice")
	r.InsertOptimistic(entity.Message{ClientMessageID: "c1", ConversationID: "conv-1", SenderID: "alice", ReceiverID: "bob", Content: "message 42", CreatedAt: t0})

	r.Hydrate("conv-1", []entity.Message{serverMessage("42", "alice", 0)})
	conv := r.Upsert(serverMessage("42", "alice", 0), UpsertMeta{ClientMessageID: "c1", Status: entity.StateSent})

	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "42", conv.Messages[0].ServerID)
	assert.Equal(t, "c1", conv.Messages[0].ClientMessageID)
	assert.Equal(t, entity.StateSent, conv.Messages[0].State)
	assert.False(t, conv.Pending())

	m, ok := r.Find("conv-1", "c1")
	require.True(t, ok)
	assert.Equal(t, "42", m.ServerID)
	assert.False(t, r.MarkFailed("conv-1", "c1"), "the correlation id now names the confirmed message")
}

func TestReconcilerOrdersByCreatedAt(t *testing.T) {
	r := NewReconciler("alice")

	r.Upsert(serverMessage("3", "bob", 3*time.Second), UpsertMeta{})
	r.Upsert(serverMessage("1", "bob", time.Second), UpsertMeta{})
	r.Upsert(serverMessage("tie-a", "alice", 2*time.Second), UpsertMeta{})
	conv := r.Upsert(serverMessage("tie-b", "bob", 2*time.Second), UpsertMeta{})

	ids := make([]string, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		ids = append(ids, m.ServerID)
	}
	assert.Equal(t, []string{"1", "tie-a", "tie-b", "3"}, ids)
	for i := 1; i < len(conv.Messages); i++ {
		assert.False(t, conv.Messages[i].CreatedAt.Before(conv.Messages[i-1].CreatedAt))
	}
}

func TestReconcilerStatusIsIdempotentAndMonotonic(t *testing.T) {
	r := NewReconciler("alice")
	r.Upsert(serverMessage("42", "alice", 0), UpsertMeta{})

	status := entity.StatusPayload{MessageID: "42", ConversationID: "conv-1", Status: entity.StateDelivered}
	once := r.ApplyStatus(status)
	twice := r.ApplyStatus(status)
	assert.Equal(t, once, twice)
	assert.Equal(t, entity.StateDelivered, twice.Messages[0].State)

	r.ApplyStatus(entity.StatusPayload{MessageID: "42", ConversationID: "conv-1", Status: entity.StateRead})
	conv := r.ApplyStatus(entity.StatusPayload{MessageID: "42", ConversationID: "conv-1", Status: entity.StateDelivered})
	assert.Equal(t, entity.StateRead, conv.Messages[0].State, "late DELIVERED does not downgrade READ")
	assert.True(t, conv.Messages[0].IsRead)
}

func TestReconcilerUnknownStatusTargetsAreNoops(t *testing.T) {
	r := NewReconciler("alice")
	before := r.Upsert(serverMessage("42", "alice", 0), UpsertMeta{})

	after := r.ApplyStatus(entity.StatusPayload{MessageID: "missing", ConversationID: "conv-1", Status: entity.StateRead})
	assert.Equal(t, before, after)

	unknown := r.ApplyStatus(entity.StatusPayload{MessageID: "42", ConversationID: "conv-x", Status: entity.StateRead})
	assert.Empty(t, unknown.Messages)
	_, exists := r.Snapshot("conv-x")
	assert.False(t, exists)
}

func TestReconcilerRecallIsTerminal(t *testing.T) {
	r := NewReconciler("alice")
	r.Upsert(serverMessage("42", "bob", 0), UpsertMeta{})

	recall := entity.StatusPayload{MessageID: "42", ConversationID: "conv-1", Status: entity.StatusDeleted}
	once := r.ApplyStatus(recall)
	twice := r.ApplyStatus(recall)
	assert.Equal(t, once, twice)
	assert.True(t, twice.Messages[0].IsDeleted)
	assert.Equal(t, entity.RecalledPlaceholder, twice.Messages[0].DisplayText())

	edited := serverMessage("42", "bob", 0)
	edited.Content = "edited after recall"
	conv := r.Upsert(edited, UpsertMeta{})
	require.Len(t, conv.Messages, 1)
	assert.True(t, conv.Messages[0].IsDeleted)
	assert.Equal(t, "message 42", conv.Messages[0].Content)
	assert.Equal(t, entity.RecalledPlaceholder, conv.Messages[0].DisplayText())
}

func TestReconcilerRecallByChatEvent(t *testing.T) {
	r := NewReconciler("alice")
	r.Upsert(serverMessage("42", "bob", 0), UpsertMeta{})

	conv := r.Upsert(serverMessage("42", "bob", 0), UpsertMeta{Status: entity.StatusDeleted})
	assert.True(t, conv.Messages[0].IsDeleted)
}

func TestReconcilerConversationRead(t *testing.T) {
	r := NewReconciler("alice")
	r.EnsureConversation("conv-1", "alice", "bob")
	r.Upsert(serverMessage("1", "alice", 0), UpsertMeta{})
	r.Upsert(serverMessage("2", "alice", time.Second), UpsertMeta{})
	r.Upsert(serverMessage("3", "bob", 2*time.Second), UpsertMeta{})

	conv := r.ApplyStatus(entity.StatusPayload{ConversationID: "conv-1", ActorID: "bob", Status: entity.StateRead})
	assert.Equal(t, entity.StateRead, conv.Messages[0].State)
	assert.Equal(t, entity.StateRead, conv.Messages[1].State)
	assert.Equal(t, entity.StateSent, conv.Messages[2].State, "the actor's own message is untouched")
	assert.Equal(t, 1, conv.UnreadCount)

	conv = r.ApplyStatus(entity.StatusPayload{ConversationID: "conv-1", ActorID: "alice", Status: entity.StateRead})
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestReconcilerUnreadCountsPartnerMessagesOnly(t *testing.T) {
	r := NewReconciler("alice")
	r.Upsert(serverMessage("1", "alice", 0), UpsertMeta{})
	r.Upsert(serverMessage("2", "bob", time.Second), UpsertMeta{})
	r.Upsert(serverMessage("3", "bob", 2*time.Second), UpsertMeta{Viewing: true})
	conv := r.Hydrate("conv-1", []entity.Message{serverMessage("4", "bob", 3*time.Second)})
	assert.Equal(t, 1, conv.UnreadCount)

	changed := r.MarkConversationRead("conv-1")
	assert.ElementsMatch(t, []string{"2", "3", "4"}, changed)
	conv, _ = r.Snapshot("conv-1")
	assert.Equal(t, 0, conv.UnreadCount)

	r.SetUnread("conv-1", 5)
	conv, _ = r.Snapshot("conv-1")
	assert.Equal(t, 5, conv.UnreadCount)
	r.SetUnread("conv-1", -2)
	conv, _ = r.Snapshot("conv-1")
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestReconcilerServerUnreadPushWins(t *testing.T) {
	r := NewReconciler("alice")
	conv := r.Upsert(serverMessage("1", "bob", 0), UpsertMeta{})
	assert.Equal(t, 1, conv.UnreadCount)

	r.SetUnread("conv-1", 1)
	conv = r.Upsert(serverMessage("2", "bob", time.Second), UpsertMeta{})
	assert.Equal(t, 2, conv.UnreadCount)

	r.SetUnread("conv-1", 2)
	conv, _ = r.Snapshot("conv-1")
	assert.Equal(t, 2, conv.UnreadCount, "the push that follows each message overwrites the local count")
}

func TestReconcilerUnmatchedOwnMessageIsNew(t *testing.T) {
	r := NewReconciler("alice")
	r.InsertOptimistic(entity.Message{ClientMessageID: "c1", ConversationID: "conv-1", SenderID: "alice", Content: "x", CreatedAt: t0})

	conv := r.Upsert(serverMessage("42", "alice", time.Second), UpsertMeta{})
	assert.Len(t, conv.Messages, 2)
}

func TestReconcilerFailedAndRetry(t *testing.T) {
	r := NewReconciler("alice")
	r.InsertOptimistic(entity.Message{ClientMessageID: "c1", ConversationID: "conv-1", SenderID: "alice", ReceiverID: "bob", Content: "x", CreatedAt: t0})

	assert.True(t, r.MarkFailed("conv-1", "c1"))
	m, _ := r.Find("conv-1", "c1")
	assert.Equal(t, entity.StateFailed, m.State)

	requeued, ok := r.Requeue("conv-1", "c1")
	require.True(t, ok)
	assert.Equal(t, entity.StatePending, requeued.State)
	_, ok = r.Requeue("conv-1", "c1")
	assert.False(t, ok, "only FAILED messages can be requeued")

	r.MarkFailed("conv-1", "c1")
	conv := r.Upsert(serverMessage("42", "alice", 0), UpsertMeta{ClientMessageID: "c1"})
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, entity.StateSent, conv.Messages[0].State, "late confirmation clears FAILED")
	assert.False(t, r.MarkFailed("conv-1", "c1"), "confirmed messages never fail")
}

func TestReconcilerRemoveAndConversations(t *testing.T) {
	r := NewReconciler("alice")
	r.Upsert(serverMessage("1", "bob", 0), UpsertMeta{})
	other := serverMessage("9", "bob", time.Hour)
	other.ConversationID = "conv-2"
	r.Upsert(other, UpsertMeta{})
	r.EnsureConversation("conv-3", "alice", "carol")

	convs := r.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "conv-2", convs[0].ID)
	assert.Equal(t, []string{"alice", "carol"}, convs[2].ParticipantIDs)

	assert.True(t, r.Remove("conv-1", "1"))
	assert.False(t, r.Remove("conv-1", "1"))
	conv, _ := r.Snapshot("conv-1")
	assert.Empty(t, conv.Messages)
}

func TestReconcilerRestoreKeepsCachedUnread(t *testing.T) {
	r := NewReconciler("alice")
	conv := r.Restore(entity.Conversation{
		ID:             "conv-1",
		ParticipantIDs: []string{"alice", "bob"},
		Messages:       []entity.Message{serverMessage("1", "bob", 0)},
		UnreadCount:    4,
	})
	assert.Equal(t, 4, conv.UnreadCount)
	assert.Len(t, conv.Messages, 1)
}

func TestReconcilerSnapshotsAreCopies(t *testing.T) {
	r := NewReconciler("alice")
	conv := r.Upsert(serverMessage("1", "bob", 0), UpsertMeta{})
	conv.Messages[0].Content = "mutated"

	fresh, _ := r.Snapshot("conv-1")
	assert.Equal(t, "message 1", fresh.Messages[0].Content)
}
