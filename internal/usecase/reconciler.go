package usecase

import (
	"sort"
	"sync"
	"time"

	"chatsync/internal/domain/entity"
)

// UpsertMeta carries what the frame knew about a message beyond its body.
type UpsertMeta struct {
	ClientMessageID string
	Status          entity.DeliveryState
	// Viewing suppresses the unread increment for a conversation that is open.
	Viewing bool
	// Hydrating marks history loads, which never touch the unread counter.
	Hydrating bool
}

type timelineEntry struct {
	msg entity.Message
	seq uint64
}

type timeline struct {
	id           string
	participants []string
	entries      []*timelineEntry
	byServer     map[string]*timelineEntry
	byClient     map[string]*timelineEntry
	unread       int
}

func newTimeline(id string) *timeline {
	return &timeline{
		id:       id,
		byServer: make(map[string]*timelineEntry),
		byClient: make(map[string]*timelineEntry),
	}
}

func (t *timeline) lookup(id string) *timelineEntry {
	if e, ok := t.byServer[id]; ok {
		return e
	}
	return t.byClient[id]
}

func (t *timeline) index(e *timelineEntry) {
	if e.msg.ServerID != "" {
		t.byServer[e.msg.ServerID] = e
	}
	if e.msg.ClientMessageID != "" {
		t.byClient[e.msg.ClientMessageID] = e
	}
}

func (t *timeline) remove(e *timelineEntry) {
	for i, cur := range t.entries {
		if cur == e {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	if e.msg.ServerID != "" && t.byServer[e.msg.ServerID] == e {
		delete(t.byServer, e.msg.ServerID)
	}
	if e.msg.ClientMessageID != "" && t.byClient[e.msg.ClientMessageID] == e {
		delete(t.byClient, e.msg.ClientMessageID)
	}
}

// sort keeps CreatedAt order with insertion order breaking ties.
func (t *timeline) sort() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		return a.seq < b.seq
	})
}

func (t *timeline) learnParticipants(msg entity.Message) {
	for _, id := range []string{msg.SenderID, msg.ReceiverID} {
		if id == "" || len(t.participants) >= 2 || contains(t.participants, id) {
			continue
		}
		t.participants = append(t.participants, id)
	}
}

func (t *timeline) snapshot() entity.Conversation {
	conv := entity.Conversation{
		ID:             t.id,
		ParticipantIDs: append([]string(nil), t.participants...),
		Messages:       make([]entity.Message, len(t.entries)),
		UnreadCount:    t.unread,
	}
	for i, e := range t.entries {
		conv.Messages[i] = e.msg
	}
	if n := len(t.entries); n > 0 {
		conv.LastMessageAt = t.entries[n-1].msg.CreatedAt
	}
	return conv
}

// Reconciler owns every conversation timeline and merges optimistic entries,
// server confirmations and out-of-order status updates into them.
type Reconciler struct {
	viewerID string
	now      func() time.Time

	mu            sync.Mutex
	seq           uint64
	conversations map[string]*timeline
}

func NewReconciler(viewerID string) *Reconciler {
	return &Reconciler{
		viewerID:      viewerID,
		now:           time.Now,
		conversations: make(map[string]*timeline),
	}
}

func (r *Reconciler) timelineLocked(id string) *timeline {
	t, ok := r.conversations[id]
	if !ok {
		t = newTimeline(id)
		r.conversations[id] = t
	}
	return t
}

// EnsureConversation creates the conversation if needed and records its participants.
func (r *Reconciler) EnsureConversation(conversationID string, participantIDs ...string) entity.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.timelineLocked(conversationID)
	for _, id := range participantIDs {
		if id != "" && len(t.participants) < 2 && !contains(t.participants, id) {
			t.participants = append(t.participants, id)
		}
	}
	return t.snapshot()
}

// Upsert merges msg into its conversation:
//  1. same server id: merge in place
//  2. same correlation id on an unconfirmed entry: take over the server identity
//  3. otherwise append
//
// The timeline is re-sorted afterwards.
func (r *Reconciler) Upsert(msg entity.Message, meta UpsertMeta) entity.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.timelineLocked(msg.ConversationID)
	r.upsertLocked(t, msg, meta)
	t.sort()
	return t.snapshot()
}

func (r *Reconciler) upsertLocked(t *timeline, msg entity.Message, meta UpsertMeta) {
	if meta.ClientMessageID != "" {
		msg.ClientMessageID = meta.ClientMessageID
	}
	if meta.Status == entity.StatusDeleted {
		msg.IsDeleted = true
	} else if meta.Status.Valid() {
		msg.State = msg.State.Advance(meta.Status)
	}
	if !msg.State.Valid() {
		if msg.ServerID != "" {
			msg.State = entity.StateSent
		} else {
			msg.State = entity.StatePending
		}
	}
	if msg.IsRead {
		msg.State = msg.State.Advance(entity.StateRead)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}
	t.learnParticipants(msg)

	if msg.ServerID != "" {
		if e, ok := t.byServer[msg.ServerID]; ok {
			if stale, ok := t.byClient[msg.ClientMessageID]; ok && stale != e && !stale.msg.Confirmed() {
				t.remove(stale)
			}
			mergeInto(&e.msg, msg)
			t.index(e)
			return
		}
	}

	if msg.ClientMessageID != "" {
		if e, ok := t.byClient[msg.ClientMessageID]; ok {
			if !e.msg.Confirmed() {
				confirmInto(&e.msg, msg)
				t.index(e)
				return
			}
			if msg.ServerID == "" {
				mergeInto(&e.msg, msg)
				return
			}
		}
	}

	r.seq++
	e := &timelineEntry{msg: msg, seq: r.seq}
	t.entries = append(t.entries, e)
	t.index(e)

	if !meta.Hydrating && !meta.Viewing && !msg.IsDeleted &&
		msg.SenderID != "" && msg.SenderID != r.viewerID {
		t.unread++
	}
}

// mergeInto updates a known message with server fields. Delivery state only
// advances and a recall is never undone.
func mergeInto(dst *entity.Message, src entity.Message) {
	if src.ServerID != "" {
		dst.ServerID = src.ServerID
	}
	if dst.ClientMessageID == "" {
		dst.ClientMessageID = src.ClientMessageID
	}
	if !dst.IsDeleted && src.Content != "" {
		dst.Content = src.Content
	}
	if src.SenderName != "" {
		dst.SenderName = src.SenderName
	}
	if src.MessageType != "" {
		dst.MessageType = src.MessageType
	}
	if !src.CreatedAt.IsZero() && src.ServerID != "" {
		dst.CreatedAt = src.CreatedAt
	}
	dst.State = dst.State.Advance(src.State)
	dst.IsRead = dst.IsRead || src.IsRead
	dst.IsDeleted = dst.IsDeleted || src.IsDeleted
}

// confirmInto replaces an optimistic entry's identity and content with the
// confirmed server values.
func confirmInto(dst *entity.Message, src entity.Message) {
	state := dst.State
	if state == entity.StatePending {
		state = entity.StateSent
	}
	deleted := dst.IsDeleted || src.IsDeleted

	*dst = src
	dst.State = state.Advance(src.State)
	if dst.State == entity.StatePending {
		dst.State = entity.StateSent
	}
	dst.IsDeleted = deleted
}

// ApplyStatus applies a delivery, read or recall update. Unknown messages and
// conversations are ignored. A READ without message id marks every message
// addressed to the actor as read.
func (r *Reconciler) ApplyStatus(p entity.StatusPayload) entity.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.conversations[p.ConversationID]
	if !ok {
		return entity.Conversation{ID: p.ConversationID}
	}

	switch {
	case p.Status == entity.StatusDeleted:
		if e := t.lookup(p.MessageID); e != nil {
			e.msg.IsDeleted = true
		}

	case !p.Status.Valid():
		// unknown status, nothing to apply

	case p.MessageID == "":
		if p.Status != entity.StateRead {
			break
		}
		actor := p.ActorID
		if actor == "" {
			actor = t.partnerOf(r.viewerID)
		}
		for _, e := range t.entries {
			if e.msg.SenderID != actor && e.msg.Confirmed() {
				markRead(&e.msg)
			}
		}
		if actor == r.viewerID {
			t.unread = 0
		}

	default:
		if e := t.lookup(p.MessageID); e != nil {
			if p.Status == entity.StateRead {
				markRead(&e.msg)
			} else {
				e.msg.State = e.msg.State.Advance(p.Status)
			}
		}
	}
	return t.snapshot()
}

func markRead(m *entity.Message) {
	m.State = m.State.Advance(entity.StateRead)
	m.IsRead = true
}

func (t *timeline) partnerOf(viewerID string) string {
	for _, id := range t.participants {
		if id != viewerID {
			return id
		}
	}
	return ""
}

// InsertOptimistic adds a locally created PENDING message. It is a no-op when
// the correlation id is already known.
func (r *Reconciler) InsertOptimistic(msg entity.Message) entity.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.timelineLocked(msg.ConversationID)
	if _, exists := t.byClient[msg.ClientMessageID]; exists || msg.ClientMessageID == "" {
		return t.snapshot()
	}
	msg.ServerID = ""
	msg.State = entity.StatePending
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}
	t.learnParticipants(msg)

	r.seq++
	e := &timelineEntry{msg: msg, seq: r.seq}
	t.entries = append(t.entries, e)
	t.index(e)
	t.sort()
	return t.snapshot()
}

// MarkFailed flags an unconfirmed message as FAILED. Confirmed messages are left alone.
func (r *Reconciler) MarkFailed(conversationID, clientMessageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.conversations[conversationID]
	if !ok {
		return false
	}
	e, ok := t.byClient[clientMessageID]
	if !ok || e.msg.Confirmed() {
		return false
	}
	e.msg.State = entity.StateFailed
	return true
}

// Requeue moves a FAILED message back to PENDING for an explicit retry.
func (r *Reconciler) Requeue(conversationID, clientMessageID string) (entity.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.conversations[conversationID]
	if !ok {
		return entity.Message{}, false
	}
	e, ok := t.byClient[clientMessageID]
	if !ok || e.msg.Confirmed() || e.msg.State != entity.StateFailed {
		return entity.Message{}, false
	}
	e.msg.State = entity.StatePending
	return e.msg, true
}

// Remove drops the message known by id (server or correlation id).
func (r *Reconciler) Remove(conversationID, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.conversations[conversationID]
	if !ok {
		return false
	}
	e := t.lookup(id)
	if e == nil {
		return false
	}
	t.remove(e)
	return true
}

// Hydrate merges a history page into the conversation without affecting unread.
func (r *Reconciler) Hydrate(conversationID string, messages []entity.Message) entity.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.timelineLocked(conversationID)
	for _, m := range messages {
		m.ConversationID = conversationID
		r.upsertLocked(t, m, UpsertMeta{Hydrating: true})
	}
	t.sort()
	return t.snapshot()
}

// Restore loads a cached snapshot, keeping anything already in memory.
func (r *Reconciler) Restore(conv entity.Conversation) entity.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.timelineLocked(conv.ID)
	fresh := len(t.entries) == 0
	for _, id := range conv.ParticipantIDs {
		if id != "" && len(t.participants) < 2 && !contains(t.participants, id) {
			t.participants = append(t.participants, id)
		}
	}
	for _, m := range conv.Messages {
		m.ConversationID = conv.ID
		r.upsertLocked(t, m, UpsertMeta{Hydrating: true})
	}
	if fresh {
		t.unread = conv.UnreadCount
	}
	t.sort()
	return t.snapshot()
}

// SetUnread overwrites the counter with the server's value.
func (r *Reconciler) SetUnread(conversationID string, total int) {
	if total < 0 {
		total = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timelineLocked(conversationID).unread = total
}

// MarkConversationRead resets unread and marks every partner message READ.
// It returns the server ids of the messages that changed.
func (r *Reconciler) MarkConversationRead(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.conversations[conversationID]
	if !ok {
		return nil
	}
	t.unread = 0

	var changed []string
	for _, e := range t.entries {
		if e.msg.SenderID == r.viewerID || e.msg.State == entity.StateRead {
			continue
		}
		markRead(&e.msg)
		if e.msg.ServerID != "" {
			changed = append(changed, e.msg.ServerID)
		}
	}
	return changed
}

func (r *Reconciler) Find(conversationID, id string) (entity.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.conversations[conversationID]
	if !ok {
		return entity.Message{}, false
	}
	e := t.lookup(id)
	if e == nil {
		return entity.Message{}, false
	}
	return e.msg, true
}

func (r *Reconciler) Snapshot(conversationID string) (entity.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.conversations[conversationID]
	if !ok {
		return entity.Conversation{}, false
	}
	return t.snapshot(), true
}

// Conversations returns every conversation, most recent activity first.
func (r *Reconciler) Conversations() []entity.Conversation {
	r.mu.Lock()
	out := make([]entity.Conversation, 0, len(r.conversations))
	for _, t := range r.conversations {
		out = append(out, t.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
