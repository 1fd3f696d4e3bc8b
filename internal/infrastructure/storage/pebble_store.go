package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"chatsync/internal/domain/entity"
	apperrors "chatsync/pkg/errors"
)

const timelinePrefix = "timeline:"

// PebbleStore caches conversation snapshots on local disk so a restarted
// session can show history before the server answers.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %v", err)
	}
	return openPebble(path, &pebble.Options{})
}

// NewMemoryPebbleStore keeps everything in memory.
func NewMemoryPebbleStore() (*PebbleStore, error) {
	return openPebble("timelines", &pebble.Options{FS: vfs.NewMem()})
}

func openPebble(path string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline store: %v", err)
	}
	return &PebbleStore{db: db}, nil
}

func timelineKey(conversationID string) []byte {
	return []byte(timelinePrefix + conversationID)
}

func (s *PebbleStore) SaveConversation(ctx context.Context, conv entity.Conversation) error {
	if conv.ID == "" {
		return apperrors.BadRequest("conversation id is required", nil)
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return apperrors.Internal("failed to encode conversation", err)
	}
	if err := s.db.Set(timelineKey(conv.ID), data, pebble.Sync); err != nil {
		return apperrors.Internal("failed to save conversation", err)
	}
	return nil
}

func (s *PebbleStore) LoadConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	data, closer, err := s.db.Get(timelineKey(conversationID))
	if err == pebble.ErrNotFound {
		return nil, apperrors.NotFound("Conversation", nil)
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load conversation", err)
	}
	defer closer.Close()

	var conv entity.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, apperrors.Malformed("cached conversation is corrupt", err)
	}
	return &conv, nil
}

// ConversationIDs lists every cached conversation in key order.
func (s *PebbleStore) ConversationIDs() ([]string, error) {
	prefix := []byte(timelinePrefix)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte(nil), prefix[:len(prefix)-1]...), prefix[len(prefix)-1]+1),
	})
	if err != nil {
		return nil, apperrors.Internal("failed to list conversations", err)
	}
	defer it.Close()

	var ids []string
	for ok := it.First(); ok; ok = it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			break
		}
		ids = append(ids, strings.TrimPrefix(string(it.Key()), timelinePrefix))
	}
	return ids, it.Error()
}

func (s *PebbleStore) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.db.Delete(timelineKey(conversationID), pebble.Sync); err != nil {
		return apperrors.Internal("failed to delete conversation", err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
