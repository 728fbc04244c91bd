// In-memory store implementations.
//
// Useful for tests and for deployments where the surrounding chat
// application owns durable persistence and this subsystem only needs a
// per-process view.

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/selasie/charon/model"
)

// MemoryStore implements MessageStore, CitationStore and
// FileMetadataStore with mutex-protected maps.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]model.Message            // messageID -> message
	records  map[string]model.SourceRecord       // messageID:fileID -> record
	byMsg    map[string][]string                 // messageID -> record keys
	files    map[string]model.FileMetadata       // fileID -> metadata
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]model.Message),
		records:  make(map[string]model.SourceRecord),
		byMsg:    make(map[string][]string),
		files:    make(map[string]model.FileMetadata),
	}
}

func recordKey(messageID, fileID string) string {
	return messageID + ":" + fileID
}

// --- MessageStore ---

func (s *MemoryStore) SaveMessage(ctx context.Context, msg model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	return nil
}

func (s *MemoryStore) GetOwnedMessage(ctx context.Context, messageID, conversationID, userID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.ConversationID != conversationID || msg.UserID != userID {
		return nil, nil
	}
	out := msg
	return &out, nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, msg := range s.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		for _, key := range s.byMsg[id] {
			delete(s.records, key)
		}
		delete(s.byMsg, id)
		delete(s.messages, id)
	}
	return nil
}

// --- CitationStore ---

func (s *MemoryStore) UpsertBatch(ctx context.Context, records []model.SourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, rec := range records {
		key := recordKey(rec.MessageID, rec.FileID)
		if existing, ok := s.records[key]; ok {
			mergeRecords(&existing, rec)
			s.records[key] = existing
			continue
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.AccessedAt.IsZero() {
			rec.AccessedAt = rec.CreatedAt
		}
		s.records[key] = rec
		s.byMsg[rec.MessageID] = append(s.byMsg[rec.MessageID], key)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, messageID, fileID string) (*model.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(messageID, fileID)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) ListByMessage(ctx context.Context, messageID string) ([]model.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byMsg[messageID]
	records := make([]model.SourceRecord, 0, len(keys))
	for _, key := range keys {
		if rec, ok := s.records[key]; ok {
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Relevance > records[j].Relevance
	})
	return records, nil
}

func (s *MemoryStore) RecordAccess(ctx context.Context, messageID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(messageID, fileID)
	if rec, ok := s.records[key]; ok {
		rec.AccessedAt = time.Now()
		rec.AccessCount++
		s.records[key] = rec
	}
	return nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// --- FileMetadataStore ---

func (s *MemoryStore) GetFile(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.files[fileID]
	if !ok {
		return nil, nil
	}
	out := meta
	return &out, nil
}

func (s *MemoryStore) GetFiles(ctx context.Context, fileIDs []string) (map[string]model.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]model.FileMetadata, len(fileIDs))
	for _, id := range fileIDs {
		if meta, ok := s.files[id]; ok {
			result[id] = meta
		}
	}
	return result, nil
}

func (s *MemoryStore) PutFile(ctx context.Context, meta model.FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[meta.FileID] = meta
	return nil
}
