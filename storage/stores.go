// Package storage provides persistence for messages, citation records,
// and file metadata.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory and SQLite without API changes
// - Schema and serialization details encapsulated per implementation

package storage

import (
	"context"
	"time"

	"github.com/selasie/charon/model"
)

// MessageStore persists the message rows the access validator consults.
type MessageStore interface {
	// SaveMessage stores a message.
	SaveMessage(ctx context.Context, msg model.Message) error

	// GetOwnedMessage returns the message only if it exists in the given
	// conversation AND is owned by the given user. Returns nil (no error)
	// otherwise so callers cannot distinguish "absent" from "not yours".
	GetOwnedMessage(ctx context.Context, messageID, conversationID, userID string) (*model.Message, error)

	// DeleteConversation removes a conversation's messages and their
	// citation records.
	DeleteConversation(ctx context.Context, conversationID string) error
}

// CitationStore persists source records, one per (message, file) pair.
type CitationStore interface {
	// UpsertBatch writes records with merge-on-write semantics: pages are
	// unioned, relevance is the max, per-page relevance keeps the highest
	// value per page. At most one record per (messageID, fileID) survives.
	UpsertBatch(ctx context.Context, records []model.SourceRecord) error

	// Get returns the record for (messageID, fileID), or nil if absent.
	Get(ctx context.Context, messageID, fileID string) (*model.SourceRecord, error)

	// ListByMessage returns all records for a message, ordered by
	// relevance descending.
	ListByMessage(ctx context.Context, messageID string) ([]model.SourceRecord, error)

	// RecordAccess bumps access bookkeeping (count, last-accessed).
	RecordAccess(ctx context.Context, messageID, fileID string) error

	// DeleteOlderThan removes records created before the cutoff.
	// Returns the number of records removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// FileMetadataStore resolves file ids to storage locations.
type FileMetadataStore interface {
	// GetFile returns metadata for a file id, or nil if unknown.
	GetFile(ctx context.Context, fileID string) (*model.FileMetadata, error)

	// GetFiles resolves a batch of ids in one round trip. Unknown ids are
	// simply absent from the result map.
	GetFiles(ctx context.Context, fileIDs []string) (map[string]model.FileMetadata, error)

	// PutFile stores metadata for a file.
	PutFile(ctx context.Context, meta model.FileMetadata) error
}

// mergeRecords folds src into dst following merge-on-write semantics.
// Shared by the SQLite and memory implementations.
func mergeRecords(dst *model.SourceRecord, src model.SourceRecord) {
	if src.Relevance > dst.Relevance {
		dst.Relevance = src.Relevance
	}
	for page, rel := range src.PerPageRelevance {
		if dst.PerPageRelevance == nil {
			dst.PerPageRelevance = make(map[int]float64)
		}
		if prev, ok := dst.PerPageRelevance[page]; !ok || rel > prev {
			dst.PerPageRelevance[page] = rel
		}
	}
	for _, p := range src.Pages {
		dst.Pages = insertSorted(dst.Pages, p)
	}
	if dst.FileName == "" {
		dst.FileName = src.FileName
	}
	if dst.StorageType == model.StorageUnknown {
		dst.StorageType = src.StorageType
	}
	if dst.Bucket == "" {
		dst.Bucket = src.Bucket
	}
	if dst.Key == "" {
		dst.Key = src.Key
	}
}

// insertSorted inserts p into a sorted slice, skipping duplicates.
func insertSorted(pages []int, p int) []int {
	for i, existing := range pages {
		if existing == p {
			return pages
		}
		if existing > p {
			pages = append(pages, 0)
			copy(pages[i+1:], pages[i:])
			pages[i] = p
			return pages
		}
	}
	return append(pages, p)
}
