// Package model provides domain types shared across packages.
package model

import (
	"sort"
	"time"
)

// StorageType identifies where a file's bytes live.
type StorageType string

const (
	// StorageLocal means the file is served from local disk via the
	// streaming download endpoint.
	StorageLocal StorageType = "local"
	// StorageObject means the file lives in an object store and is
	// served via a presigned URL.
	StorageObject StorageType = "object-store"
	// StorageUnknown means the tool output did not say.
	StorageUnknown StorageType = ""
)

// SearchResultUnit is one parsed hit from file-search tool output.
// Ephemeral: it lives only for the duration of one response-processing
// pass, between the parser and the citation recorder.
type SearchResultUnit struct {
	FileID      string // derived from FileName when the runtime omits it
	FileName    string // human-readable display name (de-mangled)
	Relevance   float64
	Page        int
	HasPage     bool
	StorageType StorageType
	Bucket      string // object-store only
	Key         string // object-store only
}

// SourceRecord is the durable citation: one per (message, file) pair.
// Immutable after creation except for access bookkeeping.
type SourceRecord struct {
	MessageID        string
	FileID           string
	FileName         string
	Pages            []int           // sorted ascending, unioned across hits
	Relevance        float64         // max across duplicate hits
	PerPageRelevance map[int]float64 // merged across hits
	StorageType      StorageType
	Bucket           string
	Key              string
	CreatedAt        time.Time
	AccessedAt       time.Time
	AccessCount      int
}

// MergeHit folds another hit for the same file into the record:
// pages are unioned, relevance is the max, per-page relevance keeps the
// highest value seen for each page.
func (r *SourceRecord) MergeHit(unit SearchResultUnit) {
	if unit.Relevance > r.Relevance {
		r.Relevance = unit.Relevance
	}
	if !unit.HasPage {
		return
	}
	if r.PerPageRelevance == nil {
		r.PerPageRelevance = make(map[int]float64)
	}
	if prev, ok := r.PerPageRelevance[unit.Page]; !ok || unit.Relevance > prev {
		r.PerPageRelevance[unit.Page] = unit.Relevance
	}
	for _, p := range r.Pages {
		if p == unit.Page {
			return
		}
	}
	r.Pages = append(r.Pages, unit.Page)
	sort.Ints(r.Pages)
}

// FileMetadata is what the file-metadata store records about a file.
type FileMetadata struct {
	FileID      string
	DisplayName string
	MimeType    string
	SizeBytes   int64
	Source      StorageType // recorded storage source
	Bucket      string
	Key         string
	LocalPath   string // populated for locally stored files
}

// Message is the minimal view of a chat message this subsystem needs:
// identity, ownership, and the conversation it belongs to.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	CreatedAt      time.Time
}

// IssuedLink is a minted download link with its expiry.
type IssuedLink struct {
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	FileName    string    `json:"fileName"`
	MimeType    string    `json:"mimeType"`
}

// PrefetchCandidate is an ephemeral scoring unit produced by the
// prefetch heuristics. Reason is a tag explaining why the candidate was
// generated; it exists for tests and debugging, never for logic.
type PrefetchCandidate struct {
	MessageID string
	FileID    string
	Priority  float64
	Reason    string
}
