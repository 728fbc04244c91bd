package prefetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/selasie/charon/model"
	"github.com/selasie/charon/storage"
)

type fakeResolver struct {
	mu       sync.Mutex
	resolved []string
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	failFor  map[string]error
}

func (f *fakeResolver) Resolve(ctx context.Context, userID, messageID, conversationID, fileID string) (model.IssuedLink, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[fileID]; ok {
		return model.IssuedLink{}, err
	}
	f.resolved = append(f.resolved, fileID)
	return model.IssuedLink{
		DownloadURL: "https://example.com/" + fileID,
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}, nil
}

func (f *fakeResolver) resolvedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.resolved))
	copy(out, f.resolved)
	return out
}

func seedCitations(t *testing.T, store *storage.MemoryStore, messageID string, files map[string]model.FileMetadata, records ...model.SourceRecord) {
	t.Helper()
	ctx := context.Background()
	for i := range records {
		records[i].MessageID = messageID
	}
	if err := store.UpsertBatch(ctx, records); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
	for _, meta := range files {
		if err := store.PutFile(ctx, meta); err != nil {
			t.Fatalf("PutFile failed: %v", err)
		}
	}
}

func newTestOrchestrator(cfg Config, resolver Resolver, store *storage.MemoryStore) (*Orchestrator, *MemoryCache) {
	cache := NewMemoryCache(10*time.Minute, 0)
	orch := NewOrchestrator(cfg, cache, resolver, store, store, nil, nil)
	return orch, cache
}

func TestOrchestratorResolvesHighConfidenceCandidates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	files := map[string]model.FileMetadata{
		"f1": {FileID: "f1", DisplayName: "summary.pdf", SizeBytes: 100 << 10},
	}
	seedCitations(t, store, "msg-1", files,
		model.SourceRecord{FileID: "f1", FileName: "summary.pdf", Relevance: 0.9},
	)

	resolver := &fakeResolver{}
	orch, cache := newTestOrchestrator(Config{Enabled: true, MaxConcurrent: 3, ConfidenceThreshold: 0.4}, resolver, store)

	orch.PrefetchMessage(ctx, "user-1", "conv-1", "msg-1", false)

	if got := resolver.resolvedFiles(); len(got) != 1 || got[0] != "f1" {
		t.Fatalf("expected f1 resolved, got %v", got)
	}
	entry, err := cache.Get(ctx, "msg-1", "f1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry == nil || entry.Status != StatusComplete {
		t.Fatalf("expected complete cache entry, got %+v", entry)
	}
	if !orch.IsPrefetched(ctx, "msg-1", "f1") {
		t.Error("expected IsPrefetched true")
	}
	if link, ok := orch.PrefetchedLink(ctx, "msg-1", "f1"); !ok || link.DownloadURL != "https://example.com/f1" {
		t.Errorf("unexpected prefetched link %v ok=%v", link, ok)
	}
	if got := orch.State("msg-1"); got != StateComplete {
		t.Errorf("expected state complete, got %s", got)
	}
}

func TestOrchestratorSkipsLowConfidenceCandidates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	// A late, huge, unpopular file type scores below any sane threshold.
	files := map[string]model.FileMetadata{
		"f9": {FileID: "f9", DisplayName: "dump.iso", SizeBytes: 4 << 30},
	}
	var records []model.SourceRecord
	for _, id := range []string{"f1", "f2", "f3", "f4"} {
		records = append(records, model.SourceRecord{FileID: id, FileName: id + ".bin"})
	}
	records = append(records, model.SourceRecord{FileID: "f9", FileName: "dump.iso"})
	seedCitations(t, store, "msg-1", files, records...)

	resolver := &fakeResolver{}
	orch, cache := newTestOrchestrator(Config{Enabled: true, MaxConcurrent: 10, ConfidenceThreshold: 0.95}, resolver, store)

	orch.PrefetchMessage(ctx, "user-1", "conv-1", "msg-1", false)

	if got := resolver.resolvedFiles(); len(got) != 0 {
		t.Errorf("expected no resolutions below threshold, got %v", got)
	}
	if entry, _ := cache.Get(ctx, "msg-1", "f9"); entry != nil {
		t.Errorf("expected no cache entry for unresolved candidate, got %+v", entry)
	}
}

func TestOrchestratorHighPriorityBypassesThreshold(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedCitations(t, store, "msg-1", nil,
		model.SourceRecord{FileID: "f1", FileName: "data.bin"},
	)

	resolver := &fakeResolver{}
	orch, _ := newTestOrchestrator(Config{Enabled: true, MaxConcurrent: 3, ConfidenceThreshold: 0.99}, resolver, store)

	orch.PrefetchMessage(ctx, "user-1", "conv-1", "msg-1", true)

	if got := resolver.resolvedFiles(); len(got) != 1 {
		t.Errorf("expected high-priority pass to resolve regardless of confidence, got %v", got)
	}
}

func TestOrchestratorDisabledDoesNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedCitations(t, store, "msg-1", nil,
		model.SourceRecord{FileID: "f1", FileName: "summary.pdf", Relevance: 0.9},
	)

	resolver := &fakeResolver{}
	orch, _ := newTestOrchestrator(Config{Enabled: false, MaxConcurrent: 3}, resolver, store)

	orch.PrefetchMessage(ctx, "user-1", "conv-1", "msg-1", true)

	if got := resolver.resolvedFiles(); len(got) != 0 {
		t.Errorf("expected no resolutions when disabled, got %v", got)
	}
	if got := orch.State("msg-1"); got != StateIdle {
		t.Errorf("expected state idle when disabled, got %s", got)
	}
}

func TestOrchestratorBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	var records []model.SourceRecord
	for _, id := range []string{"f1", "f2", "f3", "f4", "f5", "f6"} {
		records = append(records, model.SourceRecord{FileID: id, FileName: id + ".pdf"})
	}
	seedCitations(t, store, "msg-1", nil, records...)

	resolver := &fakeResolver{delay: 20 * time.Millisecond}
	orch, _ := newTestOrchestrator(Config{Enabled: true, MaxConcurrent: 2, ConfidenceThreshold: 0}, resolver, store)

	orch.PrefetchMessage(ctx, "user-1", "conv-1", "msg-1", false)

	if max := atomic.LoadInt32(&resolver.maxSeen); max > 2 {
		t.Errorf("expected at most 2 concurrent resolutions, saw %d", max)
	}
}

func TestOrchestratorFailureIsolated(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedCitations(t, store, "msg-1", nil,
		model.SourceRecord{FileID: "f1", FileName: "a.pdf"},
		model.SourceRecord{FileID: "f2", FileName: "b.pdf"},
	)

	resolver := &fakeResolver{failFor: map[string]error{"f1": errors.New("upstream down")}}
	orch, cache := newTestOrchestrator(Config{Enabled: true, MaxConcurrent: 3, ConfidenceThreshold: 0}, resolver, store)

	orch.PrefetchMessage(ctx, "user-1", "conv-1", "msg-1", false)

	if got := resolver.resolvedFiles(); len(got) != 1 || got[0] != "f2" {
		t.Errorf("expected only f2 resolved, got %v", got)
	}
	entry, _ := cache.Get(ctx, "msg-1", "f1")
	if entry == nil || entry.Status != StatusError {
		t.Errorf("expected error entry for f1, got %+v", entry)
	}
	if orch.IsPrefetched(ctx, "msg-1", "f1") {
		t.Error("expected IsPrefetched false for failed file")
	}
	if got := orch.State("msg-1"); got != StateComplete {
		t.Errorf("expected pass to complete despite failures, got %s", got)
	}
}

func TestOrchestratorSecondPassSkipsCachedEntries(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedCitations(t, store, "msg-1", nil,
		model.SourceRecord{FileID: "f1", FileName: "a.pdf"},
	)

	resolver := &fakeResolver{}
	orch, _ := newTestOrchestrator(Config{Enabled: true, MaxConcurrent: 3, ConfidenceThreshold: 0}, resolver, store)

	orch.PrefetchMessage(ctx, "user-1", "conv-1", "msg-1", false)
	orch.PrefetchMessage(ctx, "user-1", "conv-1", "msg-1", false)

	if got := resolver.resolvedFiles(); len(got) != 1 {
		t.Errorf("expected cached entry to block re-resolution, got %v", got)
	}
}
