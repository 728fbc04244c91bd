package storage

import (
	"context"
	"testing"
	"time"

	"github.com/selasie/charon/model"
)

func TestSqliteMessageOwnershipScoping(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	msg := model.Message{ID: "m1", ConversationID: "c1", UserID: "alice"}
	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	got, err := store.GetOwnedMessage(ctx, "m1", "c1", "alice")
	if err != nil {
		t.Fatalf("GetOwnedMessage failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected message for owner")
	}

	// Wrong user, wrong conversation, missing message: all indistinguishable.
	for _, tc := range []struct{ msg, conv, user string }{
		{"m1", "c1", "bob"},
		{"m1", "c2", "alice"},
		{"m9", "c1", "alice"},
	} {
		got, err := store.GetOwnedMessage(ctx, tc.msg, tc.conv, tc.user)
		if err != nil {
			t.Fatalf("GetOwnedMessage failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil for %+v, got %+v", tc, got)
		}
	}
}

func TestSqliteUpsertMergesDuplicates(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	first := model.SourceRecord{
		MessageID: "m1", FileID: "f1", FileName: "report.pdf",
		Pages: []int{5}, Relevance: 0.6,
		PerPageRelevance: map[int]float64{5: 0.6},
	}
	second := model.SourceRecord{
		MessageID: "m1", FileID: "f1", FileName: "report.pdf",
		Pages: []int{2}, Relevance: 0.9,
		PerPageRelevance: map[int]float64{2: 0.9},
	}

	if err := store.UpsertBatch(ctx, []model.SourceRecord{first}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := store.UpsertBatch(ctx, []model.SourceRecord{second}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	records, err := store.ListByMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("ListByMessage failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one merged record, got %d", len(records))
	}

	rec := records[0]
	if len(rec.Pages) != 2 || rec.Pages[0] != 2 || rec.Pages[1] != 5 {
		t.Errorf("expected pages [2 5], got %v", rec.Pages)
	}
	if rec.Relevance != 0.9 {
		t.Errorf("expected max relevance 0.9, got %v", rec.Relevance)
	}
	if rec.PerPageRelevance[2] != 0.9 || rec.PerPageRelevance[5] != 0.6 {
		t.Errorf("unexpected per-page relevance: %v", rec.PerPageRelevance)
	}
}

func TestSqliteRecordAccessBookkeeping(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec := model.SourceRecord{MessageID: "m1", FileID: "f1", FileName: "a.pdf", Relevance: 0.5}
	if err := store.UpsertBatch(ctx, []model.SourceRecord{rec}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := store.RecordAccess(ctx, "m1", "f1"); err != nil {
		t.Fatalf("RecordAccess failed: %v", err)
	}
	if err := store.RecordAccess(ctx, "m1", "f1"); err != nil {
		t.Fatalf("RecordAccess failed: %v", err)
	}

	got, err := store.Get(ctx, "m1", "f1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", got.AccessCount)
	}
}

func TestSqliteDeleteOlderThan(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	old := model.SourceRecord{
		MessageID: "m1", FileID: "f1", FileName: "old.pdf", Relevance: 0.5,
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
	}
	fresh := model.SourceRecord{MessageID: "m2", FileID: "f2", FileName: "new.pdf", Relevance: 0.5}

	if err := store.UpsertBatch(ctx, []model.SourceRecord{old, fresh}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	removed, err := store.DeleteOlderThan(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	if rec, _ := store.Get(ctx, "m1", "f1"); rec != nil {
		t.Error("expected expired record gone")
	}
	if rec, _ := store.Get(ctx, "m2", "f2"); rec == nil {
		t.Error("expected fresh record kept")
	}
}

func TestSqliteDeleteConversationCascades(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveMessage(ctx, model.Message{ID: "m1", ConversationID: "c1", UserID: "alice"}); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	rec := model.SourceRecord{MessageID: "m1", FileID: "f1", FileName: "a.pdf", Relevance: 0.5}
	if err := store.UpsertBatch(ctx, []model.SourceRecord{rec}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := store.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	if msg, _ := store.GetOwnedMessage(ctx, "m1", "c1", "alice"); msg != nil {
		t.Error("expected message deleted")
	}
	if rec, _ := store.Get(ctx, "m1", "f1"); rec != nil {
		t.Error("expected citation record deleted with conversation")
	}
}

func TestSqliteFileMetadataBatch(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	files := []model.FileMetadata{
		{FileID: "f1", DisplayName: "a.pdf", MimeType: "application/pdf", Source: model.StorageObject, Bucket: "docs", Key: "k/a.pdf"},
		{FileID: "f2", DisplayName: "b.txt", MimeType: "text/plain", Source: model.StorageLocal, LocalPath: "/data/b.txt"},
	}
	for _, f := range files {
		if err := store.PutFile(ctx, f); err != nil {
			t.Fatalf("PutFile failed: %v", err)
		}
	}

	got, err := store.GetFiles(ctx, []string{"f1", "f2", "missing"})
	if err != nil {
		t.Fatalf("GetFiles failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 resolved files, got %d", len(got))
	}
	if got["f1"].Bucket != "docs" {
		t.Errorf("unexpected metadata for f1: %+v", got["f1"])
	}
	if _, ok := got["missing"]; ok {
		t.Error("unknown id should be absent from result map")
	}
}
