package citation

import (
	"context"
	"log/slog"
	"time"

	"github.com/selasie/charon/model"
	"github.com/selasie/charon/storage"
)

// Recorder turns selected units into durable source records.
type Recorder struct {
	citations      storage.CitationStore
	files          storage.FileMetadataStore
	defaultStorage model.StorageType
	logger         *slog.Logger
}

// NewRecorder creates a recorder. defaultStorage is the deployment-wide
// fallback when neither the tool output nor the metadata store knows
// where a file lives. A nil logger falls back to slog.Default().
func NewRecorder(citations storage.CitationStore, files storage.FileMetadataStore, defaultStorage model.StorageType, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		citations:      citations,
		files:          files,
		defaultStorage: defaultStorage,
		logger:         logger,
	}
}

// Record builds one source record per file selected for the message and
// persists them. allUnits supplies every parsed hit so pages and
// per-page relevance merge across duplicates of a selected file, not
// just the hits that won selection slots.
//
// Persistence is best-effort: on write failure the computed records are
// still returned so citation display is not gated on durable storage,
// and the failure is logged for operators.
func (r *Recorder) Record(ctx context.Context, messageID string, selected, allUnits []model.SearchResultUnit) []model.SourceRecord {
	if len(selected) == 0 {
		return nil
	}

	selectedFiles := make(map[string]bool, len(selected))
	var fileIDs []string
	for _, unit := range selected {
		if !selectedFiles[unit.FileID] {
			selectedFiles[unit.FileID] = true
			fileIDs = append(fileIDs, unit.FileID)
		}
	}

	// One batch lookup for the whole selection bounds round trips.
	metadata, err := r.files.GetFiles(ctx, fileIDs)
	if err != nil {
		r.logger.Warn("file metadata batch lookup failed", "message", messageID, "error", err)
		metadata = map[string]model.FileMetadata{}
	}

	now := time.Now()
	byFile := make(map[string]*model.SourceRecord, len(fileIDs))
	for _, unit := range allUnits {
		if !selectedFiles[unit.FileID] {
			continue
		}
		rec, ok := byFile[unit.FileID]
		if !ok {
			rec = &model.SourceRecord{
				MessageID:  messageID,
				FileID:     unit.FileID,
				FileName:   unit.FileName,
				Relevance:  unit.Relevance,
				CreatedAt:  now,
				AccessedAt: now,
			}
			byFile[unit.FileID] = rec
		}
		rec.MergeHit(unit)
		// Per-unit bucket/key from the tool output is trusted.
		if unit.Bucket != "" {
			rec.Bucket = unit.Bucket
		}
		if unit.Key != "" {
			rec.Key = unit.Key
		}
		if unit.StorageType != model.StorageUnknown {
			rec.StorageType = unit.StorageType
		}
	}

	records := make([]model.SourceRecord, 0, len(fileIDs))
	for _, fileID := range fileIDs {
		rec := byFile[fileID]
		if rec == nil {
			continue
		}
		r.applyMetadata(rec, metadata)
		records = append(records, *rec)
	}

	if err := r.citations.UpsertBatch(ctx, records); err != nil {
		r.logger.Error("citation record persistence failed",
			"message", messageID, "records", len(records), "error", err)
	}

	return records
}

// applyMetadata resolves canonical storage metadata for a record.
// Explicit per-unit fields win for bucket/key; storage type falls back
// to the metadata store's recorded source, then the deployment default,
// then local.
func (r *Recorder) applyMetadata(rec *model.SourceRecord, metadata map[string]model.FileMetadata) {
	meta, known := metadata[rec.FileID]
	if known {
		if meta.DisplayName != "" {
			rec.FileName = meta.DisplayName
		}
		if rec.Bucket == "" {
			rec.Bucket = meta.Bucket
		}
		if rec.Key == "" {
			rec.Key = meta.Key
		}
	}

	if rec.StorageType == model.StorageUnknown {
		switch {
		case known && meta.Source != model.StorageUnknown:
			rec.StorageType = meta.Source
		case r.defaultStorage != model.StorageUnknown:
			rec.StorageType = r.defaultStorage
		default:
			rec.StorageType = model.StorageLocal
		}
	}
}
