// Candidate generation heuristics.
//
// Each heuristic is a pure function producing scored candidates with a
// reason tag; candidates are composed by keeping the max priority per
// (message, file) pair. No heuristic looks at another's output.

package prefetch

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/selasie/charon/model"
)

const (
	// smallFileThreshold marks files cheap enough to resolve eagerly.
	smallFileThreshold = 5 << 20 // 5 MiB

	positionBasePriority = 1.0
	fileTypePriority     = 0.6
	batchBonusPriority   = 0.5
	smallFilePriority    = 0.4
)

// commonFileTypes are extensions users download most often.
var commonFileTypes = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".xlsx": true,
	".csv": true, ".txt": true, ".md": true, ".pptx": true,
}

// documentLikeTypes trigger the batch-download bonus when several
// co-occur in one citation set.
var documentLikeTypes = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".pptx": true,
}

// heuristicContext is what every heuristic may look at.
type heuristicContext struct {
	messageID string
	records   []model.SourceRecord // citation list, selection order
	files     map[string]model.FileMetadata
}

// heuristic produces zero or more scored candidates from the context.
type heuristic func(hc heuristicContext) []model.PrefetchCandidate

// heuristics is the fixed composition order. Order does not affect the
// outcome since merging keeps the max priority per pair.
var heuristics = []heuristic{
	positionHeuristic,
	fileTypeHeuristic,
	batchHeuristic,
	smallFileHeuristic,
}

// positionHeuristic favors citations earlier in the list.
func positionHeuristic(hc heuristicContext) []model.PrefetchCandidate {
	out := make([]model.PrefetchCandidate, 0, len(hc.records))
	for i, rec := range hc.records {
		priority := positionBasePriority / float64(i+1)
		out = append(out, model.PrefetchCandidate{
			MessageID: hc.messageID,
			FileID:    rec.FileID,
			Priority:  priority,
			Reason:    "position",
		})
	}
	return out
}

// fileTypeHeuristic favors commonly downloaded file types.
func fileTypeHeuristic(hc heuristicContext) []model.PrefetchCandidate {
	var out []model.PrefetchCandidate
	for _, rec := range hc.records {
		if !commonFileTypes[extensionOf(rec, hc.files)] {
			continue
		}
		out = append(out, model.PrefetchCandidate{
			MessageID: hc.messageID,
			FileID:    rec.FileID,
			Priority:  fileTypePriority,
			Reason:    "file-type",
		})
	}
	return out
}

// batchHeuristic adds a bonus to every document-like file when two or
// more co-occur, anticipating a batch download.
func batchHeuristic(hc heuristicContext) []model.PrefetchCandidate {
	var docs []model.SourceRecord
	for _, rec := range hc.records {
		if documentLikeTypes[extensionOf(rec, hc.files)] {
			docs = append(docs, rec)
		}
	}
	if len(docs) < 2 {
		return nil
	}

	out := make([]model.PrefetchCandidate, 0, len(docs))
	for _, rec := range docs {
		out = append(out, model.PrefetchCandidate{
			MessageID: hc.messageID,
			FileID:    rec.FileID,
			Priority:  batchBonusPriority,
			Reason:    "batch",
		})
	}
	return out
}

// smallFileHeuristic favors files cheap to resolve.
func smallFileHeuristic(hc heuristicContext) []model.PrefetchCandidate {
	var out []model.PrefetchCandidate
	for _, rec := range hc.records {
		meta, ok := hc.files[rec.FileID]
		if !ok || meta.SizeBytes <= 0 || meta.SizeBytes >= smallFileThreshold {
			continue
		}
		out = append(out, model.PrefetchCandidate{
			MessageID: hc.messageID,
			FileID:    rec.FileID,
			Priority:  smallFilePriority,
			Reason:    "small-file",
		})
	}
	return out
}

// GenerateCandidates runs every heuristic, deduplicates by
// (message, file) keeping the max priority seen, ranks by priority and
// truncates to limit.
func GenerateCandidates(messageID string, records []model.SourceRecord, files map[string]model.FileMetadata, limit int) []model.PrefetchCandidate {
	if limit <= 0 || len(records) == 0 {
		return nil
	}

	hc := heuristicContext{messageID: messageID, records: records, files: files}

	best := make(map[string]model.PrefetchCandidate)
	var order []string
	for _, h := range heuristics {
		for _, cand := range h(hc) {
			key := cand.MessageID + ":" + cand.FileID
			existing, seen := best[key]
			if !seen {
				best[key] = cand
				order = append(order, key)
				continue
			}
			if cand.Priority > existing.Priority {
				best[key] = cand
			}
		}
	}

	ranked := make([]model.PrefetchCandidate, 0, len(order))
	for _, key := range order {
		ranked = append(ranked, best[key])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// extensionOf resolves a file's extension, preferring metadata's
// display name over the citation record's.
func extensionOf(rec model.SourceRecord, files map[string]model.FileMetadata) string {
	name := rec.FileName
	if meta, ok := files[rec.FileID]; ok && meta.DisplayName != "" {
		name = meta.DisplayName
	}
	return strings.ToLower(filepath.Ext(name))
}
