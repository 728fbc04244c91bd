package prefetch

import (
	"testing"

	"github.com/selasie/charon/model"
)

func rec(fileID, fileName string) model.SourceRecord {
	return model.SourceRecord{FileID: fileID, FileName: fileName}
}

func TestGenerateCandidatesPositionOrdering(t *testing.T) {
	records := []model.SourceRecord{
		rec("f1", "alpha.bin"),
		rec("f2", "beta.bin"),
		rec("f3", "gamma.bin"),
	}

	candidates := GenerateCandidates("msg-1", records, nil, 10)
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	for i, want := range []string{"f1", "f2", "f3"} {
		if candidates[i].FileID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, candidates[i].FileID)
		}
	}
	if candidates[0].Priority != 1.0 {
		t.Errorf("expected top candidate priority 1.0, got %v", candidates[0].Priority)
	}
}

func TestGenerateCandidatesKeepsMaxPriorityPerFile(t *testing.T) {
	// f2 sits late positionally but is a PDF; the file-type heuristic's
	// 0.6 must win over the position heuristic's 1/3.
	records := []model.SourceRecord{
		rec("f1", "alpha.bin"),
		rec("f3", "gamma.bin"),
		rec("f2", "report.pdf"),
	}

	candidates := GenerateCandidates("msg-1", records, nil, 10)
	var f2 *model.PrefetchCandidate
	for i := range candidates {
		if candidates[i].FileID == "f2" {
			f2 = &candidates[i]
		}
	}
	if f2 == nil {
		t.Fatal("expected a candidate for f2")
	}
	if f2.Priority != fileTypePriority {
		t.Errorf("expected f2 priority %v, got %v", fileTypePriority, f2.Priority)
	}
	if f2.Reason != "file-type" {
		t.Errorf("expected reason file-type, got %q", f2.Reason)
	}
}

func TestBatchHeuristicNeedsTwoDocuments(t *testing.T) {
	one := heuristicContext{
		messageID: "msg-1",
		records:   []model.SourceRecord{rec("f1", "a.pdf")},
	}
	if out := batchHeuristic(one); out != nil {
		t.Errorf("expected no batch bonus for a single document, got %d", len(out))
	}

	two := heuristicContext{
		messageID: "msg-1",
		records:   []model.SourceRecord{rec("f1", "a.pdf"), rec("f2", "b.docx")},
	}
	out := batchHeuristic(two)
	if len(out) != 2 {
		t.Fatalf("expected batch bonus for both documents, got %d", len(out))
	}
	for _, cand := range out {
		if cand.Priority != batchBonusPriority {
			t.Errorf("expected priority %v, got %v", batchBonusPriority, cand.Priority)
		}
	}
}

func TestSmallFileHeuristic(t *testing.T) {
	records := []model.SourceRecord{rec("small", "s.bin"), rec("big", "b.bin"), rec("unknown", "u.bin")}
	files := map[string]model.FileMetadata{
		"small": {FileID: "small", SizeBytes: 1 << 20},
		"big":   {FileID: "big", SizeBytes: 100 << 20},
	}

	out := smallFileHeuristic(heuristicContext{messageID: "m", records: records, files: files})
	if len(out) != 1 {
		t.Fatalf("expected only the small file, got %d candidates", len(out))
	}
	if out[0].FileID != "small" {
		t.Errorf("expected small, got %s", out[0].FileID)
	}
}

func TestGenerateCandidatesHonorsLimit(t *testing.T) {
	var records []model.SourceRecord
	for _, id := range []string{"f1", "f2", "f3", "f4", "f5"} {
		records = append(records, rec(id, id+".pdf"))
	}

	candidates := GenerateCandidates("msg-1", records, nil, 3)
	if len(candidates) != 3 {
		t.Errorf("expected limit of 3, got %d", len(candidates))
	}
}

func TestExtensionOfPrefersMetadataDisplayName(t *testing.T) {
	r := rec("f1", "mangled_abc12345_20250101_120000")
	files := map[string]model.FileMetadata{
		"f1": {FileID: "f1", DisplayName: "report.PDF"},
	}
	if got := extensionOf(r, files); got != ".pdf" {
		t.Errorf("expected .pdf, got %q", got)
	}
}
