package parser

import (
	"strings"
	"testing"

	"github.com/selasie/charon/model"
)

func TestParseVisibleResults(t *testing.T) {
	p := New(nil)
	parts := []string{
		"File: report.pdf\nFile_ID: f-123\nRelevance: 0.9\nPage: 2\n\nFile: notes.txt\nRelevance: 0.4",
	}

	units := p.ParseContentParts(parts)
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].FileID != "f-123" {
		t.Errorf("expected explicit file id, got %q", units[0].FileID)
	}
	if units[0].Relevance != 0.9 {
		t.Errorf("expected relevance 0.9, got %v", units[0].Relevance)
	}
	if !units[0].HasPage || units[0].Page != 2 {
		t.Errorf("expected page 2, got %+v", units[0])
	}
	if units[1].FileID == "" {
		t.Error("expected derived file id for unit without File_ID")
	}
}

func TestParseInternalBlockIsAuthoritative(t *testing.T) {
	p := New(nil)
	text := "File: visible.pdf\nRelevance: 0.1\n" +
		"<<<INTERNAL_DATA>>>\nFile: hidden.pdf\nFile_ID: f-internal\nRelevance: 0.8\nS3_Bucket: docs\nS3_Key: k/hidden.pdf\n<<<END_INTERNAL_DATA>>>"

	units := p.ParseContentParts([]string{text})
	if len(units) != 1 {
		t.Fatalf("expected 1 unit from internal block, got %d", len(units))
	}
	if units[0].FileName != "hidden.pdf" {
		t.Errorf("expected internal block to win, got %q", units[0].FileName)
	}
	if units[0].StorageType != model.StorageObject {
		t.Errorf("expected object storage inferred from bucket/key, got %q", units[0].StorageType)
	}
}

func TestParseSeparatorToken(t *testing.T) {
	p := New(nil)
	text := "File: a.pdf\nRelevance: 0.5\n---\nFile: b.pdf\nRelevance: 0.6"

	units := p.ParseContentParts([]string{text})
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
}

func TestParseDropsMalformedSections(t *testing.T) {
	p := New(nil)
	text := strings.Join([]string{
		"File: kept.pdf\nRelevance: 0.7",
		"",
		"Relevance: 0.9", // no filename
		"",
		"File: no-score-no-id.pdf", // neither relevance nor id
		"",
		"File: na-fields.pdf\nFile_ID: N/A\nRelevance: N/A",
	}, "\n")

	units := p.ParseContentParts([]string{text})
	if len(units) != 1 {
		t.Fatalf("expected only the well-formed section, got %d units", len(units))
	}
	if units[0].FileName != "kept.pdf" {
		t.Errorf("expected kept.pdf, got %q", units[0].FileName)
	}
}

func TestParseUnrecognizedPartIgnored(t *testing.T) {
	p := New(nil)
	units := p.ParseContentParts([]string{"just some assistant prose with no tool output"})
	if len(units) != 0 {
		t.Fatalf("expected no units, got %d", len(units))
	}
}

func TestParseRelevanceFallback(t *testing.T) {
	p := New(nil)
	text := "File: doc.pdf\nFile_ID: f-9\nRelevance: not-a-number"

	units := p.ParseContentParts([]string{text})
	if len(units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(units))
	}
	if units[0].Relevance != 0.5 {
		t.Errorf("expected fallback relevance 0.5, got %v", units[0].Relevance)
	}
}

func TestEmittedUnitsAlwaysWellFormed(t *testing.T) {
	p := New(nil)
	parts := []string{
		"File: a.pdf\nRelevance: 0.3",
		"File: b.pdf\nFile_ID: f-b",
		"File: \nRelevance: 0.9",
		"garbage ::: File: c.pdf\nRelevance: 1.5",
	}

	for _, unit := range p.ParseContentParts(parts) {
		if unit.FileName == "" {
			t.Errorf("unit with empty file name emitted: %+v", unit)
		}
		if unit.Relevance <= 0 && unit.FileID == "" {
			t.Errorf("unit without relevance or id emitted: %+v", unit)
		}
		if unit.Relevance < 0 || unit.Relevance > 1 {
			t.Errorf("relevance out of range: %+v", unit)
		}
	}
}

func TestDemangleFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report_3fa9c2d1_20250114_093055.pdf", "report.pdf"},
		{"q3 budget_0abc12ef_20241231_235959.xlsx", "q3 budget.xlsx"},
		{"plain.pdf", "plain.pdf"},
		{"not_mangled_enough.txt", "not_mangled_enough.txt"},
		{"under_scores_ok_deadbeef_20250101_000000.md", "under_scores_ok.md"},
	}
	for _, tt := range tests {
		if got := DemangleFileName(tt.in); got != tt.want {
			t.Errorf("DemangleFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeriveFileIDDeterministic(t *testing.T) {
	a := DeriveFileID("report.pdf")
	b := DeriveFileID("report.pdf")
	c := DeriveFileID("other.pdf")
	if a != b {
		t.Errorf("same name produced different ids: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different names produced the same id")
	}
	if a == "" {
		t.Error("expected non-empty derived id")
	}
}
