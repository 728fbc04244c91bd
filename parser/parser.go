// Package parser converts raw file-search tool output into typed
// search result units.
//
// Information Hiding:
// - Tool output location heuristics hidden behind an ordered extractor list
// - Internal-data sentinel handling encapsulated
// - Filename de-mangling and file-id derivation hidden
package parser

import (
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/selasie/charon/model"
)

// Sentinel markers delimiting the internal data block an upstream
// runtime may embed in tool output. Fields inside the block (page
// numbers, storage keys) are authoritative and never shown to users.
const (
	internalBegin = "<<<INTERNAL_DATA>>>"
	internalEnd   = "<<<END_INTERNAL_DATA>>>"
)

// sectionSeparator splits multi-result payloads in addition to blank lines.
const sectionSeparator = "---"

// defaultRelevance is used when a section has a file id but no parseable
// relevance score.
const defaultRelevance = 0.5

// extraction locates the parseable portion of a content part.
// Extractors are tried in order; the first whose predicate matches wins.
type extraction struct {
	name    string
	matches func(text string) bool
	extract func(text string) string
}

// extractions is the ordered list of recognized tool-output shapes.
// The internal-data block is authoritative when present, so it is
// checked before the visible result listing.
var extractions = []extraction{
	{
		name: "internal-block",
		matches: func(text string) bool {
			return strings.Contains(text, internalBegin)
		},
		extract: extractInternalBlock,
	},
	{
		name: "visible-results",
		matches: func(text string) bool {
			return strings.Contains(text, "File:")
		},
		extract: func(text string) string { return text },
	},
}

// mangledName matches the internal storage naming scheme
// name_{8-hex}_{yyyymmdd}_{hhmmss}.ext produced when files are ingested.
var mangledName = regexp.MustCompile(`^(.+)_[0-9a-f]{8}_\d{8}_\d{6}(\.[A-Za-z0-9]+)$`)

// Parser parses tool-output content parts into search result units.
type Parser struct {
	logger *slog.Logger
}

// New creates a parser. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseContentParts parses every content part that carries recognizable
// tool output. A failure inside one part degrades to zero units from
// that part and a warning; it never aborts the remaining parts.
func (p *Parser) ParseContentParts(parts []string) []model.SearchResultUnit {
	var units []model.SearchResultUnit
	for i, part := range parts {
		parsed := p.parsePart(i, part)
		units = append(units, parsed...)
	}
	return units
}

// parsePart parses one content part, recovering from panics so a single
// malformed payload cannot take down response processing.
func (p *Parser) parsePart(index int, text string) (units []model.SearchResultUnit) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("tool output parse failed",
				"part", index,
				"panic", r,
				"preview", preview(text))
			units = nil
		}
	}()

	block, ok := locateToolOutput(text)
	if !ok {
		return nil
	}
	return p.parseBlock(block)
}

// locateToolOutput tries each extractor in order and returns the first
// matching block.
func locateToolOutput(text string) (string, bool) {
	for _, e := range extractions {
		if e.matches(text) {
			return e.extract(text), true
		}
	}
	return "", false
}

// extractInternalBlock returns the content between the sentinel markers.
// A missing end marker falls back to everything after the begin marker.
func extractInternalBlock(text string) string {
	start := strings.Index(text, internalBegin)
	if start == -1 {
		return ""
	}
	rest := text[start+len(internalBegin):]
	if end := strings.Index(rest, internalEnd); end != -1 {
		return rest[:end]
	}
	return rest
}

// parseBlock splits a block into sections and parses each one.
// Malformed or partial sections are expected and silently dropped.
func (p *Parser) parseBlock(block string) []model.SearchResultUnit {
	var units []model.SearchResultUnit
	for _, section := range splitSections(block) {
		unit, ok := parseSection(section)
		if !ok {
			continue
		}
		units = append(units, unit)
	}
	return units
}

// splitSections splits on blank lines and on the explicit separator token.
func splitSections(block string) []string {
	var sections []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = nil
		}
	}

	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == sectionSeparator {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return sections
}

// parseSection scans Key: value lines for the fixed field vocabulary.
// A section contributes a unit only if it has a filename and either a
// parsed relevance or an explicit file id.
func parseSection(section string) (model.SearchResultUnit, bool) {
	var unit model.SearchResultUnit
	var hasRelevance bool
	var explicitID bool

	for _, line := range strings.Split(section, "\n") {
		key, value, ok := splitKeyValue(line)
		if !ok || value == "" {
			continue
		}
		switch key {
		case "File":
			unit.FileName = DemangleFileName(value)
		case "File_ID":
			unit.FileID = value
			explicitID = true
		case "Relevance":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				unit.Relevance = clamp01(f)
				hasRelevance = true
			}
		case "Page":
			if n, err := strconv.Atoi(value); err == nil {
				unit.Page = n
				unit.HasPage = true
			}
		case "Storage_Type":
			unit.StorageType = parseStorageType(value)
		case "S3_Bucket":
			unit.Bucket = value
		case "S3_Key":
			unit.Key = value
		case "Content":
			// Snippet text; not carried on the unit.
		}
	}

	if unit.FileName == "" {
		return model.SearchResultUnit{}, false
	}
	if !hasRelevance && !explicitID {
		return model.SearchResultUnit{}, false
	}
	if !hasRelevance {
		unit.Relevance = defaultRelevance
	}
	if unit.Bucket != "" && unit.Key != "" && unit.StorageType == model.StorageUnknown {
		unit.StorageType = model.StorageObject
	}
	if unit.FileID == "" {
		unit.FileID = DeriveFileID(unit.FileName)
	}
	return unit, true
}

// splitKeyValue parses a "Key: value" line, normalizing N/A to absent.
func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if strings.EqualFold(value, "N/A") {
		value = ""
	}
	return key, value, true
}

func parseStorageType(value string) model.StorageType {
	switch strings.ToLower(value) {
	case "s3", "object-store", "object_store", "object":
		return model.StorageObject
	case "local", "file", "filesystem":
		return model.StorageLocal
	default:
		return model.StorageUnknown
	}
}

// DemangleFileName recovers the human-readable name from the internal
// storage naming scheme. Names that do not match the scheme are
// returned unchanged.
func DemangleFileName(name string) string {
	m := mangledName.FindStringSubmatch(name)
	if m == nil {
		return name
	}
	return m[1] + m[2]
}

// DeriveFileID deterministically derives a file id from a display name
// for hits where the runtime omitted one. The same name always maps to
// the same id so merge-by-file works downstream.
func DeriveFileID(fileName string) string {
	h := xxhash.Sum64String(fileName)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	return "fx-" + hex.EncodeToString(buf[:])
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// preview truncates text for warning messages.
func preview(text string) string {
	if len(text) > 100 {
		return text[:100] + "..."
	}
	return text
}
