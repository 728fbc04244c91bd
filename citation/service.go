package citation

import (
	"context"

	"github.com/selasie/charon/model"
	"github.com/selasie/charon/parser"
)

// Service runs the full response-processing pass: parse tool output,
// select a diverse subset, record the selection.
type Service struct {
	parser     *parser.Parser
	recorder   *Recorder
	maxResults int
}

// NewService wires the parser and recorder behind one entry point.
func NewService(p *parser.Parser, recorder *Recorder, maxResults int) *Service {
	return &Service{parser: p, recorder: recorder, maxResults: maxResults}
}

// ProcessResponse parses the content parts of one agent response and
// records citations for the message. Recording happens only after the
// selection is finalized; there is no partial persistence of an
// incomplete selection.
func (s *Service) ProcessResponse(ctx context.Context, messageID string, contentParts []string) []model.SourceRecord {
	units := s.parser.ParseContentParts(contentParts)
	if len(units) == 0 {
		return nil
	}
	selected := Select(units, s.maxResults)
	return s.recorder.Record(ctx, messageID, selected, units)
}
