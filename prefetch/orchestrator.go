// Prefetch orchestration.
//
// A background, advisory subsystem: nothing here may ever surface an
// error to a foreground request. Failures are logged and swallowed.

package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/selasie/charon/model"
	"github.com/selasie/charon/storage"
)

// State is the orchestrator's per-message lifecycle.
type State string

const (
	// StateIdle means no prefetch pass has run for the message.
	StateIdle State = "idle"
	// StateActive means a pass is currently resolving candidates.
	StateActive State = "active"
	// StateComplete means the last pass finished; re-enterable.
	StateComplete State = "complete"
)

// Resolver resolves a citation into a download link. The production
// implementation routes through the same access-validation and link
// issuance path as foreground requests.
type Resolver interface {
	Resolve(ctx context.Context, userID, messageID, conversationID, fileID string) (model.IssuedLink, error)
}

// Config tunes the orchestrator.
type Config struct {
	Enabled             bool
	MaxConcurrent       int
	ConfidenceThreshold float64
}

// Orchestrator scores citations and pre-resolves likely downloads.
type Orchestrator struct {
	cfg       Config
	cache     Cache
	resolver  Resolver
	citations storage.CitationStore
	files     storage.FileMetadataStore
	profiles  *ProfileStore
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]State
}

// NewOrchestrator wires the orchestrator. A nil logger falls back to
// slog.Default().
func NewOrchestrator(cfg Config, cache Cache, resolver Resolver, citations storage.CitationStore, files storage.FileMetadataStore, profiles *ProfileStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if profiles == nil {
		profiles = NewProfileStore()
	}
	return &Orchestrator{
		cfg:       cfg,
		cache:     cache,
		resolver:  resolver,
		citations: citations,
		files:     files,
		profiles:  profiles,
		logger:    logger,
		states:    make(map[string]State),
	}
}

// State reports the lifecycle state for a message.
func (o *Orchestrator) State(messageID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[messageID]; ok {
		return s
	}
	return StateIdle
}

// Profiles exposes the behavior profile store so the serving layer can
// record download and preview events.
func (o *Orchestrator) Profiles() *ProfileStore {
	return o.profiles
}

// PrefetchMessage runs one pass for a message: generate candidates,
// gate them on confidence (unless highPriority overrides the gate),
// and resolve accepted ones with bounded concurrency.
//
// Advisory by contract: every error is swallowed after logging.
func (o *Orchestrator) PrefetchMessage(ctx context.Context, userID, conversationID, messageID string, highPriority bool) {
	if !o.cfg.Enabled {
		return
	}

	o.mu.Lock()
	if o.states[messageID] == StateActive {
		o.mu.Unlock()
		return
	}
	o.states[messageID] = StateActive
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.states[messageID] = StateComplete
		o.mu.Unlock()
	}()

	records, err := o.citations.ListByMessage(ctx, messageID)
	if err != nil {
		o.logger.Warn("prefetch citation listing failed", "message", messageID, "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	fileIDs := make([]string, 0, len(records))
	for _, rec := range records {
		fileIDs = append(fileIDs, rec.FileID)
	}
	files, err := o.files.GetFiles(ctx, fileIDs)
	if err != nil {
		o.logger.Warn("prefetch metadata lookup failed", "message", messageID, "error", err)
		files = map[string]model.FileMetadata{}
	}

	candidates := GenerateCandidates(messageID, records, files, o.cfg.MaxConcurrent)
	accepted := o.gate(candidates, records, files, userID, highPriority)
	if len(accepted) == 0 {
		return
	}

	o.resolveAll(ctx, userID, conversationID, accepted)
}

// gate applies confidence scoring. highPriority bypasses the threshold.
func (o *Orchestrator) gate(candidates []model.PrefetchCandidate, records []model.SourceRecord, files map[string]model.FileMetadata, userID string, highPriority bool) []model.PrefetchCandidate {
	if highPriority {
		return candidates
	}

	position := make(map[string]int, len(records))
	recByFile := make(map[string]model.SourceRecord, len(records))
	for i, rec := range records {
		position[rec.FileID] = i
		recByFile[rec.FileID] = rec
	}

	profile := o.profiles.Profile(userID)
	now := time.Now()
	var accepted []model.PrefetchCandidate
	for _, cand := range candidates {
		score := confidence(files[cand.FileID], recByFile[cand.FileID], position[cand.FileID], len(records), profile, now)
		if score < o.cfg.ConfidenceThreshold {
			o.logger.Debug("prefetch candidate below confidence threshold",
				"message", cand.MessageID, "file", cand.FileID,
				"confidence", score, "reason", cand.Reason)
			continue
		}
		accepted = append(accepted, cand)
	}
	return accepted
}

// resolveAll resolves candidates with at most MaxConcurrent in flight.
// Each key is claimed pending before work starts so no two resolutions
// race on the same (message, file).
func (o *Orchestrator) resolveAll(ctx context.Context, userID, conversationID string, candidates []model.PrefetchCandidate) {
	sem := make(chan struct{}, o.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, cand := range candidates {
		claimed, err := o.cache.TryClaim(ctx, cand.MessageID, cand.FileID)
		if err != nil {
			o.logger.Warn("prefetch claim failed", "message", cand.MessageID, "file", cand.FileID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(cand model.PrefetchCandidate) {
			defer wg.Done()
			defer func() { <-sem }()
			o.resolveOne(ctx, userID, conversationID, cand)
		}(cand)
	}

	wg.Wait()
}

func (o *Orchestrator) resolveOne(ctx context.Context, userID, conversationID string, cand model.PrefetchCandidate) {
	link, err := o.resolver.Resolve(ctx, userID, cand.MessageID, conversationID, cand.FileID)
	if err != nil {
		o.logger.Warn("prefetch resolution failed",
			"message", cand.MessageID, "file", cand.FileID, "reason", cand.Reason, "error", err)
		if failErr := o.cache.Fail(ctx, cand.MessageID, cand.FileID); failErr != nil {
			o.logger.Warn("prefetch cache fail-mark failed", "message", cand.MessageID, "file", cand.FileID, "error", failErr)
		}
		return
	}

	if err := o.cache.Complete(ctx, cand.MessageID, cand.FileID, link); err != nil {
		o.logger.Warn("prefetch cache write failed", "message", cand.MessageID, "file", cand.FileID, "error", err)
	}
}

// IsPrefetched reports whether a live complete entry exists. Pure
// lookup; never triggers resolution.
func (o *Orchestrator) IsPrefetched(ctx context.Context, messageID, fileID string) bool {
	entry, err := o.cache.Get(ctx, messageID, fileID)
	if err != nil {
		o.logger.Warn("prefetch cache read failed", "message", messageID, "file", fileID, "error", err)
		return false
	}
	return entry != nil && entry.Status == StatusComplete
}

// PrefetchedLink returns the cached link if a live complete entry
// exists. Pure lookup; never triggers resolution.
func (o *Orchestrator) PrefetchedLink(ctx context.Context, messageID, fileID string) (model.IssuedLink, bool) {
	entry, err := o.cache.Get(ctx, messageID, fileID)
	if err != nil {
		o.logger.Warn("prefetch cache read failed", "message", messageID, "file", fileID, "error", err)
		return model.IssuedLink{}, false
	}
	if entry == nil || entry.Status != StatusComplete {
		return model.IssuedLink{}, false
	}
	return entry.Link, true
}

// RunSweeper evicts expired cache entries on the given interval until
// the context is canceled. Independent of candidate generation.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := o.cache.Sweep(ctx)
			if err != nil {
				o.logger.Warn("prefetch sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				o.logger.Debug("prefetch sweep evicted entries", "count", removed)
			}
		}
	}
}
