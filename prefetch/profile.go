// Rolling per-user behavior profiles feeding confidence scoring.

package prefetch

import (
	"strings"
	"sync"
	"time"
)

// BehaviorProfile is a rolling summary of one user's session behavior.
type BehaviorProfile struct {
	Downloads      int            // downloads this session
	Previews       int            // previews before download
	BatchDownloads int            // multi-file download actions
	FileTypeCounts map[string]int // extension -> download count
	LastActiveHour int            // 0..23, local hour of last activity
}

// PreferredType returns the most-downloaded extension, or "".
func (p BehaviorProfile) PreferredType() string {
	var best string
	var bestCount int
	for ext, count := range p.FileTypeCounts {
		if count > bestCount || (count == bestCount && ext < best) {
			best, bestCount = ext, count
		}
	}
	return best
}

// ProfileStore tracks behavior profiles per user.
// Thread-safe; profiles are process-local and reset on restart.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]BehaviorProfile
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]BehaviorProfile)}
}

// Profile returns the user's current profile (zero value for new users).
// The map is copied so callers may read it while recorders keep writing.
func (s *ProfileStore) Profile(userID string) BehaviorProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.profiles[userID]
	if p.FileTypeCounts != nil {
		counts := make(map[string]int, len(p.FileTypeCounts))
		for ext, n := range p.FileTypeCounts {
			counts[ext] = n
		}
		p.FileTypeCounts = counts
	}
	return p
}

// RecordDownload notes a completed download of a file with the given
// extension.
func (s *ProfileStore) RecordDownload(userID, ext string) {
	ext = strings.ToLower(ext)
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	p.Downloads++
	if p.FileTypeCounts == nil {
		p.FileTypeCounts = make(map[string]int)
	}
	if ext != "" {
		p.FileTypeCounts[ext]++
	}
	p.LastActiveHour = time.Now().Hour()
	s.profiles[userID] = p
}

// RecordPreview notes a preview action.
func (s *ProfileStore) RecordPreview(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	p.Previews++
	p.LastActiveHour = time.Now().Hour()
	s.profiles[userID] = p
}

// RecordBatchDownload notes a multi-file download action.
func (s *ProfileStore) RecordBatchDownload(userID string, files int) {
	if files < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	p.BatchDownloads++
	p.Downloads += files
	p.LastActiveHour = time.Now().Hour()
	s.profiles[userID] = p
}
