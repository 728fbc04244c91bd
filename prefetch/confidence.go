// Confidence scoring: how likely is a citation to actually be
// downloaded. Independent of the priority ranking used to order work.

package prefetch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/selasie/charon/model"
)

// Signal weights. They sum to 1 so the combined score stays in 0..1.
const (
	weightSize     = 0.25
	weightFileType = 0.25
	weightPosition = 0.30
	weightBehavior = 0.20
)

// confidence combines weighted signals into a 0..1 estimate that the
// file at the given citation position will be downloaded. now feeds the
// time-of-day activity signal.
func confidence(file model.FileMetadata, rec model.SourceRecord, position, total int, profile BehaviorProfile, now time.Time) float64 {
	score := weightSize*sizeBandScore(file.SizeBytes) +
		weightFileType*fileTypeScore(file, rec) +
		weightPosition*positionScore(position, total) +
		weightBehavior*behaviorScore(file, rec, profile, now.Hour())
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// sizeBandScore favors small files; unknown sizes score neutrally.
func sizeBandScore(sizeBytes int64) float64 {
	switch {
	case sizeBytes <= 0:
		return 0.5
	case sizeBytes < 1<<20: // < 1 MiB
		return 1.0
	case sizeBytes < smallFileThreshold:
		return 0.8
	case sizeBytes < 50<<20: // < 50 MiB
		return 0.4
	default:
		return 0.1
	}
}

// fileTypeScore reflects general download popularity of the type.
func fileTypeScore(file model.FileMetadata, rec model.SourceRecord) float64 {
	ext := effectiveExt(file, rec)
	switch {
	case ext == ".pdf":
		return 1.0
	case commonFileTypes[ext]:
		return 0.8
	case ext == "":
		return 0.3
	default:
		return 0.4
	}
}

// positionScore decays linearly with citation position.
func positionScore(position, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(position)/float64(total)
}

// behaviorScore folds in the user's session profile: active downloaders,
// batch downloaders, and users who preview before downloading score
// higher, as do files matching the user's preferred type and sessions
// inside the user's active hour.
func behaviorScore(file model.FileMetadata, rec model.SourceRecord, profile BehaviorProfile, hour int) float64 {
	score := 0.3
	if profile.Downloads > 0 {
		score += 0.3
	}
	if profile.Downloads >= 5 {
		score += 0.1
	}
	if profile.BatchDownloads > 0 {
		score += 0.1
	}
	if profile.Previews > 0 {
		score += 0.05
	}
	if pref := profile.PreferredType(); pref != "" && pref == effectiveExt(file, rec) {
		score += 0.2
	}
	if (profile.Downloads > 0 || profile.Previews > 0) && profile.LastActiveHour == hour {
		score += 0.05
	}
	if score > 1 {
		score = 1
	}
	return score
}

func effectiveExt(file model.FileMetadata, rec model.SourceRecord) string {
	name := file.DisplayName
	if name == "" {
		name = rec.FileName
	}
	return strings.ToLower(filepath.Ext(name))
}
