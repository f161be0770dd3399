package memory

import (
	"math"
	"sort"
	"time"

	"github.com/haasonsaas/aide/pkg/models"
)

// FuseWeights controls how the three ranking signals combine into the final
// retrieval score.
type FuseWeights struct {
	Vector  float64
	Keyword float64
	RIF     float64
}

// DefaultFuseWeights favors semantic similarity, with relevance decay as a
// strong second signal.
var DefaultFuseWeights = FuseWeights{Vector: 0.5, Keyword: 0.2, RIF: 0.3}

// rifHalfLife is the recency time constant: a day-old memory scores 1/e.
const rifHalfLife = 24 * time.Hour

// RIFScore computes the recency/importance/frequency score of an entry at
// the given instant. Each component is in [0,1]; the score is their mean.
func RIFScore(entry *models.MemoryEntry, now time.Time) float64 {
	hours := now.Sub(entry.LastAccessedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := math.Exp(-hours / rifHalfLife.Hours())
	importance := clamp01(entry.Confidence)
	frequency := math.Min(1, float64(entry.AccessCount)/10)
	return (recency + importance + frequency) / 3
}

// Fuse merges vector and keyword result lists into a single ranking. Both
// lists may mention the same entry; the merged result carries all three
// score components. Ties break toward the more recently accessed entry.
func Fuse(vector, keyword []*models.SearchResult, weights FuseWeights, now time.Time, limit int) []*models.SearchResult {
	merged := map[string]*models.SearchResult{}

	for _, r := range vector {
		merged[r.Entry.ID] = &models.SearchResult{
			Entry:       r.Entry,
			VectorScore: r.VectorScore,
		}
	}
	for _, r := range keyword {
		if existing, ok := merged[r.Entry.ID]; ok {
			existing.KeywordScore = r.KeywordScore
			continue
		}
		merged[r.Entry.ID] = &models.SearchResult{
			Entry:        r.Entry,
			KeywordScore: r.KeywordScore,
		}
	}

	results := make([]*models.SearchResult, 0, len(merged))
	for _, r := range merged {
		r.RIFScore = RIFScore(r.Entry, now)
		r.Score = weights.Vector*r.VectorScore +
			weights.Keyword*r.KeywordScore +
			weights.RIF*r.RIFScore
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.LastAccessedAt.After(results[j].Entry.LastAccessedAt)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
