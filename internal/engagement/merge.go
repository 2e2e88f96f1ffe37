package engagement

import "github.com/Parser322/tg-pipeline/internal/core/domain"

// Merge combines the metric sets of an album's members into one. Views,
// comments and likes are each the maximum across inputs; the reaction
// breakdown is a key-wise maximum. Likes and the summed breakdown are
// computed independently and may drift apart after a merge; the source
// feed behaves the same way and no reconciliation is attempted.
func Merge(sets []domain.MetricSet) domain.MetricSet {
	merged := domain.MetricSet{Reactions: map[string]int{}}

	for _, s := range sets {
		if s.Views > merged.Views {
			merged.Views = s.Views
		}

		if s.Comments > merged.Comments {
			merged.Comments = s.Comments
		}

		if s.Likes > merged.Likes {
			merged.Likes = s.Likes
		}

		for key, count := range s.Reactions {
			if count > merged.Reactions[key] {
				merged.Reactions[key] = count
			}
		}
	}

	return merged
}
