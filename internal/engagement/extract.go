// Package engagement extracts and merges per-message engagement metrics.
//
// Extraction pulls views, comment count and reaction counters out of a
// single raw message. Merging combines the metrics of an album's members
// into one post-level set using per-field maxima: album siblings report
// near-duplicate, sometimes slightly skewed counters, and max avoids
// undercounting from partial sync.
package engagement

import (
	"fmt"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// reactionKeyUnknown is used when no form of a reaction key resolves.
const reactionKeyUnknown = "unknown"

// Extract builds a MetricSet from one raw message. Missing counters
// default to zero; malformed reaction data degrades to zeros rather
// than failing.
func Extract(msg domain.RawMessage) domain.MetricSet {
	m := domain.MetricSet{
		Views:     msg.Views,
		Comments:  msg.Comments,
		Reactions: map[string]int{},
	}

	for _, entry := range msg.Reactions {
		if entry.Count <= 0 {
			continue
		}

		key := resolveReactionKey(entry)
		m.Likes += entry.Count
		m.Reactions[key] += entry.Count
	}

	return m
}

// resolveReactionKey resolves a reaction entry to a breakdown key, in
// priority order: Unicode emoji, custom:<documentId>, string fallback,
// the literal "unknown".
func resolveReactionKey(entry domain.ReactionEntry) string {
	if entry.Emoticon != "" {
		return entry.Emoticon
	}

	if entry.DocumentID != 0 {
		return fmt.Sprintf("custom:%d", entry.DocumentID)
	}

	if entry.Fallback != "" {
		return entry.Fallback
	}

	return reactionKeyUnknown
}
