// Package rank selects a bounded top-K sample from a metrics-annotated
// candidate pool under per-criterion quotas, with deduplication and two
// escalating fallbacks for quiet channels.
package rank

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// refetchLimit bounds the window-ignoring re-fetch of the last fallback.
const refetchLimit = 500

// Candidate is one pool entry: a message pre-annotated with its metrics.
type Candidate struct {
	Message domain.RawMessage
	Metrics domain.MetricSet
}

// Quotas caps how many candidates each ranking criterion may contribute.
type Quotas struct {
	Likes    int
	Comments int
	Views    int
}

// RefetchFunc fetches the most recent messages ignoring any lookback
// window. It backs the final fallback when the pool itself is empty.
type RefetchFunc func(ctx context.Context, limit int) ([]domain.RawMessage, error)

// criterion names a ranking dimension. Priority order is fixed:
// likes, then comments, then views; the first criterion to pick a
// message wins it.
type criterion struct {
	name  string
	quota func(Quotas) int
	value func(domain.MetricSet) int
}

var criteria = []criterion{
	{name: "likes", quota: func(q Quotas) int { return q.Likes }, value: func(m domain.MetricSet) int { return m.Likes }},
	{name: "comments", quota: func(q Quotas) int { return q.Comments }, value: func(m domain.MetricSet) int { return m.Comments }},
	{name: "views", quota: func(q Quotas) int { return q.Views }, value: func(m domain.MetricSet) int { return m.Views }},
}

// Selector picks top candidates. The zero refetch func disables the
// final fallback.
type Selector struct {
	refetch RefetchFunc
	logger  *zerolog.Logger
}

// New creates a Selector.
func New(refetch RefetchFunc, logger *zerolog.Logger) *Selector {
	return &Selector{refetch: refetch, logger: logger}
}

// Select walks the criteria in priority order, filling each quota from
// the pool sorted descending by that criterion, skipping messages
// already selected under an earlier criterion. A positive limit
// truncates the assembled union in selection order; the result is never
// re-ranked after assembly, so selection is deterministic given
// deterministic input order.
//
// Fallback one: an empty union falls back to the whole pool by recency.
// Fallback two: an empty pool falls back to re-fetching recent messages
// with zero-valued metrics assumed.
func (s *Selector) Select(ctx context.Context, pool []Candidate, quotas Quotas, limit int) ([]Candidate, error) {
	selected := s.selectByQuotas(pool, quotas)

	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}

	if len(selected) == 0 && len(pool) > 0 {
		s.logger.Debug().Msg("quota selection empty, falling back to recency")
		selected = recentFirst(pool, limit)
	}

	if len(selected) == 0 && len(pool) == 0 && s.refetch != nil {
		s.logger.Debug().Msg("candidate pool empty, re-fetching without lookback window")

		fetchLimit := refetchLimit
		if limit > 0 && limit < fetchLimit {
			fetchLimit = limit
		}

		msgs, err := s.refetch(ctx, fetchLimit)
		if err != nil {
			return nil, fmt.Errorf("refetch recent messages: %w", err)
		}

		for _, m := range msgs {
			selected = append(selected, Candidate{
				Message: m,
				Metrics: domain.MetricSet{Reactions: map[string]int{}},
			})

			if limit > 0 && len(selected) >= limit {
				break
			}
		}
	}

	return selected, nil
}

// selectByQuotas assembles the deduplicated quota union.
func (s *Selector) selectByQuotas(pool []Candidate, quotas Quotas) []Candidate {
	var selected []Candidate

	picked := make(map[int64]struct{})

	for _, c := range criteria {
		quota := c.quota(quotas)
		if quota <= 0 {
			continue
		}

		added := 0

		for _, cand := range sortedBy(pool, c.value) {
			if added >= quota {
				break
			}

			if _, ok := picked[cand.Message.ID]; ok {
				continue
			}

			picked[cand.Message.ID] = struct{}{}
			selected = append(selected, cand)
			added++
		}
	}

	return selected
}

// sortedBy returns the pool sorted descending by the criterion value,
// preferring the subsequence of strictly-positive values when non-empty
// so a channel with zero engagement still yields candidates.
func sortedBy(pool []Candidate, value func(domain.MetricSet) int) []Candidate {
	all := append([]Candidate(nil), pool...)
	sort.SliceStable(all, func(i, j int) bool {
		return value(all[i].Metrics) > value(all[j].Metrics)
	})

	positives := make([]Candidate, 0, len(all))

	for _, c := range all {
		if value(c.Metrics) > 0 {
			positives = append(positives, c)
		}
	}

	if len(positives) > 0 {
		return positives
	}

	return all
}

// recentFirst returns the pool sorted by timestamp descending, bounded
// by limit when positive.
func recentFirst(pool []Candidate, limit int) []Candidate {
	all := append([]Candidate(nil), pool...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Message.Date.After(all[j].Message.Date)
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	return all
}
