package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		sets []domain.MetricSet
		want domain.MetricSet
	}{
		{
			name: "empty input yields zeros",
			sets: nil,
			want: domain.MetricSet{Reactions: map[string]int{}},
		},
		{
			name: "single set passes through",
			sets: []domain.MetricSet{
				{Views: 10, Comments: 2, Likes: 5, Reactions: map[string]int{"👍": 5}},
			},
			want: domain.MetricSet{Views: 10, Comments: 2, Likes: 5, Reactions: map[string]int{"👍": 5}},
		},
		{
			name: "numeric fields take the maximum",
			sets: []domain.MetricSet{
				{Views: 100, Comments: 1, Likes: 9},
				{Views: 98, Comments: 4, Likes: 11},
			},
			want: domain.MetricSet{Views: 100, Comments: 4, Likes: 11, Reactions: map[string]int{}},
		},
		{
			name: "reactions take key-wise maximum",
			sets: []domain.MetricSet{
				{Reactions: map[string]int{"👍": 8, "🔥": 1}},
				{Reactions: map[string]int{"👍": 6, "❤️": 3}},
			},
			want: domain.MetricSet{Reactions: map[string]int{"👍": 8, "🔥": 1, "❤️": 3}},
		},
		{
			name: "keys absent from an input contribute nothing",
			sets: []domain.MetricSet{
				{Reactions: map[string]int{"👍": 2}},
				{Reactions: nil},
			},
			want: domain.MetricSet{Reactions: map[string]int{"👍": 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.sets)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Merged numeric fields dominate every individual input.
func TestMergeMaxProperty(t *testing.T) {
	sets := []domain.MetricSet{
		{Views: 40, Comments: 3, Likes: 12, Reactions: map[string]int{"👍": 12}},
		{Views: 55, Comments: 1, Likes: 10, Reactions: map[string]int{"👍": 9, "🔥": 1}},
		{Views: 52, Comments: 2, Likes: 13, Reactions: map[string]int{"🔥": 4}},
	}

	merged := Merge(sets)

	for _, s := range sets {
		assert.GreaterOrEqual(t, merged.Views, s.Views)
		assert.GreaterOrEqual(t, merged.Comments, s.Comments)
		assert.GreaterOrEqual(t, merged.Likes, s.Likes)
	}

	assert.Equal(t, 55, merged.Views)
	assert.Equal(t, 3, merged.Comments)
	assert.Equal(t, 13, merged.Likes)
	assert.Equal(t, map[string]int{"👍": 12, "🔥": 4}, merged.Reactions)
}
