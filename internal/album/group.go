// Package album partitions a fetched message batch into post units,
// collapsing messages that share an album grouping id into one unit and
// keeping standalone messages as their own unit.
package album

import (
	"sort"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// Group partitions messages into post units. Unit order follows the
// first occurrence of each album (or singleton) in the input, which is
// typically newest-first feed order. Within a unit, members are sorted
// by (date, id) ascending regardless of input order.
//
// An album whose members are split across a truncated fetch window
// yields a partial unit; there is no cross-batch reconciliation.
func Group(messages []domain.RawMessage) []domain.PostUnit {
	if len(messages) == 0 {
		return nil
	}

	grouped := make(map[int64][]domain.RawMessage)

	for _, msg := range messages {
		if msg.GroupedID != 0 {
			grouped[msg.GroupedID] = append(grouped[msg.GroupedID], msg)
		}
	}

	units := make([]domain.PostUnit, 0, len(messages))
	seenGroups := make(map[int64]struct{})
	seenIDs := make(map[int64]struct{})

	for _, msg := range messages {
		if msg.GroupedID != 0 {
			if _, ok := seenGroups[msg.GroupedID]; ok {
				continue
			}

			seenGroups[msg.GroupedID] = struct{}{}

			members := append([]domain.RawMessage(nil), grouped[msg.GroupedID]...)
			sortMembers(members)

			for _, m := range members {
				seenIDs[m.ID] = struct{}{}
			}

			units = append(units, domain.PostUnit{GroupedID: msg.GroupedID, Members: members})

			continue
		}

		if _, ok := seenIDs[msg.ID]; ok {
			continue
		}

		seenIDs[msg.ID] = struct{}{}
		units = append(units, domain.PostUnit{Members: []domain.RawMessage{msg}})
	}

	return units
}

// sortMembers orders album members canonically by (date, id) ascending.
func sortMembers(members []domain.RawMessage) {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].Date.Equal(members[j].Date) {
			return members[i].Date.Before(members[j].Date)
		}

		return members[i].ID < members[j].ID
	})
}
