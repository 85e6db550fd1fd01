package document

import (
	"sort"

	"claw-companion/backend/internal/models"
)

// ItemFilter selects items; zero fields match everything
type ItemFilter struct {
	List     models.ListName
	Status   models.ItemStatus
	Priority models.Priority
}

// FilterItems returns matching items sorted by priority, highest first,
// then newest first
func FilterItems(d models.Dashboard, f ItemFilter) []models.MissionItem {
	var src []models.MissionItem
	if f.List != "" {
		if l := d.List(f.List); l != nil {
			src = *l
		}
	} else {
		src = append(append(append(src, d.TodoList...), d.MissionList...), d.DoneList...)
	}

	out := make([]models.MissionItem, 0, len(src))
	for _, it := range src {
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		if f.Priority != 0 && it.Priority != f.Priority {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

func FilterNotes(d models.Dashboard, category string) []models.MissionNote {
	out := make([]models.MissionNote, 0, len(d.Notes))
	for _, n := range d.Notes {
		if category == "" || n.Category == category {
			out = append(out, n)
		}
	}
	return out
}

// FilterRules returns matching rules ordered by priority, highest first
func FilterRules(d models.Dashboard, ruleType models.RuleType) []models.MissionRule {
	out := make([]models.MissionRule, 0, len(d.Rules))
	for _, r := range d.Rules {
		if ruleType == "" || r.RuleType == ruleType {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}
