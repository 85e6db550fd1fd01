package document

import (
	"fmt"
	"strings"

	"claw-companion/backend/internal/models"

	"github.com/google/uuid"
)

const defaultNoteCategory = "general"

func newID() string {
	return uuid.NewString()
}

// ItemPatch holds the fields UpdateItem may change; nil fields are kept
type ItemPatch struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	Priority    *models.Priority   `json:"priority,omitempty"`
	Status      *models.ItemStatus `json:"status,omitempty"`
	AssignedBot *string            `json:"assignedBot,omitempty"`
	ETA         *int64             `json:"eta,omitempty"`
}

type NotePatch struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Category *string `json:"category,omitempty"`
}

type RulePatch struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	RuleType    *models.RuleType  `json:"ruleType,omitempty"`
	Enabled     *bool             `json:"isEnabled,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidChange, fmt.Sprintf(format, args...))
}

func validPriority(p models.Priority) bool {
	return p >= models.PriorityLow && p <= models.PriorityCritical
}

func validStatus(s models.ItemStatus) bool {
	switch s {
	case models.StatusPending, models.StatusInProgress, models.StatusBlocked, models.StatusDone, models.StatusCancelled:
		return true
	}
	return false
}

func validRuleType(t models.RuleType) bool {
	switch t {
	case models.RuleWorkflow, models.RuleCodeReview, models.RuleCommunication, models.RuleDeployment, models.RuleSync:
		return true
	}
	return false
}

// findItem locates an item in any list
func findItem(d *models.Dashboard, id string) (*[]models.MissionItem, int) {
	for _, name := range []models.ListName{models.ListTodo, models.ListMission, models.ListDone} {
		list := d.List(name)
		for i := range *list {
			if (*list)[i].ID == id {
				return list, i
			}
		}
	}
	return nil, -1
}

// AddItem appends a new item to the named list. The item's ID is assigned
// when empty; Priority defaults to MEDIUM and Status to PENDING.
func AddItem(list models.ListName, item models.MissionItem) Mutation {
	return func(d *models.Dashboard, c Change) error {
		target := d.List(list)
		if target == nil {
			return invalid("unknown list %q", list)
		}
		if strings.TrimSpace(item.Title) == "" {
			return invalid("item title is required")
		}
		if item.Priority == 0 {
			item.Priority = models.PriorityMedium
		}
		if !validPriority(item.Priority) {
			return invalid("priority %d out of range", item.Priority)
		}
		if item.Status == "" {
			item.Status = models.StatusPending
			if list == models.ListDone {
				item.Status = models.StatusDone
			}
		}
		if !validStatus(item.Status) {
			return invalid("unknown status %q", item.Status)
		}
		if item.ID == "" {
			item.ID = c.IDs()
		} else if l, _ := findItem(d, item.ID); l != nil {
			return invalid("item %s already exists", item.ID)
		}
		item.CreatedAt, item.UpdatedAt = c.At, c.At
		item.CreatedBy, item.UpdatedBy = c.By, c.By
		*target = append(*target, item)
		return nil
	}
}

// UpdateItem edits an item in place, wherever it is listed
func UpdateItem(id string, p ItemPatch) Mutation {
	return func(d *models.Dashboard, c Change) error {
		list, i := findItem(d, id)
		if list == nil {
			return fmt.Errorf("%w: item %s", ErrEntityNotFound, id)
		}
		it := (*list)[i]
		if p.Title != nil {
			if strings.TrimSpace(*p.Title) == "" {
				return invalid("item title is required")
			}
			it.Title = *p.Title
		}
		if p.Description != nil {
			it.Description = *p.Description
		}
		if p.Priority != nil {
			if !validPriority(*p.Priority) {
				return invalid("priority %d out of range", *p.Priority)
			}
			it.Priority = *p.Priority
		}
		if p.Status != nil {
			if !validStatus(*p.Status) {
				return invalid("unknown status %q", *p.Status)
			}
			it.Status = *p.Status
		}
		if p.AssignedBot != nil {
			it.AssignedBot = *p.AssignedBot
		}
		if p.ETA != nil {
			eta := *p.ETA
			it.ETA = &eta
		}
		it.UpdatedAt, it.UpdatedBy = c.At, c.By
		(*list)[i] = it
		return nil
	}
}

// MoveToMission takes a todo item into the mission list as IN_PROGRESS
func MoveToMission(id, assignedBot string) Mutation {
	return func(d *models.Dashboard, c Change) error {
		idx := -1
		for i := range d.TodoList {
			if d.TodoList[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: todo item %s", ErrEntityNotFound, id)
		}
		it := d.TodoList[idx]
		it.Status = models.StatusInProgress
		it.AssignedBot = assignedBot
		it.UpdatedAt, it.UpdatedBy = c.At, c.By
		d.TodoList = append(d.TodoList[:idx:idx], d.TodoList[idx+1:]...)
		d.MissionList = append(d.MissionList, it)
		return nil
	}
}

// MoveToDone completes a todo or mission item and puts it first in the done list
func MoveToDone(id string) Mutation {
	return func(d *models.Dashboard, c Change) error {
		list, i := findItem(d, id)
		if list == nil || list == &d.DoneList {
			return fmt.Errorf("%w: open item %s", ErrEntityNotFound, id)
		}
		it := (*list)[i]
		done := c.At
		it.Status = models.StatusDone
		it.CompletedAt = &done
		it.UpdatedAt, it.UpdatedBy = c.At, c.By
		*list = append((*list)[:i:i], (*list)[i+1:]...)
		d.DoneList = append([]models.MissionItem{it}, d.DoneList...)
		return nil
	}
}

// DeleteItem removes an item from whichever list holds it
func DeleteItem(id string) Mutation {
	return func(d *models.Dashboard, _ Change) error {
		list, i := findItem(d, id)
		if list == nil {
			return fmt.Errorf("%w: item %s", ErrEntityNotFound, id)
		}
		*list = append((*list)[:i:i], (*list)[i+1:]...)
		return nil
	}
}

func AddNote(n models.MissionNote) Mutation {
	return func(d *models.Dashboard, c Change) error {
		if strings.TrimSpace(n.Title) == "" {
			return invalid("note title is required")
		}
		if n.Category == "" {
			n.Category = defaultNoteCategory
		}
		if n.ID == "" {
			n.ID = c.IDs()
		}
		for _, existing := range d.Notes {
			if existing.ID == n.ID {
				return invalid("note %s already exists", n.ID)
			}
		}
		n.CreatedAt, n.UpdatedAt = c.At, c.At
		n.CreatedBy, n.UpdatedBy = c.By, c.By
		d.Notes = append(d.Notes, n)
		return nil
	}
}

func UpdateNote(id string, p NotePatch) Mutation {
	return func(d *models.Dashboard, c Change) error {
		for i := range d.Notes {
			if d.Notes[i].ID != id {
				continue
			}
			n := d.Notes[i]
			if p.Title != nil {
				if strings.TrimSpace(*p.Title) == "" {
					return invalid("note title is required")
				}
				n.Title = *p.Title
			}
			if p.Content != nil {
				n.Content = *p.Content
			}
			if p.Category != nil {
				n.Category = *p.Category
				if n.Category == "" {
					n.Category = defaultNoteCategory
				}
			}
			n.UpdatedAt, n.UpdatedBy = c.At, c.By
			d.Notes[i] = n
			return nil
		}
		return fmt.Errorf("%w: note %s", ErrEntityNotFound, id)
	}
}

func DeleteNote(id string) Mutation {
	return func(d *models.Dashboard, _ Change) error {
		for i := range d.Notes {
			if d.Notes[i].ID == id {
				d.Notes = append(d.Notes[:i:i], d.Notes[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: note %s", ErrEntityNotFound, id)
	}
}

// AddRule appends a rule; new rules are enabled unless the caller says otherwise
func AddRule(r models.MissionRule) Mutation {
	return func(d *models.Dashboard, c Change) error {
		if strings.TrimSpace(r.Name) == "" {
			return invalid("rule name is required")
		}
		if r.RuleType == "" {
			r.RuleType = models.RuleWorkflow
		}
		if !validRuleType(r.RuleType) {
			return invalid("unknown rule type %q", r.RuleType)
		}
		if r.ID == "" {
			r.ID = c.IDs()
		}
		for _, existing := range d.Rules {
			if existing.ID == r.ID {
				return invalid("rule %s already exists", r.ID)
			}
		}
		r.CreatedAt, r.UpdatedAt, r.UpdatedBy = c.At, c.At, c.By
		d.Rules = append(d.Rules, r)
		return nil
	}
}

func UpdateRule(id string, p RulePatch) Mutation {
	return func(d *models.Dashboard, c Change) error {
		r, err := ruleByID(d, id)
		if err != nil {
			return err
		}
		if p.Name != nil {
			if strings.TrimSpace(*p.Name) == "" {
				return invalid("rule name is required")
			}
			r.Name = *p.Name
		}
		if p.Description != nil {
			r.Description = *p.Description
		}
		if p.RuleType != nil {
			if !validRuleType(*p.RuleType) {
				return invalid("unknown rule type %q", *p.RuleType)
			}
			r.RuleType = *p.RuleType
		}
		if p.Enabled != nil {
			r.Enabled = *p.Enabled
		}
		if p.Priority != nil {
			r.Priority = *p.Priority
		}
		if p.Config != nil {
			r.Config = make(map[string]string, len(p.Config))
			for k, v := range p.Config {
				r.Config[k] = v
			}
		}
		r.UpdatedAt, r.UpdatedBy = c.At, c.By
		return nil
	}
}

// ToggleRule flips a rule's enabled flag
func ToggleRule(id string) Mutation {
	return func(d *models.Dashboard, c Change) error {
		r, err := ruleByID(d, id)
		if err != nil {
			return err
		}
		r.Enabled = !r.Enabled
		r.UpdatedAt, r.UpdatedBy = c.At, c.By
		return nil
	}
}

func DeleteRule(id string) Mutation {
	return func(d *models.Dashboard, _ Change) error {
		for i := range d.Rules {
			if d.Rules[i].ID == id {
				d.Rules = append(d.Rules[:i:i], d.Rules[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: rule %s", ErrEntityNotFound, id)
	}
}

func ruleByID(d *models.Dashboard, id string) (*models.MissionRule, error) {
	for i := range d.Rules {
		if d.Rules[i].ID == id {
			return &d.Rules[i], nil
		}
	}
	return nil, fmt.Errorf("%w: rule %s", ErrEntityNotFound, id)
}

// Replace swaps the whole payload. Entities arriving without an ID are
// treated as new and get an ID and creation stamps.
func Replace(p models.Dashboard) Mutation {
	return func(d *models.Dashboard, c Change) error {
		next := p.Clone()
		for _, name := range []models.ListName{models.ListTodo, models.ListMission, models.ListDone} {
			list := next.List(name)
			for i := range *list {
				it := &(*list)[i]
				if it.ID == "" {
					it.ID = c.IDs()
					it.CreatedAt, it.CreatedBy = c.At, c.By
					it.UpdatedAt, it.UpdatedBy = c.At, c.By
				}
			}
		}
		for i := range next.Notes {
			if next.Notes[i].ID == "" {
				next.Notes[i].ID = c.IDs()
				next.Notes[i].CreatedAt, next.Notes[i].CreatedBy = c.At, c.By
				next.Notes[i].UpdatedAt, next.Notes[i].UpdatedBy = c.At, c.By
			}
		}
		for i := range next.Rules {
			if next.Rules[i].ID == "" {
				next.Rules[i].ID = c.IDs()
				next.Rules[i].CreatedAt = c.At
				next.Rules[i].UpdatedAt, next.Rules[i].UpdatedBy = c.At, c.By
			}
		}
		*d = next
		return nil
	}
}
