package models

import (
	"time"

	"gorm.io/datatypes"
)

// Writer distinguishes human edits from automated ones
type Writer string

const (
	WriterHuman Writer = "human"
	WriterAgent Writer = "agent"
)

// Valid reports whether w is a known writer kind
func (w Writer) Valid() bool {
	return w == WriterHuman || w == WriterAgent
}

// Priority of a mission item, higher is more urgent
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// ItemStatus is the lifecycle state of a mission item
type ItemStatus string

const (
	StatusPending    ItemStatus = "PENDING"
	StatusInProgress ItemStatus = "IN_PROGRESS"
	StatusBlocked    ItemStatus = "BLOCKED"
	StatusDone       ItemStatus = "DONE"
	StatusCancelled  ItemStatus = "CANCELLED"
)

// RuleType groups dashboard rules
type RuleType string

const (
	RuleWorkflow      RuleType = "WORKFLOW"
	RuleCodeReview    RuleType = "CODE_REVIEW"
	RuleCommunication RuleType = "COMMUNICATION"
	RuleDeployment    RuleType = "DEPLOYMENT"
	RuleSync          RuleType = "SYNC"
)

// ListName selects one of the item lists of a dashboard
type ListName string

const (
	ListTodo    ListName = "todo"
	ListMission ListName = "mission"
	ListDone    ListName = "done"
)

type MissionItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      ItemStatus `json:"status"`
	AssignedBot string     `json:"assignedBot,omitempty"`
	ETA         *int64     `json:"eta,omitempty"`
	CreatedAt   int64      `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt"`
	CompletedAt *int64     `json:"completedAt,omitempty"`
	CreatedBy   Writer     `json:"createdBy"`
	UpdatedBy   Writer     `json:"updatedBy"`
}

type MissionNote struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Category  string `json:"category"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	CreatedBy Writer `json:"createdBy"`
	UpdatedBy Writer `json:"updatedBy"`
}

type MissionRule struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	RuleType    RuleType          `json:"ruleType"`
	Enabled     bool              `json:"isEnabled"`
	Priority    int               `json:"priority"`
	Config      map[string]string `json:"config,omitempty"`
	CreatedAt   int64             `json:"createdAt"`
	UpdatedAt   int64             `json:"updatedAt"`
	UpdatedBy   Writer            `json:"updatedBy"`
}

// Dashboard is the payload tree of a versioned document
type Dashboard struct {
	TodoList    []MissionItem `json:"todoList"`
	MissionList []MissionItem `json:"missionList"`
	DoneList    []MissionItem `json:"doneList"`
	Notes       []MissionNote `json:"notes"`
	Rules       []MissionRule `json:"rules"`
}

// List returns a pointer to the named item list, or nil for an unknown name
func (d *Dashboard) List(name ListName) *[]MissionItem {
	switch name {
	case ListTodo:
		return &d.TodoList
	case ListMission:
		return &d.MissionList
	case ListDone:
		return &d.DoneList
	}
	return nil
}

// Clone returns a deep copy so mutations never alias a stored payload
func (d Dashboard) Clone() Dashboard {
	out := Dashboard{
		TodoList:    append([]MissionItem(nil), d.TodoList...),
		MissionList: append([]MissionItem(nil), d.MissionList...),
		DoneList:    append([]MissionItem(nil), d.DoneList...),
		Notes:       append([]MissionNote(nil), d.Notes...),
		Rules:       make([]MissionRule, len(d.Rules)),
	}
	for i, r := range d.Rules {
		if r.Config != nil {
			cfg := make(map[string]string, len(r.Config))
			for k, v := range r.Config {
				cfg[k] = v
			}
			r.Config = cfg
		}
		out.Rules[i] = r
	}
	return out
}

// DashboardDocument is the row holding one owner's versioned dashboard
type DashboardDocument struct {
	OwnerID      string                        `json:"ownerId" gorm:"primaryKey;size:128"`
	Payload      datatypes.JSONType[Dashboard] `json:"payload"`
	Version      int64                         `json:"version" gorm:"not null;default:1"`
	LastSyncedAt int64                         `json:"lastSyncedAt"`
	CreatedAt    time.Time                     `json:"createdAt"`
	UpdatedAt    time.Time                     `json:"updatedAt"`
}

// PutDocumentRequest replaces a whole dashboard under a version check
type PutDocumentRequest struct {
	Payload         Dashboard `json:"payload"`
	ExpectedVersion int64     `json:"expectedVersion" binding:"required,min=1"`
}
