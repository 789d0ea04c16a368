package models

import (
	"strings"
	"time"
)

// StageStatus is the lifecycle state of a pipeline stage. The workflow-level
// status reuses the same values and is always derived, never stored.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// The four fixed pipeline stages, in execution order.
const (
	StagePlanning   = "stage1_planning"
	StageWriting    = "stage2_writing"
	StageReview     = "stage3_review"
	StageValidation = "stage4_validation"
)

// StageDefinition pairs a stage id with its display label.
type StageDefinition struct {
	ID    string
	Label string
}

// StageDefinitions lists the fixed stages in pipeline order.
var StageDefinitions = []StageDefinition{
	{ID: StagePlanning, Label: "Stage1 Planning"},
	{ID: StageWriting, Label: "Stage2 Writing"},
	{ID: StageReview, Label: "Stage3 Review"},
	{ID: StageValidation, Label: "Stage4 Validation"},
}

// StageState tracks one stage of one workflow run.
type StageState struct {
	Stage        string      `json:"stage"`
	Status       StageStatus `json:"status"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// InitialStageStates returns the four fixed stages, all pending.
func InitialStageStates() []StageState {
	states := make([]StageState, len(StageDefinitions))
	for i, def := range StageDefinitions {
		states[i] = StageState{Stage: def.ID, Status: StagePending}
	}
	return states
}

// DeriveStatus computes the workflow-level status from stage states:
// failed wins over everything, completed requires all stages completed,
// any running stage makes the workflow running, otherwise pending.
func DeriveStatus(states []StageState) StageStatus {
	if len(states) == 0 {
		return StagePending
	}
	allCompleted := true
	anyRunning := false
	for _, s := range states {
		switch s.Status {
		case StageFailed:
			return StageFailed
		case StageRunning:
			anyRunning = true
			allCompleted = false
		case StagePending:
			allCompleted = false
		}
	}
	if allCompleted {
		return StageCompleted
	}
	if anyRunning {
		return StageRunning
	}
	return StagePending
}

// RevisionType distinguishes how a revision came to exist.
type RevisionType string

const (
	RevisionInitial  RevisionType = "initial"
	RevisionRetry    RevisionType = "retry"
	RevisionRollback RevisionType = "rollback"
)

// RevisionMeta carries optional annotations on a revision.
type RevisionMeta struct {
	Note   string `json:"note,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// Revision is an immutable full snapshot of a workflow's artifacts at one
// point in its history. History only grows; revisions are never rewritten.
type Revision struct {
	RevisionID  string            `json:"revisionId"`
	Type        RevisionType      `json:"type"`
	CreatedAt   time.Time         `json:"createdAt"`
	CreatedBy   string            `json:"createdBy,omitempty"`
	Outline     *Outline          `json:"outline,omitempty"`
	StoryDraft  *StoryDraft       `json:"storyDraft,omitempty"`
	Review      map[string]any    `json:"review,omitempty"`
	Validation  *ValidationReport `json:"validation,omitempty"`
	StageStates []StageState      `json:"stageStates,omitempty"`
	Meta        *RevisionMeta     `json:"meta,omitempty"`
}

// WorkflowRecord is the long-lived persisted entity for one generation
// request. Status is derived from StageStates on every mutation.
type WorkflowRecord struct {
	ID                string            `json:"id"`
	Topic             string            `json:"topic"`
	Locale            string            `json:"locale,omitempty"`
	Outline           *Outline          `json:"outline,omitempty"`
	StoryDraft        *StoryDraft       `json:"storyDraft,omitempty"`
	Review            map[string]any    `json:"review,omitempty"`
	Validation        *ValidationReport `json:"validation,omitempty"`
	StageStates       []StageState      `json:"stageStates"`
	Status            StageStatus       `json:"status"`
	CurrentRevisionID string            `json:"currentRevisionId,omitempty"`
	History           []Revision        `json:"history"`
	TerminatedAt      *time.Time        `json:"terminatedAt,omitempty"`
	TerminationReason string            `json:"terminationReason,omitempty"`
	Meta              map[string]any    `json:"meta,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// NewWorkflowRecord builds a fresh record with all stages pending.
func NewWorkflowRecord(topic, locale string) *WorkflowRecord {
	now := time.Now().UTC()
	states := InitialStageStates()
	return &WorkflowRecord{
		Topic:       strings.TrimSpace(topic),
		Locale:      locale,
		StageStates: states,
		Status:      DeriveStatus(states),
		History:     []Revision{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Touch recomputes the derived status and bumps the update timestamp.
// Call it after every stage-state mutation.
func (w *WorkflowRecord) Touch() {
	w.Status = DeriveStatus(w.StageStates)
	w.UpdatedAt = time.Now().UTC()
}

// SetStageState applies update to the named stage's state in place.
func (w *WorkflowRecord) SetStageState(stageID string, update func(*StageState)) {
	for i := range w.StageStates {
		if w.StageStates[i].Stage == stageID {
			update(&w.StageStates[i])
			break
		}
	}
	w.Touch()
}

// StageState returns a copy of the named stage's state.
func (w *WorkflowRecord) StageState(stageID string) (StageState, bool) {
	for _, s := range w.StageStates {
		if s.Stage == stageID {
			return s, true
		}
	}
	return StageState{}, false
}

// ResetStageStates clears all stages back to pending for a retry run and
// clears any previous termination.
func (w *WorkflowRecord) ResetStageStates() {
	w.StageStates = InitialStageStates()
	w.TerminatedAt = nil
	w.TerminationReason = ""
	w.Touch()
}

// AppendRevision records an immutable snapshot and marks it current.
func (w *WorkflowRecord) AppendRevision(rev Revision) {
	w.History = append(w.History, rev)
	w.CurrentRevisionID = rev.RevisionID
	w.UpdatedAt = time.Now().UTC()
}

// FindRevision looks up a revision by id.
func (w *WorkflowRecord) FindRevision(revisionID string) (Revision, bool) {
	for _, rev := range w.History {
		if rev.RevisionID == revisionID {
			return rev, true
		}
	}
	return Revision{}, false
}

// MaxTopicLength bounds workflow topics, matching request validation.
const MaxTopicLength = 120

// ValidateCreateTopic returns machine-readable validation errors for a
// workflow creation request; an empty slice means the topic is acceptable.
func ValidateCreateTopic(topic string) []string {
	var errs []string
	trimmed := strings.TrimSpace(topic)
	if trimmed == "" {
		errs = append(errs, "topic_required")
	}
	if len([]rune(trimmed)) > MaxTopicLength {
		errs = append(errs, "topic_too_long")
	}
	return errs
}

// WorkflowListItem is the compact list representation of a record.
type WorkflowListItem struct {
	ID                 string       `json:"id"`
	Topic              string       `json:"topic"`
	Status             StageStatus  `json:"status"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
	LatestRevisionType RevisionType `json:"latestRevisionType,omitempty"`
	LatestRevisionAt   *time.Time   `json:"latestRevisionAt,omitempty"`
}

// ListItem projects the record into its list representation.
func (w *WorkflowRecord) ListItem() WorkflowListItem {
	item := WorkflowListItem{
		ID:        w.ID,
		Topic:     w.Topic,
		Status:    w.Status,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	if n := len(w.History); n > 0 {
		latest := w.History[n-1]
		item.LatestRevisionType = latest.Type
		at := latest.CreatedAt
		item.LatestRevisionAt = &at
	}
	return item
}
