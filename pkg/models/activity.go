package models

import "time"

// CommandStatus is the lifecycle state of a sub-operation inside a stage.
type CommandStatus string

const (
	CommandRunning CommandStatus = "running"
	CommandSuccess CommandStatus = "success"
	CommandError   CommandStatus = "error"
)

// StageCommand is a named sub-operation executed inside a stage, correlated
// by id between begin and complete/fail.
type StageCommand struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Command       string         `json:"command,omitempty"`
	Status        CommandStatus  `json:"status"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`
	ResultSummary string         `json:"resultSummary,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// LogLevel classifies stage log entries.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// StageLogEntry is one telemetry log line scoped to a stage.
type StageLogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	CommandID string         `json:"commandId,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ArtifactType classifies registered stage artifacts.
type ArtifactType string

const (
	ArtifactText  ArtifactType = "text"
	ArtifactJSON  ArtifactType = "json"
	ArtifactAudio ArtifactType = "audio"
	ArtifactFile  ArtifactType = "file"
)

// StageArtifact is a labeled preview of an intermediate stage result.
type StageArtifact struct {
	ID        string         `json:"id"`
	Label     string         `json:"label"`
	Type      ArtifactType   `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	CommandID string         `json:"commandId,omitempty"`
	Preview   string         `json:"preview,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// StageExecution is the ephemeral telemetry view of one stage of one
// workflow; it lives only in the activity monitor, never in the record.
type StageExecution struct {
	WorkflowID       string          `json:"workflowId"`
	StageID          string          `json:"stageId"`
	Label            string          `json:"label"`
	Status           StageStatus     `json:"status"`
	StartedAt        *time.Time      `json:"startedAt,omitempty"`
	FinishedAt       *time.Time      `json:"finishedAt,omitempty"`
	CurrentCommandID string          `json:"currentCommandId,omitempty"`
	Commands         []StageCommand  `json:"commands"`
	Logs             []StageLogEntry `json:"logs"`
	Artifacts        []StageArtifact `json:"artifacts"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// StageActivitySummary is the observable snapshot of all live stage
// executions for one workflow.
type StageActivitySummary struct {
	Stages      []StageExecution `json:"stages"`
	GeneratedAt time.Time        `json:"generatedAt"`
}
