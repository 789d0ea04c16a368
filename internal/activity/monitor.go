// Package activity tracks live per-stage telemetry: sub-commands, logs
// and artifacts. The monitor is a TTL-bounded observation cache, never a
// source of truth; durable state lives on the workflow record.
package activity

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyapp/backend/pkg/models"
)

// DefaultTTL is how long an idle stage entry survives before the lazy
// sweep drops it.
const DefaultTTL = 6 * time.Hour

// Publisher receives one event per monitor mutation so observers see
// sub-stage granularity.
type Publisher interface {
	PublishStage(workflowID, stageID string, status models.StageStatus, message string, meta map[string]any)
}

type stageState struct {
	exec      models.StageExecution
	updatedAt time.Time
}

// Monitor is the in-memory stage activity store.
type Monitor struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	bus    Publisher
	stages map[string]map[string]*stageState
}

// NewMonitor builds a monitor publishing to bus. A zero ttl falls back
// to DefaultTTL.
func NewMonitor(bus Publisher, ttl time.Duration) *Monitor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Monitor{
		ttl:    ttl,
		now:    time.Now,
		bus:    bus,
		stages: make(map[string]map[string]*stageState),
	}
}

// sweepLocked drops entries idle past the TTL. Called lazily from every
// accessor; callers must hold m.mu.
func (m *Monitor) sweepLocked() {
	now := m.now()
	for workflowID, stages := range m.stages {
		for stageID, state := range stages {
			if now.Sub(state.updatedAt) > m.ttl {
				delete(stages, stageID)
			}
		}
		if len(stages) == 0 {
			delete(m.stages, workflowID)
		}
	}
}

func (m *Monitor) ensureLocked(workflowID, stageID, label string) *stageState {
	m.sweepLocked()
	stages, ok := m.stages[workflowID]
	if !ok {
		stages = make(map[string]*stageState)
		m.stages[workflowID] = stages
	}
	state, ok := stages[stageID]
	if !ok {
		state = &stageState{
			exec: models.StageExecution{
				WorkflowID: workflowID,
				StageID:    stageID,
				Label:      label,
				Status:     models.StagePending,
				Commands:   []models.StageCommand{},
				Logs:       []models.StageLogEntry{},
				Artifacts:  []models.StageArtifact{},
			},
		}
		stages[stageID] = state
	}
	return state
}

func (m *Monitor) update(workflowID, stageID, label string, mutate func(*models.StageExecution)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.ensureLocked(workflowID, stageID, label)
	mutate(&state.exec)
	state.updatedAt = m.now()
	state.exec.UpdatedAt = state.updatedAt
}

func (m *Monitor) emit(workflowID, stageID, detailType, message string, detail any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishStage(workflowID, stageID, models.StageRunning, message, map[string]any{
		"detailType": detailType,
		"detail":     detail,
	})
}

// BeginStage marks a stage running and stamps its start time.
func (m *Monitor) BeginStage(workflowID, stageID, label string) {
	started := m.now().UTC()
	m.update(workflowID, stageID, stageID, func(exec *models.StageExecution) {
		exec.Label = label
		exec.Status = models.StageRunning
		exec.StartedAt = &started
		exec.FinishedAt = nil
	})
	m.emit(workflowID, stageID, "status", fmt.Sprintf("%s 开始执行", label), models.StageRunning)
}

// FinalizeStage records the terminal status of a stage. A failure also
// marks any still-running command as errored so nothing is left hanging.
func (m *Monitor) FinalizeStage(workflowID, stageID string, status models.StageStatus, errorMessage string) {
	finished := m.now().UTC()
	m.update(workflowID, stageID, stageID, func(exec *models.StageExecution) {
		exec.Status = status
		exec.FinishedAt = &finished
		if status == models.StageFailed {
			exec.CurrentCommandID = ""
			if n := len(exec.Commands); n > 0 && exec.Commands[n-1].Status == models.CommandRunning {
				last := &exec.Commands[n-1]
				last.Status = models.CommandError
				last.FinishedAt = &finished
				if errorMessage != "" {
					last.ErrorMessage = errorMessage
				}
			}
		} else if status == models.StageCompleted {
			exec.CurrentCommandID = ""
		}
	})
	message := fmt.Sprintf("%s 状态更新为 %s", stageID, status)
	if status == models.StageCompleted {
		message = fmt.Sprintf("%s 完成", stageID)
	}
	m.emit(workflowID, stageID, "status", message, status)
}

// BeginCommand registers a running sub-operation and returns the id used
// to complete or fail it later.
func (m *Monitor) BeginCommand(workflowID, stageID, label, command string, meta map[string]any) string {
	commandID := uuid.NewString()
	started := m.now().UTC()
	cmd := models.StageCommand{
		ID:        commandID,
		Label:     label,
		Command:   command,
		Status:    models.CommandRunning,
		StartedAt: &started,
		Meta:      meta,
	}
	m.update(workflowID, stageID, stageID, func(exec *models.StageExecution) {
		exec.Commands = append(exec.Commands, cmd)
		exec.CurrentCommandID = commandID
	})
	m.emit(workflowID, stageID, "start", fmt.Sprintf("开始执行：%s", label), cmd)
	return commandID
}

// CompleteCommand marks a command successful.
func (m *Monitor) CompleteCommand(workflowID, stageID, commandID, resultSummary string, meta map[string]any) {
	var completed *models.StageCommand
	finished := m.now().UTC()
	m.update(workflowID, stageID, stageID, func(exec *models.StageExecution) {
		for i := range exec.Commands {
			if exec.Commands[i].ID != commandID {
				continue
			}
			cmd := &exec.Commands[i]
			cmd.Status = models.CommandSuccess
			cmd.FinishedAt = &finished
			if resultSummary != "" {
				cmd.ResultSummary = resultSummary
			}
			mergeMeta(cmd, meta)
			if exec.CurrentCommandID == commandID {
				exec.CurrentCommandID = ""
			}
			snapshot := *cmd
			completed = &snapshot
			break
		}
	})
	if completed != nil {
		m.emit(workflowID, stageID, "complete", fmt.Sprintf("完成：%s", completed.Label), *completed)
	}
}

// FailCommand marks a command errored.
func (m *Monitor) FailCommand(workflowID, stageID, commandID, errorMessage string, meta map[string]any) {
	var failed *models.StageCommand
	finished := m.now().UTC()
	m.update(workflowID, stageID, stageID, func(exec *models.StageExecution) {
		for i := range exec.Commands {
			if exec.Commands[i].ID != commandID {
				continue
			}
			cmd := &exec.Commands[i]
			cmd.Status = models.CommandError
			cmd.FinishedAt = &finished
			cmd.ErrorMessage = errorMessage
			mergeMeta(cmd, meta)
			if exec.CurrentCommandID == commandID {
				exec.CurrentCommandID = ""
			}
			snapshot := *cmd
			failed = &snapshot
			break
		}
	})
	if failed != nil {
		m.emit(workflowID, stageID, "error", fmt.Sprintf("失败：%s", failed.Label), *failed)
	}
}

// AppendLog records a telemetry log line for a stage.
func (m *Monitor) AppendLog(workflowID, stageID string, level models.LogLevel, message, commandID string, meta map[string]any) {
	entry := models.StageLogEntry{
		ID:        uuid.NewString(),
		Timestamp: m.now().UTC(),
		Level:     level,
		Message:   message,
		CommandID: commandID,
		Meta:      meta,
	}
	m.update(workflowID, stageID, stageID, func(exec *models.StageExecution) {
		exec.Logs = append(exec.Logs, entry)
	})
	m.emit(workflowID, stageID, "log", fmt.Sprintf("日志：%s", message), entry)
}

// RegisterArtifact records a labeled preview of an intermediate result.
func (m *Monitor) RegisterArtifact(workflowID, stageID, label string, artifactType models.ArtifactType, commandID, preview string, meta map[string]any) {
	artifact := models.StageArtifact{
		ID:        uuid.NewString(),
		Label:     label,
		Type:      artifactType,
		CreatedAt: m.now().UTC(),
		CommandID: commandID,
		Preview:   preview,
		Meta:      meta,
	}
	m.update(workflowID, stageID, stageID, func(exec *models.StageExecution) {
		exec.Artifacts = append(exec.Artifacts, artifact)
	})
	m.emit(workflowID, stageID, "artifact", fmt.Sprintf("产物：%s", label), artifact)
}

// Summary snapshots all live stage executions for a workflow, ordered by
// pipeline position.
func (m *Monitor) Summary(workflowID string) models.StageActivitySummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	summary := models.StageActivitySummary{
		Stages:      []models.StageExecution{},
		GeneratedAt: m.now().UTC(),
	}
	stages, ok := m.stages[workflowID]
	if !ok {
		return summary
	}
	for _, def := range models.StageDefinitions {
		if state, present := stages[def.ID]; present {
			summary.Stages = append(summary.Stages, cloneExecution(&state.exec))
		}
	}
	for stageID, state := range stages {
		if !isPipelineStage(stageID) {
			summary.Stages = append(summary.Stages, cloneExecution(&state.exec))
		}
	}
	return summary
}

func isPipelineStage(stageID string) bool {
	for _, def := range models.StageDefinitions {
		if def.ID == stageID {
			return true
		}
	}
	return false
}

func cloneExecution(exec *models.StageExecution) models.StageExecution {
	cp := *exec
	cp.Commands = append([]models.StageCommand(nil), exec.Commands...)
	cp.Logs = append([]models.StageLogEntry(nil), exec.Logs...)
	cp.Artifacts = append([]models.StageArtifact(nil), exec.Artifacts...)
	return cp
}

func mergeMeta(cmd *models.StageCommand, meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	if cmd.Meta == nil {
		cmd.Meta = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		cmd.Meta[k] = v
	}
}
