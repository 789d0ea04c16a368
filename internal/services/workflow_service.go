package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"storyapp/backend/internal/activity"
	"storyapp/backend/internal/cluegraph"
	"storyapp/backend/internal/cluepolicy"
	"storyapp/backend/internal/eventbus"
	"storyapp/backend/internal/harmonizer"
	"storyapp/backend/internal/logging"
	"storyapp/backend/internal/repository"
	"storyapp/backend/internal/validator"
	"storyapp/backend/pkg/models"
)

// WorkflowServiceConfig tunes the orchestrator.
type WorkflowServiceConfig struct {
	// AutoFix runs the clue policy enforcer once more before validation.
	AutoFix bool
	// StrictSchema turns schema problems in generated artifacts into
	// stage failures instead of warnings.
	StrictSchema bool
	// Policy is the clue guarantee policy applied during writing.
	Policy cluepolicy.Policy
}

// WorkflowService orchestrates the four-stage generation pipeline over a
// workflow record: planning, writing, review and validation. Each stage
// transition is persisted before and after execution and mirrored onto
// the event bus and the activity monitor.
type WorkflowService struct {
	store     repository.WorkflowStore
	generator Generator
	bus       *eventbus.Bus
	monitor   *activity.Monitor
	logger    *logging.Logger
	cfg       WorkflowServiceConfig

	wg sync.WaitGroup

	// locks serializes Terminate against pipeline persists per workflow,
	// so a termination marker can never be overwritten by a concurrent
	// stage snapshot.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	stageDuration metric.Float64Histogram
	runsStarted   metric.Int64Counter
	runsFailed    metric.Int64Counter
}

// NewWorkflowService wires the orchestrator with its collaborators.
func NewWorkflowService(
	store repository.WorkflowStore,
	generator Generator,
	bus *eventbus.Bus,
	monitor *activity.Monitor,
	logger *logging.Logger,
	cfg WorkflowServiceConfig,
) *WorkflowService {
	if cfg.Policy == (cluepolicy.Policy{}) {
		cfg.Policy = cluepolicy.DefaultPolicy()
	}
	meter := otel.Meter("storyapp/backend/workflow")
	stageDuration, _ := meter.Float64Histogram("workflow.stage.duration",
		metric.WithDescription("Wall-clock duration of one pipeline stage"),
		metric.WithUnit("s"))
	runsStarted, _ := meter.Int64Counter("workflow.runs.started",
		metric.WithDescription("Pipeline runs started"))
	runsFailed, _ := meter.Int64Counter("workflow.runs.failed",
		metric.WithDescription("Pipeline runs that ended in a stage failure"))
	return &WorkflowService{
		store:         store,
		generator:     generator,
		bus:           bus,
		monitor:       monitor,
		logger:        logger,
		cfg:           cfg,
		locks:         make(map[string]*sync.Mutex),
		stageDuration: stageDuration,
		runsStarted:   runsStarted,
		runsFailed:    runsFailed,
	}
}

// Create validates the topic, persists a fresh record with all four
// stages pending and starts the pipeline in the background. The record is
// returned immediately; progress is observable via events and polling.
func (s *WorkflowService) Create(ctx context.Context, topic, locale string) (*models.WorkflowRecord, error) {
	if errs := models.ValidateCreateTopic(topic); len(errs) > 0 {
		return nil, &ValidationError{Messages: errs}
	}

	record := models.NewWorkflowRecord(topic, locale)
	preset := models.PickMechanismPreset(record.Topic)
	record.Meta = map[string]any{"mechanismPreset": preset}

	if err := s.store.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("insert workflow: %w", err)
	}
	s.logger.Info("workflow %s created (topic=%q mechanism=%s)", record.ID, record.Topic, preset.ID)
	s.runsStarted.Add(ctx, 1)

	s.spawn(record.ID, models.RevisionInitial, nil)
	return record, nil
}

// Get returns one workflow record.
func (s *WorkflowService) Get(ctx context.Context, workflowID string) (*models.WorkflowRecord, error) {
	record, err := s.store.Get(ctx, workflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Pagination describes one page of a workflow listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListResult is one page of workflow list items.
type ListResult struct {
	Items      []models.WorkflowListItem `json:"items"`
	Pagination Pagination                `json:"pagination"`
}

// List returns a page of workflows, newest first, optionally filtered by
// derived status.
func (s *WorkflowService) List(ctx context.Context, page, limit int, status models.StageStatus) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count workflows: %w", err)
	}

	var records []*models.WorkflowRecord
	if status == "" {
		records, err = s.store.List(ctx, limit, (page-1)*limit)
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
	} else {
		// Status is derived and not mirrored as a filterable column, so a
		// filtered listing pages in memory over the full set.
		all, err := s.store.List(ctx, total, 0)
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		filtered := make([]*models.WorkflowRecord, 0, len(all))
		for _, record := range all {
			if record.Status == status {
				filtered = append(filtered, record)
			}
		}
		total = len(filtered)
		offset := (page - 1) * limit
		if offset > len(filtered) {
			offset = len(filtered)
		}
		end := offset + limit
		if end > len(filtered) {
			end = len(filtered)
		}
		records = filtered[offset:end]
	}

	items := make([]models.WorkflowListItem, 0, len(records))
	for _, record := range records {
		items = append(items, record.ListItem())
	}
	pages := (total + limit - 1) / limit
	if pages < 1 {
		pages = 1
	}
	return &ListResult{
		Items:      items,
		Pagination: Pagination{Page: page, Limit: limit, Total: total, Pages: pages},
	}, nil
}

// Retry resets every stage to pending and reruns the pipeline, producing
// a retry-typed revision on success. Previous revisions are untouched.
func (s *WorkflowService) Retry(ctx context.Context, workflowID string) (*models.WorkflowRecord, error) {
	record, err := s.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	record.ResetStageStates()
	if err := s.store.Replace(ctx, record); err != nil {
		return nil, fmt.Errorf("persist retry reset: %w", err)
	}
	s.bus.PublishInfo(record.ID, "工作流重试开始", nil)
	s.runsStarted.Add(ctx, 1)
	s.spawn(record.ID, models.RevisionRetry, nil)
	return record, nil
}

// Terminate marks every non-completed stage failed with the given reason
// and stamps the record terminated. Completed stages keep their state. A
// running pipeline observes the termination before its next persist and
// stops committing transitions.
func (s *WorkflowService) Terminate(ctx context.Context, workflowID, reason string) (*models.WorkflowRecord, error) {
	lock := s.workflowLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "terminated"
	}
	now := time.Now().UTC()
	for i := range record.StageStates {
		st := &record.StageStates[i]
		if st.Status == models.StageCompleted {
			continue
		}
		st.Status = models.StageFailed
		st.ErrorMessage = reason
		if st.FinishedAt == nil {
			st.FinishedAt = &now
		}
	}
	record.TerminatedAt = &now
	record.TerminationReason = reason
	record.Touch()

	if err := s.store.Replace(ctx, record); err != nil {
		return nil, fmt.Errorf("persist termination: %w", err)
	}
	s.logger.Warn("workflow %s terminated: %s", record.ID, reason)
	s.bus.PublishInfo(record.ID, "工作流已终止", map[string]any{"reason": reason})
	return record, nil
}

// Rollback restores the record's artifacts and stage states from a
// historical revision and appends a rollback-typed revision. History only
// grows; the target revision itself is never rewritten.
func (s *WorkflowService) Rollback(ctx context.Context, workflowID, revisionID, note string) (*models.WorkflowRecord, error) {
	record, err := s.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	target, ok := record.FindRevision(revisionID)
	if !ok {
		return nil, ErrRevisionNotFound
	}

	record.Outline = target.Outline
	record.StoryDraft = target.StoryDraft
	record.Review = target.Review
	record.Validation = target.Validation
	if len(target.StageStates) > 0 {
		record.StageStates = append([]models.StageState(nil), target.StageStates...)
	} else {
		record.StageStates = models.InitialStageStates()
	}
	record.TerminatedAt = nil
	record.TerminationReason = ""
	record.Touch()

	var meta *models.RevisionMeta
	if note != "" {
		meta = &models.RevisionMeta{Note: note}
	}
	rev := models.Revision{
		RevisionID:  uuid.NewString(),
		Type:        models.RevisionRollback,
		CreatedAt:   time.Now().UTC(),
		Outline:     record.Outline,
		StoryDraft:  record.StoryDraft,
		Review:      record.Review,
		Validation:  record.Validation,
		StageStates: append([]models.StageState(nil), record.StageStates...),
		Meta:        meta,
	}
	record.AppendRevision(rev)

	if err := s.store.Replace(ctx, record); err != nil {
		return nil, fmt.Errorf("persist rollback: %w", err)
	}
	s.bus.PublishInfo(record.ID, "已回滚至历史版本", map[string]any{
		"targetRevisionId": revisionID,
		"newRevisionId":    rev.RevisionID,
	})
	return record, nil
}

// StageActivity snapshots the live telemetry for a workflow.
func (s *WorkflowService) StageActivity(workflowID string) models.StageActivitySummary {
	return s.monitor.Summary(workflowID)
}

// EventHistory returns the retained event history for a workflow.
func (s *WorkflowService) EventHistory(workflowID string) []models.WorkflowEvent {
	return s.bus.History(workflowID)
}

// Wait blocks until all background pipeline runs have finished. Used for
// graceful shutdown and by tests.
func (s *WorkflowService) Wait() {
	s.wg.Wait()
}

func (s *WorkflowService) spawn(workflowID string, revisionType models.RevisionType, revMeta *models.RevisionMeta) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.runPipeline(context.Background(), workflowID, revisionType, revMeta); err != nil {
			if errors.Is(err, errTerminated) {
				s.logger.Info("workflow %s pipeline stopped after termination", workflowID)
				return
			}
			s.logger.Error("workflow %s pipeline failed: %v", workflowID, err)
		}
	}()
}

func (s *WorkflowService) runPipeline(ctx context.Context, workflowID string, revisionType models.RevisionType, revMeta *models.RevisionMeta) error {
	record, err := s.Get(ctx, workflowID)
	if err != nil {
		return err
	}

	preset := s.mechanismPreset(record)
	opts := PromptOptions{Locale: record.Locale, Mechanism: preset}

	stages := []struct {
		id     string
		label  string
		runner func(context.Context, *models.WorkflowRecord) error
	}{
		{models.StagePlanning, "Stage1 Planning", func(ctx context.Context, r *models.WorkflowRecord) error {
			return s.runPlanning(ctx, r, opts)
		}},
		{models.StageWriting, "Stage2 Writing", func(ctx context.Context, r *models.WorkflowRecord) error {
			return s.runWriting(ctx, r, opts)
		}},
		{models.StageReview, "Stage3 Review", func(ctx context.Context, r *models.WorkflowRecord) error {
			return s.runReview(ctx, r, opts)
		}},
		{models.StageValidation, "Stage4 Validation", func(ctx context.Context, r *models.WorkflowRecord) error {
			return s.runValidation(ctx, r, opts)
		}},
	}

	for _, stage := range stages {
		record, err = s.runStage(ctx, record, stage.id, stage.label, stage.runner)
		if err != nil {
			if !errors.Is(err, errTerminated) {
				s.runsFailed.Add(ctx, 1)
				s.bus.PublishInfo(record.ID, fmt.Sprintf("工作流执行失败：%s", err.Error()), map[string]any{"stage": stage.id})
			}
			return err
		}
	}

	rev := models.Revision{
		RevisionID:  uuid.NewString(),
		Type:        revisionType,
		CreatedAt:   time.Now().UTC(),
		Outline:     record.Outline,
		StoryDraft:  record.StoryDraft,
		Review:      record.Review,
		Validation:  record.Validation,
		StageStates: append([]models.StageState(nil), record.StageStates...),
		Meta:        revMeta,
	}
	record.AppendRevision(rev)

	if err := s.persistUnlessTerminated(ctx, record); err != nil {
		if errors.Is(err, errTerminated) || errors.Is(err, ErrWorkflowNotFound) {
			return err
		}
		return fmt.Errorf("persist revision: %w", err)
	}
	s.bus.PublishInfo(record.ID, "工作流执行完成", map[string]any{
		"revisionId":   rev.RevisionID,
		"revisionType": string(rev.Type),
	})
	s.logger.Info("workflow %s completed (revision=%s type=%s)", record.ID, rev.RevisionID, rev.Type)
	return nil
}

// runStage drives one stage through running -> completed/failed, with a
// persist and an event on every transition. Termination is re-checked
// before each persist so no transition is committed after terminate.
func (s *WorkflowService) runStage(
	ctx context.Context,
	record *models.WorkflowRecord,
	stageID, label string,
	runner func(context.Context, *models.WorkflowRecord) error,
) (*models.WorkflowRecord, error) {
	started := time.Now().UTC()
	record.SetStageState(stageID, func(st *models.StageState) {
		st.Status = models.StageRunning
		st.StartedAt = &started
		st.FinishedAt = nil
		st.ErrorMessage = ""
	})
	if err := s.persistUnlessTerminated(ctx, record); err != nil {
		if errors.Is(err, errTerminated) || errors.Is(err, ErrWorkflowNotFound) {
			return record, err
		}
		return record, fmt.Errorf("persist %s running: %w", stageID, err)
	}
	s.bus.PublishStage(record.ID, stageID, models.StageRunning, fmt.Sprintf("%s 开始执行", label), nil)
	s.monitor.BeginStage(record.ID, stageID, label)

	runErr := runner(ctx, record)
	finished := time.Now().UTC()
	s.stageDuration.Record(ctx, finished.Sub(started).Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stageID),
			attribute.Bool("success", runErr == nil),
		))

	if runErr != nil {
		record.SetStageState(stageID, func(st *models.StageState) {
			st.Status = models.StageFailed
			st.FinishedAt = &finished
			st.ErrorMessage = runErr.Error()
		})
		if err := s.persistUnlessTerminated(ctx, record); err != nil {
			if errors.Is(err, errTerminated) || errors.Is(err, ErrWorkflowNotFound) {
				return record, err
			}
			s.logger.Error("workflow %s: persist %s failure: %v", record.ID, stageID, err)
		}
		s.bus.PublishStage(record.ID, stageID, models.StageFailed, fmt.Sprintf("%s 失败：%s", label, runErr.Error()), nil)
		s.monitor.FinalizeStage(record.ID, stageID, models.StageFailed, runErr.Error())
		return record, &StageError{Stage: stageID, Err: runErr}
	}

	record.SetStageState(stageID, func(st *models.StageState) {
		st.Status = models.StageCompleted
		st.FinishedAt = &finished
	})
	if err := s.persistUnlessTerminated(ctx, record); err != nil {
		if errors.Is(err, errTerminated) || errors.Is(err, ErrWorkflowNotFound) {
			return record, err
		}
		return record, fmt.Errorf("persist %s completed: %w", stageID, err)
	}
	s.bus.PublishStage(record.ID, stageID, models.StageCompleted, fmt.Sprintf("%s 完成", label), nil)
	s.monitor.FinalizeStage(record.ID, stageID, models.StageCompleted, "")
	return record, nil
}

func (s *WorkflowService) runPlanning(ctx context.Context, record *models.WorkflowRecord, opts PromptOptions) error {
	cmdID := s.monitor.BeginCommand(record.ID, models.StagePlanning, "调用规划模型生成蓝图", "generator.plan",
		map[string]any{"mechanism": opts.Mechanism.ID})
	outline, err := s.generator.Plan(ctx, record.Topic, opts)
	if err != nil {
		s.monitor.FailCommand(record.ID, models.StagePlanning, cmdID, err.Error(), nil)
		return err
	}
	s.monitor.CompleteCommand(record.ID, models.StagePlanning, cmdID, "蓝图生成完成",
		map[string]any{"clues": len(outline.ClueMatrix), "timeline": len(outline.Timeline)})

	if problems := ValidateOutline(outline); len(problems) > 0 {
		if s.cfg.StrictSchema {
			return &SchemaError{Artifact: "outline", Problems: problems}
		}
		s.monitor.AppendLog(record.ID, models.StagePlanning, models.LogWarn, "蓝图结构校验存在警告", cmdID,
			map[string]any{"problems": problems})
	}

	graph := cluegraph.Build(outline)
	fair := cluegraph.ScoreFairPlay(graph)

	record.Outline = outline
	s.setMeta(record, "clueGraph", graph)
	s.setMeta(record, "fairPlay", fair)
	s.monitor.RegisterArtifact(record.ID, models.StagePlanning, "线索图", models.ArtifactJSON, cmdID,
		fmt.Sprintf("nodes=%d edges=%d", len(graph.Nodes), len(graph.Edges)),
		map[string]any{"economyScore": fair.EconomyScore})
	return nil
}

func (s *WorkflowService) runWriting(ctx context.Context, record *models.WorkflowRecord, opts PromptOptions) error {
	if record.Outline == nil {
		return fmt.Errorf("缺少 Stage1 输出，无法执行 Stage2")
	}

	cmdID := s.monitor.BeginCommand(record.ID, models.StageWriting, "调用写作模型生成章节", "generator.write", nil)
	draft, err := s.generator.Write(ctx, record.Outline, opts)
	if err != nil {
		s.monitor.FailCommand(record.ID, models.StageWriting, cmdID, err.Error(), nil)
		return err
	}
	s.monitor.CompleteCommand(record.ID, models.StageWriting, cmdID, "章节草稿生成完成",
		map[string]any{"chapters": len(draft.Chapters), "words": draft.OverallWordCount})

	if problems := ValidateDraft(draft); len(problems) > 0 {
		if s.cfg.StrictSchema {
			return &SchemaError{Artifact: "draft", Problems: problems}
		}
		s.monitor.AppendLog(record.ID, models.StageWriting, models.LogWarn, "草稿结构校验存在警告", cmdID,
			map[string]any{"problems": problems})
	}

	harmonizeOpts := harmonizer.Options{MechanismKeywords: opts.Mechanism.Keywords}

	syncID := s.monitor.BeginCommand(record.ID, models.StageWriting, "对齐蓝图与草稿", "harmonizer.harmonize", nil)
	first := harmonizer.Harmonize(record.Outline, draft, harmonizeOpts)

	enforced := cluepolicy.Enforce(first.Outline, draft, s.cfg.Policy)
	outline := enforced.Outline
	if outline == nil {
		outline = first.Outline
	}
	second := harmonizer.Harmonize(outline, enforced.Draft, harmonizeOpts)
	s.monitor.CompleteCommand(record.ID, models.StageWriting, syncID, "蓝图与草稿已对齐",
		map[string]any{
			"enforcementChanges": len(enforced.Changes),
			"timelineAdded":      second.Meta.TimelineAdded,
		})

	record.Outline = second.Outline
	record.StoryDraft = enforced.Draft
	s.setMeta(record, "enforcement", enforced.Changes)
	s.setMeta(record, "harmonizer", second.Meta)
	return nil
}

func (s *WorkflowService) runReview(ctx context.Context, record *models.WorkflowRecord, opts PromptOptions) error {
	if record.Outline == nil || record.StoryDraft == nil {
		return fmt.Errorf("缺少 Stage1/Stage2 输出，无法执行 Stage3")
	}
	cmdID := s.monitor.BeginCommand(record.ID, models.StageReview, "调用审稿模型", "generator.review", nil)
	review, err := s.generator.Review(ctx, record.Outline, record.StoryDraft, opts)
	if err != nil {
		s.monitor.FailCommand(record.ID, models.StageReview, cmdID, err.Error(), nil)
		return err
	}
	s.monitor.CompleteCommand(record.ID, models.StageReview, cmdID, "审稿完成", nil)
	record.Review = review
	return nil
}

func (s *WorkflowService) runValidation(ctx context.Context, record *models.WorkflowRecord, opts PromptOptions) error {
	if record.Outline == nil || record.StoryDraft == nil {
		return fmt.Errorf("缺少 Stage1/Stage2 输出，无法执行 Stage4")
	}

	if s.cfg.AutoFix {
		cmdID := s.monitor.BeginCommand(record.ID, models.StageValidation, "自动修复线索铺垫", "cluepolicy.enforce", nil)
		policy := s.cfg.Policy
		policy.AdjustOutlineExpectedChapters = true
		fixed := cluepolicy.Enforce(record.Outline, record.StoryDraft, policy)
		outline := fixed.Outline
		if outline == nil {
			outline = record.Outline
		}
		synced := harmonizer.Harmonize(outline, fixed.Draft, harmonizer.Options{MechanismKeywords: opts.Mechanism.Keywords})
		record.Outline = synced.Outline
		record.StoryDraft = fixed.Draft
		s.setMeta(record, "autoFix", fixed.Changes)
		s.monitor.CompleteCommand(record.ID, models.StageValidation, cmdID, "自动修复完成",
			map[string]any{"changes": len(fixed.Changes)})
	}

	cmdID := s.monitor.BeginCommand(record.ID, models.StageValidation, "执行结构化校验", "validator.run", nil)
	report := validator.Run(record.Outline, record.StoryDraft, validator.Options{
		OutlineID: record.ID,
		StoryID:   record.ID,
	})
	record.Validation = report
	s.monitor.CompleteCommand(record.ID, models.StageValidation, cmdID, "校验完成", map[string]any{
		"pass": report.Summary.Pass,
		"warn": report.Summary.Warn,
		"fail": report.Summary.Fail,
	})
	s.monitor.RegisterArtifact(record.ID, models.StageValidation, "校验报告", models.ArtifactJSON, cmdID,
		fmt.Sprintf("pass=%d warn=%d fail=%d", report.Summary.Pass, report.Summary.Warn, report.Summary.Fail), nil)
	return nil
}

// workflowLock returns the mutex serializing writes for one workflow.
func (s *WorkflowService) workflowLock(workflowID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[workflowID] = lock
	}
	return lock
}

// persistUnlessTerminated commits the pipeline's record snapshot unless
// the workflow has been terminated out of band, in which case it reports
// errTerminated. The termination re-read and the write hold the workflow
// lock, the same lock Terminate holds for its own read-modify-write.
func (s *WorkflowService) persistUnlessTerminated(ctx context.Context, record *models.WorkflowRecord) error {
	lock := s.workflowLock(record.ID)
	lock.Lock()
	defer lock.Unlock()

	fresh, err := s.store.Get(ctx, record.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrWorkflowNotFound
	}
	if err != nil {
		return err
	}
	if fresh.TerminatedAt != nil {
		return errTerminated
	}
	return s.store.Replace(ctx, record)
}

func (s *WorkflowService) setMeta(record *models.WorkflowRecord, key string, value any) {
	if record.Meta == nil {
		record.Meta = make(map[string]any)
	}
	record.Meta[key] = value
}

// mechanismPreset restores the preset recorded at creation, falling back
// to a fresh deterministic pick for records that predate the field.
func (s *WorkflowService) mechanismPreset(record *models.WorkflowRecord) models.MechanismPreset {
	if raw, ok := record.Meta["mechanismPreset"]; ok {
		if preset, ok := raw.(models.MechanismPreset); ok {
			return preset
		}
		// After a round-trip through JSONB the preset comes back as a map.
		if m, ok := raw.(map[string]any); ok {
			if id, ok := m["id"].(string); ok {
				for _, preset := range models.MechanismPresets {
					if preset.ID == id {
						return preset
					}
				}
			}
		}
	}
	return models.PickMechanismPreset(record.Topic)
}
