package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyapp/backend/internal/activity"
	"storyapp/backend/internal/eventbus"
	"storyapp/backend/internal/logging"
	"storyapp/backend/internal/repository"
	"storyapp/backend/pkg/models"
)

type stubGenerator struct {
	mu        sync.Mutex
	planErr   error
	writeErr  error
	reviewErr error

	planStarted sync.Once
	planEntered chan struct{}
	planRelease chan struct{}

	planCalls  int
	writeCalls int
}

func newStubGenerator() *stubGenerator {
	return &stubGenerator{}
}

func (g *stubGenerator) Plan(_ context.Context, _ string, _ PromptOptions) (*models.Outline, error) {
	if g.planEntered != nil {
		g.planStarted.Do(func() { close(g.planEntered) })
		<-g.planRelease
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.planCalls++
	if g.planErr != nil {
		return nil, g.planErr
	}
	return fixtureOutline(), nil
}

func (g *stubGenerator) Write(_ context.Context, _ *models.Outline, _ PromptOptions) (*models.StoryDraft, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writeCalls++
	if g.writeErr != nil {
		return nil, g.writeErr
	}
	return fixtureDraft(), nil
}

func (g *stubGenerator) Review(_ context.Context, _ *models.Outline, _ *models.StoryDraft, _ PromptOptions) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reviewErr != nil {
		return nil, g.reviewErr
	}
	return map[string]any{"overallScore": 88, "fairPlay": "线索铺垫充分"}, nil
}

func (g *stubGenerator) setWriteErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writeErr = err
}

func fixtureOutline() *models.Outline {
	return &models.Outline{
		CentralTrick: &models.CentralTrick{
			Summary:   "钟楼齿轮机关在整点驱动暗门",
			Mechanism: "发条带动齿轮与联动杆，整点钟声掩盖暗门开合的声音",
		},
		CaseSetup: &models.CaseSetup{
			Victim:         "钟楼馆主",
			CrimeScene:     "钟楼顶层密室",
			InitialMystery: "密室中的怀表停在九点整",
		},
		Characters: []models.Character{
			{Name: "林澈", Role: "detective"},
			{Name: "管家", Role: "suspect", Motive: "遗产"},
		},
		Acts: []models.Act{{Act: 1, Focus: "案发与勘查"}},
		ClueMatrix: []models.Clue{
			{Clue: "怀表", MustForeshadow: true, ExplicitForeshadowChapters: []string{"Chapter 1"}},
			{Clue: "齿轮", MustForeshadow: true, ExplicitForeshadowChapters: []string{"Chapter 1"}},
		},
		Timeline: []models.TimelineEvent{
			{Time: "Day1 20:00", Event: "钟声响起", Participants: []string{"管家"}},
			{Time: "Day1 21:00", Event: "发现尸体", Participants: []string{"林澈"}},
		},
		LogicChecklist: []string{"怀表停摆时间与案发时间一致"},
	}
}

func fixtureDraft() *models.StoryDraft {
	return &models.StoryDraft{
		Chapters: []models.Chapter{
			{Title: "Chapter 1", Content: "林澈注意到怀表停在九点，齿轮的咬合声在墙后隐约可闻。", CluesEmbedded: []string{"怀表", "齿轮"}},
			{Title: "Chapter 2", Content: "管家对怀表的来历语焉不详，齿轮油渍出现在他的袖口。", CluesEmbedded: []string{"怀表", "齿轮"}},
			{Title: "Chapter 3", Content: "结局中怀表与齿轮机关的关联被揭开，暗门随钟声开启。", CluesEmbedded: []string{"怀表", "齿轮"}},
		},
	}
}

func newTestService(gen Generator, cfg WorkflowServiceConfig) (*WorkflowService, *repository.MemoryWorkflowStore, *eventbus.Bus) {
	store := repository.NewMemoryWorkflowStore()
	bus := eventbus.New(eventbus.Config{HeartbeatInterval: time.Hour})
	monitor := activity.NewMonitor(bus, 0)
	svc := NewWorkflowService(store, gen, bus, monitor, logging.NewLogger(), cfg)
	return svc, store, bus
}

func TestCreateRunsPipelineToCompletion(t *testing.T) {
	svc, store, bus := newTestService(newStubGenerator(), WorkflowServiceConfig{AutoFix: true})

	record, err := svc.Create(context.Background(), "钟楼疑案", "zh")
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	assert.Equal(t, models.StagePending, record.Status)

	svc.Wait()

	got, err := store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, got.Status)
	require.Len(t, got.StageStates, 4)
	for _, st := range got.StageStates {
		assert.Equal(t, models.StageCompleted, st.Status, st.Stage)
		assert.NotNil(t, st.StartedAt, st.Stage)
		assert.NotNil(t, st.FinishedAt, st.Stage)
	}

	require.NotNil(t, got.Outline)
	require.NotNil(t, got.StoryDraft)
	require.NotNil(t, got.Review)
	require.NotNil(t, got.Validation)
	assert.GreaterOrEqual(t, len(got.StoryDraft.Chapters), 3)

	require.Len(t, got.History, 1)
	assert.Equal(t, models.RevisionInitial, got.History[0].Type)
	assert.Equal(t, got.History[0].RevisionID, got.CurrentRevisionID)

	for _, key := range []string{"mechanismPreset", "clueGraph", "fairPlay", "enforcement"} {
		assert.Contains(t, got.Meta, key)
	}

	events := bus.History(record.ID)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.EventInfo, last.Category)
	assert.Equal(t, "工作流执行完成", last.Message)

	summary := svc.StageActivity(record.ID)
	assert.Len(t, summary.Stages, 4)
}

func TestCreateRejectsInvalidTopic(t *testing.T) {
	svc, _, _ := newTestService(newStubGenerator(), WorkflowServiceConfig{})

	_, err := svc.Create(context.Background(), "   ", "zh")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Messages, "topic_required")
}

func TestPipelineStageFailureAbortsRemainingStages(t *testing.T) {
	gen := newStubGenerator()
	gen.writeErr = errors.New("模型超时")
	svc, store, bus := newTestService(gen, WorkflowServiceConfig{})

	record, err := svc.Create(context.Background(), "庄园命案", "zh")
	require.NoError(t, err)
	svc.Wait()

	got, err := store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, got.Status)

	planning, _ := got.StageState(models.StagePlanning)
	assert.Equal(t, models.StageCompleted, planning.Status)
	writing, _ := got.StageState(models.StageWriting)
	assert.Equal(t, models.StageFailed, writing.Status)
	assert.Equal(t, "模型超时", writing.ErrorMessage)
	review, _ := got.StageState(models.StageReview)
	assert.Equal(t, models.StagePending, review.Status)
	validation, _ := got.StageState(models.StageValidation)
	assert.Equal(t, models.StagePending, validation.Status)

	assert.Empty(t, got.History)

	var sawFailure bool
	for _, event := range bus.History(record.ID) {
		if event.Category == models.EventInfo && event.Meta != nil {
			if stage, ok := event.Meta["stage"]; ok && stage == models.StageWriting {
				sawFailure = true
			}
		}
	}
	assert.True(t, sawFailure)
}

func TestRetryAfterFailureProducesRetryRevision(t *testing.T) {
	gen := newStubGenerator()
	gen.writeErr = errors.New("模型超时")
	svc, store, _ := newTestService(gen, WorkflowServiceConfig{})

	record, err := svc.Create(context.Background(), "雾中灯塔", "zh")
	require.NoError(t, err)
	svc.Wait()

	gen.setWriteErr(nil)
	retried, err := svc.Retry(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StagePending, retried.Status)
	svc.Wait()

	got, err := store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, got.Status)
	require.Len(t, got.History, 1)
	assert.Equal(t, models.RevisionRetry, got.History[0].Type)
}

func TestRetryUnknownWorkflow(t *testing.T) {
	svc, _, _ := newTestService(newStubGenerator(), WorkflowServiceConfig{})
	_, err := svc.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestTerminateMarksNonCompletedStagesFailed(t *testing.T) {
	svc, store, _ := newTestService(newStubGenerator(), WorkflowServiceConfig{})

	record := models.NewWorkflowRecord("山庄迷案", "zh")
	record.SetStageState(models.StagePlanning, func(st *models.StageState) {
		st.Status = models.StageCompleted
	})
	record.SetStageState(models.StageWriting, func(st *models.StageState) {
		st.Status = models.StageRunning
	})
	require.NoError(t, store.Insert(context.Background(), record))

	got, err := svc.Terminate(context.Background(), record.ID, "用户取消")
	require.NoError(t, err)

	statuses := make([]models.StageStatus, 0, 4)
	for _, st := range got.StageStates {
		statuses = append(statuses, st.Status)
	}
	assert.Equal(t, []models.StageStatus{
		models.StageCompleted,
		models.StageFailed,
		models.StageFailed,
		models.StageFailed,
	}, statuses)

	for _, st := range got.StageStates[1:] {
		assert.Equal(t, "用户取消", st.ErrorMessage, st.Stage)
		assert.NotNil(t, st.FinishedAt, st.Stage)
	}
	assert.Empty(t, got.StageStates[0].ErrorMessage)
	require.NotNil(t, got.TerminatedAt)
	assert.Equal(t, "用户取消", got.TerminationReason)
	assert.Equal(t, models.StageFailed, got.Status)
}

func TestTerminateStopsRunningPipeline(t *testing.T) {
	gen := newStubGenerator()
	gen.planEntered = make(chan struct{})
	gen.planRelease = make(chan struct{})
	svc, store, _ := newTestService(gen, WorkflowServiceConfig{})

	record, err := svc.Create(context.Background(), "午夜列车", "zh")
	require.NoError(t, err)

	<-gen.planEntered
	_, err = svc.Terminate(context.Background(), record.ID, "handover")
	require.NoError(t, err)
	close(gen.planRelease)
	svc.Wait()

	got, err := store.Get(context.Background(), record.ID)
	require.NoError(t, err)

	// The planning result arrived after termination and must not have
	// been committed.
	planning, _ := got.StageState(models.StagePlanning)
	assert.Equal(t, models.StageFailed, planning.Status)
	assert.Equal(t, "handover", planning.ErrorMessage)
	assert.Nil(t, got.Outline)
	assert.Empty(t, got.History)
	require.NotNil(t, got.TerminatedAt)
}

func TestStalePersistCannotOverwriteTermination(t *testing.T) {
	svc, store, _ := newTestService(newStubGenerator(), WorkflowServiceConfig{})
	ctx := context.Background()

	record := models.NewWorkflowRecord("断线风筝", "zh")
	require.NoError(t, store.Insert(ctx, record))

	// A pipeline holds its own snapshot of the record while it works.
	stale, err := store.Get(ctx, record.ID)
	require.NoError(t, err)

	_, err = svc.Terminate(ctx, record.ID, "用户取消")
	require.NoError(t, err)

	// The snapshot predates the termination; committing it would erase
	// the termination marker.
	stale.SetStageState(models.StageWriting, func(st *models.StageState) {
		st.Status = models.StageRunning
	})
	err = svc.persistUnlessTerminated(ctx, stale)
	assert.ErrorIs(t, err, errTerminated)

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TerminatedAt)
	assert.Equal(t, "用户取消", got.TerminationReason)
	writing, _ := got.StageState(models.StageWriting)
	assert.Equal(t, models.StageFailed, writing.Status)
}

func TestRollbackRestoresSnapshotIncludingNilDraft(t *testing.T) {
	svc, store, _ := newTestService(newStubGenerator(), WorkflowServiceConfig{})

	record := models.NewWorkflowRecord("孤岛钟声", "zh")
	record.Outline = fixtureOutline()
	record.StoryDraft = fixtureDraft()
	for _, def := range models.StageDefinitions {
		record.SetStageState(def.ID, func(st *models.StageState) {
			st.Status = models.StageCompleted
		})
	}
	now := time.Now().UTC()
	record.TerminatedAt = &now
	record.TerminationReason = "stale"
	record.History = []models.Revision{{
		RevisionID: "rev-1",
		Type:       models.RevisionInitial,
		CreatedAt:  now.Add(-time.Hour),
		Outline:    fixtureOutline(),
		StoryDraft: nil,
	}}
	require.NoError(t, store.Insert(context.Background(), record))

	got, err := svc.Rollback(context.Background(), record.ID, "rev-1", "回到大纲阶段")
	require.NoError(t, err)

	assert.Nil(t, got.StoryDraft)
	require.NotNil(t, got.Outline)
	require.Len(t, got.StageStates, 4)
	for _, st := range got.StageStates {
		assert.Equal(t, models.StagePending, st.Status, st.Stage)
	}
	assert.Nil(t, got.TerminatedAt)
	assert.Empty(t, got.TerminationReason)

	require.Len(t, got.History, 2)
	latest := got.History[1]
	assert.Equal(t, models.RevisionRollback, latest.Type)
	require.NotNil(t, latest.Meta)
	assert.Equal(t, "回到大纲阶段", latest.Meta.Note)
	assert.Equal(t, latest.RevisionID, got.CurrentRevisionID)
}

func TestRollbackUnknownRevision(t *testing.T) {
	svc, store, _ := newTestService(newStubGenerator(), WorkflowServiceConfig{})

	record := models.NewWorkflowRecord("空宅回声", "zh")
	require.NoError(t, store.Insert(context.Background(), record))

	_, err := svc.Rollback(context.Background(), record.ID, "no-such-rev", "")
	assert.ErrorIs(t, err, ErrRevisionNotFound)

	_, err = svc.Rollback(context.Background(), "missing", "rev", "")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestListPaginatesAndFiltersByStatus(t *testing.T) {
	svc, store, _ := newTestService(newStubGenerator(), WorkflowServiceConfig{})
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		record := models.NewWorkflowRecord(fmt.Sprintf("case-%d", i), "zh")
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i < 2 {
			for _, def := range models.StageDefinitions {
				record.SetStageState(def.ID, func(st *models.StageState) {
					st.Status = models.StageCompleted
				})
			}
		}
		require.NoError(t, store.Insert(ctx, record))
	}

	page, err := svc.List(ctx, 1, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Pages)

	completed, err := svc.List(ctx, 1, 10, models.StageCompleted)
	require.NoError(t, err)
	assert.Len(t, completed.Items, 2)
	assert.Equal(t, 2, completed.Pagination.Total)
	for _, item := range completed.Items {
		assert.Equal(t, models.StageCompleted, item.Status)
	}

	pending, err := svc.List(ctx, 1, 10, models.StagePending)
	require.NoError(t, err)
	assert.Len(t, pending.Items, 1)
}

func TestGetUnknownWorkflow(t *testing.T) {
	svc, _, _ := newTestService(newStubGenerator(), WorkflowServiceConfig{})
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestStrictSchemaFailsStageOnBadOutline(t *testing.T) {
	gen := &badOutlineGenerator{}
	svc, store, _ := newTestService(gen, WorkflowServiceConfig{StrictSchema: true})

	record, err := svc.Create(context.Background(), "无头案卷", "zh")
	require.NoError(t, err)
	svc.Wait()

	got, err := store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	planning, _ := got.StageState(models.StagePlanning)
	assert.Equal(t, models.StageFailed, planning.Status)
	assert.Contains(t, planning.ErrorMessage, "outline schema invalid")
}

type badOutlineGenerator struct{}

func (badOutlineGenerator) Plan(context.Context, string, PromptOptions) (*models.Outline, error) {
	return &models.Outline{}, nil
}

func (badOutlineGenerator) Write(context.Context, *models.Outline, PromptOptions) (*models.StoryDraft, error) {
	return fixtureDraft(), nil
}

func (badOutlineGenerator) Review(context.Context, *models.Outline, *models.StoryDraft, PromptOptions) (map[string]any, error) {
	return map[string]any{}, nil
}
