package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyapp/backend/pkg/models"
)

func TestMemoryStoreInsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()

	record := models.NewWorkflowRecord("钟楼疑案", "zh")
	require.NoError(t, store.Insert(ctx, record))
	require.NotEmpty(t, record.ID)

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "钟楼疑案", got.Topic)
	assert.Equal(t, models.StagePending, got.Status)
	assert.Len(t, got.StageStates, 4)
}

func TestMemoryStoreGetUnknownID(t *testing.T) {
	store := NewMemoryWorkflowStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReplace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()

	record := models.NewWorkflowRecord("钟楼疑案", "zh")
	require.NoError(t, store.Insert(ctx, record))

	record.SetStageState(models.StagePlanning, func(s *models.StageState) {
		s.Status = models.StageRunning
	})
	require.NoError(t, store.Replace(ctx, record))

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	state, ok := got.StageState(models.StagePlanning)
	require.True(t, ok)
	assert.Equal(t, models.StageRunning, state.Status)
	assert.Equal(t, models.StageRunning, got.Status)
}

func TestMemoryStoreReplaceUnknownID(t *testing.T) {
	store := NewMemoryWorkflowStore()
	record := models.NewWorkflowRecord("无此记录", "zh")
	record.ID = "missing"
	assert.ErrorIs(t, store.Replace(context.Background(), record), ErrNotFound)
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()

	record := models.NewWorkflowRecord("钟楼疑案", "zh")
	require.NoError(t, store.Insert(ctx, record))

	// Mutating the caller's copy must not leak into the store.
	record.Topic = "被篡改的主题"
	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "钟楼疑案", got.Topic)

	// Mutating a fetched copy must not leak either.
	got.Topic = "另一个篡改"
	again, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "钟楼疑案", again.Topic)
}

func TestMemoryStoreListOrdersByCreationDesc(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		record := models.NewWorkflowRecord("case", "zh")
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Insert(ctx, record))
	}

	records, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt))

	rest, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
