package cluepolicy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyapp/backend/pkg/models"
)

func outlineWithMustClues(clues ...models.Clue) *models.Outline {
	return &models.Outline{ClueMatrix: clues}
}

func TestEnforcePadsToThreeChapters(t *testing.T) {
	result := Enforce(outlineWithMustClues(), &models.StoryDraft{}, DefaultPolicy())

	require.Len(t, result.Draft.Chapters, 3)
	assert.Equal(t, "Chapter 1", result.Draft.Chapters[0].Title)
	assert.Equal(t, "Chapter 3", result.Draft.Chapters[2].Title)
	assert.Empty(t, result.Changes)
}

func TestEnforceSeedsChapterOne(t *testing.T) {
	outline := outlineWithMustClues(
		models.Clue{Clue: "带血的怀表", MustForeshadow: true},
		models.Clue{Clue: "断裂的绳索", MustForeshadow: true},
		models.Clue{Clue: "花房脚印", MustForeshadow: true},
	)
	result := Enforce(outline, &models.StoryDraft{}, DefaultPolicy())

	seeded := 0
	for _, ch := range result.Changes {
		if ch.Type == ChangeCh1Foreshadow {
			seeded++
			require.NotNil(t, ch.ChapterIndex)
			assert.Equal(t, 0, *ch.ChapterIndex)
		}
	}
	assert.Equal(t, 2, seeded, "default policy seeds at most two clues")

	ch1 := result.Draft.Chapters[0]
	assert.Contains(t, ch1.Content, "带血的怀表并非巧合")
	assert.Contains(t, ch1.Content, "断裂的绳索并非巧合")
	assert.Contains(t, ch1.CluesEmbedded, "带血的怀表")
	assert.Contains(t, ch1.CluesEmbedded, "断裂的绳索")
}

func TestEnforceTopsUpExposures(t *testing.T) {
	outline := outlineWithMustClues(models.Clue{Clue: "怀表", MustForeshadow: true})
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Title: "Chapter 1", Content: "死者手边有一只怀表。"},
		{Title: "Chapter 2"},
		{Title: "Chapter 3"},
	}}
	result := Enforce(outline, draft, DefaultPolicy())

	boosted := false
	for _, ch := range result.Changes {
		if ch.Type == ChangeExposureBoost && ch.Clue == "怀表" {
			boosted = true
		}
	}
	assert.True(t, boosted)
	assert.GreaterOrEqual(t, countExposures(result.Draft, normalizeClue("怀表")), 2)
	assert.Contains(t, result.Draft.Chapters[1].Content, "怀表并非巧合")
}

func TestEnforceFinalRecovery(t *testing.T) {
	outline := outlineWithMustClues(models.Clue{Clue: "怀表", MustForeshadow: true, RealMeaning: "记录真实案发时间"})
	result := Enforce(outline, &models.StoryDraft{}, DefaultPolicy())

	final := result.Draft.Chapters[len(result.Draft.Chapters)-1]
	assert.Contains(t, final.Content, "正是揭开谜底的关键")
	assert.Contains(t, final.Content, summaryMarker)
	assert.Contains(t, final.Content, "怀表 → 记录真实案发时间")
	assert.Contains(t, final.CluesEmbedded, "怀表")
}

func TestEnforceIdempotent(t *testing.T) {
	outline := outlineWithMustClues(
		models.Clue{Clue: "带血的怀表", MustForeshadow: true, ExplicitForeshadowChapters: []string{"第5章"}},
		models.Clue{Clue: "断裂的绳索", MustForeshadow: true},
	)
	policy := DefaultPolicy()
	policy.AdjustOutlineExpectedChapters = true

	first := Enforce(outline, &models.StoryDraft{}, policy)
	require.NotEmpty(t, first.Changes)

	second := Enforce(first.Outline, first.Draft, policy)
	assert.Empty(t, second.Changes)
}

func TestEnforceDoesNotMutateInputs(t *testing.T) {
	outline := outlineWithMustClues(models.Clue{Clue: "怀表", MustForeshadow: true})
	draft := &models.StoryDraft{Chapters: []models.Chapter{{Title: "Chapter 1", Content: "开场。"}}}

	result := Enforce(outline, draft, DefaultPolicy())

	assert.Len(t, draft.Chapters, 1)
	assert.Equal(t, "开场。", draft.Chapters[0].Content)
	assert.NotSame(t, draft, result.Draft)
	// Without AdjustOutlineExpectedChapters the outline passes through.
	assert.Same(t, outline, result.Outline)
}

func TestEnforceAdjustsExpectedChapters(t *testing.T) {
	outline := outlineWithMustClues(models.Clue{
		Clue:                       "怀表",
		MustForeshadow:             true,
		ExplicitForeshadowChapters: []string{"第5章", "Chapter 2"},
	})
	policy := DefaultPolicy()
	policy.AdjustOutlineExpectedChapters = true

	result := Enforce(outline, &models.StoryDraft{}, policy)

	require.NotNil(t, result.Outline)
	assert.Equal(t, []string{"Chapter 2", "Chapter 1"}, result.Outline.ClueMatrix[0].ExplicitForeshadowChapters)
	assert.Equal(t, []string{"第5章", "Chapter 2"}, outline.ClueMatrix[0].ExplicitForeshadowChapters)

	adjusted := false
	for _, ch := range result.Changes {
		if ch.Type == ChangeAdjustChapters {
			adjusted = true
		}
	}
	assert.True(t, adjusted)
}

func TestTrimRedHerringsByRatio(t *testing.T) {
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{CluesEmbedded: []string{"怀表", "绳索"}},
		{RedHerringsEmbedded: []string{"a", "b", "c", "d", "e"}},
	}}
	var changes []Change

	trimRedHerrings(draft, 0.3, -1, &changes)

	assert.LessOrEqual(t, redHerringRatio(draft.Chapters), 0.3)
	assert.NotEmpty(t, changes)
	for _, ch := range changes {
		assert.Equal(t, ChangeTrimRedHerring, ch.Type)
	}
}

func TestTrimRedHerringsPerChapterCap(t *testing.T) {
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{CluesEmbedded: []string{"a", "b", "c", "d", "e", "f", "g", "h"}, RedHerringsEmbedded: []string{"x", "y", "z"}},
	}}
	var changes []Change

	trimRedHerrings(draft, 0.5, 1, &changes)

	assert.Len(t, draft.Chapters[0].RedHerringsEmbedded, 1)
	capApplied := false
	for _, ch := range changes {
		if ch.Type == ChangeTrimRedHerringCap {
			capApplied = true
		}
	}
	assert.True(t, capApplied)
}

func TestInjectTestimonySkipsChaptersWithTestimony(t *testing.T) {
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Content: "“管家：那晚我听到了钟声。”"},
		{Content: "平静的一天。"},
	}}
	outline := outlineWithMustClues(models.Clue{Clue: "怀表"})
	var changes []Change

	injectTestimony(draft, outline, &changes)

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeTestimonyBoost, changes[0].Type)
	assert.Contains(t, draft.Chapters[1].Content, "证人乙")
	assert.NotContains(t, draft.Chapters[0].Content, "证人甲")
}

func TestEnforceWithoutMustCluesLeavesDraftAlone(t *testing.T) {
	outline := outlineWithMustClues(models.Clue{Clue: "摆设", MustForeshadow: false})
	result := Enforce(outline, &models.StoryDraft{}, DefaultPolicy())

	assert.Empty(t, result.Changes)
	for _, ch := range result.Draft.Chapters {
		assert.Empty(t, strings.TrimSpace(ch.Content))
	}
}
