package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyapp/backend/pkg/models"
)

func ruleByID(t *testing.T, report *models.ValidationReport, ruleID string) models.RuleResult {
	t.Helper()
	for _, result := range report.Results {
		if result.RuleID == ruleID {
			return result
		}
	}
	t.Fatalf("rule %s missing from report", ruleID)
	return models.RuleResult{}
}

func consistentFixture() (*models.Outline, *models.StoryDraft) {
	outline := &models.Outline{
		CentralTrick: &models.CentralTrick{
			Mechanism: "齿轮、发条与联动杆件在整点触发机关",
		},
		ClueMatrix: []models.Clue{
			{Clue: "怀表", MustForeshadow: true, ExplicitForeshadowChapters: []string{"Chapter 1"}},
		},
		Timeline: []models.TimelineEvent{
			{Time: "Day1 19:00", Event: "抵达"},
			{Time: "Day1 21:40", Event: "异响"},
			{Time: "Day2 08:15", Event: "搜查"},
		},
	}
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Content: "19:00 怀表出现。齿轮转动。", CluesEmbedded: []string{"怀表"}},
		{Content: "21:40 发条声。"},
		{Content: "08:15 怀表揭示真相。", CluesEmbedded: []string{"怀表"}},
	}}
	return outline, draft
}

func TestRunAllRulesPassOnConsistentStory(t *testing.T) {
	outline, draft := consistentFixture()
	report := Run(outline, draft, Options{OutlineID: "o1", StoryID: "s1"})

	require.Len(t, report.Results, 8)
	assert.Equal(t, "o1", report.OutlineID)
	assert.Equal(t, "s1", report.StoryID)
	require.NotNil(t, report.Summary)
	assert.Zero(t, report.Summary.Fail)

	assert.Equal(t, models.RulePass, ruleByID(t, report, RuleClueForeshadowing).Status)
	assert.Equal(t, models.RulePass, ruleByID(t, report, RuleTimelineConsistent).Status)
	assert.Equal(t, models.RulePass, ruleByID(t, report, RuleChekhovRecovery).Status)
	assert.Equal(t, models.RulePass, ruleByID(t, report, RuleFairnessExposure).Status)
	assert.Equal(t, models.RulePass, ruleByID(t, report, RuleTimelineFromText).Status)
	assert.Equal(t, models.RulePass, ruleByID(t, report, RuleDeviceFeasibility).Status)
}

func TestClueForeshadowingFailsOnMissingClue(t *testing.T) {
	outline := &models.Outline{
		ClueMatrix: []models.Clue{{Clue: "毒药瓶", MustForeshadow: true}},
	}
	draft := &models.StoryDraft{Chapters: []models.Chapter{{Content: "平静的一天。"}}}

	result := validateClueForeshadowing(outline, draft)
	assert.Equal(t, models.RuleFail, result.Status)
}

func TestClueForeshadowingWarnsOnChapterMismatch(t *testing.T) {
	outline := &models.Outline{
		ClueMatrix: []models.Clue{{
			Clue:                       "怀表",
			MustForeshadow:             true,
			ExplicitForeshadowChapters: []string{"Chapter 2"},
		}},
	}
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Content: "怀表在开场就出现了。"},
		{Content: "后续章节。"},
	}}

	result := validateClueForeshadowing(outline, draft)
	assert.Equal(t, models.RuleWarn, result.Status)
	require.NotEmpty(t, result.Details)
	assert.Contains(t, result.Details[0].Message, "实际最早出现在 Chapter 1")
}

func TestClueForeshadowingWarnsOnInvalidChapterLabels(t *testing.T) {
	outline := &models.Outline{
		ClueMatrix: []models.Clue{{
			Clue:                       "怀表",
			MustForeshadow:             true,
			ExplicitForeshadowChapters: []string{"第9章"},
		}},
	}
	draft := &models.StoryDraft{Chapters: []models.Chapter{{Content: "怀表出现。"}}}

	result := validateClueForeshadowing(outline, draft)
	assert.Equal(t, models.RuleWarn, result.Status)
	assert.Contains(t, result.Details[0].Message, "无效章节")
}

func TestTimelineConsistencyFailsOnDisorder(t *testing.T) {
	outline := &models.Outline{Timeline: []models.TimelineEvent{
		{Time: "Day2 10:00", Event: "后发事件"},
		{Time: "Day1 09:00", Event: "先发事件"},
	}}

	result := validateTimelineConsistency(outline)
	assert.Equal(t, models.RuleFail, result.Status)
}

func TestTimelineConsistencyWarnsOnUnparseableTime(t *testing.T) {
	outline := &models.Outline{Timeline: []models.TimelineEvent{
		{Time: "黄昏时分", Event: "日落"},
	}}

	result := validateTimelineConsistency(outline)
	assert.Equal(t, models.RuleWarn, result.Status)
}

func TestChekhovRecoveryWarnsOnUnrecoveredClue(t *testing.T) {
	outline := &models.Outline{ClueMatrix: []models.Clue{
		{Clue: "怀表", MustForeshadow: true},
		{Clue: "信件", MustForeshadow: true},
	}}
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Content: "怀表与信件均出现。"},
		{Content: "结局只提到怀表。", CluesEmbedded: []string{"怀表"}},
	}}

	result := validateChekhovRecovery(outline, draft)
	assert.Equal(t, models.RuleWarn, result.Status)
	assert.Contains(t, result.Details[0].Message, "信件")
}

func TestRedHerringRatioThresholds(t *testing.T) {
	build := func(clues, reds int) *models.StoryDraft {
		ch := models.Chapter{}
		for i := 0; i < clues; i++ {
			ch.CluesEmbedded = append(ch.CluesEmbedded, "c")
		}
		for i := 0; i < reds; i++ {
			ch.RedHerringsEmbedded = append(ch.RedHerringsEmbedded, "r")
		}
		return &models.StoryDraft{Chapters: []models.Chapter{ch}}
	}

	assert.Equal(t, models.RulePass, validateRedHerringRatio(build(8, 2)).Status)
	assert.Equal(t, models.RuleWarn, validateRedHerringRatio(build(13, 7)).Status)
	assert.Equal(t, models.RuleFail, validateRedHerringRatio(build(5, 5)).Status)
}

func TestFairnessExposureMinWarnsBelowThreshold(t *testing.T) {
	outline := &models.Outline{ClueMatrix: []models.Clue{{Clue: "怀表"}}}
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Content: "怀表只出现这一次。"},
	}}

	result := validateFairnessExposureMin(outline, draft)
	assert.Equal(t, models.RuleWarn, result.Status)
	assert.Contains(t, result.Details[0].Message, "怀表")
}

func TestTimelineFromTextFlagsUnknownTimes(t *testing.T) {
	outline := &models.Outline{Timeline: []models.TimelineEvent{{Time: "Day1 19:00", Event: "抵达"}}}
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Content: "正文提到 23:59 的钟声。"},
	}}

	result := validateTimelineFromText(outline, draft)
	assert.Equal(t, models.RuleWarn, result.Status)
	assert.Contains(t, result.Details[0].Message, "23:59")
}

func TestDeviceFeasibilityUsesMechanismFamilies(t *testing.T) {
	outline := &models.Outline{CentralTrick: &models.CentralTrick{
		Mechanism: "镜面与光线折射制造幻影",
	}}
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Content: "侦探注意到镜面上反射的光。"},
	}}

	result := validateDeviceFeasibility(outline, draft)
	assert.Equal(t, models.RulePass, result.Status)
}

func TestDeviceFeasibilityWarnsOnVagueMechanism(t *testing.T) {
	outline := &models.Outline{CentralTrick: &models.CentralTrick{Mechanism: "某种神秘手段"}}
	result := validateDeviceFeasibility(outline, &models.StoryDraft{})
	assert.Equal(t, models.RuleWarn, result.Status)
}

func TestLanguageAdaptationFlagsBannedWords(t *testing.T) {
	draft := &models.StoryDraft{Chapters: []models.Chapter{
		{Content: "现场十分血腥。细节残忍。"},
	}}

	result := validateLanguageAdaptation(draft)
	assert.Equal(t, models.RuleFail, result.Status)
	assert.Equal(t, float64(2), result.Details[0].Meta["bannedWordCount"])
}

func TestRunCollectsMetrics(t *testing.T) {
	outline, draft := consistentFixture()
	report := Run(outline, draft, Options{})

	require.NotNil(t, report.Metrics)
	assert.Contains(t, report.Metrics, "redHerringRatio")
	assert.Contains(t, report.Metrics, "avgSentenceLen")
}
