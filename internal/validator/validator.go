// Package validator runs the structural consistency rules over a
// harmonized outline and draft, producing the validation report stored
// by the final pipeline stage.
package validator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"storyapp/backend/pkg/models"
)

// Rule ids reported in the validation report.
const (
	RuleClueForeshadowing  = "clue-foreshadowing"
	RuleTimelineConsistent = "timeline-consistency"
	RuleChekhovRecovery    = "chekhov-recovery"
	RuleRedHerringRatio    = "red-herring-ratio"
	RuleFairnessExposure   = "fairness-min-exposures"
	RuleTimelineFromText   = "timeline-from-text"
	RuleDeviceFeasibility  = "device-feasibility"
	RuleLanguageAdaptation = "language-adaptation"
)

// Options annotates the report with artifact identifiers.
type Options struct {
	OutlineID string
	StoryID   string
}

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	chapterLabelRe = regexp.MustCompile(`(?i)Chapter\s*(\d+)`)
	canonicalRe    = regexp.MustCompile(`(?i)^Day(\d+)\s+(\d{1,2}):(\d{2})$`)
	textTimeRe     = regexp.MustCompile(`([0-2]?\d):([0-5]\d)`)
	sentenceSplit  = regexp.MustCompile(`[。！？!?.]`)
)

var validChapterIDs = map[string]struct{}{
	"Chapter 1": {},
	"Chapter 2": {},
	"Chapter 3": {},
}

var bannedWords = []string{"血腥", "残忍", "恐怖至极"}

// fallbackDeviceKeywords are checked when the central trick matches no
// mechanism family.
var fallbackDeviceKeywords = []string{"滑轮", "风道", "潮", "共振"}

func normalizeClueName(value string) string {
	return strings.ToLower(whitespaceRe.ReplaceAllString(value, ""))
}

// Run evaluates every structural rule and assembles the report.
func Run(outline *models.Outline, draft *models.StoryDraft, opts Options) *models.ValidationReport {
	redHerring := validateRedHerringRatio(draft)
	language := validateLanguageAdaptation(draft)

	report := &models.ValidationReport{
		GeneratedAt: time.Now().UTC(),
		OutlineID:   opts.OutlineID,
		StoryID:     opts.StoryID,
		Results: []models.RuleResult{
			validateClueForeshadowing(outline, draft),
			validateTimelineConsistency(outline),
			validateChekhovRecovery(outline, draft),
			redHerring,
			validateFairnessExposureMin(outline, draft),
			validateTimelineFromText(outline, draft),
			validateDeviceFeasibility(outline, draft),
			language,
		},
	}
	report.Summarize()

	metrics := make(map[string]float64)
	copyMetric := func(result models.RuleResult, keys ...string) {
		if len(result.Details) == 0 || result.Details[0].Meta == nil {
			return
		}
		for _, key := range keys {
			if v, ok := result.Details[0].Meta[key].(float64); ok {
				metrics[key] = v
			}
		}
	}
	copyMetric(redHerring, "redHerringRatio")
	copyMetric(language, "avgSentenceLen", "longSentenceRatio", "bannedWordCount")
	if len(metrics) > 0 {
		report.Metrics = metrics
	}
	return report
}

// ruleState accumulates the worst status seen plus all findings.
type ruleState struct {
	status  models.RuleStatus
	details []models.RuleDetail
}

func newRuleState() *ruleState {
	return &ruleState{status: models.RulePass}
}

func (s *ruleState) add(status models.RuleStatus, detail models.RuleDetail) {
	if status == models.RuleFail {
		s.status = models.RuleFail
	} else if status == models.RuleWarn && s.status != models.RuleFail {
		s.status = models.RuleWarn
	}
	s.details = append(s.details, detail)
}

func warnResult(ruleID, message string) models.RuleResult {
	return models.RuleResult{
		RuleID:  ruleID,
		Status:  models.RuleWarn,
		Details: []models.RuleDetail{{Message: message}},
	}
}

func validateClueForeshadowing(outline *models.Outline, draft *models.StoryDraft) models.RuleResult {
	var clues []models.Clue
	if outline != nil {
		clues = outline.ClueMatrix
	}
	if len(clues) == 0 {
		return warnResult(RuleClueForeshadowing, "大纲未提供任何线索矩阵，建议补充以保证公平性")
	}
	var chapters []models.Chapter
	if draft != nil {
		chapters = draft.Chapters
	}

	state := newRuleState()
	for _, clue := range clues {
		if !clue.MustForeshadow {
			continue
		}
		normalized := normalizeClueName(clue.Clue)

		var invalid []string
		for _, chapterID := range clue.ExplicitForeshadowChapters {
			if _, ok := validChapterIDs[chapterID]; !ok {
				invalid = append(invalid, chapterID)
			}
		}
		if len(invalid) > 0 {
			state.add(models.RuleWarn, models.RuleDetail{
				Message: fmt.Sprintf("线索「%s」声明了无效章节：%s", clue.Clue, strings.Join(invalid, ", ")),
			})
		}

		earliest := findEarliestClueMention(chapters, normalized)
		if earliest < 0 {
			state.add(models.RuleFail, models.RuleDetail{
				Message: fmt.Sprintf("必需铺垫的线索「%s」未在正文中出现或标注", clue.Clue),
			})
			continue
		}
		if len(clue.ExplicitForeshadowChapters) > 0 {
			var expected []int
			for _, chapterID := range clue.ExplicitForeshadowChapters {
				if idx, ok := extractChapterIndex(chapterID); ok {
					expected = append(expected, idx)
				}
			}
			if len(expected) > 0 && !containsInt(expected, earliest) {
				labels := make([]string, len(expected))
				for i, idx := range expected {
					labels[i] = fmt.Sprintf("Chapter %d", idx+1)
				}
				state.add(models.RuleWarn, models.RuleDetail{
					Message: fmt.Sprintf("线索「%s」实际最早出现在 Chapter %d，与大纲声明的 %s 不一致",
						clue.Clue, earliest+1, strings.Join(labels, "、")),
				})
			}
		}
	}
	return models.RuleResult{RuleID: RuleClueForeshadowing, Status: state.status, Details: state.details}
}

func validateTimelineConsistency(outline *models.Outline) models.RuleResult {
	var timeline []models.TimelineEvent
	if outline != nil {
		timeline = outline.Timeline
	}
	if len(timeline) == 0 {
		return warnResult(RuleTimelineConsistent, "大纲缺少时间线信息，无法验证时间顺序")
	}
	state := newRuleState()
	last := -1
	for index, event := range timeline {
		parsed, ok := parseCanonicalTime(event.Time)
		if !ok {
			state.add(models.RuleWarn, models.RuleDetail{
				Message: fmt.Sprintf("无法解析时间线事件 %q，请使用 \"DayX HH:MM\" 格式", event.Time),
				Meta:    map[string]any{"event": event},
			})
			continue
		}
		if last >= 0 && parsed < last {
			state.add(models.RuleFail, models.RuleDetail{
				Message: fmt.Sprintf("时间线事件顺序异常：%s → %s", timeline[index-1].Time, event.Time),
			})
		}
		last = parsed
	}
	return models.RuleResult{RuleID: RuleTimelineConsistent, Status: state.status, Details: state.details}
}

func validateChekhovRecovery(outline *models.Outline, draft *models.StoryDraft) models.RuleResult {
	var must []models.Clue
	if outline != nil {
		for _, clue := range outline.ClueMatrix {
			if clue.MustForeshadow {
				must = append(must, clue)
			}
		}
	}
	var chapters []models.Chapter
	if draft != nil {
		chapters = draft.Chapters
	}
	if len(must) == 0 || len(chapters) == 0 {
		return warnResult(RuleChekhovRecovery, "缺少必需铺垫的线索或章节数据，无法验证 Chekhov 回收规则")
	}

	final := chapters[len(chapters)-1]
	finalTags := make(map[string]struct{}, len(final.CluesEmbedded))
	for _, tag := range final.CluesEmbedded {
		finalTags[normalizeClueName(tag)] = struct{}{}
	}
	finalContent := normalizeClueName(final.Content)

	var missing []string
	for _, clue := range must {
		normalized := normalizeClueName(clue.Clue)
		if normalized == "" {
			continue
		}
		if _, tagged := finalTags[normalized]; tagged {
			continue
		}
		if strings.Contains(finalContent, normalized) {
			continue
		}
		missing = append(missing, clue.Clue)
	}
	if len(missing) == 0 {
		return models.RuleResult{
			RuleID:  RuleChekhovRecovery,
			Status:  models.RulePass,
			Details: []models.RuleDetail{{Message: "所有必需线索在结局章节中得到回收"}},
		}
	}
	return models.RuleResult{
		RuleID: RuleChekhovRecovery,
		Status: models.RuleWarn,
		Details: []models.RuleDetail{{
			Message: fmt.Sprintf("以下线索未在结局章节中显式回收：%s", strings.Join(missing, "、")),
			Meta:    map[string]any{"missing": missing},
		}},
	}
}

func validateRedHerringRatio(draft *models.StoryDraft) models.RuleResult {
	var chapters []models.Chapter
	if draft != nil {
		chapters = draft.Chapters
	}
	if len(chapters) == 0 {
		return warnResult(RuleRedHerringRatio, "缺少章节数据，无法计算误导占比")
	}
	clueCount, redCount := 0, 0
	for i := range chapters {
		clueCount += len(chapters[i].CluesEmbedded)
		redCount += len(chapters[i].RedHerringsEmbedded)
	}
	total := clueCount + redCount
	if total == 0 {
		return warnResult(RuleRedHerringRatio, "章节中缺少线索与误导数据，建议补充埋点")
	}
	ratio := float64(redCount) / float64(total)
	meta := map[string]any{
		"clueCount":       float64(clueCount),
		"redHerringCount": float64(redCount),
		"redHerringRatio": math.Round(ratio*1000) / 1000,
	}
	switch {
	case ratio > 0.4:
		return models.RuleResult{
			RuleID: RuleRedHerringRatio,
			Status: models.RuleFail,
			Details: []models.RuleDetail{{
				Message: fmt.Sprintf("红鲱鱼占比过高（%.1f%%），建议控制在 40%% 以下", ratio*100),
				Meta:    meta,
			}},
		}
	case ratio > 0.3:
		return models.RuleResult{
			RuleID: RuleRedHerringRatio,
			Status: models.RuleWarn,
			Details: []models.RuleDetail{{
				Message: fmt.Sprintf("红鲱鱼占比接近阈值（%.1f%%），建议进一步收敛", ratio*100),
				Meta:    meta,
			}},
		}
	default:
		return models.RuleResult{
			RuleID: RuleRedHerringRatio,
			Status: models.RulePass,
			Details: []models.RuleDetail{{
				Message: fmt.Sprintf("红鲱鱼占比 %.1f%%，符合规则", ratio*100),
				Meta:    meta,
			}},
		}
	}
}

func validateFairnessExposureMin(outline *models.Outline, draft *models.StoryDraft) models.RuleResult {
	var clues []models.Clue
	if outline != nil {
		clues = outline.ClueMatrix
	}
	var chapters []models.Chapter
	if draft != nil {
		chapters = draft.Chapters
	}
	if len(clues) == 0 || len(chapters) == 0 {
		return warnResult(RuleFairnessExposure, "缺少线索或章节，无法计算最小铺垫次数")
	}
	const minExposure = 2
	exposure := make(map[string]int)
	names := make(map[string]string)
	for _, clue := range clues {
		if clue.Clue == "" {
			continue
		}
		key := normalizeClueName(clue.Clue)
		exposure[key] = 0
		names[key] = clue.Clue
	}
	for i := range chapters {
		content := normalizeClueName(chapters[i].Content)
		for key := range exposure {
			if strings.Contains(content, key) {
				exposure[key]++
			}
		}
		for _, tag := range chapters[i].CluesEmbedded {
			key := normalizeClueName(tag)
			if _, tracked := exposure[key]; tracked {
				exposure[key]++
			}
		}
	}
	var lacking []string
	for key, n := range exposure {
		if n < minExposure {
			lacking = append(lacking, names[key])
		}
	}
	if len(lacking) == 0 {
		return models.RuleResult{
			RuleID:  RuleFairnessExposure,
			Status:  models.RulePass,
			Details: []models.RuleDetail{{Message: fmt.Sprintf("所有线索铺垫次数≥%d", minExposure)}},
		}
	}
	return models.RuleResult{
		RuleID: RuleFairnessExposure,
		Status: models.RuleWarn,
		Details: []models.RuleDetail{{
			Message: fmt.Sprintf("以下线索铺垫次数不足：%s", strings.Join(lacking, "、")),
			Meta:    map[string]any{"minExposure": minExposure},
		}},
	}
}

func validateTimelineFromText(outline *models.Outline, draft *models.StoryDraft) models.RuleResult {
	var chapters []models.Chapter
	if draft != nil {
		chapters = draft.Chapters
	}
	if len(chapters) == 0 {
		return warnResult(RuleTimelineFromText, "缺少章节，无法抽取时间")
	}
	var found []string
	for i := range chapters {
		for _, match := range textTimeRe.FindAllStringSubmatch(chapters[i].Content, -1) {
			hh := match[1]
			if len(hh) == 1 {
				hh = "0" + hh
			}
			found = append(found, hh+":"+match[2])
		}
	}
	if len(found) == 0 {
		return warnResult(RuleTimelineFromText, "正文中未发现显式时间标注")
	}
	outlineTimes := make(map[string]struct{})
	if outline != nil {
		for _, event := range outline.Timeline {
			parts := strings.Fields(event.Time)
			if len(parts) > 0 {
				outlineTimes[parts[len(parts)-1]] = struct{}{}
			}
		}
	}
	var mismatches []string
	for _, t := range found {
		if _, ok := outlineTimes[t]; !ok {
			mismatches = append(mismatches, t)
		}
	}
	if len(mismatches) == 0 {
		return models.RuleResult{
			RuleID:  RuleTimelineFromText,
			Status:  models.RulePass,
			Details: []models.RuleDetail{{Message: "正文时间点与大纲时间基本一致"}},
		}
	}
	shown := mismatches
	if len(shown) > 5 {
		shown = shown[:5]
	}
	return models.RuleResult{
		RuleID: RuleTimelineFromText,
		Status: models.RuleWarn,
		Details: []models.RuleDetail{{
			Message: fmt.Sprintf("正文出现未在大纲时间线中的时间：%s…", strings.Join(shown, "、")),
			Meta:    map[string]any{"mismatches": mismatches},
		}},
	}
}

// validateDeviceFeasibility classifies the central trick against the
// mechanism taxonomy and requires its canonical vocabulary, falling back
// to a generic keyword set when no family matches.
func validateDeviceFeasibility(outline *models.Outline, draft *models.StoryDraft) models.RuleResult {
	var mech, classifySource string
	if outline != nil && outline.CentralTrick != nil {
		mech = outline.CentralTrick.Mechanism
		if mech == "" {
			mech = outline.CentralTrick.Summary
		}
		classifySource = outline.CentralTrick.Summary + outline.CentralTrick.Mechanism
	}
	if outline != nil {
		for _, clue := range outline.ClueMatrix {
			classifySource += clue.Clue
		}
	}

	required := fallbackDeviceKeywords
	for _, preset := range models.MechanismPresets {
		group := models.MechanismGroups[preset.ValidatorGroup]
		matched := false
		for _, trigger := range group.Triggers {
			if strings.Contains(classifySource, trigger) {
				matched = true
				break
			}
		}
		if matched {
			required = group.Requires
			break
		}
	}

	var missing []string
	for _, keyword := range required {
		if !strings.Contains(mech, keyword) {
			missing = append(missing, keyword)
		}
	}
	var textAll strings.Builder
	if draft != nil {
		for i := range draft.Chapters {
			textAll.WriteString(draft.Chapters[i].Content)
			textAll.WriteByte('\n')
		}
	}
	var presentInText []string
	for _, keyword := range required {
		if strings.Contains(textAll.String(), keyword) {
			presentInText = append(presentInText, keyword)
		}
	}

	if len(missing) > 2 {
		return models.RuleResult{
			RuleID: RuleDeviceFeasibility,
			Status: models.RuleWarn,
			Details: []models.RuleDetail{{
				Message: "大纲机制描述过于模糊，缺少关键机械要素",
				Meta:    map[string]any{"missingRequired": missing},
			}},
		}
	}
	if len(presentInText) == 0 {
		return models.RuleResult{
			RuleID: RuleDeviceFeasibility,
			Status: models.RuleWarn,
			Details: []models.RuleDetail{{
				Message: "正文未出现关键机械要素的可观察证据",
				Meta:    map[string]any{"required": required},
			}},
		}
	}
	return models.RuleResult{
		RuleID: RuleDeviceFeasibility,
		Status: models.RulePass,
		Details: []models.RuleDetail{{
			Message: "中心奇迹具备基本可行性的文本支撑",
			Meta:    map[string]any{"presentInText": presentInText},
		}},
	}
}

func validateLanguageAdaptation(draft *models.StoryDraft) models.RuleResult {
	var textAll strings.Builder
	if draft != nil {
		for i := range draft.Chapters {
			textAll.WriteString(draft.Chapters[i].Content)
			textAll.WriteByte('\n')
		}
	}
	text := strings.TrimSpace(textAll.String())
	if text == "" {
		return warnResult(RuleLanguageAdaptation, "缺少正文文本，无法计算语言指标")
	}

	var lens []int
	for _, sentence := range sentenceSplit.Split(text, -1) {
		if trimmed := strings.TrimSpace(sentence); trimmed != "" {
			lens = append(lens, len([]rune(trimmed)))
		}
	}
	sum, long := 0, 0
	for _, n := range lens {
		sum += n
		if n > 30 {
			long++
		}
	}
	avg := 0.0
	longRatio := 0.0
	if len(lens) > 0 {
		avg = float64(sum) / float64(len(lens))
		longRatio = float64(long) / float64(len(lens))
	}
	bannedCount := 0
	for _, word := range bannedWords {
		bannedCount += strings.Count(text, word)
	}

	status := models.RulePass
	if avg > 26 || longRatio > 0.3 || bannedCount > 0 {
		status = models.RuleWarn
	}
	if avg > 32 || longRatio > 0.5 || bannedCount > 1 {
		status = models.RuleFail
	}
	return models.RuleResult{
		RuleID: RuleLanguageAdaptation,
		Status: status,
		Details: []models.RuleDetail{{
			Message: "语言适配指标",
			Meta: map[string]any{
				"avgSentenceLen":    math.Round(avg*100) / 100,
				"longSentenceRatio": math.Round(longRatio*1000) / 1000,
				"bannedWordCount":   float64(bannedCount),
			},
		}},
	}
}

func findEarliestClueMention(chapters []models.Chapter, normalizedClue string) int {
	if normalizedClue == "" {
		return -1
	}
	for index := range chapters {
		for _, tag := range chapters[index].CluesEmbedded {
			if normalizeClueName(tag) == normalizedClue {
				return index
			}
		}
		if strings.Contains(normalizeClueName(chapters[index].Content), normalizedClue) {
			return index
		}
	}
	return -1
}

func extractChapterIndex(chapterID string) (int, bool) {
	match := chapterLabelRe.FindStringSubmatch(chapterID)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n - 1, true
}

func parseCanonicalTime(value string) (int, bool) {
	match := canonicalRe.FindStringSubmatch(value)
	if match == nil {
		return 0, false
	}
	day, _ := strconv.Atoi(match[1])
	hour, _ := strconv.Atoi(match[2])
	minute, _ := strconv.Atoi(match[3])
	return day*24*60 + hour*60 + minute, true
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
