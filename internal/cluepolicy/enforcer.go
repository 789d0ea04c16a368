package cluepolicy

import (
	"fmt"
	"regexp"
	"strings"

	"storyapp/backend/pkg/models"
)

// Change types recorded in the enforcement change log.
const (
	ChangeCh1Foreshadow     = "ch1_foreshadow"
	ChangeExposureBoost     = "exposure_boost"
	ChangeFinalRecovery     = "final_recovery"
	ChangeAdjustChapters    = "adjust_expected_chapters"
	ChangeTrimRedHerring    = "trim_red_herring"
	ChangeTrimRedHerringCap = "trim_red_herring_cap"
	ChangeTestimonyBoost    = "testimony_boost"
)

// maxExposureInsertions bounds the top-up loop per clue so a pathological
// draft cannot grow without limit.
const maxExposureInsertions = 5

// Policy configures the clue guarantees. Zero values are normalized by
// Enforce: Ch1MinClues floors at 0 and MinExposures at 1.
type Policy struct {
	Ch1MinClues                   int
	MinExposures                  int
	EnsureFinalRecovery           bool
	AdjustOutlineExpectedChapters bool
	// MaxRedHerringRatio caps red herrings as a fraction of all embedded
	// signals; values outside [0,1] fall back to the default.
	MaxRedHerringRatio float64
	// MaxRedHerringPerChapter caps red herrings per chapter; negative
	// means no per-chapter cap.
	MaxRedHerringPerChapter int
}

// DefaultPolicy returns the stock policy used by the pipeline.
func DefaultPolicy() Policy {
	return Policy{
		Ch1MinClues:             2,
		MinExposures:            2,
		EnsureFinalRecovery:     true,
		MaxRedHerringRatio:      0.3,
		MaxRedHerringPerChapter: -1,
	}
}

// Change is one entry of the enforcement change log.
type Change struct {
	Type         string `json:"type"`
	Clue         string `json:"clue,omitempty"`
	ChapterIndex *int   `json:"chapterIndex,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Result carries the patched artifacts and the change log. Inputs are
// never mutated: Draft is always a deep copy, while Outline is the input
// outline unless AdjustOutlineExpectedChapters rewrote it, in which case
// it is a clone carrying the rewritten foreshadow-chapter lists.
type Result struct {
	Draft   *models.StoryDraft `json:"draft"`
	Outline *models.Outline    `json:"outline,omitempty"`
	Changes []Change           `json:"changes"`
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeClue(value string) string {
	return strings.ToLower(whitespaceRe.ReplaceAllString(value, ""))
}

type mustClue struct {
	name       string
	normalized string
	realMean   string
}

// Enforce applies the clue policy to a draft: chapter-1 foreshadowing,
// minimum exposures, final-chapter recovery, red-herring trimming and
// testimony injection. Re-running Enforce on its own output with the
// same policy yields an empty change log.
func Enforce(outline *models.Outline, draft *models.StoryDraft, policy Policy) Result {
	if policy.Ch1MinClues < 0 {
		policy.Ch1MinClues = 0
	}
	if policy.MinExposures < 1 {
		policy.MinExposures = 1
	}
	if policy.MaxRedHerringRatio < 0 || policy.MaxRedHerringRatio > 1 {
		policy.MaxRedHerringRatio = 0.3
	}

	patched := &models.StoryDraft{}
	if draft != nil {
		patched = draft.Clone()
	}
	ensureChapters(patched, 3)

	result := Result{Draft: patched, Outline: outline, Changes: []Change{}}

	must := mustForeshadowClues(outline)
	if len(must) == 0 {
		return result
	}

	// Chapter 1 seeding.
	ch1 := &patched.Chapters[0]
	inserted := 0
	for _, c := range must {
		if inserted >= policy.Ch1MinClues {
			break
		}
		if chapterMentions(ch1, c.normalized) {
			continue
		}
		appendClueMention(ch1, c.name)
		inserted++
		result.Changes = append(result.Changes, Change{Type: ChangeCh1Foreshadow, Clue: c.name, ChapterIndex: intPtr(0)})
	}

	// Exposure top-up into chapter 2, falling back to chapter 1 while the
	// clue has never appeared.
	ch2 := ch1
	if len(patched.Chapters) > 1 {
		ch2 = &patched.Chapters[1]
	}
	for _, c := range must {
		n := countExposures(patched, c.normalized)
		for attempts := 0; n < policy.MinExposures && attempts < maxExposureInsertions; attempts++ {
			target := ch2
			if n == 0 {
				target = ch1
			}
			appendClueMention(target, c.name)
			n = countExposures(patched, c.normalized)
			result.Changes = append(result.Changes, Change{
				Type: ChangeExposureBoost,
				Clue: c.name,
				Note: fmt.Sprintf("exposures=%d", n),
			})
		}
	}

	// Final-chapter recovery plus a closing summary paragraph.
	if policy.EnsureFinalRecovery {
		lastIdx := len(patched.Chapters) - 1
		final := &patched.Chapters[lastIdx]
		for _, c := range must {
			if ensureFinalRecovery(final, c) {
				result.Changes = append(result.Changes, Change{Type: ChangeFinalRecovery, Clue: c.name, ChapterIndex: intPtr(lastIdx)})
			}
		}
		appendCaseSummary(final, must)
	}

	if policy.AdjustOutlineExpectedChapters && outline != nil {
		adjusted := outline.Clone()
		if adjustExpectedChapters(adjusted, &result.Changes) {
			result.Outline = adjusted
		}
	}

	trimRedHerrings(patched, policy.MaxRedHerringRatio, policy.MaxRedHerringPerChapter, &result.Changes)
	injectTestimony(patched, outline, &result.Changes)

	return result
}

func mustForeshadowClues(outline *models.Outline) []mustClue {
	if outline == nil {
		return nil
	}
	var out []mustClue
	for _, c := range outline.ClueMatrix {
		if c.Clue == "" || !c.MustForeshadow {
			continue
		}
		out = append(out, mustClue{
			name:       c.Clue,
			normalized: normalizeClue(c.Clue),
			realMean:   strings.TrimSpace(c.RealMeaning),
		})
	}
	return out
}

func ensureChapters(draft *models.StoryDraft, target int) {
	for len(draft.Chapters) < target {
		idx := len(draft.Chapters) + 1
		draft.Chapters = append(draft.Chapters, models.Chapter{
			Title:               fmt.Sprintf("Chapter %d", idx),
			CluesEmbedded:       []string{},
			RedHerringsEmbedded: []string{},
		})
	}
}

func chapterMentions(ch *models.Chapter, normalizedClue string) bool {
	if strings.Contains(normalizeClue(ch.Content), normalizedClue) {
		return true
	}
	for _, tag := range ch.CluesEmbedded {
		if normalizeClue(tag) == normalizedClue {
			return true
		}
	}
	return false
}

// countExposures counts content mentions and tag entries separately, so
// one chapter can contribute two exposures for the same clue.
func countExposures(draft *models.StoryDraft, normalizedClue string) int {
	n := 0
	for i := range draft.Chapters {
		ch := &draft.Chapters[i]
		if strings.Contains(normalizeClue(ch.Content), normalizedClue) {
			n++
		}
		for _, tag := range ch.CluesEmbedded {
			if normalizeClue(tag) == normalizedClue {
				n++
				break
			}
		}
	}
	return n
}

func appendClueMention(ch *models.Chapter, clue string) {
	hint := fmt.Sprintf("侦探暗自记下：%s并非巧合。", clue)
	ch.Content = strings.TrimSpace(strings.TrimRight(ch.Content, " \t\n") + "\n" + hint)
	key := normalizeClue(clue)
	for _, tag := range ch.CluesEmbedded {
		if normalizeClue(tag) == key {
			return
		}
	}
	ch.CluesEmbedded = append(ch.CluesEmbedded, clue)
}

func ensureFinalRecovery(ch *models.Chapter, c mustClue) bool {
	changed := false
	if !strings.Contains(normalizeClue(ch.Content), c.normalized) {
		line := fmt.Sprintf("侦探在结语中解释：“%s 正是揭开谜底的关键。”", c.name)
		ch.Content = strings.TrimSpace(strings.TrimRight(ch.Content, " \t\n") + "\n" + line)
		changed = true
	}
	present := false
	for _, tag := range ch.CluesEmbedded {
		if normalizeClue(tag) == c.normalized {
			present = true
			break
		}
	}
	if !present {
		ch.CluesEmbedded = append(ch.CluesEmbedded, c.name)
		changed = true
	}
	return changed
}

const summaryMarker = "侦探总结本案："

func appendCaseSummary(ch *models.Chapter, must []mustClue) {
	if strings.Contains(ch.Content, summaryMarker) {
		return
	}
	lines := make([]string, len(must))
	for i, c := range must {
		meaning := c.realMean
		if meaning == "" {
			meaning = "揭示真相"
		}
		lines[i] = fmt.Sprintf("%s → %s", c.name, meaning)
	}
	paragraph := summaryMarker + strings.Join(lines, "；") + "。"
	ch.Content = strings.TrimSpace(strings.TrimRight(ch.Content, " \t\n") + "\n" + paragraph)
}

var allowedChapterLabels = map[string]struct{}{
	"Chapter 1": {},
	"Chapter 2": {},
	"Chapter 3": {},
}

func adjustExpectedChapters(outline *models.Outline, changes *[]Change) bool {
	adjusted := false
	for i := range outline.ClueMatrix {
		c := &outline.ClueMatrix[i]
		if c.Clue == "" || !c.MustForeshadow {
			continue
		}
		var next []string
		for _, label := range c.ExplicitForeshadowChapters {
			if _, ok := allowedChapterLabels[label]; ok {
				next = append(next, label)
			}
		}
		hasCh1 := false
		for _, label := range next {
			if label == "Chapter 1" {
				hasCh1 = true
				break
			}
		}
		if !hasCh1 {
			next = append(next, "Chapter 1")
		}
		if !equalStrings(c.ExplicitForeshadowChapters, next) {
			c.ExplicitForeshadowChapters = next
			*changes = append(*changes, Change{Type: ChangeAdjustChapters, Clue: c.Clue})
			adjusted = true
		}
	}
	return adjusted
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func signalStats(chapters []models.Chapter) (clues, reds int) {
	for i := range chapters {
		clues += len(chapters[i].CluesEmbedded)
		reds += len(chapters[i].RedHerringsEmbedded)
	}
	return clues, reds
}

func redHerringRatio(chapters []models.Chapter) float64 {
	clues, reds := signalStats(chapters)
	total := clues + reds
	if total == 0 {
		return 0
	}
	return float64(reds) / float64(total)
}

// trimRedHerrings pops red herrings from the most loaded chapter until
// the global ratio drops under the limit, then applies the optional
// per-chapter cap.
func trimRedHerrings(draft *models.StoryDraft, ratioLimit float64, perChapterLimit int, changes *[]Change) {
	for redHerringRatio(draft.Chapters) > ratioLimit {
		targetIdx := -1
		maxCount := 0
		for i := range draft.Chapters {
			if n := len(draft.Chapters[i].RedHerringsEmbedded); n > maxCount {
				maxCount = n
				targetIdx = i
			}
		}
		if targetIdx < 0 || maxCount == 0 {
			break
		}
		tags := draft.Chapters[targetIdx].RedHerringsEmbedded
		removed := tags[len(tags)-1]
		draft.Chapters[targetIdx].RedHerringsEmbedded = tags[:len(tags)-1]
		*changes = append(*changes, Change{Type: ChangeTrimRedHerring, Clue: removed, ChapterIndex: intPtr(targetIdx)})
	}

	if perChapterLimit >= 0 {
		for i := range draft.Chapters {
			tags := draft.Chapters[i].RedHerringsEmbedded
			if len(tags) > perChapterLimit {
				draft.Chapters[i].RedHerringsEmbedded = tags[:perChapterLimit]
				*changes = append(*changes, Change{
					Type:         ChangeTrimRedHerringCap,
					ChapterIndex: intPtr(i),
					Note:         fmt.Sprintf("cap=%d", perChapterLimit),
				})
			}
		}
	}
}

var testimonyRe = regexp.MustCompile(`证词|证言|证人|“`)

// injectTestimony plants a witness statement into each of the first two
// chapters that carry no testimony at all, so early chapters always
// give the reader something to interrogate.
func injectTestimony(draft *models.StoryDraft, outline *models.Outline, changes *[]Change) {
	if len(draft.Chapters) == 0 {
		return
	}
	witnesses := []string{"证人甲", "证人乙", "证人丙"}
	var clues []models.Clue
	if outline != nil {
		clues = outline.ClueMatrix
	}

	target := 2
	if len(draft.Chapters) < target {
		target = len(draft.Chapters)
	}
	for i := 0; i < target; i++ {
		ch := &draft.Chapters[i]
		if testimonyRe.MatchString(ch.Content) {
			continue
		}
		clue := "关键线索"
		if i < len(clues) && clues[i].Clue != "" {
			clue = clues[i].Clue
		} else if len(clues) > 0 && clues[0].Clue != "" {
			clue = clues[0].Clue
		}
		witness := "证人"
		if i < len(witnesses) {
			witness = witnesses[i]
		}
		line := fmt.Sprintf("“%s：我亲眼看到%s出现在案发前后。”侦探立即记录在案。", witness, clue)
		ch.Content = strings.TrimSpace(ch.Content + "\n" + line)
		key := normalizeClue(clue)
		present := false
		for _, tag := range ch.CluesEmbedded {
			if normalizeClue(tag) == key {
				present = true
				break
			}
		}
		if !present {
			ch.CluesEmbedded = append(ch.CluesEmbedded, clue)
		}
		*changes = append(*changes, Change{Type: ChangeTestimonyBoost, Clue: clue, ChapterIndex: intPtr(i)})
	}
}

func intPtr(v int) *int { return &v }
