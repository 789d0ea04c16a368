// Package harmonizer reconciles a story outline with the draft that was
// actually written: clue exposure chapters, timeline normalization and
// mechanism vocabulary are all brought back in sync.
package harmonizer

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"storyapp/backend/pkg/models"
)

// baseTimeSlots are the fallback clock times handed out to timeline
// events that carry no parseable time, cycled in order with the day
// incrementing every full cycle.
var baseTimeSlots = []string{
	"19:00", "20:20", "21:40", "22:55", "00:30",
	"02:10", "06:35", "10:15", "15:20", "19:45",
}

// ClueMapping records where a clue actually surfaced in the draft.
type ClueMapping struct {
	Clue     string   `json:"clue"`
	Chapters []string `json:"chapters"`
}

// Meta summarizes what the harmonizer changed, for telemetry.
type Meta struct {
	ClueMappings              []ClueMapping `json:"clueMappings"`
	TimelineAdded             int           `json:"timelineAdded"`
	TimelineNormalized        int           `json:"timelineNormalized"`
	MechanismKeywordsAppended []string      `json:"mechanismKeywordsAppended"`
	GeneratedClues            []string      `json:"generatedClues"`
	ChapterAnchorsGenerated   int           `json:"chapterAnchorsGenerated"`
	ChapterAnchorsPatched     int           `json:"chapterAnchorsPatched"`
}

// Result carries the harmonized outline copy and the change summary.
type Result struct {
	Outline *models.Outline `json:"outline"`
	Meta    Meta            `json:"meta"`
}

// Options tunes the harmonization pass.
type Options struct {
	// SkipMechanismKeywords disables the mechanism vocabulary top-up.
	SkipMechanismKeywords bool
	// MechanismKeywords overrides the taxonomy-derived keyword set.
	MechanismKeywords []string
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	dayRe        = regexp.MustCompile(`(?i)Day\s*\d+`)
	hhmmRe       = regexp.MustCompile(`(\d{1,2}):([0-5]\d)`)
	chapterRe    = regexp.MustCompile(`(?i)Chapter\s+(\d+)`)
	canonicalRe  = regexp.MustCompile(`(?i)Day(\d+)\s+(\d{1,2}):(\d{2})`)
	leadTrimRe   = regexp.MustCompile(`^[，,。\s:：\-—~·]+`)
	digitsRe     = regexp.MustCompile(`(\d+)`)
	sentenceRe   = regexp.MustCompile(`[。！？!?]`)
)

func normalizeClue(value string) string {
	return strings.ToLower(whitespaceRe.ReplaceAllString(value, ""))
}

// Harmonize runs the full outline-draft reconciliation. The input
// outline is never mutated; the result holds a patched deep copy.
func Harmonize(outline *models.Outline, draft *models.StoryDraft, opts Options) Result {
	patched := outline.Clone()
	if patched == nil {
		patched = &models.Outline{}
	}
	var chapters []models.Chapter
	if draft != nil {
		chapters = draft.Chapters
	}
	chapterLabels := make([]string, len(chapters))
	for i := range chapters {
		chapterLabels[i] = fmt.Sprintf("Chapter %d", i+1)
	}

	meta := Meta{
		ClueMappings:              []ClueMapping{},
		MechanismKeywordsAppended: []string{},
		GeneratedClues:            []string{},
	}

	if len(patched.ClueMatrix) > 0 && len(chapters) > 0 {
		resyncClueChapters(patched, chapters, chapterLabels, &meta)
	} else if len(patched.ClueMatrix) == 0 && len(chapters) > 0 {
		synthesizeClueMatrix(patched, chapters, chapterLabels, &meta)
	}

	originalTimelineLen := len(patched.Timeline)
	timeline, normalizedCount := normalizeTimeline(patched.Timeline)
	timeline, mined := mergeTextualTimes(timeline, chapters)
	meta.TimelineNormalized = normalizedCount + mined
	patched.Timeline = ensureChapterCoverage(timeline, chapters)
	if added := len(patched.Timeline) - originalTimelineLen; added > 0 {
		meta.TimelineAdded = added
	}

	syncChapterAnchors(patched, chapters, &meta)

	if !opts.SkipMechanismKeywords {
		meta.MechanismKeywordsAppended = ensureMechanismKeywords(patched, opts.MechanismKeywords)
	}

	return Result{Outline: patched, Meta: meta}
}

// resyncClueChapters recomputes each clue's actual exposure chapters by
// scanning draft content and embedded tags, falling back to the declared
// chapters sanitized against the real chapter set.
func resyncClueChapters(outline *models.Outline, chapters []models.Chapter, labels []string, meta *Meta) {
	for i := range outline.ClueMatrix {
		clue := &outline.ClueMatrix[i]
		if clue.Clue == "" {
			continue
		}
		normalized := normalizeClue(clue.Clue)
		var exposures []string
		for idx := range chapters {
			if chapterExposes(&chapters[idx], normalized) {
				exposures = append(exposures, labels[idx])
			}
		}
		if len(exposures) > 0 {
			meta.ClueMappings = append(meta.ClueMappings, ClueMapping{Clue: clue.Clue, Chapters: exposures})
			clue.ExplicitForeshadowChapters = exposures
			continue
		}
		clue.ExplicitForeshadowChapters = sanitizeChapterList(clue.ExplicitForeshadowChapters, labels)
	}
}

func chapterExposes(ch *models.Chapter, normalizedClue string) bool {
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

func sanitizeChapterList(declared, valid []string) []string {
	validSet := make(map[string]struct{}, len(valid))
	for _, label := range valid {
		validSet[label] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, label := range declared {
		if _, ok := validSet[label]; !ok {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	if len(out) > 0 {
		return out
	}
	if len(valid) > 0 {
		return []string{"Chapter 1"}
	}
	return nil
}

// synthesizeClueMatrix builds a clue matrix from the draft's embedded
// tags when the outline never declared one, inferring the act number
// proportionally from the clue's first chapter.
func synthesizeClueMatrix(outline *models.Outline, chapters []models.Chapter, labels []string, meta *Meta) {
	type entry struct {
		clue       string
		firstIndex int
		chapters   []string
	}
	var order []string
	byKey := make(map[string]*entry)
	for idx := range chapters {
		for _, raw := range chapters[idx].CluesEmbedded {
			key := normalizeClue(raw)
			if key == "" {
				continue
			}
			e, ok := byKey[key]
			if !ok {
				e = &entry{clue: raw, firstIndex: idx}
				byKey[key] = e
				order = append(order, key)
			}
			label := labels[idx]
			dup := false
			for _, existing := range e.chapters {
				if existing == label {
					dup = true
					break
				}
			}
			if !dup {
				e.chapters = append(e.chapters, label)
			}
		}
	}
	if len(order) == 0 {
		return
	}
	actCount := len(outline.Acts)
	if actCount == 0 {
		actCount = 3
	}
	guessAct := func(chapterIndex int) int {
		act := int(math.Ceil(float64(chapterIndex+1) / float64(len(chapters)) * float64(actCount)))
		if act < 1 {
			act = 1
		}
		if act > actCount {
			act = actCount
		}
		return act
	}
	outline.ClueMatrix = make([]models.Clue, 0, len(order))
	for _, key := range order {
		e := byKey[key]
		meta.GeneratedClues = append(meta.GeneratedClues, e.clue)
		outline.ClueMatrix = append(outline.ClueMatrix, models.Clue{
			Clue:                       e.clue,
			AppearsAtAct:               guessAct(e.firstIndex),
			MustForeshadow:             true,
			ExplicitForeshadowChapters: e.chapters,
		})
	}
}

// extractHHMM pulls the first clock time out of a string, zero-padded.
func extractHHMM(value string) (string, bool) {
	match := hhmmRe.FindStringSubmatch(value)
	if match == nil {
		return "", false
	}
	hh := match[1]
	if len(hh) == 1 {
		hh = "0" + hh
	}
	return hh + ":" + match[2], true
}

// normalizeTimeline rewrites every event time to canonical "DayN HH:MM",
// assigning fallback slots cyclically and bumping the day each cycle.
// The count of events whose time changed is returned.
func normalizeTimeline(timeline []models.TimelineEvent) ([]models.TimelineEvent, int) {
	out := make([]models.TimelineEvent, len(timeline))
	changed := 0
	for idx, event := range timeline {
		hhmm, ok := extractHHMM(event.Time)
		if !ok {
			hhmm = baseTimeSlots[idx%len(baseTimeSlots)]
		}
		day := idx/len(baseTimeSlots) + 1
		canonical := fmt.Sprintf("Day%d %s", day, hhmm)
		if canonical != event.Time {
			changed++
		}
		event.Time = canonical
		out[idx] = event
	}
	return out, changed
}

// mergeTextualTimes mines chapter prose for clock times the timeline
// does not know yet and appends a synthetic event per novel time.
func mergeTextualTimes(timeline []models.TimelineEvent, chapters []models.Chapter) ([]models.TimelineEvent, int) {
	events := timeline
	known := make(map[string]struct{})
	for _, event := range events {
		if hhmm, ok := extractHHMM(event.Time); ok {
			known[hhmm] = struct{}{}
		}
	}
	added := 0
	for idx := range chapters {
		for _, hhmm := range extractTimesFromText(chapters[idx].Content) {
			if _, ok := known[hhmm]; ok {
				continue
			}
			day := len(events)/len(baseTimeSlots) + 1
			events = append(events, models.TimelineEvent{
				Time:         fmt.Sprintf("Day%d %s", day, hhmm),
				Event:        fmt.Sprintf("正文提及 %s", hhmm),
				Participants: []string{fmt.Sprintf("Chapter %d", idx+1)},
			})
			known[hhmm] = struct{}{}
			added++
		}
	}
	return events, added
}

func extractTimesFromText(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, match := range hhmmRe.FindAllStringSubmatch(text, -1) {
		hh := match[1]
		if len(hh) == 1 {
			hh = "0" + hh
		}
		hhmm := hh + ":" + match[2]
		if _, dup := seen[hhmm]; dup {
			continue
		}
		seen[hhmm] = struct{}{}
		out = append(out, hhmm)
	}
	return out
}

// ensureChapterCoverage makes sure every chapter is referenced by at
// least one timeline event, then sorts everything chronologically.
func ensureChapterCoverage(timeline []models.TimelineEvent, chapters []models.Chapter) []models.TimelineEvent {
	events := timeline
	if len(chapters) > 0 {
		covered := make(map[string]struct{})
		for _, event := range events {
			for _, p := range event.Participants {
				covered[p] = struct{}{}
			}
			if match := chapterRe.FindStringSubmatch(event.Event); match != nil {
				n, _ := strconv.Atoi(match[1])
				covered[fmt.Sprintf("Chapter %d", n)] = struct{}{}
			}
		}
		for idx := range chapters {
			label := fmt.Sprintf("Chapter %d", idx+1)
			if _, ok := covered[label]; ok {
				continue
			}
			slot := baseTimeSlots[idx%len(baseTimeSlots)]
			day := len(events)/len(baseTimeSlots) + 1
			events = append(events, models.TimelineEvent{
				Time:         fmt.Sprintf("Day%d %s", day, slot),
				Event:        fmt.Sprintf("%s 场景推进", label),
				Participants: []string{label},
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return timelineMinutes(events[i].Time) < timelineMinutes(events[j].Time)
	})
	return events
}

// timelineMinutes converts canonical "DayN HH:MM" to absolute minutes;
// unparseable times sort last.
func timelineMinutes(value string) int {
	match := canonicalRe.FindStringSubmatch(value)
	if match == nil {
		return math.MaxInt32
	}
	day, _ := strconv.Atoi(match[1])
	hour, _ := strconv.Atoi(match[2])
	minute, _ := strconv.Atoi(match[3])
	return day*24*60 + hour*60 + minute
}

// syncChapterAnchors mines each chapter's text for day/time markers and
// either creates a missing anchor or backfills empty fields of an
// existing one.
func syncChapterAnchors(outline *models.Outline, chapters []models.Chapter, meta *Meta) {
	anchors := make(map[int]*models.ChapterAnchor)
	for i := range outline.ChapterAnchors {
		anchor := outline.ChapterAnchors[i]
		idx, ok := parseChapterOrdinal(anchor.Chapter)
		if !ok {
			continue
		}
		anchor.Chapter = fmt.Sprintf("Chapter %d", idx+1)
		copied := anchor
		anchors[idx] = &copied
	}

	for idx := range chapters {
		existing := anchors[idx]
		derived, ok := deriveChapterAnchor(idx, &chapters[idx], existing)
		if !ok {
			continue
		}
		if existing == nil {
			anchors[idx] = &derived
			meta.ChapterAnchorsGenerated++
			continue
		}
		patched := false
		if existing.DayCode == "" && derived.DayCode != "" {
			existing.DayCode = derived.DayCode
			patched = true
		}
		if existing.Time == "" && derived.Time != "" {
			existing.Time = derived.Time
			patched = true
		}
		if existing.Label == "" && derived.Label != "" {
			existing.Label = derived.Label
			patched = true
		}
		if existing.Summary == "" && derived.Summary != "" {
			existing.Summary = derived.Summary
			patched = true
		}
		if patched {
			meta.ChapterAnchorsPatched++
		}
	}

	if len(anchors) == 0 {
		return
	}
	indices := make([]int, 0, len(anchors))
	for idx := range anchors {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	outline.ChapterAnchors = make([]models.ChapterAnchor, 0, len(indices))
	for _, idx := range indices {
		outline.ChapterAnchors = append(outline.ChapterAnchors, *anchors[idx])
	}
}

func parseChapterOrdinal(label string) (int, bool) {
	match := digitsRe.FindString(label)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

func deriveChapterAnchor(index int, ch *models.Chapter, fallback *models.ChapterAnchor) (models.ChapterAnchor, bool) {
	scope := ch.Summary + "\n" + ch.Content
	dayCode := whitespaceRe.ReplaceAllString(dayRe.FindString(scope), "")
	timeCode, _ := extractHHMM(scope)
	if dayCode == "" && fallback != nil {
		dayCode = fallback.DayCode
	}
	if timeCode == "" && fallback != nil {
		timeCode = fallback.Time
	}
	if dayCode == "" && timeCode == "" && fallback == nil {
		return models.ChapterAnchor{}, false
	}

	firstLine := strings.TrimSpace(ch.Content)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	cleaned := dayRe.ReplaceAllString(firstLine, "")
	cleaned = hhmmRe.ReplaceAllString(cleaned, "")
	cleaned = leadTrimRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(sentenceRe.Split(cleaned, 2)[0])

	anchor := models.ChapterAnchor{
		Chapter: fmt.Sprintf("Chapter %d", index+1),
		DayCode: dayCode,
		Time:    timeCode,
		Label:   cleaned,
	}
	if fallback != nil {
		if fallback.Chapter != "" {
			anchor.Chapter = fallback.Chapter
		}
		if fallback.Label != "" {
			anchor.Label = fallback.Label
		}
		anchor.Summary = fallback.Summary
	}
	if anchor.Summary == "" && ch.Summary != "" {
		summary := ch.Summary
		if i := strings.IndexByte(summary, '\n'); i >= 0 {
			summary = summary[:i]
		}
		anchor.Summary = strings.TrimSpace(summary)
	}
	return anchor, true
}

// ensureMechanismKeywords classifies the central trick against the
// mechanism taxonomy and appends any missing required vocabulary,
// returning the words that were appended.
func ensureMechanismKeywords(outline *models.Outline, overrides []string) []string {
	if outline.CentralTrick == nil {
		outline.CentralTrick = &models.CentralTrick{}
	}
	central := outline.CentralTrick
	mechanism := central.Mechanism
	if mechanism == "" {
		mechanism = central.Summary
	}

	var sourceKeywords []string
	if len(overrides) > 0 {
		sourceKeywords = overrides
	} else {
		var source strings.Builder
		source.WriteString(central.Summary)
		source.WriteString(central.Mechanism)
		for _, c := range outline.ClueMatrix {
			source.WriteString(c.Clue)
		}
		text := source.String()
		for _, preset := range models.MechanismPresets {
			group := models.MechanismGroups[preset.ValidatorGroup]
			matched := false
			for _, trigger := range group.Triggers {
				if strings.Contains(text, trigger) {
					matched = true
					break
				}
			}
			if matched {
				sourceKeywords = group.Requires
				break
			}
		}
		if sourceKeywords == nil {
			sourceKeywords = fallbackMechanismKeywords(6)
		}
	}

	var missing []string
	for _, keyword := range sourceKeywords {
		if keyword != "" && !strings.Contains(mechanism, keyword) {
			missing = append(missing, keyword)
		}
	}
	if len(missing) == 0 {
		return []string{}
	}

	suffix := "关键要素补充：" + strings.Join(missing, "、") + "。"
	base := strings.TrimSpace(mechanism)
	if base == "" {
		central.Mechanism = suffix
	} else if strings.HasSuffix(base, "。") {
		central.Mechanism = base + suffix
	} else {
		central.Mechanism = base + "。" + suffix
	}
	return missing
}

// fallbackMechanismKeywords flattens the taxonomy's vocabulary in preset
// order and returns the first n distinct words.
func fallbackMechanismKeywords(n int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, preset := range models.MechanismPresets {
		group := models.MechanismGroups[preset.ValidatorGroup]
		for _, word := range append(append([]string{}, group.Requires...), group.Triggers...) {
			if _, dup := seen[word]; dup {
				continue
			}
			seen[word] = struct{}{}
			out = append(out, word)
			if len(out) >= n {
				return out
			}
		}
	}
	return out
}
