package services

import (
	"fmt"
	"strings"

	"storyapp/backend/pkg/models"
)

// ValidateOutline runs the structural checks on a generated outline and
// returns machine-readable problem codes. An empty slice means the
// outline is structurally usable; downstream rules judge its quality.
func ValidateOutline(outline *models.Outline) []string {
	if outline == nil {
		return []string{"outline_missing"}
	}
	var problems []string
	if outline.CentralTrick == nil ||
		strings.TrimSpace(outline.CentralTrick.Summary) == "" ||
		strings.TrimSpace(outline.CentralTrick.Mechanism) == "" {
		problems = append(problems, "central_trick_incomplete")
	}
	if len(outline.Characters) == 0 {
		problems = append(problems, "characters_missing")
	}
	if len(outline.Acts) == 0 {
		problems = append(problems, "acts_missing")
	}
	if len(outline.ClueMatrix) == 0 {
		problems = append(problems, "clue_matrix_empty")
	} else {
		for i, clue := range outline.ClueMatrix {
			if strings.TrimSpace(clue.Clue) == "" {
				problems = append(problems, fmt.Sprintf("clue_%d_name_empty", i+1))
			}
		}
	}
	if len(outline.Timeline) == 0 {
		problems = append(problems, "timeline_empty")
	}
	return problems
}

// ValidateChapter runs the structural checks on one generated chapter.
func ValidateChapter(ch *models.Chapter, index int) []string {
	var problems []string
	if ch == nil {
		return []string{fmt.Sprintf("chapter_%d_missing", index+1)}
	}
	if strings.TrimSpace(ch.Title) == "" {
		problems = append(problems, fmt.Sprintf("chapter_%d_title_missing", index+1))
	}
	if strings.TrimSpace(ch.Content) == "" {
		problems = append(problems, fmt.Sprintf("chapter_%d_content_empty", index+1))
	}
	return problems
}

// ValidateDraft checks a whole draft, chapter by chapter.
func ValidateDraft(draft *models.StoryDraft) []string {
	if draft == nil {
		return []string{"draft_missing"}
	}
	if len(draft.Chapters) == 0 {
		return []string{"chapters_empty"}
	}
	var problems []string
	for i := range draft.Chapters {
		problems = append(problems, ValidateChapter(&draft.Chapters[i], i)...)
	}
	return problems
}
