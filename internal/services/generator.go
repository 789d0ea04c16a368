package services

import (
	"context"

	"storyapp/backend/pkg/models"
)

// PromptOptions carries per-workflow generation knobs through the
// pipeline. The mechanism preset steers the central trick toward one of
// the device families so repeated runs do not converge on a single trope.
type PromptOptions struct {
	Locale          string
	Mechanism       models.MechanismPreset
	TargetChapters  int
	WordsPerChapter int
}

// Generator produces the model-backed artifacts of a workflow run. The
// orchestrator only depends on this interface; the DeepSeek client is the
// production implementation and tests substitute stubs.
type Generator interface {
	// Plan produces the structured story blueprint for a topic.
	Plan(ctx context.Context, topic string, opts PromptOptions) (*models.Outline, error)
	// Write produces the chapter draft for an outline.
	Write(ctx context.Context, outline *models.Outline, opts PromptOptions) (*models.StoryDraft, error)
	// Review produces the free-form editorial review of a draft.
	Review(ctx context.Context, outline *models.Outline, draft *models.StoryDraft, opts PromptOptions) (map[string]any, error)
}
