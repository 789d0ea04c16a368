package models

import "time"

// RuleStatus is the outcome of a single structural validation rule.
type RuleStatus string

const (
	RulePass RuleStatus = "pass"
	RuleWarn RuleStatus = "warn"
	RuleFail RuleStatus = "fail"
)

// RuleDetail is a human-readable finding attached to a rule result.
type RuleDetail struct {
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// RuleResult is the outcome of one validation rule.
type RuleResult struct {
	RuleID  string       `json:"ruleId"`
	Status  RuleStatus   `json:"status"`
	Details []RuleDetail `json:"details,omitempty"`
}

// ValidationSummary counts rule outcomes by status.
type ValidationSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// ValidationReport is the structural validator output persisted after the
// validation stage.
type ValidationReport struct {
	GeneratedAt time.Time          `json:"generatedAt"`
	OutlineID   string             `json:"outlineId,omitempty"`
	StoryID     string             `json:"storyId,omitempty"`
	Results     []RuleResult       `json:"results"`
	Summary     *ValidationSummary `json:"summary,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// Summarize recomputes the pass/warn/fail counters from Results.
func (r *ValidationReport) Summarize() {
	summary := ValidationSummary{}
	for _, res := range r.Results {
		switch res.Status {
		case RulePass:
			summary.Pass++
		case RuleWarn:
			summary.Warn++
		case RuleFail:
			summary.Fail++
		}
	}
	r.Summary = &summary
}
