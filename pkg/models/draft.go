package models

// Chapter is one prose chapter plus its structured clue tags.
type Chapter struct {
	Title               string   `json:"title"`
	Summary             string   `json:"summary,omitempty"`
	WordCount           int      `json:"wordCount,omitempty"`
	Content             string   `json:"content"`
	CluesEmbedded       []string `json:"cluesEmbedded,omitempty"`
	RedHerringsEmbedded []string `json:"redHerringsEmbedded,omitempty"`
}

// StoryDraft is the writing stage output.
type StoryDraft struct {
	Chapters         []Chapter `json:"chapters"`
	OverallWordCount int       `json:"overallWordCount,omitempty"`
	NarrativeStyle   string    `json:"narrativeStyle,omitempty"`
	ContinuityNotes  []string  `json:"continuityNotes,omitempty"`
	RevisionNotes    []string  `json:"revisionNotes,omitempty"`
}

// Clone returns a deep copy of the draft.
func (d *StoryDraft) Clone() *StoryDraft {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Chapters = make([]Chapter, len(d.Chapters))
	for i, ch := range d.Chapters {
		ch.CluesEmbedded = append([]string(nil), ch.CluesEmbedded...)
		ch.RedHerringsEmbedded = append([]string(nil), ch.RedHerringsEmbedded...)
		cp.Chapters[i] = ch
	}
	cp.ContinuityNotes = append([]string(nil), d.ContinuityNotes...)
	cp.RevisionNotes = append([]string(nil), d.RevisionNotes...)
	return &cp
}
