// Package models defines the domain models for the story workflow service.
package models

// CentralTrick describes the core mystery device of an outline.
type CentralTrick struct {
	Summary       string   `json:"summary,omitempty"`
	Mechanism     string   `json:"mechanism,omitempty"`
	FairnessNotes []string `json:"fairnessNotes,omitempty"`
}

// CaseSetup captures the initial crime scene framing.
type CaseSetup struct {
	Victim         string `json:"victim,omitempty"`
	CrimeScene     string `json:"crimeScene,omitempty"`
	InitialMystery string `json:"initialMystery,omitempty"`
}

// Character is a cast member of the outline.
type Character struct {
	Name    string   `json:"name"`
	Role    string   `json:"role"`
	Motive  string   `json:"motive,omitempty"`
	Secrets []string `json:"secrets,omitempty"`
}

// ActBeat is a single beat inside an act.
type ActBeat struct {
	Beat          int      `json:"beat"`
	Summary       string   `json:"summary"`
	CluesRevealed []string `json:"cluesRevealed,omitempty"`
	RedHerring    string   `json:"redHerring,omitempty"`
}

// Act groups beats under one narrative movement.
type Act struct {
	Act   int       `json:"act"`
	Focus string    `json:"focus"`
	Beats []ActBeat `json:"beats,omitempty"`
}

// Clue is one entry of the outline's clue matrix.
type Clue struct {
	Clue                       string   `json:"clue"`
	SurfaceMeaning             string   `json:"surfaceMeaning,omitempty"`
	RealMeaning                string   `json:"realMeaning,omitempty"`
	AppearsAtAct               int      `json:"appearsAtAct,omitempty"`
	MustForeshadow             bool     `json:"mustForeshadow,omitempty"`
	ExplicitForeshadowChapters []string `json:"explicitForeshadowChapters,omitempty"`
	IsRedHerring               bool     `json:"isRedHerring,omitempty"`
}

// TimelineEvent is one event on the outline timeline. Time uses the
// canonical "DayN HH:MM" form after harmonization.
type TimelineEvent struct {
	Time         string   `json:"time"`
	Event        string   `json:"event"`
	Participants []string `json:"participants,omitempty"`
}

// ChapterAnchor pins a chapter to a day/time label mined from its text.
type ChapterAnchor struct {
	Chapter string `json:"chapter"`
	DayCode string `json:"dayCode,omitempty"`
	Time    string `json:"time,omitempty"`
	Label   string `json:"label,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Outline is the structured story blueprint produced by the planning stage.
type Outline struct {
	CentralTrick   *CentralTrick   `json:"centralTrick,omitempty"`
	CaseSetup      *CaseSetup      `json:"caseSetup,omitempty"`
	Characters     []Character     `json:"characters,omitempty"`
	Acts           []Act           `json:"acts,omitempty"`
	ClueMatrix     []Clue          `json:"clueMatrix,omitempty"`
	Timeline       []TimelineEvent `json:"timeline,omitempty"`
	ChapterAnchors []ChapterAnchor `json:"chapterAnchors,omitempty"`
	Themes         []string        `json:"themes,omitempty"`
	LogicChecklist []string        `json:"logicChecklist,omitempty"`
}

// Clone returns a deep copy of the outline so corrective passes can patch
// it without mutating the caller's copy.
func (o *Outline) Clone() *Outline {
	if o == nil {
		return nil
	}
	cp := *o
	if o.CentralTrick != nil {
		trick := *o.CentralTrick
		trick.FairnessNotes = append([]string(nil), o.CentralTrick.FairnessNotes...)
		cp.CentralTrick = &trick
	}
	if o.CaseSetup != nil {
		setup := *o.CaseSetup
		cp.CaseSetup = &setup
	}
	cp.Characters = make([]Character, len(o.Characters))
	for i, c := range o.Characters {
		c.Secrets = append([]string(nil), c.Secrets...)
		cp.Characters[i] = c
	}
	cp.Acts = make([]Act, len(o.Acts))
	for i, a := range o.Acts {
		beats := make([]ActBeat, len(a.Beats))
		for j, b := range a.Beats {
			b.CluesRevealed = append([]string(nil), b.CluesRevealed...)
			beats[j] = b
		}
		a.Beats = beats
		cp.Acts[i] = a
	}
	cp.ClueMatrix = make([]Clue, len(o.ClueMatrix))
	for i, c := range o.ClueMatrix {
		c.ExplicitForeshadowChapters = append([]string(nil), c.ExplicitForeshadowChapters...)
		cp.ClueMatrix[i] = c
	}
	cp.Timeline = make([]TimelineEvent, len(o.Timeline))
	for i, e := range o.Timeline {
		e.Participants = append([]string(nil), e.Participants...)
		cp.Timeline[i] = e
	}
	cp.ChapterAnchors = append([]ChapterAnchor(nil), o.ChapterAnchors...)
	cp.Themes = append([]string(nil), o.Themes...)
	cp.LogicChecklist = append([]string(nil), o.LogicChecklist...)
	return &cp
}
