package cluegraph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"storyapp/backend/pkg/models"
)

// Version tags the graph layout so persisted graphs can be migrated.
const Version = "clue-graph.v1"

// NodeKind classifies graph nodes.
type NodeKind string

const (
	KindClue       NodeKind = "clue"
	KindFact       NodeKind = "fact"
	KindInference  NodeKind = "inference"
	KindDenouement NodeKind = "denouement"
)

// ClueType distinguishes genuine clues from planted red herrings.
type ClueType string

const (
	ClueTrue       ClueType = "true"
	ClueRedHerring ClueType = "red_herring"
)

// Node is one element of the clue graph.
type Node struct {
	ID                      string   `json:"id"`
	Kind                    NodeKind `json:"kind"`
	Text                    string   `json:"text"`
	ChapterHint             int      `json:"chapterHint,omitempty"`
	VisibleBeforeDenouement bool     `json:"visibleBeforeDenouement"`
	Type                    ClueType `json:"type,omitempty"`
	SourceRef               string   `json:"sourceRef,omitempty"`
}

// Edge is a directed support relation between two nodes.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Rationale string `json:"rationale"`
}

// Graph is the evidence-support graph derived from an outline.
type Graph struct {
	Version string `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

var chapterIndexRe = regexp.MustCompile(`(\d+)`)

// parseChapterIndex extracts the first positive integer from a chapter
// label such as "第3章" or "Chapter 2".
func parseChapterIndex(label string) (int, bool) {
	match := chapterIndexRe.FindString(label)
	if match == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(match)
	if err != nil || idx <= 0 {
		return 0, false
	}
	return idx, true
}

func extractChapterHint(sources ...string) (int, bool) {
	for _, source := range sources {
		if source == "" {
			continue
		}
		if idx, ok := parseChapterIndex(source); ok {
			return idx, true
		}
	}
	return 0, false
}

// chapterCounters numbers nodes per chapter, with key 0 acting as the
// shared bucket for nodes that carry no chapter hint.
type chapterCounters map[int]int

func (c chapterCounters) next(chapterHint int) int {
	c[chapterHint]++
	return c[chapterHint]
}

func clueID(counter, chapterHint int) string {
	if chapterHint > 0 {
		return fmt.Sprintf("c:%d-%d", chapterHint, counter)
	}
	return fmt.Sprintf("c:g-%d", counter)
}

func factID(counter, chapterHint int) string {
	if chapterHint > 0 {
		return fmt.Sprintf("f:%d-%d", chapterHint, counter)
	}
	return fmt.Sprintf("f:g-%d", counter)
}

// inferenceID derives a stable id from the first 24 normalized characters
// so identical checklist entries hash identically across runs.
func inferenceID(text string, index int) string {
	normalized := []rune(normalizeForMatch(text))
	if len(normalized) == 0 {
		return fmt.Sprintf("i:%d", index+1)
	}
	if len(normalized) > 24 {
		normalized = normalized[:24]
	}
	var hash uint32
	for _, r := range normalized {
		hash = hash*31 + uint32(r)
	}
	return "i:" + strconv.FormatUint(uint64(hash), 36)
}

func safeText(text, fallback string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// Build derives the clue graph from an outline using the stock matcher.
func Build(outline *models.Outline) Graph {
	return BuildWith(outline, NewTextMatcher())
}

// BuildWith derives the clue graph using a caller-supplied matcher.
func BuildWith(outline *models.Outline, matcher Matcher) Graph {
	graph := Graph{Version: Version, Edges: []Edge{}}
	if outline == nil {
		graph.Nodes = []Node{}
		return graph
	}

	clueNodes, clueTexts := buildClueNodes(outline.ClueMatrix)
	factNodes, factTexts := buildFactNodes(outline.Timeline)
	inferenceNodes := buildInferenceNodes(outline.LogicChecklist)
	denouement, hasDenouement := buildDenouementNode(outline)

	seen := make(map[string]struct{})
	addEdge := func(from, to, rationale string) {
		key := from + "->" + to
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		graph.Edges = append(graph.Edges, Edge{From: from, To: to, Rationale: rationale})
	}

	for _, inference := range inferenceNodes {
		for i, node := range clueNodes {
			if signal, ok := matchAny(matcher, inference.Text, clueTexts[i]); ok {
				addEdge(node.ID, inference.ID, "clue-"+signal)
			}
		}
		for i, node := range factNodes {
			if signal, ok := matchAny(matcher, inference.Text, factTexts[i]); ok {
				addEdge(node.ID, inference.ID, "timeline-"+signal)
			}
		}
	}

	if hasDenouement {
		for _, inference := range inferenceNodes {
			addEdge(inference.ID, denouement.ID, "inference-conclusion")
		}
		for _, node := range clueNodes {
			addEdge(node.ID, denouement.ID, "reveal-support")
		}
		for _, node := range factNodes {
			addEdge(node.ID, denouement.ID, "reveal-support")
		}
	}

	graph.Nodes = make([]Node, 0, len(clueNodes)+len(factNodes)+len(inferenceNodes)+1)
	graph.Nodes = append(graph.Nodes, clueNodes...)
	graph.Nodes = append(graph.Nodes, factNodes...)
	graph.Nodes = append(graph.Nodes, inferenceNodes...)
	if hasDenouement {
		graph.Nodes = append(graph.Nodes, denouement)
	}
	return graph
}

func matchAny(matcher Matcher, target string, candidates []string) (string, bool) {
	for _, candidate := range candidates {
		if signal, ok := matcher.Match(target, candidate); ok {
			return signal, true
		}
	}
	return "", false
}

func buildClueNodes(clues []models.Clue) ([]Node, [][]string) {
	nodes := make([]Node, 0, len(clues))
	texts := make([][]string, 0, len(clues))
	counters := make(chapterCounters)
	for idx, clue := range clues {
		chapterHint, _ := extractChapterHint(clue.ExplicitForeshadowChapters...)
		counter := counters.next(chapterHint)
		clueType := ClueTrue
		if clue.IsRedHerring {
			clueType = ClueRedHerring
		}
		candidates := collectTexts(
			append([]string{clue.Clue, clue.SurfaceMeaning, clue.RealMeaning}, clue.ExplicitForeshadowChapters...),
		)
		nodes = append(nodes, Node{
			ID:                      clueID(counter, chapterHint),
			Kind:                    KindClue,
			Text:                    safeText(clue.Clue, fmt.Sprintf("线索 %d", idx+1)),
			ChapterHint:             chapterHint,
			VisibleBeforeDenouement: true,
			Type:                    clueType,
			SourceRef:               fmt.Sprintf("clueMatrix[%d]", idx),
		})
		texts = append(texts, candidates)
	}
	return nodes, texts
}

func buildFactNodes(timeline []models.TimelineEvent) ([]Node, [][]string) {
	nodes := make([]Node, 0, len(timeline))
	texts := make([][]string, 0, len(timeline))
	counters := make(chapterCounters)
	for idx, event := range timeline {
		chapterHint, _ := extractChapterHint(event.Time, event.Event)
		counter := counters.next(chapterHint)
		candidates := collectTexts(append([]string{event.Event, event.Time}, event.Participants...))
		nodes = append(nodes, Node{
			ID:                      factID(counter, chapterHint),
			Kind:                    KindFact,
			Text:                    safeText(event.Event, fmt.Sprintf("事实 %d", idx+1)),
			ChapterHint:             chapterHint,
			VisibleBeforeDenouement: true,
			SourceRef:               fmt.Sprintf("timeline[%d]", idx),
		})
		texts = append(texts, candidates)
	}
	return nodes, texts
}

func buildInferenceNodes(checklist []string) []Node {
	nodes := make([]Node, 0, len(checklist))
	for idx, item := range checklist {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		nodes = append(nodes, Node{
			ID:                      inferenceID(trimmed, idx),
			Kind:                    KindInference,
			Text:                    trimmed,
			VisibleBeforeDenouement: true,
			SourceRef:               fmt.Sprintf("logicChecklist[%d]", idx),
		})
	}
	return nodes
}

func buildDenouementNode(outline *models.Outline) (Node, bool) {
	var summary, mechanism string
	if outline.CentralTrick != nil {
		summary = strings.TrimSpace(outline.CentralTrick.Summary)
		mechanism = strings.TrimSpace(outline.CentralTrick.Mechanism)
	}
	basis := summary
	if basis == "" {
		basis = mechanism
	}
	if basis == "" {
		return Node{}, false
	}
	return Node{
		ID:                      "d:final",
		Kind:                    KindDenouement,
		Text:                    basis,
		VisibleBeforeDenouement: false,
		SourceRef:               "centralTrick",
	}, true
}

func collectTexts(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, text := range raw {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
