package cluegraph

import "math"

// FairPlayReport summarizes whether the reader had a fair chance: every
// inference must trace back to evidence visible before the reveal, and
// clues that support nothing waste the reader's attention.
type FairPlayReport struct {
	UnsupportedInferences []string `json:"unsupportedInferences"`
	OrphanClues           []string `json:"orphanClues"`
	EconomyScore          float64  `json:"economyScore"`
}

// ScoreFairPlay analyses a clue graph. An inference counts as supported
// only when at least one incoming edge originates from a node that is
// visible before the denouement and is not the denouement itself.
func ScoreFairPlay(graph Graph) FairPlayReport {
	nodeByID := make(map[string]Node, len(graph.Nodes))
	for _, node := range graph.Nodes {
		nodeByID[node.ID] = node
	}
	incoming := make(map[string][]Edge)
	outgoing := make(map[string][]Edge)
	for _, edge := range graph.Edges {
		incoming[edge.To] = append(incoming[edge.To], edge)
		outgoing[edge.From] = append(outgoing[edge.From], edge)
	}

	report := FairPlayReport{
		UnsupportedInferences: []string{},
		OrphanClues:           []string{},
	}

	totalClues := 0
	cluesWithEdges := 0
	for _, node := range graph.Nodes {
		switch node.Kind {
		case KindInference:
			if !hasVisibleSupport(incoming[node.ID], nodeByID) {
				report.UnsupportedInferences = append(report.UnsupportedInferences, node.ID)
			}
		case KindClue:
			totalClues++
			if len(outgoing[node.ID]) > 0 {
				cluesWithEdges++
			} else {
				report.OrphanClues = append(report.OrphanClues, node.ID)
			}
		}
	}

	if totalClues > 0 {
		report.EconomyScore = math.Round(float64(cluesWithEdges)/float64(totalClues)*100) / 100
	} else {
		report.EconomyScore = 1
	}
	return report
}

func hasVisibleSupport(edges []Edge, nodeByID map[string]Node) bool {
	for _, edge := range edges {
		source, ok := nodeByID[edge.From]
		if ok && source.VisibleBeforeDenouement && source.Kind != KindDenouement {
			return true
		}
	}
	return false
}
