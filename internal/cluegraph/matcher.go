package cluegraph

import (
	"regexp"
	"strings"
	"unicode"
)

// Matcher decides whether a candidate text supports a target text and
// reports which signal family fired.
type Matcher interface {
	Match(target, candidate string) (signal string, ok bool)
}

// Signal families reported by the default matcher.
const (
	SignalSubstring = "substring"
	SignalCommonRun = "common-substring"
	SignalTokens    = "token-overlap"
	SignalPrefix    = "prefix"
)

var (
	strippedRunes = "　、，。；：,.!?！？"
	cjkTokenRe    = regexp.MustCompile(`\p{Han}{2,6}`)
	latinTokenRe  = regexp.MustCompile(`[a-zA-Z]{4,}`)
	timeTokenRe   = regexp.MustCompile(`\d{1,2}:\d{2}`)
)

// normalizeForMatch lower-cases and strips whitespace plus common ASCII
// and CJK punctuation so surface formatting differences do not break
// support detection.
func normalizeForMatch(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if unicode.IsSpace(r) || strings.ContainsRune(strippedRunes, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TextMatcher is the default three-signal support matcher: substring
// containment, longest-common-substring ratio, and token Jaccard overlap,
// with a prefix fallback on the raw texts.
type TextMatcher struct {
	// MinRunRatio is the longest-common-substring length threshold as a
	// fraction of the shorter normalized string.
	MinRunRatio float64
	// MinJaccard is the token-set Jaccard threshold.
	MinJaccard float64
	// PrefixLen bounds the raw-text fallback comparison.
	PrefixLen int
}

// NewTextMatcher returns a matcher with the stock thresholds.
func NewTextMatcher() *TextMatcher {
	return &TextMatcher{MinRunRatio: 0.45, MinJaccard: 0.35, PrefixLen: 24}
}

// Match reports whether candidate supports target and which signal fired.
func (m *TextMatcher) Match(target, candidate string) (string, bool) {
	normTarget := normalizeForMatch(target)
	normCand := normalizeForMatch(candidate)
	if normTarget == "" || normCand == "" {
		return "", false
	}
	if strings.Contains(normTarget, normCand) || strings.Contains(normCand, normTarget) {
		return SignalSubstring, true
	}
	if m.commonRunMatches(normTarget, normCand) {
		return SignalCommonRun, true
	}
	if tokenJaccard(normTarget, normCand) >= m.MinJaccard {
		return SignalTokens, true
	}
	// Fallback: containment and common-run checks on just the raw
	// prefixes, so long texts sharing an opening still connect.
	prefTarget := normalizeForMatch(runePrefix(target, m.PrefixLen))
	prefCand := normalizeForMatch(runePrefix(candidate, m.PrefixLen))
	if prefTarget != "" && prefCand != "" {
		if strings.Contains(prefTarget, prefCand) || strings.Contains(prefCand, prefTarget) {
			return SignalPrefix, true
		}
		if m.commonRunMatches(prefTarget, prefCand) {
			return SignalPrefix, true
		}
	}
	return "", false
}

func (m *TextMatcher) commonRunMatches(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	shorter := len(ra)
	if len(rb) < shorter {
		shorter = len(rb)
	}
	if shorter == 0 {
		return false
	}
	run := longestCommonRun(ra, rb)
	return float64(run) >= m.MinRunRatio*float64(shorter)
}

// longestCommonRun computes the longest common substring length over
// rune slices with a rolling single-row table.
func longestCommonRun(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return best
}

// extractTokens pulls CJK runs of two to six characters, Latin words of
// four or more letters, and HH:MM time literals.
func extractTokens(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range cjkTokenRe.FindAllString(text, -1) {
		tokens[t] = struct{}{}
	}
	for _, t := range latinTokenRe.FindAllString(text, -1) {
		tokens[t] = struct{}{}
	}
	for _, t := range timeTokenRe.FindAllString(text, -1) {
		tokens[t] = struct{}{}
	}
	return tokens
}

func tokenJaccard(a, b string) float64 {
	ta, tb := extractTokens(a), extractTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func runePrefix(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
