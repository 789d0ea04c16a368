package cluegraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeForMatchStripsPunctuation(t *testing.T) {
	assert.Equal(t, "钟楼齿轮联动", normalizeForMatch("  钟楼，齿轮。联动！ "))
	assert.Equal(t, "clocktower", normalizeForMatch("Clock Tower"))
	assert.Equal(t, "", normalizeForMatch("，。！？"))
}

func TestMatchSubstringEitherDirection(t *testing.T) {
	m := NewTextMatcher()

	signal, ok := m.Match("现场发现带血的怀表指向管家", "带血的怀表")
	assert.True(t, ok)
	assert.Equal(t, SignalSubstring, signal)

	signal, ok = m.Match("带血的怀表", "现场发现带血的怀表指向管家")
	assert.True(t, ok)
	assert.Equal(t, SignalSubstring, signal)
}

func TestMatchCommonRun(t *testing.T) {
	m := NewTextMatcher()

	// Shares the run 钟楼齿轮联动装置 (8 of 12 runes of the shorter text)
	// without full containment.
	signal, ok := m.Match("深夜钟楼齿轮联动装置突然启动", "检修钟楼齿轮联动装置的记录簿")
	assert.True(t, ok)
	assert.Equal(t, SignalCommonRun, signal)
}

func TestMatchRejectsUnrelatedTexts(t *testing.T) {
	m := NewTextMatcher()

	_, ok := m.Match("花房的泥脚印", "图书馆的密码信")
	assert.False(t, ok)
}

func TestMatchTimeTokens(t *testing.T) {
	tokens := extractTokens("21:40的钟声与detective记录")
	assert.Contains(t, tokens, "21:40")
	assert.Contains(t, tokens, "detective")
}

func TestMatchPrefixFallback(t *testing.T) {
	m := NewTextMatcher()

	prefix := "管家深夜在钟楼底层巡视时听见齿轮空转的声响异常刺耳"
	a := prefix + strings.Repeat("甲乙丙丁戊己庚辛壬癸", 6)
	b := prefix + strings.Repeat("子丑寅卯辰巳午未申酉", 6)

	signal, ok := m.Match(a, b)
	assert.True(t, ok)
	assert.Equal(t, SignalPrefix, signal)
}

func TestLongestCommonRun(t *testing.T) {
	assert.Equal(t, 0, longestCommonRun([]rune(""), []rune("abc")))
	assert.Equal(t, 3, longestCommonRun([]rune("xabcx"), []rune("yabcy")))
	assert.Equal(t, 4, longestCommonRun([]rune("钟楼齿轮联动"), []rune("齿轮联动装置")))
}

func TestTokenJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, tokenJaccard("钟楼齿轮", "钟楼齿轮"), 0.001)
	assert.InDelta(t, 0.0, tokenJaccard("钟楼齿轮", "花房脚印"), 0.001)
}
