package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyapp/backend/internal/logging"
)

func chatPayload(content string) string {
	body := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

func testClient(baseURL string) *DeepSeekClient {
	return NewDeepSeekClient(DeepSeekConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		RetryDelay: time.Millisecond,
		Timeout:    5 * time.Second,
	}, logging.NewLogger())
}

func TestDeepSeekMissingAPIKey(t *testing.T) {
	client := NewDeepSeekClient(DeepSeekConfig{}, logging.NewLogger())

	_, err := client.Plan(context.Background(), "钟楼疑案", PromptOptions{})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDeepSeekPlanParsesFencedJSON(t *testing.T) {
	outlineJSON := `{
		"centralTrick": {"summary": "齿轮机关", "mechanism": "发条驱动"},
		"characters": [{"name": "林澈", "role": "detective"}],
		"clueMatrix": [{"clue": "怀表", "mustForeshadow": true}],
		"timeline": [{"time": "Day1 20:00", "event": "钟声响起"}]
	}`

	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 2)
		w.Write([]byte(chatPayload("```json\n" + outlineJSON + "\n```")))
	}))
	defer server.Close()

	client := testClient(server.URL)
	outline, err := client.Plan(context.Background(), "钟楼疑案", PromptOptions{})
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	require.NotNil(t, outline.CentralTrick)
	assert.Equal(t, "齿轮机关", outline.CentralTrick.Summary)
	assert.Equal(t, "怀表", outline.ClueMatrix[0].Clue)
}

func TestDeepSeekRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(chatPayload(`{"overallScore": 90, "issues": []}`)))
	}))
	defer server.Close()

	client := testClient(server.URL)
	review, err := client.Review(context.Background(), fixtureOutline(), fixtureDraft(), PromptOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, float64(90), review["overallScore"])
}

func TestDeepSeekGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Plan(context.Background(), "雾夜", PromptOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "status 502")
}

func TestDeepSeekWriteComputesWordCounts(t *testing.T) {
	draftJSON := `{"chapters": [
		{"title": "Chapter 1", "content": "怀表停在九点。"},
		{"title": "Chapter 2", "content": "齿轮声响起。", "wordCount": 500}
	]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatPayload(draftJSON)))
	}))
	defer server.Close()

	client := testClient(server.URL)
	draft, err := client.Write(context.Background(), fixtureOutline(), PromptOptions{})
	require.NoError(t, err)

	require.Len(t, draft.Chapters, 2)
	assert.Equal(t, len([]rune("怀表停在九点。")), draft.Chapters[0].WordCount)
	assert.Equal(t, 500, draft.Chapters[1].WordCount)
	assert.Equal(t, draft.Chapters[0].WordCount+500, draft.OverallWordCount)
}

func TestDeepSeekFallsBackToReasoningContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "", "reasoning_content": `{"pacing": "稳"}`}},
			},
		}
		json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	client := testClient(server.URL)
	review, err := client.Review(context.Background(), fixtureOutline(), fixtureDraft(), PromptOptions{})
	require.NoError(t, err)
	assert.Equal(t, "稳", review["pacing"])
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "raw object", input: `{"a": 1}`, want: `{"a": 1}`},
		{name: "fenced", input: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "prose wrapped", input: "结果如下：{\"a\": 1} 以上。", want: `{"a": 1}`},
		{name: "not json", input: "抱歉，我无法完成。", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractJSON(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}
