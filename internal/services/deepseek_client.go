package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyapp/backend/internal/logging"
	"storyapp/backend/pkg/models"
)

// DeepSeekConfig configures the chat-completions client. Zero values fall
// back to the defaults applied by NewDeepSeekClient.
type DeepSeekConfig struct {
	BaseURL       string
	APIKey        string
	PlanningModel string
	WritingModel  string
	ReviewModel   string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
}

// DeepSeekClient calls the DeepSeek chat-completions API to generate
// outlines, drafts and reviews. It implements Generator.
type DeepSeekClient struct {
	cfg        DeepSeekConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// NewDeepSeekClient creates a client with defaults filled in.
func NewDeepSeekClient(cfg DeepSeekConfig, logger *logging.Logger) *DeepSeekClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}
	if cfg.PlanningModel == "" {
		cfg.PlanningModel = "deepseek-reasoner"
	}
	if cfg.WritingModel == "" {
		cfg.WritingModel = "deepseek-chat"
	}
	if cfg.ReviewModel == "" {
		cfg.ReviewModel = cfg.PlanningModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &DeepSeekClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
}

// Plan asks the planning model for a story blueprint.
func (c *DeepSeekClient) Plan(ctx context.Context, topic string, opts PromptOptions) (*models.Outline, error) {
	system := "你是剧情规划器。仅输出严格 JSON。禁止解释。"
	lines := []string{
		fmt.Sprintf("主题：%s", topic),
		"仅返回故事蓝图 JSON（禁止额外说明、注释或代码块）。",
		"必须包含字段：centralTrick、caseSetup、characters、acts（三幕）、clueMatrix、timeline、logicChecklist。",
		`timeline 必须为数组，每项包含 time（格式 "Day1 20:00"）、event、participants。`,
		`clueMatrix 要含 clue、surfaceMeaning、realMeaning、appearsAtAct、mustForeshadow、explicitForeshadowChapters（例如 ["Chapter 1","Chapter 2"]）。`,
		"Chapter 1 必须显式铺垫至少 2 条关键线索，并在 clueMatrix.explicitForeshadowChapters 中标注。",
		"centralTrick.summary 与 centralTrick.mechanism 必须写成完整句子，严禁留空。",
	}
	if len(opts.Mechanism.Keywords) > 0 {
		lines = append(lines, fmt.Sprintf("中心奇迹请围绕以下关键词设计变体，但允许合理扩展：%s", strings.Join(opts.Mechanism.Keywords, "、")))
	}
	if opts.Mechanism.RealismHint != "" {
		lines = append(lines, fmt.Sprintf("机关现实提示：%s", opts.Mechanism.RealismHint))
	}

	content, err := c.chat(ctx, c.cfg.PlanningModel, system, strings.Join(lines, "\n"), nil)
	if err != nil {
		return nil, err
	}
	raw, err := extractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("planning output: %w", err)
	}
	var outline models.Outline
	if err := json.Unmarshal(raw, &outline); err != nil {
		return nil, fmt.Errorf("decode outline: %w", err)
	}
	return &outline, nil
}

// Write asks the writing model for a chapter draft.
func (c *DeepSeekClient) Write(ctx context.Context, outline *models.Outline, opts PromptOptions) (*models.StoryDraft, error) {
	outlineJSON, err := json.MarshalIndent(outline, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode outline: %w", err)
	}
	chapters := opts.TargetChapters
	if chapters <= 0 {
		chapters = 3
	}
	words := opts.WordsPerChapter
	if words <= 0 {
		words = 1200
	}
	system := "你是长篇小说写作引擎。只输出指定 JSON 字段。"
	lines := []string{
		"请根据以下故事蓝图输出结构化的章节草稿，仅返回 JSON：",
		`{ "chapters": [ { "title": "...", "summary": "...", "content": "...", "wordCount": 1200, "cluesEmbedded": [], "redHerringsEmbedded": [] } ] }`,
		"",
		"蓝图：",
		string(outlineJSON),
		"",
		fmt.Sprintf("1) 章节顺序与蓝图 acts 对齐，生成 %d 章完整故事，每章约 %d 字。", chapters, words),
		"2) 必须以自然语句铺垫线索，正文中应让读者通过场景、对白或物证得知线索名称。",
		"3) 最后一章需包含对峙与复盘，逐条回收关键线索，揭示凶手动机与机关原理。",
		"仅返回 JSON。",
	}

	temp := c.cfg.Temperature
	content, err := c.chat(ctx, c.cfg.WritingModel, system, strings.Join(lines, "\n"), &temp)
	if err != nil {
		return nil, err
	}
	raw, err := extractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("writing output: %w", err)
	}
	var draft models.StoryDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	total := 0
	for i := range draft.Chapters {
		ch := &draft.Chapters[i]
		if ch.WordCount == 0 {
			ch.WordCount = len([]rune(ch.Content))
		}
		total += ch.WordCount
	}
	if draft.OverallWordCount == 0 {
		draft.OverallWordCount = total
	}
	return &draft, nil
}

// Review asks the review model for an editorial assessment of the draft.
func (c *DeepSeekClient) Review(ctx context.Context, outline *models.Outline, draft *models.StoryDraft, opts PromptOptions) (map[string]any, error) {
	outlineJSON, err := json.Marshal(outline)
	if err != nil {
		return nil, fmt.Errorf("encode outline: %w", err)
	}
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	system := "你是资深推理小说编辑，只根据提供的蓝图与草稿给出审阅意见。仅输出 JSON。"
	lines := []string{
		"请审阅以下蓝图与章节草稿，检查线索铺垫、公平性与叙事节奏，仅返回 JSON：",
		`{ "overallScore": 0-100, "fairPlay": "...", "pacing": "...", "issues": [""], "suggestions": [""] }`,
		"",
		"蓝图：",
		string(outlineJSON),
		"",
		"草稿：",
		string(draftJSON),
	}

	content, err := c.chat(ctx, c.cfg.ReviewModel, system, strings.Join(lines, "\n"), nil)
	if err != nil {
		return nil, err
	}
	raw, err := extractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("review output: %w", err)
	}
	var review map[string]any
	if err := json.Unmarshal(raw, &review); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	return review, nil
}

// chat performs one logical model call with retries.
func (c *DeepSeekClient) chat(ctx context.Context, model, system, user string, temperature *float64) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", &ConfigError{Reason: "DeepSeek API Key 未配置，无法执行工作流"}
	}

	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: temperature,
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		content, err := c.post(ctx, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if c.logger != nil {
			c.logger.Warn("deepseek call failed (model=%s attempt=%d/%d): %v", model, attempt, c.cfg.MaxAttempts, err)
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * c.cfg.RetryDelay):
		}
	}
	return "", fmt.Errorf("deepseek chat (model=%s): %w", model, lastErr)
}

func (c *DeepSeekClient) post(ctx context.Context, payload chatRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call deepseek: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("deepseek returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("deepseek response has no choices")
	}
	content := decoded.Choices[0].Message.Content
	if content == "" {
		content = decoded.Choices[0].Message.ReasoningContent
	}
	if content == "" {
		return "", fmt.Errorf("deepseek response has no content")
	}
	return content, nil
}

// extractJSON pulls the JSON document out of model output that may carry
// code fences or surrounding prose.
func extractJSON(content string) (json.RawMessage, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned), nil
	}

	first := strings.Index(cleaned, "{")
	last := strings.LastIndex(cleaned, "}")
	if first >= 0 && last > first {
		candidate := cleaned[first : last+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, fmt.Errorf("model output is not valid JSON")
}
