package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// forceJSONSystemPrompt 约束模型只输出一个 JSON 对象
const forceJSONSystemPrompt = "You must output a single JSON object and nothing else."

// retryDelays 非超时错误的重试间隔
var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second}

// ModelConfig OpenAI 兼容端点的连接参数
type ModelConfig struct {
	ModelName   string
	Token       string
	BaseURL     string        // 留空用官方端点
	Timeout     time.Duration // 单次调用超时
	MaxRetries  int           // 传输错误的额外尝试次数
	ForceJSON   bool          // 注入 system 提示强制 JSON 输出
	ExtractJSON bool          // 解析失败时截取首个平衡的 {...}
}

// OpenAIClient talks to any OpenAI-compatible chat endpoint via langchaingo.
// Temperature is pinned to 0: planning must be reproducible.
type OpenAIClient struct {
	model     llms.Model
	cfg       ModelConfig
	log       *zap.Logger
	tokenizer *tiktoken.Tiktoken
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds the client. The tokenizer is best-effort: when the
// cl100k_base tables cannot be loaded, token accounting is disabled and the
// client still works.
func NewOpenAIClient(cfg ModelConfig, log *zap.Logger) (*OpenAIClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	opts := []openai.Option{
		openai.WithModel(cfg.ModelName),
		openai.WithToken(cfg.Token),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	tokenizer, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn("tokenizer unavailable, token accounting disabled", zap.Error(err))
		tokenizer = nil
	}

	return &OpenAIClient{model: model, cfg: cfg, log: log, tokenizer: tokenizer}, nil
}

// GenerateJSON sends the prompt and decodes the reply as a JSON object. The
// schema argument is already embedded in the prompt by the caller, so it is
// not re-sent. Non-object output returns a NotJSONError carrying the raw text.
func (c *OpenAIClient) GenerateJSON(ctx context.Context, prompt string, _ map[string]any) (map[string]any, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if c.cfg.ForceJSON {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, forceJSONSystemPrompt))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	raw, err := c.generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	obj, ok := decodeJSONObject(raw)
	if !ok && c.cfg.ExtractJSON {
		if span, found := extractJSONObject(raw); found {
			obj, ok = decodeJSONObject(span)
		}
	}
	if !ok {
		return nil, &NotJSONError{Raw: raw}
	}
	return obj, nil
}

// GenerateText sends the prompt and returns the trimmed reply.
func (c *OpenAIClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)}
	raw, err := c.generate(ctx, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// generate runs one chat completion with bounded retries. Timeouts are not
// retried here: the planner owns the trimmed-evidence retry, and repeating an
// oversized prompt would just time out again.
func (c *OpenAIClient) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelays[(attempt-1)%len(retryDelays)]
			c.log.Warn("llm call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", wrapTimeout(ctx.Err())
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.model.GenerateContent(callCtx, messages, llms.WithTemperature(0))
		cancel()
		if err != nil {
			lastErr = wrapTimeout(err)
			if errors.Is(lastErr, ErrTimeout) {
				return "", lastErr
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("llm returned no choices")
			continue
		}

		content := resp.Choices[0].Content
		c.logUsage(messages, content)
		return content, nil
	}
	return "", fmt.Errorf("llm call failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *OpenAIClient) logUsage(messages []llms.MessageContent, output string) {
	if c.tokenizer == nil {
		return
	}
	promptTokens := 0
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				promptTokens += len(c.tokenizer.Encode(text.Text, nil, nil))
			}
		}
	}
	c.log.Debug("llm usage",
		zap.Int("prompt_tokens", promptTokens),
		zap.Int("completion_tokens", len(c.tokenizer.Encode(output, nil, nil))))
}

// decodeJSONObject parses text as a JSON object.
func decodeJSONObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
