package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Config holds OpenAI configuration parameters.
type Config struct {
	APIKey      string
	Model       string
	VisionModel string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// Client speaks the chat-completion protocol through an Executor.
type Client struct {
	executor    *Executor
	apiKey      string
	model       string
	visionModel string
	baseURL     string
	temperature float64
	maxTokens   int
}

var ErrDisabled = errors.New("model access is not configured")

// Message is one chat turn. Content is either a string or a list of parts.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is a typed element of a multi-part user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an inline data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config, executor *Executor) (*Client, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	cfg.VisionModel = strings.TrimSpace(cfg.VisionModel)
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if executor == nil {
		executor = NewExecutor(nil)
	}
	return &Client{
		executor:    executor,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		baseURL:     cfg.BaseURL,
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Model returns the text model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Complete posts messages to the chat-completion endpoint under policy and
// returns the raw reply. Status codes are not interpreted here.
func (c *Client) Complete(ctx context.Context, policy Policy, messages []Message, vision bool) (Result, error) {
	if !c.Enabled() {
		return Result{}, ErrDisabled
	}
	model := c.model
	if vision {
		model = c.visionModel
	}
	body, err := json.Marshal(c.buildPayload(model, messages))
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+c.apiKey)
	return c.executor.Do(ctx, policy, Call{
		Method: http.MethodPost,
		URL:    c.baseURL + "/chat/completions",
		Header: header,
		Body:   body,
	})
}

func (c *Client) buildPayload(model string, messages []Message) map[string]any {
	payload := map[string]any{
		"model":           model,
		"messages":        messages,
		"temperature":     c.temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	return payload
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func normalizeJSONBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		} else {
			trimmed = strings.TrimPrefix(trimmed, "json")
		}
		if strings.HasSuffix(trimmed, "```") {
			trimmed = trimmed[:len(trimmed)-3]
		}
	}
	return strings.TrimSpace(trimmed)
}
