// Package perplexity implements text generation against the Perplexity
// chat completions API.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vnmchuo/content-bot/internal/provider"
	"github.com/vnmchuo/content-bot/internal/textgen"
)

const systemPrompt = "You are a social media content writer. Write an engaging post on the given topic. " +
	"After the post, on the last line, output exactly: KEYWORD: <one or two words describing a matching stock photo>."

type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func New(apiKey string, opts Options) *Client {
	if opts.Model == "" {
		opts.Model = "sonar"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     "https://api.perplexity.ai",
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		client:      &http.Client{Timeout: opts.Timeout},
	}
}

func (c *Client) Name() string     { return "perplexity" }
func (c *Client) Model() string    { return c.model }
func (c *Client) Configured() bool { return c.apiKey != "" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Generate(ctx context.Context, topic string) (*textgen.Result, error) {
	if !c.Configured() {
		return nil, provider.ErrNotConfigured
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: topic},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &provider.TransientError{Provider: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromStatus(c.Name(), resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &provider.TransientError{Provider: c.Name(), Err: err}
	}
	if len(decoded.Choices) == 0 {
		return nil, &provider.TransientError{Provider: c.Name(), Err: fmt.Errorf("empty choices in response")}
	}

	content, keyword := splitKeyword(decoded.Choices[0].Message.Content)
	if keyword == "" {
		keyword = textgen.FallbackKeyword(topic)
	}

	return &textgen.Result{
		Content:     content,
		Keyword:     keyword,
		Model:       c.model,
		TokensIn:    decoded.Usage.PromptTokens,
		TokensOut:   decoded.Usage.CompletionTokens,
		TokensTotal: decoded.Usage.TotalTokens,
		LatencyMs:   time.Since(started).Milliseconds(),
	}, nil
}

// splitKeyword removes the trailing "KEYWORD: ..." line the prompt asks
// for and returns it separately. Content comes back unchanged when the
// model ignored the instruction.
func splitKeyword(content string) (string, string) {
	trimmed := strings.TrimRight(content, "\n \t")
	idx := strings.LastIndex(trimmed, "\n")
	lastLine := strings.TrimSpace(trimmed[idx+1:])

	upper := strings.ToUpper(lastLine)
	if !strings.HasPrefix(upper, "KEYWORD:") {
		return trimmed, ""
	}
	keyword := strings.ToLower(strings.TrimSpace(lastLine[len("KEYWORD:"):]))
	if idx < 0 {
		return "", keyword
	}
	return strings.TrimRight(trimmed[:idx], "\n \t"), keyword
}
