package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jcorwin/helmsman/pkg/models"
)

const (
	openAIEndpoint   = "https://api.openai.com/v1/chat/completions"
	deepSeekEndpoint = "https://api.deepseek.com/chat/completions"

	defaultOpenAIModel   = "gpt-4o-mini"
	defaultDeepSeekModel = "deepseek-chat"

	providerTimeout = 30 * time.Second
)

// ChatBackend talks to any OpenAI-compatible chat completions API.
// Both the openai and deepseek providers use it, differing only in
// endpoint and default model.
type ChatBackend struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAI(apiKey, model string) *ChatBackend {
	if model == "" {
		model = defaultOpenAIModel
	}
	return newChatBackend("openai", openAIEndpoint, apiKey, model)
}

func NewDeepSeek(apiKey, model string) *ChatBackend {
	if model == "" {
		model = defaultDeepSeekModel
	}
	return newChatBackend("deepseek", deepSeekEndpoint, apiKey, model)
}

func newChatBackend(name, endpoint, apiKey, model string) *ChatBackend {
	return &ChatBackend{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: providerTimeout},
	}
}

func (b *ChatBackend) Name() string { return b.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (b *ChatBackend) Decide(ctx context.Context, req Request) (models.TradeDecision, error) {
	if b.apiKey == "" {
		return models.TradeDecision{}, fmt.Errorf("%s API key not configured", b.name)
	}

	body, err := json.Marshal(map[string]interface{}{
		"model": b.model,
		"messages": []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		"temperature": 0.2,
	})
	if err != nil {
		return models.TradeDecision{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.TradeDecision{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return models.TradeDecision{}, fmt.Errorf("%s request failed: %w", b.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.TradeDecision{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.TradeDecision{}, fmt.Errorf("%s returned HTTP %d: %s", b.name, resp.StatusCode, respBody)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return models.TradeDecision{}, fmt.Errorf("%s response unreadable: %w", b.name, err)
	}
	if len(result.Choices) == 0 {
		return models.TradeDecision{}, fmt.Errorf("%s returned no choices", b.name)
	}

	return parseDecision(result.Choices[0].Message.Content)
}
