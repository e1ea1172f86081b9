package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jcorwin/helmsman/pkg/models"
)

const (
	geminiEndpointFmt  = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	defaultGeminiModel = "gemini-1.5-flash"
)

// GeminiBackend uses the generateContent API in constrained-schema
// mode: the response schema pins the output to the four decision
// fields so no fence-stripping heuristics are needed.
type GeminiBackend struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewGemini(apiKey, model string) *GeminiBackend {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiBackend{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: providerTimeout},
	}
}

func (b *GeminiBackend) Name() string { return "gemini" }

var geminiDecisionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"action": map[string]interface{}{
			"type": "string",
			"enum": []string{"LONG", "SHORT", "CLOSE", "WAIT"},
		},
		"leverage":   map[string]interface{}{"type": "integer"},
		"reason":     map[string]interface{}{"type": "string"},
		"confidence": map[string]interface{}{"type": "integer"},
	},
	"required": []string{"action", "leverage", "reason", "confidence"},
}

func (b *GeminiBackend) Decide(ctx context.Context, req Request) (models.TradeDecision, error) {
	if b.apiKey == "" {
		return models.TradeDecision{}, fmt.Errorf("gemini API key not configured")
	}

	body, err := json.Marshal(map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": systemPrompt + "\n\n" + buildPrompt(req)},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature":      0.2,
			"responseMimeType": "application/json",
			"responseSchema":   geminiDecisionSchema,
		},
	})
	if err != nil {
		return models.TradeDecision{}, err
	}

	endpoint := fmt.Sprintf(geminiEndpointFmt, b.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.TradeDecision{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", b.apiKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return models.TradeDecision{}, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.TradeDecision{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.TradeDecision{}, fmt.Errorf("gemini returned HTTP %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return models.TradeDecision{}, fmt.Errorf("gemini response unreadable: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return models.TradeDecision{}, fmt.Errorf("gemini returned no candidates")
	}

	return parseDecision(result.Candidates[0].Content.Parts[0].Text)
}
