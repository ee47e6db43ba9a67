package gemini

import (
	"context"
	"fmt"

	"anonreport/internal/config"

	"google.golang.org/genai"
)

type EvalRequest struct {
	SystemPrompt    string
	UserPrompt      string
	ResponseSchema  any
	Temperature     float32
	MaxOutputTokens int32
}

type Usage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CandidateTokens  int32 `json:"candidate_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
	CachedTokenCount int32 `json:"cached_token_count"`
}

type EvalResponse struct {
	Text  string
	Usage *Usage
	Model string
}

// ModelName returns the resolved Gemini model name (GEMINI_MODEL).
func ModelName() string {
	return config.GeminiModel()
}

func newClient(ctx context.Context) (*genai.Client, error) {
	apiKey := config.GeminiAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
}

func buildConfig(req EvalRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		},
		Temperature:     &req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = req.ResponseSchema
	}
	return cfg
}

func extractUsage(meta *genai.GenerateContentResponseUsageMetadata) *Usage {
	if meta == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     meta.PromptTokenCount,
		CandidateTokens:  meta.CandidatesTokenCount,
		TotalTokens:      meta.TotalTokenCount,
		CachedTokenCount: meta.CachedContentTokenCount,
	}
}

// Evaluate runs a structured prompt and returns the raw text response.
// Uses GEMINI_API_KEY from the environment (e.g. loaded from .env).
func Evaluate(ctx context.Context, req EvalRequest) (EvalResponse, error) {
	client, err := newClient(ctx)
	if err != nil {
		return EvalResponse{}, err
	}
	model := ModelName()
	result, err := client.Models.GenerateContent(ctx, model, genai.Text(req.UserPrompt), buildConfig(req))
	if err != nil {
		return EvalResponse{}, fmt.Errorf("generate content: %w", err)
	}
	return EvalResponse{
		Text:  result.Text(),
		Usage: extractUsage(result.UsageMetadata),
		Model: model,
	}, nil
}
