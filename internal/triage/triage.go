// Package triage suggests a report category for uploaded content using Gemini.
// Results are advisory: they are stored with the content and never reach the
// registry.
package triage

import (
	"context"
	"time"

	"anonreport/internal/content"
	"anonreport/internal/gemini"

	"github.com/rs/zerolog"
)

const evalTimeout = 45 * time.Second

// EvaluateFunc matches gemini.Evaluate.
type EvaluateFunc func(ctx context.Context, req gemini.EvalRequest) (gemini.EvalResponse, error)

// Classifier calls the model at most once per content ref, model and prompt version.
type Classifier struct {
	cacheDir string
	model    string
	evaluate EvaluateFunc
	log      zerolog.Logger
}

func New(cacheDir string, log zerolog.Logger) *Classifier {
	return &Classifier{
		cacheDir: cacheDir,
		model:    gemini.ModelName(),
		evaluate: gemini.Evaluate,
		log:      log.With().Str("component", "triage").Logger(),
	}
}

// WithEvaluator replaces the model call; used by tests.
func (c *Classifier) WithEvaluator(model string, fn EvaluateFunc) *Classifier {
	c.model = model
	c.evaluate = fn
	return c
}

// Classify returns nil without error when the model is unreachable or its
// answer is unusable; triage failures never block an upload.
func (c *Classifier) Classify(ctx context.Context, ref content.Ref, text string, tags []string) (*content.Triage, error) {
	key := cacheKey(ref, c.model)
	if cached, err := loadCache(c.cacheDir, key); err == nil {
		if _, err := parseOutput(cached.RawText); err == nil {
			return toTriage(cached.Output, cached.Model), nil
		}
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.evaluate(ctx, gemini.EvalRequest{
		SystemPrompt:    buildSystemPrompt(),
		UserPrompt:      buildUserPrompt(text, tags),
		ResponseSchema:  responseSchema(),
		Temperature:     0,
		MaxOutputTokens: 512,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("gemini evaluate")
		return nil, nil
	}
	out, err := parseOutput(resp.Text)
	if err != nil {
		c.log.Warn().Err(err).Msg("gemini parse output")
		return nil, nil
	}
	if err := saveCache(c.cacheDir, key, cachedOutput{
		Model:         resp.Model,
		PromptVersion: promptVersion,
		Output:        out,
		RawText:       resp.Text,
		Usage:         resp.Usage,
	}); err != nil {
		c.log.Warn().Err(err).Msg("triage cache save")
	}
	return toTriage(out, resp.Model), nil
}

func toTriage(out output, model string) *content.Triage {
	return &content.Triage{
		Reason:     out.Reason,
		Confidence: out.Confidence,
		Summary:    out.Summary,
		Model:      model,
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, evalTimeout)
}
