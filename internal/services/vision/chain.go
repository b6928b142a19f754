// Package vision reads handwritten hour cards through a configured chain of
// multimodal models. Models are tried in order; the first output that decodes
// and validates wins, and only a fully exhausted chain surfaces an error.
package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
)

// providerKind identifies which API serves a model name.
type providerKind string

const (
	providerAnthropic providerKind = "anthropic"
	providerGemini    providerKind = "gemini"
)

// modelReader is one provider client. Implementations return the raw model
// text; the chain owns decoding and validation.
type modelReader interface {
	readCard(ctx context.Context, model string, prompt cardPrompt, req interfaces.VisionRequest) (string, error)
}

// Chain implements interfaces.VisionExtractor over the configured model list.
type Chain struct {
	models  []string
	readers map[providerKind]modelReader
	timeout time.Duration
	retries int
	logger  arbor.ILogger
}

// NewChain builds the model chain from configuration. Every chain entry must
// resolve to a known provider, and each provider used by the chain must have
// an API key; both are checked here so misconfiguration fails at startup, not
// on the first card.
func NewChain(cfg *common.Config, logger arbor.ILogger) (*Chain, error) {
	models := cfg.VisionModelChain()
	if len(models) == 0 {
		return nil, fmt.Errorf("vision model chain is empty")
	}

	readers := make(map[providerKind]modelReader)
	for _, model := range models {
		kind, err := providerFor(model)
		if err != nil {
			return nil, err
		}
		if _, ok := readers[kind]; ok {
			continue
		}
		switch kind {
		case providerAnthropic:
			if cfg.Vision.AnthropicAPIKey == "" {
				return nil, fmt.Errorf("model %q needs an Anthropic API key (set ANTHROPIC_API_KEY or vision.anthropic_api_key)", model)
			}
			readers[kind] = newAnthropicReader(cfg.Vision.AnthropicAPIKey, cfg.Vision.Temperature, logger)
		case providerGemini:
			if cfg.Vision.GeminiAPIKey == "" {
				return nil, fmt.Errorf("model %q needs a Gemini API key (set GEMINI_API_KEY or vision.gemini_api_key)", model)
			}
			reader, err := newGeminiReader(context.Background(), cfg.Vision.GeminiAPIKey, cfg.Vision.Temperature, logger)
			if err != nil {
				return nil, err
			}
			readers[kind] = reader
		}
	}

	logger.Info().
		Strs("models", models).
		Dur("timeout", cfg.VisionTimeout()).
		Int("max_retries", cfg.Vision.MaxRetries).
		Msg("Vision model chain initialized")

	return &Chain{
		models:  models,
		readers: readers,
		timeout: cfg.VisionTimeout(),
		retries: cfg.Vision.MaxRetries,
		logger:  logger,
	}, nil
}

// newChainWithReaders wires an explicit reader set, bypassing client
// construction.
func newChainWithReaders(models []string, readers map[providerKind]modelReader, timeout time.Duration, retries int, logger arbor.ILogger) *Chain {
	return &Chain{
		models:  models,
		readers: readers,
		timeout: timeout,
		retries: retries,
		logger:  logger,
	}
}

// ExtractCard walks the chain until one model returns output that decodes and
// validates. Each attempt runs under its own timeout; in-model retries are
// disabled by default so a flaky model falls through to the next chain entry
// instead of stalling the job.
func (c *Chain) ExtractCard(ctx context.Context, req interfaces.VisionRequest) (*interfaces.VisionOutcome, error) {
	if len(req.ImageBytes) == 0 {
		return nil, fmt.Errorf("empty card image")
	}

	prompt := buildPrompt(req.Mode, req.Month)

	var lastErr error
	for position, model := range c.models {
		kind, err := providerFor(model)
		if err != nil {
			lastErr = err
			continue
		}
		reader, ok := c.readers[kind]
		if !ok {
			lastErr = fmt.Errorf("no reader configured for model %q", model)
			continue
		}

		for attempt := 0; attempt <= c.retries; attempt++ {
			raw, err := c.readOnce(ctx, reader, normalizeModel(model), prompt, req)
			if err != nil {
				lastErr = fmt.Errorf("%s: %w", model, err)
				c.logger.Warn().
					Str("model", model).
					Int("attempt", attempt+1).
					Err(err).
					Msg("Vision model call failed")
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}

			result, err := DecodeOutput(raw)
			if err != nil {
				lastErr = fmt.Errorf("%s: %w", model, err)
				c.logger.Warn().
					Str("model", model).
					Int("attempt", attempt+1).
					Int("output_length", len(raw)).
					Err(err).
					Msg("Vision model output rejected")
				continue
			}

			c.logger.Debug().
				Str("model", model).
				Int("entry_count", len(result.Entries)).
				Bool("fallback_used", position > 0).
				Msg("Vision extraction succeeded")

			return &interfaces.VisionOutcome{
				Result:       result,
				RawText:      raw,
				ModelName:    model,
				FallbackUsed: position > 0,
			}, nil
		}
	}

	return nil, fmt.Errorf("all %d models failed: %w", len(c.models), lastErr)
}

// readOnce bounds a single model call with the per-request timeout.
func (c *Chain) readOnce(ctx context.Context, reader modelReader, model string, prompt cardPrompt, req interfaces.VisionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return reader.readCard(callCtx, model, prompt, req)
}

// providerFor maps a model name to its provider. Names may carry an explicit
// provider prefix (claude/, anthropic/, gemini/, google/) or follow the
// vendor naming pattern (claude-*, gemini-*).
func providerFor(model string) (providerKind, error) {
	name := strings.ToLower(model)

	if strings.HasPrefix(name, "claude/") || strings.HasPrefix(name, "anthropic/") {
		return providerAnthropic, nil
	}
	if strings.HasPrefix(name, "gemini/") || strings.HasPrefix(name, "google/") {
		return providerGemini, nil
	}
	if strings.HasPrefix(name, "claude-") {
		return providerAnthropic, nil
	}
	if strings.HasPrefix(name, "gemini-") {
		return providerGemini, nil
	}
	return "", fmt.Errorf("cannot determine provider for model %q", model)
}

// normalizeModel strips an explicit provider prefix before the name is sent
// to the API.
func normalizeModel(model string) string {
	for _, prefix := range []string{"claude/", "anthropic/", "gemini/", "google/"} {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}
