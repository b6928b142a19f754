package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kardex-io/kardex/internal/models"
)

// DecodeOutput turns raw model text into a validated extraction result.
// Models occasionally wrap the JSON in markdown fences or prepend a sentence
// despite the prompt; both are stripped before decoding. A result that fails
// schema validation counts as unparseable so the chain can move on.
func DecodeOutput(raw string) (*models.ExtractionResult, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, fmt.Errorf("model returned no JSON object")
	}

	var result models.ExtractionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("decoding model output: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// stripFences removes markdown code fences and any text outside the outermost
// JSON object.
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		// Drop the opening fence line (``` or ```json) and a trailing fence.
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}
