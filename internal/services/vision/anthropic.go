package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
)

const anthropicMaxTokens = 8192

// anthropicReader sends card images to the Anthropic API. Images go as image
// blocks, PDFs as document blocks.
type anthropicReader struct {
	client      anthropic.Client
	temperature float64
	logger      arbor.ILogger
}

func newAnthropicReader(apiKey string, temperature float64, logger arbor.ILogger) *anthropicReader {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &anthropicReader{
		client:      client,
		temperature: temperature,
		logger:      logger,
	}
}

func (r *anthropicReader) readCard(ctx context.Context, model string, prompt cardPrompt, req interfaces.VisionRequest) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(req.ImageBytes)

	var attachment anthropic.ContentBlockParamUnion
	if req.MimeType == "application/pdf" {
		attachment = anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
			Data: encoded,
		})
	} else {
		attachment = anthropic.NewImageBlockBase64(req.MimeType, encoded)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(anthropicMaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				attachment,
				anthropic.NewTextBlock(prompt.User),
			),
		},
		System: []anthropic.TextBlockParam{
			{Text: prompt.System},
		},
	}
	if r.temperature > 0 {
		params.Temperature = anthropic.Float(r.temperature)
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Anthropic API")
	}
	return text.String(), nil
}
