package vision

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/kardex-io/kardex/internal/interfaces"
)

// geminiReader sends card images to the Gemini API. ResponseMIMEType pins the
// output to JSON so fence stripping is rarely needed on this provider.
type geminiReader struct {
	client      *genai.Client
	temperature float32
	logger      arbor.ILogger
}

func newGeminiReader(ctx context.Context, apiKey string, temperature float64, logger arbor.ILogger) (*geminiReader, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &geminiReader{
		client:      client,
		temperature: float32(temperature),
		logger:      logger,
	}, nil
}

func (r *geminiReader) readCard(ctx context.Context, model string, prompt cardPrompt, req interfaces.VisionRequest) (string, error) {
	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromBytes(req.ImageBytes, req.MimeType),
				genai.NewPartFromText(prompt.User),
			},
		},
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(r.temperature),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
	}

	resp, err := r.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from Gemini API")
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty text in Gemini response")
	}
	return text, nil
}
