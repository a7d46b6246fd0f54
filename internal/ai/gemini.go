package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kozaktomas/face-attendance/internal/ppe"
)

const geminiModel = "gemini-2.5-flash"

// GeminiDetector finds PPE with a Gemini vision model.
type GeminiDetector struct {
	usageTracker
	client *genai.Client
}

// NewGeminiDetector creates a detector for the Gemini API.
func NewGeminiDetector(ctx context.Context, apiKey string) (*GeminiDetector, error) {
	return NewGeminiDetectorWithConfig(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewGeminiDetectorWithConfig creates a detector from a full client configuration.
func NewGeminiDetectorWithConfig(ctx context.Context, cc *genai.ClientConfig) (*GeminiDetector, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiDetector{client: client}, nil
}

func (d *GeminiDetector) Name() string {
	return geminiModel
}

// DetectPPE asks the model for PPE detections in frame.
func (d *GeminiDetector) DetectPPE(ctx context.Context, frame []byte) ([]ppe.Detection, error) {
	resized, err := ResizeImage(frame, maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: ppeDetectionPrompt},
				{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	for range maxRetries {
		result, err := d.client.Models.GenerateContent(ctx, geminiModel, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}
		if result.UsageMetadata != nil {
			d.track(int64(result.UsageMetadata.PromptTokenCount), int64(result.UsageMetadata.CandidatesTokenCount))
		}

		content := result.Text()
		dets, err := parseDetections(content)
		if err == nil {
			return dets, nil
		}
		lastError = err

		contents = append(contents,
			&genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: content}},
			},
			&genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: retryPrompt(err)}},
			},
		)
	}
	return nil, fmt.Errorf("failed to parse detections after %d attempts: %w", maxRetries, lastError)
}
