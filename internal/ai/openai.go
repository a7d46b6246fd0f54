package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kozaktomas/face-attendance/internal/ppe"
)

const chatModel = openai.ChatModelGPT4_1Mini

// OpenAIDetector finds PPE with an OpenAI vision model.
type OpenAIDetector struct {
	usageTracker
	client *openai.Client
}

// NewOpenAIDetector creates a detector. Extra request options (for example a base
// URL) are passed to the client.
func NewOpenAIDetector(apiKey string, opts ...option.RequestOption) *OpenAIDetector {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIDetector{client: &client}
}

func (d *OpenAIDetector) Name() string {
	return chatModel
}

// DetectPPE asks the model for PPE detections in frame.
func (d *OpenAIDetector) DetectPPE(ctx context.Context, frame []byte) ([]ppe.Detection, error) {
	resized, err := ResizeImage(frame, maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized)

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(ppeDetectionPrompt),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart("Detect the protective equipment in this frame."),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    imageURL,
							Detail: "low",
						}),
					},
				},
			},
		},
	}

	var lastError error
	for range maxRetries {
		resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    chatModel,
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			MaxTokens: openai.Int(500),
		})
		if err != nil {
			return nil, fmt.Errorf("OpenAI API error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("no response from OpenAI")
		}
		d.track(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		content := resp.Choices[0].Message.Content
		dets, err := parseDetections(content)
		if err == nil {
			return dets, nil
		}
		lastError = err

		messages = append(messages,
			openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(content),
					},
				},
			},
			openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(retryPrompt(err)),
					},
				},
			},
		)
	}
	return nil, fmt.Errorf("failed to parse detections after %d attempts: %w", maxRetries, lastError)
}
