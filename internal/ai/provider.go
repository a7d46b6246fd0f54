// Package ai detects protective equipment with hosted vision language models.
package ai

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/detector"
	"github.com/kozaktomas/face-attendance/internal/ppe"
)

//go:embed prompts/ppe_detection.txt
var ppeDetectionPrompt string

// maxImageSize is the longest side of frames uploaded to a model.
const maxImageSize = 800

// maxRetries bounds how often a model is asked to fix unparsable output.
const maxRetries = 3

// Usage tracks token usage of a provider.
type Usage struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type usageTracker struct {
	mu    sync.Mutex
	usage Usage
}

func (u *usageTracker) track(inputTokens, outputTokens int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.Requests++
	u.usage.InputTokens += int(inputTokens)
	u.usage.OutputTokens += int(outputTokens)
}

// GetUsage returns a copy of the accumulated usage.
func (u *usageTracker) GetUsage() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

// parseDetections decodes a model answer. Models sometimes wrap JSON in a markdown
// code fence, which is stripped first.
func parseDetections(content string) ([]ppe.Detection, error) {
	content = stripCodeFence(content)
	if content == "" {
		return nil, errors.New("empty response")
	}

	var resp detector.PPEResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("invalid detection JSON: %w", err)
	}

	dets := detector.ToDetections(resp.Detections)
	for i := range dets {
		dets[i].Confidence = clamp01(dets[i].Confidence)
	}
	return dets, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func retryPrompt(err error) string {
	return fmt.Sprintf("JSON parse error: %v. Please answer again with valid JSON in the requested shape.", err)
}
