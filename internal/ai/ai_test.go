package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// Helper functions for creating test images

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// --- ResizeImage tests ---

func TestResizeImage_NoResizeNeeded(t *testing.T) {
	data := encodeJPEG(createTestImage(100, 100, color.White))

	resized, err := ResizeImage(data, 200)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	img, format, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg format, got %s", format)
	}
	if img.Bounds().Dx() != 100 {
		t.Errorf("expected width 100, got %d", img.Bounds().Dx())
	}
}

func TestResizeImage_PNGInputLandscape(t *testing.T) {
	data := encodePNG(createTestImage(1600, 800, color.Black))

	resized, err := ResizeImage(data, 800)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	img, format, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg format, got %s", format)
	}
	if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 400 {
		t.Errorf("expected 800x400, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestResizeImage_InvalidData(t *testing.T) {
	if _, err := ResizeImage([]byte("not an image"), 800); err == nil {
		t.Error("expected error for invalid image data")
	}
}

// --- parseDetections tests ---

func TestParseDetections(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantErr   bool
	}{
		{"plain", `{"detections": [{"class": "helmet", "confidence": 0.9, "box": [1, 2, 3, 4]}]}`, 1, false},
		{"code fence", "```json\n{\"detections\": [{\"class\": \"vest\", \"confidence\": 0.8}]}\n```", 1, false},
		{"empty list", `{"detections": []}`, 0, false},
		{"empty", "", 0, true},
		{"not json", "I see a helmet.", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets, err := parseDetections(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDetections() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(dets) != tt.wantCount {
				t.Errorf("len(detections) = %d, want %d", len(dets), tt.wantCount)
			}
		})
	}
}

func TestParseDetections_ClampsConfidence(t *testing.T) {
	dets, err := parseDetections(`{"detections": [{"class": "helmet", "confidence": 93}, {"class": "boots", "confidence": -1}]}`)
	if err != nil {
		t.Fatalf("parseDetections() error = %v", err)
	}
	if dets[0].Confidence != 1 || dets[1].Confidence != 0 {
		t.Errorf("confidences = %v, %v, want 1, 0", dets[0].Confidence, dets[1].Confidence)
	}
}

// --- provider tests against fake APIs ---

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 0,
		"model":   "gpt-4.1-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
	}
}

func TestOpenAIDetector_DetectPPE(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q, want .../chat/completions", r.URL.Path)
		}
		content := `{"detections": [{"class": "hard hat", "confidence": 0.91}]}`
		if calls.Add(1) == 1 {
			content = "sorry, here you go: helmet"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletion(content))
	}))
	defer server.Close()

	d := NewOpenAIDetector("test-key", option.WithBaseURL(server.URL+"/"), option.WithMaxRetries(0))
	dets, err := d.DetectPPE(context.Background(), encodeJPEG(createTestImage(32, 32, color.White)))
	if err != nil {
		t.Fatalf("DetectPPE() error = %v", err)
	}
	if len(dets) != 1 || dets[0].Class != "hard hat" {
		t.Errorf("detections = %+v, want one hard hat", dets)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one retry after bad JSON)", calls.Load())
	}
	if u := d.GetUsage(); u.Requests != 2 || u.InputTokens != 200 || u.OutputTokens != 40 {
		t.Errorf("usage = %+v, want 2 requests, 200 in, 40 out", u)
	}
}

func TestOpenAIDetector_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	d := NewOpenAIDetector("bad", option.WithBaseURL(server.URL+"/"), option.WithMaxRetries(0))
	if _, err := d.DetectPPE(context.Background(), encodeJPEG(createTestImage(8, 8, color.White))); err == nil {
		t.Error("DetectPPE() expected error")
	}
}

func TestGeminiDetector_DetectPPE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "generateContent") {
			t.Errorf("path = %q, want generateContent", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": `{"detections": [{"class": "vest", "confidence": 0.7, "box": [0, 0, 4, 4]}]}`}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 50, "candidatesTokenCount": 10},
		})
	}))
	defer server.Close()

	d, err := NewGeminiDetectorWithConfig(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: server.URL + "/"},
	})
	if err != nil {
		t.Fatalf("NewGeminiDetectorWithConfig() error = %v", err)
	}

	dets, err := d.DetectPPE(context.Background(), encodeJPEG(createTestImage(16, 16, color.White)))
	if err != nil {
		t.Fatalf("DetectPPE() error = %v", err)
	}
	if len(dets) != 1 || dets[0].Class != "vest" || dets[0].Box[2] != 4 {
		t.Errorf("detections = %+v, want one vest", dets)
	}
	if u := d.GetUsage(); u.InputTokens != 50 || u.OutputTokens != 10 {
		t.Errorf("usage = %+v, want 50 in, 10 out", u)
	}
}
