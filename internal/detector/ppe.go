package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/ppe"
)

// PPEDetection is one object in a PPE detection response.
type PPEDetection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

// PPEResponse is the body of POST /detect/ppe.
type PPEResponse struct {
	Detections []PPEDetection `json:"detections"`
}

// PPEClient runs the object detector for protective equipment.
type PPEClient struct {
	client
}

// NewPPEClient creates a client for the PPE detection server at baseURL.
func NewPPEClient(baseURL string, timeout time.Duration) *PPEClient {
	return &PPEClient{client: newClient(baseURL, timeout)}
}

// DetectPPE returns the raw detections for the whole frame.
func (c *PPEClient) DetectPPE(ctx context.Context, frame []byte) ([]ppe.Detection, error) {
	body, err := c.postMultipartImage(ctx, "/detect/ppe", frame, nil)
	if err != nil {
		return nil, err
	}

	var resp PPEResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return ToDetections(resp.Detections), nil
}

// ToDetections converts wire detections. Boxes without four coordinates are zeroed.
func ToDetections(raw []PPEDetection) []ppe.Detection {
	out := make([]ppe.Detection, 0, len(raw))
	for _, d := range raw {
		det := ppe.Detection{Class: d.Class, Confidence: d.Confidence}
		if len(d.Box) == 4 {
			det.Box = ppe.Box{d.Box[0], d.Box[1], d.Box[2], d.Box[3]}
		}
		out = append(out, det)
	}
	return out
}
