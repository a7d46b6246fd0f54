package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// LivenessResponse is the body of POST /liveness.
type LivenessResponse struct {
	Live  bool    `json:"live"`
	Score float64 `json:"score"`
}

// LivenessClient asks the anti-spoof server whether a face crop is a live person.
type LivenessClient struct {
	client
}

// NewLivenessClient creates a client for the anti-spoof server at baseURL.
func NewLivenessClient(baseURL string, timeout time.Duration) *LivenessClient {
	return &LivenessClient{client: newClient(baseURL, timeout)}
}

// IsLive sends the face crop together with the face box in frame coordinates.
func (c *LivenessClient) IsLive(ctx context.Context, crop []byte, box imaging.Box) (bool, error) {
	coords := box.Coords()
	bbox := fmt.Sprintf("%d,%d,%d,%d", coords[0], coords[1], coords[2], coords[3])

	body, err := c.postMultipartImage(ctx, "/liveness", crop, map[string]string{"bbox": bbox})
	if err != nil {
		return false, err
	}

	var resp LivenessResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Live, nil
}
