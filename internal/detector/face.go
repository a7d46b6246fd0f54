package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// FaceDetection is a single face as returned by the embedding server.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse is the body of POST /embed/face.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Face is a detected face ready for matching.
type Face struct {
	Index     int
	Embedding []float32
	Box       imaging.Box
	Score     float64
}

// FaceClient detects and embeds faces.
type FaceClient struct {
	client
}

// NewFaceClient creates a client for the face embedding server at baseURL.
func NewFaceClient(baseURL string, timeout time.Duration) *FaceClient {
	return &FaceClient{client: newClient(baseURL, timeout)}
}

// DetectFaces returns every face found in the JPEG frame, possibly none. Faces
// without an embedding or with an unusable box are dropped.
func (c *FaceClient) DetectFaces(ctx context.Context, frame []byte) ([]Face, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", frame, nil)
	if err != nil {
		return nil, err
	}

	var resp FaceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		box, err := imaging.BoxFromCoords(f.BBox)
		if err != nil {
			continue
		}
		faces = append(faces, Face{
			Index:     f.FaceIndex,
			Embedding: f.Embedding,
			Box:       box,
			Score:     f.DetScore,
		})
	}
	return faces, nil
}
