package database

import (
	"time"
)

// StoredEmbedding is one enrolled gallery vector.
type StoredEmbedding struct {
	ID        int64
	Identity  string
	Embedding []float32
	Dim       int
	Source    string // file or tool the vector was enrolled from
	CreatedAt time.Time
}

// Neighbor is a gallery row ranked by cosine similarity to a query.
type Neighbor struct {
	ID         int64
	Identity   string
	Similarity float64
}

// AttendanceEvent is one audited delivery attempt.
type AttendanceEvent struct {
	ID                 string          `json:"id"`
	Identity           string          `json:"name"`
	Delivered          bool            `json:"delivered"`
	StatusCode         int             `json:"status_code,omitempty"`
	Error              string          `json:"error,omitempty"`
	RecognitionSeconds float64         `json:"recognition_time_seconds"`
	PPEAvailable       bool            `json:"ppe_available"`
	PPECompliant       bool            `json:"ppe_compliant"`
	PPEItems           map[string]bool `json:"ppe_items"`
	PPEMissing         []string        `json:"ppe_missing,omitempty"`
	PPEConfidence      float64         `json:"ppe_confidence"`
	CapturedAt         time.Time       `json:"captured_at"`
	CreatedAt          time.Time       `json:"created_at"`
}
