package attendance

import (
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/ppe"
)

// Record is one attendance event sent to the attendance API. The JSON field names
// are the API's contract.
type Record struct {
	ID                 uuid.UUID       `json:"-"`
	Identity           string          `json:"name"`
	RecognitionSeconds float64         `json:"recognition_time_seconds"`
	PPECompliant       bool            `json:"ppe_compliant"`
	PPEItems           map[string]bool `json:"ppe_items"`
	PPEConfidence      float64         `json:"ppe_confidence"`
	CapturedAt         time.Time       `json:"-"`
}

// NewRecord builds the record for identity. Recognition latency is the time from
// frame capture to now and is never negative.
func NewRecord(identity string, capturedAt, now time.Time, verdict ppe.Verdict) Record {
	latency := now.Sub(capturedAt).Seconds()
	if latency < 0 || capturedAt.IsZero() {
		latency = 0
	}
	return Record{
		ID:                 uuid.New(),
		Identity:           identity,
		RecognitionSeconds: latency,
		PPECompliant:       verdict.Compliant,
		PPEItems:           verdict.ItemsPresent(),
		PPEConfidence:      verdict.MeanConfidence(),
		CapturedAt:         capturedAt,
	}
}
