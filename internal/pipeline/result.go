package pipeline

import (
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/imaging"
	"github.com/kozaktomas/face-attendance/internal/ppe"
)

// FaceResult describes what happened to one detected face.
type FaceResult struct {
	Index         int                `json:"index"`
	Box           imaging.Box        `json:"box"`
	Match         string             `json:"match"`    // decision before the liveness gate
	Identity      string             `json:"identity"` // final identity
	Similarity    float64            `json:"similarity"`
	Live          bool               `json:"live"`
	Label         string             `json:"label"`
	AlreadyMarked bool               `json:"already_marked,omitempty"`
	Skipped       string             `json:"skipped,omitempty"`
	DeliveryError string             `json:"delivery_error,omitempty"`
	Record        *attendance.Record `json:"-"`
}

// FrameResult is the outcome of one frame.
type FrameResult struct {
	Seq           int64               `json:"seq"`
	Source        string              `json:"source"`
	CapturedAt    time.Time           `json:"captured_at"`
	Faces         []FaceResult        `json:"faces"`
	PPE           *ppe.Verdict        `json:"ppe,omitempty"` // nil when no identity needed it
	PPEStatus     string              `json:"ppe_status,omitempty"`
	Records       []attendance.Record `json:"records,omitempty"`
	DetectorError string              `json:"detector_error,omitempty"`
	Duration      time.Duration       `json:"duration"`
}

// displayLabel renders the on-screen label of a face, e.g. "alice (0.87) [✓PPE]".
// Sentinel identities never carry a PPE tag.
func displayLabel(fr FaceResult, verdict *ppe.Verdict) string {
	label := fmt.Sprintf("%s (%.2f)", fr.Identity, fr.Similarity)
	if constants.IsReservedIdentity(fr.Identity) {
		return label
	}
	if verdict != nil && verdict.Available {
		if verdict.Compliant {
			label += " [✓PPE]"
		} else {
			label += " [✗PPE]"
		}
	}
	return label
}
