package ppe

import (
	"fmt"
	"strings"
)

// Box is a detection bounding box in pixels: x1, y1, x2, y2.
type Box [4]float64

// Detection is one raw object reported by a PPE detector.
type Detection struct {
	Class      string  `json:"class"`
	Item       Item    `json:"item,omitempty"` // empty when the class is not PPE
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// ItemStatus is the retained result for one item.
type ItemStatus struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
}

// FrameDetections holds the strongest detection per item plus the raw list.
type FrameDetections struct {
	Items map[Item]ItemStatus
	Raw   []Detection
}

// Aggregate maps each raw class to an item and keeps the highest confidence per item.
// Classes missing from the table are kept in Raw only.
func Aggregate(raw []Detection, table SynonymTable) FrameDetections {
	fd := FrameDetections{
		Items: make(map[Item]ItemStatus),
		Raw:   make([]Detection, 0, len(raw)),
	}
	for _, d := range raw {
		item, ok := table.Lookup(d.Class)
		if !ok {
			d.Item = ""
			fd.Raw = append(fd.Raw, d)
			continue
		}
		d.Item = item
		fd.Raw = append(fd.Raw, d)

		if cur, seen := fd.Items[item]; !seen || d.Confidence > cur.Confidence {
			fd.Items[item] = ItemStatus{Detected: true, Confidence: d.Confidence}
		}
	}
	return fd
}

// Verdict is the compliance result for one frame.
type Verdict struct {
	Available bool                `json:"available"`
	Compliant bool                `json:"compliant"`
	Missing   []Item              `json:"missing"`
	Details   map[Item]ItemStatus `json:"details"`
}

// Reduce aggregates raw detections and checks them against the requirements. An item
// is detected when its retained confidence is at least threshold.
func Reduce(raw []Detection, table SynonymTable, req Requirements, threshold float64) Verdict {
	fd := Aggregate(raw, table)

	v := Verdict{
		Available: true,
		Compliant: true,
		Missing:   []Item{},
		Details:   make(map[Item]ItemStatus),
	}
	for _, item := range req.Required() {
		status := fd.Items[item]
		status.Detected = status.Detected && status.Confidence >= threshold
		v.Details[item] = status
		if !status.Detected {
			v.Compliant = false
			v.Missing = append(v.Missing, item)
		}
	}
	return v
}

// Unavailable is the verdict used when no detector result exists for the frame.
// It never blocks attendance.
func Unavailable() Verdict {
	return Verdict{
		Available: false,
		Compliant: true,
		Missing:   []Item{},
		Details:   map[Item]ItemStatus{},
	}
}

// ItemsPresent returns item -> detected for every evaluated item.
func (v Verdict) ItemsPresent() map[string]bool {
	out := make(map[string]bool, len(v.Details))
	for item, status := range v.Details {
		out[string(item)] = status.Detected
	}
	return out
}

// MeanConfidence averages the confidence of detected items, 0 when none were detected.
func (v Verdict) MeanConfidence() float64 {
	var sum float64
	n := 0
	for _, status := range v.Details {
		if status.Detected {
			sum += status.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// StatusString renders the verdict for display, e.g. "✓ Helmet(0.93) | ✗ Gloves(0.00)".
func StatusString(v Verdict) string {
	if !v.Available {
		return "PPE unavailable"
	}
	parts := make([]string, 0, len(v.Details))
	for _, item := range Items {
		status, ok := v.Details[item]
		if !ok {
			continue
		}
		mark := "✗"
		if status.Detected {
			mark = "✓"
		}
		parts = append(parts, fmt.Sprintf("%s %s(%.2f)", mark, item.Title(), status.Confidence))
	}
	return strings.Join(parts, " | ")
}
