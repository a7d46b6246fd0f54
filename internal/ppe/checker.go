package ppe

import (
	"context"
	"errors"
	"fmt"
)

// Detector finds PPE objects in an encoded frame.
type Detector interface {
	DetectPPE(ctx context.Context, frame []byte) ([]Detection, error)
}

// ErrUnavailable is returned by Check when no detector is configured.
var ErrUnavailable = errors.New("PPE detector unavailable")

// Capability is either a usable detector or the reason there is none.
type Capability struct {
	detector Detector
	reason   string
}

// Available wraps a working detector.
func Available(d Detector) Capability {
	if d == nil {
		return NoDetector("no detector")
	}
	return Capability{detector: d}
}

// NoDetector records why PPE detection is disabled.
func NoDetector(reason string) Capability {
	return Capability{reason: reason}
}

// Detector returns the detector and whether one is available.
func (c Capability) Detector() (Detector, bool) {
	return c.detector, c.detector != nil
}

// Reason explains an unavailable capability.
func (c Capability) Reason() string {
	return c.reason
}

// Checker produces a compliance verdict for a frame.
type Checker struct {
	Capability   Capability
	Synonyms     SynonymTable
	Requirements Requirements
	Threshold    float64
}

// Check runs the detector on frame and reduces the result. When the capability is
// unavailable or the detector fails the degrade-open verdict is returned together
// with the cause, which callers only log.
func (c *Checker) Check(ctx context.Context, frame []byte) (Verdict, error) {
	det, ok := c.Capability.Detector()
	if !ok {
		return Unavailable(), fmt.Errorf("%w: %s", ErrUnavailable, c.Capability.Reason())
	}

	raw, err := det.DetectPPE(ctx, frame)
	if err != nil {
		return Unavailable(), fmt.Errorf("PPE detection failed: %w", err)
	}

	table := c.Synonyms
	if table == nil {
		table = DefaultSynonyms()
	}
	req := c.Requirements
	if req == nil {
		req = AllRequired()
	}
	return Reduce(raw, table, req, c.Threshold), nil
}
