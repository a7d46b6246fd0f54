// Package recognition turns similarity scores and liveness results into identities.
package recognition

import (
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/index"
)

// Policy decides whether a match is strong enough to name the face.
type Policy struct {
	Threshold float64
}

// NewPolicy returns a policy with the given threshold.
func NewPolicy(threshold float64) Policy {
	return Policy{Threshold: threshold}
}

// Decide returns the matched identity when its similarity reaches the threshold,
// otherwise Unknown. The comparison is inclusive.
func (p Policy) Decide(m index.Match) string {
	if m.Identity == "" || m.Similarity < p.Threshold {
		return constants.UnknownIdentity
	}
	return m.Identity
}

// ApplyLiveness overrides any decision with Spoof Detected when the face is not live.
func ApplyLiveness(identity string, live bool) string {
	if !live {
		return constants.SpoofIdentity
	}
	return identity
}

// Markable reports whether identity names a real person that may be marked present.
func Markable(identity string) bool {
	return identity != "" && !constants.IsReservedIdentity(identity)
}
