// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Identity sentinels
const (
	// UnknownIdentity is reported when no gallery entry is similar enough
	UnknownIdentity = "Unknown"

	// SpoofIdentity replaces any decision when the liveness check fails
	SpoofIdentity = "Spoof Detected"
)

// Gallery constants
const (
	// EmbeddingsFileName is the per-identity embeddings file inside each gallery subdirectory
	EmbeddingsFileName = "embeddings.csv"

	// NormTolerance is the allowed deviation from unit length for normalized embeddings
	NormTolerance = 1e-5
)

// Face matching constants
const (
	// DefaultMatchThreshold is the minimum cosine similarity for a gallery match
	DefaultMatchThreshold = 0.65

	// DefaultHNSWCandidates is the number of HNSW neighbors re-ranked by exact similarity
	DefaultHNSWCandidates = 8
)

// Liveness constants
const (
	// LivenessCropSize is the side length in pixels of the anti-spoof crop
	LivenessCropSize = 80
)

// PPE constants
const (
	// DefaultPPEConfidence is the minimum detector confidence for a PPE item to count as worn
	DefaultPPEConfidence = 0.5
)

// Attendance delivery constants
const (
	// DefaultSinkURL is the attendance API endpoint
	DefaultSinkURL = "http://localhost:3000/mark-attendance"

	// DefaultSinkTimeout bounds a single delivery attempt
	DefaultSinkTimeout = 3 * time.Second

	// DefaultRetryInitialInterval is the first wait after a failed delivery
	DefaultRetryInitialInterval = time.Second

	// DefaultRetryMaxInterval caps the wait between delivery attempts for one identity
	DefaultRetryMaxInterval = 30 * time.Second
)

// IsReservedIdentity reports whether name collides with an identity sentinel.
func IsReservedIdentity(name string) bool {
	return name == UnknownIdentity || name == SpoofIdentity
}
