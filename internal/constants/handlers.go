// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Collaborator constants
const (
	// DefaultCollaboratorTimeout bounds calls to the face, liveness and PPE model servers
	DefaultCollaboratorTimeout = 10 * time.Second

	// DefaultSnapshotInterval is the polling interval of the HTTP snapshot frame source
	DefaultSnapshotInterval = 200 * time.Millisecond

	// MaxSnapshotBytes caps the size of one camera snapshot
	MaxSnapshotBytes = 32 << 20

	// MaxResponseBytes caps the JSON body read from a model server
	MaxResponseBytes = 8 << 20
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// Handler constants
const (
	// DefaultRecentAttendanceLimit is the number of audit rows returned by default
	DefaultRecentAttendanceLimit = 50

	// DefaultRateLimitPerMinute is the per-IP request budget of the status API
	DefaultRateLimitPerMinute = 120
)
