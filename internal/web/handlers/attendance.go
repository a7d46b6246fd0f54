package handlers

import (
	"net/http"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

const maxAttendanceLimit = 1000

// AttendanceHandler lists marked identities and, when an audit store is
// configured, the recorded delivery attempts.
type AttendanceHandler struct {
	tracker *attendance.Tracker
	audit   database.AttendanceReader
	log     logs.Log
}

// NewAttendanceHandler creates a new attendance handler. audit may be nil.
func NewAttendanceHandler(tracker *attendance.Tracker, audit database.AttendanceReader, log logs.Log) *AttendanceHandler {
	return &AttendanceHandler{tracker: tracker, audit: audit, log: log}
}

// AttendanceResponse represents the attendance listing
type AttendanceResponse struct {
	Marked    []attendance.Status        `json:"marked"`
	Delivered int                        `json:"delivered"`
	Events    []database.AttendanceEvent `json:"events,omitempty"`
	Audited   bool                       `json:"audited"`
}

// List returns the session's marked identities in marking order plus recent audit rows
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, constants.DefaultRecentAttendanceLimit, maxAttendanceLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	resp := AttendanceResponse{Marked: h.markedStatuses()}
	resp.Delivered = len(resp.Marked)

	if h.audit != nil {
		events, err := h.audit.Recent(r.Context(), limit)
		if err != nil {
			h.log.Errorf("Failed to read attendance events: %v", err)
			respondError(w, http.StatusInternalServerError, "failed to read attendance events")
			return
		}
		delivered, err := h.audit.CountDelivered(r.Context())
		if err != nil {
			h.log.Errorf("Failed to count delivered events: %v", err)
			respondError(w, http.StatusInternalServerError, "failed to read attendance events")
			return
		}
		resp.Events = events
		resp.Delivered = delivered
		resp.Audited = true
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *AttendanceHandler) markedStatuses() []attendance.Status {
	out := []attendance.Status{}
	if h.tracker == nil {
		return out
	}
	byID := make(map[string]attendance.Status)
	for _, s := range h.tracker.Snapshot() {
		byID[s.Identity] = s
	}
	for _, id := range h.tracker.Marked() {
		s, ok := byID[id]
		if !ok {
			// marked between the two reads
			s = attendance.Status{Identity: id, State: attendance.Marked.String()}
		}
		out = append(out, s)
	}
	return out
}
