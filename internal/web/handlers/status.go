package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/ai"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
	"github.com/kozaktomas/face-attendance/internal/ppe"
)

// StatusInfo is the static part of the status response, fixed at startup.
type StatusInfo struct {
	Version      string
	Gallery      gallery.Summary
	IndexBackend string
	Threshold    float64
	PPE          ppe.Capability
	Liveness     bool
	SinkURL      string
}

// StatusHandler reports what the running pipeline is doing
type StatusHandler struct {
	info    StatusInfo
	tracker *attendance.Tracker
	events  *pipeline.Broadcaster
	started time.Time
	now     func() time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(info StatusInfo, tracker *attendance.Tracker, events *pipeline.Broadcaster) *StatusHandler {
	return &StatusHandler{
		info:    info,
		tracker: tracker,
		events:  events,
		started: time.Now(),
		now:     time.Now,
	}
}

type ppeStatus struct {
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	Model     string    `json:"model,omitempty"`
	Usage     *ai.Usage `json:"usage,omitempty"`
}

// Vision model backends report their model and token usage.
type modelDetector interface {
	Name() string
	GetUsage() ai.Usage
}

func newPPEStatus(c ppe.Capability) ppeStatus {
	det, ok := c.Detector()
	if !ok {
		return ppeStatus{Reason: c.Reason()}
	}
	s := ppeStatus{Available: true}
	if m, ok := det.(modelDetector); ok {
		usage := m.GetUsage()
		s.Model = m.Name()
		s.Usage = &usage
	}
	return s
}

// StatusResponse represents the status response
type StatusResponse struct {
	Version       string                `json:"version"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	Gallery       gallery.Summary       `json:"gallery"`
	Recognition   bool                  `json:"recognition_enabled"`
	IndexBackend  string                `json:"index_backend"`
	Threshold     float64               `json:"threshold"`
	Liveness      bool                  `json:"liveness_enabled"`
	PPE           ppeStatus             `json:"ppe"`
	SinkURL       string                `json:"sink_url"`
	MarkedCount   int                   `json:"marked_count"`
	Identities    []attendance.Status   `json:"identities"`
	LastFrame     *pipeline.FrameResult `json:"last_frame,omitempty"`
}

// Get returns gallery, tracker and last frame state
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:       h.info.Version,
		UptimeSeconds: h.now().Sub(h.started).Seconds(),
		Gallery:       h.info.Gallery,
		Recognition:   h.info.Gallery.Entries > 0,
		IndexBackend:  h.info.IndexBackend,
		Threshold:     h.info.Threshold,
		Liveness:      h.info.Liveness,
		PPE:           newPPEStatus(h.info.PPE),
		SinkURL:       h.info.SinkURL,
		Identities:    []attendance.Status{},
	}
	if h.tracker != nil {
		resp.MarkedCount = h.tracker.MarkedCount()
		resp.Identities = h.tracker.Snapshot()
	}
	if h.events != nil {
		if last, ok := h.events.Last(); ok {
			resp.LastFrame = &last
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
