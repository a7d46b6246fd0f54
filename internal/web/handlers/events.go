package handlers

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"

	"github.com/kozaktomas/face-attendance/internal/pipeline"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// Sent by the client to pause or resume the stream, e.g. when a browser tab is hidden.
type wsCommand struct {
	Command string `json:"command"`
}

// Every text frame sent to the client has this shape.
type wsMessage struct {
	Type  string                `json:"type"` // "frame"
	Frame *pipeline.FrameResult `json:"frame"`
}

// EventsHandler streams frame results over a websocket
type EventsHandler struct {
	events   *pipeline.Broadcaster
	upgrader websocket.Upgrader
	log      logs.Log
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(events *pipeline.Broadcaster, log logs.Log) *EventsHandler {
	return &EventsHandler{
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: log,
	}
}

// Stream upgrades the connection and sends the last frame followed by every new one.
// Frames produced while the subscriber is slow or paused are dropped.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("Websocket upgrade from %v failed: %v", sanitizeForLog(r.RemoteAddr), err)
		return
	}
	defer conn.Close()

	sub, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	var paused atomic.Bool
	closed := make(chan struct{})
	go h.readCommands(conn, &paused, closed)

	if last, ok := h.events.Last(); ok {
		if err := writeFrame(conn, &last); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case frame, ok := <-sub:
			if !ok {
				return
			}
			if paused.Load() {
				continue
			}
			if err := writeFrame(conn, &frame); err != nil {
				h.log.Debugf("Websocket write failed: %v", err)
				return
			}
		}
	}
}

// readCommands handles client commands until the connection fails.
func (h *EventsHandler) readCommands(conn *websocket.Conn, paused *atomic.Bool, closed chan<- struct{}) {
	defer close(closed)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.log.Infof("Websocket command is not JSON: %v", err)
			continue
		}
		switch cmd.Command {
		case "pause":
			paused.Store(true)
		case "resume":
			paused.Store(false)
		default:
			h.log.Infof("Unknown websocket command '%v'", sanitizeForLog(cmd.Command))
		}
	}
}

func writeFrame(conn *websocket.Conn, frame *pipeline.FrameResult) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(wsMessage{Type: "frame", Frame: frame})
}
