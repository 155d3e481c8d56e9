package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mediscan/analysis-server/internal/domain"
)

// stageEvent is one pipeline stage transition pushed to websocket clients.
type stageEvent struct {
	AnalysisID string               `json:"analysis_id"`
	Stage      domain.AnalysisStage `json:"stage"`
	Terminal   bool                 `json:"terminal"`
	Timestamp  time.Time            `json:"timestamp"`
}

// ProgressHub fans pipeline stage transitions out to websocket
// subscribers. It implements the ProgressSink interface so the analyzer
// stays unaware of the transport.
type ProgressHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan stageEvent]struct{}
	log         *logrus.Logger
}

// NewProgressHub creates an empty hub.
func NewProgressHub(logger *logrus.Logger) *ProgressHub {
	return &ProgressHub{
		subscribers: make(map[string]map[chan stageEvent]struct{}),
		log:         logger,
	}
}

// Publish delivers a stage transition to every subscriber of the
// analysis. Slow subscribers are skipped rather than blocking the
// pipeline.
func (h *ProgressHub) Publish(analysisID string, stage domain.AnalysisStage) {
	event := stageEvent{
		AnalysisID: analysisID,
		Stage:      stage,
		Terminal:   stage.IsTerminal(),
		Timestamp:  time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[analysisID] {
		select {
		case ch <- event:
		default:
			h.log.WithFields(logrus.Fields{
				"analysis_id": analysisID,
				"stage":       stage,
			}).Warn("Progress subscriber too slow, dropping event")
		}
	}
}

// Subscribe registers a listener for one analysis. The returned cancel
// function must be called to release the subscription.
func (h *ProgressHub) Subscribe(analysisID string) (<-chan stageEvent, func()) {
	ch := make(chan stageEvent, 16)

	h.mu.Lock()
	if h.subscribers[analysisID] == nil {
		h.subscribers[analysisID] = make(map[chan stageEvent]struct{})
	}
	h.subscribers[analysisID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subscribers[analysisID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.subscribers, analysisID)
			}
		}
	}
	return ch, cancel
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the MEDiscan frontend origin; the
	// REST surface already allows any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// progressWindow bounds how long an idle progress stream stays open.
var progressWindow = 5 * time.Minute

// handleProgressStream upgrades the connection and streams stage
// transitions for one analysis until a terminal stage or disconnect.
func (s *Server) handleProgressStream(c *gin.Context) {
	analysisID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(analysisID)
	defer cancel()

	// Drain client frames so close messages are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	deadline := time.NewTimer(progressWindow)
	defer deadline.Stop()

	for {
		select {
		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Terminal {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(event.Stage)))
				return
			}
		case <-clientGone:
			return
		case <-deadline.C:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "progress window expired"))
			return
		}
	}
}
