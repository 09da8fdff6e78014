package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/stepforge/agentd/internal/types"
)

// StreamHub fans steps out to WebSocket subscribers as the engine
// appends them. Publish satisfies engine.StepObserver.
type StreamHub struct {
	mu     sync.RWMutex
	subs   map[chan types.Step]struct{}
	logger *slog.Logger
}

// NewStreamHub creates an empty hub.
func NewStreamHub(logger *slog.Logger) *StreamHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHub{
		subs:   make(map[chan types.Step]struct{}),
		logger: logger.With("component", "stream"),
	}
}

// Publish delivers a step to every subscriber. A slow subscriber drops
// steps instead of blocking the run; the stream is best-effort and the
// store always has the complete history.
func (h *StreamHub) Publish(step types.Step) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- step:
		default:
		}
	}
}

func (h *StreamHub) subscribe() chan types.Step {
	ch := make(chan types.Step, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *StreamHub) unsubscribe(ch chan types.Step) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// handleRunStream upgrades to a WebSocket and streams step events as
// they are recorded. An optional ?run_id= query filters to one run.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "step streaming not enabled")
		return
	}

	runFilter := r.URL.Query().Get("run_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host dashboards; no auth surface here
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended") //nolint:errcheck

	s.logger.Info("step stream connected", "remote", r.RemoteAddr, "run_id", runFilter)

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	// We never expect client frames; CloseRead surfaces disconnects
	// through the returned context.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case step := <-ch:
			if runFilter != "" && step.RunID != runFilter {
				continue
			}
			if err := wsjson.Write(ctx, conn, step); err != nil {
				s.logger.Debug("step stream write failed", "error", err)
				return
			}
		}
	}
}
