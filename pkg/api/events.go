package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// pingInterval is how often the SSE stream emits a keep-alive pong.
const pingInterval = 15 * time.Second

// handleEvents streams a build's progress topic as Server-Sent Events.
// History is replayed first, so late subscribers see every event in
// order; a terminal status eventually closes the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadBuild(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errdefs.New(errdefs.KindInternal, "streaming not supported"))
		return
	}

	ch, cancel := s.bus.Subscribe(b.ID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, &types.Event{Type: types.EventConnected, BuildID: b.ID, TS: time.Now().UTC()})
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			writeSSE(w, &types.Event{Type: types.EventPong, BuildID: b.ID, TS: time.Now().UTC()})
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				// Topic drained after the terminal status.
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev *types.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.WithComponent("api").Error().Err(err).Msg("Failed to encode event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}
