package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// events streams state snapshots as server-sent events until the client
// goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	listener := s.engine.Subscribe()
	defer s.engine.Unsubscribe(listener)

	s.log.Debugf("Event listener connected")
	defer s.log.Debugf("Event listener disconnected")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.Done():
			return
		case snap := <-listener.C:
			data, err := json.Marshal(snap)
			if err != nil {
				s.log.Warnf("Encoding snapshot: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", snap.Version, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
