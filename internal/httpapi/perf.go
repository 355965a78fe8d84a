package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics()
	if m == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, m.SnapshotStages())
}

func (s *Server) handlePerfLatencyReset(w http.ResponseWriter, _ *http.Request) {
	s.metrics().ResetStages()
	respondJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}
