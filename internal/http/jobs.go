package http

import (
	"log"
	"net/http"
)

func (s *Server) handleListDeadJobs(w http.ResponseWriter, r *http.Request) {
	dead, err := s.queue.ListDead(r.Context(), int64(queryInt(r, "limit", 100)))
	if err != nil {
		log.Printf("list dead jobs error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, dead)
}

func (s *Server) handleRequeueDeadJobs(w http.ResponseWriter, r *http.Request) {
	moved, err := s.queue.RequeueDead(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		log.Printf("requeue dead jobs error: requeued %d before failing: %v", moved, err)
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": moved})
}
