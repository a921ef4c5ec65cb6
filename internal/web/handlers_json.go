package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const maxAttemptsLimit = 500

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "Journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAttemptsLimit)
	}

	attempts, err := s.journal.ListAttempts(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list attempts", zap.Error(err))
		http.Error(w, "Failed to list attempts", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "Journal disabled", http.StatusNotFound)
		return
	}
	orders, err := s.journal.ListOrders(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reconciler.Locks())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
