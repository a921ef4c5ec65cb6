package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// HealthState backs the liveness, readiness and health endpoints.
type HealthState struct {
	mu         sync.RWMutex
	ready      bool
	startedAt  time.Time
	lastSignal time.Time
	check      ReadinessCheck
	now        func() time.Time
}

func NewHealthState(check ReadinessCheck) *HealthState {
	return &HealthState{startedAt: time.Now(), check: check, now: time.Now}
}

func (h *HealthState) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

func (h *HealthState) SignalReceived() {
	h.mu.Lock()
	h.lastSignal = h.now()
	h.mu.Unlock()
}

func (h *HealthState) isReady(ctx context.Context) (bool, string) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()
	if !ready {
		return false, "starting"
	}
	if h.check != nil {
		if err := h.check(ctx); err != nil {
			return false, err.Error()
		}
	}
	return true, ""
}

func (h *HealthState) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HealthState) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if ok, _ := h.isReady(r.Context()); !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type healthResponse struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Uptime     string `json:"uptime"`
	LastSignal string `json:"last_signal,omitempty"`
}

func (h *HealthState) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok, reason := h.isReady(r.Context())
	h.mu.RLock()
	resp := healthResponse{
		Status: "ok",
		Error:  reason,
		Uptime: h.now().Sub(h.startedAt).Truncate(time.Second).String(),
	}
	if !h.lastSignal.IsZero() {
		resp.LastSignal = h.lastSignal.UTC().Format(time.RFC3339)
	}
	h.mu.RUnlock()

	status := http.StatusOK
	if !ok {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
