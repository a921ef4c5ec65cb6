package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// webhookPayload accepts both our own field names and the TradingView
// placeholder names ({{ticker}}, {{strategy.order.action}}).
type webhookPayload struct {
	Symbol string `json:"symbol"`
	Ticker string `json:"ticker"`
	Side   string `json:"side"`
	Action string `json:"action"`
	Secret string `json:"secret"`
}

func (p webhookPayload) symbol() string {
	if p.Symbol != "" {
		return p.Symbol
	}
	return p.Ticker
}

func (p webhookPayload) side() string {
	if p.Side != "" {
		return p.Side
	}
	return p.Action
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeWebhook(r)
	if err != nil {
		s.logger.Warn("Rejected webhook payload", zap.Error(err))
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if s.cfg.Secret != "" && subtle.ConstantTimeCompare([]byte(payload.Secret), []byte(s.cfg.Secret)) != 1 {
		s.logger.Warn("Webhook secret mismatch", zap.String("remote", r.RemoteAddr))
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid secret"})
		return
	}
	if err := payload.validate(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	instrument := s.cfg.Normalize(payload.symbol())
	if instrument == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing symbol"})
		return
	}
	target, err := domain.ParseDirection(payload.side())
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.health.SignalReceived()
	s.logger.Info("Signal received",
		zap.String("instrument", instrument),
		zap.String("target", string(target)),
		zap.String("raw_side", payload.side()),
	)

	// A client disconnect must not abort a reconciliation halfway through.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.ReconcileTimeout)
	defer cancel()

	outcome := s.reconciler.Reconcile(ctx, instrument, target)
	s.writeJSON(w, http.StatusOK, outcome)
}

// decodeWebhook reads a JSON object from the body. TradingView posts alerts
// as text/plain, so the content type is not checked.
func decodeWebhook(r *http.Request) (webhookPayload, error) {
	var p webhookPayload
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return p, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return p, errors.New("empty payload")
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, errors.New("invalid payload: expected a JSON object")
	}
	return p, nil
}

func (p webhookPayload) validate() error {
	if strings.TrimSpace(p.symbol()) == "" {
		return errors.New("missing symbol")
	}
	if strings.TrimSpace(p.side()) == "" {
		return errors.New("missing side")
	}
	return nil
}
