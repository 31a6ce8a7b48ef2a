// Package httpapi exposes the session's status and command surface over a
// small JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"traderd/internal/domain"
	"traderd/internal/session"
)

// Server serves the session status HTTP API.
type Server struct {
	session *session.Session
	log     *slog.Logger
}

// NewServer creates a server over the given session.
func NewServer(sess *session.Session, log *slog.Logger) *Server {
	return &Server{
		session: sess,
		log:     log.With("component", "httpapi"),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/universes", s.handleUniverses)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("POST /api/orders/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/cancel-all", s.handleCancelAll)
	mux.HandleFunc("POST /api/reconnect", s.handleReconnect)
	return mux
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("status API listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"connection_state"`
	session.Status
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID: s.session.ID(),
		State:     s.session.ConnectionState().String(),
		Status:    s.session.Status(r.Context()),
	})
}

type universeResponse struct {
	Name        string              `json:"name"`
	Instruments []domain.Instrument `json:"instruments"`
}

func (s *Server) handleUniverses(w http.ResponseWriter, r *http.Request) {
	universes, err := s.session.Universes(r.Context())
	if err != nil {
		s.log.Error("listing universes", "error", err)
		writeError(w, http.StatusInternalServerError, "listing universes failed")
		return
	}

	out := make([]universeResponse, 0, len(universes))
	for _, u := range universes {
		out = append(out, universeResponse{Name: u.Name, Instruments: u.Instruments()})
	}
	writeJSON(w, http.StatusOK, out)
}

type orderResponse struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Side       domain.Side        `json:"side"`
	Qty        string             `json:"qty"`
	LimitPrice string             `json:"limit_price"`
	Status     domain.OrderStatus `json:"status"`
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	orders := s.session.Book().OpenOrders()
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderResponse{
			ID:         o.ID,
			Symbol:     o.Symbol,
			Side:       o.Side,
			Qty:        o.Qty.String(),
			LimitPrice: o.LimitPrice.String(),
			Status:     o.Status,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type positionResponse struct {
	Account     string  `json:"account"`
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"qty"`
	AvgCost     float64 `json:"avg_cost"`
	MarketValue float64 `json:"market_value"`
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	items := s.session.Portfolio().Items()
	out := make([]positionResponse, 0, len(items))
	for _, item := range items {
		out = append(out, positionResponse{
			Account:     item.Account,
			Symbol:      item.Instrument.Symbol,
			Qty:         item.Qty,
			AvgCost:     item.AvgCost,
			MarketValue: item.MarketValue,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.session.CancelOrder(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrUnknownOrder):
		writeError(w, http.StatusNotFound, "unknown order")
	case errors.Is(err, session.ErrNotOwner):
		writeError(w, http.StatusForbidden, "order owned by another session")
	case err != nil:
		s.log.Error("cancelling order", "order_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "cancel failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"cancelled": id})
	}
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if err := s.session.GlobalCancel(r.Context()); err != nil {
		s.log.Error("global cancel", "error", err)
		writeError(w, http.StatusBadGateway, "global cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled_all": true})
}

func (s *Server) handleReconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.Reconnect(); err != nil {
		s.log.Error("forcing reconnect", "error", err)
		writeError(w, http.StatusBadGateway, "reconnect failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"reconnecting": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
