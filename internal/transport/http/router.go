package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
)

// NewRouter mounts the websocket endpoint, session creation, health and metrics.
func NewRouter(service *app.QuizService, conn *app.ConnectivityMonitor, log zerolog.Logger) http.Handler {
	ws := NewWSHandler(service, log)
	sessions := &sessionHandler{service: service, log: log.With().Str("component", "http").Logger()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}
		if conn != nil {
			status["sinkOnline"] = conn.Online()
		}
		writeJSON(w, http.StatusOK, status)
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /sessions", sessions.create)
	mux.HandleFunc("GET /ws", ws.ServeWS)
	return mux
}

type sessionHandler struct {
	service *app.QuizService
	log     zerolog.Logger
}

func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req app.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "invalid request body"})
		return
	}
	if req.UserID == "" || req.Topic == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "userId and topic are required"})
		return
	}
	if req.TimeLimitSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "timeLimitSeconds must not be negative"})
		return
	}

	session, err := h.service.Create(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrEmptyQuestionSet), errors.Is(err, domain.ErrInvalidQuestionSet):
		writeJSON(w, http.StatusUnprocessableEntity, errorPayload{Message: err.Error()})
		return
	case err != nil:
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("create session failed")
		writeJSON(w, http.StatusBadGateway, errorPayload{Message: "could not create session"})
		return
	}
	writeJSON(w, http.StatusCreated, clientView(session))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
