// Package server exposes the dialogue engine over HTTP: a buffered chat
// endpoint, a server-sent-events stream mirroring the pipeline's stage
// events, and a health probe.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/voclabs/supportflow/engine"
	"github.com/voclabs/supportflow/logging"
)

// Options configure the HTTP server.
type Options struct {
	Logger logging.Logger
	// Healthcheck is pinged by GET /health; nil means always healthy.
	Healthcheck func(r *http.Request) error
}

// Server wires the engine into a chi router.
type Server struct {
	engine *engine.Engine
	logger logging.Logger
	health func(r *http.Request) error
	router chi.Router
}

// New builds the server and its routes.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &Server{engine: eng, logger: opts.Logger, health: opts.Healthcheck}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))

	r.Get("/health", s.handleHealth)
	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r); err != nil {
			s.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat runs one turn and returns the terminal outcome as a single JSON
// document.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	res, err := s.engine.Respond(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleChatStream runs one turn and relays every pipeline event over SSE.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, errCh := s.engine.Process(r.Context(), req)
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("failed to marshal stream event", "error", err)
			continue
		}
		if err := writeSSE(w, string(ev.Type), string(data)); err != nil {
			s.logger.Warn("failed to write SSE event", "error", err)
			return
		}
		flusher.Flush()
	}
	if err := <-errCh; err != nil {
		s.logger.Error("pipeline failed", "session_id", req.SessionID, "error", err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		if werr := writeSSE(w, "error", string(payload)); werr != nil {
			s.logger.Warn("failed to write SSE error event", "error", werr)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return req, false
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return req, false
	}
	if req.RequestID == "" {
		req.RequestID = chiMiddleware.GetReqID(r.Context())
	}
	return req, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, req engine.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptyMessage), errors.Is(err, engine.ErrMissingSessionID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("chat turn failed", "session_id", req.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
