// Package statusapi serves a read-only view of running workflows, the agent
// fleet and live progress events over HTTP.
package statusapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/services"
	"github.com/camerontarget14/resilio-connect-scripts/internal/telemetry"
)

// Source is what the status API reads from. *services.Orchestrator
// implements it.
type Source interface {
	Workflows() []domain.Workflow
	Workflow(id domain.WorkflowID) (domain.Workflow, error)
	Agents() []domain.Agent
	Bus() *services.EventBus
}

type Server struct {
	logger         *slog.Logger
	src            Source
	metrics        *telemetry.Metrics
	allowedOrigins []string
}

func NewServer(logger *slog.Logger, src Source, metrics *telemetry.Metrics, allowedOrigins []string) *Server {
	return &Server{
		logger:         logger,
		src:            src,
		metrics:        metrics,
		allowedOrigins: allowedOrigins,
	}
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/agents", s.handleListAgents)
		r.Get("/events", s.handleEvents)
		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Get("/{id}", s.handleGetWorkflow)
			r.Get("/{id}/events", s.handleWorkflowEvents)
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.src.Workflows()})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := domain.WorkflowID(chi.URLParam(r, "id"))
	wf, err := s.src.Workflow(id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.src.Agents()})
}

// handleEvents streams every event, or one topic with ?topic=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = services.TopicAll
	}
	s.streamTopic(w, r, topic)
}

func (s *Server) handleWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	id := domain.WorkflowID(chi.URLParam(r, "id"))
	if _, err := s.src.Workflow(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.streamTopic(w, r, string(id))
}

func (s *Server) streamTopic(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the headers go out so a client that saw the 200 sees
	// every later event.
	ch, unsub := s.src.Bus().Subscribe(topic)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "message": msg})
}
