package bridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/figbridge/auth"
	"github.com/hazyhaar/figbridge/horosafe"
	"github.com/hazyhaar/figbridge/jobq"
	"github.com/hazyhaar/figbridge/shield"
)

// HandlerConfig selects the optional parts of the HTTP surface.
type HandlerConfig struct {
	Token string
	// Instrument wraps every routed request, typically metrics.
	Instrument func(http.Handler) http.Handler
	// Metrics is served unauthenticated at /metrics when set.
	Metrics http.Handler
	// MCP is served at /mcp behind the bearer token when set.
	MCP http.Handler
}

// Handler builds the full HTTP surface: /health, the bearer-protected
// executor API under /api, and the optional /metrics and /mcp endpoints.
func (s *Service) Handler(cfg HandlerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer)
	for _, mw := range shield.DefaultBridgeStack(s.logger, s.maxBody) {
		r.Use(mw)
	}
	if cfg.Instrument != nil {
		r.Use(cfg.Instrument)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Token, s.logger))
		r.Route("/api", s.Routes)
		if cfg.MCP != nil {
			r.Handle("/mcp", cfg.MCP)
		}
	})
	return r
}

// Routes registers the executor API on r. Authentication is the caller's
// concern.
func (s *Service) Routes(r chi.Router) {
	r.Get("/jobs/next", s.handleNextJob)
	r.Post("/jobs/{id}/complete", s.handleComplete)
	r.Post("/jobs/{id}/error", s.handleFail)
	r.Get("/read-request", s.handleReadRequest)
	r.Post("/read-request/{id}/response", s.handleReadResponse)
	r.Get("/status", s.handleStatus)
}

const (
	msgJobConflict = "job not found or not in_progress"
	msgReadUnknown = "read request not found"
)

func (s *Service) handleNextJob(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.queue.NextJob()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.logger.Info("job claimed", "job_id", snap.ID, "ops", snap.OpCount)
	writeJSON(w, http.StatusOK, map[string]any{"id": snap.ID, "ops": snap.Ops})
}

type completeBody struct {
	Result json.RawMessage `json:"result"`
}

func (s *Service) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if !s.decode(w, r, &body) {
		return
	}
	if !isObject(body.Result) {
		writeError(w, http.StatusBadRequest, errors.New("result must be a JSON object"))
		return
	}
	id := chi.URLParam(r, "id")
	if horosafe.ValidateIdentifier(id) != nil || !s.queue.Jobs.Complete(id, body.Result) {
		writeError(w, http.StatusNotFound, errors.New(msgJobConflict))
		return
	}
	shield.GetLogger(r.Context()).Info("job completed", "job_id", id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type failBody struct {
	Error *string `json:"error"`
}

func (s *Service) handleFail(w http.ResponseWriter, r *http.Request) {
	var body failBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Error == nil {
		writeError(w, http.StatusBadRequest, errors.New("error must be a string"))
		return
	}
	id := chi.URLParam(r, "id")
	if horosafe.ValidateIdentifier(id) != nil || !s.queue.Jobs.Fail(id, *body.Error) {
		writeError(w, http.StatusNotFound, errors.New(msgJobConflict))
		return
	}
	shield.GetLogger(r.Context()).Info("job failed", "job_id", id, "error", *body.Error)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handleReadRequest(w http.ResponseWriter, _ *http.Request) {
	req, ok := s.queue.PendingRead()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "depth": req.Depth})
}

type readResponseBody struct {
	Data json.RawMessage `json:"data"`
}

func (s *Service) handleReadResponse(w http.ResponseWriter, r *http.Request) {
	var body readResponseBody
	if !s.decode(w, r, &body) {
		return
	}
	if !isObject(body.Data) {
		writeError(w, http.StatusBadRequest, errors.New("data must be a JSON object"))
		return
	}
	id := chi.URLParam(r, "id")
	if horosafe.ValidateIdentifier(id) != nil || !s.queue.Reads.Fulfill(id, body.Data) {
		writeError(w, http.StatusNotFound, errors.New(msgReadUnknown))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type statusResponse struct {
	Attached bool               `json:"attached"`
	LastPoll *time.Time         `json:"lastPoll"`
	Jobs     map[jobq.State]int `json:"jobs"`
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Attached: s.queue.Live.IsAttached(),
		Jobs:     make(map[jobq.State]int),
	}
	if t, ok := s.queue.Live.LastPoll(); ok {
		resp.LastPoll = &t
	}
	for state, n := range s.queue.Jobs.Counts() {
		resp.Jobs[state] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a bounded JSON body into v. It writes 413 or 400 and
// returns false on failure.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := horosafe.LimitedReadAll(r.Body, s.maxBody)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.Is(err, horosafe.ErrTooLarge) || errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		shield.GetLogger(r.Context()).Debug("bad request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func isObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return len(raw) > 0 && json.Unmarshal(raw, &m) == nil && m != nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
