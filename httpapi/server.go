// Package httpapi exposes a Dispatcher over HTTP.
//
// Callers POST a signed call to /v1/relay. The signature resolves the origin
// account; the payload is an engine.RawCall that is relayed untouched. A
// signed request is accepted once.
//
// GET /v1/quota/{account} is public: quota usage is not treated as secret,
// the same way the ledger state of an account is readable by anyone on
// chain. Put the route behind the host's own auth if that does not hold.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ineyio/quotarelay"
	"github.com/ineyio/quotarelay/engine"
	"github.com/ineyio/quotarelay/identity"
)

const maxBodyBytes = 1 << 20

// Server serves the relay API.
type Server struct {
	dispatcher *quotarelay.Dispatcher
	verifier   *identity.Verifier
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer exposes metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server.
func New(d *quotarelay.Dispatcher, v *identity.Verifier, opts ...Option) *Server {
	s := &Server{dispatcher: d, verifier: v}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/relay", s.handleRelay)
	r.Get("/v1/quota/{account}", s.handleQuota)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// RelayResponse is the JSON body returned by /v1/relay.
type RelayResponse struct {
	ID           string `json:"id"`
	Account      string `json:"account"`
	Session      uint64 `json:"session"`
	Forwarded    bool   `json:"forwarded"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Fee          string `json:"fee"`
	FeeWeight    uint64 `json:"fee_weight"`
	Used         uint32 `json:"used"`
	ActualWeight uint64 `json:"actual_weight,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req identity.SignedRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	account, err := s.verifier.Authenticate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var call engine.RawCall
	if err := json.Unmarshal(req.Payload, &call); err != nil || call.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payload must be a call"})
		return
	}

	out, err := s.dispatcher.Submit(r.Context(), quotarelay.CallEnvelope{
		Origin: quotarelay.Origin{Account: account},
		Call:   call,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := RelayResponse{
		ID:           out.ID,
		Account:      string(out.Account),
		Session:      uint64(out.Session),
		Forwarded:    out.Forwarded,
		Success:      out.Forwarded && out.Result.Succeeded(),
		Fee:          out.Fee.Kind.String(),
		FeeWeight:    out.Fee.Weight,
		Used:         out.Record.Used,
		ActualWeight: out.Result.Info.ActualWeight,
	}
	if err := out.Err(); err != nil {
		resp.Error = err.Error()
	}

	status := http.StatusOK
	if !out.Forwarded {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, resp)
}

// handleQuota serves an account's usage without authentication.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	account := quotarelay.Account(chi.URLParam(r, "account"))
	status, err := s.dispatcher.Quota(r.Context(), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, quotarelay.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case quotarelay.IsStorageFailure(err):
		s.logger.Error("relay storage failure",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "quota ledger unavailable"})
	default:
		s.logger.Error("relay failed",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
