package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/agenticops/agentcd/internal/auth"
	"github.com/agenticops/agentcd/internal/config"
	"github.com/agenticops/agentcd/internal/gate"
	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/promoter"
	"github.com/agenticops/agentcd/internal/rollback"
	"github.com/agenticops/agentcd/internal/store"
)

type Server struct {
	cfg      config.Config
	promoter *promoter.Promoter
	rollback *rollback.Controller
	store    store.Store
	verifier *auth.Verifier
}

func New(cfg config.Config, p *promoter.Promoter, rb *rollback.Controller, st store.Store, v *auth.Verifier) *Server {
	return &Server{cfg: cfg, promoter: p, rollback: rb, store: st, verifier: v}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/environments", s.handleEnvironments)

	r.Route("/pipeline", func(r chi.Router) {
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/approve", s.handleApprove)
		r.Post("/rollback", s.handleRollback)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.store.ListEnvironments(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, envs)
}

type startRunRequest struct {
	Fingerprint string                  `json:"fingerprint"`
	Digest      string                  `json:"digest"`
	Evaluation  models.EvaluationResult `json:"evaluation"`
	ScanReport  models.ScanReport       `json:"scanReport"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	// CI posts scores inline; a bare request falls back to the results
	// file the evaluation step wrote.
	if req.Evaluation == nil {
		results, err := gate.LoadResults(s.cfg.EvalResultsPath)
		if err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		req.Evaluation = results
	}
	run, err := s.promoter.Start(r.Context(), promoter.StartInput{
		Fingerprint: req.Fingerprint,
		Digest:      req.Digest,
		Results:     req.Evaluation,
		Scan:        req.ScanReport,
	})
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	// Gate failures land in the run record, not the transport: the run
	// state and failureReason name the failing stage.
	respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	approver, err := s.verifier.VerifyRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.promoter.Approve(r.Context(), id, approver)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

type rollbackRequest struct {
	Environment   string `json:"environment"`
	AgentID       string `json:"agentId"`
	AliasID       string `json:"aliasId"`
	TargetVersion int    `json:"targetVersion"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	actor, err := s.verifier.VerifyRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req rollbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.rollback.Rollback(r.Context(), rollback.Request{
		Environment:   models.EnvironmentName(req.Environment),
		AgentID:       req.AgentID,
		AliasID:       req.AliasID,
		TargetVersion: req.TargetVersion,
		Actor:         actor,
	}); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"environment":   req.Environment,
		"targetVersion": req.TargetVersion,
		"ok":            true,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrEnvironmentBusy), errors.Is(err, pipeline.ErrImmutableTagConflict):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
