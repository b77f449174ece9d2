package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gocutoff/app"
	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
	"gocutoff/internal/report"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}
	if s.dataset != nil {
		status["samples"] = s.dataset.Cohort.Size()
		_, features := s.dataset.Cohort.Expression.Dims()
		status["features"] = features
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.dataset == nil {
		writeError(w, errors.ConfigInvalid("no cohort loaded: set expression_file and clinical_file"))
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, errors.ValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, errors.WithCode(errors.CodeValidationError, err))
		return
	}

	cfg := *s.config
	cfg.Engine = req.Apply(cfg.Engine)
	if err := cfg.Validate(); err != nil {
		writeError(w, err)
		return
	}

	record, err := s.service.Execute(r.Context(), s.dataset, cfg.Engine.Model, cfg.EngineOptions())
	if err != nil {
		writeError(w, err)
		return
	}

	res := record.Result
	writeJSON(w, http.StatusCreated, RunResponse{
		RunID:          res.RunID.String(),
		Model:          record.Model,
		CohortHash:     string(res.CohortHash),
		AssignmentHash: string(res.AssignmentHash),
		FeatureCount:   len(res.Features),
		SelectedCount:  res.SelectedCount(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	runs, err := s.service.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	page := report.HTML(report.Input{
		Result:      record.Result,
		Model:       record.Model,
		Consistency: record.Consistency,
		Frequencies: record.Frequencies,
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

func (s *Server) handleFolds(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assignment_hash": record.Result.AssignmentHash,
		"folds":           record.Result.Folds,
	})
}

func (s *Server) handleFrequencies(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record.Frequencies)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	out := make([]threshold.FeatureResult, len(record.Result.Features))
	for i, f := range record.Result.Features {
		f.Candidates = nil
		out[i] = f
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	feature, ok := s.loadFeature(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, feature)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	feature, ok := s.loadFeature(w, r)
	if !ok {
		return
	}
	candidates := feature.Candidates
	if candidates == nil {
		candidates = []threshold.CandidateThreshold{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	feature, ok := s.loadFeature(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, feature.Selection)
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*app.RunRecord, bool) {
	id, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.WithCode(errors.CodeInvalidInput, err))
		return nil, false
	}
	record, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return record, true
}

func (s *Server) loadFeature(w http.ResponseWriter, r *http.Request) (*threshold.FeatureResult, bool) {
	record, ok := s.loadRun(w, r)
	if !ok {
		return nil, false
	}
	key := core.FeatureKey(chi.URLParam(r, "feature"))
	feature, found := record.Result.Feature(key)
	if !found {
		writeError(w, errors.NotFound(fmt.Sprintf("feature %s", key)).ForFeature(string(key)))
		return nil, false
	}
	return feature, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
