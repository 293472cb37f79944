package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/leapstack-labs/leapask/internal/llm"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/internal/prompt"
	"github.com/leapstack-labs/leapask/internal/state"
)

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	// Charts defaults to true.
	Charts *bool `json:"charts,omitempty"`
	// Code includes the generated program in the response.
	Code bool `json:"code,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"model":    s.pipeline.Model(),
		"datasets": len(s.pipeline.Registry().Names()),
	})
}

func (s *Server) listDatasets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Registry().Summaries())
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, sum := range s.pipeline.Registry().Summaries() {
		if sum.Name == name {
			writeJSON(w, http.StatusOK, sum)
			return
		}
	}
	_, err := s.pipeline.Registry().Lookup(name)
	writeError(w, http.StatusNotFound, err, "unknown_dataset")
}

func (s *Server) schema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Registry().SchemaContext())
}

func (s *Server) examples(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, prompt.ExampleQuestions)
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body: "+err.Error()), "bad_request")
		return
	}

	if err := s.asks.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, err, "cancelled")
		return
	}
	defer s.asks.Release(1)

	charts := req.Charts == nil || *req.Charts
	ans, err := s.pipeline.Ask(r.Context(), req.Question, pipeline.AskOptions{NoCharts: !charts})
	if err != nil {
		status, kind := classify(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("ask failed", slog.String("error", err.Error()), slog.String("kind", kind))
		}
		writeError(w, status, err, kind)
		return
	}
	writeJSON(w, http.StatusOK, ans.Report(req.Code))
}

// classify maps an Ask error onto a status code and error kind.
func classify(err error) (int, string) {
	if errors.Is(err, pipeline.ErrEmptyQuestion) {
		return http.StatusBadRequest, "empty_question"
	}
	var genErr *llm.GenerationError
	if errors.As(err, &genErr) {
		if genErr.Kind == llm.KindTimeout {
			return http.StatusGatewayTimeout, string(genErr.Kind)
		}
		return http.StatusBadGateway, string(genErr.Kind)
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) listAsks(w http.ResponseWriter, r *http.Request) {
	limit := state.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"), "bad_request")
			return
		}
		limit = n
	}
	entries, err := s.pipeline.History().List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, "internal")
		return
	}
	if entries == nil {
		entries = []*state.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getAsk(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid ask id"), "bad_request")
		return
	}
	entry, err := s.pipeline.History().Get(r.Context(), id)
	if err != nil {
		var nf *state.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, err, "not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, err, "internal")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, kind string) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
