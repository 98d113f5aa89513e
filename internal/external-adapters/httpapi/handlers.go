package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	orchestrators "github.com/ochairo/pkgaudit/internal/domain-orchestrators"
	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/repositories"
)

type dependencyBody struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
}

type submitRequest struct {
	Package      string           `json:"package,omitempty"`
	Dependencies []dependencyBody `json:"dependencies,omitempty"`
}

type submitResponse struct {
	RunID string `json:"runId"`
}

type stateResponse struct {
	State       entities.PipelineState    `json:"state"`
	RunID       string                    `json:"runId,omitempty"`
	Environment entities.EnvironmentState `json:"environment"`
}

func (req submitRequest) selection() (entities.DependencySelection, error) {
	if req.Package != "" && len(req.Dependencies) > 0 {
		return nil, fmt.Errorf("set either package or dependencies, not both")
	}
	if req.Package != "" {
		dep, err := entities.ParsePackageSpec(req.Package)
		if err != nil {
			return nil, err
		}
		return entities.DependencySelection{dep}, nil
	}

	selection := make(entities.DependencySelection, 0, len(req.Dependencies))
	for _, dep := range req.Dependencies {
		constraint := dep.Constraint
		if constraint == "" {
			constraint = entities.LatestConstraint
		}
		selection = append(selection, entities.Dependency{Name: dep.Name, Constraint: constraint})
	}
	return selection, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}

	selection, err := req.selection()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.submit(w, selection)
}

func (s *Server) handleSubmitManifest(w http.ResponseWriter, r *http.Request) {
	selection, err := s.manifest.ReadFrom(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.submit(w, selection)
}

func (s *Server) submit(w http.ResponseWriter, selection entities.DependencySelection) {
	runID, err := s.pipeline.Submit(s.runCtx, selection)
	switch {
	case errors.Is(err, orchestrators.ErrRunInProgress):
		writeJSONError(w, http.StatusTooManyRequests, err)
		return
	case errors.Is(err, orchestrators.ErrEmptySelection), errors.Is(err, orchestrators.ErrInvalidSelection):
		writeJSONError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("audit submitted",
		interfaces.F("run_id", runID),
		interfaces.F("dependencies", len(selection)))
	w.Header().Set("Location", "/api/v1/audits/"+runID)
	writeJSON(w, http.StatusAccepted, submitResponse{RunID: runID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.runs.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]runSummaryView, 0, len(records))
	for _, record := range records {
		views = append(views, s.summaryView(record))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.runs.Get(r.Context(), id)
	if errors.Is(err, repositories.ErrRunNotFound) {
		if state, current := s.pipeline.State(); current == id && state.IsActive() {
			writeJSON(w, http.StatusOK, runSummaryView{ID: id, State: state})
			return
		}
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	view, err := s.recordView(record)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	raw, err := s.runs.RawOutput(r.Context(), r.PathValue("id"))
	if errors.Is(err, repositories.ErrRunNotFound) {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state, runID := s.pipeline.State()
	writeJSON(w, http.StatusOK, stateResponse{
		State:       state,
		RunID:       runID,
		Environment: s.pipeline.EnvironmentState(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
