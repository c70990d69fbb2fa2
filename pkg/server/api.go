package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/overlay"
)

type categoryResponse struct {
	ID      string                 `json:"id"`
	Label   string                 `json:"label"`
	Sources []boundary.LayerSource `json:"sources"`
}

type selectRequest struct {
	Category string `json:"category"`
}

type selectResponse struct {
	Category   string   `json:"category"`
	Generation uint64   `json:"generation"`
	Requested  int      `json:"requested"`
	Rendered   int      `json:"rendered"`
	Failed     []string `json:"failed,omitempty"`
	Discarded  int      `json:"discarded"`
	Complete   bool     `json:"complete"`
}

func newSelectResponse(category string, report overlay.Report, complete bool) selectResponse {
	resp := selectResponse{
		Category:   category,
		Generation: report.Generation,
		Requested:  report.Requested,
		Rendered:   report.Rendered,
		Discarded:  report.Discarded,
		Complete:   complete,
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, f.Path)
	}
	return resp
}

func (s *Server) handleAPICategories(w http.ResponseWriter, r *http.Request) {
	categories := s.registry.Categories()
	resp := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		resp = append(resp, categoryResponse{ID: c.ID, Label: c.Label, Sources: c.Sources})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAPIOverlays returns the overlays currently drawn on the caller's view
func (s *Server) handleAPIOverlays(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.viewFor(w, r)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, v.Overlays())
}

// handleAPISelect selects a category on the caller's view and reports the
// outcome of its loads, or what is known when SelectWait runs out
func (s *Server) handleAPISelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, core.NewValidationError(core.ErrInvalidInput, "request body must be a JSON object with a category"))
		return
	}

	v, err := s.sessions.viewFor(w, r)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}

	batch, err := v.Select(r.Context(), req.Category)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SelectWait)
	defer cancel()
	select {
	case <-batch.Done():
		s.writeJSON(w, http.StatusOK, newSelectResponse(req.Category, batch.Wait(), true))
	case <-ctx.Done():
		s.writeJSON(w, http.StatusAccepted, newSelectResponse(req.Category, overlay.Report{Category: req.Category}, false))
	}
}

// boundaryFiles serves the boundary data directory under each category's
// prefix, the paths the registry hands to the fetcher
func (s *Server) boundaryFiles(mux *http.ServeMux, data fs.FS) {
	files := http.FileServerFS(data)
	for _, c := range s.registry.Categories() {
		mux.Handle("GET /"+c.ID+"/", files)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	var mcpErr *core.MCPError
	if !errors.As(err, &mcpErr) {
		mcpErr = core.NewError(core.ErrInternalError, http.StatusText(status))
	}
	s.writeJSON(w, status, mcpErr)
}
