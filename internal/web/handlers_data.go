package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/logging"
	"github.com/JonMunkholm/pemtool/internal/web/templates"
)

// handleDashboard renders the file list page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	files, err := s.service.List(r.Context(), core.DefaultHistoryLimit, 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	render(w, r, templates.Dashboard(templates.DashboardParams{
		Files:   files,
		Uploads: s.service.UploadLimiterStatus(),
	}))
}

// handleFilePage renders one file at its latest revision.
func (s *Server) handleFilePage(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	detail, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	render(w, r, templates.FilePage(templates.FileParams{Detail: detail}))
}

// handleListFiles returns stored files, most recently changed first.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", core.DefaultHistoryLimit, 1)
	offset := parseIntParam(r, "offset", 0, 0)

	files, err := s.service.List(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if files == nil {
		files = []core.FileRecord{}
	}
	writeJSON(w, http.StatusOK, files)
}

// handleGetFile returns a file record with its parsed summary.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	detail, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FileResponse{
		File:      detail.Record,
		Summary:   summarizeFile(detail.File),
		Revisions: detail.Revisions,
	})
}

// handleRevisions lists a file's revisions, newest first.
func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	revs, err := s.service.Revisions(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

// handleExport downloads a revision, the latest unless ?revision= is set.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	revision := -1
	if v := r.URL.Query().Get("revision"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondErrorStatus(w, r, fmt.Errorf("%w: %q", core.ErrRevisionNotFound, v), http.StatusBadRequest)
			return
		}
		revision = n
	}

	out, err := s.service.Export(r.Context(), id, revision)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Name))
	w.Header().Set("X-PEM-Revision", strconv.Itoa(out.Revision))
	if out.Location != "" {
		w.Header().Set("X-PEM-Archive", out.Location)
	}
	_, _ = w.Write(out.Content)
}

// render writes an HTML component, logging render failures.
func render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render failed", "path", r.URL.Path, "error", err)
	}
}
