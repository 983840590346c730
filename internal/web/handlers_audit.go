package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/web/templates"
)

const auditPageSize = 50

// auditFilter reads the shared audit filter query parameters.
func auditFilter(r *http.Request) (templates.AuditFilter, core.AuditLogFilter) {
	q := r.URL.Query()
	form := templates.AuditFilter{
		Action:    q.Get("action"),
		FileID:    q.Get("file"),
		StartDate: q.Get("from"),
		EndDate:   q.Get("to"),
	}
	filter := core.AuditLogFilter{
		Action: core.AuditAction(form.Action),
		FileID: form.FileID,
	}
	if t, err := time.Parse("2006-01-02", form.StartDate); err == nil {
		filter.StartTime = t
	}
	if t, err := time.Parse("2006-01-02", form.EndDate); err == nil {
		filter.EndTime = t.Add(24*time.Hour - time.Millisecond)
	}
	return form, filter
}

// handleAuditLogPage renders the audit log with filtering and pagination.
func (s *Server) handleAuditLogPage(w http.ResponseWriter, r *http.Request) {
	page := parseIntParam(r, "page", 1, 1)
	form, filter := auditFilter(r)
	filter.Limit = auditPageSize
	filter.Offset = (page - 1) * auditPageSize

	entries, err := s.service.AuditLog(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	render(w, r, templates.AuditLogPage(templates.AuditLogParams{
		Entries:  entries,
		Filter:   form,
		Page:     page,
		PageSize: auditPageSize,
	}))
}

// handleAuditLog returns audit entries as JSON.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	_, filter := auditFilter(r)
	filter.Limit = parseIntParam(r, "limit", core.DefaultHistoryLimit, 1)
	filter.Offset = parseIntParam(r, "offset", 0, 0)

	entries, err := s.service.AuditLog(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleAuditLogExport downloads the filtered audit log as CSV.
func (s *Server) handleAuditLogExport(w http.ResponseWriter, r *http.Request) {
	_, filter := auditFilter(r)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"pem-audit-%s.csv\"", time.Now().Format("20060102")))
	if err := s.service.ExportAuditLog(r.Context(), filter, w); err != nil {
		s.respondError(w, r, err)
	}
}
