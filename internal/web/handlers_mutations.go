package web

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/web/templates"
)

// maxEditBody bounds the JSON or form body of an edit request.
const maxEditBody = 64 << 10

// editRequest reads an edit from the body. A JSON body is a full
// core.EditRequest; a form names a single operation in "op" with its
// argument in "arg".
func editRequest(w http.ResponseWriter, r *http.Request) (core.EditRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEditBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req core.EditRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, fmt.Errorf("%w: invalid JSON body: %v", core.ErrUnknownOp, err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return core.EditRequest{}, err
	}
	return core.ParseEditOp(r.PostForm.Get("op"), r.PostForm.Get("arg"))
}

// handleEdit applies an edit and returns the updated record.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	req, err := editRequest(w, r)
	if err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}
	rec, err := s.service.Apply(r.Context(), id, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRevert drops the latest revision.
func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.service.Revert(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteFile removes a file and its revisions.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.Delete(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEditForm applies the file page's edit form. Edit errors are shown
// on the file page itself.
func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	req, err := editRequest(w, r)
	if err == nil {
		_, err = s.service.Apply(r.Context(), id, req)
	}
	s.afterForm(w, r, err)
}

// handleRevertForm is the file page's revert button.
func (s *Server) handleRevertForm(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	_, err = s.service.Revert(r.Context(), id)
	s.afterForm(w, r, err)
}

// afterForm redirects back to the file page, or re-renders it with the
// error when the form failed for a reason the user can fix.
func (s *Server) afterForm(w http.ResponseWriter, r *http.Request, formErr error) {
	id, _ := fileID(r)
	if formErr == nil {
		http.Redirect(w, r, "/files/"+id.String(), http.StatusSeeOther)
		return
	}
	if !core.IsUserFacing(formErr) {
		s.respondError(w, r, formErr)
		return
	}
	detail, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	msg := core.MapError(formErr)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusFor(formErr))
	_ = templates.FilePage(templates.FileParams{Detail: detail, Error: &msg}).Render(r.Context(), w)
}
