package web

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// uploadBody returns the file name and content of an upload. Multipart
// requests carry the file in the "file" field; any other body is the file
// itself, named by the "name" query parameter.
func (s *Server) uploadBody(w http.ResponseWriter, r *http.Request) (string, io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartOverhead)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "upload.pem"
		}
		return filepath.Base(name), r.Body, nil
	}

	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil, errors.New("no file provided")
	}
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(strings.ReplaceAll(header.Filename, `\`, "/")), file, nil
}

// handleUpload stores a new file and returns its record.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, body, err := s.uploadBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer body.Close()

	rec, err := s.service.Upload(r.Context(), name, body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/files/"+rec.ID.String())
	writeJSON(w, http.StatusCreated, rec)
}

// handleUploadForm is the dashboard upload form.
func (s *Server) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	name, body, err := s.uploadBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer body.Close()

	rec, err := s.service.Upload(r.Context(), name, body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	http.Redirect(w, r, "/files/"+rec.ID.String(), http.StatusSeeOther)
}

