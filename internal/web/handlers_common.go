package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/pem"
)

// multipartOverhead is allowed on top of the file size limit for the
// multipart framing and form fields.
const multipartOverhead = 1 << 20

// parseIntParam parses an integer query parameter with a default value.
// Values below min fall back to the default.
func parseIntParam(r *http.Request, name string, defaultVal, min int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < min {
		return defaultVal
	}
	return i
}

// fileID parses the {id} route parameter. A malformed id is reported as
// not found.
func fileID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", core.ErrFileNotFound, raw)
	}
	return id, nil
}

// FileSummary is the parsed view of a file's latest revision.
type FileSummary struct {
	Format      int             `json:"format"`
	Units       pem.Units       `json:"units"`
	Operator    string          `json:"operator"`
	Current     float64         `json:"current"`
	CoilArea    float64         `json:"coilArea"`
	Grid        string          `json:"grid"`
	Date        string          `json:"date"`
	Receiver    string          `json:"receiver"`
	Timebase    float64         `json:"timebase"`
	NumChannels int             `json:"numChannels"`
	Stations    []string        `json:"stations"`
	Components  []pem.Component `json:"components"`
	Averaged    bool            `json:"averaged"`
	Split       bool            `json:"split"`
	Borehole    bool            `json:"borehole"`
	Notes       []string        `json:"notes"`
}

// FileResponse is the JSON body of GET /api/files/{id}.
type FileResponse struct {
	File      core.FileRecord `json:"file"`
	Summary   FileSummary     `json:"summary"`
	Revisions []core.Revision `json:"revisions"`
}

func summarizeFile(f *pem.File) FileSummary {
	return FileSummary{
		Format:      f.Tags.Format,
		Units:       f.Tags.Units,
		Operator:    f.Tags.Operator,
		Current:     f.Tags.Current,
		CoilArea:    f.Header.CoilArea,
		Grid:        f.Header.Grid,
		Date:        f.Header.Date,
		Receiver:    f.Header.Receiver,
		Timebase:    f.Header.Timebase,
		NumChannels: f.Header.NumChannels,
		Stations:    f.Stations(),
		Components:  f.Components(),
		Averaged:    f.IsAveraged(),
		Split:       f.IsSplit(),
		Borehole:    f.IsBorehole(),
		Notes:       f.Notes,
	}
}
