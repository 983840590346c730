// Package templates renders the server's HTML pages as templ components.
// The components live in the .templ files; run `templ generate` after
// editing them.
package templates

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/pem"
)

// DashboardParams holds the data for the file list page.
type DashboardParams struct {
	Files   []core.FileRecord
	Uploads core.UploadLimiterStatus
}

// FileParams holds the data for the file detail page.
type FileParams struct {
	Detail *core.FileDetail
	Error  *core.UserMessage
}

// AuditFilter is the filter form state, as submitted.
type AuditFilter struct {
	Action    string
	FileID    string
	StartDate string
	EndDate   string
}

// Query encodes the filter for links.
func (f AuditFilter) Query() string {
	v := url.Values{}
	for k, val := range map[string]string{"action": f.Action, "file": f.FileID, "from": f.StartDate, "to": f.EndDate} {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v.Encode()
}

// AuditLogParams holds the data for the audit log page.
type AuditLogParams struct {
	Entries  []core.AuditEntry
	Filter   AuditFilter
	Page     int
	PageSize int
}

var navItems = []struct{ key, href, label string }{
	{"files", "/", "Files"},
	{"audit", "/audit-log", "Audit log"},
}

// editOps are the operations offered by the edit form, with the argument
// each one takes.
var editOps = []struct{ op, label, arg string }{
	{pem.OpAverage, "Average", ""},
	{pem.OpSplitChannels, "Split channels", ""},
	{pem.OpScaleCurrent, "Scale current", "new current (A)"},
	{pem.OpScaleCoilArea, "Scale coil area", "new coil area (m²)"},
	{pem.OpShiftStations, "Shift stations", "amount"},
	{pem.OpReverseComponent, "Reverse component", "X, Y or Z"},
}

var auditActions = []core.AuditAction{
	core.ActionUpload, core.ActionEdit, core.ActionRevert,
	core.ActionExport, core.ActionDelete, core.ActionPrune,
}

func editHints() string {
	hints := make([]string, 0, len(editOps))
	for _, op := range editOps {
		if op.arg != "" {
			hints = append(hints, fmt.Sprintf("%s: %s.", op.label, op.arg))
		}
	}
	return strings.Join(hints, " ")
}

// fileSummary lists the header facts shown on the file page.
func fileSummary(f *pem.File) [][2]string {
	comps := make([]string, 0, 3)
	for _, c := range f.Components() {
		comps = append(comps, string(c))
	}
	return [][2]string{
		{"Client", f.Header.Client},
		{"Grid", f.Header.Grid},
		{"Line / Hole", f.Header.LineName},
		{"Loop", f.Header.LoopName},
		{"Date", f.Header.Date},
		{"Survey type", f.Header.SurveyType},
		{"Units", string(f.Tags.Units)},
		{"Current", strconv.FormatFloat(f.Tags.Current, 'g', -1, 64)},
		{"Coil area", strconv.FormatFloat(f.Header.CoilArea, 'g', -1, 64)},
		{"Channels", strconv.Itoa(f.Header.NumChannels)},
		{"Readings", strconv.Itoa(len(f.Readings))},
		{"Stations", strings.Join(f.Stations(), ", ")},
		{"Components", strings.Join(comps, ", ")},
		{"Averaged", yesNo(f.IsAveraged())},
		{"Split", yesNo(f.IsSplit())},
	}
}

// fileURL links to a file page, or to one of its form actions.
func fileURL(id string, action ...string) templ.SafeURL {
	u := "/files/" + url.PathEscape(id)
	for _, a := range action {
		u += "/" + a
	}
	return templ.SafeURL(u)
}

// exportURL downloads revision rev of a file, or the latest when rev < 0.
func exportURL(id string, rev int) templ.SafeURL {
	u := "/api/files/" + url.PathEscape(id) + "/export"
	if rev >= 0 {
		u += "?revision=" + strconv.Itoa(rev)
	}
	return templ.SafeURL(u)
}

func auditExportURL(f AuditFilter) templ.SafeURL {
	return templ.SafeURL("/api/audit-log/export?" + f.Query())
}

func auditPageURL(f AuditFilter, page int) templ.SafeURL {
	q := f.Query()
	if q != "" {
		q += "&"
	}
	return templ.SafeURL("/audit-log?" + q + "page=" + strconv.Itoa(page))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
