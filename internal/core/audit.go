package core

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pemtool/internal/logging"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionUpload AuditAction = "upload"
	ActionEdit   AuditAction = "edit"
	ActionRevert AuditAction = "revert"
	ActionExport AuditAction = "export"
	ActionDelete AuditAction = "delete"
	ActionPrune  AuditAction = "prune"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        string        `json:"id"`
	Action    AuditAction   `json:"action"`
	Severity  AuditSeverity `json:"severity"`
	FileID    string        `json:"fileId,omitempty"`
	FileName  string        `json:"fileName,omitempty"`
	Revision  int           `json:"revision"`
	Actor     string        `json:"actor,omitempty"`
	IPAddress string        `json:"ipAddress,omitempty"`
	UserAgent string        `json:"userAgent,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// AuditLogParams contains parameters for creating an audit log entry.
// Actor, IP address and user agent are taken from the context.
type AuditLogParams struct {
	Action   AuditAction
	FileID   string
	FileName string
	Revision int
	Detail   string
}

// AuditLogFilter contains filtering options for querying audit logs.
type AuditLogFilter struct {
	FileID    string
	Action    AuditAction
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// DefaultHistoryLimit is the page size used when a filter sets none.
const DefaultHistoryLimit = 100

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionEdit, ActionRevert:
		return SeverityHigh
	case ActionDelete:
		return SeverityCritical
	case ActionExport, ActionPrune:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// LogAudit records an audit entry. Failures are logged, not returned, so
// an unavailable audit table never fails the audited operation.
func (s *Service) LogAudit(ctx context.Context, params AuditLogParams) *AuditEntry {
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Action:    params.Action,
		Severity:  determineSeverity(params.Action),
		FileID:    params.FileID,
		FileName:  params.FileName,
		Revision:  params.Revision,
		Actor:     GetActorFromContext(ctx),
		IPAddress: GetIPAddressFromContext(ctx),
		UserAgent: GetUserAgentFromContext(ctx),
		Detail:    params.Detail,
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.InsertAudit(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn("audit log write failed",
			"action", entry.Action,
			"file_id", entry.FileID,
			"error", err,
		)
		return nil
	}
	return &entry
}

// AuditLog retrieves audit log entries with optional filtering, newest first.
func (s *Service) AuditLog(ctx context.Context, filter AuditLogFilter) ([]AuditEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.EndTime.IsZero() {
		filter.EndTime = s.now().Add(24 * time.Hour)
	}
	return s.store.ListAudit(ctx, filter)
}

// ExportLimit caps the entries written by ExportAuditLog.
const ExportLimit = 10000

// ExportAuditLog writes the entries matching filter to w as CSV.
func (s *Service) ExportAuditLog(ctx context.Context, filter AuditLogFilter, w io.Writer) error {
	filter.Limit = ExportLimit
	filter.Offset = 0
	entries, err := s.AuditLog(ctx, filter)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ID", "Timestamp", "Action", "Severity", "File ID", "File Name", "Revision", "Actor", "IP Address", "Detail"})
	for _, e := range entries {
		_ = cw.Write([]string{
			e.ID,
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			string(e.Action),
			string(e.Severity),
			e.FileID,
			e.FileName,
			strconv.Itoa(e.Revision),
			e.Actor,
			e.IPAddress,
			e.Detail,
		})
	}
	cw.Flush()
	return cw.Error()
}
