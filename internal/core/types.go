package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

var (
	ErrFileNotFound     = errors.New("pem file not found")
	ErrRevisionNotFound = errors.New("revision not found")
	ErrUnknownOp        = errors.New("unknown edit operation")
	// ErrRevisionConflict means the latest revision changed under a revert.
	ErrRevisionConflict = errors.New("latest revision changed, reload and retry")
)

// OpUpload is the operation recorded for the first revision of a file.
const OpUpload = "upload"

// FileRecord describes a stored PEM file and its latest revision.
type FileRecord struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Client     string    `json:"client"`
	LineName   string    `json:"lineName"`
	LoopName   string    `json:"loopName"`
	SurveyType string    `json:"surveyType"`
	Readings   int       `json:"readings"`
	Revision   int       `json:"revision"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Revision is one stored serialization of a file. Revision 0 holds the
// uploaded bytes; every later revision is the result of one edit request.
type Revision struct {
	FileID    uuid.UUID `json:"fileId"`
	Number    int       `json:"number"`
	Op        string    `json:"op"`
	Params    string    `json:"params,omitempty"` // JSON encoded EditRequest
	Content   []byte    `json:"-"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists files, their revisions and the audit log. Implementations
// return ErrFileNotFound and ErrRevisionNotFound for missing rows.
type Store interface {
	CreateFile(ctx context.Context, rec FileRecord, first Revision) error
	ListFiles(ctx context.Context, limit, offset int) ([]FileRecord, error)
	GetFile(ctx context.Context, id uuid.UUID) (FileRecord, error)
	DeleteFile(ctx context.Context, id uuid.UUID) error

	// AddRevision stores rev and makes it the latest revision of its file.
	AddRevision(ctx context.Context, rec FileRecord, rev Revision) error
	GetRevision(ctx context.Context, id uuid.UUID, number int) (Revision, error)
	LatestRevision(ctx context.Context, id uuid.UUID) (Revision, error)
	// ListRevisions returns revisions newest first, without content.
	ListRevisions(ctx context.Context, id uuid.UUID) ([]Revision, error)
	// DeleteLatestRevision drops revision rec.Revision+1 and restores rec as
	// the file summary. It returns ErrRevisionConflict when that revision is
	// no longer the latest.
	DeleteLatestRevision(ctx context.Context, rec FileRecord) error
	// PruneRevisions keeps the newest keep revisions of every file.
	PruneRevisions(ctx context.Context, keep int) (int64, error)

	InsertAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
