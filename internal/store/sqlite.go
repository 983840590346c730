package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/schema"
)

var _ core.Store = (*SQLite)(nil)

// SQLite is a core.Store in a single database file, for the CLI and for
// single-node deployments.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and creates the tables.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "pem.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema.SQLite {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQLite) CreateFile(ctx context.Context, rec core.FileRecord, first core.Revision) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO pem_files
			(id, name, client, line_name, loop_name, survey_type, readings, revision, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID.String(), rec.Name, rec.Client, rec.LineName, rec.LoopName, rec.SurveyType,
			rec.Readings, rec.Revision, millis(rec.CreatedAt), millis(rec.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		return insertRevisionSQLite(ctx, tx, first)
	})
}

func insertRevisionSQLite(ctx context.Context, tx *sql.Tx, rev core.Revision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pem_revisions
		(file_id, number, op, params, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rev.FileID.String(), rev.Number, rev.Op, nullString(rev.Params), rev.Content, millis(rev.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("insert revision %d: duplicate key: %w", rev.Number, err)
	}
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFileSQLite(row scanner) (core.FileRecord, error) {
	var (
		rec              core.FileRecord
		id               string
		created, updated int64
	)
	err := row.Scan(&id, &rec.Name, &rec.Client, &rec.LineName, &rec.LoopName,
		&rec.SurveyType, &rec.Readings, &rec.Revision, &created, &updated)
	if err != nil {
		return rec, err
	}
	if rec.ID, err = uuid.Parse(id); err != nil {
		return rec, fmt.Errorf("file id %q: %w", id, err)
	}
	rec.CreatedAt, rec.UpdatedAt = fromMillis(created), fromMillis(updated)
	return rec, nil
}

func (s *SQLite) ListFiles(ctx context.Context, limit, offset int) ([]core.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM pem_files
		ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.FileRecord
	for rows.Next() {
		rec, err := scanFileSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) GetFile(ctx context.Context, id uuid.UUID) (core.FileRecord, error) {
	rec, err := scanFileSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM pem_files WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, core.ErrFileNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("get file: %w", err)
	}
	return rec, nil
}

func (s *SQLite) DeleteFile(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pem_revisions WHERE file_id = ?`, id.String()); err != nil {
			return fmt.Errorf("delete revisions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM pem_files WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("delete file: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrFileNotFound
		}
		return nil
	})
}

func (s *SQLite) AddRevision(ctx context.Context, rec core.FileRecord, rev core.Revision) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertRevisionSQLite(ctx, tx, rev); err != nil {
			return err
		}
		return updateFileSQLite(ctx, tx, rec)
	})
}

func updateFileSQLite(ctx context.Context, tx *sql.Tx, rec core.FileRecord) error {
	res, err := tx.ExecContext(ctx, `UPDATE pem_files SET
		client = ?, line_name = ?, loop_name = ?, survey_type = ?,
		readings = ?, revision = ?, updated_at = ?
		WHERE id = ?`,
		rec.Client, rec.LineName, rec.LoopName, rec.SurveyType,
		rec.Readings, rec.Revision, millis(rec.UpdatedAt), rec.ID.String())
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrFileNotFound
	}
	return nil
}

func scanRevisionSQLite(row scanner, withContent bool) (core.Revision, error) {
	var (
		rev     core.Revision
		fileID  string
		params  sql.NullString
		created int64
		err     error
	)
	if withContent {
		err = row.Scan(&fileID, &rev.Number, &rev.Op, &params, &rev.Content, &created)
		rev.Size = len(rev.Content)
	} else {
		err = row.Scan(&fileID, &rev.Number, &rev.Op, &params, &rev.Size, &created)
	}
	if err != nil {
		return rev, err
	}
	if rev.FileID, err = uuid.Parse(fileID); err != nil {
		return rev, fmt.Errorf("file id %q: %w", fileID, err)
	}
	rev.Params = params.String
	rev.CreatedAt = fromMillis(created)
	return rev, nil
}

func (s *SQLite) GetRevision(ctx context.Context, id uuid.UUID, number int) (core.Revision, error) {
	rev, err := scanRevisionSQLite(s.db.QueryRowContext(ctx, `SELECT file_id, number, op, params, content, created_at
		FROM pem_revisions WHERE file_id = ? AND number = ?`, id.String(), number), true)
	if errors.Is(err, sql.ErrNoRows) {
		return rev, core.ErrRevisionNotFound
	}
	if err != nil {
		return rev, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

func (s *SQLite) LatestRevision(ctx context.Context, id uuid.UUID) (core.Revision, error) {
	rev, err := scanRevisionSQLite(s.db.QueryRowContext(ctx, `SELECT file_id, number, op, params, content, created_at
		FROM pem_revisions WHERE file_id = ? ORDER BY number DESC LIMIT 1`, id.String()), true)
	if errors.Is(err, sql.ErrNoRows) {
		return rev, core.ErrFileNotFound
	}
	if err != nil {
		return rev, fmt.Errorf("latest revision: %w", err)
	}
	return rev, nil
}

func (s *SQLite) ListRevisions(ctx context.Context, id uuid.UUID) ([]core.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_id, number, op, params, length(content), created_at
		FROM pem_revisions WHERE file_id = ? ORDER BY number DESC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Revision
	for rows.Next() {
		rev, err := scanRevisionSQLite(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteLatestRevision(ctx context.Context, rec core.FileRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM pem_revisions WHERE file_id = ? AND number = ?
			AND number = (SELECT revision FROM pem_files WHERE id = ?)`,
			rec.ID.String(), rec.Revision+1, rec.ID.String())
		if err != nil {
			return fmt.Errorf("delete revision: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("revert to %d: %w", rec.Revision, core.ErrRevisionConflict)
		}
		return updateFileSQLite(ctx, tx, rec)
	})
}

func (s *SQLite) PruneRevisions(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, schema.PruneSQLite, keep)
	if err != nil {
		return 0, fmt.Errorf("prune revisions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) InsertAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pem_audit_log
		(id, action, severity, file_id, file_name, revision, actor, ip_address, user_agent, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Action), string(e.Severity), nullString(e.FileID), nullString(e.FileName),
		e.Revision, nullString(e.Actor), nullString(e.IPAddress), nullString(e.UserAgent),
		nullString(e.Detail), millis(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *SQLite) ListAudit(ctx context.Context, f core.AuditLogFilter) ([]core.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, action, severity, file_id, file_name, revision,
			actor, ip_address, user_agent, detail, created_at
		FROM pem_audit_log
		WHERE (? = '' OR file_id = ?)
		  AND (? = '' OR action = ?)
		  AND created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		f.FileID, f.FileID, string(f.Action), string(f.Action),
		millis(f.StartTime), millis(f.EndTime), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e                                     core.AuditEntry
			created                               int64
			fileID, fileName, actor, ip, ua, note sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Severity, &fileID, &fileName, &e.Revision,
			&actor, &ip, &ua, &note, &created); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.FileID, e.FileName = fileID.String, fileName.String
		e.Actor, e.IPAddress, e.UserAgent, e.Detail = actor.String, ip.String, ua.String, note.String
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
