package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/pemtool/internal/config"
	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/schema"
)

var _ core.Store = (*Postgres)(nil)

// pgUniqueViolation is the SQLSTATE for a unique constraint failure.
const pgUniqueViolation = "23505"

// Postgres is a core.Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool configured from cfg, verifies it and
// creates the tables.
func OpenPostgres(ctx context.Context, cfg config.StoreConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Postgres{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range schema.Postgres {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Postgres) inTx(ctx context.Context, fn func(q core.DBTX) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) CreateFile(ctx context.Context, rec core.FileRecord, first core.Revision) error {
	return s.inTx(ctx, func(q core.DBTX) error {
		_, err := q.Exec(ctx, `INSERT INTO pem_files
			(id, name, client, line_name, loop_name, survey_type, readings, revision, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.Name, rec.Client, rec.LineName, rec.LoopName, rec.SurveyType,
			rec.Readings, rec.Revision, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		return insertRevisionPg(ctx, q, first)
	})
}

func insertRevisionPg(ctx context.Context, q core.DBTX, rev core.Revision) error {
	_, err := q.Exec(ctx, `INSERT INTO pem_revisions
		(file_id, number, op, params, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rev.FileID, rev.Number, rev.Op, toPgText(rev.Params), rev.Content, rev.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("insert revision %d: duplicate key: %w", rev.Number, err)
	}
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

const fileColumns = `id, name, client, line_name, loop_name, survey_type, readings, revision, created_at, updated_at`

func scanFilePg(row pgx.Row) (core.FileRecord, error) {
	var rec core.FileRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.Client, &rec.LineName, &rec.LoopName,
		&rec.SurveyType, &rec.Readings, &rec.Revision, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func (s *Postgres) ListFiles(ctx context.Context, limit, offset int) ([]core.FileRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+fileColumns+` FROM pem_files
		ORDER BY updated_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []core.FileRecord
	for rows.Next() {
		rec, err := scanFilePg(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) GetFile(ctx context.Context, id uuid.UUID) (core.FileRecord, error) {
	rec, err := scanFilePg(s.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM pem_files WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, core.ErrFileNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("get file: %w", err)
	}
	return rec, nil
}

func (s *Postgres) DeleteFile(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pem_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrFileNotFound
	}
	return nil
}

func (s *Postgres) AddRevision(ctx context.Context, rec core.FileRecord, rev core.Revision) error {
	return s.inTx(ctx, func(q core.DBTX) error {
		if err := insertRevisionPg(ctx, q, rev); err != nil {
			return err
		}
		return updateFilePg(ctx, q, rec)
	})
}

func updateFilePg(ctx context.Context, q core.DBTX, rec core.FileRecord) error {
	tag, err := q.Exec(ctx, `UPDATE pem_files SET
		client = $2, line_name = $3, loop_name = $4, survey_type = $5,
		readings = $6, revision = $7, updated_at = $8
		WHERE id = $1`,
		rec.ID, rec.Client, rec.LineName, rec.LoopName, rec.SurveyType,
		rec.Readings, rec.Revision, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrFileNotFound
	}
	return nil
}

func scanRevisionPg(row pgx.Row, withContent bool) (core.Revision, error) {
	var (
		rev    core.Revision
		params pgtype.Text
		size   int
	)
	var err error
	if withContent {
		err = row.Scan(&rev.FileID, &rev.Number, &rev.Op, &params, &rev.Content, &rev.CreatedAt)
		size = len(rev.Content)
	} else {
		err = row.Scan(&rev.FileID, &rev.Number, &rev.Op, &params, &size, &rev.CreatedAt)
	}
	rev.Params = params.String
	rev.Size = size
	return rev, err
}

func (s *Postgres) GetRevision(ctx context.Context, id uuid.UUID, number int) (core.Revision, error) {
	rev, err := scanRevisionPg(s.pool.QueryRow(ctx, `SELECT file_id, number, op, params, content, created_at
		FROM pem_revisions WHERE file_id = $1 AND number = $2`, id, number), true)
	if errors.Is(err, pgx.ErrNoRows) {
		return rev, core.ErrRevisionNotFound
	}
	if err != nil {
		return rev, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

func (s *Postgres) LatestRevision(ctx context.Context, id uuid.UUID) (core.Revision, error) {
	rev, err := scanRevisionPg(s.pool.QueryRow(ctx, `SELECT file_id, number, op, params, content, created_at
		FROM pem_revisions WHERE file_id = $1 ORDER BY number DESC LIMIT 1`, id), true)
	if errors.Is(err, pgx.ErrNoRows) {
		return rev, core.ErrFileNotFound
	}
	if err != nil {
		return rev, fmt.Errorf("latest revision: %w", err)
	}
	return rev, nil
}

func (s *Postgres) ListRevisions(ctx context.Context, id uuid.UUID) ([]core.Revision, error) {
	rows, err := s.pool.Query(ctx, `SELECT file_id, number, op, params, octet_length(content), created_at
		FROM pem_revisions WHERE file_id = $1 ORDER BY number DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []core.Revision
	for rows.Next() {
		rev, err := scanRevisionPg(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (s *Postgres) DeleteLatestRevision(ctx context.Context, rec core.FileRecord) error {
	return s.inTx(ctx, func(q core.DBTX) error {
		var latest int
		err := q.QueryRow(ctx, `SELECT revision FROM pem_files WHERE id = $1 FOR UPDATE`, rec.ID).Scan(&latest)
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrFileNotFound
		}
		if err != nil {
			return fmt.Errorf("lock file: %w", err)
		}
		if latest != rec.Revision+1 {
			return fmt.Errorf("revert to %d: %w", rec.Revision, core.ErrRevisionConflict)
		}
		if _, err := q.Exec(ctx, `DELETE FROM pem_revisions WHERE file_id = $1 AND number = $2`,
			rec.ID, latest); err != nil {
			return fmt.Errorf("delete revision: %w", err)
		}
		return updateFilePg(ctx, q, rec)
	})
}

func (s *Postgres) PruneRevisions(ctx context.Context, keep int) (int64, error) {
	tag, err := s.pool.Exec(ctx, schema.PrunePostgres, keep)
	if err != nil {
		return 0, fmt.Errorf("prune revisions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) InsertAudit(ctx context.Context, e core.AuditEntry) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return fmt.Errorf("audit id: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO pem_audit_log
		(id, action, severity, file_id, file_name, revision, actor, ip_address, user_agent, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, string(e.Action), string(e.Severity), toPgText(e.FileID), toPgText(e.FileName),
		e.Revision, toPgText(e.Actor), toPgText(e.IPAddress), toPgText(e.UserAgent),
		toPgText(e.Detail), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Postgres) ListAudit(ctx context.Context, f core.AuditLogFilter) ([]core.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, action, severity, file_id, file_name, revision,
			actor, ip_address, user_agent, detail, created_at
		FROM pem_audit_log
		WHERE ($1::text = '' OR file_id = $1::text)
		  AND ($2::text = '' OR action = $2::text)
		  AND created_at >= $3 AND created_at < $4
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`,
		f.FileID, string(f.Action), toPgTimestamptz(f.StartTime), toPgTimestamptz(f.EndTime),
		f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e                                     core.AuditEntry
			id                                    uuid.UUID
			fileID, fileName, actor, ip, ua, note pgtype.Text
		)
		if err := rows.Scan(&id, &e.Action, &e.Severity, &fileID, &fileName, &e.Revision,
			&actor, &ip, &ua, &note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.ID = id.String()
		e.FileID, e.FileName = fileID.String, fileName.String
		e.Actor, e.IPAddress, e.UserAgent, e.Detail = actor.String, ip.String, ua.String, note.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// toPgText converts a string to pgtype.Text, empty strings become NULL.
func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// toPgTimestamptz converts a time, the zero time becomes the epoch.
func toPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		t = time.Unix(0, 0)
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
