// Package schema holds the table definitions for the revision stores.
//
// Both dialects share table and column names so the stores can use the
// same queries where the SQL allows it. Timestamps are TIMESTAMPTZ in
// PostgreSQL and Unix milliseconds in SQLite.
package schema

// Postgres creates the PostgreSQL tables. Statements are idempotent.
var Postgres = []string{
	`CREATE TABLE IF NOT EXISTS pem_files (
		id          UUID PRIMARY KEY,
		name        TEXT NOT NULL,
		client      TEXT NOT NULL DEFAULT '',
		line_name   TEXT NOT NULL DEFAULT '',
		loop_name   TEXT NOT NULL DEFAULT '',
		survey_type TEXT NOT NULL DEFAULT '',
		readings    INTEGER NOT NULL DEFAULT 0,
		revision    INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pem_revisions (
		file_id    UUID NOT NULL REFERENCES pem_files(id) ON DELETE CASCADE,
		number     INTEGER NOT NULL,
		op         TEXT NOT NULL,
		params     TEXT,
		content    BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (file_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS pem_audit_log (
		id         UUID PRIMARY KEY,
		action     TEXT NOT NULL,
		severity   TEXT NOT NULL,
		file_id    TEXT,
		file_name  TEXT,
		revision   INTEGER NOT NULL DEFAULT 0,
		actor      TEXT,
		ip_address TEXT,
		user_agent TEXT,
		detail     TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pem_files_updated_at_idx ON pem_files (updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS pem_audit_log_created_at_idx ON pem_audit_log (created_at DESC)`,
}

// SQLite creates the SQLite tables. Statements are idempotent.
var SQLite = []string{
	`CREATE TABLE IF NOT EXISTS pem_files (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		client      TEXT NOT NULL DEFAULT '',
		line_name   TEXT NOT NULL DEFAULT '',
		loop_name   TEXT NOT NULL DEFAULT '',
		survey_type TEXT NOT NULL DEFAULT '',
		readings    INTEGER NOT NULL DEFAULT 0,
		revision    INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pem_revisions (
		file_id    TEXT NOT NULL REFERENCES pem_files(id) ON DELETE CASCADE,
		number     INTEGER NOT NULL,
		op         TEXT NOT NULL,
		params     TEXT,
		content    BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (file_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS pem_audit_log (
		id         TEXT PRIMARY KEY,
		action     TEXT NOT NULL,
		severity   TEXT NOT NULL,
		file_id    TEXT,
		file_name  TEXT,
		revision   INTEGER NOT NULL DEFAULT 0,
		actor      TEXT,
		ip_address TEXT,
		user_agent TEXT,
		detail     TEXT,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pem_files_updated_at_idx ON pem_files (updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS pem_audit_log_created_at_idx ON pem_audit_log (created_at DESC)`,
}

// Prune statements delete all but the newest N revisions of every file.
// They rely on revision numbers being contiguous up to pem_files.revision.
const (
	PrunePostgres = `DELETE FROM pem_revisions
		WHERE number <= (SELECT f.revision FROM pem_files f WHERE f.id = pem_revisions.file_id) - $1`
	PruneSQLite = `DELETE FROM pem_revisions
		WHERE number <= (SELECT f.revision FROM pem_files f WHERE f.id = pem_revisions.file_id) - ?`
)
