// Package core provides the business logic for PEM upload and edit operations.
//
// This package sits between the pem codec and the outer surfaces. It can be
// used by web handlers, the CLI, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Service: The main entry point for uploads, edits, exports and reverts.
//   - Store: Persistence for file summaries, revisions and the audit log.
//     Postgres and SQLite implementations live in the store package.
//   - EditRequest: A set of pem edits applied together as one revision.
//   - Audit: A record of every change to a stored file.
//
// # Revisions
//
// Revision 0 holds the uploaded text after BOM and encoding cleanup. Each
// successful [Service.Apply] parses the latest revision, runs the request on
// a copy and stores the full serialization as the next revision:
//
//	req := core.EditRequest{Average: true, CoilArea: 500}
//	rec, err := svc.Apply(ctx, id, req)
//	// rec.Revision == 1, rec.Readings reflects the averaged file
//
// [Service.Revert] drops the latest revision. Reverting revision 0, or past
// a pruned revision, fails with pem.ErrNothingToUndo.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
//   - PEM001-PEM010: Parse, lookup and revision conflict errors
//   - EDIT001-EDIT009: Edits that cannot be applied
//   - FILE001-FILE005: File errors (size, encoding, format)
//   - UPL001-UPL004: Upload errors (cancelled, busy, timeout)
//
// # Audit Logging
//
// All changes are recorded in the audit log with severity levels:
//
//   - Low: Exports and pruning
//   - Medium: Uploads
//   - High: Edits and reverts
//   - Critical: File deletion
package core
