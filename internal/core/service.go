package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pemtool/internal/config"
	"github.com/JonMunkholm/pemtool/internal/logging"
	"github.com/JonMunkholm/pemtool/internal/pem"
)

// DefaultTimeout bounds a single upload or edit.
const DefaultTimeout = 2 * time.Minute

// Archiver copies exports to long-term storage.
type Archiver interface {
	Key(fileID string, revision int, name string) string
	Archive(ctx context.Context, key string, content []byte) (string, error)
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	MaxFileSize   int64
	MaxConcurrent int
	MaxWait       time.Duration
	Timeout       time.Duration
	Format        pem.Format
	Archiver      Archiver // nil disables archiving
	Metrics       *Metrics // nil uses unregistered collectors
}

// OptionsFromConfig maps application configuration to service options.
func OptionsFromConfig(cfg *config.Config) Options {
	format := pem.DefaultFormat
	format.DecayWidth = cfg.Edit.DecayWidth
	format.ChannelTimeDecimals = cfg.Edit.ChannelTimeDecimals
	return Options{
		MaxFileSize:   cfg.Upload.MaxFileSize,
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		MaxWait:       cfg.Upload.MaxWaitTime,
		Timeout:       cfg.Upload.Timeout,
		Format:        format,
	}
}

// Service provides the business logic for storing and editing PEM files.
// Every edit creates a new revision, so any change can be reverted.
type Service struct {
	store    Store
	limiter  *UploadLimiter
	archiver Archiver
	metrics  *Metrics
	format   pem.Format
	maxSize  int64
	timeout  time.Duration
	now      func() time.Time
}

// NewService creates a Service over store.
func NewService(store Store, opts Options) *Service {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 32 << 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Format.ValuesPerLine <= 0 {
		opts.Format = pem.DefaultFormat
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Service{
		store:    store,
		limiter:  NewUploadLimiter(opts.MaxConcurrent, opts.MaxWait),
		archiver: opts.Archiver,
		metrics:  opts.Metrics,
		format:   opts.Format,
		maxSize:  opts.MaxFileSize,
		timeout:  opts.Timeout,
		now:      time.Now,
	}
}

// Limiter returns the slot limiter, for metrics registration.
func (s *Service) Limiter() *UploadLimiter { return s.limiter }

// UploadLimiterStatus returns the current slot usage.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus { return s.limiter.Status() }

// WaitForUploads blocks until in-flight uploads and edits finish.
func (s *Service) WaitForUploads(ctx context.Context) error { return s.limiter.WaitForDrain(ctx) }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// FileDetail is a stored file parsed at its latest revision.
type FileDetail struct {
	Record    FileRecord
	File      *pem.File
	Revisions []Revision
}

// ExportResult is the serialized text of one revision.
type ExportResult struct {
	Name     string
	Revision int
	Content  []byte
	Location string // archive location, empty when archiving is off
}

func (s *Service) parse(data []byte) (*pem.File, error) {
	start := time.Now()
	f, err := pem.Parse(data)
	s.metrics.ParseDuration.Observe(time.Since(start).Seconds())
	return f, err
}

func summarize(rec FileRecord, f *pem.File) FileRecord {
	rec.Client = f.Header.Client
	rec.LineName = f.Header.LineName
	rec.LoopName = f.Header.LoopName
	rec.SurveyType = f.Header.SurveyType
	rec.Readings = len(f.Readings)
	return rec
}

// Upload reads, validates and stores a new file as revision 0. The bytes
// are stored as uploaded, after BOM and encoding cleanup.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (*FileRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	logger := logging.WithFields(ctx, "file_name", name)

	var rec FileRecord
	err := s.limiter.Do(ctx, func() error {
		up, err := ReadUpload(r, s.maxSize)
		if err != nil {
			return err
		}
		s.metrics.UploadBytes.Observe(float64(up.BytesRead))
		if up.Sanitized {
			logger.Warn("upload contained invalid UTF-8, replaced")
		}

		f, err := s.parse(up.Data)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		rec = summarize(FileRecord{ID: uuid.New(), Name: name, CreatedAt: now, UpdatedAt: now}, f)
		first := Revision{FileID: rec.ID, Number: 0, Op: OpUpload, Content: up.Data, CreatedAt: now}
		return s.store.CreateFile(ctx, rec, first)
	})
	s.metrics.Uploads.WithLabelValues(result(err)).Inc()
	if err != nil {
		logger.Warn("upload failed", "error", err)
		return nil, err
	}

	logger.Info("file uploaded", "file_id", rec.ID, "readings", rec.Readings)
	s.LogAudit(ctx, AuditLogParams{
		Action:   ActionUpload,
		FileID:   rec.ID.String(),
		FileName: rec.Name,
		Detail:   fmt.Sprintf("%d readings", rec.Readings),
	})
	return &rec, nil
}

// List returns stored files, most recently changed first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]FileRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.ListFiles(ctx, limit, offset)
}

// Get loads a file at its latest revision together with its revision list.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*FileDetail, error) {
	rec, f, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	revs, err := s.store.ListRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &FileDetail{Record: rec, File: f, Revisions: revs}, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (FileRecord, *pem.File, Revision, error) {
	rec, err := s.store.GetFile(ctx, id)
	if err != nil {
		return rec, nil, Revision{}, err
	}
	rev, err := s.store.GetRevision(ctx, id, rec.Revision)
	if err != nil {
		return rec, nil, rev, err
	}
	f, err := s.parse(rev.Content)
	if err != nil {
		return rec, nil, rev, fmt.Errorf("stored revision %d: %w", rev.Number, err)
	}
	return rec, f, rev, nil
}

// Export returns the text of a revision, the latest when revision is
// negative, and archives it when an archiver is configured.
func (s *Service) Export(ctx context.Context, id uuid.UUID, revision int) (*ExportResult, error) {
	rec, err := s.store.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if revision < 0 {
		revision = rec.Revision
	}
	rev, err := s.store.GetRevision(ctx, id, revision)
	if err != nil {
		return nil, err
	}

	out := &ExportResult{Name: rec.Name, Revision: rev.Number, Content: rev.Content}
	destination := "download"
	if s.archiver != nil {
		key := s.archiver.Key(id.String(), rev.Number, rec.Name)
		loc, err := s.archiver.Archive(ctx, key, rev.Content)
		if err != nil {
			return nil, err
		}
		out.Location = loc
		destination = "archive"
	}
	s.metrics.Exports.WithLabelValues(destination).Inc()

	s.LogAudit(ctx, AuditLogParams{
		Action:   ActionExport,
		FileID:   id.String(),
		FileName: rec.Name,
		Revision: rev.Number,
		Detail:   out.Location,
	})
	return out, nil
}

// Apply runs req against the latest revision and stores the serialized
// result as a new revision. Nothing is stored when any step fails.
func (s *Service) Apply(ctx context.Context, id uuid.UUID, req EditRequest) (*FileRecord, error) {
	if req.Empty() {
		return nil, fmt.Errorf("%w: no edits requested", ErrUnknownOp)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	logger := logging.WithFields(ctx, "file_id", id, "op", req.String())

	var rec FileRecord
	err := s.limiter.Do(ctx, func() error {
		var (
			f   *pem.File
			err error
		)
		rec, f, _, err = s.load(ctx, id)
		if err != nil {
			return err
		}
		edited, err := req.ApplyTo(f)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		rec = summarize(rec, edited)
		rec.Revision++
		rec.UpdatedAt = now
		rev := Revision{
			FileID:    id,
			Number:    rec.Revision,
			Op:        req.String(),
			Params:    req.JSON(),
			Content:   []byte(s.format.Serialize(edited)),
			CreatedAt: now,
		}
		return s.store.AddRevision(ctx, rec, rev)
	})
	for _, op := range req.Ops() {
		s.metrics.Edits.WithLabelValues(op, result(err)).Inc()
	}
	if err != nil {
		logger.Warn("edit failed", "error", err)
		return nil, err
	}

	logger.Info("edit applied", "revision", rec.Revision)
	s.LogAudit(ctx, AuditLogParams{
		Action:   ActionEdit,
		FileID:   id.String(),
		FileName: rec.Name,
		Revision: rec.Revision,
		Detail:   req.JSON(),
	})
	return &rec, nil
}

// Revert drops the latest revision. The upload itself cannot be reverted,
// nor can a revision whose predecessor was pruned.
func (s *Service) Revert(ctx context.Context, id uuid.UUID) (*FileRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rec, reverted FileRecord
	err := s.limiter.Do(ctx, func() error {
		var err error
		rec, err = s.store.GetFile(ctx, id)
		if err != nil {
			return err
		}
		nothing := &pem.LogicError{Op: "undo", Err: pem.ErrNothingToUndo}
		if rec.Revision == 0 {
			return nothing
		}
		prev, err := s.store.GetRevision(ctx, id, rec.Revision-1)
		if errors.Is(err, ErrRevisionNotFound) {
			return nothing
		}
		if err != nil {
			return err
		}
		f, err := s.parse(prev.Content)
		if err != nil {
			return fmt.Errorf("stored revision %d: %w", prev.Number, err)
		}

		reverted = summarize(rec, f)
		reverted.Revision = prev.Number
		reverted.UpdatedAt = s.now().UTC()
		// Fails with ErrRevisionConflict if an edit committed since GetFile.
		return s.store.DeleteLatestRevision(ctx, reverted)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("revision reverted", "file_id", id, "revision", reverted.Revision)
	s.LogAudit(ctx, AuditLogParams{
		Action:   ActionRevert,
		FileID:   id.String(),
		FileName: rec.Name,
		Revision: reverted.Revision,
		Detail:   fmt.Sprintf("reverted revision %d", rec.Revision),
	})
	return &reverted, nil
}

// Revisions lists a file's revisions, newest first.
func (s *Service) Revisions(ctx context.Context, id uuid.UUID) ([]Revision, error) {
	if _, err := s.store.GetFile(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListRevisions(ctx, id)
}

// Delete removes a file and all of its revisions.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	rec, err := s.store.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFile(ctx, id); err != nil {
		return err
	}
	s.LogAudit(ctx, AuditLogParams{Action: ActionDelete, FileID: id.String(), FileName: rec.Name})
	return nil
}
