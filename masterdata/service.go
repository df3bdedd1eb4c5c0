package masterdata

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/warp/brokerage-engine/blob"
	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/factory"
	"github.com/warp/brokerage-engine/logger"
)

// progressEvery is how often (in rows) progress counters are persisted.
const progressEvery = 50

// ProcessTimeout bounds one upload run. An upload left processing without an
// update for longer than this was abandoned by a dead process.
const ProcessTimeout = 10 * time.Minute

// Service accepts uploads and processes them.
type Service struct {
	Blobs    blob.Storage
	Uploads  UploadStore
	Sink     Sink
	Log      logger.Logger
	Recorder Recorder

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time

	// StaleAfter is how long a processing upload may go without an update
	// before RequeueStale resets it. Zero means ProcessTimeout.
	StaleAfter time.Duration

	grids *factory.GridFactory
	queue chan string
}

// NewService creates a service with a queue of the given capacity.
func NewService(blobs blob.Storage, uploads UploadStore, sink Sink, log logger.Logger, queueSize int) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	s := &Service{
		Blobs:   blobs,
		Uploads: uploads,
		Sink:    sink,
		Log:     log,
		Now:     time.Now,
		queue:   make(chan string, queueSize),
	}
	s.grids = factory.NewGridFactory()
	s.grids.Now = s.now
	return s
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Submit stores the file and creates a pending upload. The upload is queued
// for the worker; if the queue is full it stays pending and the worker's
// sweep picks it up.
func (s *Service) Submit(ctx context.Context, orgID string, table Table, filename string, r io.Reader) (*Upload, error) {
	if orgID == "" {
		return nil, commission.NewValidationError("org_id", "required")
	}
	if _, err := ParseTable(string(table)); err != nil {
		return nil, err
	}
	format, err := Format(filename)
	if err != nil {
		return nil, commission.NewValidationError("file", "%v", err)
	}

	now := s.now().UTC()
	u := Upload{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Table:     table,
		Filename:  filename,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.BlobKey = blob.UploadKey(orgID, u.ID, filename)

	if err := s.Blobs.Put(ctx, u.BlobKey, r, ContentType(format)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := s.Uploads.SaveUpload(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to create upload: %w", err)
	}

	s.Log.Info("upload submitted", "upload_id", u.ID, "org_id", orgID, "table", table, "filename", filename)
	s.enqueue(u.ID)
	return &u, nil
}

func (s *Service) enqueue(id string) {
	select {
	case s.queue <- id:
	default:
		s.Log.Warn("upload queue full, left pending", "upload_id", id)
	}
}

// GetUpload returns the upload or a NotFoundError.
func (s *Service) GetUpload(ctx context.Context, id string) (*Upload, error) {
	u, err := s.Uploads.GetUpload(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, &commission.NotFoundError{Kind: "upload", ID: id}
	}
	return u, nil
}

// ErrorReport opens the error report of a finished upload.
func (s *Service) ErrorReport(ctx context.Context, id string) (io.ReadCloser, error) {
	u, err := s.GetUpload(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.ErrorReportPath == "" {
		return nil, &commission.NotFoundError{Kind: "error report", ID: id}
	}
	return s.Blobs.Get(ctx, u.ErrorReportPath)
}

// =============================================================================
// PROCESSING
// =============================================================================

// Process runs one upload to completion. Uploads that are not pending are
// skipped, so a redelivered id is harmless.
func (s *Service) Process(ctx context.Context, id string) error {
	u, err := s.GetUpload(ctx, id)
	if err != nil {
		return err
	}
	if u.Status != StatusPending {
		return nil
	}
	log := s.Log.With("upload_id", u.ID, "table", u.Table)

	u.Status = StatusProcessing
	if err := s.save(ctx, u); err != nil {
		return err
	}

	records, err := s.load(ctx, u)
	if err != nil {
		log.Warn("upload unreadable", "error", err)
		return s.finish(ctx, u, StatusFailed, err.Error())
	}
	u.TotalRows = len(records)

	imp := s.importer(u.Table)
	if imp == nil {
		return s.finish(ctx, u, StatusFailed, fmt.Sprintf("unknown table %q", u.Table))
	}
	var rejected []RowError
	for i, rec := range records {
		if err := imp(ctx, u.OrgID, rec); err != nil {
			var verr *commission.ValidationError
			if !commission.IsClientError(err) {
				log.Error("upload aborted", "row", i+1, "error", err)
				return errors.Join(err, s.finish(ctx, u, StatusFailed, fmt.Sprintf("row %d: %v", i+1, err)))
			}
			re := RowError{Row: i + 1, Error: err.Error()}
			if errors.As(err, &verr) {
				re.Field = verr.Field
			}
			rejected = append(rejected, re)
			u.FailedRows++
		}
		u.ProcessedRows++
		if u.ProcessedRows%progressEvery == 0 {
			if err := s.save(ctx, u); err != nil {
				return err
			}
		}
	}

	if len(rejected) > 0 {
		key := blob.ErrorReportKey(u.ID)
		if err := s.Blobs.Put(ctx, key, bytes.NewReader(errorReport(rejected)), "text/csv"); err != nil {
			return errors.Join(err, s.finish(ctx, u, StatusFailed, "failed to write error report"))
		}
		u.ErrorReportPath = key
	}

	log.Info("upload processed", "total", u.TotalRows, "failed", u.FailedRows)
	return s.finish(ctx, u, StatusCompleted, "")
}

// RequeueStale resets uploads stuck in processing back to pending and
// returns their ids. Rows are upserted, so a rerun from the first row is safe.
func (s *Service) RequeueStale(ctx context.Context) ([]string, error) {
	running, err := s.Uploads.ListUploadsByStatus(ctx, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing uploads: %w", err)
	}

	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = ProcessTimeout
	}
	cutoff := s.now().UTC().Add(-staleAfter)

	var ids []string
	for i := range running {
		u := &running[i]
		if u.UpdatedAt.After(cutoff) {
			continue
		}
		s.Log.Warn("requeueing stale upload", "upload_id", u.ID, "updated_at", u.UpdatedAt)
		u.Status = StatusPending
		u.TotalRows, u.ProcessedRows, u.FailedRows = 0, 0, 0
		u.Error = ""
		if err := s.save(ctx, u); err != nil {
			return ids, err
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (s *Service) load(ctx context.Context, u *Upload) ([]Record, error) {
	format, err := Format(u.Filename)
	if err != nil {
		return nil, err
	}
	rc, err := s.Blobs.Get(ctx, u.BlobKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ParseFile(format, rc)
}

func (s *Service) finish(ctx context.Context, u *Upload, status Status, msg string) error {
	now := s.now().UTC()
	u.Status = status
	u.Error = msg
	u.CompletedAt = &now
	if s.Recorder != nil {
		s.Recorder.ObserveUpload(string(u.Table), string(status), u.ProcessedRows-u.FailedRows, u.FailedRows)
	}
	return s.save(ctx, u)
}

func (s *Service) save(ctx context.Context, u *Upload) error {
	u.UpdatedAt = s.now().UTC()
	if err := s.Uploads.SaveUpload(ctx, *u); err != nil {
		return fmt.Errorf("failed to update upload %s: %w", u.ID, err)
	}
	return nil
}

func errorReport(rows []RowError) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"row", "field", "error"})
	for _, r := range rows {
		w.Write([]string{strconv.Itoa(r.Row), r.Field, r.Error})
	}
	w.Flush()
	return buf.Bytes()
}
