/*
Package blob stores uploaded master-data files and generated error reports.

IMPLEMENTATIONS:
  Local: a directory on disk (development, single node)
  S3:    an S3 bucket or S3-compatible endpoint (MinIO, LocalStack)

KEYS:
  uploads/<org>/<upload-id>/<filename>   original upload
  errors/<upload-id>.csv                 per-row error report

SEE ALSO:
  - masterdata/service.go: the only writer
  - config/config.go: STORAGE_TYPE selects the implementation
*/
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/warp/brokerage-engine/commission"
)

// ErrNotFound is returned by Get for a missing key. It matches
// commission.ErrNotFound under errors.Is.
var ErrNotFound = fmt.Errorf("blob %w", commission.ErrNotFound)

// Storage is a flat key/value object store.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// UploadKey is the key of an uploaded source file.
func UploadKey(orgID, uploadID, filename string) string {
	return path.Join("uploads", sanitize(orgID), uploadID, sanitize(path.Base(filename)))
}

// ErrorReportKey is the key of an upload's error report.
func ErrorReportKey(uploadID string) string {
	return path.Join("errors", uploadID+".csv")
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" || s == "." {
		return "_"
	}
	return s
}
