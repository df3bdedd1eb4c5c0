/*
Package masterdata bulk-imports master data from CSV and XLSX files.

PIPELINE:
  1. Submit:  file stored in blob storage, Upload row created (pending),
              id queued for the worker
  2. Worker:  status -> processing, file parsed, every row validated and
              imported through the table's importer
  3. Finish:  rejected rows written to an error report CSV, status ->
              completed (or failed when the file itself is unreadable)
  4. Client:  polls GetUpload until the status is terminal (WaitForUpload)

TABLES:
  motor_payout_grid, life_payout_grid, health_payout_grid, agents,
  employees, misps, commission_tiers, policies, products

COUNTERS:
  TotalRows      data rows in the file (blank lines excluded)
  ProcessedRows  rows handled so far, imported or rejected
  FailedRows     rows rejected by validation

A row rejected by validation never fails the upload. A store error does:
the upload is marked failed and the remaining rows are not attempted.

SEE ALSO:
  - blob/blob.go: storage keys
  - factory/grid.go: grid row conversion
  - store/sqlite/sqlite.go: UploadStore and Sink implementation
*/
package masterdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/brokerage-engine/catalog"
	"github.com/warp/brokerage-engine/commission"
)

// =============================================================================
// UPLOAD STATUS
// =============================================================================

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether processing has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Table string

const (
	TableMotorGrid  Table = "motor_payout_grid"
	TableLifeGrid   Table = "life_payout_grid"
	TableHealthGrid Table = "health_payout_grid"
	TableAgents     Table = "agents"
	TableEmployees  Table = "employees"
	TableMISPs      Table = "misps"
	TableTiers      Table = "commission_tiers"
	TablePolicies   Table = "policies"
	TableProducts   Table = "products"
)

// Tables lists every importable table.
var Tables = []Table{
	TableMotorGrid, TableLifeGrid, TableHealthGrid,
	TableAgents, TableEmployees, TableMISPs, TableTiers,
	TablePolicies, TableProducts,
}

// ParseTable validates a table name.
func ParseTable(s string) (Table, error) {
	t := Table(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tables {
		if t == known {
			return t, nil
		}
	}
	return "", commission.NewValidationError("table", "unknown table %q", s)
}

// GridCategory returns the payout grid category of a grid table.
func (t Table) GridCategory() (commission.ProductCategory, bool) {
	for _, c := range commission.GridCategories {
		if c.GridTable() == string(t) {
			return c, true
		}
	}
	return "", false
}

// Upload tracks one submitted file.
type Upload struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	Table           Table      `json:"table"`
	Filename        string     `json:"filename"`
	BlobKey         string     `json:"blob_key"`
	Status          Status     `json:"status"`
	TotalRows       int        `json:"total_rows"`
	ProcessedRows   int        `json:"processed_rows"`
	FailedRows      int        `json:"failed_rows"`
	ErrorReportPath string     `json:"error_report_path,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// =============================================================================
// STORAGE INTERFACES
// =============================================================================

// UploadStore persists upload status rows.
type UploadStore interface {
	SaveUpload(ctx context.Context, u Upload) error
	// GetUpload returns (nil, nil) when the upload does not exist.
	GetUpload(ctx context.Context, id string) (*Upload, error)
	ListUploadsByStatus(ctx context.Context, status Status) ([]Upload, error)
}

// Sink is the write side of master data.
type Sink interface {
	SavePolicy(ctx context.Context, p commission.Policy) error
	SaveAgent(ctx context.Context, a commission.Agent) error
	SaveEmployee(ctx context.Context, e commission.Employee) error
	SaveMISP(ctx context.Context, m commission.MISP) error
	SaveTier(ctx context.Context, t commission.CommissionTier) error
	SaveGridRow(ctx context.Context, r commission.GridRow) error
	SaveProduct(ctx context.Context, p catalog.Product) error
}

// Recorder receives finished uploads. metrics.Metrics implements it.
type Recorder interface {
	ObserveUpload(table, status string, imported, rejected int)
}

// RowError is one line of the error report.
type RowError struct {
	Row   int // 1-based data row, header excluded
	Field string
	Error string
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Error)
}
