package masterdata

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/brokerage-engine/blob"
	"github.com/warp/brokerage-engine/catalog"
	"github.com/warp/brokerage-engine/commission"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type memUploads struct {
	mu      sync.Mutex
	uploads map[string]Upload
	saves   int
}

func newMemUploads() *memUploads {
	return &memUploads{uploads: map[string]Upload{}}
}

func (m *memUploads) SaveUpload(_ context.Context, u Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[u.ID] = u
	m.saves++
	return nil
}

func (m *memUploads) GetUpload(_ context.Context, id string) (*Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memUploads) ListUploadsByStatus(_ context.Context, status Status) ([]Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Upload
	for _, u := range m.uploads {
		if u.Status == status {
			out = append(out, u)
		}
	}
	return out, nil
}

type memSink struct {
	mu        sync.Mutex
	fail      error
	policies  []commission.Policy
	agents    []commission.Agent
	employees []commission.Employee
	misps     []commission.MISP
	tiers     []commission.CommissionTier
	grids     []commission.GridRow
	products  []catalog.Product
}

func (s *memSink) add(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	fn()
	return nil
}

func (s *memSink) SavePolicy(_ context.Context, p commission.Policy) error {
	return s.add(func() { s.policies = append(s.policies, p) })
}
func (s *memSink) SaveAgent(_ context.Context, a commission.Agent) error {
	return s.add(func() { s.agents = append(s.agents, a) })
}
func (s *memSink) SaveEmployee(_ context.Context, e commission.Employee) error {
	return s.add(func() { s.employees = append(s.employees, e) })
}
func (s *memSink) SaveMISP(_ context.Context, m commission.MISP) error {
	return s.add(func() { s.misps = append(s.misps, m) })
}
func (s *memSink) SaveTier(_ context.Context, t commission.CommissionTier) error {
	return s.add(func() { s.tiers = append(s.tiers, t) })
}
func (s *memSink) SaveGridRow(_ context.Context, r commission.GridRow) error {
	return s.add(func() { s.grids = append(s.grids, r) })
}
func (s *memSink) SaveProduct(_ context.Context, p catalog.Product) error {
	return s.add(func() { s.products = append(s.products, p) })
}

type countingRecorder struct {
	status             string
	imported, rejected int
}

func (r *countingRecorder) ObserveUpload(_, status string, imported, rejected int) {
	r.status, r.imported, r.rejected = status, imported, rejected
}

func newTestService(t *testing.T) (*Service, *memUploads, *memSink) {
	t.Helper()
	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)
	uploads := newMemUploads()
	sink := &memSink{}
	svc := NewService(blobs, uploads, sink, nil, 8)
	svc.Now = func() time.Time { return time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC) }
	return svc, uploads, sink
}

func submitAndProcess(t *testing.T, svc *Service, table Table, filename string, body []byte) *Upload {
	t.Helper()
	ctx := context.Background()
	u, err := svc.Submit(ctx, "org1", table, filename, bytes.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, svc.Process(ctx, u.ID))
	got, err := svc.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	return got
}

// =============================================================================
// PROCESSING
// =============================================================================

func TestProcess_AgentsCSVWithRejectedRow(t *testing.T) {
	// GIVEN: three agents, the second with an out-of-range override
	svc, _, sink := newTestService(t)
	rec := &countingRecorder{}
	svc.Recorder = rec
	body := "ID,Name,Email,Override Percentage,Tier ID\n" +
		"A1,Asha,asha@example.com,45,\n" +
		"A2,Ravi,ravi@example.com,140,\n" +
		"A3,Meera,,,T1\n"

	// WHEN: processed
	u := submitAndProcess(t, svc, TableAgents, "agents.csv", []byte(body))

	// THEN: completed with one rejected row and an error report
	assert.Equal(t, StatusCompleted, u.Status)
	assert.Equal(t, 3, u.TotalRows)
	assert.Equal(t, 3, u.ProcessedRows)
	assert.Equal(t, 1, u.FailedRows)
	require.NotNil(t, u.CompletedAt)
	require.Len(t, sink.agents, 2)
	assert.Equal(t, "org1", sink.agents[0].OrgID)
	assert.True(t, sink.agents[0].OverridePercentage.Equal(decimal.NewFromInt(45)))
	assert.Nil(t, sink.agents[1].OverridePercentage)
	assert.Equal(t, "T1", sink.agents[1].TierID)

	assert.Equal(t, "completed", rec.status)
	assert.Equal(t, 2, rec.imported)
	assert.Equal(t, 1, rec.rejected)

	require.Equal(t, "errors/"+u.ID+".csv", u.ErrorReportPath)
	rc, err := svc.ErrorReport(context.Background(), u.ID)
	require.NoError(t, err)
	defer rc.Close()
	rows, err := csv.NewReader(rc).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"row", "field", "error"}, rows[0])
	assert.Equal(t, "2", rows[1][0])
	assert.Equal(t, "override_percentage", rows[1][1])
}

func TestProcess_AllRowsValid_NoErrorReport(t *testing.T) {
	svc, _, sink := newTestService(t)
	body := "id,name,base_percentage\nT1,Gold,45\nT2,Silver,35\n"

	u := submitAndProcess(t, svc, TableTiers, "tiers.csv", []byte(body))

	assert.Equal(t, StatusCompleted, u.Status)
	assert.Zero(t, u.FailedRows)
	assert.Empty(t, u.ErrorReportPath)
	require.Len(t, sink.tiers, 2)
	assert.True(t, sink.tiers[0].BasePercentage.Equal(decimal.NewFromInt(45)))

	_, err := svc.ErrorReport(context.Background(), u.ID)
	assert.True(t, commission.IsNotFound(err))
}

func TestProcess_MotorGridXLSX(t *testing.T) {
	// GIVEN: a workbook with two motor grid rows
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Provider", "Plan Name", "Effective From", "Effective To", "Min Premium", "Max Premium", "Base Rate", "Reward Rate", "Bonus Rate"},
		{"ACME", "", "2025-01-01", "2025-12-31", "0", "100000", "10", "2", "1"},
		{"", "Gold", "2025-01-01", "", "", "", "8", "0", "0"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	svc, _, sink := newTestService(t)

	// WHEN
	u := submitAndProcess(t, svc, TableMotorGrid, "motor.xlsx", buf.Bytes())

	// THEN
	assert.Equal(t, StatusCompleted, u.Status)
	assert.Equal(t, 2, u.TotalRows)
	require.Len(t, sink.grids, 2)
	g := sink.grids[0]
	assert.Equal(t, commission.CategoryMotor, g.Category)
	require.NotNil(t, g.Provider)
	assert.Equal(t, "ACME", *g.Provider)
	assert.Nil(t, g.PlanName)
	assert.True(t, g.BaseRate.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, g.ValidTo)
	assert.Nil(t, sink.grids[1].Provider)
	assert.True(t, sink.grids[1].IsActive)
}

func TestProcess_Policies(t *testing.T) {
	svc, _, sink := newTestService(t)
	body := "policy_number,customer_name,product_name,provider,gross_premium,source_type,agent_id,start_date\n" +
		"P-1,Kiran,Motor Insurance,ACME,6000,Agent,A1,2025-03-01\n" +
		"P-2,Lata,Term Life,ACME,,agent,,2025-03-01\n" +
		"P-3,Dev,Health Plus,ACME,-5,direct,,\n"

	u := submitAndProcess(t, svc, TablePolicies, "policies.csv", []byte(body))

	assert.Equal(t, StatusCompleted, u.Status)
	assert.Equal(t, 2, u.FailedRows)
	require.Len(t, sink.policies, 1)
	p := sink.policies[0]
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, commission.CategoryMotor, p.Category)
	assert.Equal(t, commission.SourceAgent, p.SourceType)
	assert.True(t, p.Premium().Equal(decimal.NewFromInt(6000)))
	require.NotNil(t, p.StartDate)
}

func TestProcess_Products(t *testing.T) {
	svc, _, sink := newTestService(t)
	body := "name,provider,features,regional_prices,min_age,max_age,regions\n" +
		"Motor Shield,ACME,Zero dep; Roadside,north:12500|south:11800.50,18,65,north;south\n"

	u := submitAndProcess(t, svc, TableProducts, "products.csv", []byte(body))

	require.Equal(t, StatusCompleted, u.Status, u.Error)
	require.Len(t, sink.products, 1)
	p := sink.products[0]
	assert.Equal(t, commission.CategoryMotor, p.Category)
	assert.Equal(t, []string{"Zero dep", "Roadside"}, p.Features)
	assert.True(t, p.RegionalPrices["south"].Equal(decimal.RequireFromString("11800.50")))
	assert.Equal(t, 65, p.Eligibility.MaxAge)
	assert.Equal(t, []string{"north", "south"}, p.Eligibility.Regions)
}

func TestProcess_UnreadableFileFails(t *testing.T) {
	svc, _, _ := newTestService(t)

	u := submitAndProcess(t, svc, TableAgents, "agents.xlsx", []byte("not a workbook"))

	assert.Equal(t, StatusFailed, u.Status)
	assert.NotEmpty(t, u.Error)
	assert.NotNil(t, u.CompletedAt)
}

func TestProcess_StoreErrorAbortsUpload(t *testing.T) {
	// GIVEN: a sink that rejects every write
	svc, _, sink := newTestService(t)
	sink.fail = errors.New("disk full")
	body := "id,name\nE1,Nisha\nE2,Arjun\n"
	ctx := context.Background()
	u, err := svc.Submit(ctx, "org1", TableEmployees, "employees.csv", strings.NewReader(body))
	require.NoError(t, err)

	// WHEN
	err = svc.Process(ctx, u.ID)

	// THEN: the error surfaces and the upload is failed after the first row
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	got, err := svc.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Zero(t, got.ProcessedRows)
	assert.Contains(t, got.Error, "row 1")
}

func TestProcess_Idempotent(t *testing.T) {
	svc, _, sink := newTestService(t)
	u := submitAndProcess(t, svc, TableEmployees, "employees.csv", []byte("id,name\nE1,Nisha\n"))
	require.Equal(t, StatusCompleted, u.Status)

	require.NoError(t, svc.Process(context.Background(), u.ID))
	assert.Len(t, sink.employees, 1)
}

func TestProcess_ProgressSavedPeriodically(t *testing.T) {
	svc, uploads, _ := newTestService(t)
	var b strings.Builder
	b.WriteString("id,name\n")
	for i := 0; i < 120; i++ {
		b.WriteString("E,Name\n")
	}
	ctx := context.Background()
	u, err := svc.Submit(ctx, "org1", TableEmployees, "employees.csv", strings.NewReader(b.String()))
	require.NoError(t, err)
	before := uploads.saves

	require.NoError(t, svc.Process(ctx, u.ID))

	// processing + 2 progress saves (50, 100) + finish
	assert.Equal(t, before+4, uploads.saves)
}

func TestProcess_UnknownUpload(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Process(context.Background(), "missing")
	assert.True(t, commission.IsNotFound(err))
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_Rejections(t *testing.T) {
	svc, uploads, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "org1", Table("payments"), "x.csv", strings.NewReader("a\n"))
	assert.True(t, commission.IsClientError(err))

	_, err = svc.Submit(ctx, "org1", TableAgents, "agents.pdf", strings.NewReader("a\n"))
	assert.True(t, commission.IsClientError(err))

	_, err = svc.Submit(ctx, "", TableAgents, "agents.csv", strings.NewReader("a\n"))
	assert.True(t, commission.IsClientError(err))

	assert.Empty(t, uploads.uploads)
}

func TestSubmit_StoresBlobAndQueues(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Submit(ctx, "org1", TableAgents, "agents.csv", strings.NewReader("id,name\n"))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, u.Status)
	assert.Equal(t, "uploads/org1/"+u.ID+"/agents.csv", u.BlobKey)
	rc, err := svc.Blobs.Get(ctx, u.BlobKey)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "id,name\n", string(data))
	assert.Equal(t, u.ID, <-svc.queue)
}

func TestWorker_ProcessesQueuedUpload(t *testing.T) {
	svc, _, sink := newTestService(t)
	w := NewWorker(svc)
	w.SweepInterval = time.Hour
	w.Start()
	defer w.Stop()

	ctx := context.Background()
	u, err := svc.Submit(ctx, "org1", TableMISPs, "misps.csv", strings.NewReader("id,name,percentage\nM1,Dealer,55\n"))
	require.NoError(t, err)

	got, err := WaitForUpload(ctx, func(ctx context.Context) (*Upload, error) {
		return svc.GetUpload(ctx, u.ID)
	}, 10*time.Millisecond, 200)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	sink.mu.Lock()
	assert.Len(t, sink.misps, 1)
	sink.mu.Unlock()
}

func TestWorker_SweepRequeuesStaleProcessing(t *testing.T) {
	// GIVEN: two uploads left processing, one untouched past the timeout
	svc, uploads, sink := newTestService(t)
	ctx := context.Background()
	now := svc.Now()

	stale, err := svc.Submit(ctx, "org1", TableEmployees, "employees.csv", strings.NewReader("id,name\nE1,Nisha\n"))
	require.NoError(t, err)
	fresh, err := svc.Submit(ctx, "org1", TableEmployees, "employees.csv", strings.NewReader("id,name\nE2,Ravi\n"))
	require.NoError(t, err)

	uploads.mu.Lock()
	for id, age := range map[string]time.Duration{stale.ID: ProcessTimeout + time.Minute, fresh.ID: time.Minute} {
		u := uploads.uploads[id]
		u.Status = StatusProcessing
		u.ProcessedRows = 1
		u.UpdatedAt = now.Add(-age)
		uploads.uploads[id] = u
	}
	uploads.mu.Unlock()

	// WHEN: the worker sweeps
	w := NewWorker(svc)
	w.sweep()

	// THEN: the stale upload ran to completion, the fresh one is left alone
	got, err := svc.GetUpload(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.ProcessedRows)

	got, err = svc.GetUpload(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)

	sink.mu.Lock()
	require.Len(t, sink.employees, 1)
	assert.Equal(t, "E1", sink.employees[0].ID)
	sink.mu.Unlock()
}

func TestRequeueStale_HonoursStaleAfter(t *testing.T) {
	svc, uploads, _ := newTestService(t)
	svc.StaleAfter = 30 * time.Second
	ctx := context.Background()

	u, err := svc.Submit(ctx, "org1", TableAgents, "agents.csv", strings.NewReader("id,name\n"))
	require.NoError(t, err)
	uploads.mu.Lock()
	row := uploads.uploads[u.ID]
	row.Status = StatusProcessing
	row.UpdatedAt = svc.Now().Add(-time.Minute)
	uploads.uploads[u.ID] = row
	uploads.mu.Unlock()

	ids, err := svc.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, ids)
	got, err := svc.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Zero(t, got.ProcessedRows)
}

// =============================================================================
// POLLING
// =============================================================================

func TestWaitForUpload(t *testing.T) {
	t.Run("returns when terminal", func(t *testing.T) {
		calls := 0
		u, err := WaitForUpload(context.Background(), func(context.Context) (*Upload, error) {
			calls++
			status := StatusProcessing
			if calls == 3 {
				status = StatusFailed
			}
			return &Upload{Status: status}, nil
		}, time.Millisecond, 10)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, u.Status)
		assert.Equal(t, 3, calls)
	})

	t.Run("times out", func(t *testing.T) {
		calls := 0
		u, err := WaitForUpload(context.Background(), func(context.Context) (*Upload, error) {
			calls++
			return &Upload{Status: StatusPending}, nil
		}, time.Millisecond, 4)
		assert.ErrorIs(t, err, ErrPollTimeout)
		assert.Equal(t, 4, calls)
		require.NotNil(t, u)
		assert.Equal(t, StatusPending, u.Status)
	})

	t.Run("fetch error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := WaitForUpload(context.Background(), func(context.Context) (*Upload, error) {
			return nil, boom
		}, time.Millisecond, 4)
		assert.ErrorIs(t, err, boom)
	})
}

// =============================================================================
// PARSING
// =============================================================================

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"Override Percentage": "override_percentage",
		"\ufeffid":            "id",
		"  Base-Rate ":        "base_rate",
		"plan_name":           "plan_name",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeHeader(in), in)
	}
}

func TestParseFile_CSV(t *testing.T) {
	recs, err := ParseFile("csv", strings.NewReader("ID,Name,Email\nA1,Asha\n,,\nA2, Ravi ,r@x.io\n"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Record{"id": "A1", "name": "Asha", "email": ""}, recs[0])
	assert.Equal(t, "Ravi", recs[1]["name"])

	_, err = ParseFile("csv", strings.NewReader(""))
	assert.Error(t, err)
	_, err = ParseFile("pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormatAndTable(t *testing.T) {
	f, err := Format("Grid.XLSX")
	require.NoError(t, err)
	assert.Equal(t, "xlsx", f)
	_, err = Format("grid.xls")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	tbl, err := ParseTable(" Motor_Payout_Grid ")
	require.NoError(t, err)
	c, ok := tbl.GridCategory()
	assert.True(t, ok)
	assert.Equal(t, commission.CategoryMotor, c)
	_, ok = TableAgents.GridCategory()
	assert.False(t, ok)
}
