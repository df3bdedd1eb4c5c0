/*
report.go - Commission report generation

REQUEST FLOW:
  1. Load the filtered policy list (newest first)
  2. For each policy: resolve grid rate, calculate amounts, split
  3. Reduce the completed record list into a Summary

BATCHING:
  Grid rows are loaded once per category per report and matched in memory
  (GridIndex). Agent, MISP, employee and tier lookups are memoized for the
  duration of one report. Output is identical to per-policy lookups.

FAILURE SEMANTICS:
  Any store error aborts the whole report. Partial results are discarded.
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Recorder receives report outcomes. metrics.Metrics implements it.
type Recorder interface {
	ObserveReport(d time.Duration, records, unmatched int, err error)
}

// Engine generates commission reports.
type Engine struct {
	Store    Store
	History  HistoryStore
	Rules    SplitRules
	Recorder Recorder

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// NewEngine creates an engine with the given rules.
func NewEngine(store Store, history HistoryStore, rules SplitRules) *Engine {
	return &Engine{Store: store, History: history, Rules: rules, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// ReportRequest selects the policies of one org. A zero AsOf means today.
type ReportRequest struct {
	OrgID  string
	Filter PolicyFilter
	AsOf   time.Time
}

// Report is the full computed record set with its summary.
type Report struct {
	OrgID       string
	AsOf        time.Time
	GeneratedAt time.Time
	Records     []Record
	Summary     Summary
}

// DefaultPageSize is the page size used when the caller passes none.
const DefaultPageSize = 20

// Page returns the 1-based page of records. Page 0 returns everything.
func (r *Report) Page(page, size int) []Record {
	if page <= 0 {
		return r.Records
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	start := (page - 1) * size
	if start >= len(r.Records) {
		return []Record{}
	}
	end := start + size
	if end > len(r.Records) {
		end = len(r.Records)
	}
	return r.Records[start:end]
}

// Generate builds the report for req.
func (e *Engine) Generate(ctx context.Context, req ReportRequest) (rep *Report, err error) {
	started := e.now()
	defer func() {
		if e.Recorder == nil {
			return
		}
		n, unmatched := 0, 0
		if rep != nil {
			n, unmatched = len(rep.Records), rep.Summary.Unmatched
		}
		e.Recorder.ObserveReport(e.now().Sub(started), n, unmatched, err)
	}()

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = started
	}

	policies, err := e.Store.ListPolicies(ctx, req.OrgID, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}

	r := e.newRun(ctx, req.OrgID)
	records := make([]Record, 0, len(policies))
	for _, p := range policies {
		rec, err := r.compute(p, asOf)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.PolicyNumber, err)
		}
		records = append(records, rec)
	}

	return &Report{
		OrgID:       req.OrgID,
		AsOf:        truncateDay(asOf),
		GeneratedAt: started,
		Records:     records,
		Summary:     Summarize(records),
	}, nil
}

// ResolvePolicy computes the record of a single policy.
func (e *Engine) ResolvePolicy(ctx context.Context, p Policy, asOf time.Time) (Record, error) {
	if asOf.IsZero() {
		asOf = e.now()
	}
	return e.newRun(ctx, p.OrgID).compute(p, asOf)
}

// =============================================================================
// PER-REPORT RUN - memoized lookups
// =============================================================================

type run struct {
	e     *Engine
	ctx   context.Context
	orgID string

	grids     map[ProductCategory]*GridIndex
	agents    map[string]*Agent
	employees map[string]*Employee
	misps     map[string]*MISP
	tiers     map[string]*CommissionTier
}

func (e *Engine) newRun(ctx context.Context, orgID string) *run {
	return &run{
		e:         e,
		ctx:       ctx,
		orgID:     orgID,
		grids:     make(map[ProductCategory]*GridIndex),
		agents:    make(map[string]*Agent),
		employees: make(map[string]*Employee),
		misps:     make(map[string]*MISP),
		tiers:     make(map[string]*CommissionTier),
	}
}

func (r *run) compute(p Policy, asOf time.Time) (Record, error) {
	category := p.Category
	if category == "" {
		category = ParseProductCategory(p.ProductName)
	}
	premium := p.Premium()

	match := NoMatch
	if category.HasGrid() {
		idx, err := r.gridIndex(category)
		if err != nil {
			return Record{}, err
		}
		match = idx.Resolve(ResolveInput{
			OrgID:    p.OrgID,
			Category: category,
			Provider: p.Provider,
			PlanName: p.PlanName,
			AsOf:     asOf,
			Premium:  premium,
		})
	}

	rec := Record{
		PolicyID:     p.ID,
		PolicyNumber: p.PolicyNumber,
		CustomerName: p.CustomerName,
		Category:     category,
		Provider:     p.Provider,
		PlanName:     p.PlanName,
		SourceType:   p.SourceType,
		Premium:      premium,
		Rates:        match.Rates,
		Amounts:      Calculate(premium, match.Rates),
		Status:       StatusNoGridMatch,
		PolicyAt:     p.CreatedAt,
		StartDate:    p.StartDate,
	}
	if match.Matched {
		rec.GridID = match.Grid.ID
		rec.Status = StatusCalculated
	}

	in := SplitInput{Source: p.SourceType}
	switch p.SourceType {
	case SourceAgent:
		rec.SourceID = p.AgentID
		agent, err := r.agent(p.AgentID)
		if err != nil {
			return Record{}, err
		}
		var tier *CommissionTier
		var reporting string
		if agent != nil {
			rec.SourceName = agent.Name
			reporting = agent.EmployeeID
			if tier, err = r.tier(agent.TierID); err != nil {
				return Record{}, err
			}
		}
		in.Percentage = r.e.Rules.ResolveAgentPercentage(agent, tier)
		if in.HasReportingEmployee, err = r.attachReporting(&rec, reporting); err != nil {
			return Record{}, err
		}
	case SourceMISP:
		rec.SourceID = p.MISPID
		m, err := r.misp(p.MISPID)
		if err != nil {
			return Record{}, err
		}
		var reporting string
		if m != nil {
			rec.SourceName = m.Name
			reporting = m.EmployeeID
		}
		in.Percentage = r.e.Rules.ResolveMISPPercentage(m)
		if in.HasReportingEmployee, err = r.attachReporting(&rec, reporting); err != nil {
			return Record{}, err
		}
	case SourceEmployee:
		rec.SourceID = p.EmployeeID
		emp, err := r.employee(p.EmployeeID)
		if err != nil {
			return Record{}, err
		}
		if emp != nil {
			rec.SourceName = emp.Name
		}
		in.Percentage = r.e.Rules.EmployeePercentage
	default:
		rec.SourceType = SourceDirect
		in.Source = SourceDirect
		in.Percentage = decimal.Zero
	}

	rec.SourcePercentage = clampPercentage(in.Percentage)
	rec.Split = SplitCommission(rec.TotalCommission, in, r.e.Rules)
	return rec, nil
}

// attachReporting resolves the reporting employee back-reference.
func (r *run) attachReporting(rec *Record, employeeID string) (bool, error) {
	if employeeID == "" {
		return false, nil
	}
	emp, err := r.employee(employeeID)
	if err != nil {
		return false, err
	}
	if emp == nil {
		return false, nil
	}
	rec.ReportingEmployeeID = emp.ID
	rec.ReportingEmployeeName = emp.Name
	return true, nil
}

func (r *run) gridIndex(c ProductCategory) (*GridIndex, error) {
	if idx, ok := r.grids[c]; ok {
		return idx, nil
	}
	rows, err := r.e.Store.ListGridRows(r.ctx, r.orgID, c)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", c.GridTable(), err)
	}
	idx := NewGridIndex(rows)
	r.grids[c] = idx
	return idx, nil
}

func (r *run) agent(id string) (*Agent, error) {
	return memoLookup(r.agents, id, func() (*Agent, error) { return r.e.Store.GetAgent(r.ctx, r.orgID, id) }, "agent")
}

func (r *run) employee(id string) (*Employee, error) {
	return memoLookup(r.employees, id, func() (*Employee, error) { return r.e.Store.GetEmployee(r.ctx, r.orgID, id) }, "employee")
}

func (r *run) misp(id string) (*MISP, error) {
	return memoLookup(r.misps, id, func() (*MISP, error) { return r.e.Store.GetMISP(r.ctx, r.orgID, id) }, "misp")
}

func (r *run) tier(id string) (*CommissionTier, error) {
	return memoLookup(r.tiers, id, func() (*CommissionTier, error) { return r.e.Store.GetTier(r.ctx, r.orgID, id) }, "commission tier")
}

func memoLookup[T any](cache map[string]*T, id string, load func() (*T, error), kind string) (*T, error) {
	if id == "" {
		return nil, nil
	}
	if v, ok := cache[id]; ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	cache[id] = v
	return v, nil
}

// =============================================================================
// SUMMARY - separate reduction pass over the completed record list
// =============================================================================

type Totals struct {
	Policies          int
	Premium           decimal.Decimal
	InsurerCommission decimal.Decimal
	Agent             decimal.Decimal
	MISP              decimal.Decimal
	Employee          decimal.Decimal
	ReportingEmployee decimal.Decimal
	Broker            decimal.Decimal
}

func (t *Totals) add(r Record) {
	t.Policies++
	t.Premium = t.Premium.Add(r.Premium)
	t.InsurerCommission = t.InsurerCommission.Add(r.TotalCommission)
	t.Agent = t.Agent.Add(r.AgentCommission)
	t.MISP = t.MISP.Add(r.MISPCommission)
	t.Employee = t.Employee.Add(r.EmployeeCommission)
	t.ReportingEmployee = t.ReportingEmployee.Add(r.ReportingEmployeeCommission)
	t.Broker = t.Broker.Add(r.BrokerShare)
}

type Summary struct {
	Totals
	Matched    int
	Unmatched  int
	ByCategory map[ProductCategory]Totals
}

// Summarize reduces records into totals.
func Summarize(records []Record) Summary {
	s := Summary{ByCategory: make(map[ProductCategory]Totals)}
	for _, r := range records {
		s.Totals.add(r)
		t := s.ByCategory[r.Category]
		t.add(r)
		s.ByCategory[r.Category] = t
		if r.Status == StatusCalculated {
			s.Matched++
		} else {
			s.Unmatched++
		}
	}
	return s
}
