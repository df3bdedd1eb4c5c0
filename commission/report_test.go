package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/commission/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var asOf = day(2025, time.June, 15)

func newTestEngine(t *testing.T) (*commission.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()

	mem.SaveGridRow(motorRow("grid-motor", "Acme General", day(2025, time.January, 1)))
	life := motorRow("grid-life", "Sun Life", day(2025, time.January, 1))
	life.Category = commission.CategoryLife
	life.BaseRate, life.RewardRate, life.BonusRate = d("20"), d("0"), d("2")
	mem.SaveGridRow(life)

	override := d("45")
	mem.SaveEmployee(commission.Employee{ID: "emp-1", OrgID: "org-1", Name: "Priya Raman"})
	mem.SaveEmployee(commission.Employee{ID: "emp-2", OrgID: "org-1", Name: "Arjun Mehta"})
	mem.SaveTier(commission.CommissionTier{ID: "tier-gold", OrgID: "org-1", BasePercentage: d("55")})
	mem.SaveAgent(commission.Agent{ID: "agent-override", OrgID: "org-1", Name: "Override Agent", OverridePercentage: &override})
	mem.SaveAgent(commission.Agent{ID: "agent-tier", OrgID: "org-1", Name: "Tier Agent", TierID: "tier-gold", EmployeeID: "emp-1"})
	mem.SaveAgent(commission.Agent{ID: "agent-plain", OrgID: "org-1", Name: "Plain Agent"})
	mem.SaveMISP(commission.MISP{ID: "misp-1", OrgID: "org-1", Name: "City Motors", EmployeeID: "emp-2"})

	engine := commission.NewEngine(mem, mem, commission.DefaultSplitRules())
	engine.Now = func() time.Time { return asOf }
	return engine, mem
}

func premium(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func policy(id string, created time.Time, mut func(p *commission.Policy)) commission.Policy {
	p := commission.Policy{
		ID:           id,
		OrgID:        "org-1",
		PolicyNumber: "POL-" + id,
		CustomerName: "Customer " + id,
		ProductName:  "Motor",
		Category:     commission.CategoryMotor,
		Provider:     "Acme General",
		GrossPremium: premium("100000"),
		SourceType:   commission.SourceDirect,
		CreatedAt:    created,
		StartDate:    timePtr(created),
	}
	if mut != nil {
		mut(&p)
	}
	return p
}

func recordByID(t *testing.T, rep *commission.Report, id string) commission.Record {
	t.Helper()
	for _, r := range rep.Records {
		if r.PolicyID == id {
			return r
		}
	}
	t.Fatalf("record %s not found", id)
	return commission.Record{}
}

// =============================================================================
// REPORT GENERATION
// =============================================================================

func TestGenerate_ExampleScenario_AgentOverride(t *testing.T) {
	// GIVEN: ₹100,000 motor policy sourced by an agent with a 45% override
	engine, mem := newTestEngine(t)
	mem.SavePolicy(policy("p1", day(2025, time.May, 1), func(p *commission.Policy) {
		p.SourceType = commission.SourceAgent
		p.AgentID = "agent-override"
	}))

	// WHEN: generating the report
	rep, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.NoError(t, err)

	// THEN: 6% of premium, agent 2,700, remainder 3,300 to the broker
	r := recordByID(t, rep, "p1")
	assert.Equal(t, commission.StatusCalculated, r.Status)
	assert.Equal(t, "grid-motor", r.GridID)
	assert.Equal(t, "6", r.TotalRate.String())
	assert.Equal(t, "6000", r.TotalCommission.String())
	assert.Equal(t, "2700", r.AgentCommission.String())
	assert.Equal(t, "3300", r.BrokerShare.String())
	assert.True(t, r.ReportingEmployeeCommission.IsZero())
	assert.Equal(t, "Override Agent", r.SourceName)
	assert.Equal(t, "45", r.SourcePercentage.String())
}

func TestGenerate_AgentTierWithReportingEmployee(t *testing.T) {
	engine, mem := newTestEngine(t)
	mem.SavePolicy(policy("p1", day(2025, time.May, 1), func(p *commission.Policy) {
		p.SourceType = commission.SourceAgent
		p.AgentID = "agent-tier"
	}))

	rep, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.NoError(t, err)

	r := recordByID(t, rep, "p1")
	assert.Equal(t, "3300", r.AgentCommission.String()) // 55% tier
	assert.Equal(t, "2700", r.ReportingEmployeeCommission.String())
	assert.True(t, r.BrokerShare.IsZero())
	assert.Equal(t, "emp-1", r.ReportingEmployeeID)
	assert.Equal(t, "Priya Raman", r.ReportingEmployeeName)
}

func TestGenerate_AgentOfAnotherOrgIsNotResolved(t *testing.T) {
	// GIVEN: org-2 has its own motor grid and a policy naming org-1's agent
	engine, mem := newTestEngine(t)
	row := motorRow("grid-motor", "Acme General", day(2025, time.January, 1))
	row.OrgID = "org-2"
	mem.SaveGridRow(row)
	mem.SavePolicy(policy("p1", day(2025, time.May, 1), func(p *commission.Policy) {
		p.OrgID = "org-2"
		p.SourceType = commission.SourceAgent
		p.AgentID = "agent-tier"
	}))

	// WHEN: generating org-2's report
	rep, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-2"})
	require.NoError(t, err)

	// THEN: the agent is unknown, so the default percentage applies and no
	// reporting employee is attached
	r := recordByID(t, rep, "p1")
	assert.Equal(t, "agent-tier", r.SourceID)
	assert.Empty(t, r.SourceName)
	assert.Equal(t, "40", r.SourcePercentage.String())
	assert.Equal(t, "2400", r.AgentCommission.String())
	assert.Empty(t, r.ReportingEmployeeID)
	assert.Equal(t, "3600", r.BrokerShare.String())
}

func TestGenerate_RemainderRuleBrokerOverridesReporting(t *testing.T) {
	engine, mem := newTestEngine(t)
	engine.Rules.Remainder = commission.RemainderBroker
	mem.SavePolicy(policy("p1", day(2025, time.May, 1), func(p *commission.Policy) {
		p.SourceType = commission.SourceMISP
		p.MISPID = "misp-1"
	}))

	rep, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.NoError(t, err)

	r := recordByID(t, rep, "p1")
	assert.Equal(t, "3000", r.MISPCommission.String())
	assert.Equal(t, "3000", r.BrokerShare.String())
	assert.True(t, r.ReportingEmployeeCommission.IsZero())
	assert.Equal(t, "Arjun Mehta", r.ReportingEmployeeName)
}

func TestGenerate_NoGridMatchIsNotAnError(t *testing.T) {
	engine, mem := newTestEngine(t)
	mem.SavePolicy(policy("p1", day(2025, time.May, 1), func(p *commission.Policy) {
		p.Provider = "Unknown Insurer"
	}))
	mem.SavePolicy(policy("p2", day(2025, time.May, 2), func(p *commission.Policy) {
		p.ProductName = "Travel"
		p.Category = commission.CategoryOther
	}))

	rep, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, rep.Records, 2)

	for _, r := range rep.Records {
		assert.Equal(t, commission.StatusNoGridMatch, r.Status)
		assert.True(t, r.TotalCommission.IsZero())
		assert.True(t, r.Sum().IsZero())
	}
	assert.Equal(t, 0, rep.Summary.Matched)
	assert.Equal(t, 2, rep.Summary.Unmatched)
}

func TestGenerate_NewestFirstAndSummary(t *testing.T) {
	engine, mem := newTestEngine(t)
	mem.SavePolicy(policy("old", day(2025, time.January, 10), func(p *commission.Policy) {
		p.SourceType = commission.SourceEmployee
		p.EmployeeID = "emp-1"
	}))
	mem.SavePolicy(policy("mid", day(2025, time.February, 10), func(p *commission.Policy) {
		p.SourceType = commission.SourceAgent
		p.AgentID = "agent-plain"
	}))
	mem.SavePolicy(policy("new", day(2025, time.March, 10), func(p *commission.Policy) {
		p.ProductName = "Term Life"
		p.Category = commission.CategoryLife
		p.Provider = "Sun Life"
		p.GrossPremium = premium("50000")
	}))

	rep, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.NoError(t, err)

	ids := []string{rep.Records[0].PolicyID, rep.Records[1].PolicyID, rep.Records[2].PolicyID}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	s := rep.Summary
	assert.Equal(t, 3, s.Policies)
	assert.Equal(t, "250000", s.Premium.String())
	// motor 6000 + motor 6000 + life 50000*22% = 11000
	assert.Equal(t, "23000", s.InsurerCommission.String())
	assert.Equal(t, "3600", s.Employee.String())
	assert.Equal(t, "2400", s.Agent.String())
	assert.Equal(t, "17000", s.Broker.String())
	assert.True(t, s.Agent.Add(s.Employee).Add(s.MISP).Add(s.ReportingEmployee).Add(s.Broker).Equal(s.InsurerCommission))

	assert.Equal(t, 2, s.ByCategory[commission.CategoryMotor].Policies)
	assert.Equal(t, "11000", s.ByCategory[commission.CategoryLife].InsurerCommission.String())
}

func TestGenerate_FilterAndPagination(t *testing.T) {
	engine, mem := newTestEngine(t)
	for i := 0; i < 25; i++ {
		created := day(2025, time.January, 1).AddDate(0, 0, i)
		mem.SavePolicy(policy(string(rune('a'+i)), created, nil))
	}
	mem.SavePolicy(policy("life", day(2025, time.March, 1), func(p *commission.Policy) {
		p.Category = commission.CategoryLife
		p.Provider = "Sun Life"
	}))

	rep, err := engine.Generate(context.Background(), commission.ReportRequest{
		OrgID:  "org-1",
		Filter: commission.PolicyFilter{Category: commission.CategoryMotor},
	})
	require.NoError(t, err)
	require.Len(t, rep.Records, 25)

	assert.Len(t, rep.Page(1, 0), commission.DefaultPageSize)
	assert.Len(t, rep.Page(2, 20), 5)
	assert.Len(t, rep.Page(3, 20), 0)
	assert.Len(t, rep.Page(0, 20), 25)
	assert.Equal(t, 25, rep.Summary.Policies)

	rep, err = engine.Generate(context.Background(), commission.ReportRequest{
		OrgID:  "org-1",
		Filter: commission.PolicyFilter{Search: "customer LIFE"},
	})
	require.NoError(t, err)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "life", rep.Records[0].PolicyID)
}

func TestGenerate_StoreFailureAbortsReport(t *testing.T) {
	engine, mem := newTestEngine(t)
	mem.SavePolicy(policy("p1", day(2025, time.May, 1), nil))
	mem.Fail = errors.New("connection reset")

	rep, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	assert.Error(t, err)
	assert.Nil(t, rep)
}

type failingGrids struct{ *store.Memory }

func (f failingGrids) ListGridRows(context.Context, string, commission.ProductCategory) ([]commission.GridRow, error) {
	return nil, errors.New("grid query failed")
}

func TestGenerate_GridLookupFailureAbortsReport(t *testing.T) {
	_, mem := newTestEngine(t)
	mem.SavePolicy(policy("p1", day(2025, time.May, 1), nil))
	engine := commission.NewEngine(failingGrids{mem}, mem, commission.DefaultSplitRules())

	rep, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "motor_payout_grid")
	assert.Nil(t, rep)
}

type recorder struct {
	calls     int
	records   int
	unmatched int
	err       error
}

func (r *recorder) ObserveReport(_ time.Duration, records, unmatched int, err error) {
	r.calls++
	r.records, r.unmatched, r.err = records, unmatched, err
}

func TestGenerate_RecorderObservesOutcome(t *testing.T) {
	engine, mem := newTestEngine(t)
	rec := &recorder{}
	engine.Recorder = rec
	mem.SavePolicy(policy("p1", day(2025, time.May, 1), nil))
	mem.SavePolicy(policy("p2", day(2025, time.May, 2), func(p *commission.Policy) { p.Provider = "Nobody" }))

	_, err := engine.Generate(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 2, rec.records)
	assert.Equal(t, 1, rec.unmatched)
	assert.NoError(t, rec.err)
}

// =============================================================================
// SYNC
// =============================================================================

func TestSync_UpsertsAndOverwrites(t *testing.T) {
	engine, mem := newTestEngine(t)
	mem.SavePolicy(policy("p-agent", day(2025, time.May, 1), func(p *commission.Policy) {
		p.SourceType = commission.SourceAgent
		p.AgentID = "agent-tier"
	}))
	mem.SavePolicy(policy("p-emp", day(2025, time.May, 2), func(p *commission.Policy) {
		p.SourceType = commission.SourceEmployee
		p.EmployeeID = "emp-2"
	}))

	res, err := engine.Sync(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Policies)
	assert.Equal(t, 1, res.AgentRows)
	assert.Equal(t, 2, res.EmployeeRows) // sourcing emp-2 + reporting emp-1

	// Re-sync with a changed grid overwrites instead of duplicating.
	newer := motorRow("grid-motor-2", "Acme General", day(2025, time.February, 1))
	newer.BaseRate = d("9")
	mem.SaveGridRow(newer)

	_, err = engine.Sync(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	require.NoError(t, err)

	agents := mem.AgentHistory()
	require.Len(t, agents, 1)
	assert.Equal(t, "grid-motor-2", agents[0].GridID)
	assert.Equal(t, "10", agents[0].TotalRate.String())
	assert.Len(t, mem.EmployeeHistory(), 2)
}

func TestSync_RequiresHistoryStore(t *testing.T) {
	_, mem := newTestEngine(t)
	engine := commission.NewEngine(mem, nil, commission.DefaultSplitRules())
	_, err := engine.Sync(context.Background(), commission.ReportRequest{OrgID: "org-1"})
	assert.ErrorIs(t, err, commission.ErrStoreRequired)
}
