// Package store provides commission.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/brokerage-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	policies  map[rowKey]commission.Policy
	grids     map[rowKey]commission.GridRow
	agents    map[rowKey]commission.Agent
	employees map[rowKey]commission.Employee
	misps     map[rowKey]commission.MISP
	tiers     map[rowKey]commission.CommissionTier

	agentHistory    map[historyKey]commission.AgentCommission
	employeeHistory map[historyKey]commission.EmployeeCommission

	// Fail, when set, is returned by every read. Used to test abort paths.
	Fail error
}

// rowKey scopes master data ids to their org.
type rowKey struct {
	OrgID string
	ID    string
}

type historyKey struct {
	OrgID    string
	PolicyID string
	PartyID  string
}

func NewMemory() *Memory {
	return &Memory{
		policies:        make(map[rowKey]commission.Policy),
		grids:           make(map[rowKey]commission.GridRow),
		agents:          make(map[rowKey]commission.Agent),
		employees:       make(map[rowKey]commission.Employee),
		misps:           make(map[rowKey]commission.MISP),
		tiers:           make(map[rowKey]commission.CommissionTier),
		agentHistory:    make(map[historyKey]commission.AgentCommission),
		employeeHistory: make(map[historyKey]commission.EmployeeCommission),
	}
}

// =============================================================================
// WRITES (master data)
// =============================================================================

func (m *Memory) SavePolicy(p commission.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[rowKey{p.OrgID, p.ID}] = p
}

func (m *Memory) SaveGridRow(r commission.GridRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grids[rowKey{r.OrgID, r.ID}] = r
}

func (m *Memory) SaveAgent(a commission.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[rowKey{a.OrgID, a.ID}] = a
}

func (m *Memory) SaveEmployee(e commission.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[rowKey{e.OrgID, e.ID}] = e
}

func (m *Memory) SaveMISP(x commission.MISP) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misps[rowKey{x.OrgID, x.ID}] = x
}

func (m *Memory) SaveTier(t commission.CommissionTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[rowKey{t.OrgID, t.ID}] = t
}

// =============================================================================
// READS (commission.Store)
// =============================================================================

func (m *Memory) ListPolicies(_ context.Context, orgID string, filter commission.PolicyFilter) ([]commission.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	var out []commission.Policy
	for _, p := range m.policies {
		if p.OrgID == orgID && filter.Match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Memory) ListGridRows(_ context.Context, orgID string, category commission.ProductCategory) ([]commission.GridRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	var out []commission.GridRow
	for _, r := range m.grids {
		if r.OrgID == orgID && r.Category == category {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) GetAgent(_ context.Context, orgID, id string) (*commission.Agent, error) {
	return get(m, m.agents, orgID, id)
}

func (m *Memory) GetEmployee(_ context.Context, orgID, id string) (*commission.Employee, error) {
	return get(m, m.employees, orgID, id)
}

func (m *Memory) GetMISP(_ context.Context, orgID, id string) (*commission.MISP, error) {
	return get(m, m.misps, orgID, id)
}

func (m *Memory) GetTier(_ context.Context, orgID, id string) (*commission.CommissionTier, error) {
	return get(m, m.tiers, orgID, id)
}

func get[T any](m *Memory, table map[rowKey]T, orgID, id string) (*T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	v, ok := table[rowKey{orgID, id}]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// =============================================================================
// HISTORY (commission.HistoryStore)
// =============================================================================

func (m *Memory) UpsertAgentCommission(_ context.Context, row commission.AgentCommission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentHistory[historyKey{row.OrgID, row.PolicyID, row.AgentID}] = row
	return nil
}

func (m *Memory) UpsertEmployeeCommission(_ context.Context, row commission.EmployeeCommission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employeeHistory[historyKey{row.OrgID, row.PolicyID, row.EmployeeID}] = row
	return nil
}

// AgentHistory returns the synced agent rows (test helper).
func (m *Memory) AgentHistory() []commission.AgentCommission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.AgentCommission, 0, len(m.agentHistory))
	for _, r := range m.agentHistory {
		out = append(out, r)
	}
	return out
}

// EmployeeHistory returns the synced employee rows (test helper).
func (m *Memory) EmployeeHistory() []commission.EmployeeCommission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.EmployeeCommission, 0, len(m.employeeHistory))
	for _, r := range m.employeeHistory {
		out = append(out, r)
	}
	return out
}

var (
	_ commission.Store        = (*Memory)(nil)
	_ commission.HistoryStore = (*Memory)(nil)
)
