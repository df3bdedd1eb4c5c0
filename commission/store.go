/*
store.go - Persistence interfaces used by the engine

PURPOSE:
  The engine reads master data and payout grids through Store and writes
  synced commission history through HistoryStore. Lookups that find nothing
  return (nil, nil); only infrastructure failures are errors.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - commission/store/memory.go: in-memory for tests and dev
*/
package commission

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PolicyFilter narrows the policy list of a report.
type PolicyFilter struct {
	Category   ProductCategory
	SourceType SourceType
	Provider   string
	From       *time.Time // policy start date lower bound (inclusive)
	To         *time.Time // policy start date upper bound (inclusive)
	Search     string     // policy number or customer name
}

// Store is the read side used by report generation.
type Store interface {
	// ListPolicies returns every policy of the org matching filter, newest first.
	ListPolicies(ctx context.Context, orgID string, filter PolicyFilter) ([]Policy, error)

	// ListGridRows returns all rows of the category's payout grid for the org.
	ListGridRows(ctx context.Context, orgID string, category ProductCategory) ([]GridRow, error)

	// Single-row lookups are scoped to the org; an id of another org is
	// reported as missing, (nil, nil).
	GetAgent(ctx context.Context, orgID, id string) (*Agent, error)
	GetEmployee(ctx context.Context, orgID, id string) (*Employee, error)
	GetMISP(ctx context.Context, orgID, id string) (*MISP, error)
	GetTier(ctx context.Context, orgID, id string) (*CommissionTier, error)
}

// =============================================================================
// COMMISSION HISTORY - the only write path of the engine
// =============================================================================

// AgentCommission is a synced row of agent_commission_history,
// unique on (PolicyID, AgentID).
type AgentCommission struct {
	PolicyID         string
	AgentID          string
	OrgID            string
	GridID           string
	Premium          decimal.Decimal
	TotalRate        decimal.Decimal
	TotalCommission  decimal.Decimal
	Percentage       decimal.Decimal
	CommissionAmount decimal.Decimal
	Status           CalculationStatus
	CalculatedAt     time.Time
}

type EmployeeRole string

const (
	RoleSourcing  EmployeeRole = "sourcing"
	RoleReporting EmployeeRole = "reporting"
)

// EmployeeCommission is a synced row of employee_commission_history,
// unique on (PolicyID, EmployeeID).
type EmployeeCommission struct {
	PolicyID         string
	EmployeeID       string
	OrgID            string
	Role             EmployeeRole
	GridID           string
	Premium          decimal.Decimal
	TotalRate        decimal.Decimal
	TotalCommission  decimal.Decimal
	CommissionAmount decimal.Decimal
	Status           CalculationStatus
	CalculatedAt     time.Time
}

// HistoryStore upserts synced commission rows. A re-sync overwrites the
// previous values for the same key.
type HistoryStore interface {
	UpsertAgentCommission(ctx context.Context, row AgentCommission) error
	UpsertEmployeeCommission(ctx context.Context, row EmployeeCommission) error
}

// Match applies the filter to p in memory. SQL stores translate the same
// rules into WHERE clauses.
func (f PolicyFilter) Match(p Policy) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.SourceType != "" && ParseSourceType(string(p.SourceType)) != f.SourceType {
		return false
	}
	if f.Provider != "" && !strings.Contains(strings.ToLower(p.Provider), strings.ToLower(f.Provider)) {
		return false
	}
	if f.From != nil && (p.StartDate == nil || truncateDay(*p.StartDate).Before(truncateDay(*f.From))) {
		return false
	}
	if f.To != nil && (p.StartDate == nil || truncateDay(*p.StartDate).After(truncateDay(*f.To))) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(p.PolicyNumber), q) &&
			!strings.Contains(strings.ToLower(p.CustomerName), q) {
			return false
		}
	}
	return true
}
