package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SyncResult counts the rows written by Sync.
type SyncResult struct {
	Policies     int
	AgentRows    int
	EmployeeRows int
}

// Sync generates the report for req and upserts agent and employee
// commission history. Rows are keyed (policy, agent) and (policy, employee),
// so running Sync again overwrites earlier values instead of duplicating them.
func (e *Engine) Sync(ctx context.Context, req ReportRequest) (SyncResult, error) {
	if e.History == nil {
		return SyncResult{}, ErrStoreRequired
	}

	rep, err := e.Generate(ctx, req)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Policies: len(rep.Records)}
	at := e.now().UTC()
	for _, r := range rep.Records {
		switch r.SourceType {
		case SourceAgent:
			if r.SourceID != "" {
				row := AgentCommission{
					PolicyID:         r.PolicyID,
					AgentID:          r.SourceID,
					OrgID:            rep.OrgID,
					GridID:           r.GridID,
					Premium:          r.Premium,
					TotalRate:        r.TotalRate,
					TotalCommission:  r.TotalCommission,
					Percentage:       r.SourcePercentage,
					CommissionAmount: r.AgentCommission,
					Status:           r.Status,
					CalculatedAt:     at,
				}
				if err := e.History.UpsertAgentCommission(ctx, row); err != nil {
					return res, fmt.Errorf("failed to sync agent commission for %s: %w", r.PolicyNumber, err)
				}
				res.AgentRows++
			}
		case SourceEmployee:
			if r.SourceID != "" {
				if err := e.upsertEmployee(ctx, rep.OrgID, r, r.SourceID, RoleSourcing, r.EmployeeCommission, at); err != nil {
					return res, err
				}
				res.EmployeeRows++
			}
		}

		if r.ReportingEmployeeID != "" && !r.ReportingEmployeeCommission.IsZero() {
			if err := e.upsertEmployee(ctx, rep.OrgID, r, r.ReportingEmployeeID, RoleReporting, r.ReportingEmployeeCommission, at); err != nil {
				return res, err
			}
			res.EmployeeRows++
		}
	}
	return res, nil
}

func (e *Engine) upsertEmployee(ctx context.Context, orgID string, r Record, employeeID string, role EmployeeRole, amount decimal.Decimal, at time.Time) error {
	row := EmployeeCommission{
		PolicyID:         r.PolicyID,
		EmployeeID:       employeeID,
		OrgID:            orgID,
		Role:             role,
		GridID:           r.GridID,
		Premium:          r.Premium,
		TotalRate:        r.TotalRate,
		TotalCommission:  r.TotalCommission,
		CommissionAmount: amount,
		Status:           r.Status,
		CalculatedAt:     at,
	}
	if err := e.History.UpsertEmployeeCommission(ctx, row); err != nil {
		return fmt.Errorf("failed to sync employee commission for %s: %w", r.PolicyNumber, err)
	}
	return nil
}
