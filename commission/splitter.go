package commission

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SPLIT RULES
// =============================================================================

// RemainderRule decides who receives what the agent or MISP does not.
type RemainderRule string

const (
	// RemainderBroker always credits the broker.
	RemainderBroker RemainderRule = "broker"
	// RemainderReportingEmployee always credits the reporting employee column.
	RemainderReportingEmployee RemainderRule = "reporting_employee"
	// RemainderAuto credits the reporting employee when one is resolved,
	// otherwise the broker.
	RemainderAuto RemainderRule = "auto"
)

// ParseRemainderRule parses a rule name. Empty means RemainderAuto.
func ParseRemainderRule(s string) (RemainderRule, error) {
	switch RemainderRule(strings.ToLower(strings.TrimSpace(s))) {
	case "", RemainderAuto:
		return RemainderAuto, nil
	case RemainderBroker:
		return RemainderBroker, nil
	case RemainderReportingEmployee:
		return RemainderReportingEmployee, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRemainderRule, s)
	}
}

// SplitRules carries the default percentages and the remainder rule.
type SplitRules struct {
	DefaultAgentPercentage decimal.Decimal
	EmployeePercentage     decimal.Decimal
	DefaultMISPPercentage  decimal.Decimal
	Remainder              RemainderRule
}

// DefaultSplitRules returns 40% agent, 60% employee, 50% MISP, auto remainder.
func DefaultSplitRules() SplitRules {
	return SplitRules{
		DefaultAgentPercentage: decimal.NewFromInt(40),
		EmployeePercentage:     decimal.NewFromInt(60),
		DefaultMISPPercentage:  decimal.NewFromInt(50),
		Remainder:              RemainderAuto,
	}
}

// ResolveAgentPercentage picks the agent's override, then the tier base
// percentage, then the default.
func (r SplitRules) ResolveAgentPercentage(agent *Agent, tier *CommissionTier) decimal.Decimal {
	if agent != nil && agent.OverridePercentage != nil {
		return *agent.OverridePercentage
	}
	if tier != nil {
		return tier.BasePercentage
	}
	return r.DefaultAgentPercentage
}

// ResolveMISPPercentage picks the MISP's configured percentage or the default.
func (r SplitRules) ResolveMISPPercentage(m *MISP) decimal.Decimal {
	if m != nil && m.Percentage != nil {
		return *m.Percentage
	}
	return r.DefaultMISPPercentage
}

// =============================================================================
// SPLITTER
// =============================================================================

// Split is the allocation of one total commission. Fields always sum to the total.
type Split struct {
	AgentCommission             decimal.Decimal
	EmployeeCommission          decimal.Decimal
	MISPCommission              decimal.Decimal
	ReportingEmployeeCommission decimal.Decimal
	BrokerShare                 decimal.Decimal
}

// Sum adds all split fields.
func (s Split) Sum() decimal.Decimal {
	return s.AgentCommission.Add(s.EmployeeCommission).Add(s.MISPCommission).
		Add(s.ReportingEmployeeCommission).Add(s.BrokerShare)
}

// SplitInput describes the source side of a policy.
type SplitInput struct {
	Source     SourceType
	Percentage decimal.Decimal // agent or MISP share; ignored for employee and direct
	// HasReportingEmployee is true when the agent or MISP has a resolved
	// reporting employee.
	HasReportingEmployee bool
}

// SplitCommission allocates total according to in and rules.
func SplitCommission(total decimal.Decimal, in SplitInput, rules SplitRules) Split {
	s := Split{
		AgentCommission:             decimal.Zero,
		EmployeeCommission:          decimal.Zero,
		MISPCommission:              decimal.Zero,
		ReportingEmployeeCommission: decimal.Zero,
		BrokerShare:                 decimal.Zero,
	}

	switch in.Source {
	case SourceAgent:
		s.AgentCommission = PercentOf(total, clampPercentage(in.Percentage))
		s.assignRemainder(total.Sub(s.AgentCommission), in.HasReportingEmployee, rules.Remainder)
	case SourceMISP:
		s.MISPCommission = PercentOf(total, clampPercentage(in.Percentage))
		s.assignRemainder(total.Sub(s.MISPCommission), in.HasReportingEmployee, rules.Remainder)
	case SourceEmployee:
		s.EmployeeCommission = PercentOf(total, clampPercentage(rules.EmployeePercentage))
		s.BrokerShare = total.Sub(s.EmployeeCommission)
	default:
		s.BrokerShare = total
	}
	return s
}

func (s *Split) assignRemainder(rest decimal.Decimal, hasReporting bool, rule RemainderRule) {
	switch rule {
	case RemainderReportingEmployee:
		s.ReportingEmployeeCommission = rest
	case RemainderBroker:
		s.BrokerShare = rest
	default:
		if hasReporting {
			s.ReportingEmployeeCommission = rest
		} else {
			s.BrokerShare = rest
		}
	}
}

func clampPercentage(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
