/*
Package commission provides the brokerage commission engine.

PURPOSE:
  Turns issued insurance policies into commission records: which payout grid
  row applies, how much the insurer pays the broker, and how that amount is
  shared between the broker and whoever sourced the business (agent, employee
  or channel partner).

KEY CONCEPTS IN THIS FILE (types.go):
  - ProductCategory: closed enum resolved once from free-text product names
  - SourceType: who originated the policy
  - Policy, Agent, Employee, MISP, CommissionTier: consumed master data
  - GridRow: one row of the motor/life/health payout grids
  - Record: computed, ephemeral commission result for one policy

DESIGN PRINCIPLES:
  1. Precision: every amount and rate is a decimal.Decimal
  2. Rates are percentage points (5 means 5%)
  3. Records are never persisted implicitly; see sync.go

SEE ALSO:
  - resolver.go: payout grid matching
  - calculator.go: amount arithmetic
  - splitter.go: distribution between broker and source
  - report.go: aggregation over many policies
*/
package commission

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercentOf returns amount * pct / 100.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// MustParseDecimal parses s, returning zero for malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecimalPtr is a convenience for optional bounds in literals.
func DecimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

// =============================================================================
// PRODUCT CATEGORY
// =============================================================================

type ProductCategory string

const (
	CategoryMotor  ProductCategory = "motor"
	CategoryLife   ProductCategory = "life"
	CategoryHealth ProductCategory = "health"
	CategoryOther  ProductCategory = "other"
)

// GridCategories lists the categories that own a payout grid, in lookup order.
var GridCategories = []ProductCategory{CategoryMotor, CategoryLife, CategoryHealth}

// ParseProductCategory resolves a free-text product name ("Motor Insurance",
// "Term LIFE") to a category. Unrecognized names map to CategoryOther.
func ParseProductCategory(name string) ProductCategory {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, c := range GridCategories {
		if strings.Contains(n, string(c)) {
			return c
		}
	}
	return CategoryOther
}

// HasGrid reports whether the category is backed by a payout grid.
func (c ProductCategory) HasGrid() bool {
	switch c {
	case CategoryMotor, CategoryLife, CategoryHealth:
		return true
	default:
		return false
	}
}

// GridTable returns the payout grid table name for the category.
func (c ProductCategory) GridTable() string {
	switch c {
	case CategoryMotor:
		return "motor_payout_grid"
	case CategoryLife:
		return "life_payout_grid"
	case CategoryHealth:
		return "health_payout_grid"
	default:
		return ""
	}
}

// =============================================================================
// SOURCE TYPE
// =============================================================================

type SourceType string

const (
	SourceAgent    SourceType = "agent"
	SourceEmployee SourceType = "employee"
	SourceMISP     SourceType = "misp"
	SourceDirect   SourceType = "direct"
)

// ParseSourceType normalizes a stored source type. Empty and unknown values
// are treated as direct business.
func ParseSourceType(s string) SourceType {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourceAgent:
		return SourceAgent
	case SourceEmployee:
		return SourceEmployee
	case SourceMISP:
		return SourceMISP
	default:
		return SourceDirect
	}
}

// =============================================================================
// MASTER DATA (consumed, the database is the system of record)
// =============================================================================

type Policy struct {
	ID                string
	OrgID             string
	PolicyNumber      string
	CustomerID        string
	CustomerName      string
	ProductName       string
	Category          ProductCategory
	Provider          string
	PlanName          string
	GrossPremium      *decimal.Decimal
	PremiumWithGST    *decimal.Decimal
	PremiumWithoutGST *decimal.Decimal
	SourceType        SourceType
	AgentID           string
	EmployeeID        string
	MISPID            string
	Status            string
	StartDate         *time.Time
	EndDate           *time.Time
	CreatedAt         time.Time
}

// Premium returns the authoritative premium: the first non-nil of gross,
// with-GST and without-GST, or zero.
func (p Policy) Premium() decimal.Decimal {
	for _, v := range []*decimal.Decimal{p.GrossPremium, p.PremiumWithGST, p.PremiumWithoutGST} {
		if v != nil {
			return *v
		}
	}
	return decimal.Zero
}

type Agent struct {
	ID                 string
	OrgID              string
	Name               string
	Email              string
	OverridePercentage *decimal.Decimal
	TierID             string
	EmployeeID         string // reporting employee
	CreatedAt          time.Time
}

type Employee struct {
	ID        string
	OrgID     string
	Name      string
	Email     string
	CreatedAt time.Time
}

// MISP is a channel partner (motor insurance service provider, usually a dealer).
type MISP struct {
	ID         string
	OrgID      string
	Name       string
	Percentage *decimal.Decimal
	EmployeeID string // reporting employee
	CreatedAt  time.Time
}

type CommissionTier struct {
	ID             string
	OrgID          string
	Name           string
	BasePercentage decimal.Decimal
	CreatedAt      time.Time
}

// =============================================================================
// PAYOUT GRID
// =============================================================================

// GridRow is one row of a payout grid. Nil pointer filters are wildcards.
type GridRow struct {
	ID         string
	OrgID      string
	Category   ProductCategory
	Provider   *string
	PlanName   *string
	ValidFrom  *time.Time
	ValidTo    *time.Time
	MinPremium *decimal.Decimal
	MaxPremium *decimal.Decimal
	BaseRate   decimal.Decimal
	RewardRate decimal.Decimal
	BonusRate  decimal.Decimal
	IsActive   bool
	CreatedAt  time.Time
}

// Rates holds the three rate components in percentage points.
type Rates struct {
	Base   decimal.Decimal
	Reward decimal.Decimal
	Bonus  decimal.Decimal
}

// Total is the simple sum of the components.
func (r Rates) Total() decimal.Decimal { return r.Base.Add(r.Reward).Add(r.Bonus) }

// =============================================================================
// COMPUTED RECORD
// =============================================================================

type CalculationStatus string

const (
	StatusCalculated  CalculationStatus = "calculated"
	StatusNoGridMatch CalculationStatus = "no_grid_match"
)

// Record is the computed commission for one policy. Not persisted unless synced.
type Record struct {
	PolicyID     string
	PolicyNumber string
	CustomerName string
	Category     ProductCategory
	Provider     string
	PlanName     string
	SourceType   SourceType
	SourceID     string
	SourceName   string
	Premium      decimal.Decimal

	GridID string
	Rates  Rates
	Amounts
	Split

	ReportingEmployeeID   string
	ReportingEmployeeName string
	SourcePercentage      decimal.Decimal

	Status    CalculationStatus
	PolicyAt  time.Time
	StartDate *time.Time
}
