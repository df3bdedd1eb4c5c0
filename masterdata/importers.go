package masterdata

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/brokerage-engine/catalog"
	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/factory"
)

// importer validates one record and writes it through the sink. Validation
// failures are *commission.ValidationError; anything else is a store error.
type importer func(ctx context.Context, orgID string, rec Record) error

func (s *Service) importer(t Table) importer {
	if category, ok := t.GridCategory(); ok {
		return func(ctx context.Context, orgID string, rec Record) error {
			row, err := s.grids.FromRecord(orgID, category, rec)
			if err != nil {
				return err
			}
			return s.Sink.SaveGridRow(ctx, row)
		}
	}
	switch t {
	case TableAgents:
		return s.importAgent
	case TableEmployees:
		return s.importEmployee
	case TableMISPs:
		return s.importMISP
	case TableTiers:
		return s.importTier
	case TablePolicies:
		return s.importPolicy
	case TableProducts:
		return s.importProduct
	}
	return nil
}

// =============================================================================
// ROW SCHEMAS - every cell arrives as text
// =============================================================================

type agentRow struct {
	ID                 string `json:"id" validate:"required"`
	Name               string `json:"name" validate:"required"`
	Email              string `json:"email" validate:"omitempty,email"`
	OverridePercentage string `json:"override_percentage" validate:"omitempty,numeric"`
	TierID             string `json:"tier_id"`
	EmployeeID         string `json:"employee_id"`
	CreatedAt          string `json:"created_at"`
}

type employeeRow struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	CreatedAt string `json:"created_at"`
}

type mispRow struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Percentage string `json:"percentage" validate:"omitempty,numeric"`
	EmployeeID string `json:"employee_id"`
	CreatedAt  string `json:"created_at"`
}

type tierRow struct {
	ID             string `json:"id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	BasePercentage string `json:"base_percentage" validate:"required,numeric"`
	CreatedAt      string `json:"created_at"`
}

type policyRow struct {
	ID                string `json:"id"`
	PolicyNumber      string `json:"policy_number" validate:"required"`
	CustomerID        string `json:"customer_id"`
	CustomerName      string `json:"customer_name"`
	ProductName       string `json:"product_name" validate:"required"`
	Provider          string `json:"provider"`
	PlanName          string `json:"plan_name"`
	GrossPremium      string `json:"gross_premium" validate:"omitempty,numeric"`
	PremiumWithGST    string `json:"premium_with_gst" validate:"omitempty,numeric"`
	PremiumWithoutGST string `json:"premium_without_gst" validate:"omitempty,numeric"`
	SourceType        string `json:"source_type" validate:"omitempty,oneof=agent employee misp direct"`
	AgentID           string `json:"agent_id" validate:"required_if=SourceType agent"`
	EmployeeID        string `json:"employee_id" validate:"required_if=SourceType employee"`
	MISPID            string `json:"misp_id" validate:"required_if=SourceType misp"`
	Status            string `json:"status"`
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	CreatedAt         string `json:"created_at"`
}

type productRow struct {
	ID             string `json:"id"`
	Name           string `json:"name" validate:"required"`
	Category       string `json:"category"`
	Provider       string `json:"provider"`
	Description    string `json:"description"`
	Features       string `json:"features"`
	RegionalPrices string `json:"regional_prices"`
	MinAge         string `json:"min_age" validate:"omitempty,number"`
	MaxAge         string `json:"max_age" validate:"omitempty,number"`
	MinSumInsured  string `json:"min_sum_insured" validate:"omitempty,numeric"`
	MaxSumInsured  string `json:"max_sum_insured" validate:"omitempty,numeric"`
	Regions        string `json:"regions"`
	IsActive       string `json:"is_active"`
}

// bind copies rec into a row schema and validates it.
func bind(rec Record, dst any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return commission.NewValidationError("", "%v", err)
	}
	return factory.Validate(dst)
}

// =============================================================================
// IMPORTERS
// =============================================================================

func (s *Service) importAgent(ctx context.Context, orgID string, rec Record) error {
	var row agentRow
	if err := bind(rec, &row); err != nil {
		return err
	}
	override, err := percent("override_percentage", row.OverridePercentage)
	if err != nil {
		return err
	}
	created, err := s.createdAt(row.CreatedAt)
	if err != nil {
		return err
	}
	return s.Sink.SaveAgent(ctx, commission.Agent{
		ID:                 row.ID,
		OrgID:              orgID,
		Name:               row.Name,
		Email:              row.Email,
		OverridePercentage: override,
		TierID:             row.TierID,
		EmployeeID:         row.EmployeeID,
		CreatedAt:          created,
	})
}

func (s *Service) importEmployee(ctx context.Context, orgID string, rec Record) error {
	var row employeeRow
	if err := bind(rec, &row); err != nil {
		return err
	}
	created, err := s.createdAt(row.CreatedAt)
	if err != nil {
		return err
	}
	return s.Sink.SaveEmployee(ctx, commission.Employee{
		ID:        row.ID,
		OrgID:     orgID,
		Name:      row.Name,
		Email:     row.Email,
		CreatedAt: created,
	})
}

func (s *Service) importMISP(ctx context.Context, orgID string, rec Record) error {
	var row mispRow
	if err := bind(rec, &row); err != nil {
		return err
	}
	pct, err := percent("percentage", row.Percentage)
	if err != nil {
		return err
	}
	created, err := s.createdAt(row.CreatedAt)
	if err != nil {
		return err
	}
	return s.Sink.SaveMISP(ctx, commission.MISP{
		ID:         row.ID,
		OrgID:      orgID,
		Name:       row.Name,
		Percentage: pct,
		EmployeeID: row.EmployeeID,
		CreatedAt:  created,
	})
}

func (s *Service) importTier(ctx context.Context, orgID string, rec Record) error {
	var row tierRow
	if err := bind(rec, &row); err != nil {
		return err
	}
	pct, err := percent("base_percentage", row.BasePercentage)
	if err != nil {
		return err
	}
	created, err := s.createdAt(row.CreatedAt)
	if err != nil {
		return err
	}
	return s.Sink.SaveTier(ctx, commission.CommissionTier{
		ID:             row.ID,
		OrgID:          orgID,
		Name:           row.Name,
		BasePercentage: *pct,
		CreatedAt:      created,
	})
}

func (s *Service) importPolicy(ctx context.Context, orgID string, rec Record) error {
	if v, ok := rec["source_type"]; ok {
		rec["source_type"] = strings.ToLower(v)
	}
	var row policyRow
	if err := bind(rec, &row); err != nil {
		return err
	}

	p := commission.Policy{
		ID:           row.ID,
		OrgID:        orgID,
		PolicyNumber: row.PolicyNumber,
		CustomerID:   row.CustomerID,
		CustomerName: row.CustomerName,
		ProductName:  row.ProductName,
		Category:     commission.ParseProductCategory(row.ProductName),
		Provider:     row.Provider,
		PlanName:     row.PlanName,
		SourceType:   commission.ParseSourceType(row.SourceType),
		AgentID:      row.AgentID,
		EmployeeID:   row.EmployeeID,
		MISPID:       row.MISPID,
		Status:       row.Status,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	var err error
	if p.GrossPremium, err = amount("gross_premium", row.GrossPremium); err != nil {
		return err
	}
	if p.PremiumWithGST, err = amount("premium_with_gst", row.PremiumWithGST); err != nil {
		return err
	}
	if p.PremiumWithoutGST, err = amount("premium_without_gst", row.PremiumWithoutGST); err != nil {
		return err
	}
	if p.StartDate, err = date("start_date", row.StartDate); err != nil {
		return err
	}
	if p.EndDate, err = date("end_date", row.EndDate); err != nil {
		return err
	}
	if p.CreatedAt, err = s.createdAt(row.CreatedAt); err != nil {
		return err
	}
	return s.Sink.SavePolicy(ctx, p)
}

func (s *Service) importProduct(ctx context.Context, orgID string, rec Record) error {
	var row productRow
	if err := bind(rec, &row); err != nil {
		return err
	}

	p := catalog.Product{
		ID:          row.ID,
		OrgID:       orgID,
		Name:        row.Name,
		Category:    commission.ProductCategory(strings.ToLower(row.Category)),
		Provider:    row.Provider,
		Description: row.Description,
		Features:    splitList(row.Features),
		CreatedAt:   s.now().UTC(),
	}
	if row.IsActive != "" {
		active := factory.ParseBool(row.IsActive)
		p.IsActive = &active
	}

	prices, err := parsePrices(row.RegionalPrices)
	if err != nil {
		return err
	}
	p.RegionalPrices = prices

	e := &p.Eligibility
	e.Regions = splitList(row.Regions)
	if e.MinAge, err = integer("min_age", row.MinAge); err != nil {
		return err
	}
	if e.MaxAge, err = integer("max_age", row.MaxAge); err != nil {
		return err
	}
	if e.MinSumInsured, err = amount("min_sum_insured", row.MinSumInsured); err != nil {
		return err
	}
	if e.MaxSumInsured, err = amount("max_sum_insured", row.MaxSumInsured); err != nil {
		return err
	}

	p, err = catalog.Normalize(p)
	if err != nil {
		return err
	}
	return s.Sink.SaveProduct(ctx, p)
}

// =============================================================================
// CELL PARSERS
// =============================================================================

func (s *Service) createdAt(v string) (time.Time, error) {
	t, err := date("created_at", v)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return s.now().UTC(), nil
	}
	return *t, nil
}

func date(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := factory.ParseDate(v)
	if err != nil {
		return nil, commission.NewValidationError(field, "invalid date %q (use YYYY-MM-DD)", v)
	}
	return &t, nil
}

func amount(field, v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, commission.NewValidationError(field, "invalid number %q", v)
	}
	if d.IsNegative() {
		return nil, commission.NewValidationError(field, "must not be negative")
	}
	return &d, nil
}

func percent(field, v string) (*decimal.Decimal, error) {
	d, err := amount(field, v)
	if err != nil || d == nil {
		return d, err
	}
	if d.GreaterThan(decimal.NewFromInt(100)) {
		return nil, commission.NewValidationError(field, "must be between 0 and 100")
	}
	return d, nil
}

func integer(field, v string) (int, error) {
	d, err := amount(field, v)
	if err != nil || d == nil {
		return 0, err
	}
	return int(d.IntPart()), nil
}

// splitList accepts "a; b", "a|b" or "a, b".
func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == '|' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePrices reads "north:12500; south:11800.50".
func parsePrices(v string) (map[string]decimal.Decimal, error) {
	items := splitList(v)
	if len(items) == 0 {
		return nil, nil
	}
	prices := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		region, price, ok := strings.Cut(item, ":")
		if !ok {
			return nil, commission.NewValidationError("regional_prices", "expected region:price, got %q", item)
		}
		d, err := amount("regional_prices", strings.TrimSpace(price))
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, commission.NewValidationError("regional_prices", "missing price for %q", region)
		}
		prices[strings.TrimSpace(region)] = *d
	}
	return prices, nil
}
