/*
Package factory provides JSON and YAML to Go conversion for commission
configuration.

PURPOSE:
  Converts payout grid definitions (JSON, or CSV records from bulk uploads)
  into commission.GridRow values, and split rules files (YAML) into
  commission.SplitRules. Operations staff maintain grids and rules without
  code changes; the factory validates and normalizes them.

JSON SCHEMA (one grid row):
  {
    "id": "grid-motor-acme-2025",
    "provider": "Acme General",         // omit or null: any provider
    "plan_name": "Comprehensive",       // omit or null: any plan
    "effective_from": "2025-04-01",     // motor naming
    "effective_to": "2026-03-31",
    "min_premium": 0,
    "max_premium": 500000,
    "base_rate": 15,
    "reward_rate": 2.5,
    "bonus_rate": 0,
    "is_active": true
  }

  Life and health grids name the window commission_start_date and
  commission_end_date; both spellings map to the same validity window.

KEY FEATURES:
  - Rates are percentage points, validated to [0, 100]
  - Premium bounds must be ordered when both are set
  - Missing id is generated (uuid); missing is_active defaults to true

SEE ALSO:
  - commission/resolver.go: how grid rows are matched
  - factory/rules.go: split rules file
  - masterdata/importers.go: CSV/XLSX grid uploads
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/brokerage-engine/commission"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// GridJSON is the JSON representation of a payout grid row.
type GridJSON struct {
	ID       string  `json:"id,omitempty"`
	OrgID    string  `json:"org_id,omitempty"`
	Provider *string `json:"provider,omitempty"`
	PlanName *string `json:"plan_name,omitempty"`

	EffectiveFrom       string `json:"effective_from,omitempty"`
	EffectiveTo         string `json:"effective_to,omitempty"`
	CommissionStartDate string `json:"commission_start_date,omitempty"`
	CommissionEndDate   string `json:"commission_end_date,omitempty"`

	MinPremium *decimal.Decimal `json:"min_premium,omitempty" validate:"omitempty,gte=0"`
	MaxPremium *decimal.Decimal `json:"max_premium,omitempty" validate:"omitempty,gte=0"`

	BaseRate   decimal.Decimal `json:"base_rate" validate:"gte=0,lte=100"`
	RewardRate decimal.Decimal `json:"reward_rate" validate:"gte=0,lte=100"`
	BonusRate  decimal.Decimal `json:"bonus_rate" validate:"gte=0,lte=100"`

	IsActive  *bool  `json:"is_active,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// =============================================================================
// GRID FACTORY
// =============================================================================

// GridFactory converts grid definitions to commission.GridRow.
type GridFactory struct {
	// Now stamps CreatedAt on rows that carry none.
	Now func() time.Time
}

// NewGridFactory creates a new grid factory.
func NewGridFactory() *GridFactory {
	return &GridFactory{Now: time.Now}
}

// ParseGrid parses a single JSON grid row for the category's grid.
func (f *GridFactory) ParseGrid(orgID string, category commission.ProductCategory, data []byte) (commission.GridRow, error) {
	var gj GridJSON
	if err := decodeStrict(data, &gj); err != nil {
		return commission.GridRow{}, commission.NewValidationError("", "failed to parse grid JSON: %v", err)
	}
	return f.FromJSON(orgID, category, gj)
}

// ParseGridList parses a JSON array of grid rows. The first invalid row
// fails the whole list.
func (f *GridFactory) ParseGridList(orgID string, category commission.ProductCategory, data []byte) ([]commission.GridRow, error) {
	var list []GridJSON
	if err := decodeStrict(data, &list); err != nil {
		return nil, commission.NewValidationError("", "failed to parse grid JSON: %v", err)
	}
	rows := make([]commission.GridRow, 0, len(list))
	for i, gj := range list {
		row, err := f.FromJSON(orgID, category, gj)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FromJSON converts GridJSON to commission.GridRow.
func (f *GridFactory) FromJSON(orgID string, category commission.ProductCategory, gj GridJSON) (commission.GridRow, error) {
	if !category.HasGrid() {
		return commission.GridRow{}, fmt.Errorf("%w: %q", commission.ErrUnsupportedCategory, category)
	}
	if err := Validate(gj); err != nil {
		return commission.GridRow{}, err
	}
	if gj.MinPremium != nil && gj.MaxPremium != nil && gj.MinPremium.GreaterThan(*gj.MaxPremium) {
		return commission.GridRow{}, commission.NewValidationError("min_premium", "greater than max_premium")
	}

	row := commission.GridRow{
		ID:         gj.ID,
		OrgID:      orgID,
		Category:   category,
		Provider:   blankToNil(gj.Provider),
		PlanName:   blankToNil(gj.PlanName),
		MinPremium: gj.MinPremium,
		MaxPremium: gj.MaxPremium,
		BaseRate:   gj.BaseRate,
		RewardRate: gj.RewardRate,
		BonusRate:  gj.BonusRate,
		IsActive:   gj.IsActive == nil || *gj.IsActive,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.OrgID == "" {
		row.OrgID = gj.OrgID
	}

	var err error
	if row.ValidFrom, err = parseOptionalDate("effective_from", firstNonEmpty(gj.EffectiveFrom, gj.CommissionStartDate)); err != nil {
		return commission.GridRow{}, err
	}
	if row.ValidTo, err = parseOptionalDate("effective_to", firstNonEmpty(gj.EffectiveTo, gj.CommissionEndDate)); err != nil {
		return commission.GridRow{}, err
	}
	if row.ValidFrom != nil && row.ValidTo != nil && row.ValidFrom.After(*row.ValidTo) {
		return commission.GridRow{}, commission.NewValidationError("effective_from", "after effective_to")
	}

	created, err := parseOptionalDate("created_at", gj.CreatedAt)
	if err != nil {
		return commission.GridRow{}, err
	}
	if created != nil {
		row.CreatedAt = *created
	} else {
		row.CreatedAt = f.now().UTC()
	}
	return row, nil
}

// FromRecord converts a header-keyed upload record (all values as text) into
// a grid row. Empty cells are treated as absent.
func (f *GridFactory) FromRecord(orgID string, category commission.ProductCategory, rec map[string]string) (commission.GridRow, error) {
	gj := GridJSON{
		ID:                  rec["id"],
		Provider:            optionalString(rec["provider"]),
		PlanName:            optionalString(rec["plan_name"]),
		EffectiveFrom:       rec["effective_from"],
		EffectiveTo:         rec["effective_to"],
		CommissionStartDate: rec["commission_start_date"],
		CommissionEndDate:   rec["commission_end_date"],
		CreatedAt:           rec["created_at"],
	}

	var err error
	if gj.MinPremium, err = optionalDecimal("min_premium", rec["min_premium"]); err != nil {
		return commission.GridRow{}, err
	}
	if gj.MaxPremium, err = optionalDecimal("max_premium", rec["max_premium"]); err != nil {
		return commission.GridRow{}, err
	}
	for field, dst := range map[string]*decimal.Decimal{
		"base_rate":   &gj.BaseRate,
		"reward_rate": &gj.RewardRate,
		"bonus_rate":  &gj.BonusRate,
	} {
		v, err := optionalDecimal(field, rec[field])
		if err != nil {
			return commission.GridRow{}, err
		}
		if v != nil {
			*dst = *v
		}
	}
	if s := strings.TrimSpace(rec["is_active"]); s != "" {
		active := ParseBool(s)
		gj.IsActive = &active
	}
	return f.FromJSON(orgID, category, gj)
}

// ToJSON is the inverse of FromJSON, used in API responses.
func ToJSON(row commission.GridRow) GridJSON {
	active := row.IsActive
	gj := GridJSON{
		ID:         row.ID,
		OrgID:      row.OrgID,
		Provider:   row.Provider,
		PlanName:   row.PlanName,
		MinPremium: row.MinPremium,
		MaxPremium: row.MaxPremium,
		BaseRate:   row.BaseRate,
		RewardRate: row.RewardRate,
		BonusRate:  row.BonusRate,
		IsActive:   &active,
		CreatedAt:  row.CreatedAt.Format(time.RFC3339),
	}
	if row.ValidFrom != nil {
		gj.EffectiveFrom = row.ValidFrom.Format(dateLayout)
	}
	if row.ValidTo != nil {
		gj.EffectiveTo = row.ValidTo.Format(dateLayout)
	}
	return gj
}

func (f *GridFactory) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

// =============================================================================
// PARSE HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or RFC3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// ParseBool accepts the spellings spreadsheets produce (true/yes/1/y).
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "active":
		return true
	}
	return false
}

func parseOptionalDate(field, s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return nil, commission.NewValidationError(field, "invalid date %q (use YYYY-MM-DD)", s)
	}
	return &t, nil
}

func optionalDecimal(field, s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, commission.NewValidationError(field, "invalid number %q", s)
	}
	return &d, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	return optionalString(*s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
