/*
Package catalog holds insurance product master data.

PURPOSE:
  Products carry structured attributes that older systems stored as opaque
  JSON blobs: a feature list, per-region prices and eligibility limits.
  Here they are typed fields, decoded strictly and validated at the
  boundary, and serialized back to JSON only for storage.

JSON SCHEMA:
  {
    "id": "prod-motor-comp",
    "name": "Motor Comprehensive",
    "category": "motor",              // optional, derived from name
    "provider": "Acme General",
    "features": ["zero depreciation", "roadside assistance"],
    "regional_prices": {"north": 12500, "south": "11800.50"},
    "eligibility": {
      "min_age": 18, "max_age": 70,
      "min_sum_insured": 100000, "max_sum_insured": 5000000,
      "regions": ["north", "south"]
    },
    "is_active": true
  }

SEE ALSO:
  - store/sqlite/sqlite.go: products table
  - masterdata/importers.go: bulk product uploads
*/
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/factory"
)

// Eligibility bounds who can buy a product. Zero values are unbounded.
type Eligibility struct {
	MinAge        int              `json:"min_age,omitempty" validate:"gte=0,lte=120"`
	MaxAge        int              `json:"max_age,omitempty" validate:"gte=0,lte=120"`
	MinSumInsured *decimal.Decimal `json:"min_sum_insured,omitempty" validate:"omitempty,gte=0"`
	MaxSumInsured *decimal.Decimal `json:"max_sum_insured,omitempty" validate:"omitempty,gte=0"`
	Regions       []string         `json:"regions,omitempty" validate:"dive,required"`
}

// Product is one row of the product catalog.
type Product struct {
	ID             string                     `json:"id,omitempty"`
	OrgID          string                     `json:"org_id,omitempty"`
	Name           string                     `json:"name" validate:"required,max=200"`
	Category       commission.ProductCategory `json:"category,omitempty"`
	Provider       string                     `json:"provider,omitempty"`
	Description    string                     `json:"description,omitempty"`
	Features       []string                   `json:"features,omitempty" validate:"dive,required"`
	RegionalPrices map[string]decimal.Decimal `json:"regional_prices,omitempty" validate:"dive,keys,required,endkeys,gte=0"`
	Eligibility    Eligibility                `json:"eligibility"`
	IsActive       *bool                      `json:"is_active,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
}

// Active reports whether the product is sellable; unset means active.
func (p Product) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

// ParseProductJSON decodes and validates a product. Unknown fields are
// rejected; every failure is a *commission.ValidationError.
func ParseProductJSON(data []byte) (Product, error) {
	var p Product
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Product{}, commission.NewValidationError("", "failed to parse product JSON: %v", err)
	}
	return Normalize(p)
}

// Normalize validates p and fills derived fields.
func Normalize(p Product) (Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := factory.Validate(p); err != nil {
		return Product{}, err
	}
	e := p.Eligibility
	if e.MinAge > 0 && e.MaxAge > 0 && e.MinAge > e.MaxAge {
		return Product{}, commission.NewValidationError("eligibility.min_age", "greater than max_age")
	}
	if e.MinSumInsured != nil && e.MaxSumInsured != nil && e.MinSumInsured.GreaterThan(*e.MaxSumInsured) {
		return Product{}, commission.NewValidationError("eligibility.min_sum_insured", "greater than max_sum_insured")
	}

	switch p.Category {
	case "":
		p.Category = commission.ParseProductCategory(p.Name)
	case commission.CategoryMotor, commission.CategoryLife, commission.CategoryHealth, commission.CategoryOther:
	default:
		p.Category = commission.ParseProductCategory(string(p.Category))
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return p, nil
}

// =============================================================================
// STORAGE ENCODING
// =============================================================================

// Columns are the JSON-encoded structured fields as stored in SQL.
type Columns struct {
	Features       string
	RegionalPrices string
	Eligibility    string
}

// EncodeColumns serializes the structured fields for storage.
func EncodeColumns(p Product) (Columns, error) {
	var c Columns
	var err error
	if c.Features, err = marshal(nonNil(p.Features)); err != nil {
		return c, fmt.Errorf("features: %w", err)
	}
	prices := p.RegionalPrices
	if prices == nil {
		prices = map[string]decimal.Decimal{}
	}
	if c.RegionalPrices, err = marshal(prices); err != nil {
		return c, fmt.Errorf("regional_prices: %w", err)
	}
	if c.Eligibility, err = marshal(p.Eligibility); err != nil {
		return c, fmt.Errorf("eligibility: %w", err)
	}
	return c, nil
}

// DecodeColumns is the inverse of EncodeColumns. Empty columns decode to
// zero values.
func DecodeColumns(p *Product, c Columns) error {
	if err := unmarshal(c.Features, &p.Features); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if err := unmarshal(c.RegionalPrices, &p.RegionalPrices); err != nil {
		return fmt.Errorf("regional_prices: %w", err)
	}
	if err := unmarshal(c.Eligibility, &p.Eligibility); err != nil {
		return fmt.Errorf("eligibility: %w", err)
	}
	return nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshal(s string, v any) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
