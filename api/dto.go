/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts and rates are decimal strings ("2700.00" style values rounded to
  two places for display). Nothing is converted to float64 on the way out.

VALIDATION:
  Request types carry validator tags; handlers run factory.Validate.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/grid.go: GridJSON (grid endpoints use it directly)
  - catalog/product.go: Product (product endpoints use it directly)
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/masterdata"
)

// =============================================================================
// REPORT
// =============================================================================

// RecordDTO is one computed commission line.
type RecordDTO struct {
	PolicyID     string `json:"policy_id"`
	PolicyNumber string `json:"policy_number"`
	CustomerName string `json:"customer_name"`
	Category     string `json:"product_type"`
	Provider     string `json:"provider"`
	PlanName     string `json:"plan_name,omitempty"`
	SourceType   string `json:"source_type"`
	SourceID     string `json:"source_id,omitempty"`
	SourceName   string `json:"source_name,omitempty"`

	Premium    decimal.Decimal `json:"premium"`
	GridID     string          `json:"grid_id,omitempty"`
	BaseRate   decimal.Decimal `json:"base_rate"`
	RewardRate decimal.Decimal `json:"reward_rate"`
	BonusRate  decimal.Decimal `json:"bonus_rate"`
	TotalRate  decimal.Decimal `json:"total_rate"`

	CommissionAmount decimal.Decimal `json:"commission_amount"`
	RewardAmount     decimal.Decimal `json:"reward_amount"`
	BonusAmount      decimal.Decimal `json:"bonus_amount"`
	TotalCommission  decimal.Decimal `json:"total_commission"`

	AgentCommission             decimal.Decimal `json:"agent_commission"`
	EmployeeCommission          decimal.Decimal `json:"employee_commission"`
	MISPCommission              decimal.Decimal `json:"misp_commission"`
	ReportingEmployeeID         string          `json:"reporting_employee_id,omitempty"`
	ReportingEmployeeName       string          `json:"reporting_employee_name,omitempty"`
	ReportingEmployeeCommission decimal.Decimal `json:"reporting_employee_commission"`
	BrokerShare                 decimal.Decimal `json:"broker_share"`
	SourcePercentage            decimal.Decimal `json:"source_percentage"`

	Status    string `json:"calculation_status"`
	CreatedAt string `json:"created_at"`
	StartDate string `json:"start_date,omitempty"`
}

// TotalsDTO is a block of summed amounts.
type TotalsDTO struct {
	Policies          int             `json:"policies"`
	Premium           decimal.Decimal `json:"total_premium"`
	InsurerCommission decimal.Decimal `json:"total_insurer_commission"`
	Agent             decimal.Decimal `json:"total_agent_commission"`
	MISP              decimal.Decimal `json:"total_misp_commission"`
	Employee          decimal.Decimal `json:"total_employee_commission"`
	ReportingEmployee decimal.Decimal `json:"total_reporting_employee_commission"`
	Broker            decimal.Decimal `json:"total_broker_share"`
}

// SummaryDTO covers the whole filtered set, not just the page.
type SummaryDTO struct {
	TotalsDTO
	Matched    int                  `json:"matched"`
	Unmatched  int                  `json:"unmatched"`
	ByCategory map[string]TotalsDTO `json:"by_category"`
}

// ReportResponse is one page of the report plus the full-set summary.
type ReportResponse struct {
	OrgID        string      `json:"org_id"`
	AsOf         string      `json:"as_of"`
	GeneratedAt  string      `json:"generated_at"`
	Page         int         `json:"page"`
	PageSize     int         `json:"page_size"`
	TotalRecords int         `json:"total_records"`
	Records      []RecordDTO `json:"records"`
	Summary      SummaryDTO  `json:"summary"`
}

// SyncRequest optionally narrows the policies to sync.
type SyncRequest struct {
	Category   string `json:"category" validate:"omitempty,oneof=motor life health other"`
	SourceType string `json:"source_type" validate:"omitempty,oneof=agent employee misp direct"`
	Provider   string `json:"provider"`
	From       string `json:"from"`
	To         string `json:"to"`
	AsOf       string `json:"as_of"`
}

// SyncResponse reports how many history rows were written.
type SyncResponse struct {
	OrgID        string `json:"org_id"`
	Policies     int    `json:"policies"`
	AgentRows    int    `json:"agent_rows"`
	EmployeeRows int    `json:"employee_rows"`
}

// CalculateRequest runs the calculator and splitter on ad-hoc inputs.
type CalculateRequest struct {
	Premium              decimal.Decimal  `json:"premium" validate:"gte=0"`
	BaseRate             decimal.Decimal  `json:"base_rate" validate:"gte=0,lte=100"`
	RewardRate           decimal.Decimal  `json:"reward_rate" validate:"gte=0,lte=100"`
	BonusRate            decimal.Decimal  `json:"bonus_rate" validate:"gte=0,lte=100"`
	SourceType           string           `json:"source_type" validate:"omitempty,oneof=agent employee misp direct"`
	Percentage           *decimal.Decimal `json:"percentage" validate:"omitempty,gte=0,lte=100"`
	HasReportingEmployee bool             `json:"has_reporting_employee"`
}

// CalculateResponse is the calculator output and split.
type CalculateResponse struct {
	TotalRate                   decimal.Decimal `json:"total_rate"`
	CommissionAmount            decimal.Decimal `json:"commission_amount"`
	RewardAmount                decimal.Decimal `json:"reward_amount"`
	BonusAmount                 decimal.Decimal `json:"bonus_amount"`
	TotalCommission             decimal.Decimal `json:"total_commission"`
	SourcePercentage            decimal.Decimal `json:"source_percentage"`
	AgentCommission             decimal.Decimal `json:"agent_commission"`
	EmployeeCommission          decimal.Decimal `json:"employee_commission"`
	MISPCommission              decimal.Decimal `json:"misp_commission"`
	ReportingEmployeeCommission decimal.Decimal `json:"reporting_employee_commission"`
	BrokerShare                 decimal.Decimal `json:"broker_share"`
}

// =============================================================================
// MASTER DATA
// =============================================================================

// PolicyDTO represents a policy in requests and responses.
type PolicyDTO struct {
	ID                string           `json:"id"`
	PolicyNumber      string           `json:"policy_number" validate:"required"`
	CustomerID        string           `json:"customer_id,omitempty"`
	CustomerName      string           `json:"customer_name,omitempty"`
	ProductName       string           `json:"product_name" validate:"required"`
	Category          string           `json:"product_type,omitempty"`
	Provider          string           `json:"provider,omitempty"`
	PlanName          string           `json:"plan_name,omitempty"`
	GrossPremium      *decimal.Decimal `json:"gross_premium,omitempty" validate:"omitempty,gte=0"`
	PremiumWithGST    *decimal.Decimal `json:"premium_with_gst,omitempty" validate:"omitempty,gte=0"`
	PremiumWithoutGST *decimal.Decimal `json:"premium_without_gst,omitempty" validate:"omitempty,gte=0"`
	SourceType        string           `json:"source_type,omitempty" validate:"omitempty,oneof=agent employee misp direct"`
	AgentID           string           `json:"agent_id,omitempty" validate:"required_if=SourceType agent"`
	EmployeeID        string           `json:"employee_id,omitempty" validate:"required_if=SourceType employee"`
	MISPID            string           `json:"misp_id,omitempty" validate:"required_if=SourceType misp"`
	Status            string           `json:"status,omitempty"`
	StartDate         string           `json:"start_date,omitempty"`
	EndDate           string           `json:"end_date,omitempty"`
	CreatedAt         string           `json:"created_at,omitempty"`
}

// AgentDTO represents an agent.
type AgentDTO struct {
	ID                 string           `json:"id" validate:"required"`
	Name               string           `json:"name" validate:"required"`
	Email              string           `json:"email,omitempty" validate:"omitempty,email"`
	OverridePercentage *decimal.Decimal `json:"override_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	TierID             string           `json:"tier_id,omitempty"`
	EmployeeID         string           `json:"employee_id,omitempty"`
	CreatedAt          string           `json:"created_at,omitempty"`
}

// EmployeeDTO represents an employee.
type EmployeeDTO struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	CreatedAt string `json:"created_at,omitempty"`
}

// MISPDTO represents a channel partner.
type MISPDTO struct {
	ID         string           `json:"id" validate:"required"`
	Name       string           `json:"name" validate:"required"`
	Percentage *decimal.Decimal `json:"percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	EmployeeID string           `json:"employee_id,omitempty"`
	CreatedAt  string           `json:"created_at,omitempty"`
}

// TierDTO represents a commission tier.
type TierDTO struct {
	ID             string          `json:"id" validate:"required"`
	Name           string          `json:"name" validate:"required"`
	BasePercentage decimal.Decimal `json:"base_percentage" validate:"gte=0,lte=100"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

// =============================================================================
// UPLOADS & SCENARIOS
// =============================================================================

// UploadDTO is the polled upload status.
type UploadDTO struct {
	masterdata.Upload
	ErrorReportURL string `json:"error_report_url,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
	Seed       int64  `json:"seed,omitempty"`
	Policies   int    `json:"policies,omitempty" validate:"omitempty,gte=1,lte=5000"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func money(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func toRecordDTO(r commission.Record) RecordDTO {
	dto := RecordDTO{
		PolicyID:     r.PolicyID,
		PolicyNumber: r.PolicyNumber,
		CustomerName: r.CustomerName,
		Category:     string(r.Category),
		Provider:     r.Provider,
		PlanName:     r.PlanName,
		SourceType:   string(r.SourceType),
		SourceID:     r.SourceID,
		SourceName:   r.SourceName,

		Premium:    money(r.Premium),
		GridID:     r.GridID,
		BaseRate:   money(r.Rates.Base),
		RewardRate: money(r.Rates.Reward),
		BonusRate:  money(r.Rates.Bonus),
		TotalRate:  money(r.TotalRate),

		CommissionAmount: money(r.CommissionAmount),
		RewardAmount:     money(r.RewardAmount),
		BonusAmount:      money(r.BonusAmount),
		TotalCommission:  money(r.TotalCommission),

		AgentCommission:             money(r.AgentCommission),
		EmployeeCommission:          money(r.EmployeeCommission),
		MISPCommission:              money(r.MISPCommission),
		ReportingEmployeeID:         r.ReportingEmployeeID,
		ReportingEmployeeName:       r.ReportingEmployeeName,
		ReportingEmployeeCommission: money(r.ReportingEmployeeCommission),
		BrokerShare:                 money(r.BrokerShare),
		SourcePercentage:            money(r.SourcePercentage),

		Status:    string(r.Status),
		CreatedAt: r.PolicyAt.Format(time.RFC3339),
	}
	if r.StartDate != nil {
		dto.StartDate = r.StartDate.Format("2006-01-02")
	}
	return dto
}

func toTotalsDTO(t commission.Totals) TotalsDTO {
	return TotalsDTO{
		Policies:          t.Policies,
		Premium:           money(t.Premium),
		InsurerCommission: money(t.InsurerCommission),
		Agent:             money(t.Agent),
		MISP:              money(t.MISP),
		Employee:          money(t.Employee),
		ReportingEmployee: money(t.ReportingEmployee),
		Broker:            money(t.Broker),
	}
}

func toSummaryDTO(s commission.Summary) SummaryDTO {
	dto := SummaryDTO{
		TotalsDTO:  toTotalsDTO(s.Totals),
		Matched:    s.Matched,
		Unmatched:  s.Unmatched,
		ByCategory: make(map[string]TotalsDTO, len(s.ByCategory)),
	}
	for c, t := range s.ByCategory {
		dto.ByCategory[string(c)] = toTotalsDTO(t)
	}
	return dto
}

func toPolicyDTO(p commission.Policy) PolicyDTO {
	dto := PolicyDTO{
		ID:                p.ID,
		PolicyNumber:      p.PolicyNumber,
		CustomerID:        p.CustomerID,
		CustomerName:      p.CustomerName,
		ProductName:       p.ProductName,
		Category:          string(p.Category),
		Provider:          p.Provider,
		PlanName:          p.PlanName,
		GrossPremium:      p.GrossPremium,
		PremiumWithGST:    p.PremiumWithGST,
		PremiumWithoutGST: p.PremiumWithoutGST,
		SourceType:        string(p.SourceType),
		AgentID:           p.AgentID,
		EmployeeID:        p.EmployeeID,
		MISPID:            p.MISPID,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
	}
	if p.StartDate != nil {
		dto.StartDate = p.StartDate.Format("2006-01-02")
	}
	if p.EndDate != nil {
		dto.EndDate = p.EndDate.Format("2006-01-02")
	}
	return dto
}

func toAgentDTO(a commission.Agent) AgentDTO {
	return AgentDTO{
		ID:                 a.ID,
		Name:               a.Name,
		Email:              a.Email,
		OverridePercentage: a.OverridePercentage,
		TierID:             a.TierID,
		EmployeeID:         a.EmployeeID,
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
	}
}

func toEmployeeDTO(e commission.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:        e.ID,
		Name:      e.Name,
		Email:     e.Email,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func toMISPDTO(m commission.MISP) MISPDTO {
	return MISPDTO{
		ID:         m.ID,
		Name:       m.Name,
		Percentage: m.Percentage,
		EmployeeID: m.EmployeeID,
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
	}
}

func toTierDTO(t commission.CommissionTier) TierDTO {
	return TierDTO{
		ID:             t.ID,
		Name:           t.Name,
		BasePercentage: t.BasePercentage,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
}
