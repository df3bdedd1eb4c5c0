/*
handlers.go - HTTP API handlers for the brokerage commission engine

PURPOSE:
  Exposes the commission engine and its master data via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Reports:
    GET    /api/reports/commission         Paged commission report + summary
    GET    /api/reports/commission/export  Full report as CSV or XLSX

  Commissions:
    POST   /api/commissions/sync           Upsert agent/employee history
    POST   /api/commissions/calculate      Ad-hoc calculator + split

  Policies:
    GET    /api/policies                   List policies (report filters apply)
    POST   /api/policies                   Create policy
    GET    /api/policies/{id}              Get policy
    GET    /api/policies/{id}/commission   Commission record of one policy

  Master data:
    GET/POST /api/agents, /api/employees, /api/misps, /api/tiers, /api/products
    GET/POST /api/grids/{category}         Payout grid rows (one or a list)

  Uploads:
    POST   /api/uploads                    Multipart file + table, returns 202
    GET    /api/uploads                    Recent uploads
    GET    /api/uploads/{id}               Poll status
    GET    /api/uploads/{id}/errors        Rejected rows as CSV

ORGANIZATION SCOPE:
  Every request is scoped by the X-Organization-ID header. When absent the
  configured default organization is used.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/brokerage-engine/catalog"
	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/export"
	"github.com/warp/brokerage-engine/factory"
	"github.com/warp/brokerage-engine/logger"
	"github.com/warp/brokerage-engine/masterdata"
	"github.com/warp/brokerage-engine/metrics"
	"github.com/warp/brokerage-engine/store/sqlite"
)

// OrgHeader carries the organization of a request.
const OrgHeader = "X-Organization-ID"

// maxUploadSize bounds multipart uploads held in memory.
const maxUploadSize = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Engine  *commission.Engine
	Uploads *masterdata.Service
	Grids   *factory.GridFactory
	Metrics *metrics.Metrics
	Log     logger.Logger

	DefaultOrgID   string
	AllowedOrigins []string

	// Scenario last loaded per organization
	mu               sync.Mutex
	currentScenarios map[string]string
}

// NewHandler creates a handler. uploads and m may be nil; the upload and
// metrics endpoints then answer 503 and 404 respectively.
func NewHandler(store *sqlite.Store, engine *commission.Engine, uploads *masterdata.Service, m *metrics.Metrics, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		Store:        store,
		Engine:       engine,
		Uploads:      uploads,
		Grids:        factory.NewGridFactory(),
		Metrics:      m,
		Log:          log,
		DefaultOrgID: "default",

		currentScenarios: make(map[string]string),
	}
}

func (h *Handler) orgID(r *http.Request) string {
	if org := strings.TrimSpace(r.Header.Get(OrgHeader)); org != "" {
		return org
	}
	return h.DefaultOrgID
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetCommissionReport returns one page of the commission report. The summary
// always covers every matching policy.
// GET /api/reports/commission?category=&source_type=&provider=&from=&to=&q=&as_of=&page=&page_size=
func (h *Handler) GetCommissionReport(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseReportRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report filters", err)
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	size, err := queryInt(r, "page_size", commission.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page_size", err)
		return
	}

	rep, err := h.Engine.Generate(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to generate report", err)
		return
	}

	records := rep.Page(page, size)
	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}

	writeJSON(w, http.StatusOK, ReportResponse{
		OrgID:        rep.OrgID,
		AsOf:         rep.AsOf.Format("2006-01-02"),
		GeneratedAt:  rep.GeneratedAt.UTC().Format(time.RFC3339),
		Page:         page,
		PageSize:     size,
		TotalRecords: len(rep.Records),
		Records:      dtos,
		Summary:      toSummaryDTO(rep.Summary),
	})
}

// ExportCommissionReport downloads every matching record.
// GET /api/reports/commission/export?format=csv|xlsx
func (h *Handler) ExportCommissionReport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "Invalid format", fmt.Errorf("unsupported export format %q", format))
		return
	}

	req, err := h.parseReportRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report filters", err)
		return
	}

	rep, err := h.Engine.Generate(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to generate report", err)
		return
	}

	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = export.WriteXLSX(&buf, rep.Records, rep.Summary)
	} else {
		err = export.WriteCSV(&buf, rep.Records)
	}
	if err != nil {
		h.writeDomainError(w, "Failed to export report", err)
		return
	}

	filename := export.Filename(rep.OrgID, format, rep.GeneratedAt)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) parseReportRequest(r *http.Request) (commission.ReportRequest, error) {
	q := r.URL.Query()
	req := commission.ReportRequest{OrgID: h.orgID(r)}

	f, err := parseFilter(q.Get("category"), q.Get("source_type"), q.Get("provider"), q.Get("from"), q.Get("to"))
	if err != nil {
		return req, err
	}
	f.Search = strings.TrimSpace(q.Get("q"))
	req.Filter = f

	if v := q.Get("as_of"); v != "" {
		t, err := factory.ParseDate(v)
		if err != nil {
			return req, commission.NewValidationError("as_of", "invalid date %q", v)
		}
		req.AsOf = t
	}
	return req, nil
}

func parseFilter(category, source, provider, from, to string) (commission.PolicyFilter, error) {
	var f commission.PolicyFilter
	if category != "" {
		c := commission.ProductCategory(strings.ToLower(category))
		switch c {
		case commission.CategoryMotor, commission.CategoryLife, commission.CategoryHealth, commission.CategoryOther:
			f.Category = c
		default:
			return f, commission.NewValidationError("category", "unknown category %q", category)
		}
	}
	if source != "" {
		s := commission.SourceType(strings.ToLower(source))
		if commission.ParseSourceType(source) != s {
			return f, commission.NewValidationError("source_type", "unknown source type %q", source)
		}
		f.SourceType = s
	}
	f.Provider = strings.TrimSpace(provider)
	if from != "" {
		t, err := factory.ParseDate(from)
		if err != nil {
			return f, commission.NewValidationError("from", "invalid date %q", from)
		}
		f.From = &t
	}
	if to != "" {
		t, err := factory.ParseDate(to)
		if err != nil {
			return f, commission.NewValidationError("to", "invalid date %q", to)
		}
		f.To = &t
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, commission.NewValidationError("to", "before from")
	}
	return f, nil
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// SyncCommissions writes agent and employee commission history for the
// org's policies. An empty body syncs everything.
// POST /api/commissions/sync
func (h *Handler) SyncCommissions(w http.ResponseWriter, r *http.Request) {
	var body SyncRequest
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := factory.Validate(body); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	f, err := parseFilter(body.Category, body.SourceType, body.Provider, body.From, body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid sync filters", err)
		return
	}
	req := commission.ReportRequest{OrgID: h.orgID(r), Filter: f}
	if body.AsOf != "" {
		t, err := factory.ParseDate(body.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of", err)
			return
		}
		req.AsOf = t
	}

	res, err := h.Engine.Sync(r.Context(), req)
	if h.Metrics != nil {
		h.Metrics.RecordSync("manual", res, err)
	}
	if err != nil {
		h.writeDomainError(w, "Failed to sync commissions", err)
		return
	}

	h.Log.Info("commissions synced", "org_id", req.OrgID, "policies", res.Policies,
		"agent_rows", res.AgentRows, "employee_rows", res.EmployeeRows)

	writeJSON(w, http.StatusOK, SyncResponse{
		OrgID:        req.OrgID,
		Policies:     res.Policies,
		AgentRows:    res.AgentRows,
		EmployeeRows: res.EmployeeRows,
	})
}

// CalculateCommission runs the calculator and splitter without touching the
// database. A missing percentage falls back to the configured default.
// POST /api/commissions/calculate
func (h *Handler) CalculateCommission(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := factory.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	rules := h.Engine.Rules
	source := commission.ParseSourceType(req.SourceType)
	var pct decimal.Decimal
	switch source {
	case commission.SourceAgent:
		pct = rules.ResolveAgentPercentage(&commission.Agent{OverridePercentage: req.Percentage}, nil)
	case commission.SourceMISP:
		pct = rules.ResolveMISPPercentage(&commission.MISP{Percentage: req.Percentage})
	case commission.SourceEmployee:
		pct = rules.EmployeePercentage
	}

	amounts := commission.Calculate(req.Premium, commission.Rates{
		Base:   req.BaseRate,
		Reward: req.RewardRate,
		Bonus:  req.BonusRate,
	})
	split := commission.SplitCommission(amounts.TotalCommission, commission.SplitInput{
		Source:               source,
		Percentage:           pct,
		HasReportingEmployee: req.HasReportingEmployee,
	}, rules)

	writeJSON(w, http.StatusOK, CalculateResponse{
		TotalRate:                   money(amounts.TotalRate),
		CommissionAmount:            money(amounts.CommissionAmount),
		RewardAmount:                money(amounts.RewardAmount),
		BonusAmount:                 money(amounts.BonusAmount),
		TotalCommission:             money(amounts.TotalCommission),
		SourcePercentage:            money(pct),
		AgentCommission:             money(split.AgentCommission),
		EmployeeCommission:          money(split.EmployeeCommission),
		MISPCommission:              money(split.MISPCommission),
		ReportingEmployeeCommission: money(split.ReportingEmployeeCommission),
		BrokerShare:                 money(split.BrokerShare),
	})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns the org's policies, newest first.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseReportRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filters", err)
		return
	}
	policies, err := h.Store.ListPolicies(r.Context(), req.OrgID, req.Filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy creates or replaces a policy.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := factory.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	orgID := h.orgID(r)
	p := commission.Policy{
		ID:                req.ID,
		OrgID:             orgID,
		PolicyNumber:      req.PolicyNumber,
		CustomerID:        req.CustomerID,
		CustomerName:      req.CustomerName,
		ProductName:       req.ProductName,
		Provider:          req.Provider,
		PlanName:          req.PlanName,
		GrossPremium:      req.GrossPremium,
		PremiumWithGST:    req.PremiumWithGST,
		PremiumWithoutGST: req.PremiumWithoutGST,
		SourceType:        commission.SourceType(req.SourceType),
		AgentID:           req.AgentID,
		EmployeeID:        req.EmployeeID,
		MISPID:            req.MISPID,
		Status:            req.Status,
		CreatedAt:         time.Now().UTC(),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var err error
	if p.StartDate, err = optionalDate("start_date", req.StartDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	if p.EndDate, err = optionalDate("end_date", req.EndDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date", err)
		return
	}

	if err := h.Store.SavePolicy(r.Context(), p); err != nil {
		h.writeDomainError(w, "Failed to save policy", err)
		return
	}
	saved, err := h.Store.GetPolicy(r.Context(), orgID, p.ID)
	if err != nil || saved == nil {
		h.writeDomainError(w, "Failed to load policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*saved))
}

// GetPolicy returns a single policy.
// GET /api/policies/{id}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPolicy(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// GetPolicyCommission computes the commission record of one policy.
// GET /api/policies/{id}/commission?as_of=
func (h *Handler) GetPolicyCommission(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPolicy(w, r)
	if !ok {
		return
	}
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := factory.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of", err)
			return
		}
		asOf = t
	}

	rec, err := h.Engine.ResolvePolicy(r.Context(), *p, asOf)
	if err != nil {
		h.writeDomainError(w, "Failed to compute commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

func (h *Handler) loadPolicy(w http.ResponseWriter, r *http.Request) (*commission.Policy, bool) {
	id := chi.URLParam(r, "id")
	p, err := h.Store.GetPolicy(r.Context(), h.orgID(r), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get policy", err)
		return nil, false
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Policy not found", nil)
		return nil, false
	}
	return p, true
}

// =============================================================================
// MASTER DATA HANDLERS
// =============================================================================

// ListAgents returns the org's agents.
// GET /api/agents
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context(), h.orgID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list agents", err)
		return
	}
	dtos := make([]AgentDTO, len(agents))
	for i, a := range agents {
		dtos[i] = toAgentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAgent creates or replaces an agent.
// POST /api/agents
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentDTO
	if !decodeAndValidate(w, r, &req) {
		return
	}
	a := commission.Agent{
		ID:                 req.ID,
		OrgID:              h.orgID(r),
		Name:               strings.TrimSpace(req.Name),
		Email:              req.Email,
		OverridePercentage: req.OverridePercentage,
		TierID:             req.TierID,
		EmployeeID:         req.EmployeeID,
		CreatedAt:          time.Now().UTC(),
	}
	if err := h.Store.SaveAgent(r.Context(), a); err != nil {
		h.writeDomainError(w, "Failed to save agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentDTO(a))
}

// ListEmployees returns the org's employees.
// GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context(), h.orgID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list employees", err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates or replaces an employee.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if !decodeAndValidate(w, r, &req) {
		return
	}
	e := commission.Employee{
		ID:        req.ID,
		OrgID:     h.orgID(r),
		Name:      strings.TrimSpace(req.Name),
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveEmployee(r.Context(), e); err != nil {
		h.writeDomainError(w, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(e))
}

// ListMISPs returns the org's channel partners.
// GET /api/misps
func (h *Handler) ListMISPs(w http.ResponseWriter, r *http.Request) {
	misps, err := h.Store.ListMISPs(r.Context(), h.orgID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list MISPs", err)
		return
	}
	dtos := make([]MISPDTO, len(misps))
	for i, m := range misps {
		dtos[i] = toMISPDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMISP creates or replaces a channel partner.
// POST /api/misps
func (h *Handler) CreateMISP(w http.ResponseWriter, r *http.Request) {
	var req MISPDTO
	if !decodeAndValidate(w, r, &req) {
		return
	}
	m := commission.MISP{
		ID:         req.ID,
		OrgID:      h.orgID(r),
		Name:       strings.TrimSpace(req.Name),
		Percentage: req.Percentage,
		EmployeeID: req.EmployeeID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SaveMISP(r.Context(), m); err != nil {
		h.writeDomainError(w, "Failed to save MISP", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMISPDTO(m))
}

// ListTiers returns the org's commission tiers.
// GET /api/tiers
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.Store.ListTiers(r.Context(), h.orgID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list tiers", err)
		return
	}
	dtos := make([]TierDTO, len(tiers))
	for i, t := range tiers {
		dtos[i] = toTierDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTier creates or replaces a commission tier.
// POST /api/tiers
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	var req TierDTO
	if !decodeAndValidate(w, r, &req) {
		return
	}
	t := commission.CommissionTier{
		ID:             req.ID,
		OrgID:          h.orgID(r),
		Name:           strings.TrimSpace(req.Name),
		BasePercentage: req.BasePercentage,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.SaveTier(r.Context(), t); err != nil {
		h.writeDomainError(w, "Failed to save tier", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTierDTO(t))
}

// ListProducts returns the org's product catalog.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context(), h.orgID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list products", err)
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// CreateProduct creates or replaces a product.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	p, err := catalog.ParseProductJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product", err)
		return
	}
	p.OrgID = h.orgID(r)
	if err := h.Store.SaveProduct(r.Context(), p); err != nil {
		h.writeDomainError(w, "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// =============================================================================
// GRID HANDLERS
// =============================================================================

// ListGridRows returns the payout grid of a category.
// GET /api/grids/{category}
func (h *Handler) ListGridRows(w http.ResponseWriter, r *http.Request) {
	category, ok := gridCategory(w, r)
	if !ok {
		return
	}
	rows, err := h.Store.ListGridRows(r.Context(), h.orgID(r), category)
	if err != nil {
		h.writeDomainError(w, "Failed to list grid rows", err)
		return
	}
	dtos := make([]factory.GridJSON, len(rows))
	for i, row := range rows {
		dtos[i] = factory.ToJSON(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGridRows adds one grid row, or a list of them, to a category's grid.
// The list is validated in full before anything is saved.
// POST /api/grids/{category}
func (h *Handler) CreateGridRows(w http.ResponseWriter, r *http.Request) {
	category, ok := gridCategory(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	orgID := h.orgID(r)
	var rows []commission.GridRow
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		rows, err = h.Grids.ParseGridList(orgID, category, body)
	} else {
		var row commission.GridRow
		row, err = h.Grids.ParseGrid(orgID, category, body)
		rows = []commission.GridRow{row}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid grid row", err)
		return
	}

	dtos := make([]factory.GridJSON, 0, len(rows))
	for _, row := range rows {
		if err := h.Store.SaveGridRow(r.Context(), row); err != nil {
			h.writeDomainError(w, "Failed to save grid row", err)
			return
		}
		dtos = append(dtos, factory.ToJSON(row))
	}
	writeJSON(w, http.StatusCreated, dtos)
}

func gridCategory(w http.ResponseWriter, r *http.Request) (commission.ProductCategory, bool) {
	c := commission.ProductCategory(strings.ToLower(chi.URLParam(r, "category")))
	if !c.HasGrid() {
		writeError(w, http.StatusBadRequest, "Unknown grid category",
			fmt.Errorf("%w: %q", commission.ErrUnsupportedCategory, c))
		return "", false
	}
	return c, true
}

// =============================================================================
// UPLOAD HANDLERS
// =============================================================================

// CreateUpload accepts a CSV or XLSX file for background import.
// POST /api/uploads (multipart: file, table)
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	if h.Uploads == nil {
		writeError(w, http.StatusServiceUnavailable, "Uploads are disabled", nil)
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}
	table, err := masterdata.ParseTable(r.FormValue("table"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid table", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file", err)
		return
	}
	defer file.Close()

	u, err := h.Uploads.Submit(r.Context(), h.orgID(r), table, header.Filename, file)
	if err != nil {
		h.writeDomainError(w, "Failed to submit upload", err)
		return
	}
	writeJSON(w, http.StatusAccepted, toUploadDTO(*u))
}

// ListUploads returns the org's most recent uploads.
// GET /api/uploads?limit=
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	uploads, err := h.Store.ListUploads(r.Context(), h.orgID(r), limit)
	if err != nil {
		h.writeDomainError(w, "Failed to list uploads", err)
		return
	}
	dtos := make([]UploadDTO, len(uploads))
	for i, u := range uploads {
		dtos[i] = toUploadDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUpload returns the status of an upload. Clients poll it until the
// status is completed or failed.
// GET /api/uploads/{id}
func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	u, ok := h.loadUpload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUploadDTO(*u))
}

// GetUploadErrors streams the error report of an upload.
// GET /api/uploads/{id}/errors
func (h *Handler) GetUploadErrors(w http.ResponseWriter, r *http.Request) {
	u, ok := h.loadUpload(w, r)
	if !ok {
		return
	}
	if h.Uploads == nil {
		writeError(w, http.StatusServiceUnavailable, "Uploads are disabled", nil)
		return
	}
	rc, err := h.Uploads.ErrorReport(r.Context(), u.ID)
	if err != nil {
		h.writeDomainError(w, "Failed to open error report", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", u.ID+"_errors.csv"))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.Log.Error("failed to stream error report", "upload_id", u.ID, "error", err)
	}
}

// loadUpload hides uploads of other organizations behind a 404.
func (h *Handler) loadUpload(w http.ResponseWriter, r *http.Request) (*masterdata.Upload, bool) {
	id := chi.URLParam(r, "id")
	u, err := h.Store.GetUpload(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get upload", err)
		return nil, false
	}
	if u == nil || u.OrgID != h.orgID(r) {
		writeError(w, http.StatusNotFound, "Upload not found", nil)
		return nil, false
	}
	return u, true
}

func toUploadDTO(u masterdata.Upload) UploadDTO {
	dto := UploadDTO{Upload: u}
	if u.ErrorReportPath != "" {
		dto.ErrorReportURL = "/api/uploads/" + u.ID + "/errors"
	}
	return dto
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports whether the database answers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case err == nil:
		writeError(w, http.StatusInternalServerError, message, nil)
	case commission.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case commission.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Log.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := factory.Validate(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// decodeOptional decodes a JSON body, treating an empty body as zero value.
func decodeOptional(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, commission.NewValidationError(key, "invalid number %q", v)
	}
	return n, nil
}

func optionalDate(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := factory.ParseDate(v)
	if err != nil {
		return nil, commission.NewValidationError(field, "invalid date %q", v)
	}
	return &t, nil
}
