/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate an organization with master
	data, payout grids and policies, so the commission report has something
	to show.

AVAILABLE SCENARIOS:

	motor-agent:   One motor policy sold by an agent with a 45% override
	mixed-sources: Agent, employee, MISP and direct business across motor,
	               life and health, plus one policy with no grid match
	random:        Generated book of business (gofakeit, seedable)

HOW SCENARIOS WORK:
 1. Reset the organization (clear all its rows)
 2. Create employees, tiers, agents and MISPs
 3. Create payout grid rows
 4. Create policies

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "random", "seed": 42, "policies": 200}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, orgID)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the organization. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: master data endpoints
  - commission/report.go: what the report computes from this data
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "motor-agent",
		Name:        "Motor Agent",
		Description: "Premium 100,000 at 5% + 1% via an agent with a 45% override",
	},
	{
		ID:          "mixed-sources",
		Name:        "Mixed Sources",
		Description: "Agent, employee, MISP and direct business across all grids",
	},
	{
		ID:          "random",
		Name:        "Random Book",
		Description: "Generated agents, partners, grids and policies (seedable)",
	},
}

// defaultRandomPolicies is the policy count of the random scenario.
const defaultRandomPolicies = 50

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the scenario loaded into the organization, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	orgID := h.orgID(r)
	h.mu.Lock()
	current := h.currentScenarios[orgID]
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the organization and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := factory.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	var load func(ctx context.Context, orgID string) error
	switch req.ScenarioID {
	case "motor-agent":
		load = h.loadMotorAgentScenario
	case "mixed-sources":
		load = h.loadMixedSourcesScenario
	case "random":
		seed, n := req.Seed, req.Policies
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		if n == 0 {
			n = defaultRandomPolicies
		}
		load = func(ctx context.Context, orgID string) error {
			return h.loadRandomScenario(ctx, orgID, seed, n)
		}
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	orgID := h.orgID(r)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx, orgID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset organization", err)
		return
	}
	delete(h.currentScenarios, orgID)

	if err := load(ctx, orgID); err != nil {
		h.Log.Error("failed to load scenario", "scenario", req.ScenarioID, "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenarios[orgID] = req.ScenarioID

	h.Log.Info("scenario loaded", "scenario", req.ScenarioID, "org_id", orgID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMotorAgentScenario(ctx context.Context, orgID string) error {
	now := time.Now().UTC()
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	if err := h.Store.SaveEmployee(ctx, commission.Employee{
		ID: orgID + "-emp-001", OrgID: orgID, Name: "Priya Sharma", Email: "priya@example.com", CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := h.Store.SaveAgent(ctx, commission.Agent{
		ID:                 orgID + "-agent-001",
		OrgID:              orgID,
		Name:               "Rahul Verma",
		Email:              "rahul@example.com",
		OverridePercentage: commission.DecimalPtr(45),
		EmployeeID:         orgID + "-emp-001",
		CreatedAt:          now,
	}); err != nil {
		return err
	}
	if err := h.Store.SaveGridRow(ctx, commission.GridRow{
		ID:         orgID + "-motor-001",
		OrgID:      orgID,
		Category:   commission.CategoryMotor,
		Provider:   strPtr("ICICI Lombard"),
		ValidFrom:  &start,
		BaseRate:   decimal.NewFromInt(5),
		RewardRate: decimal.NewFromInt(1),
		BonusRate:  decimal.Zero,
		IsActive:   true,
		CreatedAt:  now,
	}); err != nil {
		return err
	}

	issued := start.AddDate(0, 1, 0)
	return h.Store.SavePolicy(ctx, commission.Policy{
		ID:           orgID + "-pol-001",
		OrgID:        orgID,
		PolicyNumber: "MOT-2025-0001",
		CustomerName: "Anil Kapoor",
		ProductName:  "Motor Insurance",
		Provider:     "ICICI Lombard",
		GrossPremium: commission.DecimalPtr(100000),
		SourceType:   commission.SourceAgent,
		AgentID:      orgID + "-agent-001",
		Status:       "active",
		StartDate:    &issued,
		CreatedAt:    now,
	})
}

func (h *Handler) loadMixedSourcesScenario(ctx context.Context, orgID string) error {
	if err := h.loadMotorAgentScenario(ctx, orgID); err != nil {
		return err
	}

	now := time.Now().UTC()
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	id := func(s string) string { return orgID + "-" + s }

	if err := h.Store.SaveEmployee(ctx, commission.Employee{
		ID: id("emp-002"), OrgID: orgID, Name: "Karan Mehta", Email: "karan@example.com", CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := h.Store.SaveTier(ctx, commission.CommissionTier{
		ID: id("tier-gold"), OrgID: orgID, Name: "Gold", BasePercentage: decimal.NewFromInt(50), CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := h.Store.SaveAgent(ctx, commission.Agent{
		ID: id("agent-002"), OrgID: orgID, Name: "Sneha Iyer", TierID: id("tier-gold"), CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := h.Store.SaveMISP(ctx, commission.MISP{
		ID: id("misp-001"), OrgID: orgID, Name: "City Motors", Percentage: commission.DecimalPtr(30),
		EmployeeID: id("emp-002"), CreatedAt: now,
	}); err != nil {
		return err
	}

	grids := []commission.GridRow{
		{ID: id("motor-002"), Category: commission.CategoryMotor, Provider: strPtr("HDFC ERGO"),
			BaseRate: decimal.NewFromInt(8), RewardRate: decimal.NewFromInt(2), BonusRate: decimal.NewFromInt(1)},
		{ID: id("life-001"), Category: commission.CategoryLife, Provider: strPtr("LIC"), PlanName: strPtr("Jeevan Anand"),
			BaseRate: decimal.NewFromInt(12), RewardRate: decimal.Zero, BonusRate: decimal.NewFromInt(2)},
		{ID: id("health-001"), Category: commission.CategoryHealth,
			MinPremium: commission.DecimalPtr(10000), MaxPremium: commission.DecimalPtr(50000),
			BaseRate: decimal.NewFromInt(15), RewardRate: decimal.NewFromInt(1), BonusRate: decimal.Zero},
	}
	for _, g := range grids {
		g.OrgID = orgID
		g.ValidFrom = &start
		g.IsActive = true
		g.CreatedAt = now
		if err := h.Store.SaveGridRow(ctx, g); err != nil {
			return err
		}
	}

	policies := []commission.Policy{
		{ID: id("pol-002"), PolicyNumber: "MOT-2025-0002", CustomerName: "Meera Nair", ProductName: "Motor Insurance",
			Provider: "HDFC ERGO", GrossPremium: commission.DecimalPtr(40000), SourceType: commission.SourceMISP, MISPID: id("misp-001")},
		{ID: id("pol-003"), PolicyNumber: "LIF-2025-0001", CustomerName: "Vikram Singh", ProductName: "Term Life",
			Provider: "LIC", PlanName: "Jeevan Anand", PremiumWithGST: commission.DecimalPtr(60000),
			SourceType: commission.SourceAgent, AgentID: id("agent-002")},
		{ID: id("pol-004"), PolicyNumber: "HLT-2025-0001", CustomerName: "Fatima Khan", ProductName: "Health Insurance",
			Provider: "Star Health", GrossPremium: commission.DecimalPtr(25000), SourceType: commission.SourceEmployee, EmployeeID: id("emp-002")},
		{ID: id("pol-005"), PolicyNumber: "HLT-2025-0002", CustomerName: "Rohan Das", ProductName: "Health Insurance",
			Provider: "Star Health", GrossPremium: commission.DecimalPtr(18000), SourceType: commission.SourceDirect},
		{ID: id("pol-006"), PolicyNumber: "TRV-2025-0001", CustomerName: "Asha Pillai", ProductName: "Travel Insurance",
			Provider: "Tata AIG", GrossPremium: commission.DecimalPtr(3000), SourceType: commission.SourceDirect},
	}
	for i, p := range policies {
		issued := start.AddDate(0, 2, i*7)
		p.OrgID = orgID
		p.Status = "active"
		p.StartDate = &issued
		p.CreatedAt = now.Add(time.Duration(i+1) * time.Minute)
		if err := h.Store.SavePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

var (
	demoProviders = map[commission.ProductCategory][]string{
		commission.CategoryMotor:  {"ICICI Lombard", "HDFC ERGO", "Bajaj Allianz", "Tata AIG"},
		commission.CategoryLife:   {"LIC", "Max Life", "SBI Life"},
		commission.CategoryHealth: {"Star Health", "Niva Bupa", "Care Health"},
	}
	demoProducts = map[commission.ProductCategory]string{
		commission.CategoryMotor:  "Motor Insurance",
		commission.CategoryLife:   "Term Life",
		commission.CategoryHealth: "Health Insurance",
		commission.CategoryOther:  "Travel Insurance",
	}
)

// loadRandomScenario generates a book of business. The same seed yields the
// same data.
func (h *Handler) loadRandomScenario(ctx context.Context, orgID string, seed int64, n int) error {
	fake := gofakeit.New(seed)
	now := time.Now().UTC()
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	id := func(kind string, i int) string { return fmt.Sprintf("%s-%s-%03d", orgID, kind, i) }

	const employees, agents, misps = 4, 8, 3
	for i := 1; i <= employees; i++ {
		if err := h.Store.SaveEmployee(ctx, commission.Employee{
			ID: id("emp", i), OrgID: orgID, Name: fake.Name(), Email: fake.Email(), CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	for i := 1; i <= agents; i++ {
		a := commission.Agent{
			ID: id("agent", i), OrgID: orgID, Name: fake.Name(), Email: fake.Email(),
			EmployeeID: id("emp", fake.Number(1, employees)), CreatedAt: now,
		}
		if fake.Bool() {
			a.OverridePercentage = commission.DecimalPtr(float64(fake.Number(30, 60)))
		}
		if err := h.Store.SaveAgent(ctx, a); err != nil {
			return err
		}
	}
	for i := 1; i <= misps; i++ {
		if err := h.Store.SaveMISP(ctx, commission.MISP{
			ID: id("misp", i), OrgID: orgID, Name: fake.Company(),
			Percentage: commission.DecimalPtr(float64(fake.Number(20, 50))),
			EmployeeID: id("emp", fake.Number(1, employees)), CreatedAt: now,
		}); err != nil {
			return err
		}
	}

	grid := 0
	for _, c := range commission.GridCategories {
		for _, provider := range demoProviders[c] {
			grid++
			if err := h.Store.SaveGridRow(ctx, commission.GridRow{
				ID: id("grid", grid), OrgID: orgID, Category: c, Provider: strPtr(provider),
				ValidFrom:  &yearStart,
				BaseRate:   decimal.NewFromInt(int64(fake.Number(3, 18))),
				RewardRate: decimal.NewFromInt(int64(fake.Number(0, 3))),
				BonusRate:  decimal.NewFromInt(int64(fake.Number(0, 2))),
				IsActive:   true,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}
	}

	categories := []commission.ProductCategory{
		commission.CategoryMotor, commission.CategoryMotor, commission.CategoryLife,
		commission.CategoryHealth, commission.CategoryHealth, commission.CategoryOther,
	}
	sources := []commission.SourceType{
		commission.SourceAgent, commission.SourceAgent, commission.SourceEmployee,
		commission.SourceMISP, commission.SourceDirect,
	}
	for i := 1; i <= n; i++ {
		c := categories[fake.Number(0, len(categories)-1)]
		provider := "Tata AIG"
		if ps := demoProviders[c]; len(ps) > 0 {
			provider = ps[fake.Number(0, len(ps)-1)]
		}
		issued := fake.DateRange(yearStart, now)
		p := commission.Policy{
			ID:           id("pol", i),
			OrgID:        orgID,
			PolicyNumber: fake.Numerify("POL-########"),
			CustomerName: fake.Name(),
			ProductName:  demoProducts[c],
			Provider:     provider,
			GrossPremium: commission.DecimalPtr(float64(fake.Number(50, 2000) * 100)),
			SourceType:   sources[fake.Number(0, len(sources)-1)],
			Status:       "active",
			StartDate:    &issued,
			CreatedAt:    issued,
		}
		switch p.SourceType {
		case commission.SourceAgent:
			p.AgentID = id("agent", fake.Number(1, agents))
		case commission.SourceEmployee:
			p.EmployeeID = id("emp", fake.Number(1, employees))
		case commission.SourceMISP:
			p.MISPID = id("misp", fake.Number(1, misps))
		}
		if err := h.Store.SavePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
