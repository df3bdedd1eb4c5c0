/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the service using SQLite. In
  production the same patterns apply to PostgreSQL with minor dialect
  differences.

INTERFACES IMPLEMENTED:
  commission.Store:        policies, payout grids, agents, employees, MISPs, tiers
  commission.HistoryStore: synced agent/employee commission history
  masterdata.UploadStore:  upload status rows
  masterdata.Sink:         master data writes from bulk uploads and the API

KEY TABLES:
  policies:                     issued policies (category resolved at write)
  motor_payout_grid:            effective_from / effective_to window
  life_payout_grid:             commission_start_date / commission_end_date window
  health_payout_grid:           commission_start_date / commission_end_date window
  agent_commission_history:     UNIQUE(org_id, policy_id, agent_id)
  employee_commission_history:  UNIQUE(org_id, policy_id, employee_id)
  master_data_uploads:          upload pipeline status

ORG SCOPE:
  Master data, grid and product rows are keyed by (org_id, id). Two orgs
  using the same id get two rows, and every lookup filters on org_id.

STORAGE FORMATS:
  - Amounts and rates are TEXT (decimal strings, no float rounding)
  - Timestamps are fixed-width UTC strings, so ORDER BY created_at is
    chronological
  - Product features / regional_prices / eligibility are JSON TEXT

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - commission/store.go: read and history interfaces
  - masterdata/upload.go: UploadStore and Sink
  - commission/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/brokerage-engine/catalog"
	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/masterdata"
)

// timeLayout is fixed-width so lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ commission.Store        = (*Store)(nil)
	_ commission.HistoryStore = (*Store)(nil)
	_ masterdata.UploadStore  = (*Store)(nil)
	_ masterdata.Sink         = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		policy_number TEXT NOT NULL,
		customer_id TEXT,
		customer_name TEXT,
		product_name TEXT NOT NULL,
		category TEXT NOT NULL,
		provider TEXT,
		plan_name TEXT,
		gross_premium TEXT,
		premium_with_gst TEXT,
		premium_without_gst TEXT,
		source_type TEXT NOT NULL DEFAULT 'direct',
		agent_id TEXT,
		employee_id TEXT,
		misp_id TEXT,
		status TEXT,
		start_date TEXT,
		end_date TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	-- Report listing (hot path): org scope, newest first
	CREATE INDEX IF NOT EXISTS idx_policies_org_created
		ON policies(org_id, created_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_policies_org_category
		ON policies(org_id, category);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		override_percentage TEXT,
		tier_id TEXT,
		employee_id TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE TABLE IF NOT EXISTS misps (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		percentage TEXT,
		employee_id TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE TABLE IF NOT EXISTS commission_tiers (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		base_percentage TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	-- Payout grids: one table per category, as the upstream back office keeps them
	CREATE TABLE IF NOT EXISTS motor_payout_grid (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		provider TEXT,
		plan_name TEXT,
		effective_from TEXT,
		effective_to TEXT,
		min_premium TEXT,
		max_premium TEXT,
		base_rate TEXT NOT NULL DEFAULT '0',
		reward_rate TEXT NOT NULL DEFAULT '0',
		bonus_rate TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE TABLE IF NOT EXISTS life_payout_grid (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		provider TEXT,
		plan_name TEXT,
		commission_start_date TEXT,
		commission_end_date TEXT,
		min_premium TEXT,
		max_premium TEXT,
		base_rate TEXT NOT NULL DEFAULT '0',
		reward_rate TEXT NOT NULL DEFAULT '0',
		bonus_rate TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE TABLE IF NOT EXISTS health_payout_grid (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		provider TEXT,
		plan_name TEXT,
		commission_start_date TEXT,
		commission_end_date TEXT,
		min_premium TEXT,
		max_premium TEXT,
		base_rate TEXT NOT NULL DEFAULT '0',
		reward_rate TEXT NOT NULL DEFAULT '0',
		bonus_rate TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_motor_grid_org ON motor_payout_grid(org_id);
	CREATE INDEX IF NOT EXISTS idx_life_grid_org ON life_payout_grid(org_id);
	CREATE INDEX IF NOT EXISTS idx_health_grid_org ON health_payout_grid(org_id);

	-- Synced commission history (upsert targets)
	CREATE TABLE IF NOT EXISTS agent_commission_history (
		policy_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		grid_id TEXT,
		premium TEXT NOT NULL,
		total_rate TEXT NOT NULL,
		total_commission TEXT NOT NULL,
		percentage TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		UNIQUE(org_id, policy_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS employee_commission_history (
		policy_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		role TEXT NOT NULL,
		grid_id TEXT,
		premium TEXT NOT NULL,
		total_rate TEXT NOT NULL,
		total_commission TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		UNIQUE(org_id, policy_id, employee_id)
	);

	CREATE INDEX IF NOT EXISTS idx_agent_history_org ON agent_commission_history(org_id);
	CREATE INDEX IF NOT EXISTS idx_employee_history_org ON employee_commission_history(org_id);

	CREATE TABLE IF NOT EXISTS master_data_uploads (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		table_name TEXT NOT NULL,
		filename TEXT NOT NULL,
		blob_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total_rows INTEGER NOT NULL DEFAULT 0,
		processed_rows INTEGER NOT NULL DEFAULT 0,
		failed_rows INTEGER NOT NULL DEFAULT 0,
		error_report_path TEXT,
		error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_status
		ON master_data_uploads(status);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		provider TEXT,
		description TEXT,
		features TEXT NOT NULL DEFAULT '[]',
		regional_prices TEXT NOT NULL DEFAULT '{}',
		eligibility TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_products_org ON products(org_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// POLICIES
// =============================================================================

const policyColumns = `id, org_id, policy_number, customer_id, customer_name, product_name,
	category, provider, plan_name, gross_premium, premium_with_gst, premium_without_gst,
	source_type, agent_id, employee_id, misp_id, status, start_date, end_date, created_at`

// SavePolicy upserts a policy. The category is re-derived from the product
// name when missing.
func (s *Store) SavePolicy(ctx context.Context, p commission.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Category == "" {
		p.Category = commission.ParseProductCategory(p.ProductName)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			policy_number = excluded.policy_number,
			customer_id = excluded.customer_id,
			customer_name = excluded.customer_name,
			product_name = excluded.product_name,
			category = excluded.category,
			provider = excluded.provider,
			plan_name = excluded.plan_name,
			gross_premium = excluded.gross_premium,
			premium_with_gst = excluded.premium_with_gst,
			premium_without_gst = excluded.premium_without_gst,
			source_type = excluded.source_type,
			agent_id = excluded.agent_id,
			employee_id = excluded.employee_id,
			misp_id = excluded.misp_id,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.OrgID, p.PolicyNumber, nullString(p.CustomerID), nullString(p.CustomerName),
		p.ProductName, string(p.Category), nullString(p.Provider), nullString(p.PlanName),
		nullDecimal(p.GrossPremium), nullDecimal(p.PremiumWithGST), nullDecimal(p.PremiumWithoutGST),
		string(commission.ParseSourceType(string(p.SourceType))),
		nullString(p.AgentID), nullString(p.EmployeeID), nullString(p.MISPID),
		nullString(p.Status), nullTime(p.StartDate), nullTime(p.EndDate),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// ListPolicies returns the org's policies matching filter, newest first.
func (s *Store) ListPolicies(ctx context.Context, orgID string, filter commission.PolicyFilter) ([]commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"org_id = ?"}
	args := []any{orgID}

	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, string(filter.SourceType))
	}
	if filter.Provider != "" {
		where = append(where, `LOWER(COALESCE(provider, '')) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(filter.Provider))
	}
	if filter.From != nil {
		where = append(where, "start_date IS NOT NULL AND substr(start_date, 1, 10) >= ?")
		args = append(args, filter.From.Format("2006-01-02"))
	}
	if filter.To != nil {
		where = append(where, "start_date IS NOT NULL AND substr(start_date, 1, 10) <= ?")
		args = append(args, filter.To.Format("2006-01-02"))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		where = append(where, `(LOWER(policy_number) LIKE ? ESCAPE '\' OR LOWER(COALESCE(customer_name, '')) LIKE ? ESCAPE '\')`)
		args = append(args, likePattern(q), likePattern(q))
	}

	query := "SELECT " + policyColumns + " FROM policies WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at DESC, id DESC"

	return s.queryPolicies(ctx, query, args...)
}

// GetPolicy retrieves a policy by ID, (nil, nil) if missing.
func (s *Store) GetPolicy(ctx context.Context, orgID, id string) (*commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies, err := s.queryPolicies(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE org_id = ? AND id = ?", orgID, id)
	if err != nil || len(policies) == 0 {
		return nil, err
	}
	return &policies[0], nil
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]commission.Policy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []commission.Policy
	for rows.Next() {
		var (
			p                                  commission.Policy
			category, sourceType, createdAt    string
			customerID, customerName, provider sql.NullString
			planName, agentID, employeeID      sql.NullString
			mispID, status, startDate, endDate sql.NullString
			grossPremium, withGST, withoutGST  sql.NullString
		)
		err := rows.Scan(
			&p.ID, &p.OrgID, &p.PolicyNumber, &customerID, &customerName, &p.ProductName,
			&category, &provider, &planName, &grossPremium, &withGST, &withoutGST,
			&sourceType, &agentID, &employeeID, &mispID, &status, &startDate, &endDate, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.Category = commission.ProductCategory(category)
		p.SourceType = commission.ParseSourceType(sourceType)
		p.CustomerID = customerID.String
		p.CustomerName = customerName.String
		p.Provider = provider.String
		p.PlanName = planName.String
		p.AgentID = agentID.String
		p.EmployeeID = employeeID.String
		p.MISPID = mispID.String
		p.Status = status.String
		p.GrossPremium = parseNullDecimal(grossPremium)
		p.PremiumWithGST = parseNullDecimal(withGST)
		p.PremiumWithoutGST = parseNullDecimal(withoutGST)
		p.StartDate = parseNullTime(startDate)
		p.EndDate = parseNullTime(endDate)
		p.CreatedAt = parseTime(createdAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// PAYOUT GRIDS
// =============================================================================

// gridWindow returns the table and its date window columns.
func gridWindow(category commission.ProductCategory) (table, from, to string, err error) {
	switch category {
	case commission.CategoryMotor:
		return "motor_payout_grid", "effective_from", "effective_to", nil
	case commission.CategoryLife:
		return "life_payout_grid", "commission_start_date", "commission_end_date", nil
	case commission.CategoryHealth:
		return "health_payout_grid", "commission_start_date", "commission_end_date", nil
	}
	return "", "", "", fmt.Errorf("%w: %q", commission.ErrUnsupportedCategory, category)
}

// SaveGridRow upserts a payout grid row into its category's table.
func (s *Store) SaveGridRow(ctx context.Context, r commission.GridRow) error {
	table, from, to, err := gridWindow(r.Category)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, org_id, provider, plan_name, %[2]s, %[3]s, min_premium, max_premium,
			base_rate, reward_rate, bonus_rate, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			provider = excluded.provider,
			plan_name = excluded.plan_name,
			%[2]s = excluded.%[2]s,
			%[3]s = excluded.%[3]s,
			min_premium = excluded.min_premium,
			max_premium = excluded.max_premium,
			base_rate = excluded.base_rate,
			reward_rate = excluded.reward_rate,
			bonus_rate = excluded.bonus_rate,
			is_active = excluded.is_active
	`, table, from, to)

	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.OrgID, nullStringPtr(r.Provider), nullStringPtr(r.PlanName),
		nullTime(r.ValidFrom), nullTime(r.ValidTo),
		nullDecimal(r.MinPremium), nullDecimal(r.MaxPremium),
		r.BaseRate.String(), r.RewardRate.String(), r.BonusRate.String(),
		r.IsActive, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save %s row: %w", table, err)
	}
	return nil
}

// ListGridRows returns every row of the category's grid for the org,
// inactive rows included; the resolver filters.
func (s *Store) ListGridRows(ctx context.Context, orgID string, category commission.ProductCategory) ([]commission.GridRow, error) {
	table, from, to, err := gridWindow(category)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT id, org_id, provider, plan_name, %s, %s, min_premium, max_premium,
		       base_rate, reward_rate, bonus_rate, is_active, created_at
		FROM %s
		WHERE org_id = ?
		ORDER BY created_at DESC, id DESC
	`, from, to, table)

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var grid []commission.GridRow
	for rows.Next() {
		var (
			r                               commission.GridRow
			provider, planName              sql.NullString
			validFrom, validTo              sql.NullString
			minPremium, maxPremium          sql.NullString
			baseRate, rewardRate, bonusRate string
			createdAt                       string
		)
		err := rows.Scan(&r.ID, &r.OrgID, &provider, &planName, &validFrom, &validTo,
			&minPremium, &maxPremium, &baseRate, &rewardRate, &bonusRate, &r.IsActive, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		r.Category = category
		r.Provider = parseNullStringPtr(provider)
		r.PlanName = parseNullStringPtr(planName)
		r.ValidFrom = parseNullTime(validFrom)
		r.ValidTo = parseNullTime(validTo)
		r.MinPremium = parseNullDecimal(minPremium)
		r.MaxPremium = parseNullDecimal(maxPremium)
		r.BaseRate = commission.MustParseDecimal(baseRate)
		r.RewardRate = commission.MustParseDecimal(rewardRate)
		r.BonusRate = commission.MustParseDecimal(bonusRate)
		r.CreatedAt = parseTime(createdAt)
		grid = append(grid, r)
	}
	return grid, rows.Err()
}

// =============================================================================
// AGENTS, EMPLOYEES, MISPS, TIERS
// =============================================================================

// SaveAgent upserts an agent.
func (s *Store) SaveAgent(ctx context.Context, a commission.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO agents (id, org_id, name, email, override_percentage, tier_id, employee_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			override_percentage = excluded.override_percentage,
			tier_id = excluded.tier_id,
			employee_id = excluded.employee_id
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.OrgID, a.Name, nullString(a.Email), nullDecimal(a.OverridePercentage),
		nullString(a.TierID), nullString(a.EmployeeID), formatTime(orNow(a.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent of the org by ID, (nil, nil) if missing.
func (s *Store) GetAgent(ctx context.Context, orgID, id string) (*commission.Agent, error) {
	agents, err := s.queryAgents(ctx, "WHERE org_id = ? AND id = ?", orgID, id)
	if err != nil || len(agents) == 0 {
		return nil, err
	}
	return &agents[0], nil
}

// ListAgents returns the org's agents by name.
func (s *Store) ListAgents(ctx context.Context, orgID string) ([]commission.Agent, error) {
	return s.queryAgents(ctx, "WHERE org_id = ? ORDER BY name, id", orgID)
}

func (s *Store) queryAgents(ctx context.Context, clause string, args ...any) ([]commission.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, org_id, name, email, override_percentage, tier_id, employee_id, created_at FROM agents "+clause,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []commission.Agent
	for rows.Next() {
		var (
			a                                 commission.Agent
			email, override, tierID, employee sql.NullString
			createdAt                         string
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Name, &email, &override, &tierID, &employee, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		a.Email = email.String
		a.OverridePercentage = parseNullDecimal(override)
		a.TierID = tierID.String
		a.EmployeeID = employee.String
		a.CreatedAt = parseTime(createdAt)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SaveEmployee upserts an employee.
func (s *Store) SaveEmployee(ctx context.Context, e commission.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, org_id, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.OrgID, e.Name, nullString(e.Email), formatTime(orNow(e.CreatedAt)))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee of the org by ID.
func (s *Store) GetEmployee(ctx context.Context, orgID, id string) (*commission.Employee, error) {
	employees, err := s.queryEmployees(ctx, "WHERE org_id = ? AND id = ?", orgID, id)
	if err != nil || len(employees) == 0 {
		return nil, err
	}
	return &employees[0], nil
}

// ListEmployees returns the org's employees by name.
func (s *Store) ListEmployees(ctx context.Context, orgID string) ([]commission.Employee, error) {
	return s.queryEmployees(ctx, "WHERE org_id = ? ORDER BY name, id", orgID)
}

func (s *Store) queryEmployees(ctx context.Context, clause string, args ...any) ([]commission.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, org_id, name, email, created_at FROM employees "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []commission.Employee
	for rows.Next() {
		var (
			e         commission.Employee
			email     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Name, &email, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		e.Email = email.String
		e.CreatedAt = parseTime(createdAt)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// SaveMISP upserts a channel partner.
func (s *Store) SaveMISP(ctx context.Context, m commission.MISP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO misps (id, org_id, name, percentage, employee_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			name = excluded.name,
			percentage = excluded.percentage,
			employee_id = excluded.employee_id
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.OrgID, m.Name, nullDecimal(m.Percentage), nullString(m.EmployeeID),
		formatTime(orNow(m.CreatedAt)))
	if err != nil {
		return fmt.Errorf("failed to save misp: %w", err)
	}
	return nil
}

// GetMISP retrieves a MISP of the org by ID.
func (s *Store) GetMISP(ctx context.Context, orgID, id string) (*commission.MISP, error) {
	misps, err := s.queryMISPs(ctx, "WHERE org_id = ? AND id = ?", orgID, id)
	if err != nil || len(misps) == 0 {
		return nil, err
	}
	return &misps[0], nil
}

// ListMISPs returns the org's MISPs by name.
func (s *Store) ListMISPs(ctx context.Context, orgID string) ([]commission.MISP, error) {
	return s.queryMISPs(ctx, "WHERE org_id = ? ORDER BY name, id", orgID)
}

func (s *Store) queryMISPs(ctx context.Context, clause string, args ...any) ([]commission.MISP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, org_id, name, percentage, employee_id, created_at FROM misps "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query misps: %w", err)
	}
	defer rows.Close()

	var misps []commission.MISP
	for rows.Next() {
		var (
			m                    commission.MISP
			percentage, employee sql.NullString
			createdAt            string
		)
		if err := rows.Scan(&m.ID, &m.OrgID, &m.Name, &percentage, &employee, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan misp: %w", err)
		}
		m.Percentage = parseNullDecimal(percentage)
		m.EmployeeID = employee.String
		m.CreatedAt = parseTime(createdAt)
		misps = append(misps, m)
	}
	return misps, rows.Err()
}

// SaveTier upserts a commission tier.
func (s *Store) SaveTier(ctx context.Context, t commission.CommissionTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO commission_tiers (id, org_id, name, base_percentage, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			name = excluded.name,
			base_percentage = excluded.base_percentage
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.OrgID, t.Name, t.BasePercentage.String(), formatTime(orNow(t.CreatedAt)))
	if err != nil {
		return fmt.Errorf("failed to save tier: %w", err)
	}
	return nil
}

// GetTier retrieves a tier of the org by ID.
func (s *Store) GetTier(ctx context.Context, orgID, id string) (*commission.CommissionTier, error) {
	tiers, err := s.queryTiers(ctx, "WHERE org_id = ? AND id = ?", orgID, id)
	if err != nil || len(tiers) == 0 {
		return nil, err
	}
	return &tiers[0], nil
}

// ListTiers returns the org's tiers by name.
func (s *Store) ListTiers(ctx context.Context, orgID string) ([]commission.CommissionTier, error) {
	return s.queryTiers(ctx, "WHERE org_id = ? ORDER BY name, id", orgID)
}

func (s *Store) queryTiers(ctx context.Context, clause string, args ...any) ([]commission.CommissionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, org_id, name, base_percentage, created_at FROM commission_tiers "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiers: %w", err)
	}
	defer rows.Close()

	var tiers []commission.CommissionTier
	for rows.Next() {
		var (
			t               commission.CommissionTier
			base, createdAt string
		)
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &base, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		t.BasePercentage = commission.MustParseDecimal(base)
		t.CreatedAt = parseTime(createdAt)
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// =============================================================================
// COMMISSION HISTORY (commission.HistoryStore)
// =============================================================================

// UpsertAgentCommission writes or overwrites the (policy, agent) row.
func (s *Store) UpsertAgentCommission(ctx context.Context, row commission.AgentCommission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO agent_commission_history
		(policy_id, agent_id, org_id, grid_id, premium, total_rate, total_commission,
		 percentage, commission_amount, status, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, policy_id, agent_id) DO UPDATE SET
			grid_id = excluded.grid_id,
			premium = excluded.premium,
			total_rate = excluded.total_rate,
			total_commission = excluded.total_commission,
			percentage = excluded.percentage,
			commission_amount = excluded.commission_amount,
			status = excluded.status,
			calculated_at = excluded.calculated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		row.PolicyID, row.AgentID, row.OrgID, nullString(row.GridID),
		row.Premium.String(), row.TotalRate.String(), row.TotalCommission.String(),
		row.Percentage.String(), row.CommissionAmount.String(), string(row.Status),
		formatTime(orNow(row.CalculatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert agent commission: %w", err)
	}
	return nil
}

// UpsertEmployeeCommission writes or overwrites the (policy, employee) row.
func (s *Store) UpsertEmployeeCommission(ctx context.Context, row commission.EmployeeCommission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employee_commission_history
		(policy_id, employee_id, org_id, role, grid_id, premium, total_rate, total_commission,
		 commission_amount, status, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, policy_id, employee_id) DO UPDATE SET
			role = excluded.role,
			grid_id = excluded.grid_id,
			premium = excluded.premium,
			total_rate = excluded.total_rate,
			total_commission = excluded.total_commission,
			commission_amount = excluded.commission_amount,
			status = excluded.status,
			calculated_at = excluded.calculated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		row.PolicyID, row.EmployeeID, row.OrgID, string(row.Role), nullString(row.GridID),
		row.Premium.String(), row.TotalRate.String(), row.TotalCommission.String(),
		row.CommissionAmount.String(), string(row.Status), formatTime(orNow(row.CalculatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert employee commission: %w", err)
	}
	return nil
}

// ListAgentCommissions returns the synced agent rows of the org.
func (s *Store) ListAgentCommissions(ctx context.Context, orgID string) ([]commission.AgentCommission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, agent_id, org_id, grid_id, premium, total_rate, total_commission,
		       percentage, commission_amount, status, calculated_at
		FROM agent_commission_history
		WHERE org_id = ?
		ORDER BY calculated_at DESC, policy_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent commissions: %w", err)
	}
	defer rows.Close()

	var out []commission.AgentCommission
	for rows.Next() {
		var (
			r                                         commission.AgentCommission
			gridID                                    sql.NullString
			premium, rate, total, pct, amount, status string
			calculatedAt                              string
		)
		if err := rows.Scan(&r.PolicyID, &r.AgentID, &r.OrgID, &gridID, &premium, &rate, &total,
			&pct, &amount, &status, &calculatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent commission: %w", err)
		}
		r.GridID = gridID.String
		r.Premium = commission.MustParseDecimal(premium)
		r.TotalRate = commission.MustParseDecimal(rate)
		r.TotalCommission = commission.MustParseDecimal(total)
		r.Percentage = commission.MustParseDecimal(pct)
		r.CommissionAmount = commission.MustParseDecimal(amount)
		r.Status = commission.CalculationStatus(status)
		r.CalculatedAt = parseTime(calculatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEmployeeCommissions returns the synced employee rows of the org.
func (s *Store) ListEmployeeCommissions(ctx context.Context, orgID string) ([]commission.EmployeeCommission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, employee_id, org_id, role, grid_id, premium, total_rate,
		       total_commission, commission_amount, status, calculated_at
		FROM employee_commission_history
		WHERE org_id = ?
		ORDER BY calculated_at DESC, policy_id, employee_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query employee commissions: %w", err)
	}
	defer rows.Close()

	var out []commission.EmployeeCommission
	for rows.Next() {
		var (
			r                                  commission.EmployeeCommission
			gridID                             sql.NullString
			role, premium, rate, total, amount string
			status, calculatedAt               string
		)
		if err := rows.Scan(&r.PolicyID, &r.EmployeeID, &r.OrgID, &role, &gridID, &premium, &rate,
			&total, &amount, &status, &calculatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan employee commission: %w", err)
		}
		r.Role = commission.EmployeeRole(role)
		r.GridID = gridID.String
		r.Premium = commission.MustParseDecimal(premium)
		r.TotalRate = commission.MustParseDecimal(rate)
		r.TotalCommission = commission.MustParseDecimal(total)
		r.CommissionAmount = commission.MustParseDecimal(amount)
		r.Status = commission.CalculationStatus(status)
		r.CalculatedAt = parseTime(calculatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// MASTER DATA UPLOADS (masterdata.UploadStore)
// =============================================================================

const uploadColumns = `id, org_id, table_name, filename, blob_key, status, total_rows,
	processed_rows, failed_rows, error_report_path, error, created_at, updated_at, completed_at`

// SaveUpload creates or updates an upload status row.
func (s *Store) SaveUpload(ctx context.Context, u masterdata.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO master_data_uploads (` + uploadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_rows = excluded.total_rows,
			processed_rows = excluded.processed_rows,
			failed_rows = excluded.failed_rows,
			error_report_path = excluded.error_report_path,
			error = excluded.error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.OrgID, string(u.Table), u.Filename, u.BlobKey, string(u.Status),
		u.TotalRows, u.ProcessedRows, u.FailedRows,
		nullString(u.ErrorReportPath), nullString(u.Error),
		formatTime(orNow(u.CreatedAt)), formatTime(orNow(u.UpdatedAt)), nullTime(u.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}

// GetUpload retrieves an upload by ID, (nil, nil) if missing.
func (s *Store) GetUpload(ctx context.Context, id string) (*masterdata.Upload, error) {
	uploads, err := s.queryUploads(ctx, "WHERE id = ?", id)
	if err != nil || len(uploads) == 0 {
		return nil, err
	}
	return &uploads[0], nil
}

// ListUploadsByStatus returns uploads in the given status, oldest first.
func (s *Store) ListUploadsByStatus(ctx context.Context, status masterdata.Status) ([]masterdata.Upload, error) {
	return s.queryUploads(ctx, "WHERE status = ? ORDER BY created_at, id", string(status))
}

// ListUploads returns the org's most recent uploads.
func (s *Store) ListUploads(ctx context.Context, orgID string, limit int) ([]masterdata.Upload, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryUploads(ctx, "WHERE org_id = ? ORDER BY created_at DESC, id DESC LIMIT ?", orgID, limit)
}

func (s *Store) queryUploads(ctx context.Context, clause string, args ...any) ([]masterdata.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+uploadColumns+" FROM master_data_uploads "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []masterdata.Upload
	for rows.Next() {
		var (
			u                            masterdata.Upload
			table, status                string
			reportPath, errMsg, finished sql.NullString
			createdAt, updatedAt         string
		)
		err := rows.Scan(&u.ID, &u.OrgID, &table, &u.Filename, &u.BlobKey, &status,
			&u.TotalRows, &u.ProcessedRows, &u.FailedRows, &reportPath, &errMsg,
			&createdAt, &updatedAt, &finished)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		u.Table = masterdata.Table(table)
		u.Status = masterdata.Status(status)
		u.ErrorReportPath = reportPath.String
		u.Error = errMsg.String
		u.CreatedAt = parseTime(createdAt)
		u.UpdatedAt = parseTime(updatedAt)
		u.CompletedAt = parseNullTime(finished)
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// =============================================================================
// PRODUCTS
// =============================================================================

// SaveProduct upserts a catalog product.
func (s *Store) SaveProduct(ctx context.Context, p catalog.Product) error {
	cols, err := catalog.EncodeColumns(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (id, org_id, name, category, provider, description,
			features, regional_prices, eligibility, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			provider = excluded.provider,
			description = excluded.description,
			features = excluded.features,
			regional_prices = excluded.regional_prices,
			eligibility = excluded.eligibility,
			is_active = excluded.is_active
	`
	var active sql.NullBool
	if p.IsActive != nil {
		active = sql.NullBool{Bool: *p.IsActive, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.OrgID, p.Name, string(p.Category), nullString(p.Provider), nullString(p.Description),
		cols.Features, cols.RegionalPrices, cols.Eligibility, active, formatTime(orNow(p.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by ID, (nil, nil) if missing.
func (s *Store) GetProduct(ctx context.Context, orgID, id string) (*catalog.Product, error) {
	products, err := s.queryProducts(ctx, "WHERE org_id = ? AND id = ?", orgID, id)
	if err != nil || len(products) == 0 {
		return nil, err
	}
	return &products[0], nil
}

// ListProducts returns the org's products by name.
func (s *Store) ListProducts(ctx context.Context, orgID string) ([]catalog.Product, error) {
	return s.queryProducts(ctx, "WHERE org_id = ? ORDER BY name, id", orgID)
}

func (s *Store) queryProducts(ctx context.Context, clause string, args ...any) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, category, provider, description, features,
		       regional_prices, eligibility, is_active, created_at
		FROM products `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []catalog.Product
	for rows.Next() {
		var (
			p                     catalog.Product
			category, createdAt   string
			provider, description sql.NullString
			cols                  catalog.Columns
			active                sql.NullBool
		)
		err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &category, &provider, &description,
			&cols.Features, &cols.RegionalPrices, &cols.Eligibility, &active, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.Category = commission.ProductCategory(category)
		p.Provider = provider.String
		p.Description = description.String
		if active.Valid {
			v := active.Bool
			p.IsActive = &v
		}
		p.CreatedAt = parseTime(createdAt)
		if err := catalog.DecodeColumns(&p, cols); err != nil {
			return nil, fmt.Errorf("product %s: %w", p.ID, err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// ListOrgIDs returns every org that has at least one policy.
func (s *Store) ListOrgIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT org_id FROM policies ORDER BY org_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list orgs: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}

// Reset clears all data of an org (demo scenarios).
func (s *Store) Reset(ctx context.Context, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"agent_commission_history",
		"employee_commission_history",
		"policies",
		"agents",
		"employees",
		"misps",
		"commission_tiers",
		"motor_payout_grid",
		"life_payout_grid",
		"health_payout_grid",
		"products",
		"master_data_uploads",
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE org_id = ?", orgID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func parseNullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil
	}
	return &d
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// likePattern builds a lower-cased substring pattern with LIKE wildcards escaped.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}
