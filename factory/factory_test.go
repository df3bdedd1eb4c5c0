package factory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/brokerage-engine/commission"
)

func pinned() *GridFactory {
	f := NewGridFactory()
	f.Now = func() time.Time { return time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC) }
	return f
}

// =============================================================================
// GRID PARSING
// =============================================================================

func TestParseGrid_MotorNaming(t *testing.T) {
	// GIVEN: a motor grid row using effective_from/effective_to
	data := []byte(`{
		"id": "grid-1",
		"provider": "Acme General",
		"effective_from": "2025-04-01",
		"effective_to": "2026-03-31",
		"min_premium": 1000,
		"max_premium": "500000",
		"base_rate": 15,
		"reward_rate": 2.5,
		"bonus_rate": 0
	}`)

	// WHEN: parsing
	row, err := pinned().ParseGrid("org-1", commission.CategoryMotor, data)
	require.NoError(t, err)

	// THEN: window, bounds and rates are carried over, row defaults to active
	assert.Equal(t, "grid-1", row.ID)
	assert.Equal(t, "org-1", row.OrgID)
	assert.Equal(t, commission.CategoryMotor, row.Category)
	require.NotNil(t, row.Provider)
	assert.Equal(t, "Acme General", *row.Provider)
	assert.Nil(t, row.PlanName)
	assert.Equal(t, "2025-04-01", row.ValidFrom.Format("2006-01-02"))
	assert.Equal(t, "2026-03-31", row.ValidTo.Format("2006-01-02"))
	assert.Equal(t, "1000", row.MinPremium.String())
	assert.Equal(t, "500000", row.MaxPremium.String())
	assert.Equal(t, "17.5", commission.Rates{Base: row.BaseRate, Reward: row.RewardRate, Bonus: row.BonusRate}.Total().String())
	assert.True(t, row.IsActive)
	assert.Equal(t, 2025, row.CreatedAt.Year())
}

func TestParseGrid_LifeNamingAndGeneratedID(t *testing.T) {
	data := []byte(`{"commission_start_date": "2025-01-01", "commission_end_date": "2025-12-31", "base_rate": 20, "reward_rate": 0, "bonus_rate": 2, "is_active": false}`)

	row, err := pinned().ParseGrid("org-1", commission.CategoryLife, data)
	require.NoError(t, err)

	assert.NotEmpty(t, row.ID)
	assert.Nil(t, row.Provider)
	assert.Equal(t, "2025-01-01", row.ValidFrom.Format("2006-01-02"))
	assert.False(t, row.IsActive)
}

func TestParseGrid_Rejections(t *testing.T) {
	cases := map[string]string{
		"rate above 100":     `{"base_rate": 101, "reward_rate": 0, "bonus_rate": 0}`,
		"negative rate":      `{"base_rate": 5, "reward_rate": -1, "bonus_rate": 0}`,
		"unknown field":      `{"base_rate": 5, "commission": 3}`,
		"bad date":           `{"base_rate": 5, "effective_from": "01/04/2025"}`,
		"inverted window":    `{"base_rate": 5, "effective_from": "2025-06-01", "effective_to": "2025-01-01"}`,
		"inverted bounds":    `{"base_rate": 5, "min_premium": 5000, "max_premium": 1000}`,
		"negative min bound": `{"base_rate": 5, "min_premium": -1}`,
		"malformed":          `{"base_rate": `,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := pinned().ParseGrid("org-1", commission.CategoryMotor, []byte(data))
			require.Error(t, err)
			assert.True(t, commission.IsClientError(err), "%v", err)
		})
	}
}

func TestParseGrid_UnsupportedCategory(t *testing.T) {
	_, err := pinned().ParseGrid("org-1", commission.CategoryOther, []byte(`{"base_rate": 5}`))
	assert.ErrorIs(t, err, commission.ErrUnsupportedCategory)
}

func TestParseGridList(t *testing.T) {
	rows, err := pinned().ParseGridList("org-1", commission.CategoryHealth, []byte(`[
		{"provider": "Star", "base_rate": 10},
		{"provider": null, "plan_name": "", "base_rate": 8}
	]`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].Provider)
	assert.Nil(t, rows[1].PlanName)

	_, err = pinned().ParseGridList("org-1", commission.CategoryHealth, []byte(`[{"base_rate": 10}, {"base_rate": 200}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")
}

func TestFromRecord(t *testing.T) {
	row, err := pinned().FromRecord("org-1", commission.CategoryMotor, map[string]string{
		"provider":       " Acme ",
		"plan_name":      "",
		"effective_from": "2025-01-01",
		"base_rate":      "5",
		"reward_rate":    "1",
		"bonus_rate":     "",
		"is_active":      "yes",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme", *row.Provider)
	assert.Nil(t, row.PlanName)
	assert.True(t, row.BonusRate.IsZero())
	assert.True(t, row.IsActive)

	_, err = pinned().FromRecord("org-1", commission.CategoryMotor, map[string]string{"base_rate": "five"})
	var verr *commission.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "base_rate", verr.Field)
}

func TestToJSON_RoundTrip(t *testing.T) {
	row, err := pinned().ParseGrid("org-1", commission.CategoryMotor, []byte(`{"id":"g1","provider":"Acme","effective_from":"2025-01-01","base_rate":5,"reward_rate":1,"bonus_rate":0}`))
	require.NoError(t, err)

	again, err := pinned().FromJSON("org-1", commission.CategoryMotor, ToJSON(row))
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID)
	assert.Equal(t, *row.Provider, *again.Provider)
	assert.True(t, row.ValidFrom.Equal(*again.ValidFrom))
	assert.True(t, row.BaseRate.Equal(again.BaseRate))
}

// =============================================================================
// SPLIT RULES
// =============================================================================

func TestParseSplitRules_Defaults(t *testing.T) {
	rules, err := ParseSplitRules(nil)
	require.NoError(t, err)
	assert.Equal(t, commission.DefaultSplitRules(), rules)
}

func TestParseSplitRules_Overrides(t *testing.T) {
	rules, err := ParseSplitRules([]byte("default_agent_percentage: 35\nremainder_rule: broker\n"))
	require.NoError(t, err)

	assert.Equal(t, "35", rules.DefaultAgentPercentage.String())
	assert.Equal(t, "60", rules.EmployeePercentage.String())
	assert.Equal(t, "50", rules.DefaultMISPPercentage.String())
	assert.Equal(t, commission.RemainderBroker, rules.Remainder)
}

func TestParseSplitRules_Rejections(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":    "agent_share: 40\n",
		"out of range":   "employee_percentage: 120\n",
		"bad remainder":  "remainder_rule: agent\n",
		"malformed yaml": "default_agent_percentage: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSplitRules([]byte(doc))
			require.Error(t, err)
			assert.True(t, commission.IsClientError(err), "%v", err)
		})
	}
}

func TestLoadSplitRules(t *testing.T) {
	rules, err := LoadSplitRules("")
	require.NoError(t, err)
	assert.Equal(t, commission.RemainderAuto, rules.Remainder)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remainder_rule: reporting_employee\n"), 0o644))
	rules, err = LoadSplitRules(path)
	require.NoError(t, err)
	assert.Equal(t, commission.RemainderReportingEmployee, rules.Remainder)

	_, err = LoadSplitRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
