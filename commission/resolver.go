package commission

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ResolveInput is everything the grid match depends on.
type ResolveInput struct {
	OrgID    string
	Category ProductCategory
	Provider string
	PlanName string
	AsOf     time.Time
	Premium  decimal.Decimal
}

// RateMatch is the resolver result. Grid is nil when nothing matched.
type RateMatch struct {
	Matched bool
	Grid    *GridRow
	Rates   Rates
}

// NoMatch is the zero-rate result for policies without an applicable grid row.
var NoMatch = RateMatch{Rates: Rates{Base: decimal.Zero, Reward: decimal.Zero, Bonus: decimal.Zero}}

// Matches reports whether row applies to in. Category and org are part of the
// match so a row from another grid or org never qualifies.
func (row GridRow) Matches(in ResolveInput) bool {
	if row.OrgID != in.OrgID || row.Category != in.Category || !row.IsActive {
		return false
	}
	// A nil provider is a wildcard row. An empty policy provider only
	// matches wildcard rows, never every provider of the grid.
	if row.Provider != nil && !strings.EqualFold(strings.TrimSpace(*row.Provider), strings.TrimSpace(in.Provider)) {
		return false
	}
	if in.PlanName != "" && row.PlanName != nil &&
		!strings.EqualFold(strings.TrimSpace(*row.PlanName), strings.TrimSpace(in.PlanName)) {
		return false
	}

	day := truncateDay(in.AsOf)
	if row.ValidFrom != nil && day.Before(truncateDay(*row.ValidFrom)) {
		return false
	}
	if row.ValidTo != nil && day.After(truncateDay(*row.ValidTo)) {
		return false
	}

	if row.MinPremium != nil && in.Premium.LessThan(*row.MinPremium) {
		return false
	}
	if row.MaxPremium != nil && in.Premium.GreaterThan(*row.MaxPremium) {
		return false
	}
	return true
}

// =============================================================================
// GRID INDEX - in-memory, batched replacement for per-policy grid queries
// =============================================================================

// GridIndex holds the grid rows of one org, grouped by category and sorted
// newest first so the first match is the winner.
type GridIndex struct {
	rows  map[ProductCategory][]GridRow
	memo  map[memoKey]RateMatch
	hits  int
	calls int
}

type memoKey struct {
	org      string
	category ProductCategory
	provider string
	plan     string
	day      string
	premium  string
}

// NewGridIndex builds an index over rows.
func NewGridIndex(rows []GridRow) *GridIndex {
	idx := &GridIndex{
		rows: make(map[ProductCategory][]GridRow),
		memo: make(map[memoKey]RateMatch),
	}
	for _, r := range rows {
		idx.rows[r.Category] = append(idx.rows[r.Category], r)
	}
	for c := range idx.rows {
		sortNewestFirst(idx.rows[c])
	}
	return idx
}

// Resolve returns the best matching row for in, or NoMatch.
func (idx *GridIndex) Resolve(in ResolveInput) RateMatch {
	idx.calls++
	if !in.Category.HasGrid() {
		return NoMatch
	}

	k := memoKey{
		org:      in.OrgID,
		category: in.Category,
		provider: strings.ToLower(strings.TrimSpace(in.Provider)),
		plan:     strings.ToLower(strings.TrimSpace(in.PlanName)),
		day:      truncateDay(in.AsOf).Format("2006-01-02"),
		premium:  in.Premium.String(),
	}
	if m, ok := idx.memo[k]; ok {
		idx.hits++
		return m
	}

	m := NoMatch
	for i := range idx.rows[in.Category] {
		row := idx.rows[in.Category][i]
		if row.Matches(in) {
			m = RateMatch{
				Matched: true,
				Grid:    &row,
				Rates:   Rates{Base: row.BaseRate, Reward: row.RewardRate, Bonus: row.BonusRate},
			}
			break
		}
	}
	idx.memo[k] = m
	return m
}

// Stats returns resolve calls and memo hits since the index was built.
func (idx *GridIndex) Stats() (calls, hits int) { return idx.calls, idx.hits }

// ResolveRate is the single-lookup form: it scans rows without an index.
func ResolveRate(rows []GridRow, in ResolveInput) RateMatch {
	return NewGridIndex(rows).Resolve(in)
}

func sortNewestFirst(rows []GridRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
