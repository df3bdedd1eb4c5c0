package commission_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/brokerage-engine/commission"
)

func d(s string) decimal.Decimal { return commission.MustParseDecimal(s) }

func TestCalculate_TotalIsSumOfComponents(t *testing.T) {
	cases := []struct {
		premium             string
		base, reward, bonus string
	}{
		{"100000", "5", "1", "0"},
		{"12345.67", "7.5", "2.25", "0.5"},
		{"0", "10", "0", "0"},
		{"999.99", "0", "0", "0"},
		{"250000", "17.35", "3.1", "1.05"},
	}

	for _, tc := range cases {
		rates := commission.Rates{Base: d(tc.base), Reward: d(tc.reward), Bonus: d(tc.bonus)}
		a := commission.Calculate(d(tc.premium), rates)

		wantTotal := d(tc.premium).Mul(rates.Total()).Div(d("100"))
		assert.True(t, a.TotalCommission.Equal(wantTotal), "premium %s: total %s != %s", tc.premium, a.TotalCommission, wantTotal)

		parts := a.CommissionAmount.Add(a.RewardAmount).Add(a.BonusAmount)
		assert.True(t, a.TotalCommission.Equal(parts), "premium %s: total %s != parts %s", tc.premium, a.TotalCommission, parts)
		assert.True(t, a.TotalRate.Equal(rates.Total()))
	}
}

func TestCalculate_ExampleScenario(t *testing.T) {
	// GIVEN: ₹100,000 premium, 5% base, 1% reward, 0% bonus
	a := commission.Calculate(d("100000"), commission.Rates{Base: d("5"), Reward: d("1"), Bonus: d("0")})

	// THEN: 6% total, ₹6,000 commission
	assert.Equal(t, "6", a.TotalRate.String())
	assert.Equal(t, "6000", a.TotalCommission.String())
	assert.Equal(t, "5000", a.CommissionAmount.String())
	assert.Equal(t, "1000", a.RewardAmount.String())
	assert.True(t, a.BonusAmount.IsZero())
}

func TestParseProductCategory(t *testing.T) {
	cases := map[string]commission.ProductCategory{
		"Motor":             commission.CategoryMotor,
		"Private MOTOR car": commission.CategoryMotor,
		"Term Life":         commission.CategoryLife,
		"health floater":    commission.CategoryHealth,
		"Travel":            commission.CategoryOther,
		"":                  commission.CategoryOther,
	}
	for in, want := range cases {
		assert.Equal(t, want, commission.ParseProductCategory(in), in)
	}
}

func TestPolicy_PremiumPrecedence(t *testing.T) {
	gross, with, without := d("1000"), d("1180"), d("900")

	p := commission.Policy{GrossPremium: &gross, PremiumWithGST: &with, PremiumWithoutGST: &without}
	assert.Equal(t, "1000", p.Premium().String())

	p.GrossPremium = nil
	assert.Equal(t, "1180", p.Premium().String())

	p.PremiumWithGST = nil
	assert.Equal(t, "900", p.Premium().String())

	p.PremiumWithoutGST = nil
	assert.True(t, p.Premium().IsZero())
}
