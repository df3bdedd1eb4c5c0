package commission

import "github.com/shopspring/decimal"

// Amounts is the calculator output. Nothing is rounded here; presentation
// rounds to two decimals.
type Amounts struct {
	TotalRate        decimal.Decimal
	CommissionAmount decimal.Decimal // base component
	RewardAmount     decimal.Decimal
	BonusAmount      decimal.Decimal
	TotalCommission  decimal.Decimal
}

// Calculate applies rates to premium.
func Calculate(premium decimal.Decimal, rates Rates) Amounts {
	total := rates.Total()
	return Amounts{
		TotalRate:        total,
		CommissionAmount: PercentOf(premium, rates.Base),
		RewardAmount:     PercentOf(premium, rates.Reward),
		BonusAmount:      PercentOf(premium, rates.Bonus),
		TotalCommission:  PercentOf(premium, total),
	}
}
