package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/brokerage-engine/commission"
)

func TestParseProductJSON_TypedFields(t *testing.T) {
	// GIVEN: a product with every structured field populated
	data := []byte(`{
		"id": "prod-1",
		"name": "Family Health Floater",
		"provider": "Star",
		"features": ["cashless", "no claim bonus"],
		"regional_prices": {"north": 12500, "south": "11800.50"},
		"eligibility": {"min_age": 18, "max_age": 65, "min_sum_insured": 300000, "regions": ["north"]}
	}`)

	// WHEN: parsing
	p, err := ParseProductJSON(data)
	require.NoError(t, err)

	// THEN: fields are typed and the category is derived from the name
	assert.Equal(t, commission.CategoryHealth, p.Category)
	assert.Equal(t, []string{"cashless", "no claim bonus"}, p.Features)
	assert.Equal(t, "11800.5", p.RegionalPrices["south"].String())
	assert.Equal(t, 65, p.Eligibility.MaxAge)
	assert.Equal(t, "300000", p.Eligibility.MinSumInsured.String())
	assert.True(t, p.Active())
	assert.False(t, p.CreatedAt.IsZero())
}

func TestParseProductJSON_Rejections(t *testing.T) {
	cases := map[string]string{
		"unknown field":        `{"name": "Motor", "metadata": {}}`,
		"missing name":         `{"features": ["x"]}`,
		"features not a list":  `{"name": "Motor", "features": "x"}`,
		"empty feature":        `{"name": "Motor", "features": [""]}`,
		"negative price":       `{"name": "Motor", "regional_prices": {"north": -1}}`,
		"inverted age":         `{"name": "Motor", "eligibility": {"min_age": 60, "max_age": 18}}`,
		"inverted sum insured": `{"name": "Motor", "eligibility": {"min_sum_insured": 10, "max_sum_insured": 1}}`,
		"malformed":            `{"name": `,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProductJSON([]byte(data))
			var verr *commission.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestNormalize_ExplicitCategory(t *testing.T) {
	p, err := Normalize(Product{Name: "Secure Plus", Category: "Term Life"})
	require.NoError(t, err)
	assert.Equal(t, commission.CategoryLife, p.Category)
	assert.NotEmpty(t, p.ID)
}

func TestColumns_RoundTrip(t *testing.T) {
	p, err := ParseProductJSON([]byte(`{"name": "Motor Comprehensive", "features": ["zero dep"], "regional_prices": {"west": 9000}, "eligibility": {"regions": ["west"]}}`))
	require.NoError(t, err)

	cols, err := EncodeColumns(p)
	require.NoError(t, err)

	var back Product
	require.NoError(t, DecodeColumns(&back, cols))
	assert.Equal(t, p.Features, back.Features)
	assert.True(t, p.RegionalPrices["west"].Equal(back.RegionalPrices["west"]))
	assert.Equal(t, []string{"west"}, back.Eligibility.Regions)

	// Empty columns decode to zero values.
	var empty Product
	require.NoError(t, DecodeColumns(&empty, Columns{}))
	assert.Nil(t, empty.Features)
}
