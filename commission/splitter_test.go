package commission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/brokerage-engine/commission"
)

func TestSplit_Employee_SixtyForty(t *testing.T) {
	rules := commission.DefaultSplitRules()
	for _, total := range []string{"6000", "1234.56", "0.01", "0"} {
		s := commission.SplitCommission(d(total), commission.SplitInput{Source: commission.SourceEmployee}, rules)

		assert.True(t, s.EmployeeCommission.Equal(d(total).Mul(d("0.6"))), "total %s", total)
		assert.True(t, s.EmployeeCommission.Add(s.BrokerShare).Equal(d(total)), "total %s", total)
		assert.True(t, s.AgentCommission.IsZero())
		assert.True(t, s.MISPCommission.IsZero())
		assert.True(t, s.ReportingEmployeeCommission.IsZero())
	}
}

func TestSplit_Agent_DefaultFortyPercent(t *testing.T) {
	rules := commission.DefaultSplitRules()
	pct := rules.ResolveAgentPercentage(&commission.Agent{ID: "a1"}, nil)
	require.Equal(t, "40", pct.String())

	s := commission.SplitCommission(d("6000"), commission.SplitInput{Source: commission.SourceAgent, Percentage: pct}, rules)
	assert.Equal(t, "2400", s.AgentCommission.String())
	assert.Equal(t, "3600", s.BrokerShare.String())
}

func TestSplit_Direct_AllToBroker(t *testing.T) {
	rules := commission.DefaultSplitRules()
	for _, src := range []commission.SourceType{commission.SourceDirect, "", "walk-in"} {
		s := commission.SplitCommission(d("6000"), commission.SplitInput{Source: src}, rules)
		assert.Equal(t, "6000", s.BrokerShare.String())
		assert.True(t, s.AgentCommission.Add(s.EmployeeCommission).Add(s.MISPCommission).Add(s.ReportingEmployeeCommission).IsZero())
	}
}

func TestResolveAgentPercentage_Precedence(t *testing.T) {
	rules := commission.DefaultSplitRules()
	override := d("45")
	tier := &commission.CommissionTier{ID: "gold", BasePercentage: d("55")}

	assert.Equal(t, "45", rules.ResolveAgentPercentage(&commission.Agent{OverridePercentage: &override, TierID: "gold"}, tier).String())
	assert.Equal(t, "55", rules.ResolveAgentPercentage(&commission.Agent{TierID: "gold"}, tier).String())
	assert.Equal(t, "40", rules.ResolveAgentPercentage(&commission.Agent{}, nil).String())
	assert.Equal(t, "40", rules.ResolveAgentPercentage(nil, nil).String())
}

func TestResolveMISPPercentage_DefaultFifty(t *testing.T) {
	rules := commission.DefaultSplitRules()
	assert.Equal(t, "50", rules.ResolveMISPPercentage(&commission.MISP{}).String())

	p := d("30")
	assert.Equal(t, "30", rules.ResolveMISPPercentage(&commission.MISP{Percentage: &p}).String())
}

func TestSplit_RemainderRules(t *testing.T) {
	total := d("6000")
	in := commission.SplitInput{Source: commission.SourceAgent, Percentage: d("45")}

	cases := []struct {
		name          string
		rule          commission.RemainderRule
		hasReporting  bool
		wantReporting string
		wantBroker    string
	}{
		{"broker rule ignores reporting employee", commission.RemainderBroker, true, "0", "3300"},
		{"reporting rule without employee", commission.RemainderReportingEmployee, false, "3300", "0"},
		{"auto with reporting employee", commission.RemainderAuto, true, "3300", "0"},
		{"auto without reporting employee", commission.RemainderAuto, false, "0", "3300"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rules := commission.DefaultSplitRules()
			rules.Remainder = tc.rule
			in.HasReportingEmployee = tc.hasReporting

			s := commission.SplitCommission(total, in, rules)
			assert.Equal(t, "2700", s.AgentCommission.String())
			assert.Equal(t, tc.wantReporting, s.ReportingEmployeeCommission.String())
			assert.Equal(t, tc.wantBroker, s.BrokerShare.String())
			assert.True(t, s.Sum().Equal(total))
		})
	}
}

func TestSplit_MISPRemainderFollowsSameRule(t *testing.T) {
	rules := commission.DefaultSplitRules()
	in := commission.SplitInput{Source: commission.SourceMISP, Percentage: d("50"), HasReportingEmployee: true}

	s := commission.SplitCommission(d("1000"), in, rules)
	assert.Equal(t, "500", s.MISPCommission.String())
	assert.Equal(t, "500", s.ReportingEmployeeCommission.String())
	assert.True(t, s.BrokerShare.IsZero())
}

func TestSplit_PercentageClamped(t *testing.T) {
	rules := commission.DefaultSplitRules()

	s := commission.SplitCommission(d("100"), commission.SplitInput{Source: commission.SourceAgent, Percentage: d("150")}, rules)
	assert.Equal(t, "100", s.AgentCommission.String())
	assert.True(t, s.BrokerShare.IsZero())

	s = commission.SplitCommission(d("100"), commission.SplitInput{Source: commission.SourceAgent, Percentage: d("-5")}, rules)
	assert.True(t, s.AgentCommission.IsZero())
	assert.Equal(t, "100", s.BrokerShare.String())
}

func TestParseRemainderRule(t *testing.T) {
	r, err := commission.ParseRemainderRule("")
	require.NoError(t, err)
	assert.Equal(t, commission.RemainderAuto, r)

	r, err = commission.ParseRemainderRule("Broker")
	require.NoError(t, err)
	assert.Equal(t, commission.RemainderBroker, r)

	_, err = commission.ParseRemainderRule("agent")
	assert.ErrorIs(t, err, commission.ErrInvalidRemainderRule)
	assert.True(t, commission.IsClientError(err))
}
