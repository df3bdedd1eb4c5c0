package factory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/brokerage-engine/commission"
)

// RulesYAML is the split rules file. Omitted keys keep their defaults.
//
//	default_agent_percentage: 40
//	employee_percentage: 60
//	default_misp_percentage: 50
//	remainder_rule: auto   # broker | reporting_employee | auto
type RulesYAML struct {
	DefaultAgentPercentage *float64 `yaml:"default_agent_percentage" json:"default_agent_percentage" validate:"omitempty,gte=0,lte=100"`
	EmployeePercentage     *float64 `yaml:"employee_percentage" json:"employee_percentage" validate:"omitempty,gte=0,lte=100"`
	DefaultMISPPercentage  *float64 `yaml:"default_misp_percentage" json:"default_misp_percentage" validate:"omitempty,gte=0,lte=100"`
	RemainderRule          string   `yaml:"remainder_rule" json:"remainder_rule"`
}

// ParseSplitRules parses a YAML rules document on top of the defaults.
// Unknown keys are rejected.
func ParseSplitRules(data []byte) (commission.SplitRules, error) {
	rules := commission.DefaultSplitRules()
	if len(bytes.TrimSpace(data)) == 0 {
		return rules, nil
	}

	var ry RulesYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ry); err != nil && !errors.Is(err, io.EOF) {
		return rules, commission.NewValidationError("", "failed to parse split rules: %v", err)
	}
	return ApplyRules(rules, ry)
}

// LoadSplitRules reads a rules file. An empty path yields the defaults.
func LoadSplitRules(path string) (commission.SplitRules, error) {
	if path == "" {
		return commission.DefaultSplitRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return commission.SplitRules{}, fmt.Errorf("failed to read split rules %s: %w", path, err)
	}
	return ParseSplitRules(data)
}

// ApplyRules overlays ry on base.
func ApplyRules(base commission.SplitRules, ry RulesYAML) (commission.SplitRules, error) {
	if err := Validate(ry); err != nil {
		return base, err
	}
	if ry.DefaultAgentPercentage != nil {
		base.DefaultAgentPercentage = decimal.NewFromFloat(*ry.DefaultAgentPercentage)
	}
	if ry.EmployeePercentage != nil {
		base.EmployeePercentage = decimal.NewFromFloat(*ry.EmployeePercentage)
	}
	if ry.DefaultMISPPercentage != nil {
		base.DefaultMISPPercentage = decimal.NewFromFloat(*ry.DefaultMISPPercentage)
	}
	if ry.RemainderRule != "" {
		rule, err := commission.ParseRemainderRule(ry.RemainderRule)
		if err != nil {
			return base, err
		}
		base.Remainder = rule
	}
	return base, nil
}
