package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"errwatch/internal/model"
)

func baseRule(ruleType model.RuleType) model.AlertRule {
	return model.AlertRule{RuleID: "r1", Enabled: true, Type: ruleType, CooldownMinutes: 30}
}

func TestEvaluate_DisabledRuleNeverTriggers(t *testing.T) {
	rule := baseRule(model.RuleNewError)
	rule.Enabled = false
	res := Evaluate(rule, model.Metrics{IsNew: true})
	assert.False(t, res.Triggered)
}

func TestEvaluate_EnvironmentFilterExcludes(t *testing.T) {
	rule := baseRule(model.RuleNewError)
	rule.Conditions.Environments = []string{"production"}
	res := Evaluate(rule, model.Metrics{IsNew: true, Environment: "staging"})
	assert.False(t, res.Triggered)

	res = Evaluate(rule, model.Metrics{IsNew: true, Environment: "Production"})
	assert.True(t, res.Triggered)
}

func TestEvaluate_Threshold(t *testing.T) {
	rule := baseRule(model.RuleThreshold)
	rule.Conditions.Threshold = 10
	rule.Conditions.WindowMinutes = 5

	notEnough := Evaluate(rule, model.Metrics{WindowCount: 9, WindowMinutes: 5})
	assert.False(t, notEnough.Triggered)

	exact := Evaluate(rule, model.Metrics{WindowCount: 10, WindowMinutes: 5})
	assert.True(t, exact.Triggered)
	assert.Equal(t, "threshold_exceeded", exact.Reason)

	// measured window drifted too far past the configured window
	drifted := Evaluate(rule, model.Metrics{WindowCount: 20, WindowMinutes: 6})
	assert.False(t, drifted.Triggered)

	withinSlack := Evaluate(rule, model.Metrics{WindowCount: 20, WindowMinutes: 5.4})
	assert.True(t, withinSlack.Triggered)
}

func TestEvaluate_ThresholdRejectsNonPositiveConfig(t *testing.T) {
	rule := baseRule(model.RuleThreshold)
	rule.Conditions.Threshold = 0
	rule.Conditions.WindowMinutes = 5
	res := Evaluate(rule, model.Metrics{WindowCount: 100, WindowMinutes: 5})
	assert.False(t, res.Triggered)
}

func TestEvaluate_Spike(t *testing.T) {
	rule := baseRule(model.RuleSpike)
	rule.Conditions.IncreasePercent = 100
	rule.Conditions.WindowMinutes = 5
	rule.Conditions.BaselineMinutes = 60

	// current rate 2/min, baseline rate 0.5/min -> 300% increase
	res := Evaluate(rule, model.Metrics{WindowCount: 10, BaselineCount: 30, BaselineMinutes: 60})
	assert.True(t, res.Triggered)
	assert.Equal(t, "spike_detected", res.Reason)

	flat := Evaluate(rule, model.Metrics{WindowCount: 5, BaselineCount: 60, BaselineMinutes: 60})
	assert.False(t, flat.Triggered)
}

func TestEvaluate_SpikeRejectsZeroBaseline(t *testing.T) {
	rule := baseRule(model.RuleSpike)
	rule.Conditions.IncreasePercent = 50
	rule.Conditions.WindowMinutes = 5
	rule.Conditions.BaselineMinutes = 60
	res := Evaluate(rule, model.Metrics{WindowCount: 10, BaselineCount: 0, BaselineMinutes: 60})
	assert.False(t, res.Triggered)
}

func TestEvaluate_NewError(t *testing.T) {
	rule := baseRule(model.RuleNewError)
	assert.True(t, Evaluate(rule, model.Metrics{IsNew: true}).Triggered)
	assert.False(t, Evaluate(rule, model.Metrics{IsNew: false}).Triggered)
}

func TestEvaluate_CriticalBySeverity(t *testing.T) {
	rule := baseRule(model.RuleCritical)
	rule.Conditions.Severity = "Critical"
	res := Evaluate(rule, model.Metrics{Severity: "critical"})
	assert.True(t, res.Triggered)
	assert.Equal(t, "critical_severity", res.Reason)
}

func TestEvaluate_CriticalByFingerprint(t *testing.T) {
	rule := baseRule(model.RuleCritical)
	rule.Conditions.Fingerprint = []string{"abc123"}
	res := Evaluate(rule, model.Metrics{Fingerprint: "abc123"})
	assert.True(t, res.Triggered)
	assert.Equal(t, "critical_fingerprint", res.Reason)

	miss := Evaluate(rule, model.Metrics{Fingerprint: "other"})
	assert.False(t, miss.Triggered)
}

func leaf(field model.FilterField, op model.FilterOp, values ...string) model.FilterNode {
	return model.FilterNode{Kind: model.FilterLeaf, Field: field, Operator: op, Values: values}
}

func TestEvaluate_FilterTreeEqualsAndNot(t *testing.T) {
	rule := baseRule(model.RuleNewError)
	rule.Conditions.Filter = &model.FilterNode{
		Kind: model.FilterAnd,
		Children: []model.FilterNode{
			leaf(model.FieldEnvironment, model.OpEquals, "production"),
			leaf(model.FieldFile, model.OpNotContains, "vendor/"),
		},
	}

	ok := Evaluate(rule, model.Metrics{IsNew: true, Environment: "Production", File: "app/handler.go"})
	assert.True(t, ok.Triggered)

	blocked := Evaluate(rule, model.Metrics{IsNew: true, Environment: "production", File: "vendor/lib/x.go"})
	assert.False(t, blocked.Triggered)
}

func TestEvaluate_FilterTreeMissingFieldFailsPositiveAndNegative(t *testing.T) {
	rule := baseRule(model.RuleNewError)
	rule.Conditions.Filter = &model.FilterNode{Kind: model.FilterLeaf, Field: model.FieldUserSegment, Operator: model.OpNotEquals, Values: []string{"internal"}}

	res := Evaluate(rule, model.Metrics{IsNew: true})
	assert.False(t, res.Triggered)

	positive := leaf(model.FieldUserSegment, model.OpEquals, "internal")
	rule.Conditions.Filter = &positive
	res = Evaluate(rule, model.Metrics{IsNew: true})
	assert.False(t, res.Triggered)
}

func TestEvaluate_FilterTreeOrAndNot(t *testing.T) {
	rule := baseRule(model.RuleNewError)
	rule.Conditions.Filter = &model.FilterNode{
		Kind: model.FilterNot,
		Child: &model.FilterNode{
			Kind: model.FilterOr,
			Children: []model.FilterNode{
				leaf(model.FieldEnvironment, model.OpEquals, "staging"),
				leaf(model.FieldEnvironment, model.OpEquals, "dev"),
			},
		},
	}

	res := Evaluate(rule, model.Metrics{IsNew: true, Environment: "production"})
	assert.True(t, res.Triggered)

	blocked := Evaluate(rule, model.Metrics{IsNew: true, Environment: "staging"})
	assert.False(t, blocked.Triggered)
}
