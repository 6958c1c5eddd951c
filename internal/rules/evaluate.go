// Package rules implements the pure-function rule evaluator: given an
// AlertRule and a Metrics snapshot, it decides whether the rule fires,
// with no I/O and no dependency on the clock beyond what metrics
// already carries.
package rules

import (
	"strings"

	"errwatch/internal/model"
)

// Result is the outcome of evaluating one rule against one metrics
// snapshot.
type Result struct {
	Triggered       bool
	Reason          string
	RuleID          string
	CooldownMinutes float64
}

// Evaluate runs the pre-filters and the type-specific evaluator for
// rule against metrics. It reads only rule.Enabled, rule.Type,
// rule.Conditions, rule.CooldownMinutes, and metrics.
func Evaluate(rule model.AlertRule, metrics model.Metrics) Result {
	notTriggered := Result{Triggered: false, RuleID: rule.RuleID, CooldownMinutes: rule.CooldownMinutes}

	if !rule.Enabled {
		return notTriggered
	}
	if !passesEnvironmentFilter(rule.Conditions.Environments, metrics.Environment) {
		return notTriggered
	}
	if rule.Conditions.Filter != nil && !evaluateFilterNode(*rule.Conditions.Filter, metrics) {
		return notTriggered
	}

	var triggered bool
	var reason string

	switch rule.Type {
	case model.RuleThreshold:
		triggered, reason = evaluateThreshold(rule.Conditions, metrics)
	case model.RuleSpike:
		triggered, reason = evaluateSpike(rule.Conditions, metrics)
	case model.RuleNewError:
		triggered, reason = evaluateNewError(metrics)
	case model.RuleCritical:
		triggered, reason = evaluateCritical(rule.Conditions, metrics)
	}

	return Result{
		Triggered:       triggered,
		Reason:          reason,
		RuleID:          rule.RuleID,
		CooldownMinutes: rule.CooldownMinutes,
	}
}

func passesEnvironmentFilter(allowed []string, environment string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, env := range allowed {
		if strings.EqualFold(env, environment) {
			return true
		}
	}
	return false
}

func evaluateThreshold(c model.Conditions, m model.Metrics) (bool, string) {
	if c.Threshold <= 0 || c.WindowMinutes <= 0 {
		return false, ""
	}
	if float64(m.WindowCount) < c.Threshold {
		return false, ""
	}
	if m.WindowMinutes > c.WindowMinutes+0.5 {
		return false, ""
	}
	return true, "threshold_exceeded"
}

func evaluateSpike(c model.Conditions, m model.Metrics) (bool, string) {
	if c.IncreasePercent <= 0 || c.WindowMinutes <= 0 || c.BaselineMinutes <= 0 {
		return false, ""
	}
	if m.BaselineMinutes <= 0 {
		return false, ""
	}
	currentRate := float64(m.WindowCount) / c.WindowMinutes
	baselineRate := float64(m.BaselineCount) / c.BaselineMinutes
	if currentRate <= 0 || baselineRate <= 0 {
		return false, ""
	}
	increase := ((currentRate - baselineRate) / baselineRate) * 100
	if increase < c.IncreasePercent {
		return false, ""
	}
	return true, "spike_detected"
}

func evaluateNewError(m model.Metrics) (bool, string) {
	if !m.IsNew {
		return false, ""
	}
	return true, "new_error"
}

func evaluateCritical(c model.Conditions, m model.Metrics) (bool, string) {
	if c.Severity != "" && normalize(m.Severity) == normalize(c.Severity) {
		return true, "critical_severity"
	}
	for _, fp := range c.Fingerprint {
		if fp != "" && fp == m.Fingerprint {
			return true, "critical_fingerprint"
		}
	}
	return false, ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// evaluateFilterNode recursively evaluates the structured filter DNF
// tree against metrics. Leaf field values are read from metrics; a
// leaf whose field has no value in metrics fails every operator.
func evaluateFilterNode(node model.FilterNode, m model.Metrics) bool {
	switch node.Kind {
	case model.FilterAnd:
		for _, child := range node.Children {
			if !evaluateFilterNode(child, m) {
				return false
			}
		}
		return true
	case model.FilterOr:
		for _, child := range node.Children {
			if evaluateFilterNode(child, m) {
				return true
			}
		}
		return false
	case model.FilterNot:
		if node.Child == nil {
			return false
		}
		return !evaluateFilterNode(*node.Child, m)
	case model.FilterLeaf:
		return evaluateLeaf(node, m)
	default:
		return false
	}
}

func fieldValues(field model.FilterField, m model.Metrics) []string {
	switch field {
	case model.FieldEnvironment:
		if m.Environment == "" {
			return nil
		}
		return []string{m.Environment}
	case model.FieldFile:
		if m.File == "" {
			return nil
		}
		return []string{m.File}
	case model.FieldUserSegment:
		return m.UserSegments
	default:
		return nil
	}
}

// evaluateLeaf applies operator against the candidate field values
// from metrics and the configured operand values. All comparisons are
// case-insensitive. An empty candidate list or empty operand list
// always returns false, including for not_* operators: absent data
// must not silently satisfy a negative match.
func evaluateLeaf(node model.FilterNode, m model.Metrics) bool {
	candidates := fieldValues(node.Field, m)
	operands := nonEmpty(node.Values)
	if len(candidates) == 0 || len(operands) == 0 {
		return false
	}

	switch node.Operator {
	case model.OpEquals, model.OpIn:
		return anyMatch(candidates, operands, equalsFold)
	case model.OpNotEquals, model.OpNotIn:
		return allDiffer(candidates, operands, equalsFold)
	case model.OpContains:
		return anyMatch(candidates, operands, containsFold)
	case model.OpNotContains:
		return allDiffer(candidates, operands, containsFold)
	default:
		return false
	}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func equalsFold(candidate, operand string) bool {
	return strings.EqualFold(candidate, operand)
}

func containsFold(candidate, operand string) bool {
	return strings.Contains(strings.ToLower(candidate), strings.ToLower(operand))
}

func anyMatch(candidates, operands []string, match func(string, string) bool) bool {
	for _, c := range candidates {
		for _, o := range operands {
			if match(c, o) {
				return true
			}
		}
	}
	return false
}

func allDiffer(candidates, operands []string, match func(string, string) bool) bool {
	for _, c := range candidates {
		for _, o := range operands {
			if match(c, o) {
				return false
			}
		}
	}
	return true
}
