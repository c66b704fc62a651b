package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/model"
)

// ValidationResult is the outcome of checking action input against a
// step's validation rules.
type ValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
	Details  []model.FieldError
}

func (r *ValidationResult) fail(rule model.ValidationRule, msg string) {
	if rule.ErrorMessage != "" {
		msg = rule.ErrorMessage
	}
	r.Errors = append(r.Errors, msg)
	r.Details = append(r.Details, model.FieldError{
		Field:   rule.Field,
		Code:    string(rule.Type),
		Message: msg,
	})
}

// ValidateInput checks every rule independently against input. Length,
// pattern and range rules only apply to fields that are present; presence
// is the job of Required. Rules whose own value cannot be parsed fail.
func (e *Evaluator) ValidateInput(rules []model.ValidationRule, input model.Context) ValidationResult {
	res := ValidationResult{}
	for _, rule := range rules {
		e.checkRule(rule, input, &res)
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

func (e *Evaluator) checkRule(rule model.ValidationRule, input model.Context, res *ValidationResult) {
	v := input.Lookup(rule.Field)
	present := !v.IsNull() && strings.TrimSpace(v.String()) != ""

	switch rule.Type {
	case model.RuleRequired:
		if !present {
			res.fail(rule, fmt.Sprintf("%s is required", rule.Field))
		}

	case model.RuleMinLength, model.RuleMaxLength:
		limit, err := strconv.Atoi(strings.TrimSpace(rule.Value))
		if err != nil || limit < 0 {
			e.logger.Warn("invalid length rule", zap.String("field", rule.Field), zap.String("value", rule.Value))
			res.fail(rule, fmt.Sprintf("%s: invalid %s rule value %q", rule.Field, rule.Type, rule.Value))
			return
		}
		if !present {
			return
		}
		n := utf8.RuneCountInString(v.String())
		if rule.Type == model.RuleMinLength && n < limit {
			res.fail(rule, fmt.Sprintf("%s must be at least %d characters", rule.Field, limit))
		}
		if rule.Type == model.RuleMaxLength && n > limit {
			res.fail(rule, fmt.Sprintf("%s must be at most %d characters", rule.Field, limit))
		}

	case model.RulePattern:
		re, err := e.compile(rule.Value)
		if err != nil {
			e.logger.Warn("invalid pattern rule", zap.String("field", rule.Field), zap.Error(err))
			res.fail(rule, fmt.Sprintf("%s: invalid pattern %q", rule.Field, rule.Value))
			return
		}
		if present && !re.MatchString(v.String()) {
			res.fail(rule, fmt.Sprintf("%s has an invalid format", rule.Field))
		}

	case model.RuleRange:
		lo, hi, hasHi, err := parseRange(rule.Value)
		if err != nil {
			e.logger.Warn("invalid range rule", zap.String("field", rule.Field), zap.Error(err))
			res.fail(rule, fmt.Sprintf("%s: invalid range %q", rule.Field, rule.Value))
			return
		}
		if !present {
			return
		}
		n, ok := numeric(v)
		if !ok {
			res.fail(rule, fmt.Sprintf("%s must be a number", rule.Field))
			return
		}
		if n < lo || (hasHi && n > hi) {
			if hasHi {
				res.fail(rule, fmt.Sprintf("%s must be between %s and %s", rule.Field, fmtNum(lo), fmtNum(hi)))
			} else {
				res.fail(rule, fmt.Sprintf("%s must be at least %s", rule.Field, fmtNum(lo)))
			}
		}

	case model.RuleCustom:
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: custom rule %q not evaluated", rule.Field, rule.Value))

	default:
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: unknown rule type %q ignored", rule.Field, rule.Type))
	}
}

// parseRange parses "min" or "min,max".
func parseRange(s string) (lo, hi float64, hasHi bool, err error) {
	minPart, maxPart, found := strings.Cut(s, ",")
	lo, err = strconv.ParseFloat(strings.TrimSpace(minPart), 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse range minimum: %w", err)
	}
	if !found {
		return lo, 0, false, nil
	}
	hi, err = strconv.ParseFloat(strings.TrimSpace(maxPart), 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse range maximum: %w", err)
	}
	if hi < lo {
		return 0, 0, false, fmt.Errorf("range maximum %v below minimum %v", hi, lo)
	}
	return lo, hi, true, nil
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
