// Package rules evaluates transition conditions and action input
// validation rules against a workflow context. Evaluation is side-effect
// free and never returns an error: anything that cannot be evaluated is
// treated as false and logged.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/model"
)

// Evaluator evaluates conditions and validation rules.
type Evaluator struct {
	logger   *zap.Logger
	patterns sync.Map // string -> *regexp.Regexp
}

// NewEvaluator creates an Evaluator. A nil logger discards output.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// EvaluateCondition resolves cond.Field in ctx and applies the operator.
func (e *Evaluator) EvaluateCondition(cond model.Condition, ctx model.Context) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("condition evaluation panicked",
				zap.String("field", cond.Field),
				zap.String("operator", string(cond.Operator)),
				zap.Any("panic", r),
			)
			result = false
		}
	}()

	op, ok := cond.Operator.Normalize()
	if !ok {
		e.logger.Warn("unknown condition operator",
			zap.String("field", cond.Field),
			zap.String("operator", string(cond.Operator)),
		)
		return false
	}
	if strings.TrimSpace(cond.Field) == "" {
		e.logger.Warn("condition has no field", zap.String("operator", string(op)))
		return false
	}

	actual := ctx.Lookup(cond.Field)
	return apply(op, actual, cond.Value)
}

func apply(op model.Operator, actual, expected model.Value) bool {
	switch op {
	case model.OpEquals:
		return valuesEqual(actual, expected)
	case model.OpNotEquals:
		return !valuesEqual(actual, expected)
	case model.OpGreaterThan:
		c, ok := compareOrdered(actual, expected)
		return ok && c > 0
	case model.OpLessThan:
		c, ok := compareOrdered(actual, expected)
		return ok && c < 0
	case model.OpGreaterThanOrEqual:
		c, ok := compareOrdered(actual, expected)
		return ok && c >= 0
	case model.OpLessThanOrEqual:
		c, ok := compareOrdered(actual, expected)
		return ok && c <= 0
	case model.OpContains:
		return contains(actual, expected)
	case model.OpNotContains:
		return !contains(actual, expected)
	case model.OpStartsWith:
		return !actual.IsNull() &&
			strings.HasPrefix(strings.ToLower(actual.String()), strings.ToLower(expected.String()))
	case model.OpEndsWith:
		return !actual.IsNull() &&
			strings.HasSuffix(strings.ToLower(actual.String()), strings.ToLower(expected.String()))
	case model.OpIn:
		return in(actual, expected)
	case model.OpNotIn:
		return !in(actual, expected)
	case model.OpIsNull:
		return actual.IsNull()
	case model.OpIsNotNull:
		return !actual.IsNull()
	}
	return false
}

func in(actual, expected model.Value) bool {
	if actual.IsNull() {
		return false
	}
	for _, c := range candidates(expected) {
		if valuesEqual(actual, c) {
			return true
		}
	}
	return false
}

// EvaluateConditions combines conditions left to right. A condition tagged
// Or opens a new chain; any other condition is ANDed into the current
// chain. The list holds when any chain holds. An empty list always holds.
// The logic tag of the first condition is ignored.
//
// All conditions are evaluated; there is no short-circuit.
func (e *Evaluator) EvaluateConditions(conds []model.Condition, ctx model.Context) bool {
	if len(conds) == 0 {
		return true
	}
	chains := make([]bool, 0, len(conds))
	for i, cond := range conds {
		r := e.EvaluateCondition(cond, ctx)
		if i == 0 || cond.Logic.IsOr() {
			chains = append(chains, r)
			continue
		}
		chains[len(chains)-1] = chains[len(chains)-1] && r
	}
	for _, ok := range chains {
		if ok {
			return true
		}
	}
	return false
}

// conditionTrace is one line of the diagnostic written to the audit trail.
type conditionTrace struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Expected model.Value `json:"expected"`
	Actual   model.Value `json:"actual"`
	Logic    string      `json:"logic,omitempty"`
	Result   bool        `json:"result"`
}

// Explain renders the per-condition outcome of conds as JSON. It returns ""
// for an empty list.
func (e *Evaluator) Explain(conds []model.Condition, ctx model.Context) string {
	if len(conds) == 0 {
		return ""
	}
	traces := make([]conditionTrace, len(conds))
	for i, cond := range conds {
		traces[i] = conditionTrace{
			Field:    cond.Field,
			Operator: string(cond.Operator),
			Expected: cond.Value,
			Actual:   ctx.Lookup(cond.Field),
			Logic:    string(cond.Logic),
			Result:   e.EvaluateCondition(cond, ctx),
		}
	}
	data, err := json.Marshal(traces)
	if err != nil {
		return fmt.Sprintf("unrenderable conditions: %v", err)
	}
	return string(data)
}

// compile returns a cached compiled pattern.
func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.patterns.Store(pattern, re)
	return re, nil
}
