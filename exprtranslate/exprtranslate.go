// SPDX-License-Identifier: AGPL-3.0-or-later

// Package exprtranslate implements the grbl.ExpressionEvaluator
// collaborator on top of github.com/expr-lang/expr, evaluating the
// bracketed arithmetic expressions spec.md §4.6 describes.
package exprtranslate

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// Evaluator evaluates arithmetic expressions against a float64 variable
// context.
type Evaluator struct{}

// New returns an Evaluator. It carries no state; expr.Eval compiles and
// runs each expression on the spot, which is fine at the rate these
// brackets actually occur (a handful per program line).
func New() Evaluator {
	return Evaluator{}
}

// Evaluate implements grbl.ExpressionEvaluator.
func (Evaluator) Evaluate(exprStr string, context map[string]float64) (string, error) {
	env := make(map[string]any, len(context))
	for k, v := range context {
		env[k] = v
	}

	out, err := expr.Eval(exprStr, env)
	if err != nil {
		return "", fmt.Errorf("exprtranslate: %w", err)
	}

	switch v := out.(type) {
	case float64:
		return trimFloat(v), nil
	case int:
		return fmt.Sprintf("%d", v), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// trimFloat renders a float the way G-code expects: no trailing zeros,
// no forced decimal point for whole numbers (e.g. "2" not "2.000000").
func trimFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	return s
}
