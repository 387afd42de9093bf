// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"log/slog"
	"regexp"
)

var reBracket = regexp.MustCompile(`\[[^\]]+\]`)

// TranslateContext translates every `[...]` bracket expression in line
// against a variable context built from the current machine position, the
// fixed bound defaults, and the caller-supplied overrides (spec.md §4.6).
// An expression the evaluator rejects is logged and left unsubstituted.
func TranslateContext(eval ExpressionEvaluator, line string, pos Position, callerCtx map[string]float64) string {
	if eval == nil {
		return line
	}

	ctx := make(map[string]float64, len(callerCtx)+12)
	ctx["xmin"] = 0
	ctx["xmax"] = 0
	ctx["ymin"] = 0
	ctx["ymax"] = 0
	ctx["zmin"] = 0
	ctx["zmax"] = 0
	for k, v := range callerCtx {
		ctx[k] = v
	}
	// Forced-override machine variables always win over caller context.
	ctx["posx"] = pos.X
	ctx["posy"] = pos.Y
	ctx["posz"] = pos.Z
	ctx["posa"] = pos.A
	ctx["posb"] = pos.B
	ctx["posc"] = pos.C

	return reBracket.ReplaceAllStringFunc(line, func(m string) string {
		expr := m[1 : len(m)-1]
		result, err := eval.Evaluate(expr, ctx)
		if err != nil {
			slog.Warn("expression translation failed", "expr", expr, "err", err)
			return m
		}
		return result
	})
}
