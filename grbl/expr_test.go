// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
)

// fakeEvaluator evaluates the tiny subset of expressions exercised by
// these tests: a bare variable, or "<var> - <number>".
type fakeEvaluator struct {
	failOn map[string]bool
}

func (f *fakeEvaluator) Evaluate(expr string, ctx map[string]float64) (string, error) {
	if f.failOn != nil && f.failOn[expr] {
		return "", fmt.Errorf("fake evaluator rejected %q", expr)
	}
	fields := strings.Fields(expr)
	switch len(fields) {
	case 1:
		v, ok := ctx[fields[0]]
		if !ok {
			return "", fmt.Errorf("unknown variable %q", fields[0])
		}
		return formatNum(v), nil
	case 3:
		v, ok := ctx[fields[0]]
		if !ok {
			return "", fmt.Errorf("unknown variable %q", fields[0])
		}
		n, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return "", err
		}
		if fields[1] == "-" {
			return formatNum(v - n), nil
		}
		return formatNum(v + n), nil
	}
	return "", fmt.Errorf("unsupported expression %q", expr)
}

func formatNum(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// TestTranslateContextScenario reproduces spec.md §8 scenario 4 verbatim.
func TestTranslateContextScenario(t *testing.T) {
	eval := &fakeEvaluator{}
	pos := Position{X: 10, Y: 20}
	got := TranslateContext(eval, "G0 X[posx - 8] Y[ymax]", pos, map[string]float64{"xmax": 50})
	want := "G0 X2 Y0"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTranslateContextIdentityWithoutBrackets(t *testing.T) {
	eval := &fakeEvaluator{}
	line := "G0 X10 Y20"
	got := TranslateContext(eval, line, Position{}, nil)
	if got != line {
		t.Fatalf("expected identity translation, got %q", got)
	}
}

func TestTranslateContextForcedOverrideWinsOverCaller(t *testing.T) {
	eval := &fakeEvaluator{}
	pos := Position{X: 5}
	got := TranslateContext(eval, "[posx]", pos, map[string]float64{"posx": 999})
	if got != "5" {
		t.Fatalf("expected machine position to override caller context, got %q", got)
	}
}

func TestTranslateContextLeavesFailingExpressionUnsubstituted(t *testing.T) {
	eval := &fakeEvaluator{failOn: map[string]bool{"bogus syntax !!": true}}
	got := TranslateContext(eval, "G0 X[bogus syntax !!]", Position{}, nil)
	if got != "G0 X[bogus syntax !!]" {
		t.Fatalf("expected failing bracket left unsubstituted, got %q", got)
	}
}
