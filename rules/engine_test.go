package rules

import (
	"testing"
)

func newTestEngine(t *testing.T) *RulesEngine {
	t.Helper()
	re, err := NewRulesEngine()
	if err != nil {
		t.Fatalf("NewRulesEngine: %v", err)
	}
	return re
}

func TestEvaluateLiterals(t *testing.T) {
	re := newTestEngine(t)

	if ok, err := re.Evaluate("", nil); err != nil || ok {
		t.Errorf("empty expression = (%v, %v), want deny", ok, err)
	}
	if ok, err := re.Evaluate("true", nil); err != nil || !ok {
		t.Errorf("\"true\" = (%v, %v), want allow", ok, err)
	}
	if ok, err := re.Evaluate("false", nil); err != nil || ok {
		t.Errorf("\"false\" = (%v, %v), want deny", ok, err)
	}
}

func TestEvaluateExpression(t *testing.T) {
	re := newTestEngine(t)

	ctx := map[string]interface{}{
		"request": map[string]interface{}{
			"auth": map[string]interface{}{"uid": "alice"},
		},
		"resource": map[string]interface{}{"owner": "alice"},
	}

	expr := `request.auth.uid == resource.owner`
	ok, err := re.Evaluate(expr, ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Error("owner check should pass for matching uid")
	}

	ctx["resource"] = map[string]interface{}{"owner": "bob"}
	ok, err = re.Evaluate(expr, ctx)
	if err != nil {
		t.Fatalf("Evaluate (cached program): %v", err)
	}
	if ok {
		t.Error("owner check should fail for mismatched uid")
	}
}

func TestEvaluateErrors(t *testing.T) {
	re := newTestEngine(t)

	if _, err := re.Evaluate("this is not CEL ((", nil); err == nil {
		t.Error("malformed expression should fail to compile")
	}
	if _, err := re.Evaluate(`"not a boolean"`, map[string]interface{}{}); err == nil {
		t.Error("non-boolean result should be rejected")
	}
}
