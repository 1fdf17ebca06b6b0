// Package rules evaluates per-collection access policies written as CEL
// expressions. A policy sees the caller's auth state under `request`
// and the document under `resource`; it must come back boolean.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// AuthContext is the caller identity a policy evaluates against. The
// façade receives it already authenticated; IsAdmin short-circuits
// evaluation entirely.
type AuthContext struct {
	UID     string                 `json:"uid"`
	Claims  map[string]interface{} `json:"claims"`
	IsAdmin bool                   `json:"-"`
}

// RuleContext names the variables a policy may reference.
type RuleContext struct {
	Auth     *AuthContext           `json:"auth"`
	Resource map[string]interface{} `json:"resource"`
	Request  map[string]interface{} `json:"request"`
}

// RulesEngine compiles policy expressions once and caches the compiled
// programs by source text.
type RulesEngine struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

// NewRulesEngine builds the CEL environment with the `request` and
// `resource` variables declared as open maps.
func NewRulesEngine() (*RulesEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}
	return &RulesEngine{env: env}, nil
}

// Evaluate runs expression against ctx. The empty expression denies;
// the literals "true"/"false" skip compilation.
func (re *RulesEngine) Evaluate(expression string, ctx map[string]interface{}) (bool, error) {
	switch expression {
	case "":
		return false, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	var prg cel.Program
	if cached, ok := re.programs.Load(expression); ok {
		prg = cached.(cel.Program)
	} else {
		ast, issues := re.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return false, fmt.Errorf("compile error: %s", issues.Err())
		}
		p, err := re.env.Program(ast)
		if err != nil {
			return false, fmt.Errorf("program construction error: %s", err)
		}
		prg = p
		re.programs.Store(expression, prg)
	}

	out, _, err := prg.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval error: %s", err)
	}
	verdict, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule must return boolean")
	}
	return verdict, nil
}
