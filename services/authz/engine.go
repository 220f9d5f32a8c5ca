package authz

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/infergate/infergate/models"
)

// Input is the evaluation context for one authorization decision. Tool is
// empty for plain LLM requests and carries the namespaced tool name for MCP
// tools/call and tools/list filtering.
type Input struct {
	Claims map[string]any
	Scopes []string
	Route  string
	Method string
	Path   string
	Model  string
	Tool   string
}

// Decision is the outcome of evaluating a rule set against one input.
type Decision struct {
	Allowed bool

	// Rule is the expression that decided the outcome: the matching deny
	// rule, or the first matching allow rule.
	Rule string
}

// Denied reports whether a deny rule matched, as opposed to no rule matching
// at all. Callers that evaluate the same rule set under several inputs use
// this to let any deny override any allow.
func (d Decision) Denied() bool {
	return !d.Allowed && d.Rule != ""
}

type compiledRule struct {
	expr    string
	program cel.Program
}

// Engine evaluates one compiled allow/deny rule set. A request is allowed
// only if at least one allow expression matches and no deny expression
// matches; deny always overrides allow. An engine with no allow expressions
// denies everything it applies to.
type Engine struct {
	allow []compiledRule
	deny  []compiledRule
}

// NewEnv declares the CEL environment shared by all authorization rules.
func NewEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("scopes", cel.ListType(cel.StringType)),
		cel.Variable("route", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("model", cel.StringType),
		cel.Variable("tool", cel.StringType),
	)
}

// Compile compiles an authorization rule set. Compilation happens once per
// configuration load; the request path only runs compiled programs.
func Compile(env *cel.Env, cfg *models.AuthorizationConfig) (*Engine, error) {
	e := &Engine{}

	var err error
	if e.allow, err = compileRules(env, cfg.Allow); err != nil {
		return nil, fmt.Errorf("allow: %w", err)
	}
	if e.deny, err = compileRules(env, cfg.Deny); err != nil {
		return nil, fmt.Errorf("deny: %w", err)
	}

	return e, nil
}

func compileRules(env *cel.Env, exprs []string) ([]compiledRule, error) {
	rules := make([]compiledRule, 0, len(exprs))
	for _, expr := range exprs {
		ast, iss := env.Compile(expr)
		if iss.Err() != nil {
			return nil, fmt.Errorf("compile %q: %w", expr, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("compile %q: expression must evaluate to bool, got %s", expr, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", expr, err)
		}
		rules = append(rules, compiledRule{expr: expr, program: program})
	}
	return rules, nil
}

// Authorize evaluates the rule set. Expressions that fail to evaluate are
// treated as non-matching, so an evaluation error can never grant access.
func (e *Engine) Authorize(in Input) Decision {
	activation := in.activation()

	for _, rule := range e.deny {
		if evalBool(rule.program, activation) {
			return Decision{Allowed: false, Rule: rule.expr}
		}
	}

	for _, rule := range e.allow {
		if evalBool(rule.program, activation) {
			return Decision{Allowed: true, Rule: rule.expr}
		}
	}

	return Decision{Allowed: false}
}

func (in Input) activation() map[string]any {
	claims := in.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	scopes := in.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return map[string]any{
		"claims": claims,
		"scopes": scopes,
		"route":  in.Route,
		"method": in.Method,
		"path":   in.Path,
		"model":  in.Model,
		"tool":   in.Tool,
	}
}

func evalBool(program cel.Program, activation map[string]any) bool {
	out, _, err := program.Eval(activation)
	if err != nil {
		return false
	}
	result, ok := out.Value().(bool)
	return ok && result
}
