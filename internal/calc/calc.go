// Package calc evaluates arithmetic commands of the form
//
//	expression[,name=value]*
//
// such as "1+x*3,x=5". Parsing and evaluation are delegated to
// github.com/expr-lang/expr, where ^ is exponentiation. All arithmetic runs
// in float64: integer literals are rewritten to floats before type checking
// and % is computed with math.Mod. Every failure
// collapses into [ErrCalculation]; callers that talk to users should use
// [Reply], which never fails.
package calc

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

// ///////////////////////////////////////////////
// Replies
// ///////////////////////////////////////////////

const (
	resultFormat = "Your operation results in %s 🤖"
	// FailureReply is the fixed reply for any parse or evaluation failure.
	FailureReply = "Error calculating your operation 😭"
)

// ErrCalculation is the single error kind returned by [Evaluate].
var ErrCalculation = errors.New("could not calculate")

// ///////////////////////////////////////////////
// Evaluation
// ///////////////////////////////////////////////

// Reply evaluates input and renders the chat reply.
func Reply(input string) string {
	v, err := Evaluate(input)
	if err != nil {
		return FailureReply
	}
	return fmt.Sprintf(resultFormat, Format(v))
}

// Evaluate parses and evaluates input. The returned error always wraps
// [ErrCalculation].
func Evaluate(input string) (result float64, err error) {
	// expr recovers its own runtime panics, this guards the conversions below.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCalculation, r)
		}
	}()

	expression, env, err := split(input)
	if err != nil {
		return 0, err
	}

	program, err := expr.Compile(expression, options(env)...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCalculation, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCalculation, err)
	}

	v, ok := toFloat(out)
	if !ok {
		return 0, fmt.Errorf("%w: result %v is not a number", ErrCalculation, out)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: result is not finite", ErrCalculation)
	}
	return v, nil
}

// floatLiterals rewrites integer literals into float literals so integer
// arithmetic cannot wrap around.
type floatLiterals struct{}

func (floatLiterals) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.IntegerNode); ok {
		ast.Patch(node, &ast.FloatNode{Value: float64(n.Value)})
	}
}

// mod is the float64 remainder behind the % operator.
func mod(params ...any) (any, error) {
	a, aok := params[0].(float64)
	b, bok := params[1].(float64)
	if !aok || !bok {
		return nil, fmt.Errorf("%% needs numbers, got %T and %T", params[0], params[1])
	}
	return math.Mod(a, b), nil
}

func options(env map[string]any) []expr.Option {
	return []expr.Option{
		expr.Env(env),
		expr.Patch(floatLiterals{}),
		expr.Function("mod", mod, new(func(float64, float64) float64)),
		expr.Operator("%", "mod"),
	}
}

// split separates the expression from its variable bindings.
func split(input string) (string, map[string]any, error) {
	fields := strings.Split(input, ",")
	expression := strings.TrimSpace(fields[0])
	if expression == "" {
		return "", nil, fmt.Errorf("%w: empty expression", ErrCalculation)
	}

	env := make(map[string]any, len(fields)-1)
	for _, binding := range fields[1:] {
		name, raw, ok := strings.Cut(binding, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return "", nil, fmt.Errorf("%w: malformed binding %q", ErrCalculation, binding)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return "", nil, fmt.Errorf("%w: binding %s: %v", ErrCalculation, name, err)
		}
		env[name] = v
	}
	return expression, env, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ///////////////////////////////////////////////
// Formatting
// ///////////////////////////////////////////////

// Format renders v the way a person would write it: integral values
// without a fraction, very large or very small magnitudes in exponent form.
func Format(v float64) string {
	abs := math.Abs(v)
	switch {
	case v == 0:
		return "0"
	case abs >= 1e21 || abs < 1e-6:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case v == math.Trunc(v):
		return strconv.FormatFloat(v, 'f', 0, 64)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}
