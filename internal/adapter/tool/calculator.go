package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"text/scanner"

	"go.opentelemetry.io/otel/trace"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
)

const maxExpressionLen = 256

// CalculatorTool evaluates arithmetic expressions: + - * / // % **,
// parentheses, the constants pi, e and tau, and common math functions.
// Nothing but arithmetic can be expressed, so untrusted input is safe.
type CalculatorTool struct {
	logger *slog.Logger
}

// NewCalculatorTool creates the calculator.
func NewCalculatorTool(logger *slog.Logger) *CalculatorTool {
	return &CalculatorTool{logger: logger}
}

func (t *CalculatorTool) Name() string { return "calculator" }
func (t *CalculatorTool) Description() string {
	return `Evaluate a mathematical expression. Supports + - * / // % ** and parentheses, constants pi, e, tau, and functions sqrt, abs, exp, log, log10, log2, sin, cos, tan, asin, acos, atan, floor, ceil, round, pow, min, max. Examples: "2 + 2", "sqrt(16)", "sin(pi/2)".`
}

func (t *CalculatorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": {"type": "string", "description": "Expression to evaluate"}
			},
			"required": ["expression"],
			"additionalProperties": false
		}`),
	}
}

type calculatorParams struct {
	Expression string `json:"expression"`
}

func (t *CalculatorTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.calculator", t.logger, params,
		func(_ context.Context, span trace.Span, p calculatorParams) (any, error) {
			if err := ValidateAll(
				RequireField("expression", p.Expression),
				ValidateMaxLen("expression", p.Expression, maxExpressionLen),
			); err != nil {
				return ErrResult("%v", err)
			}
			span.SetAttributes(tracer.IntAttr("calculator.expression_len", len(p.Expression)))

			v, err := Evaluate(p.Expression)
			if err != nil {
				return ErrResult("Invalid expression '%s': %v", p.Expression, err)
			}
			return FormatNumber(v), nil
		})
}

// FormatNumber renders v without a trailing ".0" for whole numbers.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var errDivisionByZero = errors.New("division by zero")

var calcConstants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

var calcFuncs1 = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"abs":   math.Abs,
	"exp":   math.Exp,
	"log10": math.Log10,
	"log2":  math.Log2,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.RoundToEven,
}

// Evaluate parses and computes expr with Python operator precedence:
// ** binds tightest and is right-associative, and -2**2 is -4.
func Evaluate(expr string) (float64, error) {
	p := &calcParser{}
	p.s.Init(strings.NewReader(expr))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats
	p.s.Error = func(_ *scanner.Scanner, msg string) { p.scanErr = errors.New(msg) }
	p.next()

	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.tok != scanner.EOF {
		return 0, fmt.Errorf("unexpected %q", p.text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("result is not a finite number")
	}
	return v, nil
}

type calcParser struct {
	s       scanner.Scanner
	tok     rune
	text    string
	scanErr error
}

func (p *calcParser) next() {
	p.tok = p.s.Scan()
	p.text = p.s.TokenText()
}

// peekDouble reports whether the current token is ch immediately followed
// by another ch, as in ** or //. The caller consumes the second one.
func (p *calcParser) peekDouble(ch rune) bool {
	return p.tok == ch && p.s.Peek() == ch
}

func (p *calcParser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for p.tok == '+' || p.tok == '-' {
		op := p.tok
		p.next()
		r, err := p.term()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			v += r
		} else {
			v -= r
		}
	}
	return v, nil
}

func (p *calcParser) term() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.peekDouble('*'):
			return v, nil // ** belongs to power(), only reachable after a unary
		case p.peekDouble('/'):
			p.s.Next()
			p.next()
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, errDivisionByZero
			}
			v = math.Floor(v / r)
		case p.tok == '*' || p.tok == '/' || p.tok == '%':
			op := p.tok
			p.next()
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			switch op {
			case '*':
				v *= r
			case '/':
				if r == 0 {
					return 0, errDivisionByZero
				}
				v /= r
			case '%':
				if r == 0 {
					return 0, errDivisionByZero
				}
				// Python modulo takes the sign of the divisor.
				v = v - r*math.Floor(v/r)
			}
		default:
			return v, nil
		}
	}
}

func (p *calcParser) unary() (float64, error) {
	switch p.tok {
	case '-':
		p.next()
		v, err := p.unary()
		return -v, err
	case '+':
		p.next()
		return p.unary()
	}
	return p.power()
}

func (p *calcParser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if !p.peekDouble('*') {
		return base, nil
	}
	p.s.Next()
	p.next()
	exp, err := p.unary()
	if err != nil {
		return 0, err
	}
	if base == 0 && exp < 0 {
		return 0, errDivisionByZero
	}
	return math.Pow(base, exp), nil
}

func (p *calcParser) primary() (float64, error) {
	if p.scanErr != nil {
		return 0, p.scanErr
	}
	switch p.tok {
	case scanner.Int, scanner.Float:
		v, err := strconv.ParseFloat(p.text, 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", p.text)
		}
		p.next()
		return v, nil
	case '(':
		p.next()
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.tok != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.next()
		return v, nil
	case scanner.Ident:
		name := p.text
		p.next()
		if p.tok != '(' {
			if c, ok := calcConstants[name]; ok {
				return c, nil
			}
			return 0, fmt.Errorf("name '%s' is not defined", name)
		}
		args, err := p.args()
		if err != nil {
			return 0, err
		}
		return callFunc(name, args)
	case scanner.EOF:
		return 0, errors.New("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q", p.text)
	}
}

func (p *calcParser) args() ([]float64, error) {
	p.next() // (
	var args []float64
	if p.tok == ')' {
		p.next()
		return args, nil
	}
	for {
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		switch p.tok {
		case ',':
			p.next()
		case ')':
			p.next()
			return args, nil
		default:
			return nil, errors.New("missing closing parenthesis")
		}
	}
}

func callFunc(name string, args []float64) (float64, error) {
	if f, ok := calcFuncs1[name]; ok {
		if len(args) != 1 {
			return 0, fmt.Errorf("%s() takes exactly one argument (%d given)", name, len(args))
		}
		return f(args[0]), nil
	}
	switch name {
	case "log":
		switch len(args) {
		case 1:
			return math.Log(args[0]), nil
		case 2:
			return math.Log(args[0]) / math.Log(args[1]), nil
		}
		return 0, fmt.Errorf("log() takes one or two arguments (%d given)", len(args))
	case "pow":
		if len(args) != 2 {
			return 0, fmt.Errorf("pow() takes exactly two arguments (%d given)", len(args))
		}
		return math.Pow(args[0], args[1]), nil
	case "min", "max":
		if len(args) == 0 {
			return 0, fmt.Errorf("%s() expects at least one argument", name)
		}
		v := args[0]
		for _, a := range args[1:] {
			if name == "min" {
				v = math.Min(v, a)
			} else {
				v = math.Max(v, a)
			}
		}
		return v, nil
	}
	return 0, fmt.Errorf("unknown function '%s'", name)
}
