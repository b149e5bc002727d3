package flow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/taskflow/taskflow/internal/ir"
)

// Env is the read-only world an expression evaluates against: the
// current snapshot, the intent input, and the frozen host context.
type Env struct {
	Snapshot ir.Snapshot
	Input    ir.Object
	Ctx      ir.HostContext
}

// EvalTemplate evaluates a step value. Strings of the form "${expr}"
// are expressions; everything else is a literal. Maps and lists are
// walked recursively so effect params can mix literals and expressions.
func EvalTemplate(v any, env Env) (ir.Value, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			return EvalExpr(val[2:len(val)-1], env)
		}
		return ir.String(val), nil
	case map[string]any:
		obj := make(ir.Object, len(val))
		for k, e := range val {
			converted, err := EvalTemplate(e, env)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			obj[k] = converted
		}
		return obj, nil
	case []any:
		arr := make(ir.Array, len(val))
		for i, e := range val {
			converted, err := EvalTemplate(e, env)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	default:
		return ir.FromGo(v)
	}
}

// EvalGuard evaluates a guard expression to a boolean. An empty guard
// is true. Guards must produce a bool - anything else is a flow bug.
func EvalGuard(expr string, env Env) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	v, err := EvalExpr(expr, env)
	if err != nil {
		return false, err
	}
	b, ok := v.(ir.Bool)
	if !ok {
		return false, fmt.Errorf("guard %q did not evaluate to a bool (got %T)", expr, v)
	}
	return bool(b), nil
}

// EvalExpr evaluates a bare expression string.
//
// The language is intentionally tiny: references (input.x, data.x.y,
// computed.x, system.last_error.message, now, seed), int/string/bool/
// null literals, and a fixed set of functions (add, sub, eq, ne, not,
// and, or, isNull, notNull, concat). No infix operators, no floats.
func EvalExpr(expr string, env Env) (ir.Value, error) {
	p := &parser{input: expr}
	v, err := p.parseExpr(env)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", expr, err)
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("expression %q: trailing input at offset %d", expr, p.pos)
	}
	return v, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *parser) parseExpr(env Env) (ir.Value, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	c := p.input[p.pos]
	switch {
	case c == '\'':
		return p.parseString()
	case c == '-' || unicode.IsDigit(rune(c)):
		return p.parseInt()
	case unicode.IsLetter(rune(c)) || c == '_':
		return p.parseIdentOrCall(env)
	default:
		return nil, fmt.Errorf("unexpected character %q at offset %d", c, p.pos)
	}
}

func (p *parser) parseString() (ir.Value, error) {
	p.pos++ // opening quote
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != '\'' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unterminated string literal")
	}
	s := p.input[start:p.pos]
	p.pos++ // closing quote
	return ir.String(s), nil
}

func (p *parser) parseInt() (ir.Value, error) {
	start := p.pos
	if p.input[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.input) && unicode.IsDigit(rune(p.input[p.pos])) {
		p.pos++
	}
	n, err := strconv.ParseInt(p.input[start:p.pos], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad integer literal %q", p.input[start:p.pos])
	}
	return ir.Int(n), nil
}

func (p *parser) parseIdentOrCall(env Env) (ir.Value, error) {
	name := p.parsePath()

	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '(' {
		return p.parseCall(name, env)
	}

	switch name {
	case "true":
		return ir.Bool(true), nil
	case "false":
		return ir.Bool(false), nil
	case "null":
		return ir.Null{}, nil
	}
	return resolveRef(name, env)
}

func (p *parser) parsePath() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

func (p *parser) parseCall(name string, env Env) (ir.Value, error) {
	p.pos++ // '('
	var args []ir.Value
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == ')' {
		p.pos++
	} else {
		for {
			arg, err := p.parseExpr(env)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			p.skipSpace()
			if p.pos < len(p.input) && p.input[p.pos] == ',' {
				p.pos++
				continue
			}
			if p.pos < len(p.input) && p.input[p.pos] == ')' {
				p.pos++
				break
			}
			return nil, fmt.Errorf("expected ',' or ')' at offset %d", p.pos)
		}
	}
	return applyFunc(name, args)
}

func resolveRef(path string, env Env) (ir.Value, error) {
	switch path {
	case "now":
		return ir.Int(env.Ctx.Now.UnixMilli()), nil
	case "seed":
		return ir.Int(env.Ctx.RandomSeed), nil
	}

	root, _, found := strings.Cut(path, ".")
	switch root {
	case "input":
		segments := strings.Split(path, ".")[1:]
		v, ok := lookupObject(env.Input, segments)
		if !ok {
			return ir.Null{}, nil
		}
		return v, nil
	case "data", "computed", "system":
		v, ok := env.Snapshot.Lookup(path)
		if !ok {
			return ir.Null{}, nil
		}
		return v, nil
	}
	_ = found
	return nil, fmt.Errorf("unknown reference %q (roots: input, data, computed, system, now, seed)", path)
}

func lookupObject(obj ir.Object, segments []string) (ir.Value, bool) {
	var cur ir.Value = obj
	for _, seg := range segments {
		o, ok := cur.(ir.Object)
		if !ok {
			return nil, false
		}
		cur, ok = o[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func applyFunc(name string, args []ir.Value) (ir.Value, error) {
	switch name {
	case "add", "sub":
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
		}
		a, aok := args[0].(ir.Int)
		b, bok := args[1].(ir.Int)
		if !aok || !bok {
			return nil, fmt.Errorf("%s expects integer arguments", name)
		}
		if name == "add" {
			return a + b, nil
		}
		return a - b, nil

	case "eq", "ne":
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
		}
		equal, err := valuesEqual(args[0], args[1])
		if err != nil {
			return nil, err
		}
		if name == "ne" {
			return ir.Bool(!equal), nil
		}
		return ir.Bool(equal), nil

	case "not":
		if len(args) != 1 {
			return nil, fmt.Errorf("not expects 1 argument, got %d", len(args))
		}
		b, ok := args[0].(ir.Bool)
		if !ok {
			return nil, fmt.Errorf("not expects a bool argument")
		}
		return ir.Bool(!b), nil

	case "and", "or":
		if len(args) < 2 {
			return nil, fmt.Errorf("%s expects at least 2 arguments", name)
		}
		result := name == "and"
		for i, a := range args {
			b, ok := a.(ir.Bool)
			if !ok {
				return nil, fmt.Errorf("%s argument %d is not a bool", name, i)
			}
			if name == "and" {
				result = result && bool(b)
			} else {
				result = result || bool(b)
			}
		}
		return ir.Bool(result), nil

	case "isNull", "notNull":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		_, isNull := args[0].(ir.Null)
		isNull = isNull || args[0] == nil
		if name == "notNull" {
			return ir.Bool(!isNull), nil
		}
		return ir.Bool(isNull), nil

	case "concat":
		var sb strings.Builder
		for i, a := range args {
			s, ok := a.(ir.String)
			if !ok {
				return nil, fmt.Errorf("concat argument %d is not a string", i)
			}
			sb.WriteString(string(s))
		}
		return ir.String(sb.String()), nil

	default:
		return nil, fmt.Errorf("unknown function %q", name)
	}
}

// valuesEqual compares two values by canonical serialization, which
// gives structural equality for arrays and objects.
func valuesEqual(a, b ir.Value) (bool, error) {
	ca, err := ir.MarshalCanonical(a)
	if err != nil {
		return false, err
	}
	cb, err := ir.MarshalCanonical(b)
	if err != nil {
		return false, err
	}
	return string(ca) == string(cb), nil
}
