package condition

import (
	"fmt"
	"strconv"
)

// Translate rewrites an installer condition as a Starlark expression over the
// builtins installed by Evaluator. Operator precedence, from loosest to
// tightest, is IMP, EQV, XOR, OR, AND, NOT, then comparison.
func Translate(condition string) (string, error) {
	toks, err := lex(condition)
	if err != nil {
		return "", err
	}
	p := &parser{src: condition, toks: toks}
	expr, err := p.parseImp()
	if err != nil {
		return "", err
	}
	if p.peek().kind != tokEOF {
		return "", p.errorf("unexpected %q", p.peek().text)
	}
	return expr, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(msg string, args ...interface{}) error {
	return &SyntaxError{Condition: p.src, Pos: p.peek().pos, Message: fmt.Sprintf(msg, args...)}
}

// binary parses a left-associative chain of op-separated operands.
func (p *parser) binary(op tokenKind, operand func() (string, error), combine func(l, r string) string) (string, error) {
	left, err := operand()
	if err != nil {
		return "", err
	}
	for p.peek().kind == op {
		p.next()
		right, err := operand()
		if err != nil {
			return "", err
		}
		left = combine(left, right)
	}
	return left, nil
}

func (p *parser) parseImp() (string, error) {
	return p.binary(tokImp, p.parseEqv, func(l, r string) string {
		return "(not " + l + " or " + r + ")"
	})
}

func (p *parser) parseEqv() (string, error) {
	return p.binary(tokEqv, p.parseXor, func(l, r string) string {
		return "(" + l + " == " + r + ")"
	})
}

func (p *parser) parseXor() (string, error) {
	return p.binary(tokXor, p.parseOr, func(l, r string) string {
		return "(" + l + " != " + r + ")"
	})
}

func (p *parser) parseOr() (string, error) {
	return p.binary(tokOr, p.parseAnd, func(l, r string) string {
		return "(" + l + " or " + r + ")"
	})
}

func (p *parser) parseAnd() (string, error) {
	return p.binary(tokAnd, p.parseNot, func(l, r string) string {
		return "(" + l + " and " + r + ")"
	})
}

func (p *parser) parseNot() (string, error) {
	if p.peek().kind == tokNot {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return "", err
		}
		return "(not " + operand + ")", nil
	}
	return p.parseCompare()
}

// parseCompare yields a boolean: either a comparison or the truth of a lone value.
func (p *parser) parseCompare() (string, error) {
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseImp()
		if err != nil {
			return "", err
		}
		if p.peek().kind != tokRParen {
			return "", p.errorf("expected )")
		}
		p.next()
		return inner, nil
	}

	left, err := p.parseValue()
	if err != nil {
		return "", err
	}
	if p.peek().kind != tokCompare {
		return "_truth(" + left + ")", nil
	}
	op := p.next().text
	right, err := p.parseValue()
	if err != nil {
		return "", err
	}
	return "_cmp(" + strconv.Quote(op) + ", " + left + ", " + right + ")", nil
}

func (p *parser) parseValue() (string, error) {
	t := p.peek()
	switch t.kind {
	case tokInt:
		p.next()
		if _, err := strconv.Atoi(t.text); err != nil {
			return "", p.errorf("integer out of range")
		}
		return t.text, nil
	case tokString:
		p.next()
		return strconv.Quote(t.text), nil
	case tokIdent:
		p.next()
		return "_prop(" + strconv.Quote(t.text) + ")", nil
	case tokEnv:
		p.next()
		return "_env(" + strconv.Quote(t.text) + ")", nil
	case tokCompState:
		p.next()
		return "_component_action(" + strconv.Quote(t.text) + ")", nil
	case tokCompInst:
		p.next()
		return "_component_installed(" + strconv.Quote(t.text) + ")", nil
	case tokFeatState:
		p.next()
		return "_feature_action(" + strconv.Quote(t.text) + ")", nil
	case tokFeatInst:
		p.next()
		return "_feature_installed(" + strconv.Quote(t.text) + ")", nil
	case tokEOF:
		return "", p.errorf("unexpected end of condition")
	default:
		return "", p.errorf("unexpected %q", t.text)
	}
}
