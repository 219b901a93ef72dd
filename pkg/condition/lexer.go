package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokString
	tokLParen
	tokRParen
	tokCompare
	tokNot
	tokAnd
	tokOr
	tokXor
	tokEqv
	tokImp
	tokEnv       // %NAME
	tokCompState // $NAME, action state of a component
	tokCompInst  // ?NAME, installed state of a component
	tokFeatState // &NAME, action state of a feature
	tokFeatInst  // !NAME, installed state of a feature
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]tokenKind{
	"NOT": tokNot,
	"AND": tokAnd,
	"OR":  tokOr,
	"XOR": tokXor,
	"EQV": tokEqv,
	"IMP": tokImp,
}

var prefixes = map[rune]tokenKind{
	'%': tokEnv,
	'$': tokCompState,
	'?': tokCompInst,
	'&': tokFeatState,
	'!': tokFeatInst,
}

// SyntaxError reports a malformed condition.
type SyntaxError struct {
	Condition string
	Pos       int
	Message   string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition %q: %s at offset %d", e.Condition, e.Message, e.Pos)
}

// lex splits a condition into tokens.
func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	fail := func(pos int, format string, args ...interface{}) error {
		return &SyntaxError{Condition: src, Pos: pos, Message: fmt.Sprintf(format, args...)}
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++

		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++

		case r == '"':
			end := i + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			if end >= len(runes) {
				return nil, fail(i, "unterminated string")
			}
			toks = append(toks, token{kind: tokString, text: string(runes[i+1 : end]), pos: i})
			i = end + 1

		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			end := i + 1
			for end < len(runes) && unicode.IsDigit(runes[end]) {
				end++
			}
			toks = append(toks, token{kind: tokInt, text: string(runes[i:end]), pos: i})
			i = end

		case prefixes[r] != 0 && i+1 < len(runes) && isIdentStart(runes[i+1]):
			end := identEnd(runes, i+1)
			toks = append(toks, token{kind: prefixes[r], text: string(runes[i+1 : end]), pos: i})
			i = end

		case isIdentStart(r):
			end := identEnd(runes, i)
			word := string(runes[i:end])
			if kind, ok := keywords[strings.ToUpper(word)]; ok {
				toks = append(toks, token{kind: kind, text: strings.ToUpper(word), pos: i})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, pos: i})
			}
			i = end

		case r == '~' || r == '=' || r == '<' || r == '>':
			op, n := compareOp(runes[i:])
			if n == 0 {
				return nil, fail(i, "invalid operator")
			}
			toks = append(toks, token{kind: tokCompare, text: op, pos: i})
			i += n

		default:
			return nil, fail(i, "unexpected character %q", r)
		}
	}

	toks = append(toks, token{kind: tokEOF, pos: len(runes)})
	return toks, nil
}

// compareOp matches the longest comparison operator at the start of runes.
// A leading ~ makes string comparison case-insensitive.
func compareOp(runes []rune) (string, int) {
	prefix := ""
	offset := 0
	if runes[0] == '~' {
		prefix = "~"
		offset = 1
	}
	rest := string(runes[offset:])
	for _, op := range []string{"<>", "<=", ">=", "><", "<<", ">>", "=", "<", ">"} {
		if strings.HasPrefix(rest, op) {
			return prefix + op, offset + len(op)
		}
	}
	return "", 0
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func identEnd(runes []rune, start int) int {
	end := start
	for end < len(runes) && (runes[end] == '_' || runes[end] == '.' ||
		unicode.IsLetter(runes[end]) || unicode.IsDigit(runes[end])) {
		end++
	}
	return end
}
