package expression

import (
	"fmt"
	"strconv"
	"strings"
)

type SyntaxError struct {
	Expression string
	Pos        int
	Message    string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("malformed expression %q at %d: %s", e.Expression, e.Pos, e.Message)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokRef
	tokString
	tokNumber
	tokTrue
	tokFalse
	tokNull
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokGt
	tokLt
	tokGte
	tokLte
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	text  string
	pos   int
	ref   reference
	value any
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return SyntaxError{Expression: l.input, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func (l *lexer) tokens() ([]token, error) {
	out := make([]token, 0)
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}

var operators = []struct {
	text string
	kind tokenKind
}{
	{"&&", tokAnd}, {"||", tokOr}, {"==", tokEq}, {"!=", tokNeq},
	{">=", tokGte}, {"<=", tokLte}, {">", tokGt}, {"<", tokLt},
	{"!", tokNot}, {"(", tokLParen}, {")", tokRParen},
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t' || l.input[l.pos] == '\n' || l.input[l.pos] == '\r') {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: start}, nil
	}
	ch := l.input[l.pos]
	switch {
	case ch == '$':
		return l.reference()
	case ch == '\'' || ch == '"':
		return l.str(ch)
	case ch >= '0' && ch <= '9', ch == '-' && l.pos+1 < len(l.input) && l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9':
		return l.number()
	case isIdentStart(ch):
		for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
			l.pos++
		}
		word := l.input[start:l.pos]
		switch word {
		case "true":
			return token{kind: tokTrue, text: word, pos: start, value: true}, nil
		case "false":
			return token{kind: tokFalse, text: word, pos: start, value: false}, nil
		case "null":
			return token{kind: tokNull, text: word, pos: start}, nil
		}
		return token{}, l.errorf(start, "unexpected word %q, references start with $", word)
	}
	for _, op := range operators {
		if strings.HasPrefix(l.input[l.pos:], op.text) {
			l.pos += len(op.text)
			return token{kind: op.kind, text: op.text, pos: start}, nil
		}
	}
	return token{}, l.errorf(start, "unexpected character %q", ch)
}

func (l *lexer) reference() (token, error) {
	start := l.pos
	l.pos++
	depth := 0
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '[' {
			depth++
		} else if ch == ']' {
			depth--
		} else if !isIdentChar(ch) && ch != '.' && !(depth > 0 && ch >= '0' && ch <= '9') {
			break
		}
		l.pos++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '?' {
		l.pos++
	}
	raw := l.input[start:l.pos]
	ref, err := parseReference(raw)
	if err != nil {
		return token{}, l.errorf(start, "%v", err)
	}
	return token{kind: tokRef, text: raw, pos: start, ref: ref}, nil
}

func (l *lexer) str(quote byte) (token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.pos+1 < len(l.input) {
			sb.WriteByte(l.input[l.pos+1])
			l.pos += 2
			continue
		}
		if ch == quote {
			l.pos++
			return token{kind: tokString, text: l.input[start:l.pos], pos: start, value: sb.String()}, nil
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return token{}, l.errorf(start, "unterminated string")
}

func (l *lexer) number() (token, error) {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) && ((l.input[l.pos] >= '0' && l.input[l.pos] <= '9') || l.input[l.pos] == '.') {
		l.pos++
	}
	text := l.input[start:l.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, l.errorf(start, "invalid number %q", text)
	}
	return token{kind: tokNumber, text: text, pos: start, value: f}, nil
}

// Grammar, lowest precedence first:
//
//	or      = and { "||" and }
//	and     = unary { "&&" unary }
//	unary   = "!" unary | compare
//	compare = operand [ ("==" | "!=" | ">" | "<" | ">=" | "<=") operand ]
//	operand = "(" or ")" | reference | string | number | true | false | null
type parser struct {
	expr   string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return SyntaxError{Expression: p.expr, Pos: tok.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().kind; op {
	case tokEq, tokNeq, tokGt, tokLt, tokGte, tokLte:
		p.advance()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected )")
		}
		return inner, nil
	case tokRef:
		return &refNode{ref: tok.ref}, nil
	case tokString, tokNumber, tokTrue, tokFalse, tokNull:
		return &literalNode{value: tok.value}, nil
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	}
	return nil, p.errorf(tok, "unexpected %q", tok.text)
}

// Expression is a parsed, reusable expression.
type Expression struct {
	source string
	root   node
}

func Parse(expr string) (*Expression, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, SyntaxError{Expression: expr, Message: "empty expression"}
	}
	lx := &lexer{input: expr}
	tokens, err := lx.tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
	return &Expression{source: expr, root: root}, nil
}

func (e *Expression) String() string {
	return e.source
}

// Eval returns the expression's value; undefined references evaluate to nil.
func (e *Expression) Eval(ctx *Context) any {
	return e.root.eval(ctx.root())
}
