package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Op — тип узла guard-выражения.
type Op int

const (
	// OpLiteral — константа true/false.
	OpLiteral Op = iota

	// OpEq — matrix.<axis> == value.
	OpEq

	// OpNe — matrix.<axis> != value.
	OpNe

	// OpAnd — Left && Right.
	OpAnd

	// OpOr — Left || Right.
	OpOr

	// OpNot — !Left.
	OpNot
)

// Expr — узел guard-выражения над значениями матрицы.
//
// Guard разбирается один раз при загрузке workflow и затем
// вычисляется для каждого job'а без повторного парсинга.
//
// Поддерживаемый синтаксис:
//
//	matrix.os == 'ubuntu'
//	matrix.python-version != "3.11"
//	!(matrix.os == ubuntu && matrix.python-version == 3.11)
//	true
type Expr struct {
	Op    Op
	Left  *Expr
	Right *Expr

	// Axis и Value заполнены для OpEq/OpNe.
	Axis  string
	Value string

	// Bool заполнен для OpLiteral.
	Bool bool
}

// ParseGuard разбирает guard-выражение.
// Пустая строка — безусловный guard (nil, nil).
func ParseGuard(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &guardParser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrGuardSyntax, p.peek().text, p.peek().pos)
	}

	return expr, nil
}

// MustParseGuard разбирает guard и паникует при ошибке.
// Используется только для тестов.
func MustParseGuard(src string) *Expr {
	expr, err := ParseGuard(src)
	if err != nil {
		panic(err)
	}
	return expr
}

// Eval вычисляет выражение для job'а. nil-выражение всегда истинно.
func (e *Expr) Eval(job domain.JobSpec) bool {
	if e == nil {
		return true
	}

	switch e.Op {
	case OpLiteral:
		return e.Bool
	case OpEq:
		v, _ := job.Get(e.Axis)
		return v == e.Value
	case OpNe:
		v, _ := job.Get(e.Axis)
		return v != e.Value
	case OpAnd:
		return e.Left.Eval(job) && e.Right.Eval(job)
	case OpOr:
		return e.Left.Eval(job) || e.Right.Eval(job)
	case OpNot:
		return !e.Left.Eval(job)
	default:
		return false
	}
}

// Axes возвращает имена осей, на которые ссылается выражение.
func (e *Expr) Axes() []string {
	var axes []string
	seen := make(map[string]bool)

	var walk func(*Expr)
	walk = func(n *Expr) {
		if n == nil {
			return
		}
		if (n.Op == OpEq || n.Op == OpNe) && !seen[n.Axis] {
			seen[n.Axis] = true
			axes = append(axes, n.Axis)
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(e)

	return axes
}

// String возвращает нормализованную запись выражения.
func (e *Expr) String() string {
	if e == nil {
		return "true"
	}

	switch e.Op {
	case OpLiteral:
		if e.Bool {
			return "true"
		}
		return "false"
	case OpEq:
		return fmt.Sprintf("matrix.%s == '%s'", e.Axis, e.Value)
	case OpNe:
		return fmt.Sprintf("matrix.%s != '%s'", e.Axis, e.Value)
	case OpAnd:
		return "(" + e.Left.String() + " && " + e.Right.String() + ")"
	case OpOr:
		return "(" + e.Left.String() + " || " + e.Right.String() + ")"
	case OpNot:
		return "!" + e.Left.String()
	default:
		return "?"
	}
}

// ValidateGuard проверяет, что guard ссылается только на объявленные оси.
func ValidateGuard(expr *Expr, axes domain.Matrix) error {
	known := make(map[string]bool, len(axes))
	for _, a := range axes {
		known[a.Name] = true
	}

	for _, name := range expr.Axes() {
		if !known[name] {
			return fmt.Errorf("%w: %s", ErrUnknownAxis, name)
		}
	}
	return nil
}

// --- лексер ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokEq
	tokNe
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.'
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)

	for i := 0; i < len(runes); {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++

		case r == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++

		case r == '=' && i+1 < len(runes) && runes[i+1] == '=':
			tokens = append(tokens, token{tokEq, "==", i})
			i += 2

		case r == '!' && i+1 < len(runes) && runes[i+1] == '=':
			tokens = append(tokens, token{tokNe, "!=", i})
			i += 2

		case r == '!':
			tokens = append(tokens, token{tokNot, "!", i})
			i++

		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			tokens = append(tokens, token{tokAnd, "&&", i})
			i += 2

		case r == '|' && i+1 < len(runes) && runes[i+1] == '|':
			tokens = append(tokens, token{tokOr, "||", i})
			i += 2

		case r == '\'' || r == '"':
			end := i + 1
			for end < len(runes) && runes[end] != r {
				end++
			}
			if end >= len(runes) {
				return nil, fmt.Errorf("%w: unterminated string at position %d", ErrGuardSyntax, i)
			}
			tokens = append(tokens, token{tokString, string(runes[i+1 : end]), i})
			i = end + 1

		case isIdentRune(r):
			start := i
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
			tokens = append(tokens, token{tokIdent, string(runes[start:i]), start})

		default:
			return nil, fmt.Errorf("%w: unexpected character %q at position %d", ErrGuardSyntax, r, i)
		}
	}

	tokens = append(tokens, token{tokEOF, "", len(runes)})
	return tokens, nil
}

// --- парсер ---
//
//	or      := and ("||" and)*
//	and     := unary ("&&" unary)*
//	unary   := "!" unary | primary
//	primary := "(" or ")" | "true" | "false" | operand ("==" | "!=") operand

type guardParser struct {
	tokens []token
	pos    int
}

func (p *guardParser) peek() token {
	return p.tokens[p.pos]
}

func (p *guardParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *guardParser) done() bool {
	return p.peek().kind == tokEOF
}

func (p *guardParser) parseOr() (*Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *guardParser) parseAnd() (*Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *guardParser) parseUnary() (*Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Expr{Op: OpNot, Left: inner}, nil
	}
	return p.parsePrimary()
}

func (p *guardParser) parsePrimary() (*Expr, error) {
	t := p.peek()

	switch t.kind {
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ')' at position %d", ErrGuardSyntax, p.peek().pos)
		}
		p.next()
		return inner, nil

	case tokIdent:
		if t.text == "true" || t.text == "false" {
			if k := p.tokens[p.pos+1].kind; k != tokEq && k != tokNe {
				p.next()
				return &Expr{Op: OpLiteral, Bool: t.text == "true"}, nil
			}
		}
		return p.parseComparison()

	case tokString:
		return p.parseComparison()

	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrGuardSyntax)

	default:
		return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrGuardSyntax, t.text, t.pos)
	}
}

// parseComparison разбирает "operand op operand", где ровно один
// из операндов — ссылка matrix.<axis>.
func (p *guardParser) parseComparison() (*Expr, error) {
	left := p.next()

	opTok := p.next()
	var op Op
	switch opTok.kind {
	case tokEq:
		op = OpEq
	case tokNe:
		op = OpNe
	default:
		return nil, fmt.Errorf("%w: expected '==' or '!=' after %q", ErrGuardSyntax, left.text)
	}

	right := p.next()
	if right.kind != tokIdent && right.kind != tokString {
		return nil, fmt.Errorf("%w: expected value after %q at position %d", ErrGuardSyntax, opTok.text, right.pos)
	}

	leftAxis, leftIsAxis := axisRef(left)
	rightAxis, rightIsAxis := axisRef(right)

	switch {
	case leftIsAxis && !rightIsAxis:
		return &Expr{Op: op, Axis: leftAxis, Value: right.text}, nil
	case rightIsAxis && !leftIsAxis:
		return &Expr{Op: op, Axis: rightAxis, Value: left.text}, nil
	default:
		return nil, fmt.Errorf("%w: comparison at position %d must have exactly one matrix.<axis> operand", ErrGuardSyntax, left.pos)
	}
}

func axisRef(t token) (string, bool) {
	if t.kind != tokIdent {
		return "", false
	}
	name, ok := strings.CutPrefix(t.text, "matrix.")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
