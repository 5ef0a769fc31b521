package script

import (
	"fmt"
	"strconv"
)

// Parse lexes and parses a plan script into a statement list.
func Parse(src string) ([]Stmt, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parseScript()
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) cur() Token {
	return p.tokens[p.pos]
}

func (p *parser) next() Token {
	t := p.tokens[p.pos]
	if p.tokens[p.pos].Kind != EOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind Kind) bool {
	if p.cur().Kind == kind {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(kind Kind, context string) (Token, error) {
	if p.cur().Kind != kind {
		return Token{}, p.errorf("expected %s in %s, found %s", kindName(kind), context, p.cur())
	}
	return p.next(), nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.cur().Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseScript() ([]Stmt, error) {
	var stmts []Stmt
	for p.cur().Kind != EOF {
		if p.accept(Newline) {
			continue
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

// parseStatement parses one statement including its trailing newline
// (for simple statements) or block (for compound statements).
func (p *parser) parseStatement() (Stmt, error) {
	switch p.cur().Kind {
	case KwIf:
		return p.parseIf()
	case KwWhile:
		return p.parseWhile()
	case KwFor:
		return p.parseFor()
	case KwDef:
		return p.parseDef()
	case KwImport, KwFrom:
		return p.parseImport()
	case KwReserved:
		return nil, p.errorf("keyword %q is not supported in plan scripts", p.cur().Text)
	}
	s, err := p.parseSimpleStatement()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(Newline, "statement"); err != nil {
		return nil, err
	}
	return s, nil
}

// parseSimpleStatement parses a one-line statement without consuming
// the newline, so inline suites (`if x: pass`) can share it.
func (p *parser) parseSimpleStatement() (Stmt, error) {
	tok := p.cur()
	switch tok.Kind {
	case KwReturn:
		p.next()
		if p.cur().Kind == Newline || p.cur().Kind == EOF {
			return &ReturnStmt{Pos: tok.Pos}, nil
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ReturnStmt{Pos: tok.Pos, Value: v}, nil
	case KwPass:
		p.next()
		return &PassStmt{Pos: tok.Pos}, nil
	case KwBreak:
		p.next()
		return &BreakStmt{Pos: tok.Pos}, nil
	case KwContinue:
		p.next()
		return &ContinueStmt{Pos: tok.Pos}, nil
	case KwReserved:
		return nil, p.errorf("keyword %q is not supported in plan scripts", tok.Text)
	}

	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	switch op := p.cur().Kind; op {
	case Assign, PlusAssign, MinusAssign, StarAssign, SlashAssign:
		p.next()
		switch x.(type) {
		case *NameExpr, *IndexExpr:
		case *AttrExpr:
			return nil, &SyntaxError{Pos: x.Position(), Msg: "cannot assign to an attribute"}
		default:
			return nil, &SyntaxError{Pos: x.Position(), Msg: "cannot assign to this expression"}
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().Kind == Assign {
			return nil, p.errorf("chained assignment is not supported")
		}
		return &AssignStmt{Pos: tok.Pos, Target: x, Op: op, Value: v}, nil
	}
	return &ExprStmt{Pos: tok.Pos, X: x}, nil
}

func (p *parser) parseIf() (Stmt, error) {
	tok := p.next() // if or elif
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite("if statement")
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{Pos: tok.Pos, Cond: cond, Body: body}

	switch p.cur().Kind {
	case KwElif:
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		stmt.Else = []Stmt{nested}
	case KwElse:
		p.next()
		els, err := p.parseSuite("else clause")
		if err != nil {
			return nil, err
		}
		stmt.Else = els
	}
	return stmt, nil
}

func (p *parser) parseWhile() (Stmt, error) {
	tok := p.next()
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite("while loop")
	if err != nil {
		return nil, err
	}
	return &WhileStmt{Pos: tok.Pos, Cond: cond, Body: body}, nil
}

func (p *parser) parseFor() (Stmt, error) {
	tok := p.next()
	first, err := p.expect(Name, "for loop")
	if err != nil {
		return nil, err
	}
	names := []string{first.Text}
	if p.accept(Comma) {
		second, err := p.expect(Name, "for loop")
		if err != nil {
			return nil, err
		}
		names = append(names, second.Text)
		if p.cur().Kind == Comma {
			return nil, p.errorf("for loops unpack at most two variables")
		}
	}
	if _, err := p.expect(KwIn, "for loop"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite("for loop")
	if err != nil {
		return nil, err
	}
	return &ForStmt{Pos: tok.Pos, Names: names, Iter: iter, Body: body}, nil
}

func (p *parser) parseDef() (Stmt, error) {
	tok := p.next()
	name, err := p.expect(Name, "function definition")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LParen, "function definition"); err != nil {
		return nil, err
	}
	var params []string
	for p.cur().Kind != RParen {
		param, err := p.expect(Name, "parameter list")
		if err != nil {
			return nil, err
		}
		if p.cur().Kind == Assign {
			return nil, p.errorf("default parameter values are not supported")
		}
		params = append(params, param.Text)
		if !p.accept(Comma) {
			break
		}
	}
	if _, err := p.expect(RParen, "function definition"); err != nil {
		return nil, err
	}
	body, err := p.parseSuite("function body")
	if err != nil {
		return nil, err
	}
	return &DefStmt{Pos: tok.Pos, Name: name.Text, Params: params, Body: body}, nil
}

// parseImport consumes an import statement through end of line,
// recording the first dotted module path for the validator's
// diagnostic. Nothing of it is ever executed.
func (p *parser) parseImport() (Stmt, error) {
	tok := p.next() // import or from
	module := ""
	if p.cur().Kind == Name {
		module = p.next().Text
		for p.accept(Dot) {
			part, err := p.expect(Name, "import statement")
			if err != nil {
				return nil, err
			}
			module += "." + part.Text
		}
	}
	for p.cur().Kind != Newline && p.cur().Kind != EOF {
		p.next()
	}
	p.accept(Newline)
	return &ImportStmt{Pos: tok.Pos, Module: module}, nil
}

// parseSuite parses `: NEWLINE INDENT stmts DEDENT` or an inline
// single statement after the colon.
func (p *parser) parseSuite(context string) ([]Stmt, error) {
	if _, err := p.expect(Colon, context); err != nil {
		return nil, err
	}

	if !p.accept(Newline) {
		s, err := p.parseSimpleStatement()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(Newline, context); err != nil {
			return nil, err
		}
		return []Stmt{s}, nil
	}

	if _, err := p.expect(Indent, context); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for p.cur().Kind != Dedent && p.cur().Kind != EOF {
		if p.accept(Newline) {
			continue
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if _, err := p.expect(Dedent, context); err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, p.errorf("empty block in %s", context)
	}
	return stmts, nil
}

// --- Expressions ---

// parseExpr parses a full expression including the ternary form.
func (p *parser) parseExpr() (Expr, error) {
	x, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind == KwIf {
		pos := p.next().Pos
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(KwElse, "conditional expression"); err != nil {
			return nil, err
		}
		els, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &CondExpr{Pos: pos, Cond: cond, Then: x, Else: els}, nil
	}
	return x, nil
}

func (p *parser) parseOr() (Expr, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == KwOr {
		pos := p.next().Pos
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = &BinaryExpr{Pos: pos, Op: KwOr, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) parseAnd() (Expr, error) {
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == KwAnd {
		pos := p.next().Pos
		y, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		x = &BinaryExpr{Pos: pos, Op: KwAnd, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.cur().Kind == KwNot {
		pos := p.next().Pos
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Pos: pos, Op: KwNot, X: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	x, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.cur()
		switch tok.Kind {
		case Eq, NotEq, Lt, LtEq, Gt, GtEq:
			p.next()
			y, err := p.parseArith()
			if err != nil {
				return nil, err
			}
			x = &BinaryExpr{Pos: tok.Pos, Op: tok.Kind, X: x, Y: y}
		case KwIn:
			p.next()
			y, err := p.parseArith()
			if err != nil {
				return nil, err
			}
			x = &BinaryExpr{Pos: tok.Pos, Op: KwIn, X: x, Y: y}
		case KwNot:
			// `x not in y`
			p.next()
			if _, err := p.expect(KwIn, "comparison"); err != nil {
				return nil, err
			}
			y, err := p.parseArith()
			if err != nil {
				return nil, err
			}
			x = &BinaryExpr{Pos: tok.Pos, Op: KwIn, NotIn: true, X: x, Y: y}
		case KwIs:
			p.next()
			isNot := p.accept(KwNot)
			y, err := p.parseArith()
			if err != nil {
				return nil, err
			}
			x = &BinaryExpr{Pos: tok.Pos, Op: KwIs, IsNot: isNot, X: x, Y: y}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseArith() (Expr, error) {
	x, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == Plus || p.cur().Kind == Minus {
		tok := p.next()
		y, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		x = &BinaryExpr{Pos: tok.Pos, Op: tok.Kind, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) parseTerm() (Expr, error) {
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Kind {
		case Star, Slash, SlashSlash, Percent:
			tok := p.next()
			y, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			x = &BinaryExpr{Pos: tok.Pos, Op: tok.Kind, X: x, Y: y}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.cur().Kind == Minus {
		pos := p.next().Pos
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Pos: pos, Op: Minus, X: x}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary followed by any chain of calls,
// subscripts, slices, and attribute accesses.
func (p *parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Kind {
		case LParen:
			call, err := p.parseCall(x)
			if err != nil {
				return nil, err
			}
			x = call
		case LBracket:
			pos := p.next().Pos
			sub, err := p.parseSubscript(x, pos)
			if err != nil {
				return nil, err
			}
			x = sub
		case Dot:
			pos := p.next().Pos
			name, err := p.expect(Name, "attribute access")
			if err != nil {
				return nil, err
			}
			x = &AttrExpr{Pos: pos, X: x, Name: name.Text}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseCall(fn Expr) (Expr, error) {
	pos := p.next().Pos // consume (
	call := &CallExpr{Pos: pos, Func: fn}
	for p.cur().Kind != RParen {
		// `name=value` is a keyword argument; a lone expression is
		// positional. Keyword arguments must follow positional ones.
		if p.cur().Kind == Name && p.tokens[p.pos+1].Kind == Assign {
			name := p.next().Text
			p.next() // =
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Kwargs = append(call.Kwargs, Kwarg{Name: name, Value: v})
		} else {
			if len(call.Kwargs) > 0 {
				return nil, p.errorf("positional argument follows keyword argument")
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, v)
		}
		if !p.accept(Comma) {
			break
		}
	}
	if _, err := p.expect(RParen, "call"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) parseSubscript(x Expr, pos Pos) (Expr, error) {
	var lo, hi Expr
	var err error

	if p.cur().Kind != Colon {
		lo, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.accept(Colon) {
		if p.cur().Kind != RBracket {
			hi, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(RBracket, "slice"); err != nil {
			return nil, err
		}
		return &SliceExpr{Pos: pos, X: x, Lo: lo, Hi: hi}, nil
	}
	if _, err := p.expect(RBracket, "subscript"); err != nil {
		return nil, err
	}
	return &IndexExpr{Pos: pos, X: x, Index: lo}, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch tok.Kind {
	case Name:
		p.next()
		return &NameExpr{Pos: tok.Pos, Name: tok.Text}, nil
	case Int:
		p.next()
		v, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf("integer literal out of range: %s", tok.Text)}
		}
		return &IntLit{Pos: tok.Pos, Value: v}, nil
	case Float:
		p.next()
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf("malformed number %s", tok.Text)}
		}
		return &FloatLit{Pos: tok.Pos, Value: v}, nil
	case String:
		p.next()
		// Adjacent string literals concatenate.
		value := tok.Text
		for p.cur().Kind == String {
			value += p.next().Text
		}
		return &StringLit{Pos: tok.Pos, Value: value}, nil
	case KwTrue:
		p.next()
		return &BoolLit{Pos: tok.Pos, Value: true}, nil
	case KwFalse:
		p.next()
		return &BoolLit{Pos: tok.Pos, Value: false}, nil
	case KwNone:
		p.next()
		return &NoneLit{Pos: tok.Pos}, nil
	case LParen:
		p.next()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().Kind == Comma {
			return nil, p.errorf("tuple literals are not supported; use a list")
		}
		if _, err := p.expect(RParen, "parenthesized expression"); err != nil {
			return nil, err
		}
		return x, nil
	case LBracket:
		return p.parseList()
	case LBrace:
		return p.parseDict()
	case KwReserved:
		return nil, p.errorf("keyword %q is not supported in plan scripts", tok.Text)
	case KwImport, KwFrom:
		return nil, p.errorf("import is not valid in an expression")
	default:
		return nil, p.errorf("unexpected %s", tok)
	}
}

func (p *parser) parseList() (Expr, error) {
	tok := p.next() // [
	list := &ListLit{Pos: tok.Pos}
	for p.cur().Kind != RBracket {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().Kind == KwFor {
			return nil, p.errorf("comprehensions are not supported; use a for loop")
		}
		list.Elems = append(list.Elems, x)
		if !p.accept(Comma) {
			break
		}
	}
	if _, err := p.expect(RBracket, "list literal"); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *parser) parseDict() (Expr, error) {
	tok := p.next() // {
	dict := &DictLit{Pos: tok.Pos}
	for p.cur().Kind != RBrace {
		k, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().Kind == KwFor {
			return nil, p.errorf("comprehensions are not supported; use a for loop")
		}
		if p.cur().Kind == Comma || p.cur().Kind == RBrace {
			return nil, p.errorf("set literals are not supported; use a list")
		}
		if _, err := p.expect(Colon, "dict literal"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		dict.Keys = append(dict.Keys, k)
		dict.Values = append(dict.Values, v)
		if !p.accept(Comma) {
			break
		}
	}
	if _, err := p.expect(RBrace, "dict literal"); err != nil {
		return nil, err
	}
	return dict, nil
}

// kindName renders a token kind for error messages.
func kindName(k Kind) string {
	switch k {
	case Newline:
		return "end of line"
	case Indent:
		return "an indented block"
	case Dedent:
		return "end of block"
	case Name:
		return "a name"
	case Colon:
		return "\":\""
	case Comma:
		return "\",\""
	case LParen:
		return "\"(\""
	case RParen:
		return "\")\""
	case RBracket:
		return "\"]\""
	case RBrace:
		return "\"}\""
	case KwIn:
		return "\"in\""
	case KwElse:
		return "\"else\""
	default:
		return fmt.Sprintf("token %d", int(k))
	}
}
