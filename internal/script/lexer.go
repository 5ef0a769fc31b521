// Package script provides the lexer, parser, and syntax tree for plan
// scripts, the small imperative language the planning model writes
// orchestration plans in. The package is pure syntax: it accepts
// constructs (imports, attribute access) that the sandbox validator
// later rejects, so that rejection can name the construct and its
// position instead of surfacing a parse error.
package script

import (
	"fmt"
	"strings"
	"unicode"
)

// SyntaxError reports a lexical or grammatical error with its position.
type SyntaxError struct {
	Pos Pos
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s: %s", e.Pos, e.Msg)
}

type lexer struct {
	src    string
	off    int // byte offset into src
	line   int
	col    int
	tokens []Token

	indents     []int // indentation stack, always starts with 0
	brackets    int   // depth of ( [ {; newlines inside brackets are joined
	atLineStart bool
}

// Lex splits a plan script into tokens, tracking indentation the way
// the grammar's block structure requires. The token stream always ends
// with any pending Dedent tokens followed by a single EOF.
func Lex(src string) ([]Token, error) {
	l := &lexer{
		src:         src,
		line:        1,
		col:         1,
		indents:     []int{0},
		atLineStart: true,
	}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *lexer) run() error {
	for l.off < len(l.src) {
		if l.atLineStart && l.brackets == 0 {
			if err := l.lexIndentation(); err != nil {
				return err
			}
			if l.off >= len(l.src) {
				break
			}
		}

		c := l.src[l.off]
		switch {
		case c == '\n':
			l.lexNewline()
		case c == ' ' || c == '\t' || c == '\r':
			l.advance()
		case c == '#':
			l.skipComment()
		case isNameStart(rune(c)):
			if err := l.lexName(); err != nil {
				return err
			}
		case c >= '0' && c <= '9':
			if err := l.lexNumber(); err != nil {
				return err
			}
		case c == '"' || c == '\'':
			if err := l.lexString(); err != nil {
				return err
			}
		default:
			if err := l.lexOperator(); err != nil {
				return err
			}
		}
	}

	// Close the final logical line and any open blocks.
	if len(l.tokens) > 0 && l.tokens[len(l.tokens)-1].Kind != Newline {
		l.emit(Newline, "")
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(Dedent, "")
	}
	if l.brackets > 0 {
		return &SyntaxError{Pos: l.pos(), Msg: "unclosed bracket at end of script"}
	}
	l.emit(EOF, "")
	return nil
}

// lexIndentation measures the leading whitespace of a physical line and
// emits Indent/Dedent tokens against the indentation stack. Blank lines
// and comment-only lines produce no tokens at all.
func (l *lexer) lexIndentation() error {
	width := 0
	for l.off < len(l.src) {
		switch l.src[l.off] {
		case ' ':
			width++
			l.advance()
		case '\t':
			width += 8 - width%8
			l.advance()
		case '\r':
			l.advance()
		default:
			goto measured
		}
	}
measured:
	if l.off >= len(l.src) {
		return nil
	}
	if c := l.src[l.off]; c == '\n' || c == '#' {
		// Blank or comment-only line: no block structure change.
		if c == '#' {
			l.skipComment()
		}
		if l.off < len(l.src) && l.src[l.off] == '\n' {
			l.advanceLine()
		}
		return nil
	}

	l.atLineStart = false
	top := l.indents[len(l.indents)-1]
	switch {
	case width > top:
		l.indents = append(l.indents, width)
		l.emit(Indent, "")
	case width < top:
		for len(l.indents) > 1 && l.indents[len(l.indents)-1] > width {
			l.indents = l.indents[:len(l.indents)-1]
			l.emit(Dedent, "")
		}
		if l.indents[len(l.indents)-1] != width {
			return &SyntaxError{Pos: l.pos(), Msg: "unindent does not match any outer block"}
		}
	}
	return nil
}

func (l *lexer) lexNewline() {
	if l.brackets > 0 {
		// Implicit line joining inside brackets.
		l.advanceLine()
		return
	}
	if len(l.tokens) > 0 && l.tokens[len(l.tokens)-1].Kind != Newline {
		l.emit(Newline, "")
	}
	l.advanceLine()
	l.atLineStart = true
}

func (l *lexer) skipComment() {
	for l.off < len(l.src) && l.src[l.off] != '\n' {
		l.advance()
	}
}

func (l *lexer) lexName() error {
	start := l.off
	pos := l.pos()
	for l.off < len(l.src) && isNamePart(rune(l.src[l.off])) {
		l.advance()
	}
	text := l.src[start:l.off]

	// A quote directly after an identifier is a prefixed string literal
	// (f"...", r"..."). The runtime has format() instead.
	if l.off < len(l.src) && (l.src[l.off] == '"' || l.src[l.off] == '\'') {
		return &SyntaxError{Pos: pos, Msg: fmt.Sprintf("prefixed string literals (%s%c...) are not supported; use format()", text, l.src[l.off])}
	}

	if kind, ok := keywords[text]; ok {
		l.tokens = append(l.tokens, Token{Kind: kind, Text: text, Pos: pos})
		return nil
	}
	l.tokens = append(l.tokens, Token{Kind: Name, Text: text, Pos: pos})
	return nil
}

func (l *lexer) lexNumber() error {
	start := l.off
	pos := l.pos()
	kind := Int
	for l.off < len(l.src) && l.src[l.off] >= '0' && l.src[l.off] <= '9' {
		l.advance()
	}
	if l.off < len(l.src) && l.src[l.off] == '.' && l.off+1 < len(l.src) && l.src[l.off+1] >= '0' && l.src[l.off+1] <= '9' {
		kind = Float
		l.advance()
		for l.off < len(l.src) && l.src[l.off] >= '0' && l.src[l.off] <= '9' {
			l.advance()
		}
	}
	if l.off < len(l.src) && (l.src[l.off] == 'e' || l.src[l.off] == 'E') {
		mark := l.off
		l.advance()
		if l.off < len(l.src) && (l.src[l.off] == '+' || l.src[l.off] == '-') {
			l.advance()
		}
		if l.off < len(l.src) && l.src[l.off] >= '0' && l.src[l.off] <= '9' {
			kind = Float
			for l.off < len(l.src) && l.src[l.off] >= '0' && l.src[l.off] <= '9' {
				l.advance()
			}
		} else {
			// Not an exponent after all (e.g. "12elephants").
			delta := l.off - mark
			l.off = mark
			l.col -= delta
		}
	}
	if l.off < len(l.src) && isNameStart(rune(l.src[l.off])) {
		return &SyntaxError{Pos: pos, Msg: fmt.Sprintf("malformed number %q", l.src[start:l.off+1])}
	}
	l.tokens = append(l.tokens, Token{Kind: kind, Text: l.src[start:l.off], Pos: pos})
	return nil
}

func (l *lexer) lexString() error {
	quote := l.src[l.off]
	pos := l.pos()
	l.advance()

	if l.off+1 < len(l.src) && l.src[l.off] == quote && l.src[l.off+1] == quote {
		return &SyntaxError{Pos: pos, Msg: "triple-quoted strings are not supported"}
	}

	var sb strings.Builder
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch c {
		case quote:
			l.advance()
			l.tokens = append(l.tokens, Token{Kind: String, Text: sb.String(), Pos: pos})
			return nil
		case '\n':
			return &SyntaxError{Pos: pos, Msg: "unterminated string literal"}
		case '\\':
			l.advance()
			if l.off >= len(l.src) {
				return &SyntaxError{Pos: pos, Msg: "unterminated string literal"}
			}
			switch l.src[l.off] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\':
				sb.WriteByte('\\')
			case '\'':
				sb.WriteByte('\'')
			case '"':
				sb.WriteByte('"')
			default:
				// Unknown escape passes through verbatim.
				sb.WriteByte('\\')
				sb.WriteByte(l.src[l.off])
			}
			l.advance()
		default:
			sb.WriteByte(c)
			l.advance()
		}
	}
	return &SyntaxError{Pos: pos, Msg: "unterminated string literal"}
}

func (l *lexer) lexOperator() error {
	pos := l.pos()
	two := ""
	if l.off+1 < len(l.src) {
		two = l.src[l.off : l.off+2]
	}

	switch two {
	case "==":
		l.emitOp(Eq, two, pos)
		return nil
	case "!=":
		l.emitOp(NotEq, two, pos)
		return nil
	case "<=":
		l.emitOp(LtEq, two, pos)
		return nil
	case ">=":
		l.emitOp(GtEq, two, pos)
		return nil
	case "+=":
		l.emitOp(PlusAssign, two, pos)
		return nil
	case "-=":
		l.emitOp(MinusAssign, two, pos)
		return nil
	case "*=":
		l.emitOp(StarAssign, two, pos)
		return nil
	case "/=":
		l.emitOp(SlashAssign, two, pos)
		return nil
	case "//":
		l.emitOp(SlashSlash, two, pos)
		return nil
	case "**":
		return &SyntaxError{Pos: pos, Msg: "operator \"**\" is not supported"}
	}

	c := l.src[l.off]
	var kind Kind
	switch c {
	case '=':
		kind = Assign
	case '<':
		kind = Lt
	case '>':
		kind = Gt
	case '+':
		kind = Plus
	case '-':
		kind = Minus
	case '*':
		kind = Star
	case '/':
		kind = Slash
	case '%':
		kind = Percent
	case '(':
		kind = LParen
		l.brackets++
	case ')':
		kind = RParen
		l.brackets--
	case '[':
		kind = LBracket
		l.brackets++
	case ']':
		kind = RBracket
		l.brackets--
	case '{':
		kind = LBrace
		l.brackets++
	case '}':
		kind = RBrace
		l.brackets--
	case ',':
		kind = Comma
	case ':':
		kind = Colon
	case '.':
		kind = Dot
	default:
		return &SyntaxError{Pos: pos, Msg: fmt.Sprintf("unexpected character %q", string(c))}
	}
	if l.brackets < 0 {
		return &SyntaxError{Pos: pos, Msg: fmt.Sprintf("unmatched %q", string(c))}
	}
	l.emitOp(kind, string(c), pos)
	return nil
}

func (l *lexer) emitOp(kind Kind, text string, pos Pos) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: text, Pos: pos})
	for range text {
		l.advance()
	}
}

func (l *lexer) emit(kind Kind, text string) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: text, Pos: l.pos()})
}

func (l *lexer) pos() Pos {
	return Pos{Line: l.line, Col: l.col}
}

func (l *lexer) advance() {
	l.off++
	l.col++
}

func (l *lexer) advanceLine() {
	l.off++
	l.line++
	l.col = 1
}

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNamePart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
