package script

import (
	"errors"
	"strings"
	"testing"
)

func mustLex(t *testing.T, src string) []Token {
	t.Helper()
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex(%q) error: %v", src, err)
	}
	return tokens
}

func lexErr(t *testing.T, src string) *SyntaxError {
	t.Helper()
	_, err := Lex(src)
	if err == nil {
		t.Fatalf("Lex(%q) succeeded, want error", src)
	}
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("Lex(%q) error = %T, want *SyntaxError", src, err)
	}
	return se
}

func kindsOf(tokens []Token) []Kind {
	kinds := make([]Kind, len(tokens))
	for i, tok := range tokens {
		kinds[i] = tok.Kind
	}
	return kinds
}

func sameKinds(got, want []Kind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// --- Token stream shape ---

func TestLex_SimpleAssignment(t *testing.T) {
	tokens := mustLex(t, "count = 42\n")
	want := []Kind{Name, Assign, Int, Newline, EOF}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
	if tokens[0].Text != "count" {
		t.Errorf("name text = %q, want %q", tokens[0].Text, "count")
	}
	if tokens[2].Text != "42" {
		t.Errorf("int text = %q, want %q", tokens[2].Text, "42")
	}
}

func TestLex_StreamAlwaysEndsWithNewlineAndEOF(t *testing.T) {
	// No trailing newline in the source.
	tokens := mustLex(t, "x = 1")
	want := []Kind{Name, Assign, Int, Newline, EOF}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
}

func TestLex_EmptySource(t *testing.T) {
	tokens := mustLex(t, "")
	if len(tokens) != 1 || tokens[0].Kind != EOF {
		t.Fatalf("tokens = %v, want single EOF", tokens)
	}
}

func TestLex_BlankAndCommentLinesEmitNothing(t *testing.T) {
	src := "x = 1\n\n# a comment\n   # indented comment\ny = 2\n"
	tokens := mustLex(t, src)
	want := []Kind{Name, Assign, Int, Newline, Name, Assign, Int, Newline, EOF}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
}

func TestLex_TrailingCommentStripped(t *testing.T) {
	tokens := mustLex(t, "x = 1  # note\n")
	want := []Kind{Name, Assign, Int, Newline, EOF}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
}

func TestLex_KeywordsAndNames(t *testing.T) {
	tokens := mustLex(t, "if x in items and not done:\n    pass\n")
	want := []Kind{KwIf, Name, KwIn, Name, KwAnd, KwNot, Name, Colon, Newline, Indent, KwPass, Newline, Dedent, EOF}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
}

func TestLex_ReservedKeywordsAreRecognized(t *testing.T) {
	for _, word := range []string{"lambda", "class", "try", "raise", "with", "global", "yield", "await", "exec"} {
		tokens := mustLex(t, word+"\n")
		if tokens[0].Kind != KwReserved {
			t.Errorf("%s: kind = %v, want KwReserved", word, tokens[0].Kind)
		}
		if tokens[0].Text != word {
			t.Errorf("%s: text = %q, want the keyword itself", word, tokens[0].Text)
		}
	}
}

// --- Indentation ---

func TestLex_IndentDedent(t *testing.T) {
	src := "if a:\n    x = 1\n    if b:\n        y = 2\nz = 3\n"
	tokens := mustLex(t, src)
	want := []Kind{
		KwIf, Name, Colon, Newline,
		Indent, Name, Assign, Int, Newline,
		KwIf, Name, Colon, Newline,
		Indent, Name, Assign, Int, Newline,
		Dedent, Dedent,
		Name, Assign, Int, Newline,
		EOF,
	}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
}

func TestLex_DanglingDedentsEmittedAtEOF(t *testing.T) {
	src := "if a:\n    if b:\n        x = 1\n"
	tokens := mustLex(t, src)
	dedents := 0
	for _, tok := range tokens {
		if tok.Kind == Dedent {
			dedents++
		}
	}
	if dedents != 2 {
		t.Fatalf("dedents = %d, want 2", dedents)
	}
	if tokens[len(tokens)-1].Kind != EOF {
		t.Errorf("last token = %v, want EOF", tokens[len(tokens)-1].Kind)
	}
}

func TestLex_TabsExpandToMultiplesOfEight(t *testing.T) {
	// A tab and eight spaces land on the same indentation column.
	src := "if a:\n\tx = 1\n        y = 2\n"
	tokens := mustLex(t, src)
	indents, dedents := 0, 0
	for _, tok := range tokens {
		switch tok.Kind {
		case Indent:
			indents++
		case Dedent:
			dedents++
		}
	}
	if indents != 1 || dedents != 1 {
		t.Fatalf("indents = %d, dedents = %d, want 1 and 1", indents, dedents)
	}
}

func TestLex_InconsistentDedentRejected(t *testing.T) {
	src := "if a:\n    x = 1\n  y = 2\n"
	se := lexErr(t, src)
	if !strings.Contains(se.Msg, "unindent does not match any outer block") {
		t.Errorf("msg = %q, want unindent mismatch", se.Msg)
	}
	if se.Pos.Line != 3 {
		t.Errorf("line = %d, want 3", se.Pos.Line)
	}
}

func TestLex_BlankLineDoesNotCloseBlock(t *testing.T) {
	src := "if a:\n    x = 1\n\n    y = 2\n"
	tokens := mustLex(t, src)
	want := []Kind{
		KwIf, Name, Colon, Newline,
		Indent, Name, Assign, Int, Newline,
		Name, Assign, Int, Newline,
		Dedent, EOF,
	}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
}

// --- Bracket line joining ---

func TestLex_NewlinesInsideBracketsAreJoined(t *testing.T) {
	src := "x = [\n    1,\n    2,\n]\n"
	tokens := mustLex(t, src)
	want := []Kind{Name, Assign, LBracket, Int, Comma, Int, Comma, RBracket, Newline, EOF}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
}

func TestLex_CallSpanningLines(t *testing.T) {
	src := "assign_task(\n    task_id='t1',\n    description='x',\n)\n"
	tokens := mustLex(t, src)
	for _, tok := range tokens {
		if tok.Kind == Indent || tok.Kind == Dedent {
			t.Fatalf("unexpected %v inside bracketed call", tok.Kind)
		}
	}
}

func TestLex_UnclosedBracketAtEOF(t *testing.T) {
	se := lexErr(t, "x = [1, 2\n")
	if !strings.Contains(se.Msg, "unclosed bracket") {
		t.Errorf("msg = %q, want unclosed bracket", se.Msg)
	}
}

func TestLex_UnmatchedClosingBracket(t *testing.T) {
	se := lexErr(t, "x = 1)\n")
	if !strings.Contains(se.Msg, `unmatched ")"`) {
		t.Errorf("msg = %q, want unmatched bracket", se.Msg)
	}
}

// --- Numbers ---

func TestLex_NumberKinds(t *testing.T) {
	cases := []struct {
		src  string
		kind Kind
		text string
	}{
		{"0", Int, "0"},
		{"42", Int, "42"},
		{"3.14", Float, "3.14"},
		{"1e5", Float, "1e5"},
		{"2.5e-3", Float, "2.5e-3"},
		{"1E+2", Float, "1E+2"},
	}
	for _, tc := range cases {
		tokens := mustLex(t, "x = "+tc.src+"\n")
		tok := tokens[2]
		if tok.Kind != tc.kind || tok.Text != tc.text {
			t.Errorf("%s: token = %v %q, want %v %q", tc.src, tok.Kind, tok.Text, tc.kind, tc.text)
		}
	}
}

func TestLex_MalformedNumberRejected(t *testing.T) {
	for _, src := range []string{"x = 12elephants\n", "x = 12e\n", "x = 3x\n"} {
		se := lexErr(t, src)
		if !strings.Contains(se.Msg, "malformed number") {
			t.Errorf("%q: msg = %q, want malformed number", src, se.Msg)
		}
	}
}

func TestLex_DotAfterNameIsAttributeAccess(t *testing.T) {
	tokens := mustLex(t, "x = obj.field\n")
	want := []Kind{Name, Assign, Name, Dot, Name, Newline, EOF}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
}

// --- Strings ---

func TestLex_StringLiterals(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{`'single'`, "single"},
		{`"double"`, "double"},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"quote\"inside"`, `quote"inside`},
		{`'back\\slash'`, `back\slash`},
		{`"unknown\qescape"`, `unknown\qescape`},
		{`""`, ""},
	}
	for _, tc := range cases {
		tokens := mustLex(t, "x = "+tc.src+"\n")
		tok := tokens[2]
		if tok.Kind != String {
			t.Errorf("%s: kind = %v, want String", tc.src, tok.Kind)
			continue
		}
		if tok.Text != tc.want {
			t.Errorf("%s: text = %q, want %q", tc.src, tok.Text, tc.want)
		}
	}
}

func TestLex_AdjacentStringsStaySeparateTokens(t *testing.T) {
	// Concatenation happens in the parser, not the lexer.
	tokens := mustLex(t, "x = 'it' 's'\n")
	want := []Kind{Name, Assign, String, String, Newline, EOF}
	if !sameKinds(kindsOf(tokens), want) {
		t.Fatalf("kinds = %v, want %v", kindsOf(tokens), want)
	}
	if tokens[2].Text != "it" || tokens[3].Text != "s" {
		t.Errorf("texts = %q, %q, want %q, %q", tokens[2].Text, tokens[3].Text, "it", "s")
	}
}

func TestLex_UnterminatedString(t *testing.T) {
	for _, src := range []string{"x = 'open\n", `x = "open`, "x = 'trailing\\"} {
		se := lexErr(t, src)
		if !strings.Contains(se.Msg, "unterminated string literal") {
			t.Errorf("%q: msg = %q, want unterminated string", src, se.Msg)
		}
	}
}

func TestLex_TripleQuotedStringRejected(t *testing.T) {
	se := lexErr(t, `x = """doc"""`+"\n")
	if !strings.Contains(se.Msg, "triple-quoted strings are not supported") {
		t.Errorf("msg = %q, want triple-quote rejection", se.Msg)
	}
}

func TestLex_PrefixedStringRejected(t *testing.T) {
	se := lexErr(t, `x = f"hello {name}"`+"\n")
	if !strings.Contains(se.Msg, "prefixed string literals") || !strings.Contains(se.Msg, "use format()") {
		t.Errorf("msg = %q, want prefixed-string rejection pointing at format()", se.Msg)
	}
}

// --- Operators ---

func TestLex_Operators(t *testing.T) {
	cases := []struct {
		src  string
		kind Kind
	}{
		{"==", Eq},
		{"!=", NotEq},
		{"<", Lt},
		{"<=", LtEq},
		{">", Gt},
		{">=", GtEq},
		{"+", Plus},
		{"-", Minus},
		{"*", Star},
		{"/", Slash},
		{"//", SlashSlash},
		{"%", Percent},
	}
	for _, tc := range cases {
		tokens := mustLex(t, "a "+tc.src+" b\n")
		if tokens[1].Kind != tc.kind {
			t.Errorf("%q: kind = %v, want %v", tc.src, tokens[1].Kind, tc.kind)
		}
	}
}

func TestLex_AugmentedAssignOperators(t *testing.T) {
	cases := []struct {
		src  string
		kind Kind
	}{
		{"x += 1\n", PlusAssign},
		{"x -= 1\n", MinusAssign},
		{"x *= 2\n", StarAssign},
		{"x /= 2\n", SlashAssign},
	}
	for _, tc := range cases {
		tokens := mustLex(t, tc.src)
		if tokens[1].Kind != tc.kind {
			t.Errorf("%q: kind = %v, want %v", strings.TrimSpace(tc.src), tokens[1].Kind, tc.kind)
		}
	}
}

func TestLex_PowerOperatorRejected(t *testing.T) {
	se := lexErr(t, "x = 2 ** 3\n")
	if !strings.Contains(se.Msg, `operator "**" is not supported`) {
		t.Errorf("msg = %q, want ** rejection", se.Msg)
	}
}

func TestLex_UnexpectedCharacter(t *testing.T) {
	se := lexErr(t, "x = 1 @ 2\n")
	if !strings.Contains(se.Msg, `unexpected character "@"`) {
		t.Errorf("msg = %q, want unexpected character", se.Msg)
	}
}

// --- Positions ---

func TestLex_PositionsAreOneBased(t *testing.T) {
	tokens := mustLex(t, "x = 1\ny = 2\n")
	if got := tokens[0].Pos; got.Line != 1 || got.Col != 1 {
		t.Errorf("first token pos = %v, want line 1, col 1", got)
	}
	// Second line's name.
	if got := tokens[4].Pos; got.Line != 2 || got.Col != 1 {
		t.Errorf("second line pos = %v, want line 2, col 1", got)
	}
}

func TestLex_ErrorPositionPointsAtOffendingText(t *testing.T) {
	se := lexErr(t, "x = 2 ** 3\n")
	if se.Pos.Line != 1 || se.Pos.Col != 7 {
		t.Errorf("pos = %v, want line 1, col 7", se.Pos)
	}
	if !strings.Contains(se.Error(), "line 1, col 7") {
		t.Errorf("Error() = %q, want rendered position", se.Error())
	}
}
