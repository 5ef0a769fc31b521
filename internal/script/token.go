package script

import "fmt"

// Kind classifies a lexical token.
type Kind int

const (
	EOF Kind = iota
	Newline
	Indent
	Dedent

	Name
	Int
	Float
	String

	// Keywords with dedicated grammar rules.
	KwIf
	KwElif
	KwElse
	KwFor
	KwWhile
	KwDef
	KwReturn
	KwPass
	KwBreak
	KwContinue
	KwAnd
	KwOr
	KwNot
	KwIn
	KwIs
	KwTrue
	KwFalse
	KwNone
	KwImport
	KwFrom
	KwAs

	// Reserved keywords with no grammar rule. The parser names them in
	// its error so a regenerated script gets a usable diagnostic.
	KwReserved

	// Operators and delimiters.
	Assign      // =
	PlusAssign  // +=
	MinusAssign // -=
	StarAssign  // *=
	SlashAssign // /=
	Eq          // ==
	NotEq       // !=
	Lt          // <
	LtEq        // <=
	Gt          // >
	GtEq        // >=
	Plus        // +
	Minus       // -
	Star        // *
	Slash       // /
	SlashSlash  // //
	Percent     // %
	LParen      // (
	RParen      // )
	LBracket    // [
	RBracket    // ]
	LBrace      // {
	RBrace      // }
	Comma       // ,
	Colon       // :
	Dot         // .
)

// keywords maps source text to keyword kinds. Entries mapping to
// KwReserved are recognized so the parser can reject them by name
// instead of producing a generic syntax error.
var keywords = map[string]Kind{
	"if":       KwIf,
	"elif":     KwElif,
	"else":     KwElse,
	"for":      KwFor,
	"while":    KwWhile,
	"def":      KwDef,
	"return":   KwReturn,
	"pass":     KwPass,
	"break":    KwBreak,
	"continue": KwContinue,
	"and":      KwAnd,
	"or":       KwOr,
	"not":      KwNot,
	"in":       KwIn,
	"is":       KwIs,
	"True":     KwTrue,
	"False":    KwFalse,
	"None":     KwNone,
	"import":   KwImport,
	"from":     KwFrom,
	"as":       KwAs,

	"lambda":   KwReserved,
	"class":    KwReserved,
	"try":      KwReserved,
	"except":   KwReserved,
	"finally":  KwReserved,
	"raise":    KwReserved,
	"with":     KwReserved,
	"global":   KwReserved,
	"nonlocal": KwReserved,
	"del":      KwReserved,
	"assert":   KwReserved,
	"yield":    KwReserved,
	"async":    KwReserved,
	"await":    KwReserved,
	"exec":     KwReserved,
}

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("line %d, col %d", p.Line, p.Col)
}

// Token is one lexical unit of a plan script.
type Token struct {
	Kind Kind
	Text string // Raw text for Name, String (decoded), numbers, and keywords.
	Pos  Pos
}

func (t Token) String() string {
	switch t.Kind {
	case EOF:
		return "end of script"
	case Newline:
		return "end of line"
	case Indent:
		return "indent"
	case Dedent:
		return "dedent"
	case String:
		return fmt.Sprintf("string %q", t.Text)
	default:
		return fmt.Sprintf("%q", t.Text)
	}
}
