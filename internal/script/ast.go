package script

// Node is implemented by every syntax tree node.
type Node interface {
	// Position returns where the node starts in the source.
	Position() Pos
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// --- Statements ---

// AssignStmt is `target = value` or an augmented form (`+=` etc.).
// Target is a NameExpr or an IndexExpr.
type AssignStmt struct {
	Pos    Pos
	Target Expr
	Op     Kind // Assign, PlusAssign, MinusAssign, StarAssign, SlashAssign
	Value  Expr
}

// ExprStmt is a bare expression evaluated for its side effects,
// typically a tool call.
type ExprStmt struct {
	Pos Pos
	X   Expr
}

// IfStmt is an if/elif/else chain. Elif arms are nested IfStmts in Else.
type IfStmt struct {
	Pos  Pos
	Cond Expr
	Body []Stmt
	Else []Stmt // nil when absent
}

// WhileStmt is a while loop.
type WhileStmt struct {
	Pos  Pos
	Cond Expr
	Body []Stmt
}

// ForStmt is `for name in iter` or `for a, b in iter` (pair unpacking).
type ForStmt struct {
	Pos   Pos
	Names []string // one or two loop variables
	Iter  Expr
	Body  []Stmt
}

// DefStmt declares a script-local function.
type DefStmt struct {
	Pos    Pos
	Name   string
	Params []string
	Body   []Stmt
}

// ReturnStmt returns from a script-local function.
type ReturnStmt struct {
	Pos   Pos
	Value Expr // nil for a bare return
}

// PassStmt does nothing.
type PassStmt struct {
	Pos Pos
}

// BreakStmt exits the innermost loop.
type BreakStmt struct {
	Pos Pos
}

// ContinueStmt advances the innermost loop.
type ContinueStmt struct {
	Pos Pos
}

// ImportStmt is an `import x` or `from x import y` statement. The
// parser keeps it so the validator can reject it with the module name
// and position; it never executes.
type ImportStmt struct {
	Pos    Pos
	Module string
}

func (s *AssignStmt) Position() Pos   { return s.Pos }
func (s *ExprStmt) Position() Pos     { return s.Pos }
func (s *IfStmt) Position() Pos       { return s.Pos }
func (s *WhileStmt) Position() Pos    { return s.Pos }
func (s *ForStmt) Position() Pos      { return s.Pos }
func (s *DefStmt) Position() Pos      { return s.Pos }
func (s *ReturnStmt) Position() Pos   { return s.Pos }
func (s *PassStmt) Position() Pos     { return s.Pos }
func (s *BreakStmt) Position() Pos    { return s.Pos }
func (s *ContinueStmt) Position() Pos { return s.Pos }
func (s *ImportStmt) Position() Pos   { return s.Pos }

func (*AssignStmt) stmtNode()   {}
func (*ExprStmt) stmtNode()     {}
func (*IfStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()    {}
func (*ForStmt) stmtNode()      {}
func (*DefStmt) stmtNode()      {}
func (*ReturnStmt) stmtNode()   {}
func (*PassStmt) stmtNode()     {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}
func (*ImportStmt) stmtNode()   {}

// --- Expressions ---

// NameExpr is an identifier reference.
type NameExpr struct {
	Pos  Pos
	Name string
}

// IntLit is an integer literal.
type IntLit struct {
	Pos   Pos
	Value int64
}

// FloatLit is a floating-point literal.
type FloatLit struct {
	Pos   Pos
	Value float64
}

// StringLit is a string literal with escapes already decoded.
type StringLit struct {
	Pos   Pos
	Value string
}

// BoolLit is True or False.
type BoolLit struct {
	Pos   Pos
	Value bool
}

// NoneLit is None.
type NoneLit struct {
	Pos Pos
}

// ListLit is `[a, b, c]`.
type ListLit struct {
	Pos   Pos
	Elems []Expr
}

// DictLit is `{k: v, ...}`. Keys and Values are parallel.
type DictLit struct {
	Pos    Pos
	Keys   []Expr
	Values []Expr
}

// UnaryExpr is `-x` or `not x`.
type UnaryExpr struct {
	Pos Pos
	Op  Kind // Minus, KwNot
	X   Expr
}

// BinaryExpr covers arithmetic, comparison, membership, identity, and
// short-circuit boolean operators. NotIn and IsNot mark the negated
// two-word forms.
type BinaryExpr struct {
	Pos   Pos
	Op    Kind // Plus..Percent, Eq..GtEq, KwIn, KwIs, KwAnd, KwOr
	NotIn bool // `x not in y` when Op == KwIn
	IsNot bool // `x is not y` when Op == KwIs
	X     Expr
	Y     Expr
}

// CondExpr is the ternary `a if cond else b`.
type CondExpr struct {
	Pos  Pos
	Cond Expr
	Then Expr
	Else Expr
}

// CallExpr is a call with positional and keyword arguments.
type CallExpr struct {
	Pos    Pos
	Func   Expr
	Args   []Expr
	Kwargs []Kwarg
}

// Kwarg is one `name=value` call argument.
type Kwarg struct {
	Name  string
	Value Expr
}

// IndexExpr is `x[i]`.
type IndexExpr struct {
	Pos   Pos
	X     Expr
	Index Expr
}

// SliceExpr is `x[lo:hi]`; either bound may be nil.
type SliceExpr struct {
	Pos Pos
	X   Expr
	Lo  Expr
	Hi  Expr
}

// AttrExpr is `x.name`. The validator decides which attribute names
// are reachable; the parser records them all.
type AttrExpr struct {
	Pos  Pos
	X    Expr
	Name string
}

func (e *NameExpr) Position() Pos   { return e.Pos }
func (e *IntLit) Position() Pos     { return e.Pos }
func (e *FloatLit) Position() Pos   { return e.Pos }
func (e *StringLit) Position() Pos  { return e.Pos }
func (e *BoolLit) Position() Pos    { return e.Pos }
func (e *NoneLit) Position() Pos    { return e.Pos }
func (e *ListLit) Position() Pos    { return e.Pos }
func (e *DictLit) Position() Pos    { return e.Pos }
func (e *UnaryExpr) Position() Pos  { return e.Pos }
func (e *BinaryExpr) Position() Pos { return e.Pos }
func (e *CondExpr) Position() Pos   { return e.Pos }
func (e *CallExpr) Position() Pos   { return e.Pos }
func (e *IndexExpr) Position() Pos  { return e.Pos }
func (e *SliceExpr) Position() Pos  { return e.Pos }
func (e *AttrExpr) Position() Pos   { return e.Pos }

func (*NameExpr) exprNode()   {}
func (*IntLit) exprNode()     {}
func (*FloatLit) exprNode()   {}
func (*StringLit) exprNode()  {}
func (*BoolLit) exprNode()    {}
func (*NoneLit) exprNode()    {}
func (*ListLit) exprNode()    {}
func (*DictLit) exprNode()    {}
func (*UnaryExpr) exprNode()  {}
func (*BinaryExpr) exprNode() {}
func (*CondExpr) exprNode()   {}
func (*CallExpr) exprNode()   {}
func (*IndexExpr) exprNode()  {}
func (*SliceExpr) exprNode()  {}
func (*AttrExpr) exprNode()   {}
