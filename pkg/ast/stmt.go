package ast

// Stmt is implemented by every statement node.
type Stmt interface {
	stmtNode()
}

// Assign stores the value of Value into the variable Target refers to.
type Assign struct {
	Target *VarRef
	Value  Expr
	Loc    Location
}

// If is an IF .. ELSIF .. ELSE .. END_IF chain. Branches are evaluated
// in order; Else may be empty.
type If struct {
	Branches []IfBranch
	Else     []Stmt
	Loc      Location
}

// IfBranch is one condition/body pair of an If.
type IfBranch struct {
	Cond Expr
	Body []Stmt
}

// Case dispatches on an integer selector. Labels are matched in
// declaration order; the first matching arm wins.
type Case struct {
	Selector Expr
	Arms     []CaseArm
	Else     []Stmt
	Loc      Location
}

// CaseArm is one arm of a CASE statement. A label is either a single
// value (Low == High) or an inclusive range.
type CaseArm struct {
	Labels []CaseLabel
	Body   []Stmt
}

// CaseLabel is a single value or inclusive range label.
type CaseLabel struct {
	Low, High int64
}

// For is a counted loop. Step is nil when the source omits BY; the
// step then defaults to one. The iteration variable holds its final
// value after the loop exits.
type For struct {
	Var      *VarRef
	From, To Expr
	Step     Expr
	Body     []Stmt
	Loc      Location
}

// While runs Body while Cond evaluates TRUE, testing before each
// iteration.
type While struct {
	Cond Expr
	Body []Stmt
	Loc  Location
}

// Repeat runs Body then tests Cond, exiting when it evaluates TRUE.
// The body always executes at least once.
type Repeat struct {
	Body []Stmt
	Cond Expr
	Loc  Location
}

// Exit leaves the innermost enclosing loop.
type Exit struct {
	Loc Location
}

// Return leaves the current POU immediately.
type Return struct {
	Loc Location
}

// FbCall invokes a function block instance: inputs are written, the
// block's body runs against its instance state, then outputs are read
// back into the named sinks.
type FbCall struct {
	InstanceIndex int
	InstanceName  string
	FbType        string
	Inputs        []FbArg
	Loc           Location
}

// FbArg binds an input expression to a field of the called instance.
type FbArg struct {
	FieldIndex int
	FieldName  string
	Value      Expr
}

// Empty is a bare semicolon. It generates no code but is kept so the
// tree mirrors the source statement list.
type Empty struct {
	Loc Location
}

func (*Assign) stmtNode() {}
func (*If) stmtNode()     {}
func (*Case) stmtNode()   {}
func (*For) stmtNode()    {}
func (*While) stmtNode()  {}
func (*Repeat) stmtNode() {}
func (*Exit) stmtNode()   {}
func (*Return) stmtNode() {}
func (*FbCall) stmtNode() {}
func (*Empty) stmtNode()  {}
