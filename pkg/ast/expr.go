package ast

// Expr is implemented by every expression node. Type() returns the
// resolved result type of evaluating the node.
type Expr interface {
	exprNode()
	Type() Type
}

// IntLiteral is an integer literal of any integer elementary type.
// The frontend range-checks the value against ResultType before
// producing the node.
type IntLiteral struct {
	Value      int64
	ResultType Type
	Loc        Location
}

// BoolLiteral is TRUE or FALSE.
type BoolLiteral struct {
	Value bool
	Loc   Location
}

// VarRef reads a declared variable. Index is the position of the
// declaration inside the enclosing POU's Vars slice.
type VarRef struct {
	Name       string
	Index      int
	Storage    StorageClass
	ResultType Type
	Loc        Location
}

// FieldRef reads a field of a function block instance, e.g. timer.Q.
// InstanceIndex names the instance declaration; FieldIndex names the
// field declaration inside the block's type.
type FieldRef struct {
	InstanceIndex int
	FieldIndex    int
	ResultType    Type
	Loc           Location
}

// BinaryOp is an arithmetic operator on two integer operands.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpExpt
)

var binaryOpNames = [...]string{"+", "-", "*", "/", "MOD", "**"}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "?"
}

// Binary applies Op to Left and Right. Both operands have already been
// promoted to a common type by the frontend.
type Binary struct {
	Op          BinaryOp
	Left, Right Expr
	ResultType  Type
	Loc         Location
}

// Unary is arithmetic negation or boolean NOT.
type Unary struct {
	Negate     bool // true for -x, false for NOT x
	Operand    Expr
	ResultType Type
	Loc        Location
}

// CompareOp is a relational operator producing BOOL.
type CompareOp int

const (
	CmpEq CompareOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

var compareOpNames = [...]string{"=", "<>", "<", "<=", ">", ">="}

func (op CompareOp) String() string {
	if int(op) < len(compareOpNames) {
		return compareOpNames[op]
	}
	return "?"
}

// Compare applies Op to two operands of the same type, yielding BOOL.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
	Loc         Location
}

// LogicalOp combines BOOL operands.
type LogicalOp int

const (
	LogAnd LogicalOp = iota
	LogOr
	LogXor
)

var logicalOpNames = [...]string{"AND", "OR", "XOR"}

func (op LogicalOp) String() string {
	if int(op) < len(logicalOpNames) {
		return logicalOpNames[op]
	}
	return "?"
}

// Logical applies Op to two BOOL operands. Both sides are always
// evaluated; the language has no short-circuit forms.
type Logical struct {
	Op          LogicalOp
	Left, Right Expr
	Loc         Location
}

// Call invokes a FUNCTION by name with positional arguments matching
// the callee's VAR_INPUT declarations in order.
type Call struct {
	Callee     string
	Args       []Expr
	ResultType Type
	Loc        Location
}

func (*IntLiteral) exprNode()  {}
func (*BoolLiteral) exprNode() {}
func (*VarRef) exprNode()      {}
func (*FieldRef) exprNode()    {}
func (*Binary) exprNode()      {}
func (*Unary) exprNode()       {}
func (*Compare) exprNode()     {}
func (*Logical) exprNode()     {}
func (*Call) exprNode()        {}

func (e *IntLiteral) Type() Type  { return e.ResultType }
func (e *BoolLiteral) Type() Type { return TypeBool }
func (e *VarRef) Type() Type      { return e.ResultType }
func (e *FieldRef) Type() Type    { return e.ResultType }
func (e *Binary) Type() Type      { return e.ResultType }
func (e *Unary) Type() Type       { return e.ResultType }
func (e *Compare) Type() Type     { return TypeBool }
func (e *Logical) Type() Type     { return TypeBool }
func (e *Call) Type() Type        { return e.ResultType }
