// Package ast defines the checked program tree consumed by the code
// generator. The tree is produced by the frontend after name resolution
// and type checking, so every node carries its resolved elementary type
// and every variable reference points at a declaration by index.
package ast

import "fmt"

// Library is the root of a checked program tree: one or more POUs plus
// the task configuration that binds programs to scan-cycle tasks.
type Library struct {
	Name  string
	Pous  []Pou
	Tasks []TaskDecl
}

// PouKind discriminates the three program organization unit flavors.
type PouKind int

const (
	PouProgram PouKind = iota
	PouFunction
	PouFunctionBlock
)

func (k PouKind) String() string {
	switch k {
	case PouProgram:
		return "PROGRAM"
	case PouFunction:
		return "FUNCTION"
	case PouFunctionBlock:
		return "FUNCTION_BLOCK"
	}
	return fmt.Sprintf("PouKind(%d)", int(k))
}

// Pou is a program organization unit. Declarations appear in source
// order; the code generator assigns slots from that order, so the
// frontend must not reorder them.
type Pou struct {
	Name       string
	Kind       PouKind
	ReturnType Type // PouFunction only; TypeNone otherwise
	Vars       []VarDecl
	Body       []Stmt
}

// StorageClass says which variable section a declaration came from.
type StorageClass int

const (
	StorageInput StorageClass = iota
	StorageOutput
	StorageMemory // VAR in a PROGRAM: retained across scans
	StorageLocal  // VAR in a FUNCTION: frame-local, reinitialized per call
)

func (s StorageClass) String() string {
	switch s {
	case StorageInput:
		return "VAR_INPUT"
	case StorageOutput:
		return "VAR_OUTPUT"
	case StorageMemory:
		return "VAR"
	case StorageLocal:
		return "VAR_LOCAL"
	}
	return fmt.Sprintf("StorageClass(%d)", int(s))
}

// VarDecl is a single variable declaration. Init is nil when the
// declaration has no initializer; the type's zero value applies.
type VarDecl struct {
	Name    string
	Type    Type
	Storage StorageClass
	Init    Expr
	// FbType names the function block type when Type is TypeFbInstance.
	FbType string
}

// TaskDecl binds a program to a periodic task.
type TaskDecl struct {
	Name       string
	Program    string // name of the PROGRAM this task runs
	Priority   uint8  // 0 is highest
	IntervalUs uint64
	WatchdogUs uint64 // 0 means "use the interval as the bound"
}

// Type is an elementary type identifier. The numeric values are
// stable because they flow into the container's constant pool tags.
type Type uint8

const (
	TypeNone Type = iota
	TypeBool
	TypeSint
	TypeInt
	TypeDint
	TypeUsint
	TypeUint
	TypeUdint
	TypeLint
	TypeUlint
	TypeReal
	TypeLreal
	TypeTime
	TypeFbInstance
)

var typeNames = map[Type]string{
	TypeNone:       "NONE",
	TypeBool:       "BOOL",
	TypeSint:       "SINT",
	TypeInt:        "INT",
	TypeDint:       "DINT",
	TypeUsint:      "USINT",
	TypeUint:       "UINT",
	TypeUdint:      "UDINT",
	TypeLint:       "LINT",
	TypeUlint:      "ULINT",
	TypeReal:       "REAL",
	TypeLreal:      "LREAL",
	TypeTime:       "TIME",
	TypeFbInstance: "FB_INSTANCE",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// TypeInfo describes how a type is stored and operated on. All integer
// arithmetic is performed at 32-bit width; narrower types are truncated
// on store, so StorageBits < 32 means a truncation op is emitted.
type TypeInfo struct {
	StorageBits int
	Signed      bool
	Integer     bool
}

var typeInfoTable = map[Type]TypeInfo{
	TypeBool:  {StorageBits: 8, Signed: false, Integer: true},
	TypeSint:  {StorageBits: 8, Signed: true, Integer: true},
	TypeInt:   {StorageBits: 16, Signed: true, Integer: true},
	TypeDint:  {StorageBits: 32, Signed: true, Integer: true},
	TypeUsint: {StorageBits: 8, Signed: false, Integer: true},
	TypeUint:  {StorageBits: 16, Signed: false, Integer: true},
	TypeUdint: {StorageBits: 32, Signed: false, Integer: true},
	TypeLint:  {StorageBits: 64, Signed: true, Integer: true},
	TypeUlint: {StorageBits: 64, Signed: false, Integer: true},
	TypeReal:  {StorageBits: 32, Signed: true, Integer: false},
	TypeLreal: {StorageBits: 64, Signed: true, Integer: false},
	TypeTime:  {StorageBits: 64, Signed: true, Integer: true},
}

// Info returns the storage description for t. The second result is
// false for TypeNone and TypeFbInstance, which have no scalar storage.
func (t Type) Info() (TypeInfo, bool) {
	info, ok := typeInfoTable[t]
	return info, ok
}

// Location is a position in the original source, carried through for
// diagnostics and the optional debug section.
type Location struct {
	Line int
	Col  int
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Col)
}
