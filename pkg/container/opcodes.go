// Package container defines the executable container format: the
// instruction set, the binary layout (header, constant pool, code
// section, task table, optional debug section) and the serializer,
// deserializer, validator and disassembler that operate on it.
package container

import "fmt"

// Opcode is a single bytecode instruction opcode.
type Opcode byte

// Opcodes are grouped by hex range so related instructions stay
// adjacent and new ones can be added without renumbering.
const (
	// 0x00-0x0F: constants and stack basics
	OpNop       Opcode = 0x00
	OpLoadConst Opcode = 0x01 // operand: u16 constant pool index
	OpLoadTrue  Opcode = 0x07
	OpLoadFalse Opcode = 0x08

	// 0x10-0x2F: variable access
	OpLoadVar    Opcode = 0x10 // operand: u16 variable table index
	OpStoreVar   Opcode = 0x18 // operand: u16 variable table index
	OpLoadLocal  Opcode = 0x20 // operand: u16 frame local index
	OpStoreLocal Opcode = 0x28 // operand: u16 frame local index

	// 0x30-0x3F: 32-bit integer arithmetic, wrapping
	OpAdd Opcode = 0x30
	OpSub Opcode = 0x31
	OpMul Opcode = 0x32
	OpDiv Opcode = 0x33
	OpMod Opcode = 0x34
	OpNeg Opcode = 0x35

	// 0x40-0x4F: store-side truncation for narrow integer types
	OpTruncI8  Opcode = 0x40
	OpTruncU8  Opcode = 0x41
	OpTruncI16 Opcode = 0x42
	OpTruncU16 Opcode = 0x43

	// 0x54-0x5F: boolean logic
	OpBoolAnd Opcode = 0x54
	OpBoolOr  Opcode = 0x55
	OpBoolXor Opcode = 0x56
	OpBoolNot Opcode = 0x57

	// 0x68-0x6F: comparisons, signed 32-bit, push 1 or 0
	OpEq Opcode = 0x68
	OpNe Opcode = 0x69
	OpLt Opcode = 0x6A
	OpLe Opcode = 0x6B
	OpGt Opcode = 0x6C
	OpGe Opcode = 0x6D

	// 0x80-0x8F: control flow; operand is an i16 offset relative to
	// the instruction following the jump
	OpJmp      Opcode = 0x80
	OpJmpTrue  Opcode = 0x81 // pops condition, jumps when nonzero
	OpJmpFalse Opcode = 0x82 // pops condition, jumps when zero

	// 0xB0-0xBF: calls and returns
	OpCall    Opcode = 0xB0 // operand: u16 function id
	OpRetVoid Opcode = 0xB5
	OpRetVal  Opcode = 0xB6 // returns top of stack to the caller

	// 0xC0-0xCF: builtin dispatch
	OpBuiltin Opcode = 0xC4 // operand: u16 builtin id
)

// Builtin ids dispatched by OpBuiltin.
const (
	BuiltinExptI32 uint16 = 0x0340 // pops exponent then base, pushes base**exp
)

// OpcodeInfo describes an opcode's mnemonic, stack effect and operand
// size. StackPop/StackPush let the code generator and the validator
// track stack depth without a per-opcode switch.
type OpcodeInfo struct {
	Name       string
	StackPop   int
	StackPush  int
	OperandLen int // bytes of inline operand following the opcode
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:       {"NOP", 0, 0, 0},
	OpLoadConst: {"LOAD_CONST", 0, 1, 2},
	OpLoadTrue:  {"LOAD_TRUE", 0, 1, 0},
	OpLoadFalse: {"LOAD_FALSE", 0, 1, 0},

	OpLoadVar:    {"LOAD_VAR", 0, 1, 2},
	OpStoreVar:   {"STORE_VAR", 1, 0, 2},
	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 2},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 2},

	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},

	OpTruncI8:  {"TRUNC_I8", 1, 1, 0},
	OpTruncU8:  {"TRUNC_U8", 1, 1, 0},
	OpTruncI16: {"TRUNC_I16", 1, 1, 0},
	OpTruncU16: {"TRUNC_U16", 1, 1, 0},

	OpBoolAnd: {"BOOL_AND", 2, 1, 0},
	OpBoolOr:  {"BOOL_OR", 2, 1, 0},
	OpBoolXor: {"BOOL_XOR", 2, 1, 0},
	OpBoolNot: {"BOOL_NOT", 1, 1, 0},

	OpEq: {"EQ", 2, 1, 0},
	OpNe: {"NE", 2, 1, 0},
	OpLt: {"LT", 2, 1, 0},
	OpLe: {"LE", 2, 1, 0},
	OpGt: {"GT", 2, 1, 0},
	OpGe: {"GE", 2, 1, 0},

	OpJmp:      {"JMP", 0, 0, 2},
	OpJmpTrue:  {"JMP_TRUE", 1, 0, 2},
	OpJmpFalse: {"JMP_FALSE", 1, 0, 2},

	OpCall:    {"CALL", 0, 0, 2},
	OpRetVoid: {"RET_VOID", 0, 0, 0},
	OpRetVal:  {"RET_VAL", 1, 0, 0},

	OpBuiltin: {"BUILTIN", 2, 1, 2},
}

// GetOpcodeInfo returns metadata for op, or false for an unknown byte.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// String returns the opcode's mnemonic.
func (op Opcode) String() string {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// OperandLen returns the number of operand bytes following op, or 0
// for an unknown opcode.
func (op Opcode) OperandLen() int {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.OperandLen
	}
	return 0
}

// InstructionLen returns the full encoded length of op including its
// operand bytes.
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump reports whether op transfers control via a relative offset.
func (op Opcode) IsJump() bool {
	return op == OpJmp || op == OpJmpTrue || op == OpJmpFalse
}

// IsReturn reports whether op ends the current function.
func (op Opcode) IsReturn() bool {
	return op == OpRetVoid || op == OpRetVal
}
