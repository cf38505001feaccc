package container

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Disassembly is the decoded, read-only view of a container. Building
// it never mutates the container, so callers can disassemble a loaded
// artifact at any point.
type Disassembly struct {
	Header    Header
	Constants []ConstantView
	Functions []FunctionDisasm
}

// ConstantView is one pool entry rendered for display.
type ConstantView struct {
	Index uint16
	Type  ConstType
	Value string
}

// FunctionDisasm is one function's decoded instruction list.
type FunctionDisasm struct {
	ID            uint16
	Name          string // from the debug section when present
	MaxStackDepth uint16
	NumLocals     uint16
	Instructions  []Instruction
}

// Instruction is a single decoded instruction.
type Instruction struct {
	Offset   int
	Opcode   Opcode
	Operands []int
	Comment  string
}

// Disassemble decodes every function body. It fails on an unknown
// opcode or an instruction whose operand runs past the end of the
// code, naming the function and offset.
func (c *Container) Disassemble() (*Disassembly, error) {
	d := &Disassembly{Header: c.Header}
	for i, e := range c.Pool.Entries {
		d.Constants = append(d.Constants, ConstantView{
			Index: uint16(i),
			Type:  e.Type,
			Value: renderConstant(e),
		})
	}
	for _, f := range c.Code.Functions {
		fd := FunctionDisasm{
			ID:            f.ID,
			Name:          c.functionName(f.ID),
			MaxStackDepth: f.MaxStackDepth,
			NumLocals:     f.NumLocals,
		}
		offset := 0
		for offset < len(f.Code) {
			ins, length, err := c.decodeInstruction(f.Code, offset)
			if err != nil {
				return nil, fmt.Errorf("function %d at offset %04X: %w", f.ID, offset, err)
			}
			fd.Instructions = append(fd.Instructions, ins)
			offset += length
		}
		d.Functions = append(d.Functions, fd)
	}
	return d, nil
}

func (c *Container) functionName(id uint16) string {
	if c.Debug == nil {
		return ""
	}
	for _, f := range c.Debug.Functions {
		if f.ID == id {
			return f.PouName
		}
	}
	return ""
}

func (c *Container) decodeInstruction(code []byte, offset int) (Instruction, int, error) {
	op := Opcode(code[offset])
	info, ok := GetOpcodeInfo(op)
	if !ok {
		return Instruction{}, 0, formatErrf(ErrBadCode, "unknown opcode 0x%02X", byte(op))
	}
	if offset+1+info.OperandLen > len(code) {
		return Instruction{}, 0, formatErrf(ErrBadCode, "%s operand truncated", info.Name)
	}
	ins := Instruction{Offset: offset, Opcode: op}
	switch op {
	case OpJmp, OpJmpTrue, OpJmpFalse:
		delta := int(int16(binary.LittleEndian.Uint16(code[offset+1 : offset+3])))
		target := offset + 3 + delta
		ins.Operands = []int{delta}
		ins.Comment = fmt.Sprintf("-> %04X", target)
	case OpLoadConst:
		idx := binary.LittleEndian.Uint16(code[offset+1 : offset+3])
		ins.Operands = []int{int(idx)}
		if int(idx) < len(c.Pool.Entries) {
			ins.Comment = renderConstant(c.Pool.Entries[idx])
		}
	case OpLoadVar, OpStoreVar:
		idx := binary.LittleEndian.Uint16(code[offset+1 : offset+3])
		ins.Operands = []int{int(idx)}
		if c.Debug != nil {
			ins.Comment = c.Debug.VariableName(int(idx))
		}
	case OpBuiltin:
		id := binary.LittleEndian.Uint16(code[offset+1 : offset+3])
		ins.Operands = []int{int(id)}
		if id == BuiltinExptI32 {
			ins.Comment = "EXPT_I32"
		}
	default:
		if info.OperandLen == 2 {
			ins.Operands = []int{int(binary.LittleEndian.Uint16(code[offset+1 : offset+3]))}
		}
	}
	return ins, 1 + info.OperandLen, nil
}

// Render formats the disassembly as a listing, one instruction per
// line in "%04X  NAME operands ; comment" form.
func (d *Disassembly) Render() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; format v%d, entry function %d\n", d.Header.Version, d.Header.EntryFunction))
	sb.WriteString(fmt.Sprintf("; images: input=%d output=%d memory=%d slots\n",
		d.Header.InputImageLen, d.Header.OutputImageLen, d.Header.MemoryImageLen))
	if len(d.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for _, cv := range d.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s %s\n", cv.Index, cv.Type, cv.Value))
		}
	}
	for _, f := range d.Functions {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("fn_%d", f.ID)
		}
		sb.WriteString(fmt.Sprintf("\n; === %s (id=%d, max_stack=%d, locals=%d) ===\n",
			name, f.ID, f.MaxStackDepth, f.NumLocals))
		for _, ins := range f.Instructions {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", ins.Offset, ins.text()))
		}
	}
	return sb.String()
}

func (ins Instruction) text() string {
	var sb strings.Builder
	sb.WriteString(ins.Opcode.String())
	for _, o := range ins.Operands {
		if ins.Opcode.IsJump() {
			sb.WriteString(fmt.Sprintf(" %+d", o))
		} else {
			sb.WriteString(fmt.Sprintf(" %d", o))
		}
	}
	if ins.Comment != "" {
		sb.WriteString(" ; ")
		sb.WriteString(ins.Comment)
	}
	return sb.String()
}

func renderConstant(e Constant) string {
	switch e.Type {
	case ConstI32:
		return fmt.Sprintf("%d", int32(binary.LittleEndian.Uint32(e.Value)))
	case ConstU32:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint32(e.Value))
	case ConstI64:
		return fmt.Sprintf("%d", int64(binary.LittleEndian.Uint64(e.Value)))
	case ConstU64:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint64(e.Value))
	case ConstF32:
		return fmt.Sprintf("%g", math.Float32frombits(binary.LittleEndian.Uint32(e.Value)))
	case ConstF64:
		return fmt.Sprintf("%g", math.Float64frombits(binary.LittleEndian.Uint64(e.Value)))
	}
	return fmt.Sprintf("% X", e.Value)
}
