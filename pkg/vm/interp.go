package vm

import (
	"encoding/binary"
	"math"

	"github.com/plcforge/stbc/pkg/container"
)

// frame is one call activation: its own pc, locals and operand stack.
// Stacks are per-frame; CALL and RET_VAL are the only places slots
// cross between them.
type frame struct {
	fn     *container.Function
	pc     int
	locals []Slot
	stack  *OperandStack
}

// interp drives one scan: it executes an entry function to completion
// against the VM's variable table.
type interp struct {
	c      *container.Container
	vt     *VariableTable
	frames []frame
}

func newInterp(c *container.Container, vt *VariableTable) *interp {
	return &interp{c: c, vt: vt}
}

func (in *interp) pushFrame(fn *container.Function) {
	in.frames = append(in.frames, frame{
		fn:     fn,
		locals: make([]Slot, fn.NumLocals),
		stack:  NewOperandStack(int(fn.MaxStackDepth)),
	})
}

// execute runs the function with the given id to completion. It
// returns nil on a clean return and a *Trap otherwise; the variable
// table keeps whatever writes completed before the trap.
func (in *interp) execute(fnID uint16) error {
	fn, ok := in.c.Code.Lookup(fnID)
	if !ok {
		return trapf(TrapInvalidFunction, fnID, 0, "no function %d", fnID)
	}
	in.frames = in.frames[:0]
	in.pushFrame(fn)

	for {
		f := &in.frames[len(in.frames)-1]
		if f.pc >= len(f.fn.Code) {
			return trapf(TrapInvalidInstruction, f.fn.ID, uint32(f.pc), "pc past end of code")
		}
		insOff := uint32(f.pc)
		op := container.Opcode(f.fn.Code[f.pc])
		info, known := container.GetOpcodeInfo(op)
		if !known {
			return trapf(TrapInvalidInstruction, f.fn.ID, insOff, "opcode 0x%02X", byte(op))
		}
		if f.pc+1+info.OperandLen > len(f.fn.Code) {
			return trapf(TrapInvalidInstruction, f.fn.ID, insOff, "%s operand truncated", op)
		}
		var operand uint16
		if info.OperandLen == 2 {
			operand = binary.LittleEndian.Uint16(f.fn.Code[f.pc+1:])
		}
		f.pc += 1 + info.OperandLen

		push := func(v Slot) error {
			if err := f.stack.Push(v); err != nil {
				return trapf(TrapStackOverflow, f.fn.ID, insOff, "depth %d", f.stack.Depth())
			}
			return nil
		}
		pop := func() (Slot, error) {
			v, err := f.stack.Pop()
			if err != nil {
				return 0, trapf(TrapStackUnderflow, f.fn.ID, insOff, "%s on empty stack", op)
			}
			return v, nil
		}
		pop2 := func() (Slot, Slot, error) {
			b, err := pop()
			if err != nil {
				return 0, 0, err
			}
			a, err := pop()
			if err != nil {
				return 0, 0, err
			}
			return a, b, nil
		}

		switch op {
		case container.OpNop:

		case container.OpLoadConst:
			if int(operand) >= len(in.c.Pool.Entries) {
				return trapf(TrapInvalidConstant, f.fn.ID, insOff, "index %d, pool size %d", operand, len(in.c.Pool.Entries))
			}
			e := in.c.Pool.Entries[operand]
			if e.Type != container.ConstI32 {
				return trapf(TrapConstantType, f.fn.ID, insOff, "constant %d is %s, want I32", operand, e.Type)
			}
			if err := push(SlotFromI32(int32(binary.LittleEndian.Uint32(e.Value)))); err != nil {
				return err
			}

		case container.OpLoadTrue:
			if err := push(1); err != nil {
				return err
			}
		case container.OpLoadFalse:
			if err := push(0); err != nil {
				return err
			}

		case container.OpLoadVar:
			v, err := in.vt.Load(operand)
			if err != nil {
				return trapf(TrapInvalidVariable, f.fn.ID, insOff, "slot %d, table size %d", operand, in.vt.Len())
			}
			if err := push(v); err != nil {
				return err
			}
		case container.OpStoreVar:
			v, err := pop()
			if err != nil {
				return err
			}
			if err := in.vt.Store(operand, v); err != nil {
				return trapf(TrapInvalidVariable, f.fn.ID, insOff, "slot %d, table size %d", operand, in.vt.Len())
			}

		case container.OpLoadLocal:
			if int(operand) >= len(f.locals) {
				return trapf(TrapInvalidLocal, f.fn.ID, insOff, "local %d, frame has %d", operand, len(f.locals))
			}
			if err := push(f.locals[operand]); err != nil {
				return err
			}
		case container.OpStoreLocal:
			if int(operand) >= len(f.locals) {
				return trapf(TrapInvalidLocal, f.fn.ID, insOff, "local %d, frame has %d", operand, len(f.locals))
			}
			v, err := pop()
			if err != nil {
				return err
			}
			f.locals[operand] = v

		case container.OpAdd, container.OpSub, container.OpMul, container.OpDiv, container.OpMod:
			a, b, err := pop2()
			if err != nil {
				return err
			}
			r, trap := arith(op, a.I32(), b.I32())
			if trap {
				return trapf(TrapDivideByZero, f.fn.ID, insOff, "%s", op)
			}
			if err := push(SlotFromI32(r)); err != nil {
				return err
			}
		case container.OpNeg:
			v, err := pop()
			if err != nil {
				return err
			}
			if err := push(SlotFromI32(-v.I32())); err != nil {
				return err
			}

		case container.OpTruncI8, container.OpTruncU8, container.OpTruncI16, container.OpTruncU16:
			v, err := pop()
			if err != nil {
				return err
			}
			if err := push(SlotFromI32(truncate(op, v.I32()))); err != nil {
				return err
			}

		case container.OpBoolAnd, container.OpBoolOr, container.OpBoolXor:
			a, b, err := pop2()
			if err != nil {
				return err
			}
			var r bool
			switch op {
			case container.OpBoolAnd:
				r = a.Bool() && b.Bool()
			case container.OpBoolOr:
				r = a.Bool() || b.Bool()
			case container.OpBoolXor:
				r = a.Bool() != b.Bool()
			}
			if err := push(SlotFromBool(r)); err != nil {
				return err
			}
		case container.OpBoolNot:
			v, err := pop()
			if err != nil {
				return err
			}
			if err := push(SlotFromBool(!v.Bool())); err != nil {
				return err
			}

		case container.OpEq, container.OpNe, container.OpLt, container.OpLe, container.OpGt, container.OpGe:
			a, b, err := pop2()
			if err != nil {
				return err
			}
			if err := push(SlotFromBool(compare(op, a.I32(), b.I32()))); err != nil {
				return err
			}

		case container.OpJmp:
			f.pc += int(int16(operand))
		case container.OpJmpTrue:
			v, err := pop()
			if err != nil {
				return err
			}
			if v.Bool() {
				f.pc += int(int16(operand))
			}
		case container.OpJmpFalse:
			v, err := pop()
			if err != nil {
				return err
			}
			if !v.Bool() {
				f.pc += int(int16(operand))
			}

		case container.OpCall:
			callee, ok := in.c.Code.Lookup(operand)
			if !ok {
				return trapf(TrapInvalidFunction, f.fn.ID, insOff, "call of function %d", operand)
			}
			if len(in.frames) >= int(in.c.Header.MaxCallDepth) {
				return trapf(TrapCallDepthExceeded, f.fn.ID, insOff, "depth %d", len(in.frames))
			}
			args := make([]Slot, callee.NumParams)
			for i := int(callee.NumParams) - 1; i >= 0; i-- {
				v, err := pop()
				if err != nil {
					return err
				}
				args[i] = v
			}
			in.pushFrame(callee)
			nf := &in.frames[len(in.frames)-1]
			copy(nf.locals, args)

		case container.OpRetVoid:
			in.frames = in.frames[:len(in.frames)-1]
			if len(in.frames) == 0 {
				return nil
			}
		case container.OpRetVal:
			v, err := pop()
			if err != nil {
				return err
			}
			in.frames = in.frames[:len(in.frames)-1]
			if len(in.frames) == 0 {
				return nil
			}
			caller := &in.frames[len(in.frames)-1]
			if err := caller.stack.Push(v); err != nil {
				return trapf(TrapStackOverflow, caller.fn.ID, uint32(caller.pc), "return value")
			}

		case container.OpBuiltin:
			switch operand {
			case container.BuiltinExptI32:
				base, exp, err := pop2()
				if err != nil {
					return err
				}
				if exp.I32() < 0 {
					return trapf(TrapNegativeExponent, f.fn.ID, insOff, "exponent %d", exp.I32())
				}
				if err := push(SlotFromI32(exptI32(base.I32(), exp.I32()))); err != nil {
					return err
				}
			default:
				return trapf(TrapInvalidInstruction, f.fn.ID, insOff, "builtin 0x%04X", operand)
			}

		default:
			return trapf(TrapInvalidInstruction, f.fn.ID, insOff, "unhandled %s", op)
		}
	}
}

// arith applies a wrapping i32 operator. The second result reports a
// zero divisor. MinInt32 / -1 wraps instead of faulting the host.
func arith(op container.Opcode, a, b int32) (int32, bool) {
	switch op {
	case container.OpAdd:
		return a + b, false
	case container.OpSub:
		return a - b, false
	case container.OpMul:
		return a * b, false
	case container.OpDiv:
		if b == 0 {
			return 0, true
		}
		if a == math.MinInt32 && b == -1 {
			return math.MinInt32, false
		}
		return a / b, false
	case container.OpMod:
		if b == 0 {
			return 0, true
		}
		if a == math.MinInt32 && b == -1 {
			return 0, false
		}
		return a % b, false
	}
	return 0, false
}

func truncate(op container.Opcode, v int32) int32 {
	switch op {
	case container.OpTruncI8:
		return int32(int8(v))
	case container.OpTruncU8:
		return int32(uint8(v))
	case container.OpTruncI16:
		return int32(int16(v))
	case container.OpTruncU16:
		return int32(uint16(v))
	}
	return v
}

func compare(op container.Opcode, a, b int32) bool {
	switch op {
	case container.OpEq:
		return a == b
	case container.OpNe:
		return a != b
	case container.OpLt:
		return a < b
	case container.OpLe:
		return a <= b
	case container.OpGt:
		return a > b
	case container.OpGe:
		return a >= b
	}
	return false
}

// exptI32 is wrapping square-and-multiply exponentiation.
func exptI32(base, exp int32) int32 {
	result := int32(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}
