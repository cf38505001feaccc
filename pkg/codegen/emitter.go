// Package codegen lowers a checked program tree to an executable
// container: one bytecode function per POU, a deduplicated constant
// pool, deterministic variable slot assignment and a task table built
// from the tree's task declarations.
package codegen

import (
	"encoding/binary"
	"fmt"

	"github.com/plcforge/stbc/pkg/container"
)

// jumpPlaceholder fills a jump operand until its label is bound.
const jumpPlaceholder = 0xFFFF

// Label names a forward or backward jump target. Labels index into
// the emitter's label arena, so they stay valid while the code buffer
// grows.
type Label int

type labelInfo struct {
	bound  bool
	offset int   // code offset of the target once bound
	sites  []int // operand offsets waiting to be patched
}

// Emitter builds one function body. It tracks the running operand
// stack height against the opcode info table; the recorded maximum
// becomes the function's declared stack bound.
type Emitter struct {
	code     []byte
	stack    int
	maxStack int
	labels   []labelInfo
	err      error
}

// NewEmitter returns an empty function body emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

func (e *Emitter) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf(format, args...)
	}
}

// track applies op's stack effect. Net height below zero means the
// generator produced code that would underflow, which is a bug in the
// lowering, not a runtime condition.
func (e *Emitter) track(op container.Opcode) {
	info, ok := container.GetOpcodeInfo(op)
	if !ok {
		e.fail("emit of unknown opcode 0x%02X", byte(op))
		return
	}
	e.stack -= info.StackPop
	if e.stack < 0 {
		e.fail("stack underflow emitting %s at offset %d", op, len(e.code))
		return
	}
	e.stack += info.StackPush
	if e.stack > e.maxStack {
		e.maxStack = e.stack
	}
}

// Emit appends an operand-less instruction.
func (e *Emitter) Emit(op container.Opcode) {
	e.track(op)
	e.code = append(e.code, byte(op))
}

// EmitU16 appends an instruction with one u16 operand.
func (e *Emitter) EmitU16(op container.Opcode, operand uint16) {
	e.track(op)
	e.code = append(e.code, byte(op), 0, 0)
	binary.LittleEndian.PutUint16(e.code[len(e.code)-2:], operand)
}

// EmitCall appends a CALL. The stack effect depends on the callee, so
// it is applied here instead of through the info table: argc operands
// are consumed and one result appears when the callee returns a value.
func (e *Emitter) EmitCall(fn uint16, argc int, returnsValue bool) {
	e.stack -= argc
	if e.stack < 0 {
		e.fail("stack underflow emitting CALL %d at offset %d", fn, len(e.code))
		return
	}
	if returnsValue {
		e.stack++
		if e.stack > e.maxStack {
			e.maxStack = e.stack
		}
	}
	e.code = append(e.code, byte(container.OpCall), 0, 0)
	binary.LittleEndian.PutUint16(e.code[len(e.code)-2:], fn)
}

// NewLabel allocates an unbound label.
func (e *Emitter) NewLabel() Label {
	e.labels = append(e.labels, labelInfo{})
	return Label(len(e.labels) - 1)
}

// EmitJump appends a jump to l with a placeholder offset. If l is
// already bound the operand is resolved immediately, otherwise the
// operand site is recorded for patching at bind time.
func (e *Emitter) EmitJump(op container.Opcode, l Label) {
	if !op.IsJump() {
		e.fail("EmitJump with non-jump opcode %s", op)
		return
	}
	e.track(op)
	site := len(e.code) + 1
	e.code = append(e.code, byte(op), 0, 0)
	binary.LittleEndian.PutUint16(e.code[site:], jumpPlaceholder)
	info := &e.labels[l]
	if info.bound {
		e.patch(site, info.offset)
	} else {
		info.sites = append(info.sites, site)
	}
}

// Bind fixes l at the current code position and patches every jump
// recorded against it.
func (e *Emitter) Bind(l Label) {
	info := &e.labels[l]
	if info.bound {
		e.fail("label %d bound twice", l)
		return
	}
	info.bound = true
	info.offset = len(e.code)
	for _, site := range info.sites {
		e.patch(site, info.offset)
	}
	info.sites = nil
}

// patch rewrites the operand at site to the relative distance from
// the instruction following the operand to target.
func (e *Emitter) patch(site, target int) {
	delta := target - (site + 2)
	if delta < -32768 || delta > 32767 {
		e.fail("jump distance %d exceeds i16 range", delta)
		return
	}
	binary.LittleEndian.PutUint16(e.code[site:], uint16(int16(delta)))
}

// Finish returns the assembled body and its maximum stack height. An
// unbound label with pending jumps, or any earlier emit error, fails
// the whole function.
func (e *Emitter) Finish() ([]byte, uint16, error) {
	if e.err != nil {
		return nil, 0, e.err
	}
	for i, info := range e.labels {
		if !info.bound && len(info.sites) > 0 {
			return nil, 0, fmt.Errorf("label %d never bound (%d pending jumps)", i, len(info.sites))
		}
	}
	return e.code, uint16(e.maxStack), nil
}
