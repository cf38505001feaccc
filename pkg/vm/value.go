// Package vm executes container bytecode: a stack interpreter, the
// scan-cycle scheduler and the runtime state machine around them.
package vm

// Slot is one 64-bit storage cell. Integer values live sign-extended
// so a cell holds any supported width; booleans are 0 or 1.
type Slot int64

// SlotFromI32 sign-extends v into a slot.
func SlotFromI32(v int32) Slot { return Slot(v) }

// I32 returns the slot truncated to 32 bits.
func (s Slot) I32() int32 { return int32(s) }

// SlotFromBool returns 1 for true, 0 for false.
func SlotFromBool(b bool) Slot {
	if b {
		return 1
	}
	return 0
}

// Bool reports whether the slot is nonzero.
func (s Slot) Bool() bool { return s != 0 }
