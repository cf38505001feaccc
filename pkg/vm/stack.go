package vm

import "errors"

// Raised by stack operations; the interpreter converts them to traps
// carrying the faulting function and offset.
var (
	errStackOverflow  = errors.New("operand stack overflow")
	errStackUnderflow = errors.New("operand stack underflow")
)

// OperandStack is a bounded evaluation stack. Capacity comes from the
// owning function's declared maximum stack depth; exceeding it means
// the container's metadata lied, which is a trap, not a resize.
type OperandStack struct {
	slots []Slot
	top   int
}

// NewOperandStack returns an empty stack with the given capacity.
func NewOperandStack(capacity int) *OperandStack {
	return &OperandStack{slots: make([]Slot, capacity)}
}

// Push appends v, failing when the stack is at capacity.
func (s *OperandStack) Push(v Slot) error {
	if s.top >= len(s.slots) {
		return errStackOverflow
	}
	s.slots[s.top] = v
	s.top++
	return nil
}

// Pop removes and returns the top slot.
func (s *OperandStack) Pop() (Slot, error) {
	if s.top == 0 {
		return 0, errStackUnderflow
	}
	s.top--
	return s.slots[s.top], nil
}

// Depth returns the number of live slots.
func (s *OperandStack) Depth() int { return s.top }
