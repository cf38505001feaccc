package vm

import "errors"

var errVarIndex = errors.New("variable index out of range")

// VariableTable is the process image: input, output and memory
// regions laid end to end in one slot array. Each VM instance owns
// its table outright; nothing here is shared process state.
type VariableTable struct {
	slots     []Slot
	inputLen  int
	outputLen int
}

// NewVariableTable returns a zero-initialized table with the given
// region sizes in slots.
func NewVariableTable(input, output, memory int) *VariableTable {
	return &VariableTable{
		slots:     make([]Slot, input+output+memory),
		inputLen:  input,
		outputLen: output,
	}
}

// Load reads slot i.
func (t *VariableTable) Load(i uint16) (Slot, error) {
	if int(i) >= len(t.slots) {
		return 0, errVarIndex
	}
	return t.slots[i], nil
}

// Store writes slot i.
func (t *VariableTable) Store(i uint16, v Slot) error {
	if int(i) >= len(t.slots) {
		return errVarIndex
	}
	t.slots[i] = v
	return nil
}

// Len returns the total slot count.
func (t *VariableTable) Len() int { return len(t.slots) }

// InputRegion returns the input image as a mutable slice, for host
// code that feeds inputs between scans.
func (t *VariableTable) InputRegion() []Slot {
	return t.slots[:t.inputLen]
}

// OutputRegion returns the output image.
func (t *VariableTable) OutputRegion() []Slot {
	return t.slots[t.inputLen : t.inputLen+t.outputLen]
}
