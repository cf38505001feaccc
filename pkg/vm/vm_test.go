package vm

import (
	"errors"
	"testing"

	"github.com/plcforge/stbc/pkg/container"
)

// counterContainer has one global and one program that increments it
// by one each scan, bound to a cyclic 100ms task.
func counterContainer(t *testing.T) *container.Container {
	t.Helper()
	b := container.NewBuilder()
	one := b.Pool().AddI32(1)
	code := []byte{
		byte(container.OpLoadVar), 0, 0,
		byte(container.OpLoadConst), byte(one), 0,
		byte(container.OpAdd),
		byte(container.OpStoreVar), 0, 0,
		byte(container.OpRetVoid),
	}
	b.AddFunction(code, 2, 0, 0)
	b.SetEntry(0)
	b.SetLimits(2, 8)
	b.SetImages(0, 0, 1)
	b.SetGlobals(1)
	b.AddTask(container.TaskEntry{
		ID: 0, Priority: 1, Kind: container.TaskCyclic,
		Flags: container.TaskFlagEnabled, IntervalUs: 100_000,
	})
	b.AddProgram(container.ProgramEntry{ID: 0, TaskID: 0, EntryFunction: 0})
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return c
}

func startVM(t *testing.T, c *container.Container, clock Clock) *VM {
	t.Helper()
	m := New(clock)
	if err := m.Load(c, 0); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return m
}

func TestCounterFiveScans(t *testing.T) {
	m := startVM(t, counterContainer(t), nil)
	for k := 1; k <= 5; k++ {
		scans, err := m.RunRound(uint64(k) * 100_000)
		if err != nil {
			t.Fatalf("RunRound(%d) error = %v", k, err)
		}
		if scans != 1 {
			t.Errorf("RunRound(%d) scans = %d, want 1", k, scans)
		}
	}
	v, err := m.ReadVariable(0)
	if err != nil {
		t.Fatalf("ReadVariable() error = %v", err)
	}
	if v.I32() != 5 {
		t.Errorf("counter = %d, want 5", v.I32())
	}
}

func TestCyclicTaskNotDueEarly(t *testing.T) {
	m := startVM(t, counterContainer(t), nil)
	scans, err := m.RunRound(50_000)
	if err != nil {
		t.Fatalf("RunRound() error = %v", err)
	}
	if scans != 0 {
		t.Errorf("scans = %d, want 0 before the first deadline", scans)
	}
}

// An ADD against an empty operand stack traps with an underflow
// reason at the ADD's own byte offset.
func TestAddUnderflowTrap(t *testing.T) {
	b := container.NewBuilder()
	code := []byte{
		byte(container.OpNop),
		byte(container.OpAdd),
		byte(container.OpRetVoid),
	}
	b.AddFunction(code, 2, 0, 0)
	b.SetEntry(0)
	b.SetLimits(2, 8)
	b.AddTask(container.TaskEntry{ID: 0, Kind: container.TaskFreewheeling, Flags: container.TaskFlagEnabled})
	b.AddProgram(container.ProgramEntry{ID: 0, TaskID: 0, EntryFunction: 0})
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	m := startVM(t, c, nil)
	_, err = m.RunRound(0)
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("RunRound() error = %v, want *Trap", err)
	}
	if trap.Reason != TrapStackUnderflow {
		t.Errorf("Reason = %v, want TrapStackUnderflow", trap.Reason)
	}
	if trap.Function != 0 || trap.Offset != 1 {
		t.Errorf("trap at fn %d offset %d, want fn 0 offset 1", trap.Function, trap.Offset)
	}
	if m.State() != Faulted {
		t.Errorf("State() = %v, want Faulted", m.State())
	}
}

func TestDivideByZeroTrapKeepsEarlierWrites(t *testing.T) {
	b := container.NewBuilder()
	seven := b.Pool().AddI32(7)
	zero := b.Pool().AddI32(0)
	code := []byte{
		byte(container.OpLoadConst), byte(seven), 0,
		byte(container.OpStoreVar), 0, 0,
		byte(container.OpLoadConst), byte(seven), 0,
		byte(container.OpLoadConst), byte(zero), 0,
		byte(container.OpDiv),
		byte(container.OpStoreVar), 1, 0,
		byte(container.OpRetVoid),
	}
	b.AddFunction(code, 2, 0, 0)
	b.SetEntry(0)
	b.SetLimits(2, 8)
	b.SetImages(0, 0, 2)
	b.SetGlobals(2)
	b.AddTask(container.TaskEntry{ID: 0, Kind: container.TaskFreewheeling, Flags: container.TaskFlagEnabled})
	b.AddProgram(container.ProgramEntry{ID: 0, TaskID: 0, EntryFunction: 0})
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	m := startVM(t, c, nil)
	_, err = m.RunRound(0)
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("RunRound() error = %v, want *Trap", err)
	}
	if trap.Reason != TrapDivideByZero {
		t.Errorf("Reason = %v, want TrapDivideByZero", trap.Reason)
	}
	if m.State() != Faulted {
		t.Errorf("State() = %v, want Faulted", m.State())
	}
	// The store that completed before the trap is visible.
	v, err := m.ReadVariable(0)
	if err != nil {
		t.Fatalf("ReadVariable() error = %v", err)
	}
	if v.I32() != 7 {
		t.Errorf("var[0] = %d, want 7", v.I32())
	}
	if v, _ := m.ReadVariable(1); v != 0 {
		t.Errorf("var[1] = %d, want 0 (store never reached)", v)
	}
}

func TestWatchdogFault(t *testing.T) {
	// Every clock reading advances 150ms, so each scan measures as
	// 150ms against the 100ms interval-derived bound.
	var fake uint64
	clock := func() uint64 {
		fake += 150_000
		return fake
	}
	m := startVM(t, counterContainer(t), clock)
	_, err := m.RunRound(100_000)
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("RunRound() error = %v, want *Trap", err)
	}
	if trap.Reason != TrapWatchdogTimeout {
		t.Errorf("Reason = %v, want TrapWatchdogTimeout", trap.Reason)
	}
	if m.State() != Faulted {
		t.Errorf("State() = %v, want Faulted", m.State())
	}
}

func TestStopAtScanBoundary(t *testing.T) {
	m := startVM(t, counterContainer(t), nil)
	if _, err := m.RunRound(100_000); err != nil {
		t.Fatalf("RunRound() error = %v", err)
	}
	m.RequestStop()
	_, err := m.RunRound(200_000)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("RunRound() error = %v, want ErrStopped", err)
	}
	if m.State() != Stopped {
		t.Errorf("State() = %v, want Stopped", m.State())
	}
	// The completed scan's effect is intact and still readable.
	if v, _ := m.ReadVariable(0); v.I32() != 1 {
		t.Errorf("counter = %d, want 1", v.I32())
	}
	if _, err := m.RunRound(300_000); !errors.Is(err, ErrBadState) {
		t.Errorf("RunRound() after stop error = %v, want ErrBadState", err)
	}
}

func TestLifecycleGates(t *testing.T) {
	m := New(nil)
	if err := m.Start(); !errors.Is(err, ErrBadState) {
		t.Errorf("Start() unloaded error = %v, want ErrBadState", err)
	}
	if _, err := m.RunRound(0); !errors.Is(err, ErrBadState) {
		t.Errorf("RunRound() unloaded error = %v, want ErrBadState", err)
	}
	if _, err := m.ReadVariable(0); !errors.Is(err, ErrBadState) {
		t.Errorf("ReadVariable() unloaded error = %v, want ErrBadState", err)
	}

	c := counterContainer(t)
	if err := m.Load(c, 0); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := m.RunRound(0); !errors.Is(err, ErrBadState) {
		t.Errorf("RunRound() in Ready error = %v, want ErrBadState", err)
	}
	if err := m.Load(c, 0); !errors.Is(err, ErrBadState) {
		t.Errorf("second Load() error = %v, want ErrBadState", err)
	}
}

func TestDeterministicExecution(t *testing.T) {
	c := counterContainer(t)
	run := func() []Slot {
		m := startVM(t, c, nil)
		for k := 1; k <= 10; k++ {
			if _, err := m.RunRound(uint64(k) * 100_000); err != nil {
				t.Fatalf("RunRound() error = %v", err)
			}
		}
		out := make([]Slot, m.Table().Len())
		for i := range out {
			out[i], _ = m.ReadVariable(uint16(i))
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("var[%d] differs across identical runs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestCallTransfersArgsAndResult(t *testing.T) {
	b := container.NewBuilder()
	three := b.Pool().AddI32(3)
	four := b.Pool().AddI32(4)
	// fn 0: push 3, 4; call fn 1; store result to global 0.
	main := []byte{
		byte(container.OpLoadConst), byte(three), 0,
		byte(container.OpLoadConst), byte(four), 0,
		byte(container.OpCall), 1, 0,
		byte(container.OpStoreVar), 0, 0,
		byte(container.OpRetVoid),
	}
	// fn 1: two params; return a + b.
	sum := []byte{
		byte(container.OpLoadLocal), 0, 0,
		byte(container.OpLoadLocal), 1, 0,
		byte(container.OpAdd),
		byte(container.OpRetVal),
	}
	b.AddFunction(main, 2, 0, 0)
	b.AddFunction(sum, 2, 2, 2)
	b.SetEntry(0)
	b.SetLimits(2, 8)
	b.SetImages(0, 0, 1)
	b.SetGlobals(1)
	b.AddTask(container.TaskEntry{ID: 0, Kind: container.TaskFreewheeling, Flags: container.TaskFlagEnabled})
	b.AddProgram(container.ProgramEntry{ID: 0, TaskID: 0, EntryFunction: 0})
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	m := startVM(t, c, nil)
	if _, err := m.RunRound(0); err != nil {
		t.Fatalf("RunRound() error = %v", err)
	}
	if v, _ := m.ReadVariable(0); v.I32() != 7 {
		t.Errorf("var[0] = %d, want 7", v.I32())
	}
}

func TestCallDepthExceeded(t *testing.T) {
	b := container.NewBuilder()
	// fn 0 calls itself forever.
	code := []byte{
		byte(container.OpCall), 0, 0,
		byte(container.OpRetVoid),
	}
	b.AddFunction(code, 1, 0, 0)
	b.SetEntry(0)
	b.SetLimits(1, 4)
	b.AddTask(container.TaskEntry{ID: 0, Kind: container.TaskFreewheeling, Flags: container.TaskFlagEnabled})
	b.AddProgram(container.ProgramEntry{ID: 0, TaskID: 0, EntryFunction: 0})
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	m := startVM(t, c, nil)
	_, err = m.RunRound(0)
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("RunRound() error = %v, want *Trap", err)
	}
	if trap.Reason != TrapCallDepthExceeded {
		t.Errorf("Reason = %v, want TrapCallDepthExceeded", trap.Reason)
	}
}

func TestArithWrapsAndTruncates(t *testing.T) {
	tests := []struct {
		name string
		op   container.Opcode
		a, b int32
		want int32
	}{
		{"add wraps", container.OpAdd, 2147483647, 1, -2147483648},
		{"sub", container.OpSub, 5, 9, -4},
		{"mul wraps", container.OpMul, 65536, 65536, 0},
		{"div", container.OpDiv, -7, 2, -3},
		{"div min by -1 wraps", container.OpDiv, -2147483648, -1, -2147483648},
		{"mod", container.OpMod, -7, 2, -1},
	}
	for _, tt := range tests {
		got, trap := arith(tt.op, tt.a, tt.b)
		if trap {
			t.Errorf("%s: unexpected zero-divisor trap", tt.name)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: arith() = %d, want %d", tt.name, got, tt.want)
		}
	}
	if _, trap := arith(container.OpDiv, 1, 0); !trap {
		t.Error("DIV by zero: trap = false, want true")
	}

	truncs := []struct {
		op   container.Opcode
		in   int32
		want int32
	}{
		{container.OpTruncI8, 200, -56},
		{container.OpTruncU8, 200, 200},
		{container.OpTruncU8, 256, 0},
		{container.OpTruncI16, 40000, -25536},
		{container.OpTruncU16, 65537, 1},
	}
	for _, tt := range truncs {
		if got := truncate(tt.op, tt.in); got != tt.want {
			t.Errorf("truncate(%s, %d) = %d, want %d", tt.op, tt.in, got, tt.want)
		}
	}
}

func TestExptI32(t *testing.T) {
	if got := exptI32(2, 10); got != 1024 {
		t.Errorf("exptI32(2, 10) = %d, want 1024", got)
	}
	if got := exptI32(5, 0); got != 1 {
		t.Errorf("exptI32(5, 0) = %d, want 1", got)
	}
	if got := exptI32(-3, 3); got != -27 {
		t.Errorf("exptI32(-3, 3) = %d, want -27", got)
	}
}

func TestOperandStackBounds(t *testing.T) {
	s := NewOperandStack(2)
	if err := s.Push(1); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := s.Push(2); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := s.Push(3); !errors.Is(err, errStackOverflow) {
		t.Errorf("Push() beyond capacity error = %v, want overflow", err)
	}
	s.Pop()
	s.Pop()
	if _, err := s.Pop(); !errors.Is(err, errStackUnderflow) {
		t.Errorf("Pop() on empty error = %v, want underflow", err)
	}
}
