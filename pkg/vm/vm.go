package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/plcforge/stbc/pkg/container"
)

var log = commonlog.GetLogger("vm")

// State is the VM lifecycle position. Stopped and Faulted are
// terminal: a fresh VM is needed to run again.
type State int

const (
	Unloaded State = iota
	Ready
	Running
	Stopped
	Faulted
)

var stateNames = [...]string{"Unloaded", "Ready", "Running", "Stopped", "Faulted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrBadState marks an operation called outside its legal states.
	ErrBadState = errors.New("operation not valid in this state")
	// ErrStopped is returned by RunRound after a requested stop took
	// effect at a scan boundary.
	ErrStopped = errors.New("stopped")
)

// Clock reports elapsed microseconds on some monotonic timeline. The
// watchdog measures scans with it; tests substitute a fake.
type Clock func() uint64

// VM executes one loaded container. It is not safe for concurrent
// use; separate instances are fully independent.
type VM struct {
	state     State
	container *container.Container
	vt        *VariableTable
	sched     *Scheduler
	scanClock Clock

	stopRequested bool
	trap          *Trap
}

// New returns an Unloaded VM measuring scans with scanClock. A nil
// clock disables watchdog measurement (every scan reads as instant).
func New(scanClock Clock) *VM {
	if scanClock == nil {
		scanClock = func() uint64 { return 0 }
	}
	return &VM{scanClock: scanClock}
}

// State returns the current lifecycle state.
func (m *VM) State() State { return m.state }

// TrapCause returns the trap that faulted the VM, or nil.
func (m *VM) TrapCause() *Trap { return m.trap }

func (m *VM) transition(to State, why string) {
	log.Infof("state %s -> %s (%s)", m.state, to, why)
	m.state = to
}

// Load validates c and builds the variable table and scheduler. The
// table starts zeroed; declared initial values are applied by the
// program's first scan.
func (m *VM) Load(c *container.Container, startUs uint64) error {
	if m.state != Unloaded {
		return fmt.Errorf("%w: Load in %s", ErrBadState, m.state)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	m.container = c
	m.vt = NewVariableTable(
		int(c.Header.InputImageLen),
		int(c.Header.OutputImageLen),
		int(c.Header.MemoryImageLen),
	)
	m.sched = NewScheduler(&c.Tasks, startUs)
	m.transition(Ready, fmt.Sprintf("loaded %d functions, %d tasks", len(c.Code.Functions), len(c.Tasks.Tasks)))
	return nil
}

// Start moves a Ready VM to Running.
func (m *VM) Start() error {
	if m.state != Ready {
		return fmt.Errorf("%w: Start in %s", ErrBadState, m.state)
	}
	m.transition(Running, "start")
	return nil
}

// RequestStop asks the VM to stop at the next scan boundary. Scans
// already in flight always run to completion.
func (m *VM) RequestStop() {
	m.stopRequested = true
}

// RunRound executes one scheduling round at nowUs: every due task
// runs one scan per bound program instance, in deadline/priority/
// declaration order. It returns the number of scans executed. A trap
// or watchdog overrun faults the VM and is returned; a requested stop
// takes effect between scans and returns ErrStopped.
func (m *VM) RunRound(nowUs uint64) (int, error) {
	if m.state != Running {
		return 0, fmt.Errorf("%w: RunRound in %s", ErrBadState, m.state)
	}
	scans := 0
	for _, task := range m.sched.Ready(nowUs) {
		bound := task.watchdogBound()
		var taskElapsed uint64
		for _, prog := range task.programs {
			if m.stopRequested {
				m.transition(Stopped, "stop requested")
				return scans, ErrStopped
			}
			begin := m.scanClock()
			err := newInterp(m.container, m.vt).execute(prog.EntryFunction)
			elapsed := m.scanClock() - begin
			if err != nil {
				var t *Trap
				if errors.As(err, &t) {
					m.trap = t
				} else {
					m.trap = trapf(TrapInvalidInstruction, prog.EntryFunction, 0, "%v", err)
				}
				m.transition(Faulted, m.trap.Error())
				return scans, m.trap
			}
			if bound != 0 && elapsed > bound {
				m.trap = trapf(TrapWatchdogTimeout, prog.EntryFunction, 0,
					"scan took %dus, bound %dus (task %d)", elapsed, bound, task.entry.ID)
				m.transition(Faulted, m.trap.Error())
				return scans, m.trap
			}
			scans++
			taskElapsed += elapsed
		}
		m.sched.RecordScan(task, nowUs, taskElapsed)
	}
	if m.stopRequested {
		m.transition(Stopped, "stop requested")
		return scans, ErrStopped
	}
	return scans, nil
}

// ReadVariable returns variable table slot i. Valid once loaded, in
// any state, so tooling can inspect a stopped or faulted image.
func (m *VM) ReadVariable(i uint16) (Slot, error) {
	if m.state == Unloaded {
		return 0, fmt.Errorf("%w: ReadVariable in %s", ErrBadState, m.state)
	}
	return m.vt.Load(i)
}

// NextDeadline returns the earliest pending cyclic deadline, letting
// a host advance a virtual clock straight to the next due task.
func (m *VM) NextDeadline() (uint64, bool) {
	if m.sched == nil {
		return 0, false
	}
	return m.sched.NextDeadline()
}

// Table exposes the variable table for hosts that feed the input
// image between rounds.
func (m *VM) Table() *VariableTable { return m.vt }

// Stats returns scheduler counters per task.
func (m *VM) Stats() []Stats {
	if m.sched == nil {
		return nil
	}
	return m.sched.Stats()
}
