package vm

import (
	"sort"

	"github.com/tliron/commonlog"

	"github.com/plcforge/stbc/pkg/container"
)

var schedLog = commonlog.GetLogger("sched")

// taskState is the mutable scheduling record for one task table entry.
// All times are in microseconds on the caller-supplied timeline.
type taskState struct {
	entry     container.TaskEntry
	declOrder int
	programs  []container.ProgramEntry

	nextDeadline uint64
	scanCount    uint64
	overruns     uint64
	lastScanUs   uint64
	maxScanUs    uint64
}

// watchdogBound returns the scan time limit: the configured watchdog,
// or the task interval when no watchdog is set. Zero means unbounded,
// which only a freewheeling task without a watchdog can be.
func (t *taskState) watchdogBound() uint64 {
	if t.entry.WatchdogUs != 0 {
		return t.entry.WatchdogUs
	}
	return t.entry.IntervalUs
}

// Scheduler picks which tasks run in a scheduling round. It owns no
// clock: callers pass the current time in, so tests drive it with a
// fake timeline and never sleep.
type Scheduler struct {
	tasks []taskState
}

// NewScheduler builds per-task state from the container's task table.
// First deadlines land one interval after start.
func NewScheduler(table *container.TaskTable, startUs uint64) *Scheduler {
	s := &Scheduler{}
	for i, e := range table.Tasks {
		if !e.Enabled() {
			continue
		}
		ts := taskState{entry: e, declOrder: i, programs: table.ProgramsFor(e.ID)}
		if e.Kind == container.TaskCyclic {
			ts.nextDeadline = startUs + e.IntervalUs
		}
		s.tasks = append(s.tasks, ts)
	}
	return s
}

// Ready returns the tasks due at nowUs, ordered by earliest deadline,
// then priority (0 highest), then task table declaration order. The
// order is total, so identical inputs always schedule identically.
func (s *Scheduler) Ready(nowUs uint64) []*taskState {
	var ready []*taskState
	for i := range s.tasks {
		t := &s.tasks[i]
		switch t.entry.Kind {
		case container.TaskCyclic:
			if t.nextDeadline <= nowUs {
				ready = append(ready, t)
			}
		case container.TaskFreewheeling:
			ready = append(ready, t)
		case container.TaskEvent:
			// Event tasks have no release source yet.
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, bd := a.effectiveDeadline(nowUs), b.effectiveDeadline(nowUs)
		if ad != bd {
			return ad < bd
		}
		if a.entry.Priority != b.entry.Priority {
			return a.entry.Priority < b.entry.Priority
		}
		return a.declOrder < b.declOrder
	})
	return ready
}

// effectiveDeadline lets freewheeling tasks sort as "due now".
func (t *taskState) effectiveDeadline(nowUs uint64) uint64 {
	if t.entry.Kind == container.TaskFreewheeling {
		return nowUs
	}
	return t.nextDeadline
}

// NextDeadline returns the earliest pending cyclic deadline. The
// second result is false when no cyclic task is scheduled, e.g. a
// purely freewheeling table.
func (s *Scheduler) NextDeadline() (uint64, bool) {
	var best uint64
	found := false
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.entry.Kind != container.TaskCyclic {
			continue
		}
		if !found || t.nextDeadline < best {
			best = t.nextDeadline
			found = true
		}
	}
	return best, found
}

// RecordScan books one completed scan and advances the deadline. A
// cyclic task that missed one or more whole intervals counts an
// overrun and re-aligns to the next future deadline instead of
// bursting to catch up.
func (s *Scheduler) RecordScan(t *taskState, nowUs, elapsedUs uint64) {
	t.scanCount++
	t.lastScanUs = elapsedUs
	if elapsedUs > t.maxScanUs {
		t.maxScanUs = elapsedUs
	}
	if t.entry.Kind != container.TaskCyclic {
		return
	}
	t.nextDeadline += t.entry.IntervalUs
	if t.nextDeadline <= nowUs {
		missed := (nowUs-t.nextDeadline)/t.entry.IntervalUs + 1
		t.overruns++
		t.nextDeadline += missed * t.entry.IntervalUs
		schedLog.Warningf("task %d overran: re-aligned deadline by %d intervals", t.entry.ID, missed)
	}
}

// Stats is a read-only snapshot of one task's counters.
type Stats struct {
	TaskID     uint16
	ScanCount  uint64
	Overruns   uint64
	LastScanUs uint64
	MaxScanUs  uint64
}

// Stats returns a snapshot for every scheduled task, in declaration
// order.
func (s *Scheduler) Stats() []Stats {
	out := make([]Stats, 0, len(s.tasks))
	for i := range s.tasks {
		t := &s.tasks[i]
		out = append(out, Stats{
			TaskID:     t.entry.ID,
			ScanCount:  t.scanCount,
			Overruns:   t.overruns,
			LastScanUs: t.lastScanUs,
			MaxScanUs:  t.maxScanUs,
		})
	}
	return out
}
