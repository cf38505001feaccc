package container

import (
	"encoding/binary"
	"fmt"
)

// TaskKind says how a task is released.
type TaskKind uint8

const (
	TaskCyclic       TaskKind = 0 // released every IntervalUs
	TaskEvent        TaskKind = 1 // released by an external event (reserved)
	TaskFreewheeling TaskKind = 2 // released whenever the scheduler runs
)

var taskKindNames = map[TaskKind]string{
	TaskCyclic:       "CYCLIC",
	TaskEvent:        "EVENT",
	TaskFreewheeling: "FREEWHEELING",
}

func (k TaskKind) String() string {
	if n, ok := taskKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("TaskKind(%d)", uint8(k))
}

// Task flag bits.
const TaskFlagEnabled byte = 1 << 0

const (
	taskEntrySize    = 32
	programEntrySize = 16
	taskHeaderSize   = 6
)

// TaskEntry is one 32-byte task record. Priority 0 is the highest. A
// zero WatchdogUs means the scan bound is the interval itself.
type TaskEntry struct {
	ID             uint16
	Priority       uint8
	Kind           TaskKind
	Flags          byte
	IntervalUs     uint64
	WatchdogUs     uint64
	SingleVarIndex uint16
	InputImageOff  uint16
	OutputImageOff uint16
}

// Enabled reports whether the task participates in scheduling.
func (t *TaskEntry) Enabled() bool { return t.Flags&TaskFlagEnabled != 0 }

// ProgramEntry binds a program instance to a task. VarOff/VarCount
// identify the instance's region of the variable table; FbOff/FbCount
// identify its function block state slots.
type ProgramEntry struct {
	ID            uint16
	TaskID        uint16
	EntryFunction uint16
	VarOff        uint16
	VarCount      uint16
	FbOff         uint16
	FbCount       uint16
}

// TaskTable is the container's scheduling configuration. Declaration
// order of Tasks is significant: it is the final scheduling tie-break.
type TaskTable struct {
	SharedGlobals uint16
	Tasks         []TaskEntry
	Programs      []ProgramEntry
}

// ProgramsFor returns the program instances bound to the given task,
// in declaration order.
func (t *TaskTable) ProgramsFor(taskID uint16) []ProgramEntry {
	var out []ProgramEntry
	for _, p := range t.Programs {
		if p.TaskID == taskID {
			out = append(out, p)
		}
	}
	return out
}

func (t *TaskTable) encode() []byte {
	buf := make([]byte, taskHeaderSize, taskHeaderSize+len(t.Tasks)*taskEntrySize+len(t.Programs)*programEntrySize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(t.Tasks)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(t.Programs)))
	binary.LittleEndian.PutUint16(buf[4:6], t.SharedGlobals)
	for _, e := range t.Tasks {
		var rec [taskEntrySize]byte
		binary.LittleEndian.PutUint16(rec[0:2], e.ID)
		rec[2] = e.Priority
		rec[3] = byte(e.Kind)
		rec[4] = e.Flags
		binary.LittleEndian.PutUint64(rec[8:16], e.IntervalUs)
		binary.LittleEndian.PutUint64(rec[16:24], e.WatchdogUs)
		binary.LittleEndian.PutUint16(rec[24:26], e.SingleVarIndex)
		binary.LittleEndian.PutUint16(rec[26:28], e.InputImageOff)
		binary.LittleEndian.PutUint16(rec[28:30], e.OutputImageOff)
		buf = append(buf, rec[:]...)
	}
	for _, p := range t.Programs {
		var rec [programEntrySize]byte
		binary.LittleEndian.PutUint16(rec[0:2], p.ID)
		binary.LittleEndian.PutUint16(rec[2:4], p.TaskID)
		binary.LittleEndian.PutUint16(rec[4:6], p.EntryFunction)
		binary.LittleEndian.PutUint16(rec[6:8], p.VarOff)
		binary.LittleEndian.PutUint16(rec[8:10], p.VarCount)
		binary.LittleEndian.PutUint16(rec[10:12], p.FbOff)
		binary.LittleEndian.PutUint16(rec[12:14], p.FbCount)
		buf = append(buf, rec[:]...)
	}
	return buf
}

func decodeTaskTable(buf []byte) (*TaskTable, error) {
	if len(buf) < taskHeaderSize {
		return nil, formatErrf(ErrBadTaskTable, "table shorter than its header")
	}
	numTasks := int(binary.LittleEndian.Uint16(buf[0:2]))
	numPrograms := int(binary.LittleEndian.Uint16(buf[2:4]))
	want := taskHeaderSize + numTasks*taskEntrySize + numPrograms*programEntrySize
	if len(buf) != want {
		return nil, formatErrf(ErrBadTaskTable, "%d tasks + %d programs need %d bytes, have %d", numTasks, numPrograms, want, len(buf))
	}
	table := &TaskTable{
		SharedGlobals: binary.LittleEndian.Uint16(buf[4:6]),
		Tasks:         make([]TaskEntry, 0, numTasks),
		Programs:      make([]ProgramEntry, 0, numPrograms),
	}
	off := taskHeaderSize
	for i := 0; i < numTasks; i++ {
		rec := buf[off : off+taskEntrySize]
		kind := TaskKind(rec[3])
		if _, ok := taskKindNames[kind]; !ok {
			return nil, formatErrf(ErrBadTaskTable, "task %d has unknown kind %d", i, rec[3])
		}
		table.Tasks = append(table.Tasks, TaskEntry{
			ID:             binary.LittleEndian.Uint16(rec[0:2]),
			Priority:       rec[2],
			Kind:           kind,
			Flags:          rec[4],
			IntervalUs:     binary.LittleEndian.Uint64(rec[8:16]),
			WatchdogUs:     binary.LittleEndian.Uint64(rec[16:24]),
			SingleVarIndex: binary.LittleEndian.Uint16(rec[24:26]),
			InputImageOff:  binary.LittleEndian.Uint16(rec[26:28]),
			OutputImageOff: binary.LittleEndian.Uint16(rec[28:30]),
		})
		off += taskEntrySize
	}
	for i := 0; i < numPrograms; i++ {
		rec := buf[off : off+programEntrySize]
		table.Programs = append(table.Programs, ProgramEntry{
			ID:            binary.LittleEndian.Uint16(rec[0:2]),
			TaskID:        binary.LittleEndian.Uint16(rec[2:4]),
			EntryFunction: binary.LittleEndian.Uint16(rec[4:6]),
			VarOff:        binary.LittleEndian.Uint16(rec[6:8]),
			VarCount:      binary.LittleEndian.Uint16(rec[8:10]),
			FbOff:         binary.LittleEndian.Uint16(rec[10:12]),
			FbCount:       binary.LittleEndian.Uint16(rec[12:14]),
		})
		off += programEntrySize
	}
	return table, nil
}
