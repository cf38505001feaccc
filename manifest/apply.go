package manifest

import (
	"fmt"

	"github.com/plcforge/stbc/pkg/container"
)

// Apply rewrites table entries with the manifest's overrides. It runs
// after the container is loaded and before the VM goes Ready, so the
// scheduler only ever sees the effective values.
func (m *Manifest) Apply(table *container.TaskTable) error {
	for name, o := range m.Tasks {
		entry := findTask(table, o.ID)
		if entry == nil {
			return fmt.Errorf("manifest: [tasks.%s] refers to unknown task id %d", name, o.ID)
		}
		if o.IntervalUs != 0 {
			entry.IntervalUs = o.IntervalUs
		}
		if o.WatchdogUs != 0 {
			entry.WatchdogUs = o.WatchdogUs
		}
		if o.HasPrio {
			if o.Priority < 0 || o.Priority > 255 {
				return fmt.Errorf("manifest: [tasks.%s] priority %d out of range", name, o.Priority)
			}
			entry.Priority = uint8(o.Priority)
		}
	}
	if m.Runtime.DefaultWatchdogUs != 0 {
		for i := range table.Tasks {
			if table.Tasks[i].WatchdogUs == 0 {
				table.Tasks[i].WatchdogUs = m.Runtime.DefaultWatchdogUs
			}
		}
	}
	return nil
}

func findTask(table *container.TaskTable, id uint16) *container.TaskEntry {
	for i := range table.Tasks {
		if table.Tasks[i].ID == id {
			return &table.Tasks[i]
		}
	}
	return nil
}
