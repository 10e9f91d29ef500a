package core

// TaskStatus represents the lifecycle phases of a single load task.
//
//	Pending -> Running -> Done
//	                   -> Failed -> Running (resubmission)
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskDone
	TaskFailed
)

// String returns the canonical lowercase token used in logs and metrics.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanStart reports whether a task in this status may transition to Running.
func (s TaskStatus) CanStart() bool {
	return s == TaskPending || s == TaskFailed
}
