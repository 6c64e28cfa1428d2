package core

// InstanceState is the lifecycle status of an orchestration instance. An
// instance has exactly one state at a time.
type InstanceState int

const (
	InstanceStateRunning InstanceState = iota
	InstanceStateSuspended
	InstanceStateCompleted
	InstanceStateFailed
	InstanceStateTerminated
)

func (s InstanceState) String() string {
	switch s {
	case InstanceStateRunning:
		return "Running"
	case InstanceStateSuspended:
		return "Suspended"
	case InstanceStateCompleted:
		return "Completed"
	case InstanceStateFailed:
		return "Failed"
	case InstanceStateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Finished reports whether the state is terminal. Once an instance is
// finished its output never changes and no new activities are scheduled.
func (s InstanceState) Finished() bool {
	switch s {
	case InstanceStateCompleted, InstanceStateFailed, InstanceStateTerminated:
		return true
	default:
		return false
	}
}
